/*
Package itemstore – AWS client constructors.
*/
package itemstore

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	ddb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

// NewClient builds a DynamoDB client from the default AWS configuration
// chain (environment, shared config, instance roles). Region may be empty to
// defer to the chain.
func NewClient(ctx context.Context, region string) (*ddb.Client, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return ddb.NewFromConfig(cfg), nil
}

// NewLocalClient builds a client for a local DynamoDB endpoint, e.g.
// "http://localhost:8000". Credentials are static dummies; DynamoDB Local
// accepts anything.
func NewLocalClient(ctx context.Context, endpoint string) (*ddb.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion("local"),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("local", "local", "")),
	)
	if err != nil {
		return nil, err
	}
	return ddb.NewFromConfig(cfg, func(o *ddb.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	}), nil
}
