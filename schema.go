/*
Package itemstore – key schema and table lifecycle.
*/
package itemstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	ddb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// AttributeType is the scalar type of a key attribute.
type AttributeType string

const (
	AttributeTypeString AttributeType = "S"
	AttributeTypeNumber AttributeType = "N"
	AttributeTypeBinary AttributeType = "B"
)

// KeyAttribute names one key attribute and its scalar type.
type KeyAttribute struct {
	Name string
	Type AttributeType
}

// KeySchema is the primary key layout of a table: a hash attribute plus an
// optional sort attribute.
type KeySchema struct {
	Hash KeyAttribute
	Sort *KeyAttribute
}

func validateKeySchema(keys *KeySchema) error {
	check := func(attr KeyAttribute, role string) error {
		if attr.Name == "" {
			return NewError(ErrInvalidKey, fmt.Sprintf("missing %s key name", role))
		}
		switch attr.Type {
		case AttributeTypeString, AttributeTypeNumber, AttributeTypeBinary:
			return nil
		default:
			return NewError(ErrInvalidKey,
				fmt.Sprintf("bad %s key type %q for %q", role, attr.Type, attr.Name))
		}
	}
	if err := check(keys.Hash, "hash"); err != nil {
		return err
	}
	if keys.Sort != nil {
		return check(*keys.Sort, "sort")
	}
	return nil
}

// keySchemaFromDescription derives a KeySchema from a table description.
func keySchemaFromDescription(desc *types.TableDescription) (*KeySchema, error) {
	if desc == nil {
		return nil, NewError(ErrTableNotFound, "empty table description")
	}
	attrTypes := map[string]AttributeType{}
	for _, def := range desc.AttributeDefinitions {
		attrTypes[*def.AttributeName] = AttributeType(def.AttributeType)
	}
	keys := &KeySchema{}
	for _, el := range desc.KeySchema {
		attr := KeyAttribute{Name: *el.AttributeName, Type: attrTypes[*el.AttributeName]}
		switch el.KeyType {
		case types.KeyTypeHash:
			keys.Hash = attr
		case types.KeyTypeRange:
			sort := attr
			keys.Sort = &sort
		}
	}
	if err := validateKeySchema(keys); err != nil {
		return nil, err
	}
	return keys, nil
}

// waitTimeout bounds the blocking DDL waiters.
const waitTimeout = 2 * time.Minute

// CreateTable creates the table with the declared key schema, on-demand
// billing. With wait set the call blocks until the table is active.
func (s *Store) CreateTable(ctx context.Context, wait bool) error {
	s.mu.Lock()
	keys := s.keys
	s.mu.Unlock()
	if keys == nil {
		return NewError(ErrInvalidKey, "table creation requires a declared key schema")
	}

	attrs := []types.AttributeDefinition{{
		AttributeName: &keys.Hash.Name,
		AttributeType: types.ScalarAttributeType(keys.Hash.Type),
	}}
	elements := []types.KeySchemaElement{{
		AttributeName: &keys.Hash.Name,
		KeyType:       types.KeyTypeHash,
	}}
	if keys.Sort != nil {
		attrs = append(attrs, types.AttributeDefinition{
			AttributeName: &keys.Sort.Name,
			AttributeType: types.ScalarAttributeType(keys.Sort.Type),
		})
		elements = append(elements, types.KeySchemaElement{
			AttributeName: &keys.Sort.Name,
			KeyType:       types.KeyTypeRange,
		})
	}

	_, err := doOp(s, "createTable", func() (*ddb.CreateTableOutput, error) {
		return s.client.CreateTable(ctx, &ddb.CreateTableInput{
			TableName:            &s.Name,
			AttributeDefinitions: attrs,
			KeySchema:            elements,
			BillingMode:          types.BillingModePayPerRequest,
		})
	})
	if err != nil {
		var riu *types.ResourceInUseException
		if errors.As(err, &riu) {
			return NewError(ErrTableAlreadyExists,
				fmt.Sprintf("table %q already exists", s.Name), WithCause(err))
		}
		return err
	}
	if !wait {
		return nil
	}
	waiter := ddb.NewTableExistsWaiter(s.client)
	return waiter.Wait(ctx, &ddb.DescribeTableInput{TableName: &s.Name}, waitTimeout)
}

// DeleteTable removes the table. With wait set the call blocks until the
// table is gone.
func (s *Store) DeleteTable(ctx context.Context, wait bool) error {
	_, err := doOp(s, "deleteTable", func() (*ddb.DeleteTableOutput, error) {
		return s.client.DeleteTable(ctx, &ddb.DeleteTableInput{TableName: &s.Name})
	})
	if err != nil {
		var rnf *types.ResourceNotFoundException
		if errors.As(err, &rnf) {
			return NewError(ErrTableNotFound,
				fmt.Sprintf("table %q does not exist", s.Name), WithCause(err))
		}
		return err
	}
	if !wait {
		return nil
	}
	waiter := ddb.NewTableNotExistsWaiter(s.client)
	return waiter.Wait(ctx, &ddb.DescribeTableInput{TableName: &s.Name}, waitTimeout)
}

// TableExists reports whether the table is present.
func (s *Store) TableExists(ctx context.Context) (bool, error) {
	_, err := doOp(s, "describeTable", func() (*ddb.DescribeTableOutput, error) {
		return s.client.DescribeTable(ctx, &ddb.DescribeTableInput{TableName: &s.Name})
	})
	if err != nil {
		var rnf *types.ResourceNotFoundException
		if errors.As(err, &rnf) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ListTables returns all table names visible to the client.
func (s *Store) ListTables(ctx context.Context) ([]string, error) {
	var names []string
	var start *string
	for {
		out, err := doOp(s, "listTables", func() (*ddb.ListTablesOutput, error) {
			return s.client.ListTables(ctx, &ddb.ListTablesInput{ExclusiveStartTableName: start})
		})
		if err != nil {
			return nil, err
		}
		names = append(names, out.TableNames...)
		if out.LastEvaluatedTableName == nil {
			return names, nil
		}
		start = out.LastEvaluatedTableName
	}
}
