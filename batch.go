/*
Package itemstore – batched writes.

BatchPut and BatchDelete chunk their input to the per-request service cap and
resubmit only the entries the service reports as unprocessed, backing off
exponentially between rounds.
*/
package itemstore

import (
	"context"
	"fmt"
	"time"

	ddb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// maxBatchSize is the BatchWriteItem per-request cap.
const maxBatchSize = 25

const maxBatchRetries = 11

// BatchPut writes items in batches. Batched puts always overwrite; there is
// no conditional form at the batch level.
func (s *Store) BatchPut(ctx context.Context, items []Item) error {
	if len(items) == 0 {
		return nil
	}
	if err := s.ensureKeys(ctx); err != nil {
		return err
	}
	reqs := make([]types.WriteRequest, 0, len(items))
	for _, item := range items {
		if _, err := s.extractKey(item); err != nil {
			return err
		}
		encoded, err := s.codec.encodeItem(item)
		if err != nil {
			return err
		}
		reqs = append(reqs, types.WriteRequest{
			PutRequest: &types.PutRequest{Item: encoded},
		})
	}
	return s.writeBatch(ctx, reqs)
}

// BatchDelete removes items in batches. Missing items are ignored.
func (s *Store) BatchDelete(ctx context.Context, keysOrItems []Item) error {
	if len(keysOrItems) == 0 {
		return nil
	}
	if err := s.ensureKeys(ctx); err != nil {
		return err
	}
	reqs := make([]types.WriteRequest, 0, len(keysOrItems))
	for _, keyOrItem := range keysOrItems {
		key, err := s.extractKey(keyOrItem)
		if err != nil {
			return err
		}
		reqs = append(reqs, types.WriteRequest{
			DeleteRequest: &types.DeleteRequest{Key: key},
		})
	}
	return s.writeBatch(ctx, reqs)
}

// writeBatch submits requests in chunks, retrying unprocessed entries with
// exponential backoff.
func (s *Store) writeBatch(ctx context.Context, reqs []types.WriteRequest) error {
	for len(reqs) > 0 {
		chunk := reqs
		if len(chunk) > s.batchSize {
			chunk = chunk[:s.batchSize]
		}
		reqs = reqs[len(chunk):]

		pending := chunk
		retries := 0
		for len(pending) > 0 {
			out, err := doOp(s, "batchWrite", func() (*ddb.BatchWriteItemOutput, error) {
				return s.client.BatchWriteItem(ctx, &ddb.BatchWriteItemInput{
					RequestItems: map[string][]types.WriteRequest{s.Name: pending},
				})
			})
			if err != nil {
				return err
			}
			pending = out.UnprocessedItems[s.Name]
			if len(pending) == 0 {
				break
			}
			if retries > maxBatchRetries {
				return fmt.Errorf("too many unprocessed batch entries after %d retries", retries)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(10*(1<<retries)) * time.Millisecond):
			}
			retries++
		}
	}
	return nil
}
