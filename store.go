/*
Package itemstore is a schema-flexible item store on DynamoDB.

A Store wraps one table and exposes keyed CRUD, declarative partial updates,
field projections, batched writes and paginated scans/queries over free-form
items (map[string]any). The key schema is either declared up front or
discovered from the table on first use.
*/
package itemstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	ddb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

// DynamoClient is the interface satisfied by both the real AWS DynamoDB
// client and any test doubles / local stubs.
type DynamoClient interface {
	GetItem(ctx context.Context, params *ddb.GetItemInput, optFns ...func(*ddb.Options)) (*ddb.GetItemOutput, error)
	PutItem(ctx context.Context, params *ddb.PutItemInput, optFns ...func(*ddb.Options)) (*ddb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *ddb.DeleteItemInput, optFns ...func(*ddb.Options)) (*ddb.DeleteItemOutput, error)
	UpdateItem(ctx context.Context, params *ddb.UpdateItemInput, optFns ...func(*ddb.Options)) (*ddb.UpdateItemOutput, error)
	Query(ctx context.Context, params *ddb.QueryInput, optFns ...func(*ddb.Options)) (*ddb.QueryOutput, error)
	Scan(ctx context.Context, params *ddb.ScanInput, optFns ...func(*ddb.Options)) (*ddb.ScanOutput, error)
	BatchWriteItem(ctx context.Context, params *ddb.BatchWriteItemInput, optFns ...func(*ddb.Options)) (*ddb.BatchWriteItemOutput, error)
	CreateTable(ctx context.Context, params *ddb.CreateTableInput, optFns ...func(*ddb.Options)) (*ddb.CreateTableOutput, error)
	DeleteTable(ctx context.Context, params *ddb.DeleteTableInput, optFns ...func(*ddb.Options)) (*ddb.DeleteTableOutput, error)
	DescribeTable(ctx context.Context, params *ddb.DescribeTableInput, optFns ...func(*ddb.Options)) (*ddb.DescribeTableOutput, error)
	ListTables(ctx context.Context, params *ddb.ListTablesInput, optFns ...func(*ddb.Options)) (*ddb.ListTablesOutput, error)
}

// MonitorFunc is an optional hook called after each DynamoDB operation.
type MonitorFunc func(op string, elapsed time.Duration, err error)

// StoreParams configures a Store.
type StoreParams struct {
	Name   string
	Client DynamoClient

	// Keys declares the key schema. Leave nil to discover it from the table
	// on first use.
	Keys *KeySchema

	Logger  Logger // nil → default (info+error only)
	Verbose bool   // true → also log trace

	// Precision is the number of fractional digits numbers are rounded to.
	// Zero means DefaultPrecision.
	Precision int

	// PageSize is the default scan/query page cap. Zero means DefaultPageSize.
	PageSize int

	// BatchSize is the per-request cap for batched writes. Zero means the
	// service maximum of 25.
	BatchSize int

	Monitor MonitorFunc
}

// Store wraps a single DynamoDB table.
type Store struct {
	Name string

	client DynamoClient
	log    Logger
	codec  codec

	mu      sync.Mutex
	keys    *KeySchema
	keyDone bool

	pageSize  int
	batchSize int
	monitor   MonitorFunc
}

// New creates a Store. The table itself is not touched; key discovery, if
// needed, is deferred to the first keyed operation.
func New(params StoreParams) (*Store, error) {
	if params.Name == "" {
		return nil, NewError(ErrInvalidKey, "missing table name")
	}
	if params.Client == nil {
		return nil, NewError(ErrInvalidKey, "missing DynamoDB client")
	}
	if params.Precision < 0 {
		return nil, NewError(ErrUnsupportedValueType,
			fmt.Sprintf("negative number precision %d", params.Precision))
	}
	s := &Store{
		Name:      params.Name,
		client:    params.Client,
		codec:     codec{precision: params.Precision},
		keys:      params.Keys,
		keyDone:   params.Keys != nil,
		pageSize:  params.PageSize,
		batchSize: params.BatchSize,
		monitor:   params.Monitor,
	}
	if s.codec.precision == 0 {
		s.codec.precision = DefaultPrecision
	}
	if s.pageSize <= 0 {
		s.pageSize = DefaultPageSize
	}
	if s.batchSize <= 0 || s.batchSize > maxBatchSize {
		s.batchSize = maxBatchSize
	}
	if params.Logger != nil {
		s.log = params.Logger
	} else if params.Verbose {
		s.log = verboseLogger{}
	} else {
		s.log = defaultLogger{}
	}
	if s.keys != nil {
		if err := validateKeySchema(s.keys); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// doOp wraps one client call with trace logging and the monitor hook.
func doOp[T any](s *Store, op string, fn func() (T, error)) (T, error) {
	start := time.Now()
	s.log.Trace("dynamodb "+op, map[string]any{"table": s.Name})
	out, err := fn()
	if s.monitor != nil {
		s.monitor(op, time.Since(start), err)
	}
	if err != nil {
		ctx := map[string]any{"table": s.Name, "error": err.Error()}
		var ae smithy.APIError
		if errors.As(err, &ae) {
			ctx["code"] = ae.ErrorCode()
		}
		s.log.Error("dynamodb "+op+" failed", ctx)
	}
	return out, err
}

// ensureKeys makes sure the key schema is known, discovering it from
// DescribeTable when it was not declared. Discovery happens at most once.
func (s *Store) ensureKeys(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.keyDone {
		return nil
	}
	out, err := doOp(s, "describeTable", func() (*ddb.DescribeTableOutput, error) {
		return s.client.DescribeTable(ctx, &ddb.DescribeTableInput{TableName: &s.Name})
	})
	if err != nil {
		var rnf *types.ResourceNotFoundException
		if errors.As(err, &rnf) {
			return NewError(ErrTableNotFound,
				fmt.Sprintf("table %q does not exist", s.Name), WithCause(err))
		}
		return err
	}
	keys, err := keySchemaFromDescription(out.Table)
	if err != nil {
		return err
	}
	s.keys = keys
	s.keyDone = true
	return nil
}

// extractKey pulls the declared key attributes out of keyOrItem. A full item
// works; any extra attributes are ignored.
func (s *Store) extractKey(keyOrItem Item) (map[string]types.AttributeValue, error) {
	key := make(map[string]types.AttributeValue, 2)
	attrs := []KeyAttribute{s.keys.Hash}
	if s.keys.Sort != nil {
		attrs = append(attrs, *s.keys.Sort)
	}
	for _, attr := range attrs {
		v, ok := keyOrItem[attr.Name]
		if !ok || v == nil {
			return nil, NewError(ErrInvalidKey,
				fmt.Sprintf("missing key attribute %q", attr.Name),
				WithContext(map[string]any{"table": s.Name}))
		}
		av, err := s.codec.encodeValue(v)
		if err != nil {
			return nil, err
		}
		key[attr.Name] = av
	}
	return key, nil
}

// Get fetches a whole item. A missing item is (nil, nil), not an error.
func (s *Store) Get(ctx context.Context, keyOrItem Item) (Item, error) {
	if err := s.ensureKeys(ctx); err != nil {
		return nil, err
	}
	key, err := s.extractKey(keyOrItem)
	if err != nil {
		return nil, err
	}
	out, err := doOp(s, "get", func() (*ddb.GetItemOutput, error) {
		return s.client.GetItem(ctx, &ddb.GetItemInput{TableName: &s.Name, Key: key})
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, nil
	}
	return s.codec.decodeItem(out.Item)
}

// Exists reports whether an item with this key is present. Only the key
// attributes are transferred.
func (s *Store) Exists(ctx context.Context, keyOrItem Item) (bool, error) {
	if err := s.ensureKeys(ctx); err != nil {
		return false, err
	}
	key, err := s.extractKey(keyOrItem)
	if err != nil {
		return false, err
	}
	a := newAliasTable(s.codec)
	proj := *buildProjection(a, []string{s.keys.Hash.Name})
	out, err := doOp(s, "get", func() (*ddb.GetItemOutput, error) {
		return s.client.GetItem(ctx, &ddb.GetItemInput{
			TableName:                &s.Name,
			Key:                      key,
			ProjectionExpression:     &proj,
			ExpressionAttributeNames: a.namesOut(),
		})
	})
	if err != nil {
		return false, err
	}
	return out.Item != nil, nil
}

// PutParams tunes Put behaviour.
type PutParams struct {
	// Overwrite replaces an existing item instead of failing.
	Overwrite bool
	// Return reports the previous item state (ReturnOld) for overwrites.
	Return ReturnMode
}

// Put writes a full item. Without Overwrite it is a strict create and fails
// with PreconditionFailed when the key is already taken.
func (s *Store) Put(ctx context.Context, item Item, params *PutParams) (Item, error) {
	if params == nil {
		params = &PutParams{}
	}
	if err := s.ensureKeys(ctx); err != nil {
		return nil, err
	}
	if _, err := s.extractKey(item); err != nil {
		return nil, err
	}
	encoded, err := s.codec.encodeItem(item)
	if err != nil {
		return nil, err
	}

	input := &ddb.PutItemInput{TableName: &s.Name, Item: encoded}
	if !params.Overwrite {
		a := newAliasTable(s.codec)
		cond := keyNotExistsCondition(a, s.keys)
		input.ConditionExpression = &cond
		input.ExpressionAttributeNames = a.namesOut()
	}
	if params.Return == ReturnOld {
		input.ReturnValues = types.ReturnValueAllOld
	}

	out, err := doOp(s, "put", func() (*ddb.PutItemOutput, error) {
		return s.client.PutItem(ctx, input)
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil, NewError(ErrPreconditionFailed,
				"item already exists",
				WithContext(map[string]any{"table": s.Name}), WithCause(err))
		}
		return nil, err
	}
	if out.Attributes == nil {
		return nil, nil
	}
	return s.codec.decodeItem(out.Attributes)
}

// DeleteParams tunes Delete behaviour.
type DeleteParams struct {
	// Return reports the deleted item (ReturnOld).
	Return ReturnMode
}

// Delete removes an item. It is idempotent: deleting a missing item is not an
// error, and the bool result reports whether the item had existed.
func (s *Store) Delete(ctx context.Context, keyOrItem Item, params *DeleteParams) (Item, bool, error) {
	if params == nil {
		params = &DeleteParams{}
	}
	if err := s.ensureKeys(ctx); err != nil {
		return nil, false, err
	}
	key, err := s.extractKey(keyOrItem)
	if err != nil {
		return nil, false, err
	}

	a := newAliasTable(s.codec)
	cond := keyExistsCondition(a, s.keys)
	input := &ddb.DeleteItemInput{
		TableName:                &s.Name,
		Key:                      key,
		ConditionExpression:      &cond,
		ExpressionAttributeNames: a.namesOut(),
	}
	if params.Return == ReturnOld {
		input.ReturnValues = types.ReturnValueAllOld
	}

	out, err := doOp(s, "delete", func() (*ddb.DeleteItemOutput, error) {
		return s.client.DeleteItem(ctx, input)
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if out.Attributes == nil {
		return nil, true, nil
	}
	old, err := s.codec.decodeItem(out.Attributes)
	return old, true, err
}

// GetFields projects selected paths of one item. The result maps each
// requested path's canonical form to its value; absent fields are omitted.
// A missing item yields (nil, nil). List projections follow the service's
// compaction: requested elements come back contiguous, so results are still
// keyed by the index the caller asked for.
func (s *Store) GetFields(ctx context.Context, keyOrItem Item, paths ...Path) (map[string]any, error) {
	if len(paths) == 0 {
		return nil, NewError(ErrInvalidFieldPath, "no fields requested")
	}
	if err := s.ensureKeys(ctx); err != nil {
		return nil, err
	}
	key, err := s.extractKey(keyOrItem)
	if err != nil {
		return nil, err
	}

	a := newAliasTable(s.codec)
	refs := make([]string, len(paths))
	for i, p := range paths {
		if len(p) == 0 || p[0].list {
			return nil, NewError(ErrInvalidFieldPath, "malformed projection path")
		}
		refs[i] = a.path(p)
	}
	proj := strings.Join(refs, ", ")

	out, err := doOp(s, "get", func() (*ddb.GetItemOutput, error) {
		return s.client.GetItem(ctx, &ddb.GetItemInput{
			TableName:                &s.Name,
			Key:                      key,
			ProjectionExpression:     &proj,
			ExpressionAttributeNames: a.namesOut(),
		})
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, nil
	}
	item, err := s.codec.decodeItem(out.Item)
	if err != nil {
		return nil, err
	}

	lookups := compactListIndexes(paths)
	fields := make(map[string]any, len(paths))
	for i, p := range paths {
		if v, ok := lookupPath(item, lookups[i]); ok {
			fields[p.String()] = v
		}
	}
	return fields, nil
}

// compactListIndexes remaps each list index to its rank among the indices
// requested for the same list. A projection drops the positions it was not
// asked for, so the rank is where the element actually lands in the result.
func compactListIndexes(paths []Path) []Path {
	requested := map[string][]int{}
	for _, p := range paths {
		for i, s := range p {
			if s.list {
				prefix := p[:i].String()
				requested[prefix] = append(requested[prefix], s.index)
			}
		}
	}
	ranks := make(map[string]map[int]int, len(requested))
	for prefix, idxs := range requested {
		sort.Ints(idxs)
		r := map[int]int{}
		for _, idx := range idxs {
			if _, ok := r[idx]; !ok {
				r[idx] = len(r)
			}
		}
		ranks[prefix] = r
	}

	out := make([]Path, len(paths))
	for pi, p := range paths {
		np := make(Path, len(p))
		copy(np, p)
		for i, s := range np {
			if s.list {
				np[i] = Index(ranks[p[:i].String()][s.index])
			}
		}
		out[pi] = np
	}
	return out
}

// lookupPath walks an item along a path. The second result reports presence.
func lookupPath(item Item, p Path) (any, bool) {
	var cur any = item
	for _, step := range p {
		if step.list {
			list, ok := cur.([]any)
			if !ok || step.index >= len(list) {
				return nil, false
			}
			cur = list[step.index]
			continue
		}
		m, ok := cur.(Item)
		if !ok {
			return nil, false
		}
		cur, ok = m[step.key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
