/*
Package itemstore – scans, queries and pagination.

Page boundaries travel as opaque tokens. A token is the wire-format last
evaluated key, JSON encoded and base64 wrapped; the scalar tags are preserved
exactly so a token decodes back to the identical start key.
*/
package itemstore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	ddb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DefaultPageSize caps how many items a single page request evaluates when
// the caller does not choose a size.
const DefaultPageSize = 1000

// ScanParams configures a table scan. Where uses the filter template syntax
// (${path}, {literal}, @{name}); Fields projects top-level attributes; Next
// resumes from a token returned by an earlier page.
type ScanParams struct {
	Where         string
	Substitutions map[string]any
	Fields        []string
	PageSize      int
	Next          string
}

// QueryParams configures a key-condition query. HashValue is mandatory. At
// most one sort predicate applies: SortPrefix, or a range via SortFrom/SortTo
// (either side may be nil for a one-sided bound).
type QueryParams struct {
	HashValue  any
	SortPrefix string
	SortFrom   any
	SortTo     any
	Descending bool

	Where         string
	Substitutions map[string]any
	Fields        []string
	PageSize      int
	Next          string
}

// ScanPage fetches one page of a scan. The returned token is "" when the scan
// is exhausted. Pages may come back shorter than PageSize while a token is
// still present; the filter runs after the page window is cut.
func (s *Store) ScanPage(ctx context.Context, params ScanParams) ([]Item, string, error) {
	if err := s.ensureKeys(ctx); err != nil {
		return nil, "", err
	}
	a := newAliasTable(s.codec)

	input := &ddb.ScanInput{
		TableName: &s.Name,
		Limit:     s.pageLimit(params.PageSize),
	}
	if params.Where != "" {
		filter, err := expandFilter(a, params.Where, params.Substitutions)
		if err != nil {
			return nil, "", err
		}
		input.FilterExpression = &filter
	}
	input.ProjectionExpression = buildProjection(a, params.Fields)
	input.ExpressionAttributeNames = a.namesOut()
	input.ExpressionAttributeValues = a.valuesOut()

	start, err := decodePageToken(params.Next)
	if err != nil {
		return nil, "", err
	}
	input.ExclusiveStartKey = start

	out, err := doOp(s, "scan", func() (*ddb.ScanOutput, error) {
		return s.client.Scan(ctx, input)
	})
	if err != nil {
		return nil, "", err
	}
	items, err := s.decodeItems(out.Items)
	if err != nil {
		return nil, "", err
	}
	token, err := encodePageToken(out.LastEvaluatedKey)
	if err != nil {
		return nil, "", err
	}
	return items, token, nil
}

// QueryPage fetches one page of a query. Token semantics match ScanPage.
func (s *Store) QueryPage(ctx context.Context, params QueryParams) ([]Item, string, error) {
	if err := s.ensureKeys(ctx); err != nil {
		return nil, "", err
	}
	a := newAliasTable(s.codec)

	keyCond, err := s.buildKeyCondition(a, params)
	if err != nil {
		return nil, "", err
	}
	input := &ddb.QueryInput{
		TableName:              &s.Name,
		KeyConditionExpression: &keyCond,
		Limit:                  s.pageLimit(params.PageSize),
	}
	if params.Descending {
		forward := false
		input.ScanIndexForward = &forward
	}
	if params.Where != "" {
		filter, err := expandFilter(a, params.Where, params.Substitutions)
		if err != nil {
			return nil, "", err
		}
		input.FilterExpression = &filter
	}
	input.ProjectionExpression = buildProjection(a, params.Fields)
	input.ExpressionAttributeNames = a.namesOut()
	input.ExpressionAttributeValues = a.valuesOut()

	start, err := decodePageToken(params.Next)
	if err != nil {
		return nil, "", err
	}
	input.ExclusiveStartKey = start

	out, err := doOp(s, "query", func() (*ddb.QueryOutput, error) {
		return s.client.Query(ctx, input)
	})
	if err != nil {
		return nil, "", err
	}
	items, err := s.decodeItems(out.Items)
	if err != nil {
		return nil, "", err
	}
	token, err := encodePageToken(out.LastEvaluatedKey)
	if err != nil {
		return nil, "", err
	}
	return items, token, nil
}

// buildKeyCondition renders the hash equality plus at most one sort predicate.
func (s *Store) buildKeyCondition(a *aliasTable, params QueryParams) (string, error) {
	if params.HashValue == nil {
		return "", NewError(ErrInvalidFilter, "query requires a hash key value")
	}
	hv, err := a.value(params.HashValue)
	if err != nil {
		return "", err
	}
	cond := fmt.Sprintf("%s = %s", a.name(s.keys.Hash.Name), hv)

	hasRange := params.SortFrom != nil || params.SortTo != nil
	if params.SortPrefix != "" && hasRange {
		return "", NewError(ErrInvalidFilter, "sort prefix and sort range are mutually exclusive")
	}
	if !hasRange && params.SortPrefix == "" {
		return cond, nil
	}
	if s.keys.Sort == nil {
		return "", NewError(ErrInvalidFilter, "table has no sort key")
	}
	sortRef := a.name(s.keys.Sort.Name)

	switch {
	case params.SortPrefix != "":
		pv, err := a.value(params.SortPrefix)
		if err != nil {
			return "", err
		}
		cond += fmt.Sprintf(" AND begins_with(%s, %s)", sortRef, pv)
	case params.SortFrom != nil && params.SortTo != nil:
		lo, err := a.value(params.SortFrom)
		if err != nil {
			return "", err
		}
		hi, err := a.value(params.SortTo)
		if err != nil {
			return "", err
		}
		cond += fmt.Sprintf(" AND %s BETWEEN %s AND %s", sortRef, lo, hi)
	case params.SortFrom != nil:
		lo, err := a.value(params.SortFrom)
		if err != nil {
			return "", err
		}
		cond += fmt.Sprintf(" AND %s >= %s", sortRef, lo)
	default:
		hi, err := a.value(params.SortTo)
		if err != nil {
			return "", err
		}
		cond += fmt.Sprintf(" AND %s <= %s", sortRef, hi)
	}
	return cond, nil
}

func (s *Store) pageLimit(size int) *int32 {
	if size <= 0 {
		size = s.pageSize
	}
	n := int32(size)
	return &n
}

func (s *Store) decodeItems(raw []map[string]types.AttributeValue) ([]Item, error) {
	items := make([]Item, 0, len(raw))
	for _, r := range raw {
		item, err := s.codec.decodeItem(r)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// ─── page tokens ─────────────────────────────────────────────────────────────

// tokenAttr is the JSON shape of one key attribute inside a page token. Only
// key-eligible scalar types appear.
type tokenAttr struct {
	S *string `json:"s,omitempty"`
	N *string `json:"n,omitempty"`
	B []byte  `json:"b,omitempty"`
}

func encodePageToken(key map[string]types.AttributeValue) (string, error) {
	if len(key) == 0 {
		return "", nil
	}
	attrs := make(map[string]tokenAttr, len(key))
	for name, av := range key {
		switch tv := av.(type) {
		case *types.AttributeValueMemberS:
			attrs[name] = tokenAttr{S: &tv.Value}
		case *types.AttributeValueMemberN:
			attrs[name] = tokenAttr{N: &tv.Value}
		case *types.AttributeValueMemberB:
			attrs[name] = tokenAttr{B: tv.Value}
		default:
			return "", NewError(ErrInvalidPageToken,
				fmt.Sprintf("non-scalar key attribute %q in page boundary", name))
		}
	}
	b, err := json.Marshal(attrs)
	if err != nil {
		return "", NewError(ErrInvalidPageToken, "cannot encode page token", WithCause(err))
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func decodePageToken(token string) (map[string]types.AttributeValue, error) {
	if token == "" {
		return nil, nil
	}
	b, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, NewError(ErrInvalidPageToken, "malformed page token", WithCause(err))
	}
	var attrs map[string]tokenAttr
	if err := json.Unmarshal(b, &attrs); err != nil {
		return nil, NewError(ErrInvalidPageToken, "malformed page token", WithCause(err))
	}
	key := make(map[string]types.AttributeValue, len(attrs))
	for name, a := range attrs {
		switch {
		case a.S != nil:
			key[name] = &types.AttributeValueMemberS{Value: *a.S}
		case a.N != nil:
			key[name] = &types.AttributeValueMemberN{Value: *a.N}
		case a.B != nil:
			key[name] = &types.AttributeValueMemberB{Value: a.B}
		default:
			return nil, NewError(ErrInvalidPageToken,
				fmt.Sprintf("page token attribute %q carries no value", name))
		}
	}
	return key, nil
}

// ─── iterators ───────────────────────────────────────────────────────────────

// Iter walks a scan or query page by page. Usage follows bufio.Scanner:
//
//	it := store.Scan(ScanParams{})
//	for it.Next(ctx) {
//	    item := it.Item()
//	    ...
//	}
//	if err := it.Err(); err != nil { ... }
type Iter struct {
	fetch func(ctx context.Context, next string) ([]Item, string, error)

	items   []Item
	pos     int
	start   string
	next    string
	started bool
	done    bool
	err     error
}

// Scan returns an iterator over the whole table, resuming across pages
// automatically.
func (s *Store) Scan(params ScanParams) *Iter {
	return &Iter{
		start: params.Next,
		next:  params.Next,
		pos:   -1,
		fetch: func(ctx context.Context, next string) ([]Item, string, error) {
			p := params
			p.Next = next
			return s.ScanPage(ctx, p)
		},
	}
}

// Query returns an iterator over a query result, resuming across pages
// automatically.
func (s *Store) Query(params QueryParams) *Iter {
	return &Iter{
		start: params.Next,
		next:  params.Next,
		pos:   -1,
		fetch: func(ctx context.Context, next string) ([]Item, string, error) {
			p := params
			p.Next = next
			return s.QueryPage(ctx, p)
		},
	}
}

// Next advances to the next item, fetching pages as needed. It returns false
// when the result set is exhausted or an error occurred; Err distinguishes
// the two.
func (it *Iter) Next(ctx context.Context) bool {
	if it.err != nil || it.done {
		return false
	}
	for {
		if it.pos+1 < len(it.items) {
			it.pos++
			return true
		}
		if it.started && it.next == "" {
			it.done = true
			return false
		}
		items, next, err := it.fetch(ctx, it.next)
		if err != nil {
			it.err = err
			it.done = true
			return false
		}
		it.started = true
		it.items = items
		it.pos = -1
		it.next = next
	}
}

// Item returns the current item. Valid only after a true Next.
func (it *Iter) Item() Item {
	if it.pos < 0 || it.pos >= len(it.items) {
		return nil
	}
	return it.items[it.pos]
}

// Err returns the first error the iterator hit, if any.
func (it *Iter) Err() error { return it.err }

// Reset rewinds the iterator to its starting point so it can be walked again.
func (it *Iter) Reset() {
	it.items = nil
	it.pos = -1
	it.next = it.start
	it.started = false
	it.done = false
	it.err = nil
}
