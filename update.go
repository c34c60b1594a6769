/*
Package itemstore – partial update planner.

Turns a declarative UpdateParams into one UpdateItem call. Validation happens
fully client side before the request is issued.
*/
package itemstore

import (
	"context"
	"errors"
	"fmt"

	ddb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// ReturnMode selects which item state an operation reports back.
type ReturnMode int

const (
	ReturnNone ReturnMode = iota
	ReturnOld             // state before the operation, touched fields only
	ReturnNew             // state after the operation, touched fields only
)

// FieldUpdate is one field-level mutation. Default is only meaningful for
// Increment (seed when the attribute is absent) and Append (seed list).
type FieldUpdate struct {
	Path    Path
	Value   any
	Default any
}

// UpdateParams describes a partial update of one item. Each target path may
// appear in at most one category.
type UpdateParams struct {
	Set           []FieldUpdate
	Increment     []FieldUpdate
	Append        []FieldUpdate
	AddToSet      []FieldUpdate
	RemoveFromSet []FieldUpdate
	Remove        []Path

	// CreateIfMissing permits the update to materialize the item. When false
	// the update requires the item to exist and fails with ItemNotFound
	// otherwise.
	CreateIfMissing bool

	// Where is an optional condition in the filter template syntax; the update
	// applies only when it holds. Substitutions feeds @{name} references.
	Where         string
	Substitutions map[string]any

	Return ReturnMode
}

// Update applies a partial update to the item addressed by keyOrItem.
// With Return set it returns the touched fields in the requested state,
// otherwise nil.
func (s *Store) Update(ctx context.Context, keyOrItem Item, params UpdateParams) (Item, error) {
	plan, err := s.planUpdate(params)
	if err != nil {
		return nil, err
	}
	if err := s.ensureKeys(ctx); err != nil {
		return nil, err
	}
	key, err := s.extractKey(keyOrItem)
	if err != nil {
		return nil, err
	}
	if !params.CreateIfMissing {
		plan.prependCondition(keyExistsCondition(plan.alias, s.keys))
	}

	input := &ddb.UpdateItemInput{
		TableName:                 &s.Name,
		Key:                       key,
		UpdateExpression:          &plan.expr,
		ExpressionAttributeNames:  plan.alias.namesOut(),
		ExpressionAttributeValues: plan.alias.valuesOut(),
	}
	if plan.condition != "" {
		input.ConditionExpression = &plan.condition
	}
	switch params.Return {
	case ReturnNew:
		input.ReturnValues = types.ReturnValueUpdatedNew
	case ReturnOld:
		input.ReturnValues = types.ReturnValueUpdatedOld
	}

	out, err := doOp(s, "update", func() (*ddb.UpdateItemOutput, error) {
		return s.client.UpdateItem(ctx, input)
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			if params.Where != "" {
				return nil, NewError(ErrPreconditionFailed,
					"update condition did not hold",
					WithContext(map[string]any{"table": s.Name}), WithCause(err))
			}
			return nil, NewError(ErrItemNotFound,
				"item does not exist",
				WithContext(map[string]any{"table": s.Name}), WithCause(err))
		}
		return nil, err
	}
	if params.Return == ReturnNone {
		return nil, nil
	}
	return s.codec.decodeItem(out.Attributes)
}

type updatePlan struct {
	alias     *aliasTable
	expr      string
	condition string
}

// planUpdate compiles params into expression strings. It never touches the
// network; every validation error surfaces here.
func (s *Store) planUpdate(params UpdateParams) (*updatePlan, error) {
	a := newAliasTable(s.codec)
	var clauses updateClauses

	seen := map[string]bool{}
	claim := func(p Path) error {
		if len(p) == 0 {
			return NewError(ErrInvalidFieldPath, "empty field path in update")
		}
		c := p.String()
		if seen[c] {
			return NewError(ErrConflictingFieldOperation,
				fmt.Sprintf("field %q targeted by more than one operation", c))
		}
		seen[c] = true
		return nil
	}

	for _, f := range params.Set {
		if err := claim(f.Path); err != nil {
			return nil, err
		}
		if err := clauses.addSet(a, f.Path, f.Value); err != nil {
			return nil, err
		}
	}
	for _, f := range params.Increment {
		if err := claim(f.Path); err != nil {
			return nil, err
		}
		if err := clauses.addIncrement(a, f.Path, f.Value, f.Default, f.Default != nil); err != nil {
			return nil, err
		}
	}
	for _, f := range params.Append {
		if err := claim(f.Path); err != nil {
			return nil, err
		}
		if err := clauses.addAppend(a, f.Path, f.Value, f.Default); err != nil {
			return nil, err
		}
	}
	for _, f := range params.AddToSet {
		if err := claim(f.Path); err != nil {
			return nil, err
		}
		if err := clauses.addToSet(a, f.Path, f.Value); err != nil {
			return nil, err
		}
	}
	for _, f := range params.RemoveFromSet {
		if err := claim(f.Path); err != nil {
			return nil, err
		}
		if err := clauses.removeFromSet(a, f.Path, f.Value); err != nil {
			return nil, err
		}
	}
	for _, p := range params.Remove {
		if err := claim(p); err != nil {
			return nil, err
		}
		clauses.addRemove(a, p)
	}

	if len(seen) == 0 {
		return nil, NewError(ErrEmptyUpdate, "update contains no operations")
	}

	plan := &updatePlan{alias: a, expr: clauses.render()}
	if params.Where != "" {
		cond, err := expandFilter(a, params.Where, params.Substitutions)
		if err != nil {
			return nil, err
		}
		plan.condition = cond
	}
	return plan, nil
}

// prependCondition conjoins cond ahead of any existing condition.
func (p *updatePlan) prependCondition(cond string) {
	if p.condition == "" {
		p.condition = cond
		return
	}
	p.condition = "(" + cond + ") AND (" + p.condition + ")"
}
