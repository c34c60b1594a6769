/*
Package itemstore – expression compiler.

Builds DynamoDB expression strings (update, condition, key condition, filter,
projection) together with their attribute-name and attribute-value alias maps.
All state is request scoped; nothing here is shared between calls.
*/
package itemstore

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// aliasTable accumulates the ExpressionAttributeNames and
// ExpressionAttributeValues for one request. Names are deduplicated per
// attribute name; every literal value gets its own placeholder.
type aliasTable struct {
	codec codec

	names   map[string]string // "#f0" → attribute name
	nameIdx map[string]int    // attribute name → index
	values  map[string]types.AttributeValue
	nindex  int
	vindex  int
}

func newAliasTable(c codec) *aliasTable {
	return &aliasTable{
		codec:   c,
		names:   map[string]string{},
		nameIdx: map[string]int{},
		values:  map[string]types.AttributeValue{},
	}
}

// name returns the "#fN" placeholder for an attribute name, reusing the
// placeholder when the same name was aliased before.
func (a *aliasTable) name(attr string) string {
	if idx, ok := a.nameIdx[attr]; ok {
		return fmt.Sprintf("#f%d", idx)
	}
	idx := a.nindex
	a.nindex++
	key := fmt.Sprintf("#f%d", idx)
	a.names[key] = attr
	a.nameIdx[attr] = idx
	return key
}

// value encodes v and returns its ":vN" placeholder.
func (a *aliasTable) value(v any) (string, error) {
	av, err := a.codec.encodeValue(v)
	if err != nil {
		return "", err
	}
	return a.rawValue(av), nil
}

// rawValue registers an already encoded attribute value.
func (a *aliasTable) rawValue(av types.AttributeValue) string {
	key := fmt.Sprintf(":v%d", a.vindex)
	a.vindex++
	a.values[key] = av
	return key
}

// path renders a Path using aliased attribute names, e.g. "#f0.#f1[2]".
func (a *aliasTable) path(p Path) string {
	var b strings.Builder
	for i, s := range p {
		if s.list {
			b.WriteByte('[')
			b.WriteString(strconv.Itoa(s.index))
			b.WriteByte(']')
			continue
		}
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(a.name(s.key))
	}
	return b.String()
}

// namesOut returns the alias map, or nil when empty.
func (a *aliasTable) namesOut() map[string]string {
	if len(a.names) == 0 {
		return nil
	}
	return a.names
}

// valuesOut returns the value map, or nil when empty.
func (a *aliasTable) valuesOut() map[string]types.AttributeValue {
	if len(a.values) == 0 {
		return nil
	}
	return a.values
}

// keyExistsCondition asserts that the item is already present.
func keyExistsCondition(a *aliasTable, keys *KeySchema) string {
	terms := []string{fmt.Sprintf("attribute_exists(%s)", a.name(keys.Hash.Name))}
	if keys.Sort != nil {
		terms = append(terms, fmt.Sprintf("attribute_exists(%s)", a.name(keys.Sort.Name)))
	}
	return strings.Join(terms, " AND ")
}

// keyNotExistsCondition asserts that no item with this key exists yet.
func keyNotExistsCondition(a *aliasTable, keys *KeySchema) string {
	terms := []string{fmt.Sprintf("attribute_not_exists(%s)", a.name(keys.Hash.Name))}
	if keys.Sort != nil {
		terms = append(terms, fmt.Sprintf("attribute_not_exists(%s)", a.name(keys.Sort.Name)))
	}
	return strings.Join(terms, " AND ")
}

// ─── update expression assembly ──────────────────────────────────────────────

type updateClauses struct {
	set    []string
	add    []string
	del    []string
	remove []string
}

func (u *updateClauses) render() string {
	var parts []string
	if len(u.set) > 0 {
		parts = append(parts, "SET "+strings.Join(u.set, ", "))
	}
	if len(u.add) > 0 {
		parts = append(parts, "ADD "+strings.Join(u.add, ", "))
	}
	if len(u.del) > 0 {
		parts = append(parts, "DELETE "+strings.Join(u.del, ", "))
	}
	if len(u.remove) > 0 {
		parts = append(parts, "REMOVE "+strings.Join(u.remove, ", "))
	}
	return strings.Join(parts, " ")
}

func (u *updateClauses) addSet(a *aliasTable, p Path, v any) error {
	target := a.path(p)
	variable, err := a.value(v)
	if err != nil {
		return err
	}
	u.set = append(u.set, fmt.Sprintf("%s = %s", target, variable))
	return nil
}

// addIncrement emits either an if_not_exists SET (when a default seed is
// given) or a plain ADD. ADD creates the attribute as if it were zero, so the
// defaultless case needs no seed.
func (u *updateClauses) addIncrement(a *aliasTable, p Path, delta, def any, hasDefault bool) error {
	target := a.path(p)
	dv, err := a.value(delta)
	if err != nil {
		return err
	}
	if hasDefault {
		sv, err := a.value(def)
		if err != nil {
			return err
		}
		u.set = append(u.set, fmt.Sprintf("%s = if_not_exists(%s, %s) + %s", target, target, sv, dv))
		return nil
	}
	u.add = append(u.add, fmt.Sprintf("%s %s", target, dv))
	return nil
}

func (u *updateClauses) addAppend(a *aliasTable, p Path, items, seed any) error {
	target := a.path(p)
	if seed == nil {
		seed = []any{}
	}
	sv, err := a.value(seed)
	if err != nil {
		return err
	}
	iv, err := a.value(asList(items))
	if err != nil {
		return err
	}
	u.set = append(u.set, fmt.Sprintf("%s = list_append(if_not_exists(%s, %s), %s)", target, target, sv, iv))
	return nil
}

func (u *updateClauses) addToSet(a *aliasTable, p Path, v any) error {
	set, err := asSet(v)
	if err != nil {
		return err
	}
	target := a.path(p)
	variable, err := a.value(set)
	if err != nil {
		return err
	}
	u.add = append(u.add, fmt.Sprintf("%s %s", target, variable))
	return nil
}

func (u *updateClauses) removeFromSet(a *aliasTable, p Path, v any) error {
	set, err := asSet(v)
	if err != nil {
		return err
	}
	target := a.path(p)
	variable, err := a.value(set)
	if err != nil {
		return err
	}
	u.del = append(u.del, fmt.Sprintf("%s %s", target, variable))
	return nil
}

func (u *updateClauses) addRemove(a *aliasTable, p Path) {
	u.remove = append(u.remove, a.path(p))
}

// asList wraps a scalar in a single-element list.
func asList(v any) []any {
	if arr, ok := v.([]any); ok {
		return arr
	}
	return []any{v}
}

// asSet coerces a value into one of the typed set types. Bare scalars become
// single-member sets.
func asSet(v any) (any, error) {
	switch tv := v.(type) {
	case StringSet, NumberSet, BinarySet:
		return tv, nil
	case string:
		return StringSet{tv}, nil
	case []string:
		return StringSet(tv), nil
	case int:
		return NumberSet{float64(tv)}, nil
	case int64:
		return NumberSet{float64(tv)}, nil
	case float64:
		return NumberSet{tv}, nil
	case []float64:
		return NumberSet(tv), nil
	case []byte:
		return BinarySet{tv}, nil
	case [][]byte:
		return BinarySet(tv), nil
	default:
		return nil, NewError(ErrUnsupportedValueType,
			fmt.Sprintf("cannot use %T as a set member", v))
	}
}

// ─── filter mini-language ────────────────────────────────────────────────────

var (
	filterPathRe  = regexp.MustCompile(`\$\{([^}]*)\}`)
	filterSubRe   = regexp.MustCompile(`@\{([^}]*)\}`)
	filterValueRe = regexp.MustCompile(`\{([^}]*)\}`)
)

// expandFilter rewrites a filter expression written in the template syntax
// into a DynamoDB expression string. ${path} references an attribute path
// (dotted, with optional [i] subscripts), @{name} pulls a value from subs,
// and {literal} embeds a typed literal (number, true/false, or a string,
// optionally double quoted).
func expandFilter(a *aliasTable, where string, subs map[string]any) (string, error) {
	var firstErr error
	fail := func(err error) string {
		if firstErr == nil {
			firstErr = err
		}
		return ""
	}

	out := filterPathRe.ReplaceAllStringFunc(where, func(m string) string {
		p, err := parsePathExpr(m[2 : len(m)-1])
		if err != nil {
			return fail(NewError(ErrInvalidFilter,
				fmt.Sprintf("bad path reference in filter %q", where), WithCause(err)))
		}
		return a.path(p)
	})

	out = filterSubRe.ReplaceAllStringFunc(out, func(m string) string {
		name := m[2 : len(m)-1]
		v, ok := subs[name]
		if !ok {
			return fail(NewError(ErrInvalidFilter,
				fmt.Sprintf("missing substitution %q in filter", name)))
		}
		ph, err := a.value(v)
		if err != nil {
			return fail(err)
		}
		return ph
	})

	out = filterValueRe.ReplaceAllStringFunc(out, func(m string) string {
		ph, err := a.value(parseLiteral(m[1 : len(m)-1]))
		if err != nil {
			return fail(err)
		}
		return ph
	})

	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

// parseLiteral types a {literal} token: number, boolean, or string.
func parseLiteral(s string) any {
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

// buildProjection renders a comma-separated projection over top-level
// attribute names.
func buildProjection(a *aliasTable, fields []string) *string {
	if len(fields) == 0 {
		return nil
	}
	refs := make([]string, len(fields))
	for i, f := range fields {
		refs[i] = a.name(f)
	}
	s := strings.Join(refs, ", ")
	return &s
}
