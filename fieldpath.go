/*
Package itemstore – field paths.

A Path addresses a location inside an item: a sequence of map-key and
list-index steps. Paths are the unit the update planner deduplicates on and
the projection operations are keyed by.
*/
package itemstore

import (
	"fmt"
	"strconv"
	"strings"
)

// Step is one hop of a field path, either a map key or a list index.
type Step struct {
	key   string
	index int
	list  bool
}

// Key returns a map-key step.
func Key(name string) Step { return Step{key: name} }

// Index returns a list-index step.
func Index(i int) Step { return Step{index: i, list: true} }

// Path addresses a nested location inside an item.
type Path []Step

// PathOf builds a Path from a mix of strings (map keys), ints (list indexes)
// and Steps. A bare string is a single map-key step even when it contains
// dots. The first step must be a map key and indexes must be non-negative.
func PathOf(steps ...any) (Path, error) {
	if len(steps) == 0 {
		return nil, NewError(ErrInvalidFieldPath, "empty field path")
	}
	p := make(Path, 0, len(steps))
	for _, s := range steps {
		switch tv := s.(type) {
		case string:
			if tv == "" {
				return nil, NewError(ErrInvalidFieldPath, "empty attribute name in path")
			}
			p = append(p, Key(tv))
		case int:
			if tv < 0 {
				return nil, NewError(ErrInvalidFieldPath,
					fmt.Sprintf("negative list index %d", tv))
			}
			p = append(p, Index(tv))
		case Step:
			if tv.list && tv.index < 0 {
				return nil, NewError(ErrInvalidFieldPath,
					fmt.Sprintf("negative list index %d", tv.index))
			}
			if !tv.list && tv.key == "" {
				return nil, NewError(ErrInvalidFieldPath, "empty attribute name in path")
			}
			p = append(p, tv)
		default:
			return nil, NewError(ErrInvalidFieldPath,
				fmt.Sprintf("unexpected path step type %T", s))
		}
	}
	if p[0].list {
		return nil, NewError(ErrInvalidFieldPath, "field path must start with an attribute name")
	}
	return p, nil
}

// MustPath is PathOf for statically known paths; it panics on error.
func MustPath(steps ...any) Path {
	p, err := PathOf(steps...)
	if err != nil {
		panic(err)
	}
	return p
}

// String renders the canonical form, e.g. "a.b[2].c". Two paths address the
// same location iff their canonical forms are equal.
func (p Path) String() string {
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
		b.WriteString(s.key)
	}
	return b.String()
}

// Equal reports whether p and q address the same location.
func (p Path) Equal(q Path) bool {
	if len(p) != len(q) {
		return false
	}
	for i := range p {
		if p[i] != q[i] {
			return false
		}
	}
	return true
}

// parsePathExpr parses the dotted/bracketed path syntax used inside filter
// expressions, e.g. "meta.tags[0]". Unlike PathOf, dots here separate steps.
func parsePathExpr(s string) (Path, error) {
	var p Path
	for _, part := range strings.Split(s, ".") {
		if part == "" {
			return nil, NewError(ErrInvalidFieldPath,
				fmt.Sprintf("malformed path expression %q", s))
		}
		for len(part) > 0 {
			open := strings.IndexByte(part, '[')
			if open < 0 {
				p = append(p, Key(part))
				break
			}
			if open > 0 {
				p = append(p, Key(part[:open]))
			} else if len(p) == 0 {
				return nil, NewError(ErrInvalidFieldPath,
					fmt.Sprintf("malformed path expression %q", s))
			}
			end := strings.IndexByte(part, ']')
			if end < open {
				return nil, NewError(ErrInvalidFieldPath,
					fmt.Sprintf("malformed path expression %q", s))
			}
			idx, err := strconv.Atoi(part[open+1 : end])
			if err != nil || idx < 0 {
				return nil, NewError(ErrInvalidFieldPath,
					fmt.Sprintf("malformed list index in %q", s))
			}
			p = append(p, Index(idx))
			part = part[end+1:]
			if strings.HasPrefix(part, "[") {
				continue
			}
			if part != "" {
				return nil, NewError(ErrInvalidFieldPath,
					fmt.Sprintf("malformed path expression %q", s))
			}
		}
	}
	if len(p) == 0 || p[0].list {
		return nil, NewError(ErrInvalidFieldPath,
			fmt.Sprintf("malformed path expression %q", s))
	}
	return p, nil
}
