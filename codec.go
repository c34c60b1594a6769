/*
Package itemstore – value codec.

Converts between the native Go value model (nil, bool, string, []byte, numbers,
[]any, Item, typed sets) and the DynamoDB attribute value wire model. Numbers
travel as fixed-point decimal strings so repeated encode/decode cycles are
idempotent at the configured precision.
*/
package itemstore

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Item is a free-form attribute map. Values are the native value model:
// nil, bool, string, []byte, int/float numbers, []any, Item and the typed
// set types below.
type Item = map[string]any

// StringSet is a homogeneous set of strings. The store does not persist empty
// sets: an empty set member of an item encodes to "attribute absent".
type StringSet []string

// NumberSet is a homogeneous set of numbers.
type NumberSet []float64

// BinarySet is a homogeneous set of byte strings.
type BinarySet [][]byte

// DefaultPrecision is the number of fractional digits numbers are rounded to
// before hitting the wire. The wire format stores numbers as decimal strings;
// rounding here keeps encode/decode cycles stable.
const DefaultPrecision = 6

// codec converts between native values and wire attribute values. It is a
// value type; copies are cheap and safe to use concurrently.
type codec struct {
	precision int
}

// errEmptySet signals that a set value has no members. Map encoding turns it
// into "attribute absent"; every other context reports it to the caller.
var errEmptySet = errors.New("empty set")

// encodeItem converts a native item into a wire attribute map. The input is
// never mutated; on error the partial result is discarded.
func (c codec) encodeItem(item Item) (map[string]types.AttributeValue, error) {
	out := make(map[string]types.AttributeValue, len(item))
	for name, v := range item {
		av, err := c.encode(v)
		if err != nil {
			if errors.Is(err, errEmptySet) {
				continue // empty set → attribute absent
			}
			return nil, err
		}
		out[name] = av
	}
	return out, nil
}

// encodeValue is encode for contexts with no enclosing map: an empty set
// cannot be elided there, so it surfaces as UnsupportedValueType instead of
// the internal sentinel.
func (c codec) encodeValue(v any) (types.AttributeValue, error) {
	av, err := c.encode(v)
	if errors.Is(err, errEmptySet) {
		return nil, NewError(ErrUnsupportedValueType, "empty set outside a map context")
	}
	return av, err
}

func (c codec) encode(v any) (types.AttributeValue, error) {
	switch tv := v.(type) {
	case nil:
		return &types.AttributeValueMemberNULL{Value: true}, nil
	case bool:
		return &types.AttributeValueMemberBOOL{Value: tv}, nil
	case string:
		return &types.AttributeValueMemberS{Value: tv}, nil
	case []byte:
		return &types.AttributeValueMemberB{Value: tv}, nil
	case int:
		return &types.AttributeValueMemberN{Value: strconv.FormatInt(int64(tv), 10)}, nil
	case int8:
		return &types.AttributeValueMemberN{Value: strconv.FormatInt(int64(tv), 10)}, nil
	case int16:
		return &types.AttributeValueMemberN{Value: strconv.FormatInt(int64(tv), 10)}, nil
	case int32:
		return &types.AttributeValueMemberN{Value: strconv.FormatInt(int64(tv), 10)}, nil
	case int64:
		return &types.AttributeValueMemberN{Value: strconv.FormatInt(tv, 10)}, nil
	case uint:
		return &types.AttributeValueMemberN{Value: strconv.FormatUint(uint64(tv), 10)}, nil
	case uint8:
		return &types.AttributeValueMemberN{Value: strconv.FormatUint(uint64(tv), 10)}, nil
	case uint16:
		return &types.AttributeValueMemberN{Value: strconv.FormatUint(uint64(tv), 10)}, nil
	case uint32:
		return &types.AttributeValueMemberN{Value: strconv.FormatUint(uint64(tv), 10)}, nil
	case uint64:
		return &types.AttributeValueMemberN{Value: strconv.FormatUint(tv, 10)}, nil
	case float32:
		return c.encodeFloat(float64(tv))
	case float64:
		return c.encodeFloat(tv)
	case StringSet:
		if len(tv) == 0 {
			return nil, errEmptySet
		}
		return &types.AttributeValueMemberSS{Value: append([]string(nil), tv...)}, nil
	case NumberSet:
		if len(tv) == 0 {
			return nil, errEmptySet
		}
		members := make([]string, len(tv))
		for i, n := range tv {
			s, err := c.formatFloat(n)
			if err != nil {
				return nil, err
			}
			members[i] = s
		}
		return &types.AttributeValueMemberNS{Value: members}, nil
	case BinarySet:
		if len(tv) == 0 {
			return nil, errEmptySet
		}
		members := make([][]byte, len(tv))
		for i, b := range tv {
			members[i] = append([]byte(nil), b...)
		}
		return &types.AttributeValueMemberBS{Value: members}, nil
	case []any:
		members := make([]types.AttributeValue, len(tv))
		for i, elem := range tv {
			av, err := c.encode(elem)
			if err != nil {
				if errors.Is(err, errEmptySet) {
					err = NewError(ErrUnsupportedValueType, "empty set inside a list")
				}
				return nil, err
			}
			members[i] = av
		}
		return &types.AttributeValueMemberL{Value: members}, nil
	case Item:
		members, err := c.encodeItem(tv)
		if err != nil {
			return nil, err
		}
		return &types.AttributeValueMemberM{Value: members}, nil
	default:
		return nil, NewError(ErrUnsupportedValueType,
			fmt.Sprintf("unexpected type %T encountered", v))
	}
}

func (c codec) encodeFloat(f float64) (types.AttributeValue, error) {
	s, err := c.formatFloat(f)
	if err != nil {
		return nil, err
	}
	return &types.AttributeValueMemberN{Value: s}, nil
}

// formatFloat renders f as a fixed-point decimal rounded to the codec's
// precision, with trailing zeros trimmed.
func (c codec) formatFloat(f float64) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", NewError(ErrUnsupportedValueType, "non-finite number")
	}
	s := strconv.FormatFloat(f, 'f', c.precision, 64)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimSuffix(s, ".")
	}
	if s == "-0" || s == "" {
		s = "0"
	}
	return s, nil
}

// decodeItem converts a wire attribute map back into a native item.
func (c codec) decodeItem(av map[string]types.AttributeValue) (Item, error) {
	if av == nil {
		return nil, nil
	}
	out := make(Item, len(av))
	for name, v := range av {
		nv, err := c.decode(v)
		if err != nil {
			return nil, err
		}
		out[name] = nv
	}
	return out, nil
}

func (c codec) decode(av types.AttributeValue) (any, error) {
	switch tv := av.(type) {
	case *types.AttributeValueMemberNULL:
		return nil, nil
	case *types.AttributeValueMemberBOOL:
		return tv.Value, nil
	case *types.AttributeValueMemberS:
		return tv.Value, nil
	case *types.AttributeValueMemberB:
		return tv.Value, nil
	case *types.AttributeValueMemberN:
		return decodeNumber(tv.Value)
	case *types.AttributeValueMemberSS:
		return StringSet(append([]string(nil), tv.Value...)), nil
	case *types.AttributeValueMemberNS:
		set := make(NumberSet, len(tv.Value))
		for i, s := range tv.Value {
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, NewError(ErrUnsupportedValueType,
					fmt.Sprintf("malformed number %q in set", s), WithCause(err))
			}
			set[i] = f
		}
		return set, nil
	case *types.AttributeValueMemberBS:
		set := make(BinarySet, len(tv.Value))
		for i, b := range tv.Value {
			set[i] = append([]byte(nil), b...)
		}
		return set, nil
	case *types.AttributeValueMemberL:
		out := make([]any, len(tv.Value))
		for i, elem := range tv.Value {
			nv, err := c.decode(elem)
			if err != nil {
				return nil, err
			}
			out[i] = nv
		}
		return out, nil
	case *types.AttributeValueMemberM:
		return c.decodeItem(tv.Value)
	default:
		return nil, NewError(ErrUnsupportedValueType,
			fmt.Sprintf("unexpected wire type %T encountered", av))
	}
}

// decodeNumber parses a wire decimal, returning int64 when there is no
// fractional part and float64 otherwise.
func decodeNumber(s string) (any, error) {
	if !strings.ContainsAny(s, ".eE") {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, nil
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, NewError(ErrUnsupportedValueType,
			fmt.Sprintf("malformed number %q", s), WithCause(err))
	}
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return int64(f), nil
	}
	return f, nil
}
