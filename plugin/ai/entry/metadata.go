package entry

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	ctxerrors "github.com/hrygo/contextbudget/internal/errors"
)

// Kind is the closed set of value kinds a metadata bag may hold.
type Kind int

const (
	KindString Kind = iota
	KindNumber
	KindBool
	KindStrings
)

// Value is a single metadata value.
type Value struct {
	kind    Kind
	str     string
	num     float64
	boolean bool
	list    []string
}

// String creates a string value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Number creates a numeric value.
func Number(n float64) Value { return Value{kind: KindNumber, num: n} }

// Bool creates a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, boolean: b} }

// Strings creates a string list value.
func Strings(items ...string) Value {
	list := make([]string, len(items))
	copy(list, items)
	return Value{kind: KindStrings, list: list}
}

// Kind returns the value kind.
func (v Value) Kind() Kind { return v.kind }

// Str returns the string payload.
func (v Value) Str() string { return v.str }

// Num returns the numeric payload.
func (v Value) Num() float64 { return v.num }

// Bool returns the boolean payload.
func (v Value) Bool() bool { return v.boolean }

// List returns a copy of the list payload.
func (v Value) List() []string {
	out := make([]string, len(v.list))
	copy(out, v.list)
	return out
}

// Terms returns the value as a set of normalized comparable terms.
func (v Value) Terms() []string {
	switch v.kind {
	case KindString:
		return []string{normalizeTerm(v.str)}
	case KindNumber:
		return []string{fmt.Sprintf("%g", v.num)}
	case KindBool:
		return []string{fmt.Sprintf("%t", v.boolean)}
	case KindStrings:
		terms := make([]string, 0, len(v.list))
		for _, s := range v.list {
			terms = append(terms, normalizeTerm(s))
		}
		return terms
	}
	return nil
}

// Any returns the payload as a plain Go value.
func (v Value) Any() any {
	switch v.kind {
	case KindNumber:
		return v.num
	case KindBool:
		return v.boolean
	case KindStrings:
		return v.List()
	default:
		return v.str
	}
}

// MarshalJSON encodes the payload without kind information.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Any())
}

func normalizeTerm(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Metadata is a typed key/value bag owned by the caller.
type Metadata map[string]Value

// Clone returns a copy of the bag.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		if v.kind == KindStrings {
			v = Strings(v.list...)
		}
		out[k] = v
	}
	return out
}

// Merge shallow-merges partial into a copy of m; keys in partial win.
func (m Metadata) Merge(partial Metadata) Metadata {
	out := m.Clone()
	if out == nil {
		out = make(Metadata, len(partial))
	}
	for k, v := range partial.Clone() {
		out[k] = v
	}
	return out
}

// Keys returns the bag's keys in sorted order.
func (m Metadata) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FromMap validates an untyped map at the ingestion boundary.
// Supported payloads: string, bool, all Go numeric kinds, []string and []any of strings.
func FromMap(raw map[string]any) (Metadata, error) {
	if raw == nil {
		return nil, nil
	}
	out := make(Metadata, len(raw))
	for k, v := range raw {
		val, err := valueOf(v)
		if err != nil {
			return nil, ctxerrors.InvalidArgument(fmt.Sprintf("metadata key %q: %v", k, err)).
				WithDetail("key", k)
		}
		out[k] = val
	}
	return out, nil
}

func valueOf(v any) (Value, error) {
	switch t := v.(type) {
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case int:
		return Number(float64(t)), nil
	case int32:
		return Number(float64(t)), nil
	case int64:
		return Number(float64(t)), nil
	case uint:
		return Number(float64(t)), nil
	case uint32:
		return Number(float64(t)), nil
	case uint64:
		return Number(float64(t)), nil
	case float32:
		return Number(float64(t)), nil
	case float64:
		return Number(t), nil
	case []string:
		return Strings(t...), nil
	case []any:
		items := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return Value{}, fmt.Errorf("list items must be strings, got %T", item)
			}
			items = append(items, s)
		}
		return Strings(items...), nil
	default:
		return Value{}, fmt.Errorf("unsupported value type %T", v)
	}
}
