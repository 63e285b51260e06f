// Package caps models W3C automation-session capabilities: a JSON-compatible
// tagged value type, the capability dictionary built on it, vendor prefix
// handling, and settings extraction.
//
// Capability values arrive from untrusted clients as arbitrary JSON. Value
// keeps them typed (null, bool, number, string, object, array) so prefixing
// and merging never lose track of what they are holding.
package caps

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Kind discriminates the JSON-compatible variants a Value can hold.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindObject
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "boolean"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Value is a single JSON-compatible capability value.
// The zero Value is JSON null.
type Value struct {
	kind Kind
	b    bool
	num  float64
	str  string
	obj  Dict
	arr  []Value
}

// Null returns the null value.
func Null() Value { return Value{} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Number wraps a number. JSON numbers are float64 throughout.
func Number(n float64) Value { return Value{kind: KindNumber, num: n} }

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Object wraps a dictionary. The Value references d; callers that need
// isolation should pass d.Clone().
func Object(d Dict) Value { return Value{kind: KindObject, obj: d} }

// Array wraps a sequence of values.
func Array(items ...Value) Value { return Value{kind: KindArray, arr: items} }

// Kind reports which variant the value holds.
func (v Value) Kind() Kind { return v.kind }

// AsBool returns the boolean content, and whether the value is a boolean.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsNumber returns the numeric content, and whether the value is a number.
func (v Value) AsNumber() (float64, bool) { return v.num, v.kind == KindNumber }

// AsString returns the string content, and whether the value is a string.
func (v Value) AsString() (string, bool) { return v.str, v.kind == KindString }

// AsObject returns the dictionary content, and whether the value is an object.
func (v Value) AsObject() (Dict, bool) { return v.obj, v.kind == KindObject }

// AsArray returns the sequence content, and whether the value is an array.
func (v Value) AsArray() ([]Value, bool) { return v.arr, v.kind == KindArray }

// Clone returns a structural copy. Objects and arrays are copied all the way
// down; mutating the clone never affects the original.
func (v Value) Clone() Value {
	switch v.kind {
	case KindObject:
		return Value{kind: KindObject, obj: v.obj.Clone()}
	case KindArray:
		if v.arr == nil {
			return v
		}
		arr := make([]Value, len(v.arr))
		for i, item := range v.arr {
			arr[i] = item.Clone()
		}
		return Value{kind: KindArray, arr: arr}
	default:
		return v
	}
}

// Equal reports deep structural equality.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindNumber:
		return v.num == o.num
	case KindString:
		return v.str == o.str
	case KindObject:
		return v.obj.Equal(o.obj)
	case KindArray:
		if len(v.arr) != len(o.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(o.arr[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// Interface converts the value to plain Go data (nil, bool, float64, string,
// map[string]any, []any), the shape encoding/json produces.
func (v Value) Interface() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		return v.num
	case KindString:
		return v.str
	case KindObject:
		out := make(map[string]any, len(v.obj))
		for k, item := range v.obj {
			out[k] = item.Interface()
		}
		return out
	case KindArray:
		out := make([]any, len(v.arr))
		for i, item := range v.arr {
			out[i] = item.Interface()
		}
		return out
	default:
		return nil
	}
}

// FromInterface builds a Value from plain Go data. Accepts the types
// encoding/json and yaml.v3 produce; anything else is an error.
func FromInterface(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case float64:
		return Number(t), nil
	case float32:
		return Number(float64(t)), nil
	case int:
		return Number(float64(t)), nil
	case int64:
		return Number(float64(t)), nil
	case uint64:
		return Number(float64(t)), nil
	case json.Number:
		n, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("invalid number %q: %w", t.String(), err)
		}
		return Number(n), nil
	case string:
		return String(t), nil
	case map[string]any:
		d := make(Dict, len(t))
		for k, item := range t {
			v, err := FromInterface(item)
			if err != nil {
				return Value{}, fmt.Errorf("key %q: %w", k, err)
			}
			d[k] = v
		}
		return Object(d), nil
	case []any:
		arr := make([]Value, len(t))
		for i, item := range t {
			v, err := FromInterface(item)
			if err != nil {
				return Value{}, fmt.Errorf("index %d: %w", i, err)
			}
			arr[i] = v
		}
		return Array(arr...), nil
	default:
		return Value{}, fmt.Errorf("unsupported value type %T", x)
	}
}

// MarshalJSON encodes the value as the JSON it represents.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// UnmarshalJSON decodes arbitrary JSON into the matching variant.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := FromInterface(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// String renders the value as compact JSON, for logs and error messages.
func (v Value) String() string {
	data, err := v.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("<invalid value: %v>", err)
	}
	return string(data)
}

// Dict is a capability dictionary: unique string keys, arbitrary
// JSON-compatible values. A nil Dict reads as empty.
type Dict map[string]Value

// Clone returns a structural copy of the dictionary, nil in, nil out.
func (d Dict) Clone() Dict {
	if d == nil {
		return nil
	}
	out := make(Dict, len(d))
	for k, v := range d {
		out[k] = v.Clone()
	}
	return out
}

// Equal reports deep equality. Nil and empty compare equal.
func (d Dict) Equal(o Dict) bool {
	if len(d) != len(o) {
		return false
	}
	for k, v := range d {
		ov, ok := o[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// SortedKeys returns the dictionary's keys in lexical order, for
// deterministic iteration in errors and logs.
func (d Dict) SortedKeys() []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ParseDict decodes a JSON object into a Dict.
func ParseDict(data []byte) (Dict, error) {
	v, err := ParseValue(data)
	if err != nil {
		return nil, err
	}
	d, ok := v.AsObject()
	if !ok {
		return nil, fmt.Errorf("expected a JSON object, got %s", v.Kind())
	}
	return d, nil
}

// ParseValue decodes arbitrary JSON into a Value.
func ParseValue(data []byte) (Value, error) {
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return Value{}, err
	}
	return FromInterface(raw)
}
