package doc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf16"
)

// Value is a sealed interface representing the attribute value types a
// document may hold. Only Null, String, Int, Float, Bool, Time, Array and
// Object implement it.
type Value interface {
	docValue() // Sealed - only these types implement it
}

// Null represents a JSON null. A null attribute is stored as such and is
// distinct from an absent one.
type Null struct{}

func (Null) docValue() {}

// MarshalJSON implements json.Marshaler for Null.
func (Null) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

// String is a string attribute value.
type String string

func (String) docValue() {}

// Int is an integer attribute value. Always int64, never float64.
type Int int64

func (Int) docValue() {}

// Float is a non-integral number. NaN and infinities are rejected.
// Integral values are normalized to Int when decoded, and both render
// identically in canonical JSON.
type Float float64

func (Float) docValue() {}

// Bool is a boolean attribute value.
type Bool bool

func (Bool) docValue() {}

// Time is a timestamp attribute value. It is always normalized to UTC.
type Time time.Time

func (Time) docValue() {}

// NewTime creates a Time value normalized to UTC.
func NewTime(t time.Time) Time {
	return Time(t.UTC())
}

// Std returns the value as a time.Time.
func (t Time) Std() time.Time {
	return time.Time(t)
}

// Array is an ordered list of values.
type Array []Value

func (Array) docValue() {}

// Object maps string keys to values. Nested documents are Objects.
// Use SortedKeys() for deterministic iteration.
type Object map[string]Value

func (Object) docValue() {}

// timeKey is the single key of the JSON object form of a Time value.
const timeKey = "$time"

// Pair is a key-value pair for typed Object construction.
type Pair struct {
	Key   string
	Value Value
}

// O is a shorthand for Pair.
// Example: NewObject(O("name", String("Pablo")), O("version", Int(0)))
func O(key string, value Value) Pair {
	return Pair{Key: key, Value: value}
}

// NewObject creates an Object from typed key-value pairs.
func NewObject(pairs ...Pair) Object {
	obj := make(Object, len(pairs))
	for _, p := range pairs {
		obj[p.Key] = p.Value
	}
	return obj
}

// SortedKeys returns keys in RFC 8785 canonical order (UTF-16 code units).
// Go's sort.Strings orders by UTF-8 bytes, which differs for some inputs.
func (obj Object) SortedKeys() []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysRFC8785)
	return keys
}

// compareKeysRFC8785 compares strings using UTF-16 code unit ordering
// as required by RFC 8785.
func compareKeysRFC8785(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	minLen := min(len(a16), len(b16))
	for i := 0; i < minLen; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}

	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	}
	return 0
}

// UnmarshalJSON implements json.Unmarshaler for Object.
func (obj *Object) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*obj = make(Object, len(raw))
	for k, v := range raw {
		val, err := unmarshalValue(v)
		if err != nil {
			return fmt.Errorf("object key %q: %w", k, err)
		}
		(*obj)[k] = val
	}
	return nil
}

// UnmarshalJSON implements json.Unmarshaler for Array.
func (arr *Array) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*arr = make(Array, len(raw))
	for i, v := range raw {
		val, err := unmarshalValue(v)
		if err != nil {
			return fmt.Errorf("array index %d: %w", i, err)
		}
		(*arr)[i] = val
	}
	return nil
}

// unmarshalValue decodes a JSON value into the matching Value type.
func unmarshalValue(data []byte) (Value, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("empty JSON value")
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		return String(s), nil

	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, err
		}
		return Bool(b), nil

	case 'n':
		return Null{}, nil

	case '[':
		var arr Array
		if err := json.Unmarshal(data, &arr); err != nil {
			return nil, err
		}
		return arr, nil

	case '{':
		var obj Object
		if err := json.Unmarshal(data, &obj); err != nil {
			return nil, err
		}
		if t, ok, err := timeFromObject(obj); ok || err != nil {
			return t, err
		}
		return obj, nil

	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return nil, err
		}
		return numberFromJSON(n)
	}
}

// timeFromObject recognizes the {"$time": "..."} form of a Time value.
func timeFromObject(obj Object) (Time, bool, error) {
	if len(obj) != 1 {
		return Time{}, false, nil
	}
	raw, ok := obj[timeKey]
	if !ok {
		return Time{}, false, nil
	}
	s, ok := raw.(String)
	if !ok {
		return Time{}, true, fmt.Errorf("%s must be a string, got %T", timeKey, raw)
	}
	t, err := time.Parse(time.RFC3339Nano, string(s))
	if err != nil {
		return Time{}, true, fmt.Errorf("parse %s: %w", timeKey, err)
	}
	return NewTime(t), true, nil
}

// MarshalJSON implements json.Marshaler for Object with sorted keys.
// NOTE: This is NOT canonical marshaling. Use MarshalCanonical for hashing.
func (obj Object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	for i, k := range obj.SortedKeys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyBytes, err := json.Marshal(k)
		if err != nil {
			return nil, fmt.Errorf("marshal key %q: %w", k, err)
		}
		buf.Write(keyBytes)
		buf.WriteByte(':')

		valBytes, err := MarshalValue(obj[k])
		if err != nil {
			return nil, fmt.Errorf("marshal value for key %q: %w", k, err)
		}
		buf.Write(valBytes)
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalJSON implements json.Marshaler for Time.
func (t Time) MarshalJSON() ([]byte, error) {
	return MarshalValue(t)
}

// MarshalValue marshals a Value to JSON bytes.
// NOTE: This is NOT canonical marshaling. Use MarshalCanonical for hashing.
func MarshalValue(v Value) ([]byte, error) {
	switch val := v.(type) {
	case Null:
		return []byte("null"), nil
	case String:
		return json.Marshal(string(val))
	case Int:
		return json.Marshal(int64(val))
	case Float:
		return formatFloat(float64(val))
	case Bool:
		return json.Marshal(bool(val))
	case Time:
		s, err := json.Marshal(formatTime(val.Std()))
		if err != nil {
			return nil, err
		}
		return []byte(`{"` + timeKey + `":` + string(s) + `}`), nil
	case Array:
		return marshalArray(val)
	case Object:
		return val.MarshalJSON()
	default:
		return nil, fmt.Errorf("unknown Value type: %T", v)
	}
}

func marshalArray(arr Array) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')

	for i, elem := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}
		elemBytes, err := MarshalValue(elem)
		if err != nil {
			return nil, fmt.Errorf("array[%d]: %w", i, err)
		}
		buf.Write(elemBytes)
	}

	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// formatTime renders a time in the one textual form used everywhere.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseValue deserializes JSON into a Value with strict validation.
func ParseValue(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}

	return FromGo(raw)
}

// FromGo converts a generic Go value into a Value. It accepts the shapes
// produced by encoding/json (with UseNumber), gopkg.in/yaml.v3 and CUE's
// Go decoding.
func FromGo(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case bool:
		return Bool(val), nil
	case string:
		return String(val), nil
	case int:
		return Int(int64(val)), nil
	case int64:
		return Int(val), nil
	case uint64:
		if val > 1<<63-1 {
			return nil, fmt.Errorf("number out of int64 range: %d", val)
		}
		return Int(int64(val)), nil
	case float64:
		return numberFromFloat(val)
	case float32:
		return numberFromFloat(float64(val))
	case json.Number:
		return numberFromJSON(val)
	case time.Time:
		return NewTime(val), nil
	case []any:
		arr := make(Array, len(val))
		for i, elem := range val {
			e, err := FromGo(elem)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			arr[i] = e
		}
		return arr, nil
	case map[string]any:
		obj := make(Object, len(val))
		for k, elem := range val {
			e, err := FromGo(elem)
			if err != nil {
				return nil, fmt.Errorf("object[%q]: %w", k, err)
			}
			obj[k] = e
		}
		if t, ok, err := timeFromObject(obj); ok || err != nil {
			return t, err
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// ToGo converts a Value into plain Go values (nil, string, int64, float64,
// bool, time.Time, []any, map[string]any). Used to hand arguments to CUE
// and YAML.
func ToGo(v Value) any {
	switch val := v.(type) {
	case Null:
		return nil
	case String:
		return string(val)
	case Int:
		return int64(val)
	case Float:
		return float64(val)
	case Bool:
		return bool(val)
	case Time:
		return val.Std()
	case Array:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = ToGo(e)
		}
		return out
	case Object:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = ToGo(e)
		}
		return out
	default:
		return nil
	}
}

// maxExactInt is the largest magnitude below which every integer is
// exactly representable as a float64.
const maxExactInt = 1 << 53

// numberFromFloat maps a float64 onto Int when it is integral and exact,
// and onto Float otherwise. YAML and CUE decode some integers as float64.
func numberFromFloat(f float64) (Value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("number is not finite: %v", f)
	}
	if f == math.Trunc(f) && math.Abs(f) <= maxExactInt {
		return Int(int64(f)), nil
	}
	return Float(f), nil
}

// numberFromJSON decodes a JSON number literal. Integer literals that fit
// in int64 stay exact; everything else goes through float64, which is how
// canonical output renders large floats such as 1e20.
func numberFromJSON(n json.Number) (Value, error) {
	s := string(n)
	if !strings.ContainsAny(s, ".eE") {
		if i, err := n.Int64(); err == nil {
			return Int(i), nil
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid number %s: %w", s, err)
	}
	return numberFromFloat(f)
}
