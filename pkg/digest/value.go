package digest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindMap
	KindList
)

// Value is a tagged tree of analysis data: a scalar, a string-keyed mapping
// or a sequence. Mappings are serialized with sorted keys at every depth.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	m    map[string]Value
	l    []Value
}

func Null() Value { return Value{kind: KindNull} }
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }
func Int(i int64) Value { return Value{kind: KindInt, i: i} }
func String(s string) Value { return Value{kind: KindString, s: s} }
func List(items ...Value) Value { return Value{kind: KindList, l: items} }

// Float normalizes integral floats to Int so 3 and 3.0 canonicalize alike.
func Float(f float64) Value {
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return Int(int64(f))
	}
	return Value{kind: KindFloat, f: f}
}

// Map copies m into a mapping Value.
func Map(m map[string]Value) Value {
	out := make(map[string]Value, len(m))
	for k, v := range m {
		out[k] = v
	}
	return Value{kind: KindMap, m: out}
}

func (v Value) Kind() Kind { return v.kind }

// Keys returns the mapping keys in canonical order.
func (v Value) Keys() []string {
	keys := make([]string, 0, len(v.m))
	for k := range v.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FromAny converts decoded JSON (or equivalent Go values) into a Value.
// Structs, channels, functions and non-finite floats are rejected.
func FromAny(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case int:
		return Int(int64(t)), nil
	case int32:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case uint32:
		return Int(int64(t)), nil
	case float32:
		return finiteFloat(float64(t))
	case float64:
		return finiteFloat(t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return Int(i), nil
		}
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("invalid number %q: %w", t.String(), err)
		}
		return finiteFloat(f)
	case map[string]any:
		out := make(map[string]Value, len(t))
		for k, item := range t {
			cv, err := FromAny(item)
			if err != nil {
				return Value{}, fmt.Errorf("key %q: %w", k, err)
			}
			out[k] = cv
		}
		return Value{kind: KindMap, m: out}, nil
	case []any:
		out := make([]Value, len(t))
		for i, item := range t {
			cv, err := FromAny(item)
			if err != nil {
				return Value{}, fmt.Errorf("index %d: %w", i, err)
			}
			out[i] = cv
		}
		return Value{kind: KindList, l: out}, nil
	}
	return fromReflect(reflect.ValueOf(x))
}

func fromReflect(rv reflect.Value) (Value, error) {
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Int(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return finiteFloat(float64(u))
		}
		return Int(int64(u)), nil
	case reflect.String:
		return String(rv.String()), nil
	case reflect.Bool:
		return Bool(rv.Bool()), nil
	case reflect.Float32, reflect.Float64:
		return finiteFloat(rv.Float())
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return Null(), nil
		}
		return FromAny(rv.Elem().Interface())
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return Value{}, fmt.Errorf("unsupported map key type %s", rv.Type().Key())
		}
		out := make(map[string]Value, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			cv, err := FromAny(iter.Value().Interface())
			if err != nil {
				return Value{}, fmt.Errorf("key %q: %w", iter.Key().String(), err)
			}
			out[iter.Key().String()] = cv
		}
		return Value{kind: KindMap, m: out}, nil
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return Null(), nil
		}
		out := make([]Value, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			cv, err := FromAny(rv.Index(i).Interface())
			if err != nil {
				return Value{}, fmt.Errorf("index %d: %w", i, err)
			}
			out[i] = cv
		}
		return Value{kind: KindList, l: out}, nil
	}
	return Value{}, fmt.Errorf("unsupported value of type %s", rv.Type())
}

func finiteFloat(f float64) (Value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Value{}, fmt.Errorf("non-finite number %v", f)
	}
	return Float(f), nil
}

// appendCanonical writes v as compact JSON with sorted mapping keys.
func appendCanonical(buf []byte, v Value) ([]byte, error) {
	switch v.kind {
	case KindNull:
		return append(buf, "null"...), nil
	case KindBool:
		return strconv.AppendBool(buf, v.b), nil
	case KindInt:
		return strconv.AppendInt(buf, v.i, 10), nil
	case KindFloat:
		b, err := json.Marshal(v.f)
		if err != nil {
			return nil, err
		}
		return append(buf, b...), nil
	case KindString:
		return appendString(buf, v.s)
	case KindList:
		buf = append(buf, '[')
		for i, item := range v.l {
			if i > 0 {
				buf = append(buf, ',')
			}
			var err error
			if buf, err = appendCanonical(buf, item); err != nil {
				return nil, err
			}
		}
		return append(buf, ']'), nil
	case KindMap:
		buf = append(buf, '{')
		for i, k := range v.Keys() {
			if i > 0 {
				buf = append(buf, ',')
			}
			var err error
			if buf, err = appendString(buf, k); err != nil {
				return nil, err
			}
			buf = append(buf, ':')
			if buf, err = appendCanonical(buf, v.m[k]); err != nil {
				return nil, err
			}
		}
		return append(buf, '}'), nil
	}
	return nil, fmt.Errorf("unknown value kind %d", v.kind)
}

// appendString quotes s without HTML escaping.
func appendString(buf []byte, s string) ([]byte, error) {
	var out bytes.Buffer
	enc := json.NewEncoder(&out)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	return append(buf, bytes.TrimSuffix(out.Bytes(), []byte("\n"))...), nil
}
