package smp

import (
	"bytes"
	"fmt"
	"math"
	"sort"

	"github.com/fxamacker/cbor/v2"
)

// Kind identifies the variant held by a Value.
type Kind int

const (
	KindInvalid Kind = iota
	KindInt
	KindBool
	KindString
	KindBytes
	KindList
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return "invalid"
	}
}

// Value is one field value inside an SMP payload map.
// The zero Value has KindInvalid and encodes as CBOR null.
type Value struct {
	kind Kind
	num  int64
	flag bool
	str  string
	bin  []byte
	list []Value
	m    *Map
}

// Int returns a Value holding an integer.
func Int(v int64) Value { return Value{kind: KindInt, num: v} }

// Bool returns a Value holding a boolean.
func Bool(v bool) Value { return Value{kind: KindBool, flag: v} }

// Str returns a Value holding a text string.
func Str(v string) Value { return Value{kind: KindString, str: v} }

// Bytes returns a Value holding a byte string.
func Bytes(v []byte) Value { return Value{kind: KindBytes, bin: v} }

// List returns a Value holding a sequence of values.
func List(vs ...Value) Value { return Value{kind: KindList, list: vs} }

// MapValue returns a Value holding a nested field map.
func MapValue(m *Map) Value { return Value{kind: KindMap, m: m} }

// Kind returns the variant held by the value.
func (v Value) Kind() Kind { return v.kind }

// Int returns the integer variant.
func (v Value) Int() (int64, bool) {
	if v.kind != KindInt {
		return 0, false
	}
	return v.num, true
}

// Bool returns the boolean variant.
func (v Value) Bool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.flag, true
}

// Str returns the string variant.
func (v Value) Str() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.str, true
}

// Bytes returns the byte-string variant.
func (v Value) Bytes() ([]byte, bool) {
	if v.kind != KindBytes {
		return nil, false
	}
	return v.bin, true
}

// List returns the sequence variant.
func (v Value) List() ([]Value, bool) {
	if v.kind != KindList {
		return nil, false
	}
	return v.list, true
}

// Map returns the nested-map variant.
func (v Value) Map() (*Map, bool) {
	if v.kind != KindMap {
		return nil, false
	}
	return v.m, true
}

// Equal reports whether two values are structurally equal.
// Map comparison ignores field order.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindInt:
		return v.num == o.num
	case KindBool:
		return v.flag == o.flag
	case KindString:
		return v.str == o.str
	case KindBytes:
		return bytes.Equal(v.bin, o.bin)
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		return v.m.Equal(o.m)
	default:
		return true
	}
}

type mapEntry struct {
	key string
	val Value
}

// Map is an ordered collection of named payload fields. Insertion order
// is kept in memory; the wire encoding is canonical (sorted keys), and
// decoding a device payload yields keys in sorted order. Fields the
// client does not know about survive a decode untouched.
type Map struct {
	entries []mapEntry
}

// NewMap returns an empty field map.
func NewMap() *Map { return &Map{} }

// Set adds a field or replaces an existing one, keeping first-insertion
// order. Returns m so calls can be chained.
func (m *Map) Set(key string, v Value) *Map {
	for i := range m.entries {
		if m.entries[i].key == key {
			m.entries[i].val = v
			return m
		}
	}
	m.entries = append(m.entries, mapEntry{key: key, val: v})
	return m
}

// Get returns the field for key.
func (m *Map) Get(key string) (Value, bool) {
	if m == nil {
		return Value{}, false
	}
	for _, e := range m.entries {
		if e.key == key {
			return e.val, true
		}
	}
	return Value{}, false
}

// Has reports whether the field is present.
func (m *Map) Has(key string) bool {
	_, ok := m.Get(key)
	return ok
}

// Len returns the number of fields.
func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.entries)
}

// Keys returns the field names in map order.
func (m *Map) Keys() []string {
	if m == nil {
		return nil
	}
	out := make([]string, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.key
	}
	return out
}

// Equal reports whether two maps hold equal fields, ignoring order.
func (m *Map) Equal(o *Map) bool {
	if m == nil {
		return o.Len() == 0
	}
	if m.Len() != o.Len() {
		return false
	}
	for _, e := range m.entries {
		ov, ok := o.Get(e.key)
		if !ok || !e.val.Equal(ov) {
			return false
		}
	}
	return true
}

// Int returns the integer field for key.
func (m *Map) Int(key string) (int64, bool) {
	v, ok := m.Get(key)
	if !ok {
		return 0, false
	}
	return v.Int()
}

// Bool returns the boolean field for key.
func (m *Map) Bool(key string) (bool, bool) {
	v, ok := m.Get(key)
	if !ok {
		return false, false
	}
	return v.Bool()
}

// Str returns the string field for key.
func (m *Map) Str(key string) (string, bool) {
	v, ok := m.Get(key)
	if !ok {
		return "", false
	}
	return v.Str()
}

// Bytes returns the byte-string field for key.
func (m *Map) Bytes(key string) ([]byte, bool) {
	v, ok := m.Get(key)
	if !ok {
		return nil, false
	}
	return v.Bytes()
}

// List returns the sequence field for key.
func (m *Map) List(key string) ([]Value, bool) {
	v, ok := m.Get(key)
	if !ok {
		return nil, false
	}
	return v.List()
}

// MapAt returns the nested-map field for key.
func (m *Map) MapAt(key string) (*Map, bool) {
	v, ok := m.Get(key)
	if !ok {
		return nil, false
	}
	return v.Map()
}

var encMode = mustEncMode()

func mustEncMode() cbor.EncMode {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}

// encodeFields serializes a field map to CBOR. A nil map encodes as the
// empty CBOR map.
func encodeFields(m *Map) ([]byte, error) {
	return encMode.Marshal(m.toAny())
}

// decodeFields parses a CBOR payload into a field map. An empty payload
// is treated as an empty map; some devices acknowledge with no body.
func decodeFields(data []byte) (*Map, error) {
	if len(data) == 0 {
		return NewMap(), nil
	}
	var raw any
	if err := cbor.Unmarshal(data, &raw); err != nil {
		return nil, &MalformedError{Detail: "payload is not well-formed CBOR", Err: err}
	}
	v, err := fromAny(raw)
	if err != nil {
		return nil, err
	}
	m, ok := v.Map()
	if !ok {
		return nil, &MalformedError{Detail: fmt.Sprintf("payload is a CBOR %s, not a map", v.Kind())}
	}
	return m, nil
}

func (v Value) toAny() any {
	switch v.kind {
	case KindInt:
		return v.num
	case KindBool:
		return v.flag
	case KindString:
		return v.str
	case KindBytes:
		// A nil slice would encode as CBOR null instead of h''.
		if v.bin == nil {
			return []byte{}
		}
		return v.bin
	case KindList:
		out := make([]any, len(v.list))
		for i, e := range v.list {
			out[i] = e.toAny()
		}
		return out
	case KindMap:
		return v.m.toAny()
	default:
		return nil
	}
}

func (m *Map) toAny() map[string]any {
	if m == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(m.entries))
	for _, e := range m.entries {
		out[e.key] = e.val.toAny()
	}
	return out
}

func fromAny(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Value{}, nil
	case bool:
		return Bool(t), nil
	case int64:
		return Int(t), nil
	case uint64:
		if t > math.MaxInt64 {
			return Value{}, &MalformedError{Detail: fmt.Sprintf("integer %d overflows int64", t)}
		}
		return Int(int64(t)), nil
	case string:
		return Str(t), nil
	case []byte:
		return Bytes(t), nil
	case []any:
		out := make([]Value, len(t))
		for i, e := range t {
			v, err := fromAny(e)
			if err != nil {
				return Value{}, err
			}
			out[i] = v
		}
		return List(out...), nil
	case map[any]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			s, ok := k.(string)
			if !ok {
				return Value{}, &MalformedError{Detail: fmt.Sprintf("map key %v is not a string", k)}
			}
			keys = append(keys, s)
		}
		sort.Strings(keys)
		m := NewMap()
		for _, k := range keys {
			v, err := fromAny(t[k])
			if err != nil {
				return Value{}, err
			}
			m.Set(k, v)
		}
		return MapValue(m), nil
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		m := NewMap()
		for _, k := range keys {
			v, err := fromAny(t[k])
			if err != nil {
				return Value{}, err
			}
			m.Set(k, v)
		}
		return MapValue(m), nil
	default:
		return Value{}, &MalformedError{Detail: fmt.Sprintf("unsupported CBOR type %T", x)}
	}
}
