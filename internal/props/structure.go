// Package props models the dynamically-typed property records exposed by
// media graph elements.
//
// A Structure is a named, immutable key/value record. Values are a closed
// variant (see Kind) and accessors never coerce between kinds: reading an
// unsigned counter that was stored as a float is an error, not a truncation.
package props

import (
	"errors"
	"sort"
)

// ErrFieldMissing is returned when a requested field is absent.
var ErrFieldMissing = errors.New("field missing")

// Structure is an immutable named record of property values.
type Structure struct {
	name   string
	fields map[string]Value
}

// Field is a key/value pair used to build a Structure.
type Field struct {
	Key   string
	Value Value
}

// F is shorthand for constructing a Field.
func F(key string, value Value) Field {
	return Field{Key: key, Value: value}
}

// NewStructure builds a record. Later fields with a duplicate key win.
func NewStructure(name string, fields ...Field) Structure {
	m := make(map[string]Value, len(fields))
	for _, f := range fields {
		m[f.Key] = f.Value
	}
	return Structure{name: name, fields: m}
}

// Name returns the record name.
func (s Structure) Name() string { return s.name }

// Len returns the number of fields.
func (s Structure) Len() int { return len(s.fields) }

// Get returns the value stored under key.
func (s Structure) Get(key string) (Value, bool) {
	v, ok := s.fields[key]
	return v, ok
}

// Has reports whether key is present.
func (s Structure) Has(key string) bool {
	_, ok := s.fields[key]
	return ok
}

// Keys returns the field names in sorted order.
func (s Structure) Keys() []string {
	keys := make([]string, 0, len(s.fields))
	for k := range s.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// With returns a copy of s with key set to value.
func (s Structure) With(key string, value Value) Structure {
	m := make(map[string]Value, len(s.fields)+1)
	for k, v := range s.fields {
		m[k] = v
	}
	m[key] = value
	return Structure{name: s.name, fields: m}
}

// Without returns a copy of s with key removed.
func (s Structure) Without(key string) Structure {
	m := make(map[string]Value, len(s.fields))
	for k, v := range s.fields {
		if k != key {
			m[k] = v
		}
	}
	return Structure{name: s.name, fields: m}
}

// Map converts the record to plain Go values for JSON rendering.
func (s Structure) Map() map[string]any {
	out := make(map[string]any, len(s.fields))
	for k, v := range s.fields {
		out[k] = v.Interface()
	}
	return out
}

// GetInt reads a signed integer field.
func (s Structure) GetInt(key string) (int64, error) {
	v, ok := s.fields[key]
	if !ok {
		return 0, ErrFieldMissing
	}
	return v.AsInt()
}

// GetUint reads an unsigned integer field.
func (s Structure) GetUint(key string) (uint64, error) {
	v, ok := s.fields[key]
	if !ok {
		return 0, ErrFieldMissing
	}
	return v.AsUint()
}

// GetFloat reads a float field.
func (s Structure) GetFloat(key string) (float64, error) {
	v, ok := s.fields[key]
	if !ok {
		return 0, ErrFieldMissing
	}
	return v.AsFloat()
}

// GetString reads a string field.
func (s Structure) GetString(key string) (string, error) {
	v, ok := s.fields[key]
	if !ok {
		return "", ErrFieldMissing
	}
	return v.AsString()
}

// GetList reads a list-of-records field.
func (s Structure) GetList(key string) ([]Structure, error) {
	v, ok := s.fields[key]
	if !ok {
		return nil, ErrFieldMissing
	}
	return v.AsList()
}
