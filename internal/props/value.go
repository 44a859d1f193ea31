package props

import (
	"fmt"
	"strconv"
)

// Kind identifies the variant held by a Value.
type Kind uint8

// Value kinds.
const (
	KindInvalid Kind = iota
	KindInt
	KindUint
	KindFloat
	KindString
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindUint:
		return "uint"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindList:
		return "list"
	default:
		return "invalid"
	}
}

// Value is a dynamically-typed property value. The zero Value is invalid.
// Values are immutable once constructed.
type Value struct {
	kind Kind
	i    int64
	u    uint64
	f    float64
	s    string
	list []Structure
}

// Int returns a signed integer value.
func Int(v int64) Value { return Value{kind: KindInt, i: v} }

// Uint returns an unsigned integer value.
func Uint(v uint64) Value { return Value{kind: KindUint, u: v} }

// Float returns a floating point value.
func Float(v float64) Value { return Value{kind: KindFloat, f: v} }

// String returns a string value.
func String(v string) Value { return Value{kind: KindString, s: v} }

// List returns a list-of-records value. The slice is copied.
func List(items ...Structure) Value {
	cp := make([]Structure, len(items))
	copy(cp, items)
	return Value{kind: KindList, list: cp}
}

// Kind reports the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// IsValid reports whether v holds a value.
func (v Value) IsValid() bool { return v.kind != KindInvalid }

// AsInt returns the signed integer held by v. No conversion from other kinds is performed.
func (v Value) AsInt() (int64, error) {
	if v.kind != KindInt {
		return 0, &TypeError{Want: KindInt, Got: v.kind}
	}
	return v.i, nil
}

// AsUint returns the unsigned integer held by v.
func (v Value) AsUint() (uint64, error) {
	if v.kind != KindUint {
		return 0, &TypeError{Want: KindUint, Got: v.kind}
	}
	return v.u, nil
}

// AsFloat returns the float held by v.
func (v Value) AsFloat() (float64, error) {
	if v.kind != KindFloat {
		return 0, &TypeError{Want: KindFloat, Got: v.kind}
	}
	return v.f, nil
}

// AsString returns the string held by v.
func (v Value) AsString() (string, error) {
	if v.kind != KindString {
		return "", &TypeError{Want: KindString, Got: v.kind}
	}
	return v.s, nil
}

// AsList returns the records held by v. The returned slice must not be modified.
func (v Value) AsList() ([]Structure, error) {
	if v.kind != KindList {
		return nil, &TypeError{Want: KindList, Got: v.kind}
	}
	return v.list, nil
}

// String formats the value for diagnostics.
func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindUint:
		return strconv.FormatUint(v.u, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindString:
		return strconv.Quote(v.s)
	case KindList:
		return fmt.Sprintf("<%d records>", len(v.list))
	default:
		return "<invalid>"
	}
}

// Interface returns v as a plain Go value, converting lists to []map[string]any.
// Used for JSON rendering of raw records.
func (v Value) Interface() any {
	switch v.kind {
	case KindInt:
		return v.i
	case KindUint:
		return v.u
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindList:
		out := make([]map[string]any, len(v.list))
		for i, s := range v.list {
			out[i] = s.Map()
		}
		return out
	default:
		return nil
	}
}

// TypeError reports a value of the wrong kind.
type TypeError struct {
	Want Kind
	Got  Kind
}

func (e *TypeError) Error() string {
	if e.Got == KindInvalid {
		return fmt.Sprintf("expected %s, value missing", e.Want)
	}
	return fmt.Sprintf("expected %s, got %s", e.Want, e.Got)
}
