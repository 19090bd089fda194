package document

import (
	"bytes"
	"errors"
)

var ErrTypeMismatch = errors.New("document: value type mismatch")

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindBytes
	KindDocument
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindDocument:
		return "document"
	case KindArray:
		return "array"
	default:
		return "unknown"
	}
}

// Value is one document value. Only the field matching Kind is meaningful.
type Value struct {
	Kind   Kind
	Bool   bool
	Int    int64
	Float  float64
	String string
	Bytes  []byte
	Doc    *Document
	Array  []Value
}

func NewNull() Value {
	return Value{Kind: KindNull}
}

func NewBool(v bool) Value {
	return Value{Kind: KindBool, Bool: v}
}

func NewInt(v int64) Value {
	return Value{Kind: KindInt, Int: v}
}

func NewFloat(v float64) Value {
	return Value{Kind: KindFloat, Float: v}
}

func NewString(v string) Value {
	return Value{Kind: KindString, String: v}
}

// NewBytes copies v.
func NewBytes(v []byte) Value {
	buf := make([]byte, len(v))
	copy(buf, v)
	return Value{Kind: KindBytes, Bytes: buf}
}

// NewDocument wraps d. A nil d becomes an empty document.
func NewDocument(d *Document) Value {
	if d == nil {
		d = New()
	}
	return Value{Kind: KindDocument, Doc: d}
}

func NewArray(items ...Value) Value {
	return Value{Kind: KindArray, Array: items}
}

// AsString returns the value as a string.
func (v Value) AsString() (string, error) {
	if v.Kind != KindString {
		return "", ErrTypeMismatch
	}
	return v.String, nil
}

// AsBool returns the value as a bool.
func (v Value) AsBool() (bool, error) {
	if v.Kind != KindBool {
		return false, ErrTypeMismatch
	}
	return v.Bool, nil
}

// AsInt returns integral numbers. Floats with a fractional part do not qualify.
func (v Value) AsInt() (int64, error) {
	switch v.Kind {
	case KindInt:
		return v.Int, nil
	case KindFloat:
		i := int64(v.Float)
		if float64(i) != v.Float {
			return 0, ErrTypeMismatch
		}
		return i, nil
	default:
		return 0, ErrTypeMismatch
	}
}

// AsFloat returns any number as float64.
func (v Value) AsFloat() (float64, error) {
	switch v.Kind {
	case KindFloat:
		return v.Float, nil
	case KindInt:
		return float64(v.Int), nil
	default:
		return 0, ErrTypeMismatch
	}
}

// AsBytes returns a copy of a bytes value.
func (v Value) AsBytes() ([]byte, error) {
	if v.Kind != KindBytes {
		return nil, ErrTypeMismatch
	}
	buf := make([]byte, len(v.Bytes))
	copy(buf, v.Bytes)
	return buf, nil
}

// AsDocument returns the embedded document.
func (v Value) AsDocument() (*Document, error) {
	if v.Kind != KindDocument {
		return nil, ErrTypeMismatch
	}
	if v.Doc == nil {
		return New(), nil
	}
	return v.Doc, nil
}

// AsArray returns the array items.
func (v Value) AsArray() ([]Value, error) {
	if v.Kind != KindArray {
		return nil, ErrTypeMismatch
	}
	return v.Array, nil
}

// IsNumber reports whether the value is an Int or a Float.
func (v Value) IsNumber() bool {
	return v.Kind == KindInt || v.Kind == KindFloat
}

// Equal compares two values. Int and Float compare numerically, since text
// encodings do not preserve the distinction for integral floats.
func (v Value) Equal(o Value) bool {
	if v.IsNumber() && o.IsNumber() {
		if v.Kind == KindInt && o.Kind == KindInt {
			return v.Int == o.Int
		}
		a, _ := v.AsFloat()
		b, _ := o.AsFloat()
		return a == b
	}
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNull:
		return true
	case KindBool:
		return v.Bool == o.Bool
	case KindString:
		return v.String == o.String
	case KindBytes:
		return bytes.Equal(v.Bytes, o.Bytes)
	case KindDocument:
		return v.Doc.Equal(o.Doc)
	case KindArray:
		if len(v.Array) != len(o.Array) {
			return false
		}
		for i := range v.Array {
			if !v.Array[i].Equal(o.Array[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
