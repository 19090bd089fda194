package message

import (
	"fmt"
	"math"
	"reflect"
	"sort"

	"github.com/danmuck/wsbridge/internal/protocol/document"
	"github.com/danmuck/wsbridge/internal/protocol/serializer"
)

// ToDocument converts m into its document form. Fields are written in
// sorted name order. Slices, arrays and string-keyed maps of any element
// type are converted element by element; other unsupported Go types are
// written as their fmt representation, so the conversion never fails.
//
// Containers nested deeper than serializer.MaxDepth, including a message
// that contains itself, are cut off and written as null.
func ToDocument(m *Message) *document.Document {
	return toDocument(m, 1)
}

func toDocument(m *Message, depth int) *document.Document {
	doc := document.New()
	if m == nil {
		return doc
	}
	for _, name := range m.Names() {
		doc.Set(name, toValue(m.Fields[name], depth+1))
	}
	return doc
}

// FromDocument converts a document fragment into a Message with an empty
// Type. Nested documents become *Message and arrays become []any.
func FromDocument(doc *document.Document) *Message {
	m := New("")
	doc.Range(func(key string, v document.Value) bool {
		m.Fields[key] = fromValue(v)
		return true
	})
	return m
}

// toValue converts v, where depth is the nesting level a container value
// would occupy.
func toValue(v any, depth int) document.Value {
	deep := depth > serializer.MaxDepth
	switch x := v.(type) {
	case nil:
		return document.NewNull()
	case bool:
		return document.NewBool(x)
	case int:
		return document.NewInt(int64(x))
	case int8:
		return document.NewInt(int64(x))
	case int16:
		return document.NewInt(int64(x))
	case int32:
		return document.NewInt(int64(x))
	case int64:
		return document.NewInt(x)
	case uint:
		return unsignedValue(uint64(x))
	case uint8:
		return document.NewInt(int64(x))
	case uint16:
		return document.NewInt(int64(x))
	case uint32:
		return document.NewInt(int64(x))
	case uint64:
		return unsignedValue(x)
	case float32:
		return document.NewFloat(float64(x))
	case float64:
		return document.NewFloat(x)
	case string:
		return document.NewString(x)
	case []byte:
		return document.NewBytes(x)
	case *Message:
		if deep {
			return document.NewNull()
		}
		return document.NewDocument(toDocument(x, depth))
	case Message:
		if deep {
			return document.NewNull()
		}
		return document.NewDocument(toDocument(&x, depth))
	case []any:
		if deep {
			return document.NewNull()
		}
		items := make([]document.Value, len(x))
		for i, item := range x {
			items[i] = toValue(item, depth+1)
		}
		return document.NewArray(items...)
	default:
		return reflectValue(reflect.ValueOf(v), depth)
	}
}

// reflectValue handles named scalar types, pointers, and slices, arrays and
// string-keyed maps of any element type.
func reflectValue(rv reflect.Value, depth int) document.Value {
	deep := depth > serializer.MaxDepth
	switch rv.Kind() {
	case reflect.Bool:
		return document.NewBool(rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return document.NewInt(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return unsignedValue(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return document.NewFloat(rv.Float())
	case reflect.String:
		return document.NewString(rv.String())
	case reflect.Pointer, reflect.Interface:
		// Each dereference counts as a level so pointer cycles stop too.
		if rv.IsNil() || deep {
			return document.NewNull()
		}
		return toValue(rv.Elem().Interface(), depth+1)
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			out := make([]byte, rv.Len())
			for i := range out {
				out[i] = byte(rv.Index(i).Uint())
			}
			return document.NewBytes(out)
		}
		if deep {
			return document.NewNull()
		}
		items := make([]document.Value, rv.Len())
		for i := range items {
			items[i] = toValue(rv.Index(i).Interface(), depth+1)
		}
		return document.NewArray(items...)
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		if rv.IsNil() {
			return document.NewNull()
		}
		if deep {
			return document.NewNull()
		}
		keys := rv.MapKeys()
		sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
		doc := document.New()
		for _, k := range keys {
			doc.Set(k.String(), toValue(rv.MapIndex(k).Interface(), depth+1))
		}
		return document.NewDocument(doc)
	}
	return document.NewString(fmt.Sprint(rv.Interface()))
}

func unsignedValue(v uint64) document.Value {
	if v > math.MaxInt64 {
		return document.NewFloat(float64(v))
	}
	return document.NewInt(int64(v))
}

func fromValue(v document.Value) any {
	switch v.Kind {
	case document.KindBool:
		return v.Bool
	case document.KindInt:
		return v.Int
	case document.KindFloat:
		return v.Float
	case document.KindString:
		return v.String
	case document.KindBytes:
		out := make([]byte, len(v.Bytes))
		copy(out, v.Bytes)
		return out
	case document.KindDocument:
		return FromDocument(v.Doc)
	case document.KindArray:
		out := make([]any, len(v.Array))
		for i, item := range v.Array {
			out[i] = fromValue(item)
		}
		return out
	default:
		return nil
	}
}
