package serializer

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/danmuck/wsbridge/internal/protocol/document"
	"github.com/danmuck/wsbridge/internal/protocol/frame"
	jsoniter "github.com/json-iterator/go"
)

var jsonAPI = jsoniter.Config{
	EscapeHTML:             false,
	ValidateJsonRawMessage: true,
}.Froze()

// JSON is the text wire format. Key order is preserved in both directions.
// Bytes values are written as base64 strings and read back as strings.
type JSON struct{}

func (JSON) Name() string {
	return NameJSON
}

func (JSON) FrameKind() frame.Kind {
	return frame.KindText
}

func (JSON) Serialize(doc *document.Document) ([]byte, error) {
	stream := jsonAPI.BorrowStream(nil)
	defer jsonAPI.ReturnStream(stream)

	if err := writeJSONDocument(stream, doc); err != nil {
		return nil, err
	}
	if stream.Error != nil {
		return nil, fmt.Errorf("serializer: json encode: %w", stream.Error)
	}
	buf := stream.Buffer()
	out := make([]byte, len(buf))
	copy(out, buf)
	return out, nil
}

func (JSON) Deserialize(data []byte) (*document.Document, error) {
	iter := jsonAPI.BorrowIterator(data)
	defer jsonAPI.ReturnIterator(iter)

	if next := iter.WhatIsNext(); next != jsoniter.ObjectValue {
		return nil, malformed(NameJSON, errors.New("top-level value is not an object"))
	}
	doc := readJSONDocument(iter, 1)
	if iter.Error != nil {
		return nil, malformed(NameJSON, iter.Error)
	}
	// Anything but whitespace after the object is trailing data.
	iter.WhatIsNext()
	if iter.Error != io.EOF {
		if iter.Error == nil {
			return nil, malformed(NameJSON, errors.New("trailing data after object"))
		}
		return nil, malformed(NameJSON, iter.Error)
	}
	return doc, nil
}

func writeJSONDocument(stream *jsoniter.Stream, doc *document.Document) error {
	stream.WriteObjectStart()
	first := true
	var err error
	doc.Range(func(key string, v document.Value) bool {
		if !first {
			stream.WriteMore()
		}
		first = false
		stream.WriteObjectField(key)
		err = writeJSONValue(stream, v)
		return err == nil
	})
	if err != nil {
		return err
	}
	stream.WriteObjectEnd()
	return nil
}

func writeJSONValue(stream *jsoniter.Stream, v document.Value) error {
	switch v.Kind {
	case document.KindNull:
		stream.WriteNil()
	case document.KindBool:
		stream.WriteBool(v.Bool)
	case document.KindInt:
		stream.WriteInt64(v.Int)
	case document.KindFloat:
		if math.IsNaN(v.Float) || math.IsInf(v.Float, 0) {
			return fmt.Errorf("%w: json float %v", ErrUnsupportedValue, v.Float)
		}
		stream.WriteFloat64(v.Float)
	case document.KindString:
		stream.WriteString(v.String)
	case document.KindBytes:
		stream.WriteString(base64.StdEncoding.EncodeToString(v.Bytes))
	case document.KindDocument:
		return writeJSONDocument(stream, v.Doc)
	case document.KindArray:
		stream.WriteArrayStart()
		for i, item := range v.Array {
			if i > 0 {
				stream.WriteMore()
			}
			if err := writeJSONValue(stream, item); err != nil {
				return err
			}
		}
		stream.WriteArrayEnd()
	default:
		return fmt.Errorf("%w: kind %s", ErrUnsupportedValue, v.Kind)
	}
	return nil
}

func readJSONDocument(iter *jsoniter.Iterator, depth int) *document.Document {
	doc := document.New()
	if depth > MaxDepth {
		iter.ReportError("readJSONDocument", "nesting too deep")
		return doc
	}
	iter.ReadObjectCB(func(it *jsoniter.Iterator, key string) bool {
		v := readJSONValue(it, depth)
		if it.Error != nil {
			return false
		}
		doc.Set(key, v)
		return true
	})
	return doc
}

func readJSONValue(iter *jsoniter.Iterator, depth int) document.Value {
	switch iter.WhatIsNext() {
	case jsoniter.ObjectValue:
		return document.NewDocument(readJSONDocument(iter, depth+1))
	case jsoniter.ArrayValue:
		if depth+1 > MaxDepth {
			iter.ReportError("readJSONValue", "nesting too deep")
			return document.NewNull()
		}
		items := make([]document.Value, 0)
		iter.ReadArrayCB(func(it *jsoniter.Iterator) bool {
			items = append(items, readJSONValue(it, depth+1))
			return it.Error == nil
		})
		return document.NewArray(items...)
	case jsoniter.StringValue:
		return document.NewString(iter.ReadString())
	case jsoniter.NumberValue:
		return parseJSONNumber(iter, string(iter.ReadNumber()))
	case jsoniter.BoolValue:
		return document.NewBool(iter.ReadBool())
	case jsoniter.NilValue:
		iter.ReadNil()
		return document.NewNull()
	default:
		iter.ReportError("readJSONValue", "unexpected token")
		return document.NewNull()
	}
}

func parseJSONNumber(iter *jsoniter.Iterator, raw string) document.Value {
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return document.NewInt(i)
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsInf(f, 0) {
		iter.ReportError("parseJSONNumber", "invalid number "+strconv.Quote(raw))
		return document.NewNull()
	}
	return document.NewFloat(f)
}
