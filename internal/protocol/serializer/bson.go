package serializer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/danmuck/wsbridge/internal/protocol/document"
	"github.com/danmuck/wsbridge/internal/protocol/frame"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// BSON is the binary wire format. Integers that fit in 32 bits are written
// as int32, wider ones as int64; bytes use the generic binary subtype.
type BSON struct{}

func (BSON) Name() string {
	return NameBSON
}

func (BSON) FrameKind() frame.Kind {
	return frame.KindBinary
}

func (BSON) Serialize(doc *document.Document) ([]byte, error) {
	d, err := toBSONDocument(doc, 1)
	if err != nil {
		return nil, err
	}
	out, err := bson.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("serializer: bson encode: %w", err)
	}
	return out, nil
}

// Deserialize walks the raw bytes level by level, so nesting past MaxDepth
// is rejected before any deeper level is read.
func (BSON) Deserialize(data []byte) (doc *document.Document, err error) {
	defer func() {
		if r := recover(); r != nil {
			doc = nil
			err = malformed(NameBSON, fmt.Errorf("decoder panic: %v", r))
		}
	}()

	if len(data) < 5 {
		return nil, malformed(NameBSON, errors.New("document shorter than 5 bytes"))
	}
	if n := binary.LittleEndian.Uint32(data[:4]); int64(n) != int64(len(data)) {
		return nil, malformed(NameBSON, fmt.Errorf("length prefix %d does not match %d bytes", n, len(data)))
	}
	if data[len(data)-1] != 0x00 {
		return nil, malformed(NameBSON, errors.New("missing document terminator"))
	}
	out, err := fromBSONRaw(bson.Raw(data), 1)
	if err != nil {
		return nil, malformed(NameBSON, err)
	}
	return out, nil
}

func toBSONDocument(doc *document.Document, depth int) (bson.D, error) {
	if depth > MaxDepth {
		return nil, fmt.Errorf("%w: nesting too deep", ErrUnsupportedValue)
	}
	out := make(bson.D, 0, doc.Len())
	var err error
	doc.Range(func(key string, v document.Value) bool {
		var bv any
		bv, err = toBSONValue(v, depth)
		if err != nil {
			return false
		}
		out = append(out, bson.E{Key: key, Value: bv})
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func toBSONValue(v document.Value, depth int) (any, error) {
	switch v.Kind {
	case document.KindNull:
		return nil, nil
	case document.KindBool:
		return v.Bool, nil
	case document.KindInt:
		if v.Int >= math.MinInt32 && v.Int <= math.MaxInt32 {
			return int32(v.Int), nil
		}
		return v.Int, nil
	case document.KindFloat:
		return v.Float, nil
	case document.KindString:
		return v.String, nil
	case document.KindBytes:
		return primitive.Binary{Subtype: 0x00, Data: v.Bytes}, nil
	case document.KindDocument:
		return toBSONDocument(v.Doc, depth+1)
	case document.KindArray:
		out := make(bson.A, 0, len(v.Array))
		for _, item := range v.Array {
			bv, err := toBSONValue(item, depth+1)
			if err != nil {
				return nil, err
			}
			out = append(out, bv)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: kind %s", ErrUnsupportedValue, v.Kind)
	}
}

func fromBSONRaw(raw bson.Raw, depth int) (*document.Document, error) {
	if depth > MaxDepth {
		return nil, errors.New("nesting too deep")
	}
	elems, err := raw.Elements()
	if err != nil {
		return nil, err
	}
	doc := document.New()
	for _, e := range elems {
		key, err := e.KeyErr()
		if err != nil {
			return nil, err
		}
		rv, err := e.ValueErr()
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", key, err)
		}
		v, err := fromBSONRawValue(rv, depth)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", key, err)
		}
		doc.Set(key, v)
	}
	return doc, nil
}

func fromBSONRawValue(rv bson.RawValue, depth int) (document.Value, error) {
	switch rv.Type {
	case bsontype.Null, bsontype.Undefined:
		return document.NewNull(), nil
	case bsontype.Boolean:
		b, ok := rv.BooleanOK()
		if !ok {
			return document.Value{}, invalidBSON(rv)
		}
		return document.NewBool(b), nil
	case bsontype.Int32:
		i, ok := rv.Int32OK()
		if !ok {
			return document.Value{}, invalidBSON(rv)
		}
		return document.NewInt(int64(i)), nil
	case bsontype.Int64:
		i, ok := rv.Int64OK()
		if !ok {
			return document.Value{}, invalidBSON(rv)
		}
		return document.NewInt(i), nil
	case bsontype.Double:
		f, ok := rv.DoubleOK()
		if !ok {
			return document.Value{}, invalidBSON(rv)
		}
		return document.NewFloat(f), nil
	case bsontype.String:
		str, ok := rv.StringValueOK()
		if !ok {
			return document.Value{}, invalidBSON(rv)
		}
		return document.NewString(str), nil
	case bsontype.Binary:
		_, data, ok := rv.BinaryOK()
		if !ok {
			return document.Value{}, invalidBSON(rv)
		}
		return document.NewBytes(append([]byte(nil), data...)), nil
	case bsontype.DateTime:
		ms, ok := rv.DateTimeOK()
		if !ok {
			return document.Value{}, invalidBSON(rv)
		}
		return document.NewInt(ms), nil
	case bsontype.EmbeddedDocument:
		sub, ok := rv.DocumentOK()
		if !ok {
			return document.Value{}, invalidBSON(rv)
		}
		d, err := fromBSONRaw(sub, depth+1)
		if err != nil {
			return document.Value{}, err
		}
		return document.NewDocument(d), nil
	case bsontype.Array:
		if depth+1 > MaxDepth {
			return document.Value{}, errors.New("nesting too deep")
		}
		arr, ok := rv.ArrayOK()
		if !ok {
			return document.Value{}, invalidBSON(rv)
		}
		values, err := arr.Values()
		if err != nil {
			return document.Value{}, err
		}
		items := make([]document.Value, 0, len(values))
		for _, item := range values {
			iv, err := fromBSONRawValue(item, depth+1)
			if err != nil {
				return document.Value{}, err
			}
			items = append(items, iv)
		}
		return document.NewArray(items...), nil
	default:
		return document.Value{}, fmt.Errorf("unsupported bson type %s", rv.Type)
	}
}

func invalidBSON(rv bson.RawValue) error {
	return fmt.Errorf("invalid %s value", rv.Type)
}
