package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/danmuck/wsbridge/internal/message"
	"github.com/danmuck/wsbridge/internal/protocol/frame"
	"github.com/danmuck/wsbridge/internal/protocol/schema"
	"github.com/danmuck/wsbridge/internal/protocol/serializer"
	"github.com/danmuck/wsbridge/internal/testutil/testlog"
)

type call struct {
	method  string
	name    string
	msgType string
	id      string
	payload *message.Message
	handle  Handle
}

type recorder struct {
	mu    sync.Mutex
	calls []call
}

func (r *recorder) add(c call) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
}

func (r *recorder) only(t *testing.T) call {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.calls) != 1 {
		t.Fatalf("expected exactly one endpoint call, got %d: %+v", len(r.calls), r.calls)
	}
	return r.calls[0]
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *recorder) ReceivePublication(topic string, msg *message.Message, h Handle) {
	r.add(call{method: "ReceivePublication", name: topic, payload: msg, handle: h})
}

func (r *recorder) ReceiveServiceRequest(service string, args *message.Message, id string, h Handle) {
	r.add(call{method: "ReceiveServiceRequest", name: service, payload: args, id: id, handle: h})
}

func (r *recorder) ReceiveServiceResponse(service string, values *message.Message, id string, h Handle) {
	r.add(call{method: "ReceiveServiceResponse", name: service, payload: values, id: id, handle: h})
}

func (r *recorder) ReceiveTopicAdvertisement(topic, msgType, id string, h Handle) {
	r.add(call{method: "ReceiveTopicAdvertisement", name: topic, msgType: msgType, id: id, handle: h})
}

func (r *recorder) ReceiveTopicUnadvertisement(topic, id string, h Handle) {
	r.add(call{method: "ReceiveTopicUnadvertisement", name: topic, id: id, handle: h})
}

func (r *recorder) ReceiveSubscribeRequest(topic, msgType, id string, h Handle) {
	r.add(call{method: "ReceiveSubscribeRequest", name: topic, msgType: msgType, id: id, handle: h})
}

func (r *recorder) ReceiveUnsubscribeRequest(topic, id string, h Handle) {
	r.add(call{method: "ReceiveUnsubscribeRequest", name: topic, id: id, handle: h})
}

func (r *recorder) ReceiveServiceAdvertisement(service, serviceType string, h Handle) {
	r.add(call{method: "ReceiveServiceAdvertisement", name: service, msgType: serviceType, handle: h})
}

func (r *recorder) ReceiveServiceUnadvertisement(service, serviceType string, h Handle) {
	r.add(call{method: "ReceiveServiceUnadvertisement", name: service, msgType: serviceType, handle: h})
}

func TestInterpretDispatchesMinimalDocuments(t *testing.T) {
	testlog.Start(t)
	codec := NewCodec(serializer.JSON{})
	cases := []struct {
		raw        string
		method     string
		name       string
		hasPayload bool
	}{
		{`{"op":"publish","topic":"/chatter","msg":{}}`, "ReceivePublication", "/chatter", true},
		{`{"op":"call_service","service":"/add","args":{}}`, "ReceiveServiceRequest", "/add", true},
		{`{"op":"service_response","service":"/add","values":{}}`, "ReceiveServiceResponse", "/add", true},
		{`{"op":"advertise","topic":"/chatter","type":"std_msgs/String"}`, "ReceiveTopicAdvertisement", "/chatter", false},
		{`{"op":"unadvertise","topic":"/chatter"}`, "ReceiveTopicUnadvertisement", "/chatter", false},
		{`{"op":"subscribe","topic":"/chatter"}`, "ReceiveSubscribeRequest", "/chatter", false},
		{`{"op":"unsubscribe","topic":"/chatter"}`, "ReceiveUnsubscribeRequest", "/chatter", false},
		{`{"op":"advertise_service","service":"/add","type":"AddTwoInts"}`, "ReceiveServiceAdvertisement", "/add", false},
		{`{"op":"unadvertise_service","service":"/add"}`, "ReceiveServiceUnadvertisement", "/add", false},
	}
	if len(cases) != len(schema.Ops()) {
		t.Fatalf("dispatch cases do not cover every op")
	}
	for _, tc := range cases {
		rec := &recorder{}
		handle := "conn-1"
		if err := codec.Interpret([]byte(tc.raw), rec, handle); err != nil {
			t.Fatalf("%s: interpret: %v", tc.method, err)
		}
		got := rec.only(t)
		if got.method != tc.method || got.name != tc.name {
			t.Fatalf("unexpected dispatch for %s: %+v", tc.raw, got)
		}
		if got.id != "" {
			t.Fatalf("%s: optional id should be empty, got %q", tc.method, got.id)
		}
		if tc.hasPayload != (got.payload != nil) {
			t.Fatalf("%s: payload presence mismatch: %+v", tc.method, got)
		}
		if got.handle != handle {
			t.Fatalf("%s: handle not passed through: %v", tc.method, got.handle)
		}
		switch tc.method {
		case "ReceiveTopicAdvertisement":
			if got.msgType != "std_msgs/String" {
				t.Fatalf("advertise type lost: %+v", got)
			}
		case "ReceiveServiceAdvertisement":
			if got.msgType != "AddTwoInts" {
				t.Fatalf("advertise_service type lost: %+v", got)
			}
		default:
			if got.msgType != "" {
				t.Fatalf("%s: optional type should be empty: %+v", tc.method, got)
			}
		}
	}
}

func TestInterpretOptionalFieldsPresent(t *testing.T) {
	testlog.Start(t)
	codec := NewCodec(nil)
	rec := &recorder{}
	raw := `{"op":"subscribe","id":"sub-1","topic":"/scan","type":"sensor_msgs/LaserScan","throttle_rate":10}`
	if err := codec.Interpret([]byte(raw), rec, nil); err != nil {
		t.Fatalf("interpret: %v", err)
	}
	got := rec.only(t)
	if got.id != "sub-1" || got.msgType != "sensor_msgs/LaserScan" {
		t.Fatalf("optional fields not extracted: %+v", got)
	}
}

func TestRoundTripPublication(t *testing.T) {
	testlog.Start(t)
	for _, name := range serializer.Names() {
		codec, err := NewCodecByName(name)
		if err != nil {
			t.Fatalf("codec %s: %v", name, err)
		}
		in := message.New("geometry_msgs/Point").Set("x", 1.5).Set("y", int64(-2)).Set("label", "origin")
		data, err := codec.EncodePublication("t", "geometry_msgs/Point", "", in)
		if err != nil {
			t.Fatalf("%s encode: %v", name, err)
		}
		rec := &recorder{}
		if err := codec.InterpretFrame(frame.Frame{Kind: codec.FrameKind(), Payload: data}, rec, nil); err != nil {
			t.Fatalf("%s interpret: %v", name, err)
		}
		got := rec.only(t)
		if got.method != "ReceivePublication" || got.name != "t" {
			t.Fatalf("%s unexpected dispatch: %+v", name, got)
		}
		if !got.payload.Equal(in) {
			t.Fatalf("%s payload mismatch: %+v", name, got.payload.Fields)
		}
	}
}

func TestEncodeOmitsEmptyID(t *testing.T) {
	testlog.Start(t)
	codec := NewCodec(serializer.JSON{})
	msg := message.New("std_msgs/Empty")
	encoders := map[string]func(id string) ([]byte, error){
		"publish": func(id string) ([]byte, error) { return codec.EncodePublication("/a", "", id, msg) },
		"subscribe": func(id string) ([]byte, error) {
			return codec.EncodeSubscribe("/a", "std_msgs/Empty", id, nil)
		},
		"unsubscribe": func(id string) ([]byte, error) { return codec.EncodeUnsubscribe("/a", id) },
		"advertise": func(id string) ([]byte, error) {
			return codec.EncodeAdvertise("/a", "std_msgs/Empty", id, nil)
		},
		"unadvertise": func(id string) ([]byte, error) { return codec.EncodeUnadvertise("/a", id) },
		"call_service": func(id string) ([]byte, error) {
			return codec.EncodeCallService("/s", "", msg, id, nil)
		},
		"service_response": func(id string) ([]byte, error) {
			return codec.EncodeServiceResponse("/s", "", id, msg, true)
		},
	}
	for op, encode := range encoders {
		data, err := encode("")
		if err != nil {
			t.Fatalf("%s encode: %v", op, err)
		}
		doc, err := serializer.JSON{}.Deserialize(data)
		if err != nil {
			t.Fatalf("%s decode: %v", op, err)
		}
		if doc.Has(schema.KeyID) {
			t.Fatalf("%s: empty id was written: %s", op, data)
		}
		if got, _ := RequiredString(doc, schema.KeyOp); got != op {
			t.Fatalf("%s: wrong op %q", op, got)
		}

		data, err = encode("x-1")
		if err != nil {
			t.Fatalf("%s encode with id: %v", op, err)
		}
		doc, _ = serializer.JSON{}.Deserialize(data)
		if id, _ := OptionalString(doc, schema.KeyID); id != "x-1" {
			t.Fatalf("%s: id not written: %s", op, data)
		}
	}
}

func TestEncodeAdvertiseServiceShape(t *testing.T) {
	testlog.Start(t)
	data, err := NewCodec(nil).EncodeAdvertiseService("/add", "AddTwoInts", OperationConfig{"queue_length": 5})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := `{"op":"advertise_service","service":"/add","type":"AddTwoInts"}`
	if string(data) != want {
		t.Fatalf("got %s want %s", data, want)
	}
}

func TestEncodeIgnoresOperationConfig(t *testing.T) {
	testlog.Start(t)
	codec := NewCodec(nil)
	cfg := OperationConfig{"throttle_rate": 100, "compression": "png", "fragment_size": 512}
	plain, _ := codec.EncodeSubscribe("/a", "T", "1", nil)
	withCfg, _ := codec.EncodeSubscribe("/a", "T", "1", cfg)
	if string(plain) != string(withCfg) {
		t.Fatalf("subscribe config leaked onto the wire: %s", withCfg)
	}
	req := message.New("").Set("a", int64(1))
	plain, _ = codec.EncodeCallService("/s", "T", req, "1", nil)
	withCfg, _ = codec.EncodeCallService("/s", "T", req, "1", cfg)
	if string(plain) != string(withCfg) {
		t.Fatalf("call config leaked onto the wire: %s", withCfg)
	}
}

func TestServiceResponseExample(t *testing.T) {
	testlog.Start(t)
	for _, name := range serializer.Names() {
		codec, _ := NewCodecByName(name)
		resp := message.New("AddTwoIntsResponse").Set("sum", int64(7))
		data, err := codec.EncodeServiceResponse("/add", "AddTwoInts", "7", resp, true)
		if err != nil {
			t.Fatalf("%s encode: %v", name, err)
		}
		rec := &recorder{}
		if err := codec.Interpret(data, rec, nil); err != nil {
			t.Fatalf("%s interpret: %v", name, err)
		}
		got := rec.only(t)
		if got.method != "ReceiveServiceResponse" || got.name != "/add" || got.id != "7" {
			t.Fatalf("%s unexpected dispatch: %+v", name, got)
		}
		if !got.payload.Equal(resp) {
			t.Fatalf("%s values mismatch: %+v", name, got.payload.Fields)
		}
	}
}

func TestInterpretMissingOperationCode(t *testing.T) {
	testlog.Start(t)
	rec := &recorder{}
	raw := []byte(`{"topic":"/chatter","msg":{}}`)
	err := NewCodec(nil).Interpret(raw, rec, nil)
	if !errors.Is(err, ErrMissingOperationCode) {
		t.Fatalf("expected ErrMissingOperationCode, got %v", err)
	}
	var me MissingOperationCodeError
	if !errors.As(err, &me) || string(me.Raw) != string(raw) {
		t.Fatalf("raw message not carried: %v", err)
	}
	if rec.count() != 0 {
		t.Fatalf("no endpoint call expected")
	}
}

func TestInterpretUnknownOperationIgnored(t *testing.T) {
	testlog.Start(t)
	rec := &recorder{}
	for _, raw := range []string{`{"op":"status","level":"error"}`, `{"op":"PUBLISH","topic":"/a","msg":{}}`} {
		if err := NewCodec(nil).Interpret([]byte(raw), rec, nil); err != nil {
			t.Fatalf("unknown op should not error: %v", err)
		}
	}
	if rec.count() != 0 {
		t.Fatalf("unknown op must not dispatch")
	}
}

func TestInterpretFieldErrors(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		raw  string
		want error
		key  string
	}{
		{`{"op":"publish","topic":"/chatter"}`, ErrMissingField, "msg"},
		{`{"op":"publish","topic":5,"msg":{}}`, ErrTypeMismatch, "topic"},
		{`{"op":"publish","topic":"/a","msg":"hello"}`, ErrTypeMismatch, "msg"},
		{`{"op":"publish","topic":"/a","msg":null}`, ErrTypeMismatch, "msg"},
		{`{"op":"call_service","service":"/s","args":{},"id":7}`, ErrTypeMismatch, "id"},
		{`{"op":"advertise","topic":"/a"}`, ErrMissingField, "type"},
		{`{"op":"subscribe","topic":"/a","type":true}`, ErrTypeMismatch, "type"},
		{`{"op":"advertise_service","type":"T"}`, ErrMissingField, "service"},
		{`{"op":5}`, ErrTypeMismatch, "op"},
	}
	for _, tc := range cases {
		rec := &recorder{}
		err := NewCodec(nil).Interpret([]byte(tc.raw), rec, nil)
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.raw, tc.want, err)
		}
		var key string
		var missing MissingFieldError
		var mismatch TypeMismatchError
		switch {
		case errors.As(err, &missing):
			key = missing.Key
		case errors.As(err, &mismatch):
			key = mismatch.Key
		}
		if key != tc.key {
			t.Fatalf("%s: expected key %q, got %q", tc.raw, tc.key, key)
		}
		if rec.count() != 0 {
			t.Fatalf("%s: partial dispatch", tc.raw)
		}
	}
}

func TestInterpretMalformedInput(t *testing.T) {
	testlog.Start(t)
	rec := &recorder{}
	for _, name := range serializer.Names() {
		codec, _ := NewCodecByName(name)
		err := codec.Interpret([]byte{0x01, 0x02, 0x03}, rec, nil)
		if !errors.Is(err, ErrMalformedInput) {
			t.Fatalf("%s: expected ErrMalformedInput, got %v", name, err)
		}
		if ErrorKind(err) != "malformed_input" {
			t.Fatalf("%s: unexpected error kind %q", name, ErrorKind(err))
		}
	}
	if rec.count() != 0 {
		t.Fatalf("malformed input must not dispatch")
	}
}

func TestInterpretFrameRejectsDeepBinaryNesting(t *testing.T) {
	testlog.Start(t)
	// {"a":{"a":...{}}} one million levels deep, just under the default frame limit.
	const depth = 1_000_000
	size := 5 + 8*depth
	data := make([]byte, 0, size)
	for i := 0; i < depth; i++ {
		data = binary.LittleEndian.AppendUint32(data, uint32(size-8*i))
		data = append(data, 0x03, 'a', 0x00)
	}
	data = append(data, 5, 0, 0, 0, 0)
	for i := 0; i < depth; i++ {
		data = append(data, 0x00)
	}
	if uint64(len(data)) > frame.DefaultLimits().MaxPayloadBytes {
		t.Fatalf("test frame exceeds the default limit: %d", len(data))
	}

	rec := &recorder{}
	codec, _ := NewCodecByName(serializer.NameBSON)
	err := codec.InterpretFrame(frame.Binary(data), rec, nil)
	if !errors.Is(err, ErrMalformedInput) {
		t.Fatalf("expected ErrMalformedInput, got %v", err)
	}
	if rec.count() != 0 {
		t.Fatalf("rejected frame must not dispatch")
	}
}

func TestInterpretFrameKindMismatch(t *testing.T) {
	testlog.Start(t)
	rec := &recorder{}
	bsonCodec, _ := NewCodecByName("bson")
	err := bsonCodec.InterpretFrame(frame.Text([]byte(`{"op":"publish"}`)), rec, nil)
	if !errors.Is(err, ErrFrameKindMismatch) {
		t.Fatalf("expected ErrFrameKindMismatch, got %v", err)
	}
	err = NewCodec(nil).InterpretFrame(frame.Binary([]byte(`{"op":"publish"}`)), rec, nil)
	if !errors.Is(err, ErrFrameKindMismatch) {
		t.Fatalf("expected ErrFrameKindMismatch, got %v", err)
	}
	if rec.count() != 0 {
		t.Fatalf("mismatched frame must not dispatch")
	}
}

func TestErrorKindLabels(t *testing.T) {
	testlog.Start(t)
	cases := map[string]error{
		"none":          nil,
		"missing_op":    MissingOperationCodeError{},
		"missing_field": MissingFieldError{Key: "msg"},
		"type_mismatch": TypeMismatchError{Key: "topic"},
		"frame_kind":    fmt.Errorf("wrap: %w", ErrFrameKindMismatch),
		"too_large":     frame.ErrPayloadTooLarge,
		"other":         errors.New("boom"),
	}
	for want, err := range cases {
		if got := ErrorKind(err); got != want {
			t.Fatalf("ErrorKind(%v) = %q, want %q", err, got, want)
		}
	}
}

func TestCodecConcurrentUse(t *testing.T) {
	testlog.Start(t)
	codec := NewCodec(nil)
	rec := &recorder{}
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msg := message.New("").Set("n", int64(i))
			data, err := codec.EncodePublication(fmt.Sprintf("/t%d", i), "", "", msg)
			if err != nil {
				t.Errorf("encode: %v", err)
				return
			}
			if err := codec.Interpret(data, rec, i); err != nil {
				t.Errorf("interpret: %v", err)
			}
		}(i)
	}
	wg.Wait()
	if rec.count() != 16 {
		t.Fatalf("expected 16 dispatches, got %d", rec.count())
	}
}
