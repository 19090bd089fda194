package frame

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/danmuck/wsbridge/internal/testutil/testlog"
)

type message struct {
	opcode  int
	payload []byte
}

type memConn struct {
	queue []message
}

func (c *memConn) ReadMessage() (int, []byte, error) {
	if len(c.queue) == 0 {
		return 0, nil, io.EOF
	}
	m := c.queue[0]
	c.queue = c.queue[1:]
	return m.opcode, m.payload, nil
}

func (c *memConn) WriteMessage(opcode int, data []byte) error {
	c.queue = append(c.queue, message{opcode: opcode, payload: data})
	return nil
}

func TestReadWriteFrameRoundTrip(t *testing.T) {
	testlog.Start(t)
	conn := &memConn{}
	in := Binary([]byte{0x05, 0x00, 0x00, 0x00, 0x00})
	if err := WriteFrame(conn, in, DefaultLimits()); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	if conn.queue[0].opcode != 2 {
		t.Fatalf("binary frames must use websocket opcode 2, got %d", conn.queue[0].opcode)
	}
	out, err := ReadFrame(conn, DefaultLimits())
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if out.Kind != KindBinary || !bytes.Equal(out.Payload, in.Payload) {
		t.Fatalf("frame mismatch: %+v", out)
	}
	if _, err := ReadFrame(conn, DefaultLimits()); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF from drained conn, got %v", err)
	}
}

func TestReadFrameRejectsControlOpcodes(t *testing.T) {
	testlog.Start(t)
	conn := &memConn{queue: []message{{opcode: 9, payload: nil}}}
	_, err := ReadFrame(conn, DefaultLimits())
	if !errors.Is(err, ErrUnsupportedKind) {
		t.Fatalf("expected ErrUnsupportedKind, got %v", err)
	}
}

func TestPayloadLimits(t *testing.T) {
	testlog.Start(t)
	limits := Limits{MaxPayloadBytes: 4}
	conn := &memConn{queue: []message{{opcode: 1, payload: []byte("too long")}}}
	if _, err := ReadFrame(conn, limits); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge on read, got %v", err)
	}
	if err := WriteFrame(conn, Text([]byte("too long")), limits); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge on write, got %v", err)
	}
}

func TestCheckKind(t *testing.T) {
	testlog.Start(t)
	if err := Text([]byte("{}")).Check(KindText, DefaultLimits()); err != nil {
		t.Fatalf("text frame against text encoding: %v", err)
	}
	err := Text([]byte("{}")).Check(KindBinary, DefaultLimits())
	if !errors.Is(err, ErrKindMismatch) {
		t.Fatalf("expected ErrKindMismatch, got %v", err)
	}
	err = Frame{Kind: 8}.Check(KindBinary, DefaultLimits())
	if !errors.Is(err, ErrUnsupportedKind) {
		t.Fatalf("expected ErrUnsupportedKind, got %v", err)
	}
	if KindText.String() != "text" || KindBinary.String() != "binary" {
		t.Fatalf("unexpected kind names")
	}
}
