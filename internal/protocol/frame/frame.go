package frame

import (
	"errors"
	"fmt"
)

// Kind is the transport framing of one message. Values match the RFC 6455
// data opcodes, so they can be used directly as websocket message types.
type Kind uint8

const (
	KindText   Kind = 1
	KindBinary Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindBinary:
		return "binary"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

var (
	ErrKindMismatch    = errors.New("frame: frame kind does not match encoding")
	ErrUnsupportedKind = errors.New("frame: unsupported frame kind")
	ErrPayloadTooLarge = errors.New("frame: payload too large")
)

// Frame is one complete wire message.
type Frame struct {
	Kind    Kind
	Payload []byte
}

func Text(payload []byte) Frame {
	return Frame{Kind: KindText, Payload: payload}
}

func Binary(payload []byte) Frame {
	return Frame{Kind: KindBinary, Payload: payload}
}

// Limits constrains frame memory use.
type Limits struct {
	MaxPayloadBytes uint64
}

func DefaultLimits() Limits {
	return Limits{
		MaxPayloadBytes: 8 * 1024 * 1024,
	}
}

// KindFromOpcode maps a websocket message type to a data frame kind.
// Control opcodes are rejected.
func KindFromOpcode(opcode int) (Kind, error) {
	switch Kind(opcode) {
	case KindText, KindBinary:
		return Kind(opcode), nil
	default:
		return 0, fmt.Errorf("%w: opcode %d", ErrUnsupportedKind, opcode)
	}
}

// Opcode returns the websocket message type for k.
func (k Kind) Opcode() int {
	return int(k)
}

// Check verifies f against the expected kind and limits.
func (f Frame) Check(expected Kind, limits Limits) error {
	if f.Kind != KindText && f.Kind != KindBinary {
		return fmt.Errorf("%w: %s", ErrUnsupportedKind, f.Kind)
	}
	if f.Kind != expected {
		return fmt.Errorf("%w: got %s want %s", ErrKindMismatch, f.Kind, expected)
	}
	if limits.MaxPayloadBytes > 0 && uint64(len(f.Payload)) > limits.MaxPayloadBytes {
		return ErrPayloadTooLarge
	}
	return nil
}

// MessageConn is a message-oriented connection such as *websocket.Conn.
type MessageConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
}

// ReadFrame reads one message from conn.
func ReadFrame(conn MessageConn, limits Limits) (Frame, error) {
	opcode, payload, err := conn.ReadMessage()
	if err != nil {
		return Frame{}, err
	}
	kind, err := KindFromOpcode(opcode)
	if err != nil {
		return Frame{}, err
	}
	if limits.MaxPayloadBytes > 0 && uint64(len(payload)) > limits.MaxPayloadBytes {
		return Frame{}, ErrPayloadTooLarge
	}
	return Frame{Kind: kind, Payload: payload}, nil
}

// WriteFrame writes f to conn as one message.
func WriteFrame(conn MessageConn, f Frame, limits Limits) error {
	if f.Kind != KindText && f.Kind != KindBinary {
		return fmt.Errorf("%w: %s", ErrUnsupportedKind, f.Kind)
	}
	if limits.MaxPayloadBytes > 0 && uint64(len(f.Payload)) > limits.MaxPayloadBytes {
		return ErrPayloadTooLarge
	}
	return conn.WriteMessage(f.Kind.Opcode(), f.Payload)
}
