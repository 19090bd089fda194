// Package serializer converts documents to and from one concrete wire format.
//
// Two formats exist: JSON for text frames and BSON for binary frames. Each
// declares the frame kind it travels in; the codec rejects frames of the
// other kind before parsing.
package serializer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/danmuck/wsbridge/internal/protocol/document"
	"github.com/danmuck/wsbridge/internal/protocol/frame"
)

const (
	NameJSON = "json"
	NameBSON = "bson"
)

// MaxDepth bounds document/array nesting accepted on decode.
const MaxDepth = 256

var (
	ErrMalformedInput   = errors.New("serializer: malformed input")
	ErrUnsupportedValue = errors.New("serializer: value not representable")
	ErrUnknownFormat    = errors.New("serializer: unknown format")
)

// Serializer converts documents to and from bytes. Implementations are
// stateless and safe for concurrent use.
type Serializer interface {
	Name() string
	FrameKind() frame.Kind
	Serialize(doc *document.Document) ([]byte, error)
	Deserialize(data []byte) (*document.Document, error)
}

// MalformedInputError reports bytes that are not a valid document in Format.
type MalformedInputError struct {
	Format string
	Err    error
}

func (e *MalformedInputError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("serializer: malformed %s input", e.Format)
	}
	return fmt.Sprintf("serializer: malformed %s input: %v", e.Format, e.Err)
}

func (e *MalformedInputError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrMalformedInput}
	}
	return []error{ErrMalformedInput, e.Err}
}

func malformed(format string, err error) error {
	return &MalformedInputError{Format: format, Err: err}
}

// New returns the serializer registered under name. An empty name selects JSON.
func New(name string) (Serializer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case NameJSON, "":
		return JSON{}, nil
	case NameBSON:
		return BSON{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, name)
	}
}

// Names lists the registered format names.
func Names() []string {
	return []string{NameJSON, NameBSON}
}
