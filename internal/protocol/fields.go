package protocol

import (
	"github.com/danmuck/wsbridge/internal/message"
	"github.com/danmuck/wsbridge/internal/protocol/document"
)

// RequiredString returns the string at key.
func RequiredString(doc *document.Document, key string) (string, error) {
	v, ok := doc.Get(key)
	if !ok {
		return "", MissingFieldError{Key: key}
	}
	s, err := v.AsString()
	if err != nil {
		return "", TypeMismatchError{Key: key, Want: document.KindString, Got: v.Kind}
	}
	return s, nil
}

// OptionalString returns the string at key, or "" when key is absent.
func OptionalString(doc *document.Document, key string) (string, error) {
	v, ok := doc.Get(key)
	if !ok {
		return "", nil
	}
	s, err := v.AsString()
	if err != nil {
		return "", TypeMismatchError{Key: key, Want: document.KindString, Got: v.Kind}
	}
	return s, nil
}

// RequiredMessage converts the sub-document at key into a message. The
// returned message is owned by the caller.
func RequiredMessage(doc *document.Document, key string) (*message.Message, error) {
	v, ok := doc.Get(key)
	if !ok {
		return nil, MissingFieldError{Key: key}
	}
	sub, err := v.AsDocument()
	if err != nil {
		return nil, TypeMismatchError{Key: key, Want: document.KindDocument, Got: v.Kind}
	}
	return message.FromDocument(sub), nil
}
