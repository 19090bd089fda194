// Package message holds the generic typed payload carried in publications
// and service calls, and its reversible conversion to document form.
//
// Field values are plain Go values: nil, bool, integers, floats, string,
// []byte, *Message, slices of those, and map[string]any for anonymous
// nested structures. Once a Message is handed to a codec or an endpoint the
// receiver owns it.
package message

import "sort"

// Message is a named set of fields. Type is the message type name
// (e.g. "std_msgs/String"); it does not travel on the wire.
type Message struct {
	Type   string
	Fields map[string]any
}

func New(typeName string) *Message {
	return &Message{Type: typeName, Fields: make(map[string]any)}
}

// Set stores a field value and returns m for chaining.
func (m *Message) Set(name string, v any) *Message {
	if m.Fields == nil {
		m.Fields = make(map[string]any)
	}
	m.Fields[name] = v
	return m
}

func (m *Message) Get(name string) (any, bool) {
	if m == nil || m.Fields == nil {
		return nil, false
	}
	v, ok := m.Fields[name]
	return v, ok
}

// Names returns field names in sorted order.
func (m *Message) Names() []string {
	if m == nil {
		return nil
	}
	out := make([]string, 0, len(m.Fields))
	for name := range m.Fields {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (m *Message) Len() int {
	if m == nil {
		return 0
	}
	return len(m.Fields)
}

// Equal compares field data through the document form. Type names are not
// compared because they are not carried on the wire.
func (m *Message) Equal(o *Message) bool {
	return ToDocument(m).Equal(ToDocument(o))
}
