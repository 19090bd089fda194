package schema

import (
	"fmt"

	"github.com/danmuck/wsbridge/internal/protocol/document"
	"github.com/rs/zerolog/log"
)

// Field keys of the wire vocabulary.
const (
	KeyOp      = "op"
	KeyID      = "id"
	KeyTopic   = "topic"
	KeyType    = "type"
	KeyMsg     = "msg"
	KeyService = "service"
	KeyArgs    = "args"
	KeyValues  = "values"
	KeyResult  = "result"
)

// Op is the closed set of operation codes.
type Op uint8

const (
	OpUnknown Op = iota
	OpPublish
	OpSubscribe
	OpUnsubscribe
	OpAdvertise
	OpUnadvertise
	OpAdvertiseService
	OpUnadvertiseService
	OpCallService
	OpServiceResponse
)

var opNames = [...]string{
	OpUnknown:            "",
	OpPublish:            "publish",
	OpSubscribe:          "subscribe",
	OpUnsubscribe:        "unsubscribe",
	OpAdvertise:          "advertise",
	OpUnadvertise:        "unadvertise",
	OpAdvertiseService:   "advertise_service",
	OpUnadvertiseService: "unadvertise_service",
	OpCallService:        "call_service",
	OpServiceResponse:    "service_response",
}

// String returns the wire literal for op, or "" for OpUnknown.
func (op Op) String() string {
	if int(op) >= len(opNames) {
		return ""
	}
	return opNames[op]
}

// ParseOp maps a wire literal to its Op. Matching is exact.
func ParseOp(raw string) (Op, bool) {
	switch raw {
	case "publish":
		return OpPublish, true
	case "subscribe":
		return OpSubscribe, true
	case "unsubscribe":
		return OpUnsubscribe, true
	case "advertise":
		return OpAdvertise, true
	case "unadvertise":
		return OpUnadvertise, true
	case "advertise_service":
		return OpAdvertiseService, true
	case "unadvertise_service":
		return OpUnadvertiseService, true
	case "call_service":
		return OpCallService, true
	case "service_response":
		return OpServiceResponse, true
	default:
		return OpUnknown, false
	}
}

// Ops lists every known operation in declaration order.
func Ops() []Op {
	return []Op{
		OpPublish,
		OpSubscribe,
		OpUnsubscribe,
		OpAdvertise,
		OpUnadvertise,
		OpAdvertiseService,
		OpUnadvertiseService,
		OpCallService,
		OpServiceResponse,
	}
}

// Vocabulary returns all protocol-significant strings: field keys followed by
// operation codes.
func Vocabulary() []string {
	out := []string{KeyOp, KeyID, KeyTopic, KeyType, KeyMsg, KeyService, KeyArgs, KeyValues, KeyResult}
	for _, op := range Ops() {
		out = append(out, op.String())
	}
	return out
}

// Requirement declares one field of an inbound operation.
type Requirement struct {
	Key  string
	Kind document.Kind
}

// Operation is the inbound contract for one op code.
type Operation struct {
	Op       Op
	Method   string
	Required []Requirement
	Optional []Requirement
}

type ValidationError struct {
	Op     string
	Key    string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("schema: op=%q: %s", e.Op, e.Reason)
	}
	return fmt.Sprintf("schema: op=%q field=%q: %s", e.Op, e.Key, e.Reason)
}

var operations = map[Op]Operation{
	OpPublish: {
		Op:       OpPublish,
		Method:   "ReceivePublication",
		Required: []Requirement{{KeyTopic, document.KindString}, {KeyMsg, document.KindDocument}},
	},
	OpCallService: {
		Op:       OpCallService,
		Method:   "ReceiveServiceRequest",
		Required: []Requirement{{KeyService, document.KindString}, {KeyArgs, document.KindDocument}},
		Optional: []Requirement{{KeyID, document.KindString}},
	},
	OpServiceResponse: {
		Op:       OpServiceResponse,
		Method:   "ReceiveServiceResponse",
		Required: []Requirement{{KeyService, document.KindString}, {KeyValues, document.KindDocument}},
		Optional: []Requirement{{KeyID, document.KindString}},
	},
	OpAdvertise: {
		Op:       OpAdvertise,
		Method:   "ReceiveTopicAdvertisement",
		Required: []Requirement{{KeyTopic, document.KindString}, {KeyType, document.KindString}},
		Optional: []Requirement{{KeyID, document.KindString}},
	},
	OpUnadvertise: {
		Op:       OpUnadvertise,
		Method:   "ReceiveTopicUnadvertisement",
		Required: []Requirement{{KeyTopic, document.KindString}},
		Optional: []Requirement{{KeyID, document.KindString}},
	},
	OpSubscribe: {
		Op:       OpSubscribe,
		Method:   "ReceiveSubscribeRequest",
		Required: []Requirement{{KeyTopic, document.KindString}},
		Optional: []Requirement{{KeyType, document.KindString}, {KeyID, document.KindString}},
	},
	OpUnsubscribe: {
		Op:       OpUnsubscribe,
		Method:   "ReceiveUnsubscribeRequest",
		Required: []Requirement{{KeyTopic, document.KindString}},
		Optional: []Requirement{{KeyID, document.KindString}},
	},
	OpAdvertiseService: {
		Op:       OpAdvertiseService,
		Method:   "ReceiveServiceAdvertisement",
		Required: []Requirement{{KeyService, document.KindString}, {KeyType, document.KindString}},
	},
	OpUnadvertiseService: {
		Op:       OpUnadvertiseService,
		Method:   "ReceiveServiceUnadvertisement",
		Required: []Requirement{{KeyService, document.KindString}},
		Optional: []Requirement{{KeyType, document.KindString}},
	},
}

// Lookup returns the inbound contract for op.
func Lookup(op Op) (Operation, bool) {
	o, ok := operations[op]
	return o, ok
}

// Operations returns every inbound contract in Ops order.
func Operations() []Operation {
	out := make([]Operation, 0, len(operations))
	for _, op := range Ops() {
		out = append(out, operations[op])
	}
	return out
}

// Validate checks doc against the inbound contract of its op code.
// Unknown fields are ignored.
func Validate(doc *document.Document) error {
	raw, ok := doc.Get(KeyOp)
	if !ok {
		return ValidationError{Reason: "missing op code"}
	}
	name, err := raw.AsString()
	if err != nil {
		return ValidationError{Key: KeyOp, Reason: "type mismatch"}
	}
	op, _ := ParseOp(name)
	contract, ok := Lookup(op)
	if !ok {
		log.Debug().Str("op", name).Msg("schema.Validate unknown op")
		return ValidationError{Op: name, Reason: "unknown op code"}
	}
	for _, req := range contract.Required {
		v, found := doc.Get(req.Key)
		if !found {
			log.Debug().Str("op", name).Str("field", req.Key).Msg("schema.Validate missing field")
			return ValidationError{Op: name, Key: req.Key, Reason: "missing required field"}
		}
		if v.Kind != req.Kind {
			log.Debug().
				Str("op", name).
				Str("field", req.Key).
				Stringer("got", v.Kind).
				Stringer("want", req.Kind).
				Msg("schema.Validate type mismatch")
			return ValidationError{Op: name, Key: req.Key, Reason: "type mismatch"}
		}
	}
	for _, opt := range contract.Optional {
		if v, found := doc.Get(opt.Key); found && v.Kind != opt.Kind {
			return ValidationError{Op: name, Key: opt.Key, Reason: "type mismatch"}
		}
	}
	return nil
}
