package protocol

import (
	"github.com/danmuck/wsbridge/internal/message"
	"github.com/danmuck/wsbridge/internal/protocol/document"
	"github.com/danmuck/wsbridge/internal/protocol/frame"
	"github.com/danmuck/wsbridge/internal/protocol/schema"
	"github.com/danmuck/wsbridge/internal/protocol/serializer"
	"github.com/rs/zerolog/log"
)

// Codec converts between wire bytes and Endpoint calls using one serializer.
// It holds no other state and is safe for concurrent use.
type Codec struct {
	ser serializer.Serializer
}

// NewCodec returns a codec over ser. A nil serializer selects JSON.
func NewCodec(ser serializer.Serializer) *Codec {
	if ser == nil {
		ser = serializer.JSON{}
	}
	return &Codec{ser: ser}
}

// NewCodecByName returns a codec for the named wire format.
func NewCodecByName(name string) (*Codec, error) {
	ser, err := serializer.New(name)
	if err != nil {
		return nil, err
	}
	return NewCodec(ser), nil
}

func (c *Codec) Encoding() string {
	return c.ser.Name()
}

// FrameKind is the transport frame kind the active serializer requires.
func (c *Codec) FrameKind() frame.Kind {
	return c.ser.FrameKind()
}

// InterpretFrame checks the frame kind and then decodes its payload.
func (c *Codec) InterpretFrame(f frame.Frame, ep Endpoint, h Handle) error {
	if err := f.Check(c.ser.FrameKind(), frame.Limits{}); err != nil {
		return err
	}
	return c.Interpret(f.Payload, ep, h)
}

// Interpret decodes one wire message and makes at most one call on ep.
// Unknown operation codes are ignored without error. Any error aborts the
// message before ep is called.
func (c *Codec) Interpret(data []byte, ep Endpoint, h Handle) error {
	doc, err := c.ser.Deserialize(data)
	if err != nil {
		return err
	}

	raw, ok := doc.Get(schema.KeyOp)
	if !ok {
		return MissingOperationCodeError{Raw: append([]byte(nil), data...)}
	}
	name, err := raw.AsString()
	if err != nil {
		return TypeMismatchError{Key: schema.KeyOp, Want: document.KindString, Got: raw.Kind}
	}

	op, _ := schema.ParseOp(name)
	switch op {
	case schema.OpPublish:
		topic, err := RequiredString(doc, schema.KeyTopic)
		if err != nil {
			return err
		}
		msg, err := RequiredMessage(doc, schema.KeyMsg)
		if err != nil {
			return err
		}
		ep.ReceivePublication(topic, msg, h)

	case schema.OpCallService:
		service, args, id, err := serviceFields(doc, schema.KeyArgs)
		if err != nil {
			return err
		}
		ep.ReceiveServiceRequest(service, args, id, h)

	case schema.OpServiceResponse:
		service, values, id, err := serviceFields(doc, schema.KeyValues)
		if err != nil {
			return err
		}
		ep.ReceiveServiceResponse(service, values, id, h)

	case schema.OpAdvertise:
		topic, err := RequiredString(doc, schema.KeyTopic)
		if err != nil {
			return err
		}
		msgType, err := RequiredString(doc, schema.KeyType)
		if err != nil {
			return err
		}
		id, err := OptionalString(doc, schema.KeyID)
		if err != nil {
			return err
		}
		ep.ReceiveTopicAdvertisement(topic, msgType, id, h)

	case schema.OpUnadvertise:
		topic, id, err := topicAndID(doc)
		if err != nil {
			return err
		}
		ep.ReceiveTopicUnadvertisement(topic, id, h)

	case schema.OpSubscribe:
		topic, err := RequiredString(doc, schema.KeyTopic)
		if err != nil {
			return err
		}
		msgType, err := OptionalString(doc, schema.KeyType)
		if err != nil {
			return err
		}
		id, err := OptionalString(doc, schema.KeyID)
		if err != nil {
			return err
		}
		ep.ReceiveSubscribeRequest(topic, msgType, id, h)

	case schema.OpUnsubscribe:
		topic, id, err := topicAndID(doc)
		if err != nil {
			return err
		}
		ep.ReceiveUnsubscribeRequest(topic, id, h)

	case schema.OpAdvertiseService:
		service, err := RequiredString(doc, schema.KeyService)
		if err != nil {
			return err
		}
		serviceType, err := RequiredString(doc, schema.KeyType)
		if err != nil {
			return err
		}
		ep.ReceiveServiceAdvertisement(service, serviceType, h)

	case schema.OpUnadvertiseService:
		service, err := RequiredString(doc, schema.KeyService)
		if err != nil {
			return err
		}
		serviceType, err := OptionalString(doc, schema.KeyType)
		if err != nil {
			return err
		}
		ep.ReceiveServiceUnadvertisement(service, serviceType, h)

	default:
		log.Debug().Str("op", name).Str("encoding", c.ser.Name()).Msg("protocol.Interpret ignoring unknown op")
	}
	return nil
}

func serviceFields(doc *document.Document, payloadKey string) (string, *message.Message, string, error) {
	service, err := RequiredString(doc, schema.KeyService)
	if err != nil {
		return "", nil, "", err
	}
	payload, err := RequiredMessage(doc, payloadKey)
	if err != nil {
		return "", nil, "", err
	}
	id, err := OptionalString(doc, schema.KeyID)
	if err != nil {
		return "", nil, "", err
	}
	return service, payload, id, nil
}

func topicAndID(doc *document.Document) (string, string, error) {
	topic, err := RequiredString(doc, schema.KeyTopic)
	if err != nil {
		return "", "", err
	}
	id, err := OptionalString(doc, schema.KeyID)
	if err != nil {
		return "", "", err
	}
	return topic, id, nil
}
