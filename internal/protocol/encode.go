package protocol

import (
	"github.com/danmuck/wsbridge/internal/message"
	"github.com/danmuck/wsbridge/internal/protocol/document"
	"github.com/danmuck/wsbridge/internal/protocol/schema"
)

// Encoders never fail for well-formed inputs. The only error path is a
// payload value the active format cannot represent, such as NaN in JSON.

// EncodePublication encodes a publish message. topicType is not carried on
// the wire.
func (c *Codec) EncodePublication(topic, topicType, id string, msg *message.Message) ([]byte, error) {
	doc := header(schema.OpPublish, id).
		SetString(schema.KeyTopic, topic).
		SetDocument(schema.KeyMsg, message.ToDocument(msg))
	return c.ser.Serialize(doc)
}

// EncodeSubscribe encodes a subscribe request. cfg is not interpreted.
func (c *Codec) EncodeSubscribe(topic, msgType, id string, cfg OperationConfig) ([]byte, error) {
	doc := header(schema.OpSubscribe, id).
		SetString(schema.KeyTopic, topic).
		SetString(schema.KeyType, msgType)
	return c.ser.Serialize(doc)
}

func (c *Codec) EncodeUnsubscribe(topic, id string) ([]byte, error) {
	doc := header(schema.OpUnsubscribe, id).
		SetString(schema.KeyTopic, topic)
	return c.ser.Serialize(doc)
}

// EncodeAdvertise encodes a topic advertisement. cfg is not interpreted.
func (c *Codec) EncodeAdvertise(topic, msgType, id string, cfg OperationConfig) ([]byte, error) {
	doc := header(schema.OpAdvertise, id).
		SetString(schema.KeyTopic, topic).
		SetString(schema.KeyType, msgType)
	return c.ser.Serialize(doc)
}

func (c *Codec) EncodeUnadvertise(topic, id string) ([]byte, error) {
	doc := header(schema.OpUnadvertise, id).
		SetString(schema.KeyTopic, topic)
	return c.ser.Serialize(doc)
}

// EncodeCallService encodes a service request. serviceType is not carried
// on the wire and cfg is not interpreted.
func (c *Codec) EncodeCallService(service, serviceType string, request *message.Message, id string, cfg OperationConfig) ([]byte, error) {
	doc := header(schema.OpCallService, id).
		SetString(schema.KeyService, service).
		SetDocument(schema.KeyArgs, message.ToDocument(request))
	return c.ser.Serialize(doc)
}

// EncodeServiceResponse encodes the reply to a service request. result
// reports whether the call succeeded.
func (c *Codec) EncodeServiceResponse(service, serviceType, id string, response *message.Message, result bool) ([]byte, error) {
	doc := header(schema.OpServiceResponse, id).
		SetString(schema.KeyService, service).
		SetDocument(schema.KeyValues, message.ToDocument(response)).
		SetBool(schema.KeyResult, result)
	return c.ser.Serialize(doc)
}

// EncodeAdvertiseService encodes a service advertisement. cfg is not
// interpreted. Service withdrawal has no encoder.
func (c *Codec) EncodeAdvertiseService(service, serviceType string, cfg OperationConfig) ([]byte, error) {
	doc := header(schema.OpAdvertiseService, "").
		SetString(schema.KeyService, service).
		SetString(schema.KeyType, serviceType)
	return c.ser.Serialize(doc)
}

func header(op schema.Op, id string) *document.Document {
	doc := document.New().SetString(schema.KeyOp, op.String())
	if id != "" {
		doc.SetString(schema.KeyID, id)
	}
	return doc
}
