package protocol

import "github.com/danmuck/wsbridge/internal/message"

// Handle identifies the connection a message arrived on. The codec passes it
// through to the Endpoint unchanged.
type Handle any

// OperationConfig carries per-operation options (throttle rate, queue length,
// fragment size, compression). Encoders accept it and do not interpret it.
type OperationConfig map[string]any

// Endpoint receives decoded messages. Each method corresponds to exactly one
// operation code.
type Endpoint interface {
	ReceivePublication(topic string, msg *message.Message, h Handle)
	ReceiveServiceRequest(service string, args *message.Message, id string, h Handle)
	ReceiveServiceResponse(service string, values *message.Message, id string, h Handle)
	ReceiveTopicAdvertisement(topic, msgType, id string, h Handle)
	ReceiveTopicUnadvertisement(topic, id string, h Handle)
	ReceiveSubscribeRequest(topic, msgType, id string, h Handle)
	ReceiveUnsubscribeRequest(topic, id string, h Handle)
	ReceiveServiceAdvertisement(service, serviceType string, h Handle)
	ReceiveServiceUnadvertisement(service, serviceType string, h Handle)
}
