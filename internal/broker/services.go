package broker

import (
	"time"

	"github.com/danmuck/wsbridge/internal/message"
	"github.com/danmuck/wsbridge/internal/observability"
	"github.com/danmuck/wsbridge/internal/protocol"
	"github.com/danmuck/wsbridge/internal/protocol/schema"
	"github.com/danmuck/wsbridge/internal/protocol/session"
	"github.com/google/uuid"
	"go.uber.org/multierr"
)

func (b *Broker) ReceiveServiceAdvertisement(name, serviceType string, h protocol.Handle) {
	p, ok := b.peerFrom(h, schema.OpAdvertiseService)
	if !ok {
		return
	}
	b.mu.Lock()
	prev, replaced := b.services[name]
	b.services[name] = &service{name: name, serviceType: serviceType, providerID: p.ID()}
	b.mu.Unlock()

	event := b.logger.Info().Str("peer", p.ID()).Str("service", name).Str("type", serviceType)
	if replaced && prev.providerID != p.ID() {
		event = event.Str("replaced", prev.providerID)
	}
	event.Msg("service advertised")
}

// ReceiveServiceUnadvertisement removes the service only when the sender is
// its current provider.
func (b *Broker) ReceiveServiceUnadvertisement(name, serviceType string, h protocol.Handle) {
	p, ok := b.peerFrom(h, schema.OpUnadvertiseService)
	if !ok {
		return
	}
	b.mu.Lock()
	s, ok := b.services[name]
	owner := ok && s.providerID == p.ID()
	if owner {
		delete(b.services, name)
	}
	b.mu.Unlock()
	if !owner {
		b.logger.Warn().Str("peer", p.ID()).Str("service", name).Msg("unadvertise_service from non-provider ignored")
		return
	}
	b.logger.Info().Str("peer", p.ID()).Str("service", name).Str("type", serviceType).Msg("service unadvertised")
}

// ReceiveServiceRequest relays the call to the provider under a fresh relay
// id. Calls to unknown services are answered with result=false.
func (b *Broker) ReceiveServiceRequest(name string, args *message.Message, id string, h protocol.Handle) {
	caller, ok := b.peerFrom(h, schema.OpCallService)
	if !ok {
		return
	}
	b.mu.Lock()
	s, known := b.services[name]
	var provider Peer
	var serviceType string
	if known {
		provider, known = b.peers[s.providerID]
		serviceType = s.serviceType
	}
	b.mu.Unlock()

	if !known {
		observability.RecordServiceCall("unknown_service")
		b.logger.Warn().Str("peer", caller.ID()).Str("service", name).Msg("call to unknown service")
		b.respond(caller, name, serviceType, id, nil, false)
		return
	}

	now := b.now()
	call := session.PendingCall{
		RelayID:      uuid.NewString(),
		Service:      name,
		CallerID:     caller.ID(),
		CallerCallID: id,
		ProviderID:   provider.ID(),
		IssuedAt:     now,
		Deadline:     now.Add(b.callTimeout),
	}
	b.calls.Put(call)

	data, err := provider.Codec().EncodeCallService(name, serviceType, args, call.RelayID, nil)
	if err == nil {
		err = b.send(provider, schema.OpCallService, data)
	}
	if err != nil {
		b.calls.Take(call.RelayID)
		observability.RecordServiceCall("relay_failed")
		b.respond(caller, name, serviceType, id, nil, false)
		return
	}
	observability.RecordServiceCall("relayed")
}

// ReceiveServiceResponse resolves a relayed call and forwards the values to
// the original caller with its own id.
func (b *Broker) ReceiveServiceResponse(name string, values *message.Message, id string, h protocol.Handle) {
	p, ok := b.peerFrom(h, schema.OpServiceResponse)
	if !ok {
		return
	}
	call, ok := b.calls.Get(id)
	if !ok || call.ProviderID != p.ID() {
		b.logger.Warn().Str("peer", p.ID()).Str("service", name).Str("id", id).Msg("service_response for unknown call")
		return
	}
	if _, ok := b.calls.Take(id); !ok {
		return
	}
	caller, ok := b.lookupPeer(call.CallerID)
	if !ok {
		b.logger.Debug().Str("caller", call.CallerID).Str("service", name).Msg("caller gone before response")
		return
	}
	observability.RecordServiceCall("answered")
	b.respond(caller, call.Service, "", call.CallerCallID, values, true)
}

// ExpireCalls fails every relayed call whose deadline has passed and
// returns how many were failed.
func (b *Broker) ExpireCalls(now time.Time) (int, error) {
	expired := b.calls.Expired(now)
	var errs error
	for _, call := range expired {
		observability.RecordServiceCall("expired")
		b.logger.Warn().Str("service", call.Service).Str("caller", call.CallerID).Str("provider", call.ProviderID).Msg("service call expired")
		errs = multierr.Append(errs, b.failCall(call))
	}
	return len(expired), errs
}

func (b *Broker) failCall(call session.PendingCall) error {
	caller, ok := b.lookupPeer(call.CallerID)
	if !ok {
		return nil
	}
	return b.respond(caller, call.Service, "", call.CallerCallID, nil, false)
}

func (b *Broker) respond(to Peer, name, serviceType, id string, values *message.Message, result bool) error {
	if values == nil {
		values = message.New("")
	}
	data, err := to.Codec().EncodeServiceResponse(name, serviceType, id, values, result)
	if err != nil {
		observability.RecordSendFailure(schema.OpServiceResponse.String(), "encode")
		b.logger.Warn().Err(err).Str("peer", to.ID()).Str("service", name).Msg("service_response encode failed")
		return err
	}
	return b.send(to, schema.OpServiceResponse, data)
}
