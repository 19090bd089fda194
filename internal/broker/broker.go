// Package broker routes decoded protocol messages between connected peers.
//
// Broker implements protocol.Endpoint. The Handle passed through the codec
// must be the Peer the message arrived on. Topics fan publications out to
// subscribers; services relay calls to the advertising peer and route the
// response back under the caller's id.
package broker

import (
	"sort"
	"sync"
	"time"

	"github.com/danmuck/wsbridge/internal/message"
	"github.com/danmuck/wsbridge/internal/observability"
	"github.com/danmuck/wsbridge/internal/protocol"
	"github.com/danmuck/wsbridge/internal/protocol/schema"
	"github.com/danmuck/wsbridge/internal/protocol/session"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"
)

// Peer is one connected client. Send must not block on the network.
type Peer interface {
	ID() string
	Codec() *protocol.Codec
	Send(data []byte) error
}

type topic struct {
	name    string
	msgType string
	// peer id -> client-chosen ids
	publishers  map[string]map[string]struct{}
	subscribers map[string]map[string]struct{}
}

func (t *topic) empty() bool {
	return len(t.publishers) == 0 && len(t.subscribers) == 0
}

type service struct {
	name        string
	serviceType string
	providerID  string
}

type Broker struct {
	mu       sync.Mutex
	peers    map[string]Peer
	topics   map[string]*topic
	services map[string]*service

	calls       *session.CallTable
	callTimeout time.Duration
	now         func() time.Time
	logger      zerolog.Logger
}

var _ protocol.Endpoint = (*Broker)(nil)

func New(cfg session.Config) *Broker {
	cfg = cfg.WithDefaults()
	return &Broker{
		peers:       make(map[string]Peer),
		topics:      make(map[string]*topic),
		services:    make(map[string]*service),
		calls:       session.NewCallTable(),
		callTimeout: cfg.CallTimeout,
		now:         time.Now,
		logger:      observability.Logger("broker"),
	}
}

// Attach registers p so it can receive relayed messages.
func (b *Broker) Attach(p Peer) {
	b.mu.Lock()
	b.peers[p.ID()] = p
	b.mu.Unlock()
	b.logger.Info().Str("peer", p.ID()).Str("encoding", p.Codec().Encoding()).Msg("peer attached")
}

// Detach removes every registration held by p. Calls p was serving are
// answered with result=false; calls p issued are dropped.
func (b *Broker) Detach(p Peer) error {
	id := p.ID()
	b.mu.Lock()
	delete(b.peers, id)
	for name, t := range b.topics {
		delete(t.publishers, id)
		delete(t.subscribers, id)
		if t.empty() {
			delete(b.topics, name)
		}
	}
	for name, s := range b.services {
		if s.providerID == id {
			delete(b.services, name)
		}
	}
	b.mu.Unlock()

	asCaller, asProvider := b.calls.DropPeer(id)
	var errs error
	for _, call := range asProvider {
		observability.RecordServiceCall("provider_gone")
		errs = multierr.Append(errs, b.failCall(call))
	}
	b.logger.Info().
		Str("peer", id).
		Int("dropped_calls", len(asCaller)).
		Int("failed_calls", len(asProvider)).
		Msg("peer detached")
	return errs
}

func (b *Broker) peerFrom(h protocol.Handle, op schema.Op) (Peer, bool) {
	observability.RecordMessageIn(op.String())
	p, ok := h.(Peer)
	if !ok || p == nil {
		b.logger.Warn().Str("op", op.String()).Msgf("message without peer handle (%T)", h)
		return nil, false
	}
	b.mu.Lock()
	if _, known := b.peers[p.ID()]; !known {
		b.peers[p.ID()] = p
	}
	b.mu.Unlock()
	return p, true
}

func (b *Broker) topicLocked(name string) *topic {
	t, ok := b.topics[name]
	if !ok {
		t = &topic{
			name:        name,
			publishers:  make(map[string]map[string]struct{}),
			subscribers: make(map[string]map[string]struct{}),
		}
		b.topics[name] = t
	}
	return t
}

// claimTypeLocked records msgType on t, rejecting a conflicting type.
func (b *Broker) claimTypeLocked(t *topic, msgType string) bool {
	if msgType == "" || t.msgType == msgType {
		return true
	}
	if t.msgType == "" {
		t.msgType = msgType
		return true
	}
	return false
}

func addID(set map[string]map[string]struct{}, peerID, id string) {
	ids, ok := set[peerID]
	if !ok {
		ids = make(map[string]struct{})
		set[peerID] = ids
	}
	ids[id] = struct{}{}
}

// removeID removes id for peerID, or every id when id is empty.
func removeID(set map[string]map[string]struct{}, peerID, id string) {
	ids, ok := set[peerID]
	if !ok {
		return
	}
	if id == "" {
		delete(set, peerID)
		return
	}
	delete(ids, id)
	if len(ids) == 0 {
		delete(set, peerID)
	}
}

func (b *Broker) ReceiveTopicAdvertisement(name, msgType, id string, h protocol.Handle) {
	p, ok := b.peerFrom(h, schema.OpAdvertise)
	if !ok {
		return
	}
	b.mu.Lock()
	t := b.topicLocked(name)
	if !b.claimTypeLocked(t, msgType) {
		have := t.msgType
		if t.empty() {
			delete(b.topics, name)
		}
		b.mu.Unlock()
		b.logger.Warn().Str("peer", p.ID()).Str("topic", name).Str("type", msgType).Str("have", have).Msg("advertise type conflict")
		return
	}
	addID(t.publishers, p.ID(), id)
	b.mu.Unlock()
	b.logger.Debug().Str("peer", p.ID()).Str("topic", name).Str("type", msgType).Msg("topic advertised")
}

func (b *Broker) ReceiveTopicUnadvertisement(name, id string, h protocol.Handle) {
	p, ok := b.peerFrom(h, schema.OpUnadvertise)
	if !ok {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[name]
	if !ok {
		return
	}
	removeID(t.publishers, p.ID(), id)
	if t.empty() {
		delete(b.topics, name)
	}
}

func (b *Broker) ReceiveSubscribeRequest(name, msgType, id string, h protocol.Handle) {
	p, ok := b.peerFrom(h, schema.OpSubscribe)
	if !ok {
		return
	}
	b.mu.Lock()
	t := b.topicLocked(name)
	if !b.claimTypeLocked(t, msgType) {
		have := t.msgType
		b.mu.Unlock()
		b.logger.Warn().Str("peer", p.ID()).Str("topic", name).Str("type", msgType).Str("have", have).Msg("subscribe type conflict")
		return
	}
	addID(t.subscribers, p.ID(), id)
	b.mu.Unlock()
	b.logger.Debug().Str("peer", p.ID()).Str("topic", name).Str("id", id).Msg("subscribed")
}

func (b *Broker) ReceiveUnsubscribeRequest(name, id string, h protocol.Handle) {
	p, ok := b.peerFrom(h, schema.OpUnsubscribe)
	if !ok {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[name]
	if !ok {
		return
	}
	removeID(t.subscribers, p.ID(), id)
	if t.empty() {
		delete(b.topics, name)
	}
}

// ReceivePublication delivers msg to every subscriber of the topic,
// encoding once per wire format.
func (b *Broker) ReceivePublication(name string, msg *message.Message, h protocol.Handle) {
	p, ok := b.peerFrom(h, schema.OpPublish)
	if !ok {
		return
	}
	b.mu.Lock()
	t, ok := b.topics[name]
	if !ok {
		b.mu.Unlock()
		b.logger.Debug().Str("peer", p.ID()).Str("topic", name).Msg("publication without subscribers")
		return
	}
	msgType := t.msgType
	targets := make([]Peer, 0, len(t.subscribers))
	for peerID := range t.subscribers {
		if target, ok := b.peers[peerID]; ok {
			targets = append(targets, target)
		}
	}
	b.mu.Unlock()

	encoded := make(map[string][]byte, 2)
	for _, target := range targets {
		codec := target.Codec()
		data, ok := encoded[codec.Encoding()]
		if !ok {
			var err error
			data, err = codec.EncodePublication(name, msgType, "", msg)
			if err != nil {
				observability.RecordSendFailure(schema.OpPublish.String(), "encode")
				b.logger.Warn().Err(err).Str("topic", name).Str("encoding", codec.Encoding()).Msg("publication encode failed")
				continue
			}
			encoded[codec.Encoding()] = data
		}
		_ = b.send(target, schema.OpPublish, data)
	}
}

func (b *Broker) send(target Peer, op schema.Op, data []byte) error {
	if err := target.Send(data); err != nil {
		observability.RecordSendFailure(op.String(), "send")
		b.logger.Warn().Err(err).Str("peer", target.ID()).Str("op", op.String()).Msg("send failed")
		return err
	}
	observability.RecordMessageOut(op.String())
	return nil
}

func (b *Broker) lookupPeer(id string) (Peer, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.peers[id]
	return p, ok
}

// TopicInfo describes one routed topic.
type TopicInfo struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Publishers  int    `json:"publishers"`
	Subscribers int    `json:"subscribers"`
}

type ServiceInfo struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Provider string `json:"provider"`
}

// CallInfo describes one relayed call still waiting for its provider.
type CallInfo struct {
	RelayID  string    `json:"relay_id"`
	Service  string    `json:"service"`
	Caller   string    `json:"caller"`
	Provider string    `json:"provider"`
	Deadline time.Time `json:"deadline"`
}

// Snapshot is a point-in-time view of broker state, ordered by name.
type Snapshot struct {
	Peers        int           `json:"peers"`
	Topics       []TopicInfo   `json:"topics"`
	Services     []ServiceInfo `json:"services"`
	PendingCalls int           `json:"pending_calls"`
	Calls        []CallInfo    `json:"calls"`
}

func (b *Broker) Snapshot() Snapshot {
	b.mu.Lock()
	out := Snapshot{
		Peers:    len(b.peers),
		Topics:   make([]TopicInfo, 0, len(b.topics)),
		Services: make([]ServiceInfo, 0, len(b.services)),
	}
	for _, t := range b.topics {
		out.Topics = append(out.Topics, TopicInfo{
			Name:        t.name,
			Type:        t.msgType,
			Publishers:  len(t.publishers),
			Subscribers: len(t.subscribers),
		})
	}
	for _, s := range b.services {
		out.Services = append(out.Services, ServiceInfo{Name: s.name, Type: s.serviceType, Provider: s.providerID})
	}
	b.mu.Unlock()
	pending := b.calls.List()
	out.PendingCalls = len(pending)
	out.Calls = make([]CallInfo, 0, len(pending))
	for _, call := range pending {
		out.Calls = append(out.Calls, CallInfo{
			RelayID:  call.RelayID,
			Service:  call.Service,
			Caller:   call.CallerID,
			Provider: call.ProviderID,
			Deadline: call.Deadline,
		})
	}
	sort.Slice(out.Topics, func(i, j int) bool { return out.Topics[i].Name < out.Topics[j].Name })
	sort.Slice(out.Services, func(i, j int) bool { return out.Services[i].Name < out.Services[j].Name })
	return out
}
