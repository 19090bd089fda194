package session

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// PendingCall tracks one service request relayed to a provider and not yet
// answered.
type PendingCall struct {
	RelayID      string
	Service      string
	CallerID     string
	CallerCallID string
	ProviderID   string
	IssuedAt     time.Time
	Deadline     time.Time
}

// CallTable stores pending calls by relay id.
type CallTable struct {
	mu    sync.RWMutex
	items map[string]PendingCall
}

func NewCallTable() *CallTable {
	return &CallTable{
		items: make(map[string]PendingCall),
	}
}

// Put records call. Calls without a relay id are dropped.
func (t *CallTable) Put(call PendingCall) {
	key := strings.TrimSpace(call.RelayID)
	if key == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.items[key] = call
}

// Take removes and returns the call for relayID.
func (t *CallTable) Take(relayID string) (PendingCall, bool) {
	key := strings.TrimSpace(relayID)
	t.mu.Lock()
	defer t.mu.Unlock()
	call, ok := t.items[key]
	if ok {
		delete(t.items, key)
	}
	return call, ok
}

func (t *CallTable) Get(relayID string) (PendingCall, bool) {
	key := strings.TrimSpace(relayID)
	t.mu.RLock()
	defer t.mu.RUnlock()
	call, ok := t.items[key]
	return call, ok
}

// Expired removes and returns calls whose deadline is at or before now.
// Calls with a zero deadline never expire.
func (t *CallTable) Expired(now time.Time) []PendingCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []PendingCall
	for key, call := range t.items {
		if call.Deadline.IsZero() || call.Deadline.After(now) {
			continue
		}
		out = append(out, call)
		delete(t.items, key)
	}
	sortCalls(out)
	return out
}

// DropPeer removes every call involving peerID. asCaller holds calls the peer
// issued; asProvider holds calls it was serving, which still need an answer.
func (t *CallTable) DropPeer(peerID string) (asCaller, asProvider []PendingCall) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, call := range t.items {
		switch peerID {
		case call.CallerID:
			asCaller = append(asCaller, call)
		case call.ProviderID:
			asProvider = append(asProvider, call)
		default:
			continue
		}
		delete(t.items, key)
	}
	sortCalls(asCaller)
	sortCalls(asProvider)
	return asCaller, asProvider
}

func (t *CallTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.items)
}

// List returns a snapshot ordered by relay id.
func (t *CallTable) List() []PendingCall {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]PendingCall, 0, len(t.items))
	for _, call := range t.items {
		out = append(out, call)
	}
	sortCalls(out)
	return out
}

func sortCalls(calls []PendingCall) {
	sort.Slice(calls, func(i, j int) bool {
		return calls[i].RelayID < calls[j].RelayID
	})
}
