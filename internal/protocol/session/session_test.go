package session

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/danmuck/wsbridge/internal/testutil/testlog"
	"go.uber.org/multierr"
)

func TestNextBackoffDelayDeterministicNoJitter(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		Jitter:       false,
	}
	if got := NextBackoffDelay(cfg, 1, nil); got != 250*time.Millisecond {
		t.Fatalf("attempt1 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 2, nil); got != 500*time.Millisecond {
		t.Fatalf("attempt2 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 3, nil); got != time.Second {
		t.Fatalf("attempt3 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 6, nil); got != 5*time.Second {
		t.Fatalf("attempt6 got=%v", got)
	}
	if got := NextBackoffDelay(BackoffConfig{}, 3, nil); got != 0 {
		t.Fatalf("zero config got=%v", got)
	}
}

func TestNextBackoffDelayJitterRange(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		Jitter:       true,
	}
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		got := NextBackoffDelay(cfg, 1, rng)
		if got < 125*time.Millisecond || got >= 375*time.Millisecond {
			t.Fatalf("jitter out of range: %v", got)
		}
	}
}

func TestConfigWithDefaults(t *testing.T) {
	testlog.Start(t)
	got := Config{SendQueue: 4, ReadTimeout: 10 * time.Second}.WithDefaults()
	def := DefaultConfig()
	if got.SendQueue != 4 || got.ReadTimeout != 10*time.Second {
		t.Fatalf("explicit values overwritten: %+v", got)
	}
	if got.WriteTimeout != def.WriteTimeout || got.CallTimeout != def.CallTimeout || got.MaxMessageBytes != def.MaxMessageBytes {
		t.Fatalf("defaults not applied: %+v", got)
	}
	if got.PingInterval >= got.ReadTimeout {
		t.Fatalf("ping interval %v must stay below read timeout %v", got.PingInterval, got.ReadTimeout)
	}
	if got.Limits().MaxPayloadBytes != def.MaxMessageBytes {
		t.Fatalf("unexpected limits: %+v", got.Limits())
	}
}

func TestRetryStopsOnSuccess(t *testing.T) {
	testlog.Start(t)
	calls := 0
	err := Retry(context.Background(), BackoffConfig{InitialDelay: time.Millisecond}, 5, nil, func(attempt int) error {
		calls++
		if attempt < 3 {
			return errors.New("refused")
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("expected success on third attempt, calls=%d err=%v", calls, err)
	}
}

func TestRetryCombinesErrors(t *testing.T) {
	testlog.Start(t)
	boom := errors.New("refused")
	err := Retry(context.Background(), BackoffConfig{InitialDelay: time.Millisecond}, 3, nil, func(int) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped attempt error, got %v", err)
	}
	if n := len(multierr.Errors(err)); n != 3 {
		t.Fatalf("expected 3 attempt errors, got %d", n)
	}
}

func TestRetryHonorsContext(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, BackoffConfig{InitialDelay: time.Hour}, 5, nil, func(int) error {
		return errors.New("refused")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestCallTableLifecycle(t *testing.T) {
	testlog.Start(t)
	table := NewCallTable()
	now := time.Unix(1700000000, 0)
	table.Put(PendingCall{
		RelayID:      "relay.1",
		Service:      "/add",
		CallerID:     "peer.a",
		CallerCallID: "7",
		ProviderID:   "peer.b",
		IssuedAt:     now,
		Deadline:     now.Add(30 * time.Second),
	})
	table.Put(PendingCall{RelayID: "  "})
	if table.Len() != 1 {
		t.Fatalf("unexpected len=%d", table.Len())
	}
	if call, ok := table.Get("relay.1"); !ok || call.CallerCallID != "7" {
		t.Fatalf("unexpected pending call: %+v", call)
	}
	call, ok := table.Take("relay.1")
	if !ok || call.ProviderID != "peer.b" {
		t.Fatalf("take failed: %+v", call)
	}
	if _, ok := table.Take("relay.1"); ok {
		t.Fatalf("call should be taken once")
	}
}

func TestCallTableExpired(t *testing.T) {
	testlog.Start(t)
	table := NewCallTable()
	now := time.Unix(1700000000, 0)
	table.Put(PendingCall{RelayID: "b", Deadline: now.Add(-time.Second)})
	table.Put(PendingCall{RelayID: "a", Deadline: now})
	table.Put(PendingCall{RelayID: "c", Deadline: now.Add(time.Second)})
	table.Put(PendingCall{RelayID: "d"})
	expired := table.Expired(now)
	if len(expired) != 2 || expired[0].RelayID != "a" || expired[1].RelayID != "b" {
		t.Fatalf("unexpected expired calls: %+v", expired)
	}
	if table.Len() != 2 {
		t.Fatalf("expired calls should be removed, len=%d", table.Len())
	}
}

func TestCallTableDropPeer(t *testing.T) {
	testlog.Start(t)
	table := NewCallTable()
	table.Put(PendingCall{RelayID: "1", CallerID: "a", ProviderID: "b"})
	table.Put(PendingCall{RelayID: "2", CallerID: "b", ProviderID: "c"})
	table.Put(PendingCall{RelayID: "3", CallerID: "c", ProviderID: "a"})
	asCaller, asProvider := table.DropPeer("b")
	if len(asCaller) != 1 || asCaller[0].RelayID != "2" {
		t.Fatalf("unexpected caller calls: %+v", asCaller)
	}
	if len(asProvider) != 1 || asProvider[0].RelayID != "1" {
		t.Fatalf("unexpected provider calls: %+v", asProvider)
	}
	if list := table.List(); len(list) != 1 || list[0].RelayID != "3" {
		t.Fatalf("unexpected remaining calls: %+v", list)
	}
}
