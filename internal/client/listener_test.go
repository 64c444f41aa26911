package client

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opsdeck/opsdeck/internal/broadcast"
)

func TestListener_Matches(t *testing.T) {
	l := &Listener{AccountID: "acct-1", SessionID: "sess-1"}

	tests := []struct {
		name string
		ev   broadcast.Event
		want bool
	}{
		{
			"other account",
			broadcast.Event{Type: broadcast.EventSessionTerminated, UserID: "acct-2"},
			false,
		},
		{
			"token expiry hits every session",
			broadcast.Event{Type: broadcast.EventTokenExpired, UserID: "acct-1"},
			true,
		},
		{
			"terminated without an old id hits everyone",
			broadcast.Event{Type: broadcast.EventSessionTerminated, UserID: "acct-1"},
			true,
		},
		{
			"terminated naming this session",
			broadcast.Event{Type: broadcast.EventSessionTerminated, UserID: "acct-1", OldSessionID: "sess-1"},
			true,
		},
		{
			"terminated naming another session",
			broadcast.Event{Type: broadcast.EventSessionTerminated, UserID: "acct-1", OldSessionID: "sess-2"},
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := l.Matches(tt.ev); got != tt.want {
				t.Errorf("Matches(%+v) = %v, want %v", tt.ev, got, tt.want)
			}
		})
	}
}

func TestListener_FiresAtMostOnce(t *testing.T) {
	var fired atomic.Int32
	var reason atomic.Value

	l := &Listener{
		AccountID: "acct-1",
		SessionID: "sess-1",
		OnInvalidate: func(r string) {
			fired.Add(1)
			reason.Store(r)
		},
	}

	ev := broadcast.Event{
		Type:         broadcast.EventSessionTerminated,
		UserID:       "acct-1",
		Reason:       broadcast.ReasonNewSessionOpenedElsewhere,
		OldSessionID: "sess-1",
	}

	// Duplicates and a late token expiry: still one firing.
	l.Handle(ev)
	l.Handle(ev)
	l.Handle(broadcast.Event{Type: broadcast.EventTokenExpired, UserID: "acct-1"})

	if got := fired.Load(); got != 1 {
		t.Errorf("OnInvalidate fired %d times, want 1", got)
	}
	if got := reason.Load(); got != broadcast.ReasonNewSessionOpenedElsewhere {
		t.Errorf("reason = %v, want %v", got, broadcast.ReasonNewSessionOpenedElsewhere)
	}
}

func TestListener_IgnoresForeignEvents(t *testing.T) {
	var fired atomic.Int32
	l := &Listener{
		AccountID:    "acct-1",
		SessionID:    "sess-1",
		OnInvalidate: func(string) { fired.Add(1) },
	}

	l.Handle(broadcast.Event{Type: broadcast.EventSessionTerminated, UserID: "acct-2"})
	l.Handle(broadcast.Event{Type: broadcast.EventSessionTerminated, UserID: "acct-1", OldSessionID: "sess-9"})

	if got := fired.Load(); got != 0 {
		t.Errorf("OnInvalidate fired %d times, want 0", got)
	}
}

func TestListener_Run(t *testing.T) {
	broker := broadcast.NewMemoryBroker()
	invalidated := make(chan string, 1)

	l := &Listener{
		AccountID:    "acct-1",
		SessionID:    "sess-1",
		OnInvalidate: func(r string) { invalidated <- r },
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- l.Run(ctx, broker) }()

	// Give the subscriber a moment to register.
	time.Sleep(20 * time.Millisecond)

	_ = broker.Publish(ctx, broadcast.Event{
		Type:   broadcast.EventTokenExpired,
		UserID: "acct-1",
		Reason: broadcast.ReasonTokenExpiredOrRevoked,
	})

	select {
	case r := <-invalidated:
		if r != broadcast.ReasonTokenExpiredOrRevoked {
			t.Errorf("reason = %v", r)
		}
	case <-time.After(time.Second):
		t.Fatalf("listener did not fire")
	}

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Run() = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Run() did not return after cancel")
	}
}
