package broadcast

import (
	"context"
	"testing"
	"time"
)

func TestMemoryBroker_PublishReachesAllSubscribers(t *testing.T) {
	b := NewMemoryBroker()
	ctx := context.Background()

	ch1, stop1, err := b.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe() unexpected error: %v", err)
	}
	defer stop1()

	ch2, stop2, err := b.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe() unexpected error: %v", err)
	}
	defer stop2()

	ev := Event{
		Type:         EventSessionTerminated,
		UserID:       "user-1",
		Reason:       ReasonNewSessionOpenedElsewhere,
		OldSessionID: "sid-1",
	}
	if err := b.Publish(ctx, ev); err != nil {
		t.Fatalf("Publish() unexpected error: %v", err)
	}

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case got := <-ch:
			if got != ev {
				t.Errorf("subscriber %d got %+v, want %+v", i, got, ev)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d did not receive the event", i)
		}
	}
}

func TestMemoryBroker_StopUnsubscribes(t *testing.T) {
	b := NewMemoryBroker()
	ctx := context.Background()

	ch, stop, err := b.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe() unexpected error: %v", err)
	}

	stop()
	// Stop must be safe to call twice.
	stop()

	if _, ok := <-ch; ok {
		t.Errorf("channel should be closed after stop")
	}

	if err := b.Publish(ctx, Event{Type: EventTokenExpired, UserID: "user-1"}); err != nil {
		t.Errorf("Publish() after unsubscribe should not error: %v", err)
	}
}

func TestMemoryBroker_SlowSubscriberDoesNotBlockPublish(t *testing.T) {
	b := NewMemoryBroker()
	ctx := context.Background()

	_, stop, err := b.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe() unexpected error: %v", err)
	}
	defer stop()

	// Fill beyond the subscriber buffer without draining; Publish must
	// keep returning promptly (events are dropped, at-most-once).
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			_ = b.Publish(ctx, Event{Type: EventSessionTerminated, UserID: "user-1"})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
}
