// Package client implements the invalidation listener a logged-in
// frontend runs against the broadcast channel. It decides locally
// whether an event means this session is dead; the server never
// addresses a specific listener.
package client

import (
	"context"
	"log/slog"
	"sync"

	"github.com/opsdeck/opsdeck/internal/broadcast"
)

// Listener watches the broadcast channel for events that invalidate
// its own session. OnInvalidate fires at most once, no matter how
// many qualifying events arrive or in which order.
type Listener struct {
	AccountID string
	SessionID string

	// OnInvalidate is called once, with the event's reason, when the
	// session this listener represents has been terminated.
	OnInvalidate func(reason string)

	once sync.Once
}

// Matches reports whether the event invalidates this listener's
// session. Token expiry kills every session of the account; a
// session_terminated event kills this one unless it explicitly names
// a different displaced session id.
func (l *Listener) Matches(ev broadcast.Event) bool {
	if ev.UserID != l.AccountID {
		return false
	}
	if ev.Type == broadcast.EventTokenExpired {
		return true
	}
	return ev.OldSessionID == "" || ev.OldSessionID == l.SessionID
}

// Run consumes the subscription until ctx is cancelled or the channel
// closes. It keeps draining after firing so a slow teardown upstream
// cannot back the broker up.
func (l *Listener) Run(ctx context.Context, sub broadcast.Subscriber) error {
	events, stop, err := sub.Subscribe(ctx)
	if err != nil {
		return err
	}
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			l.handle(ev)
		}
	}
}

// Handle applies one event. Exposed for transports that already own
// the receive loop, like an SSE reader.
func (l *Listener) Handle(ev broadcast.Event) {
	l.handle(ev)
}

func (l *Listener) handle(ev broadcast.Event) {
	if !l.Matches(ev) {
		return
	}
	l.once.Do(func() {
		slog.Info("Session invalidated by broadcast",
			"account_id", l.AccountID, "session_id", l.SessionID, "reason", ev.Reason)
		if l.OnInvalidate != nil {
			l.OnInvalidate(ev.Reason)
		}
	})
}
