// Package broadcast carries session-invalidation notices from the
// engine to every connected client. Delivery is fire-and-forget and
// at-most-once: clients must tolerate missed, duplicated and
// out-of-order events, and session validation re-checks on every
// request regardless.
package broadcast

import "context"

// TopicSessionUpdates is the single logical topic all invalidation
// events are published on.
const TopicSessionUpdates = "session_updates"

// EventType discriminates the two invalidation notices.
type EventType string

const (
	// EventSessionTerminated is published when a session pair stops
	// being valid (supersession, logout, admin revocation).
	EventSessionTerminated EventType = "session_terminated"
	// EventTokenExpired is published when an account's provisioning
	// token is found expired or revoked during validation.
	EventTokenExpired EventType = "token_expired"
)

// Reasons carried in Event.Reason.
const (
	ReasonNewSessionOpenedElsewhere = "new_session_opened_elsewhere"
	ReasonLogout                    = "logout"
	ReasonTokenExpiredOrRevoked     = "token_expired_or_revoked"
	ReasonAdminRevoked              = "admin_revoked"
)

// Event is the wire form of an invalidation notice. UserID lets every
// subscriber self-filter; OldSessionID, when present, narrows a
// session_terminated event to the superseded session so that the tab
// holding the new pair does not terminate itself.
type Event struct {
	Type         EventType `json:"type"`
	UserID       string    `json:"user_id"`
	Reason       string    `json:"reason"`
	OldSessionID string    `json:"old_session_id,omitempty"`
}

// Publisher publishes events on the session_updates topic.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Subscriber delivers the topic's events. The returned stop function
// releases the subscription; after calling it the channel is closed.
type Subscriber interface {
	Subscribe(ctx context.Context) (<-chan Event, func(), error)
}

// Broker combines both halves of the channel.
type Broker interface {
	Publisher
	Subscriber
}
