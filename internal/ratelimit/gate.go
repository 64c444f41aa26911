// Package ratelimit is the login gate: a sliding-window throttle on
// authentication attempts per username plus a fixed cooldown after
// logout. The gate fails open when its bookkeeping store is
// unreachable; the password check remains the security boundary.
package ratelimit

import (
	"errors"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/opsdeck/opsdeck/internal/domain/account"
)

// Decision is the gate's verdict for one attempt. RetryAfter is only
// meaningful when Allowed is false.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// AccountSource is the slice of the credential store the gate reads
// for the post-logout cooldown.
type AccountSource interface {
	GetByUsername(username string) (*account.Account, error)
}

// Gate throttles login attempts.
type Gate struct {
	attempts AttemptStore
	accounts AccountSource

	window         time.Duration
	maxAttempts    int
	logoutCooldown time.Duration

	now func() time.Time
}

// Config carries the gate's tunables.
type Config struct {
	Window         time.Duration
	MaxAttempts    int
	LogoutCooldown time.Duration
}

// NewGate creates a login gate over the given attempt store. accounts
// is consulted for the post-logout cooldown and may answer errors;
// the gate treats those as "allow".
func NewGate(attempts AttemptStore, accounts AccountSource, cfg Config) *Gate {
	return &Gate{
		attempts:       attempts,
		accounts:       accounts,
		window:         cfg.Window,
		maxAttempts:    cfg.MaxAttempts,
		logoutCooldown: cfg.LogoutCooldown,
		now:            time.Now,
	}
}

// CheckAndRecord decides whether a login attempt for username may
// proceed and records the attempt. When denied, Decision.RetryAfter
// carries the wait the caller should surface.
func (g *Gate) CheckAndRecord(username string) Decision {
	now := g.now()

	if d := g.checkLogoutCooldown(username, now); !d.Allowed {
		return d
	}

	recent, err := g.attempts.RecentAttempts(username, now.Add(-g.window))
	if err != nil {
		// Fail open: a degraded limiter must not lock everyone out.
		slog.Warn("Rate-limit store unreachable, allowing attempt", "error", err, "username", username)
		return Decision{Allowed: true}
	}

	if len(recent) >= g.maxAttempts {
		mostRecent := recent[len(recent)-1]
		retryAfter := g.window - now.Sub(mostRecent)
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		if err := g.attempts.RecordLoginAttempt(username, now); err != nil {
			slog.Warn("Failed to record login attempt", "error", err, "username", username)
		}
		return Decision{Allowed: false, RetryAfter: retryAfter}
	}

	if err := g.attempts.RecordLoginAttempt(username, now); err != nil {
		slog.Warn("Failed to record login attempt", "error", err, "username", username)
	}

	return Decision{Allowed: true}
}

func (g *Gate) checkLogoutCooldown(username string, now time.Time) Decision {
	acct, err := g.accounts.GetByUsername(username)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			slog.Warn("Credential store unreachable for cooldown check, allowing attempt", "error", err, "username", username)
		}
		// Unknown usernames pass through; the password check rejects them.
		return Decision{Allowed: true}
	}

	if acct.LastLogoutAt == nil {
		return Decision{Allowed: true}
	}

	readyAt := acct.LastLogoutAt.Add(g.logoutCooldown)
	if now.Before(readyAt) {
		return Decision{Allowed: false, RetryAfter: readyAt.Sub(now)}
	}

	return Decision{Allowed: true}
}
