package session

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/opsdeck/opsdeck/internal/broadcast"
	"github.com/opsdeck/opsdeck/internal/domain/account"
	"github.com/opsdeck/opsdeck/internal/metrics"
)

var (
	// ErrInvalidCredentials is returned on a wrong username or
	// password; it never distinguishes which.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrTeardownBlocked is returned when a superseding login could
	// not tear down the previous session's job. Blocking the login is
	// deliberate: better than silently orphaning a running job nobody
	// can see.
	ErrTeardownBlocked = errors.New("could not stop the job owned by the previous session")
	// ErrConcurrentLogin is returned when another login claimed the
	// session slot between the password check and the write.
	ErrConcurrentLogin = errors.New("another login claimed the session concurrently")
)

// dummyHash burns the same verification effort for unknown usernames
// as for known ones.
const dummyHash = "$argon2id$v=19$m=65536,t=2,p=2$AAAAAAAAAAAAAAAAAAAAAA$vvYKsw3krRPQ3qIDkpyUQMLPYYqwh0RREJ3v6Nm0xJ0"

// Proof is the session triple a client presents on every request.
type Proof struct {
	AccountID uuid.UUID
	Token     string
	SessionID string
}

// Grant is a freshly issued session pair. Token authenticates the
// bearer; SessionID identifies which concurrent browsing context this
// is, so later supersession can name the loser.
type Grant struct {
	AccountID uuid.UUID
	Token     string
	SessionID string
}

// Session is the result of a successful validation.
type Session struct {
	Account   *account.Account
	SessionID string
}

// Undeployer tears down any job tracked for the account. ok reports
// whether the remote stop calls fully succeeded; the local bookkeeping
// is cleared either way.
type Undeployer interface {
	Undeploy(ctx context.Context, acct *account.Account) (ok bool, err error)
}

// Manager owns the single-active-session invariant for accounts.
type Manager struct {
	accounts  account.Repository
	undeploy  Undeployer
	publisher broadcast.Publisher
	metrics   *metrics.Collector
	now       func() time.Time
}

// NewManager creates a session manager.
func NewManager(accounts account.Repository, undeploy Undeployer, publisher broadcast.Publisher, collector *metrics.Collector) *Manager {
	return &Manager{
		accounts:  accounts,
		undeploy:  undeploy,
		publisher: publisher,
		metrics:   collector,
		now:       time.Now,
	}
}

// Claim verifies the credentials and claims the account's session
// slot. An existing session is superseded: its job is torn down (a
// hard requirement; failure rejects this login) and a
// session_terminated event names the displaced session id.
func (m *Manager) Claim(ctx context.Context, username, password string) (*Grant, error) {
	acct, err := m.accounts.GetByUsername(username)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			account.VerifyPassword(password, dummyHash)
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if !account.VerifyPassword(password, acct.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	expectedToken := acct.SessionToken
	if acct.HasSession() {
		ok, err := m.undeploy.Undeploy(ctx, acct)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrTeardownBlocked, err)
		}
		if !ok {
			return nil, ErrTeardownBlocked
		}

		m.publish(ctx, broadcast.Event{
			Type:         broadcast.EventSessionTerminated,
			UserID:       acct.ID.String(),
			Reason:       broadcast.ReasonNewSessionOpenedElsewhere,
			OldSessionID: *acct.ActiveSessionID,
		})
		m.metrics.RecordSupersession()
	}

	token, err := NewToken()
	if err != nil {
		return nil, err
	}
	sessionID := uuid.New().String()

	won, err := m.accounts.ClaimSession(acct.ID, expectedToken, token, sessionID, m.now().UTC())
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, ErrConcurrentLogin
	}

	return &Grant{AccountID: acct.ID, Token: token, SessionID: sessionID}, nil
}

// Validate checks a presented session proof. It returns (nil, nil)
// for every unauthenticated outcome, including silent supersession;
// errors are reserved for store failures.
//
// The checks run in a fixed order: provisioning-token expiry and
// revocation first (with a full teardown cascade), then constant-time
// token equality, then session-id reconciliation: whichever tab asks
// first with a new session id becomes primary, and the displaced id
// is broadcast.
func (m *Manager) Validate(ctx context.Context, p Proof) (*Session, error) {
	acct, err := m.accounts.GetByID(p.AccountID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	if m.accessTokenDead(acct) {
		m.expireSession(ctx, acct)
		return nil, nil
	}

	if acct.SessionToken == nil {
		return nil, nil
	}
	if subtle.ConstantTimeCompare([]byte(*acct.SessionToken), []byte(p.Token)) != 1 {
		// Supersession: someone else's login already rotated the
		// token. The caller is simply unauthenticated.
		return nil, nil
	}

	if acct.ActiveSessionID == nil || *acct.ActiveSessionID != p.SessionID {
		oldSessionID := acct.ActiveSessionID

		// Read-then-write; a lost race costs one extra broadcast,
		// never a safety violation.
		if err := m.accounts.UpdateActiveSessionID(acct.ID, p.SessionID); err != nil {
			slog.Warn("Failed to reconcile active session id",
				"account_id", acct.ID.String(), "error", err)
		}

		if oldSessionID != nil && *oldSessionID != p.SessionID {
			m.publish(ctx, broadcast.Event{
				Type:         broadcast.EventSessionTerminated,
				UserID:       acct.ID.String(),
				Reason:       broadcast.ReasonNewSessionOpenedElsewhere,
				OldSessionID: *oldSessionID,
			})
		}

		sid := p.SessionID
		acct.ActiveSessionID = &sid
	}

	return &Session{Account: acct, SessionID: p.SessionID}, nil
}

// Logout tears down the account's job best-effort, clears the session
// pair, stamps the logout cooldown and notifies other tabs.
func (m *Manager) Logout(ctx context.Context, p Proof) error {
	acct, err := m.accounts.GetByID(p.AccountID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}

	if acct.SessionToken == nil ||
		subtle.ConstantTimeCompare([]byte(*acct.SessionToken), []byte(p.Token)) != 1 {
		// The pair was already rotated or cleared; nothing to do.
		return nil
	}

	if ok, err := m.undeploy.Undeploy(ctx, acct); err != nil || !ok {
		slog.Warn("Best-effort teardown on logout failed",
			"account_id", acct.ID.String(), "error", err)
	}

	if err := m.accounts.ClearSession(acct.ID, m.now().UTC()); err != nil {
		return err
	}

	m.publish(ctx, broadcast.Event{
		Type:         broadcast.EventSessionTerminated,
		UserID:       acct.ID.String(),
		Reason:       broadcast.ReasonLogout,
		OldSessionID: p.SessionID,
	})

	return nil
}

// Revoke force-terminates whatever session the account holds. Used by
// admin action; teardown is best-effort.
func (m *Manager) Revoke(ctx context.Context, accountID uuid.UUID, reason string) error {
	acct, err := m.accounts.GetByID(accountID)
	if err != nil {
		return err
	}

	if ok, err := m.undeploy.Undeploy(ctx, acct); err != nil || !ok {
		slog.Warn("Best-effort teardown on revocation failed",
			"account_id", acct.ID.String(), "error", err)
	}

	if !acct.HasSession() {
		return nil
	}

	if err := m.accounts.ClearSession(acct.ID, m.now().UTC()); err != nil {
		return err
	}

	m.publish(ctx, broadcast.Event{
		Type:         broadcast.EventSessionTerminated,
		UserID:       acct.ID.String(),
		Reason:       reason,
		OldSessionID: *acct.ActiveSessionID,
	})

	return nil
}

// accessTokenDead reports whether the provisioning token no longer
// permits a session.
func (m *Manager) accessTokenDead(acct *account.Account) bool {
	if acct.AccessTokenRevoked {
		return true
	}
	if acct.AccessTokenExpiresAt != nil && m.now().After(*acct.AccessTokenExpiresAt) {
		return true
	}
	return false
}

// expireSession is the validate-time cascade for a dead provisioning
// token: teardown, clear all session fields, broadcast token_expired.
func (m *Manager) expireSession(ctx context.Context, acct *account.Account) {
	if ok, err := m.undeploy.Undeploy(ctx, acct); err != nil || !ok {
		slog.Warn("Best-effort teardown on token expiry failed",
			"account_id", acct.ID.String(), "error", err)
	}

	if acct.HasSession() {
		if err := m.accounts.ClearSession(acct.ID, m.now().UTC()); err != nil {
			slog.Warn("Failed to clear session on token expiry",
				"account_id", acct.ID.String(), "error", err)
		}
	}

	m.publish(ctx, broadcast.Event{
		Type:   broadcast.EventTokenExpired,
		UserID: acct.ID.String(),
		Reason: broadcast.ReasonTokenExpiredOrRevoked,
	})
}

// publish is fire-and-forget: delivery problems are logged, never
// surfaced, since validation re-checks on every request anyway.
func (m *Manager) publish(ctx context.Context, ev broadcast.Event) {
	if err := m.publisher.Publish(ctx, ev); err != nil {
		slog.Warn("Failed to publish broadcast event",
			"type", string(ev.Type), "user_id", ev.UserID, "error", err)
		return
	}
	m.metrics.RecordBroadcast(string(ev.Type))
}
