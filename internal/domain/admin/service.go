package admin

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/opsdeck/opsdeck/internal/broadcast"
	"github.com/opsdeck/opsdeck/internal/domain/account"
	"github.com/opsdeck/opsdeck/internal/domain/session"
)

var (
	// ErrInvalidCredentials is returned for a bad admin username or
	// password.
	ErrInvalidCredentials = errors.New("invalid admin credentials")
)

// Service drives admin sessions and the account-facing admin actions:
// issuing and revoking provisioning tokens and force-logging accounts
// out.
type Service struct {
	admins   Repository
	accounts account.Repository
	sessions *session.Manager
	issuer   *TokenIssuer
	ttl      time.Duration
	now      func() time.Time
}

// NewService creates the admin service. ttl is the absolute admin
// session lifetime.
func NewService(admins Repository, accounts account.Repository, sessions *session.Manager, issuer *TokenIssuer, ttl time.Duration) *Service {
	return &Service{
		admins:   admins,
		accounts: accounts,
		sessions: sessions,
		issuer:   issuer,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Login authenticates an admin and issues a session pair with an
// absolute expiry. A prior admin session is simply replaced.
func (s *Service) Login(username, password string) (*session.Grant, error) {
	adm, err := s.admins.GetByUsername(username)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if !account.VerifyPassword(password, adm.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	token, err := session.NewToken()
	if err != nil {
		return nil, err
	}
	sessionID := uuid.New().String()

	now := s.now().UTC()
	if err := s.admins.SetSession(adm.ID, token, sessionID, now.Add(s.ttl), now); err != nil {
		return nil, err
	}

	return &session.Grant{AccountID: adm.ID, Token: token, SessionID: sessionID}, nil
}

// Validate checks an admin session proof. nil means unauthenticated;
// an expired session is cleared on sight.
func (s *Service) Validate(p session.Proof) (*Admin, error) {
	adm, err := s.admins.GetByID(p.AccountID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	if !adm.HasSession() {
		return nil, nil
	}
	if adm.SessionExpiresAt == nil || s.now().After(*adm.SessionExpiresAt) {
		_ = s.admins.ClearSession(adm.ID)
		return nil, nil
	}
	if subtle.ConstantTimeCompare([]byte(*adm.SessionToken), []byte(p.Token)) != 1 {
		return nil, nil
	}

	return adm, nil
}

// Logout clears the admin's session pair.
func (s *Service) Logout(p session.Proof) error {
	adm, err := s.admins.GetByID(p.AccountID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}
	if adm.SessionToken == nil ||
		subtle.ConstantTimeCompare([]byte(*adm.SessionToken), []byte(p.Token)) != 1 {
		return nil
	}
	return s.admins.ClearSession(adm.ID)
}

// IssueToken mints a provisioning token for the account and mirrors
// its expiry into the credential store. Re-issuing clears any prior
// revocation.
func (s *Service) IssueToken(accountID uuid.UUID) (string, time.Time, error) {
	if _, err := s.accounts.GetByID(accountID); err != nil {
		return "", time.Time{}, err
	}

	token, exp, err := s.issuer.Issue(accountID)
	if err != nil {
		return "", time.Time{}, err
	}

	if err := s.accounts.SetAccessToken(accountID, token, exp); err != nil {
		return "", time.Time{}, err
	}

	return token, exp, nil
}

// RevokeToken marks the account's provisioning token revoked. The
// account's live session, if any, dies on its next validation via the
// token-expiry cascade; revoking also proactively terminates it so
// the account does not stay deployed until it next phones in.
func (s *Service) RevokeToken(ctx context.Context, accountID uuid.UUID) error {
	if err := s.accounts.RevokeAccessToken(accountID); err != nil {
		return err
	}

	acct, err := s.accounts.GetByID(accountID)
	if err != nil {
		return err
	}
	if acct.HasSession() || !acct.Deployment().Empty() {
		return s.sessions.Revoke(ctx, accountID, broadcast.ReasonTokenExpiredOrRevoked)
	}
	return nil
}

// ForceLogout terminates whatever session and job the account holds.
func (s *Service) ForceLogout(ctx context.Context, accountID uuid.UUID) error {
	return s.sessions.Revoke(ctx, accountID, broadcast.ReasonAdminRevoked)
}
