package admin

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/opsdeck/opsdeck/internal/broadcast"
	"github.com/opsdeck/opsdeck/internal/domain/account"
	"github.com/opsdeck/opsdeck/internal/domain/session"
)

type fakeAdminRepo struct {
	mu     sync.Mutex
	admins map[uuid.UUID]*Admin
}

func newFakeAdminRepo() *fakeAdminRepo {
	return &fakeAdminRepo{admins: make(map[uuid.UUID]*Admin)}
}

func (r *fakeAdminRepo) Create(a *Admin) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	cp := *a
	r.admins[a.ID] = &cp
	return nil
}

func (r *fakeAdminRepo) GetByID(id uuid.UUID) (*Admin, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.admins[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *fakeAdminRepo) GetByUsername(username string) (*Admin, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.admins {
		if a.Username == username {
			cp := *a
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeAdminRepo) SetSession(id uuid.UUID, token, sessionID string, expiresAt, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.admins[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	a.SessionToken = &token
	a.ActiveSessionID = &sessionID
	a.SessionExpiresAt = &expiresAt
	a.LastLoginAt = &now
	return nil
}

func (r *fakeAdminRepo) ClearSession(id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.admins[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	a.SessionToken = nil
	a.ActiveSessionID = nil
	a.SessionExpiresAt = nil
	return nil
}

// fakeAccounts is the thin slice of account.Repository the admin
// service touches.
type fakeAccounts struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]*account.Account
}

func newFakeAccounts() *fakeAccounts {
	return &fakeAccounts{accounts: make(map[uuid.UUID]*account.Account)}
}

func (r *fakeAccounts) Create(a *account.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	cp := *a
	r.accounts[a.ID] = &cp
	return nil
}

func (r *fakeAccounts) GetByID(id uuid.UUID) (*account.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *fakeAccounts) GetByUsername(username string) (*account.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.accounts {
		if a.Username == username {
			cp := *a
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeAccounts) ClaimSession(id uuid.UUID, expectedToken *string, newToken, newSessionID string, now time.Time) (bool, error) {
	return false, errors.New("not used")
}

func (r *fakeAccounts) ClearSession(id uuid.UUID, logoutAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	a.SessionToken = nil
	a.ActiveSessionID = nil
	a.LastLogoutAt = &logoutAt
	return nil
}

func (r *fakeAccounts) UpdateActiveSessionID(id uuid.UUID, sessionID string) error {
	return nil
}

func (r *fakeAccounts) SetDeployment(id uuid.UUID, d account.Deployment) error {
	return nil
}

func (r *fakeAccounts) ClearDeployment(id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	a.DeployedAt = nil
	a.JobSlot = nil
	a.ExternalRunID = nil
	return nil
}

func (r *fakeAccounts) SetAccessToken(id uuid.UUID, token string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	a.AccessToken = &token
	a.AccessTokenExpiresAt = &expiresAt
	a.AccessTokenRevoked = false
	return nil
}

func (r *fakeAccounts) RevokeAccessToken(id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	a.AccessTokenRevoked = true
	return nil
}

func (r *fakeAccounts) RecordLoginAttempt(username string, at time.Time) error { return nil }

func (r *fakeAccounts) RecentAttempts(username string, since time.Time) ([]time.Time, error) {
	return nil, nil
}

type noopUndeployer struct{ calls int }

func (u *noopUndeployer) Undeploy(ctx context.Context, acct *account.Account) (bool, error) {
	u.calls++
	return true, nil
}

func newTestService(t *testing.T) (*Service, *fakeAdminRepo, *fakeAccounts, *broadcast.MemoryBroker, *noopUndeployer) {
	t.Helper()
	admins := newFakeAdminRepo()
	accounts := newFakeAccounts()
	broker := broadcast.NewMemoryBroker()
	und := &noopUndeployer{}
	sessions := session.NewManager(accounts, und, broker, nil)
	svc := NewService(admins, accounts, sessions, NewTokenIssuer(testKey(t), "opsdeck", time.Hour), 30*time.Minute)
	return svc, admins, accounts, broker, und
}

func createAdmin(t *testing.T, repo *fakeAdminRepo, username, password string) *Admin {
	t.Helper()
	hash, err := account.HashPassword(password)
	if err != nil {
		t.Fatalf("Failed to hash password: %v", err)
	}
	adm := &Admin{Username: username, PasswordHash: hash}
	if err := repo.Create(adm); err != nil {
		t.Fatalf("Failed to create admin: %v", err)
	}
	return adm
}

func TestService_LoginAndValidate(t *testing.T) {
	svc, admins, _, _, _ := newTestService(t)
	adm := createAdmin(t, admins, "root", "pw")

	grant, err := svc.Login("root", "pw")
	if err != nil {
		t.Fatalf("Login() unexpected error: %v", err)
	}

	got, err := svc.Validate(session.Proof{AccountID: adm.ID, Token: grant.Token, SessionID: grant.SessionID})
	if err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}
	if got == nil || got.Username != "root" {
		t.Errorf("Validate() = %+v, want the admin", got)
	}

	if _, err := svc.Login("root", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Login() with a bad password: error = %v, want %v", err, ErrInvalidCredentials)
	}
}

func TestService_Validate_AbsoluteExpiry(t *testing.T) {
	svc, admins, _, _, _ := newTestService(t)
	adm := createAdmin(t, admins, "root", "pw")

	grant, err := svc.Login("root", "pw")
	if err != nil {
		t.Fatalf("Login() unexpected error: %v", err)
	}

	svc.now = func() time.Time { return time.Now().Add(31 * time.Minute) }

	got, err := svc.Validate(session.Proof{AccountID: adm.ID, Token: grant.Token, SessionID: grant.SessionID})
	if err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("Validate() past the absolute expiry must return nil")
	}

	stored, _ := admins.GetByID(adm.ID)
	if stored.HasSession() {
		t.Errorf("an expired admin session should be cleared on sight")
	}
}

func TestService_Login_ReplacesPriorSession(t *testing.T) {
	svc, admins, _, _, _ := newTestService(t)
	adm := createAdmin(t, admins, "root", "pw")

	first, err := svc.Login("root", "pw")
	if err != nil {
		t.Fatalf("first Login() unexpected error: %v", err)
	}
	if _, err := svc.Login("root", "pw"); err != nil {
		t.Fatalf("second Login() unexpected error: %v", err)
	}

	got, err := svc.Validate(session.Proof{AccountID: adm.ID, Token: first.Token, SessionID: first.SessionID})
	if err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("a replaced admin session must stop validating")
	}
}

func TestService_IssueToken(t *testing.T) {
	svc, _, accounts, _, _ := newTestService(t)
	acct := &account.Account{Username: "alice"}
	if err := accounts.Create(acct); err != nil {
		t.Fatalf("Create() unexpected error: %v", err)
	}

	token, exp, err := svc.IssueToken(acct.ID)
	if err != nil {
		t.Fatalf("IssueToken() unexpected error: %v", err)
	}
	if token == "" {
		t.Fatalf("IssueToken() returned an empty token")
	}

	stored, _ := accounts.GetByID(acct.ID)
	if stored.AccessToken == nil || *stored.AccessToken != token {
		t.Errorf("the issued token must be mirrored into the store")
	}
	if stored.AccessTokenExpiresAt == nil || !stored.AccessTokenExpiresAt.Equal(exp) {
		t.Errorf("the store expiry must equal the token expiry")
	}
	if stored.AccessTokenRevoked {
		t.Errorf("a fresh token must not be revoked")
	}

	if _, _, err := svc.IssueToken(uuid.New()); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Errorf("IssueToken() for an unknown account: error = %v, want not found", err)
	}
}

func TestService_RevokeToken_TerminatesLiveSession(t *testing.T) {
	svc, _, accounts, broker, und := newTestService(t)

	acct := &account.Account{Username: "alice"}
	if err := accounts.Create(acct); err != nil {
		t.Fatalf("Create() unexpected error: %v", err)
	}
	if _, _, err := svc.IssueToken(acct.ID); err != nil {
		t.Fatalf("IssueToken() unexpected error: %v", err)
	}

	// Give the account a live session.
	tok, sid := "session-token", "session-1"
	accounts.mu.Lock()
	stored := accounts.accounts[acct.ID]
	stored.SessionToken = &tok
	stored.ActiveSessionID = &sid
	accounts.mu.Unlock()

	events, stop, err := broker.Subscribe(context.Background())
	if err != nil {
		t.Fatalf("Subscribe() unexpected error: %v", err)
	}
	defer stop()

	if err := svc.RevokeToken(context.Background(), acct.ID); err != nil {
		t.Fatalf("RevokeToken() unexpected error: %v", err)
	}

	after, _ := accounts.GetByID(acct.ID)
	if !after.AccessTokenRevoked {
		t.Errorf("RevokeToken() must mark the token revoked")
	}
	if after.SessionToken != nil {
		t.Errorf("RevokeToken() must terminate the live session")
	}
	if und.calls != 1 {
		t.Errorf("RevokeToken() should tear the job down, calls = %d", und.calls)
	}

	select {
	case ev := <-events:
		if ev.Reason != broadcast.ReasonTokenExpiredOrRevoked {
			t.Errorf("event reason = %v, want %v", ev.Reason, broadcast.ReasonTokenExpiredOrRevoked)
		}
	case <-time.After(time.Second):
		t.Errorf("expected a broadcast after revocation")
	}
}

func TestService_ForceLogout(t *testing.T) {
	svc, _, accounts, broker, _ := newTestService(t)

	acct := &account.Account{Username: "alice"}
	if err := accounts.Create(acct); err != nil {
		t.Fatalf("Create() unexpected error: %v", err)
	}
	tok, sid := "session-token", "session-1"
	accounts.mu.Lock()
	stored := accounts.accounts[acct.ID]
	stored.SessionToken = &tok
	stored.ActiveSessionID = &sid
	accounts.mu.Unlock()

	events, stop, err := broker.Subscribe(context.Background())
	if err != nil {
		t.Fatalf("Subscribe() unexpected error: %v", err)
	}
	defer stop()

	if err := svc.ForceLogout(context.Background(), acct.ID); err != nil {
		t.Fatalf("ForceLogout() unexpected error: %v", err)
	}

	after, _ := accounts.GetByID(acct.ID)
	if after.HasSession() {
		t.Errorf("ForceLogout() must clear the session pair")
	}

	select {
	case ev := <-events:
		if ev.Reason != broadcast.ReasonAdminRevoked {
			t.Errorf("event reason = %v, want %v", ev.Reason, broadcast.ReasonAdminRevoked)
		}
		if ev.OldSessionID != sid {
			t.Errorf("event oldSessionID = %v, want %v", ev.OldSessionID, sid)
		}
	case <-time.After(time.Second):
		t.Errorf("expected a broadcast after force logout")
	}
}
