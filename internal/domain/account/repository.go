package account

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository is the credential-store adapter. Mutations touching the
// session pair are single atomic row updates; ClaimSession is a
// compare-and-set on the stored token so two concurrent logins cannot
// both believe they won the slot.
type Repository interface {
	Create(a *Account) error
	GetByID(id uuid.UUID) (*Account, error)
	GetByUsername(username string) (*Account, error)

	ClaimSession(id uuid.UUID, expectedToken *string, newToken, newSessionID string, now time.Time) (bool, error)
	ClearSession(id uuid.UUID, logoutAt time.Time) error
	UpdateActiveSessionID(id uuid.UUID, sessionID string) error

	SetDeployment(id uuid.UUID, d Deployment) error
	ClearDeployment(id uuid.UUID) error

	SetAccessToken(id uuid.UUID, token string, expiresAt time.Time) error
	RevokeAccessToken(id uuid.UUID) error

	RecordLoginAttempt(username string, at time.Time) error
	RecentAttempts(username string, since time.Time) ([]time.Time, error)
}

// LoginAttempt is one authentication attempt, kept only as long as the
// rate window needs it.
type LoginAttempt struct {
	ID          int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Username    string    `gorm:"column:username;not null;index:idx_login_attempts_username_at"`
	AttemptedAt time.Time `gorm:"column:attempted_at;not null;index:idx_login_attempts_username_at"`
}

func (LoginAttempt) TableName() string {
	return "login_attempts"
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates an account repository backed by Postgres.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db}
}

func (r *repository) Create(a *Account) error {
	return r.db.Create(a).Error
}

func (r *repository) GetByID(id uuid.UUID) (*Account, error) {
	var a Account
	if err := r.db.Where("id = ?", id).First(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *repository) GetByUsername(username string) (*Account, error) {
	var a Account
	if err := r.db.Where("username = ?", username).First(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

// ClaimSession writes a fresh session pair if the stored token still
// matches expectedToken (nil meaning no session). Reports whether the
// claim won.
func (r *repository) ClaimSession(id uuid.UUID, expectedToken *string, newToken, newSessionID string, now time.Time) (bool, error) {
	q := r.db.Model(&Account{}).Where("id = ?", id)
	if expectedToken == nil {
		q = q.Where("session_token IS NULL")
	} else {
		q = q.Where("session_token = ?", *expectedToken)
	}

	res := q.Updates(map[string]any{
		"session_token":     newToken,
		"active_session_id": newSessionID,
		"login_count":       gorm.Expr("login_count + 1"),
		"last_login_at":     now,
		"last_logout_at":    nil,
	})
	if res.Error != nil {
		return false, res.Error
	}

	return res.RowsAffected == 1, nil
}

func (r *repository) ClearSession(id uuid.UUID, logoutAt time.Time) error {
	return r.db.Model(&Account{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"session_token":     nil,
			"active_session_id": nil,
			"last_logout_at":    logoutAt,
		}).Error
}

func (r *repository) UpdateActiveSessionID(id uuid.UUID, sessionID string) error {
	return r.db.Model(&Account{}).
		Where("id = ? AND session_token IS NOT NULL", id).
		Update("active_session_id", sessionID).Error
}

func (r *repository) SetDeployment(id uuid.UUID, d Deployment) error {
	return r.db.Model(&Account{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"deployed_at":     d.DeployedAt,
			"job_slot":        d.JobSlot,
			"external_run_id": d.ExternalRunID,
		}).Error
}

func (r *repository) ClearDeployment(id uuid.UUID) error {
	return r.db.Model(&Account{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"deployed_at":     nil,
			"job_slot":        nil,
			"external_run_id": nil,
		}).Error
}

func (r *repository) SetAccessToken(id uuid.UUID, token string, expiresAt time.Time) error {
	return r.db.Model(&Account{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"access_token":            token,
			"access_token_expires_at": expiresAt,
			"access_token_revoked":    false,
		}).Error
}

func (r *repository) RevokeAccessToken(id uuid.UUID) error {
	return r.db.Model(&Account{}).
		Where("id = ?", id).
		Update("access_token_revoked", true).Error
}

func (r *repository) RecordLoginAttempt(username string, at time.Time) error {
	return r.db.Create(&LoginAttempt{Username: username, AttemptedAt: at}).Error
}

// RecentAttempts returns attempt timestamps in the window and prunes
// entries that aged out of it.
func (r *repository) RecentAttempts(username string, since time.Time) ([]time.Time, error) {
	if err := r.db.Where("username = ? AND attempted_at < ?", username, since).
		Delete(&LoginAttempt{}).Error; err != nil {
		return nil, err
	}

	var attempts []LoginAttempt
	if err := r.db.Where("username = ? AND attempted_at >= ?", username, since).
		Order("attempted_at asc").
		Find(&attempts).Error; err != nil {
		return nil, err
	}

	times := make([]time.Time, 0, len(attempts))
	for _, a := range attempts {
		times = append(times, a.AttemptedAt)
	}
	return times, nil
}
