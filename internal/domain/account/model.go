package account

import (
	"time"

	"github.com/opsdeck/opsdeck/internal/database"
)

// Account is one tenant of the panel. The session pair
// (SessionToken, ActiveSessionID) is either both nil or both set; the
// deployment fields are owned by the deployment coordinator and claim
// at most one live external job.
type Account struct {
	database.BaseModel

	Username     string `gorm:"column:username;unique;not null" json:"username"`
	PasswordHash string `gorm:"column:password_hash;not null" json:"-"`

	SessionToken    *string `gorm:"column:session_token" json:"-"`
	ActiveSessionID *string `gorm:"column:active_session_id" json:"-"`

	LoginCount   int        `gorm:"column:login_count;default:0" json:"login_count"`
	LastLoginAt  *time.Time `gorm:"column:last_login_at" json:"last_login_at,omitempty"`
	LastLogoutAt *time.Time `gorm:"column:last_logout_at" json:"last_logout_at,omitempty"`

	AccessToken          *string    `gorm:"column:access_token" json:"-"`
	AccessTokenExpiresAt *time.Time `gorm:"column:access_token_expires_at" json:"access_token_expires_at,omitempty"`
	AccessTokenRevoked   bool       `gorm:"column:access_token_revoked;default:false" json:"access_token_revoked"`

	DeployedAt    *time.Time `gorm:"column:deployed_at" json:"deployed_at,omitempty"`
	JobSlot       *int       `gorm:"column:job_slot" json:"job_slot,omitempty"`
	ExternalRunID *string    `gorm:"column:external_run_id" json:"external_run_id,omitempty"`
}

func (Account) TableName() string {
	return "accounts"
}

// HasSession reports whether the account currently holds a session pair.
func (a *Account) HasSession() bool {
	return a.SessionToken != nil && a.ActiveSessionID != nil
}

// Deployment is the job bookkeeping carried on the account. A non-nil
// DeployedAt means a job is believed running; JobSlot identifies which
// job configuration; ExternalRunID points into the remote workflow
// runner. A tunnel-only job has a slot but no run id.
type Deployment struct {
	DeployedAt    *time.Time
	JobSlot       *int
	ExternalRunID *string
}

// Deployment extracts the deployment descriptor from the account.
func (a *Account) Deployment() Deployment {
	return Deployment{
		DeployedAt:    a.DeployedAt,
		JobSlot:       a.JobSlot,
		ExternalRunID: a.ExternalRunID,
	}
}

// Empty reports whether no job is believed running.
func (d Deployment) Empty() bool {
	return d.DeployedAt == nil && d.JobSlot == nil && d.ExternalRunID == nil
}
