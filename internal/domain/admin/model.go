package admin

import (
	"time"

	"github.com/opsdeck/opsdeck/internal/database"
)

// Admin is an operator account. Sessions follow the same pair rule as
// user accounts but carry an absolute expiry instead of a rolling
// cookie lifetime.
type Admin struct {
	database.BaseModel
	Username     string `gorm:"uniqueIndex;not null" json:"username"`
	PasswordHash string `gorm:"not null" json:"-"`

	SessionToken     *string    `gorm:"index" json:"-"`
	ActiveSessionID  *string    `json:"-"`
	SessionExpiresAt *time.Time `json:"-"`

	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

// TableName overrides the table name
func (Admin) TableName() string {
	return "admins"
}

// HasSession reports whether the admin currently holds a session pair.
func (a *Admin) HasSession() bool {
	return a.SessionToken != nil && a.ActiveSessionID != nil
}
