package admin

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository stores admin accounts. Admin sessions are not
// compare-and-set like user sessions: a second operator login simply
// replaces the first, and the absolute expiry is written alongside
// the pair.
type Repository interface {
	Create(a *Admin) error
	GetByID(id uuid.UUID) (*Admin, error)
	GetByUsername(username string) (*Admin, error)

	SetSession(id uuid.UUID, token, sessionID string, expiresAt, now time.Time) error
	ClearSession(id uuid.UUID) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates an admin repository backed by Postgres.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db}
}

func (r *repository) Create(a *Admin) error {
	return r.db.Create(a).Error
}

func (r *repository) GetByID(id uuid.UUID) (*Admin, error) {
	var a Admin
	if err := r.db.Where("id = ?", id).First(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *repository) GetByUsername(username string) (*Admin, error) {
	var a Admin
	if err := r.db.Where("username = ?", username).First(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *repository) SetSession(id uuid.UUID, token, sessionID string, expiresAt, now time.Time) error {
	return r.db.Model(&Admin{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"session_token":      token,
			"active_session_id":  sessionID,
			"session_expires_at": expiresAt,
			"last_login_at":      now,
		}).Error
}

func (r *repository) ClearSession(id uuid.UUID) error {
	return r.db.Model(&Admin{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"session_token":      nil,
			"active_session_id":  nil,
			"session_expires_at": nil,
		}).Error
}
