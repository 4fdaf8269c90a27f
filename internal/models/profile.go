package models

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

const (
	ProfileActive   = "active"
	ProfileInactive = "inactive"
)

// Profile is the application-level account record, linked 1:1 to the
// identity provider's record by ID. An active profile is the sole source
// of truth for role-based routing; an identity record without one is an
// incomplete signup.
type Profile struct {
	ID           string     `gorm:"primaryKey" json:"id"`
	Email        string     `gorm:"not null;unique" json:"email" validate:"required,email"`
	Role         string     `gorm:"not null;default:user" json:"role"`
	Status       string     `gorm:"not null;default:inactive" json:"status"`
	ConfirmedAt  *time.Time `json:"confirmed_at,omitempty"`
	LastSignInAt *time.Time `json:"last_sign_in_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (p *Profile) IsActive() bool {
	return p.Status == ProfileActive
}

func (p *Profile) IsAdmin() bool {
	return p.Role == RoleAdmin && p.IsActive()
}

// GetProfileByEmail returns nil without error when no profile exists.
func GetProfileByEmail(db *gorm.DB, email string) (*Profile, error) {
	var profile Profile
	result := db.Where("email = ?", email).First(&profile)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &profile, nil
}

// GetProfileByID returns nil without error when no profile exists.
func GetProfileByID(db *gorm.DB, id string) (*Profile, error) {
	var profile Profile
	result := db.Where("id = ?", id).First(&profile)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &profile, nil
}
