package models

import (
	"crypto/rand"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Invitation statuses. Transitions are pending -> accepted,
// pending -> expired (lazily, when a read observes the deadline passed),
// pending -> revoked. Accepted, expired and revoked are terminal for the
// record, but CreateOrRenew revives non-accepted records in place.
const (
	InvitationPending  = "pending"
	InvitationAccepted = "accepted"
	InvitationExpired  = "expired"
	InvitationRevoked  = "revoked"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// DailyInviteLimit caps how many times a single invitation can be (re)sent
// per calendar day.
const DailyInviteLimit = 3

// InvitationTTL is how long an invite link stays valid after each send.
const InvitationTTL = 30 * 24 * time.Hour

// Invitation is an outstanding or historical offer of access for one email.
// The partial unique index enforces that at most one pending invitation
// exists per email; concurrent renewals are serialized by conditional
// updates on (id, status).
type Invitation struct {
	ID        string `gorm:"primaryKey" json:"id"`
	Email     string `gorm:"not null;uniqueIndex:idx_invitations_email_pending,where:status = 'pending'" json:"email" validate:"required,email"`
	Role      string `gorm:"not null;default:user" json:"role"`
	Message   string `json:"message,omitempty"`
	Status    string `gorm:"not null;default:pending;index" json:"status"`
	Token     string `gorm:"uniqueIndex;not null" json:"-"`
	InvitedBy string `json:"invited_by"`

	SendCount        int       `gorm:"not null;default:1" json:"send_count"`
	DailySendCount   int       `gorm:"not null;default:1" json:"daily_send_count"`
	DailySendResetAt time.Time `json:"daily_send_reset_at"`
	LastSentAt       time.Time `json:"last_sent_at"`

	InvitedAt  time.Time  `json:"invited_at"`
	AcceptedAt *time.Time `json:"accepted_at,omitempty"`
	ExpiresAt  time.Time  `json:"expires_at"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func (i *Invitation) BeforeCreate(tx *gorm.DB) (err error) {
	// uuid v7 to keep B-tree index locality
	if i.ID == "" {
		uuidV7, err := uuid.NewV7()
		if err != nil {
			return err
		}
		i.ID = uuidV7.String()
	}

	if i.Token == "" {
		i.Token = NewInviteToken()
	}

	return nil
}

// NewInviteToken returns a fresh single-use token. rand.Text gives 128+
// bits from crypto/rand, which is the unguessability bar the invite links
// need.
func NewInviteToken() string {
	return rand.Text() + rand.Text()
}

// Expired reports whether the invite link deadline has passed. Records are
// never flipped to expired in the background; callers check this and
// transition the row themselves.
func (i *Invitation) Expired(now time.Time) bool {
	return now.After(i.ExpiresAt)
}

// SameSendDay reports whether the daily counter window covers now.
func (i *Invitation) SameSendDay(now time.Time) bool {
	y1, m1, d1 := i.DailySendResetAt.UTC().Date()
	y2, m2, d2 := now.UTC().Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

// RemainingToday is how many sends are left in the current daily window.
func (i *Invitation) RemainingToday(now time.Time) int {
	if !i.SameSendDay(now) {
		return DailyInviteLimit
	}
	remaining := DailyInviteLimit - i.DailySendCount
	if remaining < 0 {
		return 0
	}
	return remaining
}

// GetInvitationByToken looks an invitation up by its single-use token.
func GetInvitationByToken(db *gorm.DB, token string) (*Invitation, error) {
	var invitation Invitation
	result := db.Where("token = ?", token).First(&invitation)
	if result.Error != nil {
		return nil, result.Error
	}
	return &invitation, nil
}

// GetInvitationByID fetches a single invitation record.
func GetInvitationByID(db *gorm.DB, id string) (*Invitation, error) {
	var invitation Invitation
	result := db.Where("id = ?", id).First(&invitation)
	if result.Error != nil {
		return nil, result.Error
	}
	return &invitation, nil
}

// GetRenewableInvitation returns the most recent non-accepted invitation
// for an email, if any. Accepted records stay untouched so a re-invite
// after an incomplete signup starts a fresh record.
func GetRenewableInvitation(db *gorm.DB, email string) (*Invitation, error) {
	var invitation Invitation
	result := db.Where("email = ? AND status <> ?", email, InvitationAccepted).
		Order("created_at DESC").
		First(&invitation)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &invitation, nil
}

func ValidRole(role string) bool {
	return role == RoleUser || role == RoleAdmin
}
