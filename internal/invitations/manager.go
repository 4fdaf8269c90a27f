package invitations

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"taskboard-backend/internal/email"
	"taskboard-backend/internal/events"
	"taskboard-backend/internal/identity"
	"taskboard-backend/internal/models"

	"gorm.io/gorm"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Stats reports the send counters after a successful invite or resend.
// RemainingToday is always derived from the post-update daily count.
type Stats struct {
	SendCount      int `json:"sendCount"`
	DailySendCount int `json:"dailySendCount"`
	RemainingToday int `json:"remainingToday"`
}

// Manager owns every transition of an Invitation and keeps it consistent
// with the Account Profile it ultimately produces. All store mutations are
// conditional on the status the caller observed, so concurrent writers
// fail with ErrConflict instead of interleaving.
type Manager struct {
	db       *gorm.DB
	identity identity.Provider
	mail     email.EmailClient
	events   *events.Publisher
	baseURL  string
	now      func() time.Time
}

func NewManager(db *gorm.DB, provider identity.Provider, mail email.EmailClient, publisher *events.Publisher, baseURL string) *Manager {
	return &Manager{
		db:       db,
		identity: provider,
		mail:     mail,
		events:   publisher,
		baseURL:  strings.TrimRight(baseURL, "/"),
		now:      time.Now,
	}
}

// InviteLink is the URL the invitee follows to redeem their token.
func (m *Manager) InviteLink(token string) string {
	return fmt.Sprintf("%s/auth/accept-invite?token=%s", m.baseURL, token)
}

// CreateOrRenew issues an invitation for an email, reviving the existing
// non-accepted record when one exists. The daily cap is checked against
// the pre-increment counter, so a rate-limited call mutates nothing.
func (m *Manager) CreateOrRenew(ctx context.Context, emailAddr, role, message, invitedBy string) (*models.Invitation, Stats, error) {
	emailAddr = strings.ToLower(strings.TrimSpace(emailAddr))
	if !emailPattern.MatchString(emailAddr) {
		return nil, Stats{}, ErrInvalidEmail
	}

	if role == "" {
		role = models.RoleUser
	}
	if !models.ValidRole(role) {
		return nil, Stats{}, ErrInvalidRole
	}

	profile, err := models.GetProfileByEmail(m.db, emailAddr)
	if err != nil {
		return nil, Stats{}, fmt.Errorf("looking up profile: %w", err)
	}
	if profile != nil {
		if profile.IsActive() {
			return nil, Stats{}, ErrAlreadyActive
		}
		// Incomplete signup: remove the stale identity record and profile
		// so the fresh invite starts clean. This must finish, including
		// provider-side propagation, before a new record is issued.
		if profile.ConfirmedAt == nil {
			if err := m.removeIncompleteSignup(ctx, profile); err != nil {
				return nil, Stats{}, err
			}
		}
	}

	now := m.now()

	inv, err := models.GetRenewableInvitation(m.db, emailAddr)
	if err != nil {
		return nil, Stats{}, fmt.Errorf("looking up invitation: %w", err)
	}

	created := inv == nil
	if created {
		inv = &models.Invitation{
			Email:            emailAddr,
			Role:             role,
			Message:          message,
			Status:           models.InvitationPending,
			InvitedBy:        invitedBy,
			SendCount:        1,
			DailySendCount:   1,
			DailySendResetAt: startOfDay(now),
			LastSentAt:       now,
			InvitedAt:        now,
			ExpiresAt:        now.Add(models.InvitationTTL),
		}
		if err := m.db.WithContext(ctx).Create(inv).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				// Another request created the pending record first.
				return nil, Stats{}, ErrConflict
			}
			return nil, Stats{}, fmt.Errorf("creating invitation: %w", err)
		}
	} else {
		inv, err = m.renew(ctx, inv, role, message, now)
		if err != nil {
			return nil, Stats{}, err
		}
	}

	if err := m.dispatch(ctx, inv, message); err != nil {
		return inv, m.stats(inv, now), err
	}

	eventType := events.EventTypeInvitationRenewed
	if created {
		eventType = events.EventTypeInvitationCreated
	}
	m.publish(ctx, eventType, inv)

	return inv, m.stats(inv, now), nil
}

// renew revives an existing non-accepted invitation in place: same id,
// same token, counters bumped, deadline refreshed.
func (m *Manager) renew(ctx context.Context, inv *models.Invitation, role, message string, now time.Time) (*models.Invitation, error) {
	daily, err := m.nextDailyCount(inv, now)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{
		"role":                role,
		"message":             message,
		"status":              models.InvitationPending,
		"send_count":          gorm.Expr("send_count + 1"),
		"daily_send_count":    daily,
		"daily_send_reset_at": startOfDay(now),
		"last_sent_at":        now,
		"invited_at":          now,
		"expires_at":          now.Add(models.InvitationTTL),
	}

	result := m.db.WithContext(ctx).Model(&models.Invitation{}).
		Where("id = ? AND status = ?", inv.ID, inv.Status).
		Updates(updates)
	if result.Error != nil {
		return nil, fmt.Errorf("renewing invitation: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrConflict
	}

	return models.GetInvitationByID(m.db, inv.ID)
}

// Resend refreshes the invite link for an existing invitation. It shares
// the daily-cap accounting with CreateOrRenew and reuses the same token.
func (m *Manager) Resend(ctx context.Context, id string) (*models.Invitation, Stats, error) {
	inv, err := models.GetInvitationByID(m.db, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, Stats{}, ErrNotFound
		}
		return nil, Stats{}, fmt.Errorf("looking up invitation: %w", err)
	}

	if inv.Status == models.InvitationAccepted {
		return nil, Stats{}, ErrCannotResend
	}

	now := m.now()
	inv, err = m.renew(ctx, inv, inv.Role, inv.Message, now)
	if err != nil {
		return nil, Stats{}, err
	}

	if err := m.dispatch(ctx, inv, inv.Message); err != nil {
		return inv, m.stats(inv, now), err
	}

	m.publish(ctx, events.EventTypeInvitationResent, inv)

	return inv, m.stats(inv, now), nil
}

// Accept redeems a token. The profile is never created here; that happens
// when the identity provider confirms the email.
func (m *Manager) Accept(ctx context.Context, token string) (*models.Invitation, error) {
	inv, err := models.GetInvitationByToken(m.db, token)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("looking up invitation: %w", err)
	}

	now := m.now()

	switch inv.Status {
	case models.InvitationAccepted:
		profile, err := models.GetProfileByEmail(m.db, inv.Email)
		if err != nil {
			return nil, fmt.Errorf("looking up profile: %w", err)
		}
		if profile != nil && profile.IsActive() {
			return inv, ErrAlreadyRegistered
		}
		return inv, ErrAlreadyAccepted

	case models.InvitationExpired:
		return inv, ErrExpired

	case models.InvitationRevoked:
		return inv, ErrRevoked
	}

	// Lazy expiry: the deadline is only ever enforced when a code path
	// observes it, never in the background.
	if inv.Expired(now) {
		result := m.db.WithContext(ctx).Model(&models.Invitation{}).
			Where("id = ? AND status = ?", inv.ID, models.InvitationPending).
			Update("status", models.InvitationExpired)
		if result.Error != nil {
			return nil, fmt.Errorf("expiring invitation: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return nil, ErrConflict
		}
		inv.Status = models.InvitationExpired
		return inv, ErrExpired
	}

	profile, err := models.GetProfileByEmail(m.db, inv.Email)
	if err != nil {
		return nil, fmt.Errorf("looking up profile: %w", err)
	}
	if profile != nil && profile.IsActive() {
		return inv, ErrAlreadyRegistered
	}

	result := m.db.WithContext(ctx).Model(&models.Invitation{}).
		Where("id = ? AND status = ?", inv.ID, models.InvitationPending).
		Updates(map[string]any{
			"status":      models.InvitationAccepted,
			"accepted_at": now,
		})
	if result.Error != nil {
		return nil, fmt.Errorf("accepting invitation: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrConflict
	}

	inv.Status = models.InvitationAccepted
	inv.AcceptedAt = &now

	m.publish(ctx, events.EventTypeInvitationAccepted, inv)

	return inv, nil
}

// Revoke withdraws an invitation. When the invitee's identity record
// exists but never confirmed, it is deleted so the invite link cannot be
// redeemed through the provider either.
func (m *Manager) Revoke(ctx context.Context, id string) (*models.Invitation, error) {
	inv, err := models.GetInvitationByID(m.db, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("looking up invitation: %w", err)
	}

	switch inv.Status {
	case models.InvitationRevoked:
		return nil, ErrAlreadyRevoked
	case models.InvitationAccepted:
		return nil, ErrAlreadyAccepted
	}

	result := m.db.WithContext(ctx).Model(&models.Invitation{}).
		Where("id = ? AND status = ?", inv.ID, inv.Status).
		Update("status", models.InvitationRevoked)
	if result.Error != nil {
		return nil, fmt.Errorf("revoking invitation: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrConflict
	}
	inv.Status = models.InvitationRevoked

	m.publish(ctx, events.EventTypeInvitationRevoked, inv)

	// The revocation is committed; a cleanup failure from here on is an
	// inconsistency risk to report, not a reason to unwind.
	user, err := m.identity.GetUserByEmail(ctx, inv.Email)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return inv, nil
		}
		return inv, fmt.Errorf("%w: %v", ErrIdentityCleanup, err)
	}
	if user.ConfirmedAt == nil {
		if err := m.identity.DeleteUser(ctx, user.ID); err != nil {
			return inv, fmt.Errorf("%w: %v", ErrIdentityCleanup, err)
		}
	}

	return inv, nil
}

// ReconcileOnIdentityConfirmation runs when the identity provider reports
// a confirmed email+identifier pair, and is the only place profiles are
// created or activated.
func (m *Manager) ReconcileOnIdentityConfirmation(ctx context.Context, identifier, emailAddr string) (*models.Profile, error) {
	emailAddr = strings.ToLower(strings.TrimSpace(emailAddr))
	now := m.now()

	profile, err := models.GetProfileByID(m.db, identifier)
	if err != nil {
		return nil, fmt.Errorf("looking up profile: %w", err)
	}

	if profile == nil {
		var inv models.Invitation
		result := m.db.Where("email = ? AND status IN ?", emailAddr,
			[]string{models.InvitationPending, models.InvitationAccepted}).
			Order("created_at DESC").
			First(&inv)
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return nil, ErrNotInvited
			}
			return nil, fmt.Errorf("looking up invitation: %w", result.Error)
		}

		profile = &models.Profile{
			ID:           identifier,
			Email:        emailAddr,
			Role:         inv.Role,
			Status:       models.ProfileActive,
			ConfirmedAt:  &now,
			LastSignInAt: &now,
		}
		if err := m.db.WithContext(ctx).Create(profile).Error; err != nil {
			return nil, fmt.Errorf("creating profile: %w", err)
		}

		if inv.Status == models.InvitationPending {
			// Best effort; a concurrent Accept already moved it.
			m.db.WithContext(ctx).Model(&models.Invitation{}).
				Where("id = ? AND status = ?", inv.ID, models.InvitationPending).
				Updates(map[string]any{
					"status":      models.InvitationAccepted,
					"accepted_at": now,
				})
		}

		if m.mail != nil {
			m.mail.SendWelcomeEmail("", profile.Email)
		}

		m.publish(ctx, events.EventTypeProfileActivated, &inv)
		return profile, nil
	}

	if profile.IsActive() {
		m.db.WithContext(ctx).Model(profile).Update("last_sign_in_at", now)
		profile.LastSignInAt = &now
		return profile, nil
	}

	// Inactive profile: only an accepted invitation can activate it.
	var accepted models.Invitation
	result := m.db.Where("email = ? AND status = ?", emailAddr, models.InvitationAccepted).
		Order("created_at DESC").
		First(&accepted)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrInactiveNoInvite
		}
		return nil, fmt.Errorf("looking up invitation: %w", result.Error)
	}

	updates := map[string]any{
		"status":          models.ProfileActive,
		"confirmed_at":    now,
		"last_sign_in_at": now,
	}
	if err := m.db.WithContext(ctx).Model(profile).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("activating profile: %w", err)
	}
	profile.Status = models.ProfileActive
	profile.ConfirmedAt = &now
	profile.LastSignInAt = &now

	if m.mail != nil {
		m.mail.SendWelcomeEmail("", profile.Email)
	}

	m.publish(ctx, events.EventTypeProfileActivated, &accepted)

	return profile, nil
}

// List returns a page of invitations, newest first, with the unpaged total.
func (m *Manager) List(ctx context.Context, status string, limit, offset int) ([]models.Invitation, int64, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	query := m.db.WithContext(ctx).Model(&models.Invitation{})
	if status != "" && status != "all" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting invitations: %w", err)
	}

	var invitations []models.Invitation
	if err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&invitations).Error; err != nil {
		return nil, 0, fmt.Errorf("listing invitations: %w", err)
	}

	return invitations, total, nil
}

// nextDailyCount enforces the daily cap against the pre-increment value
// and returns the counter to store.
func (m *Manager) nextDailyCount(inv *models.Invitation, now time.Time) (int, error) {
	if !inv.SameSendDay(now) {
		return 1, nil
	}
	if inv.DailySendCount >= models.DailyInviteLimit {
		return 0, ErrRateLimited
	}
	return inv.DailySendCount + 1, nil
}

// removeIncompleteSignup deletes the identity record and profile left by
// an invitee who never confirmed. Identity deletion is not retried: a
// failure aborts the invite flow, since proceeding would collide the old
// unconfirmed record with the new invitation.
func (m *Manager) removeIncompleteSignup(ctx context.Context, profile *models.Profile) error {
	user, err := m.identity.GetUserByEmail(ctx, profile.Email)
	if err != nil && !errors.Is(err, identity.ErrUserNotFound) {
		return fmt.Errorf("looking up identity record: %w", err)
	}

	if user != nil && user.ConfirmedAt == nil {
		if err := m.identity.DeleteUser(ctx, user.ID); err != nil {
			return fmt.Errorf("deleting identity record: %w", err)
		}
		if err := m.identity.WaitForDeletion(ctx, user.ID); err != nil {
			return fmt.Errorf("awaiting identity record deletion: %w", err)
		}
	}

	if err := m.db.WithContext(ctx).Delete(profile).Error; err != nil {
		return fmt.Errorf("deleting profile: %w", err)
	}

	// The old invitation belongs to the abandoned signup; the re-invite
	// starts over with a fresh token and fresh counters.
	if err := m.db.WithContext(ctx).Where("email = ?", profile.Email).Delete(&models.Invitation{}).Error; err != nil {
		return fmt.Errorf("deleting stale invitations: %w", err)
	}

	return nil
}

// dispatch asks the provider to create the unconfirmed identity record
// and sends our own invite email.
func (m *Manager) dispatch(ctx context.Context, inv *models.Invitation, message string) error {
	metadata := map[string]any{
		"role":       inv.Role,
		"invited_by": inv.InvitedBy,
	}
	if _, err := m.identity.InviteUserByEmail(ctx, inv.Email, m.baseURL+"/auth/accept-invite", metadata); err != nil {
		return fmt.Errorf("provider invite failed: %w", err)
	}

	if m.mail != nil {
		m.mail.SendInvitationEmail(m.InviteLink(inv.Token), message, inv.Email)
	}

	return nil
}

func (m *Manager) stats(inv *models.Invitation, now time.Time) Stats {
	return Stats{
		SendCount:      inv.SendCount,
		DailySendCount: inv.DailySendCount,
		RemainingToday: inv.RemainingToday(now),
	}
}

func (m *Manager) publish(ctx context.Context, eventType events.EventType, inv *models.Invitation) {
	_ = m.events.Publish(ctx, eventType, events.InvitationPayload{
		InvitationID: inv.ID,
		Email:        inv.Email,
		Role:         inv.Role,
		Status:       inv.Status,
		At:           m.now(),
	})
}

func startOfDay(t time.Time) time.Time {
	year, month, day := t.UTC().Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
