package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"taskboard-backend/internal/common"
	"taskboard-backend/internal/config"
	"taskboard-backend/internal/identity"
	"taskboard-backend/internal/invitations"
	"taskboard-backend/internal/models"
	"taskboard-backend/internal/notifications"

	"github.com/labstack/echo/v4"
	"github.com/markbates/goth/gothic"
	"github.com/redis/go-redis/v9"
	"github.com/tidwall/gjson"
	"gorm.io/gorm"
)

type AuthHandler struct {
	common.ServerState
}

func NewAuthHandler(db *gorm.DB, cfg *config.Config, jwt common.JWTIssuer, redis *redis.Client, provider identity.Provider, manager *invitations.Manager) *AuthHandler {
	return &AuthHandler{
		ServerState: common.ServerState{
			DB:          db,
			Config:      cfg,
			JwtIssuer:   jwt,
			Redis:       redis,
			Identity:    provider,
			Invitations: manager,
		},
	}
}

// apiError is the uniform error body: a machine-readable code plus a
// human-readable detail string.
func apiError(c echo.Context, status int, code, details string) error {
	return c.JSON(status, map[string]string{
		"error":   code,
		"details": details,
	})
}

// lifecycleErrorResponse maps a lifecycle error onto the HTTP surface.
func lifecycleErrorResponse(err error) (int, string) {
	switch {
	case errors.Is(err, invitations.ErrInvalidEmail),
		errors.Is(err, invitations.ErrInvalidRole):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, invitations.ErrAlreadyActive):
		return http.StatusBadRequest, "already_active"
	case errors.Is(err, invitations.ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, invitations.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, invitations.ErrAlreadyRegistered):
		return http.StatusBadRequest, "ALREADY_REGISTERED"
	case errors.Is(err, invitations.ErrAlreadyAccepted):
		return http.StatusBadRequest, "ALREADY_ACCEPTED"
	case errors.Is(err, invitations.ErrExpired):
		return http.StatusBadRequest, "expired"
	case errors.Is(err, invitations.ErrRevoked):
		return http.StatusBadRequest, "revoked"
	case errors.Is(err, invitations.ErrAlreadyRevoked):
		return http.StatusBadRequest, "already_revoked"
	case errors.Is(err, invitations.ErrCannotResend):
		return http.StatusBadRequest, "cannot_resend"
	case errors.Is(err, invitations.ErrConflict):
		return http.StatusConflict, "conflict"
	default:
		return http.StatusInternalServerError, "upstream_failure"
	}
}

func (h *AuthHandler) SocialLogin(c echo.Context) error {
	provider := c.Param("provider")

	req := c.Request()
	// Set the provider in the query parameters for gothic to work
	q := req.URL.Query()
	q.Set("provider", provider)
	req.URL.RawQuery = q.Encode()

	gothic.BeginAuthHandler(c.Response(), req)
	return nil
}

// SocialLoginCallback completes the OAuth exchange and reconciles the
// confirmed identity against the invitation table. Uninvited identities
// are signed out on the spot.
func (h *AuthHandler) SocialLoginCallback(c echo.Context) error {
	user, err := gothic.CompleteUserAuth(c.Response(), c.Request())
	if err != nil {
		c.Logger().Errorf("OAuth exchange failed: %v", err)
		return c.Redirect(http.StatusFound, h.Config.App.BaseURL+"/auth/login?error=oauth")
	}

	if user.Email == "" {
		return c.Redirect(http.StatusFound, h.Config.App.BaseURL+"/auth/login?error=oauth")
	}

	// Providers report verification in their raw payload; an unverified
	// address never reaches reconciliation.
	rawData, _ := json.Marshal(user.RawData)
	verified := gjson.GetBytes(rawData, "email_verified")
	if verified.Exists() && !verified.Bool() {
		c.Logger().Warnf("Rejected unverified email from provider: %s", user.Email)
		return c.Redirect(http.StatusFound, h.Config.App.BaseURL+"/auth/access-denied?reason=unverified")
	}

	profile, err := h.Invitations.ReconcileOnIdentityConfirmation(c.Request().Context(), user.UserID, user.Email)
	if err != nil {
		switch {
		case errors.Is(err, invitations.ErrNotInvited):
			h.signOut(c)
			return c.Redirect(http.StatusFound, h.Config.App.BaseURL+"/auth/access-denied")
		case errors.Is(err, invitations.ErrInactiveNoInvite):
			h.signOut(c)
			return c.Redirect(http.StatusFound, h.Config.App.BaseURL+"/auth/access-denied?reason=inactive")
		default:
			c.Logger().Errorf("Reconciliation failed for %s: %v", user.Email, err)
			CaptureError(err)
			return c.Redirect(http.StatusFound, h.Config.App.BaseURL+"/auth/login?error=server")
		}
	}

	token, err := h.JwtIssuer.GenerateToken(profile.Email)
	if err != nil {
		return apiError(c, http.StatusInternalServerError, "upstream_failure", "Failed to generate session token.")
	}

	_ = notifications.SendTelegramNotification(fmt.Sprintf("New sign-in: %s (%s)", profile.Email, profile.Role), h.Config)

	// Active profile role decides the landing dashboard.
	redirectPath := "/user"
	if profile.Role == models.RoleAdmin {
		redirectPath = "/admin"
	}

	return c.Redirect(http.StatusFound, fmt.Sprintf("%s%s?token=%s", h.Config.App.BaseURL, redirectPath, token))
}

func (h *AuthHandler) signOut(c echo.Context) {
	if err := gothic.Logout(c.Response(), c.Request()); err != nil {
		c.Logger().Errorf("Failed to clear provider session: %v", err)
	}
}

// AcceptInvite redeems an invitation token. Terminal already-completed
// states come back as machine-readable codes so the client can treat them
// as a soft success and prompt sign-in.
func (h *AuthHandler) AcceptInvite(c echo.Context) error {
	type AcceptInviteRequest struct {
		Token string `json:"token" validate:"required"`
	}

	req := new(AcceptInviteRequest)
	if err := c.Bind(req); err != nil {
		return apiError(c, http.StatusBadRequest, "validation_error", "Invalid request format.")
	}
	if err := c.Validate(req); err != nil {
		return apiError(c, http.StatusBadRequest, "validation_error", "The invitation link is missing a token.")
	}

	inv, err := h.Invitations.Accept(c.Request().Context(), req.Token)
	if err != nil {
		status, code := lifecycleErrorResponse(err)

		if status == http.StatusInternalServerError {
			c.Logger().Errorf("Accept failed: %v", err)
			CaptureError(err)
			return apiError(c, status, code, "An unexpected error occurred.")
		}

		body := map[string]any{
			"error":   code,
			"details": err.Error(),
		}
		// The invitee needs their email and role to finish sign-in even
		// when the token itself is no longer redeemable.
		if inv != nil && (code == "ALREADY_REGISTERED" || code == "ALREADY_ACCEPTED") {
			body["email"] = inv.Email
			body["role"] = inv.Role
		}
		return c.JSON(status, body)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"message": "Invitation accepted! Please sign in with Google to complete your account setup.",
		"email":   inv.Email,
		"role":    inv.Role,
	})
}

// Me returns the authenticated caller's profile.
func (h *AuthHandler) Me(c echo.Context) error {
	profile, ok := h.getAuthenticatedProfile(c)
	if !ok {
		return apiError(c, http.StatusUnauthorized, "unauthorized", "A valid session is required.")
	}
	return c.JSON(http.StatusOK, profile)
}

// getAuthenticatedProfile resolves the JWT to an active profile. Tokens
// whose profile has gone inactive stop working immediately.
func (h *AuthHandler) getAuthenticatedProfile(c echo.Context) (*models.Profile, bool) {
	email, err := h.JwtIssuer.GetUserEmail(c)
	if err != nil {
		c.Logger().Error("Failed to get user email: " + err.Error())
		return nil, false
	}

	profile, err := models.GetProfileByEmail(h.DB, email)
	if err != nil || profile == nil || !profile.IsActive() {
		return nil, false
	}

	return profile, true
}
