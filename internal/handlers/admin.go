package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"taskboard-backend/internal/invitations"
	"taskboard-backend/internal/models"
	"taskboard-backend/internal/notifications"

	"github.com/labstack/echo/v4"
)

// adminProfile is set by the RequireAdmin middleware.
func adminProfile(c echo.Context) *models.Profile {
	profile, _ := c.Get("profile").(*models.Profile)
	return profile
}

// InviteUser issues or renews an invitation for an email address.
func (h *AuthHandler) InviteUser(c echo.Context) error {
	type InviteRequest struct {
		Email   string `json:"email" validate:"required,email"`
		Role    string `json:"role" validate:"omitempty,oneof=user admin"`
		Message string `json:"message"`
	}

	req := new(InviteRequest)
	if err := c.Bind(req); err != nil {
		return apiError(c, http.StatusBadRequest, "validation_error", "Invalid request format.")
	}
	if err := c.Validate(req); err != nil {
		return apiError(c, http.StatusBadRequest, "validation_error", "A valid email and role are required.")
	}

	admin := adminProfile(c)
	invitedBy := ""
	if admin != nil {
		invitedBy = admin.ID
	}

	inv, stats, err := h.Invitations.CreateOrRenew(c.Request().Context(), req.Email, req.Role, req.Message, invitedBy)
	if err != nil {
		status, code := lifecycleErrorResponse(err)
		if status == http.StatusInternalServerError {
			c.Logger().Errorf("Invite failed for %s: %v", req.Email, err)
			CaptureError(err)
			return apiError(c, status, code, "Failed to send invitation.")
		}
		return apiError(c, status, code, err.Error())
	}

	_ = notifications.SendTelegramNotification(fmt.Sprintf("Invitation sent to %s as %s", inv.Email, inv.Role), h.Config)

	return c.JSON(http.StatusOK, map[string]any{
		"success":         true,
		"message":         fmt.Sprintf("Invitation sent to %s", inv.Email),
		"inviteLink":      h.Invitations.InviteLink(inv.Token),
		"email":           inv.Email,
		"role":            inv.Role,
		"expiresIn":       "30 days",
		"note":            "Share the invitation link with the invitee, or let them follow the email.",
		"invitationStats": stats,
	})
}

// ListInvitations returns a page of invitations for the admin dashboard.
func (h *AuthHandler) ListInvitations(c echo.Context) error {
	status := c.QueryParam("status")

	limit := 100
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return apiError(c, http.StatusBadRequest, "validation_error", "limit must be a number.")
		}
		limit = parsed
	}

	offset := 0
	if raw := c.QueryParam("offset"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return apiError(c, http.StatusBadRequest, "validation_error", "offset must be a number.")
		}
		offset = parsed
	}

	list, total, err := h.Invitations.List(c.Request().Context(), status, limit, offset)
	if err != nil {
		c.Logger().Errorf("Failed to list invitations: %v", err)
		CaptureError(err)
		return apiError(c, http.StatusInternalServerError, "upstream_failure", "Failed to fetch invitations.")
	}

	return c.JSON(http.StatusOK, map[string]any{
		"invitations": list,
		"total":       total,
		"limit":       limit,
		"offset":      offset,
	})
}

// ResendInvitation refreshes the invite link for an existing invitation.
func (h *AuthHandler) ResendInvitation(c echo.Context) error {
	id := c.Param("id")

	inv, stats, err := h.Invitations.Resend(c.Request().Context(), id)
	if err != nil {
		status, code := lifecycleErrorResponse(err)
		if status == http.StatusInternalServerError {
			c.Logger().Errorf("Resend failed for invitation %s: %v", id, err)
			CaptureError(err)
			return apiError(c, status, code, "Failed to resend invitation.")
		}
		return apiError(c, status, code, err.Error())
	}

	return c.JSON(http.StatusOK, map[string]any{
		"success":         true,
		"message":         fmt.Sprintf("Invitation resent to %s", inv.Email),
		"invitationStats": stats,
	})
}

// RevokeInvitation withdraws an invitation and removes the invitee's
// unconfirmed identity record.
func (h *AuthHandler) RevokeInvitation(c echo.Context) error {
	id := c.Param("id")

	inv, err := h.Invitations.Revoke(c.Request().Context(), id)
	if err != nil {
		// The revocation itself committed; the identity record is now
		// orphaned. Flag it loudly and still report the revocation.
		if errors.Is(err, invitations.ErrIdentityCleanup) {
			c.Logger().Errorf("Inconsistency risk revoking invitation %s: %v", id, err)
			CaptureInconsistency(c, err)
		} else {
			status, code := lifecycleErrorResponse(err)
			if status == http.StatusInternalServerError {
				c.Logger().Errorf("Revoke failed for invitation %s: %v", id, err)
				CaptureError(err)
				return apiError(c, status, code, "Failed to revoke invitation.")
			}
			return apiError(c, status, code, err.Error())
		}
	}

	_ = notifications.SendTelegramNotification(fmt.Sprintf("Invitation revoked for %s", inv.Email), h.Config)

	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"message": "Invitation revoked successfully",
	})
}
