package middlewares

import (
	"net/http"

	"taskboard-backend/internal/common"
	"taskboard-backend/internal/models"

	"github.com/labstack/echo/v4"
)

// RequireAdmin gates the admin surface. It runs behind the JWT middleware
// and checks the profile rather than the token: an active profile is the
// sole source of truth for role-based access.
func RequireAdmin(state *common.ServerState) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			email, err := state.JwtIssuer.GetUserEmail(c)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"error":   "unauthorized",
					"details": "A valid session is required.",
				})
			}

			profile, err := models.GetProfileByEmail(state.DB, email)
			if err != nil {
				c.Logger().Errorf("Failed to load profile for %s: %v", email, err)
				return c.JSON(http.StatusInternalServerError, map[string]string{
					"error":   "upstream_failure",
					"details": "Failed to verify account.",
				})
			}

			if profile == nil || !profile.IsAdmin() {
				return c.JSON(http.StatusForbidden, map[string]string{
					"error":   "forbidden",
					"details": "Admin access required.",
				})
			}

			c.Set("profile", profile)
			return next(c)
		}
	}
}
