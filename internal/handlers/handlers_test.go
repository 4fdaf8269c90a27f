package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"taskboard-backend/internal/config"
	"taskboard-backend/internal/identity"
	"taskboard-backend/internal/invitations"
	"taskboard-backend/internal/models"

	"github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type testValidator struct {
	validator *validator.Validate
}

func (tv *testValidator) Validate(i any) error {
	return tv.validator.Struct(i)
}

type fakeIssuer struct {
	email string
	err   error
}

func (f fakeIssuer) GenerateToken(email string) (string, error) {
	return "token-" + email, nil
}

func (f fakeIssuer) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
}

func (f fakeIssuer) GetUserEmail(c echo.Context) (string, error) {
	return f.email, f.err
}

type stubProvider struct {
	users map[string]identity.User
}

func newStubProvider() *stubProvider {
	return &stubProvider{users: make(map[string]identity.User)}
}

func (s *stubProvider) ListUsers(ctx context.Context) ([]identity.User, error) {
	users := make([]identity.User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u)
	}
	return users, nil
}

func (s *stubProvider) GetUserByEmail(ctx context.Context, email string) (*identity.User, error) {
	for _, u := range s.users {
		if u.Email == email {
			user := u
			return &user, nil
		}
	}
	return nil, identity.ErrUserNotFound
}

func (s *stubProvider) InviteUserByEmail(ctx context.Context, email, redirectTo string, metadata map[string]any) (*identity.User, error) {
	user := identity.User{ID: "id-" + email, Email: email}
	s.users[user.ID] = user
	return &user, nil
}

func (s *stubProvider) DeleteUser(ctx context.Context, id string) error {
	delete(s.users, id)
	return nil
}

func (s *stubProvider) WaitForDeletion(ctx context.Context, id string) error {
	return nil
}

type testEnv struct {
	handler *AuthHandler
	manager *invitations.Manager
	db      *gorm.DB
	echo    *echo.Echo
}

func newTestEnv(t *testing.T, issuer fakeIssuer) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.Invitation{}, &models.Profile{}))

	cfg := &config.Config{}
	cfg.App.BaseURL = "https://board.example.com"

	provider := newStubProvider()
	manager := invitations.NewManager(db, provider, nil, nil, cfg.App.BaseURL)

	e := echo.New()
	e.Validator = &testValidator{validator: validator.New()}

	return &testEnv{
		handler: NewAuthHandler(db, cfg, issuer, nil, provider, manager),
		manager: manager,
		db:      db,
		echo:    e,
	}
}

func (env *testEnv) jsonRequest(method, target, body string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	return env.echo.NewContext(req, rec), rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func (env *testEnv) invite(t *testing.T, email, role string) *models.Invitation {
	t.Helper()
	inv, _, err := env.manager.CreateOrRenew(context.Background(), email, role, "", "admin-1")
	require.NoError(t, err)
	return inv
}

func TestAcceptInvite(t *testing.T) {
	env := newTestEnv(t, fakeIssuer{})
	inv := env.invite(t, "a@x.com", models.RoleUser)

	c, rec := env.jsonRequest(http.MethodPost, "/api/accept-invite",
		fmt.Sprintf(`{"token":%q}`, inv.Token))
	require.NoError(t, env.handler.AcceptInvite(c))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "a@x.com", body["email"])
	assert.Equal(t, models.RoleUser, body["role"])
}

func TestAcceptInviteMissingToken(t *testing.T) {
	env := newTestEnv(t, fakeIssuer{})

	c, rec := env.jsonRequest(http.MethodPost, "/api/accept-invite", `{}`)
	require.NoError(t, env.handler.AcceptInvite(c))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", decodeBody(t, rec)["error"])
}

func TestAcceptInviteUnknownToken(t *testing.T) {
	env := newTestEnv(t, fakeIssuer{})

	c, rec := env.jsonRequest(http.MethodPost, "/api/accept-invite", `{"token":"nope"}`)
	require.NoError(t, env.handler.AcceptInvite(c))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeBody(t, rec)["error"])
}

func TestAcceptInviteAlreadyAccepted(t *testing.T) {
	env := newTestEnv(t, fakeIssuer{})
	inv := env.invite(t, "a@x.com", models.RoleAdmin)

	_, err := env.manager.Accept(context.Background(), inv.Token)
	require.NoError(t, err)

	c, rec := env.jsonRequest(http.MethodPost, "/api/accept-invite",
		fmt.Sprintf(`{"token":%q}`, inv.Token))
	require.NoError(t, env.handler.AcceptInvite(c))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "ALREADY_ACCEPTED", body["error"])
	// The client needs these to route the invitee into sign-in anyway.
	assert.Equal(t, "a@x.com", body["email"])
	assert.Equal(t, models.RoleAdmin, body["role"])
}

func TestAcceptInviteAlreadyRegistered(t *testing.T) {
	env := newTestEnv(t, fakeIssuer{})
	inv := env.invite(t, "a@x.com", models.RoleUser)

	ctx := context.Background()
	_, err := env.manager.Accept(ctx, inv.Token)
	require.NoError(t, err)
	_, err = env.manager.ReconcileOnIdentityConfirmation(ctx, "id-a", "a@x.com")
	require.NoError(t, err)

	c, rec := env.jsonRequest(http.MethodPost, "/api/accept-invite",
		fmt.Sprintf(`{"token":%q}`, inv.Token))
	require.NoError(t, env.handler.AcceptInvite(c))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "ALREADY_REGISTERED", body["error"])
	assert.Equal(t, "a@x.com", body["email"])
}

func TestAcceptInviteExpired(t *testing.T) {
	env := newTestEnv(t, fakeIssuer{})
	inv := env.invite(t, "a@x.com", models.RoleUser)

	require.NoError(t, env.db.Model(inv).Update("expires_at", time.Now().Add(-time.Hour)).Error)

	c, rec := env.jsonRequest(http.MethodPost, "/api/accept-invite",
		fmt.Sprintf(`{"token":%q}`, inv.Token))
	require.NoError(t, env.handler.AcceptInvite(c))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "expired", decodeBody(t, rec)["error"])
}

func TestInviteUser(t *testing.T) {
	env := newTestEnv(t, fakeIssuer{})

	c, rec := env.jsonRequest(http.MethodPost, "/api/admin/invite",
		`{"email":"new@x.com","role":"admin","message":"join us"}`)
	c.Set("profile", &models.Profile{ID: "admin-1", Role: models.RoleAdmin, Status: models.ProfileActive})
	require.NoError(t, env.handler.InviteUser(c))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "new@x.com", body["email"])
	assert.Equal(t, models.RoleAdmin, body["role"])
	assert.Contains(t, body["inviteLink"], "https://board.example.com/auth/accept-invite?token=")

	stats, ok := body["invitationStats"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 1, stats["sendCount"])
	assert.EqualValues(t, 2, stats["remainingToday"])

	inv, err := models.GetRenewableInvitation(env.db, "new@x.com")
	require.NoError(t, err)
	require.NotNil(t, inv)
	assert.Equal(t, "admin-1", inv.InvitedBy)
}

func TestInviteUserRejectsBadEmail(t *testing.T) {
	env := newTestEnv(t, fakeIssuer{})

	c, rec := env.jsonRequest(http.MethodPost, "/api/admin/invite", `{"email":"nope"}`)
	require.NoError(t, env.handler.InviteUser(c))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", decodeBody(t, rec)["error"])
}

func TestInviteUserAlreadyActive(t *testing.T) {
	env := newTestEnv(t, fakeIssuer{})

	require.NoError(t, env.db.Create(&models.Profile{
		ID:     "id-1",
		Email:  "a@x.com",
		Role:   models.RoleUser,
		Status: models.ProfileActive,
	}).Error)

	c, rec := env.jsonRequest(http.MethodPost, "/api/admin/invite", `{"email":"a@x.com"}`)
	require.NoError(t, env.handler.InviteUser(c))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "already_active", decodeBody(t, rec)["error"])
}

func TestInviteUserRateLimited(t *testing.T) {
	env := newTestEnv(t, fakeIssuer{})
	inv := env.invite(t, "a@x.com", models.RoleUser)

	require.NoError(t, env.db.Model(inv).Update("daily_send_count", models.DailyInviteLimit).Error)

	c, rec := env.jsonRequest(http.MethodPost, "/api/admin/invite", `{"email":"a@x.com"}`)
	require.NoError(t, env.handler.InviteUser(c))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate_limited", decodeBody(t, rec)["error"])
}

func TestListInvitations(t *testing.T) {
	env := newTestEnv(t, fakeIssuer{})
	env.invite(t, "a@x.com", models.RoleUser)
	env.invite(t, "b@x.com", models.RoleUser)

	c, rec := env.jsonRequest(http.MethodGet, "/api/admin/invitations?limit=1&offset=0", "")
	require.NoError(t, env.handler.ListInvitations(c))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.EqualValues(t, 2, body["total"])
	assert.Len(t, body["invitations"], 1)
	assert.EqualValues(t, 1, body["limit"])
}

func TestListInvitationsRejectsBadLimit(t *testing.T) {
	env := newTestEnv(t, fakeIssuer{})

	c, rec := env.jsonRequest(http.MethodGet, "/api/admin/invitations?limit=abc", "")
	require.NoError(t, env.handler.ListInvitations(c))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResendInvitation(t *testing.T) {
	env := newTestEnv(t, fakeIssuer{})
	inv := env.invite(t, "a@x.com", models.RoleUser)

	c, rec := env.jsonRequest(http.MethodPatch, "/", "")
	c.SetParamNames("id")
	c.SetParamValues(inv.ID)
	require.NoError(t, env.handler.ResendInvitation(c))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	stats, ok := body["invitationStats"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 2, stats["dailySendCount"])
}

func TestResendInvitationUnknown(t *testing.T) {
	env := newTestEnv(t, fakeIssuer{})

	c, rec := env.jsonRequest(http.MethodPatch, "/", "")
	c.SetParamNames("id")
	c.SetParamValues("missing")
	require.NoError(t, env.handler.ResendInvitation(c))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResendInvitationAccepted(t *testing.T) {
	env := newTestEnv(t, fakeIssuer{})
	inv := env.invite(t, "a@x.com", models.RoleUser)
	_, err := env.manager.Accept(context.Background(), inv.Token)
	require.NoError(t, err)

	c, rec := env.jsonRequest(http.MethodPatch, "/", "")
	c.SetParamNames("id")
	c.SetParamValues(inv.ID)
	require.NoError(t, env.handler.ResendInvitation(c))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "cannot_resend", decodeBody(t, rec)["error"])
}

func TestRevokeInvitation(t *testing.T) {
	env := newTestEnv(t, fakeIssuer{})
	inv := env.invite(t, "a@x.com", models.RoleUser)

	c, rec := env.jsonRequest(http.MethodDelete, "/", "")
	c.SetParamNames("id")
	c.SetParamValues(inv.ID)
	require.NoError(t, env.handler.RevokeInvitation(c))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["success"])

	c, rec = env.jsonRequest(http.MethodDelete, "/", "")
	c.SetParamNames("id")
	c.SetParamValues(inv.ID)
	require.NoError(t, env.handler.RevokeInvitation(c))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "already_revoked", decodeBody(t, rec)["error"])
}

func TestMe(t *testing.T) {
	env := newTestEnv(t, fakeIssuer{email: "a@x.com"})

	require.NoError(t, env.db.Create(&models.Profile{
		ID:     "id-1",
		Email:  "a@x.com",
		Role:   models.RoleUser,
		Status: models.ProfileActive,
	}).Error)

	c, rec := env.jsonRequest(http.MethodGet, "/api/auth/me", "")
	require.NoError(t, env.handler.Me(c))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "a@x.com", decodeBody(t, rec)["email"])
}

func TestMeRejectsInactiveProfile(t *testing.T) {
	env := newTestEnv(t, fakeIssuer{email: "a@x.com"})

	require.NoError(t, env.db.Create(&models.Profile{
		ID:     "id-1",
		Email:  "a@x.com",
		Role:   models.RoleUser,
		Status: models.ProfileInactive,
	}).Error)

	c, rec := env.jsonRequest(http.MethodGet, "/api/auth/me", "")
	require.NoError(t, env.handler.Me(c))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
