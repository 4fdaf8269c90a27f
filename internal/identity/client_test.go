package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, "service-key")
	c.pollInterval = time.Millisecond
	c.pollTimeout = 50 * time.Millisecond
	return c
}

func TestClientSendsServiceCredentials(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer service-key", r.Header.Get("Authorization"))
		assert.Equal(t, "service-key", r.Header.Get("apikey"))
		json.NewEncoder(w).Encode(usersResponse{})
	}))

	_, err := c.ListUsers(context.Background())
	require.NoError(t, err)
}

func TestGetUserByEmail(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/admin/users", r.URL.Path)
		assert.Equal(t, "A@x.com", r.URL.Query().Get("email"))
		json.NewEncoder(w).Encode(usersResponse{Users: []User{
			{ID: "u-2", Email: "other@x.com"},
			{ID: "u-1", Email: "a@x.com"},
		}})
	}))

	// The match is case insensitive; providers disagree on normalization.
	user, err := c.GetUserByEmail(context.Background(), "A@x.com")
	require.NoError(t, err)
	assert.Equal(t, "u-1", user.ID)
}

func TestGetUserByEmailNotFound(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(usersResponse{})
	}))

	_, err := c.GetUserByEmail(context.Background(), "a@x.com")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestInviteUserByEmail(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/invite", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "a@x.com", payload["email"])
		assert.Equal(t, "https://board.example.com/auth/accept-invite", payload["redirect_to"])
		data, ok := payload["data"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "admin", data["role"])

		json.NewEncoder(w).Encode(User{ID: "u-1", Email: "a@x.com"})
	}))

	user, err := c.InviteUserByEmail(context.Background(), "a@x.com",
		"https://board.example.com/auth/accept-invite", map[string]any{"role": "admin"})
	require.NoError(t, err)
	assert.Equal(t, "u-1", user.ID)
}

func TestDeleteUserMissingIsOK(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/admin/users/u-1", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	}))

	assert.NoError(t, c.DeleteUser(context.Background(), "u-1"))
}

func TestDeleteUserErrorSurfacesBody(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "service role required", http.StatusForbidden)
	}))

	err := c.DeleteUser(context.Background(), "u-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Contains(t, err.Error(), "service role required")
}

func TestWaitForDeletionPollsUntilGone(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			json.NewEncoder(w).Encode(User{ID: "u-1", Email: "a@x.com"})
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))

	require.NoError(t, c.WaitForDeletion(context.Background(), "u-1"))
	assert.GreaterOrEqual(t, calls.Load(), int32(3))
}

func TestWaitForDeletionTimesOut(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(User{ID: "u-1", Email: "a@x.com"})
	}))

	// Either the poll loop reports the record still present or the last
	// request dies on the deadline; both are a failed wait.
	err := c.WaitForDeletion(context.Background(), "u-1")
	require.Error(t, err)
}
