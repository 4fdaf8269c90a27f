package identity

import (
	"context"
	"errors"
	"time"
)

// ErrUserNotFound is returned when the provider has no record for the
// requested user.
var ErrUserNotFound = errors.New("identity record not found")

// User is the provider's representation of a signed-in principal. A nil
// ConfirmedAt means the user was invited but never completed OAuth.
type User struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
}

// Provider is the hosted identity service. Interactive OAuth is handled
// separately (goth); this interface covers the service-credential admin
// surface the invitation lifecycle needs.
type Provider interface {
	ListUsers(ctx context.Context) ([]User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)

	// InviteUserByEmail creates an unconfirmed identity record and has the
	// provider send its own invite email with the given redirect target.
	InviteUserByEmail(ctx context.Context, email, redirectTo string, metadata map[string]any) (*User, error)

	// DeleteUser removes an identity record. The provider applies
	// deletions asynchronously; call WaitForDeletion before recreating a
	// record for the same email.
	DeleteUser(ctx context.Context, id string) error

	// WaitForDeletion polls until the record is gone or ctx is done.
	WaitForDeletion(ctx context.Context, id string) error
}
