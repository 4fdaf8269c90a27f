package invitations

import "errors"

// Lifecycle errors. Handlers map these onto the HTTP surface; everything
// not listed here is treated as an upstream failure.
var (
	ErrInvalidEmail = errors.New("valid email is required")
	ErrInvalidRole  = errors.New(`invalid role, must be "user" or "admin"`)

	// ErrAlreadyActive: a profile for the email is already active.
	ErrAlreadyActive = errors.New("a user with this email is already active")

	// ErrRateLimited: the daily send cap for this invitation is exhausted.
	// Counters are never mutated when this is returned.
	ErrRateLimited = errors.New("daily invitation limit reached for this email")

	ErrNotFound = errors.New("invitation not found")

	// ErrAlreadyAccepted: the invitation was accepted but signup is not
	// finished; the invitee should complete sign-in, not retry the token.
	ErrAlreadyAccepted = errors.New("invitation has already been accepted")

	// ErrAlreadyRegistered: terminal soft-success, the invitee holds an
	// active account and should simply sign in.
	ErrAlreadyRegistered = errors.New("this email is already registered")

	ErrExpired        = errors.New("invitation has expired")
	ErrRevoked        = errors.New("invitation has been revoked")
	ErrAlreadyRevoked = errors.New("invitation is already revoked")
	ErrCannotResend   = errors.New("cannot resend an accepted invitation")

	// ErrNotInvited: the identity provider confirmed an email that holds
	// no invitation; the caller must terminate the session.
	ErrNotInvited = errors.New("no invitation found for this email")

	// ErrInactiveNoInvite: an inactive profile exists but no accepted
	// invitation backs it, so it cannot be activated.
	ErrInactiveNoInvite = errors.New("account is inactive and holds no accepted invitation")

	// ErrConflict: a concurrent writer won the conditional update. The
	// operation left no partial state and is safe to retry.
	ErrConflict = errors.New("invitation was modified concurrently")

	// ErrIdentityCleanup: the invitation mutation committed but the
	// follow-up identity-record deletion failed. Callers log this as an
	// inconsistency risk rather than unwinding the mutation.
	ErrIdentityCleanup = errors.New("failed to clean up identity record")
)
