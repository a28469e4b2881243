package errors

import (
	"errors"
	"fmt"
)

// Common error types for the resizer client and backend
var (
	// Identity provider errors
	ErrNoTokenAvailable   = errors.New("no token available")
	ErrProviderAuthFailed = errors.New("provider authentication failed")

	// Backend session errors
	ErrBackendAuthFailed  = errors.New("backend authentication failed")
	ErrSessionExpired     = errors.New("session expired")
	ErrBackendUnavailable = errors.New("backend unavailable")

	// Persistence errors, treated by callers as an absent session
	ErrStorage = errors.New("storage error")

	// Session manager errors
	ErrOperationInProgress = errors.New("authentication already in progress")
	ErrNotSignedIn         = errors.New("not signed in")

	// Authentication errors
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserExists         = errors.New("user already exists")
	ErrUserNotFound       = errors.New("user not found")

	// Token errors
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
	ErrTokenRevoked = errors.New("token revoked")

	// General errors
	ErrNotFound       = errors.New("not found")
	ErrInvalidRequest = errors.New("invalid request")
	ErrInternal       = errors.New("internal error")
)

// New returns an error that formats as the given text
func New(text string) error {
	return errors.New(text)
}

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Mark attaches a sentinel to err so that errors.Is matches both the sentinel and the
// original cause.
func Mark(err, sentinel error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
