// Package identity wraps the external identity provider and the backend sign-in exchange.
package identity

import (
	"context"

	"github.com/jrsteele09/go-image-resizer/backend"
)

// GetTokenOptions controls a single provider token request.
type GetTokenOptions struct {
	Interactive         bool // Show the consent UI when no cached token can be used
	ForceAccountChooser bool // Ask the provider to show its account picker
}

// Provider is the external OAuth/OIDC identity provider as seen by this process.
// Tokens are opaque strings and must never be logged.
type Provider interface {
	// GetToken returns a token. A non-interactive call without a usable cached token fails
	// with ErrNoTokenAvailable.
	GetToken(ctx context.Context, opts GetTokenOptions) (string, error)

	// RemoveCachedToken drops token from the provider's local cache.
	RemoveCachedToken(ctx context.Context, token string) error

	// RevokeToken invalidates token at the provider.
	RevokeToken(ctx context.Context, token string) error

	// SignOut ends the provider session held by this process.
	SignOut(ctx context.Context) error
}

// Exchanger trades a provider token for a backend session.
type Exchanger interface {
	SignIn(ctx context.Context, providerToken string) (*backend.SignInResponse, error)
}

var _ Exchanger = (*backend.Client)(nil)
