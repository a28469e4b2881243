package server

import (
	"context"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jrsteele09/go-image-resizer/internal/config"
	apperrors "github.com/jrsteele09/go-image-resizer/internal/errors"
	"github.com/pkg/errors"
)

// ProviderIdentity is the account asserted by a verified provider ID token.
type ProviderIdentity struct {
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	Picture       string
}

// IdentityVerifier checks the provider token presented on sign-in.
type IdentityVerifier interface {
	VerifyIdentity(ctx context.Context, rawIDToken string) (*ProviderIdentity, error)
}

type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

func NewOIDCVerifier(verifier *oidc.IDTokenVerifier) *OIDCVerifier {
	return &OIDCVerifier{verifier: verifier}
}

// DiscoverOIDCVerifier loads the issuer's discovery document and keys.
func DiscoverOIDCVerifier(ctx context.Context, cfg config.ProviderConfig) (*OIDCVerifier, error) {
	if cfg.GetClientID() == "" {
		return nil, errors.New("[DiscoverOIDCVerifier] OIDC client id is required")
	}
	provider, err := oidc.NewProvider(ctx, cfg.GetIssuerURL())
	if err != nil {
		return nil, errors.Wrap(err, "[DiscoverOIDCVerifier] failed to create OIDC provider")
	}
	return NewOIDCVerifier(provider.Verifier(&oidc.Config{
		ClientID: cfg.GetClientID(),
	})), nil
}

func (v *OIDCVerifier) VerifyIdentity(ctx context.Context, rawIDToken string) (*ProviderIdentity, error) {
	idToken, err := v.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, apperrors.Mark(err, apperrors.ErrInvalidToken)
	}

	var claims struct {
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
		Picture       string `json:"picture"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, apperrors.Mark(err, apperrors.ErrInvalidToken)
	}

	return &ProviderIdentity{
		Subject:       idToken.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		Name:          claims.Name,
		Picture:       claims.Picture,
	}, nil
}
