// Package token mints and verifies the backend session tokens handed to the extension
// after a successful provider sign-in.
package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jrsteele09/go-image-resizer/internal/config"
	apperrors "github.com/jrsteele09/go-image-resizer/internal/errors"
	"github.com/pkg/errors"
)

// NowTimeFunc returns the current time. It can be overridden per Sessions with WithNowTime.
var NowTimeFunc = time.Now

// Subject is the identity a session token is issued for.
type Subject struct {
	UserID  string
	Email   string
	Name    string
	Picture string
}

// Claims is the verified content of a session token.
type Claims struct {
	Subject
	ID        string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type Option func(*Sessions)

func WithNowTime(now func() time.Time) Option {
	return func(s *Sessions) {
		s.now = now
	}
}

// Sessions issues HS256 session JWTs and checks them against the revocation cache.
type Sessions struct {
	signer   Signer
	revoked  RevokedTokenCache
	issuer   string
	lifetime time.Duration
	now      func() time.Time
}

func NewSessions(signer Signer, revoked RevokedTokenCache, cfg config.BackendConfig, opts ...Option) (*Sessions, error) {
	if signer == nil {
		return nil, errors.New("[NewSessions] signer is required")
	}
	if revoked == nil {
		return nil, errors.New("[NewSessions] revoked token cache is required")
	}
	if cfg.GetSessionLifetime() <= 0 {
		return nil, errors.New("[NewSessions] session lifetime must be positive")
	}
	s := &Sessions{
		signer:   signer,
		revoked:  revoked,
		issuer:   cfg.GetSessionIssuer(),
		lifetime: cfg.GetSessionLifetime(),
		now:      NowTimeFunc,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Issue signs a new session token for sub valid for the configured lifetime.
func (s *Sessions) Issue(sub Subject) (string, *Claims, error) {
	if sub.UserID == "" {
		return "", nil, errors.New("[Sessions.Issue] user id is required")
	}
	now := s.now().Truncate(time.Second)
	claims := &Claims{
		Subject:   sub,
		ID:        uuid.New().String(),
		IssuedAt:  now,
		ExpiresAt: now.Add(s.lifetime),
	}
	mapClaims := jwt.MapClaims{
		"iss":   s.issuer,
		"sub":   sub.UserID,
		"email": sub.Email,
		"iat":   claims.IssuedAt.Unix(),
		"exp":   claims.ExpiresAt.Unix(),
		"jti":   claims.ID,
	}
	if sub.Name != "" {
		mapClaims["name"] = sub.Name
	}
	if sub.Picture != "" {
		mapClaims["picture"] = sub.Picture
	}

	signed, err := s.signer.Sign(mapClaims)
	if err != nil {
		return "", nil, errors.Wrap(err, "[Sessions.Issue]")
	}
	return signed, claims, nil
}

// Parse verifies signature, issuer, expiry and revocation of raw.
func (s *Sessions) Parse(raw string) (*Claims, error) {
	if raw == "" {
		return nil, apperrors.ErrInvalidToken
	}
	parsed, err := jwt.Parse(raw, s.signer.GetVerificationKey,
		jwt.WithValidMethods([]string{s.signer.GetSigningMethod().Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperrors.Mark(err, apperrors.ErrTokenExpired)
		}
		return nil, apperrors.Mark(err, apperrors.ErrInvalidToken)
	}

	mapClaims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, apperrors.ErrInvalidToken
	}
	claims, err := claimsFromMap(mapClaims)
	if err != nil {
		return nil, err
	}
	if s.revoked.IsRevoked(claims.ID) {
		return nil, apperrors.ErrTokenRevoked
	}
	return claims, nil
}

// Revoke verifies raw and blocks its jti until the token's own expiry.
func (s *Sessions) Revoke(raw string) (*Claims, error) {
	claims, err := s.Parse(raw)
	if err != nil {
		return nil, err
	}
	if err := s.revoked.Add(claims.ID, claims.ExpiresAt); err != nil {
		return nil, errors.Wrap(err, "[Sessions.Revoke]")
	}
	return claims, nil
}

// Cleanup forgets revocations whose tokens have expired.
func (s *Sessions) Cleanup() int {
	return s.revoked.Cleanup()
}

func claimsFromMap(m jwt.MapClaims) (*Claims, error) {
	sub, err := m.GetSubject()
	if err != nil || sub == "" {
		return nil, apperrors.Wrapf(apperrors.ErrInvalidToken, "missing sub")
	}
	jti, _ := m["jti"].(string)
	if jti == "" {
		return nil, apperrors.Wrapf(apperrors.ErrInvalidToken, "missing jti")
	}
	exp, err := m.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, apperrors.Wrapf(apperrors.ErrInvalidToken, "missing exp")
	}

	claims := &Claims{
		ID:        jti,
		ExpiresAt: exp.Time,
	}
	if iat, err := m.GetIssuedAt(); err == nil && iat != nil {
		claims.IssuedAt = iat.Time
	}
	claims.UserID = sub
	claims.Email, _ = m["email"].(string)
	claims.Name, _ = m["name"].(string)
	claims.Picture, _ = m["picture"].(string)
	return claims, nil
}
