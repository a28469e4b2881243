package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/jrsteele09/go-image-resizer/internal/errors"
	"github.com/jrsteele09/go-image-resizer/token"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// ContextKeyUserID stores the authenticated user ID
	ContextKeyUserID ContextKey = "user_id"
	// ContextKeyClaims stores the verified *token.Claims
	ContextKeyClaims ContextKey = "claims"
	// ContextKeyToken stores the raw bearer token
	ContextKeyToken ContextKey = "token"
)

// RequireAuth is middleware that validates a Bearer session token
func (s *Server) RequireAuth() func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			raw, msg := bearerToken(r)
			if msg != "" {
				writeJSONError(w, msg, http.StatusUnauthorized)
				return
			}

			claims, err := s.sessions.Parse(raw)
			if err != nil {
				writeJSONError(w, authErrorMessage(err), http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyUserID, claims.UserID)
			ctx = context.WithValue(ctx, ContextKeyClaims, claims)
			ctx = context.WithValue(ctx, ContextKeyToken, raw)
			next(w, r.WithContext(ctx))
		}
	}
}

// bearerToken extracts the token from the Authorization header. A non-empty message
// describes why it is missing.
func bearerToken(r *http.Request) (string, string) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", "Missing Authorization header"
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return "", "Invalid Authorization header format"
	}

	raw := strings.TrimSpace(parts[1])
	if raw == "" {
		return "", "Empty token"
	}
	return raw, ""
}

func authErrorMessage(err error) string {
	switch {
	case errors.Is(err, errors.ErrTokenExpired):
		return "Session expired"
	case errors.Is(err, errors.ErrTokenRevoked):
		return "Session signed out"
	default:
		return "User not authenticated"
	}
}

func claimsFromContext(ctx context.Context) (*token.Claims, bool) {
	claims, ok := ctx.Value(ContextKeyClaims).(*token.Claims)
	return claims, ok
}

func tokenFromContext(ctx context.Context) string {
	raw, _ := ctx.Value(ContextKeyToken).(string)
	return raw
}
