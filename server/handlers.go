package server

import (
	"net/http"
	"strings"

	"github.com/jrsteele09/go-image-resizer/backend"
	"github.com/jrsteele09/go-image-resizer/internal/errors"
	"github.com/jrsteele09/go-image-resizer/token"
	"github.com/jrsteele09/go-image-resizer/users"
)

// SignUpHandler registers an email/password account
func (s *Server) SignUpHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req backend.SignUpRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeJSONError(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if err := users.ValidateSignUp(req.Email, req.Password, req.DisplayName); err != nil {
			writeJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}

		hash, err := users.HashPassword(req.Password)
		if err != nil {
			s.logError(r.Method, r.URL.Path, err)
			writeJSONError(w, "Failed to create user", http.StatusInternalServerError)
			return
		}

		now := s.now()
		user := &users.User{
			Email:        users.NormalizeEmail(req.Email),
			DisplayName:  strings.TrimSpace(req.DisplayName),
			PasswordHash: hash,
			DateJoined:   now,
		}
		if err := s.users.Create(user); err != nil {
			if errors.Is(err, errors.ErrUserExists) {
				writeJSONError(w, "The email address is already in use by another account", http.StatusConflict)
				return
			}
			s.logError(r.Method, r.URL.Path, err)
			writeJSONError(w, "Failed to create user", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusCreated, backend.SignUpResponse{
			Success: true,
			User:    wireUser(user),
		})
	}
}

// SignInHandler exchanges a provider ID token (bearer) for a session token
func (s *Server) SignInHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, msg := bearerToken(r)
		if msg != "" {
			writeJSONError(w, msg, http.StatusUnauthorized)
			return
		}

		identity, err := s.verifier.VerifyIdentity(r.Context(), raw)
		if err != nil {
			s.logger.Warn().Err(err).Msg("provider token rejected")
			writeJSONError(w, "Invalid provider token", http.StatusUnauthorized)
			return
		}
		if identity.Subject == "" {
			writeJSONError(w, "Invalid provider token", http.StatusUnauthorized)
			return
		}

		user, err := s.upsertProviderUser(identity)
		if err != nil {
			s.logError(r.Method, r.URL.Path, err)
			writeJSONError(w, "Failed to sign in", http.StatusInternalServerError)
			return
		}

		sessionToken, claims, err := s.sessions.Issue(token.Subject{
			UserID:  user.ID,
			Email:   user.Email,
			Name:    user.DisplayName,
			Picture: user.PhotoURL,
		})
		if err != nil {
			s.logError(r.Method, r.URL.Path, err)
			writeJSONError(w, "Failed to sign in", http.StatusInternalServerError)
			return
		}

		s.logger.Info().Str("user_id", user.ID).Time("expires_at", claims.ExpiresAt).Msg("session issued")
		writeJSON(w, http.StatusOK, backend.SignInResponse{
			Success:      true,
			User:         wireUser(user),
			SessionToken: sessionToken,
			ExpiresAt:    claims.ExpiresAt,
			Profile: map[string]any{
				"dateJoined":    user.DateJoined,
				"lastLogin":     user.LastLogin,
				"emailVerified": identity.EmailVerified,
			},
		})
	}
}

// upsertProviderUser finds the account for a provider identity. An existing email/password
// account is linked on first provider sign-in only when the provider has verified the
// email; otherwise the identity gets an account of its own.
func (s *Server) upsertProviderUser(identity *ProviderIdentity) (*users.User, error) {
	now := s.now()
	user, err := s.users.GetBySubject(identity.Subject)
	if errors.Is(err, errors.ErrUserNotFound) && identity.Email != "" && identity.EmailVerified {
		user, err = s.users.GetByEmail(identity.Email)
	}
	if errors.Is(err, errors.ErrUserNotFound) {
		user, err = &users.User{DateJoined: now}, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "[Server.upsertProviderUser] lookup")
	}

	user.ProviderSubject = identity.Subject
	if identity.Email != "" {
		owner, err := s.users.GetByEmail(identity.Email)
		switch {
		case errors.Is(err, errors.ErrUserNotFound) || (err == nil && owner.ID == user.ID):
			user.Email = users.NormalizeEmail(identity.Email)
		case err != nil:
			return nil, errors.Wrapf(err, "[Server.upsertProviderUser] email lookup")
		default:
			s.logger.Warn().Str("subject", identity.Subject).Msg("unverified provider email belongs to another account, not linking")
		}
	}
	if identity.Name != "" {
		user.DisplayName = identity.Name
	}
	if identity.Picture != "" {
		user.PhotoURL = identity.Picture
	}
	user.LastLogin = now

	if err := s.users.Upsert(user); err != nil {
		return nil, errors.Wrapf(err, "[Server.upsertProviderUser] upsert")
	}
	return user, nil
}

// IsLoggedInHandler reports the session's user; RequireAuth has already rejected bad tokens
func (s *Server) IsLoggedInHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := claimsFromContext(r.Context())
		if !ok {
			writeJSONError(w, "User not authenticated", http.StatusUnauthorized)
			return
		}

		user := backend.User{
			UID:         claims.UserID,
			Email:       claims.Email,
			DisplayName: claims.Name,
			PhotoURL:    claims.Picture,
		}
		if stored, err := s.users.GetByID(claims.UserID); err == nil {
			user = wireUser(stored)
		}

		writeJSON(w, http.StatusOK, backend.IsLoggedInResponse{
			Success:   true,
			User:      user,
			ExpiresAt: claims.ExpiresAt,
		})
	}
}

// SignOutHandler revokes the presented session token
func (s *Server) SignOutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, err := s.sessions.Revoke(tokenFromContext(r.Context()))
		if err != nil {
			writeJSONError(w, authErrorMessage(err), http.StatusUnauthorized)
			return
		}
		s.sessions.Cleanup()
		s.logger.Info().Str("user_id", claims.UserID).Msg("session revoked")
		writeJSON(w, http.StatusOK, backend.ErrorResponse{Success: true, Message: "Signed out"})
	}
}

func wireUser(u *users.User) backend.User {
	return backend.User{
		UID:         u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		PhotoURL:    u.PhotoURL,
	}
}
