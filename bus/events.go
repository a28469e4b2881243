package bus

import (
	"time"

	"github.com/jrsteele09/go-image-resizer/credentials"
)

// Event is one of SessionEstablished, SessionCleared or LogoutRequested.
type Event interface {
	eventName() string
}

// SessionInfo is the part of the session record that may travel between surfaces.
type SessionInfo struct {
	UserID      string    `json:"userId"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName"`
	AvatarURL   string    `json:"avatarUrl,omitempty"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

func InfoFromRecord(r *credentials.Record) SessionInfo {
	if r == nil {
		return SessionInfo{}
	}
	return SessionInfo{
		UserID:      r.UserID,
		Email:       r.Email,
		DisplayName: r.DisplayName,
		AvatarURL:   r.AvatarURL,
		ExpiresAt:   r.ExpiresAt,
	}
}

type SessionEstablished struct {
	Session SessionInfo
}

type SessionCleared struct {
	Reason string
}

// LogoutRequested asks the session manager to log out. Surfaces never clear the store
// themselves.
type LogoutRequested struct{}

func (SessionEstablished) eventName() string { return "session_established" }
func (SessionCleared) eventName() string     { return "session_cleared" }
func (LogoutRequested) eventName() string    { return "logout_requested" }

// Name returns a stable identifier for logs.
func Name(e Event) string {
	if e == nil {
		return "nil"
	}
	return e.eventName()
}

// Reasons carried by SessionCleared.
const (
	ReasonLogout          = "logout"
	ReasonAccountSwitch   = "account_switch"
	ReasonExpired         = "expired"
	ReasonValidationFails = "validation_failed"
	ReasonRefreshFailed   = "refresh_failed"
)
