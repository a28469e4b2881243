package config

import "time"

// SessionConfig controls the client side session lifecycle.
type SessionConfig interface {
	GetRefreshThreshold() time.Duration
	GetRefreshCheckInterval() time.Duration
	GetInteractiveTimeout() time.Duration
	GetTokenAcquireAttempts() int
	GetTokenAcquireDelay() time.Duration
	GetMaxCachedTokenRemovals() int
}

type Session struct{}

var _ SessionConfig = Session{}

// GetRefreshThreshold is the remaining validity below which a session is silently refreshed.
func (Session) GetRefreshThreshold() time.Duration {
	return GetEnvDuration("SESSION_REFRESH_THRESHOLD", 24*time.Hour)
}

func (Session) GetRefreshCheckInterval() time.Duration {
	return GetEnvDuration("SESSION_REFRESH_CHECK_INTERVAL", 5*time.Minute)
}

func (Session) GetInteractiveTimeout() time.Duration {
	return GetEnvDuration("SESSION_INTERACTIVE_TIMEOUT", 30*time.Second)
}

func (Session) GetTokenAcquireAttempts() int {
	return GetEnvInt("TOKEN_ACQUIRE_ATTEMPTS", 3)
}

func (Session) GetTokenAcquireDelay() time.Duration {
	return GetEnvDuration("TOKEN_ACQUIRE_DELAY", 500*time.Millisecond)
}

func (Session) GetMaxCachedTokenRemovals() int {
	return GetEnvInt("MAX_CACHED_TOKEN_REMOVALS", 16)
}

// SessionValues is a fixed SessionConfig, used where the values come from flags or tests
// instead of the environment.
type SessionValues struct {
	RefreshThreshold       time.Duration
	RefreshCheckInterval   time.Duration
	InteractiveTimeout     time.Duration
	TokenAcquireAttempts   int
	TokenAcquireDelay      time.Duration
	MaxCachedTokenRemovals int
}

var _ SessionConfig = SessionValues{}

// SessionValuesFrom copies the current values of cfg.
func SessionValuesFrom(cfg SessionConfig) SessionValues {
	return SessionValues{
		RefreshThreshold:       cfg.GetRefreshThreshold(),
		RefreshCheckInterval:   cfg.GetRefreshCheckInterval(),
		InteractiveTimeout:     cfg.GetInteractiveTimeout(),
		TokenAcquireAttempts:   cfg.GetTokenAcquireAttempts(),
		TokenAcquireDelay:      cfg.GetTokenAcquireDelay(),
		MaxCachedTokenRemovals: cfg.GetMaxCachedTokenRemovals(),
	}
}

func (s SessionValues) GetRefreshThreshold() time.Duration     { return s.RefreshThreshold }
func (s SessionValues) GetRefreshCheckInterval() time.Duration { return s.RefreshCheckInterval }
func (s SessionValues) GetInteractiveTimeout() time.Duration   { return s.InteractiveTimeout }
func (s SessionValues) GetTokenAcquireAttempts() int           { return s.TokenAcquireAttempts }
func (s SessionValues) GetTokenAcquireDelay() time.Duration    { return s.TokenAcquireDelay }
func (s SessionValues) GetMaxCachedTokenRemovals() int         { return s.MaxCachedTokenRemovals }
