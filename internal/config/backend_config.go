package config

import "time"

// BackendConfig is shared by the API server (token minting) and the client (API location).
type BackendConfig interface {
	GetAPIBaseURL() string
	GetSessionLifetime() time.Duration
	GetSessionSigningKey() string
	GetSessionIssuer() string
	GetRequestTimeout() time.Duration
}

type Backend struct{}

var _ BackendConfig = Backend{}

func (Backend) GetAPIBaseURL() string {
	return GetEnv("API_BASE_URL", "http://localhost:3000")
}

// GetSessionLifetime is the single lifetime used for backend session tokens.
func (Backend) GetSessionLifetime() time.Duration {
	return GetEnvDuration("SESSION_LIFETIME", 30*24*time.Hour)
}

func (Backend) GetSessionSigningKey() string {
	return GetEnv("SESSION_SIGNING_KEY", "")
}

func (Backend) GetSessionIssuer() string {
	return GetEnv("SESSION_ISSUER", "image-resizer")
}

func (Backend) GetRequestTimeout() time.Duration {
	return GetEnvDuration("API_REQUEST_TIMEOUT", 15*time.Second)
}
