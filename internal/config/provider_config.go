package config

import "strings"

// ProviderConfig describes the single OAuth/OIDC identity provider the client signs in with.
type ProviderConfig interface {
	GetIssuerURL() string
	GetClientID() string
	GetClientSecret() string
	GetCallbackPort() int
	GetScopes() []string
}

type Provider struct{}

var _ ProviderConfig = Provider{}

func (Provider) GetIssuerURL() string {
	return GetEnv("OIDC_ISSUER_URL", "https://accounts.google.com")
}

func (Provider) GetClientID() string {
	return GetEnv("OIDC_CLIENT_ID", "")
}

// GetClientSecret is empty for public (PKCE only) clients.
func (Provider) GetClientSecret() string {
	return GetEnv("OIDC_CLIENT_SECRET", "")
}

func (Provider) GetCallbackPort() int {
	return GetEnvInt("OIDC_CALLBACK_PORT", 8765)
}

func (Provider) GetScopes() []string {
	return strings.Fields(GetEnv("OIDC_SCOPES", "openid profile email offline_access"))
}
