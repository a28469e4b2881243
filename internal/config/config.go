package config

type Config interface {
	EnvConfig
	CorsConfig
	ProviderConfig
	SessionConfig
	BackendConfig
	ResizeConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetDataFolder() string
	GetBaseURL() string
	GetEnv() string
}

type CorsConfig interface {
	GetAllowedOrigins() AllowedOrigins
	GetAllowedMethods() string
	GetAllowedHeaders() string
}

type mainConfig struct {
	EnvVars
	Cors
	Provider
	Session
	Backend
	Resize
}

func New() Config {
	return mainConfig{}
}
