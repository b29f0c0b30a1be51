package config

import "time"

// ServerConfig configures the reference chat backend.
type ServerConfig interface {
	GetPort() string
	GetAppName() string
	GetEnv() string
	GetSigningSecret() string
	GetAccessTokenExpiry() time.Duration
	GetRefreshTokenExpiry() time.Duration
	GetRefreshTokenLength() int
}

type Server struct{}

func (Server) GetSigningSecret() string {
	return GetEnv("CHAT_SIGNING_SECRET", "dev-signing-secret")
}

func (Server) GetAccessTokenExpiry() time.Duration {
	return GetEnvDuration("CHAT_ACCESS_TOKEN_EXPIRY", 15*time.Minute)
}

func (Server) GetRefreshTokenExpiry() time.Duration {
	return GetEnvDuration("CHAT_REFRESH_TOKEN_EXPIRY", 7*24*time.Hour) // 7 days
}

func (Server) GetRefreshTokenLength() int {
	return 32 // 32 bytes = 256 bits
}
