package config

import "time"

type Config interface {
	EnvConfig
	SessionConfig
	OfflineConfig
	StorageConfig
	ServerConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetAPIBaseURL() string
	GetDataFolder() string
	GetLogLevel() string
	GetEnv() string
}

// SessionConfig holds the session lifecycle policy used by the token store and
// the session manager.
type SessionConfig interface {
	GetMaxSessions() int
	GetDefaultSessionExpiry() time.Duration
	GetRefreshCheckInterval() time.Duration
	GetRefreshThreshold() time.Duration
	GetActivityQuietWindow() time.Duration
	GetActivityExtension() time.Duration
	GetCleanupInterval() time.Duration
	GetRequestTimeout() time.Duration
}

type mainConfig struct {
	EnvVars
	Session
	Offline
	Storage
	Server
}

func New() Config {
	return mainConfig{}
}
