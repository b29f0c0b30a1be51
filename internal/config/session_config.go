package config

import "time"

type Session struct{}

var _ SessionConfig = Session{}

func (Session) GetMaxSessions() int {
	return GetEnvInt("CHAT_MAX_SESSIONS", 5)
}

func (Session) GetDefaultSessionExpiry() time.Duration {
	return GetEnvDuration("CHAT_SESSION_EXPIRY", 60*time.Minute)
}

func (Session) GetRefreshCheckInterval() time.Duration {
	return GetEnvDuration("CHAT_REFRESH_CHECK_INTERVAL", time.Minute)
}

// GetRefreshThreshold is how close to expiry a session must be before a
// background refresh is started.
func (Session) GetRefreshThreshold() time.Duration {
	return GetEnvDuration("CHAT_REFRESH_THRESHOLD", 5*time.Minute)
}

func (Session) GetActivityQuietWindow() time.Duration {
	return GetEnvDuration("CHAT_ACTIVITY_QUIET_WINDOW", 5*time.Minute)
}

func (Session) GetActivityExtension() time.Duration {
	return GetEnvDuration("CHAT_ACTIVITY_EXTENSION", 60*time.Minute)
}

func (Session) GetCleanupInterval() time.Duration {
	return GetEnvDuration("CHAT_CLEANUP_INTERVAL", time.Minute)
}

func (Session) GetRequestTimeout() time.Duration {
	return GetEnvDuration("CHAT_REQUEST_TIMEOUT", 30*time.Second)
}
