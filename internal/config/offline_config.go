package config

import "time"

type OfflineConfig interface {
	GetSyncRatePerSecond() float64
	GetConnectivityProbeInterval() time.Duration
	GetConnectivityProbePath() string
}

type Offline struct{}

var _ OfflineConfig = Offline{}

// GetSyncRatePerSecond limits queued message replay. Zero means unlimited.
func (Offline) GetSyncRatePerSecond() float64 {
	return GetEnvFloat("CHAT_SYNC_RATE", 0)
}

func (Offline) GetConnectivityProbeInterval() time.Duration {
	return GetEnvDuration("CHAT_PROBE_INTERVAL", 15*time.Second)
}

func (Offline) GetConnectivityProbePath() string {
	return GetEnv("CHAT_PROBE_PATH", "/api/health")
}
