package config

import "time"

type SecurityConfig interface {
	GetSessionSecret() string
	GetSessionTTL() time.Duration
	GetFlowTTL() time.Duration
}

type Security struct{}

var _ SecurityConfig = Security{}

// GetSessionSecret keys cookie sealing and session-handle signing. An empty
// value makes the server generate an ephemeral key at start-up.
func (Security) GetSessionSecret() string {
	return GetEnv("SESSION_SECRET", "")
}

func (Security) GetSessionTTL() time.Duration {
	return GetEnvDuration("SESSION_TTL", 12*time.Hour)
}

func (Security) GetFlowTTL() time.Duration {
	return 10 * time.Minute
}
