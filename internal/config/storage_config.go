package config

import "strings"

const (
	SessionBackendMemory = "memory"
	SessionBackendRedis  = "redis"
)

type StorageConfig interface {
	GetSessionBackend() string
	GetRedisURL() string
	GetDatabaseURL() string
}

type Storage struct{}

var _ StorageConfig = Storage{}

func (Storage) GetSessionBackend() string {
	return strings.ToLower(GetEnv("SESSION_BACKEND", SessionBackendMemory))
}

func (Storage) GetRedisURL() string {
	return GetEnv("REDIS_URL", "redis://localhost:6379/0")
}

// GetDatabaseURL points at the note store. Empty means notes are served from memory.
func (Storage) GetDatabaseURL() string {
	return GetEnv("DATABASE_URL", "")
}
