package config

import "time"

// Storage backends.
const (
	StorageBackendPostgres = "postgres"
	StorageBackendMemory   = "memory"
)

// Artifact store backends.
const (
	ArtifactBackendMemory = "memory"
	ArtifactBackendRedis  = "redis"
)

// StorageConfig selects and tunes the mission store. Postgres connection
// parameters come from the environment (DATABASE_* variables), not from
// YAML, so credentials never land in config files.
type StorageConfig struct {
	// Backend is "postgres" or "memory".
	Backend string `yaml:"backend"`

	// SnapshotIntervalEvents is how many events a mission accrues between
	// projection snapshots.
	SnapshotIntervalEvents int `yaml:"snapshot_interval_events"`
}

// DefaultStorageConfig returns the storage defaults.
func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		Backend:                StorageBackendPostgres,
		SnapshotIntervalEvents: 20,
	}
}

// RedisConfig carries connection settings for the redis artifact backend.
// PasswordEnv names an environment variable so the secret stays out of YAML.
type RedisConfig struct {
	Addr        string `yaml:"addr"`
	DB          int    `yaml:"db"`
	PasswordEnv string `yaml:"password_env"`
}

// ArtifactsConfig selects and tunes the artifact store that holds large task
// outputs referenced by handle from mission events.
type ArtifactsConfig struct {
	// Backend is "memory" or "redis".
	Backend string `yaml:"backend"`

	// TTL is how long an artifact stays retrievable after writing.
	TTL time.Duration `yaml:"ttl"`

	Redis RedisConfig `yaml:"redis"`
}

// DefaultArtifactsConfig returns the artifact store defaults.
func DefaultArtifactsConfig() ArtifactsConfig {
	return ArtifactsConfig{
		Backend: ArtifactBackendMemory,
		TTL:     24 * time.Hour,
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
	}
}
