package config

import "time"

// ServerConfig tunes the HTTP API and the WebSocket event streams.
type ServerConfig struct {
	// Host and Port form the listen address.
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// AllowedWSOrigins restricts WebSocket upgrades; empty allows same-origin
	// only.
	AllowedWSOrigins []string `yaml:"allowed_ws_origins"`

	// WriteTimeout bounds one WebSocket frame send.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// ShutdownTimeout bounds graceful HTTP shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// StreamBuffer is the per-subscriber event buffer. Subscribers that fall
	// further behind lose the oldest events and receive a gap marker.
	StreamBuffer int `yaml:"stream_buffer"`

	// CatchupLimit caps how many events one replay request returns.
	CatchupLimit int `yaml:"catchup_limit"`
}

// DefaultServerConfig returns the server defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:            "0.0.0.0",
		Port:            8080,
		WriteTimeout:    10 * time.Second,
		ShutdownTimeout: 5 * time.Second,
		StreamBuffer:    64,
		CatchupLimit:    200,
	}
}

// RetentionConfig tunes the cleanup sweeper that prunes terminal missions.
type RetentionConfig struct {
	// Enabled turns the sweeper on.
	Enabled bool `yaml:"enabled"`

	// MissionTTL is how long a terminal mission's events and snapshots are
	// kept before pruning.
	MissionTTL time.Duration `yaml:"mission_ttl"`

	// SweepInterval is the gap between pruning passes.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// DefaultRetentionConfig returns the retention defaults.
func DefaultRetentionConfig() RetentionConfig {
	return RetentionConfig{
		Enabled:       true,
		MissionTTL:    30 * 24 * time.Hour,
		SweepInterval: time.Hour,
	}
}
