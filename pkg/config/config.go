// Package config loads, merges, and validates the engine's YAML
// configuration. Builtin defaults are applied first; user values from
// pathfinder.yaml override them. Configuration is immutable after
// Initialize returns.
package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// ConfigFileName is the single YAML file read from the config directory.
const ConfigFileName = "pathfinder.yaml"

// Config is the complete, validated engine configuration.
type Config struct {
	Engine    EngineConfig    `yaml:"engine"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Pool      PoolConfig      `yaml:"pool"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Storage   StorageConfig   `yaml:"storage"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
	Cloud     CloudConfig     `yaml:"cloud"`
	Learning  LearningConfig  `yaml:"learning"`
	Server    ServerConfig    `yaml:"server"`
	Retention RetentionConfig `yaml:"retention"`
}

// DefaultConfig returns the builtin configuration applied before any user
// YAML is merged in.
func DefaultConfig() *Config {
	return &Config{
		Engine:    DefaultEngineConfig(),
		Scheduler: DefaultSchedulerConfig(),
		Pool:      DefaultPoolConfig(),
		Monitor:   DefaultMonitorConfig(),
		Storage:   DefaultStorageConfig(),
		Artifacts: DefaultArtifactsConfig(),
		Cloud:     DefaultCloudConfig(),
		Learning:  DefaultLearningConfig(),
		Server:    DefaultServerConfig(),
		Retention: DefaultRetentionConfig(),
	}
}

// Initialize loads, merges, and validates configuration from configDir.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Read pathfinder.yaml (missing file means defaults only)
//  2. Expand {{.VAR}} environment references
//  3. Parse YAML
//  4. Merge user values over builtin defaults
//  5. Validate everything, failing fast on the first error
func Initialize(_ context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg := DefaultConfig()

	path := filepath.Join(configDir, ConfigFileName)
	raw, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		log.Info("No config file found, using builtin defaults", "path", path)
	case err != nil:
		return nil, &LoadError{File: path, Err: err}
	default:
		var user Config
		if err := yaml.Unmarshal(expandEnvTemplate(raw), &user); err != nil {
			return nil, &LoadError{File: path, Err: err}
		}
		if err := mergo.Merge(cfg, user, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge user config: %w", err)
		}
	}

	if err := NewValidator(cfg).ValidateAll(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("Configuration initialized",
		"storage_backend", cfg.Storage.Backend,
		"pool_size", cfg.Pool.Size,
		"worker_mode", cfg.Pool.Mode,
		"cloud_lane", cfg.Cloud.Enabled())

	return cfg, nil
}
