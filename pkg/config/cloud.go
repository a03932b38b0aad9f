package config

import "time"

// BreakerConfig tunes the circuit breaker guarding the cloud lane.
type BreakerConfig struct {
	// MaxFailures is the consecutive failure count that opens the breaker.
	MaxFailures int `yaml:"max_failures"`

	// Cooldown is how long the breaker stays open before probing again.
	Cooldown time.Duration `yaml:"cooldown"`
}

// CloudConfig describes the remote execution endpoint used for CLOUD lane
// tasks. The API key is read from CLOUD_API_KEY at client construction.
type CloudConfig struct {
	// BaseURL is the cloud executor endpoint. Empty disables the cloud
	// lane entirely; the router then keeps everything local.
	BaseURL string `yaml:"base_url"`

	// Timeout bounds one cloud execution round trip.
	Timeout time.Duration `yaml:"timeout"`

	// BudgetPerMin caps cloud dispatches per minute. Tasks over budget
	// wait or fall back to the local lane.
	BudgetPerMin int `yaml:"budget_per_min"`

	Breaker BreakerConfig `yaml:"breaker"`
}

// DefaultCloudConfig returns the cloud lane defaults. The lane is off until
// a base URL is configured.
func DefaultCloudConfig() CloudConfig {
	return CloudConfig{
		Timeout:      60 * time.Second,
		BudgetPerMin: 30,
		Breaker: BreakerConfig{
			MaxFailures: 5,
			Cooldown:    30 * time.Second,
		},
	}
}

// Enabled reports whether the cloud lane is configured.
func (c CloudConfig) Enabled() bool {
	return c.BaseURL != ""
}
