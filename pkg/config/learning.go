package config

// LearningConfig tunes tool scoring and feedback handling.
type LearningConfig struct {
	// ImportanceThreshold is the minimum usefulness score a tool needs to
	// stay in routing consideration for a domain.
	ImportanceThreshold float64 `yaml:"importance_threshold"`
}

// DefaultLearningConfig returns the learning defaults.
func DefaultLearningConfig() LearningConfig {
	return LearningConfig{
		ImportanceThreshold: 0.6,
	}
}
