package config

import (
	"errors"
	"fmt"
)

// ErrNotLoaded is returned when configuration is accessed before Initialize.
var ErrNotLoaded = errors.New("configuration not loaded")

// LoadError wraps errors that occur while reading or parsing a config file.
type LoadError struct {
	File string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load config file %q: %v", e.File, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// ValidationError describes a single invalid configuration value. Section is
// the top-level YAML key ("engine", "scheduler", ...) and Field the offending
// entry within it.
type ValidationError struct {
	Section string
	Field   string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid %s config: %v", e.Section, e.Err)
	}
	return fmt.Sprintf("invalid %s config: field %q: %v", e.Section, e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func newValidationError(section, field string, format string, args ...any) *ValidationError {
	return &ValidationError{
		Section: section,
		Field:   field,
		Err:     fmt.Errorf(format, args...),
	}
}
