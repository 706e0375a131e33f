package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyInput is returned when a quantile or top-K list is requested
	// from a state that has not observed any record.
	ErrEmptyInput = errors.New("no observations")

	// ErrInvalidQuantile is returned for quantiles outside [0, 1].
	ErrInvalidQuantile = errors.New("quantile must be within [0, 1]")

	// ErrInvalidConfiguration is matched by every *ConfigError.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrIncompatibleState is returned when merging states built with
	// different settings (mode, histogram layout, k).
	ErrIncompatibleState = errors.New("incompatible states")
)

// ConfigError describes a caller mistake in the analysis configuration.
type ConfigError struct {
	Param  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Param, e.Reason)
}

// Unwrap lets errors.Is(err, ErrInvalidConfiguration) match.
func (e *ConfigError) Unwrap() error {
	return ErrInvalidConfiguration
}

func configErrorf(param, format string, args ...interface{}) *ConfigError {
	return &ConfigError{Param: param, Reason: fmt.Sprintf(format, args...)}
}
