package apilog

import (
	"errors"
	"fmt"
)

// ErrSinkUnavailable marks a sink failure caused by a missing or
// unprovisioned target (absent table, unknown database). Retrying cannot
// succeed without operator action, so the flusher treats it as fatal.
var ErrSinkUnavailable = errors.New("sink target not provisioned")

// ConfigurationError is a fatal startup error caused by an invalid
// tunable, such as a non-positive queue capacity or flush interval.
type ConfigurationError struct {
	Field   string
	Message string
	Err     error
}

// Error implements the error interface
func (e *ConfigurationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("configuration error: %s", e.Message)
}

// Unwrap implements the error unwrapping interface
func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// NewConfigurationError creates a ConfigurationError for the given field.
func NewConfigurationError(field, message string) *ConfigurationError {
	return &ConfigurationError{Field: field, Message: message}
}

// IsConfigurationError reports whether err is (or wraps) a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
