package taskdef

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	ErrUnknownContainer = errors.New("unknown container")
	ErrInvalidTag       = errors.New("invalid image tag")
	ErrInvalidCommand   = errors.New("invalid command")
)

// ConfigurationError reports bad local input. It is always raised before any
// remote side effect.
type ConfigurationError struct {
	Field     string // images, commands, environment, task_role_arn
	Container string
	Message   string
	Err       error
}

func (e *ConfigurationError) Error() string {
	if e.Container != "" {
		return fmt.Sprintf("%s: container %q: %s", e.Field, e.Container, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// NewConfigurationError creates a new ConfigurationError.
func NewConfigurationError(field, container, message string, err error) *ConfigurationError {
	return &ConfigurationError{
		Field:     field,
		Container: container,
		Message:   message,
		Err:       err,
	}
}

func unknownContainer(field, name string) *ConfigurationError {
	return NewConfigurationError(field, name, "no such container in task definition", ErrUnknownContainer)
}
