package cli

import (
	"errors"
	"fmt"

	"modelbench/gatekeeper/pkg/audit"
	"modelbench/gatekeeper/pkg/config"
	"modelbench/gatekeeper/pkg/limits"
)

// Exit codes returned by the gatekeeper command.
const (
	ExitOK      = 0
	ExitError   = 1
	ExitConfig  = 2
	ExitDenied  = 3
	ExitInvalid = 4
)

// ConfigError represents an error in configuration.
type ConfigError struct {
	Field   string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("config error: %s", e.Message)
	}
	return fmt.Sprintf("config error in %s: %s", e.Field, e.Message)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// CommandError represents an error from a command execution.
type CommandError struct {
	Command string
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %s failed: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{
		Field:   field,
		Message: message,
	}
}

// WrapConfigError wraps a configuration loading error. Validation errors keep
// their field list in the message.
func WrapConfigError(err error) *ConfigError {
	var verr config.ValidationError
	if errors.As(err, &verr) && len(verr.Errors) == 1 {
		return &ConfigError{Field: verr.Errors[0].Field, Message: verr.Errors[0].Message, Err: err}
	}
	return &ConfigError{Message: err.Error(), Err: err}
}

// NewCommandError creates a new CommandError.
func NewCommandError(command string, err error) *CommandError {
	return &CommandError{
		Command: command,
		Err:     err,
	}
}

// ExitCode maps an error returned by a command to the process exit code.
func ExitCode(err error) int {
	var cfgErr *ConfigError
	switch {
	case err == nil:
		return ExitOK
	case errors.As(err, &cfgErr):
		return ExitConfig
	case errors.Is(err, limits.ErrInvalidInput), errors.Is(err, audit.ErrInvalidQuery):
		return ExitInvalid
	case errors.Is(err, limits.ErrRateLimited), errors.Is(err, limits.ErrBudgetExceeded):
		return ExitDenied
	default:
		return ExitError
	}
}
