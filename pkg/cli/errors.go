package cli

import (
	"errors"
	"fmt"

	"mercator-hq/sluice/pkg/config"
)

// Exit codes returned by the sluice command.
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitConfigError = 2
)

// ConfigError represents a configuration file that could not be loaded or
// failed validation.
type ConfigError struct {
	Path   string
	Fields []config.FieldError
	Err    error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error in %s: %v", e.Path, e.Err)
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

// NewConfigError wraps a load or validation error for path. Field errors
// are extracted when err carries a config.ValidationError.
func NewConfigError(path string, err error) *ConfigError {
	ce := &ConfigError{Path: path, Err: err}

	var verr config.ValidationError
	if errors.As(err, &verr) {
		ce.Fields = verr.Errors
	}
	return ce
}

// NewCommandError creates a new CommandError.
func NewCommandError(command string, err error) *CommandError {
	return &CommandError{
		Command: command,
		Err:     err,
	}
}

// ExitCode maps an error returned by a command to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ce *ConfigError
	if errors.As(err, &ce) {
		return ExitConfigError
	}
	return ExitFailure
}
