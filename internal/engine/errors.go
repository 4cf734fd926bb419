package engine

import (
	"errors"
	"fmt"
)

// ErrorType classifies engine failures.
type ErrorType string

const (
	// ErrorTypeConfig indicates the engine could not be started.
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeExecution indicates a non-zero exit.
	ErrorTypeExecution ErrorType = "execution"
	// ErrorTypeTimeout indicates the run exceeded its deadline.
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeContext indicates the caller canceled the run.
	ErrorTypeContext ErrorType = "context"
)

// ExecutionError is a structured engine failure.
type ExecutionError struct {
	Err       error
	Engine    string
	Type      ErrorType
	Message   string
	Stderr    string
	ExitCode  int
	Retryable bool
}

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s engine %s error: %s", e.Engine, e.Type, e.Message)
}

// Unwrap returns the underlying error.
func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// NewExecutionError creates a structured engine error.
func NewExecutionError(engine string, errType ErrorType, err error) *ExecutionError {
	return &ExecutionError{
		Engine:    engine,
		Type:      errType,
		Message:   err.Error(),
		Err:       err,
		ExitCode:  -1,
		Retryable: isRetryable(errType),
	}
}

// isRetryable reports whether redelivery may succeed. Every failure is left on the queue;
// this only informs logging.
func isRetryable(errType ErrorType) bool {
	switch errType {
	case ErrorTypeTimeout, ErrorTypeExecution:
		return true
	default:
		return false
	}
}

// IsTimeoutError checks if err is an engine timeout.
func IsTimeoutError(err error) bool {
	var e *ExecutionError
	return errors.As(err, &e) && e.Type == ErrorTypeTimeout
}

// IsConfigError checks if err is an engine startup failure.
func IsConfigError(err error) bool {
	var e *ExecutionError
	return errors.As(err, &e) && e.Type == ErrorTypeConfig
}
