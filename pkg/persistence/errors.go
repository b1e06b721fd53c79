package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrAutomationNotFound indicates an automation was not found by the given identifier.
	ErrAutomationNotFound = errors.New("automation not found")

	// ErrIntegrationNotFound indicates no integration matches the given identifier or external account.
	ErrIntegrationNotFound = errors.New("integration not found")

	// ErrExecutionNotFound indicates an execution record was not found.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrExecutionTerminal indicates an attempt to update an execution record that already finished.
	ErrExecutionTerminal = errors.New("execution already finished")
)

// AutomationError wraps automation-related errors with additional context.
type AutomationError struct {
	Op           string // Operation being performed (e.g., "GetAutomation", "SaveAutomation")
	AutomationID string
	Err          error
}

func (e *AutomationError) Error() string {
	return fmt.Sprintf("%s operation failed for automation %s: %v", e.Op, e.AutomationID, e.Err)
}

func (e *AutomationError) Unwrap() error {
	return e.Err
}

// NewAutomationError creates a new automation error with context.
func NewAutomationError(op, automationID string, err error) *AutomationError {
	return &AutomationError{Op: op, AutomationID: automationID, Err: err}
}

// IntegrationError wraps integration-related errors. Key is an integration id or external account id.
type IntegrationError struct {
	Op  string
	Key string
	Err error
}

func (e *IntegrationError) Error() string {
	return fmt.Sprintf("%s operation failed for integration %s: %v", e.Op, e.Key, e.Err)
}

func (e *IntegrationError) Unwrap() error {
	return e.Err
}

func NewIntegrationError(op, key string, err error) *IntegrationError {
	return &IntegrationError{Op: op, Key: key, Err: err}
}

// ExecutionError wraps execution record errors.
type ExecutionError struct {
	Op          string
	ExecutionID string
	Err         error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s operation failed for execution %s: %v", e.Op, e.ExecutionID, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

func NewExecutionError(op, executionID string, err error) *ExecutionError {
	return &ExecutionError{Op: op, ExecutionID: executionID, Err: err}
}

// IsAutomationNotFound checks if an error indicates an automation was not found.
func IsAutomationNotFound(err error) bool {
	return errors.Is(err, ErrAutomationNotFound)
}

// IsIntegrationNotFound checks if an error indicates an integration was not found.
func IsIntegrationNotFound(err error) bool {
	return errors.Is(err, ErrIntegrationNotFound)
}

// IsExecutionNotFound checks if an error indicates an execution record was not found.
func IsExecutionNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound)
}
