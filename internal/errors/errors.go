// Package errors provides structured error handling for poolmeter operations.
// It defines error codes, error types, and provides utilities for creating
// and handling errors with context and structured information.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents different types of errors that can occur.
type ErrorCode string

const (
	// General errors.
	CodeUnknown       ErrorCode = "UNKNOWN"
	CodeValidation    ErrorCode = "VALIDATION"
	CodeConfiguration ErrorCode = "CONFIGURATION"
	CodeNotFound      ErrorCode = "NOT_FOUND"
	CodeConflict      ErrorCode = "CONFLICT"
	CodeTimeout       ErrorCode = "TIMEOUT"

	// Metrics errors.
	CodeMetricsRegistration ErrorCode = "METRICS_REGISTRATION"
	CodeRegistryUnavailable ErrorCode = "REGISTRY_UNAVAILABLE"
	CodeAlreadyInstrumented ErrorCode = "ALREADY_INSTRUMENTED"

	// Database errors.
	CodeDatabaseConnection ErrorCode = "DATABASE_CONNECTION"
	CodeDatabaseDriver     ErrorCode = "DATABASE_DRIVER"
	CodeDatabaseTimeout    ErrorCode = "DATABASE_TIMEOUT"
)

// MetricsError represents a failure to register or attach pool metrics.
type MetricsError struct {
	Code    ErrorCode
	Message string
	Pool    string
	Metric  string
	Cause   error
}

// Error implements the error interface.
func (e *MetricsError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Pool != "" {
		msg += fmt.Sprintf(" (pool: %s)", e.Pool)
	}
	if e.Metric != "" {
		msg += fmt.Sprintf(" (metric: %s)", e.Metric)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error unwrapping.
func (e *MetricsError) Unwrap() error {
	return e.Cause
}

// WithMetric records the metric that failed.
func (e *MetricsError) WithMetric(metric string) *MetricsError {
	e.Metric = metric
	return e
}

// NewMetricsError creates a new metrics error for a pool.
func NewMetricsError(code ErrorCode, message, pool string) *MetricsError {
	return &MetricsError{
		Code:    code,
		Message: message,
		Pool:    pool,
	}
}

// WrapMetricsError wraps an existing error as a metrics error.
func WrapMetricsError(code ErrorCode, message, pool string, err error) *MetricsError {
	return &MetricsError{
		Code:    code,
		Message: message,
		Pool:    pool,
		Cause:   err,
	}
}

// DatabaseError represents database-related errors.
type DatabaseError struct {
	Code      ErrorCode
	Message   string
	Pool      string
	Operation string
	Cause     error
}

// Error implements the error interface.
func (e *DatabaseError) Error() string {
	switch {
	case e.Pool != "" && e.Operation != "":
		return fmt.Sprintf("[%s] %s (pool: %s, operation: %s)", e.Code, e.Message, e.Pool, e.Operation)
	case e.Pool != "":
		return fmt.Sprintf("[%s] %s (pool: %s)", e.Code, e.Message, e.Pool)
	case e.Operation != "":
		return fmt.Sprintf("[%s] %s (operation: %s)", e.Code, e.Message, e.Operation)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *DatabaseError) Unwrap() error {
	return e.Cause
}

// NewDatabaseError creates a new database error.
func NewDatabaseError(code ErrorCode, message string) *DatabaseError {
	return &DatabaseError{
		Code:    code,
		Message: message,
	}
}

// WrapDatabaseError wraps an existing error as a database error.
func WrapDatabaseError(code ErrorCode, message string, err error) *DatabaseError {
	return &DatabaseError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// ConfigError represents configuration-related errors.
type ConfigError struct {
	Code    ErrorCode
	Message string
	Field   string
	Value   interface{}
	Cause   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s (field: %s)", e.Code, e.Message, e.Field)
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// NewConfigFieldError creates a configuration error for a specific field.
func NewConfigFieldError(code ErrorCode, message, field string, value interface{}) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Field:   field,
		Value:   value,
	}
}

// WrapConfigError wraps an existing error as a configuration error.
func WrapConfigError(code ErrorCode, message string, err error) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Utility functions for common error operations

// GetCode extracts the error code from the first coded error in err's chain.
func GetCode(err error) ErrorCode {
	var metricsErr *MetricsError
	if stderrors.As(err, &metricsErr) {
		return metricsErr.Code
	}
	var dbErr *DatabaseError
	if stderrors.As(err, &dbErr) {
		return dbErr.Code
	}
	var cfgErr *ConfigError
	if stderrors.As(err, &cfgErr) {
		return cfgErr.Code
	}
	return CodeUnknown
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && GetCode(err) == code
}

// IsFatal determines if an error should abort startup.
func IsFatal(err error) bool {
	switch GetCode(err) {
	case CodeConfiguration, CodeValidation, CodeMetricsRegistration:
		return true
	default:
		return false
	}
}

// Common error creation functions

// ErrDatabaseConnection creates an error for database connection failures.
func ErrDatabaseConnection(pool string, err error) *DatabaseError {
	dbErr := WrapDatabaseError(CodeDatabaseConnection, "Failed to connect to database", err)
	dbErr.Pool = pool
	return dbErr
}

// ErrUnsupportedDriver creates an error for unknown database drivers.
func ErrUnsupportedDriver(driver string) *ConfigError {
	return NewConfigFieldError(CodeValidation, "Unsupported database driver", "driver", driver)
}

// ErrAlreadyInstrumented creates an error for pools that already carry metrics.
func ErrAlreadyInstrumented(pool string) *MetricsError {
	return NewMetricsError(CodeAlreadyInstrumented, "Pool metrics already bound", pool)
}

// ErrConfigInvalid creates an error for invalid configuration.
func ErrConfigInvalid(field string, value interface{}) *ConfigError {
	return NewConfigFieldError(CodeValidation, "Invalid configuration value", field, value)
}

// ErrConfigMissing creates an error for missing required configuration.
func ErrConfigMissing(field string) *ConfigError {
	return NewConfigFieldError(CodeConfiguration, "Required configuration field missing", field, nil)
}
