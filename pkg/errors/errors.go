// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package errors provides structured error types for the Battery History Logger.
//
// This package defines custom error types that provide better error handling,
// inspection, and debugging capabilities compared to plain string errors.
//
// # Benefits of Structured Errors
//
//   - Type-safe error inspection with errors.As() and errors.Is()
//   - Context-rich error messages with operation and underlying error details
//   - Consistent error formatting across the application
//   - Better error wrapping and unwrapping support
//   - Enhanced logging with structured error fields
//
// # Example Usage
//
//	err := errors.NewStorageError("rotate", 7, fmt.Errorf("disk full"))
//	if errors.IsStorageError(err) {
//	    log.Printf("Storage failed: %v", err)
//	}
//
//	var storageErr *errors.StorageError
//	if errors.As(err, &storageErr) {
//	    log.Printf("Failed segment: %d", storageErr.Segment)
//	}
package errors

import (
	"errors"
	"fmt"
)

// EncodeError represents a failure to serialize a history record.
type EncodeError struct {
	Op  string // Operation being performed (e.g., "encode item", "encode energy block")
	Err error  // Underlying error
}

func (e *EncodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("encode %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("encode %s failed", e.Op)
}

func (e *EncodeError) Unwrap() error {
	return e.Err
}

// NewEncodeError creates a new encode error.
func NewEncodeError(op string, err error) *EncodeError {
	return &EncodeError{Op: op, Err: err}
}

// IsEncodeError checks if an error is an EncodeError.
func IsEncodeError(err error) bool {
	var ee *EncodeError
	return errors.As(err, &ee)
}

// StorageError represents an error during segment file operations.
type StorageError struct {
	Op      string // Operation being performed (e.g., "create", "evict", "flush")
	Segment int    // Segment id involved in the operation (-1 if not applicable)
	Err     error  // Underlying error
}

func (e *StorageError) Error() string {
	if e.Segment >= 0 {
		return fmt.Sprintf("storage %s (segment=%d): %v", e.Op, e.Segment, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s failed", e.Op)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError creates a new storage error.
func NewStorageError(op string, segment int, err error) *StorageError {
	return &StorageError{Op: op, Segment: segment, Err: err}
}

// IsStorageError checks if an error is a StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// ConfigError represents a configuration error.
type ConfigError struct {
	Field string // Configuration field that caused the error
	Value string // Invalid value (optional, may be redacted for sensitive fields)
	Err   error  // Underlying error or description
}

func (e *ConfigError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("config error in field %q (value=%q): %v", e.Field, e.Value, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("config error in field %q: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("config error in field %q", e.Field)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a new configuration error.
func NewConfigError(field string, value string, err error) *ConfigError {
	return &ConfigError{Field: field, Value: value, Err: err}
}

// IsConfigError checks if an error is a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// ValidationError represents a data validation error.
type ValidationError struct {
	Field   string // Field that failed validation
	Value   any    // Invalid value
	Reason  string // Why validation failed
	Details error  // Additional details (optional)
}

func (e *ValidationError) Error() string {
	if e.Details != nil {
		return fmt.Sprintf("validation error: field %q with value %v: %s (%v)", e.Field, e.Value, e.Reason, e.Details)
	}
	return fmt.Sprintf("validation error: field %q with value %v: %s", e.Field, e.Value, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Details
}

// NewValidationError creates a new validation error.
func NewValidationError(field string, value any, reason string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Reason: reason}
}

// IsValidationError checks if an error is a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ExportError represents an error exporting history to a time-series backend.
type ExportError struct {
	Op  string // Operation being performed (e.g., "write point", "health check")
	Err error  // Underlying error
}

func (e *ExportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("export %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("export %s failed", e.Op)
}

func (e *ExportError) Unwrap() error {
	return e.Err
}

// NewExportError creates a new export error.
func NewExportError(op string, err error) *ExportError {
	return &ExportError{Op: op, Err: err}
}

// IsExportError checks if an error is an ExportError.
func IsExportError(err error) bool {
	var xe *ExportError
	return errors.As(err, &xe)
}

// Sentinel errors for common conditions
var (
	// ErrRecordTooLarge indicates a record exceeded the encoder's size limit
	ErrRecordTooLarge = errors.New("record too large")

	// ErrNotRecording indicates history recording has not been started
	ErrNotRecording = errors.New("history recording not started")

	// ErrInvalidConfig indicates invalid configuration
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrCircuitBreakerOpen indicates the export circuit breaker is open
	ErrCircuitBreakerOpen = errors.New("circuit breaker open")

	// ErrTimeout indicates an operation timed out
	ErrTimeout = errors.New("operation timeout")
)
