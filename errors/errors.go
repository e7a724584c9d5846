// Package errors provides error types and utilities for the jobworker library.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions
var (
	ErrNotConnected       = errors.New("not connected")
	ErrInvalidConfig      = errors.New("invalid configuration")
	ErrInvalidPayload     = errors.New("invalid payload")
	ErrTimeout            = errors.New("operation timed out")
	ErrStopped            = errors.New("worker stopped")
	ErrAlreadyStarted     = errors.New("worker already started")
	ErrHandlerNotFound    = errors.New("handler not found")
	ErrEmptyJobType       = errors.New("job type cannot be empty")
	ErrNilHandler         = errors.New("handler cannot be nil")
	ErrUnknownJob         = errors.New("job is not activated")
	ErrUnsupportedGateway = errors.New("unsupported gateway type")
	ErrQueueFull          = errors.New("queue is full")
)

// ConfigError represents a rejected configuration value
type ConfigError struct {
	Field string // configuration field
	Err   error  // underlying error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// GatewayError represents errors returned by the job gateway
type GatewayError struct {
	Op   string // operation being performed
	Type string // job type (if applicable)
	Err  error  // underlying error
}

func (e *GatewayError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("gateway %s for job type %s: %v", e.Op, e.Type, e.Err)
	}
	return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// HandlerError represents a failure raised by a job handler
type HandlerError struct {
	Type string // job type
	Key  string // job key
	Err  error  // underlying error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %s for job %s: %v", e.Type, e.Key, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// SerializationError represents serialization/deserialization errors
type SerializationError struct {
	Format string // serialization format
	Err    error  // underlying error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialization (%s): %v", e.Format, e.Err)
}

func (e *SerializationError) Unwrap() error {
	return e.Err
}

// ConnectionError represents connection-related errors
type ConnectionError struct {
	URI string // connection URI (may be redacted)
	Err error  // underlying error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s: %v", e.URI, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

func (e *ConnectionError) Temporary() bool {
	// Implement net.Error interface for timeout detection
	if t, ok := e.Err.(interface{ Temporary() bool }); ok {
		return t.Temporary()
	}
	return false
}

func (e *ConnectionError) Timeout() bool {
	// Implement net.Error interface for timeout detection
	if t, ok := e.Err.(interface{ Timeout() bool }); ok {
		return t.Timeout()
	}
	return false
}

// Helper functions for creating errors

// NewConfigError creates a new configuration error
func NewConfigError(field string, err error) error {
	return &ConfigError{Field: field, Err: err}
}

// NewGatewayError creates a new gateway error
func NewGatewayError(op, jobType string, err error) error {
	return &GatewayError{Op: op, Type: jobType, Err: err}
}

// NewHandlerError creates a new handler error
func NewHandlerError(jobType, key string, err error) error {
	return &HandlerError{Type: jobType, Key: key, Err: err}
}

// NewSerializationError creates a new serialization error
func NewSerializationError(format string, err error) error {
	return &SerializationError{Format: format, Err: err}
}

// NewConnectionError creates a new connection error
func NewConnectionError(uri string, err error) error {
	return &ConnectionError{URI: uri, Err: err}
}

// IsTemporary checks if an error is temporary and retryable
func IsTemporary(err error) bool {
	if t, ok := err.(interface{ Temporary() bool }); ok {
		return t.Temporary()
	}

	return errors.Is(err, ErrTimeout)
}

// IsTimeout checks if an error is a timeout
func IsTimeout(err error) bool {
	if t, ok := err.(interface{ Timeout() bool }); ok {
		return t.Timeout()
	}
	return errors.Is(err, ErrTimeout)
}

// Is reports whether any error in err's tree matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree that matches target
func As(err error, target any) bool {
	return errors.As(err, target)
}

// New returns an error that formats as the given text
func New(text string) error {
	return errors.New(text)
}
