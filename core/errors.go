package core

import (
	"errors"
	"fmt"
)

// Standard sentinel errors for comparison using errors.Is()
// These are generic errors that can be wrapped with additional context
var (
	// Resource-related errors
	ErrResourceNotFound = errors.New("resource not found")
	ErrInvalidResource  = errors.New("invalid resource")
	ErrMalformedRecord  = errors.New("malformed resource record")

	// Registry state errors
	ErrCacheNotBuilt        = errors.New("registry cache has not been built")
	ErrUnknownDiscoveryType = errors.New("unknown discovery type")

	// Upstream errors
	ErrStoreUnavailable      = errors.New("resource store unavailable")
	ErrAnnotationUnavailable = errors.New("annotation provider unavailable")

	// Configuration errors
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrMissingConfiguration = errors.New("missing required configuration")

	// Lifecycle errors
	ErrAlreadyStarted = errors.New("already started")
	ErrNotStarted     = errors.New("not started")

	// Operation errors
	ErrTimeout            = errors.New("operation timeout")
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")
	ErrCircuitOpen        = errors.New("circuit breaker is open")
)

// RegistryError provides structured error information with context
// It implements the error interface and supports error wrapping
type RegistryError struct {
	Op      string // Operation that failed (e.g., "registry.Discover")
	Kind    string // Error kind (e.g., "discovery", "store", "config")
	ID      string // Optional ID of the resource involved
	Message string // Human-readable message
	Err     error  // Underlying error for wrapping
}

// Error returns the string representation of the error
func (e *RegistryError) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.ID != "" {
			return fmt.Sprintf("%s [%s]: %v", e.Op, e.ID, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

// Unwrap returns the underlying error for use with errors.Is/As
func (e *RegistryError) Unwrap() error {
	return e.Err
}

// NewRegistryError creates a new RegistryError
func NewRegistryError(op, kind string, err error) *RegistryError {
	return &RegistryError{
		Op:   op,
		Kind: kind,
		Err:  err,
	}
}

// IsRetryable checks if an error is retryable
// Retryable errors are transient upstream availability issues
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, ErrTimeout)
}

// IsNotFound checks if an error represents a "not found" condition
func IsNotFound(err error) bool {
	return errors.Is(err, ErrResourceNotFound)
}

// IsConfigurationError checks if an error is configuration-related
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrInvalidConfiguration) ||
		errors.Is(err, ErrMissingConfiguration)
}

// IsClientError reports whether the error was caused by the caller's request
// rather than by the registry itself.
func IsClientError(err error) bool {
	return IsNotFound(err) ||
		errors.Is(err, ErrUnknownDiscoveryType) ||
		errors.Is(err, ErrInvalidResource)
}
