// Package errors provides domain-specific error types and sentinel errors
// for the slot extraction and dialogue pipeline.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common scenarios.
// Use errors.Is() to check these errors in your code.
var (
	// ErrNotFound indicates a requested resource was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates user provided invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrTimeout indicates an operation timed out.
	ErrTimeout = errors.New("operation timed out")

	// ErrUnavailable indicates an external dependency (embedding backend, LLM) is down.
	ErrUnavailable = errors.New("dependency unavailable")

	// ErrStorage indicates durable state could not be read or written.
	// This is the only failure class that propagates to callers as a hard error.
	ErrStorage = errors.New("storage failure")

	// ErrRateLimitExceeded indicates rate limit has been exceeded.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrDuplicateCase indicates a learned case collides with an existing one.
	ErrDuplicateCase = errors.New("duplicate special case")
)

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsInvalidInput reports whether err wraps ErrInvalidInput.
func IsInvalidInput(err error) bool { return errors.Is(err, ErrInvalidInput) }

// IsStorage reports whether err wraps ErrStorage.
func IsStorage(err error) bool { return errors.Is(err, ErrStorage) }

// ValidationError represents input validation failures.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// NewValidationError creates a new validation error.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// PatternCompilationError records a single regex source that failed to compile.
// It is never fatal: the pattern is excluded and the rest of the slot loads.
type PatternCompilationError struct {
	Slot    string
	Value   string
	Pattern string
	Err     error
}

func (e *PatternCompilationError) Error() string {
	return fmt.Sprintf("pattern compile error (slot=%s, value=%s, pattern=%q): %v", e.Slot, e.Value, e.Pattern, e.Err)
}

func (e *PatternCompilationError) Unwrap() error {
	return e.Err
}

// EmbeddingUnavailableError is produced when the embedding backend fails or times out.
// Callers absorb it and switch to the fallback similarity.
type EmbeddingUnavailableError struct {
	Backend string
	Err     error
}

func (e *EmbeddingUnavailableError) Error() string {
	return fmt.Sprintf("embedding backend %s unavailable: %v", e.Backend, e.Err)
}

func (e *EmbeddingUnavailableError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrUnavailable) match any embedding outage.
func (e *EmbeddingUnavailableError) Is(target error) bool {
	return target == ErrUnavailable
}

// CorruptKnowledgeBaseEntry describes a stored special case missing required fields.
// Loaders skip the entry and continue.
type CorruptKnowledgeBaseEntry struct {
	CaseID string
	Reason string
}

func (e *CorruptKnowledgeBaseEntry) Error() string {
	if e.CaseID == "" {
		return fmt.Sprintf("corrupt knowledge base entry: %s", e.Reason)
	}
	return fmt.Sprintf("corrupt knowledge base entry %s: %s", e.CaseID, e.Reason)
}

// StorageError wraps an I/O failure of a durable store.
type StorageError struct {
	Store string
	Op    string
	Err   error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Store, e.Op, e.Err)
}

func (e *StorageError) Unwrap() []error {
	return []error{ErrStorage, e.Err}
}

// NewStorageError creates a new storage error. Returns nil if err is nil.
func NewStorageError(store, op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Store: store, Op: op, Err: err}
}
