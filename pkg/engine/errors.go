// Package engine provides the MemVault facade composing classification,
// decay, embedding, storage, indexing, and hybrid retrieval.
package engine

import (
	"errors"
	"fmt"
)

// Predefined errors for common failure scenarios.
var (
	// ErrNotFound indicates that a requested memory entry was not found.
	ErrNotFound = errors.New("memory entry not found")

	// ErrInvalidInput indicates that the provided input is malformed
	// (empty content, empty namespace, out-of-range importance).
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidConfig indicates that the provided configuration is invalid.
	// Configuration problems surface at engine construction, never per call.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrBackendUnavailable indicates that the storage backend is
	// unreachable.
	ErrBackendUnavailable = errors.New("storage backend unavailable")

	// ErrConsistency indicates that the vector index and the store have
	// diverged beyond what a repair cycle can reconcile; an index rebuild
	// is recommended.
	ErrConsistency = errors.New("index and store diverged")

	// ErrEngineClosed indicates an operation on a closed engine.
	ErrEngineClosed = errors.New("engine is closed")
)

// EngineError wraps errors with operation context.
//
// It provides additional context about which operation failed, making error
// messages more informative for debugging.
//
// Example:
//
//	err := &EngineError{
//	    Op:  "Write",
//	    Err: ErrInvalidInput,
//	}
//	// Error() returns: "memvault: Write: invalid input"
type EngineError struct {
	// Op is the name of the operation that failed.
	Op string

	// Err is the underlying error.
	Err error
}

// Error returns a formatted error message.
//
// The format is: "memvault: <Op>: <Err>"
func (e *EngineError) Error() string {
	return fmt.Sprintf("memvault: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
//
// This allows using errors.Is() and errors.As() with EngineError.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// NewEngineError creates a new EngineError wrapping the given error.
//
// If err is nil, returns nil. This allows safe error wrapping:
//
//	if err != nil {
//	    return NewEngineError("Write", err)
//	}
//
// Parameters:
//   - op: Name of the operation (e.g., "Write", "Search", "Cleanup")
//   - err: The underlying error to wrap
//
// Returns an EngineError, or nil if err is nil.
func NewEngineError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &EngineError{
		Op:  op,
		Err: err,
	}
}
