package core

import (
	"errors"
	"fmt"
)

// ValidationError rejects a submission before it touches any state.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is a submission validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ErrInvariant marks a broken engine invariant: reducing an order below zero
// volume, or matching against an order that already left the book. It points
// at a bug, never at bad user input, and must not be silently absorbed.
var ErrInvariant = errors.New("book invariant violated")

// Invariantf wraps ErrInvariant with context.
func Invariantf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvariant}, args...)...)
}

// PersistenceError wraps a gateway read/write failure. A crossing whose
// persistence fails is treated as not-yet-committed: no in-memory state for
// that crossing may survive it.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
