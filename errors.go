package conductor

import (
	"errors"
	"fmt"
)

// ValidationError indicates that caller-supplied input (an initial call or a
// resumed value) does not match its declared schema. It is recoverable: the
// caller is told which field was violated and may retry with corrected input.
type ValidationError struct {
	Tool    string `json:"tool,omitempty"`
	Field   string `json:"field,omitempty"`
	Detail  string `json:"detail"`
	Wrapped error  `json:"-"`
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for field %q: %s", e.Field, e.Detail)
	}
	return fmt.Sprintf("validation failed: %s", e.Detail)
}

func (e *ValidationError) Unwrap() error {
	return e.Wrapped
}

// NewValidationError creates a ValidationError for a specific field.
func NewValidationError(field, detail string) *ValidationError {
	return &ValidationError{Field: field, Detail: detail}
}

// FatalError indicates a node determined the workflow cannot proceed, e.g. a
// missing required environment. Nodes should record these into the returned
// patch via FatalErrorPatch so the run can route to the failure-reporting
// node. Returning one from a node is also accepted and has the same effect.
type FatalError struct {
	Message string
	Wrapped error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("workflow fatal: %s", e.Message)
}

func (e *FatalError) Unwrap() error {
	return e.Wrapped
}

// NewFatalError creates a workflow-fatal error.
func NewFatalError(message string) *FatalError {
	return &FatalError{Message: message}
}

// PersistenceError indicates a checkpoint store operation failed. Read-side
// corruption is handled as a fresh start by the stores themselves; a
// PersistenceError from a write must abort the advance.
type PersistenceError struct {
	Op       string
	ThreadID string
	Wrapped  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("checkpoint %s failed for thread %q: %v", e.Op, e.ThreadID, e.Wrapped)
}

func (e *PersistenceError) Unwrap() error {
	return e.Wrapped
}

// VersionConflictError indicates an optimistic concurrency check failed: two
// calls raced to advance the same thread and this one lost.
type VersionConflictError struct {
	ThreadID string
	Expected int64
	Found    int64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("checkpoint version conflict for thread %q: expected %d, found %d",
		e.ThreadID, e.Expected, e.Found)
}

// ProgrammingError indicates a contract violation: a router returned an
// undeclared node name, a workflow referenced a missing node, or a run
// exceeded its step limit. These are bugs, not runtime conditions, and are
// never routed through workflow-level error handling.
type ProgrammingError struct {
	Message string
}

func (e *ProgrammingError) Error() string {
	return fmt.Sprintf("programming error: %s", e.Message)
}

// NewProgrammingError creates a ProgrammingError.
func NewProgrammingError(format string, args ...any) *ProgrammingError {
	return &ProgrammingError{Message: fmt.Sprintf(format, args...)}
}

// AsValidationError unwraps a ValidationError if err contains one.
func AsValidationError(err error) (*ValidationError, bool) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr, true
	}
	return nil, false
}

// AsFatalError unwraps a FatalError if err contains one.
func AsFatalError(err error) (*FatalError, bool) {
	var ferr *FatalError
	if errors.As(err, &ferr) {
		return ferr, true
	}
	return nil, false
}
