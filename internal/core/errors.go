package core

import "fmt"

// ValidationError reports a malformed or incomplete request. It is surfaced
// to the caller without producing a decision.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Msg)
}

// NotFoundError reports a referenced entity absent from the directory or
// policy store. Surfaced to the caller without producing a decision.
type NotFoundError struct {
	Kind string // "user", "device", "policy", "session", "segment", "request"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// EvaluationError reports an internal failure during scoring or policy
// logic. The decision engine converts it to a fail-closed deny; it never
// escapes to the caller as an error.
type EvaluationError struct {
	Stage string
	Err   error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluation failed at %s: %v", e.Stage, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }
