package domain

import "errors"

// RetriableError marks errors the originator may retry.
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable.
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// RejectError is a validation failure detected before any mutation.
// It carries the status reported to the originator. Never retriable:
// resubmitting the same instruction fails the same way.
type RejectError struct {
	Status Status
	Reason string
}

func (e *RejectError) Error() string {
	return e.Reason
}

func (e *RejectError) IsRetriable() bool {
	return false
}

// Reject builds a RejectError.
func Reject(status Status, reason string) *RejectError {
	return &RejectError{Status: status, Reason: reason}
}

// PersistenceError wraps a failed durable write. The in-memory state has
// been left untouched, so the caller may retry the whole instruction.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string {
	return "persistence failed: " + e.Err.Error()
}

func (e *PersistenceError) IsRetriable() bool {
	return true
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// StatusOf maps an error to the status code for the response. Unknown
// errors map to the runtime status.
func StatusOf(err error) Status {
	var re *RejectError
	if errors.As(err, &re) {
		return re.Status
	}
	return StatusRuntime
}

var (
	// ErrUnknownInstruction is returned for instruction kinds outside the
	// closed set.
	ErrUnknownInstruction = errors.New("unknown instruction kind")
)
