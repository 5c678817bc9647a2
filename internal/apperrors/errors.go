package apperrors

import (
	"errors"
	"fmt"
)

// Sentinel error kinds. Services wrap these with fmt.Errorf("...: %w") so
// handlers and callers can classify failures with errors.Is.
var (
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrNotConfigured     = errors.New("ledger anchoring not configured")
	ErrAnchorFailure     = errors.New("ledger anchor failed")
	ErrEncoding          = errors.New("evidence encoding failed")
	ErrValidation        = errors.New("validation failed")
)

// AnchorFailure describes a network, submission or confirmation-timeout
// failure from the ledger. TxRef is set when the transaction was submitted
// before the failure, so the record can keep a pointer to it.
type AnchorFailure struct {
	Reason string
	TxRef  string
	Err    error
}

func (e *AnchorFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ledger anchor failed: %s: %v", e.Reason, e.Err)
	}
	return "ledger anchor failed: " + e.Reason
}

func (e *AnchorFailure) Unwrap() error { return e.Err }

func (e *AnchorFailure) Is(target error) bool { return target == ErrAnchorFailure }

// Transition builds an ErrInvalidTransition for an operation attempted from
// a state that does not allow it.
func Transition(entity, op, from string) error {
	return fmt.Errorf("%w: cannot %s %s in state %q", ErrInvalidTransition, op, entity, from)
}

// NotFound builds an ErrNotFound for an entity id.
func NotFound(entity, id string) error {
	return fmt.Errorf("%w: %s %s", ErrNotFound, entity, id)
}

// Validation builds an ErrValidation with a field message.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
