package ledger

import (
	"context"
	"errors"
	"fmt"
)

// Transfer errors.
// Business-rule errors are client errors; ErrTimeout and ErrStorage are server errors
// and are always safe to retry with the same operation id.
var (
	// ErrValidation is matched by every *ValidationError
	ErrValidation = errors.New("ledger: invalid transfer request")

	// ErrAccountNotFound is returned when one or both accounts do not exist
	ErrAccountNotFound = errors.New("ledger: account not found")

	// ErrInsufficientFunds is returned when the source balance is lower than the amount
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")

	// ErrTimeout is returned when a lock wait or the transaction exceeded its bound
	ErrTimeout = errors.New("ledger: transaction timeout")

	// ErrStorage wraps connection, lock and commit failures of the backing store
	ErrStorage = errors.New("ledger: storage failure")
)

// Outcome labels reported to the observability sink.
const (
	OutcomeSuccess           = "success"
	OutcomeDuplicate         = "duplicate"
	OutcomeValidationError   = "validation_error"
	OutcomeAccountNotFound   = "account_not_found"
	OutcomeInsufficientFunds = "insufficient_funds"
	OutcomeTimeout           = "timeout"
	OutcomeStorageError      = "storage_error"
)

// ValidationError names the request rule that failed.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Is makes errors.Is(err, ErrValidation) hold for any ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NewValidationError creates a ValidationError for field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// AccountNotFound wraps ErrAccountNotFound with the missing id.
func AccountNotFound(id string) error {
	return fmt.Errorf("%w: %s", ErrAccountNotFound, id)
}

// StorageFailure wraps a backend error as ErrStorage, or ErrTimeout when the
// cause is a deadline.
func StorageFailure(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrStorage) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %w", ErrTimeout, op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

// Classify returns the outcome label for a transfer error.
func Classify(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, ErrValidation):
		return OutcomeValidationError
	case errors.Is(err, ErrAccountNotFound):
		return OutcomeAccountNotFound
	case errors.Is(err, ErrInsufficientFunds):
		return OutcomeInsufficientFunds
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return OutcomeTimeout
	default:
		return OutcomeStorageError
	}
}

// IsClientError reports whether err was caused by the request itself.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrInsufficientFunds)
}

// IsRetryable reports whether the caller may retry after the fault clears.
func IsRetryable(err error) bool {
	return err != nil && !IsClientError(err)
}

// PublicMessage returns the text safe to show a client for a client error, or
// "internal error" for anything else. Storage causes never leak.
func PublicMessage(err error) string {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		return verr.Message
	case errors.Is(err, ErrAccountNotFound):
		return "account not found"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient funds"
	case errors.Is(err, ErrTimeout):
		return "transaction timeout, retry later"
	default:
		return "internal error"
	}
}
