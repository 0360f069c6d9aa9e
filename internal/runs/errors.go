package runs

import (
	"errors"
	"fmt"
)

// ErrTaskRunNotFound is returned by repository lookups that miss.
var ErrTaskRunNotFound = errors.New("task run not found")

// ValidationError is a caller-visible, non-retryable request error
// (HTTP 400 equivalent).
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError builds a ValidationError with a formatted message.
func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// OutOfEntitlementError is returned when the owning organization has no
// credit left (HTTP 402 equivalent).
type OutOfEntitlementError struct{}

func (e *OutOfEntitlementError) Error() string {
	return "organization has no entitlement to trigger runs"
}

// IsValidationError reports whether err is (or wraps) a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsOutOfEntitlementError reports whether err is (or wraps) an
// OutOfEntitlementError.
func IsOutOfEntitlementError(err error) bool {
	var oe *OutOfEntitlementError
	return errors.As(err, &oe)
}
