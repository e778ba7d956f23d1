package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrValidation          = errors.New("validation failed")
	ErrLockUnavailable     = errors.New("tenant lock unavailable")
	ErrCircuitBreakerOpen  = errors.New("circuit breaker open")
	ErrFlowControl         = errors.New("flow control interval not elapsed")
	ErrChainBroken         = errors.New("hash chain broken")
	ErrBatchNotRetryable   = errors.New("batch not retryable")
	ErrTenantNotConfigured = errors.New("tenant not configured for verifactu")
	ErrForbidden           = errors.New("forbidden")
	ErrCommunication       = errors.New("aeat communication failed")
)

// MissingFieldsError names the canonical fields absent from a hash input.
// It unwraps to ErrValidation so callers can branch on the taxonomy without
// inspecting the message.
type MissingFieldsError struct {
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return fmt.Sprintf("missing canonical fields: %s", strings.Join(e.Fields, ", "))
}

func (e *MissingFieldsError) Unwrap() error { return ErrValidation }

// Retryable classifies errors the submission pipeline may retry. Guard
// refusals and validation errors are deliberately excluded: retrying them
// cannot succeed and would misattribute local conditions to the AEAT.
func Retryable(err error) bool {
	return errors.Is(err, ErrCommunication)
}
