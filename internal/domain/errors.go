package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrConflict      = errors.New("concurrent modification")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrLockHeld      = errors.New("lock already held")
	ErrValidation    = errors.New("validation failed")

	// ErrPriceUnavailable is returned by price feeds. The oracle never
	// surfaces it to callers.
	ErrPriceUnavailable = errors.New("price unavailable")
)

// ValidationError describes a rejected request. It matches ErrValidation
// under errors.Is.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Invalid builds a ValidationError for field.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

var (
	ErrUserNotApproved      = &ValidationError{Field: "user_id", Reason: "user not found or not approved"}
	ErrInsufficientQuantity = &ValidationError{Field: "quantity", Reason: "cannot sell more than held"}
	ErrNoOpenPosition       = &ValidationError{Field: "symbol", Reason: "no open position to sell"}
)
