// Package apperr holds the error taxonomy shared by the REST facade and the gateway.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrMissingCredential = errors.New("missing credential")
	ErrInvalidCredential = errors.New("invalid credential")
	ErrTokenRevoked      = errors.New("token revoked")
	ErrValidation        = errors.New("validation error")
	ErrNotFound          = errors.New("not found")
	ErrTransientStore    = errors.New("store unavailable")
	ErrConfig            = errors.New("config error")
)

// Validation wraps ErrValidation with a caller-facing message.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFound wraps ErrNotFound with the missing entity name.
func NotFound(entity string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, entity)
}

// Transient marks a store failure as retryable. nil stays nil.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %v", ErrTransientStore, op, err)
}

// Config wraps ErrConfig for fatal startup problems.
func Config(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
}

// IsAuth reports whether err rejects a credential.
func IsAuth(err error) bool {
	return errors.Is(err, ErrMissingCredential) ||
		errors.Is(err, ErrInvalidCredential) ||
		errors.Is(err, ErrTokenRevoked)
}

// Reason returns the short observability label for an auth failure.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrMissingCredential):
		return "missing"
	case errors.Is(err, ErrTokenRevoked):
		return "revoked"
	case errors.Is(err, ErrInvalidCredential):
		return "invalid"
	default:
		return ""
	}
}
