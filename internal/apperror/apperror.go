// Package apperror holds the sentinel errors shared by the repository,
// service and handler layers. Services return *AppError values wrapping a
// sentinel; handlers map the sentinel to an HTTP status with errors.Is.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrValidation      = errors.New("validation failed")
	ErrConflict        = errors.New("conflict")
	ErrForbidden       = errors.New("forbidden")
	ErrDuplicate       = errors.New("duplicate")
	ErrSelfFollow      = errors.New("self follow")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrTooManyRequests = errors.New("too many requests")
	ErrNotReadable     = errors.New("attribute not readable")

	// Token consumption failures. Callers treat all of them as
	// "action not permitted, request a new token".
	ErrTokenExpired   = errors.New("token expired")
	ErrTokenSignature = errors.New("invalid token signature")
	ErrTokenPurpose   = errors.New("token purpose mismatch")
	ErrTokenUsed      = errors.New("token already used")
)

// AppError carries a sentinel plus the message shown to the client.
// Field names the offending input, when there is one.
type AppError struct {
	Err     error
	Message string
	Field   string
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

// Conflict reports a write that lost a race for a unique value, such as an
// email change applied after someone else registered the address.
func Conflict(field, value string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s %q belongs to another account", field, value),
		Field:   field,
	}
}

// Forbidden means the caller is known but not allowed.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// Duplicate reports a unique-field collision, e.g. an email that is
// already registered. Field names the colliding attribute.
func Duplicate(field, value string) *AppError {
	return &AppError{
		Err:     ErrDuplicate,
		Message: fmt.Sprintf("%s %q is already in use", field, value),
		Field:   field,
	}
}

func SelfFollow() *AppError {
	return &AppError{
		Err:     ErrSelfFollow,
		Message: "you cannot follow yourself",
	}
}

func Unauthorized(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: message,
	}
}

func TooManyRequests(message string) *AppError {
	return &AppError{
		Err:     ErrTooManyRequests,
		Message: message,
	}
}

// NotReadable is returned when reading a write-only attribute such as the
// password.
func NotReadable(attr string) *AppError {
	return &AppError{
		Err:     ErrNotReadable,
		Message: fmt.Sprintf("%s is not a readable attribute", attr),
		Field:   attr,
	}
}

// Token wraps one of the ErrToken* sentinels with a message that tells the
// user to ask for a fresh token.
func Token(kind error) *AppError {
	return &AppError{
		Err:     kind,
		Message: fmt.Sprintf("%v: request a new token", kind),
	}
}

// IsTokenError reports whether err is any of the token consumption failures.
func IsTokenError(err error) bool {
	return errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrTokenSignature) ||
		errors.Is(err, ErrTokenPurpose) ||
		errors.Is(err, ErrTokenUsed)
}
