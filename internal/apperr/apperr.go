// Package apperr defines the error kinds the service reports to callers.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the stable machine-readable class of an error.
type Kind string

const (
	KindValidation         Kind = "validation_error"
	KindNotFound           Kind = "not_found"
	KindDuplicateCode      Kind = "duplicate_code"
	KindDuplicateName      Kind = "duplicate_name"
	KindInvalidTransition  Kind = "invalid_transition"
	KindInvalidCredentials Kind = "invalid_credentials"
	KindWeakPassword       Kind = "weak_password"
	KindUnauthorized       Kind = "unauthorized"
	KindForbidden          Kind = "forbidden"
	KindBusy               Kind = "busy"
	KindRateLimited        Kind = "rate_limited"
	KindConflict           Kind = "conflict"
	KindCanceled           Kind = "canceled"
	KindInternal           Kind = "internal_error"
)

// FieldError describes one invalid input field.
type FieldError struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Param   string `json:"param,omitempty"`
	Message string `json:"message,omitempty"`
}

// Error is a typed failure carrying a Kind and a human-readable message.
type Error struct {
	Kind    Kind
	Message string

	// Fields is set for validation errors.
	Fields []FieldError

	// CurrentStatus is set for invalid transitions.
	CurrentStatus string

	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrValidation         = &Error{Kind: KindValidation}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrDuplicateCode      = &Error{Kind: KindDuplicateCode}
	ErrDuplicateName      = &Error{Kind: KindDuplicateName}
	ErrInvalidTransition  = &Error{Kind: KindInvalidTransition}
	ErrInvalidCredentials = &Error{Kind: KindInvalidCredentials}
	ErrWeakPassword       = &Error{Kind: KindWeakPassword}
	ErrUnauthorized       = &Error{Kind: KindUnauthorized}
	ErrForbidden          = &Error{Kind: KindForbidden}
	ErrBusy               = &Error{Kind: KindBusy}
	ErrRateLimited        = &Error{Kind: KindRateLimited}
	ErrConflict           = &Error{Kind: KindConflict}
	ErrCanceled           = &Error{Kind: KindCanceled}
)

// New returns an error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns an error of the given kind wrapping cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: cause}
}

// Validation returns a validation error for a single field.
func Validation(field, rule, message string) *Error {
	return &Error{
		Kind:    KindValidation,
		Message: field + " " + message,
		Fields:  []FieldError{{Field: field, Rule: rule, Message: message}},
	}
}

// InvalidTransition reports a state machine violation for an item.
func InvalidTransition(code, current, message string) *Error {
	return &Error{
		Kind:          KindInvalidTransition,
		Message:       fmt.Sprintf("%s %s", code, message),
		CurrentStatus: current,
	}
}

// As returns the *Error in err's chain, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err. Errors without a kind are internal; a nil
// error has no kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus maps a kind to the response status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation, KindWeakPassword:
		return http.StatusBadRequest
	case KindInvalidCredentials, KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindDuplicateCode, KindDuplicateName, KindConflict, KindInvalidTransition:
		return http.StatusConflict
	case KindBusy:
		return http.StatusServiceUnavailable
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindCanceled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}
