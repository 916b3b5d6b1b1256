// Package errx provides rich, registry-based errors shared by every
// bounded context. Each domain package owns a Registry with a unique
// prefix and registers its error codes once at init time.
package errx

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Type categorizes an error for transport mapping and log triage.
type Type string

const (
	TypeInternal      Type = "INTERNAL"
	TypeValidation    Type = "VALIDATION"
	TypeAuthorization Type = "AUTHORIZATION"
	TypeNotFound      Type = "NOT_FOUND"
	TypeConflict      Type = "CONFLICT"
	TypeBusiness      Type = "BUSINESS"
	TypeExternal      Type = "EXTERNAL"
)

func (t Type) String() string { return string(t) }

// Error is the error value every service in this repo returns.
type Error struct {
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Type       Type                   `json:"type"`
	HTTPStatus int                    `json:"http_status"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Err        error                  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// IsType reports whether the error carries the given type.
func (e *Error) IsType(t Type) bool { return e.Type == t }

// WithDetail attaches a key/value pair and returns the error for chaining.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// MarshalJSON includes the rendered error string alongside the fields.
func (e *Error) MarshalJSON() ([]byte, error) {
	type alias Error
	return json.Marshal(&struct {
		*alias
		Error string `json:"error,omitempty"`
	}{alias: (*alias)(e), Error: e.Error()})
}

// New creates an unregistered error of the given type.
func New(message string, errType Type) *Error {
	return &Error{
		Code:       string(errType),
		Message:    message,
		Type:       errType,
		HTTPStatus: httpStatusFor(errType),
	}
}

// Wrap wraps an existing error with additional context. Registered codes
// and details of an inner *Error are preserved.
func Wrap(err error, message string, errType Type) *Error {
	if err == nil {
		return nil
	}
	var inner *Error
	if errors.As(err, &inner) {
		return &Error{
			Code:       inner.Code,
			Message:    message,
			Type:       errType,
			HTTPStatus: inner.HTTPStatus,
			Details:    inner.Details,
			Err:        err,
		}
	}
	return &Error{
		Code:       string(errType),
		Message:    message,
		Type:       errType,
		HTTPStatus: httpStatusFor(errType),
		Err:        err,
	}
}

// Is reports whether err matches target, following wrap chains.
func Is(err, target error) bool { return errors.Is(err, target) }

// As finds the first error in err's chain matching target.
func As(err error, target interface{}) bool { return errors.As(err, target) }

// IsNotFound reports whether err is a TypeNotFound *Error.
func IsNotFound(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Type == TypeNotFound
}

func httpStatusFor(t Type) int {
	switch t {
	case TypeValidation:
		return 400
	case TypeAuthorization:
		return 401
	case TypeNotFound:
		return 404
	case TypeConflict:
		return 409
	case TypeBusiness:
		return 422
	case TypeExternal:
		return 502
	default:
		return 500
	}
}
