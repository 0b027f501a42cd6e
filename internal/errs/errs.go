package errs

import (
	"errors"
	"net/http"
)

// Code is an application error code.
type Code string

const (
	InvalidArgument    Code = "invalid_argument"
	NotFound           Code = "not_found"
	FailedPrecondition Code = "failed_precondition"
	PermissionDenied   Code = "permission_denied"
	Unauthenticated    Code = "unauthenticated"
	RateLimited        Code = "rate_limited"
	Unavailable        Code = "unavailable"
	Internal           Code = "internal"

	// Harness failure categories. Each one is diagnosable on its own.
	ElementNotFound       Code = "element_not_found"
	NavigationTimeout     Code = "navigation_timeout"
	AuthenticationTimeout Code = "authentication_timeout"
	AssertionFailed       Code = "assertion_failed"
	NoOptionsAvailable    Code = "no_options_available"
	Unsupported           Code = "unsupported"
	BaseMismatch          Code = "base_mismatch"
)

// Error is a coded application error.
//
// URL and Selector are optional browser context: the last address the
// session observed and the selector the failing operation used.
type Error struct {
	Code     Code
	Message  string
	URL      string
	Selector string
	Err      error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a coded error with message.
func New(code Code, message string) error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a coded error with message and cause.
func Wrap(code Code, message string, cause error) error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     cause,
	}
}

// AtURL creates a coded error that records the last observed address.
func AtURL(code Code, message, url string, cause error) error {
	return &Error{
		Code:    code,
		Message: message,
		URL:     url,
		Err:     cause,
	}
}

// ForSelector creates a coded error that records the selector involved.
func ForSelector(code Code, message, selector string, cause error) error {
	return &Error{
		Code:     code,
		Message:  message,
		Selector: selector,
		Err:      cause,
	}
}

// CodeOf returns the error code, defaulting to internal.
func CodeOf(err error) Code {
	if err == nil {
		return Internal
	}
	var coded *Error
	if errors.As(err, &coded) {
		if coded.Code == "" {
			return Internal
		}
		return coded.Code
	}
	return Internal
}

// Is reports whether any error in the chain carries code.
func Is(err error, code Code) bool {
	for err != nil {
		var coded *Error
		if !errors.As(err, &coded) {
			return false
		}
		if coded.Code == code {
			return true
		}
		err = coded.Err
	}
	return false
}

// IsSkip reports whether err means missing fixture data rather than a defect.
func IsSkip(err error) bool {
	return Is(err, NoOptionsAvailable)
}

// LastURL returns the first address recorded in the error chain, or "".
func LastURL(err error) string {
	for err != nil {
		var coded *Error
		if !errors.As(err, &coded) {
			return ""
		}
		if coded.URL != "" {
			return coded.URL
		}
		err = coded.Err
	}
	return ""
}

// SelectorOf returns the first selector recorded in the error chain, or "".
func SelectorOf(err error) string {
	for err != nil {
		var coded *Error
		if !errors.As(err, &coded) {
			return ""
		}
		if coded.Selector != "" {
			return coded.Selector
		}
		err = coded.Err
	}
	return ""
}

// MessageOf returns a user-facing error message.
// If the error has no typed wrapper, returns "internal error" to prevent
// leaking raw DB errors, file paths, or connection strings to API responses.
func MessageOf(err error) string {
	if err == nil {
		return string(Internal)
	}
	var coded *Error
	if errors.As(err, &coded) && coded.Message != "" {
		return coded.Message
	}
	return "internal error"
}

// HTTPStatus maps error code to HTTP status.
func HTTPStatus(code Code) int {
	switch code {
	case InvalidArgument:
		return http.StatusBadRequest
	case Unauthenticated:
		return http.StatusUnauthorized
	case PermissionDenied:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case FailedPrecondition:
		return http.StatusConflict
	case RateLimited:
		return http.StatusTooManyRequests
	case Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
