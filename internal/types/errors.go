package types

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Error code constants. Components MUST use these constants instead of
// hardcoded strings.
const (
	// Configuration
	ErrCodeConfigInvalid ErrorCode = "config_invalid"

	// Timetable provider
	ErrCodeProviderMalformed   ErrorCode = "provider_malformed_response"
	ErrCodeProviderUnavailable ErrorCode = "provider_unavailable"

	// Submission
	ErrCodeSubmissionFailed  ErrorCode = "submission_failed"
	ErrCodeSubmissionTimeout ErrorCode = "submission_timeout"
	ErrCodeAuthLoginRejected ErrorCode = "auth_login_rejected"
	ErrCodeAuthIdPSelection  ErrorCode = "auth_idp_selection_failed"

	// Internal/Upstream
	ErrCodeInternalDB          ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected  ErrorCode = "internal_unexpected_error"
	ErrCodeInternalInvariant   ErrorCode = "internal_invariant_violation"
	ErrCodeUpstreamUnavailable ErrorCode = "upstream_unavailable"
	ErrCodeUpstreamRateLimited ErrorCode = "upstream_rate_limited"

	// Lookup
	ErrCodeNotFoundJob ErrorCode = "not_found_job"
)

// Fatal reports whether an error with this code must stop the process.
// Configuration problems, a provider answer that cannot be decoded and a
// rejected login cannot be fixed by waiting for the next tick.
func (c ErrorCode) Fatal() bool {
	switch c {
	case ErrCodeConfigInvalid, ErrCodeProviderMalformed, ErrCodeAuthLoginRejected, ErrCodeAuthIdPSelection:
		return true
	}
	return false
}

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code for the
// status API. Returns 500 for unrecognized error codes.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound // 404
	case strings.HasPrefix(s, "provider_"), strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway // 502
	case strings.HasPrefix(s, "auth_"):
		return http.StatusUnauthorized // 401
	default:
		return http.StatusInternalServerError // 500
	}
}

// AppError is the standard application error type used throughout rollcall.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithDetails returns a copy of the error with the provided details merged in.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// CodeOf extracts the ErrorCode from the first AppError in err's chain.
// It returns the empty code when err carries no AppError.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// IsCode reports whether err's chain contains an AppError with the given code.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// IsFatal reports whether err's chain contains an AppError whose code is fatal.
func IsFatal(err error) bool {
	return err != nil && CodeOf(err).Fatal()
}
