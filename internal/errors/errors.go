package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrorTypeConfiguration ErrorType = "configuration"
	ErrorTypeLookup        ErrorType = "lookup"
	ErrorTypeSolver        ErrorType = "solver"
	ErrorTypeValidation    ErrorType = "validation"
	ErrorTypeNetwork       ErrorType = "network"
	ErrorTypeTimeout       ErrorType = "timeout"
	ErrorTypeNotFound      ErrorType = "not_found"
	ErrorTypeInternal      ErrorType = "internal"
)

var (
	// ErrMissingParameter is the cause of every missing-parameter configuration error.
	ErrMissingParameter = errors.New("missing required parameter")

	// ErrUnknownModel is the cause when a fit config names an unregistered model.
	ErrUnknownModel = errors.New("unknown fit function")

	// ErrMalformedParameter is the cause when a parameter triple violates its bounds.
	ErrMalformedParameter = errors.New("malformed parameter spec")
)

// AppError represents a structured application error
type AppError struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	Details    string    `json:"details,omitempty"`
	StatusCode int       `json:"status_code"`
	Cause      error     `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Details != "" {
		msg += " [" + e.Details + "]"
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s (caused by: %v)", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetails returns a copy of the error carrying extra diagnostic context.
func (e *AppError) WithDetails(details string) *AppError {
	cp := *e
	if cp.Details != "" {
		cp.Details = cp.Details + "; " + details
	} else {
		cp.Details = details
	}
	return &cp
}

// NewConfigurationError creates an error for an invalid fit configuration.
// Configuration errors are raised before any numeric work starts.
func NewConfigurationError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeConfiguration,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Cause:      cause,
	}
}

// NewMissingParameterError creates a configuration error for a model
// parameter absent from the parameter spec.
func NewMissingParameterError(param, function string) *AppError {
	return &AppError{
		Type:       ErrorTypeConfiguration,
		Message:    fmt.Sprintf("parameter %q not given for fit function %s", param, function),
		StatusCode: http.StatusBadRequest,
		Cause:      ErrMissingParameter,
	}
}

// NewLookupError creates an error for a camera, role or frame absent from the data.
func NewLookupError(kind, key string) *AppError {
	return &AppError{
		Type:       ErrorTypeLookup,
		Message:    fmt.Sprintf("%s %q not found", kind, key),
		StatusCode: http.StatusNotFound,
	}
}

// NewSolverError creates an error for a solver that refused its input
func NewSolverError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeSolver,
		Message:    message,
		StatusCode: http.StatusUnprocessableEntity,
		Cause:      cause,
	}
}

// NewValidationError creates a new validation error
func NewValidationError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Cause:      cause,
	}
}

// NewNetworkError creates a new network error
func NewNetworkError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeNetwork,
		Message:    message,
		StatusCode: http.StatusBadGateway,
		Cause:      cause,
	}
}

// NewTimeoutError creates a new timeout error
func NewTimeoutError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeTimeout,
		Message:    message,
		StatusCode: http.StatusGatewayTimeout,
		Cause:      cause,
	}
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Message:    message,
		StatusCode: http.StatusNotFound,
		Cause:      cause,
	}
}

// NewInternalError creates a new internal error
func NewInternalError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Cause:      cause,
	}
}

// IsType checks if any error in the chain is an AppError of the given type
func IsType(err error, errorType ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == errorType
	}
	return false
}

// GetStatusCode extracts the HTTP status code from an error
func GetStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}
