package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType classifies an AppError for API clients.
type ErrorType string

const (
	ErrorTypeValidation  ErrorType = "VALIDATION_ERROR"
	ErrorTypeNotFound    ErrorType = "NOT_FOUND"
	ErrorTypeInternal    ErrorType = "INTERNAL_ERROR"
	ErrorTypeTimeout     ErrorType = "TIMEOUT"
	ErrorTypeConflict    ErrorType = "CONFLICT"
	ErrorTypeRateLimit   ErrorType = "RATE_LIMIT"
	ErrorTypeTooLarge    ErrorType = "PAYLOAD_TOO_LARGE"
	ErrorTypeServiceDown ErrorType = "SERVICE_DOWN"
)

// Error codes attached to session lifecycle failures.
const (
	CodeInvalidSlot      = "INVALID_SLOT"
	CodeAlreadyRunning   = "ALREADY_RUNNING"
	CodeModelUnavailable = "MODEL_UNAVAILABLE"
	CodeSessionInactive  = "SESSION_INACTIVE"
	CodeViewerLimit      = "VIEWER_LIMIT"
)

// AppError is an error carrying what the HTTP layer needs to render it.
type AppError struct {
	Type       ErrorType              `json:"type"`
	Message    string                 `json:"message"`
	Code       string                 `json:"code,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	HTTPStatus int                    `json:"-"`
	Err        error                  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// WithCause records the underlying error without changing the message.
func (e *AppError) WithCause(err error) *AppError {
	e.Err = err
	return e
}

func New(errType ErrorType, message string, httpStatus int) *AppError {
	return &AppError{
		Type:       errType,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

func Wrap(err error, errType ErrorType, message string, httpStatus int) *AppError {
	return &AppError{
		Type:       errType,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

func NewValidationError(message string) *AppError {
	return New(ErrorTypeValidation, message, http.StatusBadRequest)
}

// NewNotFoundError creates a not found error for the named resource.
func NewNotFoundError(resource string) *AppError {
	return New(ErrorTypeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func NewInternalError(message string) *AppError {
	return New(ErrorTypeInternal, message, http.StatusInternalServerError)
}

func WrapInternalError(err error, message string) *AppError {
	return Wrap(err, ErrorTypeInternal, message, http.StatusInternalServerError)
}

func NewTimeoutError(message string) *AppError {
	return New(ErrorTypeTimeout, message, http.StatusRequestTimeout)
}

func NewConflictError(message string) *AppError {
	return New(ErrorTypeConflict, message, http.StatusConflict)
}

func NewRateLimitError(message string) *AppError {
	return New(ErrorTypeRateLimit, message, http.StatusTooManyRequests)
}

func NewTooLargeError(message string) *AppError {
	return New(ErrorTypeTooLarge, message, http.StatusRequestEntityTooLarge)
}

func NewServiceDownError(service string) *AppError {
	return New(ErrorTypeServiceDown, fmt.Sprintf("%s service is currently unavailable", service), http.StatusServiceUnavailable)
}

// GetAppError finds an AppError anywhere in err's chain.
func GetAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

func IsAppError(err error) bool {
	_, ok := GetAppError(err)
	return ok
}
