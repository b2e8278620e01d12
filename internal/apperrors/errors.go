package apperrors

import (
	"errors"
	"net/http"
)

// =============================================================================
// Error Codes
// =============================================================================

type ErrorCode string

const (
	ErrorCodeInternalError          ErrorCode = "INTERNAL_ERROR"
	ErrorCodeValidationError        ErrorCode = "VALIDATION_ERROR"
	ErrorCodeNotFound               ErrorCode = "NOT_FOUND"
	ErrorCodeUnauthorized           ErrorCode = "UNAUTHORIZED"
	ErrorCodeForbidden              ErrorCode = "FORBIDDEN"
	ErrorCodeConflict               ErrorCode = "CONFLICT"
	ErrorCodeSpeakerNotFound        ErrorCode = "SPEAKER_NOT_FOUND"
	ErrorCodeSpeakerUnreachable     ErrorCode = "SPEAKER_UNREACHABLE"
	ErrorCodeSpeakerTimeout         ErrorCode = "SPEAKER_TIMEOUT"
	ErrorCodeSpeakerRejected        ErrorCode = "SPEAKER_REJECTED"
	ErrorCodeSessionTerminated      ErrorCode = "SESSION_TERMINATED"
	ErrorCodeUnsupportedSource      ErrorCode = "UNSUPPORTED_SOURCE"
	ErrorCodeNightModeNotConfigured ErrorCode = "NIGHT_MODE_NOT_CONFIGURED"
	ErrorCodeAuthTokenExpired       ErrorCode = "AUTH_TOKEN_EXPIRED"
	ErrorCodeAuthTokenInvalid       ErrorCode = "AUTH_TOKEN_INVALID"
)

// =============================================================================
// Stripe API Error Types
// =============================================================================

// ErrorType categorizes errors following Stripe API conventions.
type ErrorType string

const (
	// ErrorTypeInvalidRequest indicates invalid parameters, missing required fields, etc.
	ErrorTypeInvalidRequest ErrorType = "invalid_request_error"
	// ErrorTypeAPIError indicates an internal API error.
	ErrorTypeAPIError ErrorType = "api_error"
	// ErrorTypeAuthError indicates authentication or authorization failure.
	ErrorTypeAuthError ErrorType = "authentication_error"
	// ErrorTypeDeviceError indicates the speaker could not complete the request.
	ErrorTypeDeviceError ErrorType = "device_error"
)

// StripeErrorBody is the Stripe-style error payload.
// Format: {"type": "invalid_request_error", "code": "NOT_FOUND", "message": "..."}
type StripeErrorBody struct {
	Type    ErrorType      `json:"type"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// AppError is the base error type for HTTP responses.
type AppError struct {
	Code       ErrorCode
	Message    string
	StatusCode int
	Details    map[string]any
	Err        error
}

func (err *AppError) Error() string {
	return err.Message
}

func (err *AppError) Unwrap() error {
	return err.Err
}

// StripeErrorBody returns the error in Stripe API format.
func (err *AppError) StripeErrorBody() StripeErrorBody {
	errType := ErrorTypeAPIError
	switch {
	case err.StatusCode == http.StatusUnauthorized || err.StatusCode == http.StatusForbidden:
		errType = ErrorTypeAuthError
	case err.StatusCode >= 400 && err.StatusCode < 500:
		errType = ErrorTypeInvalidRequest
	case err.StatusCode == http.StatusBadGateway || err.StatusCode == http.StatusGatewayTimeout:
		errType = ErrorTypeDeviceError
	}

	return StripeErrorBody{
		Type:    errType,
		Code:    string(err.Code),
		Message: err.Message,
		Details: err.Details,
	}
}

func NewAppError(code ErrorCode, message string, statusCode int, details map[string]any) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Details:    details,
	}
}

func NewValidationError(message string, details map[string]any) *AppError {
	return NewAppError(ErrorCodeValidationError, message, http.StatusBadRequest, details)
}

func NewUnauthorizedError(message string, code ...ErrorCode) *AppError {
	errCode := ErrorCodeUnauthorized
	if len(code) > 0 {
		errCode = code[0]
	}
	return NewAppError(errCode, message, http.StatusUnauthorized, nil)
}

func NewNotFoundResource(resource, id string) *AppError {
	message := resource + " not found"
	details := map[string]any{
		"resource": resource,
	}
	if id != "" {
		message = resource + " not found: " + id
		details["id"] = id
	}
	return NewAppError(ErrorCodeNotFound, message, http.StatusNotFound, details)
}

func NewSpeakerNotFound(ip string) *AppError {
	return NewAppError(ErrorCodeSpeakerNotFound, "Speaker not found: "+ip, http.StatusNotFound, map[string]any{"ip": ip})
}

// NewSpeakerError wraps a transport failure talking to the speaker at ip.
func NewSpeakerError(ip string, err error, timeout bool) *AppError {
	code := ErrorCodeSpeakerUnreachable
	status := http.StatusBadGateway
	message := "Speaker unreachable: " + ip
	if timeout {
		code = ErrorCodeSpeakerTimeout
		status = http.StatusGatewayTimeout
		message = "Speaker timed out: " + ip
	}
	appErr := NewAppError(code, message, status, map[string]any{"ip": ip})
	appErr.Err = err
	return appErr
}

func NewConflictError(message string, details map[string]any) *AppError {
	return NewAppError(ErrorCodeConflict, message, http.StatusConflict, details)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrorCodeInternalError, message, http.StatusInternalServerError, nil)
}

// EnsureAppError converts an arbitrary error into an AppError.
func EnsureAppError(err error) *AppError {
	if err == nil {
		return NewInternalError("Unknown error")
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return NewInternalError("Internal server error")
}
