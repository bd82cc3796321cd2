package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode identifies a failure class shared by the relay, the REST API and the client.
type ErrorCode string

const (
	// Request errors
	ErrCodeValidation   ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"

	// Authentication errors
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeInvalidToken ErrorCode = "INVALID_TOKEN"
	ErrCodeExpiredToken ErrorCode = "EXPIRED_TOKEN"

	ErrCodeForbidden ErrorCode = "FORBIDDEN"
	ErrCodeNotFound  ErrorCode = "NOT_FOUND"

	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"

	// Call errors
	ErrCodeMediaUnavailable   ErrorCode = "MEDIA_UNAVAILABLE"
	ErrCodeDeviceBusy         ErrorCode = "DEVICE_BUSY"
	ErrCodePeerOffline        ErrorCode = "PEER_OFFLINE"
	ErrCodeNegotiationTimeout ErrorCode = "NEGOTIATION_TIMEOUT"
	ErrCodeNegotiationFailed  ErrorCode = "NEGOTIATION_FAILED"
	ErrCodeTransportFailure   ErrorCode = "TRANSPORT_FAILURE"
	ErrCodeCallBusy           ErrorCode = "CALL_BUSY"
	ErrCodeInvalidState       ErrorCode = "INVALID_STATE"

	// Chat errors
	ErrCodeSendFailure ErrorCode = "SEND_FAILURE"

	// Internal errors
	ErrCodeInternal       ErrorCode = "INTERNAL_ERROR"
	ErrCodeDatabase       ErrorCode = "DATABASE_ERROR"
	ErrCodeStorage        ErrorCode = "STORAGE_ERROR"
	ErrCodeServiceUnavail ErrorCode = "SERVICE_UNAVAILABLE"
)

// AppError is a structured error with a code, a client-facing message and an HTTP status.
type AppError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	StatusCode int       `json:"-"`
	Details    any       `json:"details,omitempty"`
	Err        error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates an AppError with status 500.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
	}
}

// NewWithStatus creates an AppError with a specific HTTP status.
func NewWithStatus(code ErrorCode, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap wraps err with an AppError, status 500.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}

// WrapWithStatus wraps err with an AppError and a specific HTTP status.
func WrapWithStatus(code ErrorCode, message string, statusCode int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Err:        err,
	}
}

func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

func ValidationError(message string) *AppError {
	return NewWithStatus(ErrCodeValidation, message, http.StatusBadRequest)
}

func InvalidInputError(message string) *AppError {
	return NewWithStatus(ErrCodeInvalidInput, message, http.StatusBadRequest)
}

func UnauthorizedError(message string) *AppError {
	return NewWithStatus(ErrCodeUnauthorized, message, http.StatusUnauthorized)
}

func InvalidTokenError(message string) *AppError {
	return NewWithStatus(ErrCodeInvalidToken, message, http.StatusUnauthorized)
}

func ExpiredTokenError() *AppError {
	return NewWithStatus(ErrCodeExpiredToken, "Token has expired", http.StatusUnauthorized)
}

func ForbiddenError(message string) *AppError {
	return NewWithStatus(ErrCodeForbidden, message, http.StatusForbidden)
}

func NotFoundError(resource string) *AppError {
	return NewWithStatus(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func RateLimitExceededError() *AppError {
	return NewWithStatus(ErrCodeRateLimitExceeded, "Rate limit exceeded", http.StatusTooManyRequests)
}

// Call errors. These never reach an HTTP response; the status is kept for symmetry.

func MediaUnavailableError(err error) *AppError {
	return WrapWithStatus(ErrCodeMediaUnavailable, "Local media could not be acquired", http.StatusFailedDependency, err)
}

func DeviceBusyError(err error) *AppError {
	return WrapWithStatus(ErrCodeDeviceBusy, "Camera is in use by another application", http.StatusConflict, err)
}

func PeerOfflineError(peerID string) *AppError {
	return NewWithStatus(ErrCodePeerOffline, "Peer is offline", http.StatusNotFound).WithDetails(map[string]string{"peer_id": peerID})
}

func NegotiationTimeoutError() *AppError {
	return NewWithStatus(ErrCodeNegotiationTimeout, "No answer", http.StatusRequestTimeout)
}

func NegotiationFailedError(err error) *AppError {
	return WrapWithStatus(ErrCodeNegotiationFailed, "Session negotiation failed", http.StatusBadGateway, err)
}

func TransportFailureError(err error) *AppError {
	return WrapWithStatus(ErrCodeTransportFailure, "Connection lost", http.StatusBadGateway, err)
}

func CallBusyError() *AppError {
	return NewWithStatus(ErrCodeCallBusy, "Another call is in progress", http.StatusConflict)
}

func InvalidStateError(message string) *AppError {
	return NewWithStatus(ErrCodeInvalidState, message, http.StatusConflict)
}

func SendFailureError(err error) *AppError {
	return WrapWithStatus(ErrCodeSendFailure, "Message could not be delivered", http.StatusBadGateway, err)
}

func InternalError(message string) *AppError {
	return NewWithStatus(ErrCodeInternal, message, http.StatusInternalServerError)
}

func DatabaseError(err error) *AppError {
	return WrapWithStatus(ErrCodeDatabase, "Database error", http.StatusInternalServerError, err)
}

func StorageError(err error) *AppError {
	return WrapWithStatus(ErrCodeStorage, "Storage error", http.StatusInternalServerError, err)
}

func ServiceUnavailableError(message string) *AppError {
	return NewWithStatus(ErrCodeServiceUnavail, message, http.StatusServiceUnavailable)
}

// IsAppError reports whether err's chain contains an AppError.
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// GetAppError extracts the first AppError in err's chain, wrapping anything else as InternalError.
func GetAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return InternalError(err.Error())
}

// HasCode reports whether err's chain contains an AppError with the given code.
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		var appErr *AppError
		if !stderrors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Err
	}
	return false
}
