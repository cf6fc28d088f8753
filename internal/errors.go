package internal

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type ErrorType string

const (
	ErrorTypeValidation    ErrorType = "VALIDATION_ERROR"
	ErrorTypeNotFound      ErrorType = "NOT_FOUND"
	ErrorTypeUnauthorized  ErrorType = "UNAUTHORIZED"
	ErrorTypeForbidden     ErrorType = "FORBIDDEN"
	ErrorTypeConflict      ErrorType = "CONFLICT"
	ErrorTypePrecondition  ErrorType = "PRECONDITION_FAILED"
	ErrorTypeConfiguration ErrorType = "CONFIGURATION_ERROR"
	ErrorTypeTimeout       ErrorType = "TIMEOUT"
	ErrorTypeInternal      ErrorType = "INTERNAL_ERROR"
	ErrorTypeExternal      ErrorType = "EXTERNAL_ERROR"
)

type ErrorCode string

const (
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodeInvalidAmount    ErrorCode = "INVALID_AMOUNT"
	ErrCodeInvalidCurrency  ErrorCode = "INVALID_CURRENCY"
	ErrCodeAmountTooHigh    ErrorCode = "AMOUNT_TOO_HIGH"

	ErrCodePaymentNotFound ErrorCode = "PAYMENT_NOT_FOUND"
	ErrCodeOrderNotFound   ErrorCode = "ORDER_NOT_FOUND"
	ErrCodeOrderPaid       ErrorCode = "ORDER_ALREADY_PAID"

	ErrCodeInvalidToken      ErrorCode = "INVALID_TOKEN"
	ErrCodeTokenExpired      ErrorCode = "TOKEN_EXPIRED"
	ErrCodeInvalidAPIKey     ErrorCode = "INVALID_API_KEY"
	ErrCodeInsufficientRole  ErrorCode = "INSUFFICIENT_ROLE"
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"

	ErrCodeNoActiveGateway      ErrorCode = "NO_ACTIVE_GATEWAY"
	ErrCodeGatewayNotConfigured ErrorCode = "GATEWAY_NOT_CONFIGURED"
	ErrCodeGatewayUnavailable   ErrorCode = "GATEWAY_UNAVAILABLE"
	ErrCodeGatewayTimeout       ErrorCode = "GATEWAY_TIMEOUT"
	ErrCodeRemoteError          ErrorCode = "REMOTE_ERROR"
	ErrCodePartialCapture       ErrorCode = "PARTIAL_CAPTURE"
	ErrCodePaymentFailed        ErrorCode = "PAYMENT_FAILED"
	ErrCodePaymentDeclined      ErrorCode = "PAYMENT_DECLINED"
	ErrCodeRefundNotAllowed     ErrorCode = "REFUND_NOT_ALLOWED"
	ErrCodeRefundFailed         ErrorCode = "REFUND_FAILED"
	ErrCodeWebhookRejected      ErrorCode = "WEBHOOK_REJECTED"
	ErrCodeConcurrentUpdate     ErrorCode = "CONCURRENT_UPDATE"
)

type AppError struct {
	Type       ErrorType   `json:"type"`
	Code       ErrorCode   `json:"code"`
	Message    string      `json:"message"`
	Details    interface{} `json:"details,omitempty"`
	StatusCode int         `json:"-"`
	Cause      error       `json:"-"`
	Retryable  bool        `json:"-"`
}

func (e *AppError) Error() string {
	if e.Details != nil {
		if validationErrors, ok := e.Details.(ValidationErrors); ok && len(validationErrors.Errors) > 0 {

			return validationErrors.Errors[0].Message
		}
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) GetDetailedMessage() string {
	if e.Details != nil {
		if validationErrors, ok := e.Details.(ValidationErrors); ok {
			if len(validationErrors.Errors) == 1 {
				return validationErrors.Errors[0].Message
			} else if len(validationErrors.Errors) > 1 {
				messages := make([]string, len(validationErrors.Errors))
				for i, err := range validationErrors.Errors {
					messages[i] = err.Message
				}
				return strings.Join(messages, "; ")
			}
		}
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

func (e *AppError) WithDetails(details interface{}) *AppError {
	e.Details = details
	return e
}

// WithRetryable marks whether the gateway policy may repeat the call that produced e.
func (e *AppError) WithRetryable(retryable bool) *AppError {
	e.Retryable = retryable
	return e
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func NewValidationError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

func NewValidationFieldError(field, message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       ErrCodeValidationFailed,
		Message:    "Validation failed",
		StatusCode: http.StatusBadRequest,
		Details: ValidationErrors{
			Errors: []ValidationError{
				{Field: field, Message: message, Code: string(code)},
			},
		},
	}
}

func NewNotFoundError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusNotFound,
	}
}

func NewUnauthorizedError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeUnauthorized,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
	}
}

func NewForbiddenError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeForbidden,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusForbidden,
	}
}

func NewInternalError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Cause:      cause,
	}
}

func NewConflictError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeConflict,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

// NewPreconditionError reports an operation refused because of the current record state.
func NewPreconditionError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypePrecondition,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

func NewConfigurationError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeConfiguration,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusServiceUnavailable,
	}
}

// NewRemoteError wraps a failure talking to a provider. Remote errors are retryable
// unless the caller clears the flag.
func NewRemoteError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeExternal,
		Code:       ErrCodeRemoteError,
		Message:    message,
		StatusCode: http.StatusBadGateway,
		Cause:      cause,
		Retryable:  true,
	}
}

// NewTimeoutError means the call was abandoned; the provider may still have applied it.
func NewTimeoutError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeTimeout,
		Code:       ErrCodeGatewayTimeout,
		Message:    message,
		StatusCode: http.StatusGatewayTimeout,
		Cause:      cause,
	}
}

func NewPartialCaptureError(message string, providerOrderID string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeExternal,
		Code:       ErrCodePartialCapture,
		Message:    message,
		StatusCode: http.StatusBadGateway,
		Cause:      cause,
		Details:    map[string]string{"provider_order_id": providerOrderID},
	}
}

func NewPaymentDeclinedError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeExternal,
		Code:       ErrCodePaymentDeclined,
		Message:    message,
		StatusCode: http.StatusPaymentRequired,
	}
}

func NewRefundFailedError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeExternal,
		Code:       ErrCodeRefundFailed,
		Message:    message,
		StatusCode: http.StatusBadGateway,
	}
}

func NewRateLimitError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeForbidden,
		Code:       ErrCodeRateLimitExceeded,
		Message:    message,
		StatusCode: http.StatusTooManyRequests,
	}
}

var (
	ErrPaymentNotFound = NewNotFoundError("Payment not found", ErrCodePaymentNotFound)
	ErrOrderNotFound   = NewNotFoundError("Order not found", ErrCodeOrderNotFound)

	ErrInvalidToken     = NewUnauthorizedError("Invalid token", ErrCodeInvalidToken)
	ErrTokenExpired     = NewUnauthorizedError("Token has expired", ErrCodeTokenExpired)
	ErrInvalidAPIKey    = NewUnauthorizedError("Invalid API key", ErrCodeInvalidAPIKey)
	ErrInsufficientRole = NewForbiddenError("Insufficient role for this operation", ErrCodeInsufficientRole)
)

func IsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

func hasType(err error, t ErrorType) bool {
	appErr, ok := IsAppError(err)
	return ok && appErr.Type == t
}

func IsNotFound(err error) bool {
	return hasType(err, ErrorTypeNotFound)
}

func IsTimeout(err error) bool {
	return hasType(err, ErrorTypeTimeout)
}

func IsConfiguration(err error) bool {
	return hasType(err, ErrorTypeConfiguration)
}

func IsPrecondition(err error) bool {
	return hasType(err, ErrorTypePrecondition)
}

func IsValidation(err error) bool {
	return hasType(err, ErrorTypeValidation)
}

func IsPartialCapture(err error) bool {
	appErr, ok := IsAppError(err)
	return ok && appErr.Code == ErrCodePartialCapture
}

// IsEffectUnknown reports errors after which the remote side effect may or may not
// have happened. Such calls are never repeated against any provider.
func IsEffectUnknown(err error) bool {
	return IsTimeout(err) || IsPartialCapture(err)
}

func IsRetryable(err error) bool {
	appErr, ok := IsAppError(err)
	return ok && appErr.Retryable
}

type Response struct {
	Error *AppError `json:"error"`
}

func (e *AppError) ToHTTPResponse() (int, interface{}) {
	return e.StatusCode, Response{Error: e}
}

func (e *AppError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    ErrorType   `json:"type"`
		Code    ErrorCode   `json:"code"`
		Message string      `json:"message"`
		Details interface{} `json:"details,omitempty"`
	}{
		Type:    e.Type,
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	})
}
