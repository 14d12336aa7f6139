package common

import (
	"errors"
	"net/http"
)

// Error codes surfaced to API clients.
const (
	CodeBadRequest        = "BAD_REQUEST"
	CodeValidation        = "VALIDATION_ERROR"
	CodeNotFound          = "NOT_FOUND"
	CodeNetwork           = "NETWORK_ERROR"
	CodeConfigUnavailable = "CONFIG_UNAVAILABLE"
	CodePayment           = "PAYMENT_ERROR"
	CodeInvalidState      = "INVALID_STATE"
	CodeRateLimited       = "RATE_LIMITED"
	CodePayloadTooLarge   = "PAYLOAD_TOO_LARGE"
	CodeInternal          = "INTERNAL"
)

// AppError represents an error with an attached code and HTTP status.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
	Details    any
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

// Unwrap allows errors.Is/As to inspect the underlying error.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(code, message string, status int, err error) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// IsAppError checks whether the error is an AppError.
func IsAppError(err error) bool {
	var target *AppError
	return errors.As(err, &target)
}

// BadRequest reports an unusable request parameter.
func BadRequest(field, message string, err error) *AppError {
	appErr := NewAppError(CodeBadRequest, message, http.StatusBadRequest, err)
	if field != "" {
		appErr.Details = map[string]string{"field": field}
	}
	return appErr
}

// ValidationFailed reports field-level validation messages.
func ValidationFailed(fields map[string]string, err error) *AppError {
	appErr := NewAppError(CodeValidation, "validation failed", http.StatusUnprocessableEntity, err)
	appErr.Details = fields
	return appErr
}

// NotFound reports a missing resource.
func NotFound(message string, err error) *AppError {
	return NewAppError(CodeNotFound, message, http.StatusNotFound, err)
}

// NetworkError reports a failed or non-2xx call to an upstream service.
func NetworkError(message string, err error) *AppError {
	return NewAppError(CodeNetwork, message, http.StatusBadGateway, err)
}

// ConfigUnavailable reports that pricing configuration is loading or failed.
func ConfigUnavailable(err error) *AppError {
	return NewAppError(CodeConfigUnavailable, "configuration unavailable", http.StatusServiceUnavailable, err)
}

// PaymentFailed carries a processor message that is shown to the buyer as is.
func PaymentFailed(message string, err error) *AppError {
	return NewAppError(CodePayment, message, http.StatusPaymentRequired, err)
}

// InvalidState reports an operation that the current workflow state forbids.
func InvalidState(message string, err error) *AppError {
	return NewAppError(CodeInvalidState, message, http.StatusConflict, err)
}
