package common

import (
	"errors"
	"net/http"
)

// Error codes shared by the checkout flow.
const (
	CodeValidation      = "VALIDATION_FAILED"
	CodeInvalidPromo    = "INVALID_PROMO"
	CodeInvalidState    = "INVALID_STATE"
	CodeProvider        = "PROVIDER_UNAVAILABLE"
	CodePartialCheckout = "PARTIAL_CHECKOUT_FAILURE"
	CodeNotFound        = "NOT_FOUND"
	CodeInternal        = "INTERNAL"
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

// ValidationError blocks a user action. It is never retried.
func ValidationError(code, message string, err error) *AppError {
	if code == "" {
		code = CodeValidation
	}
	return &AppError{Code: code, Message: message, HTTPStatus: http.StatusUnprocessableEntity, Err: err}
}

// ProviderError reports a failing upstream provider. Adapters mostly degrade instead of
// returning it, so it only reaches users on the checkout path.
func ProviderError(message string, err error) *AppError {
	return &AppError{Code: CodeProvider, Message: message, HTTPStatus: http.StatusBadGateway, Err: err}
}

// IsAppError checks whether the error is an AppError.
func IsAppError(err error) bool {
	var target *AppError
	return errors.As(err, &target)
}

// IsValidation reports whether err is a user-facing validation failure.
func IsValidation(err error) bool {
	var target *AppError
	if !errors.As(err, &target) {
		return false
	}
	return target.HTTPStatus == http.StatusUnprocessableEntity
}
