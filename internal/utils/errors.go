package utils

import (
	"errors"

	"github.com/gofiber/fiber/v2"
)

// APIError is an error a handler or middleware can return instead of
// writing the response itself; ErrorHandler renders it. Code is the
// machine-readable value carried in the response's error field.
type APIError struct {
	Code    string
	Message string
	Status  int
}

// Error implements the error interface
func (e *APIError) Error() string {
	return e.Message
}

// NewAPIError creates a new APIError
func NewAPIError(code, message string, status int) *APIError {
	return &APIError{
		Code:    code,
		Message: message,
		Status:  status,
	}
}

// Errors shared by the authentication middleware and stream handlers.
// Handler-local failures keep their own codes and are written with
// ErrorResponse directly.
var (
	ErrNotAuthenticated        = NewAPIError("not_authenticated", "Authentication required", fiber.StatusUnauthorized)
	ErrSessionValidationFailed = NewAPIError("session_validation_failed", "Session could not be validated", fiber.StatusInternalServerError)
	ErrInternalServer          = NewAPIError("internal_server_error", "An unexpected error occurred", fiber.StatusInternalServerError)
)

// ErrorHandler is the app-wide Fiber error handler. It renders
// APIError values with their code and status, passes Fiber errors
// through, and masks everything else as an internal server error.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return ErrorResponse(c, apiErr.Code, apiErr.Status)
	}

	var e *fiber.Error
	if errors.As(err, &e) {
		return ErrorResponse(c, e.Message, e.Code)
	}

	return ErrorResponse(c, ErrInternalServer.Code, ErrInternalServer.Status)
}
