package errors

import (
	"errors"
	"fmt"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

const (
	CodeValidation        = "E100"
	CodePersistence       = "E200"
	CodeRemote            = "E300"
	CodeState             = "E400"
	CodeCryptoUnavailable = "E600"
	CodeDispensing        = "E700"
)

// AppError is the error shape shared by every kiosk component.
// UserMessage is an i18n key resolved by the presentation layer.
type AppError struct {
	Code        string
	Message     string
	UserMessage string
	Severity    Severity
	Retryable   bool
	cause       error
}

func (e *AppError) Error() string {
	if e == nil {
		return ""
	}

	return e.Message
}

func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.cause
}

func (e *AppError) Cause() error {
	return e.Unwrap()
}

// Wrap attaches cause to e and returns e.
func (e *AppError) Wrap(cause error) *AppError {
	e.cause = cause
	return e
}

func NewValidationError(msg string) *AppError {
	return &AppError{
		Code:        CodeValidation,
		Message:     msg,
		UserMessage: "errors.validation",
		Severity:    SeverityLow,
	}
}

func NewPersistenceError(op string, cause error) *AppError {
	var underlyingMsg string
	if cause != nil {
		underlyingMsg = cause.Error()
	}

	return &AppError{
		Code:        CodePersistence,
		Message:     fmt.Sprintf("store %s: %s", op, underlyingMsg),
		UserMessage: "errors.generic",
		Severity:    SeverityHigh,
		Retryable:   true,
		cause:       cause,
	}
}

// NewRemoteError describes a failed remote call. msg is the human-readable
// condition ("timeout", "no connection", "HTTP 500: Internal Server Error").
func NewRemoteError(operation, msg string, cause error) *AppError {
	return &AppError{
		Code:        CodeRemote,
		Message:     fmt.Sprintf("%s: %s", operation, msg),
		UserMessage: "errors.remote",
		Severity:    SeverityMedium,
		Retryable:   true,
		cause:       cause,
	}
}

func NewStateError(msg string) *AppError {
	return &AppError{
		Code:        CodeState,
		Message:     msg,
		UserMessage: "errors.state",
		Severity:    SeverityMedium,
	}
}

func NewCryptoUnavailableError(cause error) *AppError {
	return &AppError{
		Code:        CodeCryptoUnavailable,
		Message:     "signing primitive unavailable",
		UserMessage: "errors.processing",
		Severity:    SeverityCritical,
		cause:       cause,
	}
}

func NewDispensingError(msg string) *AppError {
	return &AppError{
		Code:        CodeDispensing,
		Message:     msg,
		UserMessage: "errors.dispensing",
		Severity:    SeverityHigh,
	}
}

// CodeOf returns the AppError code carried by err, or an empty string.
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr != nil {
		return appErr.Code
	}

	return ""
}

// Is reports whether err carries the given AppError code.
func Is(err error, code string) bool {
	return code != "" && CodeOf(err) == code
}

// UserMessageOf returns the i18n key for err, falling back to the generic message.
func UserMessageOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr != nil && appErr.UserMessage != "" {
		return appErr.UserMessage
	}

	return "errors.generic"
}
