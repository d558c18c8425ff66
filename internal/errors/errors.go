// Package errors defines the error taxonomy shared by the statistical core.
//
// Every failure produced by the library is an *AppError carrying an
// ErrorType. Callers branch on the type with the sentinel values, for example
//
//	if errors.Is(err, apperrors.ErrInvalidTrend) { ... }
//
// Validation always happens at function entry, so an error of any type other
// than NUMERICAL means no computation was performed.
//
// ErrorHandler maps the same types onto RFC 7807 problem responses for the
// HTTP server.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorType represents the type of error
type ErrorType string

const (
	ErrTypeInvalidTrend     ErrorType = "INVALID_TREND"
	ErrTypeColumnNotFound   ErrorType = "COLUMN_NOT_FOUND"
	ErrTypeValidation       ErrorType = "VALIDATION"
	ErrTypeInvalidParameter ErrorType = "INVALID_PARAMETER"
	ErrTypeValue            ErrorType = "VALUE"
	ErrTypeNumerical        ErrorType = "NUMERICAL"
	ErrTypeSchema           ErrorType = "SCHEMA"
	ErrTypeConfig           ErrorType = "CONFIG"
	ErrTypeParsing          ErrorType = "PARSING"
)

// Sentinels for errors.Is. They match any AppError of the same type.
var (
	ErrInvalidTrend     = &AppError{Type: ErrTypeInvalidTrend}
	ErrColumnNotFound   = &AppError{Type: ErrTypeColumnNotFound}
	ErrValidation       = &AppError{Type: ErrTypeValidation}
	ErrInvalidParameter = &AppError{Type: ErrTypeInvalidParameter}
	ErrValue            = &AppError{Type: ErrTypeValue}
	ErrNumerical        = &AppError{Type: ErrTypeNumerical}
	ErrSchema           = &AppError{Type: ErrTypeSchema}
	ErrConfig           = &AppError{Type: ErrTypeConfig}
	ErrParsing          = &AppError{Type: ErrTypeParsing}
)

// AppError represents an application-specific error
type AppError struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap allows errors.Is and errors.As to work with AppError
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an AppError of the same type. A target
// without a message (the package sentinels) matches every message.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Type == e.Type && (t.Message == "" || t.Message == e.Message)
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new application error
func NewAppError(errType ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// TypeOf returns the ErrorType of the first AppError in err's chain, or ""
// when there is none.
func TypeOf(err error) ErrorType {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Type
	}
	return ""
}
