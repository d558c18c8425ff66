package errors

import (
	"fmt"
	"strings"
)

// Helper functions for common error types

// NewInvalidTrendError reports a trend outside the vocabulary or outside the
// set a test accepts.
func NewInvalidTrendError(trend string, allowed []string) *AppError {
	return NewAppError(ErrTypeInvalidTrend,
		fmt.Sprintf("Invalid trend: %s. Allowed trends: %s", trend, quoteList(allowed)), nil).
		WithContext("trend", trend).
		WithContext("allowed", allowed)
}

// NewColumnNotFoundError reports a security column missing from a table.
func NewColumnNotFoundError(column string) *AppError {
	return NewAppError(ErrTypeColumnNotFound,
		fmt.Sprintf("Security '%s' not found in the table.", column), nil).
		WithContext("column", column)
}

// NewMissingSecuritiesError reports every requested security absent from a table.
func NewMissingSecuritiesError(missing []string) *AppError {
	return NewAppError(ErrTypeValidation,
		fmt.Sprintf("Securities not found in data: %s", quoteList(missing)), nil).
		WithContext("missing", missing)
}

// NewValidationError creates a validation error
func NewValidationError(message string) *AppError {
	return NewAppError(ErrTypeValidation, message, nil)
}

// NewInvalidParameterError reports an unknown method or statistic name, or a
// parameter outside its range. allowed may be nil.
func NewInvalidParameterError(name string, value interface{}, allowed []string) *AppError {
	msg := fmt.Sprintf("Invalid %s: %v.", name, value)
	if len(allowed) > 0 {
		msg = fmt.Sprintf("%s Allowed values: %s", msg, quoteList(allowed))
	}
	return NewAppError(ErrTypeInvalidParameter, msg, nil).
		WithContext("parameter", name).
		WithContext("value", value)
}

// NewValueError creates an input error such as an empty slice or a reversed
// date range.
func NewValueError(message string) *AppError {
	return NewAppError(ErrTypeValue, message, nil)
}

// NewNumericalError wraps a linear-algebra failure.
func NewNumericalError(message string, cause error) *AppError {
	return NewAppError(ErrTypeNumerical, message, cause)
}

// NewSchemaError reports a malformed table.
func NewSchemaError(message string) *AppError {
	return NewAppError(ErrTypeSchema, message, nil)
}

// NewConfigError creates a configuration error
func NewConfigError(message string, cause error) *AppError {
	return NewAppError(ErrTypeConfig, message, cause)
}

// NewParsingError creates a parsing-related error
func NewParsingError(message string, cause error) *AppError {
	return NewAppError(ErrTypeParsing, message, cause)
}

func quoteList(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = "'" + v + "'"
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
