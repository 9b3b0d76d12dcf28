// Package domain defines core types, interfaces, and errors for the report query engine.
package domain

import (
	"errors"
	"fmt"
	"strings"
)

// NotFoundError indicates a resource was not found.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// AccessDeniedError indicates insufficient permissions.
type AccessDeniedError struct {
	Message string
}

func (e *AccessDeniedError) Error() string { return e.Message }

// ValidationError indicates invalid input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// ConflictError indicates a conflict (e.g., duplicate resource).
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// ErrNotFound creates a NotFoundError with a formatted message.
func ErrNotFound(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// ErrAccessDenied creates an AccessDeniedError with a formatted message.
func ErrAccessDenied(format string, args ...interface{}) *AccessDeniedError {
	return &AccessDeniedError{Message: fmt.Sprintf(format, args...)}
}

// ErrValidation creates a ValidationError with a formatted message.
func ErrValidation(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ErrConflict creates a ConflictError with a formatted message.
func ErrConflict(format string, args ...interface{}) *ConflictError {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

// UnknownTableError indicates a table name that is not registered.
type UnknownTableError struct {
	Table string
}

func (e *UnknownTableError) Error() string {
	return fmt.Sprintf("unknown table %q", e.Table)
}

// UnknownColumnError indicates an identifier that does not resolve on a table.
type UnknownColumnError struct {
	Table  string
	Column string
}

func (e *UnknownColumnError) Error() string {
	return fmt.Sprintf("unknown column %q on table %q", e.Column, e.Table)
}

// DuplicateTableError is returned when a table name is registered twice.
type DuplicateTableError struct {
	Table string
}

func (e *DuplicateTableError) Error() string {
	return fmt.Sprintf("table %q is already registered", e.Table)
}

// InvalidExpressionError reports a computed-column expression rejected by the
// expression validator.
type InvalidExpressionError struct {
	Expression string
	Problems   []string
}

func (e *InvalidExpressionError) Error() string {
	return fmt.Sprintf("invalid expression %q: %s", e.Expression, strings.Join(e.Problems, "; "))
}

// QueryCompilationError aggregates every structural problem found while
// compiling a query specification.
type QueryCompilationError struct {
	Problems []string
}

func (e *QueryCompilationError) Error() string {
	if len(e.Problems) == 1 {
		return "query compilation failed: " + e.Problems[0]
	}
	return fmt.Sprintf("query compilation failed with %d problems: %s", len(e.Problems), strings.Join(e.Problems, "; "))
}

// ExecutionError wraps a storage-layer failure or timeout. The execution
// record identified by ExecutionID is always in a terminal state when this
// error is returned.
type ExecutionError struct {
	ExecutionID string
	Timeout     bool
	Err         error
}

func (e *ExecutionError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("report execution %s timed out: %v", e.ExecutionID, e.Err)
	}
	return fmt.Sprintf("report execution %s failed: %v", e.ExecutionID, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// CacheError wraps a cache-store failure. It is never fatal: callers degrade
// to direct execution.
type CacheError struct {
	Op  string
	Err error
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("report cache %s: %v", e.Op, e.Err)
}

func (e *CacheError) Unwrap() error { return e.Err }

// ErrStorageUnavailable is returned while report storage rejects queries
// because its circuit breaker is open.
var ErrStorageUnavailable = errors.New("report storage unavailable")
