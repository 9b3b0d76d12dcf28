package mapper

import (
	"errors"
	"net/http"

	"fleet-reports/internal/domain"
)

// HTTPStatusFromDomainError maps domain errors to HTTP status codes.
func HTTPStatusFromDomainError(err error) int {
	var notFound *domain.NotFoundError
	var accessDenied *domain.AccessDeniedError
	var validation *domain.ValidationError
	var conflict *domain.ConflictError
	var unknownTable *domain.UnknownTableError
	var unknownColumn *domain.UnknownColumnError
	var compilation *domain.QueryCompilationError
	var invalidExpr *domain.InvalidExpressionError
	var execution *domain.ExecutionError

	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &accessDenied):
		return http.StatusForbidden
	case errors.As(err, &validation),
		errors.As(err, &unknownTable),
		errors.As(err, &unknownColumn),
		errors.As(err, &compilation),
		errors.As(err, &invalidExpr):
		return http.StatusBadRequest
	case errors.As(err, &conflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	case errors.As(err, &execution):
		if execution.Timeout {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ErrorCode returns a stable machine-readable code for err.
func ErrorCode(err error) string {
	var compilation *domain.QueryCompilationError
	var execution *domain.ExecutionError
	switch {
	case errors.As(err, &compilation):
		return "QUERY_COMPILATION_FAILED"
	case errors.Is(err, domain.ErrStorageUnavailable):
		return "STORAGE_UNAVAILABLE"
	case errors.As(err, &execution):
		if execution.Timeout {
			return "EXECUTION_TIMEOUT"
		}
		return "EXECUTION_FAILED"
	}
	switch HTTPStatusFromDomainError(err) {
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusForbidden:
		return "ACCESS_DENIED"
	case http.StatusBadRequest:
		return "INVALID_REQUEST"
	case http.StatusConflict:
		return "CONFLICT"
	}
	return "INTERNAL"
}
