// Package errors defines the service error model shared by the engine and
// the HTTP boundary layer.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode is a stable, machine-readable error code.
type ErrorCode string

const (
	CodeNotFound            ErrorCode = "NOT_FOUND"
	CodeForbidden           ErrorCode = "FORBIDDEN"
	CodeUnauthorized        ErrorCode = "UNAUTHORIZED"
	CodeConstraintViolation ErrorCode = "CONSTRAINT_VIOLATION"
	CodeCryptoError         ErrorCode = "CRYPTO_ERROR"
	CodeStoreUnavailable    ErrorCode = "SECRET_STORE_UNAVAILABLE"
	CodeStoreAuth           ErrorCode = "SECRET_STORE_AUTH"
	CodeSecretNotFound      ErrorCode = "SECRET_NOT_FOUND"
	CodeUpstreamTimeout     ErrorCode = "UPSTREAM_TIMEOUT"
	CodeAuditFailure        ErrorCode = "AUDIT_FAILURE"
	CodeNotActive           ErrorCode = "CREDENTIAL_NOT_ACTIVE"
	CodeBadRequest          ErrorCode = "BAD_REQUEST"
	CodeInternal            ErrorCode = "INTERNAL"
)

// ServiceError is the error type surfaced by all engine operations.
type ServiceError struct {
	Code       ErrorCode
	HTTPStatus int
	Message    string
	Details    map[string]any
	cause      error
}

func (e *ServiceError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error { return e.cause }

// Is matches two service errors by code so callers can use errors.Is with
// the exported constructors' sentinels.
func (e *ServiceError) Is(target error) bool {
	var se *ServiceError
	if errors.As(target, &se) {
		return e.Code == se.Code
	}
	return false
}

// WithDetails attaches a key/value pair and returns the error for chaining.
func (e *ServiceError) WithDetails(key string, value any) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func newError(code ErrorCode, status int, message string, cause error) *ServiceError {
	return &ServiceError{Code: code, HTTPStatus: status, Message: message, cause: cause}
}

// NotFound reports that no matching, non-deleted resource exists.
func NotFound(message string) *ServiceError {
	return newError(CodeNotFound, http.StatusNotFound, message, nil)
}

// Forbidden reports a fail-closed permission denial.
func Forbidden(message string) *ServiceError {
	return newError(CodeForbidden, http.StatusForbidden, message, nil)
}

// Unauthorized reports a missing or unusable caller identity.
func Unauthorized(message string) *ServiceError {
	return newError(CodeUnauthorized, http.StatusUnauthorized, message, nil)
}

// ConstraintViolation reports a referential integrity failure.
func ConstraintViolation(message string, cause error) *ServiceError {
	return newError(CodeConstraintViolation, http.StatusBadRequest, message, cause)
}

// CryptoError reports a key derivation or cipher failure.
func CryptoError(message string, cause error) *ServiceError {
	return newError(CodeCryptoError, http.StatusInternalServerError, message, cause)
}

// SecretStoreUnavailable reports a connectivity failure to the secret store.
func SecretStoreUnavailable(cause error) *ServiceError {
	return newError(CodeStoreUnavailable, http.StatusServiceUnavailable, "secret store unavailable", cause)
}

// SecretStoreAuth reports a rejected secret store token or credential.
func SecretStoreAuth(cause error) *ServiceError {
	return newError(CodeStoreAuth, http.StatusBadGateway, "secret store rejected credentials", cause)
}

// SecretNotFound reports a missing secret record at a stored path.
func SecretNotFound(path string) *ServiceError {
	return newError(CodeSecretNotFound, http.StatusInternalServerError, "no secret record at path", nil).
		WithDetails("path", path)
}

// UpstreamTimeout reports an exceeded bounded wait on the database or
// secret store.
func UpstreamTimeout(op string, cause error) *ServiceError {
	return newError(CodeUpstreamTimeout, http.StatusGatewayTimeout, op+" timed out", cause)
}

// AuditFailure reports a failed mandatory synchronous audit write.
func AuditFailure(cause error) *ServiceError {
	return newError(CodeAuditFailure, http.StatusInternalServerError, "audit record could not be written", cause)
}

// NotActive reports an operation that requires an active credential.
func NotActive(status string) *ServiceError {
	return newError(CodeNotActive, http.StatusConflict, "credential is not active", nil).
		WithDetails("status", status)
}

// BadRequest reports invalid caller input.
func BadRequest(message string) *ServiceError {
	return newError(CodeBadRequest, http.StatusBadRequest, message, nil)
}

// Internal wraps an unexpected failure.
func Internal(message string, cause error) *ServiceError {
	return newError(CodeInternal, http.StatusInternalServerError, message, cause)
}

// GetServiceError extracts a *ServiceError from err, or nil.
func GetServiceError(err error) *ServiceError {
	var se *ServiceError
	if errors.As(err, &se) {
		return se
	}
	return nil
}

// CodeOf returns the error code of err, or CodeInternal for foreign errors.
func CodeOf(err error) ErrorCode {
	if se := GetServiceError(err); se != nil {
		return se.Code
	}
	return CodeInternal
}
