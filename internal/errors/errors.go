// Package errors defines the service error taxonomy and its HTTP mapping.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a class of service failure.
type Code string

const (
	CodeInvalidRequest    Code = "INVALID_REQUEST"
	CodeCompilationFailed Code = "COMPILATION_FAILED"
	CodeArtifactIO        Code = "ARTIFACT_IO_ERROR"
	CodeRateLimited       Code = "RATE_LIMITED"
	CodeBusy              Code = "SERVICE_BUSY"
	CodeTimeout           Code = "COMPILE_TIMEOUT"
	CodeCancelled         Code = "REQUEST_CANCELLED"
	CodeInternal          Code = "INTERNAL_ERROR"
)

// StatusClientClosedRequest is the non-standard status logged when the caller went away.
const StatusClientClosedRequest = 499

// ServiceError is an error that knows how to render itself as an HTTP response.
type ServiceError struct {
	Code       Code
	Message    string
	HTTPStatus int
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// WithCause attaches an underlying error that is logged but never rendered.
func (e *ServiceError) WithCause(err error) *ServiceError {
	e.Err = err
	return e
}

func newError(code Code, status int, message string) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: status}
}

// InvalidRequest reports a malformed or incomplete request body.
func InvalidRequest(message string) *ServiceError {
	return newError(CodeInvalidRequest, http.StatusBadRequest, message)
}

// PayloadTooLarge reports a request body above the configured cap.
func PayloadTooLarge(limit int64) *ServiceError {
	return newError(CodeInvalidRequest, http.StatusRequestEntityTooLarge,
		fmt.Sprintf("request body exceeds %d bytes", limit))
}

// CompilationFailed reports a rejection by the model compiler. The message is
// surfaced verbatim to the caller.
func CompilationFailed(message string) *ServiceError {
	return newError(CodeCompilationFailed, http.StatusInternalServerError, message)
}

// ArtifactIO reports a failure to open, read or validate a compiled artifact.
func ArtifactIO(message string) *ServiceError {
	return newError(CodeArtifactIO, http.StatusInternalServerError, message)
}

// RateLimitExceeded reports a caller over its request budget.
func RateLimitExceeded(limit int, window string) *ServiceError {
	return newError(CodeRateLimited, http.StatusTooManyRequests,
		fmt.Sprintf("rate limit of %d requests per %s exceeded", limit, window))
}

// Busy reports that no compile slot could be obtained.
func Busy(message string) *ServiceError {
	return newError(CodeBusy, http.StatusServiceUnavailable, message)
}

// Timeout reports a compile that ran past its deadline.
func Timeout(message string) *ServiceError {
	return newError(CodeTimeout, http.StatusGatewayTimeout, message)
}

// Cancelled reports a request abandoned by the caller.
func Cancelled() *ServiceError {
	return newError(CodeCancelled, StatusClientClosedRequest, "request cancelled by client")
}

// Internal reports an unexpected failure.
func Internal(message string) *ServiceError {
	return newError(CodeInternal, http.StatusInternalServerError, message)
}

// From converts any error into a ServiceError. Context errors map to their
// dedicated kinds; anything unknown becomes INTERNAL_ERROR.
func From(err error) *ServiceError {
	if err == nil {
		return nil
	}
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Timeout("compilation exceeded its time limit").WithCause(err)
	case errors.Is(err, context.Canceled):
		return Cancelled().WithCause(err)
	}
	return Internal("internal server error").WithCause(err)
}

// Is reports whether err is a ServiceError with the given code.
func Is(err error, code Code) bool {
	var svcErr *ServiceError
	return errors.As(err, &svcErr) && svcErr.Code == code
}
