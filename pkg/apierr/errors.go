// Package apierr defines the error taxonomy surfaced to callers of the
// enqueue service and pipeline worker: a stable Kind, sentinel errors for
// errors.Is checks, and the HTTP status each kind maps to for the (interface
// only) HTTP surface.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the machine-readable error code carried on every Error and on
// Run.last_error_code.
type Kind string

const (
	KindValidation       Kind = "VALIDATION_ERROR"
	KindParentNotFound   Kind = "PARENT_NOT_FOUND"
	KindParentNotDone    Kind = "PARENT_NOT_COMPLETED"
	KindMissingEditInput Kind = "MISSING_EDIT_INPUTS"
	KindUnsupportedVersion Kind = "UNSUPPORTED_VERSION"
	KindSchemaValidation Kind = "SCHEMA_VALIDATION_ERROR"
	KindLLMAuth          Kind = "LLM_AUTH_ERROR"
	KindLLMRateLimit     Kind = "LLM_RATE_LIMIT"
	KindLLMTimeout       Kind = "LLM_TIMEOUT"
	KindLLMConnection    Kind = "LLM_CONNECTION"
	KindLLMService       Kind = "LLM_SERVICE_ERROR"
	KindInternal         Kind = "INTERNAL_ERROR"
)

// httpStatus is the fixed kind -> HTTP status mapping from spec §7.
var httpStatus = map[Kind]int{
	KindValidation:         http.StatusUnprocessableEntity,
	KindParentNotFound:     http.StatusNotFound,
	KindParentNotDone:      http.StatusConflict,
	KindMissingEditInput:   http.StatusBadRequest,
	KindUnsupportedVersion: http.StatusBadRequest,
	KindSchemaValidation:   http.StatusInternalServerError,
	KindLLMAuth:            http.StatusInternalServerError,
	KindLLMRateLimit:       http.StatusServiceUnavailable,
	KindLLMTimeout:         http.StatusServiceUnavailable,
	KindLLMConnection:      http.StatusServiceUnavailable,
	KindLLMService:         http.StatusInternalServerError,
	KindInternal:           http.StatusInternalServerError,
}

// HTTPStatus maps an error Kind to the status code the (interface-only) HTTP
// surface would return for it. Unknown kinds map to 500.
func HTTPStatus(kind Kind) int {
	if status, ok := httpStatus[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// Error is the shape every error surfaced to a caller carries:
// {code, message, run_id?, details?, request_id}.
type Error struct {
	Kind      Kind
	Message   string
	RunID     string
	Details   map[string]string
	RequestID string
	Cause     error
}

func (e *Error) Error() string {
	if e.RunID != "" {
		return fmt.Sprintf("%s: %s (run_id=%s)", e.Kind, e.Message, e.RunID)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error of the given kind around a causing error.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithRunID returns a copy of e with RunID set.
func (e *Error) WithRunID(runID string) *Error {
	cp := *e
	cp.RunID = runID
	return &cp
}

// WithRequestID returns a copy of e with RequestID set.
func (e *Error) WithRequestID(requestID string) *Error {
	cp := *e
	cp.RequestID = requestID
	return &cp
}

// Sentinel errors for errors.Is-style checks deeper in the stack, mirrored
// after this codebase's services.ErrNotFound / ErrAlreadyExists convention.
var (
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")
	ErrInvalidInput  = errors.New("invalid input")
)

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error; otherwise it returns KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
