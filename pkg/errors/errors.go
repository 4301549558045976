package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// ErrorKind classifies a query failure for retry and circuit breaker policy.
type ErrorKind string

const (
	KindNetwork        ErrorKind = "NETWORK"
	KindTimeout        ErrorKind = "TIMEOUT"
	KindSchemaMismatch ErrorKind = "SCHEMA_MISMATCH"
	KindPermission     ErrorKind = "PERMISSION"
	KindUnknown        ErrorKind = "UNKNOWN"
)

// Retryable reports whether failures of this kind should count toward the
// circuit breaker threshold. Schema and permission errors are structural:
// retrying an identical query cannot fix them.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindSchemaMismatch, KindPermission:
		return false
	default:
		return true
	}
}

// Classification is the result of classifying an error.
type Classification struct {
	Kind      ErrorKind `json:"kind"`
	Retryable bool      `json:"retryable"`
}

// QueryError is a query failure carrying an explicit kind tag at the point of
// origin, so classification does not depend on message text.
type QueryError struct {
	Kind      ErrorKind `json:"kind"`
	Resource  string    `json:"resource"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Cause     error     `json:"-"`
}

// Error implements the error interface
func (e *QueryError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause
func (e *QueryError) Unwrap() error {
	return e.Cause
}

// New creates a new query error with the given kind
func New(kind ErrorKind, resource, message string) *QueryError {
	return &QueryError{
		Kind:      kind,
		Resource:  resource,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// WithCause adds a cause to the error
func (e *QueryError) WithCause(cause error) *QueryError {
	e.Cause = cause
	return e
}

// Common error constructors
func NewNetworkError(resource, message string) *QueryError {
	return New(KindNetwork, resource, message)
}

func NewTimeoutError(resource, operation string) *QueryError {
	return New(KindTimeout, resource, fmt.Sprintf("%s timed out", operation))
}

func NewSchemaMismatchError(resource, message string) *QueryError {
	return New(KindSchemaMismatch, resource, message)
}

func NewPermissionError(resource, message string) *QueryError {
	return New(KindPermission, resource, message)
}

// Classify maps an arbitrary error to a Classification. Errors tagged at the
// origin (QueryError, context cancellation, net.Error) are classified from
// their type; message substring matching remains only as a fallback adapter
// for errors raised by the opaque external operation.
func Classify(err error) Classification {
	if err == nil {
		return Classification{Kind: KindUnknown, Retryable: true}
	}

	var qerr *QueryError
	if errors.As(err, &qerr) {
		return Classification{Kind: qerr.Kind, Retryable: qerr.Kind.Retryable()}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Classification{Kind: KindTimeout, Retryable: true}
	}

	var nerr net.Error
	if errors.As(err, &nerr) {
		if nerr.Timeout() {
			return Classification{Kind: KindTimeout, Retryable: true}
		}
		return Classification{Kind: KindNetwork, Retryable: true}
	}

	kind := classifyMessage(err.Error())
	return Classification{Kind: kind, Retryable: kind.Retryable()}
}

// GetKind returns the error kind, classifying on the fly when needed
func GetKind(err error) ErrorKind {
	return Classify(err).Kind
}

// IsRetryable reports whether the error counts toward the breaker threshold
func IsRetryable(err error) bool {
	return Classify(err).Retryable
}

// classifyMessage maps raw message text to a kind. Patterns cover the remote
// data service's error strings (PostgREST/Postgres wire errors).
func classifyMessage(msg string) ErrorKind {
	lower := strings.ToLower(msg)

	switch {
	case containsAny(lower, "timeout", "timed out", "deadline exceeded", "context canceled"):
		return KindTimeout
	case containsAny(lower, "permission denied", "unauthorized", "forbidden", "access denied", "row-level security", "jwt expired", "invalid token"):
		return KindPermission
	case containsAny(lower, "does not exist", "unknown column", "schema mismatch", "undefined table", "invalid input syntax", "type mismatch", "no such column"):
		return KindSchemaMismatch
	case containsAny(lower, "network", "connection refused", "connection reset", "broken pipe", "no such host", "unreachable", "dns", "econnrefused", "fetch failed"):
		return KindNetwork
	default:
		return KindUnknown
	}
}

func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
