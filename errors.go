package rpcrouter

import (
	"fmt"
	"strings"
)

// Code is a machine-readable error classification raised by the router core
// or its built-in middleware.
type Code string

// Defined error codes. See spec.md §4.A.
const (
	CodeRouterNotReady        Code = "ROUTER_NOT_READY"
	CodeRouterClosed          Code = "ROUTER_CLOSED"
	CodeRateLimitExceeded     Code = "RATE_LIMIT_EXCEEDED"
	CodeRateLimitDestroyed    Code = "RATE_LIMIT_MIDDLEWARE_DESTROYED"
	CodeConcurrentExceeded    Code = "CONCURRENT_LIMIT_EXCEEDED"
	CodeConcurrentDestroyed   Code = "CONCURRENT_LIMIT_MIDDLEWARE_DESTROYED"
	CodeDecodeError           Code = "DECODE_ERROR"
	CodeEncodeError           Code = "ENCODE_ERROR"
	CodeCapabilityInvalid     Code = "CAPABILITY_INVALID"
)

// Error is the concrete error type raised by the router core and its
// built-in middleware. It carries a machine-readable Code, a human Message,
// an optional Cause (the underlying failure, if any), and an optional
// Context identifying the request that failed.
type Error struct {
	Code    Code
	Message string
	Cause   error
	Context string // requestID, set by the router at the outermost catch
}

// NewError constructs an *Error with the given code and message.
func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError constructs an *Error with the given code whose message is
// derived from cause, and whose Cause is cause.
func WrapError(code Code, cause error) *Error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return &Error{Code: code, Message: msg, Cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns e.Cause, allowing errors.Is and errors.As to see through to
// the underlying failure.
func (e *Error) Unwrap() error { return e.Cause }

// withContext returns a copy of e with Context set to requestID. It is a
// no-op if e is nil.
func (e *Error) withContext(requestID string) *Error {
	if e == nil {
		return nil
	}
	cp := *e
	cp.Context = requestID
	return &cp
}

// stampContext returns a copy of err with Context set to requestID if err
// is itself an *Error, and returns err unchanged otherwise; an error that
// merely wraps an *Error is not stamped.
func stampContext(err error, requestID string) error {
	if err == nil {
		return nil
	}
	if re, ok := err.(*Error); ok {
		return re.withContext(requestID)
	}
	return err
}

// AggregateError combines multiple errors encountered during a multi-step
// cleanup path (spec.md §4.A). Aggregation flattens nested aggregates,
// drops nil errors, and preserves order.
type AggregateError struct {
	Errors []error
}

// Error implements the error interface.
func (a *AggregateError) Error() string {
	if len(a.Errors) == 1 {
		return a.Errors[0].Error()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d errors occurred:", len(a.Errors))
	for _, err := range a.Errors {
		fmt.Fprintf(&b, "\n\t* %v", err)
	}
	return b.String()
}

// Unwrap returns the flattened list of underlying errors, allowing
// errors.Is and errors.As to inspect each of them in turn.
func (a *AggregateError) Unwrap() []error { return a.Errors }

// aggregate combines errs into a single error, flattening nested
// AggregateErrors and dropping nil entries. It returns nil if no non-nil
// error remains, the error itself if exactly one remains, and an
// *AggregateError otherwise.
func aggregate(errs ...error) error {
	var flat []error
	for _, err := range errs {
		if err == nil {
			continue
		}
		if ae, ok := err.(*AggregateError); ok {
			flat = append(flat, ae.Errors...)
			continue
		}
		flat = append(flat, err)
	}
	switch len(flat) {
	case 0:
		return nil
	case 1:
		return flat[0]
	default:
		return &AggregateError{Errors: flat}
	}
}
