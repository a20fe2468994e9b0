// Package marfserr provides the structured error taxonomy shared by every
// MarFS core package: the tagging codec, the datastream engine, the resource
// log, the streamwalker and the resource manager.
//
// The public datastream/streamwalker API follows the source project's POSIX
// convention of "return -1, set an error code" — this package expresses that
// convention idiomatically as a non-nil error carrying a Code(), rather than
// as an errno global, while preserving the same fixed vocabulary of error
// kinds from the specification.
package marfserr

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Code identifies one of the fixed error kinds the core surfaces.
type Code string

const (
	InvalidArgument        Code = "INVALID_ARGUMENT"
	NotFound                Code = "NOT_FOUND"
	ExistsAlready           Code = "EXISTS_ALREADY"
	PermissionDenied        Code = "PERMISSION_DENIED"
	QuotaExceeded           Code = "QUOTA_EXCEEDED"
	TooRecentForGC          Code = "TOO_RECENT_FOR_GC"
	CrossNamespaceDenied    Code = "CROSS_NAMESPACE_DENIED"
	NSCannotBeTarget        Code = "NS_CANNOT_BE_TARGET"
	DatastreamBreak         Code = "DATASTREAM_BREAK"
	HandleFlushed           Code = "HANDLE_FLUSHED"
	HandleFatallyBroken     Code = "HANDLE_FATALLY_BROKEN"
	RebuildIncomplete       Code = "REBUILD_INCOMPLETE"
	OpSkippedDueToChainFail Code = "OP_SKIPPED_DUE_TO_CHAIN_FAILURE"

	// InternalError covers codec/parse failures and anything else that does
	// not map onto one of the spec's named kinds.
	InternalError Code = "INTERNAL_ERROR"
)

// Category buckets codes for logging/metrics grouping.
type Category string

const (
	CategoryInput     Category = "input"
	CategoryNamespace Category = "namespace"
	CategoryStream    Category = "stream"
	CategoryResource  Category = "resource"
	CategoryInternal  Category = "internal"
)

func categoryOf(c Code) Category {
	switch c {
	case InvalidArgument, NotFound, ExistsAlready:
		return CategoryInput
	case PermissionDenied, CrossNamespaceDenied, NSCannotBeTarget:
		return CategoryNamespace
	case DatastreamBreak, HandleFlushed, HandleFatallyBroken:
		return CategoryStream
	case QuotaExceeded, TooRecentForGC, RebuildIncomplete, OpSkippedDueToChainFail:
		return CategoryResource
	default:
		return CategoryInternal
	}
}

// retryableDefaults lists codes that a caller may reasonably retry without
// changing its inputs (transient resource pressure, not a logic error).
var retryableDefaults = map[Code]bool{
	QuotaExceeded:  true,
	TooRecentForGC: true,
}

// Error is the structured error type returned by every core package.
type Error struct {
	code      Code
	Message   string
	Component string
	Operation string
	Context   map[string]string
	Cause     error
	Timestamp time.Time
	Retryable bool
}

// New constructs an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{
		code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Retryable: retryableDefaults[code],
	}
}

// Newf is New with fmt.Sprintf-style formatting.
func Newf(code Code, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap attaches cause as the underlying error for a newly constructed Error.
func Wrap(code Code, cause error, message string) *Error {
	e := New(code, message)
	e.Cause = cause
	return e
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Component != "" {
		b.WriteString("[")
		b.WriteString(e.Component)
		if e.Operation != "" {
			b.WriteString(":")
			b.WriteString(e.Operation)
		}
		b.WriteString("] ")
	}
	b.WriteString(string(e.code))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap enables errors.Is / errors.As against the wrapped cause.
func (e *Error) Unwrap() error { return e.Cause }

// Is compares codes, so errors.Is(err, marfserr.New(marfserr.NotFound, "")) works
// regardless of message text.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.code == other.code
}

// Code returns the error kind.
func (e *Error) Code() Code { return e.code }

// CategoryOf returns the category bucket for this error's code.
func (e *Error) CategoryOf() Category { return categoryOf(e.code) }

// WithComponent/WithOperation/WithContext/WithCause return the same error
// mutated in place, for fluent construction at the call site.
func (e *Error) WithComponent(component string) *Error { e.Component = component; return e }
func (e *Error) WithOperation(operation string) *Error { e.Operation = operation; return e }
func (e *Error) WithCause(cause error) *Error           { e.Cause = cause; return e }

func (e *Error) WithContext(key, value string) *Error {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// JSON renders the error for structured log sinks.
func (e *Error) JSON() string {
	data, err := json.Marshal(struct {
		Code      Code              `json:"code"`
		Category  Category          `json:"category"`
		Message   string            `json:"message"`
		Component string            `json:"component,omitempty"`
		Operation string            `json:"operation,omitempty"`
		Context   map[string]string `json:"context,omitempty"`
		Retryable bool              `json:"retryable"`
		Timestamp time.Time         `json:"timestamp"`
	}{e.code, categoryOf(e.code), e.Message, e.Component, e.Operation, e.Context, e.Retryable, e.Timestamp})
	if err != nil {
		return fmt.Sprintf(`{"error":%q}`, err.Error())
	}
	return string(data)
}

// CodeOf extracts the Code from err if it is (or wraps) a *Error, or
// InternalError otherwise — used by callers that only have an `error`.
func CodeOf(err error) Code {
	var e *Error
	for err != nil {
		if as, ok := err.(*Error); ok {
			e = as
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if e == nil {
		return InternalError
	}
	return e.code
}
