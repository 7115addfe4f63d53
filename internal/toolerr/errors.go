// ABOUTME: Canonical error kinds for tool calls with default severity and retryability.
// ABOUTME: Every fault surfaced to an MCP client is normalized into an *Error first.

package toolerr

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Kind is the closed set of fault categories a tool call can produce.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindToolNotFound
	KindExecution
	KindProtocol
	KindAuthentication
	KindRateLimit
	KindResourceNotFound
	KindCapacity
)

// Kinds lists every canonical kind in declaration order.
var Kinds = []Kind{
	KindInternal,
	KindValidation,
	KindToolNotFound,
	KindExecution,
	KindProtocol,
	KindAuthentication,
	KindRateLimit,
	KindResourceNotFound,
	KindCapacity,
}

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindInternal:
		return "internal_error"
	case KindValidation:
		return "validation_error"
	case KindToolNotFound:
		return "tool_not_found"
	case KindExecution:
		return "tool_execution_error"
	case KindProtocol:
		return "protocol_error"
	case KindAuthentication:
		return "authentication_error"
	case KindRateLimit:
		return "rate_limit_exceeded"
	case KindResourceNotFound:
		return "resource_not_found"
	case KindCapacity:
		return "capacity_exceeded"
	default:
		return "unknown_error"
	}
}

// Severity orders faults by operational impact.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParseSeverity converts a wire name back into a Severity.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return SeverityLow, nil
	case "medium":
		return SeverityMedium, nil
	case "high":
		return SeverityHigh, nil
	case "critical":
		return SeverityCritical, nil
	default:
		return SeverityMedium, fmt.Errorf("unknown severity %q", s)
	}
}

// defaults holds the inherent severity and retryability of each kind.
func defaults(k Kind) (Severity, bool) {
	switch k {
	case KindValidation:
		return SeverityLow, false
	case KindToolNotFound:
		return SeverityMedium, false
	case KindExecution:
		return SeverityHigh, true
	case KindProtocol:
		return SeverityHigh, false
	case KindAuthentication:
		return SeverityHigh, false
	case KindRateLimit:
		return SeverityMedium, true
	case KindResourceNotFound:
		return SeverityLow, false
	case KindCapacity:
		return SeverityHigh, false
	default:
		return SeverityCritical, false
	}
}

// Error is a classified fault. Construct with New, Newf, or Wrap so that
// severity and retryability start from the kind's defaults.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	Cause   error

	severity  Severity
	retryable bool
	stack     []uintptr
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return newError(kind, message, nil)
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return newError(kind, fmt.Sprintf(format, args...), nil)
}

// Wrap classifies cause as kind. An empty message falls back to cause.Error().
func Wrap(kind Kind, cause error, message string) *Error {
	if message == "" && cause != nil {
		message = cause.Error()
	}
	return newError(kind, message, cause)
}

func newError(kind Kind, message string, cause error) *Error {
	sev, retry := defaults(kind)
	pcs := make([]uintptr, 32)
	n := runtime.Callers(3, pcs)
	return &Error{
		Kind:      kind,
		Message:   message,
		Cause:     cause,
		severity:  sev,
		retryable: retry,
		stack:     pcs[:n],
	}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message == "" {
		return e.Kind.String()
	}
	return e.Message
}

// Unwrap exposes the cause for errors.Is/errors.As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Severity returns the effective severity.
func (e *Error) Severity() Severity { return e.severity }

// Retryable reports whether repeating the call may succeed.
func (e *Error) Retryable() bool { return e.retryable }

// WithSeverity overrides the kind's default severity.
func (e *Error) WithSeverity(s Severity) *Error {
	e.severity = s
	return e
}

// WithRetryable overrides the kind's default retryability.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.retryable = retryable
	return e
}

// WithDetail attaches a structured detail that is surfaced in the error meta block.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// Stack renders the call stack captured when the error was created.
func (e *Error) Stack() string {
	if e == nil || len(e.stack) == 0 {
		return ""
	}
	var b strings.Builder
	frames := runtime.CallersFrames(e.stack)
	for {
		frame, more := frames.Next()
		fmt.Fprintf(&b, "%s\n\t%s:%d\n", frame.Function, frame.File, frame.Line)
		if !more {
			break
		}
	}
	return b.String()
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var te *Error
	if errors.As(err, &te) && te != nil {
		return te, true
	}
	return nil, false
}

// KindOf reports the canonical kind of err, or KindInternal if err is unclassified.
func KindOf(err error) Kind {
	if te, ok := As(err); ok {
		return te.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	te, ok := As(err)
	return ok && te.Kind == kind
}

// IsRetryable reports whether err is classified and marked retryable.
func IsRetryable(err error) bool {
	te, ok := As(err)
	return ok && te.Retryable()
}
