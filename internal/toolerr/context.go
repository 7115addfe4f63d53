// ABOUTME: Builds the immutable context record attached to every classified fault.
// ABOUTME: Also normalizes arbitrary errors and recovered panic values into *Error.

package toolerr

import (
	"fmt"
	"time"
)

// Context records where and how a fault happened. It is a value type: once
// built by NewContext it is copied, never mutated.
type Context struct {
	ToolName  string
	Operation string
	Severity  Severity
	Retryable bool
	Timestamp time.Time
}

// NewContext builds the context record for err raised by toolName during
// operation. Severity and retryability come from the classified error; an
// unclassified error is treated as an execution failure.
func NewContext(toolName, operation string, err error, now time.Time) Context {
	sev, retry := defaults(KindExecution)
	if te, ok := As(err); ok {
		sev, retry = te.Severity(), te.Retryable()
	}
	return Context{
		ToolName:  toolName,
		Operation: operation,
		Severity:  sev,
		Retryable: retry,
		Timestamp: now.UTC(),
	}
}

// Normalize converts any failure value into a canonical *Error. Canonical
// errors are returned as-is. Other errors, strings, and recovered panic
// values become KindExecution faults whose message keeps the original value
// and names the tool and operation from ctx.
func Normalize(v any, ctx Context) *Error {
	switch val := v.(type) {
	case nil:
		return Newf(KindInternal, "tool %q operation %q failed without an error value", ctx.ToolName, ctx.Operation)
	case *Error:
		if val != nil {
			return val
		}
		return Newf(KindInternal, "tool %q operation %q failed without an error value", ctx.ToolName, ctx.Operation)
	case error:
		if te, ok := As(val); ok {
			return te
		}
		return Wrap(KindExecution, val, describe(val.Error(), ctx)).
			WithSeverity(ctx.Severity).
			WithRetryable(ctx.Retryable)
	case string:
		return New(KindExecution, describe(val, ctx)).
			WithSeverity(ctx.Severity).
			WithRetryable(ctx.Retryable).
			WithDetail("original", val)
	case fmt.Stringer:
		return New(KindExecution, describe(val.String(), ctx)).
			WithSeverity(ctx.Severity).
			WithRetryable(ctx.Retryable)
	default:
		return New(KindExecution, describe(fmt.Sprintf("%v", val), ctx)).
			WithSeverity(ctx.Severity).
			WithRetryable(ctx.Retryable).
			WithDetail("original", val)
	}
}

func describe(msg string, ctx Context) string {
	switch {
	case ctx.ToolName == "" && ctx.Operation == "":
		return msg
	case ctx.Operation == "":
		return fmt.Sprintf("tool %s failed: %s", ctx.ToolName, msg)
	default:
		return fmt.Sprintf("tool %s failed during %s: %s", ctx.ToolName, ctx.Operation, msg)
	}
}
