// ABOUTME: Turns tool failures into both a JSON-RPC fault and an in-band error envelope.
// ABOUTME: Also guards success results so only valid envelopes reach the client.

package protocol

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/2389/stampchain-mcp/internal/toolerr"
)

// DefaultMaxMessageLength caps fault messages when no limit is configured.
const DefaultMaxMessageLength = 1000

// TruncationMarker is appended to messages cut at the length cap.
const TruncationMarker = "... [truncated]"

// FormatterConfig controls how much detail leaves the server.
type FormatterConfig struct {
	// IncludeContext appends the tool/operation/severity record to messages.
	IncludeContext bool
	// IncludeStack appends the captured stack trace to messages.
	IncludeStack bool
	// MaxMessageLength caps the message; zero means DefaultMaxMessageLength.
	MaxMessageLength int
	// LogErrors emits a structured log line for every formatted fault.
	LogErrors bool
	Logger    *slog.Logger
}

// Formatter builds protocol responses. Safe for concurrent use.
type Formatter struct {
	cfg    FormatterConfig
	logger *slog.Logger
}

// NewFormatter creates a formatter from cfg.
func NewFormatter(cfg FormatterConfig) *Formatter {
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = DefaultMaxMessageLength
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Formatter{cfg: cfg, logger: logger}
}

// Default returns a production formatter: no context or stack in messages,
// logging enabled.
func Default() *Formatter {
	return NewFormatter(FormatterConfig{LogErrors: true})
}

// Development returns a formatter that exposes context and stack traces.
func Development() *Formatter {
	return NewFormatter(FormatterConfig{IncludeContext: true, IncludeStack: true, LogErrors: true})
}

// ErrorResult is the dual output of ErrorResponse. Fault and Envelope
// describe the same failure.
type ErrorResult struct {
	Err      *toolerr.Error
	Context  toolerr.Context
	Fault    *RPCError
	Envelope *ToolResponse
}

// FaultCode maps a kind to its JSON-RPC code. Kinds without a dedicated
// code map to CodeInternalError.
func FaultCode(kind toolerr.Kind) int {
	switch kind {
	case toolerr.KindValidation:
		return CodeInvalidParams
	case toolerr.KindToolNotFound:
		return CodeMethodNotFound
	case toolerr.KindExecution:
		return CodeInternalError
	case toolerr.KindProtocol:
		return CodeInvalidRequest
	case toolerr.KindInternal:
		return CodeInternalError
	case toolerr.KindAuthentication:
		return CodeInvalidRequest
	case toolerr.KindRateLimit:
		return CodeInternalError
	case toolerr.KindResourceNotFound:
		return CodeInvalidParams
	default:
		return CodeInternalError
	}
}

// ErrorResponse normalizes v and renders it as a fault plus an in-band
// envelope. The context is mandatory; build it with toolerr.NewContext.
func (f *Formatter) ErrorResponse(v any, ectx toolerr.Context) ErrorResult {
	if ectx.Timestamp.IsZero() {
		ectx.Timestamp = time.Now().UTC()
	}
	te := toolerr.Normalize(v, ectx)
	msg := f.message(te, ectx)

	meta := errorMeta(te, ectx)
	if f.cfg.IncludeContext && len(te.Details) > 0 {
		meta["details"] = te.Details
	}

	if f.cfg.LogErrors {
		f.log(te, ectx)
	}

	envelope := errorEnvelope(msg, meta)
	if err := ValidateResponse(envelope); err != nil {
		// Details are caller supplied and may not encode. The fault and the
		// envelope share meta, so both fall back to the fixed fields.
		f.logger.Warn("error envelope failed validation, dropping details",
			"tool", ectx.ToolName,
			"operation", ectx.Operation,
			"error", err,
		)
		meta = errorMeta(te, ectx)
		envelope = errorEnvelope(msg, meta)
	}

	return ErrorResult{
		Err:     te,
		Context: ectx,
		Fault: &RPCError{
			Code:    FaultCode(te.Kind),
			Message: msg,
			Data:    meta,
		},
		Envelope: envelope,
	}
}

// errorMeta holds the classification fields every error envelope carries.
func errorMeta(te *toolerr.Error, ectx toolerr.Context) map[string]any {
	return map[string]any{
		"type":      te.Kind.String(),
		"severity":  ectx.Severity.String(),
		"retryable": ectx.Retryable,
		"tool":      ectx.ToolName,
		"operation": ectx.Operation,
		"timestamp": ectx.Timestamp.Format(time.RFC3339Nano),
	}
}

func errorEnvelope(msg string, meta map[string]any) *ToolResponse {
	return &ToolResponse{
		Content: []Content{TextContent(msg)},
		IsError: true,
		Meta:    map[string]any{"error": meta},
	}
}

// SuccessResponse passes resp through the structural validator.
func (f *Formatter) SuccessResponse(resp *ToolResponse) (*ToolResponse, error) {
	if err := ValidateResponse(resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (f *Formatter) message(te *toolerr.Error, ectx toolerr.Context) string {
	msg := te.Error()
	if f.cfg.IncludeContext {
		msg = fmt.Sprintf("%s [tool=%s operation=%s severity=%s retryable=%t at=%s]",
			msg, ectx.ToolName, ectx.Operation, ectx.Severity, ectx.Retryable,
			ectx.Timestamp.Format(time.RFC3339))
	}
	if f.cfg.IncludeStack {
		if st := te.Stack(); st != "" {
			msg += "\n" + st
		}
	}
	return truncate(msg, f.cfg.MaxMessageLength)
}

// truncate keeps the first max characters of s and appends the marker.
func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i] + TruncationMarker
		}
		n++
	}
	return s
}

func (f *Formatter) log(te *toolerr.Error, ectx toolerr.Context) {
	level := slog.LevelInfo
	switch ectx.Severity {
	case toolerr.SeverityCritical, toolerr.SeverityHigh:
		level = slog.LevelError
	case toolerr.SeverityMedium:
		level = slog.LevelWarn
	}
	attrs := []any{
		"error_type", te.Kind.String(),
		"tool", ectx.ToolName,
		"operation", ectx.Operation,
		"severity", ectx.Severity.String(),
		"retryable", ectx.Retryable,
		"error", te.Error(),
	}
	if te.Cause != nil {
		attrs = append(attrs, "cause", te.Cause.Error())
	}
	f.logger.Log(context.Background(), level, "tool error", attrs...)
}
