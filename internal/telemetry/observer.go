// ABOUTME: Records session lifecycle and tool call signals into OpenTelemetry.
// ABOUTME: Subscribes to the session manager via Hooks and wraps tool calls in spans.

package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/2389/stampchain-mcp/internal/session"
	"github.com/2389/stampchain-mcp/internal/toolerr"
)

// Observer owns the MCP instruments. A nil *Observer is a valid no-op.
type Observer struct {
	tracer trace.Tracer

	sessionsConnected    metric.Int64Counter
	sessionsDisconnected metric.Int64Counter
	sessionErrors        metric.Int64Counter
	activeSessions       metric.Int64UpDownCounter
	toolCalls            metric.Int64Counter
	toolErrors           metric.Int64Counter
	toolDuration         metric.Float64Histogram
}

// NewObserver creates an observer bound to the provided meter/tracer.
func NewObserver(meter metric.Meter, tracer trace.Tracer) (*Observer, error) {
	connected, err := meter.Int64Counter("mcp.sessions.connected",
		metric.WithDescription("Number of sessions opened"),
	)
	if err != nil {
		return nil, err
	}
	disconnected, err := meter.Int64Counter("mcp.sessions.disconnected",
		metric.WithDescription("Number of sessions closed, by reason"),
	)
	if err != nil {
		return nil, err
	}
	sessionErrors, err := meter.Int64Counter("mcp.session.errors",
		metric.WithDescription("Number of transport errors reported on sessions"),
	)
	if err != nil {
		return nil, err
	}
	active, err := meter.Int64UpDownCounter("mcp.sessions.active",
		metric.WithDescription("Number of live sessions"),
	)
	if err != nil {
		return nil, err
	}
	calls, err := meter.Int64Counter("mcp.tool.calls",
		metric.WithDescription("Number of tool invocations"),
	)
	if err != nil {
		return nil, err
	}
	toolErrors, err := meter.Int64Counter("mcp.tool.errors",
		metric.WithDescription("Number of failed tool invocations, by error kind"),
	)
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("mcp.tool.duration",
		metric.WithDescription("Tool execution time in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &Observer{
		tracer:               tracer,
		sessionsConnected:    connected,
		sessionsDisconnected: disconnected,
		sessionErrors:        sessionErrors,
		activeSessions:       active,
		toolCalls:            calls,
		toolErrors:           toolErrors,
		toolDuration:         duration,
	}, nil
}

// Hooks returns session callbacks that feed the session instruments.
func (o *Observer) Hooks() session.Hooks {
	if o == nil {
		return session.Hooks{}
	}
	ctx := context.Background()
	return session.Hooks{
		OnConnect: func(info session.Info) {
			attrs := metric.WithAttributes(attribute.String("transport", string(info.Transport)))
			o.sessionsConnected.Add(ctx, 1, attrs)
			o.activeSessions.Add(ctx, 1)
		},
		OnDisconnect: func(_ string, reason session.DisconnectReason) {
			o.sessionsDisconnected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", string(reason))))
			o.activeSessions.Add(ctx, -1)
		},
		OnError: func(_ string, err error) {
			o.sessionErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("error_kind", toolerr.KindOf(err).String())))
		},
	}
}

// StartToolSpan begins a span for one tool call. The returned function ends
// the span and records the call; pass the call's error, or nil on success.
func (o *Observer) StartToolSpan(ctx context.Context, toolName, sessionID string) (context.Context, func(err error)) {
	if o == nil {
		return ctx, func(error) {}
	}

	start := time.Now()
	ctx, span := o.tracer.Start(ctx, "mcp.tool "+toolName,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("mcp.tool.name", toolName),
			attribute.String("mcp.session.id", sessionID),
		),
	)

	return ctx, func(err error) {
		toolAttr := attribute.String("tool_name", toolName)
		if err != nil {
			kind := toolerr.KindOf(err).String()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.SetAttributes(attribute.String("mcp.error.kind", kind))
			o.toolErrors.Add(context.Background(), 1, metric.WithAttributes(toolAttr, attribute.String("error_kind", kind)))
		} else {
			span.SetStatus(codes.Ok, "")
		}
		o.toolCalls.Add(context.Background(), 1, metric.WithAttributes(toolAttr, attribute.Bool("success", err == nil)))
		o.toolDuration.Record(context.Background(), time.Since(start).Seconds(), metric.WithAttributes(toolAttr))
		span.End()
	}
}
