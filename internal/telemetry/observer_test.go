// ABOUTME: Tests for the telemetry observer using in-memory metric readers and span exporters.
// ABOUTME: Verifies session hook counters, tool spans, and the disabled setup path.

package telemetry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/2389/stampchain-mcp/internal/session"
	"github.com/2389/stampchain-mcp/internal/toolerr"
)

func newTestObserver(t *testing.T) (*Observer, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))

	obs, err := NewObserver(mp.Meter("test"), tp.Tracer("test"))
	require.NoError(t, err)
	return obs, reader, exporter
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) *metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return &rm
}

func findMetric(rm *metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, scope := range rm.ScopeMetrics {
		for i := range scope.Metrics {
			if scope.Metrics[i].Name == name {
				return &scope.Metrics[i]
			}
		}
	}
	return nil
}

func sumInt(t *testing.T, m *metricdata.Metrics) int64 {
	t.Helper()
	require.NotNil(t, m)
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is not an int64 sum", m.Name)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestObserverSessionHooks(t *testing.T) {
	obs, reader, _ := newTestObserver(t)
	hooks := obs.Hooks()

	hooks.OnConnect(session.Info{ID: "a", Transport: session.TransportStdio})
	hooks.OnConnect(session.Info{ID: "b", Transport: session.TransportHTTP})
	hooks.OnDisconnect("a", session.ReasonExpired)
	hooks.OnError("b", toolerr.New(toolerr.KindProtocol, "bad frame"))

	rm := collectMetrics(t, reader)
	assert.Equal(t, int64(2), sumInt(t, findMetric(rm, "mcp.sessions.connected")))
	assert.Equal(t, int64(1), sumInt(t, findMetric(rm, "mcp.sessions.disconnected")))
	assert.Equal(t, int64(1), sumInt(t, findMetric(rm, "mcp.sessions.active")))
	assert.Equal(t, int64(1), sumInt(t, findMetric(rm, "mcp.session.errors")))
}

func TestObserverWithSessionManager(t *testing.T) {
	obs, reader, _ := newTestObserver(t)
	m := session.NewManager(session.Config{})
	m.Subscribe(obs.Hooks())

	id, err := m.RegisterConnection(session.TransportStdio)
	require.NoError(t, err)
	m.UnregisterConnection(id)

	rm := collectMetrics(t, reader)
	assert.Equal(t, int64(1), sumInt(t, findMetric(rm, "mcp.sessions.connected")))
	assert.Equal(t, int64(0), sumInt(t, findMetric(rm, "mcp.sessions.active")))
}

func TestStartToolSpan(t *testing.T) {
	obs, reader, exporter := newTestObserver(t)

	_, end := obs.StartToolSpan(context.Background(), "get_stamp", "sess-1")
	end(nil)
	_, end = obs.StartToolSpan(context.Background(), "get_stamp", "sess-1")
	end(toolerr.New(toolerr.KindRateLimit, "429"))

	rm := collectMetrics(t, reader)
	assert.Equal(t, int64(2), sumInt(t, findMetric(rm, "mcp.tool.calls")))
	assert.Equal(t, int64(1), sumInt(t, findMetric(rm, "mcp.tool.errors")))

	dur := findMetric(rm, "mcp.tool.duration")
	require.NotNil(t, dur)
	hist, ok := dur.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(2), hist.DataPoints[0].Count)

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, "mcp.tool get_stamp", spans[0].Name)
	assert.Equal(t, codes.Ok, spans[0].Status.Code)
	assert.Equal(t, codes.Error, spans[1].Status.Code)
	assert.NotEmpty(t, spans[1].Events, "error should be recorded on the span")
}

func TestNilObserverIsNoop(t *testing.T) {
	var obs *Observer
	ctx, end := obs.StartToolSpan(context.Background(), "x", "y")
	assert.NotNil(t, ctx)
	assert.NotPanics(t, func() { end(errors.New("x")) })
	assert.Nil(t, obs.Hooks().OnConnect)
}

func TestSetupDisabled(t *testing.T) {
	p, err := Setup(context.Background(), Config{})
	require.NoError(t, err)
	require.NotNil(t, p.Observer)

	_, end := p.Observer.StartToolSpan(context.Background(), "x", "y")
	end(nil)
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestSetupEnabledWithoutExporter(t *testing.T) {
	p, err := Setup(context.Background(), Config{Enabled: true, ServiceName: "test"})
	require.NoError(t, err)
	assert.NotNil(t, p.Tracer)
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestSetupExportsOverOTLP(t *testing.T) {
	var mu sync.Mutex
	paths := make(map[string]int)
	collector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths[r.URL.Path]++
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer collector.Close()

	p, err := Setup(context.Background(), Config{
		Enabled:      true,
		ServiceName:  "test",
		OTLPEndpoint: strings.TrimPrefix(collector.URL, "http://"),
		Insecure:     true,
	})
	require.NoError(t, err)

	p.Observer.Hooks().OnConnect(session.Info{ID: "s1", Transport: session.TransportStdio})
	_, end := p.Observer.StartToolSpan(context.Background(), "get_stamp", "s1")
	end(nil)

	// Shutdown flushes both pipelines.
	require.NoError(t, p.Shutdown(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Positive(t, paths["/v1/metrics"], "metrics were not exported")
	assert.Positive(t, paths["/v1/traces"], "traces were not exported")
}
