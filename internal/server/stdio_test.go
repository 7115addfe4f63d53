// ABOUTME: Tests for the stdio transport over in-memory streams.

package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/stampchain-mcp/internal/protocol"
	"github.com/2389/stampchain-mcp/internal/session"
)

// syncBuffer lets the test read output while the server is writing it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func readLines(t *testing.T, out *bytes.Buffer) map[string]decoded {
	t.Helper()
	byID := make(map[string]decoded)
	scanner := bufio.NewScanner(out)
	for scanner.Scan() {
		var d decoded
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &d))
		byID[string(d.ID)] = d
	}
	return byID
}

func TestServeStdio(t *testing.T) {
	e := newTestEnv(t, nil)

	input := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`,
		`{"jsonrpc":"2.0","id":2,"method":"initialize","params":{}}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		``,
		`not json`,
		`{"jsonrpc":"1.0","id":3,"method":"ping"}`,
		`{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"echo","arguments":{}}}`,
		`{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"boom"}}`,
		`{"jsonrpc":"2.0","id":6,"method":"ping"}`,
	}, "\n") + "\n"

	var out bytes.Buffer
	require.NoError(t, e.srv.ServeStdio(context.Background(), strings.NewReader(input), &out))

	responses := readLines(t, &out)
	// Everything with an id answers, plus the parse error under null.
	assert.Len(t, responses, 7)

	require.NotNil(t, responses["1"].Error)
	assert.Equal(t, protocol.CodeInvalidRequest, responses["1"].Error.Code)

	assert.Nil(t, responses["2"].Error)

	require.NotNil(t, responses["null"].Error)
	assert.Equal(t, protocol.CodeParseError, responses["null"].Error.Code)

	require.NotNil(t, responses["3"].Error)
	assert.Equal(t, protocol.CodeInvalidRequest, responses["3"].Error.Code)

	ok := envelope(t, responses["4"])
	assert.False(t, ok.IsError)

	failed := envelope(t, responses["5"])
	assert.True(t, failed.IsError)
	assert.Contains(t, failed.Content[0].Text, "boom")

	assert.Nil(t, responses["6"].Error)

	// The stream's session ends with the stream.
	assert.Equal(t, 0, e.sessions.Count())
}

func TestServeStdioCallsRunConcurrently(t *testing.T) {
	e := newTestEnv(t, nil)

	input := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"initialize"}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"stubborn"}}`,
		`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"echo"}}`,
	}, "\n") + "\n"

	var out syncBuffer
	done := make(chan error, 1)
	go func() { done <- e.srv.ServeStdio(context.Background(), strings.NewReader(input), &out) }()

	<-e.tools.started
	// echo answers while stubborn is still blocked.
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), `"id":3`)
	}, 2*time.Second, 5*time.Millisecond)
	assert.NotContains(t, out.String(), `"id":2`)

	close(e.tools.release)
	require.NoError(t, <-done)
	assert.Contains(t, out.String(), "released")
}

func TestServeStdioEndsWhenSessionExpires(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var elapsed atomic.Int64
	sessions := session.NewManager(session.Config{
		MaxConnections: 1,
		SessionTimeout: time.Hour,
		Logger:         discardLogger(),
		Now:            func() time.Time { return base.Add(time.Duration(elapsed.Load())) },
	})
	e := newTestEnv(t, func(c *Config) { c.Sessions = sessions })

	in, feed := io.Pipe()
	t.Cleanup(func() { _ = feed.Close() })
	var out syncBuffer
	done := make(chan error, 1)
	go func() { done <- e.srv.ServeStdio(context.Background(), in, &out) }()

	_, err := io.WriteString(feed, `{"jsonrpc":"2.0","id":1,"method":"initialize"}` + "\n")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return strings.Contains(out.String(), `"id":1`) }, 2*time.Second, 5*time.Millisecond)

	elapsed.Store(int64(2 * time.Hour))
	require.Equal(t, 1, sessions.Sweep())

	_, err = io.WriteString(feed, `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"echo"}}` + "\n")
	require.NoError(t, err)

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrSessionExpired)
	case <-time.After(2 * time.Second):
		t.Fatal("stream kept serving after its session expired")
	}

	var lines bytes.Buffer
	lines.WriteString(out.String())
	responses := readLines(t, &lines)
	require.NotNil(t, responses["2"].Error)
	assert.Equal(t, protocol.CodeInvalidRequest, responses["2"].Error.Code)
	assert.Contains(t, responses["2"].Error.Message, "session expired")
	assert.NotContains(t, out.String(), "echo:")

	// The slot is free only because the stream is gone.
	assert.Equal(t, 0, sessions.Count())
	_, err = sessions.RegisterConnection(session.TransportStdio)
	assert.NoError(t, err)
}

func TestServeStdioLineTooLong(t *testing.T) {
	e := newTestEnv(t, nil)
	input := strings.Repeat("x", MaxLineSize+10) + "\n"

	var out bytes.Buffer
	err := e.srv.ServeStdio(context.Background(), strings.NewReader(input), &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds")
}

func TestRunStdioShutsDownOnEOF(t *testing.T) {
	e := newTestEnv(t, nil)

	var out bytes.Buffer
	err := e.srv.Run(context.Background(), RunOptions{
		Transport: TransportStdio,
		Stdin:     strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}` + "\n"),
		Stdout:    &out,
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), `"id":1`)
	assert.True(t, e.srv.isClosing())
	assert.Equal(t, 0, e.reg.Stats().TotalTools)
}
