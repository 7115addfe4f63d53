// ABOUTME: Tests for the response validator and the dual-output error formatter.
// ABOUTME: Covers fault codes, truncation, content item shapes, and success gating.

package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/stampchain-mcp/internal/toolerr"
)

func testContext() toolerr.Context {
	return toolerr.Context{
		ToolName:  "t",
		Operation: "op",
		Severity:  toolerr.SeverityHigh,
		Retryable: false,
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func quietFormatter(cfg FormatterConfig) *Formatter {
	cfg.Logger = slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	return NewFormatter(cfg)
}

func TestValidateResponse(t *testing.T) {
	tests := []struct {
		name  string
		resp  *ToolResponse
		valid bool
	}{
		{"single text item", NewTextResponse("hello"), true},
		{"empty content array", &ToolResponse{Content: []Content{}}, true},
		{"image item", &ToolResponse{Content: []Content{ImageContent("aGk=", "image/png")}}, true},
		{"resource item", &ToolResponse{Content: []Content{ResourceContent(map[string]any{"uri": "stamp://1"})}}, true},
		{"nil response", nil, false},
		{"nil content", &ToolResponse{}, false},
		{"unknown item type", &ToolResponse{Content: []Content{{Type: "video"}}}, false},
		{"resource without payload", &ToolResponse{Content: []Content{{Type: ContentResource}}}, false},
		{"error envelope", &ToolResponse{
			Content: []Content{TextContent("x")},
			IsError: true,
			Meta:    map[string]any{"error": map[string]any{"type": "internal_error"}},
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateResponse(tt.resp)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.True(t, toolerr.Is(err, toolerr.KindProtocol))
			}
			assert.Equal(t, tt.valid, IsValidResponse(tt.resp))
		})
	}
}

func TestValidateResponseJSON(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		valid bool
	}{
		{"text item", `{"content":[{"type":"text","text":"a"}]}`, true},
		{"text item missing text", `{"content":[{"type":"text"}]}`, false},
		{"text item with extra field", `{"content":[{"type":"text","text":"a","data":"b"}]}`, false},
		{"text must be a string", `{"content":[{"type":"text","text":5}]}`, false},
		{"image missing mimeType", `{"content":[{"type":"image","data":"aGk="}]}`, false},
		{"resource must be object", `{"content":[{"type":"resource","resource":"x"}]}`, false},
		{"content is an object", `{"content":{"type":"text","text":"a"}}`, false},
		{"content missing", `{"isError":true}`, false},
		{"isError must be boolean", `{"content":[],"isError":"yes"}`, false},
		{"_meta must be object", `{"content":[],"_meta":[1]}`, false},
		{"not an object", `[1,2]`, false},
		{"item without type", `{"content":[{"text":"a"}]}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateResponseJSON([]byte(tt.raw))
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestContentMarshalEmitsOnlyRequiredFields(t *testing.T) {
	data, err := json.Marshal(ImageContent("aGk=", "image/png"))
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Len(t, m, 3)
	assert.Equal(t, "image", m["type"])

	var back Content
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, ImageContent("aGk=", "image/png"), back)
}

func TestFaultCode(t *testing.T) {
	expected := map[toolerr.Kind]int{
		toolerr.KindValidation:       CodeInvalidParams,
		toolerr.KindToolNotFound:     CodeMethodNotFound,
		toolerr.KindExecution:        CodeInternalError,
		toolerr.KindProtocol:         CodeInvalidRequest,
		toolerr.KindInternal:         CodeInternalError,
		toolerr.KindAuthentication:   CodeInvalidRequest,
		toolerr.KindRateLimit:        CodeInternalError,
		toolerr.KindResourceNotFound: CodeInvalidParams,
		toolerr.KindCapacity:         CodeInternalError,
	}
	for _, k := range toolerr.Kinds {
		code, ok := expected[k]
		require.True(t, ok, "no expectation for %s", k)
		assert.Equal(t, code, FaultCode(k), k.String())
	}
}

func TestErrorResponseGenericError(t *testing.T) {
	f := quietFormatter(FormatterConfig{})

	res := f.ErrorResponse(errors.New("boom"), testContext())

	require.NotNil(t, res.Envelope)
	require.NotEmpty(t, res.Envelope.Content)
	assert.Contains(t, res.Envelope.Content[0].Text, "boom")
	assert.True(t, res.Envelope.IsError)
	assert.Equal(t, CodeInternalError, res.Fault.Code)
	assert.Equal(t, res.Fault.Message, res.Envelope.Content[0].Text)
	assert.NoError(t, ValidateResponse(res.Envelope))

	meta, ok := res.Envelope.Meta["error"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "tool_execution_error", meta["type"])
	assert.Equal(t, "high", meta["severity"])
	assert.Equal(t, false, meta["retryable"])
	assert.Equal(t, "t", meta["tool"])
}

func TestErrorResponseKeepsCanonicalKind(t *testing.T) {
	f := quietFormatter(FormatterConfig{})
	res := f.ErrorResponse(toolerr.New(toolerr.KindValidation, "stamp id must be positive"), testContext())

	assert.Equal(t, CodeInvalidParams, res.Fault.Code)
	assert.Equal(t, "stamp id must be positive", res.Fault.Message)
	assert.Equal(t, toolerr.KindValidation, res.Err.Kind)
}

func TestErrorResponseNonErrorValue(t *testing.T) {
	f := quietFormatter(FormatterConfig{})
	res := f.ErrorResponse(map[string]int{"code": 7}, testContext())

	assert.Equal(t, toolerr.KindExecution, res.Err.Kind)
	assert.Contains(t, res.Fault.Message, "7")
}

func TestErrorResponseTruncates(t *testing.T) {
	f := quietFormatter(FormatterConfig{MaxMessageLength: 50})
	res := f.ErrorResponse(toolerr.New(toolerr.KindExecution, strings.Repeat("x", 500)), testContext())

	assert.True(t, strings.HasSuffix(res.Fault.Message, TruncationMarker))
	assert.Equal(t, 50+len(TruncationMarker), len(res.Fault.Message))
}

func TestErrorResponseDefaultLimit(t *testing.T) {
	f := quietFormatter(FormatterConfig{})
	res := f.ErrorResponse(toolerr.New(toolerr.KindExecution, strings.Repeat("y", 5000)), testContext())

	assert.Equal(t, DefaultMaxMessageLength+len(TruncationMarker), len(res.Fault.Message))
}

func TestTruncateCountsCharacters(t *testing.T) {
	assert.Equal(t, "ééé"+TruncationMarker, truncate("ééééé", 3))
	assert.Equal(t, "ééé", truncate("ééé", 3), "multibyte text at the limit is kept whole")
	assert.Equal(t, "abc", truncate("abc", 10))
}

func TestErrorResponseLimitIsInCharacters(t *testing.T) {
	f := quietFormatter(FormatterConfig{MaxMessageLength: 10})
	res := f.ErrorResponse(toolerr.New(toolerr.KindExecution, strings.Repeat("日", 25)), testContext())

	assert.Equal(t, strings.Repeat("日", 10)+TruncationMarker, res.Fault.Message)
}

func TestErrorResponseDropsUnencodableDetails(t *testing.T) {
	f := quietFormatter(FormatterConfig{IncludeContext: true})
	failure := toolerr.New(toolerr.KindExecution, "upstream ratio broken").WithDetail("ratio", math.NaN())

	res := f.ErrorResponse(failure, testContext())

	require.NoError(t, ValidateResponse(res.Envelope))
	assert.True(t, res.Envelope.IsError)
	assert.Contains(t, res.Envelope.Content[0].Text, "upstream ratio broken")

	meta, ok := res.Envelope.Meta["error"].(map[string]any)
	require.True(t, ok)
	assert.NotContains(t, meta, "details")
	assert.Equal(t, "tool_execution_error", meta["type"])

	_, err := json.Marshal(res.Fault)
	assert.NoError(t, err, "fault data must encode too")
}

func TestErrorResponseKeepsEncodableDetails(t *testing.T) {
	f := quietFormatter(FormatterConfig{IncludeContext: true})
	res := f.ErrorResponse(toolerr.New(toolerr.KindExecution, "bad block").WithDetail("block", 840000), testContext())

	require.NoError(t, ValidateResponse(res.Envelope))
	meta := res.Envelope.Meta["error"].(map[string]any)
	assert.Equal(t, map[string]any{"block": 840000}, meta["details"])
}

func TestErrorResponseDevelopmentMode(t *testing.T) {
	f := quietFormatter(FormatterConfig{IncludeContext: true, IncludeStack: true, MaxMessageLength: 100000})
	res := f.ErrorResponse(toolerr.New(toolerr.KindExecution, "upstream failed"), testContext())

	assert.Contains(t, res.Fault.Message, "tool=t")
	assert.Contains(t, res.Fault.Message, "operation=op")
	assert.Contains(t, res.Fault.Message, "severity=high")
	assert.Contains(t, res.Fault.Message, "TestErrorResponseDevelopmentMode")
}

func TestErrorResponseProductionHidesContext(t *testing.T) {
	f := quietFormatter(FormatterConfig{})
	res := f.ErrorResponse(toolerr.New(toolerr.KindExecution, "upstream failed"), testContext())

	assert.Equal(t, "upstream failed", res.Fault.Message)
}

func TestErrorResponseLogs(t *testing.T) {
	var buf bytes.Buffer
	f := NewFormatter(FormatterConfig{
		LogErrors: true,
		Logger:    slog.New(slog.NewJSONHandler(&buf, nil)),
	})
	f.ErrorResponse(toolerr.New(toolerr.KindRateLimit, "slow down"), testContext())

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "tool error", line["msg"])
	assert.Equal(t, "rate_limit_exceeded", line["error_type"])
	assert.Equal(t, "t", line["tool"])
}

func TestSuccessResponse(t *testing.T) {
	f := quietFormatter(FormatterConfig{})

	resp, err := f.SuccessResponse(NewTextResponse("ok"))
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content[0].Text)

	_, err = f.SuccessResponse(&ToolResponse{Content: []Content{{Type: "bogus"}}})
	assert.True(t, toolerr.Is(err, toolerr.KindProtocol))
}

func TestRequestIsNotification(t *testing.T) {
	assert.True(t, (&Request{Method: "notifications/initialized"}).IsNotification())
	assert.True(t, (&Request{ID: json.RawMessage("null")}).IsNotification())
	assert.False(t, (&Request{ID: json.RawMessage("1")}).IsNotification())
}
