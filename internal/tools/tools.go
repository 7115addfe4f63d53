// ABOUTME: Stampchain MCP tools: stamps, collections, and SRC-20 tokens.
// ABOUTME: Each tool decodes and validates its arguments, then queries the Stampchain API.

package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/2389/stampchain-mcp/internal/protocol"
	"github.com/2389/stampchain-mcp/internal/registry"
	"github.com/2389/stampchain-mcp/internal/stampchain"
	"github.com/2389/stampchain-mcp/internal/toolerr"
)

// Tool categories
const (
	CategoryStamps      = "stamps"
	CategoryCollections = "collections"
	CategoryTokens      = "tokens"
)

// Version is stamped on every tool registration.
const Version = "1.0.0"

const (
	defaultLimit = 20
	maxLimit     = 100
)

// Definition pairs a tool with its registration category.
type Definition struct {
	Tool     registry.Tool
	Category string
}

// Toolset holds the default collaborators shared by every tool.
type Toolset struct {
	api    stampchain.API
	logger *slog.Logger
}

// New creates a toolset backed by api.
func New(api stampchain.API, logger *slog.Logger) *Toolset {
	if logger == nil {
		logger = slog.Default()
	}
	return &Toolset{api: api, logger: logger.With("component", "tools")}
}

// Definitions returns every tool with its category.
func (ts *Toolset) Definitions() []Definition {
	defs := ts.stampTools()
	defs = append(defs, ts.collectionTools()...)
	defs = append(defs, ts.tokenTools()...)
	return defs
}

// RegisterAll registers every tool with reg.
func RegisterAll(reg *registry.Registry, ts *Toolset) error {
	for _, d := range ts.Definitions() {
		if err := reg.Register(d.Tool, registry.RegisterOptions{Category: d.Category, Version: Version}); err != nil {
			return fmt.Errorf("registering %s: %w", d.Tool.Name, err)
		}
	}
	return nil
}

// apiFor prefers the per-call API override.
func (ts *Toolset) apiFor(ec registry.ExecContext) (stampchain.API, error) {
	if ec.API != nil {
		return ec.API, nil
	}
	if ts.api == nil {
		return nil, toolerr.New(toolerr.KindInternal, "no Stampchain API client configured")
	}
	return ts.api, nil
}

// loggerFor prefers the per-call logger override.
func (ts *Toolset) loggerFor(ec registry.ExecContext) *slog.Logger {
	if ec.Logger != nil {
		return ec.Logger
	}
	return ts.logger
}

func metadata() registry.Metadata {
	return registry.Metadata{
		Version:         Version,
		RequiresNetwork: true,
		APIDependencies: []string{"stampchain"},
	}
}

// decodeParams strictly decodes tool arguments. Unknown fields and type
// mismatches are validation faults.
func decodeParams(raw json.RawMessage, out any) error {
	if len(bytes.TrimSpace(raw)) == 0 || string(raw) == "null" {
		raw = json.RawMessage("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return toolerr.Wrap(toolerr.KindValidation, err, fmt.Sprintf("invalid arguments: %v", err))
	}
	return nil
}

// flexID accepts either a JSON string or number.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("must be a string or number")
	}
	if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
		return fmt.Errorf("must be an integer")
	}
	*f = flexID(n.String())
	return nil
}

// paging validates the common page/limit/sort_order arguments.
type paging struct {
	Page      int    `json:"page"`
	Limit     int    `json:"limit"`
	SortOrder string `json:"sort_order"`
}

func (p *paging) normalize() error {
	if p.Page < 0 {
		return toolerr.New(toolerr.KindValidation, "page must be 1 or greater")
	}
	if p.Page == 0 {
		p.Page = 1
	}
	if err := checkLimit(&p.Limit); err != nil {
		return err
	}
	switch strings.ToUpper(p.SortOrder) {
	case "":
		p.SortOrder = string(stampchain.SortDesc)
	case "ASC", "DESC":
		p.SortOrder = strings.ToUpper(p.SortOrder)
	default:
		return toolerr.Newf(toolerr.KindValidation, "sort_order must be ASC or DESC, got %q", p.SortOrder)
	}
	return nil
}

func checkLimit(limit *int) error {
	if *limit == 0 {
		*limit = defaultLimit
	}
	if *limit < 1 || *limit > maxLimit {
		return toolerr.Newf(toolerr.KindValidation, "limit must be between 1 and %d, got %d", maxLimit, *limit)
	}
	return nil
}

const pagingSchema = `"page":{"type":"integer","minimum":1},"limit":{"type":"integer","minimum":1,"maximum":100},"sort_order":{"type":"string","enum":["ASC","DESC"]}`

// jsonResponse renders a summary line followed by the payload as indented JSON.
func jsonResponse(summary string, payload any, extra ...protocol.Content) (*protocol.ToolResponse, error) {
	body, err := protocol.JSONContent(payload)
	if err != nil {
		return nil, toolerr.Wrap(toolerr.KindInternal, err, "encoding tool result")
	}
	content := []protocol.Content{protocol.TextContent(summary), body}
	content = append(content, extra...)
	return &protocol.ToolResponse{Content: content}, nil
}

func pageSummary(kind string, page, totalPages int, total int64, shown int) string {
	return fmt.Sprintf("Found %d %s (showing %d, page %d of %d)", total, kind, shown, page, totalPages)
}
