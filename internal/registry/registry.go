// ABOUTME: Thread-safe registry of MCP tools with a per-category ordered index.
// ABOUTME: Enforces name uniqueness and capacity, and optionally sanity-checks schemas.

package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/2389/stampchain-mcp/internal/protocol"
	"github.com/2389/stampchain-mcp/internal/stampchain"
	"github.com/2389/stampchain-mcp/internal/toolerr"
)

// DefaultMaxTools caps the registry when no limit is configured.
const DefaultMaxTools = 1000

// DefaultCategory is used when a tool is registered without one.
const DefaultCategory = "general"

// ErrRegistryFull indicates the registry is at MaxTools.
var ErrRegistryFull = errors.New("registry full")

// ErrDuplicateTool indicates a tool with the same name is already registered.
var ErrDuplicateTool = errors.New("tool already registered")

// ErrToolNotFound indicates no tool is registered under the requested name.
var ErrToolNotFound = errors.New("tool not found")

// ErrInvalidTool indicates a descriptor failed the registration sanity check.
var ErrInvalidTool = errors.New("invalid tool")

// ExecContext carries per-call collaborators. Non-nil fields override the
// tool's own defaults.
type ExecContext struct {
	SessionID string
	Logger    *slog.Logger
	API       stampchain.API
}

// ExecuteFunc runs a tool with raw JSON arguments.
type ExecuteFunc func(ctx context.Context, params json.RawMessage, ec ExecContext) (*protocol.ToolResponse, error)

// Metadata describes a tool beyond its wire definition.
type Metadata struct {
	Version         string
	Tags            []string
	RequiresNetwork bool
	APIDependencies []string
}

// Tool is an executable tool descriptor.
type Tool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
	Metadata    Metadata
	Execute     ExecuteFunc
}

// Info returns the tools/list representation of the tool.
func (t Tool) Info() protocol.ToolInfo {
	return protocol.ToolInfo{
		Name:        t.Name,
		Description: t.Description,
		InputSchema: t.InputSchema,
	}
}

func (t Tool) clone() Tool {
	c := t
	if t.InputSchema != nil {
		c.InputSchema = append(json.RawMessage(nil), t.InputSchema...)
	}
	if t.Metadata.Tags != nil {
		c.Metadata.Tags = append([]string(nil), t.Metadata.Tags...)
	}
	if t.Metadata.APIDependencies != nil {
		c.Metadata.APIDependencies = append([]string(nil), t.Metadata.APIDependencies...)
	}
	return c
}

// Entry is a registered tool with its registration record.
type Entry struct {
	Tool         Tool
	Category     string
	Version      string
	RegisteredAt time.Time
}

// RegisterOptions are the per-registration attributes.
type RegisterOptions struct {
	Category string
	Version  string
}

// Config controls registry policy.
type Config struct {
	ValidateOnRegister  bool
	AllowDuplicateNames bool
	MaxTools            int
	Logger              *slog.Logger
	Now                 func() time.Time
}

// Stats is computed from current state on every call.
type Stats struct {
	TotalTools      int
	ToolsByCategory map[string]int
	Categories      []string
	MaxTools        int
}

// Registry stores tools. Entries and the category index are updated under
// one lock so readers never see them disagree.
type Registry struct {
	mu         sync.RWMutex
	entries    map[string]*Entry
	order      []string            // registration order across all categories
	categories map[string][]string // category -> tool names in registration order

	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// New creates a registry from cfg.
func New(cfg Config) *Registry {
	if cfg.MaxTools <= 0 {
		cfg.MaxTools = DefaultMaxTools
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Registry{
		entries:    make(map[string]*Entry),
		categories: make(map[string][]string),
		cfg:        cfg,
		logger:     logger.With("component", "registry"),
		now:        now,
	}
}

// Register adds tool under opts.Category. It returns a capacity fault when
// the registry is full and a validation fault for duplicates or, when
// enabled, descriptors that fail the sanity check. With duplicates allowed
// the existing entry is replaced and moved to the tail of its new category.
func (r *Registry) Register(tool Tool, opts RegisterOptions) error {
	if r.cfg.ValidateOnRegister {
		if err := CheckTool(tool); err != nil {
			return err
		}
	}
	if tool.Name == "" {
		return toolerr.Wrap(toolerr.KindValidation, ErrInvalidTool, "tool name is required")
	}

	category := opts.Category
	if category == "" {
		category = DefaultCategory
	}
	version := opts.Version
	if version == "" {
		version = tool.Metadata.Version
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	_, exists := r.entries[tool.Name]
	if exists && !r.cfg.AllowDuplicateNames {
		return toolerr.Wrap(toolerr.KindValidation, ErrDuplicateTool,
			fmt.Sprintf("tool %q is already registered", tool.Name))
	}
	if !exists && len(r.entries) >= r.cfg.MaxTools {
		return toolerr.Wrap(toolerr.KindCapacity, ErrRegistryFull,
			fmt.Sprintf("registry is full: maximum of %d tools reached", r.cfg.MaxTools)).
			WithDetail("max_tools", r.cfg.MaxTools)
	}

	if exists {
		r.removeLocked(tool.Name)
	}

	r.entries[tool.Name] = &Entry{
		Tool:         tool.clone(),
		Category:     category,
		Version:      version,
		RegisteredAt: r.now(),
	}
	r.order = append(r.order, tool.Name)
	r.categories[category] = append(r.categories[category], tool.Name)

	r.logger.Info("=== TOOL REGISTERED ===",
		"tool", tool.Name,
		"category", category,
		"version", version,
		"replaced", exists,
		"total_tools", len(r.entries),
	)
	return nil
}

// Get returns a copy of the named tool or a tool-not-found fault.
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	if !ok {
		return Tool{}, toolerr.Wrap(toolerr.KindToolNotFound, ErrToolNotFound,
			fmt.Sprintf("tool %q not found", name)).
			WithDetail("tool", name)
	}
	return e.Tool.clone(), nil
}

// Entry returns the registration record for name.
func (r *Registry) Entry(name string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	if !ok {
		return Entry{}, false
	}
	out := *e
	out.Tool = e.Tool.clone()
	return out, true
}

// List returns all tools in registration order.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		tools = append(tools, r.entries[name].Tool.clone())
	}
	return tools
}

// ByCategory returns tool names in registration order. Unknown categories
// yield an empty slice.
func (r *Registry) ByCategory(category string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]string{}, r.categories[category]...)
}

// Categories returns the known category names, sorted.
func (r *Registry) Categories() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.categories))
	for c := range r.categories {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Stats reports the current registry contents.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Stats{
		TotalTools:      len(r.entries),
		ToolsByCategory: make(map[string]int, len(r.categories)),
		Categories:      make([]string, 0, len(r.categories)),
		MaxTools:        r.cfg.MaxTools,
	}
	for c, names := range r.categories {
		s.ToolsByCategory[c] = len(names)
		s.Categories = append(s.Categories, c)
	}
	sort.Strings(s.Categories)
	return s
}

// Unregister removes the named tool. Unknown names are logged and reported
// as false.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[name]; !ok {
		r.logger.Warn("unregister of unknown tool", "tool", name)
		return false
	}
	r.removeLocked(name)

	r.logger.Info("=== TOOL UNREGISTERED ===",
		"tool", name,
		"total_tools", len(r.entries),
	)
	return true
}

// Close drops every registration.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.entries)
	r.entries = make(map[string]*Entry)
	r.categories = make(map[string][]string)
	r.order = nil
	r.logger.Debug("registry cleared", "tools_removed", n)
}

// removeLocked deletes name from entries, order and its category,
// dropping the category when it empties. Caller holds mu.
func (r *Registry) removeLocked(name string) {
	e, ok := r.entries[name]
	if !ok {
		return
	}
	delete(r.entries, name)
	r.order = without(r.order, name)

	names := without(r.categories[e.Category], name)
	if len(names) == 0 {
		delete(r.categories, e.Category)
	} else {
		r.categories[e.Category] = names
	}
}

func without(list []string, name string) []string {
	out := make([]string, 0, len(list))
	for _, n := range list {
		if n != name {
			out = append(out, n)
		}
	}
	return out
}
