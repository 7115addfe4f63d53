// ABOUTME: MCP server core: JSON-RPC method dispatch and the tools/call pipeline.
// ABOUTME: Transports (stdio, Streamable HTTP) feed requests in; shutdown drains in-flight calls.

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/2389/stampchain-mcp/internal/protocol"
	"github.com/2389/stampchain-mcp/internal/registry"
	"github.com/2389/stampchain-mcp/internal/session"
	"github.com/2389/stampchain-mcp/internal/stampchain"
	"github.com/2389/stampchain-mcp/internal/telemetry"
	"github.com/2389/stampchain-mcp/internal/toolerr"
)

// Error delivery modes for failed tool calls.
const (
	// DeliveryInBand returns failures as a successful JSON-RPC result whose
	// envelope has isError set.
	DeliveryInBand = "inband"
	// DeliveryProtocol returns failures as JSON-RPC error objects.
	DeliveryProtocol = "protocol"
)

const (
	DefaultExecTimeout   = 30 * time.Second
	DefaultShutdownGrace = 10 * time.Second
)

// ErrShuttingDown is returned for requests that arrive after Shutdown began.
var ErrShuttingDown = errors.New("server shutting down")

// ErrSessionExpired ends a stdio stream whose session was removed by the idle sweep.
var ErrSessionExpired = errors.New("session expired")

// Config holds the collaborators the server is built from.
type Config struct {
	Registry  *registry.Registry
	Sessions  *session.Manager
	Formatter *protocol.Formatter
	Observer  *telemetry.Observer // optional
	API       stampchain.API      // optional per-call override handed to tools
	Logger    *slog.Logger

	Name          string
	Version       string
	Instructions  string
	ErrorDelivery string
	ExecTimeout   time.Duration
	ShutdownGrace time.Duration

	// Now is used for error timestamps. Defaults to time.Now.
	Now func() time.Time
}

// Server answers MCP requests for one registry and one session manager.
type Server struct {
	registry  *registry.Registry
	sessions  *session.Manager
	formatter *protocol.Formatter
	observer  *telemetry.Observer
	api       stampchain.API
	logger    *slog.Logger
	now       func() time.Time

	name          string
	version       string
	instructions  string
	delivery      string
	execTimeout   time.Duration
	shutdownGrace time.Duration

	// callCtx parents every tool execution; cancelCalls fires once the
	// shutdown grace period has elapsed.
	callCtx     context.Context
	cancelCalls context.CancelFunc

	mu       sync.Mutex
	closing  bool
	inflight sync.WaitGroup
	shutOnce sync.Once
	shutErr  error
}

// New validates cfg and builds a server.
func New(cfg Config) (*Server, error) {
	if cfg.Registry == nil {
		return nil, errors.New("registry is required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("session manager is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	formatter := cfg.Formatter
	if formatter == nil {
		formatter = protocol.Default()
	}
	delivery := cfg.ErrorDelivery
	switch delivery {
	case "":
		delivery = DeliveryInBand
	case DeliveryInBand, DeliveryProtocol:
	default:
		return nil, fmt.Errorf("unknown error delivery mode %q", delivery)
	}
	execTimeout := cfg.ExecTimeout
	if execTimeout <= 0 {
		execTimeout = DefaultExecTimeout
	}
	grace := cfg.ShutdownGrace
	if grace <= 0 {
		grace = DefaultShutdownGrace
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	name := cfg.Name
	if name == "" {
		name = "stampchain-mcp"
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	callCtx, cancel := context.WithCancel(context.Background())
	return &Server{
		registry:      cfg.Registry,
		sessions:      cfg.Sessions,
		formatter:     formatter,
		observer:      cfg.Observer,
		api:           cfg.API,
		logger:        logger.With("component", "server"),
		now:           now,
		name:          name,
		version:       version,
		instructions:  cfg.Instructions,
		delivery:      delivery,
		execTimeout:   execTimeout,
		shutdownGrace: grace,
		callCtx:       callCtx,
		cancelCalls:   cancel,
	}, nil
}

// Handle dispatches one decoded request on behalf of sessionID. It returns
// nil for notifications, which never receive a response.
func (s *Server) Handle(ctx context.Context, sessionID string, req *protocol.Request) *protocol.Response {
	if req.IsNotification() {
		if strings.HasPrefix(req.Method, "notifications/") {
			s.logger.Debug("accepted MCP notification", "method", req.Method, "session_id", sessionID)
		} else {
			s.logger.Warn("received notification for non-notification method", "method", req.Method)
		}
		return nil
	}

	if s.isClosing() {
		resp := protocol.NewError(req.ID, &protocol.RPCError{Code: protocol.CodeInternalError, Message: ErrShuttingDown.Error()})
		return &resp
	}

	s.sessions.UpdateActivity(sessionID)

	var resp protocol.Response
	switch req.Method {
	case "initialize":
		resp = s.handleInitialize(req)
	case "ping":
		resp = protocol.NewResult(req.ID, struct{}{})
	case "tools/list":
		resp = s.handleToolsList(req)
	case "tools/call":
		resp = s.handleToolsCall(ctx, sessionID, req)
	default:
		resp = protocol.NewError(req.ID, &protocol.RPCError{
			Code:    protocol.CodeMethodNotFound,
			Message: "method not found: " + req.Method,
		})
	}
	return &resp
}

func (s *Server) handleInitialize(req *protocol.Request) protocol.Response {
	var params protocol.InitializeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return invalidParams(req.ID, "invalid initialize params: "+err.Error())
		}
	}

	// Echo a version we speak; otherwise answer with our latest and let the
	// client decide whether to proceed.
	version := protocol.LatestProtocolVersion
	if protocol.SupportedProtocolVersions[params.ProtocolVersion] {
		version = params.ProtocolVersion
	}

	s.logger.Debug("initialize",
		"client", params.ClientInfo.Name,
		"client_version", params.ClientInfo.Version,
		"protocol_version", version,
	)

	return protocol.NewResult(req.ID, protocol.InitializeResult{
		ProtocolVersion: version,
		Capabilities: protocol.ServerCapabilities{
			Tools: &protocol.ToolCapability{},
		},
		ServerInfo: protocol.ServerInfo{
			Name:    s.name,
			Version: s.version,
		},
		Instructions: s.instructions,
	})
}

func (s *Server) handleToolsList(req *protocol.Request) protocol.Response {
	tools := s.registry.List()
	result := protocol.ListToolsResult{Tools: make([]protocol.ToolInfo, len(tools))}
	for i, t := range tools {
		result.Tools[i] = t.Info()
	}
	s.logger.Debug("tools/list", "count", len(tools))
	return protocol.NewResult(req.ID, result)
}

func (s *Server) handleToolsCall(ctx context.Context, sessionID string, req *protocol.Request) protocol.Response {
	var params protocol.CallToolParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return invalidParams(req.ID, "invalid tools/call params: "+err.Error())
		}
	}
	if params.Name == "" {
		return invalidParams(req.ID, "tool name is required")
	}

	result, fault := s.CallTool(ctx, sessionID, params.Name, params.Arguments)
	if fault != nil {
		return protocol.NewError(req.ID, fault)
	}
	return protocol.NewResult(req.ID, result)
}

// CallTool runs one tool through the full pipeline: lookup, span, bounded
// execution with panic recovery, error formatting and response validation.
// Exactly one of the return values is non-nil; which one carries a failure
// depends on the configured error delivery mode.
func (s *Server) CallTool(ctx context.Context, sessionID, name string, args json.RawMessage) (*protocol.ToolResponse, *protocol.RPCError) {
	if !s.track() {
		return nil, &protocol.RPCError{Code: protocol.CodeInternalError, Message: ErrShuttingDown.Error()}
	}
	defer s.inflight.Done()

	tool, err := s.registry.Get(name)
	if err != nil {
		return s.fail(sessionID, name, "lookup", err)
	}

	ctx, end := s.observer.StartToolSpan(ctx, name, sessionID)

	s.logger.Debug("tools/call", "tool_name", name, "session_id", sessionID)
	resp, failure := s.execute(ctx, tool, args, registry.ExecContext{
		SessionID: sessionID,
		Logger:    s.logger.With("tool_name", name, "session_id", sessionID),
		API:       s.api,
	})
	if failure != nil {
		res := s.formatter.ErrorResponse(failure, s.errorContext(name, "execute", failure))
		end(res.Err)
		return s.deliver(sessionID, res)
	}

	validated, err := s.formatter.SuccessResponse(resp)
	if err != nil {
		end(err)
		return s.fail(sessionID, name, "validate_response", err)
	}
	end(nil)
	s.logger.Debug("tools/call complete", "tool_name", name, "session_id", sessionID)
	return validated, nil
}

type execResult struct {
	resp    *protocol.ToolResponse
	failure any
}

// execute runs the tool in its own goroutine so a tool that ignores its
// context still yields a timeout. The goroutine counts as in-flight until the
// tool actually returns, so Shutdown also drains calls that already timed
// out. The returned failure is an error or a recovered panic value.
func (s *Server) execute(parent context.Context, tool registry.Tool, args json.RawMessage, ec registry.ExecContext) (*protocol.ToolResponse, any) {
	// Detached from the caller: a client going away does not abort the
	// call, only the exec timeout or the end of the shutdown grace does.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), s.execTimeout)
	defer cancel()
	stop := context.AfterFunc(s.callCtx, cancel)
	defer stop()

	done := make(chan execResult, 1)
	// The caller already holds an in-flight slot, so this Add cannot race Wait.
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("tool panicked", "tool_name", tool.Name, "panic", r)
				done <- execResult{failure: fmt.Sprintf("panic: %v", r)}
			}
		}()
		resp, err := tool.Execute(ctx, args, ec)
		if err != nil {
			done <- execResult{failure: err}
			return
		}
		done <- execResult{resp: resp}
	}()

	select {
	case res := <-done:
		return res.resp, res.failure
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, toolerr.Wrap(toolerr.KindExecution, ctx.Err(),
				fmt.Sprintf("tool %s timed out after %s", tool.Name, s.execTimeout)).WithRetryable(true)
		}
		return nil, toolerr.Wrap(toolerr.KindExecution, ctx.Err(), fmt.Sprintf("tool %s cancelled", tool.Name))
	}
}

func (s *Server) errorContext(name, operation string, failure any) toolerr.Context {
	err, _ := failure.(error)
	return toolerr.NewContext(name, operation, err, s.now())
}

func (s *Server) fail(sessionID, name, operation string, err error) (*protocol.ToolResponse, *protocol.RPCError) {
	return s.deliver(sessionID, s.formatter.ErrorResponse(err, s.errorContext(name, operation, err)))
}

func (s *Server) deliver(sessionID string, res protocol.ErrorResult) (*protocol.ToolResponse, *protocol.RPCError) {
	s.sessions.ReportError(sessionID, res.Err)
	if s.delivery == DeliveryProtocol {
		return nil, res.Fault
	}
	return res.Envelope, nil
}

func invalidParams(id json.RawMessage, msg string) protocol.Response {
	return protocol.NewError(id, &protocol.RPCError{Code: protocol.CodeInvalidParams, Message: msg})
}

// track registers an in-flight call unless shutdown has begun.
func (s *Server) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.inflight.Add(1)
	return true
}

func (s *Server) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

// Shutdown stops accepting requests, ends every session, waits up to the
// grace period for in-flight calls, cancels whatever is still running and
// closes the registry. It is safe to call more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutOnce.Do(func() {
		s.mu.Lock()
		s.closing = true
		s.mu.Unlock()

		s.logger.Info("shutting down", "sessions", s.sessions.Count())
		s.sessions.Shutdown()

		drained := make(chan struct{})
		go func() {
			s.inflight.Wait()
			close(drained)
		}()

		grace := time.NewTimer(s.shutdownGrace)
		defer grace.Stop()
		select {
		case <-drained:
		case <-grace.C:
			s.logger.Warn("shutdown grace elapsed, cancelling in-flight tool calls", "grace", s.shutdownGrace)
			s.cancelCalls()
			select {
			case <-drained:
			case <-ctx.Done():
				s.shutErr = ctx.Err()
			}
		case <-ctx.Done():
			s.cancelCalls()
			s.shutErr = ctx.Err()
		}
		s.cancelCalls()

		s.registry.Close()
		s.logger.Info("shutdown complete")
	})
	return s.shutErr
}
