// ABOUTME: Streamable HTTP transport: POST/DELETE on /mcp with Mcp-Session-Id sessions.
// ABOUTME: Also serves /health with session and registry statistics.

package server

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/2389/stampchain-mcp/internal/protocol"
	"github.com/2389/stampchain-mcp/internal/session"
	"github.com/2389/stampchain-mcp/internal/toolerr"
)

// MaxRequestBodySize is the maximum allowed size for request bodies (1MB).
const MaxRequestBodySize = 1 << 20

// SessionHeader carries the session id issued at initialize.
const SessionHeader = "Mcp-Session-Id"

// RegisterRoutes registers the MCP and health endpoints on mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/mcp", s.handleMCP)
	mux.HandleFunc("/health", s.handleHealth)
}

// Handler returns a mux serving RegisterRoutes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handlePost(w, r)
	case http.MethodGet:
		// No server-initiated SSE streams.
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	case http.MethodDelete:
		s.handleDelete(w, r)
	default:
		w.Header().Set("Allow", "POST, GET, DELETE")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}

// handleDelete terminates a session.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(SessionHeader)
	if sessionID == "" {
		http.Error(w, "Bad Request: missing Mcp-Session-Id", http.StatusBadRequest)
		return
	}
	if _, ok := s.sessions.Get(sessionID); !ok {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	s.sessions.UnregisterConnection(sessionID)
	w.WriteHeader(http.StatusNoContent)
}

// handlePost processes one JSON-RPC message.
func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(SessionHeader)
	protoVersion := r.Header.Get("Mcp-Protocol-Version")

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize+1))
	if err != nil {
		s.sendError(w, nil, protocol.CodeParseError, "failed to read request body", nil)
		return
	}
	if int64(len(body)) > MaxRequestBodySize {
		s.sendError(w, nil, protocol.CodeInvalidRequest, "request body too large", nil)
		return
	}

	var req protocol.Request
	if err := json.Unmarshal(body, &req); err != nil {
		s.sendError(w, nil, protocol.CodeParseError, "invalid JSON", nil)
		return
	}
	if req.JSONRPC != protocol.JSONRPCVersion {
		s.sendError(w, req.ID, protocol.CodeInvalidRequest, "invalid JSON-RPC version", nil)
		return
	}

	isInitialize := req.Method == "initialize"
	if !isInitialize && protoVersion != "" && !protocol.SupportedProtocolVersions[protoVersion] {
		http.Error(w, "Bad Request: unsupported MCP-Protocol-Version", http.StatusBadRequest)
		return
	}

	if isInitialize && !req.IsNotification() {
		id, err := s.sessions.RegisterConnection(session.TransportHTTP)
		if err != nil {
			res := s.formatter.ErrorResponse(err, toolerr.NewContext("", "initialize", err, s.now()))
			s.sendError(w, req.ID, res.Fault.Code, res.Fault.Message, res.Fault.Data)
			return
		}
		sessionID = id
		w.Header().Set(SessionHeader, sessionID)
	} else {
		if sessionID == "" {
			http.Error(w, "Bad Request: missing Mcp-Session-Id", http.StatusBadRequest)
			return
		}
		if _, ok := s.sessions.Get(sessionID); !ok {
			// Expired or unknown: the client must re-initialize.
			http.Error(w, "Not Found", http.StatusNotFound)
			return
		}
	}

	s.logger.Debug("MCP request",
		"method", req.Method,
		"is_notification", req.IsNotification(),
		"session_id", sessionID,
	)

	resp := s.Handle(r.Context(), sessionID, &req)
	if resp == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// HealthStatus is the /health payload.
type HealthStatus struct {
	Status   string         `json:"status"`
	Server   string         `json:"server"`
	Version  string         `json:"version"`
	Time     time.Time      `json:"time"`
	Sessions SessionHealth  `json:"sessions"`
	Registry RegistryHealth `json:"registry"`
}

// SessionHealth summarizes session.Stats.
type SessionHealth struct {
	Total                     int     `json:"total"`
	Active                    int     `json:"active"`
	TotalRequests             int64   `json:"total_requests"`
	AverageRequestsPerSession float64 `json:"average_requests_per_session"`
}

// RegistryHealth summarizes registry.Stats.
type RegistryHealth struct {
	TotalTools      int            `json:"total_tools"`
	MaxTools        int            `json:"max_tools"`
	ToolsByCategory map[string]int `json:"tools_by_category"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	ss := s.sessions.Stats()
	rs := s.registry.Stats()
	status := HealthStatus{
		Status:  "ok",
		Server:  s.name,
		Version: s.version,
		Time:    s.now().UTC(),
		Sessions: SessionHealth{
			Total:                     ss.TotalSessions,
			Active:                    ss.ActiveSessions,
			TotalRequests:             ss.TotalRequests,
			AverageRequestsPerSession: ss.AverageRequestsPerSession,
		},
		Registry: RegistryHealth{
			TotalTools:      rs.TotalTools,
			MaxTools:        rs.MaxTools,
			ToolsByCategory: rs.ToolsByCategory,
		},
	}
	code := http.StatusOK
	if s.isClosing() {
		status.Status = "shutting_down"
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, status)
}

func (s *Server) sendError(w http.ResponseWriter, id json.RawMessage, code int, message string, data any) {
	resp := protocol.NewError(id, &protocol.RPCError{Code: code, Message: message, Data: data})
	s.writeJSON(w, http.StatusOK, &resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to encode response", "error", err)
	}
}
