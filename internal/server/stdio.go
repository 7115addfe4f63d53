// ABOUTME: stdio transport: newline-delimited JSON-RPC over a reader/writer pair.
// ABOUTME: One stream is one session; tools/call requests run concurrently.

package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/2389/stampchain-mcp/internal/protocol"
	"github.com/2389/stampchain-mcp/internal/session"
)

// MaxLineSize bounds a single stdio message.
const MaxLineSize = 1 << 20

// lineWriter serializes responses onto the shared output stream.
type lineWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func (w *lineWriter) write(resp *protocol.Response) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enc.Encode(resp)
}

// ServeStdio reads requests from r and writes responses to w until r hits
// EOF or ctx is cancelled. The stream is registered as one session for its
// lifetime; pending tool calls are allowed to finish before it ends. If the
// idle sweep expires the session, the next request is refused and
// ServeStdio returns ErrSessionExpired.
func (s *Server) ServeStdio(ctx context.Context, r io.Reader, w io.Writer) error {
	sessionID, err := s.sessions.RegisterConnection(session.TransportStdio)
	if err != nil {
		return fmt.Errorf("registering stdio session: %w", err)
	}
	expired := false
	defer func() {
		if !expired {
			s.sessions.UnregisterConnection(sessionID)
		}
	}()

	out := &lineWriter{enc: json.NewEncoder(w)}
	var calls sync.WaitGroup
	defer calls.Wait()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxLineSize)

	initialized := false
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req protocol.Request
		if err := json.Unmarshal(line, &req); err != nil {
			resp := protocol.NewError(nil, &protocol.RPCError{Code: protocol.CodeParseError, Message: "parse error: " + err.Error()})
			if werr := out.write(&resp); werr != nil {
				return fmt.Errorf("writing parse error response: %w", werr)
			}
			continue
		}
		if req.JSONRPC != protocol.JSONRPCVersion {
			if !req.IsNotification() {
				resp := protocol.NewError(req.ID, &protocol.RPCError{Code: protocol.CodeInvalidRequest, Message: "unsupported JSON-RPC version"})
				if werr := out.write(&resp); werr != nil {
					return fmt.Errorf("writing version error response: %w", werr)
				}
			}
			continue
		}

		// Expiry is terminal: the stream ends instead of serving untracked requests.
		if _, ok := s.sessions.Get(sessionID); !ok && !s.isClosing() {
			expired = true
			if !req.IsNotification() {
				resp := protocol.NewError(req.ID, &protocol.RPCError{Code: protocol.CodeInvalidRequest, Message: ErrSessionExpired.Error()})
				if werr := out.write(&resp); werr != nil {
					s.logger.Warn("writing session expired response", "session_id", sessionID, "error", werr)
				}
			}
			s.logger.Info("stdio session expired, closing stream", "session_id", sessionID)
			return fmt.Errorf("stdio session %s: %w", sessionID, ErrSessionExpired)
		}

		switch {
		case req.Method == "initialize":
			initialized = true
		case !initialized && !req.IsNotification() && (req.Method == "tools/list" || req.Method == "tools/call"):
			resp := protocol.NewError(req.ID, &protocol.RPCError{
				Code:    protocol.CodeInvalidRequest,
				Message: "server not initialized (call initialize first)",
			})
			if werr := out.write(&resp); werr != nil {
				return fmt.Errorf("writing response: %w", werr)
			}
			continue
		}

		if req.Method == "tools/call" && !req.IsNotification() {
			calls.Add(1)
			go func(req protocol.Request) {
				defer calls.Done()
				if resp := s.Handle(ctx, sessionID, &req); resp != nil {
					if werr := out.write(resp); werr != nil {
						s.sessions.ReportError(sessionID, werr)
					}
				}
			}(req)
			continue
		}

		if resp := s.Handle(ctx, sessionID, &req); resp != nil {
			if werr := out.write(resp); werr != nil {
				return fmt.Errorf("writing response: %w", werr)
			}
		}
	}

	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			err = fmt.Errorf("message exceeds %d bytes: %w", MaxLineSize, err)
		}
		s.sessions.ReportError(sessionID, err)
		return err
	}
	return nil
}
