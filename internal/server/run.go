// ABOUTME: Run drives a server end to end: start the session sweep, serve a
// ABOUTME: transport until the context ends, then shut down in order.

package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"
)

// Transports accepted by Run.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// RunOptions selects and configures the transport.
type RunOptions struct {
	Transport string
	HTTPAddr  string

	// Listener overrides HTTPAddr when set.
	Listener net.Listener

	// Stdin and Stdout default to the process streams.
	Stdin  io.Reader
	Stdout io.Writer
}

// Run serves until ctx is cancelled or the transport ends, then calls
// Shutdown. For stdio, input EOF ends the run.
func (s *Server) Run(ctx context.Context, opts RunOptions) error {
	if err := s.sessions.Start(); err != nil {
		return err
	}

	var serveErr error
	switch opts.Transport {
	case TransportStdio, "":
		serveErr = s.runStdio(ctx, opts)
	case TransportHTTP:
		serveErr = s.runHTTP(ctx, opts)
	default:
		serveErr = fmt.Errorf("unknown transport %q", opts.Transport)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownGrace+5*time.Second)
	defer cancel()
	return errors.Join(serveErr, s.Shutdown(shutdownCtx))
}

func (s *Server) runStdio(ctx context.Context, opts RunOptions) error {
	in, out := opts.Stdin, opts.Stdout
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}

	// A blocked read on stdin cannot be interrupted, so cancellation does
	// not wait for the reader goroutine.
	done := make(chan error, 1)
	go func() { done <- s.ServeStdio(ctx, in, out) }()

	s.logger.Info("serving MCP over stdio")
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return nil
	}
}

func (s *Server) runHTTP(ctx context.Context, opts RunOptions) error {
	ln := opts.Listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", opts.HTTPAddr)
		if err != nil {
			return fmt.Errorf("listening on %s: %w", opts.HTTPAddr, err)
		}
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	done := make(chan error, 1)
	go func() { done <- srv.Serve(ln) }()
	s.logger.Info("serving MCP over HTTP", "addr", ln.Addr().String())

	select {
	case err := <-done:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	// Closing the listener happens immediately inside srv.Shutdown; the
	// session and in-flight drain then runs while handlers finish.
	httpCtx, cancel := context.WithTimeout(context.Background(), s.shutdownGrace+5*time.Second)
	defer cancel()
	httpDone := make(chan error, 1)
	go func() { httpDone <- srv.Shutdown(httpCtx) }()

	// The result is kept by Shutdown and reported again by Run.
	_ = s.Shutdown(httpCtx)
	if err := <-httpDone; err != nil {
		s.logger.Warn("http shutdown", "error", err)
	}
	return nil
}
