// ABOUTME: Builds the object graph from config: logging, telemetry, API client,
// ABOUTME: registry with the Stampchain tools, session manager and server.

package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/2389/stampchain-mcp/internal/cache"
	"github.com/2389/stampchain-mcp/internal/config"
	"github.com/2389/stampchain-mcp/internal/protocol"
	"github.com/2389/stampchain-mcp/internal/registry"
	"github.com/2389/stampchain-mcp/internal/server"
	"github.com/2389/stampchain-mcp/internal/session"
	"github.com/2389/stampchain-mcp/internal/stampchain"
	"github.com/2389/stampchain-mcp/internal/telemetry"
	"github.com/2389/stampchain-mcp/internal/tools"
)

const instructions = "Query Bitcoin Stamps, stamp collections and SRC-20 tokens from the Stampchain API."

type app struct {
	server    *server.Server
	registry  *registry.Registry
	sessions  *session.Manager
	telemetry *telemetry.Providers
	responses *cache.Cache[[]byte] // nil when caching is disabled
	logger    *slog.Logger
}

func build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	providers, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:      cfg.Telemetry.Enabled,
		ServiceName:  cfg.Telemetry.ServiceName,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		Insecure:     cfg.Telemetry.Insecure,
	})
	if err != nil {
		return nil, fmt.Errorf("setting up telemetry: %w", err)
	}

	var responses *cache.Cache[[]byte]
	if cfg.API.CacheTTL > 0 {
		responses = cache.New[[]byte](cache.Options{
			TTL:     cfg.API.CacheTTL,
			MaxSize: cfg.API.CacheSize,
		})
	}

	api := stampchain.NewClient(stampchain.Config{
		BaseURL:    cfg.API.BaseURL,
		Timeout:    cfg.API.Timeout,
		MaxRetries: cfg.API.MaxRetries,
		UserAgent:  cfg.API.UserAgent,
		Cache:      responses,
		Logger:     logger,
	})

	reg := registry.New(registry.Config{
		ValidateOnRegister:  cfg.Registry.ValidateOnRegister,
		AllowDuplicateNames: cfg.Registry.AllowDuplicateNames,
		MaxTools:            cfg.Registry.MaxTools,
		Logger:              logger,
	})
	if err := tools.RegisterAll(reg, tools.New(api, logger)); err != nil {
		closeCache(responses)
		return nil, fmt.Errorf("registering tools: %w", err)
	}

	sessions := session.NewManager(session.Config{
		MaxConnections: cfg.Sessions.MaxConnections,
		SessionTimeout: cfg.Sessions.SessionTimeout,
		Logger:         logger,
	})
	sessions.Subscribe(providers.Observer.Hooks())

	fcfg := protocol.FormatterConfig{
		IncludeStack:     cfg.Errors.IncludeStack,
		MaxMessageLength: cfg.Errors.MaxMessageLength,
		LogErrors:        cfg.Errors.LogErrors,
		Logger:           logger,
	}
	if cfg.Errors.Development {
		fcfg.IncludeContext = true
		fcfg.IncludeStack = true
	}

	srv, err := server.New(server.Config{
		Registry:      reg,
		Sessions:      sessions,
		Formatter:     protocol.NewFormatter(fcfg),
		Observer:      providers.Observer,
		Logger:        logger,
		Name:          cfg.Server.Name,
		Version:       version,
		Instructions:  instructions,
		ErrorDelivery: cfg.Server.ErrorDelivery,
		ExecTimeout:   cfg.Server.ExecTimeout,
		ShutdownGrace: cfg.Server.ShutdownGrace,
	})
	if err != nil {
		closeCache(responses)
		return nil, fmt.Errorf("creating server: %w", err)
	}

	return &app{
		server:    srv,
		registry:  reg,
		sessions:  sessions,
		telemetry: providers,
		responses: responses,
		logger:    logger,
	}, nil
}

// close flushes telemetry and stops the cache sweeper. The server's own
// shutdown runs inside Run.
func (a *app) close(ctx context.Context) {
	closeCache(a.responses)
	if err := a.telemetry.Shutdown(ctx); err != nil {
		a.logger.Warn("telemetry shutdown", "error", err)
	}
}

func closeCache(c *cache.Cache[[]byte]) {
	if c != nil {
		c.Close()
	}
}
