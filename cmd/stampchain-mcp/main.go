// ABOUTME: Entry point for stampchain-mcp, an MCP server for the Bitcoin Stamps API.
// ABOUTME: Subcommands: serve (stdio or HTTP), tools and health; --version prints the build.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/stampchain-mcp/internal/config"
	"github.com/2389/stampchain-mcp/internal/logging"
	"github.com/2389/stampchain-mcp/internal/server"
)

// Set via ldflags at build time.
var version = "dev"

const banner = `
     _                                 _           _
 ___| |_ __ _ _ __ ___  _ __   ___| |__   __ _(_)_ __        _ __ ___   ___ _ __
/ __| __/ _' | '_ ' _ \| '_ \ / __| '_ \ / _' | | '_ \ _____| '_ ' _ \ / __| '_ \
\__ \ || (_| | | | | | | |_) | (__| | | | (_| | | | | |_____| | | | | | (__| |_) |
|___/\__\__,_|_| |_| |_| .__/ \___|_| |_|\__,_|_|_| |_|     |_| |_| |_|\___| .__/
                       |_|                                                |_|
`

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "stampchain-mcp",
		Short: "MCP server for the Stampchain Bitcoin Stamps API",
		// SilenceUsage prevents printing usage on every error
		SilenceUsage: true,
	}
	root.PersistentFlags().String("config", "", "Path to config file (yaml or toml)")
	root.PersistentFlags().Bool("no-color", false, "Disable colored output")
	root.PersistentPreRun = func(cmd *cobra.Command, _ []string) {
		if noColor, _ := cmd.Flags().GetBool("no-color"); noColor {
			color.NoColor = true
		}
	}

	root.Version = version
	root.SetVersionTemplate(fmt.Sprintf("stampchain-mcp version %s\n", version))

	root.AddCommand(newServeCmd())
	root.AddCommand(newToolsCmd())
	root.AddCommand(newHealthCmd())
	return root
}

// loadConfig resolves the config path from --config and applies
// command-line overrides that were explicitly set.
func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	flagPath, _ := cmd.Flags().GetString("config")
	path, explicit := config.ResolvePath(flagPath)
	cfg, err := config.LoadOrDefault(path, explicit)
	if err != nil {
		return nil, path, fmt.Errorf("loading config: %w", err)
	}

	if f := cmd.Flags().Lookup("transport"); f != nil && f.Changed {
		cfg.Server.Transport = f.Value.String()
	}
	if f := cmd.Flags().Lookup("http-addr"); f != nil && f.Changed {
		cfg.Server.HTTPAddr = f.Value.String()
	}
	if f := cmd.Flags().Lookup("log-level"); f != nil && f.Changed {
		cfg.Logging.Level = f.Value.String()
	}
	if err := cfg.Validate(); err != nil {
		return nil, path, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, path, nil
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		RunE:  runServe,
	}
	cmd.Flags().String("transport", config.TransportStdio, "Transport: stdio or http")
	cmd.Flags().String("http-addr", "", "Listen address for the http transport")
	cmd.Flags().String("log-level", "", "Log level: debug, info, warn, error")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, path, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// stdout belongs to the stdio transport; everything human-facing goes to stderr.
	out := cmd.ErrOrStderr()
	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	green := color.New(color.FgGreen)
	cyan.Fprint(out, banner)
	gray.Fprintf(out, "    version: %s\n\n", version)
	green.Fprint(out, "    ▶ ")
	fmt.Fprintf(out, "Config:    %s\n", path)
	green.Fprint(out, "    ▶ ")
	fmt.Fprintf(out, "Transport: %s\n", cfg.Server.Transport)
	if cfg.Server.Transport == config.TransportHTTP {
		green.Fprint(out, "    ▶ ")
		fmt.Fprintf(out, "HTTP:      %s\n", cfg.Server.HTTPAddr)
	}
	green.Fprint(out, "    ▶ ")
	fmt.Fprintf(out, "API:       %s\n\n", cfg.API.BaseURL)

	logger := logging.New(logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.close(context.Background())

	logger.Info("starting stampchain-mcp",
		"version", version,
		"config", path,
		"transport", cfg.Server.Transport,
		"tools", app.registry.Stats().TotalTools,
	)

	return app.server.Run(ctx, server.RunOptions{
		Transport: cfg.Server.Transport,
		HTTPAddr:  cfg.Server.HTTPAddr,
	})
}

func newToolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the tools this server exposes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cfg.Telemetry.Enabled = false
			app, err := build(cmd.Context(), cfg, logging.New(logging.Options{Level: "error"}))
			if err != nil {
				return err
			}
			defer app.close(context.Background())

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CATEGORY\tTOOL\tDESCRIPTION")
			for _, category := range app.registry.Categories() {
				for _, name := range app.registry.ByCategory(category) {
					tool, err := app.registry.Get(name)
					if err != nil {
						continue
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\n", category, tool.Name, tool.Description)
				}
			}
			return tw.Flush()
		},
	}
}

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check a running HTTP server's health endpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			url := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, url, nil)
			if err != nil {
				return fmt.Errorf("creating request: %w", err)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			defer resp.Body.Close()

			var status server.HealthStatus
			if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
				return fmt.Errorf("decoding health response: %w", err)
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("unhealthy: status %d (%s)", resp.StatusCode, status.Status)
			}

			color.New(color.FgGreen).Fprint(cmd.OutOrStdout(), "healthy")
			fmt.Fprintf(cmd.OutOrStdout(), " sessions=%d tools=%d\n", status.Sessions.Total, status.Registry.TotalTools)
			return nil
		},
	}
}
