// Lmauditd is the legal metrology audit daemon.
//
// It serves the REST API and Prometheus metrics over HTTP, or the MCP tool
// server over stdio when started with --mcp.
//
// Configuration is read from ~/.config/lmaudit/config.yaml (or --config) and
// LMAUDIT_* environment variables. See internal/config for details.
//
// Usage:
//
//	# Start the HTTP API on localhost:9090
//	lmauditd
//
//	# Serve MCP tools to an agent over stdio
//	lmauditd --mcp
//
//	# Override settings via environment
//	LMAUDIT_SERVER_HTTP_PORT=8080 LMAUDIT_STORE_DRIVER=memory lmauditd
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/lmaudit/internal/config"
	httpserver "github.com/fyrsmithlabs/lmaudit/internal/http"
	"github.com/fyrsmithlabs/lmaudit/internal/logging"
	"github.com/fyrsmithlabs/lmaudit/internal/mcp"
	"github.com/fyrsmithlabs/lmaudit/internal/services"
	"github.com/fyrsmithlabs/lmaudit/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	configPath = flag.String("config", "", "path to the config file (default ~/.config/lmaudit/config.yaml)")
	mcpMode    = flag.Bool("mcp", false, "serve MCP tools over stdio instead of HTTP")
)

func main() {
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  lmauditd [--config FILE] [--mcp]   Start the audit daemon\n")
			fmt.Fprintf(os.Stderr, "  lmauditd version                   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, *mcpMode); err != nil {
		fmt.Fprintf(os.Stderr, "lmauditd: %v\n", err)
		os.Exit(1)
	}
}

func printVersion() {
	fmt.Printf("lmauditd %s\n", version)
	fmt.Printf("  commit: %s\n", gitCommit)
	fmt.Printf("  built:  %s\n", buildDate)
}

// run wires the service graph and blocks until ctx is cancelled or the
// selected transport fails.
func run(ctx context.Context, path string, stdio bool) error {
	cfg, err := config.LoadWithFile(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	tel, err := initTelemetry(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = tel.Shutdown(context.Background())
	}()

	logger, err := initLogger(cfg, stdio)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	logger.Info(ctx, "starting lmauditd",
		zap.String("version", version),
		zap.String("commit", gitCommit),
		zap.Bool("mcp", stdio),
	)

	reg, closeServices, err := services.Build(ctx, cfg, logger, tel)
	if err != nil {
		return fmt.Errorf("initializing services: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		if err := closeServices(shutdownCtx); err != nil {
			logger.Warn(shutdownCtx, "service shutdown incomplete", zap.Error(err))
		}
		logger.Info(shutdownCtx, "lmauditd stopped")
	}()

	if stdio {
		return serveMCP(ctx, reg, logger, tel)
	}
	return serveHTTP(ctx, cfg, reg, logger, tel)
}

func initTelemetry(ctx context.Context, cfg *config.Config) (*telemetry.Telemetry, error) {
	telCfg := telemetry.NewDefaultConfig()
	telCfg.ServiceVersion = version
	if err := cfg.Decode("telemetry", telCfg); err != nil {
		return nil, err
	}
	tel, err := telemetry.New(ctx, telCfg)
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}
	return tel, nil
}

// initLogger builds the process logger. In stdio mode stdout belongs to the
// MCP protocol, so console output moves to stderr.
func initLogger(cfg *config.Config, stdio bool) (*logging.Logger, error) {
	logCfg := logging.NewDefaultConfig()
	if err := cfg.Decode("logging", logCfg); err != nil {
		return nil, err
	}
	if stdio && logCfg.Output.Stdout {
		logCfg.Output.Stdout = false
		logCfg.Output.Stderr = true
	}
	logger, err := logging.NewLogger(logCfg, nil)
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	return logger.Named("lmauditd"), nil
}

func serveHTTP(ctx context.Context, cfg *config.Config, reg services.Registry, logger *logging.Logger, tel *telemetry.Telemetry) error {
	srv, err := httpserver.NewServer(reg, logger.Underlying(), &httpserver.Config{
		Host:      cfg.Server.Host,
		Port:      cfg.Server.Port,
		Telemetry: tel,
	})
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	if err := srv.Start(ctx, cfg.Server.ShutdownTimeout.Duration()); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func serveMCP(ctx context.Context, reg services.Registry, logger *logging.Logger, tel *telemetry.Telemetry) error {
	mcpCfg := mcp.DefaultConfig()
	mcpCfg.Version = version
	mcpCfg.Logger = logger.Underlying()
	mcpCfg.Telemetry = tel

	srv, err := mcp.NewServer(mcpCfg, reg)
	if err != nil {
		return fmt.Errorf("creating mcp server: %w", err)
	}

	logger.Info(ctx, "mcp server running on stdio", zap.Int("tools", srv.Tools().Count()))
	start := time.Now()
	err = srv.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcp server: %w", err)
	}
	logger.Info(ctx, "mcp session ended", zap.Duration("uptime", time.Since(start)))
	return nil
}
