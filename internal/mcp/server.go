package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/lmaudit/internal/services"
	"github.com/fyrsmithlabs/lmaudit/internal/telemetry"
)

// Server exposes audit services as MCP tools.
type Server struct {
	mcp      *mcp.Server
	services services.Registry
	tools    *ToolRegistry
	metrics  *Metrics
	logger   *zap.Logger
}

// Config configures the MCP server.
type Config struct {
	// Name is the implementation name sent to clients (default: "lmaudit").
	Name    string
	Version string
	Logger  *zap.Logger
	// Telemetry receives tool metrics. Nil uses the global meter provider.
	Telemetry *telemetry.Telemetry
}

// DefaultConfig returns the defaults used when NewServer gets a nil config.
func DefaultConfig() *Config {
	return &Config{
		Name:    "lmaudit",
		Version: "1.0.0",
		Logger:  zap.NewNop(),
	}
}

// NewServer creates a server with every tool registered.
func NewServer(cfg *Config, reg services.Registry) (*Server, error) {
	if reg == nil {
		return nil, fmt.Errorf("service registry is required")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	s := &Server{
		mcp:      mcp.NewServer(&mcp.Implementation{Name: cfg.Name, Version: cfg.Version}, nil),
		services: reg,
		tools:    NewToolRegistry(),
		metrics:  NewMetrics(cfg.Telemetry, cfg.Logger),
		logger:   cfg.Logger,
	}
	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}
	return s, nil
}

// Tools returns the registered tool metadata.
func (s *Server) Tools() *ToolRegistry {
	return s.tools
}

// Run serves MCP on stdio until ctx is done or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport", zap.Int("tools", s.tools.Count()))
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}
