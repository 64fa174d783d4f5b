package mcp

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/lmaudit/internal/orchestrator"
	"github.com/fyrsmithlabs/lmaudit/internal/pipeline"
	"github.com/fyrsmithlabs/lmaudit/internal/report"
	"github.com/fyrsmithlabs/lmaudit/internal/telemetry"
)

const instrumentationName = "lmaudit.mcp"

// Metrics records tool invocations.
type Metrics struct {
	invocations metric.Int64Counter
	duration    metric.Float64Histogram
	errors      metric.Int64Counter
	active      metric.Int64UpDownCounter
}

// NewMetrics creates tool metrics on the meter of tel. Instruments that
// cannot be created are logged and skipped.
func NewMetrics(tel *telemetry.Telemetry, logger *zap.Logger) *Metrics {
	meter := tel.Meter(instrumentationName)
	m := &Metrics{}
	var err error

	if m.invocations, err = meter.Int64Counter("lmaudit.mcp.tool.invocations",
		metric.WithDescription("MCP tool invocations"),
		metric.WithUnit("{invocation}")); err != nil {
		logger.Warn("failed to create invocations counter", zap.Error(err))
	}
	if m.duration, err = meter.Float64Histogram("lmaudit.mcp.tool.duration",
		metric.WithDescription("MCP tool latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60)); err != nil {
		logger.Warn("failed to create duration histogram", zap.Error(err))
	}
	if m.errors, err = meter.Int64Counter("lmaudit.mcp.tool.errors",
		metric.WithDescription("MCP tool errors by reason"),
		metric.WithUnit("{error}")); err != nil {
		logger.Warn("failed to create errors counter", zap.Error(err))
	}
	if m.active, err = meter.Int64UpDownCounter("lmaudit.mcp.tool.active",
		metric.WithDescription("MCP tool calls in flight"),
		metric.WithUnit("{request}")); err != nil {
		logger.Warn("failed to create active requests counter", zap.Error(err))
	}
	return m
}

// Start marks a call in flight and returns the func that records its end.
func (m *Metrics) Start(ctx context.Context, tool string) func(error) {
	attrs := metric.WithAttributes(attribute.String("tool", tool))
	if m.active != nil {
		m.active.Add(ctx, 1, attrs)
	}
	start := time.Now()
	return func(err error) {
		if m.active != nil {
			m.active.Add(ctx, -1, attrs)
		}
		if m.invocations != nil {
			m.invocations.Add(ctx, 1, attrs)
		}
		if m.duration != nil {
			m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
		}
		if err != nil && m.errors != nil {
			m.errors.Add(ctx, 1, metric.WithAttributes(
				attribute.String("tool", tool),
				attribute.String("reason", errorReason(err)),
			))
		}
	}
}

func errorReason(err error) string {
	var failure *pipeline.AuditFailure
	switch {
	case err == nil:
		return ""
	case errors.As(err, &failure):
		return "audit_" + string(failure.Stage)
	case errors.Is(err, pipeline.ErrInvalidInput), errors.Is(err, orchestrator.ErrInvalidRequest):
		return "invalid_input"
	case errors.Is(err, report.ErrNotFound), errors.Is(err, orchestrator.ErrTaskNotFound):
		return "not_found"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	}
	return "internal"
}
