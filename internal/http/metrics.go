package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/lmaudit/internal/telemetry"
)

const httpInstrumentationName = "lmaudit.http"

// HTTPMetrics records request and audit failure metrics. Instruments that
// fail to register are left nil and skipped.
type HTTPMetrics struct {
	meter  metric.Meter
	logger *zap.Logger

	requests      metric.Int64Counter
	duration      metric.Float64Histogram
	responseSize  metric.Int64Histogram
	inFlight      metric.Int64UpDownCounter
	auditFailures metric.Int64Counter
}

// NewHTTPMetrics creates HTTPMetrics on tel's meter provider. A nil tel
// uses the global provider.
func NewHTTPMetrics(tel *telemetry.Telemetry, logger *zap.Logger) *HTTPMetrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &HTTPMetrics{meter: tel.Meter(httpInstrumentationName), logger: logger}
	m.init()
	return m
}

func (m *HTTPMetrics) init() {
	warn := func(name string, err error) {
		if err != nil {
			m.logger.Warn("failed to create http instrument", zap.String("instrument", name), zap.Error(err))
		}
	}
	var err error

	m.requests, err = m.meter.Int64Counter("lmaudit.http.requests_total",
		metric.WithDescription("HTTP requests by method, route and status code"),
		metric.WithUnit("{request}"))
	warn("requests_total", err)

	// Audits call scrapers, OCR and an LLM, so the buckets reach two minutes.
	m.duration, err = m.meter.Float64Histogram("lmaudit.http.request_duration_seconds",
		metric.WithDescription("HTTP request duration by method, route and status code"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.025, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120))
	warn("request_duration_seconds", err)

	m.responseSize, err = m.meter.Int64Histogram("lmaudit.http.response_size_bytes",
		metric.WithDescription("HTTP response body size by route"),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(100, 1000, 10000, 100000, 1000000))
	warn("response_size_bytes", err)

	m.inFlight, err = m.meter.Int64UpDownCounter("lmaudit.http.active_requests",
		metric.WithDescription("HTTP requests in flight"),
		metric.WithUnit("{request}"))
	warn("active_requests", err)

	m.auditFailures, err = m.meter.Int64Counter("lmaudit.http.audit_failures_total",
		metric.WithDescription("Audit requests answered with 422, by pipeline stage"),
		metric.WithUnit("{audit}"))
	warn("audit_failures_total", err)
}

// MetricsMiddleware returns an Echo middleware that records HTTP metrics.
// Handler errors have not been written yet when it runs, so their status is
// taken from the error itself.
func (m *HTTPMetrics) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			start := time.Now()
			m.addInFlight(ctx, 1)
			defer m.addInFlight(ctx, -1)

			err := next(c)

			status := c.Response().Status
			var he *echo.HTTPError
			if errors.As(err, &he) {
				status = he.Code
				if resp, ok := he.Message.(ErrorResponse); ok && resp.Stage != "" && m.auditFailures != nil {
					m.auditFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", resp.Stage)))
				}
			} else if err != nil {
				status = http.StatusInternalServerError
			}

			route := routeOf(c.Path())
			attrs := metric.WithAttributes(
				attribute.String("method", c.Request().Method),
				attribute.String("route", route),
				attribute.Int("status", status),
			)
			if m.requests != nil {
				m.requests.Add(ctx, 1, attrs)
			}
			if m.duration != nil {
				m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
			}
			if m.responseSize != nil {
				m.responseSize.Record(ctx, c.Response().Size, metric.WithAttributes(attribute.String("route", route)))
			}
			return err
		}
	}
}

func (m *HTTPMetrics) addInFlight(ctx context.Context, n int64) {
	if m.inFlight != nil {
		m.inFlight.Add(ctx, n)
	}
}

// routeOf returns the matched route pattern so task and report ids do not
// become label values. Unmatched requests share one label.
func routeOf(path string) string {
	if path == "" {
		return "unmatched"
	}
	return path
}
