package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the Prometheus collectors of the orchestrator.
type Metrics struct {
	// TasksTotal counts finished tasks. Labels: state (completed, failed)
	TasksTotal *prometheus.CounterVec

	// TasksRunning is the number of tasks past submission and not yet finished.
	TasksRunning prometheus.Gauge

	// ProductsTotal counts product audits. Labels: outcome (ok, failed, cancelled)
	ProductsTotal *prometheus.CounterVec

	// ProductDuration observes per-product audit latency.
	ProductDuration prometheus.Histogram
}

// NewMetrics registers the collectors with reg. A nil reg leaves them
// unregistered, which tests use to avoid global state.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TasksTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lmaudit",
			Subsystem: "orchestrator",
			Name:      "tasks_total",
			Help:      "Bulk audit tasks by terminal state",
		}, []string{"state"}),
		TasksRunning: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "lmaudit",
			Subsystem: "orchestrator",
			Name:      "tasks_running",
			Help:      "Bulk audit tasks currently pending or running",
		}),
		ProductsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lmaudit",
			Subsystem: "orchestrator",
			Name:      "products_total",
			Help:      "Products audited by bulk tasks, by outcome",
		}, []string{"outcome"}),
		ProductDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "lmaudit",
			Subsystem: "orchestrator",
			Name:      "product_duration_seconds",
			Help:      "Duration of single product audits in bulk tasks",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 90, 120},
		}),
	}
}
