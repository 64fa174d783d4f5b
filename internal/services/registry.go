package services

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fyrsmithlabs/lmaudit/internal/orchestrator"
	"github.com/fyrsmithlabs/lmaudit/internal/pipeline"
	"github.com/fyrsmithlabs/lmaudit/internal/report"
)

// Registry provides access to the lmaudit services.
type Registry interface {
	Audits() *pipeline.Auditor
	Tasks() *orchestrator.Orchestrator
	Reports() report.Store
	Analytics() *report.Analytics
	Rules() pipeline.RuleSource
	Metrics() prometheus.Gatherer
}

// Options configures the registry with service instances.
type Options struct {
	Audits    *pipeline.Auditor
	Tasks     *orchestrator.Orchestrator
	Reports   report.Store
	Analytics *report.Analytics
	Rules     pipeline.RuleSource
	Metrics   prometheus.Gatherer
}

type registry struct {
	audits    *pipeline.Auditor
	tasks     *orchestrator.Orchestrator
	reports   report.Store
	analytics *report.Analytics
	rules     pipeline.RuleSource
	metrics   prometheus.Gatherer
}

// NewRegistry creates a registry. Analytics default to the report store and
// metrics to the default Prometheus gatherer.
func NewRegistry(opts Options) Registry {
	r := &registry{
		audits:    opts.Audits,
		tasks:     opts.Tasks,
		reports:   opts.Reports,
		analytics: opts.Analytics,
		rules:     opts.Rules,
		metrics:   opts.Metrics,
	}
	if r.analytics == nil && r.reports != nil {
		r.analytics = report.NewAnalytics(r.reports)
	}
	if r.metrics == nil {
		r.metrics = prometheus.DefaultGatherer
	}
	return r
}

func (r *registry) Audits() *pipeline.Auditor         { return r.audits }
func (r *registry) Tasks() *orchestrator.Orchestrator { return r.tasks }
func (r *registry) Reports() report.Store             { return r.reports }
func (r *registry) Analytics() *report.Analytics      { return r.analytics }
func (r *registry) Rules() pipeline.RuleSource        { return r.rules }
func (r *registry) Metrics() prometheus.Gatherer      { return r.metrics }
