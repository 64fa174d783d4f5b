// Package pipeline runs the audit of a single product:
//
//	Extract → Validate → (violations only) Retrieve → Generate → Assemble
//
// Extraction and validation are required and fail the audit with an
// AuditFailure. Retrieval and generation are best-effort: their failures are
// recorded on the report's enrichment outcome and never abort it. A Pipeline
// holds no per-run state, so Run is safe to call concurrently.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/lmaudit/internal/catalog"
	"github.com/fyrsmithlabs/lmaudit/internal/extraction"
	"github.com/fyrsmithlabs/lmaudit/internal/generation"
	"github.com/fyrsmithlabs/lmaudit/internal/logging"
	"github.com/fyrsmithlabs/lmaudit/internal/report"
	"github.com/fyrsmithlabs/lmaudit/internal/retrieval"
	"github.com/fyrsmithlabs/lmaudit/internal/rules"
	"github.com/fyrsmithlabs/lmaudit/internal/telemetry"
)

const instrumentationName = "lmaudit.pipeline"

// Extractor builds a field map from product input.
type Extractor interface {
	Extract(ctx context.Context, in extraction.ProductInput) (*extraction.FieldMap, catalog.Category)
}

// RuleSource hands out the rule book in force.
type RuleSource interface {
	Current() *rules.Book
}

// Retriever finds legal clauses for a batch of violations.
type Retriever interface {
	Retrieve(ctx context.Context, violations []rules.Violation) ([]retrieval.Clause, error)
}

// Pipeline audits single products.
type Pipeline struct {
	extractor Extractor
	rules     RuleSource
	retriever Retriever
	generator generation.Generator
	store     report.Store

	logger *logging.Logger
	tel    *telemetry.Telemetry
	tracer trace.Tracer

	audits      metric.Int64Counter
	violations  metric.Int64Counter
	unavailable metric.Int64Counter

	now   func() time.Time
	newID func() string
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithStore saves every assembled report.
func WithStore(s report.Store) Option {
	return func(p *Pipeline) { p.store = s }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithTelemetry takes tracer and meter from t instead of the global providers.
func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(p *Pipeline) { p.tel = t }
}

// WithClock overrides the report timestamp source.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithIDFunc overrides product id generation for inputs without one.
func WithIDFunc(fn func() string) Option {
	return func(p *Pipeline) { p.newID = fn }
}

// New creates a Pipeline. A nil retriever skips clause grounding. A nil
// generator leaves every report with violations unexplained.
func New(ex Extractor, rs RuleSource, r Retriever, g generation.Generator, opts ...Option) (*Pipeline, error) {
	if ex == nil {
		return nil, fmt.Errorf("extractor is required")
	}
	if rs == nil {
		return nil, fmt.Errorf("rule source is required")
	}
	if g == nil {
		g = generation.NoOp{}
	}
	p := &Pipeline{
		extractor: ex,
		rules:     rs,
		retriever: r,
		generator: g,
		logger:    logging.NewNop(),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}

	p.tracer = p.tel.Tracer(instrumentationName)
	meter := p.tel.Meter(instrumentationName)
	var err error
	if p.audits, err = meter.Int64Counter("lmaudit.audits.total",
		metric.WithDescription("Product audits by outcome")); err != nil {
		return nil, fmt.Errorf("creating audits counter: %w", err)
	}
	if p.violations, err = meter.Int64Counter("lmaudit.violations.total",
		metric.WithDescription("Rule violations found")); err != nil {
		return nil, fmt.Errorf("creating violations counter: %w", err)
	}
	if p.unavailable, err = meter.Int64Counter("lmaudit.enrichment.unavailable",
		metric.WithDescription("Reports assembled without explanation text")); err != nil {
		return nil, fmt.Errorf("creating enrichment counter: %w", err)
	}
	return p, nil
}

// Run audits one product. Failures of the required stages come back as
// *AuditFailure; a report is returned for every other outcome.
func (p *Pipeline) Run(ctx context.Context, in extraction.ProductInput) (*report.AuditReport, error) {
	if in.ProductID == "" {
		in.ProductID = p.newID()
	}
	ctx = logging.WithProductID(ctx, in.ProductID)

	fm, category, err := p.extract(ctx, in)
	if err != nil {
		return nil, p.fail(ctx, in.ProductID, StageExtract, err)
	}

	result, err := p.validate(ctx, fm, category)
	if err != nil {
		return nil, p.fail(ctx, in.ProductID, StageValidate, err)
	}

	rep := &report.AuditReport{
		ProductID:       in.ProductID,
		SellerID:        in.SellerID,
		ProductName:     in.ProductName,
		SourceURL:       in.SourceURL,
		Category:        category,
		FieldMap:        fm,
		Violations:      result.Violations,
		ComplianceScore: result.Score,
		RiskLevel:       result.Risk,
		RuleVersion:     result.RuleVersion,
		Enrichment:      report.Enrichment{Status: report.EnrichmentSkipped},
	}
	if len(result.Violations) > 0 {
		p.enrich(ctx, rep)
	}
	rep.CreatedAt = p.now().UTC()

	if p.store != nil {
		if err := p.store.Save(ctx, rep); err != nil {
			return nil, p.fail(ctx, in.ProductID, StagePersist, err)
		}
	}

	p.audits.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", "ok"),
		attribute.String("risk_level", string(rep.RiskLevel)),
	))
	p.violations.Add(ctx, int64(len(rep.Violations)), metric.WithAttributes(
		attribute.String("category", string(category)),
	))
	p.logger.Info(ctx, "product audited",
		zap.String("category", string(category)),
		zap.Int("score", rep.ComplianceScore),
		zap.String("risk_level", string(rep.RiskLevel)),
		zap.Int("violations", len(rep.Violations)),
		zap.String("enrichment", string(rep.Enrichment.Status)),
	)
	return rep, nil
}

func (p *Pipeline) extract(ctx context.Context, in extraction.ProductInput) (fm *extraction.FieldMap, category catalog.Category, err error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.extract",
		trace.WithAttributes(attribute.Int("sources", len(in.Sources))))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("extractor panic: %v", r)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "extraction failed")
		}
	}()

	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	fm, category = p.extractor.Extract(ctx, in)
	if fm == nil {
		return nil, "", fmt.Errorf("extractor returned no field map")
	}
	span.SetAttributes(
		attribute.String("category", string(category)),
		attribute.Int("populated", len(fm.Populated())),
	)
	return fm, category, nil
}

func (p *Pipeline) validate(ctx context.Context, fm *extraction.FieldMap, category catalog.Category) (rules.Result, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.validate",
		trace.WithAttributes(attribute.String("category", string(category))))
	defer span.End()

	if err := ctx.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cancelled")
		return rules.Result{}, err
	}
	book := p.rules.Current()
	if book == nil {
		err := fmt.Errorf("%w: no rule book loaded", rules.ErrNoRuleSet)
		span.RecordError(err)
		span.SetStatus(codes.Error, "no rule book")
		return rules.Result{}, err
	}
	result, err := book.Validate(fm, category)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		return rules.Result{}, err
	}
	span.SetAttributes(
		attribute.String("rule_version", result.RuleVersion),
		attribute.Int("violations", len(result.Violations)),
		attribute.Int("score", result.Score),
	)
	return result, nil
}

// enrich runs the best-effort stages and records their outcome on rep.
func (p *Pipeline) enrich(ctx context.Context, rep *report.AuditReport) {
	var reasons []string
	unavailable := func(stage Stage, err error) {
		reasons = append(reasons, fmt.Sprintf("%s: %v", stage, err))
		p.logger.Warn(ctx, "enrichment degraded",
			zap.String("stage", string(stage)),
			zap.Error(fmt.Errorf("%w: %v", ErrEnrichmentUnavailable, err)),
		)
	}

	clauses := p.retrieve(ctx, rep.Violations, unavailable)

	gctx, span := p.tracer.Start(ctx, "pipeline.generate",
		trace.WithAttributes(attribute.Int("clauses", len(clauses))))
	exp, err := p.generator.Generate(gctx, rep.FieldMap, rep.Violations, clauses)
	if err == nil && exp.Empty() {
		err = generation.ErrEmptyReply
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		unavailable(StageGenerate, err)
	}
	span.End()

	rep.Enrichment = report.Enrichment{Clauses: clauses, Reasons: reasons}
	if err != nil {
		rep.Enrichment.Status = report.EnrichmentUnavailable
		p.unavailable.Add(ctx, 1)
		return
	}
	rep.Enrichment.Status = report.EnrichmentAvailable
	rep.Explanation = exp.Explanation
	rep.SuggestedCorrection = exp.SuggestedCorrection
	rep.RiskSummary = exp.RiskSummary
}

func (p *Pipeline) retrieve(ctx context.Context, violations []rules.Violation, unavailable func(Stage, error)) []string {
	if p.retriever == nil {
		return nil
	}
	ctx, span := p.tracer.Start(ctx, "pipeline.retrieve",
		trace.WithAttributes(attribute.Int("violations", len(violations))))
	defer span.End()

	clauses, err := p.retriever.Retrieve(ctx, violations)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "retrieval failed")
		unavailable(StageRetrieve, err)
		return nil
	}
	span.SetAttributes(attribute.Int("clauses", len(clauses)))
	return retrieval.Texts(clauses)
}

func (p *Pipeline) fail(ctx context.Context, productID string, stage Stage, cause error) error {
	p.audits.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", "failed"),
		attribute.String("stage", string(stage)),
	))
	p.logger.Error(ctx, "product audit failed",
		zap.String("stage", string(stage)),
		zap.Error(cause),
	)
	return &AuditFailure{ProductID: productID, Stage: stage, Cause: cause}
}
