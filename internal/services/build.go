package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/lmaudit/internal/config"
	"github.com/fyrsmithlabs/lmaudit/internal/embeddings"
	"github.com/fyrsmithlabs/lmaudit/internal/extraction"
	"github.com/fyrsmithlabs/lmaudit/internal/generation"
	"github.com/fyrsmithlabs/lmaudit/internal/logging"
	"github.com/fyrsmithlabs/lmaudit/internal/ocr"
	"github.com/fyrsmithlabs/lmaudit/internal/orchestrator"
	"github.com/fyrsmithlabs/lmaudit/internal/pipeline"
	"github.com/fyrsmithlabs/lmaudit/internal/report"
	"github.com/fyrsmithlabs/lmaudit/internal/retrieval"
	"github.com/fyrsmithlabs/lmaudit/internal/rules"
	"github.com/fyrsmithlabs/lmaudit/internal/scraper"
	"github.com/fyrsmithlabs/lmaudit/internal/telemetry"
	"github.com/fyrsmithlabs/lmaudit/internal/vectorstore"
)

// CloseFunc releases everything Build opened. Running tasks get until ctx
// is done to finish their in-flight audits.
type CloseFunc func(ctx context.Context) error

// dependencies holds resources that outlive a single request.
type dependencies struct {
	embedder embeddings.Provider
	vectors  vectorstore.Store
	reports  report.Store
	nc       *nats.Conn
	tasks    *orchestrator.Orchestrator
}

func (d *dependencies) close(ctx context.Context) error {
	var errs []error
	if d.tasks != nil {
		errs = append(errs, d.tasks.Close(ctx))
	}
	if d.nc != nil {
		errs = append(errs, d.nc.Drain())
	}
	if d.reports != nil {
		errs = append(errs, d.reports.Close())
	}
	if d.vectors != nil {
		errs = append(errs, d.vectors.Close())
	}
	if d.embedder != nil {
		errs = append(errs, d.embedder.Close())
	}
	return errors.Join(errs...)
}

// Build constructs every service from cfg.
//
// Components that only enrich reports degrade instead of failing startup:
// an unavailable embedder or vector store leaves keyword retrieval. The rule
// book, the report store and a configured NATS server are required.
func Build(ctx context.Context, cfg *config.Config, logger *logging.Logger, tel *telemetry.Telemetry) (Registry, CloseFunc, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	zl := logger.Underlying()
	deps := &dependencies{}
	fail := func(err error) (Registry, CloseFunc, error) {
		_ = deps.close(ctx)
		return nil, nil, err
	}

	ruleBooks, err := rules.NewRegistry(cfg.Rules.Path, zl.Named("rules"))
	if err != nil {
		return fail(fmt.Errorf("failed to load rule book: %w", err))
	}
	if cfg.Rules.Watch {
		if err := ruleBooks.Watch(ctx); err != nil {
			return fail(err)
		}
	}

	retriever, err := initRetrieval(ctx, cfg, zl, deps)
	if err != nil {
		return fail(err)
	}

	generator, err := generation.New(cfg.Generation, zl.Named("generation"))
	if err != nil {
		return fail(fmt.Errorf("failed to create generator: %w", err))
	}

	deps.reports, err = report.Open(cfg.Store.Driver, cfg.Store.DSN, zl.Named("report"))
	if err != nil {
		return fail(fmt.Errorf("failed to open report store: %w", err))
	}

	p, err := pipeline.New(
		extraction.New(logger.Named("extraction")),
		ruleBooks,
		retriever,
		generator,
		pipeline.WithStore(deps.reports),
		pipeline.WithLogger(logger.Named("pipeline")),
		pipeline.WithTelemetry(tel),
	)
	if err != nil {
		return fail(err)
	}

	fetcher := scraper.NewFetcher(cfg.Scraper, zl.Named("scraper"))
	sources := pipeline.NewSources(fetcher, ocr.New(cfg.OCR, zl.Named("ocr")), cfg.Scraper.MaxImages, zl.Named("sources"))
	auditor := pipeline.NewAuditor(p, sources)

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	opts := []orchestrator.Option{
		orchestrator.WithMetrics(orchestrator.NewMetrics(promReg)),
		orchestrator.WithLogger(logger.Named("orchestrator")),
	}
	if cfg.Events.NATSURL != "" {
		deps.nc, err = orchestrator.ConnectNATS(cfg.Events.NATSURL, "lmauditd")
		if err != nil {
			return fail(err)
		}
		opts = append(opts, orchestrator.WithPublisher(orchestrator.NewNATSPublisher(deps.nc, cfg.Events.SubjectPrefix)))
		zl.Info("task events enabled",
			zap.String("url", cfg.Events.NATSURL),
			zap.String("subject_prefix", cfg.Events.SubjectPrefix))
	}
	deps.tasks = orchestrator.New(
		auditor,
		scraper.NewDiscoverer(fetcher, zl.Named("discovery")),
		orchestrator.ConfigFrom(cfg.Audit, cfg.Server),
		opts...,
	)

	reg := NewRegistry(Options{
		Audits:  auditor,
		Tasks:   deps.tasks,
		Reports: deps.reports,
		Rules:   ruleBooks,
		Metrics: promReg,
	})
	zl.Info("services initialized",
		zap.String("rule_version", ruleBooks.Current().Version()),
		zap.String("generation", cfg.Generation.Provider),
		zap.Bool("vector_retrieval", deps.vectors != nil),
		zap.String("store", cfg.Store.Driver))
	return reg, deps.close, nil
}

// initRetrieval builds the clause retriever and indexes the legal corpus.
func initRetrieval(ctx context.Context, cfg *config.Config, zl *zap.Logger, deps *dependencies) (*retrieval.Retriever, error) {
	if cfg.VectorStore.Provider != "none" {
		embedder, err := embeddings.NewProvider(cfg.Embeddings, zl.Named("embeddings"))
		if err != nil {
			zl.Warn("embeddings unavailable, using keyword retrieval", zap.Error(err))
		} else {
			deps.embedder = embedder
			store, err := vectorstore.New(cfg.VectorStore, embedder, zl.Named("vectorstore"))
			if err != nil {
				zl.Warn("vector store unavailable, using keyword retrieval",
					zap.String("provider", cfg.VectorStore.Provider),
					zap.Error(err))
			} else {
				deps.vectors = store
			}
		}
	}

	r := retrieval.New(deps.vectors, cfg.Audit.RetrievalK, retrieval.WithLogger(zl.Named("retrieval")))
	n, err := r.Index(ctx, cfg.VectorStore.CorpusPath)
	if err != nil {
		return nil, fmt.Errorf("failed to index legal corpus: %w", err)
	}
	zl.Info("legal corpus indexed", zap.Int("chunks", n))
	return r, nil
}
