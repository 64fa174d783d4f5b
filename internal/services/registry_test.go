package services

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/lmaudit/internal/config"
	"github.com/fyrsmithlabs/lmaudit/internal/logging"
	"github.com/fyrsmithlabs/lmaudit/internal/pipeline"
	"github.com/fyrsmithlabs/lmaudit/internal/report"
	"github.com/fyrsmithlabs/lmaudit/internal/rules"
	"github.com/fyrsmithlabs/lmaudit/internal/telemetry"
)

func TestNewRegistry_Defaults(t *testing.T) {
	store := report.NewMemoryStore()
	reg := NewRegistry(Options{Reports: store})

	assert.Same(t, store, reg.Reports())
	assert.NotNil(t, reg.Analytics(), "analytics default to the report store")
	assert.Equal(t, prometheus.DefaultGatherer, reg.Metrics())
	assert.Nil(t, reg.Audits())
	assert.Nil(t, reg.Tasks())
}

func TestNewRegistry_KeepsGivenServices(t *testing.T) {
	store := report.NewMemoryStore()
	analytics := report.NewAnalytics(store)
	gatherer := prometheus.NewRegistry()
	book := rules.Static(rules.Default())

	reg := NewRegistry(Options{Reports: store, Analytics: analytics, Metrics: gatherer, Rules: book})
	assert.Same(t, analytics, reg.Analytics())
	assert.Equal(t, prometheus.Gatherer(gatherer), reg.Metrics())
	assert.Equal(t, pipeline.RuleSource(book), reg.Rules())
}

func offlineConfig() *config.Config {
	cfg := config.Default()
	cfg.Store.Driver = "memory"
	cfg.VectorStore.Provider = "none"
	cfg.Generation.Provider = "noop"
	return cfg
}

func TestBuild_Offline(t *testing.T) {
	logger := logging.NewTestLogger()
	tel := telemetry.NewTestTelemetry()
	reg, closeFn, err := Build(context.Background(), offlineConfig(), logger.Logger, tel.Telemetry)
	require.NoError(t, err)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, closeFn(ctx))
	}()

	assert.Equal(t, rules.Default().Version(), reg.Rules().Current().Version())
	require.NotNil(t, reg.Tasks())

	rep, err := reg.Audits().AuditForm(context.Background(), pipeline.Form{
		SellerID: "s-1",
		Text:     "Manufacturer: Acme Foods\nNet Qty: 500 g\nMRP: Rs. 120 (incl. of all taxes)\nCountry of Origin: India",
	})
	require.NoError(t, err)

	saved, err := reg.Reports().Get(context.Background(), rep.ProductID)
	require.NoError(t, err)
	assert.Equal(t, rep.ComplianceScore, saved.ComplianceScore)

	summary, err := reg.Analytics().Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.TotalAudited)

	families, err := reg.Metrics().Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "lmaudit_orchestrator_tasks_running")

	tel.AssertSpanExists(t, "pipeline.extract")
	logger.AssertLogged(t, zapcore.InfoLevel, "services initialized")
}

func TestBuild_Failures(t *testing.T) {
	badRules := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(badRules, []byte("version: [\n"), 0o600))

	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{name: "missing rule file", mutate: func(c *config.Config) { c.Rules.Path = filepath.Join(t.TempDir(), "absent.yaml") }},
		{name: "invalid rule file", mutate: func(c *config.Config) { c.Rules.Path = badRules }},
		{name: "missing corpus", mutate: func(c *config.Config) { c.VectorStore.CorpusPath = filepath.Join(t.TempDir(), "corpus.txt") }},
		{name: "openai without key", mutate: func(c *config.Config) { c.Generation.Provider = "openai" }},
		{name: "unknown store", mutate: func(c *config.Config) { c.Store.Driver = "postgres" }},
		{name: "nats unreachable", mutate: func(c *config.Config) { c.Events.NATSURL = "nats://127.0.0.1:1" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := offlineConfig()
			tt.mutate(cfg)
			reg, closeFn, err := Build(context.Background(), cfg, nil, nil)
			assert.Error(t, err)
			assert.Nil(t, reg)
			assert.Nil(t, closeFn)
		})
	}
}
