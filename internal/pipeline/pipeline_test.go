package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/lmaudit/internal/catalog"
	"github.com/fyrsmithlabs/lmaudit/internal/extraction"
	"github.com/fyrsmithlabs/lmaudit/internal/generation"
	"github.com/fyrsmithlabs/lmaudit/internal/logging"
	"github.com/fyrsmithlabs/lmaudit/internal/report"
	"github.com/fyrsmithlabs/lmaudit/internal/retrieval"
	"github.com/fyrsmithlabs/lmaudit/internal/rules"
	"github.com/fyrsmithlabs/lmaudit/internal/telemetry"
)

type fakeExtractor struct {
	fm       *extraction.FieldMap
	category catalog.Category
	panics   bool
	calls    atomic.Int32
}

func (f *fakeExtractor) Extract(_ context.Context, _ extraction.ProductInput) (*extraction.FieldMap, catalog.Category) {
	f.calls.Add(1)
	if f.panics {
		panic("boom")
	}
	return f.fm, f.category
}

type staticRules struct{ book *rules.Book }

func (s staticRules) Current() *rules.Book { return s.book }

type fakeRetriever struct {
	clauses []retrieval.Clause
	err     error
	calls   atomic.Int32
	got     []rules.Violation
}

func (f *fakeRetriever) Retrieve(_ context.Context, vs []rules.Violation) ([]retrieval.Clause, error) {
	f.calls.Add(1)
	f.got = vs
	return f.clauses, f.err
}

type fakeGenerator struct {
	exp     generation.Explanation
	err     error
	calls   atomic.Int32
	clauses []string
}

func (f *fakeGenerator) Generate(_ context.Context, _ *extraction.FieldMap, _ []rules.Violation, clauses []string) (generation.Explanation, error) {
	f.calls.Add(1)
	f.clauses = clauses
	return f.exp, f.err
}

func strPtr(s string) *string { return &s }

func explained() generation.Explanation {
	return generation.Explanation{
		Explanation:         strPtr("Net quantity must be declared."),
		SuggestedCorrection: strPtr("Print the net quantity in grams."),
		RiskSummary:         strPtr("Low risk."),
	}
}

// compliantMap satisfies every rule of testBook.
func compliantMap() *extraction.FieldMap {
	fm := extraction.NewFieldMap(catalog.Generic)
	fm.Set(catalog.ManufacturerOrImporter, "Acme Foods Pvt Ltd", extraction.SourceForm)
	fm.Set(catalog.NetQuantity, "500 g", extraction.SourceForm)
	fm.Set(catalog.MRPInclusiveOfTaxes, "INR 120", extraction.SourceForm)
	return fm
}

func testBook(t *testing.T) *rules.Book {
	t.Helper()
	presence := func(code string, f catalog.Field, penalty int) rules.Rule {
		return rules.Rule{Code: code, Field: f, Requirement: rules.Always, Validator: rules.Presence(), Penalty: penalty, Message: string(f) + " is not declared"}
	}
	sets := []rules.RuleSet{{Category: catalog.Generic, Rules: []rules.Rule{
		presence("T-001", catalog.ManufacturerOrImporter, 30),
		presence("T-002", catalog.NetQuantity, 15),
		presence("T-003", catalog.MRPInclusiveOfTaxes, 30),
	}}}
	for _, c := range []catalog.Category{catalog.Food, catalog.Electronics, catalog.Cosmetics} {
		sets = append(sets, rules.RuleSet{Category: c})
	}
	b, err := rules.NewBook("test-1", sets)
	require.NoError(t, err)
	return b
}

type harness struct {
	ex  *fakeExtractor
	ret *fakeRetriever
	gen *fakeGenerator
	tel *telemetry.TestTelemetry
	log *logging.TestLogger
	p   *Pipeline
}

var fixedNow = time.Date(2026, 3, 10, 9, 30, 0, 0, time.FixedZone("IST", 5*3600+1800))

func newHarness(t *testing.T, fm *extraction.FieldMap, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		ex:  &fakeExtractor{fm: fm, category: catalog.Generic},
		ret: &fakeRetriever{clauses: []retrieval.Clause{{ID: "clause_0001", Text: "Rule 6(1)(c): net quantity"}}},
		gen: &fakeGenerator{exp: explained()},
		tel: telemetry.NewTestTelemetry(),
		log: logging.NewTestLogger(),
	}
	opts = append([]Option{
		WithTelemetry(h.tel.Telemetry),
		WithLogger(h.log.Logger),
		WithClock(func() time.Time { return fixedNow }),
		WithIDFunc(func() string { return "prod-1" }),
	}, opts...)
	p, err := New(h.ex, staticRules{testBook(t)}, h.ret, h.gen, opts...)
	require.NoError(t, err)
	h.p = p
	return h
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(nil, staticRules{}, nil, nil)
	assert.Error(t, err)
	_, err = New(&fakeExtractor{}, nil, nil, nil)
	assert.Error(t, err)
}

func TestRun_NoViolationsSkipsEnrichment(t *testing.T) {
	h := newHarness(t, compliantMap())

	rep, err := h.p.Run(context.Background(), extraction.ProductInput{SellerID: "s-1"})
	require.NoError(t, err)

	assert.Equal(t, "prod-1", rep.ProductID)
	assert.Equal(t, "s-1", rep.SellerID)
	assert.Empty(t, rep.Violations)
	assert.Equal(t, 100, rep.ComplianceScore)
	assert.Equal(t, rules.Compliant, rep.RiskLevel)
	assert.Equal(t, "test-1", rep.RuleVersion)
	assert.Equal(t, fixedNow.UTC(), rep.CreatedAt)

	assert.Zero(t, h.ret.calls.Load(), "retriever must not run without violations")
	assert.Zero(t, h.gen.calls.Load(), "generator must not run without violations")
	assert.Equal(t, report.EnrichmentSkipped, rep.Enrichment.Status)
	assert.Nil(t, rep.Explanation)
	assert.Nil(t, rep.SuggestedCorrection)
	assert.Nil(t, rep.RiskSummary)
	assert.NoError(t, EnrichmentError(rep))

	h.tel.AssertSpanExists(t, "pipeline.extract")
	h.tel.AssertSpanExists(t, "pipeline.validate")
	assert.Zero(t, h.tel.SpanCount("pipeline.retrieve"))
	assert.Zero(t, h.tel.SpanCount("pipeline.generate"))
	assert.Equal(t, int64(1), h.tel.CounterValue(context.Background(), "lmaudit.audits.total"))
}

func TestRun_NetQuantityMissingIsCompliantAndExplained(t *testing.T) {
	fm := compliantMap()
	fm.Null(catalog.NetQuantity)
	h := newHarness(t, fm)

	rep, err := h.p.Run(context.Background(), extraction.ProductInput{ProductID: "given", SellerID: "s-1"})
	require.NoError(t, err)

	assert.Equal(t, "given", rep.ProductID)
	require.Len(t, rep.Violations, 1)
	assert.Equal(t, "T-002", rep.Violations[0].Code)
	assert.Equal(t, catalog.NetQuantity, rep.Violations[0].Field)
	assert.Equal(t, 85, rep.ComplianceScore)
	assert.Equal(t, rules.Compliant, rep.RiskLevel)

	assert.Equal(t, int32(1), h.ret.calls.Load(), "one retrieval per violation batch")
	assert.Equal(t, rep.Violations, h.ret.got)
	assert.Equal(t, int32(1), h.gen.calls.Load())
	assert.Equal(t, []string{"Rule 6(1)(c): net quantity"}, h.gen.clauses)

	assert.Equal(t, report.EnrichmentAvailable, rep.Enrichment.Status)
	assert.True(t, rep.Enrichment.Grounded())
	require.NotNil(t, rep.Explanation)
	assert.Equal(t, "Net quantity must be declared.", *rep.Explanation)
	assert.Equal(t, "Print the net quantity in grams.", *rep.SuggestedCorrection)
	assert.NoError(t, EnrichmentError(rep))

	h.tel.AssertSpanExists(t, "pipeline.retrieve")
	h.tel.AssertSpanAttribute(t, "pipeline.validate", "score", int64(85))
	assert.Equal(t, int64(1), h.tel.CounterValue(context.Background(), "lmaudit.violations.total"))
}

func TestRun_ScoreFloorsAtZero(t *testing.T) {
	h := newHarness(t, extraction.NewFieldMap(catalog.Generic))

	rep, err := h.p.Run(context.Background(), extraction.ProductInput{})
	require.NoError(t, err)

	assert.Len(t, rep.Violations, 3)
	assert.Equal(t, 0, rep.ComplianceScore)
	assert.Equal(t, rules.HighRisk, rep.RiskLevel)
}

func TestRun_EnrichmentDegrades(t *testing.T) {
	tests := []struct {
		name        string
		retrieveErr error
		genErr      error
		emptyReply  bool
		nilGen      bool
		wantStatus  report.EnrichmentStatus
		wantReasons int
		grounded    bool
	}{
		{name: "retrieval down, generation ok", retrieveErr: retrieval.ErrUnavailable, wantStatus: report.EnrichmentAvailable, wantReasons: 1},
		{name: "generation fails", genErr: errors.New("429 quota exceeded"), wantStatus: report.EnrichmentUnavailable, wantReasons: 1, grounded: true},
		{name: "both fail", retrieveErr: retrieval.ErrUnavailable, genErr: context.DeadlineExceeded, wantStatus: report.EnrichmentUnavailable, wantReasons: 2},
		{name: "empty explanation", emptyReply: true, wantStatus: report.EnrichmentUnavailable, wantReasons: 1, grounded: true},
		{name: "generation disabled", nilGen: true, wantStatus: report.EnrichmentUnavailable, wantReasons: 1, grounded: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fm := compliantMap()
			fm.Null(catalog.MRPInclusiveOfTaxes)
			h := newHarness(t, fm)
			h.ret.err = tt.retrieveErr
			if tt.retrieveErr != nil {
				h.ret.clauses = nil
			}
			h.gen.err = tt.genErr
			if tt.emptyReply {
				h.gen.exp = generation.Explanation{}
			}
			if tt.nilGen {
				h.p.generator = generation.NoOp{}
			}

			rep, err := h.p.Run(context.Background(), extraction.ProductInput{})
			require.NoError(t, err, "enrichment failures never abort the audit")

			assert.Equal(t, 70, rep.ComplianceScore)
			assert.Equal(t, rules.ModerateRisk, rep.RiskLevel)
			assert.Equal(t, tt.wantStatus, rep.Enrichment.Status)
			assert.Len(t, rep.Enrichment.Reasons, tt.wantReasons)
			assert.Equal(t, tt.grounded, rep.Enrichment.Grounded())

			if tt.wantStatus == report.EnrichmentUnavailable {
				assert.Nil(t, rep.Explanation)
				assert.Nil(t, rep.SuggestedCorrection)
				assert.Nil(t, rep.RiskSummary)
				assert.ErrorIs(t, EnrichmentError(rep), ErrEnrichmentUnavailable)
				assert.Equal(t, int64(1), h.tel.CounterValue(context.Background(), "lmaudit.enrichment.unavailable"))
			} else {
				assert.NotNil(t, rep.Explanation)
				assert.NoError(t, EnrichmentError(rep))
			}
			h.log.AssertLogged(t, zapcore.WarnLevel, "enrichment degraded")
		})
	}
}

func TestRun_RequiredStageFailures(t *testing.T) {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name      string
		ctx       context.Context
		setup     func(h *harness)
		wantStage Stage
		wantIs    error
	}{
		{
			name:      "extractor panics",
			ctx:       context.Background(),
			setup:     func(h *harness) { h.ex.panics = true },
			wantStage: StageExtract,
		},
		{
			name:      "cancelled before extraction",
			ctx:       cancelled,
			setup:     func(*harness) {},
			wantStage: StageExtract,
			wantIs:    context.Canceled,
		},
		{
			name:      "no rule book loaded",
			ctx:       context.Background(),
			setup:     func(h *harness) { h.p.rules = staticRules{} },
			wantStage: StageValidate,
			wantIs:    rules.ErrNoRuleSet,
		},
		{
			name:      "category without rule set",
			ctx:       context.Background(),
			setup:     func(h *harness) { h.ex.category = catalog.Category("toys") },
			wantStage: StageValidate,
			wantIs:    rules.ErrNoRuleSet,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, compliantMap())
			tt.setup(h)

			rep, err := h.p.Run(tt.ctx, extraction.ProductInput{ProductID: "p-9"})
			require.Error(t, err)
			assert.Nil(t, rep)

			var failure *AuditFailure
			require.ErrorAs(t, err, &failure)
			assert.Equal(t, "p-9", failure.ProductID)
			assert.Equal(t, tt.wantStage, failure.Stage)
			if tt.wantIs != nil {
				assert.ErrorIs(t, err, tt.wantIs)
			}
			assert.Zero(t, h.ret.calls.Load())
			assert.Zero(t, h.gen.calls.Load())
			h.log.AssertLogged(t, zapcore.ErrorLevel, "product audit failed")
		})
	}
}

func TestRun_SavesReport(t *testing.T) {
	store := report.NewMemoryStore()
	h := newHarness(t, compliantMap(), WithStore(store))

	rep, err := h.p.Run(context.Background(), extraction.ProductInput{ProductID: "p-1"})
	require.NoError(t, err)

	got, err := store.Get(context.Background(), "p-1")
	require.NoError(t, err)
	assert.Equal(t, rep.ComplianceScore, got.ComplianceScore)

	_, err = h.p.Run(context.Background(), extraction.ProductInput{ProductID: "p-1"})
	var failure *AuditFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, StagePersist, failure.Stage)
	assert.ErrorIs(t, err, report.ErrDuplicate)
}

func TestRun_ConcurrentRunsAreIndependent(t *testing.T) {
	p, err := New(extraction.New(nil), rules.Static(rules.Default()), nil, nil)
	require.NoError(t, err)

	inputs := []extraction.ProductInput{
		{
			Category: catalog.Food,
			Sources: []extraction.Source{{
				Kind: extraction.SourceForm,
				Text: "Manufacturer: Acme Foods\nNet Qty: 1 kg\nMRP: Rs. 250 incl. of all taxes\nFSSAI Lic. No. 12345678901234\nCountry of Origin: united states of america",
			}},
		},
		{
			Category: catalog.Food,
			Sources: []extraction.Source{{
				Kind: extraction.SourceOCR,
				Text: "Marketed by: Acme Foods\nNet Wt 500 g\nM.R.P. Rs. 99\nMade in india",
			}},
		},
	}
	firsts := make([]*report.AuditReport, len(inputs))
	for i, in := range inputs {
		firsts[i], err = p.Run(context.Background(), in)
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	reports := make([]*report.AuditReport, 16)
	errs := make([]error, 16)
	for i := range reports {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reports[i], errs[i] = p.Run(context.Background(), inputs[i%len(inputs)])
		}()
	}
	wg.Wait()

	ids := make(map[string]struct{})
	for i, rep := range reports {
		require.NoError(t, errs[i])
		first := firsts[i%len(inputs)]
		assert.Equal(t, first.ComplianceScore, rep.ComplianceScore)
		assert.Equal(t, first.ViolationCodes(), rep.ViolationCodes())
		assert.Equal(t, countryOf(t, first), countryOf(t, rep))
		ids[rep.ProductID] = struct{}{}
	}
	assert.Len(t, ids, len(reports), "every run gets its own product id")
}

func TestAuditFailure_Error(t *testing.T) {
	err := &AuditFailure{ProductID: "p-1", Stage: StageValidate, Cause: rules.ErrNoRuleSet}
	assert.Contains(t, err.Error(), "p-1")
	assert.Contains(t, err.Error(), "validate")
	assert.ErrorIs(t, err, rules.ErrNoRuleSet)
}

func countryOf(t *testing.T, rep *report.AuditReport) string {
	t.Helper()
	require.NotNil(t, rep.FieldMap)
	e, ok := rep.FieldMap.Get(catalog.CountryOfOrigin)
	require.True(t, ok)
	require.NotNil(t, e.Value, "country of origin should be extracted")
	return *e.Value
}
