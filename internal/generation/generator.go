package generation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/lmaudit/internal/config"
	"github.com/fyrsmithlabs/lmaudit/internal/extraction"
	"github.com/fyrsmithlabs/lmaudit/internal/rules"
	"github.com/fyrsmithlabs/lmaudit/internal/secrets"
)

const (
	systemPrompt     = "You are a legal metrology compliance assistant for Indian packaged commodities."
	defaultMaxTokens = 1024
	defaultBurst     = 5
)

var (
	// ErrDisabled is returned by the no-op generator.
	ErrDisabled = errors.New("explanation generation disabled")

	// ErrMalformedReply means the model answered without a usable JSON object.
	ErrMalformedReply = errors.New("malformed generation reply")

	// ErrEmptyReply means the model returned no choices or only whitespace.
	ErrEmptyReply = errors.New("empty generation reply")
)

var tracer = otel.Tracer("lmaudit.generation")

// Explanation holds the three optional enrichment texts.
type Explanation struct {
	Explanation         *string `json:"explanation,omitempty"`
	SuggestedCorrection *string `json:"suggested_correction,omitempty"`
	RiskSummary         *string `json:"risk_summary,omitempty"`
}

// Empty reports whether no text was produced.
func (e Explanation) Empty() bool {
	return e.Explanation == nil && e.SuggestedCorrection == nil && e.RiskSummary == nil
}

// Generator explains a batch of violations.
type Generator interface {
	Generate(ctx context.Context, fm *extraction.FieldMap, violations []rules.Violation, clauses []string) (Explanation, error)
}

// NoOp never generates and always reports ErrDisabled.
type NoOp struct{}

// Generate implements Generator.
func (NoOp) Generate(context.Context, *extraction.FieldMap, []rules.Violation, []string) (Explanation, error) {
	return Explanation{}, ErrDisabled
}

// LLMGenerator asks a chat model for a JSON explanation.
type LLMGenerator struct {
	model       llms.Model
	modelName   string
	temperature float64
	maxTokens   int
	limiter     *rate.Limiter
	scrubber    *secrets.Scrubber
	logger      *zap.Logger
}

// Option configures an LLMGenerator.
type Option func(*LLMGenerator)

// WithScrubber redacts secrets from prompts before they are sent.
func WithScrubber(s *secrets.Scrubber) Option {
	return func(g *LLMGenerator) { g.scrubber = s }
}

// WithLimiter replaces the request limiter.
func WithLimiter(l *rate.Limiter) Option {
	return func(g *LLMGenerator) { g.limiter = l }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *LLMGenerator) {
		if l != nil {
			g.logger = l
		}
	}
}

// NewLLMGenerator wraps model. A temperature of 0 means 0.2.
func NewLLMGenerator(model llms.Model, modelName string, temperature float64, opts ...Option) *LLMGenerator {
	if temperature == 0 {
		temperature = 0.2
	}
	g := &LLMGenerator{
		model:       model,
		modelName:   modelName,
		temperature: temperature,
		maxTokens:   defaultMaxTokens,
		limiter:     rate.NewLimiter(rate.Inf, 0),
		logger:      zap.NewNop(),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// New builds the generator selected by cfg.
func New(cfg config.GenerationConfig, logger *zap.Logger) (Generator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Provider {
	case "noop", "":
		return NoOp{}, nil
	case "openai":
	default:
		return nil, fmt.Errorf("unknown generation provider %q", cfg.Provider)
	}
	if !cfg.APIKey.IsSet() {
		return nil, errors.New("generation api_key is required for the openai provider")
	}

	llm, err := openai.New(
		openai.WithToken(cfg.APIKey.Value()),
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithModel(cfg.Model),
		openai.WithHTTPClient(&http.Client{Timeout: cfg.Timeout.Duration()}),
	)
	if err != nil {
		return nil, fmt.Errorf("creating chat client: %w", err)
	}

	opts := []Option{WithLogger(logger)}
	if cfg.RequestsPerMinute > 0 {
		burst := defaultBurst
		if cfg.RequestsPerMinute < burst {
			burst = cfg.RequestsPerMinute
		}
		opts = append(opts, WithLimiter(rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), burst)))
	}
	if cfg.ScrubEnabled() {
		opts = append(opts, WithScrubber(secrets.New()))
	}
	return NewLLMGenerator(llm, cfg.Model, cfg.Temperature, opts...), nil
}

// Generate implements Generator. Every failure yields an empty Explanation.
func (g *LLMGenerator) Generate(ctx context.Context, fm *extraction.FieldMap, violations []rules.Violation, clauses []string) (Explanation, error) {
	ctx, span := tracer.Start(ctx, "LLMGenerator.Generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("model", g.modelName),
		attribute.Int("violations", len(violations)),
		attribute.Int("clauses", len(clauses)),
	)

	out, err := g.generate(ctx, fm, violations, clauses)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		return Explanation{}, err
	}
	return out, nil
}

func (g *LLMGenerator) generate(ctx context.Context, fm *extraction.FieldMap, violations []rules.Violation, clauses []string) (Explanation, error) {
	prompt, err := RenderPrompt(fm, violations, clauses)
	if err != nil {
		return Explanation{}, err
	}
	if g.scrubber != nil {
		res, err := g.scrubber.Scrub(prompt)
		if err != nil {
			return Explanation{}, fmt.Errorf("scrubbing prompt: %w", err)
		}
		if res.Redacted() {
			g.logger.Warn("redacted secrets from generation prompt", zap.Strings("rules", res.RuleIDs()))
		}
		prompt = res.Scrubbed
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return Explanation{}, fmt.Errorf("rate limiter: %w", err)
	}

	start := time.Now()
	resp, err := g.model.GenerateContent(ctx,
		[]llms.MessageContent{
			llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
			llms.TextParts(llms.ChatMessageTypeHuman, prompt),
		},
		llms.WithTemperature(g.temperature),
		llms.WithMaxTokens(g.maxTokens),
	)
	if err != nil {
		return Explanation{}, fmt.Errorf("chat completion: %w", err)
	}
	g.logger.Debug("generation reply received", zap.String("model", g.modelName), zap.Duration("duration", time.Since(start)))

	if resp == nil || len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Content) == "" {
		return Explanation{}, ErrEmptyReply
	}
	return ParseReply(resp.Choices[0].Content)
}
