// Package retrieval finds legal clauses that ground the explanation of a
// violation batch.
package retrieval

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/tmc/langchaingo/textsplitter"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/lmaudit/internal/reranker"
	"github.com/fyrsmithlabs/lmaudit/internal/rules"
	"github.com/fyrsmithlabs/lmaudit/internal/vectorstore"
)

const (
	chunkSize    = 500
	chunkOverlap = 80
)

// ErrUnavailable means neither the vector store nor the keyword index could answer.
var ErrUnavailable = errors.New("clause retrieval unavailable")

//go:embed corpus/packaged_commodities.txt
var builtinCorpus string

var tracer = otel.Tracer("lmaudit.retrieval")

// Clause is one grounding passage.
type Clause struct {
	ID     string  `json:"id"`
	Text   string  `json:"text"`
	Score  float32 `json:"score"`
	Method string  `json:"method"`
}

// Retriever answers clause queries from a vector store, falling back to
// keyword overlap over the in-memory chunks. It is safe for concurrent use.
type Retriever struct {
	store    vectorstore.Store
	k        int
	timeout  time.Duration
	logger   *zap.Logger
	reranker reranker.Reranker

	mu     sync.RWMutex
	chunks []vectorstore.Document
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithTimeout bounds each vector store query.
func WithTimeout(d time.Duration) Option {
	return func(r *Retriever) { r.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Retriever) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithReranker replaces the default lexical reranker.
func WithReranker(rr reranker.Reranker) Option {
	return func(r *Retriever) {
		if rr != nil {
			r.reranker = rr
		}
	}
}

// New returns a Retriever over store, which may be nil for keyword-only retrieval.
func New(store vectorstore.Store, k int, opts ...Option) *Retriever {
	if k <= 0 {
		k = 3
	}
	r := &Retriever{
		store:    store,
		k:        k,
		timeout:  10 * time.Second,
		logger:   zap.NewNop(),
		reranker: reranker.NewLexical(0.5),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Split chunks text with the corpus splitter settings.
func Split(text string) ([]string, error) {
	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(chunkSize),
		textsplitter.WithChunkOverlap(chunkOverlap),
	)
	chunks, err := splitter.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("splitting corpus: %w", err)
	}
	out := chunks[:0]
	for _, c := range chunks {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out, nil
}

// Index splits the corpus into chunks, keeps them for keyword fallback and
// adds them to the vector store when its collection is empty. An empty path
// indexes the built-in corpus. Store failures are logged, not returned.
func (r *Retriever) Index(ctx context.Context, path string) (int, error) {
	text := builtinCorpus
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return 0, fmt.Errorf("reading corpus: %w", err)
		}
		text = string(data)
	}
	parts, err := Split(text)
	if err != nil {
		return 0, err
	}
	docs := make([]vectorstore.Document, len(parts))
	for i, p := range parts {
		docs[i] = vectorstore.Document{ID: fmt.Sprintf("clause_%04d", i), Content: p}
	}

	r.mu.Lock()
	r.chunks = docs
	r.mu.Unlock()

	if r.store == nil || len(docs) == 0 {
		return len(docs), nil
	}
	n, err := r.store.Count(ctx)
	if err != nil {
		r.logger.Warn("vector store count failed, keyword retrieval only", zap.Error(err))
		return len(docs), nil
	}
	if n > 0 {
		r.logger.Debug("clause index already populated", zap.Int("documents", n))
		return len(docs), nil
	}
	if err := r.store.AddDocuments(ctx, docs); err != nil {
		r.logger.Warn("indexing clauses failed, keyword retrieval only", zap.Error(err))
		return len(docs), nil
	}
	r.logger.Info("clause index built", zap.Int("chunks", len(docs)))
	return len(docs), nil
}

// Query renders a violation batch as one retrieval query, a "code: message" line each.
func Query(violations []rules.Violation) string {
	lines := make([]string, 0, len(violations))
	for _, v := range violations {
		lines = append(lines, v.Code+": "+v.Message)
	}
	return strings.Join(lines, "\n")
}

// Retrieve returns at most k clauses for the whole batch with one query.
// A non-nil error reports why grounding is missing; the returned slice is
// still safe to use and is empty in that case.
func (r *Retriever) Retrieve(ctx context.Context, violations []rules.Violation) ([]Clause, error) {
	ctx, span := tracer.Start(ctx, "Retriever.Retrieve")
	defer span.End()
	span.SetAttributes(attribute.Int("violations", len(violations)), attribute.Int("k", r.k))

	if len(violations) == 0 {
		return []Clause{}, nil
	}
	query := Query(violations)

	if r.store != nil {
		qctx, cancel := context.WithTimeout(ctx, r.timeout)
		results, err := r.store.Search(qctx, query, r.k)
		cancel()
		if err == nil && len(results) > 0 {
			docs := make([]reranker.Document, len(results))
			for i, res := range results {
				docs[i] = reranker.Document{ID: res.ID, Content: res.Content, Score: res.Score}
			}
			out := make([]Clause, 0, len(results))
			for _, d := range r.rerank(ctx, query, docs) {
				out = append(out, Clause{ID: d.ID, Text: d.Content, Score: d.Score, Method: "vector"})
			}
			span.SetAttributes(attribute.String("method", "vector"))
			return out, nil
		}
		if err != nil {
			r.logger.Warn("vector search failed, using keyword fallback", zap.Error(err))
		}
	}

	out := r.keyword(ctx, query)
	if len(out) == 0 {
		span.SetAttributes(attribute.String("method", "none"))
		return []Clause{}, ErrUnavailable
	}
	span.SetAttributes(attribute.String("method", "keyword"))
	return out, nil
}

// rerank reorders docs and keeps k. A reranker error keeps the input order.
func (r *Retriever) rerank(ctx context.Context, query string, docs []reranker.Document) []reranker.Scored {
	scored, err := r.reranker.Rerank(ctx, query, docs, r.k)
	if err != nil {
		r.logger.Warn("rerank failed, keeping retrieval order", zap.Error(err))
		scored = make([]reranker.Scored, 0, len(docs))
		for i, d := range docs {
			if i == r.k {
				break
			}
			scored = append(scored, reranker.Scored{Document: d, OriginalRank: i})
		}
	}
	return scored
}

// keyword ranks chunks by the share of query terms they contain and drops
// chunks sharing none.
func (r *Retriever) keyword(ctx context.Context, query string) []Clause {
	r.mu.RLock()
	chunks := r.chunks
	r.mu.RUnlock()
	if len(chunks) == 0 {
		return nil
	}

	docs := make([]reranker.Document, len(chunks))
	for i, c := range chunks {
		docs[i] = reranker.Document{ID: c.ID, Content: c.Content}
	}
	scored, err := reranker.NewLexical(1).Rerank(ctx, query, docs, 0)
	if err != nil {
		return nil
	}
	out := make([]Clause, 0, r.k)
	for _, d := range scored {
		if d.Overlap == 0 || len(out) == r.k {
			break
		}
		out = append(out, Clause{ID: d.ID, Text: d.Content, Score: d.Overlap, Method: "keyword"})
	}
	return out
}

// Texts returns the clause texts in order.
func Texts(clauses []Clause) []string {
	out := make([]string, len(clauses))
	for i, c := range clauses {
		out[i] = c.Text
	}
	return out
}
