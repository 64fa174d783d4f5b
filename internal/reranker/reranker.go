// Package reranker orders candidate legal clauses by term overlap with a
// violation query.
package reranker

import (
	"context"
	"errors"
	"sort"
	"strings"
)

// ErrNilContext is returned when a nil context is passed to Rerank.
var ErrNilContext = errors.New("context cannot be nil")

// Document is a candidate passage with its retrieval score.
type Document struct {
	ID      string
	Content string
	Score   float32
}

// Scored is a Document after reranking.
type Scored struct {
	Document
	// Overlap is the share of distinct query terms found in the document (0-1).
	Overlap      float32
	Combined     float32
	OriginalRank int
}

// Reranker reorders candidates for a query and keeps the best topK.
type Reranker interface {
	Rerank(ctx context.Context, query string, docs []Document, topK int) ([]Scored, error)
}

// Lexical blends the retrieval score with term overlap.
type Lexical struct {
	overlapWeight float32
}

// NewLexical returns a reranker giving overlapWeight (0-1) to term overlap
// and the rest to the original score. Out of range weights become 0.5.
func NewLexical(overlapWeight float32) *Lexical {
	if overlapWeight < 0 || overlapWeight > 1 {
		overlapWeight = 0.5
	}
	return &Lexical{overlapWeight: overlapWeight}
}

// Rerank sorts docs by combined score, highest first. Ties keep the input
// order. A topK of zero or less keeps every document.
func (l *Lexical) Rerank(ctx context.Context, query string, docs []Document, topK int) ([]Scored, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if topK <= 0 || topK > len(docs) {
		topK = len(docs)
	}

	terms := Terms(query)
	out := make([]Scored, len(docs))
	for i, d := range docs {
		overlap := Overlap(terms, d.Content)
		out[i] = Scored{
			Document:     d,
			Overlap:      overlap,
			Combined:     (1-l.overlapWeight)*d.Score + l.overlapWeight*overlap,
			OriginalRank: i,
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Combined > out[j].Combined })
	return out[:topK], nil
}

// Overlap is the share of terms that occur in text.
func Overlap(terms map[string]struct{}, text string) float32 {
	if len(terms) == 0 {
		return 0
	}
	n := 0
	for t := range Terms(text) {
		if _, ok := terms[t]; ok {
			n++
		}
	}
	return float32(n) / float32(len(terms))
}

// Terms returns the distinct lowercase alphanumeric words of s longer than two
// characters, minus stopwords.
func Terms(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, f := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	}) {
		if len(f) > 2 && !stopwords[f] {
			out[f] = struct{}{}
		}
	}
	return out
}

var stopwords = map[string]bool{
	"the": true, "and": true, "not": true, "for": true, "are": true, "any": true,
	"shall": true, "with": true, "from": true, "this": true, "that": true, "its": true,
}
