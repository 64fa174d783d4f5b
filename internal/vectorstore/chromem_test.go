package vectorstore

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/lmaudit/internal/config"
)

// bagEmbedder maps each word to a bucket so texts sharing words are close.
type bagEmbedder struct {
	calls atomic.Int32
	fail  bool
}

func (e *bagEmbedder) vector(text string) []float32 {
	v := make([]float32, 64)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		v[h.Sum32()%64]++
	}
	var norm float64
	for _, x := range v {
		norm += float64(x * x)
	}
	if norm == 0 {
		v[0] = 1
		return v
	}
	n := float32(math.Sqrt(norm))
	for i := range v {
		v[i] /= n
	}
	return v
}

func (e *bagEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	e.calls.Add(1)
	if e.fail {
		return nil, errors.New("model offline")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

func (e *bagEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	if e.fail {
		return nil, errors.New("model offline")
	}
	return e.vector(text), nil
}

func newMemoryStore(t *testing.T, emb Embedder) *ChromemStore {
	t.Helper()
	s, err := NewChromemStore(ChromemConfig{Collection: "legal_clauses"}, emb, nil)
	require.NoError(t, err)
	return s
}

var clauses = []Document{
	{ID: "r6", Content: "Rule 6 every package shall bear the name and address of the manufacturer", Metadata: map[string]string{"rule": "6"}},
	{ID: "r7", Content: "Rule 7 net quantity shall be declared in standard units of weight or measure", Metadata: map[string]string{"rule": "7"}},
	{ID: "r18", Content: "Rule 18 retail sale price shall be declared inclusive of all taxes", Metadata: map[string]string{"rule": "18"}},
}

func TestChromemStore_AddAndSearch(t *testing.T) {
	ctx := context.Background()
	s := newMemoryStore(t, &bagEmbedder{})

	require.NoError(t, s.AddDocuments(ctx, clauses))
	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	res, err := s.Search(ctx, "net quantity standard units", 2)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "r7", res[0].ID)
	assert.Equal(t, "7", res[0].Metadata["rule"])
	assert.GreaterOrEqual(t, res[0].Score, res[1].Score)
}

func TestChromemStore_KCappedAtCount(t *testing.T) {
	ctx := context.Background()
	s := newMemoryStore(t, &bagEmbedder{})
	require.NoError(t, s.AddDocuments(ctx, clauses[:1]))

	res, err := s.Search(ctx, "manufacturer", 5)
	require.NoError(t, err)
	assert.Len(t, res, 1)
}

func TestChromemStore_EmptyCollection(t *testing.T) {
	res, err := newMemoryStore(t, &bagEmbedder{}).Search(context.Background(), "anything", 3)
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestChromemStore_Errors(t *testing.T) {
	ctx := context.Background()

	_, err := NewChromemStore(ChromemConfig{Collection: "x"}, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewChromemStore(ChromemConfig{Collection: "Bad-Name"}, &bagEmbedder{}, nil)
	assert.ErrorIs(t, err, ErrInvalidCollectionName)

	s := newMemoryStore(t, &bagEmbedder{fail: true})
	assert.ErrorIs(t, s.AddDocuments(ctx, clauses), ErrEmbeddingFailed)
	assert.ErrorIs(t, s.AddDocuments(ctx, nil), ErrEmptyDocuments)

	_, err = s.Search(ctx, "", 3)
	assert.Error(t, err)
	_, err = s.Search(ctx, "q", 0)
	assert.Error(t, err)
}

func TestChromemStore_Persistent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewChromemStore(ChromemConfig{Path: dir, Collection: "legal_clauses"}, &bagEmbedder{}, nil)
	require.NoError(t, err)
	require.NoError(t, s.AddDocuments(ctx, clauses))
	require.NoError(t, s.Close())

	reopened, err := NewChromemStore(ChromemConfig{Path: dir, Collection: "legal_clauses"}, &bagEmbedder{}, nil)
	require.NoError(t, err)
	n, err := reopened.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestValidateCollectionName(t *testing.T) {
	for _, ok := range []string{"legal_clauses", "a", "x_1"} {
		assert.NoError(t, ValidateCollectionName(ok), ok)
	}
	for _, bad := range []string{"", "Legal", "../etc", "with space", strings.Repeat("a", 65)} {
		assert.ErrorIs(t, ValidateCollectionName(bad), ErrInvalidCollectionName, bad)
	}
}

func TestNew_Providers(t *testing.T) {
	_, err := New(config.VectorStoreConfig{Provider: "none"}, &bagEmbedder{}, nil)
	assert.ErrorIs(t, err, ErrDisabled)

	_, err = New(config.VectorStoreConfig{Provider: "pinecone"}, &bagEmbedder{}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	s, err := New(config.VectorStoreConfig{Provider: "chromem", Collection: "legal_clauses"}, &bagEmbedder{}, nil)
	require.NoError(t, err)
	assert.IsType(t, &ChromemStore{}, s)
}
