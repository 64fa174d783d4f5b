package vectorstore

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestIsTransientError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("plain"), false},
		{status.Error(codes.Unavailable, "down"), true},
		{status.Error(codes.DeadlineExceeded, "slow"), true},
		{status.Error(codes.ResourceExhausted, "busy"), true},
		{status.Error(codes.NotFound, "missing"), false},
		{status.Error(codes.InvalidArgument, "bad"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsTransientError(tt.err), "%v", tt.err)
	}
}

func TestQdrantConfig_Validate(t *testing.T) {
	good := QdrantConfig{Host: "localhost", Port: 6334, Collection: "legal_clauses", VectorSize: 384}
	assert.NoError(t, good.Validate())

	tests := []struct {
		name   string
		mutate func(*QdrantConfig)
	}{
		{"no host", func(c *QdrantConfig) { c.Host = "" }},
		{"bad port", func(c *QdrantConfig) { c.Port = 0 }},
		{"no size", func(c *QdrantConfig) { c.VectorSize = 0 }},
		{"bad collection", func(c *QdrantConfig) { c.Collection = "A/B" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := good
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestNewQdrantStore_RequiresEmbedder(t *testing.T) {
	_, err := NewQdrantStore(QdrantConfig{Host: "localhost", Port: 6334, Collection: "c", VectorSize: 4}, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
