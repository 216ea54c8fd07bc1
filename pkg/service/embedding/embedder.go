// Package embedding turns text into fixed-dimension vectors through an external embedding model.
package embedding

import (
	"context"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/ragnote/pkg/model"
	"github.com/patrickmn/go-cache"
)

// Client is the external embedding model
type Client interface {
	Embedding(ctx context.Context, text string, dimension int) ([]float32, error)
	EmbeddingBatch(ctx context.Context, texts []string, dimension int) ([][]float32, error)
}

// Embedder wraps the embedding model. Every failure is reported as model.ErrEmbeddingUnavailable
// and a vector is never fabricated.
type Embedder struct {
	client    Client
	dimension int
	timeout   time.Duration
	cache     *cache.Cache
}

type Option func(*Embedder)

// WithTimeout bounds every call to the embedding model
func WithTimeout(d time.Duration) Option {
	return func(e *Embedder) {
		e.timeout = d
	}
}

// WithCache memoizes EmbedOne results for the given TTL. Zero disables the cache.
func WithCache(ttl time.Duration) Option {
	return func(e *Embedder) {
		if ttl <= 0 {
			e.cache = nil
			return
		}
		e.cache = cache.New(ttl, 2*ttl)
	}
}

// New creates an Embedder producing vectors of the given dimension
func New(client Client, dimension int, opts ...Option) *Embedder {
	e := &Embedder{
		client:    client,
		dimension: dimension,
		timeout:   10 * time.Second,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Dimension returns the fixed vector dimension
func (e *Embedder) Dimension() int {
	return e.dimension
}

// EmbedOne embeds a single text. Blank text is embedded as a single space so that degenerate
// queries still produce a comparable vector.
func (e *Embedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		text = " "
	}

	if e.cache != nil {
		if v, ok := e.cache.Get(text); ok {
			return v.([]float32), nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	vector, err := e.client.Embedding(ctx, text, e.dimension)
	if err != nil {
		return nil, goerr.Wrap(model.ErrEmbeddingUnavailable, "failed to embed text",
			goerr.V("cause", err),
			goerr.V("text_length", len(text)))
	}
	if len(vector) != e.dimension {
		return nil, goerr.Wrap(model.ErrEmbeddingUnavailable, "unexpected embedding dimension",
			goerr.V("expected", e.dimension),
			goerr.V("actual", len(vector)))
	}

	if e.cache != nil {
		e.cache.SetDefault(text, vector)
	}
	return vector, nil
}

// EmbedMany embeds texts in one batch; the result is positionally aligned with texts
func (e *Embedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	vectors, err := e.client.EmbeddingBatch(ctx, texts, e.dimension)
	if err != nil {
		return nil, goerr.Wrap(model.ErrEmbeddingUnavailable, "failed to embed texts",
			goerr.V("cause", err),
			goerr.V("count", len(texts)))
	}
	if len(vectors) != len(texts) {
		return nil, goerr.Wrap(model.ErrEmbeddingUnavailable, "embedding count mismatch",
			goerr.V("expected", len(texts)),
			goerr.V("actual", len(vectors)))
	}
	for i, v := range vectors {
		if len(v) != e.dimension {
			return nil, goerr.Wrap(model.ErrEmbeddingUnavailable, "unexpected embedding dimension",
				goerr.V("index", i),
				goerr.V("expected", e.dimension),
				goerr.V("actual", len(v)))
		}
	}

	return vectors, nil
}
