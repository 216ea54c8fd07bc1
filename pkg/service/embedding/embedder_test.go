package embedding_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/ragnote/pkg/model"
	"github.com/m-mizutani/ragnote/pkg/service/embedding"
)

type mockClient struct {
	embedding      func(ctx context.Context, text string, dimension int) ([]float32, error)
	embeddingBatch func(ctx context.Context, texts []string, dimension int) ([][]float32, error)
	calls          int
}

func (m *mockClient) Embedding(ctx context.Context, text string, dimension int) ([]float32, error) {
	m.calls++
	return m.embedding(ctx, text, dimension)
}

func (m *mockClient) EmbeddingBatch(ctx context.Context, texts []string, dimension int) ([][]float32, error) {
	m.calls++
	return m.embeddingBatch(ctx, texts, dimension)
}

func fixedVector(dimension int) []float32 {
	v := make([]float32, dimension)
	for i := range v {
		v[i] = float32(i+1) / float32(dimension)
	}
	return v
}

func TestEmbedOne(t *testing.T) {
	client := &mockClient{
		embedding: func(ctx context.Context, text string, dimension int) ([]float32, error) {
			gt.V(t, text).Equal("hiking trip")
			return fixedVector(dimension), nil
		},
	}

	e := embedding.New(client, 8)
	v, err := e.EmbedOne(context.Background(), "hiking trip")
	gt.NoError(t, err)
	gt.A(t, v).Length(8)
}

func TestEmbedOneBlankText(t *testing.T) {
	client := &mockClient{
		embedding: func(ctx context.Context, text string, dimension int) ([]float32, error) {
			gt.V(t, text).Equal(" ")
			return fixedVector(dimension), nil
		},
	}

	e := embedding.New(client, 4)
	v, err := e.EmbedOne(context.Background(), "")
	gt.NoError(t, err)
	gt.A(t, v).Length(4)
}

func TestEmbedOneFailure(t *testing.T) {
	t.Run("provider error", func(t *testing.T) {
		client := &mockClient{
			embedding: func(ctx context.Context, text string, dimension int) ([]float32, error) {
				return nil, errors.New("quota exceeded")
			},
		}

		v, err := embedding.New(client, 4).EmbedOne(context.Background(), "q")
		gt.Error(t, err)
		gt.True(t, errors.Is(err, model.ErrEmbeddingUnavailable))
		gt.V(t, v).Nil()
	})

	t.Run("wrong dimension", func(t *testing.T) {
		client := &mockClient{
			embedding: func(ctx context.Context, text string, dimension int) ([]float32, error) {
				return fixedVector(dimension - 1), nil
			},
		}

		_, err := embedding.New(client, 4).EmbedOne(context.Background(), "q")
		gt.True(t, errors.Is(err, model.ErrEmbeddingUnavailable))
	})

	t.Run("timeout", func(t *testing.T) {
		client := &mockClient{
			embedding: func(ctx context.Context, text string, dimension int) ([]float32, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			},
		}

		e := embedding.New(client, 4, embedding.WithTimeout(10*time.Millisecond))
		_, err := e.EmbedOne(context.Background(), "q")
		gt.True(t, errors.Is(err, model.ErrEmbeddingUnavailable))
	})
}

func TestEmbedOneCache(t *testing.T) {
	client := &mockClient{
		embedding: func(ctx context.Context, text string, dimension int) ([]float32, error) {
			return fixedVector(dimension), nil
		},
	}

	e := embedding.New(client, 4, embedding.WithCache(time.Minute))
	_, err := e.EmbedOne(context.Background(), "same query")
	gt.NoError(t, err)
	_, err = e.EmbedOne(context.Background(), "same query")
	gt.NoError(t, err)
	gt.V(t, client.calls).Equal(1)

	_, err = e.EmbedOne(context.Background(), "other query")
	gt.NoError(t, err)
	gt.V(t, client.calls).Equal(2)
}

func TestEmbedMany(t *testing.T) {
	t.Run("aligned", func(t *testing.T) {
		client := &mockClient{
			embeddingBatch: func(ctx context.Context, texts []string, dimension int) ([][]float32, error) {
				out := make([][]float32, len(texts))
				for i := range texts {
					out[i] = fixedVector(dimension)
				}
				return out, nil
			},
		}

		vs, err := embedding.New(client, 4).EmbedMany(context.Background(), []string{"a", "b", "c"})
		gt.NoError(t, err)
		gt.A(t, vs).Length(3)
	})

	t.Run("empty input", func(t *testing.T) {
		client := &mockClient{}
		vs, err := embedding.New(client, 4).EmbedMany(context.Background(), nil)
		gt.NoError(t, err)
		gt.A(t, vs).Length(0)
		gt.V(t, client.calls).Equal(0)
	})

	t.Run("count mismatch", func(t *testing.T) {
		client := &mockClient{
			embeddingBatch: func(ctx context.Context, texts []string, dimension int) ([][]float32, error) {
				return [][]float32{fixedVector(dimension)}, nil
			},
		}

		_, err := embedding.New(client, 4).EmbedMany(context.Background(), []string{"a", "b"})
		gt.True(t, errors.Is(err, model.ErrEmbeddingUnavailable))
	})
}
