package note

import (
	"context"

	"github.com/m-mizutani/ragnote/pkg/model"
	"github.com/m-mizutani/ragnote/pkg/repository"
	"github.com/m-mizutani/ragnote/pkg/workflow"
)

// Embedder turns text into vectors
type Embedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
	EmbedMany(ctx context.Context, texts []string) ([][]float32, error)
}

// UseCase provides note retrieval and the note write path
type UseCase struct {
	repo     repository.Repository
	embedder Embedder
	settings model.Settings
	policy   *workflow.IngestPolicy
}

// Option is a functional option for UseCase
type Option func(*UseCase)

// WithIngestPolicy sets the policy applied to notes before they are stored
func WithIngestPolicy(policy *workflow.IngestPolicy) Option {
	return func(uc *UseCase) {
		uc.policy = policy
	}
}

// New creates a new note UseCase instance
func New(
	repo repository.Repository,
	embedder Embedder,
	settings model.Settings,
	opts ...Option,
) *UseCase {
	uc := &UseCase{
		repo:     repo,
		embedder: embedder,
		settings: settings,
	}

	for _, opt := range opts {
		opt(uc)
	}

	return uc
}
