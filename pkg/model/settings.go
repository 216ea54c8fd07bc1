package model

import (
	"io"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"
)

// Settings is the immutable tuning of the retrieval and conversation pipeline. It is built once
// at start-up and passed by value to the components that need it.
type Settings struct {
	GenerativeModel    string `yaml:"generative_model"`
	EmbeddingModel     string `yaml:"embedding_model"`
	EmbeddingDimension int    `yaml:"embedding_dimension"`

	// ScoreThreshold is exclusive: a candidate needs a score strictly greater than it
	ScoreThreshold float64 `yaml:"score_threshold"`
	TopK           int     `yaml:"top_k"`
	MaxSteps       int     `yaml:"max_steps"`

	EmbeddingTimeout time.Duration `yaml:"embedding_timeout"`
	IndexTimeout     time.Duration `yaml:"index_timeout"`
	StepTimeout      time.Duration `yaml:"step_timeout"`
	ToolTimeout      time.Duration `yaml:"tool_timeout"`

	RetrievalRetries int           `yaml:"retrieval_retries"`
	RetryBackoff     time.Duration `yaml:"retry_backoff"`
	MaxToolFailures  int           `yaml:"max_tool_failures"`

	QueryCacheTTL time.Duration `yaml:"query_cache_ttl"`
}

// DefaultSettings returns the settings used when nothing is configured
func DefaultSettings() Settings {
	return Settings{
		GenerativeModel:    "gemini-2.5-flash-lite",
		EmbeddingModel:     "text-multilingual-embedding-002",
		EmbeddingDimension: 768,

		ScoreThreshold: 0.3,
		TopK:           16,
		MaxSteps:       3,

		EmbeddingTimeout: 10 * time.Second,
		IndexTimeout:     10 * time.Second,
		StepTimeout:      60 * time.Second,
		ToolTimeout:      30 * time.Second,

		RetrievalRetries: 1,
		RetryBackoff:     200 * time.Millisecond,
		MaxToolFailures:  2,

		QueryCacheTTL: 5 * time.Minute,
	}
}

// LoadSettings reads YAML settings on top of the defaults
func LoadSettings(r io.Reader) (Settings, error) {
	s := DefaultSettings()
	if err := yaml.NewDecoder(r).Decode(&s); err != nil && err != io.EOF {
		return Settings{}, goerr.Wrap(err, "failed to decode settings")
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate checks if all bounds are usable
func (s Settings) Validate() error {
	switch {
	case s.GenerativeModel == "":
		return goerr.Wrap(ErrInvalidSettings, "generative model is empty")
	case s.EmbeddingModel == "":
		return goerr.Wrap(ErrInvalidSettings, "embedding model is empty")
	case s.EmbeddingDimension <= 0:
		return goerr.Wrap(ErrInvalidSettings, "embedding dimension must be positive", goerr.V("dimension", s.EmbeddingDimension))
	case s.TopK <= 0:
		return goerr.Wrap(ErrInvalidSettings, "top_k must be positive", goerr.V("top_k", s.TopK))
	case s.MaxSteps <= 0:
		return goerr.Wrap(ErrInvalidSettings, "max_steps must be positive", goerr.V("max_steps", s.MaxSteps))
	case s.EmbeddingTimeout <= 0 || s.IndexTimeout <= 0 || s.StepTimeout <= 0 || s.ToolTimeout <= 0:
		return goerr.Wrap(ErrInvalidSettings, "timeouts must be positive")
	case s.RetrievalRetries < 0:
		return goerr.Wrap(ErrInvalidSettings, "retrieval_retries must not be negative")
	case s.MaxToolFailures <= 0:
		return goerr.Wrap(ErrInvalidSettings, "max_tool_failures must be positive")
	}
	return nil
}
