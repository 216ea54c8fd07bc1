package cli

import (
	"context"
	"io"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/ragnote/pkg/adapter"
	"github.com/m-mizutani/ragnote/pkg/model"
	"github.com/m-mizutani/ragnote/pkg/repository"
	"github.com/m-mizutani/ragnote/pkg/service/embedding"
	"github.com/m-mizutani/ragnote/pkg/usecase/note"
	"github.com/m-mizutani/ragnote/pkg/utils/logging"
	"github.com/m-mizutani/ragnote/pkg/workflow"
	"github.com/urfave/cli/v3"
)

const (
	backendFirestore = "firestore"
	backendPostgres  = "postgres"
	backendMemory    = "memory"
)

// config holds configuration values
type config struct {
	// Logging
	logLevel  string
	logFormat string

	// Repository
	backend     string
	project     string
	database    string
	postgresDSN string

	// Adapters
	geminiProject  string
	geminiLocation string

	// Settings
	settingsPath    string
	generativeModel string
	scoreThreshold  float64
	topK            int64
	maxSteps        int64

	policyDir string
}

// globalFlags returns common flags used across commands with destination config
func globalFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     cli.EnvVars("RAGNOTE_LOG_LEVEL"),
			Destination: &cfg.logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "Log format (console, json)",
			Value:       "console",
			Sources:     cli.EnvVars("RAGNOTE_LOG_FORMAT"),
			Destination: &cfg.logFormat,
		},
		&cli.StringFlag{
			Name:        "backend",
			Aliases:     []string{"b"},
			Usage:       "Note store backend (firestore, postgres, memory)",
			Value:       backendFirestore,
			Sources:     cli.EnvVars("RAGNOTE_BACKEND"),
			Destination: &cfg.backend,
		},
		&cli.StringFlag{
			Name:        "project",
			Aliases:     []string{"p"},
			Usage:       "Google Cloud project ID",
			Sources:     cli.EnvVars("GOOGLE_CLOUD_PROJECT"),
			Destination: &cfg.project,
		},
		&cli.StringFlag{
			Name:        "database",
			Aliases:     []string{"d"},
			Usage:       "Firestore database ID",
			Value:       "(default)",
			Sources:     cli.EnvVars("FIRESTORE_DATABASE_ID"),
			Destination: &cfg.database,
		},
		&cli.StringFlag{
			Name:        "postgres-dsn",
			Usage:       "PostgreSQL DSN for the postgres backend",
			Sources:     cli.EnvVars("RAGNOTE_POSTGRES_DSN"),
			Destination: &cfg.postgresDSN,
		},
		&cli.StringFlag{
			Name:        "settings",
			Usage:       "Path to settings YAML file",
			Sources:     cli.EnvVars("RAGNOTE_SETTINGS"),
			Destination: &cfg.settingsPath,
		},
	}
}

// llmFlags returns flags for LLM-related configuration with destination config
func llmFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini",
			Sources:     cli.EnvVars("GEMINI_PROJECT_ID"),
			Destination: &cfg.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini",
			Value:       "us-central1",
			Sources:     cli.EnvVars("GEMINI_LOCATION"),
			Destination: &cfg.geminiLocation,
		},
		&cli.StringFlag{
			Name:        "generative-model",
			Usage:       "Gemini model for answers (overrides settings)",
			Sources:     cli.EnvVars("RAGNOTE_GENERATIVE_MODEL"),
			Destination: &cfg.generativeModel,
		},
		&cli.FloatFlag{
			Name:        "score-threshold",
			Usage:       "Minimum similarity score, exclusive (overrides settings)",
			Sources:     cli.EnvVars("RAGNOTE_SCORE_THRESHOLD"),
			Destination: &cfg.scoreThreshold,
		},
		&cli.IntFlag{
			Name:        "top-k",
			Usage:       "Number of chunks fetched from the index (overrides settings)",
			Sources:     cli.EnvVars("RAGNOTE_TOP_K"),
			Destination: &cfg.topK,
		},
		&cli.IntFlag{
			Name:        "max-steps",
			Usage:       "Maximum model steps per conversation (overrides settings)",
			Sources:     cli.EnvVars("RAGNOTE_MAX_STEPS"),
			Destination: &cfg.maxSteps,
		},
	}
}

// policyFlags returns flags for the ingest policy
func policyFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "policy-dir",
			Usage:       "Directory of Rego files evaluated before notes are stored",
			Sources:     cli.EnvVars("RAGNOTE_POLICY_DIR"),
			Destination: &cfg.policyDir,
		},
	}
}

// ownerFlag returns the flag that selects whose notes a local command works on
func ownerFlag(owner *string) cli.Flag {
	return &cli.StringFlag{
		Name:        "owner",
		Aliases:     []string{"o"},
		Usage:       "Owner ID of the notes",
		Sources:     cli.EnvVars("RAGNOTE_OWNER"),
		Destination: owner,
		Required:    true,
	}
}

// setupLogger installs the configured logger into ctx
func (cfg *config) setupLogger(ctx context.Context) context.Context {
	logger := logging.New(cfg.logLevel, os.Stderr, logging.WithFormat(cfg.logFormat))
	logging.SetDefault(logger)
	return logging.With(ctx, logger)
}

// loadSettings reads the settings file and applies flag overrides
func (cfg *config) loadSettings(c *cli.Command) (model.Settings, error) {
	settings := model.DefaultSettings()

	if cfg.settingsPath != "" {
		f, err := os.Open(cfg.settingsPath)
		if err != nil {
			return model.Settings{}, goerr.Wrap(err, "failed to open settings file", goerr.V("path", cfg.settingsPath))
		}
		defer f.Close()

		loaded, err := model.LoadSettings(f)
		if err != nil {
			return model.Settings{}, goerr.Wrap(err, "failed to load settings", goerr.V("path", cfg.settingsPath))
		}
		settings = loaded
	}

	if cfg.generativeModel != "" {
		settings.GenerativeModel = cfg.generativeModel
	}
	if c.IsSet("score-threshold") {
		settings.ScoreThreshold = cfg.scoreThreshold
	}
	if c.IsSet("top-k") {
		settings.TopK = int(cfg.topK)
	}
	if c.IsSet("max-steps") {
		settings.MaxSteps = int(cfg.maxSteps)
	}

	if err := settings.Validate(); err != nil {
		return model.Settings{}, err
	}
	return settings, nil
}

// newRepository creates the repository of the selected backend. The returned closer must be
// called when the command ends.
func (cfg *config) newRepository(ctx context.Context) (repository.Repository, io.Closer, error) {
	switch cfg.backend {
	case backendFirestore:
		if cfg.project == "" {
			return nil, nil, goerr.New("project is required")
		}
		if cfg.database == "" {
			return nil, nil, goerr.New("database is required")
		}
		repo, err := repository.New(ctx, cfg.project, cfg.database)
		if err != nil {
			return nil, nil, goerr.Wrap(err, "failed to create repository")
		}
		return repo, repo, nil

	case backendPostgres:
		if cfg.postgresDSN == "" {
			return nil, nil, goerr.New("postgres-dsn is required")
		}
		repo, err := repository.NewPostgres(ctx, cfg.postgresDSN)
		if err != nil {
			return nil, nil, goerr.Wrap(err, "failed to create repository")
		}
		return repo, repo, nil

	case backendMemory:
		logging.From(ctx).Warn("memory backend keeps notes only while the process runs")
		repo, err := repository.NewMemory()
		if err != nil {
			return nil, nil, goerr.Wrap(err, "failed to create repository")
		}
		return repo, closerFunc(func() error { return nil }), nil

	default:
		return nil, nil, goerr.New("unsupported backend",
			goerr.V("backend", cfg.backend),
			goerr.V("supported", []string{backendFirestore, backendPostgres, backendMemory}))
	}
}

// newGemini creates a new Gemini adapter instance
func (cfg *config) newGemini(ctx context.Context, settings model.Settings) (adapter.Gemini, error) {
	if cfg.geminiProject == "" {
		return nil, goerr.New("gemini-project is required")
	}
	if cfg.geminiLocation == "" {
		return nil, goerr.New("gemini-location is required")
	}

	gemini, err := adapter.NewGemini(ctx, cfg.geminiProject, cfg.geminiLocation,
		adapter.WithGenerativeModel(settings.GenerativeModel),
		adapter.WithEmbeddingModel(settings.EmbeddingModel),
	)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create gemini client")
	}
	return gemini, nil
}

// newStorage creates a new Storage adapter instance
func (cfg *config) newStorage(ctx context.Context, bucketName string) (adapter.Storage, error) {
	if bucketName == "" {
		return nil, goerr.New("bucket name is required")
	}

	storage, err := adapter.NewStorage(ctx, bucketName)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage")
	}
	return storage, nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// app bundles what most commands need
type app struct {
	settings model.Settings
	gemini   adapter.Gemini
	notes    *note.UseCase
	closer   io.Closer
}

func (a *app) Close() {
	if err := a.closer.Close(); err != nil {
		logging.Default().Warn("failed to close repository", "error", err)
	}
}

// newApp builds the note use case on top of the selected backend and Gemini
func (cfg *config) newApp(ctx context.Context, c *cli.Command) (*app, error) {
	settings, err := cfg.loadSettings(c)
	if err != nil {
		return nil, err
	}

	gemini, err := cfg.newGemini(ctx, settings)
	if err != nil {
		return nil, err
	}

	repo, closer, err := cfg.newRepository(ctx)
	if err != nil {
		return nil, err
	}

	var policy *workflow.IngestPolicy
	if cfg.policyDir != "" {
		policy, err = workflow.NewIngestPolicy(ctx, cfg.policyDir)
		if err != nil {
			_ = closer.Close()
			return nil, goerr.Wrap(err, "failed to load ingest policy", goerr.V("dir", cfg.policyDir))
		}
	}

	embedder := embedding.New(gemini, settings.EmbeddingDimension,
		embedding.WithTimeout(settings.EmbeddingTimeout),
		embedding.WithCache(settings.QueryCacheTTL),
	)

	return &app{
		settings: settings,
		gemini:   gemini,
		notes:    note.New(repo, embedder, settings, note.WithIngestPolicy(policy)),
		closer:   closer,
	}, nil
}
