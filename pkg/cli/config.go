package cli

import (
	"context"
	"io"
	"slices"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/nutmeg/pkg/adapter"
	"github.com/m-mizutani/nutmeg/pkg/lexicon"
	"github.com/m-mizutani/nutmeg/pkg/repository"
	"github.com/m-mizutani/nutmeg/pkg/usecase/knowledge"
	"github.com/m-mizutani/nutmeg/pkg/utils/logging"
	"github.com/m-mizutani/nutmeg/pkg/utils/retry"
	"github.com/urfave/cli/v3"
)

const (
	backendFirestore = "firestore"
	backendMemory    = "memory"
)

// config holds configuration values
type config struct {
	// Repository
	project  string
	database string
	backend  string

	// Embedding
	geminiProject      string
	geminiLocation     string
	embeddingModel     string
	embeddingDimension int64
	embeddingCacheSize int64

	// Retrieval
	lexiconPath      string
	matchThreshold   float64
	relaxationLadder []float64
	noRelaxation     bool
	tagScore         float64
	maxRetries       int64

	// Logging
	logLevel  string
	logFormat string
}

// globalFlags returns common flags used across commands with destination config
func globalFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
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
			Name:        "backend",
			Usage:       "Vector store backend (firestore, memory)",
			Value:       backendFirestore,
			Sources:     cli.EnvVars("NUTMEG_BACKEND"),
			Destination: &cfg.backend,
		},
		&cli.IntFlag{
			Name:        "max-retries",
			Usage:       "Retries for transient embedding and store failures",
			Value:       3,
			Sources:     cli.EnvVars("NUTMEG_MAX_RETRIES"),
			Destination: &cfg.maxRetries,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     cli.EnvVars("NUTMEG_LOG_LEVEL"),
			Destination: &cfg.logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "Log format (console, json)",
			Value:       logging.FormatConsole,
			Sources:     cli.EnvVars("NUTMEG_LOG_FORMAT"),
			Destination: &cfg.logFormat,
		},
	}
}

// embeddingFlags returns flags for the embedding model with destination config
func embeddingFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini (defaults to --project)",
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
			Name:        "embedding-model",
			Usage:       "Embedding model name",
			Value:       adapter.DefaultEmbeddingModel,
			Sources:     cli.EnvVars("NUTMEG_EMBEDDING_MODEL"),
			Destination: &cfg.embeddingModel,
		},
		&cli.IntFlag{
			Name:        "embedding-dimension",
			Usage:       "Embedding vector dimension. Must match stored vectors",
			Value:       adapter.DefaultEmbeddingDimension,
			Sources:     cli.EnvVars("NUTMEG_EMBEDDING_DIMENSION"),
			Destination: &cfg.embeddingDimension,
		},
		&cli.IntFlag{
			Name:        "embedding-cache-size",
			Usage:       "Number of embeddings kept in memory (0 disables the cache)",
			Value:       1024,
			Sources:     cli.EnvVars("NUTMEG_EMBEDDING_CACHE_SIZE"),
			Destination: &cfg.embeddingCacheSize,
		},
	}
}

// retrievalFlags returns flags tuning enrichment and hybrid search with destination config
func retrievalFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "lexicon",
			Usage:       "Path to a YAML vocabulary table replacing the built-in one",
			Sources:     cli.EnvVars("NUTMEG_LEXICON"),
			Destination: &cfg.lexiconPath,
		},
		&cli.FloatFlag{
			Name:        "match-threshold",
			Usage:       "Default minimum cosine similarity of vector matches (-1.0 to 1.0)",
			Value:       knowledge.DefaultMatchThreshold,
			Sources:     cli.EnvVars("NUTMEG_MATCH_THRESHOLD"),
			Destination: &cfg.matchThreshold,
		},
		&cli.FloatSliceFlag{
			Name:        "relaxation-ladder",
			Usage:       "Cutoffs tried in order while a vector search returns nothing",
			Value:       slices.Clone(knowledge.DefaultRelaxationLadder),
			Sources:     cli.EnvVars("NUTMEG_RELAXATION_LADDER"),
			Destination: &cfg.relaxationLadder,
		},
		&cli.BoolFlag{
			Name:        "no-relaxation",
			Usage:       "Disable threshold relaxation",
			Sources:     cli.EnvVars("NUTMEG_NO_RELAXATION"),
			Destination: &cfg.noRelaxation,
		},
		&cli.FloatFlag{
			Name:        "tag-score",
			Usage:       "Score given to rows found only by tag",
			Value:       knowledge.DefaultTagScore,
			Sources:     cli.EnvVars("NUTMEG_TAG_SCORE"),
			Destination: &cfg.tagScore,
		},
	}
}

// knowledgeFlags returns every flag needed to build the knowledge use case
func knowledgeFlags(cfg *config) []cli.Flag {
	var flags []cli.Flag
	flags = append(flags, globalFlags(cfg)...)
	flags = append(flags, embeddingFlags(cfg)...)
	flags = append(flags, retrievalFlags(cfg)...)
	return flags
}

// setupLogger replaces the default logger according to log flags
func (cfg *config) setupLogger(w io.Writer) {
	logging.SetDefault(logging.New(cfg.logLevel, cfg.logFormat, w))
}

// newRetry creates the retry policy for transient failures
func (cfg *config) newRetry() *retry.Policy {
	return retry.New(retry.WithMaxRetries(uint64(max(cfg.maxRetries, 0))))
}

// newVectorStore creates the vector store for the selected backend
func (cfg *config) newVectorStore(ctx context.Context) (repository.VectorStore, func(), error) {
	switch cfg.backend {
	case backendMemory:
		return repository.NewMemory(repository.WithDimension(int(cfg.embeddingDimension))), func() {}, nil

	case backendFirestore:
		if cfg.project == "" {
			return nil, nil, goerr.New("project is required")
		}
		if cfg.database == "" {
			return nil, nil, goerr.New("database is required")
		}

		repo, err := repository.NewFirestore(ctx, cfg.project, cfg.database,
			repository.WithDimension(int(cfg.embeddingDimension)))
		if err != nil {
			return nil, nil, goerr.Wrap(err, "failed to create repository")
		}
		return repo, func() { safeClose(ctx, repo) }, nil

	default:
		return nil, nil, goerr.New("unknown backend", goerr.V("backend", cfg.backend))
	}
}

// newDocuments creates the document store read by reconcile and provenance lookup.
// The memory backend has no document store.
func (cfg *config) newDocuments(ctx context.Context) (adapter.DocumentStore, func(), error) {
	if cfg.backend != backendFirestore {
		return nil, func() {}, nil
	}

	docs, err := adapter.NewFirestoreDocuments(ctx, cfg.project, cfg.database)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to create document store")
	}
	return docs, func() { safeClose(ctx, docs) }, nil
}

// newEmbedder creates the Gemini embedder, cached when embedding-cache-size is positive
func (cfg *config) newEmbedder(ctx context.Context) (adapter.Embedder, func(), error) {
	project := cfg.geminiProject
	if project == "" {
		project = cfg.project
	}
	if project == "" {
		return nil, nil, goerr.New("gemini-project is required")
	}
	if cfg.geminiLocation == "" {
		return nil, nil, goerr.New("gemini-location is required")
	}
	if cfg.embeddingDimension <= 0 {
		return nil, nil, goerr.New("embedding-dimension must be positive", goerr.V("dimension", cfg.embeddingDimension))
	}

	gemini, err := adapter.NewGemini(ctx, project, cfg.geminiLocation,
		adapter.WithEmbeddingModel(cfg.embeddingModel),
		adapter.WithEmbeddingDimension(int(cfg.embeddingDimension)),
	)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to create embedder")
	}

	if cfg.embeddingCacheSize <= 0 {
		return gemini, func() {}, nil
	}

	cached, err := adapter.NewCachedEmbedder(gemini, cfg.embeddingCacheSize)
	if err != nil {
		return nil, nil, err
	}
	return cached, cached.Close, nil
}

// newTable loads the vocabulary table
func (cfg *config) newTable() (*lexicon.Table, error) {
	if cfg.lexiconPath == "" {
		return lexicon.Default()
	}
	return lexicon.Load(cfg.lexiconPath)
}

// newKnowledge wires the knowledge use case. The returned func releases every client.
func (cfg *config) newKnowledge(ctx context.Context) (*knowledge.UseCase, func(), error) {
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	table, err := cfg.newTable()
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to load lexicon", goerr.V("path", cfg.lexiconPath))
	}

	store, closeStore, err := cfg.newVectorStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	cleanups = append(cleanups, closeStore)

	embedder, closeEmbedder, err := cfg.newEmbedder(ctx)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	cleanups = append(cleanups, closeEmbedder)

	docs, closeDocs, err := cfg.newDocuments(ctx)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	cleanups = append(cleanups, closeDocs)

	ladder := cfg.relaxationLadder
	if cfg.noRelaxation {
		ladder = nil
	}

	opts := []knowledge.Option{
		knowledge.WithDefaultThreshold(cfg.matchThreshold),
		knowledge.WithRelaxationLadder(ladder),
		knowledge.WithTagScore(cfg.tagScore),
	}
	if docs != nil {
		opts = append(opts, knowledge.WithDocumentStore(docs))
	}

	logging.Default().Debug("knowledge use case configured",
		"backend", cfg.backend,
		"embedding_model", embedder.Model(),
		"embedding_dimension", embedder.Dimension(),
		"lexicon_version", table.Version(),
		"match_threshold", cfg.matchThreshold,
		"relaxation_ladder", ladder,
	)

	return knowledge.New(store, embedder, table, opts...), cleanup, nil
}

func safeClose(ctx context.Context, c io.Closer) {
	if err := c.Close(); err != nil {
		logging.From(ctx).Warn("failed to close client", "error", err)
	}
}
