package knowledge

import (
	"time"

	"github.com/m-mizutani/nutmeg/pkg/adapter"
	"github.com/m-mizutani/nutmeg/pkg/lexicon"
	"github.com/m-mizutani/nutmeg/pkg/repository"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultMatchThreshold is the similarity cutoff used when a search does not supply one
	DefaultMatchThreshold = 0.5

	// DefaultTagScore ranks tag-only matches below every cosine similarity
	DefaultTagScore = -2.0
)

// DefaultRelaxationLadder is tried in order when a search at the requested threshold finds nothing
var DefaultRelaxationLadder = []float64{0.4, 0.3, 0.2, 0.1, 0.0}

const tracerName = "github.com/m-mizutani/nutmeg/pkg/usecase/knowledge"

// UseCase provides the write path and the hybrid search of a knowledge space
type UseCase struct {
	store     repository.VectorStore
	embedder  adapter.Embedder
	table     *lexicon.Table
	enricher  *lexicon.Enricher
	expander  *lexicon.Expander
	documents adapter.DocumentStore

	defaultThreshold float64
	ladder           []float64
	tagScore         float64

	now    func() time.Time
	tracer trace.Tracer
}

// Option is a functional option for UseCase
type Option func(*UseCase)

// WithDocumentStore enables provenance lookup and reconciliation against the document store
func WithDocumentStore(documents adapter.DocumentStore) Option {
	return func(uc *UseCase) {
		uc.documents = documents
	}
}

func WithDefaultThreshold(threshold float64) Option {
	return func(uc *UseCase) {
		uc.defaultThreshold = threshold
	}
}

// WithRelaxationLadder replaces the fallback cutoffs. Cutoffs not below the previous one are skipped.
func WithRelaxationLadder(ladder []float64) Option {
	return func(uc *UseCase) {
		uc.ladder = ladder
	}
}

// WithTagScore sets the score of rows matched by tags only
func WithTagScore(score float64) Option {
	return func(uc *UseCase) {
		uc.tagScore = score
	}
}

func WithClock(now func() time.Time) Option {
	return func(uc *UseCase) {
		uc.now = now
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(uc *UseCase) {
		uc.tracer = tracer
	}
}

// New creates a knowledge UseCase. The same table drives enrichment and query expansion,
// so stored content and queries share vocabulary.
func New(
	store repository.VectorStore,
	embedder adapter.Embedder,
	table *lexicon.Table,
	opts ...Option,
) *UseCase {
	uc := &UseCase{
		store:            store,
		embedder:         embedder,
		table:            table,
		enricher:         lexicon.NewEnricher(table),
		expander:         lexicon.NewExpander(table),
		defaultThreshold: DefaultMatchThreshold,
		ladder:           DefaultRelaxationLadder,
		tagScore:         DefaultTagScore,
		now:              time.Now,
		tracer:           otel.Tracer(tracerName),
	}

	for _, opt := range opts {
		opt(uc)
	}

	return uc
}
