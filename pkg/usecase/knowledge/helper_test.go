package knowledge_test

import (
	"context"
	"hash/fnv"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/nutmeg/pkg/lexicon"
	"github.com/m-mizutani/nutmeg/pkg/model"
	"github.com/m-mizutani/nutmeg/pkg/repository"
	"github.com/m-mizutani/nutmeg/pkg/usecase/knowledge"
)

// Wednesday noon
var refNow = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

// hashEmbedder maps each word to a hashed dimension. Vectors never have negative
// components and always carry a small bias, so cosine similarity lies in (0, 1].
type hashEmbedder struct {
	dim   int
	model string
	err   error

	mu     sync.Mutex
	inputs []string
}

func newHashEmbedder(dim int) *hashEmbedder {
	return &hashEmbedder{dim: dim, model: "hash-embedding"}
}

func (e *hashEmbedder) Embed(ctx context.Context, text string) (firestore.Vector32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inputs = append(e.inputs, text)

	if e.err != nil {
		return nil, e.err
	}
	return hashVector(text, e.dim), nil
}

func (e *hashEmbedder) Model() string  { return e.model }
func (e *hashEmbedder) Dimension() int { return e.dim }

func (e *hashEmbedder) calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.inputs)
}

func hashVector(text string, dim int) firestore.Vector32 {
	vec := make(firestore.Vector32, dim)
	vec[0] = 0.05
	for _, tok := range lexicon.Tokenize(text) {
		if len(tok) < 3 {
			continue
		}
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		vec[1+int(h.Sum32()%uint32(dim-1))] += 1
	}
	return vec
}

// countingStore records the calls reaching the vector store
type countingStore struct {
	*repository.Memory

	mu         sync.Mutex
	thresholds []float64
	tagCalls   int
	tagLimits  []int
}

func newCountingStore() *countingStore {
	clock := &tickClock{now: refNow}
	return &countingStore{Memory: repository.NewMemory(repository.WithClock(clock.Now))}
}

func (s *countingStore) SimilaritySearch(ctx context.Context, q *repository.SimilarityQuery) ([]*model.ScoredVector, error) {
	s.mu.Lock()
	s.thresholds = append(s.thresholds, q.Threshold)
	s.mu.Unlock()
	return s.Memory.SimilaritySearch(ctx, q)
}

func (s *countingStore) ListByTags(ctx context.Context, q *repository.TagQuery) ([]*model.KnowledgeVector, error) {
	s.mu.Lock()
	s.tagCalls++
	s.tagLimits = append(s.tagLimits, q.Limit)
	s.mu.Unlock()
	return s.Memory.ListByTags(ctx, q)
}

func (s *countingStore) searchCalls() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.thresholds)
}

func (s *countingStore) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.thresholds = nil
	s.tagCalls = 0
	s.tagLimits = nil
}

type tickClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *tickClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

// mockDocuments is a read-only document store
type mockDocuments struct {
	docs map[model.AccountID]map[model.DocumentID]*model.Document
}

func newMockDocuments(docs ...*model.Document) *mockDocuments {
	m := &mockDocuments{docs: make(map[model.AccountID]map[model.DocumentID]*model.Document)}
	for _, d := range docs {
		if m.docs[d.AccountID] == nil {
			m.docs[d.AccountID] = make(map[model.DocumentID]*model.Document)
		}
		m.docs[d.AccountID][d.ID] = d
	}
	return m
}

func (m *mockDocuments) GetDocument(ctx context.Context, accountID model.AccountID, id model.DocumentID) (*model.Document, error) {
	doc, ok := m.docs[accountID][id]
	if !ok {
		return nil, goerr.New("document not found", goerr.V("document_id", id), goerr.T(model.TagNotFound))
	}
	return doc, nil
}

func (m *mockDocuments) ListDocuments(ctx context.Context, accountID model.AccountID) ([]*model.Document, error) {
	var docs []*model.Document
	for _, d := range m.docs[accountID] {
		docs = append(docs, d)
	}
	slices.SortFunc(docs, func(a, b *model.Document) int {
		return strings.Compare(string(a.ID), string(b.ID))
	})
	return docs, nil
}

type fixture struct {
	uc       *knowledge.UseCase
	store    *countingStore
	embedder *hashEmbedder
	table    *lexicon.Table
}

func newFixture(t *testing.T, opts ...knowledge.Option) *fixture {
	t.Helper()

	table, err := lexicon.Default()
	gt.NoError(t, err)

	store := newCountingStore()
	embedder := newHashEmbedder(512)
	opts = append([]knowledge.Option{
		knowledge.WithClock(func() time.Time { return refNow }),
	}, opts...)

	return &fixture{
		uc:       knowledge.New(store, embedder, table, opts...),
		store:    store,
		embedder: embedder,
		table:    table,
	}
}

func (f *fixture) put(t *testing.T, account model.AccountID, doc string, content string, tags ...string) model.VectorID {
	t.Helper()
	id, err := f.uc.Store(context.Background(), account, model.DocumentID(doc), &model.Entry{
		Content: content,
		Tags:    tags,
	})
	gt.NoError(t, err)
	return id
}

func ptr[T any](v T) *T {
	return &v
}

func docIDs(results []*model.SearchResult) []model.DocumentID {
	ids := make([]model.DocumentID, len(results))
	for i, r := range results {
		ids[i] = r.DocumentID
	}
	return ids
}
