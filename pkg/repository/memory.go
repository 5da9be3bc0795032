package repository

import (
	"context"
	"slices"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/nutmeg/pkg/model"
	"github.com/philippgille/chromem-go"
)

// Memory is an embedded VectorStore on chromem-go. Each account has its own collection, so
// nearest-neighbor queries never see another account's rows. Rows are lost on exit.
type Memory struct {
	db   *chromem.DB
	opts *options

	mu   sync.RWMutex
	rows map[model.VectorID]*model.KnowledgeVector
	// dims is the dimension learned from the first row of each account
	dims map[model.AccountID]int
}

var _ VectorStore = (*Memory)(nil)

func NewMemory(opts ...Option) *Memory {
	return &Memory{
		db:   chromem.NewDB(),
		opts: newOptions(opts),
		rows: make(map[model.VectorID]*model.KnowledgeVector),
		dims: make(map[model.AccountID]int),
	}
}

func (m *Memory) collection(accountID model.AccountID) (*chromem.Collection, error) {
	c, err := m.db.GetOrCreateCollection("account:"+string(accountID), nil, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open collection",
			goerr.V("account_id", accountID), goerr.T(model.TagStoreUnavailable))
	}
	return c, nil
}

func (m *Memory) expectedDimension(accountID model.AccountID) int {
	if m.opts.dimension > 0 {
		return m.opts.dimension
	}
	return m.dims[accountID]
}

func (m *Memory) findByDocument(accountID model.AccountID, documentID model.DocumentID) *model.KnowledgeVector {
	for _, v := range m.rows {
		if v.AccountID == accountID && v.DocumentID == documentID {
			return v
		}
	}
	return nil
}

func (m *Memory) Upsert(ctx context.Context, v *model.KnowledgeVector) (model.VectorID, error) {
	if err := validateVector(v); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if d := m.expectedDimension(v.AccountID); d > 0 && len(v.Embedding) != d {
		return "", dimensionMismatch(d, len(v.Embedding),
			goerr.V("account_id", v.AccountID), goerr.V("document_id", v.DocumentID))
	}

	c, err := m.collection(v.AccountID)
	if err != nil {
		return "", err
	}

	if prev, ok := m.rows[v.ID]; ok && prev.AccountID != v.AccountID {
		return "", goerr.New("vector belongs to another account",
			goerr.V("vector_id", v.ID), goerr.T(model.TagInvalidRequest))
	}

	row := cloneVector(v)
	now := m.opts.now()

	if existing := m.findByDocument(v.AccountID, v.DocumentID); existing != nil {
		// re-linked row replaces the one already attached to the document
		if v.ID != "" && v.ID != existing.ID {
			if err := m.deleteLocked(ctx, v.ID); err != nil {
				return "", err
			}
		}
		row.ID = existing.ID
		row.CreatedAt = existing.CreatedAt
	}

	if row.ID == "" {
		row.ID = model.NewVectorID()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	row.UpdatedAt = now

	doc := chromem.Document{
		ID:        string(row.ID),
		Content:   row.EnrichedContent,
		Embedding: slices.Clone([]float32(row.Embedding)),
	}
	if err := c.AddDocument(ctx, doc); err != nil {
		return "", goerr.Wrap(err, "failed to add document to collection",
			goerr.V("vector_id", row.ID), goerr.T(model.TagStoreUnavailable))
	}

	m.rows[row.ID] = row
	if _, ok := m.dims[row.AccountID]; !ok {
		m.dims[row.AccountID] = len(row.Embedding)
	}

	return row.ID, nil
}

func (m *Memory) GetVector(ctx context.Context, id model.VectorID) (*model.KnowledgeVector, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.rows[id]
	if !ok {
		return nil, goerr.New("vector not found", goerr.V("vector_id", id), goerr.T(model.TagNotFound))
	}
	return cloneVector(v), nil
}

func (m *Memory) FindByDocument(ctx context.Context, accountID model.AccountID, documentID model.DocumentID) (*model.KnowledgeVector, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if v := m.findByDocument(accountID, documentID); v != nil {
		return cloneVector(v), nil
	}
	return nil, nil
}

func (m *Memory) DeleteVector(ctx context.Context, id model.VectorID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.deleteLocked(ctx, id)
}

func (m *Memory) deleteLocked(ctx context.Context, id model.VectorID) error {
	v, ok := m.rows[id]
	if !ok {
		return nil
	}

	c, err := m.collection(v.AccountID)
	if err != nil {
		return err
	}
	if err := c.Delete(ctx, nil, nil, string(id)); err != nil {
		return goerr.Wrap(err, "failed to delete document from collection",
			goerr.V("vector_id", id), goerr.T(model.TagStoreUnavailable))
	}

	delete(m.rows, id)
	return nil
}

func (m *Memory) SimilaritySearch(ctx context.Context, q *SimilarityQuery) ([]*model.ScoredVector, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if d := m.expectedDimension(q.AccountID); d > 0 && len(q.Embedding) != d {
		return nil, dimensionMismatch(d, len(q.Embedding), goerr.V("account_id", q.AccountID))
	}

	c, err := m.collection(q.AccountID)
	if err != nil {
		return nil, err
	}
	n := c.Count()
	if n == 0 {
		return nil, nil
	}

	found, err := c.QueryEmbedding(ctx, slices.Clone([]float32(q.Embedding)), n, nil, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query collection",
			goerr.V("account_id", q.AccountID), goerr.T(model.TagStoreUnavailable))
	}

	now := q.Now
	if now.IsZero() {
		now = m.opts.now()
	}

	var results []*model.ScoredVector
	for _, r := range found {
		similarity := float64(r.Similarity)
		if similarity < q.Threshold {
			// results are ordered by similarity
			break
		}

		v, ok := m.rows[model.VectorID(r.ID)]
		if !ok || !q.Temporal.Match(v, now) {
			continue
		}
		results = append(results, &model.ScoredVector{Vector: cloneVector(v), Similarity: similarity})
		if len(results) == q.Limit {
			break
		}
	}

	return results, nil
}

func (m *Memory) ListByTags(ctx context.Context, q *TagQuery) ([]*model.KnowledgeVector, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if len(q.Tags) == 0 {
		return nil, nil
	}

	now := q.Now
	if now.IsZero() {
		now = m.opts.now()
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var rows []*model.KnowledgeVector
	for _, v := range m.rows {
		if v.AccountID == q.AccountID && v.HasAnyTag(q.Tags) && q.Temporal.Match(v, now) {
			rows = append(rows, cloneVector(v))
		}
	}

	sortNewest(rows)
	return truncate(rows, q.Limit), nil
}

func (m *Memory) ListRecent(ctx context.Context, accountID model.AccountID, limit int) ([]*model.KnowledgeVector, error) {
	rows, err := m.ListVectors(ctx, accountID)
	if err != nil {
		return nil, err
	}

	sortNewest(rows)
	return truncate(rows, limit), nil
}

func (m *Memory) ListVectors(ctx context.Context, accountID model.AccountID) ([]*model.KnowledgeVector, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var rows []*model.KnowledgeVector
	for _, v := range m.rows {
		if v.AccountID == accountID {
			rows = append(rows, cloneVector(v))
		}
	}
	sortNewest(rows)
	return rows, nil
}

func (m *Memory) ListAccounts(ctx context.Context) ([]model.AccountID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var accounts []model.AccountID
	for _, v := range m.rows {
		if !slices.Contains(accounts, v.AccountID) {
			accounts = append(accounts, v.AccountID)
		}
	}
	slices.Sort(accounts)
	return accounts, nil
}
