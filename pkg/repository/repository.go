package repository

import (
	"context"
	"slices"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/nutmeg/pkg/model"
)

// VectorStore persists knowledge vectors and answers nearest-neighbor queries.
// Every query is scoped to one account.
type VectorStore interface {
	// Upsert saves v. A row already linked to the same (account, document) is replaced,
	// keeping its ID and CreatedAt. Returns the ID of the saved row.
	Upsert(ctx context.Context, v *model.KnowledgeVector) (model.VectorID, error)

	// GetVector returns a row by ID. Absent rows fail with model.TagNotFound.
	GetVector(ctx context.Context, id model.VectorID) (*model.KnowledgeVector, error)

	// FindByDocument returns the row linked to a document, or nil when there is none
	FindByDocument(ctx context.Context, accountID model.AccountID, documentID model.DocumentID) (*model.KnowledgeVector, error)

	// DeleteVector removes a row. Deleting an absent row is not an error.
	DeleteVector(ctx context.Context, id model.VectorID) error

	// SimilaritySearch returns rows at or above q.Threshold ordered by descending similarity
	SimilaritySearch(ctx context.Context, q *SimilarityQuery) ([]*model.ScoredVector, error)

	// ListByTags returns rows carrying any of q.Tags and passing q.Temporal, newest first
	ListByTags(ctx context.Context, q *TagQuery) ([]*model.KnowledgeVector, error)

	// ListRecent returns the newest rows of an account
	ListRecent(ctx context.Context, accountID model.AccountID, limit int) ([]*model.KnowledgeVector, error)

	// ListVectors returns every row of an account
	ListVectors(ctx context.Context, accountID model.AccountID) ([]*model.KnowledgeVector, error)

	// ListAccounts returns the accounts owning at least one row
	ListAccounts(ctx context.Context) ([]model.AccountID, error)
}

// SimilarityQuery is the input of VectorStore.SimilaritySearch
type SimilarityQuery struct {
	AccountID model.AccountID
	Embedding firestore.Vector32

	// Threshold is the minimum cosine similarity in [-1, 1]
	Threshold float64
	Limit     int

	// Temporal drops rows failing the filter before the limit is applied
	Temporal *model.TemporalFilter
	// Now is the reference time of Temporal. Zero means the store's clock.
	Now time.Time
}

// Validate checks the query fields every backend relies on
func (q *SimilarityQuery) Validate() error {
	if q == nil {
		return goerr.New("similarity query is required", goerr.T(model.TagInvalidRequest))
	}
	if q.AccountID == "" {
		return goerr.New("account id is required", goerr.T(model.TagInvalidRequest))
	}
	if len(q.Embedding) == 0 {
		return goerr.New("query embedding is empty", goerr.T(model.TagInvalidRequest))
	}
	if q.Limit <= 0 {
		return goerr.New("limit must be positive", goerr.V("limit", q.Limit), goerr.T(model.TagInvalidRequest))
	}
	return nil
}

// TagQuery is the input of VectorStore.ListByTags
type TagQuery struct {
	AccountID model.AccountID
	Tags      []string

	// Limit caps the rows after the temporal filter. Zero or less means no cap.
	Limit int

	// Temporal drops rows failing the filter before the limit is applied
	Temporal *model.TemporalFilter
	// Now is the reference time of Temporal. Zero means the store's clock.
	Now time.Time
}

// Validate checks the query fields every backend relies on
func (q *TagQuery) Validate() error {
	if q == nil {
		return goerr.New("tag query is required", goerr.T(model.TagInvalidRequest))
	}
	if q.AccountID == "" {
		return goerr.New("account id is required", goerr.T(model.TagInvalidRequest))
	}
	return nil
}

// Option configures a VectorStore implementation
type Option func(*options)

type options struct {
	dimension int
	now       func() time.Time
}

func newOptions(opts []Option) *options {
	o := &options{now: time.Now}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithDimension rejects vectors whose length is not dimension
func WithDimension(dimension int) Option {
	return func(o *options) {
		o.dimension = dimension
	}
}

// WithClock replaces the clock used for CreatedAt and UpdatedAt
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func validateVector(v *model.KnowledgeVector) error {
	if v == nil {
		return goerr.New("vector is required", goerr.T(model.TagInvalidRequest))
	}
	if v.AccountID == "" {
		return goerr.New("account id is required", goerr.T(model.TagInvalidRequest))
	}
	if v.DocumentID == "" {
		return goerr.New("document id is required", goerr.V("account_id", v.AccountID), goerr.T(model.TagInvalidRequest))
	}
	if len(v.Embedding) == 0 {
		return goerr.New("embedding is empty", goerr.V("document_id", v.DocumentID), goerr.T(model.TagInvalidRequest))
	}
	return nil
}

func dimensionMismatch(expected, actual int, vals ...goerr.Option) error {
	opts := append([]goerr.Option{
		goerr.V("expected", expected),
		goerr.V("actual", actual),
		goerr.T(model.TagDimensionMismatch),
	}, vals...)
	return goerr.New("embedding dimension mismatch", opts...)
}

func cloneVector(v *model.KnowledgeVector) *model.KnowledgeVector {
	c := *v
	c.Embedding = slices.Clone(v.Embedding)
	c.Tags = slices.Clone(v.Tags)
	c.ResolvedDates = slices.Clone(v.ResolvedDates)
	if v.TemporalInfo != nil {
		info := *v.TemporalInfo
		info.Expressions = slices.Clone(v.TemporalInfo.Expressions)
		c.TemporalInfo = &info
	}
	return &c
}

// sortNewest orders rows by CreatedAt descending, then by ID
func sortNewest(rows []*model.KnowledgeVector) {
	slices.SortStableFunc(rows, func(a, b *model.KnowledgeVector) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
}

func truncate[T any](rows []T, limit int) []T {
	if limit > 0 && len(rows) > limit {
		return rows[:limit]
	}
	return rows
}
