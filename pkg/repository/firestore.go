package repository

import (
	"context"
	"errors"
	"slices"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/nutmeg/pkg/model"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	collectionVectors = "knowledge_vectors"

	// distanceField receives the cosine distance of FindNearest results
	distanceField = "VectorDistance"

	// findNearestMaxLimit is the largest limit Firestore accepts for vector queries
	findNearestMaxLimit = 1000

	// arrayContainsAnyMax is the number of values array-contains-any accepts at once
	arrayContainsAnyMax = 30

	// listPageSize is the number of rows read per round trip by filtered listings
	listPageSize = 100
)

// Firestore is the VectorStore backed by Firestore native vector search.
// Rows are stored in knowledge_vectors with an account equality pre-filter on every query.
type Firestore struct {
	client *firestore.Client
	opts   *options
}

var _ VectorStore = (*Firestore)(nil)

// NewFirestore creates a Firestore vector store
func NewFirestore(ctx context.Context, projectID, databaseID string, opts ...Option) (*Firestore, error) {
	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("project", projectID), goerr.V("database", databaseID))
	}

	return &Firestore{
		client: client,
		opts:   newOptions(opts),
	}, nil
}

func (r *Firestore) Close() error {
	return r.client.Close()
}

func (r *Firestore) vectors() *firestore.CollectionRef {
	return r.client.Collection(collectionVectors)
}

// storeError classifies a Firestore failure. Absent documents are NotFound, everything
// else is StoreUnavailable.
func storeError(err error, msg string, vals ...goerr.Option) error {
	if goerr.HasTag(err, model.TagInvalidRequest) {
		return goerr.Wrap(err, msg, vals...)
	}
	tag := model.TagStoreUnavailable
	if status.Code(err) == codes.NotFound {
		tag = model.TagNotFound
	}
	return goerr.Wrap(err, msg, append(vals, goerr.T(tag))...)
}

func (r *Firestore) Upsert(ctx context.Context, v *model.KnowledgeVector) (model.VectorID, error) {
	if err := validateVector(v); err != nil {
		return "", err
	}
	if d := r.opts.dimension; d > 0 && len(v.Embedding) != d {
		return "", dimensionMismatch(d, len(v.Embedding), goerr.V("document_id", v.DocumentID))
	}

	row := cloneVector(v)
	now := r.opts.now()

	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if v.ID != "" {
			snap, err := tx.Get(r.vectors().Doc(string(v.ID)))
			if err != nil && status.Code(err) != codes.NotFound {
				return err
			}
			if snap != nil && snap.Exists() {
				var prev model.KnowledgeVector
				if err := snap.DataTo(&prev); err != nil {
					return err
				}
				if prev.AccountID != v.AccountID {
					return goerr.New("vector belongs to another account",
						goerr.V("vector_id", v.ID), goerr.T(model.TagInvalidRequest))
				}
			}
		}

		q := r.vectors().
			Where("AccountID", "==", string(v.AccountID)).
			Where("DocumentID", "==", string(v.DocumentID)).
			Limit(1)

		snaps, err := tx.Documents(q).GetAll()
		if err != nil {
			return err
		}

		row.ID = v.ID
		if len(snaps) > 0 {
			var existing model.KnowledgeVector
			if err := snaps[0].DataTo(&existing); err != nil {
				return err
			}
			// re-linked row replaces the one already attached to the document
			if v.ID != "" && v.ID != existing.ID {
				if err := tx.Delete(r.vectors().Doc(string(v.ID))); err != nil {
					return err
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

		return tx.Set(r.vectors().Doc(string(row.ID)), row)
	})
	if err != nil {
		return "", storeError(err, "failed to upsert vector",
			goerr.V("account_id", v.AccountID), goerr.V("document_id", v.DocumentID))
	}

	return row.ID, nil
}

func (r *Firestore) GetVector(ctx context.Context, id model.VectorID) (*model.KnowledgeVector, error) {
	if id == "" {
		return nil, goerr.New("vector id is required", goerr.T(model.TagInvalidRequest))
	}

	snap, err := r.vectors().Doc(string(id)).Get(ctx)
	if err != nil {
		return nil, storeError(err, "failed to get vector", goerr.V("vector_id", id))
	}

	var v model.KnowledgeVector
	if err := snap.DataTo(&v); err != nil {
		return nil, goerr.Wrap(err, "failed to decode vector", goerr.V("vector_id", id))
	}
	return &v, nil
}

func (r *Firestore) FindByDocument(ctx context.Context, accountID model.AccountID, documentID model.DocumentID) (*model.KnowledgeVector, error) {
	q := r.vectors().
		Where("AccountID", "==", string(accountID)).
		Where("DocumentID", "==", string(documentID)).
		Limit(1)

	rows, err := r.collect(q.Documents(ctx))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to find vector by document",
			goerr.V("account_id", accountID), goerr.V("document_id", documentID))
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (r *Firestore) DeleteVector(ctx context.Context, id model.VectorID) error {
	if id == "" {
		return goerr.New("vector id is required", goerr.T(model.TagInvalidRequest))
	}

	// Delete of a missing document succeeds without a precondition
	if _, err := r.vectors().Doc(string(id)).Delete(ctx); err != nil {
		return storeError(err, "failed to delete vector", goerr.V("vector_id", id))
	}
	return nil
}

func (r *Firestore) SimilaritySearch(ctx context.Context, q *SimilarityQuery) ([]*model.ScoredVector, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if d := r.opts.dimension; d > 0 && len(q.Embedding) != d {
		return nil, dimensionMismatch(d, len(q.Embedding), goerr.V("account_id", q.AccountID))
	}

	// Post-filtering by time can drop rows, so fetch more than asked
	limit := q.Limit
	if q.Temporal != nil {
		limit *= 4
	}
	limit = min(limit, findNearestMaxLimit)

	opts := &firestore.FindNearestOptions{DistanceResultField: distanceField}
	if q.Threshold > -1 {
		distance := 1 - q.Threshold
		opts.DistanceThreshold = &distance
	}

	iter := r.vectors().
		Where("AccountID", "==", string(q.AccountID)).
		FindNearest("Embedding", q.Embedding, limit, firestore.DistanceMeasureCosine, opts).
		Documents(ctx)
	defer iter.Stop()

	now := q.Now
	if now.IsZero() {
		now = r.opts.now()
	}

	var results []*model.ScoredVector
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, storeError(err, "failed to run vector search",
				goerr.V("account_id", q.AccountID), goerr.V("threshold", q.Threshold))
		}

		var v model.KnowledgeVector
		if err := snap.DataTo(&v); err != nil {
			return nil, goerr.Wrap(err, "failed to decode vector", goerr.V("vector_id", snap.Ref.ID))
		}
		if len(v.Embedding) != len(q.Embedding) {
			return nil, dimensionMismatch(len(q.Embedding), len(v.Embedding),
				goerr.V("account_id", q.AccountID), goerr.V("vector_id", v.ID))
		}

		distance, err := snap.DataAt(distanceField)
		if err != nil {
			return nil, goerr.Wrap(err, "vector distance is missing", goerr.V("vector_id", v.ID))
		}
		d, ok := distance.(float64)
		if !ok {
			return nil, goerr.New("vector distance is not a number",
				goerr.V("vector_id", v.ID), goerr.V("distance", distance))
		}

		similarity := 1 - d
		if similarity < q.Threshold || !q.Temporal.Match(&v, now) {
			continue
		}
		results = append(results, &model.ScoredVector{Vector: &v, Similarity: similarity})
	}

	slices.SortStableFunc(results, func(a, b *model.ScoredVector) int {
		switch {
		case a.Similarity > b.Similarity:
			return -1
		case a.Similarity < b.Similarity:
			return 1
		}
		return 0
	})

	return truncate(results, q.Limit), nil
}

func (r *Firestore) ListByTags(ctx context.Context, q *TagQuery) ([]*model.KnowledgeVector, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if len(q.Tags) == 0 {
		return nil, nil
	}

	now := q.Now
	if now.IsZero() {
		now = r.opts.now()
	}
	keep := func(v *model.KnowledgeVector) bool {
		return q.Temporal.Match(v, now)
	}

	// The newest q.Limit rows of the union are among the newest q.Limit rows of each chunk
	seen := make(map[model.DocumentID]struct{})
	var rows []*model.KnowledgeVector
	for chunk := range slices.Chunk(q.Tags, arrayContainsAnyMax) {
		query := r.vectors().
			Where("AccountID", "==", string(q.AccountID)).
			Where("Tags", "array-contains-any", chunk).
			OrderBy("CreatedAt", firestore.Desc)

		found, err := r.collectFiltered(ctx, query, q.Limit, keep)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to list vectors by tags",
				goerr.V("account_id", q.AccountID), goerr.V("tags", chunk))
		}
		for _, v := range found {
			if _, ok := seen[v.DocumentID]; ok {
				continue
			}
			seen[v.DocumentID] = struct{}{}
			rows = append(rows, v)
		}
	}

	sortNewest(rows)
	return truncate(rows, q.Limit), nil
}

// collectFiltered pages through q until limit rows pass keep or q is exhausted.
// limit <= 0 reads every page.
func (r *Firestore) collectFiltered(
	ctx context.Context,
	q firestore.Query,
	limit int,
	keep func(*model.KnowledgeVector) bool,
) ([]*model.KnowledgeVector, error) {
	var rows []*model.KnowledgeVector
	var cursor *firestore.DocumentSnapshot

	for {
		page := q.Limit(listPageSize)
		if cursor != nil {
			page = page.StartAfter(cursor)
		}

		snaps, err := page.Documents(ctx).GetAll()
		if err != nil {
			return nil, storeError(err, "failed to iterate vectors")
		}

		for _, snap := range snaps {
			var v model.KnowledgeVector
			if err := snap.DataTo(&v); err != nil {
				return nil, goerr.Wrap(err, "failed to decode vector", goerr.V("vector_id", snap.Ref.ID))
			}
			if !keep(&v) {
				continue
			}
			rows = append(rows, &v)
			if limit > 0 && len(rows) >= limit {
				return rows, nil
			}
		}

		if len(snaps) < listPageSize {
			return rows, nil
		}
		cursor = snaps[len(snaps)-1]
	}
}

func (r *Firestore) ListRecent(ctx context.Context, accountID model.AccountID, limit int) ([]*model.KnowledgeVector, error) {
	q := r.vectors().
		Where("AccountID", "==", string(accountID)).
		OrderBy("CreatedAt", firestore.Desc)
	if limit > 0 {
		q = q.Limit(limit)
	}

	rows, err := r.collect(q.Documents(ctx))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list recent vectors", goerr.V("account_id", accountID))
	}
	return rows, nil
}

func (r *Firestore) ListVectors(ctx context.Context, accountID model.AccountID) ([]*model.KnowledgeVector, error) {
	q := r.vectors().Where("AccountID", "==", string(accountID))

	rows, err := r.collect(q.Documents(ctx))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list vectors", goerr.V("account_id", accountID))
	}
	return rows, nil
}

func (r *Firestore) ListAccounts(ctx context.Context) ([]model.AccountID, error) {
	iter := r.vectors().Select("AccountID").Documents(ctx)
	defer iter.Stop()

	seen := make(map[model.AccountID]struct{})
	var accounts []model.AccountID
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, storeError(err, "failed to list accounts")
		}

		raw, err := snap.DataAt("AccountID")
		if err != nil {
			continue
		}
		id, ok := raw.(string)
		if !ok || id == "" {
			continue
		}
		if _, ok := seen[model.AccountID(id)]; ok {
			continue
		}
		seen[model.AccountID(id)] = struct{}{}
		accounts = append(accounts, model.AccountID(id))
	}

	slices.Sort(accounts)
	return accounts, nil
}

// collect drains iter into rows. Embeddings are kept for callers that re-write rows.
func (r *Firestore) collect(iter *firestore.DocumentIterator) ([]*model.KnowledgeVector, error) {
	defer iter.Stop()

	var rows []*model.KnowledgeVector
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, storeError(err, "failed to iterate vectors")
		}

		var v model.KnowledgeVector
		if err := snap.DataTo(&v); err != nil {
			return nil, goerr.Wrap(err, "failed to decode vector", goerr.V("vector_id", snap.Ref.ID))
		}
		rows = append(rows, &v)
	}
	return rows, nil
}
