package knowledge

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/nutmeg/pkg/model"
	"github.com/m-mizutani/nutmeg/pkg/repository"
	"github.com/m-mizutani/nutmeg/pkg/utils/logging"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Search runs the hybrid search pipeline:
// 1. Expand the query with related vocabulary and embed it
// 2. Similarity search, relaxing the threshold along the ladder while nothing matches
// 3. Merge rows carrying any requested tag
// 4. Apply the temporal filter, rank and cap to MatchCount
//
// A search with tags and an empty query skips steps 1 and 2.
func (u *UseCase) Search(ctx context.Context, req *model.SearchRequest) ([]*model.SearchResult, error) {
	if req == nil {
		return nil, goerr.New("search request is required", goerr.T(model.TagInvalidRequest))
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.MatchCount <= 0 {
		return []*model.SearchResult{}, nil
	}

	ctx, span := u.tracer.Start(ctx, "knowledge.Search", trace.WithAttributes(
		attribute.String("account_id", string(req.AccountID)),
		attribute.Int("match_count", req.MatchCount),
	))
	defer span.End()

	results, err := u.search(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, model.ErrorCode(err))
		return nil, err
	}

	span.SetAttributes(attribute.Int("result_count", len(results)))
	return results, nil
}

func (u *UseCase) search(ctx context.Context, req *model.SearchRequest) ([]*model.SearchResult, error) {
	now := u.now()
	tags := model.NormalizeTags(req.Tags)

	var vectorRows []*model.ScoredVector
	if query := strings.TrimSpace(req.Query); query != "" {
		rows, err := u.vectorSearch(ctx, req, query, now)
		if err != nil {
			return nil, err
		}
		vectorRows = rows
	}

	var tagRows []*model.KnowledgeVector
	if len(tags) > 0 {
		// the store applies the temporal filter before the cap
		rows, err := u.store.ListByTags(ctx, &repository.TagQuery{
			AccountID: req.AccountID,
			Tags:      tags,
			Limit:     req.MatchCount + len(vectorRows),
			Temporal:  req.Temporal,
			Now:       now,
		})
		if err != nil {
			return nil, goerr.Wrap(err, "failed to list vectors by tags",
				goerr.V("account_id", req.AccountID), goerr.V("tags", tags))
		}
		tagRows = rows
	}

	merged := u.merge(vectorRows, tagRows)

	results := make([]*model.SearchResult, 0, len(merged))
	for _, r := range merged {
		// rows of other accounts never leave the pipeline
		if r.AccountID != req.AccountID {
			continue
		}
		if !req.Temporal.Match(r.KnowledgeVector, now) {
			continue
		}
		results = append(results, r)
	}

	slices.SortStableFunc(results, compareResults)
	if len(results) > req.MatchCount {
		results = results[:req.MatchCount]
	}

	logging.From(ctx).Debug("knowledge search done",
		"account_id", req.AccountID,
		"vector_rows", len(vectorRows),
		"tag_rows", len(tagRows),
		"results", len(results),
	)
	return results, nil
}

// thresholds returns the requested cutoff followed by the ladder cutoffs strictly below it
func (u *UseCase) thresholds(requested float64) []float64 {
	cutoffs := []float64{requested}
	for _, c := range u.ladder {
		if c < cutoffs[len(cutoffs)-1] {
			cutoffs = append(cutoffs, c)
		}
	}
	return cutoffs
}

func (u *UseCase) vectorSearch(ctx context.Context, req *model.SearchRequest, query string, now time.Time) ([]*model.ScoredVector, error) {
	threshold := u.defaultThreshold
	if req.MatchThreshold != nil {
		threshold = *req.MatchThreshold
	}
	if threshold < -1 || threshold > 1 {
		return nil, goerr.New("match threshold must be within [-1, 1]",
			goerr.V("threshold", threshold), goerr.T(model.TagInvalidRequest))
	}

	expanded := u.expander.Expand(query)
	embedding, err := u.embedder.Embed(ctx, expanded)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed query", goerr.V("account_id", req.AccountID))
	}

	for _, cutoff := range u.thresholds(threshold) {
		rows, err := u.store.SimilaritySearch(ctx, &repository.SimilarityQuery{
			AccountID: req.AccountID,
			Embedding: embedding,
			Threshold: cutoff,
			Limit:     req.MatchCount,
			Temporal:  req.Temporal,
			Now:       now,
		})
		if err != nil {
			if goerr.HasTag(err, model.TagDimensionMismatch) {
				logging.From(ctx).Error("ALERT: stored vectors do not match the embedding dimension, re-embedding is required",
					"account_id", req.AccountID,
					"model", u.embedder.Model(),
					"dimension", u.embedder.Dimension(),
					"error", err,
				)
			}
			return nil, goerr.Wrap(err, "failed to run similarity search",
				goerr.V("account_id", req.AccountID), goerr.V("threshold", cutoff))
		}

		if len(rows) > 0 {
			if cutoff != threshold {
				logging.From(ctx).Debug("similarity threshold relaxed",
					"account_id", req.AccountID,
					"requested", threshold,
					"used", cutoff,
					"rows", len(rows),
				)
			}
			return rows, nil
		}
	}

	return nil, nil
}

// merge unions vector and tag matches by document. A row found by both keeps its vector
// score; a row found only by tags gets the tag score.
func (u *UseCase) merge(vectorRows []*model.ScoredVector, tagRows []*model.KnowledgeVector) []*model.SearchResult {
	byDocument := make(map[model.DocumentID]*model.SearchResult, len(vectorRows)+len(tagRows))
	results := make([]*model.SearchResult, 0, len(vectorRows)+len(tagRows))

	for _, row := range vectorRows {
		if _, ok := byDocument[row.Vector.DocumentID]; ok {
			continue
		}
		r := &model.SearchResult{
			KnowledgeVector: row.Vector,
			Similarity:      row.Similarity,
			MatchedBy:       model.MatchedByVector,
		}
		byDocument[row.Vector.DocumentID] = r
		results = append(results, r)
	}

	for _, v := range tagRows {
		if r, ok := byDocument[v.DocumentID]; ok {
			if r.MatchedBy == model.MatchedByVector {
				r.MatchedBy = model.MatchedByBoth
			}
			continue
		}
		r := &model.SearchResult{
			KnowledgeVector: v,
			Similarity:      u.tagScore,
			MatchedBy:       model.MatchedByTag,
		}
		byDocument[v.DocumentID] = r
		results = append(results, r)
	}

	return results
}

// compareResults orders by score, then newest first
func compareResults(a, b *model.SearchResult) int {
	switch {
	case a.Similarity > b.Similarity:
		return -1
	case a.Similarity < b.Similarity:
		return 1
	}
	return b.CreatedAt.Compare(a.CreatedAt)
}

// Recent returns the newest memories of an account
func (u *UseCase) Recent(ctx context.Context, accountID model.AccountID, limit int) ([]*model.KnowledgeVector, error) {
	if accountID == "" {
		return nil, goerr.New("account id is required", goerr.T(model.TagInvalidRequest))
	}
	if limit <= 0 {
		return []*model.KnowledgeVector{}, nil
	}

	rows, err := u.store.ListRecent(ctx, accountID, limit)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list recent vectors", goerr.V("account_id", accountID))
	}
	if rows == nil {
		rows = []*model.KnowledgeVector{}
	}
	return rows, nil
}

// Tags counts the tags of an account's memories, most used first. limit <= 0 returns all.
func (u *UseCase) Tags(ctx context.Context, accountID model.AccountID, limit int) ([]*model.TagCount, error) {
	if accountID == "" {
		return nil, goerr.New("account id is required", goerr.T(model.TagInvalidRequest))
	}

	rows, err := u.store.ListVectors(ctx, accountID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list vectors", goerr.V("account_id", accountID))
	}

	counts := make(map[string]int)
	for _, v := range rows {
		for _, tag := range v.Tags {
			counts[tag]++
		}
	}

	tags := make([]*model.TagCount, 0, len(counts))
	for tag, n := range counts {
		tags = append(tags, &model.TagCount{Tag: tag, Count: n})
	}
	slices.SortFunc(tags, func(a, b *model.TagCount) int {
		if a.Count != b.Count {
			return b.Count - a.Count
		}
		return strings.Compare(a.Tag, b.Tag)
	})

	if limit > 0 && len(tags) > limit {
		tags = tags[:limit]
	}
	return tags, nil
}
