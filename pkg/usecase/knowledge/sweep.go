package knowledge

import (
	"context"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/nutmeg/pkg/model"
	"github.com/m-mizutani/nutmeg/pkg/repository"
)

// sweepTop is the number of best similarities kept per sweep point
const sweepTop = 3

// Sweep runs one similarity search per threshold for the same query, without relaxation or
// tag merge. It is a diagnostic for tuning the default threshold and the ladder.
func (u *UseCase) Sweep(
	ctx context.Context,
	accountID model.AccountID,
	query string,
	thresholds []float64,
	limit int,
) ([]*model.SweepPoint, error) {
	if accountID == "" {
		return nil, goerr.New("account id is required", goerr.T(model.TagInvalidRequest))
	}
	if strings.TrimSpace(query) == "" {
		return nil, goerr.New("query is required", goerr.T(model.TagInvalidRequest))
	}
	if limit <= 0 {
		return nil, goerr.New("limit must be positive", goerr.V("limit", limit), goerr.T(model.TagInvalidRequest))
	}

	embedding, err := u.embedder.Embed(ctx, u.expander.Expand(query))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed query", goerr.V("account_id", accountID))
	}

	points := make([]*model.SweepPoint, 0, len(thresholds))
	for _, threshold := range thresholds {
		rows, err := u.store.SimilaritySearch(ctx, &repository.SimilarityQuery{
			AccountID: accountID,
			Embedding: embedding,
			Threshold: threshold,
			Limit:     limit,
		})
		if err != nil {
			return nil, goerr.Wrap(err, "failed to run similarity search",
				goerr.V("account_id", accountID), goerr.V("threshold", threshold))
		}

		point := &model.SweepPoint{
			Threshold: threshold,
			Count:     len(rows),
			Top:       []float64{},
		}
		for i := 0; i < len(rows) && i < sweepTop; i++ {
			point.Top = append(point.Top, rows[i].Similarity)
		}
		points = append(points, point)
	}

	return points, nil
}
