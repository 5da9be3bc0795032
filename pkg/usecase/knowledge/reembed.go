package knowledge

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/nutmeg/pkg/model"
	"github.com/m-mizutani/nutmeg/pkg/utils/logging"
)

// Stale reports whether v was produced by another lexicon version or embedding model
func (u *UseCase) Stale(v *model.KnowledgeVector) bool {
	return v.LexiconVersion != u.table.Version() || v.EmbeddingModel != u.embedder.Model()
}

// Reembed re-enriches and re-embeds the stale vectors of an account, or every vector when
// force is set. Relative time expressions keep resolving against the original CreatedAt.
// Returns the number of rewritten vectors.
func (u *UseCase) Reembed(ctx context.Context, accountID model.AccountID, force bool) (int, error) {
	if accountID == "" {
		return 0, goerr.New("account id is required", goerr.T(model.TagInvalidRequest))
	}

	vectors, err := u.store.ListVectors(ctx, accountID)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to list vectors", goerr.V("account_id", accountID))
	}

	count := 0
	for _, v := range vectors {
		if !force && !u.Stale(v) {
			continue
		}

		previous := v.LexiconVersion
		if err := u.embedVector(ctx, v, v.EnrichedContent, v.CreatedAt); err != nil {
			return count, err
		}
		if _, err := u.store.Upsert(ctx, v); err != nil {
			return count, goerr.Wrap(err, "failed to save re-embedded vector",
				goerr.V("account_id", accountID), goerr.V("vector_id", v.ID))
		}

		logging.From(ctx).Debug("vector re-embedded",
			"vector_id", v.ID,
			"lexicon_from", previous,
			"lexicon_to", v.LexiconVersion,
		)
		count++
	}

	return count, nil
}
