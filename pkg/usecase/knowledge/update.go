package knowledge

import (
	"context"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/nutmeg/pkg/lexicon"
	"github.com/m-mizutani/nutmeg/pkg/model"
	"github.com/m-mizutani/nutmeg/pkg/utils/logging"
)

// Update changes an existing vector. Content or provenance changes re-enrich and re-embed;
// tag-only changes rewrite the row without calling the embedding model. A non-empty
// documentID re-links the vector to that document, which must not be linked to another vector.
func (u *UseCase) Update(
	ctx context.Context,
	vectorID model.VectorID,
	update *model.EntryUpdate,
	documentID model.DocumentID,
) error {
	if vectorID == "" {
		return goerr.New("vector id is required", goerr.T(model.TagInvalidRequest))
	}
	if update == nil {
		return goerr.New("update is required", goerr.V("vector_id", vectorID), goerr.T(model.TagInvalidRequest))
	}

	v, err := u.store.GetVector(ctx, vectorID)
	if err != nil {
		return goerr.Wrap(err, "failed to get vector", goerr.V("vector_id", vectorID))
	}

	raw := lexicon.RawContent(v.EnrichedContent)
	reembed := false

	if update.Content != nil && *update.Content != raw {
		if strings.TrimSpace(*update.Content) == "" {
			return goerr.New("content must not be empty",
				goerr.V("vector_id", vectorID), goerr.T(model.TagInvalidRequest))
		}
		raw = *update.Content
		reembed = true
	}
	if update.Author != nil && *update.Author != v.Author {
		v.Author = *update.Author
		reembed = true
	}
	if update.Source != nil && *update.Source != v.Source {
		v.Source = *update.Source
		reembed = true
	}
	if update.Tags != nil {
		v.Tags = model.NormalizeTags(update.Tags)
	}
	if documentID != "" && documentID != v.DocumentID {
		linked, err := u.store.FindByDocument(ctx, v.AccountID, documentID)
		if err != nil {
			return goerr.Wrap(err, "failed to look up document link",
				goerr.V("vector_id", vectorID), goerr.V("document_id", documentID))
		}
		if linked != nil && linked.ID != vectorID {
			return goerr.New("document is already linked to another vector",
				goerr.V("vector_id", vectorID),
				goerr.V("document_id", documentID),
				goerr.V("linked_vector_id", linked.ID),
				goerr.T(model.TagInvalidRequest))
		}
		v.DocumentID = documentID
	}

	if reembed {
		if err := u.embedVector(ctx, v, raw, u.now()); err != nil {
			return err
		}
	}

	if _, err := u.store.Upsert(ctx, v); err != nil {
		return goerr.Wrap(err, "failed to save vector", goerr.V("vector_id", vectorID))
	}

	logging.From(ctx).Info("knowledge updated",
		"vector_id", vectorID,
		"document_id", v.DocumentID,
		"reembedded", reembed,
	)
	return nil
}
