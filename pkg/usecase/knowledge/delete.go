package knowledge

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/nutmeg/pkg/model"
	"github.com/m-mizutani/nutmeg/pkg/utils/logging"
)

// Delete removes a vector row. The linked document is left untouched.
func (u *UseCase) Delete(ctx context.Context, vectorID model.VectorID) error {
	if vectorID == "" {
		return goerr.New("vector id is required", goerr.T(model.TagInvalidRequest))
	}

	if _, err := u.store.GetVector(ctx, vectorID); err != nil {
		return goerr.Wrap(err, "failed to get vector", goerr.V("vector_id", vectorID))
	}

	if err := u.store.DeleteVector(ctx, vectorID); err != nil {
		return goerr.Wrap(err, "failed to delete vector", goerr.V("vector_id", vectorID))
	}

	logging.From(ctx).Info("knowledge deleted", "vector_id", vectorID)
	return nil
}

// DeleteByDocument removes the vector linked to a deleted document
func (u *UseCase) DeleteByDocument(ctx context.Context, accountID model.AccountID, documentID model.DocumentID) error {
	if accountID == "" || documentID == "" {
		return goerr.New("account id and document id are required", goerr.T(model.TagInvalidRequest))
	}

	v, err := u.store.FindByDocument(ctx, accountID, documentID)
	if err != nil {
		return goerr.Wrap(err, "failed to find vector",
			goerr.V("account_id", accountID), goerr.V("document_id", documentID))
	}
	if v == nil {
		return goerr.New("no vector is linked to the document",
			goerr.V("account_id", accountID), goerr.V("document_id", documentID), goerr.T(model.TagNotFound))
	}

	return u.Delete(ctx, v.ID)
}
