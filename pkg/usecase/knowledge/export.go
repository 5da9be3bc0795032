package knowledge

import (
	"context"
	"encoding/json"
	"io"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/nutmeg/pkg/model"
)

// exportRecord is one line of a snapshot. Embeddings are included so a snapshot can restore
// vectors without calling the model.
type exportRecord struct {
	*model.KnowledgeVector
	Embedding []float32 `json:"embedding"`
}

// Export writes every vector of an account to w as JSON Lines and returns the number of lines
func (u *UseCase) Export(ctx context.Context, accountID model.AccountID, w io.Writer) (int, error) {
	if accountID == "" {
		return 0, goerr.New("account id is required", goerr.T(model.TagInvalidRequest))
	}

	vectors, err := u.store.ListVectors(ctx, accountID)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to list vectors", goerr.V("account_id", accountID))
	}

	enc := json.NewEncoder(w)
	for i, v := range vectors {
		if err := enc.Encode(exportRecord{KnowledgeVector: v, Embedding: v.Embedding}); err != nil {
			return i, goerr.Wrap(err, "failed to write snapshot line", goerr.V("vector_id", v.ID))
		}
	}

	return len(vectors), nil
}

// Import restores a snapshot written by Export into an account. Embeddings are taken from the
// snapshot, so the model is never called. Rows are matched by document: importing the same
// snapshot twice leaves one vector per document.
func (u *UseCase) Import(ctx context.Context, accountID model.AccountID, r io.Reader) (int, error) {
	if accountID == "" {
		return 0, goerr.New("account id is required", goerr.T(model.TagInvalidRequest))
	}

	dec := json.NewDecoder(r)
	count := 0
	for {
		var rec exportRecord
		if err := dec.Decode(&rec); err == io.EOF {
			break
		} else if err != nil {
			return count, goerr.Wrap(err, "failed to read snapshot line",
				goerr.V("line", count+1), goerr.T(model.TagInvalidRequest))
		}
		if rec.KnowledgeVector == nil {
			continue
		}

		v := rec.KnowledgeVector
		v.AccountID = accountID
		v.Embedding = firestore.Vector32(rec.Embedding)
		if len(v.Embedding) != u.embedder.Dimension() {
			return count, goerr.New("snapshot embedding dimension differs from the model",
				goerr.V("vector_id", v.ID),
				goerr.V("expected", u.embedder.Dimension()),
				goerr.V("actual", len(v.Embedding)),
				goerr.T(model.TagDimensionMismatch))
		}

		if _, err := u.store.Upsert(ctx, v); err != nil {
			return count, goerr.Wrap(err, "failed to restore vector",
				goerr.V("account_id", accountID), goerr.V("vector_id", v.ID))
		}
		count++
	}

	return count, nil
}
