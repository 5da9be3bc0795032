package knowledge

import (
	"context"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/nutmeg/pkg/lexicon"
	"github.com/m-mizutani/nutmeg/pkg/model"
	"github.com/m-mizutani/nutmeg/pkg/utils/logging"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Store enriches, embeds and saves a memory linked to documentID. Storing the same document
// again replaces its vector. Nothing is written when embedding fails.
func (u *UseCase) Store(
	ctx context.Context,
	accountID model.AccountID,
	documentID model.DocumentID,
	entry *model.Entry,
) (model.VectorID, error) {
	if accountID == "" {
		return "", goerr.New("account id is required", goerr.T(model.TagInvalidRequest))
	}
	if documentID == "" {
		return "", goerr.New("document id is required", goerr.T(model.TagInvalidRequest))
	}
	if err := entry.Validate(); err != nil {
		return "", err
	}

	ctx, span := u.tracer.Start(ctx, "knowledge.Store", trace.WithAttributes(
		attribute.String("account_id", string(accountID)),
		attribute.String("document_id", string(documentID)),
	))
	defer span.End()

	v := &model.KnowledgeVector{
		AccountID:  accountID,
		DocumentID: documentID,
		Tags:       model.NormalizeTags(entry.Tags),
		Author:     entry.Author,
		Source:     entrySource(entry),
	}
	if v.Author == "" {
		v.Author = u.documentAuthor(ctx, accountID, documentID)
	}

	if err := u.embedVector(ctx, v, entry.Content, u.now()); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, model.ErrorCode(err))
		return "", err
	}

	id, err := u.store.Upsert(ctx, v)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, model.ErrorCode(err))
		return "", goerr.Wrap(err, "failed to save vector",
			goerr.V("account_id", accountID), goerr.V("document_id", documentID))
	}

	logging.From(ctx).Info("knowledge stored",
		"account_id", accountID,
		"document_id", documentID,
		"vector_id", id,
		"temporal", v.ContainsTemporalRefs,
	)
	return id, nil
}

func entrySource(entry *model.Entry) string {
	if entry.Source != "" {
		return entry.Source
	}
	if s, ok := entry.Metadata["source"].(string); ok {
		return s
	}
	return ""
}

// documentAuthor looks up the author recorded on the document. Provenance is optional, so
// lookup failures only get logged.
func (u *UseCase) documentAuthor(ctx context.Context, accountID model.AccountID, documentID model.DocumentID) string {
	if u.documents == nil {
		return ""
	}

	doc, err := u.documents.GetDocument(ctx, accountID, documentID)
	if err != nil {
		logging.From(ctx).Warn("failed to look up document author",
			"account_id", accountID,
			"document_id", documentID,
			"error", err,
		)
		return ""
	}
	return doc.Author
}

// embedVector fills the enrichment, temporal and embedding fields of v from raw. Relative
// time expressions are resolved against ref.
func (u *UseCase) embedVector(ctx context.Context, v *model.KnowledgeVector, raw string, ref time.Time) error {
	raw = strings.TrimSpace(lexicon.RawContent(raw))
	if raw == "" {
		return goerr.New("memory content is empty",
			goerr.V("document_id", v.DocumentID), goerr.T(model.TagInvalidRequest))
	}

	enriched := u.enricher.Enrich(raw, &lexicon.Provenance{Author: v.Author, Source: v.Source})
	embedding, err := u.embedder.Embed(ctx, enriched)
	if err != nil {
		return goerr.Wrap(err, "failed to embed memory",
			goerr.V("account_id", v.AccountID), goerr.V("document_id", v.DocumentID))
	}

	temporal := lexicon.DetectTemporal(raw, ref)

	v.EnrichedContent = enriched
	v.Embedding = embedding
	v.TemporalInfo = temporal.Info()
	v.ResolvedDates = temporal.ResolvedDates
	v.TemporalRelevanceScore = temporal.RelevanceScore
	v.ContainsTemporalRefs = temporal.ContainsRefs()
	v.LexiconVersion = u.table.Version()
	v.EmbeddingModel = u.embedder.Model()
	return nil
}
