package knowledge

import (
	"context"
	"slices"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/nutmeg/pkg/model"
	"github.com/m-mizutani/nutmeg/pkg/utils/logging"
)

// Reconcile repairs drift between the vector store and the document store for one account.
// Vectors whose document is gone are deleted and documents without a vector are stored.
// With dryRun the drift is only reported.
func (u *UseCase) Reconcile(ctx context.Context, accountID model.AccountID, dryRun bool) (*model.ReconcileReport, error) {
	if accountID == "" {
		return nil, goerr.New("account id is required", goerr.T(model.TagInvalidRequest))
	}
	if u.documents == nil {
		return nil, goerr.New("document store is not configured", goerr.T(model.TagInvalidRequest))
	}

	vectors, err := u.store.ListVectors(ctx, accountID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list vectors", goerr.V("account_id", accountID))
	}
	docs, err := u.documents.ListDocuments(ctx, accountID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list documents", goerr.V("account_id", accountID))
	}

	report := &model.ReconcileReport{
		AccountID: accountID,
		Orphans:   []model.VectorID{},
		Missing:   []model.DocumentID{},
		DryRun:    dryRun,
	}

	documentSet := make(map[model.DocumentID]struct{}, len(docs))
	for _, doc := range docs {
		documentSet[doc.ID] = struct{}{}
	}
	linked := make(map[model.DocumentID]struct{}, len(vectors))
	for _, v := range vectors {
		linked[v.DocumentID] = struct{}{}
		if _, ok := documentSet[v.DocumentID]; !ok {
			report.Orphans = append(report.Orphans, v.ID)
		}
	}

	var missing []*model.Document
	for _, doc := range docs {
		if _, ok := linked[doc.ID]; ok {
			continue
		}
		if strings.TrimSpace(doc.Content) == "" {
			continue
		}
		missing = append(missing, doc)
		report.Missing = append(report.Missing, doc.ID)
	}

	slices.Sort(report.Orphans)
	slices.Sort(report.Missing)
	slices.SortFunc(missing, func(a, b *model.Document) int {
		return strings.Compare(string(a.ID), string(b.ID))
	})

	if dryRun {
		return report, nil
	}

	for _, id := range report.Orphans {
		if err := u.store.DeleteVector(ctx, id); err != nil {
			return report, goerr.Wrap(err, "failed to delete orphan vector",
				goerr.V("account_id", accountID), goerr.V("vector_id", id))
		}
		report.Deleted++
	}

	for _, doc := range missing {
		entry := &model.Entry{
			Content: doc.Content,
			Tags:    doc.Tags,
			Author:  doc.Author,
		}
		if _, err := u.Store(ctx, accountID, doc.ID, entry); err != nil {
			return report, goerr.Wrap(err, "failed to store missing vector",
				goerr.V("account_id", accountID), goerr.V("document_id", doc.ID))
		}
		report.Stored++
	}

	logging.From(ctx).Info("knowledge reconciled",
		"account_id", accountID,
		"deleted", report.Deleted,
		"stored", report.Stored,
	)
	return report, nil
}

// ReconcileAll reconciles every account owning vectors
func (u *UseCase) ReconcileAll(ctx context.Context, dryRun bool) ([]*model.ReconcileReport, error) {
	accounts, err := u.store.ListAccounts(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list accounts")
	}

	reports := make([]*model.ReconcileReport, 0, len(accounts))
	for _, accountID := range accounts {
		report, err := u.Reconcile(ctx, accountID, dryRun)
		if err != nil {
			return reports, err
		}
		reports = append(reports, report)
	}
	return reports, nil
}
