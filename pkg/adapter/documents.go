package adapter

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/nutmeg/pkg/model"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// DocumentStore reads the memories owned by the application's document database.
// The vector store never writes to it.
type DocumentStore interface {
	// GetDocument returns a memory document. Absent documents fail with model.TagNotFound.
	GetDocument(ctx context.Context, accountID model.AccountID, id model.DocumentID) (*model.Document, error)

	// ListDocuments returns every memory document of an account
	ListDocuments(ctx context.Context, accountID model.AccountID) ([]*model.Document, error)
}

// firestoreDocument is the memory document as written by the web application
type firestoreDocument struct {
	Content   string    `firestore:"content"`
	Tags      []string  `firestore:"tags"`
	Author    string    `firestore:"authorName"`
	CreatedAt time.Time `firestore:"createdAt"`
}

// FirestoreDocuments reads memories from spaces/{accountID}/memories/{documentID}
type FirestoreDocuments struct {
	client *firestore.Client
}

func NewFirestoreDocuments(ctx context.Context, projectID, databaseID string) (*FirestoreDocuments, error) {
	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("project", projectID), goerr.V("database", databaseID))
	}

	return &FirestoreDocuments{client: client}, nil
}

func (d *FirestoreDocuments) memories(accountID model.AccountID) *firestore.CollectionRef {
	return d.client.Collection("spaces").Doc(string(accountID)).Collection("memories")
}

func (d *FirestoreDocuments) GetDocument(ctx context.Context, accountID model.AccountID, id model.DocumentID) (*model.Document, error) {
	snap, err := d.memories(accountID).Doc(string(id)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(err, "document not found",
				goerr.V("account_id", accountID), goerr.V("document_id", id), goerr.T(model.TagNotFound))
		}
		return nil, goerr.Wrap(err, "failed to get document",
			goerr.V("account_id", accountID), goerr.V("document_id", id), goerr.T(model.TagStoreUnavailable))
	}

	return toDocument(accountID, snap)
}

func (d *FirestoreDocuments) ListDocuments(ctx context.Context, accountID model.AccountID) ([]*model.Document, error) {
	iter := d.memories(accountID).Documents(ctx)
	defer iter.Stop()

	var docs []*model.Document
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to list documents",
				goerr.V("account_id", accountID), goerr.T(model.TagStoreUnavailable))
		}

		doc, err := toDocument(accountID, snap)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}

	return docs, nil
}

func (d *FirestoreDocuments) Close() error {
	return d.client.Close()
}

func toDocument(accountID model.AccountID, snap *firestore.DocumentSnapshot) (*model.Document, error) {
	var raw firestoreDocument
	if err := snap.DataTo(&raw); err != nil {
		return nil, goerr.Wrap(err, "failed to decode document", goerr.V("document_id", snap.Ref.ID))
	}

	return &model.Document{
		ID:        model.DocumentID(snap.Ref.ID),
		AccountID: accountID,
		Content:   raw.Content,
		Tags:      raw.Tags,
		Author:    raw.Author,
		CreatedAt: raw.CreatedAt,
	}, nil
}
