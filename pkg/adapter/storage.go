package adapter

import (
	"context"
	"io"

	"cloud.google.com/go/storage"
	"github.com/m-mizutani/goerr/v2"
)

// SnapshotStorage keeps exported knowledge snapshots and re-embedding backups
type SnapshotStorage interface {
	// Put returns a writer saving a snapshot under key. The snapshot is committed on Close.
	Put(ctx context.Context, key string) (io.WriteCloser, error)
	// Get opens a saved snapshot
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// gcsStorage implements SnapshotStorage with Cloud Storage
type gcsStorage struct {
	bucketName string
	prefix     string
	client     *storage.Client
}

// NewStorage creates a Cloud Storage backed SnapshotStorage. Keys are placed under prefix.
func NewStorage(ctx context.Context, bucketName, prefix string) (SnapshotStorage, error) {
	if bucketName == "" {
		return nil, goerr.New("bucket name is required")
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage client")
	}

	return &gcsStorage{
		bucketName: bucketName,
		prefix:     prefix,
		client:     client,
	}, nil
}

func (s *gcsStorage) object(key string) *storage.ObjectHandle {
	return s.client.Bucket(s.bucketName).Object(s.prefix + key)
}

func (s *gcsStorage) Put(ctx context.Context, key string) (io.WriteCloser, error) {
	writer := s.object(key).NewWriter(ctx)
	writer.ContentType = "application/x-ndjson"
	return writer, nil
}

func (s *gcsStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	reader, err := s.object(key).NewReader(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read snapshot",
			goerr.V("bucket", s.bucketName), goerr.V("key", s.prefix+key))
	}

	return reader, nil
}
