package adapter_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/nutmeg/pkg/adapter"
	"github.com/m-mizutani/nutmeg/pkg/model"
	"google.golang.org/genai"
)

type mockModels struct {
	values []float32
	err    error

	calls     int
	lastModel string
	lastDim   int32
}

func (m *mockModels) EmbedContent(ctx context.Context, name string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error) {
	m.calls++
	m.lastModel = name
	if config != nil && config.OutputDimensionality != nil {
		m.lastDim = *config.OutputDimensionality
	}
	if m.err != nil {
		return nil, m.err
	}
	if m.values == nil {
		return &genai.EmbedContentResponse{}, nil
	}
	return &genai.EmbedContentResponse{
		Embeddings: []*genai.ContentEmbedding{{Values: m.values}},
	}, nil
}

func TestGeminiEmbed(t *testing.T) {
	t.Run("returns vector with configured dimension", func(t *testing.T) {
		m := &mockModels{values: []float32{0.1, 0.2, 0.3}}
		g := adapter.NewGeminiWithModels(m,
			adapter.WithEmbeddingModel("test-model"),
			adapter.WithEmbeddingDimension(3),
		)

		vec, err := g.Embed(context.Background(), "car keys")
		gt.NoError(t, err)
		gt.A(t, []float32(vec)).Length(3)
		gt.Equal(t, m.lastModel, "test-model")
		gt.Equal(t, m.lastDim, int32(3))
		gt.Equal(t, g.Model(), "test-model")
		gt.Equal(t, g.Dimension(), 3)
	})

	t.Run("defaults", func(t *testing.T) {
		g := adapter.NewGeminiWithModels(&mockModels{})
		gt.Equal(t, g.Model(), adapter.DefaultEmbeddingModel)
		gt.Equal(t, g.Dimension(), adapter.DefaultEmbeddingDimension)
	})

	t.Run("upstream failure is tagged", func(t *testing.T) {
		g := adapter.NewGeminiWithModels(&mockModels{err: errors.New("quota exceeded")})
		_, err := g.Embed(context.Background(), "hello")
		gt.Error(t, err)
		gt.True(t, goerr.HasTag(err, model.TagEmbedding))
	})

	t.Run("empty response is tagged", func(t *testing.T) {
		g := adapter.NewGeminiWithModels(&mockModels{})
		_, err := g.Embed(context.Background(), "hello")
		gt.Error(t, err)
		gt.True(t, goerr.HasTag(err, model.TagEmbedding))
	})

	t.Run("dimension mismatch is tagged", func(t *testing.T) {
		g := adapter.NewGeminiWithModels(&mockModels{values: []float32{1, 2}},
			adapter.WithEmbeddingDimension(3))
		_, err := g.Embed(context.Background(), "hello")
		gt.Error(t, err)
		gt.True(t, goerr.HasTag(err, model.TagEmbedding))
	})
}

func TestCachedEmbedder(t *testing.T) {
	m := &mockModels{values: []float32{0.5, 0.5}}
	g := adapter.NewGeminiWithModels(m, adapter.WithEmbeddingDimension(2))

	cached, err := adapter.NewCachedEmbedder(g, 100)
	gt.NoError(t, err)
	defer cached.Close()

	ctx := context.Background()
	v1, err := cached.Embed(ctx, "same text")
	gt.NoError(t, err)
	cached.Wait()

	v2, err := cached.Embed(ctx, "same text")
	gt.NoError(t, err)
	gt.Equal(t, v1, v2)
	gt.Equal(t, m.calls, 1)

	// returned vectors are copies
	v2[0] = 99
	v3, err := cached.Embed(ctx, "same text")
	gt.NoError(t, err)
	gt.Equal(t, v3[0], float32(0.5))

	_, err = cached.Embed(ctx, "other text")
	gt.NoError(t, err)
	gt.Equal(t, m.calls, 2)
	gt.Equal(t, cached.Dimension(), 2)
}

func TestCachedEmbedderDoesNotCacheErrors(t *testing.T) {
	m := &mockModels{err: errors.New("unavailable")}
	cached, err := adapter.NewCachedEmbedder(adapter.NewGeminiWithModels(m), 10)
	gt.NoError(t, err)
	defer cached.Close()

	_, err = cached.Embed(context.Background(), "x")
	gt.Error(t, err)
	cached.Wait()
	_, err = cached.Embed(context.Background(), "x")
	gt.Error(t, err)
	gt.Equal(t, m.calls, 2)
}

func TestNewCachedEmbedderInvalidSize(t *testing.T) {
	_, err := adapter.NewCachedEmbedder(adapter.NewGeminiWithModels(&mockModels{}), 0)
	gt.Error(t, err)
}

func TestGeminiEmbedIntegration(t *testing.T) {
	projectID := os.Getenv("TEST_GEMINI_PROJECT")
	if projectID == "" {
		t.Skip("TEST_GEMINI_PROJECT is not set")
	}

	ctx := context.Background()
	g, err := adapter.NewGemini(ctx, projectID, "us-central1")
	gt.NoError(t, err)

	vec, err := g.Embed(ctx, "Where did I leave my car keys?")
	gt.NoError(t, err)
	gt.A(t, []float32(vec)).Length(adapter.DefaultEmbeddingDimension)
}

func TestFirestoreDocumentsIntegration(t *testing.T) {
	projectID := os.Getenv("TEST_FIRESTORE_PROJECT")
	databaseID := os.Getenv("TEST_FIRESTORE_DATABASE")
	accountID := os.Getenv("TEST_FIRESTORE_ACCOUNT")
	if projectID == "" || databaseID == "" || accountID == "" {
		t.Skip("TEST_FIRESTORE_PROJECT, TEST_FIRESTORE_DATABASE or TEST_FIRESTORE_ACCOUNT is not set")
	}

	ctx := context.Background()
	docs, err := adapter.NewFirestoreDocuments(ctx, projectID, databaseID)
	gt.NoError(t, err)
	defer docs.Close()

	_, err = docs.ListDocuments(ctx, model.AccountID(accountID))
	gt.NoError(t, err)

	_, err = docs.GetDocument(ctx, model.AccountID(accountID), "no-such-document")
	gt.Error(t, err)
	gt.True(t, goerr.HasTag(err, model.TagNotFound))
}
