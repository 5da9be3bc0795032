package adapter

import (
	"context"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/nutmeg/pkg/model"
	"google.golang.org/genai"
)

const (
	DefaultEmbeddingModel     = "gemini-embedding-001"
	DefaultEmbeddingDimension = 768
)

// embedModels is the part of genai.Models used for embeddings
type embedModels interface {
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

// GeminiEmbedder generates embeddings with Gemini on Vertex AI
type GeminiEmbedder struct {
	models    embedModels
	model     string
	dimension int
}

type GeminiOption func(*GeminiEmbedder)

func WithEmbeddingModel(model string) GeminiOption {
	return func(g *GeminiEmbedder) {
		g.model = model
	}
}

func WithEmbeddingDimension(dimension int) GeminiOption {
	return func(g *GeminiEmbedder) {
		g.dimension = dimension
	}
}

func NewGemini(ctx context.Context, projectID, location string, opts ...GeminiOption) (*GeminiEmbedder, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Project:  projectID,
		Location: location,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create genai client")
	}

	return newGemini(client.Models, opts...), nil
}

func newGemini(models embedModels, opts ...GeminiOption) *GeminiEmbedder {
	g := &GeminiEmbedder{
		models:    models,
		model:     DefaultEmbeddingModel,
		dimension: DefaultEmbeddingDimension,
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

func (g *GeminiEmbedder) Model() string {
	return g.model
}

func (g *GeminiEmbedder) Dimension() int {
	return g.dimension
}

func (g *GeminiEmbedder) Embed(ctx context.Context, text string) (firestore.Vector32, error) {
	dim := int32(g.dimension)
	resp, err := g.models.EmbedContent(ctx, g.model, genai.Text(text), &genai.EmbedContentConfig{
		OutputDimensionality: &dim,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed content",
			goerr.V("model", g.model), goerr.T(model.TagEmbedding))
	}

	if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
		return nil, goerr.New("empty embedding response",
			goerr.V("model", g.model), goerr.T(model.TagEmbedding))
	}

	values := resp.Embeddings[0].Values
	if len(values) != g.dimension {
		return nil, goerr.New("unexpected embedding dimension",
			goerr.V("model", g.model),
			goerr.V("expected", g.dimension),
			goerr.V("actual", len(values)),
			goerr.T(model.TagEmbedding))
	}

	return firestore.Vector32(values), nil
}
