package model

import (
	"slices"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

type VectorID string

// NewVectorID generates a new unique VectorID
func NewVectorID() VectorID {
	return VectorID(uuid.New().String())
}

type AccountID string

// DocumentID is the id of the memory document in the external document store
type DocumentID string

// KnowledgeVector is the searchable representation of one stored memory.
// Embedding is always the embedding of EnrichedContent, never of the raw text.
type KnowledgeVector struct {
	ID              VectorID           `json:"id"`
	AccountID       AccountID          `json:"accountId"`
	DocumentID      DocumentID         `json:"firebaseDocId"`
	EnrichedContent string             `json:"enrichedContent"`
	Embedding       firestore.Vector32 `json:"-"`
	Tags            []string           `json:"tags,omitempty"`
	Author          string             `json:"author,omitempty"`
	Source          string             `json:"source,omitempty"`

	TemporalInfo           *TemporalInfo `json:"temporalInfo,omitempty"`
	ResolvedDates          []time.Time   `json:"resolvedDates,omitempty"`
	TemporalRelevanceScore float64       `json:"temporalRelevanceScore"`
	ContainsTemporalRefs   bool          `json:"containsTemporalRefs"`

	LexiconVersion string `json:"lexiconVersion"`
	EmbeddingModel string `json:"embeddingModel"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TemporalInfo describes the time references detected in a memory
type TemporalInfo struct {
	Expressions []string  `json:"expressions"`
	TimeFrame   TimeFrame `json:"timeFrame"`
}

// ScoredVector is a vector row returned by similarity search with its cosine similarity
type ScoredVector struct {
	Vector     *KnowledgeVector
	Similarity float64
}

// Entry is a raw memory submitted to the write path
type Entry struct {
	Content  string         `json:"content"`
	Tags     []string       `json:"tags,omitempty"`
	Author   string         `json:"author,omitempty"`
	Source   string         `json:"source,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Validate checks if the entry has content to embed
func (e *Entry) Validate() error {
	if e == nil {
		return goerr.New("entry is required", goerr.T(TagInvalidRequest))
	}
	if strings.TrimSpace(e.Content) == "" {
		return goerr.New("entry content is empty", goerr.T(TagInvalidRequest))
	}
	return nil
}

// EntryUpdate holds the fields to change on an existing vector. Nil fields are unchanged.
type EntryUpdate struct {
	Content *string  `json:"content,omitempty"`
	Tags    []string `json:"tags,omitempty"`
	Author  *string  `json:"author,omitempty"`
	Source  *string  `json:"source,omitempty"`
}

// Document is a memory record owned by the external document store
type Document struct {
	ID        DocumentID
	AccountID AccountID
	Content   string
	Tags      []string
	Author    string
	CreatedAt time.Time
}

// NormalizeTags lower-cases, trims and deduplicates tags, keeping first-seen order
func NormalizeTags(tags []string) []string {
	if tags == nil {
		return nil
	}
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || slices.Contains(out, t) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// HasAnyTag reports whether the vector carries at least one of tags
func (v *KnowledgeVector) HasAnyTag(tags []string) bool {
	for _, t := range tags {
		if slices.Contains(v.Tags, t) {
			return true
		}
	}
	return false
}
