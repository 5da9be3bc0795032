package model

import (
	"github.com/m-mizutani/goerr/v2"
)

var (
	// TagInvalidRequest marks missing or malformed required fields. Never retried.
	TagInvalidRequest = goerr.NewTag("invalid_request")
	// TagEmbedding marks an upstream embedding model failure.
	TagEmbedding = goerr.NewTag("embedding_error")
	// TagStoreUnavailable marks a backend datastore failure.
	TagStoreUnavailable = goerr.NewTag("store_unavailable")
	// TagDimensionMismatch marks vectors whose dimension differs from the deployment's.
	// Stored data was not migrated after an embedding model change; never retried.
	TagDimensionMismatch = goerr.NewTag("dimension_mismatch")
	// TagNotFound marks an absent vector, document or tag.
	TagNotFound = goerr.NewTag("not_found")
)

// IsRetryable reports whether err is a transient failure worth retrying at the edge.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if goerr.HasTag(err, TagInvalidRequest) || goerr.HasTag(err, TagDimensionMismatch) || goerr.HasTag(err, TagNotFound) {
		return false
	}
	return goerr.HasTag(err, TagEmbedding) || goerr.HasTag(err, TagStoreUnavailable)
}

// ErrorCode returns a stable machine-checkable code for err.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case goerr.HasTag(err, TagInvalidRequest):
		return "invalid_request"
	case goerr.HasTag(err, TagNotFound):
		return "not_found"
	case goerr.HasTag(err, TagDimensionMismatch):
		return "dimension_mismatch"
	case goerr.HasTag(err, TagEmbedding):
		return "embedding_error"
	case goerr.HasTag(err, TagStoreUnavailable):
		return "store_unavailable"
	default:
		return "internal"
	}
}
