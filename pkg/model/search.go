package model

import (
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

type TimeFrame string

const (
	TimeFrameAll     TimeFrame = "all"
	TimeFrameFuture  TimeFrame = "future"
	TimeFramePast    TimeFrame = "past"
	TimeFrameCurrent TimeFrame = "current"
)

// currentWindow is the distance from now within which a date counts as current
const currentWindow = 24 * time.Hour

// Validate checks if the time frame is valid. Empty means all.
func (f TimeFrame) Validate() error {
	switch f {
	case "", TimeFrameAll, TimeFrameFuture, TimeFramePast, TimeFrameCurrent:
		return nil
	default:
		return goerr.New("invalid time frame", goerr.V("time_frame", f), goerr.T(TagInvalidRequest))
	}
}

// TemporalFilter drops rows that are not time-relevant enough or fall outside a time frame
type TemporalFilter struct {
	MinRelevance float64   `json:"minRelevance"`
	TimeFrame    TimeFrame `json:"timeFrame"`
}

// Match reports whether v passes the filter at the given reference time
func (f *TemporalFilter) Match(v *KnowledgeVector, now time.Time) bool {
	if f == nil {
		return true
	}
	if v.TemporalRelevanceScore < f.MinRelevance {
		return false
	}

	switch f.TimeFrame {
	case "", TimeFrameAll:
		return true
	case TimeFrameFuture:
		for _, d := range v.ResolvedDates {
			if d.After(now) {
				return true
			}
		}
	case TimeFramePast:
		for _, d := range v.ResolvedDates {
			if d.Before(now) {
				return true
			}
		}
	case TimeFrameCurrent:
		for _, d := range v.ResolvedDates {
			if diff := d.Sub(now); diff <= currentWindow && diff >= -currentWindow {
				return true
			}
		}
	}
	return false
}

// MatchSource tells which signal put a row into a search result
type MatchSource string

const (
	MatchedByVector MatchSource = "vector"
	MatchedByTag    MatchSource = "tag"
	MatchedByBoth   MatchSource = "both"
)

// SearchRequest is a validated hybrid search call
type SearchRequest struct {
	AccountID AccountID
	Query     string
	Tags      []string

	// MatchThreshold is the minimum cosine similarity. Nil uses the configured default.
	MatchThreshold *float64
	MatchCount     int
	Temporal       *TemporalFilter
}

// Validate checks the fields required by every search
func (r *SearchRequest) Validate() error {
	if r.AccountID == "" {
		return goerr.New("account id is required", goerr.T(TagInvalidRequest))
	}
	if strings.TrimSpace(r.Query) == "" && len(NormalizeTags(r.Tags)) == 0 {
		return goerr.New("query or tags are required", goerr.T(TagInvalidRequest))
	}
	if r.Temporal != nil {
		if err := r.Temporal.TimeFrame.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// SearchResult is one ranked row of a hybrid search
type SearchResult struct {
	*KnowledgeVector
	Similarity float64     `json:"similarity"`
	MatchedBy  MatchSource `json:"matchedBy"`
}

// TagCount is the number of vectors of an account carrying a tag
type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

// Dashboard is the overview of an account's knowledge space
type Dashboard struct {
	Recent []*KnowledgeVector `json:"recent"`
	Tags   []*TagCount        `json:"tags"`
}

// ReconcileReport describes the drift found between the vector store and the document store
type ReconcileReport struct {
	AccountID AccountID    `json:"accountId"`
	Orphans   []VectorID   `json:"orphans"`
	Missing   []DocumentID `json:"missing"`
	Deleted   int          `json:"deleted"`
	Stored    int          `json:"stored"`
	DryRun    bool         `json:"dryRun"`
}

// SweepPoint is the outcome of a similarity search at one threshold
type SweepPoint struct {
	Threshold float64   `json:"threshold"`
	Count     int       `json:"count"`
	Top       []float64 `json:"top"`
}
