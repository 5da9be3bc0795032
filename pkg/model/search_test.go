package model_test

import (
	"testing"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/nutmeg/pkg/model"
)

var now = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

func TestTemporalFilterMatch(t *testing.T) {
	tomorrow := &model.KnowledgeVector{
		ResolvedDates:          []time.Time{now.Add(20 * time.Hour)},
		TemporalRelevanceScore: 0.9,
	}
	lastYear := &model.KnowledgeVector{
		ResolvedDates:          []time.Time{now.AddDate(-1, 0, 0)},
		TemporalRelevanceScore: 0.3,
	}
	timeless := &model.KnowledgeVector{}

	testCases := map[string]struct {
		filter *model.TemporalFilter
		want   []bool // tomorrow, lastYear, timeless
	}{
		"nil filter passes all": {
			filter: nil,
			want:   []bool{true, true, true},
		},
		"all with zero relevance": {
			filter: &model.TemporalFilter{TimeFrame: model.TimeFrameAll},
			want:   []bool{true, true, true},
		},
		"min relevance": {
			filter: &model.TemporalFilter{MinRelevance: 0.5},
			want:   []bool{true, false, false},
		},
		"future": {
			filter: &model.TemporalFilter{TimeFrame: model.TimeFrameFuture},
			want:   []bool{true, false, false},
		},
		"past": {
			filter: &model.TemporalFilter{TimeFrame: model.TimeFramePast},
			want:   []bool{false, true, false},
		},
		"current": {
			filter: &model.TemporalFilter{TimeFrame: model.TimeFrameCurrent},
			want:   []bool{true, false, false},
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			gt.Equal(t, tc.filter.Match(tomorrow, now), tc.want[0])
			gt.Equal(t, tc.filter.Match(lastYear, now), tc.want[1])
			gt.Equal(t, tc.filter.Match(timeless, now), tc.want[2])
		})
	}
}

func TestSearchRequestValidate(t *testing.T) {
	testCases := map[string]struct {
		req   model.SearchRequest
		valid bool
	}{
		"query": {
			req:   model.SearchRequest{AccountID: "a", Query: "keys"},
			valid: true,
		},
		"tags only": {
			req:   model.SearchRequest{AccountID: "a", Tags: []string{"home"}},
			valid: true,
		},
		"no account": {
			req: model.SearchRequest{Query: "keys"},
		},
		"blank query and blank tags": {
			req: model.SearchRequest{AccountID: "a", Query: "  ", Tags: []string{" "}},
		},
		"bad time frame": {
			req: model.SearchRequest{AccountID: "a", Query: "keys",
				Temporal: &model.TemporalFilter{TimeFrame: "later"}},
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			err := tc.req.Validate()
			if tc.valid {
				gt.NoError(t, err)
				return
			}
			gt.Error(t, err)
			gt.True(t, goerr.HasTag(err, model.TagInvalidRequest))
		})
	}
}

func TestEntryValidate(t *testing.T) {
	var nilEntry *model.Entry
	gt.Error(t, nilEntry.Validate())
	gt.Error(t, (&model.Entry{Content: " \n"}).Validate())
	gt.NoError(t, (&model.Entry{Content: "wifi password"}).Validate())
}

func TestNormalizeTags(t *testing.T) {
	gt.Equal(t, model.NormalizeTags([]string{" Home", "home", "", "Car ", "car"}), []string{"home", "car"})
	gt.V(t, model.NormalizeTags(nil)).Nil()

	v := &model.KnowledgeVector{Tags: []string{"home", "car"}}
	gt.True(t, v.HasAnyTag([]string{"work", "car"}))
	gt.False(t, v.HasAnyTag([]string{"work"}))
}

func TestErrorCode(t *testing.T) {
	testCases := map[string]struct {
		err       error
		code      string
		retryable bool
	}{
		"nil":          {err: nil, code: "", retryable: false},
		"invalid":      {err: goerr.New("x", goerr.T(model.TagInvalidRequest)), code: "invalid_request"},
		"not found":    {err: goerr.New("x", goerr.T(model.TagNotFound)), code: "not_found"},
		"dimension":    {err: goerr.New("x", goerr.T(model.TagDimensionMismatch)), code: "dimension_mismatch"},
		"embedding":    {err: goerr.New("x", goerr.T(model.TagEmbedding)), code: "embedding_error", retryable: true},
		"store":        {err: goerr.New("x", goerr.T(model.TagStoreUnavailable)), code: "store_unavailable", retryable: true},
		"untagged":     {err: goerr.New("x"), code: "internal"},
		"wrapped store": {
			err:       goerr.Wrap(goerr.New("x", goerr.T(model.TagStoreUnavailable)), "failed to search"),
			code:      "store_unavailable",
			retryable: true,
		},
		"mismatch wins over store": {
			err:  goerr.Wrap(goerr.New("x", goerr.T(model.TagDimensionMismatch)), "y", goerr.T(model.TagStoreUnavailable)),
			code: "dimension_mismatch",
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			gt.Equal(t, model.ErrorCode(tc.err), tc.code)
			gt.Equal(t, model.IsRetryable(tc.err), tc.retryable)
		})
	}
}

func TestNewVectorID(t *testing.T) {
	a, b := model.NewVectorID(), model.NewVectorID()
	gt.NotEqual(t, a, b)
	gt.Equal(t, len(a), 36)
}
