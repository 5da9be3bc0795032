package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/gin-gonic/gin"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/nutmeg/pkg/lexicon"
	"github.com/m-mizutani/nutmeg/pkg/model"
	"github.com/m-mizutani/nutmeg/pkg/repository"
	"github.com/m-mizutani/nutmeg/pkg/server"
	"github.com/m-mizutani/nutmeg/pkg/usecase/knowledge"
	"github.com/m-mizutani/nutmeg/pkg/utils/retry"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type mockKnowledge struct {
	searchFunc func(ctx context.Context, req *model.SearchRequest) ([]*model.SearchResult, error)
	storeFunc  func(ctx context.Context, accountID model.AccountID, documentID model.DocumentID, entry *model.Entry) (model.VectorID, error)
	updateFunc func(ctx context.Context, vectorID model.VectorID, update *model.EntryUpdate, documentID model.DocumentID) error
	deleteFunc func(ctx context.Context, vectorID model.VectorID) error

	searchCalls int
}

func (m *mockKnowledge) Search(ctx context.Context, req *model.SearchRequest) ([]*model.SearchResult, error) {
	m.searchCalls++
	if m.searchFunc != nil {
		return m.searchFunc(ctx, req)
	}
	return []*model.SearchResult{}, nil
}

func (m *mockKnowledge) Recent(ctx context.Context, accountID model.AccountID, limit int) ([]*model.KnowledgeVector, error) {
	return []*model.KnowledgeVector{{ID: "v-1", AccountID: accountID}}, nil
}

func (m *mockKnowledge) Tags(ctx context.Context, accountID model.AccountID, limit int) ([]*model.TagCount, error) {
	return []*model.TagCount{{Tag: "home", Count: 2}}, nil
}

func (m *mockKnowledge) Store(ctx context.Context, accountID model.AccountID, documentID model.DocumentID, entry *model.Entry) (model.VectorID, error) {
	if m.storeFunc != nil {
		return m.storeFunc(ctx, accountID, documentID, entry)
	}
	return "v-new", nil
}

func (m *mockKnowledge) Update(ctx context.Context, vectorID model.VectorID, update *model.EntryUpdate, documentID model.DocumentID) error {
	if m.updateFunc != nil {
		return m.updateFunc(ctx, vectorID, update, documentID)
	}
	return nil
}

func (m *mockKnowledge) Delete(ctx context.Context, vectorID model.VectorID) error {
	if m.deleteFunc != nil {
		return m.deleteFunc(ctx, vectorID)
	}
	return nil
}

func fastRetry() server.Option {
	return server.WithRetry(retry.New(retry.WithInitialInterval(time.Millisecond)))
}

func post(t *testing.T, h http.Handler, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var raw []byte
	switch v := body.(type) {
	case string:
		raw = []byte(v)
	default:
		var err error
		raw, err = json.Marshal(body)
		gt.NoError(t, err)
	}

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var resp map[string]any
	gt.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w, resp
}

func TestHealthz(t *testing.T) {
	s := server.New(&mockKnowledge{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	gt.Equal(t, w.Code, http.StatusOK)
	gt.NotEqual(t, w.Header().Get("X-Request-ID"), "")
}

func TestSearchRequestParsing(t *testing.T) {
	var got *model.SearchRequest
	mock := &mockKnowledge{
		searchFunc: func(ctx context.Context, req *model.SearchRequest) ([]*model.SearchResult, error) {
			got = req
			return []*model.SearchResult{}, nil
		},
	}
	s := server.New(mock)

	w, resp := post(t, s.Handler(), "/api/knowledge/search", map[string]any{
		"action":    "search",
		"accountId": "acc-1",
		"query":     "car keys",
		"tags":      []string{"home"},
		"options": map[string]any{
			"matchThreshold": 0.3,
			"matchCount":     5,
			"temporalFilter": map[string]any{"minRelevance": 0.2, "timeFrame": "future"},
		},
	})
	gt.Equal(t, w.Code, http.StatusOK)
	gt.Equal(t, resp["success"], any(true))

	gt.V(t, got).NotNil()
	gt.Equal(t, got.AccountID, model.AccountID("acc-1"))
	gt.Equal(t, got.Query, "car keys")
	gt.Equal(t, got.Tags, []string{"home"})
	gt.Equal(t, got.MatchCount, 5)
	gt.Equal(t, *got.MatchThreshold, 0.3)
	gt.Equal(t, got.Temporal.TimeFrame, model.TimeFrameFuture)
	gt.Equal(t, got.Temporal.MinRelevance, 0.2)
}

func TestSearchDefaults(t *testing.T) {
	var got *model.SearchRequest
	mock := &mockKnowledge{
		searchFunc: func(ctx context.Context, req *model.SearchRequest) ([]*model.SearchResult, error) {
			got = req
			return []*model.SearchResult{}, nil
		},
	}
	s := server.New(mock)

	w, _ := post(t, s.Handler(), "/api/knowledge/search", map[string]any{
		"action":    "search",
		"accountId": "acc-1",
		"query":     "car keys",
	})
	gt.Equal(t, w.Code, http.StatusOK)
	gt.Equal(t, got.MatchCount, server.DefaultMatchCount)
	gt.V(t, got.MatchThreshold).Nil()
	gt.V(t, got.Temporal).Nil()
}

func TestSearchActions(t *testing.T) {
	s := server.New(&mockKnowledge{})

	w, resp := post(t, s.Handler(), "/api/knowledge/search", map[string]any{
		"action":    "recent",
		"accountId": "acc-1",
	})
	gt.Equal(t, w.Code, http.StatusOK)
	results, ok := resp["results"].([]any)
	gt.True(t, ok)
	gt.A(t, results).Length(1)

	w, resp = post(t, s.Handler(), "/api/knowledge/search", map[string]any{
		"action":    "tags",
		"accountId": "acc-1",
	})
	gt.Equal(t, w.Code, http.StatusOK)
	gt.Map(t, resp).HasKey("tags")
}

func TestBadRequests(t *testing.T) {
	mock := &mockKnowledge{}
	s := server.New(mock)

	testCases := map[string]struct {
		path string
		body any
	}{
		"malformed json":  {"/api/knowledge/search", `{"action":`},
		"unknown action":  {"/api/knowledge/search", map[string]any{"action": "explode", "accountId": "a"}},
		"no account":      {"/api/knowledge/search", map[string]any{"action": "search", "query": "x"}},
		"no query or tag": {"/api/knowledge/search", map[string]any{"action": "search", "accountId": "a"}},
		"negative count": {"/api/knowledge/search", map[string]any{
			"action": "search", "accountId": "a", "query": "x", "options": map[string]any{"matchCount": -1},
		}},
		"bad time frame": {"/api/knowledge/search", map[string]any{
			"action": "search", "accountId": "a", "query": "x",
			"options": map[string]any{"temporalFilter": map[string]any{"timeFrame": "someday"}},
		}},
		"store without doc id": {"/api/knowledge/vectors", map[string]any{
			"action": "store", "accountId": "a", "entry": map[string]any{"content": "x"},
		}},
		"store without content": {"/api/knowledge/vectors", map[string]any{
			"action": "store", "accountId": "a", "firebaseDocId": "d", "entry": map[string]any{"content": ""},
		}},
		"update without vector id": {"/api/knowledge/vectors", map[string]any{
			"action": "update", "updates": map[string]any{"tags": []string{"x"}},
		}},
		"update without updates": {"/api/knowledge/vectors", map[string]any{"action": "update", "vectorId": "v"}},
		"delete without id":      {"/api/knowledge/vectors", map[string]any{"action": "delete"}},
		"unknown write action":   {"/api/knowledge/vectors", map[string]any{"action": "upsert"}},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			w, resp := post(t, s.Handler(), tc.path, tc.body)
			gt.Equal(t, w.Code, http.StatusBadRequest)
			gt.Equal(t, resp["code"], any("invalid_request"))
			gt.Map(t, resp).HasKey("error")
		})
	}
	gt.Equal(t, mock.searchCalls, 0)
}

func TestErrorStatus(t *testing.T) {
	testCases := map[string]struct {
		err    error
		status int
		code   string
		calls  int
	}{
		"embedding outage is retried": {
			err:    goerr.New("model down", goerr.T(model.TagEmbedding)),
			status: http.StatusServiceUnavailable,
			code:   "embedding_error",
			calls:  4,
		},
		"store outage is retried": {
			err:    goerr.New("db down", goerr.T(model.TagStoreUnavailable)),
			status: http.StatusServiceUnavailable,
			code:   "store_unavailable",
			calls:  4,
		},
		"dimension mismatch": {
			err:    goerr.New("dim", goerr.T(model.TagDimensionMismatch)),
			status: http.StatusInternalServerError,
			code:   "dimension_mismatch",
			calls:  1,
		},
		"unexpected": {
			err:    goerr.New("boom"),
			status: http.StatusInternalServerError,
			code:   "internal",
			calls:  1,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			mock := &mockKnowledge{
				searchFunc: func(ctx context.Context, req *model.SearchRequest) ([]*model.SearchResult, error) {
					return nil, tc.err
				},
			}
			s := server.New(mock, fastRetry())

			w, resp := post(t, s.Handler(), "/api/knowledge/search", map[string]any{
				"action": "search", "accountId": "a", "query": "car",
			})
			gt.Equal(t, w.Code, tc.status)
			gt.Equal(t, resp["code"], any(tc.code))
			gt.Equal(t, mock.searchCalls, tc.calls)
		})
	}
}

func TestTransientFailureRecovers(t *testing.T) {
	mock := &mockKnowledge{}
	mock.searchFunc = func(ctx context.Context, req *model.SearchRequest) ([]*model.SearchResult, error) {
		if mock.searchCalls < 2 {
			return nil, goerr.New("blip", goerr.T(model.TagStoreUnavailable))
		}
		return []*model.SearchResult{}, nil
	}
	s := server.New(mock, fastRetry())

	w, resp := post(t, s.Handler(), "/api/knowledge/search", map[string]any{
		"action": "search", "accountId": "a", "query": "car",
	})
	gt.Equal(t, w.Code, http.StatusOK)
	gt.Equal(t, resp["success"], any(true))
	gt.Equal(t, mock.searchCalls, 2)
}

func TestWriteActions(t *testing.T) {
	var updated model.VectorID
	var deleted model.VectorID
	mock := &mockKnowledge{
		updateFunc: func(ctx context.Context, vectorID model.VectorID, update *model.EntryUpdate, documentID model.DocumentID) error {
			updated = vectorID
			gt.Equal(t, update.Tags, []string{"x"})
			gt.Equal(t, documentID, model.DocumentID("doc-2"))
			return nil
		},
		deleteFunc: func(ctx context.Context, vectorID model.VectorID) error {
			if vectorID == "missing" {
				return goerr.New("vector not found", goerr.T(model.TagNotFound))
			}
			deleted = vectorID
			return nil
		},
	}
	s := server.New(mock)

	w, resp := post(t, s.Handler(), "/api/knowledge/vectors", map[string]any{
		"action":        "store",
		"accountId":     "a",
		"firebaseDocId": "doc-1",
		"entry":         map[string]any{"content": "Left my car keys", "tags": []string{"home"}},
	})
	gt.Equal(t, w.Code, http.StatusOK)
	gt.Equal(t, resp["id"], any("v-new"))
	gt.Equal(t, resp["firebaseDocId"], any("doc-1"))

	w, _ = post(t, s.Handler(), "/api/knowledge/vectors", map[string]any{
		"action":        "update",
		"vectorId":      "v-1",
		"firebaseDocId": "doc-2",
		"updates":       map[string]any{"tags": []string{"x"}},
	})
	gt.Equal(t, w.Code, http.StatusOK)
	gt.Equal(t, updated, model.VectorID("v-1"))

	w, _ = post(t, s.Handler(), "/api/knowledge/vectors", map[string]any{"action": "delete", "vectorId": "v-2"})
	gt.Equal(t, w.Code, http.StatusOK)
	gt.Equal(t, deleted, model.VectorID("v-2"))

	w, resp = post(t, s.Handler(), "/api/knowledge/vectors", map[string]any{"action": "delete", "vectorId": "missing"})
	gt.Equal(t, w.Code, http.StatusNotFound)
	gt.Equal(t, resp["code"], any("not_found"))
}

// constEmbedder returns the same unit vector for every text
type constEmbedder struct{}

func (constEmbedder) Embed(ctx context.Context, text string) (firestore.Vector32, error) {
	return firestore.Vector32{1, 0, 0}, nil
}
func (constEmbedder) Model() string  { return "const" }
func (constEmbedder) Dimension() int { return 3 }

func TestEndToEnd(t *testing.T) {
	table, err := lexicon.Default()
	gt.NoError(t, err)
	uc := knowledge.New(repository.NewMemory(), constEmbedder{}, table)
	s := server.New(uc)

	w, resp := post(t, s.Handler(), "/api/knowledge/vectors", map[string]any{
		"action":        "store",
		"accountId":     "a",
		"firebaseDocId": "doc-1",
		"entry":         map[string]any{"content": "Left my car keys in the drawer"},
	})
	gt.Equal(t, w.Code, http.StatusOK)
	id, ok := resp["id"].(string)
	gt.True(t, ok)

	w, resp = post(t, s.Handler(), "/api/knowledge/search", map[string]any{
		"action": "search", "accountId": "a", "query": "keys",
	})
	gt.Equal(t, w.Code, http.StatusOK)
	results := resp["results"].([]any)
	gt.A(t, results).Length(1)
	first := results[0].(map[string]any)
	gt.Equal(t, first["id"], any(id))
	gt.Equal(t, first["firebaseDocId"], any("doc-1"))
	gt.Equal(t, first["matchedBy"], any("vector"))
	gt.Map(t, first).HasKey("similarity")

	w, resp = post(t, s.Handler(), "/api/knowledge/search", map[string]any{
		"action": "search", "accountId": "a", "query": "keys", "options": map[string]any{"matchCount": 0},
	})
	gt.Equal(t, w.Code, http.StatusOK)
	gt.A(t, resp["results"].([]any)).Length(0)

	w, _ = post(t, s.Handler(), "/api/knowledge/vectors", map[string]any{"action": "delete", "vectorId": id})
	gt.Equal(t, w.Code, http.StatusOK)

	w, resp = post(t, s.Handler(), "/api/knowledge/search", map[string]any{"action": "recent", "accountId": "a"})
	gt.Equal(t, w.Code, http.StatusOK)
	gt.A(t, resp["results"].([]any)).Length(0)
}
