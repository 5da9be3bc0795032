package server

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/nutmeg/pkg/model"
)

// DefaultMatchCount applies when a search body omits matchCount
const DefaultMatchCount = 10

// command is a validated request ready to run against the use case
type command interface {
	name() string
	run(ctx context.Context, k Knowledge) (gin.H, error)
}

type searchOptions struct {
	MatchThreshold *float64              `json:"matchThreshold"`
	MatchCount     *int                  `json:"matchCount"`
	TemporalFilter *model.TemporalFilter `json:"temporalFilter"`
}

// searchEnvelope is the body of POST /api/knowledge/search
type searchEnvelope struct {
	Action    string         `json:"action"`
	AccountID string         `json:"accountId"`
	Query     string         `json:"query"`
	Tags      []string       `json:"tags"`
	Options   *searchOptions `json:"options"`
}

func (x *searchEnvelope) matchCount() int {
	if x.Options != nil && x.Options.MatchCount != nil {
		return *x.Options.MatchCount
	}
	return DefaultMatchCount
}

func (x *searchEnvelope) command() (command, error) {
	accountID := model.AccountID(strings.TrimSpace(x.AccountID))
	if accountID == "" {
		return nil, goerr.New("accountId is required", goerr.T(model.TagInvalidRequest))
	}
	if x.matchCount() < 0 {
		return nil, goerr.New("matchCount must not be negative",
			goerr.V("match_count", x.matchCount()), goerr.T(model.TagInvalidRequest))
	}

	switch x.Action {
	case "search":
		req := &model.SearchRequest{
			AccountID:  accountID,
			Query:      x.Query,
			Tags:       x.Tags,
			MatchCount: x.matchCount(),
		}
		if x.Options != nil {
			req.MatchThreshold = x.Options.MatchThreshold
			req.Temporal = x.Options.TemporalFilter
		}
		if err := req.Validate(); err != nil {
			return nil, err
		}
		return &searchCommand{req: req}, nil

	case "recent":
		return &recentCommand{accountID: accountID, limit: x.matchCount()}, nil

	case "tags":
		return &tagsCommand{accountID: accountID, limit: x.matchCount()}, nil

	default:
		return nil, goerr.New("unknown search action", goerr.V("action", x.Action), goerr.T(model.TagInvalidRequest))
	}
}

// writeEnvelope is the body of POST /api/knowledge/vectors
type writeEnvelope struct {
	Action     string             `json:"action"`
	AccountID  string             `json:"accountId"`
	DocumentID string             `json:"firebaseDocId"`
	VectorID   string             `json:"vectorId"`
	Entry      *model.Entry       `json:"entry"`
	Updates    *model.EntryUpdate `json:"updates"`
}

func (x *writeEnvelope) command() (command, error) {
	switch x.Action {
	case "store":
		if x.AccountID == "" || x.DocumentID == "" {
			return nil, goerr.New("accountId and firebaseDocId are required", goerr.T(model.TagInvalidRequest))
		}
		if err := x.Entry.Validate(); err != nil {
			return nil, err
		}
		return &storeCommand{
			accountID:  model.AccountID(x.AccountID),
			documentID: model.DocumentID(x.DocumentID),
			entry:      x.Entry,
		}, nil

	case "update":
		if x.VectorID == "" {
			return nil, goerr.New("vectorId is required", goerr.T(model.TagInvalidRequest))
		}
		if x.Updates == nil {
			return nil, goerr.New("updates are required", goerr.T(model.TagInvalidRequest))
		}
		return &updateCommand{
			vectorID:   model.VectorID(x.VectorID),
			update:     x.Updates,
			documentID: model.DocumentID(x.DocumentID),
		}, nil

	case "delete":
		if x.VectorID == "" {
			return nil, goerr.New("vectorId is required", goerr.T(model.TagInvalidRequest))
		}
		return &deleteCommand{vectorID: model.VectorID(x.VectorID)}, nil

	default:
		return nil, goerr.New("unknown write action", goerr.V("action", x.Action), goerr.T(model.TagInvalidRequest))
	}
}

type searchCommand struct {
	req *model.SearchRequest
}

func (x *searchCommand) name() string { return "search" }

func (x *searchCommand) run(ctx context.Context, k Knowledge) (gin.H, error) {
	results, err := k.Search(ctx, x.req)
	if err != nil {
		return nil, err
	}
	return gin.H{"results": results}, nil
}

type recentCommand struct {
	accountID model.AccountID
	limit     int
}

func (x *recentCommand) name() string { return "recent" }

func (x *recentCommand) run(ctx context.Context, k Knowledge) (gin.H, error) {
	rows, err := k.Recent(ctx, x.accountID, x.limit)
	if err != nil {
		return nil, err
	}
	return gin.H{"results": rows}, nil
}

type tagsCommand struct {
	accountID model.AccountID
	limit     int
}

func (x *tagsCommand) name() string { return "tags" }

func (x *tagsCommand) run(ctx context.Context, k Knowledge) (gin.H, error) {
	tags, err := k.Tags(ctx, x.accountID, x.limit)
	if err != nil {
		return nil, err
	}
	return gin.H{"tags": tags}, nil
}

type storeCommand struct {
	accountID  model.AccountID
	documentID model.DocumentID
	entry      *model.Entry
}

func (x *storeCommand) name() string { return "store" }

func (x *storeCommand) run(ctx context.Context, k Knowledge) (gin.H, error) {
	id, err := k.Store(ctx, x.accountID, x.documentID, x.entry)
	if err != nil {
		return nil, err
	}
	return gin.H{"id": id, "firebaseDocId": x.documentID}, nil
}

type updateCommand struct {
	vectorID   model.VectorID
	update     *model.EntryUpdate
	documentID model.DocumentID
}

func (x *updateCommand) name() string { return "update" }

func (x *updateCommand) run(ctx context.Context, k Knowledge) (gin.H, error) {
	if err := k.Update(ctx, x.vectorID, x.update, x.documentID); err != nil {
		return nil, err
	}
	return gin.H{}, nil
}

type deleteCommand struct {
	vectorID model.VectorID
}

func (x *deleteCommand) name() string { return "delete" }

func (x *deleteCommand) run(ctx context.Context, k Knowledge) (gin.H, error) {
	if err := k.Delete(ctx, x.vectorID); err != nil {
		return nil, err
	}
	return gin.H{}, nil
}
