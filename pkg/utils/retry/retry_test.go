package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/nutmeg/pkg/model"
	"github.com/m-mizutani/nutmeg/pkg/utils/retry"
)

func fastPolicy() *retry.Policy {
	return retry.New(retry.WithInitialInterval(time.Millisecond))
}

func TestDoRetriesTransientFailures(t *testing.T) {
	calls := 0
	v, err := retry.Do(context.Background(), fastPolicy(), "embed", func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, goerr.New("model unavailable", goerr.T(model.TagEmbedding))
		}
		return 42, nil
	})
	gt.NoError(t, err)
	gt.Equal(t, v, 42)
	gt.Equal(t, calls, 3)
}

func TestDoGivesUpAfterMaxRetries(t *testing.T) {
	calls := 0
	err := retry.Run(context.Background(), fastPolicy(), "search", func(ctx context.Context) error {
		calls++
		return goerr.New("datastore down", goerr.T(model.TagStoreUnavailable))
	})
	gt.Error(t, err)
	gt.True(t, goerr.HasTag(err, model.TagStoreUnavailable))
	// first attempt plus three retries
	gt.Equal(t, calls, 4)
}

func TestDoDoesNotRetryPermanentFailures(t *testing.T) {
	testCases := map[string]error{
		"invalid request":    goerr.New("bad", goerr.T(model.TagInvalidRequest)),
		"dimension mismatch": goerr.New("dim", goerr.T(model.TagDimensionMismatch)),
		"not found":          goerr.New("gone", goerr.T(model.TagNotFound)),
		"untagged":           errors.New("boom"),
	}

	for name, cause := range testCases {
		t.Run(name, func(t *testing.T) {
			calls := 0
			err := retry.Run(context.Background(), fastPolicy(), "op", func(ctx context.Context) error {
				calls++
				return cause
			})
			gt.Error(t, err)
			gt.Equal(t, calls, 1)
			gt.True(t, errors.Is(err, cause))
		})
	}
}

func TestDoStopsOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := retry.Run(ctx, retry.New(retry.WithInitialInterval(time.Hour)), "op", func(ctx context.Context) error {
		calls++
		cancel()
		return goerr.New("unavailable", goerr.T(model.TagStoreUnavailable))
	})
	gt.Error(t, err)
	gt.Equal(t, calls, 1)
}
