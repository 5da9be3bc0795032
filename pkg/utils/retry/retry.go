package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/m-mizutani/nutmeg/pkg/model"
	"github.com/m-mizutani/nutmeg/pkg/utils/logging"
)

const (
	DefaultInitialInterval = time.Second
	DefaultMaxRetries      = 3
)

// Policy retries transient failures (embedding and datastore outages) with exponential
// backoff. Other failures are returned at once.
type Policy struct {
	initialInterval time.Duration
	maxRetries      uint64
}

type Option func(*Policy)

func WithInitialInterval(d time.Duration) Option {
	return func(p *Policy) {
		p.initialInterval = d
	}
}

func WithMaxRetries(n uint64) Option {
	return func(p *Policy) {
		p.maxRetries = n
	}
}

// New creates a Policy waiting 1s, 2s and 4s between attempts by default
func New(opts ...Option) *Policy {
	p := &Policy{
		initialInterval: DefaultInitialInterval,
		maxRetries:      DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Policy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(p.initialInterval),
		backoff.WithMultiplier(2),
		backoff.WithRandomizationFactor(0),
		backoff.WithMaxInterval(p.initialInterval<<p.maxRetries),
		backoff.WithMaxElapsedTime(0),
	)
	return backoff.WithContext(backoff.WithMaxRetries(b, p.maxRetries), ctx)
}

// Do runs fn until it succeeds, fails permanently or retries are exhausted
func Do[T any](ctx context.Context, p *Policy, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	attempt := 0
	op := func() (T, error) {
		attempt++
		v, err := fn(ctx)
		if err != nil && !model.IsRetryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	notify := func(err error, wait time.Duration) {
		logging.From(ctx).Warn("retrying after transient failure",
			"operation", name,
			"attempt", attempt,
			"wait", wait,
			"code", model.ErrorCode(err),
			"error", err,
		)
	}

	return backoff.RetryNotifyWithData(op, p.backOff(ctx), notify)
}

// Run is Do for operations without a result
func Run(ctx context.Context, p *Policy, name string, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, p, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
