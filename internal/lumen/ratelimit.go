package lumen

import (
	"context"
	"sync"
	"time"
)

// Querier is satisfied by Client and by the rate-limited wrapper.
type Querier interface {
	Query(ctx context.Context, req QueryRequest) (QueryResponse, error)
}

// rateLimitedQuerier spaces calls across every goroutine sharing it.
type rateLimitedQuerier struct {
	inner       Querier
	minInterval time.Duration

	mu            sync.Mutex
	nextAllowedAt time.Time
}

// NewRateLimited returns inner unchanged when minInterval is not positive.
func NewRateLimited(inner Querier, minInterval time.Duration) Querier {
	if inner == nil || minInterval <= 0 {
		return inner
	}
	return &rateLimitedQuerier{
		inner:       inner,
		minInterval: minInterval,
	}
}

func (q *rateLimitedQuerier) Query(ctx context.Context, req QueryRequest) (QueryResponse, error) {
	if err := q.waitTurn(ctx); err != nil {
		return QueryResponse{}, err
	}
	return q.inner.Query(ctx, req)
}

func (q *rateLimitedQuerier) waitTurn(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		q.mu.Lock()
		now := time.Now()
		if q.nextAllowedAt.IsZero() || !q.nextAllowedAt.After(now) {
			q.nextAllowedAt = now.Add(q.minInterval)
			q.mu.Unlock()
			return nil
		}
		wait := time.Until(q.nextAllowedAt)
		q.mu.Unlock()

		if err := Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Sleep waits for delay or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
