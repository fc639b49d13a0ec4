// Package limiter bounds outbound provider requests for the whole process.
//
// One Limiter is built at startup and shared by the embedding client and the
// reranker client, so indexing jobs and concurrent queries draw from the same
// budget. Excess requests wait for a slot; they are never rejected.
package limiter

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// DefaultMaxConcurrent is the default number of simultaneous outbound requests
const DefaultMaxConcurrent = 4

// Limiter is a counting semaphore with an optional requests-per-second bucket
type Limiter struct {
	sem     *semaphore.Weighted
	rate    *rate.Limiter
	maxConc int64
}

// New creates a limiter allowing maxConcurrent requests in flight.
// A positive rps additionally spaces request starts with burst tokens.
func New(maxConcurrent int, rps float64, burst int) *Limiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	l := &Limiter{
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
		maxConc: int64(maxConcurrent),
	}
	if rps > 0 {
		if burst <= 0 {
			burst = 1
		}
		l.rate = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return l
}

// Acquire blocks until a slot is free. The returned release must be called
// exactly once when the request finishes.
func (l *Limiter) Acquire(ctx context.Context) (func(), error) {
	if l == nil {
		return func() {}, nil
	}
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire request slot: %w", err)
	}
	if l.rate != nil {
		if err := l.rate.Wait(ctx); err != nil {
			l.sem.Release(1)
			return nil, fmt.Errorf("wait for rate limit: %w", err)
		}
	}
	released := false
	return func() {
		if !released {
			released = true
			l.sem.Release(1)
		}
	}, nil
}

// MaxConcurrent returns the configured concurrency bound
func (l *Limiter) MaxConcurrent() int {
	if l == nil {
		return 0
	}
	return int(l.maxConc)
}
