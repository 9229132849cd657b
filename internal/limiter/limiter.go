// Package limiter provides two global concurrency caps: a semaphore
// bounding concurrent outbound STT/LLM HTTP calls across every session, and
// a separate semaphore bounding concurrent in-flight LLM calls across every
// session. Both are process-wide singletons shared by every session's owner
// goroutine, so a single slow provider can't starve every other session.
package limiter

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Limiter holds the process-wide semaphores. A zero Limiter is not usable;
// construct with [New].
type Limiter struct {
	httpOut *semaphore.Weighted
	llmFlight *semaphore.Weighted
}

// New constructs a Limiter with the given caps.
func New(httpOutConcurrency, llmInFlightCap int64) *Limiter {
	return &Limiter{
		httpOut:   semaphore.NewWeighted(httpOutConcurrency),
		llmFlight: semaphore.NewWeighted(llmInFlightCap),
	}
}

// AcquireHTTPOut blocks until a slot in the global outbound-HTTP semaphore
// is available or ctx is cancelled. release() must be called exactly once
// on success.
func (l *Limiter) AcquireHTTPOut(ctx context.Context) (release func(), err error) {
	if err := l.httpOut.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { l.httpOut.Release(1) }, nil
}

// AcquireLLMFlight blocks until a slot in the global LLM-in-flight
// semaphore is available or ctx is cancelled. This is the cross-session
// cap; per-session at-most-one-in-flight is enforced separately by the
// graph builder.
func (l *Limiter) AcquireLLMFlight(ctx context.Context) (release func(), err error) {
	if err := l.llmFlight.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { l.llmFlight.Release(1) }, nil
}
