package gmail

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Operation represents a Gmail API operation with its quota cost.
type Operation int

const (
	OpMessagesGet    Operation = iota // 5 units
	OpMessagesList                    // 5 units
	OpMessagesSend                    // 100 units
	OpAttachmentsGet                  // 5 units
	OpProfile                         // 1 unit
)

// Cost returns the quota cost for an operation.
func (o Operation) Cost() int {
	switch o {
	case OpMessagesGet, OpMessagesList, OpAttachmentsGet:
		return 5
	case OpMessagesSend:
		return 100
	default:
		return 1
	}
}

// DefaultCapacity is the default token bucket capacity (Gmail's per-user quota).
const DefaultCapacity = 250

// DefaultRefillRate is quota units per second at the default rate.
const DefaultRefillRate = 250.0

// MinQPS is the minimum allowed QPS.
const MinQPS = 0.1

const (
	defaultQPS             = 5.0
	throttleRecoveryFactor = 0.5
)

// RateLimiter spends Gmail quota units through a token bucket. After the
// API pushes back it blocks callers for a throttle window, then refills at
// half rate for a recovery period of the same length. Safe for concurrent
// use.
type RateLimiter struct {
	mu             sync.Mutex
	limiter        *rate.Limiter
	baseLimit      rate.Limit
	throttledUntil time.Time
	recoverUntil   time.Time
	recovering     bool
	now            func() time.Time
}

// NewRateLimiter creates a rate limiter for the given QPS.
// A qps of 5 spends the full per-user quota; lower values scale the refill
// rate down. QPS is clamped to MinQPS.
func NewRateLimiter(qps float64) *RateLimiter {
	if qps < MinQPS {
		qps = MinQPS
	}
	scale := qps / defaultQPS
	if scale > 1 {
		scale = 1
	}
	limit := rate.Limit(DefaultRefillRate * scale)
	return &RateLimiter{
		limiter:   rate.NewLimiter(limit, DefaultCapacity),
		baseLimit: limit,
		now:       time.Now,
	}
}

// throttleWait returns how long callers must still hold off. Once the
// window has passed it starts recovery from an empty bucket and restores
// the base rate when recovery ends. Caller must not hold mu.
func (r *RateLimiter) throttleWait() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if now.Before(r.throttledUntil) {
		return r.throttledUntil.Sub(now)
	}
	if r.recoverUntil.IsZero() {
		return 0
	}
	if !now.Before(r.recoverUntil) {
		r.limiter.SetLimitAt(now, r.baseLimit)
		r.throttledUntil, r.recoverUntil, r.recovering = time.Time{}, time.Time{}, false
		return 0
	}
	if !r.recovering {
		// Units earned while blocked are discarded.
		r.drain(now)
		r.recovering = true
	}
	return 0
}

func (r *RateLimiter) drain(now time.Time) {
	if tokens := r.limiter.TokensAt(now); tokens >= 1 {
		r.limiter.AllowN(now, int(tokens))
	}
}

// Acquire blocks until the operation's quota cost is available.
// Returns an error if the context is cancelled.
func (r *RateLimiter) Acquire(ctx context.Context, op Operation) error {
	for {
		wait := r.throttleWait()
		if wait == 0 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return r.limiter.WaitN(ctx, op.Cost())
}

// Throttle drains the bucket and blocks callers for duration, then halves
// the refill rate for another duration. An existing longer throttle window
// is never shortened.
func (r *RateLimiter) Throttle(duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if end := now.Add(duration); end.After(r.throttledUntil) {
		r.throttledUntil = end
		if rec := end.Add(duration); rec.After(r.recoverUntil) {
			r.recoverUntil = rec
		}
	}
	r.recovering = false
	r.drain(now)
	r.limiter.SetLimitAt(now, r.baseLimit*throttleRecoveryFactor)
}
