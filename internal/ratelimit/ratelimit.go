// Package ratelimit provides token bucket rate limiting for backend calls
// (embedding, LLM) and for inbound turns per session.
package ratelimit

import (
	"context"
	"math"

	"golang.org/x/time/rate"
)

// Limiter is a token bucket limiter. It is safe for concurrent use.
//
// A nil *Limiter allows everything, so optional limits need no branching
// at call sites.
type Limiter struct {
	lim *rate.Limiter
}

// New creates a limiter with the given burst capacity and refill rate
// (tokens per second). A non-positive refill rate never refills.
//
// Example:
//
//	// 5 requests per second with a burst of 10
//	limiter := ratelimit.New(10, 5)
func New(burst, refillRate float64) *Limiter {
	b := max(int(math.Ceil(burst)), 1)
	return &Limiter{lim: rate.NewLimiter(rate.Limit(refillRate), b)}
}

// NewPerMinute creates a limiter from a requests-per-minute budget.
// The burst is two seconds worth of tokens, at least one.
func NewPerMinute(requestsPerMinute float64) *Limiter {
	perSecond := requestsPerMinute / 60
	return New(perSecond*2, perSecond)
}

// NewPerSecond returns nil when rps is not positive, meaning unlimited.
func NewPerSecond(rps float64) *Limiter {
	if rps <= 0 {
		return nil
	}
	return New(max(rps, 1), rps)
}

// Allow reports whether a token is available and consumes it.
func (l *Limiter) Allow() bool {
	if l == nil {
		return true
	}
	return l.lim.Allow()
}

// Wait blocks until a token is available or ctx is done. It fails
// immediately when the required wait exceeds the context deadline.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	return l.lim.Wait(ctx)
}

// Available returns the current number of tokens.
func (l *Limiter) Available() float64 {
	if l == nil {
		return math.Inf(1)
	}
	return l.lim.Tokens()
}

// IsFull reports whether the bucket is at capacity, i.e. the key is idle.
func (l *Limiter) IsFull() bool {
	if l == nil {
		return true
	}
	return l.lim.Tokens() >= float64(l.lim.Burst())
}
