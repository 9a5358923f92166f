// Package ratelimiter paces outbound exchange and LLM calls. This system
// only ever issues read-only market-data and single-symbol LLM calls, so a
// plain token bucket per venue is enough; we use golang.org/x/time/rate
// instead of reimplementing one. Callers label each request with one of
// three priority levels; the bucket paces all of them alike.
package ratelimiter

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/kosheflow/signal-orchestrator/internal/candle"
	"github.com/kosheflow/signal-orchestrator/internal/exchange"
)

// Priority labels the kind of work behind a request. It never denies a
// request, and Wait does not order waiters by it: every caller of a bucket
// is paced identically.
type Priority int

const (
	// PriorityUserRequested is a subscription check or a user-triggered
	// /analyze command.
	PriorityUserRequested Priority = iota
	// PriorityScheduledScreening is the periodic screener sweep.
	PriorityScheduledScreening
	// PriorityBackground covers cache warms and opportunistic refreshes.
	PriorityBackground
)

// Limiter paces requests to one exchange venue or to the shared LLM budget.
type Limiter struct {
	bucket *rate.Limiter
}

// NewExchangeLimiter builds a limiter enforcing the minimum request gap for
// ex, with a burst of 1 so bursts never exceed the venue's documented
// per-request spacing.
func NewExchangeLimiter(ex candle.Exchange) *Limiter {
	gapMillis := exchange.MinRequestGap(ex)
	every := rate.Every(time.Duration(gapMillis) * time.Millisecond)
	return &Limiter{bucket: rate.NewLimiter(every, 1)}
}

// NewLLMLimiter builds the global LLM call limiter: at most one call per
// second across every tenant, since provider APIs are the scarcest and
// costliest resource in the system.
func NewLLMLimiter() *Limiter {
	return &Limiter{bucket: rate.NewLimiter(rate.Every(time.Second), 1)}
}

// Wait blocks until a slot is available or ctx is canceled. priority is
// accepted for call-site clarity and is not used: there is exactly one
// queue per venue and the bucket treats every caller identically.
func (l *Limiter) Wait(ctx context.Context, priority Priority) error {
	_ = priority
	return l.bucket.Wait(ctx)
}

// Allow reports whether a request may proceed immediately without blocking,
// for call sites that prefer to skip a cycle rather than wait.
func (l *Limiter) Allow() bool {
	return l.bucket.Allow()
}

// Registry hands out one Limiter per exchange plus the shared LLM limiter,
// so callers never construct their own and accidentally bypass pacing.
type Registry struct {
	exchanges map[candle.Exchange]*Limiter
	llm       *Limiter
}

// NewRegistry builds limiters for every supported exchange.
func NewRegistry() *Registry {
	return &Registry{
		exchanges: map[candle.Exchange]*Limiter{
			candle.ExchangeBinance: NewExchangeLimiter(candle.ExchangeBinance),
			candle.ExchangeBybit:   NewExchangeLimiter(candle.ExchangeBybit),
		},
		llm: NewLLMLimiter(),
	}
}

// Exchange returns the limiter for ex, or a conservative default if ex is
// unrecognized.
func (r *Registry) Exchange(ex candle.Exchange) *Limiter {
	if l, ok := r.exchanges[ex]; ok {
		return l
	}
	return NewExchangeLimiter(ex)
}

// LLM returns the shared LLM call limiter.
func (r *Registry) LLM() *Limiter {
	return r.llm
}
