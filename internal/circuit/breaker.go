// Package circuit implements the trip/cooldown/half-open state machine MDF
// wraps around each exchange client. Unlike a trading-loss circuit breaker
// that trips on PnL, this one trips on consecutive fetch failures and
// rate-limit responses.
package circuit

import (
	"fmt"
	"sync"
	"time"
)

// State represents the circuit breaker's current state.
type State string

const (
	StateClosed   State = "closed"    // requests flow normally
	StateOpen     State = "open"      // requests are rejected until cooldown elapses
	StateHalfOpen State = "half_open" // a single probe request is allowed through
)

// Config holds breaker thresholds for one exchange client.
type Config struct {
	MaxConsecutiveFailures int
	CooldownDuration       time.Duration
	MaxFailuresPerMinute   int
}

// DefaultConfig returns conservative defaults suitable for a read-only
// market-data client: trip after 5 consecutive failures or 20 failures in a
// minute, cool down for 2 minutes before probing again.
func DefaultConfig() Config {
	return Config{
		MaxConsecutiveFailures: 5,
		CooldownDuration:       2 * time.Minute,
		MaxFailuresPerMinute:   20,
	}
}

// Breaker guards calls to a single exchange client.
type Breaker struct {
	mu sync.Mutex

	config Config
	state  State

	consecutiveFailures int
	failuresLastMinute  int
	minuteResetAt       time.Time
	lastTripAt          time.Time
	tripReason          string

	onTrip  func(reason string)
	onReset func()
}

// New creates a Breaker in the closed state.
func New(config Config) *Breaker {
	return &Breaker{
		config:        config,
		state:         StateClosed,
		minuteResetAt: time.Now().Add(time.Minute),
	}
}

// OnTrip registers a callback invoked (in a new goroutine) whenever the
// breaker opens.
func (b *Breaker) OnTrip(handler func(reason string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onTrip = handler
}

// OnReset registers a callback invoked (in a new goroutine) whenever the
// breaker returns to closed.
func (b *Breaker) OnReset(handler func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onReset = handler
}

// Allow reports whether a request may proceed. When the breaker is open and
// the cooldown has elapsed, it transitions to half-open and allows exactly
// one probe through.
func (b *Breaker) Allow() (bool, string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.resetMinuteIfNeeded()

	switch b.state {
	case StateOpen:
		elapsed := time.Since(b.lastTripAt)
		if elapsed < b.config.CooldownDuration {
			remaining := b.config.CooldownDuration - elapsed
			return false, fmt.Sprintf("circuit open, cooldown remaining %v (reason: %s)", remaining.Round(time.Second), b.tripReason)
		}
		b.state = StateHalfOpen
		return true, ""
	case StateHalfOpen:
		// Only one probe in flight at a time; subsequent callers wait for
		// the probe's outcome to settle the state.
		return false, "probe request in flight"
	default:
		return true, ""
	}
}

// RecordSuccess reports a successful call, closing the breaker if it was
// half-open.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	b.consecutiveFailures = 0
	recovered := b.state == StateHalfOpen
	if recovered {
		b.state = StateClosed
		b.tripReason = ""
	}
	onReset := b.onReset
	b.mu.Unlock()

	if recovered && onReset != nil {
		go onReset()
	}
}

// RecordFailure reports a failed call and trips the breaker if thresholds
// are exceeded.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	b.resetMinuteIfNeeded()
	b.consecutiveFailures++
	b.failuresLastMinute++

	var reason string
	if b.consecutiveFailures >= b.config.MaxConsecutiveFailures {
		reason = fmt.Sprintf("%d consecutive failures", b.consecutiveFailures)
	} else if b.failuresLastMinute >= b.config.MaxFailuresPerMinute {
		reason = fmt.Sprintf("%d failures in the last minute", b.failuresLastMinute)
	} else if b.state == StateHalfOpen {
		reason = "probe failed"
	}

	var tripped bool
	if reason != "" && b.state != StateOpen {
		b.state = StateOpen
		b.lastTripAt = time.Now()
		b.tripReason = reason
		tripped = true
	}
	onTrip := b.onTrip
	b.mu.Unlock()

	if tripped && onTrip != nil {
		go onTrip(reason)
	}
}

func (b *Breaker) resetMinuteIfNeeded() {
	now := time.Now()
	if now.After(b.minuteResetAt) {
		b.failuresLastMinute = 0
		b.minuteResetAt = now.Add(time.Minute)
	}
}

// Status returns the breaker's current state.
func (b *Breaker) Status() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// ForceReset manually closes the breaker, used by operator tooling.
func (b *Breaker) ForceReset() {
	b.mu.Lock()
	b.state = StateClosed
	b.consecutiveFailures = 0
	b.tripReason = ""
	onReset := b.onReset
	b.mu.Unlock()

	if onReset != nil {
		go onReset()
	}
}
