package ratelimiter

import (
	"context"
	"testing"
	"time"

	"github.com/kosheflow/signal-orchestrator/internal/candle"
)

func TestExchangeLimiterEnforcesMinGap(t *testing.T) {
	l := NewExchangeLimiter(candle.ExchangeBybit) // 200ms gap
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := l.Wait(ctx, PriorityUserRequested); err != nil {
			t.Fatalf("wait %d: %v", i, err)
		}
	}
	elapsed := time.Since(start)
	// 3 requests through a 1-burst, 200ms-gap bucket: at least 2 gaps (400ms).
	if elapsed < 390*time.Millisecond {
		t.Errorf("expected at least ~400ms for 3 requests at a 200ms gap, observed %v", elapsed)
	}
}

func TestRegistryReturnsDistinctLimitersPerExchange(t *testing.T) {
	r := NewRegistry()
	binance := r.Exchange(candle.ExchangeBinance)
	bybit := r.Exchange(candle.ExchangeBybit)

	if binance == bybit {
		t.Error("expected distinct limiter instances per exchange")
	}
	if r.LLM() == nil {
		t.Error("expected a non-nil shared LLM limiter")
	}
}

func TestRegistryFallsBackForUnknownExchange(t *testing.T) {
	r := NewRegistry()
	if r.Exchange(candle.Exchange("unknown")) == nil {
		t.Error("expected a conservative fallback limiter for an unrecognized exchange")
	}
}
