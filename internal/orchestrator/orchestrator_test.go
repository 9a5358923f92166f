package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/kosheflow/signal-orchestrator/internal/candle"
	"github.com/kosheflow/signal-orchestrator/internal/indicator"
	"github.com/kosheflow/signal-orchestrator/internal/store"
)

func TestQueuePriorityOrdering(t *testing.T) {
	q := newQueue(10)
	q.enqueue(WorkItem{Kind: KindAutoPlan})
	q.enqueue(WorkItem{Kind: KindScheduledScreening})
	q.enqueue(WorkItem{Kind: KindSignalCheck})
	q.enqueue(WorkItem{Kind: KindAlertCheck})

	ctx := context.Background()
	want := []Kind{KindAlertCheck, KindSignalCheck, KindScheduledScreening, KindAutoPlan}
	for _, k := range want {
		item, ok := q.dequeue(ctx)
		if !ok {
			t.Fatalf("expected an item, queue reported closed/empty")
		}
		if item.Kind != k {
			t.Errorf("expected %s next, got %s", k, item.Kind)
		}
	}
}

func TestQueueFIFOWithinClass(t *testing.T) {
	q := newQueue(10)
	q.enqueue(WorkItem{Kind: KindSignalCheck, ChatID: 1})
	q.enqueue(WorkItem{Kind: KindSignalCheck, ChatID: 2})
	q.enqueue(WorkItem{Kind: KindSignalCheck, ChatID: 3})

	ctx := context.Background()
	for _, id := range []int64{1, 2, 3} {
		item, _ := q.dequeue(ctx)
		if item.ChatID != id {
			t.Errorf("expected chat_id %d, got %d", id, item.ChatID)
		}
	}
}

func TestQueueEnqueueRejectsWhenFull(t *testing.T) {
	q := newQueue(1)
	if !q.enqueue(WorkItem{Kind: KindAlertCheck}) {
		t.Fatal("expected first enqueue to succeed")
	}
	if q.enqueue(WorkItem{Kind: KindAlertCheck}) {
		t.Error("expected enqueue to reject once the queue is at capacity")
	}
}

func TestQueueDequeueUnblocksOnClose(t *testing.T) {
	q := newQueue(1)
	done := make(chan struct{})
	go func() {
		_, ok := q.dequeue(context.Background())
		if ok {
			t.Error("expected dequeue to report false after close")
		}
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	q.close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dequeue did not unblock after close")
	}
}

func TestQueueDequeueUnblocksOnContextCancel(t *testing.T) {
	q := newQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_, ok := q.dequeue(ctx)
		if ok {
			t.Error("expected dequeue to report false after context cancellation")
		}
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dequeue did not unblock after context cancel")
	}
}

func TestThreeSignalSumThresholds(t *testing.T) {
	cases := []struct {
		name    string
		summary indicator.Summary
		want    store.SignalKind
	}{
		{
			name:    "strong bullish confluence",
			summary: indicator.Summary{Trend: indicator.TrendUp, RSI: 60, MACD: indicator.MACDResult{Histogram: 1}},
			want:    store.SignalBuy,
		},
		{
			name:    "strong bearish confluence",
			summary: indicator.Summary{Trend: indicator.TrendDown, RSI: 40, MACD: indicator.MACDResult{Histogram: -1}},
			want:    store.SignalSell,
		},
		{
			name:    "mixed signals hold",
			summary: indicator.Summary{Trend: indicator.TrendUp, RSI: 40, MACD: indicator.MACDResult{Histogram: -1}},
			want:    store.SignalNone,
		},
		{
			name:    "sideways neutral hold",
			summary: indicator.Summary{Trend: indicator.TrendSideways, RSI: 50, MACD: indicator.MACDResult{Histogram: 0}},
			want:    store.SignalNone,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := threeSignalSum(tc.summary); got != tc.want {
				t.Errorf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestWindow24hHighLowFallsBackToWholeWindowWhenShort(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	window := make(candle.Window, 3)
	for i := range window {
		window[i] = candle.Candle{
			OpenTime: base.Add(time.Duration(i) * time.Hour),
			Open:     100, Close: 100,
			High: 100 + float64(i), Low: 100 - float64(i),
		}
	}

	high, low := window24hHighLow(window, candle.TF1h)
	if high != 102 {
		t.Errorf("expected high 102, got %.1f", high)
	}
	if low != 98 {
		t.Errorf("expected low 98, got %.1f", low)
	}
}

func TestWindow24hHighLowUsesTrailingDayOnly(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	window := make(candle.Window, 48)
	for i := range window {
		window[i] = candle.Candle{
			OpenTime: base.Add(time.Duration(i) * time.Hour),
			Open:     100, Close: 100,
			High: 100, Low: 100,
		}
	}
	// an outlier far outside the trailing 24 1h-bars must not be picked up
	window[0].High = 500
	window[len(window)-1].High = 110

	high, _ := window24hHighLow(window, candle.TF1h)
	if high != 110 {
		t.Errorf("expected the trailing-day high of 110, got %.1f (stale outlier leaked in)", high)
	}
}

func TestPriorityRankOrdering(t *testing.T) {
	if priorityRank(KindAlertCheck) >= priorityRank(KindSignalCheck) {
		t.Error("AlertCheck must outrank SignalCheck")
	}
	if priorityRank(KindSignalCheck) >= priorityRank(KindScheduledScreening) {
		t.Error("SignalCheck must outrank ScheduledScreening")
	}
	if priorityRank(KindScheduledScreening) >= priorityRank(KindAutoPlan) {
		t.Error("ScheduledScreening must outrank AutoPlan")
	}
}

func TestKindDeadlines(t *testing.T) {
	if KindAlertCheck.Deadline() != 60*time.Second {
		t.Errorf("expected 60s deadline for AlertCheck, got %s", KindAlertCheck.Deadline())
	}
	if KindScheduledScreening.Deadline() != 180*time.Second {
		t.Errorf("expected 180s deadline for ScheduledScreening, got %s", KindScheduledScreening.Deadline())
	}
	if KindAutoPlan.Deadline() != 600*time.Second {
		t.Errorf("expected 600s deadline for AutoPlan, got %s", KindAutoPlan.Deadline())
	}
}

func TestScheduleGroupKeyMatchesOnlyWhenTupleMatches(t *testing.T) {
	universe := []string{"BTCUSDT", "ETHUSDT"}
	base := scheduleGroupKey(candle.ExchangeBinance, candle.MarketSpot, "1h", universe)

	if got := scheduleGroupKey(candle.ExchangeBinance, candle.MarketSpot, "1h", universe); got != base {
		t.Error("expected identical tuples to produce the same group key")
	}
	if got := scheduleGroupKey(candle.ExchangeBybit, candle.MarketSpot, "1h", universe); got == base {
		t.Error("expected a different exchange to produce a different group key")
	}
	if got := scheduleGroupKey(candle.ExchangeBinance, candle.MarketFutures, "1h", universe); got == base {
		t.Error("expected a different market to produce a different group key")
	}
	if got := scheduleGroupKey(candle.ExchangeBinance, candle.MarketSpot, "4h", universe); got == base {
		t.Error("expected a different timeframe to produce a different group key")
	}
	if got := scheduleGroupKey(candle.ExchangeBinance, candle.MarketSpot, "1h", []string{"BTCUSDT"}); got == base {
		t.Error("expected a different universe to produce a different group key")
	}
}

func TestWithinActiveHours(t *testing.T) {
	o := &Orchestrator{cfg: DefaultConfig()}
	inHours := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	outHours := time.Date(2026, 1, 1, 20, 0, 0, 0, time.UTC)

	if !o.withinActiveHours(inHours) {
		t.Error("expected 10:00 UTC to be within active hours")
	}
	if o.withinActiveHours(outHours) {
		t.Error("expected 20:00 UTC to be outside active hours")
	}
}
