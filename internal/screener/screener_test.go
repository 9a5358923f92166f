package screener

import (
	"testing"
	"time"

	"github.com/kosheflow/signal-orchestrator/internal/candle"
)

func TestSortCandidatesScoreDescendingSymbolAscending(t *testing.T) {
	cands := []Candidate{
		{Symbol: "ETHUSDT", LLMScore: 7},
		{Symbol: "BTCUSDT", LLMScore: 7},
		{Symbol: "SOLUSDT", LLMScore: 9},
		{Symbol: "ADAUSDT", LocalScore: 65},
	}
	sortCandidates(cands)

	want := []string{"ADAUSDT", "SOLUSDT", "BTCUSDT", "ETHUSDT"}
	for i, sym := range want {
		if cands[i].Symbol != sym {
			t.Errorf("position %d: want %s, got %s", i, sym, cands[i].Symbol)
		}
	}
}

func TestEffectiveScorePrefersLLMWhenPresent(t *testing.T) {
	c := Candidate{LocalScore: 80, LLMScore: 6}
	if got := effectiveScore(c); got != 6 {
		t.Errorf("expected LLM score to win, got %.1f", got)
	}

	c2 := Candidate{LocalScore: 80}
	if got := effectiveScore(c2); got != 80 {
		t.Errorf("expected local score fallback, got %.1f", got)
	}
}

func TestNeutralFallbackSetsScoreAndFlag(t *testing.T) {
	c := Candidate{Symbol: "BTCUSDT", LocalScore: 72}
	out := neutralFallback(c)
	if out.LLMScore != 5.0 {
		t.Errorf("expected neutral fallback score 5.0, got %.1f", out.LLMScore)
	}
	if !out.StageBFailed {
		t.Error("expected StageBFailed to be set")
	}
}

func TestSummarizeEmptyUniverse(t *testing.T) {
	sum := summarize(nil, candle.TF1h)
	if sum.Total != 0 || sum.AvgScore != 0 || sum.TopScore != 0 {
		t.Errorf("expected zero-valued summary for empty input, got %+v", sum)
	}
}

func TestSummarizeCountsBuckets(t *testing.T) {
	cands := []Candidate{
		{Symbol: "A", LLMScore: 8, Trend: "bullish"},
		{Symbol: "B", LLMScore: 3, Trend: "bearish"},
		{Symbol: "C", LocalScore: 70, Trend: "neutral"},
	}
	sum := summarize(cands, candle.TF1h)

	if sum.Total != 3 {
		t.Errorf("expected total 3, got %d", sum.Total)
	}
	if sum.Bullish != 1 || sum.Bearish != 1 || sum.Neutral != 1 {
		t.Errorf("expected 1/1/1 bullish/bearish/neutral, got %d/%d/%d", sum.Bullish, sum.Bearish, sum.Neutral)
	}
	if sum.TopScore != 70 {
		t.Errorf("expected top score 70, got %.1f", sum.TopScore)
	}
	if sum.Timestamp.IsZero() {
		t.Error("expected non-zero timestamp")
	}
}

func TestLocalScoreWithinBounds(t *testing.T) {
	window := make(candle.Window, 60)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	price := 100.0
	for i := range window {
		price += 0.5
		window[i] = candle.Candle{
			OpenTime: base.Add(time.Duration(i) * time.Hour),
			Open:     price - 0.5,
			High:     price + 1,
			Low:      price - 1,
			Close:    price,
			Volume:   1000 + float64(i)*10,
		}
	}

	score, trend := localScore(window)
	if score < 0 || score > 100 {
		t.Errorf("expected score in [0,100], got %.1f", score)
	}
	if trend != "bullish" {
		t.Errorf("expected bullish trend for a steadily rising window, got %s", trend)
	}
}
