package candle

import (
	"testing"
	"time"
)

func TestCandleValidAcceptsOrderedOHLC(t *testing.T) {
	c := Candle{Open: 10, High: 12, Low: 9, Close: 11, Volume: 5}
	if !c.Valid() {
		t.Error("expected a well-ordered candle to be valid")
	}
}

func TestCandleValidRejectsLowAboveBody(t *testing.T) {
	c := Candle{Open: 10, High: 12, Low: 10.5, Close: 11, Volume: 5}
	if c.Valid() {
		t.Error("expected low above min(open,close) to be invalid")
	}
}

func TestCandleValidRejectsHighBelowBody(t *testing.T) {
	c := Candle{Open: 10, High: 10.5, Low: 9, Close: 11, Volume: 5}
	if c.Valid() {
		t.Error("expected high below max(open,close) to be invalid")
	}
}

func TestCandleValidRejectsNegativeVolume(t *testing.T) {
	c := Candle{Open: 10, High: 12, Low: 9, Close: 11, Volume: -1}
	if c.Valid() {
		t.Error("expected negative volume to be invalid")
	}
}

func TestWindowValidRejectsNonMonotonicOpenTime(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	w := Window{
		{OpenTime: base, Open: 10, High: 11, Low: 9, Close: 10, Volume: 1},
		{OpenTime: base, Open: 10, High: 11, Low: 9, Close: 10, Volume: 1},
	}
	if w.Valid() {
		t.Error("expected two candles sharing the same OpenTime to be invalid")
	}
}

func TestWindowValidAcceptsStrictlyIncreasing(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	w := Window{
		{OpenTime: base, Open: 10, High: 11, Low: 9, Close: 10, Volume: 1},
		{OpenTime: base.Add(time.Hour), Open: 10, High: 11, Low: 9, Close: 10, Volume: 1},
	}
	if !w.Valid() {
		t.Error("expected strictly increasing OpenTime to be valid")
	}
}

func TestTailShorterThanWindowReturnsWhole(t *testing.T) {
	w := make(Window, 3)
	if got := w.Tail(10); len(got) != 3 {
		t.Errorf("expected Tail(n) with n >= len(w) to return the whole window, got %d", len(got))
	}
}

func TestTailReturnsLastN(t *testing.T) {
	w := make(Window, 10)
	for i := range w {
		w[i].Close = float64(i)
	}
	got := w.Tail(3)
	if len(got) != 3 || got[0].Close != 7 {
		t.Errorf("expected last 3 candles starting at close=7, got %+v", got)
	}
}

func TestTimeframeFreshnessWindowEqualsDuration(t *testing.T) {
	for _, tf := range []Timeframe{TF1m, TF15m, TF1h, TF4h, TF1d} {
		if tf.FreshnessWindow() != tf.Duration() {
			t.Errorf("%s: freshness window must equal one timeframe duration", tf)
		}
	}
}

func TestTimeframeValidRejectsUnknown(t *testing.T) {
	if Timeframe("3m").Valid() {
		t.Error("expected an unrecognized timeframe to be invalid")
	}
}

func TestMultiTimeframeHierarchy(t *testing.T) {
	cases := map[Timeframe][]Timeframe{
		TF1d: {TF4h, TF1h},
		TF4h: {TF1h},
		TF2h: {TF1h},
		TF1h: nil,
		TF5m: nil,
	}
	for tf, want := range cases {
		got := MultiTimeframeHierarchy(tf)
		if len(got) != len(want) {
			t.Errorf("%s: expected %v, got %v", tf, want, got)
			continue
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("%s: expected %v, got %v", tf, want, got)
			}
		}
	}
}
