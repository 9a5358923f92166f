package indicator

import (
	"math"
	"testing"
	"time"

	"github.com/kosheflow/signal-orchestrator/internal/candle"
)

func makeWindow(n int, start float64, step float64) candle.Window {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	w := make(candle.Window, n)
	price := start
	for i := 0; i < n; i++ {
		open := price
		close := price + step
		high := math.Max(open, close) + 0.5
		low := math.Min(open, close) - 0.5
		w[i] = candle.Candle{
			OpenTime: base.Add(time.Duration(i) * time.Hour),
			Open:     open,
			High:     high,
			Low:      low,
			Close:    close,
			Volume:   100 + float64(i),
		}
		price = close
	}
	return w
}

func TestRSIBoundaryDefaultBelowPeriod(t *testing.T) {
	w := makeWindow(10, 100, 1)
	if got := RSI(w, 14); got != 50.0 {
		t.Errorf("expected boundary default 50.0 with len < period+1, got %v", got)
	}
}

func TestRSIRangeWithSufficientData(t *testing.T) {
	w := makeWindow(30, 100, 1)
	got := RSI(w, 14)
	if got < 0 || got > 100 {
		t.Errorf("RSI out of [0,100] range: %v", got)
	}
}

func TestMACDBoundaryDefaultBelow26(t *testing.T) {
	w := makeWindow(20, 100, 1)
	got := MACD(w, 12, 26, 9)
	if got.MACD != 0 || got.Signal != 0 {
		t.Errorf("expected zero MACDResult below 26 bars, got %+v", got)
	}
}

func TestMACDDefinedBetween26And35Bars(t *testing.T) {
	w := makeWindow(30, 100, 1)
	got := MACD(w, 12, 26, 9)
	if got.MACD == 0 {
		t.Errorf("expected a non-zero MACD line at 30 bars (>= slowPeriod), got %+v", got)
	}
}

func TestADXBoundaryDefaultBelow2xPeriod(t *testing.T) {
	w := makeWindow(27, 100, 1)
	if got := ADX(w, 14); got != 25.0 {
		t.Errorf("expected boundary default 25.0 with len < 2*period, got %v", got)
	}
}

func TestADXDefinedAtExactly2xPeriod(t *testing.T) {
	w := makeWindow(28, 100, 1)
	got := ADX(w, 14)
	if math.IsNaN(got) || got < 0 || got > 100 {
		t.Errorf("expected a defined ADX value at len == 2*period, got %v", got)
	}
}

func TestSupportLevelsEmptyAt50(t *testing.T) {
	w := makeWindow(50, 100, 0.1)
	if got := SupportLevels(w, DefaultClusterCount); got != nil {
		t.Errorf("expected nil/empty support levels at len == 50, got %v", got)
	}
}

func TestSupportLevelsExactlyKAt100(t *testing.T) {
	w := makeWindow(100, 100, 0.1)
	got := SupportLevels(w, DefaultClusterCount)
	if len(got) != DefaultClusterCount {
		t.Fatalf("expected %d centroids at len == 100, got %d", DefaultClusterCount, len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i] < got[i-1] {
			t.Errorf("support levels must be sorted ascending: %v", got)
		}
	}
}

func TestResistanceLevelsEmptyAt50(t *testing.T) {
	w := makeWindow(50, 100, 0.1)
	if got := ResistanceLevels(w, DefaultClusterCount); got != nil {
		t.Errorf("expected nil/empty resistance levels at len == 50, got %v", got)
	}
}

func TestEMASeedsWithSMA(t *testing.T) {
	w := makeWindow(5, 100, 1)
	got := EMA(w, 5)
	want := SMA(w, 5)
	if got != want {
		t.Errorf("EMA at exactly period bars must equal the seeding SMA: got %v, want %v", got, want)
	}
}

func TestSMABelowPeriodReturnsZero(t *testing.T) {
	w := makeWindow(3, 100, 1)
	if got := SMA(w, 14); got != 0 {
		t.Errorf("expected 0 below period, got %v", got)
	}
}
