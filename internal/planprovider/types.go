package planprovider

import (
	"time"

	"github.com/kosheflow/signal-orchestrator/internal/candle"
)

// PlanTrend is the higher-level trend classification a plan carries,
// distinct from indicator.Trend's EMA-crossover vocabulary (uptrend/
// downtrend/sideways): PP reports trend the way a trading plan reads it.
type PlanTrend string

const (
	TrendBullish  PlanTrend = "BULLISH"
	TrendBearish  PlanTrend = "BEARISH"
	TrendSideways PlanTrend = "SIDEWAYS"
)

// Signal is the directional call a TradingPlan makes.
type Signal string

const (
	SignalBuy  Signal = "BUY"
	SignalSell Signal = "SELL"
	SignalHold Signal = "HOLD"
	SignalWait Signal = "WAIT"
)

// Entry is one scaled-in entry level.
type Entry struct {
	Level     float64 `json:"level"`
	Weight    float64 `json:"weight"`
	RiskScore int     `json:"risk_score"`
}

// TakeProfit is one scaled-out exit level.
type TakeProfit struct {
	Level       float64 `json:"level"`
	RewardRatio float64 `json:"reward_ratio"`
	PctGain     float64 `json:"pct_gain"`
}

// TradingPlan is PP's output value object.
type TradingPlan struct {
	Symbol                string
	Timeframe             string
	GeneratedAt           time.Time
	CurrentPrice          float64
	Trend                 PlanTrend
	Signal                Signal
	Confidence            float64
	Reason                string
	Entries               []Entry
	TakeProfits           []TakeProfit
	StopLoss              float64
	StopLossReason        string
	RiskRewardRatio       float64
	ProbabilityOfSuccess  float64
	ExpectedReturn        float64
	ExpiresAt             time.Time
	ScalpMode             bool
	DataSource            string
}

// holdPlan returns a minimal HOLD plan, used whenever the LLM fails, the
// response cannot be parsed, or post-validation finds an invariant
// violation. A HOLD plan carries no entries/exits since it is never acted
// on — the actionability filter downstream drops it.
func holdPlan(symbol string, tf candle.Timeframe, currentPrice float64, reason string, generatedAt time.Time) TradingPlan {
	return TradingPlan{
		Symbol:       symbol,
		Timeframe:    string(tf),
		GeneratedAt:  generatedAt,
		CurrentPrice: currentPrice,
		Trend:        TrendSideways,
		Signal:       SignalHold,
		Reason:       reason,
		ExpiresAt:    generatedAt.Add(time.Duration(tf.ValidityHours() * float64(time.Hour))),
	}
}
