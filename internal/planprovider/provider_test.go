package planprovider

import (
	"testing"
	"time"

	"github.com/kosheflow/signal-orchestrator/internal/candle"
)

func TestValidatePlanAcceptsWellFormedBuy(t *testing.T) {
	plan := TradingPlan{
		Signal: SignalBuy,
		Entries: []Entry{
			{Level: 99, Weight: 0.5},
			{Level: 98, Weight: 0.5},
		},
		TakeProfits: []TakeProfit{
			{Level: 105},
			{Level: 110},
		},
		StopLoss:        95,
		RiskRewardRatio: 2.5,
	}
	if !validatePlan(plan, 100) {
		t.Error("expected a well-formed BUY plan within 1.5% to validate")
	}
}

func TestValidatePlanRejectsEntryTooFarAboveCurrentPriceForBuy(t *testing.T) {
	plan := TradingPlan{
		Signal:          SignalBuy,
		Entries:         []Entry{{Level: 103}}, // > 1.5% above 100
		TakeProfits:     []TakeProfit{{Level: 110}},
		StopLoss:        95,
		RiskRewardRatio: 2.0,
	}
	if validatePlan(plan, 100) {
		t.Error("expected a BUY entry > 1.5% above current price to fail validation")
	}
}

func TestValidatePlanRejectsStopLossOnWrongSideForBuy(t *testing.T) {
	plan := TradingPlan{
		Signal:          SignalBuy,
		Entries:         []Entry{{Level: 99}},
		TakeProfits:     []TakeProfit{{Level: 105}},
		StopLoss:        99.5, // >= min entry: wrong side
		RiskRewardRatio: 2.0,
	}
	if validatePlan(plan, 100) {
		t.Error("expected a BUY stop-loss on the winning side of entries to fail validation")
	}
}

func TestValidatePlanRejectsTakeProfitBelowEntryForBuy(t *testing.T) {
	plan := TradingPlan{
		Signal:          SignalBuy,
		Entries:         []Entry{{Level: 99}},
		TakeProfits:     []TakeProfit{{Level: 98}}, // <= max entry
		StopLoss:        95,
		RiskRewardRatio: 2.0,
	}
	if validatePlan(plan, 100) {
		t.Error("expected a BUY take-profit below the entry cluster to fail validation")
	}
}

func TestValidatePlanSymmetricForSell(t *testing.T) {
	plan := TradingPlan{
		Signal:          SignalSell,
		Entries:         []Entry{{Level: 101}, {Level: 102}},
		TakeProfits:     []TakeProfit{{Level: 95}, {Level: 90}},
		StopLoss:        105,
		RiskRewardRatio: 2.0,
	}
	if !validatePlan(plan, 100) {
		t.Error("expected a well-formed SELL plan to validate")
	}
}

func TestValidatePlanRejectsRiskRewardBelow2(t *testing.T) {
	plan := TradingPlan{
		Signal:          SignalBuy,
		Entries:         []Entry{{Level: 99}},
		TakeProfits:     []TakeProfit{{Level: 105}},
		StopLoss:        95,
		RiskRewardRatio: 1.5,
	}
	if validatePlan(plan, 100) {
		t.Error("expected R:R < 2.0 to fail validation")
	}
}

func TestValidatePlanTriviallyAcceptsHoldAndWait(t *testing.T) {
	for _, sig := range []Signal{SignalHold, SignalWait} {
		plan := TradingPlan{Signal: sig}
		if !validatePlan(plan, 100) {
			t.Errorf("expected %s plan with no entries to trivially validate", sig)
		}
	}
}

func TestHoldPlanExpiryMonotonic(t *testing.T) {
	generatedAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	plan := holdPlan("BTCUSDT", candle.TF4h, 100, "quality gate failed", generatedAt)

	if !plan.ExpiresAt.After(plan.GeneratedAt) {
		t.Error("expected expires_at to be strictly after generated_at")
	}
	wantExpiry := generatedAt.Add(6 * time.Hour)
	if !plan.ExpiresAt.Equal(wantExpiry) {
		t.Errorf("expected expires_at = generated_at + validity_hours(4h) = %v, got %v", wantExpiry, plan.ExpiresAt)
	}
	if plan.Signal != SignalHold {
		t.Errorf("expected holdPlan to always produce SignalHold, got %s", plan.Signal)
	}
}
