// Package planprovider is PP: it turns a candle window plus multi-timeframe
// context into a TradingPlan by prompting an LLM and strictly validating the
// structured reply. It never lets a loose JSON value escape its boundary —
// the LLM's text response is parsed once into a schema struct and any
// invariant violation collapses the result to a minimal HOLD plan rather
// than propagating a malformed plan downstream.
package planprovider

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/kosheflow/signal-orchestrator/internal/candle"
	"github.com/kosheflow/signal-orchestrator/internal/errs"
	"github.com/kosheflow/signal-orchestrator/internal/exchange/ratelimiter"
	"github.com/kosheflow/signal-orchestrator/internal/indicator"
	"github.com/kosheflow/signal-orchestrator/internal/llm"
	"github.com/kosheflow/signal-orchestrator/internal/logging"
	"github.com/kosheflow/signal-orchestrator/internal/marketdata"
)

// RiskProfile narrows how aggressively PP sizes entries; it is threaded
// through to the prompt but never changes the post-validation invariants.
type RiskProfile string

const (
	RiskConservative RiskProfile = "conservative"
	RiskModerate     RiskProfile = "moderate"
	RiskAggressive   RiskProfile = "aggressive"
)

// Request bundles everything PP needs to build one plan.
type Request struct {
	Symbol           string
	Timeframe        candle.Timeframe
	Exchange         candle.Exchange
	Market           candle.MarketType
	Window           candle.Window
	CurrentPrice     float64
	High24h          float64
	Low24h           float64
	Risk             RiskProfile
	PreferredSource  string
}

// Provider is PP. One Provider is shared by every tenant and every
// concurrent worker; it holds no per-call mutable state beyond the shared
// LLM rate limiter, so it is safe to call Generate from many goroutines at
// once.
type Provider struct {
	llmClient *llm.Client
	mdf       *marketdata.Fetcher
	llmLimit  *ratelimiter.Limiter
}

// New builds a Provider. llmLimit must be the process-wide LLM bucket
// shared with the screener's Stage B, since the ≥1s spacing rule applies
// across both callers, not per-caller.
func New(llmClient *llm.Client, mdf *marketdata.Fetcher, llmLimit *ratelimiter.Limiter) *Provider {
	return &Provider{llmClient: llmClient, mdf: mdf, llmLimit: llmLimit}
}

// mtfSummary is the condensed multi-timeframe context PP hands to the
// prompt: a lower timeframe's trend, its close position relative to SMA20,
// and its short momentum reading.
type mtfSummary struct {
	Timeframe    candle.Timeframe
	Trend        indicator.Trend
	AboveSMA20   bool
	MomentumHint string
}

// Generate runs the full plan-generation algorithm and returns a
// TradingPlan. It never returns a non-nil error for "the LLM said no trade"
// — that case returns a HOLD plan. An error is reserved for cases where no
// plan at all could be produced (e.g. the window is too short to compute
// indicators).
func (p *Provider) Generate(ctx context.Context, req Request) (TradingPlan, error) {
	log := logging.WithComponent("planprovider").WithField("symbol", req.Symbol).WithField("timeframe", string(req.Timeframe))
	now := time.Now().UTC()

	if len(req.Window) < 26 {
		return TradingPlan{}, errs.New(errs.InsufficientData, fmt.Sprintf("window too short to plan %s", req.Symbol))
	}

	// Step 1: local indicators.
	summary := indicator.Compute(req.Window)
	supportLevels := indicator.SupportLevels(req.Window, indicator.DefaultClusterCount)
	resistanceLevels := indicator.ResistanceLevels(req.Window, indicator.DefaultClusterCount)

	// Step 2: display precision, used only for prompt formatting.
	precision := pricePrecision(req.CurrentPrice)

	// Step 3 & 4: quality gates and scalping-mode detection.
	nearestSupport, nearestResistance, nearCluster := nearestClusterLevels(req.CurrentPrice, supportLevels, resistanceLevels)
	qualityGateHold := summary.ADX < 20 || (summary.RSI >= 40 && summary.RSI <= 60) || summary.VolumeRatio < 1.0 || nearCluster(0.005)
	scalpActive := summary.ADX < 25 && summary.RSI >= 40 && summary.RSI <= 60 && nearCluster(0.01)

	// Step 5: multi-timeframe confluence.
	mtf := p.collectMTF(ctx, req, log)

	// Step 6: invoke the LLM under the shared rate limiter.
	if err := p.llmLimit.Wait(ctx, ratelimiter.PriorityUserRequested); err != nil {
		return holdPlan(req.Symbol, req.Timeframe, req.CurrentPrice, "rate limiter canceled", now), nil
	}

	systemPrompt, userPrompt := buildPrompt(req, summary, supportLevels, resistanceLevels, nearestSupport, nearestResistance, precision, qualityGateHold, scalpActive, mtf)

	raw, err := p.llmClient.Complete(ctx, systemPrompt, userPrompt)
	if err != nil {
		log.Warn("llm completion failed, returning hold plan", "error", err)
		return holdPlan(req.Symbol, req.Timeframe, req.CurrentPrice, "plan generation failed", now), nil
	}

	// Step 7: strict JSON parse into the plan schema.
	parsed, err := parseLLMPlan(raw)
	if err != nil {
		log.Warn("llm response failed schema parse, returning hold plan", "error", err)
		return holdPlan(req.Symbol, req.Timeframe, req.CurrentPrice, "unparseable llm response", now), nil
	}

	plan := parsed.toTradingPlan(req.Symbol, string(req.Timeframe), req.CurrentPrice, now)
	if scalpActive {
		plan.ScalpMode = true
	}
	plan.DataSource = req.PreferredSource

	// Step 8: post-validate invariants; coerce to HOLD on any violation.
	if !validatePlan(plan, req.CurrentPrice) {
		log.Info("plan failed post-validation, coercing to hold")
		return holdPlan(req.Symbol, req.Timeframe, req.CurrentPrice, "failed post-validation invariants", now), nil
	}

	// Step 9: expiry.
	plan.ExpiresAt = now.Add(time.Duration(req.Timeframe.ValidityHours() * float64(time.Hour)))
	return plan, nil
}

func pricePrecision(price float64) int {
	switch {
	case price >= 1000:
		return 2
	case price >= 1:
		return 4
	default:
		return 6
	}
}

// nearestClusterLevels finds the support/resistance levels closest to
// price and returns a closure reporting whether price sits within pct of
// either.
func nearestClusterLevels(price float64, support, resistance []float64) (nearestSupport, nearestResistance float64, withinPct func(pct float64) bool) {
	nearestSupport = closestLevel(price, support)
	nearestResistance = closestLevel(price, resistance)
	withinPct = func(pct float64) bool {
		if nearestSupport > 0 && math.Abs(price-nearestSupport)/price <= pct {
			return true
		}
		if nearestResistance > 0 && math.Abs(price-nearestResistance)/price <= pct {
			return true
		}
		return false
	}
	return
}

func closestLevel(price float64, levels []float64) float64 {
	best, bestDist := 0.0, math.MaxFloat64
	for _, lvl := range levels {
		d := math.Abs(price - lvl)
		if d < bestDist {
			best, bestDist = lvl, d
		}
	}
	return best
}

func (p *Provider) collectMTF(ctx context.Context, req Request, log *logging.Logger) []mtfSummary {
	lowerTFs := candle.MultiTimeframeHierarchy(req.Timeframe)
	if len(lowerTFs) == 0 {
		return nil
	}

	out := make([]mtfSummary, 0, len(lowerTFs))
	for _, tf := range lowerTFs {
		window, err := p.mdf.Fetch(ctx, marketdata.Key{
			Exchange: req.Exchange,
			Market:   req.Market,
			Symbol:   req.Symbol,
			TF:       tf,
		}, 100)
		if err != nil {
			log.Warn("mtf fetch failed, skipping timeframe", "mtf", string(tf), "error", err)
			continue
		}
		sum := indicator.Compute(window)
		last := window[len(window)-1].Close
		momentum := "flat"
		if sum.MACD.Histogram > 0 {
			momentum = "rising"
		} else if sum.MACD.Histogram < 0 {
			momentum = "falling"
		}
		out = append(out, mtfSummary{
			Timeframe:    tf,
			Trend:        sum.Trend,
			AboveSMA20:   last >= sum.SMA20,
			MomentumHint: momentum,
		})
	}
	return out
}

// llmPlanResponse is the strict schema PP parses the LLM's JSON reply into.
// Every field is optional from the wire's point of view; missing fields
// coerce to zero values and are then caught by post-validation.
type llmPlanResponse struct {
	Trend                string        `json:"trend"`
	Signal               string        `json:"signal"`
	Confidence           float64       `json:"confidence"`
	Reason               string        `json:"reason"`
	Entries              []llmEntry    `json:"entries"`
	TakeProfits          []llmTP       `json:"take_profits"`
	StopLoss             float64       `json:"stop_loss"`
	StopLossReason       string        `json:"stop_loss_reason"`
	RiskRewardRatio      float64       `json:"risk_reward_ratio"`
	ProbabilityOfSuccess float64       `json:"probability_of_success"`
	ExpectedReturn       float64       `json:"expected_return"`
}

type llmEntry struct {
	Level     float64 `json:"level"`
	Weight    float64 `json:"weight"`
	RiskScore int     `json:"risk_score"`
}

type llmTP struct {
	Level       float64 `json:"level"`
	RewardRatio float64 `json:"reward_ratio"`
	PctGain     float64 `json:"pct_gain"`
}

var jsonBlockRE = regexp.MustCompile(`(?s)\{.*\}`)

// parseLLMPlan extracts and strictly decodes the first JSON object in raw.
// LLMs occasionally wrap JSON in prose or code fences despite being asked
// for JSON-only output; this tolerates that one surface-level deviation
// without tolerating any deviation in the schema itself.
func parseLLMPlan(raw string) (llmPlanResponse, error) {
	trimmed := strings.TrimSpace(raw)
	block := jsonBlockRE.FindString(trimmed)
	if block == "" {
		return llmPlanResponse{}, fmt.Errorf("no JSON object found in llm response")
	}
	var resp llmPlanResponse
	if err := json.Unmarshal([]byte(block), &resp); err != nil {
		return llmPlanResponse{}, fmt.Errorf("decode llm plan: %w", err)
	}
	return resp, nil
}

func (r llmPlanResponse) toTradingPlan(symbol, timeframe string, currentPrice float64, generatedAt time.Time) TradingPlan {
	entries := make([]Entry, 0, len(r.Entries))
	for _, e := range r.Entries {
		entries = append(entries, Entry{Level: e.Level, Weight: e.Weight, RiskScore: e.RiskScore})
	}
	tps := make([]TakeProfit, 0, len(r.TakeProfits))
	for _, t := range r.TakeProfits {
		tps = append(tps, TakeProfit{Level: t.Level, RewardRatio: t.RewardRatio, PctGain: t.PctGain})
	}

	signal := Signal(strings.ToUpper(r.Signal))
	trend := PlanTrend(strings.ToUpper(r.Trend))
	scalp := false
	switch signal {
	case "SCALP_LONG":
		signal = SignalBuy
		scalp = true
	case "SCALP_SHORT":
		signal = SignalSell
		scalp = true
	}
	switch signal {
	case SignalBuy, SignalSell, SignalHold, SignalWait:
	default:
		signal = SignalHold
	}
	switch trend {
	case TrendBullish, TrendBearish, TrendSideways:
	default:
		trend = TrendSideways
	}

	return TradingPlan{
		Symbol:               symbol,
		Timeframe:            timeframe,
		GeneratedAt:          generatedAt,
		CurrentPrice:         currentPrice,
		Trend:                trend,
		Signal:               signal,
		Confidence:           clamp01(r.Confidence),
		Reason:               r.Reason,
		Entries:              entries,
		TakeProfits:          tps,
		StopLoss:             r.StopLoss,
		StopLossReason:       r.StopLossReason,
		RiskRewardRatio:      r.RiskRewardRatio,
		ProbabilityOfSuccess: clamp01(r.ProbabilityOfSuccess),
		ExpectedReturn:       r.ExpectedReturn,
		ScalpMode:            scalp,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// validatePlan enforces the entry/SL/TP invariants. HOLD and WAIT plans
// trivially pass since they carry no entries to violate.
func validatePlan(plan TradingPlan, currentPrice float64) bool {
	if plan.Signal != SignalBuy && plan.Signal != SignalSell {
		return true
	}
	if len(plan.Entries) == 0 || len(plan.TakeProfits) == 0 {
		return false
	}

	minEntry, maxEntry := plan.Entries[0].Level, plan.Entries[0].Level
	for _, e := range plan.Entries {
		if e.Level < minEntry {
			minEntry = e.Level
		}
		if e.Level > maxEntry {
			maxEntry = e.Level
		}
	}
	minTP, maxTP := plan.TakeProfits[0].Level, plan.TakeProfits[0].Level
	for _, t := range plan.TakeProfits {
		if t.Level < minTP {
			minTP = t.Level
		}
		if t.Level > maxTP {
			maxTP = t.Level
		}
	}

	switch plan.Signal {
	case SignalBuy:
		for _, e := range plan.Entries {
			if e.Level > currentPrice*1.015 {
				return false
			}
		}
		if plan.StopLoss >= minEntry {
			return false
		}
		if minTP <= maxEntry {
			return false
		}
	case SignalSell:
		for _, e := range plan.Entries {
			if e.Level < currentPrice*0.985 {
				return false
			}
		}
		if plan.StopLoss <= maxEntry {
			return false
		}
		if maxTP >= minEntry {
			return false
		}
	}

	if plan.RiskRewardRatio != 0 && plan.RiskRewardRatio < 2.0 {
		return false
	}
	return true
}
