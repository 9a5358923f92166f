package planprovider

import (
	"fmt"
	"strings"

	"github.com/kosheflow/signal-orchestrator/internal/indicator"
)

const systemPromptTemplate = `You are a crypto trading plan generator. Respond with a single JSON object
only, no prose, no code fences. The object must have exactly these fields:
trend (BULLISH|BEARISH|SIDEWAYS), signal (BUY|SELL|HOLD|WAIT|SCALP_LONG|SCALP_SHORT),
confidence (0-1), reason (string), entries (array of {level, weight, risk_score}),
take_profits (array of {level, reward_ratio, pct_gain}), stop_loss (number),
stop_loss_reason (string), risk_reward_ratio (number), probability_of_success (0-1),
expected_return (number).`

// buildPrompt assembles the system and user prompts for one plan-generation
// call. The user prompt states the quality-gate/scalping instructions in
// plain language rather than encoding them as booleans, since the LLM acts
// on natural-language guidance, not on a structured flag.
func buildPrompt(
	req Request,
	summary indicator.Summary,
	support, resistance []float64,
	nearestSupport, nearestResistance float64,
	precision int,
	qualityGateHold, scalpActive bool,
	mtf []mtfSummary,
) (system, user string) {
	var b strings.Builder

	fmt.Fprintf(&b, "Symbol: %s (%s, %s market)\n", req.Symbol, req.Exchange, req.Market)
	fmt.Fprintf(&b, "Timeframe: %s\n", req.Timeframe)
	if req.Risk != "" {
		fmt.Fprintf(&b, "Risk profile: %s\n", req.Risk)
	}
	fmt.Fprintf(&b, "Current price: %.*f\n", precision, req.CurrentPrice)
	fmt.Fprintf(&b, "24h high/low: %.*f / %.*f\n", precision, req.High24h, precision, req.Low24h)
	fmt.Fprintf(&b, "RSI(14): %.1f\n", summary.RSI)
	fmt.Fprintf(&b, "MACD: %.4f signal %.4f histogram %.4f\n", summary.MACD.MACD, summary.MACD.Signal, summary.MACD.Histogram)
	fmt.Fprintf(&b, "ADX(14): %.1f\n", summary.ADX)
	fmt.Fprintf(&b, "Volume ratio vs 20-SMA: %.2f\n", summary.VolumeRatio)
	fmt.Fprintf(&b, "Bollinger: upper %.*f mid %.*f lower %.*f\n", precision, summary.Bollinger.Upper, precision, summary.Bollinger.Middle, precision, summary.Bollinger.Lower)
	fmt.Fprintf(&b, "Support clusters: %s (nearest %.*f)\n", formatLevels(support, precision), precision, nearestSupport)
	fmt.Fprintf(&b, "Resistance clusters: %s (nearest %.*f)\n", formatLevels(resistance, precision), precision, nearestResistance)

	if len(mtf) > 0 {
		b.WriteString("Multi-timeframe context (higher timeframe is authoritative; a lower-timeframe signal opposing it must yield WAIT, not a counter-trend call):\n")
		for _, m := range mtf {
			fmt.Fprintf(&b, "  %s: trend=%s above_sma20=%t momentum=%s\n", m.Timeframe, m.Trend, m.AboveSMA20, m.MomentumHint)
		}
	}

	if scalpActive {
		b.WriteString("Scalping mode is ACTIVE: ADX is low and price sits near a key cluster level. " +
			"Quality gates are relaxed. If you see an opportunity, respond with SCALP_LONG or SCALP_SHORT, " +
			"a tight stop loss 0.3-0.5% from entry, and a take profit 0.5-1.5% from entry.\n")
	} else if qualityGateHold {
		b.WriteString("Quality gates are NOT met (weak trend strength, neutral RSI, soft volume, or price pinned " +
			"to a cluster level). Unless the setup is exceptionally clear, respond with HOLD.\n")
	}

	return systemPromptTemplate, b.String()
}

func formatLevels(levels []float64, precision int) string {
	if len(levels) == 0 {
		return "none"
	}
	parts := make([]string, len(levels))
	for i, l := range levels {
		parts[i] = fmt.Sprintf("%.*f", precision, l)
	}
	return strings.Join(parts, ", ")
}
