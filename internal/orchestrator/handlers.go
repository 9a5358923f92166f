package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kosheflow/signal-orchestrator/internal/candle"
	"github.com/kosheflow/signal-orchestrator/internal/database"
	"github.com/kosheflow/signal-orchestrator/internal/errs"
	"github.com/kosheflow/signal-orchestrator/internal/indicator"
	"github.com/kosheflow/signal-orchestrator/internal/marketdata"
	"github.com/kosheflow/signal-orchestrator/internal/planprovider"
	"github.com/kosheflow/signal-orchestrator/internal/signaltracker"
	"github.com/kosheflow/signal-orchestrator/internal/store"
)

func fetcherKey(ex candle.Exchange, market candle.MarketType, symbol string, tf candle.Timeframe) marketdata.Key {
	return marketdata.Key{Exchange: ex, Market: market, Symbol: symbol, TF: tf}
}

// autoPlanTopK bounds how many screening survivors get forwarded to PP per
// scheduled screening run; autoPlanTopKOnDemand is the wider bound an
// EnqueueOnDemandScreening request carries through WorkItem.TopK.
const (
	autoPlanTopK         = 5
	autoPlanTopKOnDemand = 10
)

// handleAlertCheck is the AlertCheck work item: scan every untriggered
// alert, fetch the latest price for its owning chat's preferred venue, and
// fire a one-shot send-then-flip on a cross.
func (o *Orchestrator) handleAlertCheck(ctx context.Context) error {
	alerts, err := o.deps.Store.ListActiveAlerts(ctx)
	if err != nil {
		return err
	}

	for _, alert := range alerts {
		prefs, err := o.deps.Store.GetPreferences(ctx, alert.ChatID, string(o.cfg.DefaultExchange), string(o.cfg.DefaultMarket))
		if err != nil {
			o.log.Error("failed to load preferences for alert", "alert_id", alert.ID, "error", err)
			continue
		}
		ex := candle.Exchange(prefs.DefaultExchange)
		market := candle.MarketType(prefs.MarketType)

		var price float64
		fetchErr := o.withExchangeRetry(ctx, func() error {
			window, err := o.deps.MDF.Fetch(ctx, fetcherKey(ex, market, alert.Symbol, candle.TF1m), 1)
			if err != nil {
				return err
			}
			price = window[len(window)-1].Close
			return nil
		})
		if fetchErr != nil {
			o.log.Warn("failed to fetch price for alert check", "alert_id", alert.ID, "symbol", alert.Symbol, "error", fetchErr)
			continue
		}

		crossed := (alert.Direction == database.AlertAbove && price >= alert.TargetPrice) ||
			(alert.Direction == database.AlertBelow && price <= alert.TargetPrice)
		if !crossed {
			continue
		}

		lock := o.chatSymbolLock(alert.ChatID, alert.Symbol)
		lock.Lock()
		o.fireAlert(ctx, alert, price)
		lock.Unlock()
	}
	return nil
}

func (o *Orchestrator) fireAlert(ctx context.Context, alert database.Alert, price float64) {
	verb := "above"
	if alert.Direction == database.AlertBelow {
		verb = "below"
	}
	text := fmt.Sprintf("Price alert: %s crossed %s $%.4f (target %.4f)", alert.Symbol, verb, price, alert.TargetPrice)
	if err := o.deps.Notifier.Send(ctx, alert.ChatID, text, false); err != nil {
		o.log.Warn("alert notification failed, leaving triggered=false for retry", "alert_id", alert.ID, "error", err)
		return
	}
	if _, err := o.deps.Store.TryTriggerAlert(ctx, alert.ID); err != nil {
		o.log.Error("failed to flip alert triggered state after send", "alert_id", alert.ID, "error", err)
	}
}

// handleSignalCheck is the SignalCheck{chat_id} work item: recompute a
// three-signal sum for every subscription and notify only on an actionable
// change from the last notified signal.
func (o *Orchestrator) handleSignalCheck(ctx context.Context, item WorkItem) error {
	state, err := o.deps.Store.GetUserState(ctx, item.ChatID)
	if err != nil || !state.Enabled {
		return err
	}

	subs, err := o.deps.Store.ListSubscriptions(ctx, item.ChatID)
	if err != nil {
		return err
	}

	prefs, err := o.deps.Store.GetPreferences(ctx, item.ChatID, string(o.cfg.DefaultExchange), string(o.cfg.DefaultMarket))
	if err != nil {
		return err
	}
	ex := candle.Exchange(prefs.DefaultExchange)
	market := candle.MarketType(prefs.MarketType)

	for _, sub := range subs {
		var window candle.Window
		fetchErr := o.withExchangeRetry(ctx, func() error {
			w, err := o.deps.MDF.Fetch(ctx, fetcherKey(ex, market, sub.Symbol, candle.TF4h), 100)
			if err != nil {
				return err
			}
			window = w
			return nil
		})
		if fetchErr != nil {
			o.log.Warn("signal check fetch failed, skipping symbol", "chat_id", item.ChatID, "symbol", sub.Symbol, "error", fetchErr)
			continue
		}

		kind := threeSignalSum(indicator.Compute(window))
		if kind == store.SignalNone {
			continue
		}

		lock := o.chatSymbolLock(item.ChatID, sub.Symbol)
		lock.Lock()
		o.notifySignalChange(ctx, item.ChatID, sub.Symbol, kind, window)
		lock.Unlock()
	}
	return nil
}

// threeSignalSum implements the documented trend/RSI-zone/MACD-histogram
// sum, thresholded to BUY/SELL/HOLD (HOLD reported as SignalNone since it
// never notifies).
func threeSignalSum(summary indicator.Summary) store.SignalKind {
	score := 0
	switch summary.Trend {
	case indicator.TrendUp:
		score++
	case indicator.TrendDown:
		score--
	}
	if summary.RSI > 55 {
		score++
	} else if summary.RSI < 45 {
		score--
	}
	if summary.MACD.Histogram > 0 {
		score++
	} else if summary.MACD.Histogram < 0 {
		score--
	}

	switch {
	case score >= 2:
		return store.SignalBuy
	case score <= -2:
		return store.SignalSell
	default:
		return store.SignalNone
	}
}

func (o *Orchestrator) notifySignalChange(ctx context.Context, chatID int64, symbol string, kind store.SignalKind, window candle.Window) {
	last := o.deps.Store.LastSignal(ctx, chatID, symbol, "4h")
	if last == kind {
		return
	}
	price := window[len(window)-1].Close
	text := fmt.Sprintf("Signal change on %s: %s at $%.4f", symbol, kind, price)
	if err := o.deps.Notifier.Send(ctx, chatID, text, false); err != nil {
		o.log.Warn("signal change notification failed, memory left unchanged for retry", "chat_id", chatID, "symbol", symbol, "error", err)
		return
	}
	o.deps.Store.SetLastSignal(ctx, chatID, symbol, "4h", kind)
}

// handleScheduledScreening is the ScheduledScreening{exchange, market,
// universe, timeframe, targets} work item. The exchange/market/universe are
// resolved once per tuple by enqueueScheduledScreenings (or by
// EnqueueOnDemandScreening for a single chat), so this handler runs SC
// exactly once and fans the shared ranked result out to every target: each
// gets its own min_score-filtered notification, its own schedule's last_run
// stamp, and its own AutoPlan spawn.
func (o *Orchestrator) handleScheduledScreening(ctx context.Context, item WorkItem) error {
	if o.deps.Screener == nil || len(item.Targets) == 0 {
		return nil
	}
	tf := candle.Timeframe(item.Timeframe)

	candidates, summary, err := o.deps.Screener.Run(ctx, item.Universe, item.Exchange, item.Market, tf)
	if err != nil {
		return err
	}

	topK := autoPlanTopK
	if item.TopK > 0 {
		topK = item.TopK
	}

	for _, target := range item.Targets {
		survivors := make([]string, 0, len(candidates))
		var b strings.Builder
		fmt.Fprintf(&b, "Screening results (%s, %d candidates, avg %.1f, top %.1f):\n", tf, summary.Total, summary.AvgScore, summary.TopScore)
		for _, c := range candidates {
			score := c.LLMScore
			if score == 0 {
				score = c.LocalScore
			}
			if target.MinScore > 0 && score < target.MinScore {
				continue
			}
			survivors = append(survivors, c.Symbol)
			fmt.Fprintf(&b, "  %s: %.1f (%s)\n", c.Symbol, score, c.Trend)
		}

		if len(survivors) == 0 {
			b.WriteString("  no symbols met the score threshold\n")
		}
		if err := o.deps.Notifier.Send(ctx, target.ChatID, b.String(), false); err != nil {
			o.log.Warn("screening summary notification failed", "chat_id", target.ChatID, "error", err)
		}

		if target.ScheduleID != 0 {
			if err := o.deps.Store.MarkScheduleRun(ctx, target.ScheduleID, time.Now().UTC()); err != nil {
				o.log.Error("failed to stamp schedule last_run", "schedule_id", target.ScheduleID, "error", err)
			}
		}

		if len(survivors) == 0 || o.deps.PlanProvider == nil {
			continue
		}
		top := survivors
		if len(top) > topK {
			top = top[:topK]
		}
		autoPlan := WorkItem{
			Kind:      KindAutoPlan,
			ChatID:    target.ChatID,
			Timeframe: item.Timeframe,
			TopK:      len(top),
			Symbols:   top,
		}
		if !o.q.enqueue(autoPlan) {
			o.log.Warn("work queue full, dropped auto-plan spawn", "chat_id", target.ChatID)
		}
	}
	return nil
}

// screeningUniverse prefers the chat's own subscriptions; falling back to
// the configured default universe when the user has none, so a freshly
// onboarded chat's first schedule still produces results.
func (o *Orchestrator) screeningUniverse(ctx context.Context, chatID int64) []string {
	subs, err := o.deps.Store.ListSubscriptions(ctx, chatID)
	if err == nil && len(subs) > 0 {
		symbols := make([]string, len(subs))
		for i, s := range subs {
			symbols[i] = s.Symbol
		}
		return symbols
	}
	return o.cfg.ScreeningUniverse
}

// handleAutoPlan is the AutoPlan{chat_id, top_K, timeframe} work item: run
// PP over the pre-screened symbols and forward only actionable plans.
func (o *Orchestrator) handleAutoPlan(ctx context.Context, item WorkItem) error {
	if o.deps.PlanProvider == nil {
		return nil
	}

	prefs, err := o.deps.Store.GetPreferences(ctx, item.ChatID, string(o.cfg.DefaultExchange), string(o.cfg.DefaultMarket))
	if err != nil {
		return err
	}
	ex := candle.Exchange(prefs.DefaultExchange)
	market := candle.MarketType(prefs.MarketType)
	tf := candle.Timeframe(item.Timeframe)

	actionable := 0
	for _, symbol := range item.Symbols {
		var window candle.Window
		fetchErr := o.withExchangeRetry(ctx, func() error {
			w, err := o.deps.MDF.Fetch(ctx, fetcherKey(ex, market, symbol, tf), 100)
			if err != nil {
				return err
			}
			window = w
			return nil
		})
		if fetchErr != nil {
			o.log.Warn("auto-plan fetch failed, skipping symbol", "chat_id", item.ChatID, "symbol", symbol, "error", fetchErr)
			continue
		}

		currentPrice := window[len(window)-1].Close
		high24h, low24h, err := o.deps.MDF.Ticker24hr(ctx, ex, symbol, market)
		if err != nil {
			o.log.Warn("24h ticker fetch failed, approximating from the candle window", "symbol", symbol, "error", err)
			high24h, low24h = window24hHighLow(window, tf)
		}

		plan, err := o.deps.PlanProvider.Generate(ctx, planprovider.Request{
			Symbol:       symbol,
			Timeframe:    tf,
			Exchange:     ex,
			Market:       market,
			Window:       window,
			CurrentPrice: currentPrice,
			High24h:      high24h,
			Low24h:       low24h,
		})
		if err != nil {
			if errs.Is(err, errs.InsufficientData) {
				o.log.Warn("auto-plan skipped, insufficient data", "symbol", symbol, "error", err)
				continue
			}
			o.log.Error("auto-plan generation failed", "symbol", symbol, "error", err)
			continue
		}

		if plan.Signal != planprovider.SignalBuy && plan.Signal != planprovider.SignalSell {
			continue
		}

		actionable++
		if _, err := o.deps.Tracker.Record(ctx, toTrackerPlan(plan), item.ChatID); err != nil {
			o.log.Error("failed to record auto-plan signal history", "symbol", symbol, "error", err)
		}

		text := fmt.Sprintf("Trading plan %s %s on %s: confidence %.0f%%, entries %v, stop %.4f",
			plan.Signal, plan.Trend, plan.Symbol, plan.Confidence*100, entryLevels(plan.Entries), plan.StopLoss)
		if err := o.deps.Notifier.Send(ctx, item.ChatID, text, false); err != nil {
			o.log.Warn("auto-plan notification failed", "chat_id", item.ChatID, "symbol", symbol, "error", err)
		}
	}

	if actionable == 0 {
		return nil
	}
	summary := fmt.Sprintf("Auto-plan summary: %d of %d screened symbols produced an actionable plan", actionable, len(item.Symbols))
	if err := o.deps.Notifier.Send(ctx, item.ChatID, summary, false); err != nil {
		o.log.Warn("auto-plan summary notification failed", "chat_id", item.ChatID, "error", err)
	}
	return nil
}

func toTrackerPlan(p planprovider.TradingPlan) signaltracker.Plan {
	entries := make([]signaltracker.Entry, len(p.Entries))
	for i, e := range p.Entries {
		entries[i] = signaltracker.Entry{Level: e.Level, Weight: e.Weight, RiskScore: e.RiskScore}
	}
	takeProfits := make([]signaltracker.TakeProfit, len(p.TakeProfits))
	for i, tp := range p.TakeProfits {
		takeProfits[i] = signaltracker.TakeProfit{Level: tp.Level, RewardRatio: tp.RewardRatio, PctGain: tp.PctGain}
	}
	return signaltracker.Plan{
		Symbol:      p.Symbol,
		Timeframe:   p.Timeframe,
		SignalType:  string(p.Signal),
		Confidence:  p.Confidence,
		Entries:     entries,
		TakeProfits: takeProfits,
		StopLoss:    p.StopLoss,
		GeneratedAt: p.GeneratedAt,
	}
}

func entryLevels(entries []planprovider.Entry) []float64 {
	levels := make([]float64, len(entries))
	for i, e := range entries {
		levels[i] = e.Level
	}
	return levels
}

// window24hHighLow is the fallback used when MDF.Ticker24hr fails: it
// approximates a 24h high/low from the candle window itself, taking the max
// high and min low over however many trailing candles span roughly 24 hours
// at tf's granularity (falling back to the whole window if shorter).
func window24hHighLow(w candle.Window, tf candle.Timeframe) (high, low float64) {
	barsPerDay := 24
	switch tf {
	case candle.TF1m:
		barsPerDay = 1440
	case candle.TF5m:
		barsPerDay = 288
	case candle.TF15m:
		barsPerDay = 96
	case candle.TF30m:
		barsPerDay = 48
	case candle.TF1h:
		barsPerDay = 24
	case candle.TF2h:
		barsPerDay = 12
	case candle.TF4h:
		barsPerDay = 6
	case candle.TF1d:
		barsPerDay = 1
	case candle.TF1w:
		barsPerDay = 1
	}
	n := barsPerDay
	if n > len(w) || n <= 0 {
		n = len(w)
	}
	tail := w[len(w)-n:]
	high, low = tail[0].High, tail[0].Low
	for _, c := range tail {
		if c.High > high {
			high = c.High
		}
		if c.Low < low {
			low = c.Low
		}
	}
	return high, low
}
