// Package signaltracker is ST: the append-only store of emitted trading
// plans and their later-filled outcomes, plus the read-only analytics
// queries used by accuracy-reporting commands. It sits on top of
// internal/database.Repository the same way the rest of the data layer
// does, adding google/uuid-generated signal IDs so a caller knows the ID
// before the insert returns.
package signaltracker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/kosheflow/signal-orchestrator/internal/database"
	"github.com/kosheflow/signal-orchestrator/internal/errs"
)

// Entry mirrors a TradingPlan entry level for JSON persistence.
type Entry struct {
	Level     float64 `json:"level"`
	Weight    float64 `json:"weight"`
	RiskScore int     `json:"risk_score"`
}

// TakeProfit mirrors a TradingPlan take-profit level for JSON persistence.
type TakeProfit struct {
	Level      float64 `json:"level"`
	RewardRatio float64 `json:"reward_ratio"`
	PctGain    float64 `json:"pct_gain"`
}

// Plan is the subset of a TradingPlan Record needs to persist. It is
// defined independently of internal/planprovider's TradingPlan so ST has no
// import-time dependency on PP; callers convert.
type Plan struct {
	Symbol      string
	Timeframe   string
	SignalType  string
	Confidence  float64
	Entries     []Entry
	TakeProfits []TakeProfit
	StopLoss    float64
	GeneratedAt time.Time
	PlanID      string
}

// Tracker is ST.
type Tracker struct {
	repo *database.Repository
}

// New builds a Tracker over repo.
func New(repo *database.Repository) *Tracker {
	return &Tracker{repo: repo}
}

// Record appends plan as a new signal_history row owned by userID and
// returns the generated signal_id. This is the only place a signal ID is
// minted.
func (t *Tracker) Record(ctx context.Context, plan Plan, userID int64) (string, error) {
	entriesJSON, err := json.Marshal(plan.Entries)
	if err != nil {
		return "", errs.Wrap(errs.DatabaseError, "marshal entries", err)
	}
	tpJSON, err := json.Marshal(plan.TakeProfits)
	if err != nil {
		return "", errs.Wrap(errs.DatabaseError, "marshal take profits", err)
	}

	id := uuid.NewString()
	row := database.SignalHistoryRow{
		ID:              id,
		UserID:          userID,
		Symbol:          plan.Symbol,
		Timeframe:       plan.Timeframe,
		SignalType:      plan.SignalType,
		Confidence:      plan.Confidence,
		EntriesJSON:     entriesJSON,
		TakeProfitsJSON: tpJSON,
		StopLoss:        plan.StopLoss,
		GeneratedAt:     plan.GeneratedAt,
		Outcome:         database.OutcomePending,
		PlanID:          plan.PlanID,
	}
	if err := t.repo.InsertSignalHistory(ctx, row); err != nil {
		return "", err
	}
	return id, nil
}

// UpdateOutcome fills in the later-known result of a recorded signal.
func (t *Tracker) UpdateOutcome(ctx context.Context, signalID string, outcome database.Outcome, actual *float64) error {
	return t.repo.UpdateOutcome(ctx, signalID, outcome, actual, time.Now())
}

// Filter narrows an analytics query; zero values mean "no filter" on that
// field.
type Filter struct {
	UserID    *int64
	Symbol    string
	Timeframe string
	Limit     int
}

// History returns matching rows, newest first.
func (t *Tracker) History(ctx context.Context, f Filter) ([]database.SignalHistoryRow, error) {
	return t.repo.QuerySignalHistory(ctx, database.SignalHistoryFilter{
		UserID: f.UserID, Symbol: f.Symbol, Timeframe: f.Timeframe, Limit: f.Limit,
	})
}

// Stats summarizes accuracy across the rows matching f.
type Stats struct {
	Total    int
	Wins     int
	Losses   int
	Breakeven int
	Pending  int
	WinRate  float64 // percent, 0-100
}

// ComputeStats applies the win-rate formula wins/(wins+losses+breakeven),
// reported as a percentage and defined as 0 when that denominator is 0.
func (t *Tracker) ComputeStats(ctx context.Context, f Filter) (Stats, error) {
	rows, err := t.History(ctx, f)
	if err != nil {
		return Stats{}, err
	}

	var st Stats
	st.Total = len(rows)
	for _, r := range rows {
		switch r.Outcome {
		case database.OutcomeWon:
			st.Wins++
		case database.OutcomeLost:
			st.Losses++
		case database.OutcomeBreakeven:
			st.Breakeven++
		default:
			st.Pending++
		}
	}
	denom := st.Wins + st.Losses + st.Breakeven
	if denom > 0 {
		st.WinRate = float64(st.Wins) / float64(denom) * 100
	}
	return st, nil
}

// Best returns the n highest-confidence winning signals matching f.
func (t *Tracker) Best(ctx context.Context, f Filter, n int) ([]database.SignalHistoryRow, error) {
	rows, err := t.History(ctx, f)
	if err != nil {
		return nil, err
	}
	return topByOutcome(rows, database.OutcomeWon, n, true)
}

// Worst returns the n lowest-confidence losing signals matching f.
func (t *Tracker) Worst(ctx context.Context, f Filter, n int) ([]database.SignalHistoryRow, error) {
	rows, err := t.History(ctx, f)
	if err != nil {
		return nil, err
	}
	return topByOutcome(rows, database.OutcomeLost, n, false)
}

func topByOutcome(rows []database.SignalHistoryRow, outcome database.Outcome, n int, descending bool) ([]database.SignalHistoryRow, error) {
	var filtered []database.SignalHistoryRow
	for _, r := range rows {
		if r.Outcome == outcome {
			filtered = append(filtered, r)
		}
	}
	for i := 1; i < len(filtered); i++ {
		j := i
		for j > 0 {
			swap := filtered[j-1].Confidence < filtered[j].Confidence
			if !descending {
				swap = filtered[j-1].Confidence > filtered[j].Confidence
			}
			if !swap {
				break
			}
			filtered[j-1], filtered[j] = filtered[j], filtered[j-1]
			j--
		}
	}
	if n > 0 && len(filtered) > n {
		filtered = filtered[:n]
	}
	return filtered, nil
}

// ByTimeframe groups Stats per timeframe for the given symbol filter
// (symbol == "" means all symbols).
func (t *Tracker) ByTimeframe(ctx context.Context, symbol string, timeframes []string) (map[string]Stats, error) {
	out := make(map[string]Stats, len(timeframes))
	for _, tf := range timeframes {
		st, err := t.ComputeStats(ctx, Filter{Symbol: symbol, Timeframe: tf})
		if err != nil {
			return nil, err
		}
		out[tf] = st
	}
	return out, nil
}

// BySymbol groups Stats per symbol for the given timeframe filter
// (timeframe == "" means all timeframes).
func (t *Tracker) BySymbol(ctx context.Context, symbols []string, timeframe string) (map[string]Stats, error) {
	out := make(map[string]Stats, len(symbols))
	for _, sym := range symbols {
		st, err := t.ComputeStats(ctx, Filter{Symbol: sym, Timeframe: timeframe})
		if err != nil {
			return nil, err
		}
		out[sym] = st
	}
	return out, nil
}
