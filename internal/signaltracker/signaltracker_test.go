package signaltracker

import (
	"testing"

	"github.com/kosheflow/signal-orchestrator/internal/database"
)

func row(outcome database.Outcome, confidence float64) database.SignalHistoryRow {
	return database.SignalHistoryRow{Outcome: outcome, Confidence: confidence}
}

func TestTopByOutcomeDescendingOrdersHighestConfidenceFirst(t *testing.T) {
	rows := []database.SignalHistoryRow{
		row(database.OutcomeWon, 0.4),
		row(database.OutcomeLost, 0.9),
		row(database.OutcomeWon, 0.8),
		row(database.OutcomeWon, 0.6),
	}
	got, err := topByOutcome(rows, database.OutcomeWon, 0, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 won rows, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Confidence > got[i-1].Confidence {
			t.Errorf("expected descending confidence, got %v", got)
		}
	}
}

func TestTopByOutcomeAscendingForWorst(t *testing.T) {
	rows := []database.SignalHistoryRow{
		row(database.OutcomeLost, 0.7),
		row(database.OutcomeLost, 0.2),
		row(database.OutcomeLost, 0.5),
	}
	got, err := topByOutcome(rows, database.OutcomeLost, 0, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []float64{0.2, 0.5, 0.7}
	for i, w := range want {
		if got[i].Confidence != w {
			t.Errorf("index %d: expected %v, got %v", i, w, got[i].Confidence)
		}
	}
}

func TestTopByOutcomeRespectsLimit(t *testing.T) {
	rows := []database.SignalHistoryRow{
		row(database.OutcomeWon, 0.1),
		row(database.OutcomeWon, 0.5),
		row(database.OutcomeWon, 0.9),
	}
	got, err := topByOutcome(rows, database.OutcomeWon, 2, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected limit of 2, got %d", len(got))
	}
	if got[0].Confidence != 0.9 || got[1].Confidence != 0.5 {
		t.Errorf("expected the two highest-confidence rows, got %v", got)
	}
}

func TestTopByOutcomeFiltersOtherOutcomes(t *testing.T) {
	rows := []database.SignalHistoryRow{
		row(database.OutcomeWon, 0.5),
		row(database.OutcomePending, 0.9),
		row(database.OutcomeBreakeven, 0.3),
	}
	got, err := topByOutcome(rows, database.OutcomeWon, 0, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("expected only the won row to survive the filter, got %d rows", len(got))
	}
}
