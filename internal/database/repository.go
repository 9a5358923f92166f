package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/kosheflow/signal-orchestrator/internal/errs"
)

// Repository is the single data-access surface SS and ST build on. Every
// mutation to a shared row goes through a WHERE-guarded statement so
// concurrent workers never double-apply a state transition.
type Repository struct {
	db *DB
}

// NewRepository wraps db.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

func wrapDBErr(action string, err error) error {
	if err == nil {
		return nil
	}
	return errs.Wrap(errs.DatabaseError, action, err)
}

// --- users ---------------------------------------------------------------

// UpsertUser creates chat_id if absent, or touches last_active if present.
// Role/tier/enabled are only set on first insert; later tier changes go
// through SetTier so the peripheral admin surface stays authoritative.
func (r *Repository) UpsertUser(ctx context.Context, chatID int64, username, firstName, lastName string) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO users (chat_id, username, first_name, last_name)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (chat_id) DO UPDATE SET
			username = EXCLUDED.username,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			last_active = NOW()
	`, chatID, username, firstName, lastName)
	return wrapDBErr("upsert user", err)
}

// GetUser returns the user row for chatID, or nil if it does not exist.
func (r *Repository) GetUser(ctx context.Context, chatID int64) (*User, error) {
	row := r.db.Pool.QueryRow(ctx, `
		SELECT chat_id, username, first_name, last_name, role, tier, enabled,
			subscription_expires_at, created_at, last_active
		FROM users WHERE chat_id = $1
	`, chatID)

	var u User
	err := row.Scan(&u.ChatID, &u.Username, &u.FirstName, &u.LastName, &u.Role, &u.Tier,
		&u.Enabled, &u.SubscriptionExpiresAt, &u.CreatedAt, &u.LastActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapDBErr("get user", err)
	}
	return &u, nil
}

// SetTier updates a user's tier and expiry, used by the peripheral
// tier/billing store; the core only ever reads tier.
func (r *Repository) SetTier(ctx context.Context, chatID int64, tier Tier, expiresAt *time.Time) error {
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE users SET tier = $2, subscription_expires_at = $3 WHERE chat_id = $1
	`, chatID, tier, expiresAt)
	return wrapDBErr("set tier", err)
}

// SetEnabled flips the disabled-user kill switch: a disabled user receives
// no outbound traffic from the core.
func (r *Repository) SetEnabled(ctx context.Context, chatID int64, enabled bool) error {
	_, err := r.db.Pool.Exec(ctx, `UPDATE users SET enabled = $2 WHERE chat_id = $1`, chatID, enabled)
	return wrapDBErr("set enabled", err)
}

// GetPreference returns the stored value for (chatID, key), or ok=false if
// unset.
func (r *Repository) GetPreference(ctx context.Context, chatID int64, key string) (string, bool, error) {
	var value string
	err := r.db.Pool.QueryRow(ctx, `
		SELECT value FROM user_preferences WHERE chat_id = $1 AND key = $2
	`, chatID, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrapDBErr("get preference", err)
	}
	return value, true, nil
}

// SetPreference upserts a (chatID, key) -> value row.
func (r *Repository) SetPreference(ctx context.Context, chatID int64, key, value string) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO user_preferences (chat_id, key, value) VALUES ($1, $2, $3)
		ON CONFLICT (chat_id, key) DO UPDATE SET value = EXCLUDED.value
	`, chatID, key, value)
	return wrapDBErr("set preference", err)
}

// --- subscriptions ---------------------------------------------------------

// Subscribe inserts (chatID, symbol, timeframe) if absent; calling it twice
// for the same tuple leaves exactly one row.
func (r *Repository) Subscribe(ctx context.Context, chatID int64, symbol, timeframe string) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO subscriptions (chat_id, symbol, timeframe) VALUES ($1, $2, $3)
		ON CONFLICT (chat_id, symbol, timeframe) DO NOTHING
	`, chatID, symbol, timeframe)
	return wrapDBErr("subscribe", err)
}

// Unsubscribe removes the row, if present.
func (r *Repository) Unsubscribe(ctx context.Context, chatID int64, symbol, timeframe string) error {
	_, err := r.db.Pool.Exec(ctx, `
		DELETE FROM subscriptions WHERE chat_id = $1 AND symbol = $2 AND timeframe = $3
	`, chatID, symbol, timeframe)
	return wrapDBErr("unsubscribe", err)
}

// ListSubscriptions returns every subscription for chatID, used by ORCH's
// SignalCheck work item.
func (r *Repository) ListSubscriptions(ctx context.Context, chatID int64) ([]Subscription, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, chat_id, symbol, timeframe, created_at FROM subscriptions WHERE chat_id = $1
	`, chatID)
	if err != nil {
		return nil, wrapDBErr("list subscriptions", err)
	}
	defer rows.Close()

	var out []Subscription
	for rows.Next() {
		var s Subscription
		if err := rows.Scan(&s.ID, &s.ChatID, &s.Symbol, &s.Timeframe, &s.CreatedAt); err != nil {
			return nil, wrapDBErr("scan subscription", err)
		}
		out = append(out, s)
	}
	return out, wrapDBErr("iterate subscriptions", rows.Err())
}

// CountSubscriptions is used by the peripheral tier-cap enforcement
// (LimitExceeded) before a new subscribe call.
func (r *Repository) CountSubscriptions(ctx context.Context, chatID int64) (int, error) {
	var n int
	err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM subscriptions WHERE chat_id = $1`, chatID).Scan(&n)
	return n, wrapDBErr("count subscriptions", err)
}

// ListUsersWithSubscriptions returns the distinct chat_ids that have at
// least one subscription, used by ORCH to enumerate SignalCheck candidates.
func (r *Repository) ListUsersWithSubscriptions(ctx context.Context) ([]int64, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT DISTINCT chat_id FROM subscriptions`)
	if err != nil {
		return nil, wrapDBErr("list subscribed users", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, wrapDBErr("scan subscribed user", err)
		}
		out = append(out, id)
	}
	return out, wrapDBErr("iterate subscribed users", rows.Err())
}

// --- alerts ----------------------------------------------------------------

// CreateAlert inserts a new active (triggered=false) alert.
func (r *Repository) CreateAlert(ctx context.Context, chatID int64, symbol string, dir AlertDirection, target float64) (*Alert, error) {
	a := &Alert{ChatID: chatID, Symbol: symbol, Direction: dir, TargetPrice: target}
	err := r.db.Pool.QueryRow(ctx, `
		INSERT INTO alerts (chat_id, symbol, alert_type, target_price)
		VALUES ($1, $2, $3, $4)
		RETURNING id, triggered, created_at
	`, chatID, symbol, dir, target).Scan(&a.ID, &a.Triggered, &a.CreatedAt)
	if err != nil {
		return nil, wrapDBErr("create alert", err)
	}
	return a, nil
}

// ListActiveAlerts returns every untriggered alert. Joining against the
// owning user's exchange/market preferences is the caller's job (SS exposes
// preferences separately); this just scans the NEW/FIRING state machine
// rows.
func (r *Repository) ListActiveAlerts(ctx context.Context) ([]Alert, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, chat_id, symbol, alert_type, target_price, triggered, created_at
		FROM alerts WHERE triggered = FALSE
	`)
	if err != nil {
		return nil, wrapDBErr("list active alerts", err)
	}
	defer rows.Close()

	var out []Alert
	for rows.Next() {
		var a Alert
		if err := rows.Scan(&a.ID, &a.ChatID, &a.Symbol, &a.Direction, &a.TargetPrice, &a.Triggered, &a.CreatedAt); err != nil {
			return nil, wrapDBErr("scan alert", err)
		}
		out = append(out, a)
	}
	return out, wrapDBErr("iterate alerts", rows.Err())
}

// TryTrigger performs the atomic NOTIFIED->TRIGGERED flip: UPDATE ... WHERE
// id=$1 AND triggered=false. Returns fired=true only if this call actually
// flipped the row, guaranteeing at-most-once triggering even if two workers
// race on the same alert.
func (r *Repository) TryTrigger(ctx context.Context, alertID int64) (fired bool, err error) {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE alerts SET triggered = TRUE WHERE id = $1 AND triggered = FALSE
	`, alertID)
	if err != nil {
		return false, wrapDBErr("trigger alert", err)
	}
	return tag.RowsAffected() == 1, nil
}

// DeleteAlert removes an alert row (user-initiated DELETED terminal state).
func (r *Repository) DeleteAlert(ctx context.Context, alertID int64) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM alerts WHERE id = $1`, alertID)
	return wrapDBErr("delete alert", err)
}

// --- screening schedules ----------------------------------------------------

// UpsertSchedule creates or updates the one row per (chatID, timeframe).
func (r *Repository) UpsertSchedule(ctx context.Context, chatID int64, timeframe string, intervalMinutes int, minScore float64, enabled bool) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO screening_schedules (chat_id, timeframe, interval_minutes, min_score, enabled)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (chat_id, timeframe) DO UPDATE SET
			interval_minutes = EXCLUDED.interval_minutes,
			min_score = EXCLUDED.min_score,
			enabled = EXCLUDED.enabled
	`, chatID, timeframe, intervalMinutes, minScore, enabled)
	return wrapDBErr("upsert schedule", err)
}

// ListEnabledSchedules returns every enabled schedule; ORCH computes
// due-ness itself (interval doubling outside active hours lives in ORCH,
// not here).
func (r *Repository) ListEnabledSchedules(ctx context.Context) ([]ScreeningSchedule, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, chat_id, timeframe, interval_minutes, min_score, enabled, created_at, last_run
		FROM screening_schedules WHERE enabled = TRUE
	`)
	if err != nil {
		return nil, wrapDBErr("list schedules", err)
	}
	defer rows.Close()

	var out []ScreeningSchedule
	for rows.Next() {
		var s ScreeningSchedule
		if err := rows.Scan(&s.ID, &s.ChatID, &s.Timeframe, &s.IntervalMinutes, &s.MinScore, &s.Enabled, &s.CreatedAt, &s.LastRun); err != nil {
			return nil, wrapDBErr("scan schedule", err)
		}
		out = append(out, s)
	}
	return out, wrapDBErr("iterate schedules", rows.Err())
}

// MarkScheduleRun stamps last_run on the row with scheduleID. The update is
// keyed on id alone and does not check the previous last_run, so it does not
// by itself stop two overlapping ticks from both running the same schedule.
func (r *Repository) MarkScheduleRun(ctx context.Context, scheduleID int64, at time.Time) error {
	_, err := r.db.Pool.Exec(ctx, `UPDATE screening_schedules SET last_run = $2 WHERE id = $1`, scheduleID, at)
	return wrapDBErr("mark schedule run", err)
}

// --- signal history ----------------------------------------------------------

// InsertSignalHistory appends a new row; id is caller-generated (uuid) so
// ST can hand it back as the signal_id before the insert even returns.
func (r *Repository) InsertSignalHistory(ctx context.Context, row SignalHistoryRow) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO signal_history (id, user_id, symbol, timeframe, signal_type, confidence,
			entries, take_profits, stop_loss, generated_at, outcome, plan_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, row.ID, row.UserID, row.Symbol, row.Timeframe, row.SignalType, row.Confidence,
		row.EntriesJSON, row.TakeProfitsJSON, row.StopLoss, row.GeneratedAt, row.Outcome, row.PlanID)
	return wrapDBErr("insert signal history", err)
}

// UpdateOutcome fills in the outcome fields of an existing row. This is the
// one in-place mutation the otherwise append-only table allows.
func (r *Repository) UpdateOutcome(ctx context.Context, id string, outcome Outcome, actual *float64, at time.Time) error {
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE signal_history SET outcome = $2, actual_outcome = $3, outcome_at = $4 WHERE id = $1
	`, id, outcome, actual, at)
	return wrapDBErr("update signal outcome", err)
}

// SignalHistoryFilter narrows the analytics queries ST exposes.
type SignalHistoryFilter struct {
	UserID    *int64
	Symbol    string
	Timeframe string
	Limit     int
}

// QuerySignalHistory returns rows matching filter, newest first.
func (r *Repository) QuerySignalHistory(ctx context.Context, f SignalHistoryFilter) ([]SignalHistoryRow, error) {
	query := `SELECT id, user_id, symbol, timeframe, signal_type, confidence, entries, take_profits,
		stop_loss, generated_at, outcome, actual_outcome, outcome_at, plan_id FROM signal_history WHERE 1=1`
	args := []interface{}{}
	argn := 1

	if f.UserID != nil {
		query += fmt.Sprintf(" AND user_id = $%d", argn)
		args = append(args, *f.UserID)
		argn++
	}
	if f.Symbol != "" {
		query += fmt.Sprintf(" AND symbol = $%d", argn)
		args = append(args, f.Symbol)
		argn++
	}
	if f.Timeframe != "" {
		query += fmt.Sprintf(" AND timeframe = $%d", argn)
		args = append(args, f.Timeframe)
		argn++
	}
	query += " ORDER BY generated_at DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argn)
		args = append(args, f.Limit)
	}

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapDBErr("query signal history", err)
	}
	defer rows.Close()

	var out []SignalHistoryRow
	for rows.Next() {
		var row SignalHistoryRow
		if err := rows.Scan(&row.ID, &row.UserID, &row.Symbol, &row.Timeframe, &row.SignalType, &row.Confidence,
			&row.EntriesJSON, &row.TakeProfitsJSON, &row.StopLoss, &row.GeneratedAt, &row.Outcome,
			&row.ActualOutcome, &row.OutcomeAt, &row.PlanID); err != nil {
			return nil, wrapDBErr("scan signal history", err)
		}
		out = append(out, row)
	}
	return out, wrapDBErr("iterate signal history", rows.Err())
}

// --- feature flags & subscription audit (peripheral, read-mostly) ----------

// HasFeature reports whether chatID has feature_name enabled and unexpired.
func (r *Repository) HasFeature(ctx context.Context, chatID int64, feature string) (bool, error) {
	var enabled bool
	var expiresAt *time.Time
	err := r.db.Pool.QueryRow(ctx, `
		SELECT enabled, expires_at FROM user_features WHERE chat_id = $1 AND feature_name = $2
	`, chatID, feature).Scan(&enabled, &expiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, wrapDBErr("has feature", err)
	}
	if !enabled {
		return false, nil
	}
	if expiresAt != nil && time.Now().After(*expiresAt) {
		return false, nil
	}
	return true, nil
}

// AppendSubscriptionHistory writes a peripheral billing audit row; the core
// never reads these back.
func (r *Repository) AppendSubscriptionHistory(ctx context.Context, h SubscriptionHistory) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO subscription_history (chat_id, tier, action, duration_days, payment_amount, payment_method, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, h.ChatID, h.Tier, h.Action, h.DurationDays, h.PaymentAmount, h.PaymentMethod, h.Notes)
	return wrapDBErr("append subscription history", err)
}
