// Package store is SS: the subscription store façade ORCH, the chat command
// surface, and the alert evaluator all go through for subscriptions, price
// alerts, screening schedules, user preferences/tier, and signal memory. It
// wraps internal/database.Repository and optionally backs SignalMemory with
// internal/cache so a restart does not lose dedup state (an open question
// on cross-restart persistence, resolved here: best-effort Redis
// persistence with an in-process fallback, documented in DESIGN.md).
package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kosheflow/signal-orchestrator/internal/cache"
	"github.com/kosheflow/signal-orchestrator/internal/database"
	"github.com/kosheflow/signal-orchestrator/internal/errs"
)

// SignalKind is the last notified actionable signal kind kept in memory per
// (chat_id, symbol).
type SignalKind string

const (
	SignalNone SignalKind = ""
	SignalBuy  SignalKind = "BUY"
	SignalSell SignalKind = "SELL"
)

type memKey struct {
	chatID int64
	symbol string
}

// Store is SS. A nil cache is valid: SignalMemory then lives purely
// in-process and is lost on restart, which is an explicitly accepted
// tradeoff.
type Store struct {
	repo  *database.Repository
	cache *cache.Service

	memMu sync.Mutex
	mem   map[memKey]SignalKind
}

// New builds a Store over repo. cacheSvc may be nil.
func New(repo *database.Repository, cacheSvc *cache.Service) *Store {
	return &Store{
		repo:  repo,
		cache: cacheSvc,
		mem:   make(map[memKey]SignalKind),
	}
}

// --- users / preferences ----------------------------------------------------

// Preferences bundles the two preference keys ORCH and PP read on every
// work item.
type Preferences struct {
	DefaultExchange string
	MarketType      string
}

const (
	prefExchange = "default_exchange"
	prefMarket   = "market_type"
)

// UserState is the subset of a user row ORCH needs before doing any work on
// that chat_id's behalf.
type UserState struct {
	Enabled bool
	Tier    database.Tier
}

// GetUserState returns enabled/tier for chatID. A disabled user must receive
// no outbound traffic from the core; callers check Enabled before doing any
// work.
func (s *Store) GetUserState(ctx context.Context, chatID int64) (UserState, error) {
	u, err := s.repo.GetUser(ctx, chatID)
	if err != nil {
		return UserState{}, err
	}
	if u == nil {
		return UserState{}, errs.New(errs.NotAllowed, fmt.Sprintf("unknown user %d", chatID))
	}
	return UserState{Enabled: u.Enabled, Tier: u.Tier}, nil
}

// GetPreferences returns the user's (default_exchange, market_type) pair,
// falling back to the given defaults for any unset key.
func (s *Store) GetPreferences(ctx context.Context, chatID int64, defaultExchange, defaultMarket string) (Preferences, error) {
	p := Preferences{DefaultExchange: defaultExchange, MarketType: defaultMarket}
	if v, ok, err := s.repo.GetPreference(ctx, chatID, prefExchange); err != nil {
		return p, err
	} else if ok {
		p.DefaultExchange = v
	}
	if v, ok, err := s.repo.GetPreference(ctx, chatID, prefMarket); err != nil {
		return p, err
	} else if ok {
		p.MarketType = v
	}
	return p, nil
}

// SetPreference upserts a single preference key.
func (s *Store) SetPreference(ctx context.Context, chatID int64, key, value string) error {
	return s.repo.SetPreference(ctx, chatID, key, value)
}

// --- subscriptions -----------------------------------------------------------

// MaxSubscriptionsPerTier caps how many (symbol, timeframe) pairs a user may
// subscribe to, enforced here so every caller gets the same LimitExceeded
// behavior regardless of entry point (chat command or admin tool).
var MaxSubscriptionsPerTier = map[database.Tier]int{
	database.TierFree:    5,
	database.TierPremium: 50,
	database.TierAdmin:   0, // unlimited
}

// Subscribe adds (chatID, symbol, timeframe) if the user is under their
// tier's cap. Idempotent: a second call for the same tuple leaves exactly
// one row and returns no error.
func (s *Store) Subscribe(ctx context.Context, chatID int64, tier database.Tier, symbol, timeframe string) error {
	if cap, ok := MaxSubscriptionsPerTier[tier]; ok && cap > 0 {
		n, err := s.repo.CountSubscriptions(ctx, chatID)
		if err != nil {
			return err
		}
		if n >= cap {
			return errs.New(errs.LimitExceeded, fmt.Sprintf("subscription limit reached (%d max for %s tier)", cap, tier))
		}
	}
	return s.repo.Subscribe(ctx, chatID, symbol, timeframe)
}

// Unsubscribe removes a subscription, if present.
func (s *Store) Unsubscribe(ctx context.Context, chatID int64, symbol, timeframe string) error {
	return s.repo.Unsubscribe(ctx, chatID, symbol, timeframe)
}

// ListSubscriptions returns chatID's subscriptions.
func (s *Store) ListSubscriptions(ctx context.Context, chatID int64) ([]database.Subscription, error) {
	return s.repo.ListSubscriptions(ctx, chatID)
}

// ListSubscribedUsers returns every chat_id with at least one subscription,
// the SignalCheck candidate set for a tick.
func (s *Store) ListSubscribedUsers(ctx context.Context) ([]int64, error) {
	return s.repo.ListUsersWithSubscriptions(ctx)
}

// --- alerts ------------------------------------------------------------------

// CreateAlert creates a new active alert.
func (s *Store) CreateAlert(ctx context.Context, chatID int64, symbol string, dir database.AlertDirection, target float64) (*database.Alert, error) {
	return s.repo.CreateAlert(ctx, chatID, symbol, dir, target)
}

// ListActiveAlerts returns every untriggered alert for the AlertCheck work
// item to scan.
func (s *Store) ListActiveAlerts(ctx context.Context) ([]database.Alert, error) {
	return s.repo.ListActiveAlerts(ctx)
}

// TryTriggerAlert performs the one-shot triggered=false->true flip. Callers
// must send the notification first and only call this on send success, per
// the send-first-then-mark-triggered ordering the orchestrator enforces.
func (s *Store) TryTriggerAlert(ctx context.Context, alertID int64) (bool, error) {
	return s.repo.TryTrigger(ctx, alertID)
}

// DeleteAlert removes an alert (user-initiated DELETED terminal state).
func (s *Store) DeleteAlert(ctx context.Context, alertID int64) error {
	return s.repo.DeleteAlert(ctx, alertID)
}

// --- screening schedules -------------------------------------------------------

// ValidIntervalMinutes enumerates the only interval_minutes values a
// ScreeningSchedule may take.
var ValidIntervalMinutes = map[int]bool{
	15: true, 30: true, 60: true, 120: true, 180: true,
	240: true, 360: true, 720: true, 1440: true,
}

// UpsertSchedule creates or updates the single (chatID, timeframe) schedule
// row. Returns NotAllowed if intervalMinutes is not one of the allowed
// values.
func (s *Store) UpsertSchedule(ctx context.Context, chatID int64, timeframe string, intervalMinutes int, minScore float64, enabled bool) error {
	if !ValidIntervalMinutes[intervalMinutes] {
		return errs.New(errs.NotAllowed, fmt.Sprintf("interval_minutes %d is not one of the allowed cadences", intervalMinutes))
	}
	return s.repo.UpsertSchedule(ctx, chatID, timeframe, intervalMinutes, minScore, enabled)
}

// ListEnabledSchedules returns every enabled schedule; the caller (ORCH)
// computes due-ness, including the active-hours interval doubling.
func (s *Store) ListEnabledSchedules(ctx context.Context) ([]database.ScreeningSchedule, error) {
	return s.repo.ListEnabledSchedules(ctx)
}

// MarkScheduleRun stamps last_run for scheduleID.
func (s *Store) MarkScheduleRun(ctx context.Context, scheduleID int64, at time.Time) error {
	return s.repo.MarkScheduleRun(ctx, scheduleID, at)
}

// --- signal memory -------------------------------------------------------------

// LastSignal returns the last notified signal kind for (chatID, symbol).
// Checks the in-process map first, falling back to the Redis-backed value
// (if configured) so a just-restarted process can still suppress a
// duplicate if the external store survived.
func (s *Store) LastSignal(ctx context.Context, chatID int64, symbol, timeframe string) SignalKind {
	key := memKey{chatID, symbol}

	s.memMu.Lock()
	if kind, ok := s.mem[key]; ok {
		s.memMu.Unlock()
		return kind
	}
	s.memMu.Unlock()

	if s.cache == nil {
		return SignalNone
	}
	val, err := s.cache.Get(ctx, cache.SignalMemoryKey(chatID, symbol, timeframe))
	if err != nil {
		return SignalNone
	}
	kind := SignalKind(val)

	s.memMu.Lock()
	s.mem[key] = kind
	s.memMu.Unlock()
	return kind
}

// SetLastSignal records kind as the last notified signal for (chatID,
// symbol), both in-process and (best-effort) in the backing cache.
func (s *Store) SetLastSignal(ctx context.Context, chatID int64, symbol, timeframe string, kind SignalKind) {
	key := memKey{chatID, symbol}

	s.memMu.Lock()
	s.mem[key] = kind
	s.memMu.Unlock()

	if s.cache != nil {
		_ = s.cache.Set(ctx, cache.SignalMemoryKey(chatID, symbol, timeframe), string(kind), cache.DefaultSignalMemoryTTL)
	}
}

// --- features / billing (peripheral, read-mostly passthrough) ---------------

// HasFeature reports whether chatID has feature enabled.
func (s *Store) HasFeature(ctx context.Context, chatID int64, feature string) (bool, error) {
	return s.repo.HasFeature(ctx, chatID, feature)
}
