// Package orchestrator is ORCH: the scheduler, the bounded worker pool, and
// the alert/signal/screening work handlers that tie every other component
// together. It owns the one logical timer and the per-(chat_id,symbol)
// serialization discipline the rest of the system relies on.
package orchestrator

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/kosheflow/signal-orchestrator/internal/candle"
	"github.com/kosheflow/signal-orchestrator/internal/database"
	"github.com/kosheflow/signal-orchestrator/internal/errs"
	"github.com/kosheflow/signal-orchestrator/internal/exchange/ratelimiter"
	"github.com/kosheflow/signal-orchestrator/internal/logging"
	"github.com/kosheflow/signal-orchestrator/internal/marketdata"
	"github.com/kosheflow/signal-orchestrator/internal/notification"
	"github.com/kosheflow/signal-orchestrator/internal/planprovider"
	"github.com/kosheflow/signal-orchestrator/internal/screener"
	"github.com/kosheflow/signal-orchestrator/internal/signaltracker"
	"github.com/kosheflow/signal-orchestrator/internal/store"
)

// Config tunes the scheduler and worker pool. Every field has a
// spec-documented default applied by DefaultConfig.
type Config struct {
	Workers             int
	QueueCap            int
	SignalCheckInterval time.Duration
	ActiveHoursStartUTC int // inclusive
	ActiveHoursEndUTC   int // exclusive
	DefaultExchange     candle.Exchange
	DefaultMarket       candle.MarketType
	ScreeningUniverse   []string
	MaxRetries          int
	RetryBaseDelay      time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Workers:             8,
		QueueCap:            500,
		SignalCheckInterval: 30 * time.Minute,
		ActiveHoursStartUTC: 8,
		ActiveHoursEndUTC:   16,
		DefaultExchange:     candle.ExchangeBinance,
		DefaultMarket:       candle.MarketSpot,
		MaxRetries:          3,
		RetryBaseDelay:      2 * time.Second,
	}
}

// Deps bundles every component ORCH drives. All fields are required except
// Screener/PlanProvider, which may be nil only if the corresponding work
// kinds are never scheduled.
type Deps struct {
	Store        *store.Store
	Tracker      *signaltracker.Tracker
	MDF          *marketdata.Fetcher
	Screener     *screener.Screener
	PlanProvider *planprovider.Provider
	Notifier     *notification.Manager
	LLMLimiter   *ratelimiter.Limiter
}

// Orchestrator is ORCH.
type Orchestrator struct {
	cfg  Config
	deps Deps

	q *queue

	lastSignalCheck time.Time

	keysMu sync.Mutex
	keys   map[chatSymbolKey]*sync.Mutex

	stopCh chan struct{}
	wg     sync.WaitGroup
	log    *logging.Logger
}

type chatSymbolKey struct {
	chatID int64
	symbol string
}

// New builds an Orchestrator. It does not start any goroutines until Start
// is called.
func New(cfg Config, deps Deps) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.QueueCap <= 0 {
		cfg.QueueCap = DefaultConfig().QueueCap
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultConfig().MaxRetries
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = DefaultConfig().RetryBaseDelay
	}
	if cfg.SignalCheckInterval <= 0 {
		cfg.SignalCheckInterval = DefaultConfig().SignalCheckInterval
	}
	return &Orchestrator{
		cfg:    cfg,
		deps:   deps,
		q:      newQueue(cfg.QueueCap),
		keys:   make(map[chatSymbolKey]*sync.Mutex),
		stopCh: make(chan struct{}),
		log:    logging.WithComponent("orchestrator"),
	}
}

// Start launches the worker pool and the tick loop. It returns immediately;
// call Stop for a graceful shutdown.
func (o *Orchestrator) Start(ctx context.Context) {
	for i := 0; i < o.cfg.Workers; i++ {
		o.wg.Add(1)
		go o.runWorker(ctx, i)
	}
	o.wg.Add(1)
	go o.runTicker(ctx)
}

// Stop closes the work queue and blocks until every worker and the ticker
// have exited.
func (o *Orchestrator) Stop() {
	close(o.stopCh)
	o.q.close()
	o.wg.Wait()
}

// runTicker is ORCH's single logical timer: once a minute it enqueues the
// due work for that tick.
func (o *Orchestrator) runTicker(ctx context.Context) {
	defer o.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stopCh:
			return
		case now := <-ticker.C:
			o.onTick(ctx, now.UTC())
		}
	}
}

func (o *Orchestrator) onTick(ctx context.Context, now time.Time) {
	if !o.q.enqueue(WorkItem{Kind: KindAlertCheck, EnqueuedAt: now}) {
		o.log.Warn("work queue full, dropped alert check tick")
	}

	if o.lastSignalCheck.IsZero() || now.Sub(o.lastSignalCheck) >= o.cfg.SignalCheckInterval {
		o.lastSignalCheck = now
		chatIDs, err := o.deps.Store.ListSubscribedUsers(ctx)
		if err != nil {
			o.log.Error("failed to list subscribed users for signal check", "error", err)
		} else {
			for _, chatID := range chatIDs {
				if !o.q.enqueue(WorkItem{Kind: KindSignalCheck, ChatID: chatID, EnqueuedAt: now}) {
					o.log.Warn("work queue full, dropped signal check", "chat_id", chatID)
					break
				}
			}
		}
	}

	schedules, err := o.deps.Store.ListEnabledSchedules(ctx)
	if err != nil {
		o.log.Error("failed to list screening schedules", "error", err)
		return
	}
	o.enqueueScheduledScreenings(ctx, schedules, now)
}

// scheduleGroupKey identifies the (exchange, market, timeframe, universe)
// tuple a due schedule resolves to. Schedules sharing a key are coalesced
// into one ScheduledScreening WorkItem so Screener.Run executes once per
// tuple instead of once per schedule, regardless of how many chats subscribe
// to it.
func scheduleGroupKey(ex candle.Exchange, market candle.MarketType, timeframe string, universe []string) string {
	return string(ex) + "|" + string(market) + "|" + timeframe + "|" + strings.Join(universe, ",")
}

// enqueueScheduledScreenings resolves every due schedule's exchange, market,
// and universe, groups schedules that land on the same tuple, and enqueues
// one WorkItem per group carrying every matching schedule as a
// ScreeningTarget.
func (o *Orchestrator) enqueueScheduledScreenings(ctx context.Context, schedules []database.ScreeningSchedule, now time.Time) {
	groups := make(map[string]*WorkItem)
	var order []string

	for _, sched := range schedules {
		interval := time.Duration(sched.IntervalMinutes) * time.Minute
		if !o.withinActiveHours(now) {
			interval *= 2
		}
		due := sched.LastRun == nil || now.Sub(*sched.LastRun) >= interval
		if !due {
			continue
		}

		state, err := o.deps.Store.GetUserState(ctx, sched.ChatID)
		if err != nil {
			o.log.Error("failed to load user state for scheduled screening", "chat_id", sched.ChatID, "error", err)
			continue
		}
		if !state.Enabled {
			continue
		}

		prefs, err := o.deps.Store.GetPreferences(ctx, sched.ChatID, string(o.cfg.DefaultExchange), string(o.cfg.DefaultMarket))
		if err != nil {
			o.log.Error("failed to load preferences for scheduled screening", "chat_id", sched.ChatID, "error", err)
			continue
		}
		ex := candle.Exchange(prefs.DefaultExchange)
		market := candle.MarketType(prefs.MarketType)

		universe := o.screeningUniverse(ctx, sched.ChatID)
		if len(universe) == 0 {
			continue
		}

		key := scheduleGroupKey(ex, market, sched.Timeframe, universe)
		g, ok := groups[key]
		if !ok {
			g = &WorkItem{
				Kind:       KindScheduledScreening,
				Timeframe:  sched.Timeframe,
				Exchange:   ex,
				Market:     market,
				Universe:   universe,
				EnqueuedAt: now,
			}
			groups[key] = g
			order = append(order, key)
		}
		g.Targets = append(g.Targets, ScreeningTarget{
			ChatID:     sched.ChatID,
			MinScore:   sched.MinScore,
			ScheduleID: sched.ID,
		})
	}

	for _, key := range order {
		item := *groups[key]
		if !o.q.enqueue(item) {
			o.log.Warn("work queue full, dropped scheduled screening group", "timeframe", item.Timeframe, "targets", len(item.Targets))
		}
	}
}

// EnqueueOnDemandScreening submits a single chat's screening request outside
// the regular tick, e.g. in response to a command. Unlike a ticked schedule
// it never coalesces with another chat's request, and it carries the larger
// on-demand top-K (autoPlanTopKOnDemand) through to any AutoPlan it spawns.
// It reports whether the request was accepted onto the work queue.
func (o *Orchestrator) EnqueueOnDemandScreening(ctx context.Context, chatID int64, timeframe string, minScore float64) bool {
	prefs, err := o.deps.Store.GetPreferences(ctx, chatID, string(o.cfg.DefaultExchange), string(o.cfg.DefaultMarket))
	if err != nil {
		o.log.Error("failed to load preferences for on-demand screening", "chat_id", chatID, "error", err)
		return false
	}
	universe := o.screeningUniverse(ctx, chatID)
	if len(universe) == 0 {
		o.log.Warn("on-demand screening has no universe to screen", "chat_id", chatID)
		return false
	}

	item := WorkItem{
		Kind:       KindScheduledScreening,
		Timeframe:  timeframe,
		Exchange:   candle.Exchange(prefs.DefaultExchange),
		Market:     candle.MarketType(prefs.MarketType),
		Universe:   universe,
		TopK:       autoPlanTopKOnDemand,
		Targets:    []ScreeningTarget{{ChatID: chatID, MinScore: minScore}},
		EnqueuedAt: time.Now().UTC(),
	}
	if !o.q.enqueue(item) {
		o.log.Warn("work queue full, dropped on-demand screening", "chat_id", chatID)
		return false
	}
	return true
}

// withinActiveHours reports whether now falls in [ActiveHoursStartUTC,
// ActiveHoursEndUTC) UTC, outside of which screening cadence is doubled to
// reduce LLM spend.
func (o *Orchestrator) withinActiveHours(now time.Time) bool {
	hour := now.UTC().Hour()
	return hour >= o.cfg.ActiveHoursStartUTC && hour < o.cfg.ActiveHoursEndUTC
}

// runWorker is one member of the bounded pool. Workers are immortal: a
// handler panic or error never propagates past this loop.
func (o *Orchestrator) runWorker(ctx context.Context, id int) {
	defer o.wg.Done()

	for {
		item, ok := o.q.dequeue(ctx)
		if !ok {
			return
		}
		o.execute(ctx, item)
	}
}

func (o *Orchestrator) execute(ctx context.Context, item WorkItem) {
	traceCtx, log := logging.WithTraceContext(ctx, item.Kind.String())
	log = log.WithField("chat_id", item.ChatID)

	defer func() {
		if r := recover(); r != nil {
			log.Error("work item panicked, worker continues", "panic", r)
		}
	}()

	itemCtx, cancel := context.WithTimeout(traceCtx, item.Kind.Deadline())
	defer cancel()

	var err error
	switch item.Kind {
	case KindAlertCheck:
		err = o.handleAlertCheck(itemCtx)
	case KindSignalCheck:
		err = o.handleSignalCheck(itemCtx, item)
	case KindScheduledScreening:
		err = o.handleScheduledScreening(itemCtx, item)
	case KindAutoPlan:
		err = o.handleAutoPlan(itemCtx, item)
	}

	if err != nil {
		log.Error("work item failed", "error", err)
	}
}

// chatSymbolLock returns the per-(chat_id, symbol) mutex that serializes
// SignalMemory transitions and the notification they guard.
func (o *Orchestrator) chatSymbolLock(chatID int64, symbol string) *sync.Mutex {
	key := chatSymbolKey{chatID, symbol}

	o.keysMu.Lock()
	defer o.keysMu.Unlock()
	l, ok := o.keys[key]
	if !ok {
		l = &sync.Mutex{}
		o.keys[key] = l
	}
	return l
}

// withExchangeRetry retries fn up to cfg.MaxRetries times with exponential
// backoff (base RetryBaseDelay) when it fails with a retryable error
// (TransientNetwork or RateLimited). SymbolUnknown and InsufficientData are
// returned immediately.
func (o *Orchestrator) withExchangeRetry(ctx context.Context, fn func() error) error {
	delay := o.cfg.RetryBaseDelay
	var lastErr error
	for attempt := 0; attempt <= o.cfg.MaxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !errs.Retryable(lastErr) {
			return lastErr
		}
		if attempt == o.cfg.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return lastErr
}
