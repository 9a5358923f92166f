// Package cache provides optional Redis-backed persistence for ORCH's
// SignalMemory and a price-lookup cache, built around a graceful-degradation
// circuit breaker: when Redis is unreachable, Get/Set return an error and
// callers fall back to their in-process state rather than blocking on a
// dead dependency.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kosheflow/signal-orchestrator/internal/errs"
	"github.com/kosheflow/signal-orchestrator/internal/logging"
)

// Config holds Redis connection parameters.
type Config struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	PoolSize int
}

const (
	// PrefixSignalMemory keys the last-known-signal-per-(chat,symbol,tf)
	// value ORCH's dedup logic reads before emitting a new notification.
	PrefixSignalMemory = "signalmem:%d:%s:%s"
	// PrefixPrice keys a short-lived last-seen price per (exchange, symbol).
	// Nothing in this module reads or writes it; AlertCheck takes its prices
	// from MDF.
	PrefixPrice = "price:%s:%s"

	DefaultSignalMemoryTTL = 30 * 24 * time.Hour
	DefaultPriceTTL        = 90 * time.Second
)

// Service wraps a redis.Client with a failure-counting circuit breaker, so
// a Redis outage degrades ORCH to in-process-only SignalMemory instead of
// stalling work items.
type Service struct {
	client *redis.Client

	mu           sync.RWMutex
	healthy      bool
	failureCount int
	lastCheck    time.Time

	maxFailures   int
	checkInterval time.Duration
}

// NewService connects to Redis per cfg. A failed initial ping does not
// return an error: the Service starts in degraded mode and callers treat
// every Get/Set failure as "use the in-process fallback".
func NewService(cfg Config) (*Service, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("redis cache is not enabled in configuration")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	s := &Service{
		client:        client,
		maxFailures:   3,
		checkInterval: 30 * time.Second,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	log := logging.WithComponent("cache")
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn("initial redis connection failed, starting in degraded mode", "error", err)
		return s, nil
	}

	s.healthy = true
	s.lastCheck = time.Now()
	log.Info("redis cache connected", "address", cfg.Address)
	return s, nil
}

// IsHealthy reports whether Redis calls are currently being attempted.
func (s *Service) IsHealthy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.healthy
}

func (s *Service) recordFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failureCount++
	if s.failureCount >= s.maxFailures {
		s.healthy = false
	}
}

func (s *Service) recordSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthy = true
	s.failureCount = 0
	s.lastCheck = time.Now()
}

func (s *Service) maybeRecover(ctx context.Context) {
	s.mu.RLock()
	due := !s.healthy && time.Since(s.lastCheck) >= s.checkInterval
	s.mu.RUnlock()
	if !due {
		return
	}
	go func() {
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.client.Ping(pingCtx).Err(); err == nil {
			s.recordSuccess()
		}
	}()
}

// Get returns the raw string stored at key. A miss returns redis.Nil itself,
// unwrapped, while an unreachable or failing Redis returns an
// errs.DatabaseError, so callers can tell "not found" from "redis
// unreachable" by checking errors.Is(err, redis.Nil) before falling back.
func (s *Service) Get(ctx context.Context, key string) (string, error) {
	s.maybeRecover(ctx)
	if !s.IsHealthy() {
		return "", errs.New(errs.DatabaseError, "redis unavailable")
	}
	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", redis.Nil
	}
	if err != nil {
		s.recordFailure()
		return "", errs.Wrap(errs.DatabaseError, "redis get", err)
	}
	s.recordSuccess()
	return val, nil
}

// Set stores value (JSON-marshaled unless already a string) at key with ttl.
func (s *Service) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	s.maybeRecover(ctx)
	if !s.IsHealthy() {
		return errs.New(errs.DatabaseError, "redis unavailable")
	}

	var payload string
	switch v := value.(type) {
	case string:
		payload = v
	default:
		b, err := json.Marshal(value)
		if err != nil {
			return errs.Wrap(errs.DatabaseError, "marshal cache value", err)
		}
		payload = string(b)
	}

	if err := s.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		s.recordFailure()
		return errs.Wrap(errs.DatabaseError, "redis set", err)
	}
	s.recordSuccess()
	return nil
}

// Del removes key.
func (s *Service) Del(ctx context.Context, key string) error {
	s.maybeRecover(ctx)
	if !s.IsHealthy() {
		return errs.New(errs.DatabaseError, "redis unavailable")
	}
	if err := s.client.Del(ctx, key).Err(); err != nil {
		s.recordFailure()
		return errs.Wrap(errs.DatabaseError, "redis del", err)
	}
	s.recordSuccess()
	return nil
}

// Close releases the underlying connection pool.
func (s *Service) Close() error {
	return s.client.Close()
}

// SignalMemoryKey builds the Redis key for a (chatID, symbol, timeframe)
// last-signal entry.
func SignalMemoryKey(chatID int64, symbol, timeframe string) string {
	return fmt.Sprintf(PrefixSignalMemory, chatID, symbol, timeframe)
}

// PriceKey builds the Redis key for a (exchange, symbol) last-seen price.
func PriceKey(exchange, symbol string) string {
	return fmt.Sprintf(PrefixPrice, exchange, symbol)
}
