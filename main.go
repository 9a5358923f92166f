// Command signal-orchestrator runs ORCH: it wires the market data fetcher,
// indicator engine, plan provider, screener, signal tracker, subscription
// store, and notification fan-out into one process and starts the
// scheduler and bounded worker pool described in SPEC_FULL.md.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/kosheflow/signal-orchestrator/config"
	"github.com/kosheflow/signal-orchestrator/internal/cache"
	"github.com/kosheflow/signal-orchestrator/internal/candle"
	"github.com/kosheflow/signal-orchestrator/internal/database"
	"github.com/kosheflow/signal-orchestrator/internal/exchange"
	"github.com/kosheflow/signal-orchestrator/internal/exchange/binance"
	"github.com/kosheflow/signal-orchestrator/internal/exchange/bybit"
	"github.com/kosheflow/signal-orchestrator/internal/exchange/ratelimiter"
	"github.com/kosheflow/signal-orchestrator/internal/llm"
	"github.com/kosheflow/signal-orchestrator/internal/logging"
	"github.com/kosheflow/signal-orchestrator/internal/marketdata"
	"github.com/kosheflow/signal-orchestrator/internal/notification"
	"github.com/kosheflow/signal-orchestrator/internal/orchestrator"
	"github.com/kosheflow/signal-orchestrator/internal/planprovider"
	"github.com/kosheflow/signal-orchestrator/internal/screener"
	"github.com/kosheflow/signal-orchestrator/internal/signaltracker"
	"github.com/kosheflow/signal-orchestrator/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := logging.New(&logging.Config{
		Level:       cfg.Logging.Level,
		Output:      cfg.Logging.Output,
		JSONFormat:  cfg.Logging.JSONFormat,
		IncludeFile: cfg.Logging.IncludeFile,
		Component:   "main",
	})
	logging.SetDefault(logger)
	logger.Info("structured logging initialized")

	if cfg.Notification.Telegram.BotToken == "" {
		log.Fatalf("fatal init failure: TELEGRAM_BOT_TOKEN is required")
	}

	dbConfig := database.Config{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnvInt("DB_PORT", 5432),
		User:     getEnv("DB_USER", "signal_orchestrator"),
		Password: getEnv("DB_PASSWORD", "signal_orchestrator"),
		Database: getEnv("DB_NAME", "signal_orchestrator"),
		SSLMode:  getEnv("DB_SSLMODE", "disable"),
	}
	db, err := database.NewDB(dbConfig)
	if err != nil {
		log.Fatalf("fatal init failure: unreachable database: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	if err := db.RunMigrations(migrateCtx); err != nil {
		cancel()
		log.Fatalf("fatal init failure: migrations: %v", err)
	}
	cancel()

	repo := database.NewRepository(db)

	var cacheSvc *cache.Service
	if cfg.Redis.Enabled {
		cacheSvc, err = cache.NewService(cache.Config{
			Enabled:  cfg.Redis.Enabled,
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err != nil {
			logger.Warn("redis cache unavailable, SignalMemory will be in-process only", "error", err)
			cacheSvc = nil
		} else {
			logger.Info("redis-backed SignalMemory cache enabled", "address", cfg.Redis.Address)
		}
	}

	ss := store.New(repo, cacheSvc)
	tracker := signaltracker.New(repo)

	clients := map[candle.Exchange]exchange.Client{
		candle.ExchangeBinance: binance.NewClient("", ""),
		candle.ExchangeBybit:   bybit.NewClient(""),
	}
	mdf := marketdata.New(clients, cfg.Exchange.CacheDir)
	logger.Info("market data fetcher initialized", "cache_dir", cfg.Exchange.CacheDir)

	llmLimiter := ratelimiter.NewLLMLimiter()

	var llmClient *llm.Client
	var planProvider *planprovider.Provider
	var scr *screener.Screener
	if cfg.LLM.APIKey != "" {
		llmCfg := llm.DefaultConfig()
		llmCfg.Provider = llm.Provider(cfg.LLM.Provider)
		llmCfg.Model = cfg.LLM.Model
		llmCfg.APIKey = cfg.LLM.APIKey
		llmClient = llm.NewClient(llmCfg)

		planProvider = planprovider.New(llmClient, mdf, llmLimiter)
		scr = screener.New(mdf, llmClient, llmLimiter, screener.Config{
			LocalScoreGate: float64(cfg.Screener.LocalScoreGate),
			BatchSize:      cfg.Screener.BatchSize,
			BatchDelay:     cfg.Screener.BatchDelay,
			MaxResults:     cfg.Screener.MaxResults,
		})
		logger.Info("plan provider and screener initialized", "llm_provider", cfg.LLM.Provider, "model", cfg.LLM.Model)
	} else {
		logger.Warn("no LLM API key configured: plan generation and LLM quick-score are disabled")
	}

	notifier := notification.NewManager()
	notifier.Add(notification.NewTelegramNotifier(notification.TelegramConfig{
		BotToken: cfg.Notification.Telegram.BotToken,
		Enabled:  cfg.Notification.Telegram.Enabled,
	}))
	if cfg.Notification.Discord.Enabled {
		notifier.Add(notification.NewDiscordNotifier(notification.DiscordConfig{
			WebhookURL: cfg.Notification.Discord.WebhookURL,
			Enabled:    cfg.Notification.Discord.Enabled,
		}))
		logger.Info("discord notifications enabled")
	}

	orchCfg := orchestrator.DefaultConfig()
	orchCfg.Workers = cfg.Orchestrator.Workers
	orchCfg.QueueCap = cfg.Orchestrator.QueueCap
	orchCfg.SignalCheckInterval = cfg.Orchestrator.SignalCheckInterval
	orchCfg.ActiveHoursStartUTC = cfg.Orchestrator.ActiveHoursStartUTC
	orchCfg.ActiveHoursEndUTC = cfg.Orchestrator.ActiveHoursEndUTC
	orchCfg.MaxRetries = cfg.Orchestrator.MaxRetries
	orchCfg.RetryBaseDelay = cfg.Orchestrator.RetryBaseDelay
	orchCfg.ScreeningUniverse = cfg.Orchestrator.ScreeningUniverse
	if exch := candle.Exchange(cfg.Exchange.DefaultExchange); exch != "" {
		orchCfg.DefaultExchange = exch
	}
	if market := candle.MarketType(cfg.Exchange.DefaultMarketType); market != "" {
		orchCfg.DefaultMarket = market
	}

	orch := orchestrator.New(orchCfg, orchestrator.Deps{
		Store:        ss,
		Tracker:      tracker,
		MDF:          mdf,
		Screener:     scr,
		PlanProvider: planProvider,
		Notifier:     notifier,
		LLMLimiter:   llmLimiter,
	})

	orch.Start(ctx)
	logger.Info("orchestrator started", "workers", orchCfg.Workers, "queue_cap", orchCfg.QueueCap)

	<-ctx.Done()
	logger.Info("shutdown signal received, draining worker pool")

	orch.Stop()
	logger.Info("shutdown complete")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
