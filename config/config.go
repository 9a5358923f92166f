package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the full process configuration: a base file (config.json, if
// present) overlaid with environment variables, which always win.
type Config struct {
	Exchange       ExchangeConfig       `json:"exchange"`
	LLM            LLMConfig            `json:"llm"`
	Screener       ScreenerConfig       `json:"screener"`
	Orchestrator   OrchestratorConfig   `json:"orchestrator"`
	Notification   NotificationConfig   `json:"notification"`
	Database       DatabaseConfig       `json:"database"`
	Redis          RedisConfig          `json:"redis"`
	Logging        LoggingConfig        `json:"logging"`
	CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker"`
}

// ExchangeConfig holds per-venue credentials. Public market-data endpoints
// never need a key; these are read only for venues that require one for
// higher rate limits.
type ExchangeConfig struct {
	BinanceAPIKey       string `json:"-"`
	BinanceSecretKey    string `json:"-"`
	BinanceFuturesKey   string `json:"-"`
	BinanceFuturesSecret string `json:"-"`
	BybitAPIKey         string `json:"-"`
	BybitSecretKey      string `json:"-"`
	CacheDir            string `json:"cache_dir"`
	DefaultExchange     string `json:"default_exchange"` // "binance" or "bybit"
	DefaultMarketType   string `json:"default_market_type"`
}

// LLMConfig selects and authenticates the plan-generation/screening
// provider. Exactly one provider is active per process.
type LLMConfig struct {
	Provider string `json:"provider"` // "claude", "openai", or "deepseek"
	APIKey   string `json:"-"`
	Model    string `json:"model"`
}

// ScreenerConfig tunes SC's two-stage pipeline.
type ScreenerConfig struct {
	LocalScoreGate int           `json:"local_score_gate"`
	BatchSize      int           `json:"batch_size"`
	BatchDelay     time.Duration `json:"batch_delay"`
	MaxResults     int           `json:"max_results"`
}

// OrchestratorConfig tunes ORCH's scheduler and worker pool.
type OrchestratorConfig struct {
	Workers             int           `json:"workers"`
	QueueCap            int           `json:"queue_cap"`
	SignalCheckInterval time.Duration `json:"signal_check_interval"`
	ActiveHoursStartUTC int           `json:"active_hours_start_utc"`
	ActiveHoursEndUTC   int           `json:"active_hours_end_utc"`
	MaxRetries          int           `json:"max_retries"`
	RetryBaseDelay      time.Duration `json:"retry_base_delay"`
	ScreeningUniverse   []string      `json:"screening_universe"`
}

// NotificationConfig fans out to every configured channel.
type NotificationConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
}

// TelegramConfig holds the bot token only; chat_id is per-message, not
// baked in, since this is a multi-tenant bot.
type TelegramConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"-"`
}

type DiscordConfig struct {
	Enabled    bool   `json:"enabled"`
	WebhookURL string `json:"-"`
}

// DatabaseConfig holds pool settings loaded from the file and the DATABASE_*
// variables. main does not read it: the pgx pool is built from the DB_*
// variables instead.
type DatabaseConfig struct {
	DSN             string        `json:"-"`
	MaxConns        int32         `json:"max_conns"`
	MinConns        int32         `json:"min_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
}

// RedisConfig configures the optional cross-restart cache.
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"-"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// LoggingConfig controls the structured logger's sink and format.
type LoggingConfig struct {
	Level       string `json:"level"` // DEBUG, INFO, WARN, ERROR
	Output      string `json:"output"`
	JSONFormat  bool   `json:"json_format"`
	IncludeFile bool   `json:"include_file"`
}

// CircuitBreakerConfig holds breaker settings loaded from the file and the
// CIRCUIT_* variables. MDF does not read it: its per-exchange breakers use
// circuit.DefaultConfig().
type CircuitBreakerConfig struct {
	FailureThreshold int           `json:"failure_threshold"`
	CooldownPeriod   time.Duration `json:"cooldown_period"`
	HalfOpenMaxCalls int           `json:"half_open_max_calls"`
}

// Load builds the process config from config.json (if present) overlaid
// with environment variables, which always take precedence.
func Load() (*Config, error) {
	cfg, err := loadFromFile("config.json")
	if err != nil {
		cfg = &Config{}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides reads the environment variables the core reads
// directly, plus tuning knobs for the ambient stack. Secrets are only ever
// read from the environment, never persisted to the config file.
func applyEnvOverrides(cfg *Config) {
	cfg.Exchange.BinanceAPIKey = getEnvOrDefault("BINANCE_API_KEY", cfg.Exchange.BinanceAPIKey)
	cfg.Exchange.BinanceSecretKey = getEnvOrDefault("BINANCE_SECRET_KEY", cfg.Exchange.BinanceSecretKey)
	cfg.Exchange.BinanceFuturesKey = getEnvOrDefault("BINANCE_FUTURES_API_KEY", cfg.Exchange.BinanceFuturesKey)
	cfg.Exchange.BinanceFuturesSecret = getEnvOrDefault("BINANCE_FUTURES_SECRET_KEY", cfg.Exchange.BinanceFuturesSecret)
	cfg.Exchange.BybitAPIKey = getEnvOrDefault("BYBIT_API_KEY", cfg.Exchange.BybitAPIKey)
	cfg.Exchange.BybitSecretKey = getEnvOrDefault("BYBIT_SECRET_KEY", cfg.Exchange.BybitSecretKey)
	cfg.Exchange.CacheDir = getEnvOrDefault("CACHE_DIR", firstNonEmpty(cfg.Exchange.CacheDir, "./data/cache"))
	cfg.Exchange.DefaultExchange = getEnvOrDefault("DEFAULT_EXCHANGE", firstNonEmpty(cfg.Exchange.DefaultExchange, "binance"))
	cfg.Exchange.DefaultMarketType = getEnvOrDefault("DEFAULT_MARKET_TYPE", firstNonEmpty(cfg.Exchange.DefaultMarketType, "spot"))

	cfg.LLM.Provider = getEnvOrDefault("LLM_PROVIDER", firstNonEmpty(cfg.LLM.Provider, "deepseek"))
	cfg.LLM.Model = getEnvOrDefault("LLM_MODEL", firstNonEmpty(cfg.LLM.Model, "deepseek-chat"))
	switch cfg.LLM.Provider {
	case "claude":
		cfg.LLM.APIKey = getEnvOrDefault("CLAUDE_API_KEY", cfg.LLM.APIKey)
	case "openai":
		cfg.LLM.APIKey = getEnvOrDefault("OPENAI_API_KEY", cfg.LLM.APIKey)
	default:
		cfg.LLM.APIKey = getEnvOrDefault("DEEPSEEK_API_KEY", cfg.LLM.APIKey)
	}

	cfg.Screener.LocalScoreGate = getEnvIntOrDefault("SCREENER_LOCAL_SCORE_GATE", orDefaultInt(cfg.Screener.LocalScoreGate, 60))
	cfg.Screener.BatchSize = getEnvIntOrDefault("SCREENER_BATCH_SIZE", orDefaultInt(cfg.Screener.BatchSize, 10))
	cfg.Screener.BatchDelay = getEnvDurationOrDefault("SCREENER_BATCH_DELAY", orDefaultDuration(cfg.Screener.BatchDelay, time.Second))
	cfg.Screener.MaxResults = getEnvIntOrDefault("SCREENER_MAX_RESULTS", orDefaultInt(cfg.Screener.MaxResults, 20))

	cfg.Orchestrator.Workers = getEnvIntOrDefault("ORCHESTRATOR_WORKERS", orDefaultInt(cfg.Orchestrator.Workers, 8))
	cfg.Orchestrator.QueueCap = getEnvIntOrDefault("ORCHESTRATOR_QUEUE_CAP", orDefaultInt(cfg.Orchestrator.QueueCap, 500))
	cfg.Orchestrator.SignalCheckInterval = getEnvDurationOrDefault("TELEGRAM_SIGNAL_CHECK_INTERVAL_MIN", orDefaultDuration(cfg.Orchestrator.SignalCheckInterval, 30*time.Minute))
	cfg.Orchestrator.ActiveHoursStartUTC = getEnvIntOrDefault("ACTIVE_HOURS_START_UTC", orDefaultInt(cfg.Orchestrator.ActiveHoursStartUTC, 8))
	cfg.Orchestrator.ActiveHoursEndUTC = getEnvIntOrDefault("ACTIVE_HOURS_END_UTC", orDefaultInt(cfg.Orchestrator.ActiveHoursEndUTC, 16))
	cfg.Orchestrator.MaxRetries = getEnvIntOrDefault("ORCHESTRATOR_MAX_RETRIES", orDefaultInt(cfg.Orchestrator.MaxRetries, 3))
	cfg.Orchestrator.RetryBaseDelay = getEnvDurationOrDefault("ORCHESTRATOR_RETRY_BASE_DELAY", orDefaultDuration(cfg.Orchestrator.RetryBaseDelay, 2*time.Second))

	cfg.Notification.Telegram.BotToken = getEnvOrDefault("TELEGRAM_BOT_TOKEN", cfg.Notification.Telegram.BotToken)
	cfg.Notification.Telegram.Enabled = cfg.Notification.Telegram.BotToken != ""
	cfg.Notification.Discord.WebhookURL = getEnvOrDefault("DISCORD_WEBHOOK_URL", cfg.Notification.Discord.WebhookURL)
	cfg.Notification.Discord.Enabled = cfg.Notification.Discord.WebhookURL != ""

	cfg.Database.DSN = getEnvOrDefault("DATABASE_URL", cfg.Database.DSN)
	cfg.Database.MaxConns = int32(getEnvIntOrDefault("DATABASE_MAX_CONNS", orDefaultInt(int(cfg.Database.MaxConns), 10)))
	cfg.Database.MinConns = int32(getEnvIntOrDefault("DATABASE_MIN_CONNS", orDefaultInt(int(cfg.Database.MinConns), 2)))
	cfg.Database.ConnMaxLifetime = getEnvDurationOrDefault("DATABASE_CONN_MAX_LIFETIME", orDefaultDuration(cfg.Database.ConnMaxLifetime, time.Hour))

	cfg.Redis.Enabled = getEnvOrDefault("REDIS_ENABLED", strconv.FormatBool(cfg.Redis.Enabled)) == "true"
	cfg.Redis.Address = getEnvOrDefault("REDIS_ADDRESS", firstNonEmpty(cfg.Redis.Address, "localhost:6379"))
	cfg.Redis.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvIntOrDefault("REDIS_DB", cfg.Redis.DB)
	cfg.Redis.PoolSize = getEnvIntOrDefault("REDIS_POOL_SIZE", orDefaultInt(cfg.Redis.PoolSize, 10))

	cfg.Logging.Level = getEnvOrDefault("LOG_LEVEL", firstNonEmpty(cfg.Logging.Level, "INFO"))
	cfg.Logging.Output = getEnvOrDefault("LOG_OUTPUT", firstNonEmpty(cfg.Logging.Output, "stdout"))
	cfg.Logging.JSONFormat = getEnvOrDefault("LOG_JSON", "true") == "true"
	cfg.Logging.IncludeFile = getEnvOrDefault("LOG_INCLUDE_FILE", strconv.FormatBool(cfg.Logging.IncludeFile)) == "true"

	cfg.CircuitBreaker.FailureThreshold = getEnvIntOrDefault("CIRCUIT_FAILURE_THRESHOLD", orDefaultInt(cfg.CircuitBreaker.FailureThreshold, 5))
	cfg.CircuitBreaker.CooldownPeriod = getEnvDurationOrDefault("CIRCUIT_COOLDOWN_PERIOD", orDefaultDuration(cfg.CircuitBreaker.CooldownPeriod, time.Minute))
	cfg.CircuitBreaker.HalfOpenMaxCalls = getEnvIntOrDefault("CIRCUIT_HALF_OPEN_MAX_CALLS", orDefaultInt(cfg.CircuitBreaker.HalfOpenMaxCalls, 1))
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(file, &cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	return &cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		// TELEGRAM_SIGNAL_CHECK_INTERVAL_MIN and similar are documented in
		// minutes, not Go duration strings, so try a bare integer first.
		if minutes, err := strconv.Atoi(value); err == nil {
			return time.Duration(minutes) * time.Minute
		}
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func firstNonEmpty(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}

func orDefaultInt(value, fallback int) int {
	if value != 0 {
		return value
	}
	return fallback
}

func orDefaultDuration(value, fallback time.Duration) time.Duration {
	if value != 0 {
		return value
	}
	return fallback
}

// GenerateSampleConfig writes a sample configuration file with non-secret
// defaults; credentials are always sourced from the environment.
func GenerateSampleConfig(filename string) error {
	cfg := Config{
		Exchange: ExchangeConfig{
			CacheDir:          "./data/cache",
			DefaultExchange:   "binance",
			DefaultMarketType: "spot",
		},
		LLM: LLMConfig{
			Provider: "deepseek",
			Model:    "deepseek-chat",
		},
		Screener: ScreenerConfig{
			LocalScoreGate: 60,
			BatchSize:      10,
			BatchDelay:     time.Second,
			MaxResults:     20,
		},
		Orchestrator: OrchestratorConfig{
			Workers:             8,
			QueueCap:            500,
			SignalCheckInterval: 30 * time.Minute,
			ActiveHoursStartUTC: 8,
			ActiveHoursEndUTC:   16,
			MaxRetries:          3,
			RetryBaseDelay:      2 * time.Second,
		},
		Notification: NotificationConfig{
			Telegram: TelegramConfig{Enabled: false},
			Discord:  DiscordConfig{Enabled: false},
		},
		Database: DatabaseConfig{
			MaxConns:        10,
			MinConns:        2,
			ConnMaxLifetime: time.Hour,
		},
		Redis: RedisConfig{
			Enabled:  false,
			Address:  "localhost:6379",
			PoolSize: 10,
		},
		Logging: LoggingConfig{
			Level:      "INFO",
			Output:     "stdout",
			JSONFormat: true,
		},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: 5,
			CooldownPeriod:   time.Minute,
			HalfOpenMaxCalls: 1,
		},
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}
