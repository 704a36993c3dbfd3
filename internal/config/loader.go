package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies COINBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known COINBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Coinbase ──
	setStr(&cfg.Coinbase.RestHost, "COINBOT_COINBASE_REST_HOST")
	setStr(&cfg.Coinbase.WsHost, "COINBOT_COINBASE_WS_HOST")
	setStr(&cfg.Coinbase.ApiKey, "COINBOT_COINBASE_API_KEY")
	setStr(&cfg.Coinbase.ApiSecret, "COINBOT_COINBASE_API_SECRET")
	setStr(&cfg.Coinbase.EncryptedKeyPath, "COINBOT_COINBASE_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Coinbase.KeyPassword, "COINBOT_COINBASE_KEY_PASSWORD")

	// ── Risk ──
	setFloat64(&cfg.Risk.MaxPositionSize, "COINBOT_RISK_MAX_POSITION_SIZE")
	setFloat64(&cfg.Risk.StopLossPct, "COINBOT_RISK_STOP_LOSS_PCT")
	setFloat64(&cfg.Risk.MaxDailyLoss, "COINBOT_RISK_MAX_DAILY_LOSS")
	setInt(&cfg.Risk.MaxOpenOrders, "COINBOT_RISK_MAX_OPEN_ORDERS")
	setStr(&cfg.Risk.DailyReset, "COINBOT_RISK_DAILY_RESET")

	// ── Order ──
	setFloat64(&cfg.Order.DefaultSize, "COINBOT_ORDER_DEFAULT_SIZE")
	setDuration(&cfg.Order.MinTradeInterval, "COINBOT_ORDER_MIN_TRADE_INTERVAL")
	setFloat64(&cfg.Order.MaxSlippagePct, "COINBOT_ORDER_MAX_SLIPPAGE_PCT")

	// ── Retry ──
	setInt(&cfg.Retry.MaxAttempts, "COINBOT_RETRY_MAX_ATTEMPTS")
	setDuration(&cfg.Retry.InitialDelay, "COINBOT_RETRY_INITIAL_DELAY")
	setDuration(&cfg.Retry.MaxDelay, "COINBOT_RETRY_MAX_DELAY")
	setFloat64(&cfg.Retry.BackoffFactor, "COINBOT_RETRY_BACKOFF_FACTOR")

	// ── Strategy ──
	setInt(&cfg.Strategy.ShortWindow, "COINBOT_STRATEGY_SHORT_WINDOW")
	setInt(&cfg.Strategy.LongWindow, "COINBOT_STRATEGY_LONG_WINDOW")
	setInt(&cfg.Strategy.RSIWindow, "COINBOT_STRATEGY_RSI_WINDOW")
	setFloat64(&cfg.Strategy.RSIOversold, "COINBOT_STRATEGY_RSI_OVERSOLD")
	setFloat64(&cfg.Strategy.RSIOverbought, "COINBOT_STRATEGY_RSI_OVERBOUGHT")
	setStr(&cfg.Strategy.Combine, "COINBOT_STRATEGY_COMBINE")
	setDuration(&cfg.Strategy.EvalInterval, "COINBOT_STRATEGY_EVAL_INTERVAL")

	// ── Stream ──
	setDuration(&cfg.Stream.HeartbeatTimeout, "COINBOT_STREAM_HEARTBEAT_TIMEOUT")
	setDuration(&cfg.Stream.StartupTimeout, "COINBOT_STREAM_STARTUP_TIMEOUT")
	setInt(&cfg.Stream.HistorySize, "COINBOT_STREAM_HISTORY_SIZE")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "COINBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "COINBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "COINBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "COINBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "COINBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "COINBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "COINBOT_POSTGRES_SSLMODE")
	setStr(&cfg.Postgres.SSLMode, "COINBOT_POSTGRES_SSL_MODE") // compatibility alias
	setInt(&cfg.Postgres.PoolMaxConns, "COINBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "COINBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "COINBOT_POSTGRES_RUN_MIGRATIONS")
	setBool(&cfg.Postgres.Enabled, "COINBOT_POSTGRES_ENABLED")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "COINBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "COINBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "COINBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "COINBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "COINBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "COINBOT_REDIS_TLS_ENABLED")
	setBool(&cfg.Redis.Enabled, "COINBOT_REDIS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "COINBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "COINBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "COINBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "COINBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "COINBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "COINBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "COINBOT_S3_FORCE_PATH_STYLE")
	setBool(&cfg.S3.Enabled, "COINBOT_S3_ENABLED")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "COINBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "COINBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "COINBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "COINBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStringSlice(&cfg.TradingPairs, "COINBOT_TRADING_PAIRS")
	setBool(&cfg.PaperTrading, "COINBOT_PAPER_TRADING")
	setStr(&cfg.Mode, "COINBOT_MODE")
	setStr(&cfg.LogLevel, "COINBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
