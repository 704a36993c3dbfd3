// Package config defines the top-level configuration for the trading engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// duration wraps time.Duration so TOML values like "30s" decode directly.
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by COINBOT_* environment variables.
type Config struct {
	TradingPairs []string       `toml:"trading_pairs"`
	Risk         RiskConfig     `toml:"risk_management"`
	Order        OrderConfig    `toml:"order_settings"`
	Retry        RetryConfig    `toml:"retry_settings"`
	Strategy     StrategyConfig `toml:"strategy_config"`
	Stream       StreamConfig   `toml:"stream"`
	Coinbase     CoinbaseConfig `toml:"coinbase"`
	Postgres     PostgresConfig `toml:"postgres"`
	Redis        RedisConfig    `toml:"redis"`
	S3           S3Config       `toml:"s3"`
	Notify       NotifyConfig   `toml:"notify"`
	PaperTrading bool           `toml:"paper_trading"`
	Mode         string         `toml:"mode"`
	LogLevel     string         `toml:"log_level"`
}

// RiskConfig holds the limits enforced by the risk policy gate.
type RiskConfig struct {
	MaxPositionSize float64 `toml:"max_position_size"`
	StopLossPct     float64 `toml:"stop_loss_pct"`
	MaxDailyLoss    float64 `toml:"max_daily_loss"`
	MaxOpenOrders   int     `toml:"max_open_orders"`
	// DailyReset selects the loss-window boundary: "utc_midnight" resets at
	// 00:00 UTC, "rolling_24h" resets 24h after the previous reset.
	DailyReset string `toml:"daily_reset"`
}

// OrderConfig holds order sizing parameters.
type OrderConfig struct {
	DefaultSize      float64  `toml:"default_size"`
	MinTradeInterval duration `toml:"min_trade_interval"`
	MaxSlippagePct   float64  `toml:"max_slippage_pct"`
}

// RetryConfig holds the bounded-exponential backoff parameters shared by the
// order executor and the stream manager's reconnect loop.
type RetryConfig struct {
	MaxAttempts   int      `toml:"max_attempts"`
	InitialDelay  duration `toml:"initial_delay"`
	MaxDelay      duration `toml:"max_delay"`
	BackoffFactor float64  `toml:"backoff_factor"`
}

// StrategyConfig holds indicator windows and thresholds.
type StrategyConfig struct {
	ShortWindow   int     `toml:"short_window"`
	LongWindow    int     `toml:"long_window"`
	RSIWindow     int     `toml:"rsi_window"`
	RSIOversold   float64 `toml:"rsi_oversold"`
	RSIOverbought float64 `toml:"rsi_overbought"`
	// Combine selects how the MA and RSI signals are merged: "agree"
	// (both non-hold and same direction) or "either" (first non-hold wins).
	Combine string `toml:"combine"`
	// EvalInterval is the cadence of the per-pair evaluation loop.
	EvalInterval duration `toml:"eval_interval"`
}

// StreamConfig holds market-data stream tunables.
type StreamConfig struct {
	HeartbeatTimeout duration `toml:"heartbeat_timeout"`
	StartupTimeout   duration `toml:"startup_timeout"`
	HistorySize      int      `toml:"history_size"`
}

// CoinbaseConfig holds exchange API endpoints and credentials.
type CoinbaseConfig struct {
	RestHost         string `toml:"rest_host"`
	WsHost           string `toml:"ws_host"`
	ApiKey           string `toml:"api_key"`
	ApiSecret        string `toml:"api_secret"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
	Enabled       bool   `toml:"enabled"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	Enabled    bool   `toml:"enabled"`
}

// S3Config holds S3-compatible object storage parameters for the daily
// journal archiver.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	Enabled        bool   `toml:"enabled"`
}

// NotifyConfig holds notification channel settings.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config pre-populated with safe defaults. Load merges the
// TOML file on top of this.
func Defaults() Config {
	return Config{
		TradingPairs: nil,
		Risk: RiskConfig{
			MaxPositionSize: 5.0,
			StopLossPct:     0.05,
			MaxDailyLoss:    500.0,
			MaxOpenOrders:   5,
			DailyReset:      "utc_midnight",
		},
		Order: OrderConfig{
			DefaultSize:      0.1,
			MinTradeInterval: duration{60 * time.Second},
			MaxSlippagePct:   0.01,
		},
		Retry: RetryConfig{
			MaxAttempts:   3,
			InitialDelay:  duration{time.Second},
			MaxDelay:      duration{30 * time.Second},
			BackoffFactor: 2.0,
		},
		Strategy: StrategyConfig{
			ShortWindow:   5,
			LongWindow:    20,
			RSIWindow:     14,
			RSIOversold:   30,
			RSIOverbought: 70,
			Combine:       "agree",
			EvalInterval:  duration{5 * time.Second},
		},
		Stream: StreamConfig{
			HeartbeatTimeout: duration{30 * time.Second},
			StartupTimeout:   duration{10 * time.Second},
			HistorySize:      200,
		},
		Coinbase: CoinbaseConfig{
			RestHost: "https://api.coinbase.com",
			WsHost:   "wss://advanced-trade-ws.coinbase.com",
		},
		Postgres: PostgresConfig{
			Port:         5432,
			SSLMode:      "disable",
			PoolMaxConns: 4,
			PoolMinConns: 0,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 8,
		},
		PaperTrading: true,
		Mode:         "trade",
		LogLevel:     "info",
	}
}

var validModes = map[string]bool{
	"trade":   true,
	"monitor": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validDailyResets = map[string]bool{
	"utc_midnight": true,
	"rolling_24h":  true,
}

var validCombines = map[string]bool{
	"agree":  true,
	"either": true,
}

// Validate checks every field the engine depends on and returns a combined
// error listing all problems, so operators fix a broken config in one pass.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, monitor)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if len(c.TradingPairs) == 0 {
		errs = append(errs, "trading_pairs must not be empty")
	}
	for _, p := range c.TradingPairs {
		if !strings.Contains(p, "-") {
			errs = append(errs, fmt.Sprintf("trading pair %q must be base-quote (e.g. BTC-USD)", p))
		}
	}

	// Risk limits.
	if c.Risk.MaxPositionSize <= 0 {
		errs = append(errs, "risk_management: max_position_size must be > 0")
	}
	if c.Risk.StopLossPct <= 0 || c.Risk.StopLossPct >= 1 {
		errs = append(errs, fmt.Sprintf("risk_management: stop_loss_pct must be in (0, 1), got %v", c.Risk.StopLossPct))
	}
	if c.Risk.MaxDailyLoss <= 0 {
		errs = append(errs, "risk_management: max_daily_loss must be > 0")
	}
	if c.Risk.MaxOpenOrders < 1 {
		errs = append(errs, "risk_management: max_open_orders must be >= 1")
	}
	if !validDailyResets[c.Risk.DailyReset] {
		errs = append(errs, fmt.Sprintf("risk_management: unknown daily_reset %q (valid: utc_midnight, rolling_24h)", c.Risk.DailyReset))
	}

	// Order sizing.
	if c.Order.DefaultSize <= 0 {
		errs = append(errs, "order_settings: default_size must be > 0")
	}
	if c.Order.MinTradeInterval.Duration < 0 {
		errs = append(errs, "order_settings: min_trade_interval must not be negative")
	}
	if c.Order.MaxSlippagePct < 0 {
		errs = append(errs, "order_settings: max_slippage_pct must not be negative")
	}

	// Retry policy.
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, "retry_settings: max_attempts must be >= 1")
	}
	if c.Retry.InitialDelay.Duration <= 0 {
		errs = append(errs, "retry_settings: initial_delay must be > 0")
	}
	if c.Retry.MaxDelay.Duration < c.Retry.InitialDelay.Duration {
		errs = append(errs, "retry_settings: max_delay must be >= initial_delay")
	}
	if c.Retry.BackoffFactor < 1 {
		errs = append(errs, "retry_settings: backoff_factor must be >= 1")
	}

	// Strategy windows.
	if c.Strategy.ShortWindow < 1 {
		errs = append(errs, "strategy_config: short_window must be >= 1")
	}
	if c.Strategy.LongWindow <= c.Strategy.ShortWindow {
		errs = append(errs, fmt.Sprintf("strategy_config: long_window (%d) must exceed short_window (%d)",
			c.Strategy.LongWindow, c.Strategy.ShortWindow))
	}
	if c.Strategy.RSIWindow < 2 {
		errs = append(errs, "strategy_config: rsi_window must be >= 2")
	}
	if c.Strategy.RSIOversold >= c.Strategy.RSIOverbought {
		errs = append(errs, fmt.Sprintf("strategy_config: rsi_oversold (%v) must be below rsi_overbought (%v)",
			c.Strategy.RSIOversold, c.Strategy.RSIOverbought))
	}
	if c.Strategy.RSIOversold < 0 || c.Strategy.RSIOverbought > 100 {
		errs = append(errs, "strategy_config: rsi thresholds must be within [0, 100]")
	}
	if !validCombines[c.Strategy.Combine] {
		errs = append(errs, fmt.Sprintf("strategy_config: unknown combine %q (valid: agree, either)", c.Strategy.Combine))
	}
	if c.Strategy.EvalInterval.Duration <= 0 {
		errs = append(errs, "strategy_config: eval_interval must be > 0")
	}

	// Stream tunables.
	if c.Stream.HeartbeatTimeout.Duration <= 0 {
		errs = append(errs, "stream: heartbeat_timeout must be > 0")
	}
	if c.Stream.StartupTimeout.Duration <= 0 {
		errs = append(errs, "stream: startup_timeout must be > 0")
	}
	if c.Stream.HistorySize < c.Strategy.LongWindow || c.Stream.HistorySize < c.Strategy.RSIWindow+1 {
		errs = append(errs, fmt.Sprintf("stream: history_size (%d) must cover the largest indicator window",
			c.Stream.HistorySize))
	}

	// Live trading needs credentials; paper mode does not.
	if !c.PaperTrading {
		hasInline := c.Coinbase.ApiKey != "" && c.Coinbase.ApiSecret != ""
		hasKeyfile := c.Coinbase.ApiKey != "" && c.Coinbase.EncryptedKeyPath != ""
		if !hasInline && !hasKeyfile {
			errs = append(errs, "coinbase: api_key plus api_secret or encrypted_key_path are required for live trading")
		}
		if c.Coinbase.EncryptedKeyPath != "" && c.Coinbase.KeyPassword == "" {
			errs = append(errs, "coinbase: key_password is required when encrypted_key_path is set")
		}
		if c.Coinbase.RestHost == "" {
			errs = append(errs, "coinbase: rest_host must not be empty")
		}
	}
	if c.Coinbase.WsHost == "" {
		errs = append(errs, "coinbase: ws_host must not be empty")
	}

	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
