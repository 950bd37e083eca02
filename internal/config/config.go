// Package config defines the top-level configuration for the swap engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by DEXBOT_* environment
// variables.
type Config struct {
	Wallet   WalletConfig   `toml:"wallet"`
	Chain    ChainConfig    `toml:"chain"`
	Engine   EngineConfig   `toml:"engine"`
	Trade    TradeConfig    `toml:"trade"`
	Monitor  MonitorConfig  `toml:"monitor"`
	Feed     FeedConfig     `toml:"feed"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// WalletConfig holds the signing key credentials.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// ChainConfig holds the RPC endpoint and on-chain addresses.
type ChainConfig struct {
	RPCURL        string `toml:"rpc_url"`
	ChainID       int64  `toml:"chain_id"`
	RouterAddress string `toml:"router_address"`
	BaseToken     string `toml:"base_token"`

	// GasCeilingGwei clamps the fee oracle; DefaultGasPriceGwei is the
	// fallback when the oracle is unreachable.
	GasCeilingGwei      int64 `toml:"gas_ceiling_gwei"`
	DefaultGasPriceGwei int64 `toml:"default_gas_price_gwei"`
}

// EngineConfig holds swap planning and submission parameters.
type EngineConfig struct {
	SlippageBps          int64    `toml:"slippage_bps"`
	CloseSlippageBps     int64    `toml:"close_slippage_bps"`
	DeadlineWindow       duration `toml:"deadline_window"`
	MaxQuoteDeviationBps int64    `toml:"max_quote_deviation_bps"`
	MaxRetries           int      `toml:"max_retries"`
	RetryDelay           duration `toml:"retry_delay"`
}

// TradeConfig describes the position that trade mode opens at startup.
type TradeConfig struct {
	Token               string  `toml:"token"`
	Side                string  `toml:"side"`
	AmountIn            string  `toml:"amount_in"` // smallest units, decimal string
	StopLossPrice       float64 `toml:"stop_loss_price"`
	TakeProfitPrice     float64 `toml:"take_profit_price"`
	TrailingStopPercent float64 `toml:"trailing_stop_percent"` // 0 disables
	MaxHoldHours        float64 `toml:"max_hold_hours"`
}

// MonitorConfig holds the monitoring loop parameters.
type MonitorConfig struct {
	Interval       duration `toml:"interval"`
	HealthInterval duration `toml:"health_interval"`
	PriceMaxAge    duration `toml:"price_max_age"`
}

// FeedConfig holds the price feed endpoints.
type FeedConfig struct {
	HTTPURL string   `toml:"http_url"`
	WSURL   string   `toml:"ws_url"` // empty disables the stream
	Timeout duration `toml:"timeout"`
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
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	PriceTTL   duration `toml:"price_ttl"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls the closed-position cold archiver.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration wraps time.Duration so the TOML decoder can parse strings like
// "5m" or "30s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			RPCURL:              "http://localhost:8545",
			ChainID:             1,
			GasCeilingGwei:      200,
			DefaultGasPriceGwei: 30,
		},
		Engine: EngineConfig{
			SlippageBps:          50,
			CloseSlippageBps:     100,
			DeadlineWindow:       duration{5 * time.Minute},
			MaxQuoteDeviationBps: 500,
			MaxRetries:           3,
			RetryDelay:           duration{time.Second},
		},
		Trade: TradeConfig{
			Side:         "buy",
			MaxHoldHours: 24,
		},
		Monitor: MonitorConfig{
			Interval:       duration{30 * time.Second},
			HealthInterval: duration{5 * time.Minute},
			PriceMaxAge:    duration{15 * time.Second},
		},
		Feed: FeedConfig{
			Timeout: duration{10 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "dexbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			PriceTTL:   duration{time.Minute},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "dexbot-data",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Interval:      duration{24 * time.Hour},
		},
		Notify: NotifyConfig{
			Events: []string{"position_opened", "position_closed", "error"},
		},
		Mode:     "monitor",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true,
	"monitor": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and
// returns a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, monitor)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet is required in every mode: monitor mode still signs closing
	// swaps when an exit triggers.
	if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
		errs = append(errs, "wallet: either private_key or encrypted_key_path must be set")
	}
	if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
		errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
	}

	// Chain
	if c.Chain.RPCURL == "" {
		errs = append(errs, "chain: rpc_url must not be empty")
	}
	if c.Chain.ChainID <= 0 {
		errs = append(errs, "chain: chain_id must be positive")
	}
	if !common.IsHexAddress(c.Chain.RouterAddress) {
		errs = append(errs, fmt.Sprintf("chain: router_address %q is not a valid address", c.Chain.RouterAddress))
	}
	if !common.IsHexAddress(c.Chain.BaseToken) {
		errs = append(errs, fmt.Sprintf("chain: base_token %q is not a valid address", c.Chain.BaseToken))
	}
	if c.Chain.GasCeilingGwei <= 0 {
		errs = append(errs, "chain: gas_ceiling_gwei must be > 0")
	}
	if c.Chain.DefaultGasPriceGwei <= 0 {
		errs = append(errs, "chain: default_gas_price_gwei must be > 0")
	}

	// Engine
	if c.Engine.SlippageBps < 0 || c.Engine.SlippageBps >= 10_000 {
		errs = append(errs, fmt.Sprintf("engine: slippage_bps must be in [0, 10000), got %d", c.Engine.SlippageBps))
	}
	if c.Engine.CloseSlippageBps < 0 || c.Engine.CloseSlippageBps >= 10_000 {
		errs = append(errs, fmt.Sprintf("engine: close_slippage_bps must be in [0, 10000), got %d", c.Engine.CloseSlippageBps))
	}
	if c.Engine.DeadlineWindow.Duration <= 0 {
		errs = append(errs, "engine: deadline_window must be > 0")
	}
	if c.Engine.MaxRetries < 1 {
		errs = append(errs, "engine: max_retries must be >= 1")
	}
	if c.Engine.RetryDelay.Duration <= 0 {
		errs = append(errs, "engine: retry_delay must be > 0")
	}

	// Trade mode needs a fully-specified entry.
	if strings.ToLower(c.Mode) == "trade" {
		if !common.IsHexAddress(c.Trade.Token) {
			errs = append(errs, fmt.Sprintf("trade: token %q is not a valid address", c.Trade.Token))
		}
		if c.Trade.Side != "buy" && c.Trade.Side != "sell" {
			errs = append(errs, fmt.Sprintf("trade: side must be buy or sell, got %q", c.Trade.Side))
		}
		if c.Trade.AmountIn == "" {
			errs = append(errs, "trade: amount_in must be set")
		}
		if c.Trade.StopLossPrice <= 0 {
			errs = append(errs, "trade: stop_loss_price must be > 0")
		}
		if c.Trade.TakeProfitPrice <= 0 {
			errs = append(errs, "trade: take_profit_price must be > 0")
		}
		if c.Trade.TrailingStopPercent < 0 || c.Trade.TrailingStopPercent > 100 {
			errs = append(errs, "trade: trailing_stop_percent must be in [0, 100]")
		}
		if c.Trade.MaxHoldHours <= 0 {
			errs = append(errs, "trade: max_hold_hours must be > 0")
		}
	}

	// Monitor
	if c.Monitor.Interval.Duration <= 0 {
		errs = append(errs, "monitor: interval must be > 0")
	}
	if c.Monitor.PriceMaxAge.Duration <= 0 {
		errs = append(errs, "monitor: price_max_age must be > 0")
	}

	// Feed
	if c.Feed.HTTPURL == "" {
		errs = append(errs, "feed: http_url must not be empty")
	}

	// Postgres
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
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Archive
	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archive is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be > 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
