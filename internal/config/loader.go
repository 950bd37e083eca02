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
// built-in defaults, applies DEXBOT_* environment variable overrides, and
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

// applyEnvOverrides reads well-known DEXBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// Wallet
	setStr(&cfg.Wallet.PrivateKey, "DEXBOT_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "DEXBOT_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "DEXBOT_WALLET_KEY_PASSWORD")

	// Chain
	setStr(&cfg.Chain.RPCURL, "DEXBOT_CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "DEXBOT_CHAIN_CHAIN_ID")
	setStr(&cfg.Chain.RouterAddress, "DEXBOT_CHAIN_ROUTER_ADDRESS")
	setStr(&cfg.Chain.BaseToken, "DEXBOT_CHAIN_BASE_TOKEN")
	setInt64(&cfg.Chain.GasCeilingGwei, "DEXBOT_CHAIN_GAS_CEILING_GWEI")
	setInt64(&cfg.Chain.DefaultGasPriceGwei, "DEXBOT_CHAIN_DEFAULT_GAS_PRICE_GWEI")

	// Engine
	setInt64(&cfg.Engine.SlippageBps, "DEXBOT_ENGINE_SLIPPAGE_BPS")
	setInt64(&cfg.Engine.CloseSlippageBps, "DEXBOT_ENGINE_CLOSE_SLIPPAGE_BPS")
	setDuration(&cfg.Engine.DeadlineWindow, "DEXBOT_ENGINE_DEADLINE_WINDOW")
	setInt64(&cfg.Engine.MaxQuoteDeviationBps, "DEXBOT_ENGINE_MAX_QUOTE_DEVIATION_BPS")
	setInt(&cfg.Engine.MaxRetries, "DEXBOT_ENGINE_MAX_RETRIES")
	setDuration(&cfg.Engine.RetryDelay, "DEXBOT_ENGINE_RETRY_DELAY")

	// Trade
	setStr(&cfg.Trade.Token, "DEXBOT_TRADE_TOKEN")
	setStr(&cfg.Trade.Side, "DEXBOT_TRADE_SIDE")
	setStr(&cfg.Trade.AmountIn, "DEXBOT_TRADE_AMOUNT_IN")
	setFloat64(&cfg.Trade.StopLossPrice, "DEXBOT_TRADE_STOP_LOSS_PRICE")
	setFloat64(&cfg.Trade.TakeProfitPrice, "DEXBOT_TRADE_TAKE_PROFIT_PRICE")
	setFloat64(&cfg.Trade.TrailingStopPercent, "DEXBOT_TRADE_TRAILING_STOP_PERCENT")
	setFloat64(&cfg.Trade.MaxHoldHours, "DEXBOT_TRADE_MAX_HOLD_HOURS")

	// Monitor
	setDuration(&cfg.Monitor.Interval, "DEXBOT_MONITOR_INTERVAL")
	setDuration(&cfg.Monitor.HealthInterval, "DEXBOT_MONITOR_HEALTH_INTERVAL")
	setDuration(&cfg.Monitor.PriceMaxAge, "DEXBOT_MONITOR_PRICE_MAX_AGE")

	// Feed
	setStr(&cfg.Feed.HTTPURL, "DEXBOT_FEED_HTTP_URL")
	setStr(&cfg.Feed.WSURL, "DEXBOT_FEED_WS_URL")
	setDuration(&cfg.Feed.Timeout, "DEXBOT_FEED_TIMEOUT")

	// Postgres
	setStr(&cfg.Postgres.DSN, "DEXBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "DEXBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "DEXBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "DEXBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "DEXBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "DEXBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "DEXBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "DEXBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "DEXBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "DEXBOT_POSTGRES_RUN_MIGRATIONS")

	// Redis
	setStr(&cfg.Redis.Addr, "DEXBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "DEXBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "DEXBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "DEXBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "DEXBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "DEXBOT_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.PriceTTL, "DEXBOT_REDIS_PRICE_TTL")

	// S3
	setStr(&cfg.S3.Endpoint, "DEXBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "DEXBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "DEXBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "DEXBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "DEXBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "DEXBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "DEXBOT_S3_FORCE_PATH_STYLE")

	// Archive
	setBool(&cfg.Archive.Enabled, "DEXBOT_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "DEXBOT_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "DEXBOT_ARCHIVE_INTERVAL")

	// Notify
	setStr(&cfg.Notify.TelegramToken, "DEXBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "DEXBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "DEXBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "DEXBOT_NOTIFY_EVENTS")

	// Top-level
	setStr(&cfg.Mode, "DEXBOT_MODE")
	setStr(&cfg.LogLevel, "DEXBOT_LOG_LEVEL")
}

// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.

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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
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
