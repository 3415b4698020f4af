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
// built-in defaults, applies ARB_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated;
// the caller should invoke Config.Validate() after Load.
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

// applyEnvOverrides reads well-known ARB_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e.
// not empty). This lets operators inject secrets at deploy time without
// touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Database ──
	setStr(&cfg.Database.DSN, "ARB_DATABASE_DSN")
	setStr(&cfg.Database.DSN, "ARB_DATABASE_URL") // compatibility alias
	setStr(&cfg.Database.Host, "ARB_DATABASE_HOST")
	setInt(&cfg.Database.Port, "ARB_DATABASE_PORT")
	setStr(&cfg.Database.Database, "ARB_DATABASE_NAME")
	setStr(&cfg.Database.User, "ARB_DATABASE_USER")
	setStr(&cfg.Database.Password, "ARB_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "ARB_DATABASE_SSLMODE")
	setInt(&cfg.Database.PoolMaxConns, "ARB_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "ARB_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "ARB_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "ARB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ARB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ARB_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ARB_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ARB_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ARB_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "ARB_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ARB_S3_REGION")
	setStr(&cfg.S3.Bucket, "ARB_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ARB_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ARB_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ARB_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ARB_S3_FORCE_PATH_STYLE")

	// ── Engine ──
	setDuration(&cfg.Engine.PollInterval, "ARB_ENGINE_POLL_INTERVAL")
	setDuration(&cfg.Engine.ErrorBackoff, "ARB_ENGINE_ERROR_BACKOFF")
	setInt(&cfg.Engine.QueueCapacity, "ARB_ENGINE_QUEUE_CAPACITY")
	setDuration(&cfg.Engine.FetchTimeout, "ARB_ENGINE_FETCH_TIMEOUT")
	setFloat64(&cfg.Engine.MinProfitPct, "ARB_ENGINE_MIN_PROFIT_PCT")
	setFloat64(&cfg.Engine.BaseNotionalUSD, "ARB_ENGINE_BASE_NOTIONAL_USD")

	// ── Detectors ──
	setBool(&cfg.Kimchi.Enabled, "ARB_KIMCHI_ENABLED")
	setFloat64(&cfg.Kimchi.DeviationThreshold, "ARB_KIMCHI_DEVIATION_THRESHOLD_PCT")
	setFloat64(&cfg.Kimchi.MinAllocationPct, "ARB_KIMCHI_MIN_ALLOCATION_PCT")
	setFloat64(&cfg.Kimchi.EquityUSD, "ARB_KIMCHI_EQUITY_USD")
	setBool(&cfg.Funding.Enabled, "ARB_FUNDING_ENABLED")
	setFloat64(&cfg.Funding.MinOpenInterest, "ARB_FUNDING_MIN_OPEN_INTEREST_USD")
	setFloat64(&cfg.Funding.MinDifferential, "ARB_FUNDING_MIN_DIFFERENTIAL_PCT")
	setFloat64(&cfg.Funding.MaxPairSpreadBps, "ARB_FUNDING_MAX_PAIR_SPREAD_BPS")
	setBool(&cfg.PerpPerp.Enabled, "ARB_PERP_PERP_ENABLED")
	setFloat64(&cfg.PerpPerp.MaxSpreadBps, "ARB_PERP_PERP_MAX_SPREAD_BPS")
	setBool(&cfg.Basis.Enabled, "ARB_BASIS_ENABLED")

	// ── Deposit / monitors / autotrade ──
	setDuration(&cfg.Deposit.CacheTTL, "ARB_DEPOSIT_CACHE_TTL")
	setDuration(&cfg.Monitor.FillInterval, "ARB_MONITOR_FILL_INTERVAL")
	setInt(&cfg.Monitor.FillBatchSize, "ARB_MONITOR_FILL_BATCH_SIZE")
	setDuration(&cfg.Monitor.PositionInterval, "ARB_MONITOR_POSITION_INTERVAL")
	setDuration(&cfg.Monitor.CloserInterval, "ARB_MONITOR_CLOSER_INTERVAL")
	setDuration(&cfg.AutoTrade.CheckInterval, "ARB_AUTOTRADE_CHECK_INTERVAL")
	setDuration(&cfg.AutoTrade.SeenTTL, "ARB_AUTOTRADE_SEEN_TTL")

	// ── Venues / FX ──
	setBool(&cfg.Venues.Binance.Enabled, "ARB_VENUES_BINANCE_ENABLED")
	setBool(&cfg.Venues.BinancePerp.Enabled, "ARB_VENUES_BINANCE_PERP_ENABLED")
	setBool(&cfg.Venues.OKX.Enabled, "ARB_VENUES_OKX_ENABLED")
	setBool(&cfg.Venues.Upbit.Enabled, "ARB_VENUES_UPBIT_ENABLED")
	setBool(&cfg.Venues.Bithumb.Enabled, "ARB_VENUES_BITHUMB_ENABLED")
	setBool(&cfg.Venues.BybitPerp.Enabled, "ARB_VENUES_BYBIT_PERP_ENABLED")
	setStringSlice(&cfg.Venues.Symbols, "ARB_VENUES_SYMBOLS")
	setDuration(&cfg.Venues.HTTPTimeout, "ARB_VENUES_HTTP_TIMEOUT")
	setBool(&cfg.Venues.PaperTrading, "ARB_VENUES_PAPER_TRADING")
	setStr(&cfg.FX.DunamuURL, "ARB_FX_DUNAMU_URL")
	setStr(&cfg.FX.ExchangerateURL, "ARB_FX_EXCHANGERATE_URL")
	setFloat64(&cfg.FX.FallbackRate, "ARB_FX_FALLBACK_RATE")

	// ── Crypto ──
	setStr(&cfg.Crypto.MasterKey, "ARB_CRYPTO_MASTER_KEY")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "ARB_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "ARB_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.RetentionDays, "ARB_ARCHIVE_RETENTION_DAYS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "ARB_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "ARB_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "ARB_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "ARB_SERVER_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ARB_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ARB_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ARB_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ARB_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "ARB_LOG_LEVEL")
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
