// Package config defines the top-level configuration for the arbitrage
// daemon and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by ARB_* environment variables.
type Config struct {
	Database  DatabaseConfig  `toml:"database"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Engine    EngineConfig    `toml:"engine"`
	Kimchi    KimchiConfig    `toml:"kimchi"`
	Funding   FundingConfig   `toml:"funding"`
	PerpPerp  PerpPerpConfig  `toml:"perp_perp"`
	Basis     BasisConfig     `toml:"basis"`
	Executor  ExecutorConfig  `toml:"executor"`
	Deposit   DepositConfig   `toml:"deposit"`
	Monitor   MonitorConfig   `toml:"monitor"`
	AutoTrade AutoTradeConfig `toml:"autotrade"`
	Venues    VenuesConfig    `toml:"venues"`
	FX        FXConfig        `toml:"fx"`
	Crypto    CryptoConfig    `toml:"crypto"`
	Archive   ArchiveConfig   `toml:"archive"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	LogLevel  string          `toml:"log_level"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
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
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
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

// EngineConfig holds opportunity-engine cadence and fan-out parameters.
type EngineConfig struct {
	PollInterval    duration `toml:"poll_interval"`
	ErrorBackoff    duration `toml:"error_backoff"`
	QueueCapacity   int      `toml:"queue_capacity"`
	FetchTimeout    duration `toml:"fetch_timeout"`
	PublishChannel  string   `toml:"publish_channel"`
	MinProfitPct    float64  `toml:"min_profit_pct"`
	BaseNotionalUSD float64  `toml:"base_notional_usd"`
	FeeBps          float64  `toml:"fee_bps"`
	PerpLegFeeBps   float64  `toml:"perp_leg_fee_bps"`
}

// KimchiConfig holds kimchi-premium detection parameters.
type KimchiConfig struct {
	Enabled            bool        `toml:"enabled"`
	DeviationThreshold float64     `toml:"deviation_threshold_pct"`
	MinAllocationPct   float64     `toml:"min_allocation_pct"`
	EquityUSD          float64     `toml:"equity_usd"`
	Curve              []CurveKnot `toml:"curve"`
}

// CurveKnot is one (premium %, allocation fraction) point on the kimchi
// allocation curve.
type CurveKnot struct {
	PremiumPct float64 `toml:"premium_pct"`
	Allocation float64 `toml:"allocation"`
}

// FundingConfig holds funding-rate-arbitrage detection parameters.
type FundingConfig struct {
	Enabled          bool    `toml:"enabled"`
	MinOpenInterest  float64 `toml:"min_open_interest_usd"`
	MinDifferential  float64 `toml:"min_differential_pct"` // per 8h
	MaxPairSpreadBps float64 `toml:"max_pair_spread_bps"`
}

// PerpPerpConfig holds perp-perp spread detection parameters.
type PerpPerpConfig struct {
	Enabled         bool    `toml:"enabled"`
	MinOpenInterest float64 `toml:"min_open_interest_usd"`
	MaxSpreadBps    float64 `toml:"max_spread_bps"`
	FlatFeePct      float64 `toml:"flat_fee_pct"`
}

// BasisConfig holds spot-perp basis parameters. The detector ships gated
// off; enabling it requires margin prerequisites outside this system.
type BasisConfig struct {
	Enabled     bool    `toml:"enabled"`
	MinBasisBps float64 `toml:"min_basis_bps"`
}

// ExecutorConfig holds order-execution parameters.
type ExecutorConfig struct {
	SpreadConvergedPct float64 `toml:"spread_converged_pct"`
}

// DepositConfig holds deposit-status cache parameters.
type DepositConfig struct {
	CacheTTL duration `toml:"cache_ttl"`
}

// MonitorConfig holds background reconciliation loop parameters.
type MonitorConfig struct {
	FillInterval     duration `toml:"fill_interval"`
	FillBatchSize    int      `toml:"fill_batch_size"`
	PositionInterval duration `toml:"position_interval"`
	CloserInterval   duration `toml:"closer_interval"`
}

// AutoTradeConfig holds auto-trader loop parameters.
type AutoTradeConfig struct {
	CheckInterval duration `toml:"check_interval"`
	SeenTTL       duration `toml:"seen_ttl"`
}

// VenuesConfig holds per-venue REST endpoints and the symbol universe.
type VenuesConfig struct {
	Binance     VenueEndpoint `toml:"binance"`
	BinancePerp VenueEndpoint `toml:"binance_perp"`
	OKX         VenueEndpoint `toml:"okx"`
	Upbit       VenueEndpoint `toml:"upbit"`
	Bithumb     VenueEndpoint `toml:"bithumb"`
	BybitPerp   VenueEndpoint `toml:"bybit_perp"`
	Symbols     []string      `toml:"symbols"` // base assets, e.g. ["BTC","ETH"]
	HTTPTimeout duration      `toml:"http_timeout"`

	// PaperTrading replaces every order client with an in-memory simulator
	// that acknowledges orders without touching a real venue.
	PaperTrading bool `toml:"paper_trading"`
}

// VenueEndpoint holds one venue's REST base URL and enable flag.
type VenueEndpoint struct {
	Enabled bool   `toml:"enabled"`
	BaseURL string `toml:"base_url"`
}

// FXConfig holds the USD/KRW rate source parameters.
type FXConfig struct {
	DunamuURL       string  `toml:"dunamu_url"`
	ExchangerateURL string  `toml:"exchangerate_url"`
	FallbackRate    float64 `toml:"fallback_rate"`
}

// CryptoConfig holds credential-encryption parameters.
type CryptoConfig struct {
	MasterKey string `toml:"master_key"`
}

// ArchiveConfig holds cold-archive parameters.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	Interval      duration `toml:"interval"`
	RetentionDays int      `toml:"retention_days"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`

	// APIKey protects every /api route when set; empty disables auth.
	APIKey string `toml:"api_key"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder
// can parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "arbitrage",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "arbitrage-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Engine: EngineConfig{
			PollInterval:    duration{3 * time.Second},
			ErrorBackoff:    duration{1 * time.Second},
			QueueCapacity:   5,
			FetchTimeout:    duration{5 * time.Second},
			PublishChannel:  "opportunities",
			MinProfitPct:    0.1,
			BaseNotionalUSD: 10000,
			FeeBps:          10,
			PerpLegFeeBps:   5,
		},
		Kimchi: KimchiConfig{
			Enabled:            true,
			DeviationThreshold: 0.5,
			MinAllocationPct:   5,
			EquityUSD:          100000,
			Curve: []CurveKnot{
				{PremiumPct: -5, Allocation: 1.0},
				{PremiumPct: -2, Allocation: 0.7},
				{PremiumPct: -1, Allocation: 0.5},
				{PremiumPct: 0, Allocation: 0.2},
				{PremiumPct: 1, Allocation: 0.05},
				{PremiumPct: 3, Allocation: 0.0},
			},
		},
		Funding: FundingConfig{
			Enabled:          true,
			MinOpenInterest:  100000,
			MinDifferential:  0.01,
			MaxPairSpreadBps: 20,
		},
		PerpPerp: PerpPerpConfig{
			Enabled:         true,
			MinOpenInterest: 100000,
			MaxSpreadBps:    50,
			FlatFeePct:      0.1,
		},
		Basis: BasisConfig{
			Enabled:     false,
			MinBasisBps: 30,
		},
		Executor: ExecutorConfig{
			SpreadConvergedPct: 0.05,
		},
		Deposit: DepositConfig{
			CacheTTL: duration{5 * time.Minute},
		},
		Monitor: MonitorConfig{
			FillInterval:     duration{5 * time.Second},
			FillBatchSize:    100,
			PositionInterval: duration{10 * time.Second},
			CloserInterval:   duration{5 * time.Second},
		},
		AutoTrade: AutoTradeConfig{
			CheckInterval: duration{10 * time.Second},
			SeenTTL:       duration{10 * time.Minute},
		},
		Venues: VenuesConfig{
			Binance:      VenueEndpoint{Enabled: true, BaseURL: "https://api.binance.com"},
			BinancePerp:  VenueEndpoint{Enabled: true, BaseURL: "https://fapi.binance.com"},
			OKX:          VenueEndpoint{Enabled: true, BaseURL: "https://www.okx.com"},
			Upbit:        VenueEndpoint{Enabled: true, BaseURL: "https://api.upbit.com"},
			Bithumb:      VenueEndpoint{Enabled: true, BaseURL: "https://api.bithumb.com"},
			BybitPerp:    VenueEndpoint{Enabled: true, BaseURL: "https://api.bybit.com"},
			Symbols:      []string{"BTC", "ETH", "XRP", "SOL"},
			HTTPTimeout:  duration{5 * time.Second},
			PaperTrading: true,
		},
		FX: FXConfig{
			DunamuURL:       "https://quotation-api-cdn.dunamu.com/v1/forex/recent",
			ExchangerateURL: "https://api.exchangerate-api.com/v4/latest/USD",
			FallbackRate:    1350,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			Interval:      duration{1 * time.Hour},
			RetentionDays: 90,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Notify: NotifyConfig{
			Events: []string{"opportunity_executed", "position_closed", "error"},
		},
		LogLevel: "info",
	}
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

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Database
	if strings.TrimSpace(c.Database.DSN) == "" {
		if c.Database.Host == "" {
			errs = append(errs, "database: host must not be empty (or set database.dsn)")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
		}
		if c.Database.Database == "" {
			errs = append(errs, "database: database must not be empty")
		}
	}
	if c.Database.PoolMaxConns < 1 {
		errs = append(errs, "database: pool_max_conns must be >= 1")
	}
	if c.Database.PoolMinConns < 0 {
		errs = append(errs, "database: pool_min_conns must be >= 0")
	}
	if c.Database.PoolMinConns > c.Database.PoolMaxConns {
		errs = append(errs, "database: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Engine
	if c.Engine.PollInterval.Duration <= 0 {
		errs = append(errs, "engine: poll_interval must be > 0")
	}
	if c.Engine.ErrorBackoff.Duration <= 0 {
		errs = append(errs, "engine: error_backoff must be > 0")
	}
	if c.Engine.QueueCapacity < 1 {
		errs = append(errs, "engine: queue_capacity must be >= 1")
	}
	if c.Engine.BaseNotionalUSD <= 0 {
		errs = append(errs, "engine: base_notional_usd must be > 0")
	}

	// Kimchi curve must be sorted by premium and have at least two knots
	// when the detector is enabled.
	if c.Kimchi.Enabled {
		if len(c.Kimchi.Curve) < 2 {
			errs = append(errs, "kimchi: curve needs at least 2 knots")
		}
		for i := 1; i < len(c.Kimchi.Curve); i++ {
			if c.Kimchi.Curve[i].PremiumPct <= c.Kimchi.Curve[i-1].PremiumPct {
				errs = append(errs, "kimchi: curve knots must be strictly increasing in premium_pct")
				break
			}
		}
		if c.Kimchi.EquityUSD <= 0 {
			errs = append(errs, "kimchi: equity_usd must be > 0")
		}
	}

	// Funding
	if c.Funding.Enabled {
		if c.Funding.MinOpenInterest < 0 {
			errs = append(errs, "funding: min_open_interest_usd must be >= 0")
		}
		if c.Funding.MaxPairSpreadBps <= 0 {
			errs = append(errs, "funding: max_pair_spread_bps must be > 0")
		}
	}

	// Monitors
	if c.Monitor.FillInterval.Duration <= 0 {
		errs = append(errs, "monitor: fill_interval must be > 0")
	}
	if c.Monitor.FillBatchSize < 1 {
		errs = append(errs, "monitor: fill_batch_size must be >= 1")
	}
	if c.Monitor.PositionInterval.Duration <= 0 {
		errs = append(errs, "monitor: position_interval must be > 0")
	}

	// Crypto — credentials cannot be stored without a master key.
	if c.Crypto.MasterKey == "" {
		errs = append(errs, "crypto: master_key must be set (ARB_CRYPTO_MASTER_KEY)")
	}

	// FX
	if c.FX.FallbackRate <= 0 {
		errs = append(errs, "fx: fallback_rate must be > 0")
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
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
