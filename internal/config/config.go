// Package config defines the top-level configuration for the arbitrage engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by CLOBARB_* environment variables.
type Config struct {
	Wallet     WalletConfig     `toml:"wallet"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	API        APIConfig        `toml:"api"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	Risk       RiskConfig       `toml:"risk"`
	Detection  DetectionConfig  `toml:"detection"`
	Execution  ExecutionConfig  `toml:"execution"`
	Engine     EngineConfig     `toml:"engine"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// WalletConfig holds Ethereum wallet credentials.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// PolymarketConfig holds Polymarket API endpoints and chain parameters.
type PolymarketConfig struct {
	ClobHost        string `toml:"clob_host"`
	GammaHost       string `toml:"gamma_host"`
	WsHost          string `toml:"ws_host"`
	ChainID         int    `toml:"chain_id"`
	ExchangeAddress string `toml:"exchange_address"`
}

// APIConfig holds pre-derived CLOB API credentials. When empty, trading modes
// derive a key from the wallet signature at startup.
type APIConfig struct {
	Key        string `toml:"key"`
	Secret     string `toml:"secret"`
	Passphrase string `toml:"passphrase"`
}

// PostgresConfig holds PostgreSQL connection parameters for the trade journal.
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
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// RiskConfig holds the session risk limits.
type RiskConfig struct {
	// StartingCapital is the session bankroll in USDC.
	StartingCapital float64 `toml:"starting_capital"`
	// MaxDailyLossPct trips the circuit breaker when the day's realized loss
	// reaches this fraction of starting capital.
	MaxDailyLossPct float64 `toml:"max_daily_loss_pct"`
	// MaxTradeCapitalPct caps the notional of a single trade at this fraction
	// of starting capital.
	MaxTradeCapitalPct float64 `toml:"max_trade_capital_pct"`
}

// DetectionConfig holds the opportunity detection thresholds.
type DetectionConfig struct {
	// MinEdge is the minimum per-unit net edge required to trade.
	MinEdge float64 `toml:"min_edge"`
	// MinStableDuration is how long both top asks must sit within the
	// stability tolerance before a market is eligible.
	MinStableDuration duration `toml:"min_stable_duration"`
	// StabilityTolerance is the price band within which a top ask counts as
	// unchanged.
	StabilityTolerance float64 `toml:"stability_tolerance"`
	// MinLiquidityMultiple requires visible depth of at least this multiple
	// of the candidate size at both asks.
	MinLiquidityMultiple float64 `toml:"min_liquidity_multiple"`
}

// ExecutionConfig holds order placement parameters.
type ExecutionConfig struct {
	// OrderTimeout bounds one leg's submission round trip.
	OrderTimeout duration `toml:"order_timeout"`
	// FlattenMaxAttempts bounds corrective sell retries per stranded leg.
	FlattenMaxAttempts int `toml:"flatten_max_attempts"`
	// TradeCooldown suppresses re-entry into a market after an execution.
	TradeCooldown duration `toml:"trade_cooldown"`
}

// EngineConfig holds market discovery and event loop parameters.
type EngineConfig struct {
	// MarketTag restricts discovery to a Gamma category slug; empty means all.
	MarketTag string `toml:"market_tag"`
	// DiscoveryLimit caps how many markets one discovery pass requests.
	DiscoveryLimit int `toml:"discovery_limit"`
	// RefreshInterval is how often the market set is re-discovered.
	RefreshInterval duration `toml:"refresh_interval"`
	// ReconcileInterval is how often timed-out orders are re-queried.
	ReconcileInterval duration `toml:"reconcile_interval"`
	// FeedBuffer sizes the shared feed event channel.
	FeedBuffer int `toml:"feed_buffer"`
	// ResyncBackoff rate-limits snapshot re-requests for a stale market.
	ResyncBackoff duration `toml:"resync_backoff"`
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

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
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
		Polymarket: PolymarketConfig{
			ClobHost:        "https://clob.polymarket.com",
			GammaHost:       "https://gamma-api.polymarket.com",
			WsHost:          "wss://ws-subscriptions-clob.polymarket.com",
			ChainID:         137,
			ExchangeAddress: "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "clobarb",
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
		},
		Risk: RiskConfig{
			StartingCapital:    1000,
			MaxDailyLossPct:    0.02,
			MaxTradeCapitalPct: 0.01,
		},
		Detection: DetectionConfig{
			MinEdge:              0.05,
			MinStableDuration:    duration{3 * time.Second},
			StabilityTolerance:   0.001,
			MinLiquidityMultiple: 2,
		},
		Execution: ExecutionConfig{
			OrderTimeout:       duration{5 * time.Second},
			FlattenMaxAttempts: 5,
			TradeCooldown:      duration{30 * time.Second},
		},
		Engine: EngineConfig{
			MarketTag:         "crypto",
			DiscoveryLimit:    100,
			RefreshInterval:   duration{5 * time.Minute},
			ReconcileInterval: duration{30 * time.Second},
			FeedBuffer:        1024,
			ResyncBackoff:     duration{5 * time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"arb_filled", "arb_flattened", "unhedged_exposure", "breaker_tripped"},
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

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, monitor)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet credentials are only needed when orders will be signed.
	if strings.ToLower(c.Mode) == "trade" {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode trade")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	if c.Polymarket.ClobHost == "" {
		errs = append(errs, "polymarket: clob_host must not be empty")
	}
	if c.Polymarket.GammaHost == "" {
		errs = append(errs, "polymarket: gamma_host must not be empty")
	}
	if c.Polymarket.WsHost == "" {
		errs = append(errs, "polymarket: ws_host must not be empty")
	}
	if c.Polymarket.ChainID <= 0 {
		errs = append(errs, "polymarket: chain_id must be positive")
	}
	if c.Polymarket.ExchangeAddress == "" {
		errs = append(errs, "polymarket: exchange_address must not be empty")
	}

	// API credentials must be set together, or all empty.
	ak := c.API.Key != ""
	as := c.API.Secret != ""
	ap := c.API.Passphrase != ""
	if (ak || as || ap) && !(ak && as && ap) {
		errs = append(errs, "api: key, secret, and passphrase must all be set together")
	}

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

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	if c.Risk.StartingCapital <= 0 {
		errs = append(errs, "risk: starting_capital must be > 0")
	}
	if c.Risk.MaxDailyLossPct <= 0 || c.Risk.MaxDailyLossPct > 1 {
		errs = append(errs, fmt.Sprintf("risk: max_daily_loss_pct must be in (0, 1], got %v", c.Risk.MaxDailyLossPct))
	}
	if c.Risk.MaxTradeCapitalPct <= 0 || c.Risk.MaxTradeCapitalPct > 1 {
		errs = append(errs, fmt.Sprintf("risk: max_trade_capital_pct must be in (0, 1], got %v", c.Risk.MaxTradeCapitalPct))
	}

	if c.Detection.MinEdge <= 0 || c.Detection.MinEdge >= 1 {
		errs = append(errs, fmt.Sprintf("detection: min_edge must be in (0, 1), got %v", c.Detection.MinEdge))
	}
	if c.Detection.MinStableDuration.Duration < 0 {
		errs = append(errs, "detection: min_stable_duration must not be negative")
	}
	if c.Detection.StabilityTolerance < 0 {
		errs = append(errs, "detection: stability_tolerance must not be negative")
	}
	if c.Detection.MinLiquidityMultiple < 1 {
		errs = append(errs, "detection: min_liquidity_multiple must be >= 1")
	}

	if c.Execution.OrderTimeout.Duration <= 0 {
		errs = append(errs, "execution: order_timeout must be > 0")
	}
	if c.Execution.FlattenMaxAttempts < 1 {
		errs = append(errs, "execution: flatten_max_attempts must be >= 1")
	}
	if c.Execution.TradeCooldown.Duration < 0 {
		errs = append(errs, "execution: trade_cooldown must not be negative")
	}

	if c.Engine.DiscoveryLimit < 1 {
		errs = append(errs, "engine: discovery_limit must be >= 1")
	}
	if c.Engine.RefreshInterval.Duration <= 0 {
		errs = append(errs, "engine: refresh_interval must be > 0")
	}
	if c.Engine.ReconcileInterval.Duration <= 0 {
		errs = append(errs, "engine: reconcile_interval must be > 0")
	}
	if c.Engine.FeedBuffer < 1 {
		errs = append(errs, "engine: feed_buffer must be >= 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
