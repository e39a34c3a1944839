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
// built-in defaults, applies CLOBARB_* environment variable overrides, and
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

// applyEnvOverrides reads well-known CLOBARB_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "CLOBARB_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "CLOBARB_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "CLOBARB_WALLET_KEY_PASSWORD")

	// ── Polymarket ──
	setStr(&cfg.Polymarket.ClobHost, "CLOBARB_POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.GammaHost, "CLOBARB_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.WsHost, "CLOBARB_POLYMARKET_WS_HOST")
	setInt(&cfg.Polymarket.ChainID, "CLOBARB_POLYMARKET_CHAIN_ID")
	setStr(&cfg.Polymarket.ExchangeAddress, "CLOBARB_POLYMARKET_EXCHANGE_ADDRESS")

	// ── API ──
	setStr(&cfg.API.Key, "CLOBARB_API_KEY")
	setStr(&cfg.API.Secret, "CLOBARB_API_SECRET")
	setStr(&cfg.API.Passphrase, "CLOBARB_API_PASSPHRASE")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "CLOBARB_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "CLOBARB_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "CLOBARB_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "CLOBARB_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "CLOBARB_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "CLOBARB_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "CLOBARB_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "CLOBARB_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "CLOBARB_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "CLOBARB_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "CLOBARB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "CLOBARB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "CLOBARB_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "CLOBARB_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "CLOBARB_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "CLOBARB_REDIS_TLS_ENABLED")

	// ── Risk ──
	setFloat64(&cfg.Risk.StartingCapital, "CLOBARB_RISK_STARTING_CAPITAL")
	setFloat64(&cfg.Risk.MaxDailyLossPct, "CLOBARB_RISK_MAX_DAILY_LOSS_PCT")
	setFloat64(&cfg.Risk.MaxTradeCapitalPct, "CLOBARB_RISK_MAX_TRADE_CAPITAL_PCT")

	// ── Detection ──
	setFloat64(&cfg.Detection.MinEdge, "CLOBARB_DETECTION_MIN_EDGE")
	setDuration(&cfg.Detection.MinStableDuration, "CLOBARB_DETECTION_MIN_STABLE_DURATION")
	setFloat64(&cfg.Detection.StabilityTolerance, "CLOBARB_DETECTION_STABILITY_TOLERANCE")
	setFloat64(&cfg.Detection.MinLiquidityMultiple, "CLOBARB_DETECTION_MIN_LIQUIDITY_MULTIPLE")

	// ── Execution ──
	setDuration(&cfg.Execution.OrderTimeout, "CLOBARB_EXECUTION_ORDER_TIMEOUT")
	setInt(&cfg.Execution.FlattenMaxAttempts, "CLOBARB_EXECUTION_FLATTEN_MAX_ATTEMPTS")
	setDuration(&cfg.Execution.TradeCooldown, "CLOBARB_EXECUTION_TRADE_COOLDOWN")

	// ── Engine ──
	setStr(&cfg.Engine.MarketTag, "CLOBARB_ENGINE_MARKET_TAG")
	setInt(&cfg.Engine.DiscoveryLimit, "CLOBARB_ENGINE_DISCOVERY_LIMIT")
	setDuration(&cfg.Engine.RefreshInterval, "CLOBARB_ENGINE_REFRESH_INTERVAL")
	setDuration(&cfg.Engine.ReconcileInterval, "CLOBARB_ENGINE_RECONCILE_INTERVAL")
	setInt(&cfg.Engine.FeedBuffer, "CLOBARB_ENGINE_FEED_BUFFER")
	setDuration(&cfg.Engine.ResyncBackoff, "CLOBARB_ENGINE_RESYNC_BACKOFF")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "CLOBARB_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "CLOBARB_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "CLOBARB_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "CLOBARB_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "CLOBARB_MODE")
	setStr(&cfg.LogLevel, "CLOBARB_LOG_LEVEL")
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
