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
// built-in defaults, applies FLASHARB_* environment variable overrides, and
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

// applyEnvOverrides reads well-known FLASHARB_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "FLASHARB_CHAIN_RPC_URL")
	setStr(&cfg.Chain.WSURL, "FLASHARB_CHAIN_WS_URL")
	setInt64(&cfg.Chain.ChainID, "FLASHARB_CHAIN_ID")
	setStr(&cfg.Chain.NativeToken, "FLASHARB_CHAIN_NATIVE_TOKEN")
	setUint64(&cfg.Chain.SettlementGas, "FLASHARB_CHAIN_SETTLEMENT_GAS")

	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "FLASHARB_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "FLASHARB_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "FLASHARB_WALLET_KEY_PASSWORD")

	// ── Aggregator ──
	setDuration(&cfg.Aggregator.PollInterval, "FLASHARB_AGGREGATOR_POLL_INTERVAL")
	setDuration(&cfg.Aggregator.QuoteTimeout, "FLASHARB_AGGREGATOR_QUOTE_TIMEOUT")
	setDuration(&cfg.Aggregator.MaxQuoteAge, "FLASHARB_AGGREGATOR_MAX_QUOTE_AGE")

	// ── Detector ──
	setFloat64(&cfg.Detector.MinSpreadBps, "FLASHARB_DETECTOR_MIN_SPREAD_BPS")
	setFloat64(&cfg.Detector.MinProfitAbs, "FLASHARB_DETECTOR_MIN_PROFIT_ABS")
	setFloat64(&cfg.Detector.MinProfitPct, "FLASHARB_DETECTOR_MIN_PROFIT_PCT")
	setFloat64(&cfg.Detector.MaxLiquidityFraction, "FLASHARB_DETECTOR_MAX_LIQUIDITY_FRACTION")
	setFloat64(&cfg.Detector.MaxNotional, "FLASHARB_DETECTOR_MAX_NOTIONAL")
	setFloat64(&cfg.Detector.LoanFeeBps, "FLASHARB_DETECTOR_LOAN_FEE_BPS")

	// ── Settlement ──
	setStr(&cfg.Settlement.LedgerAddress, "FLASHARB_SETTLEMENT_LEDGER_ADDRESS")
	setFloat64(&cfg.Settlement.SlippageBps, "FLASHARB_SETTLEMENT_SLIPPAGE_BPS")
	setDuration(&cfg.Settlement.SubmitTimeout, "FLASHARB_SETTLEMENT_SUBMIT_TIMEOUT")

	// ── Watcher ──
	setBool(&cfg.Watcher.Enabled, "FLASHARB_WATCHER_ENABLED")
	setInt(&cfg.Watcher.QueueSize, "FLASHARB_WATCHER_QUEUE_SIZE")
	setUint64(&cfg.Watcher.MaxBackrunBlocks, "FLASHARB_WATCHER_MAX_BACKRUN_BLOCKS")
	setFloat64(&cfg.Watcher.BackrunMinProfit, "FLASHARB_WATCHER_BACKRUN_MIN_PROFIT")
	setFloat64(&cfg.Watcher.SandwichMinProfit, "FLASHARB_WATCHER_SANDWICH_MIN_PROFIT")
	setFloat64(&cfg.Watcher.SandwichFraction, "FLASHARB_WATCHER_SANDWICH_FRACTION")
	setFloat64(&cfg.Watcher.MinVictimImpactBps, "FLASHARB_WATCHER_MIN_VICTIM_IMPACT_BPS")

	// ── Safety ──
	setInt(&cfg.Safety.MaxConsecutiveFailures, "FLASHARB_SAFETY_MAX_CONSECUTIVE_FAILURES")
	setDuration(&cfg.Safety.Cooldown, "FLASHARB_SAFETY_COOLDOWN")
	setFloat64(&cfg.Safety.GasSpikeFactor, "FLASHARB_SAFETY_GAS_SPIKE_FACTOR")
	setDuration(&cfg.Safety.GasSampleInterval, "FLASHARB_SAFETY_GAS_SAMPLE_INTERVAL")
	setFloat64(&cfg.Safety.SlippageMultiplier, "FLASHARB_SAFETY_SLIPPAGE_MULTIPLIER")
	setFloat64(&cfg.Safety.DecayChance, "FLASHARB_SAFETY_DECAY_CHANCE")
	setFloat64(&cfg.Safety.LowMarginFactor, "FLASHARB_SAFETY_LOW_MARGIN_FACTOR")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "FLASHARB_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "FLASHARB_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "FLASHARB_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "FLASHARB_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "FLASHARB_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "FLASHARB_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "FLASHARB_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "FLASHARB_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "FLASHARB_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "FLASHARB_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "FLASHARB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "FLASHARB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "FLASHARB_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "FLASHARB_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "FLASHARB_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "FLASHARB_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "FLASHARB_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "FLASHARB_S3_REGION")
	setStr(&cfg.S3.Bucket, "FLASHARB_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "FLASHARB_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "FLASHARB_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "FLASHARB_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "FLASHARB_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "FLASHARB_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "FLASHARB_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.RetentionDays, "FLASHARB_ARCHIVE_RETENTION_DAYS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "FLASHARB_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "FLASHARB_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "FLASHARB_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "FLASHARB_NOTIFY_EVENTS")

	// ── Top-level ──
	setStringSlice(&cfg.Pairs, "FLASHARB_PAIRS")
	setStr(&cfg.Mode, "FLASHARB_MODE")
	setStr(&cfg.LogLevel, "FLASHARB_LOG_LEVEL")
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
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
