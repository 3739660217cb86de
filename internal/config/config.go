// Package config defines the top-level configuration for the flash-loan
// arbitrage engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by FLASHARB_* environment
// variables.
type Config struct {
	Chain      ChainConfig            `toml:"chain"`
	Wallet     WalletConfig           `toml:"wallet"`
	Tokens     map[string]TokenConfig `toml:"tokens"`
	Pairs      []string               `toml:"pairs"`
	Venues     []VenueConfig          `toml:"venues"`
	Aggregator AggregatorConfig       `toml:"aggregator"`
	Detector   DetectorConfig         `toml:"detector"`
	Settlement SettlementConfig       `toml:"settlement"`
	Watcher    WatcherConfig          `toml:"watcher"`
	Safety     SafetyConfig           `toml:"safety"`
	Postgres   PostgresConfig         `toml:"postgres"`
	Redis      RedisConfig            `toml:"redis"`
	S3         S3Config               `toml:"s3"`
	Archive    ArchiveConfig          `toml:"archive"`
	Notify     NotifyConfig           `toml:"notify"`
	Mode       string                 `toml:"mode"`
	LogLevel   string                 `toml:"log_level"`
}

// ChainConfig holds RPC endpoints and chain parameters.
type ChainConfig struct {
	RPCURL  string `toml:"rpc_url"`
	WSURL   string `toml:"ws_url"`
	ChainID int64  `toml:"chain_id"`
	// NativeToken is the symbol of the chain's gas token (e.g. "WETH").
	NativeToken string `toml:"native_token"`
	// SettlementGas is the estimated gas used by one full settlement.
	SettlementGas uint64 `toml:"settlement_gas"`
}

// WalletConfig holds the settlement signer credentials.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// TokenConfig maps a token symbol to its on-chain identity.
type TokenConfig struct {
	Address  string `toml:"address"`
	Decimals int    `toml:"decimals"`
}

// VenueConfig describes one exchange venue. Kind selects the adapter
// implementation; no venue is ever identified by address comparison in the
// core.
type VenueConfig struct {
	Name string `toml:"name"`
	// Kind is "constant_product" or "concentrated".
	Kind   string  `toml:"kind"`
	Router string  `toml:"router"`
	FeeBps float64 `toml:"fee_bps"`
	// ImpactCoefficient scales the price-impact approximation; defaults to
	// 1.0 for constant-product and 0.4 for concentrated liquidity when zero.
	ImpactCoefficient float64 `toml:"impact_coefficient"`
	// Pools maps pair keys ("WETH-USDC") to pool addresses.
	Pools map[string]string `toml:"pools"`
}

// AggregatorConfig holds price polling parameters.
type AggregatorConfig struct {
	PollInterval duration `toml:"poll_interval"`
	QuoteTimeout duration `toml:"quote_timeout"`
	MaxQuoteAge  duration `toml:"max_quote_age"`
}

// DetectorConfig holds opportunity detection thresholds.
type DetectorConfig struct {
	MinSpreadBps float64 `toml:"min_spread_bps"`
	// MinProfitAbs is the minimum net profit in quote-token units.
	MinProfitAbs float64 `toml:"min_profit_abs"`
	// MinProfitPct is the minimum net profit as a percentage of notional.
	MinProfitPct float64 `toml:"min_profit_pct"`
	// MaxLiquidityFraction caps trade size at this fraction of the thinner
	// venue's liquidity.
	MaxLiquidityFraction float64 `toml:"max_liquidity_fraction"`
	// MaxNotional is the global cap on loan principal in quote-token units.
	MaxNotional float64 `toml:"max_notional"`
	LoanFeeBps  float64 `toml:"loan_fee_bps"`
}

// SettlementConfig holds execution parameters.
type SettlementConfig struct {
	LedgerAddress string `toml:"ledger_address"`
	// SlippageBps is the base tolerance applied when recomputing leg
	// minimum outputs; the safety governor's multiplier scales it.
	SlippageBps   float64  `toml:"slippage_bps"`
	SubmitTimeout duration `toml:"submit_timeout"`
}

// WatcherConfig holds mempool watcher parameters.
type WatcherConfig struct {
	Enabled bool `toml:"enabled"`
	// QueueSize bounds the pending-transaction intake queue.
	QueueSize int `toml:"queue_size"`
	// MaxBackrunBlocks is the TTL for tracked pending transactions.
	MaxBackrunBlocks uint64 `toml:"max_backrun_blocks"`
	// BackrunMinProfit is the minimum net profit for a backrun proposal,
	// in quote-token units.
	BackrunMinProfit float64 `toml:"backrun_min_profit"`
	// SandwichMinProfit must exceed BackrunMinProfit; sandwiching carries
	// materially higher risk and gas cost.
	SandwichMinProfit float64 `toml:"sandwich_min_profit"`
	// SandwichFraction is the front-run size as a fraction of the victim's.
	SandwichFraction float64 `toml:"sandwich_fraction"`
	// MinVictimImpactBps is the minimum estimated victim slippage for a
	// sandwich to be worth the risk.
	MinVictimImpactBps float64 `toml:"min_victim_impact_bps"`
}

// SafetyConfig holds circuit-breaker parameters.
type SafetyConfig struct {
	MaxConsecutiveFailures int      `toml:"max_consecutive_failures"`
	Cooldown               duration `toml:"cooldown"`
	GasSpikeFactor         float64  `toml:"gas_spike_factor"`
	GasSampleInterval      duration `toml:"gas_sample_interval"`
	SlippageMultiplier     float64  `toml:"slippage_multiplier"`
	// DecayChance is the per-success probability of stepping the slippage
	// multiplier back toward 1.0.
	DecayChance float64 `toml:"decay_chance"`
	// LowMarginFactor: while congested, opportunities with net profit below
	// LowMarginFactor x MinProfitAbs are skipped by the engine.
	LowMarginFactor float64 `toml:"low_margin_factor"`
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

// ArchiveConfig holds settlement-history archival parameters.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	Interval      duration `toml:"interval"`
	RetentionDays int      `toml:"retention_days"`
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

// Defaults returns a Config populated with conservative default values.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			ChainID:       1,
			NativeToken:   "WETH",
			SettlementGas: 450_000,
		},
		Tokens: map[string]TokenConfig{},
		Aggregator: AggregatorConfig{
			PollInterval: duration{3 * time.Second},
			QuoteTimeout: duration{1500 * time.Millisecond},
			MaxQuoteAge:  duration{10 * time.Second},
		},
		Detector: DetectorConfig{
			MinSpreadBps:         20,
			MinProfitAbs:         25,
			MinProfitPct:         0.05,
			MaxLiquidityFraction: 0.025,
			MaxNotional:          250_000,
			LoanFeeBps:           9,
		},
		Settlement: SettlementConfig{
			SlippageBps:   30,
			SubmitTimeout: duration{30 * time.Second},
		},
		Watcher: WatcherConfig{
			Enabled:            false,
			QueueSize:          256,
			MaxBackrunBlocks:   3,
			BackrunMinProfit:   50,
			SandwichMinProfit:  150,
			SandwichFraction:   0.5,
			MinVictimImpactBps: 40,
		},
		Safety: SafetyConfig{
			MaxConsecutiveFailures: 3,
			Cooldown:               duration{5 * time.Minute},
			GasSpikeFactor:         2.5,
			GasSampleInterval:      duration{15 * time.Second},
			SlippageMultiplier:     1.3,
			DecayChance:            0.3,
			LowMarginFactor:        2.0,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "flasharb",
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
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "flasharb-data",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			Interval:      duration{6 * time.Hour},
			RetentionDays: 30,
		},
		Mode:     "monitor",
		LogLevel: "info",
	}
}

// Validate checks the configuration for fatal inconsistencies. It is called
// once at startup; an error here halts the process with a diagnostic rather
// than letting the engine run half-configured.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Mode) {
	case "monitor", "trade", "watch", "full":
	default:
		return fmt.Errorf("config: unsupported mode %q", c.Mode)
	}

	if strings.TrimSpace(c.Chain.RPCURL) == "" {
		return fmt.Errorf("config: chain.rpc_url is required")
	}
	if len(c.Pairs) == 0 {
		return fmt.Errorf("config: at least one tracked pair is required")
	}
	if len(c.Venues) < 2 {
		return fmt.Errorf("config: at least two venues are required for arbitrage, got %d", len(c.Venues))
	}

	seen := map[string]bool{}
	for i, v := range c.Venues {
		if strings.TrimSpace(v.Name) == "" {
			return fmt.Errorf("config: venue %d has no name", i)
		}
		if seen[v.Name] {
			return fmt.Errorf("config: duplicate venue name %q", v.Name)
		}
		seen[v.Name] = true
		switch v.Kind {
		case "constant_product", "concentrated":
		default:
			return fmt.Errorf("config: venue %q has unsupported kind %q", v.Name, v.Kind)
		}
		if v.FeeBps < 0 || v.FeeBps > 10_000 {
			return fmt.Errorf("config: venue %q fee %.1f bps out of range", v.Name, v.FeeBps)
		}
	}

	for _, p := range c.Pairs {
		syms, err := parsePairKey(p)
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		for _, sym := range syms {
			if _, ok := c.Tokens[sym]; !ok {
				return fmt.Errorf("config: pair %q references unknown token %q", p, sym)
			}
		}
	}

	if c.Detector.MaxLiquidityFraction <= 0 || c.Detector.MaxLiquidityFraction > 1 {
		return fmt.Errorf("config: detector.max_liquidity_fraction must be in (0,1]")
	}
	if c.Detector.MinSpreadBps <= 0 {
		return fmt.Errorf("config: detector.min_spread_bps must be positive")
	}
	if c.Safety.MaxConsecutiveFailures <= 0 {
		return fmt.Errorf("config: safety.max_consecutive_failures must be positive")
	}
	if c.Safety.GasSpikeFactor <= 1 {
		return fmt.Errorf("config: safety.gas_spike_factor must exceed 1")
	}
	if c.Safety.DecayChance < 0 || c.Safety.DecayChance > 1 {
		return fmt.Errorf("config: safety.decay_chance must be in [0,1]")
	}
	if c.Watcher.Enabled {
		if strings.TrimSpace(c.Chain.WSURL) == "" {
			return fmt.Errorf("config: chain.ws_url is required when the watcher is enabled")
		}
		if c.Watcher.SandwichMinProfit < c.Watcher.BackrunMinProfit {
			return fmt.Errorf("config: watcher.sandwich_min_profit must be at least backrun_min_profit")
		}
	}
	mode := strings.ToLower(c.Mode)
	if mode != "monitor" && strings.TrimSpace(c.Settlement.LedgerAddress) == "" {
		return fmt.Errorf("config: settlement.ledger_address is required in %s mode", mode)
	}
	return nil
}

// parsePairKey splits "BASE-QUOTE" into its two symbols.
func parsePairKey(s string) ([2]string, error) {
	parts := strings.Split(strings.TrimSpace(s), "-")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return [2]string{}, fmt.Errorf("invalid pair %q (want BASE-QUOTE)", s)
	}
	return [2]string{strings.ToUpper(parts[0]), strings.ToUpper(parts[1])}, nil
}
