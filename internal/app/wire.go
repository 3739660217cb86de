package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/arbiterlabs/flasharb/internal/aggregator"
	s3blob "github.com/arbiterlabs/flasharb/internal/blob/s3"
	"github.com/arbiterlabs/flasharb/internal/cache/redis"
	"github.com/arbiterlabs/flasharb/internal/config"
	"github.com/arbiterlabs/flasharb/internal/detector"
	"github.com/arbiterlabs/flasharb/internal/domain"
	"github.com/arbiterlabs/flasharb/internal/engine"
	"github.com/arbiterlabs/flasharb/internal/ledger"
	"github.com/arbiterlabs/flasharb/internal/mempool"
	"github.com/arbiterlabs/flasharb/internal/notify"
	"github.com/arbiterlabs/flasharb/internal/safety"
	"github.com/arbiterlabs/flasharb/internal/settlement"
	"github.com/arbiterlabs/flasharb/internal/store/postgres"
	"github.com/arbiterlabs/flasharb/internal/telemetry"
	"github.com/arbiterlabs/flasharb/internal/venue"
	"github.com/arbiterlabs/flasharb/internal/wallet"
	"github.com/arbiterlabs/flasharb/internal/watcher"
)

// Dependencies bundles everything the run modes operate on. Wire constructs
// it; the returned cleanup function tears connections down in reverse order.
type Dependencies struct {
	Governor    *safety.Governor
	Aggregator  *aggregator.Aggregator
	Detector    *detector.Detector
	Coordinator *settlement.Coordinator // nil outside trading modes
	Watcher     *watcher.Watcher        // nil unless the watcher is enabled
	Engine      *engine.Engine
	Archiver    *s3blob.Archiver // nil unless archival is enabled
	Notifier    *notify.Notifier
}

// settles reports whether the mode submits settlements on-chain.
func settles(mode string) bool {
	switch mode {
	case "trade", "watch", "full":
		return true
	default:
		return false
	}
}

// watches reports whether the mode consumes the mempool feed.
func watches(mode string) bool {
	switch mode {
	case "watch", "full":
		return true
	default:
		return false
	}
}

// rpcGasPricer adapts the RPC client's big.Int gas price to the float64 the
// cost model works in.
type rpcGasPricer struct {
	c *ethclient.Client
}

func (p rpcGasPricer) SuggestGasPrice(ctx context.Context) (float64, error) {
	wei, err := p.c.SuggestGasPrice(ctx)
	if err != nil {
		return 0, err
	}
	f, _ := new(big.Float).SetInt(wei).Float64()
	return f, nil
}

// Wire constructs the full dependency graph from configuration.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	mode := strings.ToLower(cfg.Mode)

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{}

	// --- Chain RPC ---
	eth, err := ethclient.DialContext(ctx, cfg.Chain.RPCURL)
	if err != nil {
		return fail(fmt.Errorf("wire: dial rpc: %w", err))
	}
	closers = append(closers, eth.Close)

	// --- Token table and pairs ---
	tokenEntries := make(map[string]venue.Token, len(cfg.Tokens))
	for sym, tc := range cfg.Tokens {
		if !common.IsHexAddress(tc.Address) {
			return fail(fmt.Errorf("wire: token %s has invalid address %q", sym, tc.Address))
		}
		tokenEntries[sym] = venue.Token{
			Address:  common.HexToAddress(tc.Address),
			Decimals: tc.Decimals,
		}
	}
	tokens := venue.NewTokenTable(tokenEntries)

	pairs := make([]domain.Pair, 0, len(cfg.Pairs))
	for _, p := range cfg.Pairs {
		pair, err := domain.ParsePair(p)
		if err != nil {
			return fail(fmt.Errorf("wire: %w", err))
		}
		pairs = append(pairs, pair)
	}

	// --- Wallet and signer (trading modes only) ---
	var signer *wallet.Signer
	if settles(mode) {
		keyHex, err := wallet.LoadKey(wallet.KeyConfig{
			RawPrivateKey:    cfg.Wallet.PrivateKey,
			EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
			KeyPassword:      cfg.Wallet.KeyPassword,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: wallet: %w", err))
		}
		signer, err = wallet.NewSigner(keyHex, cfg.Chain.ChainID, eth)
		if err != nil {
			return fail(fmt.Errorf("wire: signer: %w", err))
		}
	}

	// --- Venue adapters ---
	routers := make(map[string]common.Address, len(cfg.Venues))
	impactCoeffs := make(map[string]float64, len(cfg.Venues))
	adapters := make([]domain.ExchangeAdapter, 0, len(cfg.Venues))
	for _, vc := range cfg.Venues {
		if !common.IsHexAddress(vc.Router) {
			return fail(fmt.Errorf("wire: venue %s has invalid router %q", vc.Name, vc.Router))
		}
		router := common.HexToAddress(vc.Router)
		routers[vc.Name] = router

		pools := make(map[string]common.Address, len(vc.Pools))
		for key, addr := range vc.Pools {
			if !common.IsHexAddress(addr) {
				return fail(fmt.Errorf("wire: venue %s pool %s has invalid address %q", vc.Name, key, addr))
			}
			pools[key] = common.HexToAddress(addr)
		}

		var sender venue.Transactor
		if signer != nil {
			sender = signer
		}

		var adapter domain.ExchangeAdapter
		switch vc.Kind {
		case "constant_product":
			adapter = venue.NewConstantProduct(venue.ConstantProductConfig{
				Name:              vc.Name,
				Caller:            eth,
				Sender:            sender,
				Tokens:            tokens,
				Router:            router,
				FeeBps:            vc.FeeBps,
				ImpactCoefficient: vc.ImpactCoefficient,
				Pools:             pools,
			}, logger)
		case "concentrated":
			adapter = venue.NewConcentrated(venue.ConcentratedConfig{
				Name:              vc.Name,
				Caller:            eth,
				Sender:            sender,
				Tokens:            tokens,
				Router:            router,
				FeeBps:            vc.FeeBps,
				ImpactCoefficient: vc.ImpactCoefficient,
				Pools:             pools,
			}, logger)
		default:
			return fail(fmt.Errorf("wire: venue %s has unsupported kind %q", vc.Name, vc.Kind))
		}
		adapters = append(adapters, adapter)
		impactCoeffs[vc.Name] = adapter.ImpactCoefficient()
	}
	registry, err := venue.NewRegistry(adapters...)
	if err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}

	// --- Redis (optional) ---
	var (
		quoteCache domain.QuoteCache
		locks      domain.LockManager
		emitter    *telemetry.Emitter
	)
	if cfg.Redis.Addr != "" {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			// Redis is observability and cross-instance coordination, not
			// correctness; a single instance runs fine without it.
			logger.Warn("redis unavailable, continuing without cache and telemetry",
				slog.String("error", err.Error()))
		} else {
			closers = append(closers, func() { _ = redisClient.Close() })
			quoteCache = redis.NewQuoteCache(redisClient)
			locks = redis.NewLockManager(redisClient)
			emitter = telemetry.NewEmitter(redis.NewSignalBus(redisClient), logger)
		}
	}

	// --- Postgres (settling modes persist history) ---
	var (
		outcomeStore domain.OutcomeStore
		oppStore     domain.OpportunityStore
	)
	if settles(mode) {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		outcomeStore = postgres.NewOutcomeStore(pgClient)
		oppStore = postgres.NewOpportunityStore(pgClient)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	alerts := notify.NewAlerts(deps.Notifier)

	// --- Safety governor ---
	var stateSink safety.StateSink
	if emitter != nil {
		stateSink = telemetry.NewStateFanout(emitter, alerts)
	} else {
		stateSink = telemetry.NewStateFanout(alerts)
	}
	deps.Governor = safety.New(safety.Config{
		MaxConsecutiveFailures: cfg.Safety.MaxConsecutiveFailures,
		Cooldown:               cfg.Safety.Cooldown.Duration,
		GasSpikeFactor:         cfg.Safety.GasSpikeFactor,
		SlippageMultiplier:     cfg.Safety.SlippageMultiplier,
		DecayChance:            cfg.Safety.DecayChance,
	}, stateSink, logger)

	// --- Aggregator and detector ---
	var snapshotSink aggregator.SnapshotSink
	if emitter != nil {
		snapshotSink = emitter
	}
	deps.Aggregator = aggregator.New(registry, pairs, aggregator.Config{
		QuoteTimeout: cfg.Aggregator.QuoteTimeout.Duration,
		MaxQuoteAge:  cfg.Aggregator.MaxQuoteAge.Duration,
	}, quoteCache, snapshotSink, logger)

	deps.Detector = detector.New(detector.Config{
		MinSpreadBps:         cfg.Detector.MinSpreadBps,
		MinProfitAbs:         cfg.Detector.MinProfitAbs,
		MinProfitPct:         cfg.Detector.MinProfitPct,
		MaxLiquidityFraction: cfg.Detector.MaxLiquidityFraction,
		MaxNotional:          cfg.Detector.MaxNotional,
		LoanFeeBps:           cfg.Detector.LoanFeeBps,
	}, impactCoeffs)

	// --- Settlement path (trading modes) ---
	if settles(mode) {
		ledgerClient, err := ledger.New(cfg.Settlement.LedgerAddress, tokens, routers, eth, signer, logger)
		if err != nil {
			return fail(fmt.Errorf("wire: ledger: %w", err))
		}
		var outcomeSink settlement.OutcomeSink
		if emitter != nil {
			outcomeSink = telemetry.NewOutcomeFanout(emitter, alerts)
		} else {
			outcomeSink = telemetry.NewOutcomeFanout(alerts)
		}
		deps.Coordinator = settlement.New(settlement.Config{
			SlippageBps:   cfg.Settlement.SlippageBps,
			SubmitTimeout: cfg.Settlement.SubmitTimeout.Duration,
		}, registry, ledgerClient, deps.Governor, outcomeStore, outcomeSink, logger)
	}

	// --- Mempool watcher ---
	if watches(mode) && cfg.Watcher.Enabled {
		source := mempool.NewSource(cfg.Chain.WSURL, logger)
		decoder := venue.NewSwapDecoder(routers, tokens)
		gov := deps.Governor
		agg := deps.Aggregator
		gasFn := func() domain.GasEstimate {
			nativePrice, _ := agg.Latest().NativeQuotePrice(cfg.Chain.NativeToken)
			return domain.GasEstimate{
				GasPriceWei:      gov.Snapshot().CurrentGasPriceWei,
				SettlementGas:    cfg.Chain.SettlementGas,
				NativeQuotePrice: nativePrice,
			}
		}
		ownAddr := ""
		if signer != nil {
			ownAddr = signer.Address().Hex()
		}
		deps.Watcher = watcher.New(watcher.Config{
			QueueSize:          cfg.Watcher.QueueSize,
			MaxBackrunBlocks:   cfg.Watcher.MaxBackrunBlocks,
			BackrunMinProfit:   cfg.Watcher.BackrunMinProfit,
			SandwichMinProfit:  cfg.Watcher.SandwichMinProfit,
			SandwichFraction:   cfg.Watcher.SandwichFraction,
			MinVictimImpactBps: cfg.Watcher.MinVictimImpactBps,
			LoanFeeBps:         cfg.Detector.LoanFeeBps,
		}, source, decoder, agg, deps.Detector, gasFn, impactCoeffs, ownAddr, logger)
	}

	// --- Archiver ---
	if cfg.Archive.Enabled && outcomeStore != nil {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.ArchiverConfig{
			Retention: time.Duration(cfg.Archive.RetentionDays) * 24 * time.Hour,
			Interval:  cfg.Archive.Interval.Duration,
		}, s3blob.NewWriter(s3Client), s3blob.NewReader(s3Client), outcomeStore, logger)
	}

	// --- Engine ---
	var settler engine.Settler
	if deps.Coordinator != nil {
		settler = deps.Coordinator
	}
	deps.Engine = engine.New(engine.Config{
		PollInterval:      cfg.Aggregator.PollInterval.Duration,
		GasSampleInterval: cfg.Safety.GasSampleInterval.Duration,
		NativeToken:       cfg.Chain.NativeToken,
		SettlementGas:     cfg.Chain.SettlementGas,
		MinProfitAbs:      cfg.Detector.MinProfitAbs,
		LowMarginFactor:   cfg.Safety.LowMarginFactor,
		LoanFeeBps:        cfg.Detector.LoanFeeBps,
	}, deps.Aggregator, deps.Detector, settler, deps.Governor, rpcGasPricer{c: eth}, logger)
	if oppStore != nil {
		deps.Engine.WithStore(oppStore)
	}
	if emitter != nil {
		deps.Engine.WithSink(emitter)
	}
	if locks != nil && settles(mode) {
		deps.Engine.WithLocks(locks)
	}
	if deps.Watcher != nil {
		deps.Engine.WithProposals(deps.Watcher.Proposals())
	}

	return deps, cleanup, nil
}
