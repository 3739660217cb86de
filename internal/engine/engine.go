// Package engine runs the monitoring loop that ties price aggregation,
// opportunity detection, safety gating, and settlement together. It owns the
// only goroutines that start settlements; everything below it is reactive.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/arbiterlabs/flasharb/internal/domain"
	"github.com/arbiterlabs/flasharb/internal/settlement"
)

// Poller produces one quote set per poll cycle.
type Poller interface {
	PollAll(ctx context.Context) domain.QuoteSet
}

// Finder scans a quote set for executable opportunities.
type Finder interface {
	FindOpportunities(quotes domain.QuoteSet, gas domain.GasEstimate) []domain.Opportunity
}

// Settler executes one settlement request end to end.
type Settler interface {
	Settle(ctx context.Context, req domain.SettlementRequest) (domain.SettlementOutcome, error)
}

// Governor is the slice of the safety governor the engine consults.
type Governor interface {
	AllowSettlement() bool
	Snapshot() domain.SafetyState
	UpdateGasPrice(priceWei float64)
}

// OpportunitySink receives every detection cycle's opportunities for
// telemetry. It must not block.
type OpportunitySink interface {
	Opportunities(ctx context.Context, opps []domain.Opportunity)
}

// Config holds the engine's timing and gating parameters.
type Config struct {
	PollInterval      time.Duration
	GasSampleInterval time.Duration
	// DeadlineWindow bounds each settlement request from creation to its
	// on-chain deadline.
	DeadlineWindow time.Duration
	// LockTTL bounds the distributed per-pair lock when one is configured.
	LockTTL time.Duration

	// NativeToken converts gas spend into quote-token units via the tracked
	// pairs' own prices.
	NativeToken   string
	SettlementGas uint64

	// MinProfitAbs and LowMarginFactor implement the congestion skip: while
	// gas is spiked, opportunities below LowMarginFactor x MinProfitAbs are
	// not worth competing for.
	MinProfitAbs    float64
	LowMarginFactor float64

	LoanFeeBps float64
}

func (c *Config) defaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 3 * time.Second
	}
	if c.GasSampleInterval <= 0 {
		c.GasSampleInterval = 15 * time.Second
	}
	if c.DeadlineWindow <= 0 {
		c.DeadlineWindow = time.Minute
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 30 * time.Second
	}
	if c.LowMarginFactor <= 0 {
		c.LowMarginFactor = 2.0
	}
}

// Engine is the orchestrator. In monitor mode settler is nil and detected
// opportunities are only recorded; in trade mode each eligible opportunity is
// settled in its own goroutine, serialized per pair.
type Engine struct {
	cfg      Config
	poller   Poller
	finder   Finder
	settler  Settler // nil in monitor mode
	governor Governor
	gas      domain.GasPricer

	store     domain.OpportunityStore         // optional
	sink      OpportunitySink                 // optional
	locks     domain.LockManager              // optional, cross-instance
	proposals <-chan domain.SettlementRequest // optional, watcher feed

	logger *slog.Logger
	now    func() time.Time

	gasPriceBits    atomic.Uint64
	lastNativePrice atomic.Uint64

	mu       sync.Mutex
	inflight map[string]bool // pair keys with a settlement running

	settling sync.WaitGroup
}

// New creates an Engine. settler, store, sink, locks, and proposals may all
// be nil/absent depending on the run mode.
func New(cfg Config, poller Poller, finder Finder, settler Settler, governor Governor, gas domain.GasPricer, logger *slog.Logger) *Engine {
	cfg.defaults()
	return &Engine{
		cfg:      cfg,
		poller:   poller,
		finder:   finder,
		settler:  settler,
		governor: governor,
		gas:      gas,
		logger:   logger.With(slog.String("component", "engine")),
		now:      time.Now,
		inflight: make(map[string]bool),
	}
}

// WithStore attaches an opportunity store.
func (e *Engine) WithStore(store domain.OpportunityStore) *Engine {
	e.store = store
	return e
}

// WithSink attaches a telemetry sink.
func (e *Engine) WithSink(sink OpportunitySink) *Engine {
	e.sink = sink
	return e
}

// WithLocks attaches a distributed lock manager for multi-instance
// deployments.
func (e *Engine) WithLocks(locks domain.LockManager) *Engine {
	e.locks = locks
	return e
}

// WithProposals attaches the watcher's proposal feed.
func (e *Engine) WithProposals(proposals <-chan domain.SettlementRequest) *Engine {
	e.proposals = proposals
	return e
}

// Run drives the monitor, gas-sampling, and proposal loops until the context
// is cancelled, then waits for in-flight settlements to finish.
func (e *Engine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.monitorLoop(ctx) })
	g.Go(func() error { return e.gasLoop(ctx) })
	if e.proposals != nil {
		g.Go(func() error { return e.proposalLoop(ctx) })
	}

	err := g.Wait()
	e.settling.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (e *Engine) monitorLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.runCycle(ctx)
		}
	}
}

// runCycle performs one poll, detection, and dispatch pass.
func (e *Engine) runCycle(ctx context.Context) {
	quotes := e.poller.PollAll(ctx)
	if len(quotes) == 0 {
		return
	}

	gas := e.gasEstimate(quotes)
	opps := e.finder.FindOpportunities(quotes, gas)
	if len(opps) == 0 {
		return
	}
	e.record(ctx, opps)

	if e.settler == nil {
		return
	}
	for _, opp := range opps {
		e.dispatch(opp)
	}
}

// dispatch runs the gating ladder for one opportunity and, if it survives,
// starts its settlement goroutine.
func (e *Engine) dispatch(opp domain.Opportunity) {
	if !e.governor.AllowSettlement() {
		e.logger.Info("settlement halted by cooldown", slog.String("pair", opp.Pair.Key()))
		return
	}
	state := e.governor.Snapshot()
	if state.Congested && opp.NetProfit < e.cfg.LowMarginFactor*e.cfg.MinProfitAbs {
		e.logger.Info("skipping low-margin opportunity during congestion",
			slog.String("pair", opp.Pair.Key()),
			slog.Float64("net_profit", opp.NetProfit))
		return
	}

	req := settlement.BuildArbitrageRequest(opp, e.cfg.LoanFeeBps, e.now().Add(e.cfg.DeadlineWindow))
	e.startSettlement(req)
}

// startSettlement claims the pair locally and, when configured, across
// instances, then settles on a detached context so shutdown can wait for it.
func (e *Engine) startSettlement(req domain.SettlementRequest) {
	pairKey := req.Pair.Key()
	if !e.claim(pairKey) {
		e.logger.Debug("pair already in flight", slog.String("pair", pairKey))
		return
	}

	var unlock func()
	if e.locks != nil {
		lockCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		u, err := e.locks.Acquire(lockCtx, "settle:"+pairKey, e.cfg.LockTTL)
		cancel()
		if err != nil {
			e.release(pairKey)
			if errors.Is(err, domain.ErrLockHeld) {
				e.logger.Debug("pair locked by another instance", slog.String("pair", pairKey))
			} else {
				e.logger.Warn("lock acquire failed",
					slog.String("pair", pairKey),
					slog.String("error", err.Error()))
			}
			return
		}
		unlock = u
	}

	e.settling.Add(1)
	go func() {
		defer e.settling.Done()
		defer e.release(pairKey)
		if unlock != nil {
			defer unlock()
		}

		// Detached from the run context: a settlement that already started
		// finishes through shutdown, bounded by its own deadline.
		ctx, cancel := context.WithDeadline(context.Background(), req.Deadline)
		defer cancel()

		out, err := e.settler.Settle(ctx, req)
		if err != nil {
			e.logger.Error("settlement error",
				slog.String("request_id", req.ID),
				slog.String("pair", pairKey),
				slog.String("error", err.Error()))
			return
		}
		if out.Success {
			e.logger.Info("settlement succeeded",
				slog.String("request_id", req.ID),
				slog.String("pair", pairKey),
				slog.Float64("profit", out.RealizedProfit))
		}
	}()
}

// proposalLoop consumes watcher proposals. Profit thresholds were already
// applied by the watcher, so only the safety and serialization gates run
// here.
func (e *Engine) proposalLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req, ok := <-e.proposals:
			if !ok {
				return domain.ErrWSDisconnect
			}
			if e.settler == nil {
				continue
			}
			if !e.governor.AllowSettlement() {
				e.logger.Info("proposal dropped by cooldown",
					slog.String("kind", string(req.Kind)),
					slog.String("pair", req.Pair.Key()))
				continue
			}
			if e.now().After(req.Deadline) {
				e.logger.Debug("proposal expired before dispatch",
					slog.String("request_id", req.ID))
				continue
			}
			e.startSettlement(req)
		}
	}
}

// gasLoop samples the gas price on a fixed cadence, feeding the governor's
// congestion axis and the detector's cost model.
func (e *Engine) gasLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.GasSampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.sampleGas(ctx)
		}
	}
}

func (e *Engine) sampleGas(ctx context.Context) {
	callCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	price, err := e.gas.SuggestGasPrice(callCtx)
	cancel()
	if err != nil {
		e.logger.Warn("gas price sample failed", slog.String("error", err.Error()))
		return
	}
	e.gasPriceBits.Store(math.Float64bits(price))
	e.governor.UpdateGasPrice(price)
}

// gasEstimate assembles the cost model for one detection pass. The native
// token's price comes from the tracked pairs themselves, so no extra feed is
// needed; when none of this cycle's quotes price it, the last seen value
// carries over.
func (e *Engine) gasEstimate(quotes domain.QuoteSet) domain.GasEstimate {
	return domain.GasEstimate{
		GasPriceWei:      math.Float64frombits(e.gasPriceBits.Load()),
		SettlementGas:    e.cfg.SettlementGas,
		NativeQuotePrice: e.nativePrice(quotes),
	}
}

func (e *Engine) nativePrice(quotes domain.QuoteSet) float64 {
	if price, ok := quotes.NativeQuotePrice(e.cfg.NativeToken); ok {
		e.lastNativePrice.Store(math.Float64bits(price))
		return price
	}
	return math.Float64frombits(e.lastNativePrice.Load())
}

// record persists and publishes the cycle's opportunities, best effort.
func (e *Engine) record(ctx context.Context, opps []domain.Opportunity) {
	if e.store != nil {
		for _, opp := range opps {
			if err := e.store.Record(ctx, opp); err != nil {
				e.logger.Warn("opportunity record failed",
					slog.String("id", opp.ID),
					slog.String("error", err.Error()))
			}
		}
	}
	if e.sink != nil {
		e.sink.Opportunities(ctx, opps)
	}
}

func (e *Engine) claim(pairKey string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inflight[pairKey] {
		return false
	}
	e.inflight[pairKey] = true
	return true
}

func (e *Engine) release(pairKey string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inflight, pairKey)
}
