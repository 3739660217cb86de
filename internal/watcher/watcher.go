// Package watcher scans the pending-transaction feed for swaps whose price
// impact opens a follow-up opportunity. Each observed transaction moves
// through a small state machine: candidate, classified, evaluated, then
// proposed or discarded. Entries unconfirmed after a block TTL are purged.
package watcher

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/arbiterlabs/flasharb/internal/domain"
)

// txState tracks how far a pending transaction got through evaluation.
type txState int

const (
	stateCandidate txState = iota
	stateClassified
	stateEvaluated
	stateProposed
	stateDiscarded
)

// OpportunityFinder scores a quote set; the detector implements it.
type OpportunityFinder interface {
	FindOpportunities(quotes domain.QuoteSet, gas domain.GasEstimate) []domain.Opportunity
}

// QuoteProvider exposes the latest poll cycle's quotes; the aggregator
// implements it.
type QuoteProvider interface {
	Latest() domain.QuoteSet
}

// Decoder classifies raw pending transactions into swap intent.
type Decoder interface {
	Decode(tx domain.PendingTx) (domain.PendingSwap, bool)
}

// Config holds the watcher's scoring thresholds.
type Config struct {
	// QueueSize bounds the proposal channel.
	QueueSize int
	// MaxBackrunBlocks is the TTL for tracked entries, in blocks.
	MaxBackrunBlocks uint64
	// BackrunMinProfit is the minimum net profit for a backrun proposal.
	BackrunMinProfit float64
	// SandwichMinProfit must exceed BackrunMinProfit; sandwiching carries
	// materially higher risk and gas cost.
	SandwichMinProfit float64
	// SandwichFraction is the front-run size as a fraction of the victim's.
	SandwichFraction float64
	// MinVictimImpactBps is the minimum estimated victim slippage for a
	// sandwich to be worth the squeeze.
	MinVictimImpactBps float64
	// LoanFeeBps prices the flash loan in proposal scoring.
	LoanFeeBps float64
	// ProposalTTL is how long a proposed request stays submittable.
	ProposalTTL time.Duration
}

// entry is the per-hash state machine record.
type entry struct {
	state     txState
	seenBlock uint64
}

// Watcher consumes the mempool feed. It owns its entries map exclusively:
// one goroutine handles every notification, so no locking is needed, and a
// slow evaluation can never block the feed longer than one entry.
type Watcher struct {
	cfg      Config
	source   domain.PendingTxSource
	decoder  Decoder
	quotes   QuoteProvider
	finder   OpportunityFinder
	gas      func() domain.GasEstimate
	impact   map[string]float64
	ownAddr  string
	logger   *slog.Logger
	entries  map[string]*entry
	headSeen uint64

	proposals chan domain.SettlementRequest
}

// New creates a Watcher. ownAddr is the engine's own sending address;
// transactions from it are never treated as victims. gas may be nil.
func New(cfg Config, source domain.PendingTxSource, decoder Decoder, quotes QuoteProvider, finder OpportunityFinder, gas func() domain.GasEstimate, impactCoeffs map[string]float64, ownAddr string, logger *slog.Logger) *Watcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.MaxBackrunBlocks == 0 {
		cfg.MaxBackrunBlocks = 3
	}
	if cfg.SandwichFraction <= 0 {
		cfg.SandwichFraction = 0.5
	}
	if cfg.ProposalTTL <= 0 {
		cfg.ProposalTTL = 30 * time.Second
	}
	if gas == nil {
		gas = func() domain.GasEstimate { return domain.GasEstimate{} }
	}
	return &Watcher{
		cfg:       cfg,
		source:    source,
		decoder:   decoder,
		quotes:    quotes,
		finder:    finder,
		gas:       gas,
		impact:    impactCoeffs,
		ownAddr:   strings.ToLower(ownAddr),
		logger:    logger.With(slog.String("component", "watcher")),
		entries:   make(map[string]*entry),
		proposals: make(chan domain.SettlementRequest, cfg.QueueSize),
	}
}

// Proposals returns the channel of settlement requests the watcher emits.
// The orchestrator gates and executes them.
func (w *Watcher) Proposals() <-chan domain.SettlementRequest {
	return w.proposals
}

// Run subscribes to the feed and processes notifications until ctx ends.
func (w *Watcher) Run(ctx context.Context) error {
	feed, err := w.source.Subscribe(ctx)
	if err != nil {
		return err
	}
	w.logger.Info("watcher started")
	defer w.logger.Info("watcher stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tx, ok := <-feed:
			if !ok {
				return domain.ErrWSDisconnect
			}
			w.handle(tx)
		}
	}
}

// handle advances one transaction through the state machine.
func (w *Watcher) handle(tx domain.PendingTx) {
	w.advanceHead(tx.SeenBlock)

	if _, seen := w.entries[tx.Hash]; seen {
		return
	}
	e := &entry{state: stateCandidate, seenBlock: tx.SeenBlock}
	w.entries[tx.Hash] = e

	// Our own settlements must never look like victims.
	if w.ownAddr != "" && strings.ToLower(tx.From) == w.ownAddr {
		e.state = stateDiscarded
		return
	}

	swap, ok := w.decoder.Decode(tx)
	if !ok {
		e.state = stateDiscarded
		return
	}
	e.state = stateClassified
	w.logger.Debug("pending swap classified",
		slog.String("tx", swap.TxHash),
		slog.String("venue", swap.Venue),
		slog.String("token_in", swap.TokenIn),
		slog.Float64("amount_in", swap.AmountIn))

	req, ok := w.evaluate(swap)
	e.state = stateEvaluated
	if !ok {
		e.state = stateDiscarded
		return
	}

	select {
	case w.proposals <- req:
		e.state = stateProposed
		w.logger.Info("proposal emitted",
			slog.String("kind", string(req.Kind)),
			slog.String("target_tx", req.TargetTxHash),
			slog.String("pair", req.Pair.Key()))
	default:
		// A full queue means the engine is saturated; this opportunity is
		// already stale by the time it would drain.
		e.state = stateDiscarded
	}
}

// advanceHead purges entries older than the block TTL whenever the observed
// chain height moves.
func (w *Watcher) advanceHead(block uint64) {
	if block <= w.headSeen {
		return
	}
	w.headSeen = block
	for hash, e := range w.entries {
		if block-e.seenBlock > w.cfg.MaxBackrunBlocks {
			delete(w.entries, hash)
		}
	}
}

// evaluate scores both strategies against the victim swap and returns the
// more profitable qualifying proposal, if any.
func (w *Watcher) evaluate(swap domain.PendingSwap) (domain.SettlementRequest, bool) {
	quotes := w.quotes.Latest()
	pair, pairQuotes, ok := matchPair(quotes, swap)
	if !ok {
		return domain.SettlementRequest{}, false
	}

	backrun, backrunOK := w.scoreBackrun(pair, pairQuotes, swap)
	sandwich, sandwichOK := w.scoreSandwich(pair, pairQuotes, swap)

	switch {
	case sandwichOK && (!backrunOK || sandwich.profit > backrun.profit):
		return w.buildRequest(domain.RequestSandwich, pair, swap, sandwich), true
	case backrunOK:
		return w.buildRequest(domain.RequestBackrun, pair, swap, backrun), true
	default:
		return domain.SettlementRequest{}, false
	}
}

// matchPair finds the tracked pair the victim swap trades, in either token
// order.
func matchPair(quotes domain.QuoteSet, swap domain.PendingSwap) (domain.Pair, []domain.VenueQuote, bool) {
	for _, p := range []domain.Pair{
		domain.NewPair(swap.TokenIn, swap.TokenOut),
		domain.NewPair(swap.TokenOut, swap.TokenIn),
	} {
		if qs, ok := quotes[p.Key()]; ok && len(qs) >= 2 {
			return p, qs, true
		}
	}
	return domain.Pair{}, nil, false
}
