// Package aggregator polls every configured venue for every tracked pair on
// a fixed cadence and normalizes the results into a per-pair quote set.
package aggregator

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/arbiterlabs/flasharb/internal/domain"
	"github.com/arbiterlabs/flasharb/internal/venue"
)

// SnapshotSink receives the quote set produced by each poll cycle. It must
// not block; telemetry implements it.
type SnapshotSink interface {
	QuoteSnapshot(ctx context.Context, quotes domain.QuoteSet)
}

// Config holds the aggregator's timing parameters.
type Config struct {
	// QuoteTimeout bounds each per-venue quote call; a venue that exceeds
	// it yields no quote this cycle.
	QuoteTimeout time.Duration
	// MaxQuoteAge drops quotes older than this before they reach the
	// detector.
	MaxQuoteAge time.Duration
}

// Aggregator fans out quote requests to all venues concurrently and fans the
// results back into a QuoteSet. A venue failing or timing out loses its
// quote for the cycle; it never fails the whole poll. There are no retries
// within a cycle; the next cycle is the retry.
type Aggregator struct {
	registry *venue.Registry
	pairs    []domain.Pair
	cfg      Config
	cache    domain.QuoteCache // optional
	sink     SnapshotSink      // optional
	logger   *slog.Logger

	now func() time.Time

	mu     sync.Mutex
	latest domain.QuoteSet
}

// New creates an Aggregator. cache and sink may be nil.
func New(registry *venue.Registry, pairs []domain.Pair, cfg Config, cache domain.QuoteCache, sink SnapshotSink, logger *slog.Logger) *Aggregator {
	if cfg.QuoteTimeout <= 0 {
		cfg.QuoteTimeout = 1500 * time.Millisecond
	}
	if cfg.MaxQuoteAge <= 0 {
		cfg.MaxQuoteAge = 10 * time.Second
	}
	return &Aggregator{
		registry: registry,
		pairs:    pairs,
		cfg:      cfg,
		cache:    cache,
		sink:     sink,
		logger:   logger.With(slog.String("component", "aggregator")),
		now:      time.Now,
	}
}

// PollAll queries every (pair, venue) combination concurrently, each bounded
// by the configured per-call timeout, and returns the surviving quotes keyed
// by pair. Partial venue failure degrades the set; it never errors.
func (a *Aggregator) PollAll(ctx context.Context) domain.QuoteSet {
	type result struct {
		pairKey string
		quote   domain.VenueQuote
		err     error
		venue   string
	}

	adapters := a.registry.All()
	results := make(chan result, len(a.pairs)*len(adapters))

	var wg sync.WaitGroup
	for _, pair := range a.pairs {
		for _, ad := range adapters {
			wg.Add(1)
			go func(pair domain.Pair, ad domain.ExchangeAdapter) {
				defer wg.Done()
				callCtx, cancel := context.WithTimeout(ctx, a.cfg.QuoteTimeout)
				defer cancel()
				q, err := ad.Quote(callCtx, pair)
				results <- result{pairKey: pair.Key(), quote: q, err: err, venue: ad.Name()}
			}(pair, ad)
		}
	}
	wg.Wait()
	close(results)

	now := a.now()
	set := make(domain.QuoteSet, len(a.pairs))
	for res := range results {
		if res.err != nil {
			// Venue-unavailable is absorbed here: skip the venue this
			// cycle, the monitoring loop keeps running.
			if !errors.Is(res.err, context.Canceled) {
				a.logger.Warn("venue quote failed",
					slog.String("venue", res.venue),
					slog.String("pair", res.pairKey),
					slog.String("error", res.err.Error()),
				)
			}
			continue
		}
		if !res.quote.Valid() {
			continue
		}
		if res.quote.Stale(a.cfg.MaxQuoteAge, now) {
			a.logger.Debug("dropping stale quote",
				slog.String("venue", res.venue),
				slog.String("pair", res.pairKey),
				slog.Time("observed_at", res.quote.ObservedAt),
			)
			continue
		}
		set[res.pairKey] = append(set[res.pairKey], res.quote)
	}

	// Stable venue order inside each pair so downstream output is
	// deterministic regardless of goroutine scheduling.
	for key := range set {
		quotes := set[key]
		sort.Slice(quotes, func(i, j int) bool { return quotes[i].Venue < quotes[j].Venue })
	}

	a.mu.Lock()
	a.latest = set
	a.mu.Unlock()

	a.publish(ctx, set)
	return set
}

// Latest returns the most recent poll cycle's quote set. The watcher scores
// pending transactions against it without triggering extra RPC traffic.
func (a *Aggregator) Latest() domain.QuoteSet {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.latest
}

// publish mirrors the cycle's quotes into the external cache and telemetry.
// Both are best-effort; failures are logged and absorbed.
func (a *Aggregator) publish(ctx context.Context, set domain.QuoteSet) {
	if a.cache != nil {
		for key, quotes := range set {
			if err := a.cache.SetQuotes(ctx, key, quotes); err != nil {
				a.logger.Warn("quote cache write failed",
					slog.String("pair", key),
					slog.String("error", err.Error()),
				)
			}
		}
	}
	if a.sink != nil {
		a.sink.QuoteSnapshot(ctx, set)
	}
}
