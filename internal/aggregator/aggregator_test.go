package aggregator

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/arbiterlabs/flasharb/internal/domain"
	"github.com/arbiterlabs/flasharb/internal/venue"
)

// fakeAdapter implements domain.ExchangeAdapter for tests.
type fakeAdapter struct {
	name  string
	quote domain.VenueQuote
	err   error
	delay time.Duration
}

func (f *fakeAdapter) Name() string               { return f.name }
func (f *fakeAdapter) ImpactCoefficient() float64 { return 1.0 }

func (f *fakeAdapter) Quote(ctx context.Context, pair domain.Pair) (domain.VenueQuote, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return domain.VenueQuote{}, ctx.Err()
		}
	}
	if f.err != nil {
		return domain.VenueQuote{}, f.err
	}
	q := f.quote
	q.Venue = f.name
	q.Pair = pair
	if q.ObservedAt.IsZero() {
		q.ObservedAt = time.Now()
	}
	return q, nil
}

func (f *fakeAdapter) Swap(ctx context.Context, tokenIn, tokenOut string, amountIn, minOut float64, deadline time.Time) (domain.SwapResult, error) {
	return domain.SwapResult{}, errors.New("not implemented")
}

func discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newAggregator(t *testing.T, cfg Config, adapters ...domain.ExchangeAdapter) *Aggregator {
	t.Helper()
	reg, err := venue.NewRegistry(adapters...)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	pair := domain.NewPair("WETH", "USDC")
	return New(reg, []domain.Pair{pair}, cfg, nil, nil, discard())
}

func goodQuote(price float64) domain.VenueQuote {
	return domain.VenueQuote{Price: price, LiquidityA: 1000, LiquidityB: 1000 * price, FeeBps: 30}
}

func TestPollAll_AllVenuesHealthy(t *testing.T) {
	agg := newAggregator(t, Config{},
		&fakeAdapter{name: "uniswap", quote: goodQuote(2000)},
		&fakeAdapter{name: "sushiswap", quote: goodQuote(2010)},
	)

	set := agg.PollAll(context.Background())
	quotes := set["WETH-USDC"]
	if len(quotes) != 2 {
		t.Fatalf("expected 2 quotes, got %d", len(quotes))
	}
	// Sorted by venue name for determinism.
	if quotes[0].Venue != "sushiswap" || quotes[1].Venue != "uniswap" {
		t.Errorf("expected deterministic venue order, got %s, %s", quotes[0].Venue, quotes[1].Venue)
	}
}

func TestPollAll_PartialVenueFailure(t *testing.T) {
	agg := newAggregator(t, Config{},
		&fakeAdapter{name: "uniswap", quote: goodQuote(2000)},
		&fakeAdapter{name: "sushiswap", err: domain.ErrVenueUnavailable},
	)

	set := agg.PollAll(context.Background())
	quotes := set["WETH-USDC"]
	if len(quotes) != 1 {
		t.Fatalf("expected 1 quote after venue failure, got %d", len(quotes))
	}
	if quotes[0].Venue != "uniswap" {
		t.Errorf("expected surviving quote from uniswap, got %s", quotes[0].Venue)
	}
}

func TestPollAll_SlowVenueTimesOut(t *testing.T) {
	agg := newAggregator(t, Config{QuoteTimeout: 20 * time.Millisecond},
		&fakeAdapter{name: "uniswap", quote: goodQuote(2000)},
		&fakeAdapter{name: "sushiswap", quote: goodQuote(2010), delay: 500 * time.Millisecond},
	)

	start := time.Now()
	set := agg.PollAll(context.Background())
	elapsed := time.Since(start)

	quotes := set["WETH-USDC"]
	if len(quotes) != 1 {
		t.Fatalf("expected slow venue to be dropped, got %d quotes", len(quotes))
	}
	// A single slow venue must not stall the cycle beyond its timeout.
	if elapsed > 300*time.Millisecond {
		t.Errorf("poll took %s, expected bounded by quote timeout", elapsed)
	}
}

func TestPollAll_StaleQuotesDropped(t *testing.T) {
	stale := goodQuote(2000)
	stale.ObservedAt = time.Now().Add(-time.Minute)

	agg := newAggregator(t, Config{MaxQuoteAge: 10 * time.Second},
		&fakeAdapter{name: "uniswap", quote: stale},
		&fakeAdapter{name: "sushiswap", quote: goodQuote(2010)},
	)

	set := agg.PollAll(context.Background())
	quotes := set["WETH-USDC"]
	if len(quotes) != 1 {
		t.Fatalf("expected stale quote dropped, got %d quotes", len(quotes))
	}
	if quotes[0].Venue != "sushiswap" {
		t.Errorf("expected fresh quote from sushiswap, got %s", quotes[0].Venue)
	}
}

func TestPollAll_InvalidQuotesDropped(t *testing.T) {
	agg := newAggregator(t, Config{},
		&fakeAdapter{name: "uniswap", quote: domain.VenueQuote{Price: 0}},
		&fakeAdapter{name: "sushiswap", quote: goodQuote(2010)},
	)

	set := agg.PollAll(context.Background())
	if len(set["WETH-USDC"]) != 1 {
		t.Fatalf("expected zero-price quote dropped, got %d", len(set["WETH-USDC"]))
	}
}
