package watcher

import (
	"log/slog"
	"testing"
	"time"

	"github.com/arbiterlabs/flasharb/internal/domain"
)

type fakeQuotes struct {
	set domain.QuoteSet
}

func (f *fakeQuotes) Latest() domain.QuoteSet { return f.set }

type fakeDecoder struct {
	swaps map[string]domain.PendingSwap
}

func (f *fakeDecoder) Decode(tx domain.PendingTx) (domain.PendingSwap, bool) {
	s, ok := f.swaps[tx.Hash]
	return s, ok
}

type fakeFinder struct {
	opps []domain.Opportunity
}

func (f *fakeFinder) FindOpportunities(quotes domain.QuoteSet, gas domain.GasEstimate) []domain.Opportunity {
	return f.opps
}

func discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func testQuotes(pair domain.Pair) domain.QuoteSet {
	return domain.QuoteSet{
		pair.Key(): {
			{Venue: "sushiswap", Pair: pair, Price: 100, LiquidityA: 1000, LiquidityB: 100_000, FeeBps: 30, ObservedAt: time.Now()},
			{Venue: "uniswap", Pair: pair, Price: 100, LiquidityA: 1000, LiquidityB: 100_000, FeeBps: 30, ObservedAt: time.Now()},
		},
	}
}

func testConfig() Config {
	return Config{
		QueueSize:          8,
		MaxBackrunBlocks:   3,
		BackrunMinProfit:   10,
		SandwichMinProfit:  100,
		SandwichFraction:   0.5,
		MinVictimImpactBps: 40,
		LoanFeeBps:         9,
	}
}

func newWatcher(cfg Config, pair domain.Pair, decoder *fakeDecoder, finder *fakeFinder) *Watcher {
	return New(cfg, nil, decoder, &fakeQuotes{set: testQuotes(pair)}, finder,
		nil, nil, "0x00000000000000000000000000000000000000aa", discard())
}

func drainProposal(t *testing.T, w *Watcher) (domain.SettlementRequest, bool) {
	t.Helper()
	select {
	case req := <-w.Proposals():
		return req, true
	default:
		return domain.SettlementRequest{}, false
	}
}

func TestHandle_BackrunProposal(t *testing.T) {
	pair := domain.NewPair("WETH", "USDC")
	// The victim sells one WETH: too small a squeeze for a sandwich, but the
	// finder sees a post-trade round trip.
	decoder := &fakeDecoder{swaps: map[string]domain.PendingSwap{
		"0x01": {TxHash: "0x01", From: "0xbb", Venue: "uniswap", TokenIn: "WETH", TokenOut: "USDC", AmountIn: 1, SeenBlock: 100},
	}}
	finder := &fakeFinder{opps: []domain.Opportunity{{
		Pair: pair, BuyVenue: "uniswap", SellVenue: "sushiswap",
		TradeSize: 50, Notional: 5000, NetProfit: 42,
	}}}
	w := newWatcher(testConfig(), pair, decoder, finder)

	w.handle(domain.PendingTx{Hash: "0x01", From: "0xbb", To: "0xrouter", SeenBlock: 100})

	req, ok := drainProposal(t, w)
	if !ok {
		t.Fatal("expected a backrun proposal")
	}
	if req.Kind != domain.RequestBackrun {
		t.Errorf("kind = %s, want backrun", req.Kind)
	}
	if req.TargetTxHash != "0x01" {
		t.Errorf("target tx = %s", req.TargetTxHash)
	}
	if req.BorrowToken != "USDC" || req.BorrowAmount != 5000 {
		t.Errorf("borrow = %s %f", req.BorrowToken, req.BorrowAmount)
	}
	if len(req.Legs) != 2 || req.Legs[1].TokenIn != req.Legs[0].TokenOut {
		t.Errorf("legs do not chain: %+v", req.Legs)
	}
}

func TestHandle_BackrunBelowThresholdDiscarded(t *testing.T) {
	pair := domain.NewPair("WETH", "USDC")
	decoder := &fakeDecoder{swaps: map[string]domain.PendingSwap{
		"0x01": {TxHash: "0x01", From: "0xbb", Venue: "uniswap", TokenIn: "WETH", TokenOut: "USDC", AmountIn: 1, SeenBlock: 100},
	}}
	finder := &fakeFinder{opps: []domain.Opportunity{{
		Pair: pair, BuyVenue: "uniswap", SellVenue: "sushiswap",
		TradeSize: 1, Notional: 100, NetProfit: 2, // below BackrunMinProfit
	}}}
	w := newWatcher(testConfig(), pair, decoder, finder)

	w.handle(domain.PendingTx{Hash: "0x01", From: "0xbb", SeenBlock: 100})
	if _, ok := drainProposal(t, w); ok {
		t.Fatal("expected no proposal below the profit threshold")
	}
}

func TestHandle_SandwichProposal(t *testing.T) {
	pair := domain.NewPair("WETH", "USDC")
	// A 20000 USDC victim buy against 100k of quote-side depth moves the
	// pool hard; sandwiching clears both bars.
	decoder := &fakeDecoder{swaps: map[string]domain.PendingSwap{
		"0x02": {TxHash: "0x02", From: "0xbb", Venue: "uniswap", TokenIn: "USDC", TokenOut: "WETH", AmountIn: 20_000, SeenBlock: 100},
	}}
	w := newWatcher(testConfig(), pair, decoder, &fakeFinder{})

	w.handle(domain.PendingTx{Hash: "0x02", From: "0xbb", SeenBlock: 100})

	req, ok := drainProposal(t, w)
	if !ok {
		t.Fatal("expected a sandwich proposal")
	}
	if req.Kind != domain.RequestSandwich {
		t.Errorf("kind = %s, want sandwich", req.Kind)
	}
	if req.BorrowToken != "USDC" {
		t.Errorf("expected borrow in the victim's input token, got %s", req.BorrowToken)
	}
	if req.BorrowAmount != 10_000 {
		t.Errorf("expected front size = half the victim, got %f", req.BorrowAmount)
	}
	if len(req.Legs) != 2 || req.Legs[0].Venue != "uniswap" || req.Legs[1].Venue != "uniswap" {
		t.Errorf("expected both legs on the victim's venue: %+v", req.Legs)
	}
	if req.Legs[1].TokenOut != "USDC" {
		t.Errorf("final leg must return the borrowed token, got %s", req.Legs[1].TokenOut)
	}
}

func TestHandle_SandwichRejectedOnLowVictimImpact(t *testing.T) {
	pair := domain.NewPair("WETH", "USDC")
	// 100 USDC barely dents the pool; the squeeze is not worth two legs.
	decoder := &fakeDecoder{swaps: map[string]domain.PendingSwap{
		"0x03": {TxHash: "0x03", From: "0xbb", Venue: "uniswap", TokenIn: "USDC", TokenOut: "WETH", AmountIn: 100, SeenBlock: 100},
	}}
	w := newWatcher(testConfig(), pair, decoder, &fakeFinder{})

	w.handle(domain.PendingTx{Hash: "0x03", From: "0xbb", SeenBlock: 100})
	if _, ok := drainProposal(t, w); ok {
		t.Fatal("expected no proposal for a low-impact victim")
	}
}

func TestHandle_OwnTransactionsExcluded(t *testing.T) {
	pair := domain.NewPair("WETH", "USDC")
	decoder := &fakeDecoder{swaps: map[string]domain.PendingSwap{
		"0x04": {TxHash: "0x04", Venue: "uniswap", TokenIn: "USDC", TokenOut: "WETH", AmountIn: 20_000, SeenBlock: 100},
	}}
	w := newWatcher(testConfig(), pair, decoder, &fakeFinder{})

	w.handle(domain.PendingTx{Hash: "0x04", From: "0x00000000000000000000000000000000000000AA", SeenBlock: 100})
	if _, ok := drainProposal(t, w); ok {
		t.Fatal("own transactions must never be treated as victims")
	}
	if w.entries["0x04"].state != stateDiscarded {
		t.Errorf("expected discarded state, got %d", w.entries["0x04"].state)
	}
}

func TestHandle_NonSwapDiscarded(t *testing.T) {
	pair := domain.NewPair("WETH", "USDC")
	w := newWatcher(testConfig(), pair, &fakeDecoder{}, &fakeFinder{})

	w.handle(domain.PendingTx{Hash: "0x05", From: "0xbb", SeenBlock: 100})
	if _, ok := drainProposal(t, w); ok {
		t.Fatal("expected no proposal for an unclassifiable transaction")
	}
	if w.entries["0x05"].state != stateDiscarded {
		t.Errorf("expected discarded state, got %d", w.entries["0x05"].state)
	}
}

func TestHandle_DuplicateHashIgnored(t *testing.T) {
	pair := domain.NewPair("WETH", "USDC")
	decoder := &fakeDecoder{swaps: map[string]domain.PendingSwap{
		"0x06": {TxHash: "0x06", From: "0xbb", Venue: "uniswap", TokenIn: "USDC", TokenOut: "WETH", AmountIn: 20_000, SeenBlock: 100},
	}}
	w := newWatcher(testConfig(), pair, decoder, &fakeFinder{})

	tx := domain.PendingTx{Hash: "0x06", From: "0xbb", SeenBlock: 100}
	w.handle(tx)
	w.handle(tx)

	if _, ok := drainProposal(t, w); !ok {
		t.Fatal("expected first notification to propose")
	}
	if _, ok := drainProposal(t, w); ok {
		t.Fatal("duplicate notification must not propose again")
	}
}

func TestAdvanceHead_PurgesExpiredEntries(t *testing.T) {
	pair := domain.NewPair("WETH", "USDC")
	w := newWatcher(testConfig(), pair, &fakeDecoder{}, &fakeFinder{})

	w.handle(domain.PendingTx{Hash: "0x07", From: "0xbb", SeenBlock: 100})
	if _, ok := w.entries["0x07"]; !ok {
		t.Fatal("expected entry tracked")
	}

	// Four blocks later the entry is past its TTL.
	w.handle(domain.PendingTx{Hash: "0x08", From: "0xbb", SeenBlock: 104})
	if _, ok := w.entries["0x07"]; ok {
		t.Error("expected expired entry purged")
	}
	if _, ok := w.entries["0x08"]; !ok {
		t.Error("expected fresh entry retained")
	}
}
