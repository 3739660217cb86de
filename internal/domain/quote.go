package domain

import (
	"sort"
	"time"
)

// VenueQuote is one venue's view of a pair at a single poll cycle: the spot
// price, the liquidity available on each side of the pool, and the venue's
// swap fee. Quotes are immutable; the next poll cycle supersedes them rather
// than mutating them in place.
type VenueQuote struct {
	Venue      string
	Pair       Pair
	Price      float64 // TokenB per TokenA
	LiquidityA float64 // pool depth in TokenA units
	LiquidityB float64 // pool depth in TokenB units
	FeeBps     float64
	ObservedAt time.Time
}

// Stale reports whether the quote is older than maxAge at the given instant.
func (q VenueQuote) Stale(maxAge time.Duration, now time.Time) bool {
	return now.Sub(q.ObservedAt) > maxAge
}

// Valid reports whether the quote carries a usable price and liquidity.
func (q VenueQuote) Valid() bool {
	return q.Price > 0 && q.LiquidityA > 0 && q.LiquidityB > 0
}

// QuoteSet is the aggregated output of one poll cycle, keyed by Pair.Key().
type QuoteSet map[string][]VenueQuote

// NativeQuotePrice derives the native token's price in quote-token units from
// the tracked pairs themselves, so no separate price feed is needed: 1.0 when
// a pair quotes in the native token directly, the cross-venue average when a
// pair has it as base. The second return is false when no tracked pair prices
// it this cycle. Pairs are scanned in sorted key order for determinism.
func (qs QuoteSet) NativeQuotePrice(native string) (float64, bool) {
	keys := make([]string, 0, len(qs))
	for k := range qs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		pairQuotes := qs[key]
		if len(pairQuotes) == 0 {
			continue
		}
		pair := pairQuotes[0].Pair
		if pair.TokenB == native {
			return 1.0, true
		}
		if pair.TokenA != native {
			continue
		}
		var sum float64
		for _, q := range pairQuotes {
			sum += q.Price
		}
		return sum / float64(len(pairQuotes)), true
	}
	return 0, false
}

// GasEstimate carries the network-cost inputs the detector needs to convert
// gas into quote-token units.
type GasEstimate struct {
	// GasPriceWei is the current suggested gas price.
	GasPriceWei float64
	// SettlementGas is the estimated gas used by one full settlement
	// (borrow + two swaps + repay).
	SettlementGas uint64
	// NativeQuotePrice is the price of the chain's native token expressed in
	// quote-token units, used to convert the gas bill.
	NativeQuotePrice float64
}

// QuoteCost returns the estimated gas cost of one settlement in quote-token
// units. Returns zero when any input is missing rather than guessing.
func (g GasEstimate) QuoteCost() float64 {
	if g.GasPriceWei <= 0 || g.SettlementGas == 0 || g.NativeQuotePrice <= 0 {
		return 0
	}
	const weiPerNative = 1e18
	nativeSpent := g.GasPriceWei * float64(g.SettlementGas) / weiPerNative
	return nativeSpent * g.NativeQuotePrice
}
