// Package detector finds profitable cross-venue round trips in a quote set.
// Detection is a pure function of its input: no hidden state, deterministic
// output ordering, so two calls on the same snapshot agree exactly.
package detector

import (
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"

	"github.com/arbiterlabs/flasharb/internal/domain"
)

// Config holds the detection thresholds. All are externally supplied; the
// detector has no hard-coded venue knowledge.
type Config struct {
	MinSpreadBps float64
	// MinProfitAbs is the minimum net profit in quote-token units.
	MinProfitAbs float64
	// MinProfitPct is the minimum net profit as a percentage of notional.
	MinProfitPct float64
	// MaxLiquidityFraction caps trade size at this fraction of the thinner
	// venue's base-token liquidity.
	MaxLiquidityFraction float64
	// MaxNotional caps the loan principal in quote-token units.
	MaxNotional float64
	LoanFeeBps  float64
}

// Detector sizes and scores opportunities. The impact coefficients map
// venue names to their liquidity-shape scaling (1.0 for constant-product,
// lower for concentrated liquidity).
type Detector struct {
	cfg    Config
	impact map[string]float64
}

// New creates a Detector. impactCoeffs may be nil; unknown venues default
// to the constant-product coefficient 1.0.
func New(cfg Config, impactCoeffs map[string]float64) *Detector {
	coeffs := make(map[string]float64, len(impactCoeffs))
	for k, v := range impactCoeffs {
		coeffs[k] = v
	}
	return &Detector{cfg: cfg, impact: coeffs}
}

// FindOpportunities scans every pair's quotes for profitable buy/sell venue
// combinations, returning at most one opportunity per pair (the most
// profitable), ordered by descending net profit. The gas estimate converts
// the network bill into quote-token units.
func (d *Detector) FindOpportunities(quotes domain.QuoteSet, gas domain.GasEstimate) []domain.Opportunity {
	var out []domain.Opportunity

	// Iterate pairs in sorted key order for deterministic output.
	keys := make([]string, 0, len(quotes))
	for k := range quotes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if opp, ok := d.bestForPair(quotes[key], gas); ok {
			out = append(out, opp)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].NetProfit != out[j].NetProfit {
			return out[i].NetProfit > out[j].NetProfit
		}
		return out[i].Pair.Key() < out[j].Pair.Key()
	})
	return out
}

// bestForPair evaluates every unordered venue combination for one pair and
// returns the highest-netProfit opportunity, if any clears the thresholds.
// Never more than one settlement per pair runs at a time, so emitting only
// the best is lossless.
func (d *Detector) bestForPair(quotes []domain.VenueQuote, gas domain.GasEstimate) (domain.Opportunity, bool) {
	var best domain.Opportunity
	found := false

	for i := 0; i < len(quotes); i++ {
		for j := i + 1; j < len(quotes); j++ {
			a, b := quotes[i], quotes[j]
			if !a.Valid() || !b.Valid() {
				continue
			}
			buy, sell := a, b
			if buy.Price > sell.Price {
				buy, sell = sell, buy
			}
			opp, ok := d.evaluate(buy, sell, gas)
			if !ok {
				continue
			}
			if !found || opp.NetProfit > best.NetProfit {
				best = opp
				found = true
			}
		}
	}
	return best, found
}

// evaluate prices one buy-venue/sell-venue combination: spread check,
// optimal sizing, then the net-profit formula with fee and gas deductions.
func (d *Detector) evaluate(buy, sell domain.VenueQuote, gas domain.GasEstimate) (domain.Opportunity, bool) {
	avg := (buy.Price + sell.Price) / 2
	if avg <= 0 {
		return domain.Opportunity{}, false
	}
	spreadBps := (sell.Price - buy.Price) / avg * 10_000
	if spreadBps < d.cfg.MinSpreadBps {
		return domain.Opportunity{}, false
	}

	size := d.optimalSize(buy, sell, spreadBps)
	if size <= 0 {
		return domain.Opportunity{}, false
	}

	buyImpact := d.coeff(buy.Venue) * size / (buy.LiquidityA + size)
	sellImpact := d.coeff(sell.Venue) * size / (sell.LiquidityA + size)

	// Impact degrades both executions: we pay up on the buy leg and
	// receive less on the sell leg.
	effBuy := buy.Price * (1 + buyImpact)
	effSell := sell.Price * (1 - sellImpact)

	notional := size * buy.Price
	grossProfit := size * (effSell - effBuy)
	feesCost := notional * (buy.FeeBps + sell.FeeBps + d.cfg.LoanFeeBps) / 10_000
	gasCost := gas.QuoteCost()
	netProfit := grossProfit - feesCost - gasCost

	if netProfit < d.cfg.MinProfitAbs {
		return domain.Opportunity{}, false
	}
	if notional <= 0 || netProfit/notional*100 < d.cfg.MinProfitPct {
		return domain.Opportunity{}, false
	}

	detectedAt := buy.ObservedAt
	if sell.ObservedAt.After(detectedAt) {
		detectedAt = sell.ObservedAt
	}

	return domain.Opportunity{
		ID:          deterministicID(buy, sell, size),
		Pair:        buy.Pair,
		BuyVenue:    buy.Venue,
		SellVenue:   sell.Venue,
		BuyPrice:    buy.Price,
		SellPrice:   sell.Price,
		SpreadBps:   spreadBps,
		TradeSize:   size,
		Notional:    notional,
		GrossProfit: grossProfit,
		FeesCost:    feesCost,
		GasCost:     gasCost,
		NetProfit:   netProfit,
		Confidence:  d.confidence(buy, sell, spreadBps, size),
		DetectedAt:  detectedAt,
	}, true
}

// optimalSize solves the price-impact approximation for the trade size at
// which cumulative impact across both legs consumes half the fee-adjusted
// margin; beyond that point marginal profit turns negative. The size is then
// capped at the configured fraction of the thinner venue's liquidity and at
// the global maximum notional.
func (d *Detector) optimalSize(buy, sell domain.VenueQuote, spreadBps float64) float64 {
	thinner := math.Min(buy.LiquidityA, sell.LiquidityA)
	if thinner <= 0 {
		return 0
	}

	// The margin available to impact is what survives the bps costs.
	margin := (spreadBps - buy.FeeBps - sell.FeeBps - d.cfg.LoanFeeBps) / 10_000
	if margin <= 0 {
		return 0
	}
	combined := d.coeff(buy.Venue) + d.coeff(sell.Venue)
	target := margin / 2
	if combined <= target {
		// Degenerate: impact never reaches the target inside the pool.
		return d.caps(thinner, buy.Price, thinner)
	}

	// combined * s / (thinner + s) = target  =>  s = target*thinner/(combined-target)
	size := target * thinner / (combined - target)
	return d.caps(size, buy.Price, thinner)
}

// caps applies the liquidity-fraction and max-notional ceilings.
func (d *Detector) caps(size, buyPrice, thinner float64) float64 {
	if limit := d.cfg.MaxLiquidityFraction * thinner; size > limit {
		size = limit
	}
	if d.cfg.MaxNotional > 0 && buyPrice > 0 {
		if limit := d.cfg.MaxNotional / buyPrice; size > limit {
			size = limit
		}
	}
	return size
}

// confidence scores how comfortably the opportunity sits inside its
// constraints: wider spreads score higher, and a size pinned at the
// liquidity cap is discounted because the model had to be truncated.
func (d *Detector) confidence(buy, sell domain.VenueQuote, spreadBps, size float64) float64 {
	conf := 0.5
	if d.cfg.MinSpreadBps > 0 {
		conf += 0.5 * math.Min(1, spreadBps/(2*d.cfg.MinSpreadBps)-0.5)
	}
	thinner := math.Min(buy.LiquidityA, sell.LiquidityA)
	if limit := d.cfg.MaxLiquidityFraction * thinner; limit > 0 && size >= limit {
		conf *= 0.8
	}
	return math.Max(0, math.Min(1, conf))
}

func (d *Detector) coeff(venueName string) float64 {
	if c, ok := d.impact[venueName]; ok && c > 0 {
		return c
	}
	return 1.0
}

// deterministicID derives a stable UUID from the opportunity's content so
// identical snapshots produce identical output.
func deterministicID(buy, sell domain.VenueQuote, size float64) string {
	seed := fmt.Sprintf("%s|%s|%s|%.12f|%.12f|%.12f",
		buy.Pair.Key(), buy.Venue, sell.Venue, buy.Price, sell.Price, size)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(seed)).String()
}
