package watcher

import (
	"time"

	"github.com/google/uuid"

	"github.com/arbiterlabs/flasharb/internal/domain"
)

// plan is a scored strategy ready to become a settlement request.
type plan struct {
	profit       float64
	borrowToken  string
	borrowAmount float64
	legs         []domain.Leg
}

// scoreBackrun simulates the victim's price impact on its venue, then asks
// the detector whether the post-trade quote set opens a cross-venue round
// trip. The proposal is the standard two-leg arbitrage, timed to land after
// the victim.
func (w *Watcher) scoreBackrun(pair domain.Pair, pairQuotes []domain.VenueQuote, swap domain.PendingSwap) (plan, bool) {
	adjusted := make([]domain.VenueQuote, len(pairQuotes))
	copy(adjusted, pairQuotes)

	found := false
	for i, q := range adjusted {
		if q.Venue != swap.Venue {
			continue
		}
		adjusted[i] = w.applyVictimImpact(pair, q, swap)
		found = true
	}
	if !found {
		return plan{}, false
	}

	opps := w.finder.FindOpportunities(domain.QuoteSet{pair.Key(): adjusted}, w.gas())
	for _, opp := range opps {
		if !opp.Pair.Equal(pair) || opp.NetProfit < w.cfg.BackrunMinProfit {
			continue
		}
		return plan{
			profit:       opp.NetProfit,
			borrowToken:  pair.TokenB,
			borrowAmount: opp.Notional,
			legs: []domain.Leg{
				{Venue: opp.BuyVenue, TokenIn: pair.TokenB, TokenOut: pair.TokenA, AmountIn: opp.Notional, MinOut: opp.TradeSize},
				{Venue: opp.SellVenue, TokenIn: pair.TokenA, TokenOut: pair.TokenB, AmountIn: opp.TradeSize, MinOut: opp.Notional},
			},
		}, true
	}
	return plan{}, false
}

// scoreSandwich prices front-running the victim with a fraction of its size
// and selling back into its slippage. Both the profit bar and the victim
// impact bar must clear; a squeeze that barely moves the pool is not worth
// the risk and gas of two extra legs.
func (w *Watcher) scoreSandwich(pair domain.Pair, pairQuotes []domain.VenueQuote, swap domain.PendingSwap) (plan, bool) {
	var victim domain.VenueQuote
	found := false
	for _, q := range pairQuotes {
		if q.Venue == swap.Venue {
			victim = q
			found = true
		}
	}
	if !found || swap.AmountIn <= 0 {
		return plan{}, false
	}

	reserveIn := victim.LiquidityA
	if swap.TokenIn == pair.TokenB {
		reserveIn = victim.LiquidityB
	}
	if reserveIn <= 0 {
		return plan{}, false
	}

	coeff := w.coeff(swap.Venue)
	front := w.cfg.SandwichFraction * swap.AmountIn

	// The victim executes after our front leg, so its impact is measured on
	// the pool already holding our position.
	victimImpact := coeff * swap.AmountIn / (reserveIn + front + swap.AmountIn)
	if victimImpact*10_000 < w.cfg.MinVictimImpactBps {
		return plan{}, false
	}

	// The back leg unwinds into the price the victim pushed; the captured
	// move is the victim's impact, less two venue fees and the loan fee on
	// the front notional.
	grossProfit := front * victimImpact
	fees := front * (2*victim.FeeBps + w.cfg.LoanFeeBps) / 10_000
	profit := grossProfit - fees - w.gas().QuoteCost()
	if profit < w.cfg.SandwichMinProfit {
		return plan{}, false
	}

	return plan{
		profit:       profit,
		borrowToken:  swap.TokenIn,
		borrowAmount: front,
		legs: []domain.Leg{
			// Same direction as the victim, then unwind. The coordinator
			// reprices amounts and minimum outputs at submission.
			{Venue: swap.Venue, TokenIn: swap.TokenIn, TokenOut: swap.TokenOut, AmountIn: front},
			{Venue: swap.Venue, TokenIn: swap.TokenOut, TokenOut: swap.TokenIn},
		},
	}, true
}

// applyVictimImpact shifts a quote's price by the victim swap's estimated
// impact. Liquidity is left as observed; the adjustment models the immediate
// post-trade spot price the backrun would execute against.
func (w *Watcher) applyVictimImpact(pair domain.Pair, q domain.VenueQuote, swap domain.PendingSwap) domain.VenueQuote {
	coeff := w.coeff(swap.Venue)
	if swap.TokenIn == pair.TokenB {
		// Victim buys the base token: price moves up.
		impact := coeff * swap.AmountIn / (q.LiquidityB + swap.AmountIn)
		q.Price *= 1 + impact
	} else {
		// Victim sells the base token: price moves down.
		impact := coeff * swap.AmountIn / (q.LiquidityA + swap.AmountIn)
		q.Price *= 1 - impact
	}
	return q
}

func (w *Watcher) coeff(venueName string) float64 {
	if c, ok := w.impact[venueName]; ok && c > 0 {
		return c
	}
	return 1.0
}

// buildRequest materializes a scored plan as a settlement request keyed to
// the observed transaction.
func (w *Watcher) buildRequest(kind domain.RequestKind, pair domain.Pair, swap domain.PendingSwap, p plan) domain.SettlementRequest {
	now := time.Now()
	return domain.SettlementRequest{
		ID:           uuid.NewString(),
		Kind:         kind,
		Pair:         pair,
		TargetTxHash: swap.TxHash,
		BorrowToken:  p.borrowToken,
		BorrowAmount: p.borrowAmount,
		LoanFeeBps:   w.cfg.LoanFeeBps,
		Legs:         p.legs,
		Deadline:     now.Add(w.cfg.ProposalTTL),
		CreatedAt:    now,
	}
}
