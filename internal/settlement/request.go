package settlement

import (
	"time"

	"github.com/google/uuid"

	"github.com/arbiterlabs/flasharb/internal/domain"
)

// BuildArbitrageRequest converts a detected opportunity into the two-leg
// flash-loan plan: borrow the quote token, buy the base token on the cheap
// venue, sell it on the rich venue, repay from the proceeds. Leg minimum
// outputs are placeholders here; the coordinator reprices them against live
// quotes at submission time.
func BuildArbitrageRequest(opp domain.Opportunity, loanFeeBps float64, deadline time.Time) domain.SettlementRequest {
	req := domain.SettlementRequest{
		ID:           uuid.NewString(),
		Kind:         domain.RequestArbitrage,
		Pair:         opp.Pair,
		Opportunity:  &opp,
		BorrowToken:  opp.Pair.TokenB,
		BorrowAmount: opp.Notional,
		LoanFeeBps:   loanFeeBps,
		Deadline:     deadline,
		CreatedAt:    opp.DetectedAt,
		Legs: []domain.Leg{
			{
				Venue:    opp.BuyVenue,
				TokenIn:  opp.Pair.TokenB,
				TokenOut: opp.Pair.TokenA,
				AmountIn: opp.Notional,
				MinOut:   opp.TradeSize,
			},
			{
				Venue:    opp.SellVenue,
				TokenIn:  opp.Pair.TokenA,
				TokenOut: opp.Pair.TokenB,
				AmountIn: opp.TradeSize,
				MinOut:   opp.Notional,
			},
		},
	}
	return req
}
