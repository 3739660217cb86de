package domain

import "time"

// Opportunity is a profitable round trip detected for one pair: buy TokenA on
// the cheap venue, sell it on the expensive one, funded by a flash loan of
// TokenB. Opportunities are ephemeral: consumed by the coordinator in the
// same cycle they were detected or discarded.
type Opportunity struct {
	ID        string
	Pair      Pair
	BuyVenue  string
	SellVenue string
	BuyPrice  float64 // TokenB per TokenA on the buy venue
	SellPrice float64 // TokenB per TokenA on the sell venue
	SpreadBps float64

	// TradeSize is the optimal amount of TokenA to move through both legs.
	TradeSize float64
	// Notional is TradeSize valued at the buy price, i.e. the loan principal
	// in TokenB units.
	Notional float64

	GrossProfit float64 // TokenB units before costs
	FeesCost    float64 // buy + sell + loan fees in TokenB units
	GasCost     float64 // estimated gas bill in TokenB units
	NetProfit   float64 // GrossProfit - FeesCost - GasCost

	// Confidence in [0,1]: how much headroom the thinner venue's liquidity
	// leaves above the chosen trade size.
	Confidence float64

	DetectedAt time.Time
}

// ProfitPct returns net profit as a percentage of the loan notional.
func (o Opportunity) ProfitPct() float64 {
	if o.Notional <= 0 {
		return 0
	}
	return o.NetProfit / o.Notional * 100
}
