package detector

import (
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/arbiterlabs/flasharb/internal/domain"
)

func testConfig() Config {
	return Config{
		MinSpreadBps:         20,
		MinProfitAbs:         1,
		MinProfitPct:         0,
		MaxLiquidityFraction: 0.025,
		LoanFeeBps:           9,
	}
}

func quote(venue string, pair domain.Pair, price, liquidityA, feeBps float64) domain.VenueQuote {
	return domain.VenueQuote{
		Venue:      venue,
		Pair:       pair,
		Price:      price,
		LiquidityA: liquidityA,
		LiquidityB: liquidityA * price,
		FeeBps:     feeBps,
		ObservedAt: time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC),
	}
}

func TestFindOpportunities_CrossVenueSpread(t *testing.T) {
	pair := domain.NewPair("WETH", "USDC")
	quotes := domain.QuoteSet{
		pair.Key(): {
			quote("uniswap", pair, 100.0, 100_000, 25),
			quote("sushiswap", pair, 101.0, 100_000, 30),
		},
	}

	d := New(testConfig(), nil)
	opps := d.FindOpportunities(quotes, domain.GasEstimate{})

	if len(opps) != 1 {
		t.Fatalf("expected 1 opportunity, got %d", len(opps))
	}
	opp := opps[0]
	if opp.BuyVenue != "uniswap" {
		t.Errorf("expected buy on the cheaper venue, got %s", opp.BuyVenue)
	}
	if opp.SellVenue != "sushiswap" {
		t.Errorf("expected sell on the richer venue, got %s", opp.SellVenue)
	}
	if opp.NetProfit <= 0 {
		t.Errorf("expected positive net profit, got %f", opp.NetProfit)
	}
	if opp.TradeSize <= 0 {
		t.Errorf("expected positive trade size, got %f", opp.TradeSize)
	}
}

func TestFindOpportunities_ZeroSpread(t *testing.T) {
	pair := domain.NewPair("WETH", "USDC")
	quotes := domain.QuoteSet{
		pair.Key(): {
			quote("uniswap", pair, 100.0, 100_000, 25),
			quote("sushiswap", pair, 100.0, 100_000, 30),
			quote("pancake", pair, 100.0, 100_000, 25),
		},
	}

	d := New(testConfig(), nil)
	if opps := d.FindOpportunities(quotes, domain.GasEstimate{}); len(opps) != 0 {
		t.Fatalf("expected no opportunities at zero spread, got %d", len(opps))
	}
}

func TestFindOpportunities_SpreadBelowThreshold(t *testing.T) {
	pair := domain.NewPair("WETH", "USDC")
	quotes := domain.QuoteSet{
		pair.Key(): {
			quote("uniswap", pair, 100.0, 100_000, 25),
			quote("sushiswap", pair, 100.1, 100_000, 30), // ~10 bps
		},
	}

	d := New(testConfig(), nil)
	if opps := d.FindOpportunities(quotes, domain.GasEstimate{}); len(opps) != 0 {
		t.Fatalf("expected sub-threshold spread rejected, got %d opportunities", len(opps))
	}
}

func TestFindOpportunities_FeesConsumeSpread(t *testing.T) {
	// ~50 bps of spread against 25+30+9 bps of costs: the spread clears the
	// minimum but nothing survives the fees, so no opportunity may surface.
	pair := domain.NewPair("WETH", "USDC")
	quotes := domain.QuoteSet{
		pair.Key(): {
			quote("uniswap", pair, 100.0, 100_000, 25),
			quote("sushiswap", pair, 100.5, 100_000, 30),
		},
	}

	d := New(testConfig(), nil)
	if opps := d.FindOpportunities(quotes, domain.GasEstimate{}); len(opps) != 0 {
		t.Fatalf("expected fees to consume the spread, got %d opportunities", len(opps))
	}
}

func TestFindOpportunities_SizeCappedByLiquidityFraction(t *testing.T) {
	pair := domain.NewPair("WETH", "USDC")
	thinner := 1000.0
	quotes := domain.QuoteSet{
		pair.Key(): {
			quote("uniswap", pair, 100.0, thinner, 0),
			quote("sushiswap", pair, 110.0, 100_000, 0),
		},
	}

	cfg := testConfig()
	cfg.MaxLiquidityFraction = 0.01
	cfg.LoanFeeBps = 0

	d := New(cfg, nil)
	opps := d.FindOpportunities(quotes, domain.GasEstimate{})
	if len(opps) != 1 {
		t.Fatalf("expected 1 opportunity, got %d", len(opps))
	}

	limit := cfg.MaxLiquidityFraction * thinner
	if opps[0].TradeSize > limit+1e-9 {
		t.Errorf("trade size %f exceeds liquidity cap %f", opps[0].TradeSize, limit)
	}
	// A 10% spread wants far more size than 1% of the thin pool; the cap
	// must be binding here.
	if math.Abs(opps[0].TradeSize-limit) > 1e-9 {
		t.Errorf("expected size pinned at cap %f, got %f", limit, opps[0].TradeSize)
	}
}

func TestFindOpportunities_SizeCappedByMaxNotional(t *testing.T) {
	pair := domain.NewPair("WETH", "USDC")
	quotes := domain.QuoteSet{
		pair.Key(): {
			quote("uniswap", pair, 100.0, 100_000, 0),
			quote("sushiswap", pair, 110.0, 100_000, 0),
		},
	}

	cfg := testConfig()
	cfg.LoanFeeBps = 0
	cfg.MaxNotional = 500

	d := New(cfg, nil)
	opps := d.FindOpportunities(quotes, domain.GasEstimate{})
	if len(opps) != 1 {
		t.Fatalf("expected 1 opportunity, got %d", len(opps))
	}
	if opps[0].Notional > cfg.MaxNotional+1e-9 {
		t.Errorf("notional %f exceeds cap %f", opps[0].Notional, cfg.MaxNotional)
	}
}

func TestFindOpportunities_NetProfitAccounting(t *testing.T) {
	pair := domain.NewPair("WETH", "USDC")
	quotes := domain.QuoteSet{
		pair.Key(): {
			quote("uniswap", pair, 100.0, 100_000, 25),
			quote("sushiswap", pair, 102.0, 100_000, 30),
		},
	}
	gas := domain.GasEstimate{
		GasPriceWei:      30e9,
		SettlementGas:    400_000,
		NativeQuotePrice: 2000,
	}

	d := New(testConfig(), nil)
	opps := d.FindOpportunities(quotes, gas)
	if len(opps) != 1 {
		t.Fatalf("expected 1 opportunity, got %d", len(opps))
	}
	opp := opps[0]

	if got, want := opp.Notional, opp.TradeSize*opp.BuyPrice; math.Abs(got-want) > 1e-9 {
		t.Errorf("notional = %f, want tradeSize*buyPrice = %f", got, want)
	}
	wantFees := opp.Notional * (25 + 30 + 9) / 10_000
	if math.Abs(opp.FeesCost-wantFees) > 1e-9 {
		t.Errorf("feesCost = %f, want %f", opp.FeesCost, wantFees)
	}
	// 400k gas at 30 gwei is 0.012 native, priced at 2000 quote units.
	if math.Abs(opp.GasCost-24.0) > 1e-9 {
		t.Errorf("gasCost = %f, want 24.0", opp.GasCost)
	}
	wantNet := opp.GrossProfit - opp.FeesCost - opp.GasCost
	if math.Abs(opp.NetProfit-wantNet) > 1e-9 {
		t.Errorf("netProfit = %f, want gross-fees-gas = %f", opp.NetProfit, wantNet)
	}

	wantSpread := (102.0 - 100.0) / 101.0 * 10_000
	if math.Abs(opp.SpreadBps-wantSpread) > 1e-9 {
		t.Errorf("spreadBps = %f, want %f", opp.SpreadBps, wantSpread)
	}
}

func TestFindOpportunities_Deterministic(t *testing.T) {
	weth := domain.NewPair("WETH", "USDC")
	wbtc := domain.NewPair("WBTC", "USDC")
	quotes := domain.QuoteSet{
		weth.Key(): {
			quote("uniswap", weth, 100.0, 100_000, 25),
			quote("sushiswap", weth, 101.5, 100_000, 30),
		},
		wbtc.Key(): {
			quote("uniswap", wbtc, 50_000, 1000, 25),
			quote("sushiswap", wbtc, 50_900, 1000, 30),
		},
	}

	d := New(testConfig(), nil)
	first := d.FindOpportunities(quotes, domain.GasEstimate{})
	second := d.FindOpportunities(quotes, domain.GasEstimate{})

	if len(first) == 0 {
		t.Fatal("expected opportunities from both pairs")
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("same snapshot produced different results")
	}
	for i := range first {
		if first[i].ID == "" {
			t.Fatal("expected non-empty opportunity ID")
		}
		if first[i].ID != second[i].ID {
			t.Errorf("opportunity ID not stable across runs: %s vs %s", first[i].ID, second[i].ID)
		}
	}
	// Ordering is by descending net profit.
	for i := 1; i < len(first); i++ {
		if first[i].NetProfit > first[i-1].NetProfit {
			t.Errorf("output not sorted by net profit: %f before %f", first[i-1].NetProfit, first[i].NetProfit)
		}
	}
}

func TestFindOpportunities_BestCombinationPerPair(t *testing.T) {
	pair := domain.NewPair("WETH", "USDC")
	quotes := domain.QuoteSet{
		pair.Key(): {
			quote("uniswap", pair, 100.0, 100_000, 25),
			quote("sushiswap", pair, 101.0, 100_000, 30),
			quote("pancake", pair, 102.5, 100_000, 25),
		},
	}

	d := New(testConfig(), nil)
	opps := d.FindOpportunities(quotes, domain.GasEstimate{})
	if len(opps) != 1 {
		t.Fatalf("expected exactly one opportunity per pair, got %d", len(opps))
	}
	// The widest viable spread is uniswap -> pancake.
	if opps[0].BuyVenue != "uniswap" || opps[0].SellVenue != "pancake" {
		t.Errorf("expected uniswap->pancake, got %s->%s", opps[0].BuyVenue, opps[0].SellVenue)
	}
}

func TestFindOpportunities_ConcentratedCoefficientIncreasesSize(t *testing.T) {
	pair := domain.NewPair("WETH", "USDC")
	quotes := domain.QuoteSet{
		pair.Key(): {
			quote("uniswap", pair, 100.0, 100_000, 25),
			quote("sushiswap", pair, 101.0, 100_000, 30),
		},
	}

	cfg := testConfig()
	cfg.MaxLiquidityFraction = 1 // uncapped so sizing differences show

	flat := New(cfg, nil)
	shaped := New(cfg, map[string]float64{"uniswap": 0.4, "sushiswap": 0.4})

	flatOpps := flat.FindOpportunities(quotes, domain.GasEstimate{})
	shapedOpps := shaped.FindOpportunities(quotes, domain.GasEstimate{})
	if len(flatOpps) != 1 || len(shapedOpps) != 1 {
		t.Fatalf("expected 1 opportunity each, got %d and %d", len(flatOpps), len(shapedOpps))
	}
	// Concentrated pools absorb more size before the same impact.
	if shapedOpps[0].TradeSize <= flatOpps[0].TradeSize {
		t.Errorf("expected larger size under lower impact coefficients: %f vs %f",
			shapedOpps[0].TradeSize, flatOpps[0].TradeSize)
	}
}
