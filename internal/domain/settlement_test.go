package domain

import (
	"errors"
	"testing"
)

func validRequest() SettlementRequest {
	return SettlementRequest{
		ID:           "req-1",
		Kind:         RequestArbitrage,
		Pair:         NewPair("WETH", "USDC"),
		BorrowToken:  "USDC",
		BorrowAmount: 10_000,
		LoanFeeBps:   9,
		Legs: []Leg{
			{Venue: "uniswap", TokenIn: "USDC", TokenOut: "WETH", AmountIn: 10_000, MinOut: 3.30},
			{Venue: "sushiswap", TokenIn: "WETH", TokenOut: "USDC", AmountIn: 3.30, MinOut: 10_050},
		},
	}
}

func TestSettlementRequest_Validate(t *testing.T) {
	if err := validRequest().Validate(); err != nil {
		t.Fatalf("expected valid request, got: %v", err)
	}
}

func TestSettlementRequest_RepayAmount(t *testing.T) {
	req := validRequest()
	// 10,000 principal + 9 bps fee = 10,009.
	if got, want := req.RepayAmount(), 10_009.0; got != want {
		t.Errorf("expected repay %.2f, got %.2f", want, got)
	}
}

func TestSettlementRequest_Validate_FinalLegBelowRepayment(t *testing.T) {
	req := validRequest()
	req.Legs[1].MinOut = req.RepayAmount() - 1

	err := req.Validate()
	if err == nil {
		t.Fatal("expected error for final min-out below repayment")
	}
	if !errors.Is(err, ErrInsufficientMargin) {
		t.Errorf("expected ErrInsufficientMargin, got: %v", err)
	}
}

func TestSettlementRequest_Validate_BrokenChain(t *testing.T) {
	req := validRequest()
	req.Legs[1].TokenIn = "WBTC"
	if err := req.Validate(); err == nil {
		t.Error("expected error for disconnected leg chain")
	}
}

func TestSettlementRequest_Validate_WrongFinalToken(t *testing.T) {
	req := validRequest()
	req.Legs[1].TokenOut = "DAI"
	if err := req.Validate(); err == nil {
		t.Error("expected error when final leg does not return borrowed token")
	}
}

func TestSettlementRequest_Validate_NoLegs(t *testing.T) {
	req := validRequest()
	req.Legs = nil
	if err := req.Validate(); err == nil {
		t.Error("expected error for empty legs")
	}
}

func TestFailureReason_Competitive(t *testing.T) {
	competitive := []FailureReason{FailReverted, FailRevertedSlippage, FailFrontrun}
	for _, r := range competitive {
		if !r.Competitive() {
			t.Errorf("expected %s to be competitive", r)
		}
	}
	benign := []FailureReason{FailNone, FailInsufficientMargin, FailSubmission, FailDeadline, FailRevertedAuth, FailRevertedReentrancy}
	for _, r := range benign {
		if r.Competitive() {
			t.Errorf("expected %s to not be competitive", r)
		}
	}
}

func TestGasEstimate_QuoteCost(t *testing.T) {
	g := GasEstimate{
		GasPriceWei:      50e9, // 50 gwei
		SettlementGas:    400_000,
		NativeQuotePrice: 2_000, // e.g. ETH/USDC
	}
	// 50e9 * 4e5 / 1e18 = 0.02 native, * 2000 = 40 quote units.
	if got, want := g.QuoteCost(), 40.0; got != want {
		t.Errorf("expected gas cost %.2f, got %.2f", want, got)
	}

	if (GasEstimate{}).QuoteCost() != 0 {
		t.Error("expected zero cost for empty estimate")
	}
}
