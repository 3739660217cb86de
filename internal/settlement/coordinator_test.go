package settlement

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/arbiterlabs/flasharb/internal/domain"
	"github.com/arbiterlabs/flasharb/internal/venue"
)

type fakeAdapter struct {
	name  string
	price float64
	fee   float64
	err   error
}

func (f *fakeAdapter) Name() string               { return f.name }
func (f *fakeAdapter) ImpactCoefficient() float64 { return 1.0 }

func (f *fakeAdapter) Quote(ctx context.Context, pair domain.Pair) (domain.VenueQuote, error) {
	if f.err != nil {
		return domain.VenueQuote{}, f.err
	}
	return domain.VenueQuote{
		Venue:      f.name,
		Pair:       pair,
		Price:      f.price,
		LiquidityA: 1e6,
		LiquidityB: 1e6 * f.price,
		FeeBps:     f.fee,
		ObservedAt: time.Now(),
	}, nil
}

func (f *fakeAdapter) Swap(ctx context.Context, tokenIn, tokenOut string, amountIn, minOut float64, deadline time.Time) (domain.SwapResult, error) {
	return domain.SwapResult{}, errors.New("not implemented")
}

type fakeLedger struct {
	receipt domain.LedgerReceipt
	err     error
	calls   int
	lastReq domain.SettlementRequest
}

func (f *fakeLedger) Execute(ctx context.Context, req domain.SettlementRequest) (domain.LedgerReceipt, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return domain.LedgerReceipt{}, f.err
	}
	return f.receipt, nil
}

type fakeGovernor struct {
	multiplier float64
	successes  int
	failures   []domain.FailureReason
}

func (f *fakeGovernor) SlippageMultiplier() float64 {
	if f.multiplier == 0 {
		return 1.0
	}
	return f.multiplier
}
func (f *fakeGovernor) RecordSuccess() { f.successes++ }
func (f *fakeGovernor) RecordFailure(reason domain.FailureReason) {
	f.failures = append(f.failures, reason)
}

func discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// testRequest is a two-leg plan borrowing 10000 USDC at 9 bps.
func testRequest() domain.SettlementRequest {
	pair := domain.NewPair("WETH", "USDC")
	return domain.SettlementRequest{
		ID:           "req-1",
		Kind:         domain.RequestArbitrage,
		Pair:         pair,
		BorrowToken:  "USDC",
		BorrowAmount: 10_000,
		LoanFeeBps:   9,
		Legs: []domain.Leg{
			{Venue: "uniswap", TokenIn: "USDC", TokenOut: "WETH"},
			{Venue: "sushiswap", TokenIn: "WETH", TokenOut: "USDC"},
		},
	}
}

func newCoordinator(t *testing.T, buyPrice, sellPrice float64, ledger *fakeLedger, gov *fakeGovernor) *Coordinator {
	t.Helper()
	reg, err := venue.NewRegistry(
		&fakeAdapter{name: "uniswap", price: buyPrice},
		&fakeAdapter{name: "sushiswap", price: sellPrice},
	)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return New(Config{SlippageBps: 50, SubmitTimeout: time.Second}, reg, ledger, gov, nil, nil, discard())
}

func TestSettle_InsufficientMarginNeverReachesLedger(t *testing.T) {
	ledger := &fakeLedger{}
	gov := &fakeGovernor{}
	// A 5 bps spread cannot cover the 50 bps slippage haircut plus loan fee.
	c := newCoordinator(t, 100.0, 100.05, ledger, gov)

	out, err := c.Settle(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if out.Success {
		t.Fatal("expected failed outcome")
	}
	if out.FailureReason != domain.FailInsufficientMargin {
		t.Errorf("expected insufficient_margin, got %s", out.FailureReason)
	}
	if ledger.calls != 0 {
		t.Errorf("ledger must not be called on margin rejection, got %d calls", ledger.calls)
	}
	if len(gov.failures) != 1 || gov.failures[0] != domain.FailInsufficientMargin {
		t.Errorf("expected exactly one margin failure report, got %v", gov.failures)
	}
}

func TestSettle_SuccessComputesRealizedProfit(t *testing.T) {
	ledger := &fakeLedger{receipt: domain.LedgerReceipt{
		TxRef:      "0xabc",
		Success:    true,
		AmountsOut: []float64{100.2, 10_180},
		GasUsed:    410_000,
	}}
	gov := &fakeGovernor{}
	c := newCoordinator(t, 100.0, 102.0, ledger, gov)

	out, err := c.Settle(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if !out.Success {
		t.Fatalf("expected success, got %s", out.FailureReason)
	}
	// Repayment is 10000 * 1.0009; profit is the final balance delta.
	wantProfit := 10_180 - 10_000*1.0009
	if math.Abs(out.RealizedProfit-wantProfit) > 1e-6 {
		t.Errorf("realized profit = %f, want %f", out.RealizedProfit, wantProfit)
	}
	if out.TxRef != "0xabc" {
		t.Errorf("expected tx ref propagated, got %q", out.TxRef)
	}
	if gov.successes != 1 || len(gov.failures) != 0 {
		t.Errorf("expected exactly one success report, got %d/%v", gov.successes, gov.failures)
	}
}

func TestSettle_RepricesLegsWithSlippageTolerance(t *testing.T) {
	ledger := &fakeLedger{receipt: domain.LedgerReceipt{Success: true, AmountsOut: []float64{100, 10_200}}}
	gov := &fakeGovernor{multiplier: 1.3}
	c := newCoordinator(t, 100.0, 102.0, ledger, gov)

	if _, err := c.Settle(context.Background(), testRequest()); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if ledger.calls != 1 {
		t.Fatalf("expected one ledger call, got %d", ledger.calls)
	}

	legs := ledger.lastReq.Legs
	tol := 50.0 * 1.3 / 10_000
	wantFirstOut := 10_000 / 100.0 * (1 - tol)
	if math.Abs(legs[0].MinOut-wantFirstOut) > 1e-9 {
		t.Errorf("leg 0 minOut = %f, want %f", legs[0].MinOut, wantFirstOut)
	}
	// The second leg consumes the first leg's expected output, not its
	// minimum.
	if math.Abs(legs[1].AmountIn-100.0) > 1e-9 {
		t.Errorf("leg 1 amountIn = %f, want 100", legs[1].AmountIn)
	}
	wantFinalOut := 100.0 * 102.0 * (1 - tol)
	if math.Abs(legs[1].MinOut-wantFinalOut) > 1e-9 {
		t.Errorf("leg 1 minOut = %f, want %f", legs[1].MinOut, wantFinalOut)
	}
}

func TestSettle_RevertClassification(t *testing.T) {
	cases := []struct {
		revert string
		want   domain.FailureReason
	}{
		{"INSUFFICIENT_OUTPUT_AMOUNT", domain.FailRevertedSlippage},
		{"slippage exceeded", domain.FailRevertedSlippage},
		{"ReentrancyGuard: reentrant call", domain.FailRevertedReentrancy},
		{"caller is not the owner", domain.FailRevertedAuth},
		{"front-run detected", domain.FailFrontrun},
		{"execution reverted", domain.FailReverted},
	}
	for _, tc := range cases {
		t.Run(tc.revert, func(t *testing.T) {
			ledger := &fakeLedger{receipt: domain.LedgerReceipt{TxRef: "0xdead", Success: false, RevertReason: tc.revert}}
			gov := &fakeGovernor{}
			c := newCoordinator(t, 100.0, 102.0, ledger, gov)

			out, err := c.Settle(context.Background(), testRequest())
			if err != nil {
				t.Fatalf("settle: %v", err)
			}
			if out.FailureReason != tc.want {
				t.Errorf("revert %q classified as %s, want %s", tc.revert, out.FailureReason, tc.want)
			}
			if len(gov.failures) != 1 {
				t.Errorf("expected one failure report, got %v", gov.failures)
			}
		})
	}
}

func TestSettle_SubmissionErrorReported(t *testing.T) {
	ledger := &fakeLedger{err: errors.New("rpc: connection refused")}
	gov := &fakeGovernor{}
	c := newCoordinator(t, 100.0, 102.0, ledger, gov)

	out, err := c.Settle(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if out.FailureReason != domain.FailSubmission {
		t.Errorf("expected submission_error, got %s", out.FailureReason)
	}
}

func TestSettle_DeadlineExceededReported(t *testing.T) {
	ledger := &fakeLedger{err: context.DeadlineExceeded}
	gov := &fakeGovernor{}
	c := newCoordinator(t, 100.0, 102.0, ledger, gov)

	out, err := c.Settle(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if out.FailureReason != domain.FailDeadline {
		t.Errorf("expected deadline_exceeded, got %s", out.FailureReason)
	}
}

func TestSettle_QuoteFailureIsSubmissionFailure(t *testing.T) {
	reg, err := venue.NewRegistry(
		&fakeAdapter{name: "uniswap", err: domain.ErrVenueUnavailable},
		&fakeAdapter{name: "sushiswap", price: 102.0},
	)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	ledger := &fakeLedger{}
	gov := &fakeGovernor{}
	c := New(Config{SlippageBps: 50, SubmitTimeout: time.Second}, reg, ledger, gov, nil, nil, discard())

	out, err := c.Settle(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if out.FailureReason != domain.FailSubmission {
		t.Errorf("expected submission_error on lost quotes, got %s", out.FailureReason)
	}
	if ledger.calls != 0 {
		t.Errorf("ledger must not be called without repriced legs, got %d calls", ledger.calls)
	}
}

func TestSettle_UnknownVenueIsInvalidRequest(t *testing.T) {
	ledger := &fakeLedger{}
	gov := &fakeGovernor{}
	c := newCoordinator(t, 100.0, 102.0, ledger, gov)

	req := testRequest()
	req.Legs[0].Venue = "hyperswap"
	_, err := c.Settle(context.Background(), req)
	if !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("expected invalid-request error, got %v", err)
	}
	// A local programming error is not settlement feedback.
	if gov.successes != 0 || len(gov.failures) != 0 {
		t.Errorf("invalid request must not be reported, got %d/%v", gov.successes, gov.failures)
	}
}

func TestBuildArbitrageRequest_LegsChain(t *testing.T) {
	opp := domain.Opportunity{
		Pair:      domain.NewPair("WETH", "USDC"),
		BuyVenue:  "uniswap",
		SellVenue: "sushiswap",
		TradeSize: 50,
		Notional:  5000,
	}
	req := BuildArbitrageRequest(opp, 9, time.Now().Add(time.Minute))

	if req.Kind != domain.RequestArbitrage {
		t.Errorf("kind = %s", req.Kind)
	}
	if req.BorrowToken != "USDC" || req.BorrowAmount != 5000 {
		t.Errorf("borrow = %s %f", req.BorrowToken, req.BorrowAmount)
	}
	if len(req.Legs) != 2 {
		t.Fatalf("expected 2 legs, got %d", len(req.Legs))
	}
	if req.Legs[0].TokenIn != "USDC" || req.Legs[0].TokenOut != "WETH" {
		t.Errorf("leg 0 = %+v", req.Legs[0])
	}
	if req.Legs[1].TokenIn != "WETH" || req.Legs[1].TokenOut != "USDC" {
		t.Errorf("leg 1 = %+v", req.Legs[1])
	}
	if req.Legs[1].TokenIn != req.Legs[0].TokenOut {
		t.Error("legs do not chain")
	}
}
