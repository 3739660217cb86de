package domain

import (
	"fmt"
	"time"
)

// RequestKind classifies the origin of a settlement request.
type RequestKind string

const (
	RequestArbitrage RequestKind = "arbitrage"
	RequestBackrun   RequestKind = "backrun"
	RequestSandwich  RequestKind = "sandwich"
)

// Leg is one swap inside an atomic settlement.
type Leg struct {
	Venue    string
	TokenIn  string
	TokenOut string
	AmountIn float64
	// MinOut is the minimum acceptable output; the ledger reverts the whole
	// settlement if a leg fills below it.
	MinOut float64
}

// SettlementRequest describes one atomic flash-loan settlement:
// borrow BorrowAmount of BorrowToken, run the legs in order, repay
// principal plus loan fee from the final leg's output.
type SettlementRequest struct {
	ID          string
	Kind        RequestKind
	Pair        Pair
	Opportunity *Opportunity // nil for watcher-originated requests
	// TargetTxHash is the observed transaction a backrun or sandwich is
	// keyed to; empty for plain arbitrage.
	TargetTxHash string

	BorrowToken  string
	BorrowAmount float64
	LoanFeeBps   float64
	Legs         []Leg

	Deadline  time.Time
	CreatedAt time.Time
}

// RepayAmount returns principal plus loan fee.
func (r SettlementRequest) RepayAmount() float64 {
	return r.BorrowAmount * (1 + r.LoanFeeBps/10_000)
}

// Validate enforces the structural invariant every request must satisfy
// before submission: at least one leg, the leg chain must be connected, and
// the final leg must return the borrowed token with a minimum output that
// covers principal plus loan fee.
func (r SettlementRequest) Validate() error {
	if len(r.Legs) == 0 {
		return fmt.Errorf("domain: settlement request %s has no legs", r.ID)
	}
	if r.BorrowAmount <= 0 {
		return fmt.Errorf("domain: settlement request %s has non-positive borrow amount", r.ID)
	}
	for i := 1; i < len(r.Legs); i++ {
		if r.Legs[i].TokenIn != r.Legs[i-1].TokenOut {
			return fmt.Errorf("domain: settlement request %s leg %d input %s does not chain from leg %d output %s",
				r.ID, i, r.Legs[i].TokenIn, i-1, r.Legs[i-1].TokenOut)
		}
	}
	last := r.Legs[len(r.Legs)-1]
	if last.TokenOut != r.BorrowToken {
		return fmt.Errorf("domain: settlement request %s final leg returns %s, borrowed %s",
			r.ID, last.TokenOut, r.BorrowToken)
	}
	if last.MinOut < r.RepayAmount() {
		return fmt.Errorf("domain: settlement request %s final min-out %.8f below repayment %.8f: %w",
			r.ID, last.MinOut, r.RepayAmount(), ErrInsufficientMargin)
	}
	return nil
}

// FailureReason tags why a settlement did not realize profit. The taxonomy
// is fixed so the safety governor can classify competitive pressure.
type FailureReason string

const (
	FailNone FailureReason = ""
	// FailInsufficientMargin: rejected locally before submission, the final
	// leg's minimum output no longer covers principal + loan fee.
	FailInsufficientMargin FailureReason = "insufficient_margin"
	// FailSubmission: the request never reached the chain (RPC/network error).
	FailSubmission FailureReason = "submission_error"
	// FailDeadline: the submission deadline elapsed before confirmation.
	FailDeadline FailureReason = "deadline_exceeded"
	// Revert subtypes, decoded from the ledger's revert reason.
	FailRevertedSlippage   FailureReason = "reverted_slippage"
	FailRevertedAuth       FailureReason = "reverted_authorization"
	FailRevertedReentrancy FailureReason = "reverted_reentrancy"
	FailReverted           FailureReason = "reverted"
	// FailFrontrun: the target state changed before our transaction landed.
	FailFrontrun FailureReason = "front_run_detected"
)

// Competitive reports whether the failure suggests another bot beat us to
// the same liquidity, which feeds the governor's competitive-bot axis.
func (f FailureReason) Competitive() bool {
	switch f {
	case FailReverted, FailRevertedSlippage, FailFrontrun:
		return true
	default:
		return false
	}
}

// SettlementOutcome is the immutable record of one settlement attempt. It is
// appended to history, reported to the safety governor exactly once, and
// published to telemetry.
type SettlementOutcome struct {
	RequestID      string
	Kind           RequestKind
	Pair           Pair
	Success        bool
	RealizedProfit float64 // TokenB units, net of loan fee; zero on failure
	FailureReason  FailureReason
	TxRef          string
	GasUsed        uint64
	SubmittedAt    time.Time
	CompletedAt    time.Time
}

// LedgerReceipt is what the settlement ledger returns after attempting an
// atomic execution on-chain.
type LedgerReceipt struct {
	TxRef        string
	Success      bool
	AmountsOut   []float64 // realized output per leg, in order
	RevertReason string
	GasUsed      uint64
}
