// Package settlement coordinates atomic flash-loan executions: it reprices
// each leg against live quotes, enforces the repayment margin before
// anything reaches the chain, submits through the ledger, and reports every
// attempt exactly once.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/arbiterlabs/flasharb/internal/domain"
	"github.com/arbiterlabs/flasharb/internal/venue"
)

// Governor is the slice of the safety governor the coordinator needs: the
// current slippage scaling and the outcome feedback methods.
type Governor interface {
	SlippageMultiplier() float64
	RecordSuccess()
	RecordFailure(reason domain.FailureReason)
}

// OutcomeSink receives settlement outcomes for telemetry. It must not block.
type OutcomeSink interface {
	SettlementOutcome(outcome domain.SettlementOutcome)
}

// Config holds the coordinator's execution parameters.
type Config struct {
	// SlippageBps is the base minimum-output tolerance; the governor's
	// multiplier scales it under competitive pressure.
	SlippageBps float64
	// SubmitTimeout bounds one settlement from submission to receipt.
	SubmitTimeout time.Duration
}

// Coordinator owns the settle path. Settlements for different pairs may run
// concurrently; the engine serializes per pair.
type Coordinator struct {
	cfg      Config
	registry *venue.Registry
	ledger   domain.SettlementLedger
	governor Governor
	store    domain.OutcomeStore // optional
	sink     OutcomeSink         // optional
	logger   *slog.Logger

	now func() time.Time
}

// New creates a Coordinator. store and sink may be nil.
func New(cfg Config, registry *venue.Registry, ledger domain.SettlementLedger, governor Governor, store domain.OutcomeStore, sink OutcomeSink, logger *slog.Logger) *Coordinator {
	if cfg.SlippageBps <= 0 {
		cfg.SlippageBps = 50
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 30 * time.Second
	}
	return &Coordinator{
		cfg:      cfg,
		registry: registry,
		ledger:   ledger,
		governor: governor,
		store:    store,
		sink:     sink,
		logger:   logger.With(slog.String("component", "settlement")),
		now:      time.Now,
	}
}

// Settle executes one request end to end and always produces exactly one
// outcome: repriced legs, margin check, submission, receipt classification.
// A failed settlement is not retried here; a fresh cycle must rediscover the
// opportunity. The returned error is non-nil only for structurally invalid
// requests, which are never reported to the governor.
func (c *Coordinator) Settle(ctx context.Context, req domain.SettlementRequest) (domain.SettlementOutcome, error) {
	submittedAt := c.now()

	repriced, err := c.reprice(ctx, req)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidRequest) {
			return domain.SettlementOutcome{}, err
		}
		// Repricing needs live quotes; losing them is a network failure
		// before anything reached the chain.
		c.logger.Warn("repricing failed",
			slog.String("request_id", req.ID),
			slog.String("error", err.Error()))
		return c.report(ctx, failure(req, domain.FailSubmission, submittedAt, c.now())), nil
	}

	// The margin gate: the final leg's worst case must cover principal plus
	// loan fee, or the request never reaches the ledger.
	if err := repriced.Validate(); err != nil {
		if errors.Is(err, domain.ErrInsufficientMargin) {
			c.logger.Info("rejected before submission",
				slog.String("request_id", req.ID),
				slog.String("reason", string(domain.FailInsufficientMargin)),
				slog.Float64("repay_amount", repriced.RepayAmount()))
			return c.report(ctx, failure(repriced, domain.FailInsufficientMargin, submittedAt, c.now())), nil
		}
		return domain.SettlementOutcome{}, fmt.Errorf("settlement: request %s: %w: %w", req.ID, domain.ErrInvalidRequest, err)
	}

	execCtx, cancel := context.WithTimeout(ctx, c.cfg.SubmitTimeout)
	defer cancel()

	receipt, err := c.ledger.Execute(execCtx, repriced)
	completedAt := c.now()
	if err != nil {
		reason := domain.FailSubmission
		if errors.Is(err, context.DeadlineExceeded) {
			reason = domain.FailDeadline
		}
		c.logger.Warn("submission failed",
			slog.String("request_id", req.ID),
			slog.String("reason", string(reason)),
			slog.String("error", err.Error()))
		return c.report(ctx, failure(repriced, reason, submittedAt, completedAt)), nil
	}

	if !receipt.Success {
		reason := classifyRevert(receipt.RevertReason)
		c.logger.Warn("settlement reverted",
			slog.String("request_id", req.ID),
			slog.String("tx_ref", receipt.TxRef),
			slog.String("revert_reason", receipt.RevertReason),
			slog.String("classified", string(reason)))
		out := failure(repriced, reason, submittedAt, completedAt)
		out.TxRef = receipt.TxRef
		out.GasUsed = receipt.GasUsed
		return c.report(ctx, out), nil
	}

	// Realized profit is the balance delta: what the final leg returned
	// minus what the loan must pay back.
	profit := finalAmountOut(receipt) - repriced.RepayAmount()
	c.logger.Info("settlement succeeded",
		slog.String("request_id", req.ID),
		slog.String("tx_ref", receipt.TxRef),
		slog.Float64("realized_profit", profit),
		slog.Uint64("gas_used", receipt.GasUsed))

	return c.report(ctx, domain.SettlementOutcome{
		RequestID:      repriced.ID,
		Kind:           repriced.Kind,
		Pair:           repriced.Pair,
		Success:        true,
		RealizedProfit: profit,
		TxRef:          receipt.TxRef,
		GasUsed:        receipt.GasUsed,
		SubmittedAt:    submittedAt,
		CompletedAt:    completedAt,
	}), nil
}

// reprice rebuilds every leg's amounts from live quotes with the current
// slippage tolerance. Amounts chain: each leg consumes the expected output
// of the previous one, while minimum outputs take the tolerance haircut.
func (c *Coordinator) reprice(ctx context.Context, req domain.SettlementRequest) (domain.SettlementRequest, error) {
	if len(req.Legs) == 0 || req.BorrowAmount <= 0 {
		return req, fmt.Errorf("settlement: request %s: %w", req.ID, domain.ErrInvalidRequest)
	}

	tolerance := c.cfg.SlippageBps * c.governor.SlippageMultiplier() / 10_000
	legs := make([]domain.Leg, len(req.Legs))
	amountIn := req.BorrowAmount

	for i, leg := range req.Legs {
		adapter, err := c.registry.Get(leg.Venue)
		if err != nil {
			return req, fmt.Errorf("settlement: request %s leg %d: %w: %w", req.ID, i, domain.ErrInvalidRequest, err)
		}
		quote, err := adapter.Quote(ctx, req.Pair)
		if err != nil {
			return req, fmt.Errorf("settlement: request %s leg %d quote: %w", req.ID, i, err)
		}

		expected, err := expectedOut(quote, req.Pair, leg, amountIn)
		if err != nil {
			return req, fmt.Errorf("settlement: request %s leg %d: %w: %w", req.ID, i, domain.ErrInvalidRequest, err)
		}

		legs[i] = domain.Leg{
			Venue:    leg.Venue,
			TokenIn:  leg.TokenIn,
			TokenOut: leg.TokenOut,
			AmountIn: amountIn,
			MinOut:   expected * (1 - tolerance),
		}
		amountIn = expected
	}

	repriced := req
	repriced.Legs = legs
	return repriced, nil
}

// expectedOut prices one leg against a live quote, net of the venue fee.
func expectedOut(quote domain.VenueQuote, pair domain.Pair, leg domain.Leg, amountIn float64) (float64, error) {
	if !quote.Valid() {
		return 0, fmt.Errorf("invalid quote from %s", quote.Venue)
	}
	fee := 1 - quote.FeeBps/10_000
	switch leg.TokenIn {
	case pair.TokenB: // spending quote token, receiving base
		return amountIn / quote.Price * fee, nil
	case pair.TokenA: // selling base for quote token
		return amountIn * quote.Price * fee, nil
	default:
		return 0, fmt.Errorf("leg token %s not in pair %s", leg.TokenIn, pair.Key())
	}
}

func finalAmountOut(receipt domain.LedgerReceipt) float64 {
	if len(receipt.AmountsOut) == 0 {
		return 0
	}
	return receipt.AmountsOut[len(receipt.AmountsOut)-1]
}

// classifyRevert maps the ledger's revert string onto the failure taxonomy
// the governor's competitive-bot axis consumes.
func classifyRevert(reason string) domain.FailureReason {
	r := strings.ToLower(reason)
	switch {
	case strings.Contains(r, "front"):
		return domain.FailFrontrun
	case strings.Contains(r, "slippage"), strings.Contains(r, "insufficient_output"), strings.Contains(r, "insufficient output"), strings.Contains(r, "min out"):
		return domain.FailRevertedSlippage
	case strings.Contains(r, "reentran"):
		return domain.FailRevertedReentrancy
	case strings.Contains(r, "unauthorized"), strings.Contains(r, "caller"), strings.Contains(r, "auth"):
		return domain.FailRevertedAuth
	default:
		return domain.FailReverted
	}
}

// report delivers the outcome to the governor exactly once and mirrors it
// into history and telemetry best-effort.
func (c *Coordinator) report(ctx context.Context, out domain.SettlementOutcome) domain.SettlementOutcome {
	if out.Success {
		c.governor.RecordSuccess()
	} else {
		c.governor.RecordFailure(out.FailureReason)
	}
	if c.store != nil {
		if err := c.store.Append(ctx, out); err != nil {
			c.logger.Warn("outcome store append failed",
				slog.String("request_id", out.RequestID),
				slog.String("error", err.Error()))
		}
	}
	if c.sink != nil {
		c.sink.SettlementOutcome(out)
	}
	return out
}

func failure(req domain.SettlementRequest, reason domain.FailureReason, submittedAt, completedAt time.Time) domain.SettlementOutcome {
	return domain.SettlementOutcome{
		RequestID:     req.ID,
		Kind:          req.Kind,
		Pair:          req.Pair,
		FailureReason: reason,
		SubmittedAt:   submittedAt,
		CompletedAt:   completedAt,
	}
}
