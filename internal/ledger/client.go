// Package ledger is the boundary to the on-chain settlement contract. The
// contract owns the flash-loan atomicity: borrow, swaps, and repayment all
// land in one transaction or none of them do. This client packs requests
// into calldata, preflights them, submits, and interprets receipts.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/arbiterlabs/flasharb/internal/domain"
	"github.com/arbiterlabs/flasharb/internal/venue"
)

// settlementABIJSON is the execute entrypoint of the settlement contract.
const settlementABIJSON = `[{
  "name": "execute",
  "type": "function",
  "stateMutability": "nonpayable",
  "inputs": [
    {"name": "borrowToken", "type": "address"},
    {"name": "borrowAmount", "type": "uint256"},
    {"name": "legs", "type": "tuple[]", "components": [
      {"name": "router", "type": "address"},
      {"name": "tokenIn", "type": "address"},
      {"name": "tokenOut", "type": "address"},
      {"name": "amountIn", "type": "uint256"},
      {"name": "minOut", "type": "uint256"}
    ]},
    {"name": "deadline", "type": "uint256"}
  ],
  "outputs": [
    {"name": "amountsOut", "type": "uint256[]"}
  ]
}]`

// Backend is the slice of the RPC client the ledger needs. Satisfied by
// *ethclient.Client.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Submitter signs and submits settlement calldata. Implemented by
// wallet.Signer.
type Submitter interface {
	Address() common.Address
	Send(ctx context.Context, to common.Address, calldata []byte, deadline time.Time) (string, error)
}

// legTuple mirrors the contract's leg struct for ABI packing.
type legTuple struct {
	Router   common.Address
	TokenIn  common.Address
	TokenOut common.Address
	AmountIn *big.Int
	MinOut   *big.Int
}

// Client implements domain.SettlementLedger against the deployed settlement
// contract.
type Client struct {
	contract common.Address
	abi      abi.ABI
	tokens   *venue.TokenTable
	// routers maps venue names to their router addresses; legs reference
	// venues by name, the contract needs addresses.
	routers map[string]common.Address
	backend Backend
	sub     Submitter
	logger  *slog.Logger
}

// New creates a ledger client for the contract at the given address.
func New(contract string, tokens *venue.TokenTable, routers map[string]common.Address, backend Backend, sub Submitter, logger *slog.Logger) (*Client, error) {
	parsed, err := abi.JSON(strings.NewReader(settlementABIJSON))
	if err != nil {
		return nil, fmt.Errorf("ledger: parsing ABI: %w", err)
	}
	if !common.IsHexAddress(contract) {
		return nil, fmt.Errorf("ledger: invalid contract address %q", contract)
	}
	return &Client{
		contract: common.HexToAddress(contract),
		abi:      parsed,
		tokens:   tokens,
		routers:  routers,
		backend:  backend,
		sub:      sub,
		logger:   logger.With(slog.String("component", "ledger")),
	}, nil
}

var _ domain.SettlementLedger = (*Client)(nil)

// Execute packs the request, preflights it with eth_call from the signer's
// address, and submits it only if the simulation succeeds. A failed
// simulation costs no gas and yields the revert reason directly; a failed
// on-chain transaction is reported through the receipt status.
func (c *Client) Execute(ctx context.Context, req domain.SettlementRequest) (domain.LedgerReceipt, error) {
	calldata, err := c.pack(req)
	if err != nil {
		return domain.LedgerReceipt{}, err
	}

	from := c.sub.Address()
	simulated, err := c.backend.CallContract(ctx, ethereum.CallMsg{
		From: from,
		To:   &c.contract,
		Data: calldata,
	}, nil)
	if err != nil {
		// The node surfaces the contract's revert string in the call error.
		c.logger.Info("preflight reverted",
			slog.String("request_id", req.ID),
			slog.String("reason", err.Error()))
		return domain.LedgerReceipt{Success: false, RevertReason: err.Error()}, nil
	}

	amountsOut, err := c.unpackAmounts(req, simulated)
	if err != nil {
		return domain.LedgerReceipt{}, err
	}

	txRef, err := c.sub.Send(ctx, c.contract, calldata, req.Deadline)
	if err != nil {
		if txRef == "" {
			return domain.LedgerReceipt{}, fmt.Errorf("ledger: submitting settlement %s: %w", req.ID, err)
		}
		// Submitted but unconfirmed or reverted; let the receipt decide.
		receipt, rerr := c.backend.TransactionReceipt(ctx, common.HexToHash(txRef))
		if rerr != nil || receipt == nil {
			return domain.LedgerReceipt{}, fmt.Errorf("ledger: settlement %s unconfirmed: %w", req.ID, err)
		}
		if receipt.Status == types.ReceiptStatusFailed {
			return domain.LedgerReceipt{
				TxRef:        txRef,
				Success:      false,
				RevertReason: "execution reverted",
				GasUsed:      receipt.GasUsed,
			}, nil
		}
		return domain.LedgerReceipt{TxRef: txRef, Success: true, AmountsOut: amountsOut, GasUsed: receipt.GasUsed}, nil
	}

	out := domain.LedgerReceipt{TxRef: txRef, Success: true, AmountsOut: amountsOut}
	if receipt, rerr := c.backend.TransactionReceipt(ctx, common.HexToHash(txRef)); rerr == nil && receipt != nil {
		out.GasUsed = receipt.GasUsed
		if receipt.Status == types.ReceiptStatusFailed {
			out.Success = false
			out.AmountsOut = nil
			out.RevertReason = "execution reverted"
		}
	}
	return out, nil
}

// pack converts the float-domain request into integer calldata. Token
// amounts move to raw units here; this is the only boundary where the core's
// float64 math meets the chain's uint256.
func (c *Client) pack(req domain.SettlementRequest) ([]byte, error) {
	borrowTok, err := c.tokens.Lookup(req.BorrowToken)
	if err != nil {
		return nil, fmt.Errorf("ledger: request %s: %w", req.ID, err)
	}
	borrowAmount, err := c.tokens.ToUnits(req.BorrowToken, req.BorrowAmount)
	if err != nil {
		return nil, fmt.Errorf("ledger: request %s: %w", req.ID, err)
	}

	legs := make([]legTuple, len(req.Legs))
	for i, leg := range req.Legs {
		router, ok := c.routers[leg.Venue]
		if !ok {
			return nil, fmt.Errorf("ledger: request %s leg %d: no router for venue %q", req.ID, i, leg.Venue)
		}
		tokIn, err := c.tokens.Lookup(leg.TokenIn)
		if err != nil {
			return nil, fmt.Errorf("ledger: request %s leg %d: %w", req.ID, i, err)
		}
		tokOut, err := c.tokens.Lookup(leg.TokenOut)
		if err != nil {
			return nil, fmt.Errorf("ledger: request %s leg %d: %w", req.ID, i, err)
		}
		amountIn, err := c.tokens.ToUnits(leg.TokenIn, leg.AmountIn)
		if err != nil {
			return nil, fmt.Errorf("ledger: request %s leg %d: %w", req.ID, i, err)
		}
		minOut, err := c.tokens.ToUnits(leg.TokenOut, leg.MinOut)
		if err != nil {
			return nil, fmt.Errorf("ledger: request %s leg %d: %w", req.ID, i, err)
		}
		legs[i] = legTuple{
			Router:   router,
			TokenIn:  tokIn.Address,
			TokenOut: tokOut.Address,
			AmountIn: amountIn,
			MinOut:   minOut,
		}
	}

	deadline := big.NewInt(0)
	if !req.Deadline.IsZero() {
		deadline = big.NewInt(req.Deadline.Unix())
	}

	calldata, err := c.abi.Pack("execute", borrowTok.Address, borrowAmount, legs, deadline)
	if err != nil {
		return nil, fmt.Errorf("ledger: packing settlement %s: %w", req.ID, err)
	}
	return calldata, nil
}

// unpackAmounts decodes the simulated per-leg outputs back into human units.
func (c *Client) unpackAmounts(req domain.SettlementRequest, data []byte) ([]float64, error) {
	vals, err := c.abi.Unpack("execute", data)
	if err != nil {
		return nil, fmt.Errorf("ledger: unpacking simulation for %s: %w", req.ID, err)
	}
	raw, ok := vals[0].([]*big.Int)
	if !ok || len(raw) != len(req.Legs) {
		return nil, fmt.Errorf("ledger: simulation for %s returned %d amounts for %d legs", req.ID, len(raw), len(req.Legs))
	}
	out := make([]float64, len(raw))
	for i, v := range raw {
		amount, err := c.tokens.FromUnits(req.Legs[i].TokenOut, v)
		if err != nil {
			return nil, fmt.Errorf("ledger: request %s leg %d: %w", req.ID, i, err)
		}
		out[i] = amount
	}
	return out, nil
}
