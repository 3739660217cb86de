package venue

import (
	"bytes"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/arbiterlabs/flasharb/internal/domain"
)

// SwapDecoder classifies pending transactions into swap intent on a tracked
// venue. A transaction qualifies when its target is a configured router and
// its calldata matches one of the swap selectors the adapters themselves
// submit; everything else is not a candidate.
type SwapDecoder struct {
	// venueByRouter maps lowercase router addresses to venue names.
	venueByRouter map[string]string
	tokens        *TokenTable

	v2SwapID []byte
	v3SwapID []byte
}

// NewSwapDecoder builds a decoder for the given router -> venue mapping.
func NewSwapDecoder(routers map[string]common.Address, tokens *TokenTable) *SwapDecoder {
	byRouter := make(map[string]string, len(routers))
	for name, addr := range routers {
		byRouter[strings.ToLower(addr.Hex())] = name
	}
	return &SwapDecoder{
		venueByRouter: byRouter,
		tokens:        tokens,
		v2SwapID:      routerV2ABI.Methods["swapExactTokensForTokens"].ID,
		v3SwapID:      clRouterABI.Methods["exactInputSingle"].ID,
	}
}

// Decode attempts to classify a pending transaction. The second return is
// false when the transaction is not a swap on a tracked venue or references
// tokens outside the table.
func (d *SwapDecoder) Decode(tx domain.PendingTx) (domain.PendingSwap, bool) {
	venueName, ok := d.venueByRouter[strings.ToLower(tx.To)]
	if !ok || len(tx.Input) < 4 {
		return domain.PendingSwap{}, false
	}

	selector := tx.Input[:4]
	args := tx.Input[4:]
	switch {
	case bytes.Equal(selector, d.v2SwapID):
		return d.decodeV2(tx, venueName, args)
	case bytes.Equal(selector, d.v3SwapID):
		return d.decodeV3(tx, venueName, args)
	default:
		return domain.PendingSwap{}, false
	}
}

func (d *SwapDecoder) decodeV2(tx domain.PendingTx, venueName string, args []byte) (domain.PendingSwap, bool) {
	vals, err := routerV2ABI.Methods["swapExactTokensForTokens"].Inputs.Unpack(args)
	if err != nil || len(vals) < 3 {
		return domain.PendingSwap{}, false
	}
	amountIn, ok1 := vals[0].(*big.Int)
	minOut, ok2 := vals[1].(*big.Int)
	path, ok3 := vals[2].([]common.Address)
	if !ok1 || !ok2 || !ok3 || len(path) < 2 {
		return domain.PendingSwap{}, false
	}

	tokIn, ok := d.tokens.LookupAddress(path[0])
	if !ok {
		return domain.PendingSwap{}, false
	}
	tokOut, ok := d.tokens.LookupAddress(path[len(path)-1])
	if !ok {
		return domain.PendingSwap{}, false
	}

	return domain.PendingSwap{
		TxHash:    tx.Hash,
		From:      tx.From,
		Venue:     venueName,
		TokenIn:   tokIn.Symbol,
		TokenOut:  tokOut.Symbol,
		AmountIn:  unitsToFloat(amountIn, tokIn.Decimals),
		MinOut:    unitsToFloat(minOut, tokOut.Decimals),
		SeenBlock: tx.SeenBlock,
	}, true
}

func (d *SwapDecoder) decodeV3(tx domain.PendingTx, venueName string, args []byte) (domain.PendingSwap, bool) {
	vals, err := clRouterABI.Methods["exactInputSingle"].Inputs.Unpack(args)
	if err != nil || len(vals) < 1 {
		return domain.PendingSwap{}, false
	}
	params, ok := vals[0].(struct {
		TokenIn           common.Address `json:"tokenIn"`
		TokenOut          common.Address `json:"tokenOut"`
		Fee               *big.Int       `json:"fee"`
		Recipient         common.Address `json:"recipient"`
		Deadline          *big.Int       `json:"deadline"`
		AmountIn          *big.Int       `json:"amountIn"`
		AmountOutMinimum  *big.Int       `json:"amountOutMinimum"`
		SqrtPriceLimitX96 *big.Int       `json:"sqrtPriceLimitX96"`
	})
	if !ok {
		return domain.PendingSwap{}, false
	}

	tokIn, okIn := d.tokens.LookupAddress(params.TokenIn)
	tokOut, okOut := d.tokens.LookupAddress(params.TokenOut)
	if !okIn || !okOut {
		return domain.PendingSwap{}, false
	}

	return domain.PendingSwap{
		TxHash:    tx.Hash,
		From:      tx.From,
		Venue:     venueName,
		TokenIn:   tokIn.Symbol,
		TokenOut:  tokOut.Symbol,
		AmountIn:  unitsToFloat(params.AmountIn, tokIn.Decimals),
		MinOut:    unitsToFloat(params.AmountOutMinimum, tokOut.Decimals),
		SeenBlock: tx.SeenBlock,
	}, true
}
