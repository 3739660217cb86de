// Package venue implements the per-venue ExchangeAdapter capability
// interface over on-chain pool state. One adapter exists per configured
// venue; the registry selects adapters by configuration lookup, never by
// address comparison.
package venue

import (
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Token is one entry of the token table.
type Token struct {
	Symbol   string
	Address  common.Address
	Decimals int
}

// TokenTable resolves token symbols to their on-chain identity. It is built
// once from configuration and shared read-only by all adapters and the
// ledger client.
type TokenTable struct {
	bySymbol  map[string]Token
	byAddress map[common.Address]Token
}

// NewTokenTable builds a table from symbol -> (address, decimals) entries.
func NewTokenTable(entries map[string]Token) *TokenTable {
	t := &TokenTable{
		bySymbol:  make(map[string]Token, len(entries)),
		byAddress: make(map[common.Address]Token, len(entries)),
	}
	for sym, tok := range entries {
		tok.Symbol = strings.ToUpper(sym)
		t.bySymbol[tok.Symbol] = tok
		t.byAddress[tok.Address] = tok
	}
	return t
}

// Lookup resolves a symbol.
func (t *TokenTable) Lookup(symbol string) (Token, error) {
	tok, ok := t.bySymbol[strings.ToUpper(symbol)]
	if !ok {
		return Token{}, fmt.Errorf("venue: unknown token %q", symbol)
	}
	return tok, nil
}

// LookupAddress resolves an on-chain address back to a token.
func (t *TokenTable) LookupAddress(addr common.Address) (Token, bool) {
	tok, ok := t.byAddress[addr]
	return tok, ok
}

// ToUnits converts a human amount of the given token to raw integer units.
func (t *TokenTable) ToUnits(symbol string, amount float64) (*big.Int, error) {
	tok, err := t.Lookup(symbol)
	if err != nil {
		return nil, err
	}
	scaled := new(big.Float).Mul(big.NewFloat(amount), pow10f(tok.Decimals))
	out, _ := scaled.Int(nil)
	return out, nil
}

// FromUnits converts raw integer units of the given token to a human amount.
func (t *TokenTable) FromUnits(symbol string, units *big.Int) (float64, error) {
	tok, err := t.Lookup(symbol)
	if err != nil {
		return 0, err
	}
	return unitsToFloat(units, tok.Decimals), nil
}

// unitsToFloat divides by 10^decimals with float64 precision, which is
// sufficient for pricing decisions (settlement amounts stay in big.Int on
// the ledger path).
func unitsToFloat(units *big.Int, decimals int) float64 {
	f := new(big.Float).SetInt(units)
	f.Quo(f, pow10f(decimals))
	out, _ := f.Float64()
	return out
}

func pow10f(n int) *big.Float {
	return big.NewFloat(math.Pow10(n))
}

func pow10(n int) float64 {
	return math.Pow10(n)
}
