// Package domain defines the core types, interfaces, and sentinel errors
// shared by every layer of the arbitrage engine. Concrete implementations
// (venue adapters, stores, caches, the ledger client) live in infrastructure
// packages and are wired together by internal/app.
package domain

import (
	"fmt"
	"strings"
)

// Pair identifies a tradable token pair. TokenA is the base token (the asset
// being arbitraged) and TokenB the quote token (the asset borrowed and
// repaid). Identity is order-independent: WETH-USDC and USDC-WETH refer to
// the same pair, but quotes are always expressed as TokenB per TokenA in the
// orientation carried by the Pair value.
type Pair struct {
	TokenA string
	TokenB string
}

// NewPair creates a pair with the given base/quote orientation.
func NewPair(tokenA, tokenB string) Pair {
	return Pair{TokenA: strings.ToUpper(tokenA), TokenB: strings.ToUpper(tokenB)}
}

// ParsePair parses a "BASE-QUOTE" string such as "WETH-USDC".
func ParsePair(s string) (Pair, error) {
	parts := strings.Split(strings.TrimSpace(s), "-")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Pair{}, fmt.Errorf("domain: invalid pair %q (want BASE-QUOTE)", s)
	}
	return NewPair(parts[0], parts[1]), nil
}

// Key returns the canonical map key for this pair in its configured
// orientation, e.g. "WETH-USDC".
func (p Pair) Key() string {
	return p.TokenA + "-" + p.TokenB
}

// Equal reports whether two pairs refer to the same two tokens, regardless of
// orientation.
func (p Pair) Equal(other Pair) bool {
	if p.TokenA == other.TokenA && p.TokenB == other.TokenB {
		return true
	}
	return p.TokenA == other.TokenB && p.TokenB == other.TokenA
}

// String implements fmt.Stringer.
func (p Pair) String() string { return p.Key() }
