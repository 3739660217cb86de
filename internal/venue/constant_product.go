package venue

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/arbiterlabs/flasharb/internal/domain"
)

// pairABI is the minimal UniswapV2-style pair interface the adapter reads.
const pairABIJSON = `[
	{"name":"getReserves","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"reserve0","type":"uint112"},{"name":"reserve1","type":"uint112"},{"name":"blockTimestampLast","type":"uint32"}]},
	{"name":"token0","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]}
]`

// routerV2ABIJSON is the single router method the adapter submits.
const routerV2ABIJSON = `[
	{"name":"swapExactTokensForTokens","type":"function","stateMutability":"nonpayable","inputs":[{"name":"amountIn","type":"uint256"},{"name":"amountOutMin","type":"uint256"},{"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],"outputs":[{"name":"amounts","type":"uint256[]"}]}
]`

var (
	pairABI     = mustABI(pairABIJSON)
	routerV2ABI = mustABI(routerV2ABIJSON)
)

func mustABI(src string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(src))
	if err != nil {
		panic(err)
	}
	return parsed
}

// ContractCaller is the read-side chain access the adapters need; satisfied
// by *ethclient.Client.
type ContractCaller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Transactor submits signed calldata to the chain; implemented by the ledger
// client's signer. Adapters hold a nil Transactor in read-only modes.
type Transactor interface {
	// Address is the sending account, used as swap recipient.
	Address() common.Address
	Send(ctx context.Context, to common.Address, calldata []byte, deadline time.Time) (txRef string, err error)
}

// ConstantProduct is the adapter for UniswapV2-style x*y=k pools.
type ConstantProduct struct {
	name    string
	caller  ContractCaller
	sender  Transactor
	tokens  *TokenTable
	router  common.Address
	feeBps  float64
	impact  float64
	pools   map[string]common.Address // pair key -> pool address

	mu      sync.Mutex
	token0s map[common.Address]common.Address

	logger *slog.Logger
}

// ConstantProductConfig configures a constant-product adapter.
type ConstantProductConfig struct {
	Name              string
	Caller            ContractCaller
	Sender            Transactor // nil in read-only modes
	Tokens            *TokenTable
	Router            common.Address
	FeeBps            float64
	ImpactCoefficient float64
	Pools             map[string]common.Address
}

// NewConstantProduct creates the adapter. ImpactCoefficient defaults to 1.0,
// the exact value for an x*y=k curve.
func NewConstantProduct(cfg ConstantProductConfig, logger *slog.Logger) *ConstantProduct {
	impact := cfg.ImpactCoefficient
	if impact <= 0 {
		impact = 1.0
	}
	return &ConstantProduct{
		name:    cfg.Name,
		caller:  cfg.Caller,
		sender:  cfg.Sender,
		tokens:  cfg.Tokens,
		router:  cfg.Router,
		feeBps:  cfg.FeeBps,
		impact:  impact,
		pools:   cfg.Pools,
		token0s: make(map[common.Address]common.Address),
		logger:  logger.With(slog.String("venue", cfg.Name)),
	}
}

// Name implements domain.ExchangeAdapter.
func (a *ConstantProduct) Name() string { return a.name }

// ImpactCoefficient implements domain.ExchangeAdapter.
func (a *ConstantProduct) ImpactCoefficient() float64 { return a.impact }

// Quote reads the pool's reserves and derives price and liquidity for the
// pair. The call is idempotent and has no side effects.
func (a *ConstantProduct) Quote(ctx context.Context, pair domain.Pair) (domain.VenueQuote, error) {
	pool, ok := a.pools[pair.Key()]
	if !ok {
		return domain.VenueQuote{}, fmt.Errorf("venue %s: no pool for %s: %w", a.name, pair, domain.ErrVenueUnavailable)
	}
	tokA, err := a.tokens.Lookup(pair.TokenA)
	if err != nil {
		return domain.VenueQuote{}, err
	}
	tokB, err := a.tokens.Lookup(pair.TokenB)
	if err != nil {
		return domain.VenueQuote{}, err
	}

	reserve0, reserve1, err := a.getReserves(ctx, pool)
	if err != nil {
		return domain.VenueQuote{}, fmt.Errorf("venue %s: %w", a.name, err)
	}
	token0, err := a.getToken0(ctx, pool)
	if err != nil {
		return domain.VenueQuote{}, fmt.Errorf("venue %s: %w", a.name, err)
	}

	reserveA, reserveB := reserve0, reserve1
	if token0 != tokA.Address {
		reserveA, reserveB = reserve1, reserve0
	}

	liqA := unitsToFloat(reserveA, tokA.Decimals)
	liqB := unitsToFloat(reserveB, tokB.Decimals)
	if liqA <= 0 || liqB <= 0 {
		return domain.VenueQuote{}, fmt.Errorf("venue %s: pool %s drained: %w", a.name, pool.Hex(), domain.ErrVenueUnavailable)
	}

	return domain.VenueQuote{
		Venue:      a.name,
		Pair:       pair,
		Price:      liqB / liqA,
		LiquidityA: liqA,
		LiquidityB: liqB,
		FeeBps:     a.feeBps,
		ObservedAt: time.Now().UTC(),
	}, nil
}

// Swap submits a standalone swapExactTokensForTokens through the venue's
// router. Used only outside the atomic flash-loan path.
func (a *ConstantProduct) Swap(ctx context.Context, tokenIn, tokenOut string, amountIn, minOut float64, deadline time.Time) (domain.SwapResult, error) {
	if a.sender == nil {
		return domain.SwapResult{}, fmt.Errorf("venue %s: no transactor configured", a.name)
	}
	inTok, err := a.tokens.Lookup(tokenIn)
	if err != nil {
		return domain.SwapResult{}, err
	}
	outTok, err := a.tokens.Lookup(tokenOut)
	if err != nil {
		return domain.SwapResult{}, err
	}
	amountUnits, err := a.tokens.ToUnits(tokenIn, amountIn)
	if err != nil {
		return domain.SwapResult{}, err
	}
	minOutUnits, err := a.tokens.ToUnits(tokenOut, minOut)
	if err != nil {
		return domain.SwapResult{}, err
	}

	calldata, err := routerV2ABI.Pack("swapExactTokensForTokens",
		amountUnits, minOutUnits,
		[]common.Address{inTok.Address, outTok.Address},
		a.sender.Address(), big.NewInt(deadline.Unix()),
	)
	if err != nil {
		return domain.SwapResult{}, fmt.Errorf("venue %s: pack swap: %w", a.name, err)
	}

	txRef, err := a.sender.Send(ctx, a.router, calldata, deadline)
	if err != nil {
		return domain.SwapResult{}, fmt.Errorf("venue %s: submit swap: %w", a.name, err)
	}
	return domain.SwapResult{AmountOut: minOut, Success: true, TxRef: txRef}, nil
}

func (a *ConstantProduct) getReserves(ctx context.Context, pool common.Address) (*big.Int, *big.Int, error) {
	data, err := pairABI.Pack("getReserves")
	if err != nil {
		return nil, nil, fmt.Errorf("pack getReserves: %w", err)
	}
	raw, err := a.caller.CallContract(ctx, ethereum.CallMsg{To: &pool, Data: data}, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("getReserves: %w: %w", domain.ErrVenueUnavailable, err)
	}
	out, err := pairABI.Unpack("getReserves", raw)
	if err != nil || len(out) < 2 {
		return nil, nil, fmt.Errorf("unpack getReserves: %w", err)
	}
	r0, ok0 := out[0].(*big.Int)
	r1, ok1 := out[1].(*big.Int)
	if !ok0 || !ok1 {
		return nil, nil, fmt.Errorf("unexpected getReserves output types")
	}
	return r0, r1, nil
}

// getToken0 caches the pool's token0 ordering; it is immutable per pool.
func (a *ConstantProduct) getToken0(ctx context.Context, pool common.Address) (common.Address, error) {
	a.mu.Lock()
	t0, ok := a.token0s[pool]
	a.mu.Unlock()
	if ok {
		return t0, nil
	}
	data, err := pairABI.Pack("token0")
	if err != nil {
		return common.Address{}, fmt.Errorf("pack token0: %w", err)
	}
	raw, err := a.caller.CallContract(ctx, ethereum.CallMsg{To: &pool, Data: data}, nil)
	if err != nil {
		return common.Address{}, fmt.Errorf("token0: %w: %w", domain.ErrVenueUnavailable, err)
	}
	out, err := pairABI.Unpack("token0", raw)
	if err != nil || len(out) < 1 {
		return common.Address{}, fmt.Errorf("unpack token0: %w", err)
	}
	t0, ok = out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("unexpected token0 output type")
	}
	a.mu.Lock()
	a.token0s[pool] = t0
	a.mu.Unlock()
	return t0, nil
}

// Compile-time interface check.
var _ domain.ExchangeAdapter = (*ConstantProduct)(nil)
