package venue

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/arbiterlabs/flasharb/internal/domain"
)

// clPoolABIJSON is the minimal UniswapV3-style pool interface.
const clPoolABIJSON = `[
	{"name":"slot0","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"sqrtPriceX96","type":"uint160"},{"name":"tick","type":"int24"},{"name":"observationIndex","type":"uint16"},{"name":"observationCardinality","type":"uint16"},{"name":"observationCardinalityNext","type":"uint16"},{"name":"feeProtocol","type":"uint8"},{"name":"unlocked","type":"bool"}]},
	{"name":"liquidity","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint128"}]},
	{"name":"token0","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]}
]`

// clRouterABIJSON is the exactInputSingle method on the venue's swap router.
const clRouterABIJSON = `[
	{"name":"exactInputSingle","type":"function","stateMutability":"payable","inputs":[{"name":"params","type":"tuple","components":[{"name":"tokenIn","type":"address"},{"name":"tokenOut","type":"address"},{"name":"fee","type":"uint24"},{"name":"recipient","type":"address"},{"name":"deadline","type":"uint256"},{"name":"amountIn","type":"uint256"},{"name":"amountOutMinimum","type":"uint256"},{"name":"sqrtPriceLimitX96","type":"uint160"}]}],"outputs":[{"name":"amountOut","type":"uint256"}]}
]`

var (
	clPoolABI   = mustABI(clPoolABIJSON)
	clRouterABI = mustABI(clRouterABIJSON)

	q96 = new(big.Float).SetInt(new(big.Int).Lsh(big.NewInt(1), 96))
)

// defaultConcentratedImpact reflects that active liquidity near the current
// tick absorbs a trade with less price movement than a full-range x*y=k
// curve of the same nominal depth.
const defaultConcentratedImpact = 0.4

// Concentrated is the adapter for UniswapV3-style concentrated-liquidity
// pools. Liquidity is reported as the virtual reserves implied by the
// in-range liquidity L at the current sqrt price.
type Concentrated struct {
	name   string
	caller ContractCaller
	sender Transactor
	tokens *TokenTable
	router common.Address
	feeBps float64
	impact float64
	pools  map[string]common.Address
	logger *slog.Logger
}

// ConcentratedConfig configures a concentrated-liquidity adapter.
type ConcentratedConfig struct {
	Name              string
	Caller            ContractCaller
	Sender            Transactor
	Tokens            *TokenTable
	Router            common.Address
	FeeBps            float64
	ImpactCoefficient float64
	Pools             map[string]common.Address
}

// NewConcentrated creates the adapter.
func NewConcentrated(cfg ConcentratedConfig, logger *slog.Logger) *Concentrated {
	impact := cfg.ImpactCoefficient
	if impact <= 0 {
		impact = defaultConcentratedImpact
	}
	return &Concentrated{
		name:   cfg.Name,
		caller: cfg.Caller,
		sender: cfg.Sender,
		tokens: cfg.Tokens,
		router: cfg.Router,
		feeBps: cfg.FeeBps,
		impact: impact,
		pools:  cfg.Pools,
		logger: logger.With(slog.String("venue", cfg.Name)),
	}
}

// Name implements domain.ExchangeAdapter.
func (a *Concentrated) Name() string { return a.name }

// ImpactCoefficient implements domain.ExchangeAdapter.
func (a *Concentrated) ImpactCoefficient() float64 { return a.impact }

// Quote reads slot0 and the in-range liquidity and derives the spot price
// and virtual reserves for the pair.
func (a *Concentrated) Quote(ctx context.Context, pair domain.Pair) (domain.VenueQuote, error) {
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

	sqrtPriceX96, err := a.slot0(ctx, pool)
	if err != nil {
		return domain.VenueQuote{}, fmt.Errorf("venue %s: %w", a.name, err)
	}
	liq, err := a.liquidity(ctx, pool)
	if err != nil {
		return domain.VenueQuote{}, fmt.Errorf("venue %s: %w", a.name, err)
	}
	token0, err := a.token0(ctx, pool)
	if err != nil {
		return domain.VenueQuote{}, fmt.Errorf("venue %s: %w", a.name, err)
	}

	// sqrtP = sqrtPriceX96 / 2^96; price of token0 in token1 raw units is
	// sqrtP^2. Virtual reserves at the current tick: reserve0 = L / sqrtP,
	// reserve1 = L * sqrtP.
	sqrtP := new(big.Float).Quo(new(big.Float).SetInt(sqrtPriceX96), q96)
	liqF := new(big.Float).SetInt(liq)

	reserve0 := new(big.Float).Quo(liqF, sqrtP)
	reserve1 := new(big.Float).Mul(liqF, sqrtP)

	r0, _ := reserve0.Float64()
	r1, _ := reserve1.Float64()

	// Orient raw reserves to the pair's TokenA/TokenB, then scale decimals.
	rA, rB := r0, r1
	if token0 != tokA.Address {
		rA, rB = r1, r0
	}
	liqA := rA / pow10(tokA.Decimals)
	liqB := rB / pow10(tokB.Decimals)
	if liqA <= 0 || liqB <= 0 {
		return domain.VenueQuote{}, fmt.Errorf("venue %s: pool %s has no in-range liquidity: %w", a.name, pool.Hex(), domain.ErrVenueUnavailable)
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

// Swap submits a standalone exactInputSingle through the venue's router.
func (a *Concentrated) Swap(ctx context.Context, tokenIn, tokenOut string, amountIn, minOut float64, deadline time.Time) (domain.SwapResult, error) {
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

	params := struct {
		TokenIn           common.Address
		TokenOut          common.Address
		Fee               *big.Int
		Recipient         common.Address
		Deadline          *big.Int
		AmountIn          *big.Int
		AmountOutMinimum  *big.Int
		SqrtPriceLimitX96 *big.Int
	}{
		TokenIn:           inTok.Address,
		TokenOut:          outTok.Address,
		Fee:               big.NewInt(int64(a.feeBps * 100)), // bps -> hundredths of a bip
		Recipient:         a.sender.Address(),
		Deadline:          big.NewInt(deadline.Unix()),
		AmountIn:          amountUnits,
		AmountOutMinimum:  minOutUnits,
		SqrtPriceLimitX96: big.NewInt(0),
	}

	calldata, err := clRouterABI.Pack("exactInputSingle", params)
	if err != nil {
		return domain.SwapResult{}, fmt.Errorf("venue %s: pack swap: %w", a.name, err)
	}

	txRef, err := a.sender.Send(ctx, a.router, calldata, deadline)
	if err != nil {
		return domain.SwapResult{}, fmt.Errorf("venue %s: submit swap: %w", a.name, err)
	}
	return domain.SwapResult{AmountOut: minOut, Success: true, TxRef: txRef}, nil
}

func (a *Concentrated) slot0(ctx context.Context, pool common.Address) (*big.Int, error) {
	raw, err := a.call(ctx, pool, "slot0")
	if err != nil {
		return nil, err
	}
	out, err := clPoolABI.Unpack("slot0", raw)
	if err != nil || len(out) < 1 {
		return nil, fmt.Errorf("unpack slot0: %w", err)
	}
	sqrtPriceX96, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected slot0 output type")
	}
	return sqrtPriceX96, nil
}

func (a *Concentrated) liquidity(ctx context.Context, pool common.Address) (*big.Int, error) {
	raw, err := a.call(ctx, pool, "liquidity")
	if err != nil {
		return nil, err
	}
	out, err := clPoolABI.Unpack("liquidity", raw)
	if err != nil || len(out) < 1 {
		return nil, fmt.Errorf("unpack liquidity: %w", err)
	}
	liq, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected liquidity output type")
	}
	return liq, nil
}

func (a *Concentrated) token0(ctx context.Context, pool common.Address) (common.Address, error) {
	raw, err := a.call(ctx, pool, "token0")
	if err != nil {
		return common.Address{}, err
	}
	out, err := clPoolABI.Unpack("token0", raw)
	if err != nil || len(out) < 1 {
		return common.Address{}, fmt.Errorf("unpack token0: %w", err)
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("unexpected token0 output type")
	}
	return addr, nil
}

func (a *Concentrated) call(ctx context.Context, pool common.Address, method string) ([]byte, error) {
	data, err := clPoolABI.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	raw, err := a.caller.CallContract(ctx, ethereum.CallMsg{To: &pool, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", method, domain.ErrVenueUnavailable, err)
	}
	return raw, nil
}

// Compile-time interface check.
var _ domain.ExchangeAdapter = (*Concentrated)(nil)
