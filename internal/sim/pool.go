/*

This file contains the simulated concentrated-liquidity pool: exact-input swaps
against a constant virtual liquidity, fee on input, hard price limits, and the
synchronous payment callback with a received-balance check.

*/

package sim

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/amphora-finance/clvm/internal/dex"
	"github.com/amphora-finance/clvm/internal/logger"
	"github.com/amphora-finance/clvm/internal/pricemath"
)

// FeeDenominator scales pool fees: a fee of 3000 is 3000/1_000_000 = 0.30%.
const FeeDenominator = 1_000_000

var (
	ErrInvalidPoolConfig        = errors.New("invalid pool configuration")
	ErrInvalidSwapAmount        = errors.New("swap amount must be positive")
	ErrInvalidPriceLimit        = errors.New("price limit is on the wrong side of the current price")
	ErrPriceLimitCrossed        = errors.New("swap cannot fill within the price limit")
	ErrPaymentNotReceived       = errors.New("payment callback did not deliver the owed amount")
	ErrInsufficientPoolReserves = errors.New("pool reserves cannot cover the swap output")
	ErrNilPayer                 = errors.New("swap requires a payer for the payment callback")
)

var poolLogger = logger.GetForComponent("sim_pool")

// PoolConfig seeds a simulated pool. Liquidity is the constant virtual L the
// price curve trades against; reserves must be minted to the pool address
// separately.
type PoolConfig struct {
	Address      common.Address
	Token0       common.Address
	Token1       common.Address
	Fee          uint32 // hundredths of a basis point
	TickSpacing  int32
	SqrtPriceX96 sdkmath.Int
	Liquidity    sdkmath.Int
	Ledger       *Ledger
}

// Pool is an in-process stand-in for the AMM pool. A single mutex serializes
// swaps; the payment callback runs while it is held, which also makes
// re-entrant swapping impossible, as on chain.
type Pool struct {
	mu           sync.Mutex
	cfg          PoolConfig
	sqrtPriceX96 sdkmath.Int
	tick         int32
}

func NewPool(cfg PoolConfig) (*Pool, error) {
	if err := validatePoolConfig(cfg); err != nil {
		return nil, errors.Join(ErrInvalidPoolConfig, err)
	}
	tick, err := pricemath.TickAtSqrtRatio(cfg.SqrtPriceX96)
	if err != nil {
		return nil, errors.Join(ErrInvalidPoolConfig, err)
	}
	return &Pool{cfg: cfg, sqrtPriceX96: cfg.SqrtPriceX96, tick: tick}, nil
}

func validatePoolConfig(cfg PoolConfig) error {
	if cfg.Ledger == nil {
		return fmt.Errorf("ledger is required")
	}
	if cfg.Address == (common.Address{}) {
		return fmt.Errorf("pool address is required")
	}
	if bytes.Compare(cfg.Token0.Bytes(), cfg.Token1.Bytes()) >= 0 {
		return fmt.Errorf("token0 must sort below token1")
	}
	if cfg.Fee >= FeeDenominator {
		return fmt.Errorf("fee %d is not below the denominator", cfg.Fee)
	}
	if cfg.TickSpacing <= 0 {
		return fmt.Errorf("tick spacing must be positive")
	}
	if cfg.SqrtPriceX96.IsNil() || cfg.SqrtPriceX96.LT(pricemath.MinSqrtRatio) || cfg.SqrtPriceX96.GT(pricemath.MaxSqrtRatio) {
		return fmt.Errorf("sqrt price outside the representable range")
	}
	if cfg.Liquidity.IsNil() || !cfg.Liquidity.IsPositive() {
		return fmt.Errorf("liquidity must be positive")
	}
	return nil
}

func (p *Pool) Address() common.Address { return p.cfg.Address }
func (p *Pool) Token0() common.Address  { return p.cfg.Token0 }
func (p *Pool) Token1() common.Address  { return p.cfg.Token1 }
func (p *Pool) Fee() uint32             { return p.cfg.Fee }
func (p *Pool) TickSpacing() int32      { return p.cfg.TickSpacing }

func (p *Pool) Slot0(_ context.Context) (dex.Slot0, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return dex.Slot0{SqrtPriceX96: p.sqrtPriceX96, Tick: p.tick}, nil
}

// SetSqrtPrice jumps the pool price without trading, simulating external
// market movement between tends.
func (p *Pool) SetSqrtPrice(sqrtPriceX96 sdkmath.Int) error {
	if sqrtPriceX96.IsNil() || sqrtPriceX96.LT(pricemath.MinSqrtRatio) || sqrtPriceX96.GT(pricemath.MaxSqrtRatio) {
		return fmt.Errorf("%w: sqrt price outside the representable range", ErrInvalidPoolConfig)
	}
	tick, err := pricemath.TickAtSqrtRatio(sqrtPriceX96)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sqrtPriceX96 = sqrtPriceX96
	p.tick = tick
	return nil
}

// Swap executes an exact-input swap. The payment callback on payer runs before
// any output leaves the pool, and the pool verifies its own balance actually
// grew by the owed amount before paying out.
func (p *Pool) Swap(ctx context.Context, recipient common.Address, zeroForOne bool, amountSpecified, sqrtPriceLimitX96 sdkmath.Int, data []byte, payer dex.SwapPayer) (sdkmath.Int, sdkmath.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	zero := sdkmath.ZeroInt()
	if payer == nil {
		return zero, zero, ErrNilPayer
	}
	if amountSpecified.IsNil() || !amountSpecified.IsPositive() {
		return zero, zero, ErrInvalidSwapAmount
	}
	if err := p.checkPriceLimit(zeroForOne, sqrtPriceLimitX96); err != nil {
		return zero, zero, err
	}

	amountIn := amountSpecified
	amountInNet := amountIn.MulRaw(FeeDenominator - int64(p.cfg.Fee)).QuoRaw(FeeDenominator)

	newPrice, amountOut := p.quote(zeroForOne, amountInNet)
	if zeroForOne {
		if newPrice.LT(sqrtPriceLimitX96) {
			return zero, zero, fmt.Errorf("%w: would move to %s past %s", ErrPriceLimitCrossed, newPrice, sqrtPriceLimitX96)
		}
	} else {
		if newPrice.GT(sqrtPriceLimitX96) {
			return zero, zero, fmt.Errorf("%w: would move to %s past %s", ErrPriceLimitCrossed, newPrice, sqrtPriceLimitX96)
		}
	}

	inToken, outToken := p.cfg.Token0, p.cfg.Token1
	if !zeroForOne {
		inToken, outToken = outToken, inToken
	}

	reserves, err := p.cfg.Ledger.BalanceOf(ctx, outToken, p.cfg.Address)
	if err != nil {
		return zero, zero, err
	}
	if reserves.LT(amountOut) {
		return zero, zero, fmt.Errorf("%w: have %s, need %s", ErrInsufficientPoolReserves, reserves, amountOut)
	}

	amount0, amount1 := amountOut, amountIn.Neg()
	if zeroForOne {
		amount0, amount1 = amountIn.Neg(), amountOut
	}

	balanceBefore, err := p.cfg.Ledger.BalanceOf(ctx, inToken, p.cfg.Address)
	if err != nil {
		return zero, zero, err
	}
	if err := payer.PaySwap(ctx, p.cfg.Address, amount0, amount1, data); err != nil {
		return zero, zero, fmt.Errorf("payment callback failed: %w", err)
	}
	balanceAfter, err := p.cfg.Ledger.BalanceOf(ctx, inToken, p.cfg.Address)
	if err != nil {
		return zero, zero, err
	}
	if balanceAfter.Sub(balanceBefore).LT(amountIn) {
		return zero, zero, fmt.Errorf("%w: received %s, owed %s", ErrPaymentNotReceived, balanceAfter.Sub(balanceBefore), amountIn)
	}

	if err := p.cfg.Ledger.Transfer(ctx, outToken, p.cfg.Address, recipient, amountOut); err != nil {
		return zero, zero, err
	}

	tick, err := pricemath.TickAtSqrtRatio(newPrice)
	if err != nil {
		return zero, zero, err
	}
	p.sqrtPriceX96 = newPrice
	p.tick = tick

	poolLogger.Debug().
		Bool("zero_for_one", zeroForOne).
		Str("amount_in", amountIn.String()).
		Str("amount_out", amountOut.String()).
		Str("sqrt_price", newPrice.String()).
		Int32("tick", tick).
		Msg("Swap executed")

	return amount0, amount1, nil
}

func (p *Pool) checkPriceLimit(zeroForOne bool, limit sdkmath.Int) error {
	if limit.IsNil() {
		return fmt.Errorf("%w: limit is nil", ErrInvalidPriceLimit)
	}
	if zeroForOne {
		if limit.GTE(p.sqrtPriceX96) || limit.LT(pricemath.MinSqrtRatio) {
			return fmt.Errorf("%w: limit %s, current %s", ErrInvalidPriceLimit, limit, p.sqrtPriceX96)
		}
		return nil
	}
	if limit.LTE(p.sqrtPriceX96) || limit.GT(pricemath.MaxSqrtRatio) {
		return fmt.Errorf("%w: limit %s, current %s", ErrInvalidPriceLimit, limit, p.sqrtPriceX96)
	}
	return nil
}

// quote computes the post-swap sqrt price and the output amount for an
// exact net input against constant liquidity.
func (p *Pool) quote(zeroForOne bool, amountInNet sdkmath.Int) (sdkmath.Int, sdkmath.Int) {
	liquidity := p.cfg.Liquidity.BigInt()
	price := p.sqrtPriceX96.BigInt()
	in := amountInNet.BigInt()

	if zeroForOne {
		// price' = L*Q96*price / (L*Q96 + in*price), rounded up so the pool
		// never undercharges.
		denom := new(big.Int).Add(
			new(big.Int).Mul(liquidity, pricemath.Q96),
			new(big.Int).Mul(in, price),
		)
		newPrice := pricemath.MulDiv(new(big.Int).Mul(liquidity, price), pricemath.Q96, denom, pricemath.RoundUp)

		// token1 out = L * (price - price') / Q96
		out := pricemath.MulDiv(liquidity, new(big.Int).Sub(price, newPrice), pricemath.Q96, pricemath.RoundDown)
		return sdkmath.NewIntFromBigInt(newPrice), sdkmath.NewIntFromBigInt(out)
	}

	// price' = price + in*Q96/L
	delta := pricemath.MulDiv(in, pricemath.Q96, liquidity, pricemath.RoundDown)
	newPrice := new(big.Int).Add(price, delta)

	// token0 out = L * (price' - price) * Q96 / (price * price')
	out := pricemath.MulDiv(
		new(big.Int).Mul(liquidity, new(big.Int).Sub(newPrice, price)),
		pricemath.Q96,
		new(big.Int).Mul(price, newPrice),
		pricemath.RoundDown,
	)
	return sdkmath.NewIntFromBigInt(newPrice), sdkmath.NewIntFromBigInt(out)
}
