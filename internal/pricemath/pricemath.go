/*

This file contains the Q64.96 fixed-point price math used everywhere a token amount
is converted through the pool's sqrt price: valuation, swap sizing, and price limits.

*/

package pricemath

import (
	"errors"
	"fmt"
	"math/big"

	sdkmath "cosmossdk.io/math"
)

var (
	ErrTickOutOfRange = errors.New("tick outside the representable range")
)

// Tick bounds of the concentrated-liquidity price grid.
const (
	MinTick int32 = -887272
	MaxTick int32 = 887272
)

var (
	// Q96 is the fixed-point one for sqrt prices; Q192 is its square.
	Q96  = new(big.Int).Lsh(big.NewInt(1), 96)
	Q192 = new(big.Int).Lsh(big.NewInt(1), 192)

	// PriceFloorX96 is the sqrt-price magnitude below which squaring loses the
	// whole integer part against Q192. Conversions switch evaluation order here.
	PriceFloorX96 = sdkmath.NewIntFromBigInt(new(big.Int).Lsh(big.NewInt(1), 48))

	// MinSqrtRatio and MaxSqrtRatio are the sqrt prices at MinTick and MaxTick.
	MinSqrtRatio = sdkmath.NewInt(4295128739)
	MaxSqrtRatio = mustIntFromString("1461446703485210103287273052203988822378723970342")

	// MaxUint256 doubles as the "unbounded" sentinel for caps and limits.
	MaxUint256 = sdkmath.NewIntFromBigInt(new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1)))

	maxUint256Big = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

// Rounding selects the direction MulDiv resolves a remainder.
type Rounding uint8

const (
	RoundDown Rounding = iota
	RoundUp
)

// MulDiv computes x*y/denominator with a full-width intermediate product, so
// the multiplication never overflows before the division. Panics on a zero
// denominator, like the integer division it wraps.
func MulDiv(x, y, denominator *big.Int, rounding Rounding) *big.Int {
	div, mod := new(big.Int).QuoRem(new(big.Int).Mul(x, y), denominator, new(big.Int))
	if rounding == RoundUp && mod.Sign() != 0 {
		return div.Add(div, big.NewInt(1))
	}
	return div
}

// ProRata returns amount*numerator/denominator rounded down, the share-math
// primitive. A zero denominator yields zero rather than dividing by it.
func ProRata(amount, numerator, denominator sdkmath.Int) sdkmath.Int {
	if denominator.IsNil() || denominator.IsZero() {
		return sdkmath.ZeroInt()
	}
	out := MulDiv(amount.BigInt(), numerator.BigInt(), denominator.BigInt(), RoundDown)
	return sdkmath.NewIntFromBigInt(out)
}

// ValueAsAsset converts an amount of the non-asset token into asset units at
// the given sqrt price. assetIsToken0 tells which side of the pair the asset
// sits on: when true the amount is token1 and is divided through the price,
// otherwise the amount is token0 and is multiplied by it.
//
// A sqrt price below PriceFloorX96 squares to under one full Q96 unit, so the
// conversion runs against the unsquared price twice; at or above the floor it
// squares once and divides in a single step. Every step rounds up, which keeps
// the result non-zero for any non-zero amount at a valid price.
func ValueAsAsset(amount, sqrtPriceX96 sdkmath.Int, assetIsToken0 bool) sdkmath.Int {
	if amount.IsNil() || amount.IsZero() {
		return sdkmath.ZeroInt()
	}
	if sqrtPriceX96.IsNil() || !sqrtPriceX96.IsPositive() {
		return sdkmath.ZeroInt()
	}

	amt := amount.BigInt()
	price := sqrtPriceX96.BigInt()

	var out *big.Int
	if sqrtPriceX96.LT(PriceFloorX96) {
		if assetIsToken0 {
			out = MulDiv(MulDiv(amt, Q96, price, RoundUp), Q96, price, RoundUp)
		} else {
			out = MulDiv(MulDiv(amt, price, Q96, RoundUp), price, Q96, RoundUp)
		}
	} else {
		ratio := new(big.Int).Mul(price, price)
		if assetIsToken0 {
			out = MulDiv(amt, Q192, ratio, RoundUp)
		} else {
			out = MulDiv(amt, ratio, Q192, RoundUp)
		}
	}
	return sdkmath.NewIntFromBigInt(out)
}

// NormalizeDecimals rescales an amount between two token precisions by
// 10^|fromDecimals-toDecimals|. Scaling down rounds toward zero.
func NormalizeDecimals(amount sdkmath.Int, fromDecimals, toDecimals uint8) sdkmath.Int {
	if amount.IsNil() || fromDecimals == toDecimals {
		return amount
	}
	if toDecimals > fromDecimals {
		scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(toDecimals-fromDecimals)), nil)
		return sdkmath.NewIntFromBigInt(new(big.Int).Mul(amount.BigInt(), scale))
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(fromDecimals-toDecimals)), nil)
	return sdkmath.NewIntFromBigInt(new(big.Int).Quo(amount.BigInt(), scale))
}

// tickRatioSteps are the Q128.128 multipliers for each bit of the tick
// magnitude, lowest bit first.
var tickRatioSteps = [...]string{
	"fff97272373d413259a46990580e213a",
	"fff2e50f5f656932ef12357cf3c7fdcc",
	"ffe5caca7e10e4e61c3624eaa0941cd0",
	"ffcb9843d60f6159c9db58835c926644",
	"ff973b41fa98c081472e6896dfb254c0",
	"ff2ea16466c96a3843ec78b326b52861",
	"fe5dee046a99a2a811c461f1969c3053",
	"fcbe86c7900a88aedcffc83b479aa3a4",
	"f987a7253ac413176f2b074cf7815e54",
	"f3392b0822b70005940c7a398e4b70f3",
	"e7159475a2c29b7443b29c7fa6e889d9",
	"d097f3bdfd2022b8845ad8f792aa5825",
	"a9f746462d870fdf8a65dc1f90e061e5",
	"70d869a156d2a1b890bb3df62baf32f7",
	"31be135f97d08fd981231505542fcfa6",
	"9aa508b5b7a84e1c677de54f3e99bc9",
	"5d6af8dedb81196699c329225ee604",
	"2216e584f5fa1ea926041bedfe98",
	"48a170391f7dc42444e8fa2",
}

var (
	tickRatioMuls [len(tickRatioSteps)]*big.Int
	tickBaseOdd   = mustHexInt("fffcb933bd6fad37aa2d162d1a594001")
	tickBaseEven  = mustHexInt("100000000000000000000000000000000")
	q32           = new(big.Int).Lsh(big.NewInt(1), 32)
)

func init() {
	for i, s := range tickRatioSteps {
		tickRatioMuls[i] = mustHexInt(s)
	}
}

// SqrtRatioAtTick returns the Q64.96 sqrt price for a tick, computed with the
// canonical per-bit multiplier ladder so it matches on-chain pools bit for bit.
func SqrtRatioAtTick(tick int32) (sdkmath.Int, error) {
	absTick := int64(tick)
	if absTick < 0 {
		absTick = -absTick
	}
	if absTick > int64(MaxTick) {
		return sdkmath.Int{}, fmt.Errorf("%w: %d", ErrTickOutOfRange, tick)
	}

	ratio := new(big.Int).Set(tickBaseEven)
	if absTick&0x1 != 0 {
		ratio.Set(tickBaseOdd)
	}
	for i, mul := range tickRatioMuls {
		if absTick&(1<<(uint(i)+1)) != 0 {
			ratio.Rsh(ratio.Mul(ratio, mul), 128)
		}
	}
	if tick > 0 {
		ratio.Quo(maxUint256Big, ratio)
	}

	// Q128.128 down to Q64.96, rounding up so round-trips stay inside range.
	q, r := new(big.Int).QuoRem(ratio, q32, new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return sdkmath.NewIntFromBigInt(q), nil
}

// TickAtSqrtRatio returns the largest tick whose sqrt ratio is at most the
// given price, found by bisection over SqrtRatioAtTick so the two functions
// can never disagree.
func TickAtSqrtRatio(sqrtPriceX96 sdkmath.Int) (int32, error) {
	if sqrtPriceX96.IsNil() || sqrtPriceX96.LT(MinSqrtRatio) || sqrtPriceX96.GT(MaxSqrtRatio) {
		return 0, fmt.Errorf("%w: sqrt ratio %s", ErrTickOutOfRange, sqrtPriceX96)
	}

	lo, hi := MinTick, MaxTick
	for lo < hi {
		mid := int32((int64(lo) + int64(hi) + 1) / 2)
		ratio, err := SqrtRatioAtTick(mid)
		if err != nil {
			return 0, err
		}
		if ratio.LTE(sqrtPriceX96) {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo, nil
}

func mustHexInt(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 16)
	if !ok {
		panic("pricemath: bad hex constant " + s)
	}
	return v
}

func mustIntFromString(s string) sdkmath.Int {
	v, ok := sdkmath.NewIntFromString(s)
	if !ok {
		panic("pricemath: bad integer constant " + s)
	}
	return v
}
