package pricemath

import (
	"math/big"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"
)

func TestMulDivRounding(t *testing.T) {
	down := MulDiv(big.NewInt(7), big.NewInt(3), big.NewInt(2), RoundDown)
	require.Equal(t, int64(10), down.Int64())

	up := MulDiv(big.NewInt(7), big.NewInt(3), big.NewInt(2), RoundUp)
	require.Equal(t, int64(11), up.Int64())

	// Exact division rounds the same way in both modes.
	exactDown := MulDiv(big.NewInt(6), big.NewInt(4), big.NewInt(8), RoundDown)
	exactUp := MulDiv(big.NewInt(6), big.NewInt(4), big.NewInt(8), RoundUp)
	require.Equal(t, exactDown, exactUp)

	// The intermediate product may exceed 256 bits without overflowing.
	huge := new(big.Int).Lsh(big.NewInt(1), 200)
	out := MulDiv(huge, huge, huge, RoundDown)
	require.Equal(t, 0, out.Cmp(huge))
}

func TestProRata(t *testing.T) {
	out := ProRata(sdkmath.NewInt(100), sdkmath.NewInt(3), sdkmath.NewInt(7))
	require.Equal(t, int64(42), out.Int64())

	require.True(t, ProRata(sdkmath.NewInt(100), sdkmath.NewInt(3), sdkmath.ZeroInt()).IsZero())
	require.True(t, ProRata(sdkmath.NewInt(100), sdkmath.NewInt(3), sdkmath.Int{}).IsZero())
}

func TestValueAsAssetZeroCases(t *testing.T) {
	price := sdkmath.NewIntFromBigInt(Q96)

	require.True(t, ValueAsAsset(sdkmath.ZeroInt(), price, true).IsZero())
	require.True(t, ValueAsAsset(sdkmath.ZeroInt(), price, false).IsZero())
	require.True(t, ValueAsAsset(sdkmath.Int{}, price, true).IsZero())
	require.True(t, ValueAsAsset(sdkmath.NewInt(1000), sdkmath.ZeroInt(), true).IsZero())
	require.True(t, ValueAsAsset(sdkmath.NewInt(1000), sdkmath.Int{}, false).IsZero())
}

func TestValueAsAssetKnownValues(t *testing.T) {
	// sqrtPrice = Q96 means a 1:1 price, so amounts pass through unchanged.
	one := sdkmath.NewIntFromBigInt(Q96)
	require.Equal(t, int64(12345), ValueAsAsset(sdkmath.NewInt(12345), one, true).Int64())
	require.Equal(t, int64(12345), ValueAsAsset(sdkmath.NewInt(12345), one, false).Int64())

	// sqrtPrice = 2*Q96 means token1 = 4*token0.
	double := sdkmath.NewIntFromBigInt(new(big.Int).Lsh(Q96, 1))
	require.Equal(t, int64(250), ValueAsAsset(sdkmath.NewInt(1000), double, true).Int64())
	require.Equal(t, int64(4000), ValueAsAsset(sdkmath.NewInt(1000), double, false).Int64())
}

func TestValueAsAssetMonotonicInAmount(t *testing.T) {
	prices := []sdkmath.Int{
		MinSqrtRatio,
		PriceFloorX96.SubRaw(1),
		PriceFloorX96,
		PriceFloorX96.AddRaw(1),
		sdkmath.NewIntFromBigInt(Q96),
		MaxSqrtRatio,
	}
	amounts := []int64{1, 2, 1000, 1_000_000, 1_000_000_000_000}

	for _, price := range prices {
		for _, assetIsToken0 := range []bool{true, false} {
			prev := sdkmath.ZeroInt()
			for _, amt := range amounts {
				out := ValueAsAsset(sdkmath.NewInt(amt), price, assetIsToken0)
				require.True(t, out.GTE(prev),
					"value must not shrink as amount grows: price=%s amount=%d", price, amt)
				prev = out
			}
		}
	}
}

func TestValueAsAssetNonZeroAtExtremePrices(t *testing.T) {
	// One unit of input must never value to zero, even at the tick-range
	// extremes where the naive fixed-point order would truncate away.
	for _, price := range []sdkmath.Int{MinSqrtRatio, MaxSqrtRatio} {
		for _, assetIsToken0 := range []bool{true, false} {
			out := ValueAsAsset(sdkmath.OneInt(), price, assetIsToken0)
			require.True(t, out.IsPositive(),
				"non-zero amount valued to zero at price=%s assetIsToken0=%v", price, assetIsToken0)
		}
	}
}

func TestValueAsAssetAtPriceFloorBoundary(t *testing.T) {
	amount := sdkmath.NewInt(1_000_000_000_000)

	below := ValueAsAsset(amount, PriceFloorX96.SubRaw(1), true)
	at := ValueAsAsset(amount, PriceFloorX96, true)
	above := ValueAsAsset(amount, PriceFloorX96.AddRaw(1), true)

	require.True(t, below.IsPositive())
	require.True(t, at.IsPositive())
	require.True(t, above.IsPositive())

	// The evaluation order changes at the floor; the value must not jump.
	// Adjacent prices differ by ~2^-48 relative, so outputs should agree to
	// well under 0.1%.
	tolerance := at.QuoRaw(1000)
	require.True(t, below.Sub(at).Abs().LTE(tolerance), "below=%s at=%s", below, at)
	require.True(t, above.Sub(at).Abs().LTE(tolerance), "above=%s at=%s", above, at)

	// Same on the multiplying side: results stay non-zero across the branch.
	require.True(t, ValueAsAsset(amount, PriceFloorX96.SubRaw(1), false).IsPositive())
	require.True(t, ValueAsAsset(amount, PriceFloorX96, false).IsPositive())
	require.True(t, ValueAsAsset(amount, PriceFloorX96.AddRaw(1), false).IsPositive())
}

func TestSqrtRatioAtTick(t *testing.T) {
	atZero, err := SqrtRatioAtTick(0)
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewIntFromBigInt(Q96), atZero)

	atMin, err := SqrtRatioAtTick(MinTick)
	require.NoError(t, err)
	require.Equal(t, MinSqrtRatio, atMin)

	atMax, err := SqrtRatioAtTick(MaxTick)
	require.NoError(t, err)
	require.Equal(t, MaxSqrtRatio, atMax)

	_, err = SqrtRatioAtTick(MaxTick + 1)
	require.ErrorIs(t, err, ErrTickOutOfRange)
	_, err = SqrtRatioAtTick(MinTick - 1)
	require.ErrorIs(t, err, ErrTickOutOfRange)
}

func TestSqrtRatioAtTickMonotonic(t *testing.T) {
	ticks := []int32{MinTick, -665421, -100_000, -60, -1, 0, 1, 60, 100_000, 665421, MaxTick}
	prev := sdkmath.ZeroInt()
	for _, tick := range ticks {
		ratio, err := SqrtRatioAtTick(tick)
		require.NoError(t, err)
		require.True(t, ratio.GT(prev), "sqrt ratio must grow with tick, tick=%d", tick)
		prev = ratio
	}
}

func TestTickAtSqrtRatioRoundTrips(t *testing.T) {
	for _, tick := range []int32{MinTick, -665421, -12345, -1, 0, 1, 60, 887271, MaxTick} {
		ratio, err := SqrtRatioAtTick(tick)
		require.NoError(t, err)

		back, err := TickAtSqrtRatio(ratio)
		require.NoError(t, err)
		require.Equal(t, tick, back, "round trip through tick %d", tick)
	}

	// A price strictly between two tick ratios resolves to the lower tick.
	atTen, err := SqrtRatioAtTick(10)
	require.NoError(t, err)
	tick, err := TickAtSqrtRatio(atTen.AddRaw(1))
	require.NoError(t, err)
	require.Equal(t, int32(10), tick)

	_, err = TickAtSqrtRatio(MinSqrtRatio.SubRaw(1))
	require.ErrorIs(t, err, ErrTickOutOfRange)
	_, err = TickAtSqrtRatio(MaxSqrtRatio.AddRaw(1))
	require.ErrorIs(t, err, ErrTickOutOfRange)
}

func TestSqrtRatioAtTickSurvivesDeepNegativeTicks(t *testing.T) {
	// Ticks far below zero land under the price floor; conversions there must
	// still produce sane non-zero values.
	ratio, err := SqrtRatioAtTick(-665421)
	require.NoError(t, err)
	require.True(t, ratio.LT(PriceFloorX96.AddRaw(1)))

	out := ValueAsAsset(sdkmath.NewInt(1_000_000), ratio, true)
	require.True(t, out.IsPositive())
}

func TestNormalizeDecimals(t *testing.T) {
	amt := sdkmath.NewInt(1_234_567)

	require.Equal(t, amt, NormalizeDecimals(amt, 6, 6))

	up := NormalizeDecimals(amt, 6, 18)
	require.Equal(t, "1234567000000000000", up.String())

	down := NormalizeDecimals(up, 18, 6)
	require.Equal(t, amt, down)

	// Scaling down truncates toward zero.
	require.Equal(t, int64(1), NormalizeDecimals(sdkmath.NewInt(1_999_999), 6, 0).Int64())
}
