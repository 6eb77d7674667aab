/*
This file contains conversions between raw on-chain integer amounts and the
float64 values used at the display and seeding boundaries. Engine math never
touches floats.
*/

package utils

import (
	"errors"
	"fmt"
	"math"

	sdkmath "cosmossdk.io/math"
)

var (
	ErrInvalidDecimals  = errors.New("token decimals are invalid")
	ErrAmountNil        = errors.New("amount is nil")
	ErrAmountNegative   = errors.New("amount is negative")
	ErrNotFinite        = errors.New("value is not finite")
	ErrConversionFailed = errors.New("conversion failed")
)

const maxDecimals = 18

// RawToFloat64 converts a raw integer token amount to whole-token float64
// units. Display precision only; never feed the result back into engine math.
func RawToFloat64(amount sdkmath.Int, decimals uint8) (float64, error) {
	if decimals > maxDecimals {
		return 0, fmt.Errorf("%w: %d (must be at most %d)", ErrInvalidDecimals, decimals, maxDecimals)
	}
	if amount.IsNil() {
		return 0, ErrAmountNil
	}
	if amount.IsNegative() {
		return 0, ErrAmountNegative
	}

	factor := sdkmath.LegacyNewDec(10).Power(uint64(decimals))
	result, err := sdkmath.LegacyNewDecFromInt(amount).Quo(factor).Float64()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrConversionFailed, err)
	}
	if math.IsNaN(result) || math.IsInf(result, 0) {
		return 0, fmt.Errorf("%w: result is %f", ErrNotFinite, result)
	}
	return result, nil
}

// Float64ToRaw converts whole-token float64 units into a raw integer amount,
// truncating anything below one raw unit. Used when seeding simulated
// balances from human-readable env values.
func Float64ToRaw(amount float64, decimals uint8) (sdkmath.Int, error) {
	if decimals > maxDecimals {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %d (must be at most %d)", ErrInvalidDecimals, decimals, maxDecimals)
	}
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: amount is %f", ErrNotFinite, amount)
	}
	if amount < 0 {
		return sdkmath.ZeroInt(), ErrAmountNegative
	}
	if amount == 0 {
		return sdkmath.ZeroInt(), nil
	}

	// Render through a decimal string so binary float noise does not leak
	// into the raw amount.
	amountStr := fmt.Sprintf(fmt.Sprintf("%%.%df", decimals), amount)
	decAmount, err := sdkmath.LegacyNewDecFromStr(amountStr)
	if err != nil {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: failed to parse decimal: %w", ErrConversionFailed, err)
	}

	factor := sdkmath.LegacyNewDec(10).Power(uint64(decimals))
	result := decAmount.Mul(factor).TruncateInt()
	if result.IsNegative() {
		return sdkmath.ZeroInt(), ErrAmountNegative
	}
	return result, nil
}
