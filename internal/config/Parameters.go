/*

This file contains the default strategy configuration for the CLVM.

These values are used if no active configuration is found in the database
during initialization. They are sized for a stable-asset vault at six
decimals; operators of other pairs should tune them through the management
API rather than here.

*/

package config

import (
	sdkmath "cosmossdk.io/math"

	"github.com/amphora-finance/clvm/internal/pricemath"
	"github.com/amphora-finance/clvm/internal/types"
)

// DefaultStrategyConfig provides a baseline strategy configuration.
var DefaultStrategyConfig = types.StrategyConfig{
	TargetIdleBps: 500, // Keep 5% of total value as idle asset.
	// Small withdrawals get served from idle funds without touching the LP.

	TargetIdleBufferBps: 100, // Tolerate 1% drift around the idle target.
	// The dead-band keeps routine price movement from triggering a
	// deposit/withdraw cycle on every tend.

	MinAsset: sdkmath.NewInt(1_000_000), // Ignore gaps below one whole token at six decimals.
	// Moving dust costs more in pool fees than it recovers.

	MaxSwapValue: pricemath.MaxUint256, // No per-tend swap cap.
	// Operators of thin pools should lower this to bound price impact per
	// tend; capped remainders carry over to the next cycle.

	MinTendWaitSeconds: 300, // At most one tend per five minutes.
	// Throttled cycles are recorded as no-ops, not errors.

	PairedTokenDiscountBps: 50, // Value idle paired tokens 0.5% under spot.
	// The haircut pre-pays the swap that eventually converts them back.

	DepositLimit: pricemath.MaxUint256, // No deposit ceiling.
}
