/*

This file contains the tunable strategy configuration for the CLVM and its validation rules.

*/

package types

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
)

// MaxBps is the denominator for all basis-point parameters. Setters reject
// anything above it.
const MaxBps = 10_000

// StrategyConfig holds all tunable thresholds used by the rebalancing engine.
// Different versions of these parameters can be persisted and activated over
// the life of the vault.
type StrategyConfig struct {
	TargetIdleBps          uint64      `json:"target_idle_bps"`           // Fraction of total value (in bps) to keep as idle asset rather than deployed in the LP.
	TargetIdleBufferBps    uint64      `json:"target_idle_buffer_bps"`    // Dead-band around the idle target (in bps of total value); deviations inside it trigger no rebalance.
	MinAsset               sdkmath.Int `json:"min_asset"`                 // Minimum asset amount worth acting on; smaller deficits/excesses are treated as noise.
	MaxSwapValue           sdkmath.Int `json:"max_swap_value"`            // Per-tend cap on swap size, denominated in the asset. Defaults to unbounded.
	MinTendWaitSeconds     uint64      `json:"min_tend_wait_seconds"`     // Minimum seconds between tends; earlier calls are no-ops.
	PairedTokenDiscountBps uint64      `json:"paired_token_discount_bps"` // Haircut applied to idle paired-token value on top of the pool fee tier.
	DepositLimit           sdkmath.Int `json:"deposit_limit"`             // Total-asset ceiling reported to the host vault. Defaults to unbounded.
}

// Validate checks every field against its allowed range. A config that fails
// validation is never applied or persisted.
func (c StrategyConfig) Validate() error {
	if c.TargetIdleBps > MaxBps {
		return fmt.Errorf("target_idle_bps %d exceeds %d", c.TargetIdleBps, MaxBps)
	}
	if c.TargetIdleBufferBps > MaxBps {
		return fmt.Errorf("target_idle_buffer_bps %d exceeds %d", c.TargetIdleBufferBps, MaxBps)
	}
	if c.PairedTokenDiscountBps > MaxBps {
		return fmt.Errorf("paired_token_discount_bps %d exceeds %d", c.PairedTokenDiscountBps, MaxBps)
	}
	if c.MinAsset.IsNil() || c.MinAsset.IsNegative() {
		return fmt.Errorf("min_asset must be a non-negative integer")
	}
	if c.MaxSwapValue.IsNil() || c.MaxSwapValue.IsNegative() {
		return fmt.Errorf("max_swap_value must be a non-negative integer")
	}
	if c.DepositLimit.IsNil() || c.DepositLimit.IsNegative() {
		return fmt.Errorf("deposit_limit must be a non-negative integer")
	}
	return nil
}
