/*

This file contains the types describing a single tend: what the engine measured, which branch it took, and what it moved.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// TendAction identifies which branch a tend resolved to.
type TendAction string

const (
	ActionNone      TendAction = "NONE"      // Nothing actionable: inside the dead-band with no loose balances to consolidate.
	ActionThrottled TendAction = "THROTTLED" // Called before min_tend_wait elapsed.
	ActionDeploy    TendAction = "DEPLOY"    // Excess idle swapped toward the LP ratio and deposited.
	ActionFree      TendAction = "FREE"      // Deficit covered by withdrawing LP shares and swapping proceeds back to the asset.
	ActionRecompose TendAction = "RECOMPOSE" // In-band consolidation of the smaller-value loose side into the larger.
	ActionEmergency TendAction = "EMERGENCY" // Forced free path with extreme price limits.
)

// SwapDetail records one executed swap inside a tend.
type SwapDetail struct {
	SoldToken    string      `json:"sold_token"`   // Symbol of the token sold.
	BoughtToken  string      `json:"bought_token"` // Symbol of the token bought.
	AmountSold   sdkmath.Int `json:"amount_sold"`
	AmountBought sdkmath.Int `json:"amount_bought"`
	Capped       bool        `json:"capped"` // Whether max_swap_value bound the size.
}

// BalancesSnapshot is the measured state of the vault at one instant.
type BalancesSnapshot struct {
	IdleAsset      sdkmath.Int `json:"idle_asset"`
	IdlePaired     sdkmath.Int `json:"idle_paired"`
	Shares         sdkmath.Int `json:"shares"`
	LPValue        sdkmath.Int `json:"lp_value"`        // LP holding valued in the asset.
	EstimatedTotal sdkmath.Int `json:"estimated_total"` // Conservative total including the paired-token haircut.
	SqrtPriceX96   string      `json:"sqrt_price_x96"`  // Pool price at measurement time, decimal string.
	Tick           int32       `json:"tick"`
}

// TendReport is what a single Tend call produced. The orchestrator wraps it
// with an ID and persists it as a snapshot.
type TendReport struct {
	Action          TendAction       `json:"action"`
	Before          BalancesSnapshot `json:"before"`
	After           BalancesSnapshot `json:"after"`
	Swap            *SwapDetail      `json:"swap,omitempty"`
	SharesWithdrawn sdkmath.Int      `json:"shares_withdrawn"`
	SharesMinted    sdkmath.Int      `json:"shares_minted"`
	Duration        time.Duration    `json:"duration_ns"`
}

// PositionRange is one concentrated-liquidity range held by the manager.
type PositionRange struct {
	LowerTick int32  `json:"lower_tick"`
	UpperTick int32  `json:"upper_tick"`
	Weight    uint64 `json:"weight"` // Relative weight of this range within the manager.
}

// VaultStatus is the read-only view served to the dashboard and status cache.
type VaultStatus struct {
	Mode            string           `json:"mode"` // "sim" or "observe"
	Asset           TokenInfo        `json:"asset"`
	PairedToken     TokenInfo        `json:"paired_token"`
	Balances        BalancesSnapshot `json:"balances"`
	Positions       []PositionRange  `json:"positions"`
	LastTendAt      time.Time        `json:"last_tend_at"`
	LastTendAction  TendAction       `json:"last_tend_action"`
	TendNumber      int64            `json:"tend_number"`
	EstimatedTotalF float64          `json:"estimated_total"` // Display-precision estimate in whole asset units.
	IdleRatio       float64          `json:"idle_ratio"`      // Idle asset over estimated total, 0..1.
	UpdatedAt       time.Time        `json:"updated_at"`
}
