/*

This file contains a minimal host vault: the single-asset share wrapper that
deposits into and withdraws through the strategy. It exists so full
deposit/tend/withdraw round trips can run in process.

*/

package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/amphora-finance/clvm/internal/pricemath"
)

var (
	ErrInvalidHostConfig    = errors.New("invalid host vault configuration")
	ErrDepositLimitExceeded = errors.New("deposit exceeds the available limit")
	ErrNothingMinted        = errors.New("deposit would mint no shares")
)

// Strategy is the surface the host vault needs from the rebalancing engine.
type Strategy interface {
	// EstimatedTotalAsset is the strategy's conservative total in asset units.
	EstimatedTotalAsset(ctx context.Context) (sdkmath.Int, error)

	// AvailableDepositLimit is how much more the strategy will accept.
	AvailableDepositLimit(ctx context.Context) (sdkmath.Int, error)

	// FreeFunds converts deployed value back into idle asset to cover a
	// withdrawal, accepting the price impact that takes.
	FreeFunds(ctx context.Context, amount sdkmath.Int) error
}

type HostVaultConfig struct {
	Strategy Strategy
	Ledger   *Ledger
	Asset    common.Address
	Wallet   common.Address // custody address shared with the strategy
}

// HostVault mints its own shares against the strategy's estimated total.
// No profit locking and no fees, just enough accounting to measure round
// trips.
type HostVault struct {
	mu        sync.Mutex
	cfg       HostVaultConfig
	shares    map[common.Address]sdkmath.Int
	supply    sdkmath.Int
	lastTotal sdkmath.Int
}

func NewHostVault(cfg HostVaultConfig) (*HostVault, error) {
	if cfg.Strategy == nil || cfg.Ledger == nil {
		return nil, fmt.Errorf("%w: strategy and ledger are required", ErrInvalidHostConfig)
	}
	if cfg.Asset == (common.Address{}) || cfg.Wallet == (common.Address{}) {
		return nil, fmt.Errorf("%w: asset and wallet addresses are required", ErrInvalidHostConfig)
	}
	return &HostVault{
		cfg:       cfg,
		shares:    make(map[common.Address]sdkmath.Int),
		supply:    sdkmath.ZeroInt(),
		lastTotal: sdkmath.ZeroInt(),
	}, nil
}

// Deposit moves the user's asset into the strategy wallet and mints shares at
// the current total-per-share rate.
func (h *HostVault) Deposit(ctx context.Context, user common.Address, amount sdkmath.Int) (sdkmath.Int, error) {
	zero := sdkmath.ZeroInt()
	if amount.IsNil() || !amount.IsPositive() {
		return zero, ErrInvalidAmount
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	limit, err := h.cfg.Strategy.AvailableDepositLimit(ctx)
	if err != nil {
		return zero, fmt.Errorf("read deposit limit: %w", err)
	}
	if amount.GT(limit) {
		return zero, fmt.Errorf("%w: amount %s, limit %s", ErrDepositLimitExceeded, amount, limit)
	}

	totalBefore, err := h.cfg.Strategy.EstimatedTotalAsset(ctx)
	if err != nil {
		return zero, fmt.Errorf("read total asset: %w", err)
	}

	if err := h.cfg.Ledger.Transfer(ctx, h.cfg.Asset, user, h.cfg.Wallet, amount); err != nil {
		return zero, err
	}

	shares := amount
	if !h.supply.IsZero() {
		shares = pricemath.ProRata(amount, h.supply, totalBefore)
	}
	if shares.IsZero() {
		return zero, ErrNothingMinted
	}

	h.supply = h.supply.Add(shares)
	h.shares[user] = h.lockedShares(user).Add(shares)
	return shares, nil
}

// Withdraw burns the user's shares for their slice of the total, pulling funds
// out of the strategy's deployment when the idle balance cannot cover it.
func (h *HostVault) Withdraw(ctx context.Context, user common.Address, shares sdkmath.Int) (sdkmath.Int, error) {
	zero := sdkmath.ZeroInt()
	if shares.IsNil() || !shares.IsPositive() {
		return zero, ErrInvalidAmount
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	held := h.lockedShares(user)
	if held.LT(shares) {
		return zero, fmt.Errorf("%w: have %s, burning %s", ErrInsufficientShares, held, shares)
	}

	total, err := h.cfg.Strategy.EstimatedTotalAsset(ctx)
	if err != nil {
		return zero, fmt.Errorf("read total asset: %w", err)
	}
	due := pricemath.ProRata(total, shares, h.supply)

	idle, err := h.cfg.Ledger.BalanceOf(ctx, h.cfg.Asset, h.cfg.Wallet)
	if err != nil {
		return zero, err
	}
	if idle.LT(due) {
		if err := h.cfg.Strategy.FreeFunds(ctx, due.Sub(idle)); err != nil {
			return zero, fmt.Errorf("free funds: %w", err)
		}
		idle, err = h.cfg.Ledger.BalanceOf(ctx, h.cfg.Asset, h.cfg.Wallet)
		if err != nil {
			return zero, err
		}
	}

	payout := sdkmath.MinInt(due, idle)
	h.shares[user] = held.Sub(shares)
	h.supply = h.supply.Sub(shares)

	if err := h.cfg.Ledger.Transfer(ctx, h.cfg.Asset, h.cfg.Wallet, user, payout); err != nil {
		return zero, err
	}
	return payout, nil
}

// BalanceOf returns the user's host-vault shares.
func (h *HostVault) BalanceOf(user common.Address) sdkmath.Int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lockedShares(user)
}

// TotalSupply returns the outstanding host-vault shares.
func (h *HostVault) TotalSupply() sdkmath.Int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.supply
}

// Report compares the current estimated total with the last reported one,
// returning the change as (profit, loss).
func (h *HostVault) Report(ctx context.Context) (profit, loss sdkmath.Int, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	total, err := h.cfg.Strategy.EstimatedTotalAsset(ctx)
	if err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, fmt.Errorf("read total asset: %w", err)
	}

	profit, loss = sdkmath.ZeroInt(), sdkmath.ZeroInt()
	if total.GT(h.lastTotal) {
		profit = total.Sub(h.lastTotal)
	} else {
		loss = h.lastTotal.Sub(total)
	}
	h.lastTotal = total
	return profit, loss, nil
}

func (h *HostVault) lockedShares(owner common.Address) sdkmath.Int {
	bal, ok := h.shares[owner]
	if !ok {
		return sdkmath.ZeroInt()
	}
	return bal
}
