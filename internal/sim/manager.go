/*

This file contains the simulated liquidity manager: proportional share accounting
over the tokens it holds, with mins-checked deposits and withdrawals.

*/

package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/amphora-finance/clvm/internal/logger"
	"github.com/amphora-finance/clvm/internal/pricemath"
	"github.com/amphora-finance/clvm/internal/types"
)

var (
	ErrInvalidManagerConfig = errors.New("invalid manager configuration")
	ErrZeroShares           = errors.New("deposit too small to mint shares")
	ErrBelowMinimum         = errors.New("amounts fall below the requested minimums")
	ErrInsufficientShares   = errors.New("share balance too low")
)

var managerLogger = logger.GetForComponent("sim_manager")

// ManagerConfig seeds a simulated manager bound to one pool and ledger.
type ManagerConfig struct {
	Address common.Address
	Pool    *Pool
	Ledger  *Ledger
	Ranges  []types.PositionRange
}

// Manager tokenizes pool liquidity as proportional shares. Its token holdings
// are simply its ledger balances, so donations and accrued fees raise the
// value of every share.
type Manager struct {
	mu     sync.Mutex
	cfg    ManagerConfig
	shares map[common.Address]sdkmath.Int
	supply sdkmath.Int
}

func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Pool == nil || cfg.Ledger == nil {
		return nil, fmt.Errorf("%w: pool and ledger are required", ErrInvalidManagerConfig)
	}
	if cfg.Address == (common.Address{}) {
		return nil, fmt.Errorf("%w: manager address is required", ErrInvalidManagerConfig)
	}
	return &Manager{
		cfg:    cfg,
		shares: make(map[common.Address]sdkmath.Int),
		supply: sdkmath.ZeroInt(),
	}, nil
}

func (m *Manager) Address() common.Address { return m.cfg.Address }
func (m *Manager) Token0() common.Address  { return m.cfg.Pool.Token0() }
func (m *Manager) Token1() common.Address  { return m.cfg.Pool.Token1() }
func (m *Manager) Pool() common.Address    { return m.cfg.Pool.Address() }

func (m *Manager) BalanceOf(_ context.Context, owner common.Address) (sdkmath.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bal, ok := m.shares[owner]
	if !ok {
		return sdkmath.ZeroInt(), nil
	}
	return bal, nil
}

func (m *Manager) TotalSupply(_ context.Context) (sdkmath.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.supply, nil
}

func (m *Manager) GetTotalAmounts(ctx context.Context) (sdkmath.Int, sdkmath.Int, error) {
	total0, err := m.cfg.Ledger.BalanceOf(ctx, m.Token0(), m.cfg.Address)
	if err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, err
	}
	total1, err := m.cfg.Ledger.BalanceOf(ctx, m.Token1(), m.cfg.Address)
	if err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, err
	}
	return total0, total1, nil
}

func (m *Manager) GetPositions(_ context.Context) ([]types.PositionRange, error) {
	out := make([]types.PositionRange, len(m.cfg.Ranges))
	copy(out, m.cfg.Ranges)
	return out, nil
}

// Deposit pulls tokens from the receiver (who must have approved this manager)
// in the manager's current ratio and mints proportional shares.
func (m *Manager) Deposit(ctx context.Context, amount0Desired, amount1Desired, amount0Min, amount1Min sdkmath.Int, to common.Address) (sdkmath.Int, sdkmath.Int, sdkmath.Int, error) {
	zero := sdkmath.ZeroInt()
	if amount0Desired.IsNil() || amount1Desired.IsNil() || amount0Desired.IsNegative() || amount1Desired.IsNegative() {
		return zero, zero, zero, ErrInvalidAmount
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	total0, total1, err := m.GetTotalAmounts(ctx)
	if err != nil {
		return zero, zero, zero, err
	}

	shares, used0, used1 := computeDeposit(m.supply, total0, total1, amount0Desired, amount1Desired)
	if shares.IsZero() {
		return zero, zero, zero, ErrZeroShares
	}
	if used0.LT(amount0Min) || used1.LT(amount1Min) {
		return zero, zero, zero, fmt.Errorf("%w: would use %s/%s", ErrBelowMinimum, used0, used1)
	}

	if err := m.cfg.Ledger.TransferFrom(ctx, m.Token0(), to, m.cfg.Address, m.cfg.Address, used0); err != nil {
		return zero, zero, zero, err
	}
	if err := m.cfg.Ledger.TransferFrom(ctx, m.Token1(), to, m.cfg.Address, m.cfg.Address, used1); err != nil {
		return zero, zero, zero, err
	}

	m.supply = m.supply.Add(shares)
	m.shares[to] = m.lockedShares(to).Add(shares)

	managerLogger.Debug().
		Str("shares", shares.String()).
		Str("used0", used0.String()).
		Str("used1", used1.String()).
		Str("to", to.Hex()).
		Msg("Deposit")

	return shares, used0, used1, nil
}

// Withdraw burns the receiver's shares and pays out the proportional amounts.
func (m *Manager) Withdraw(ctx context.Context, shares, amount0Min, amount1Min sdkmath.Int, to common.Address) (sdkmath.Int, sdkmath.Int, error) {
	zero := sdkmath.ZeroInt()
	if shares.IsNil() || !shares.IsPositive() {
		return zero, zero, ErrInvalidAmount
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	held := m.lockedShares(to)
	if held.LT(shares) {
		return zero, zero, fmt.Errorf("%w: have %s, burning %s", ErrInsufficientShares, held, shares)
	}

	total0, total1, err := m.GetTotalAmounts(ctx)
	if err != nil {
		return zero, zero, err
	}

	amount0 := pricemath.ProRata(total0, shares, m.supply)
	amount1 := pricemath.ProRata(total1, shares, m.supply)
	if amount0.LT(amount0Min) || amount1.LT(amount1Min) {
		return zero, zero, fmt.Errorf("%w: would pay %s/%s", ErrBelowMinimum, amount0, amount1)
	}

	m.shares[to] = held.Sub(shares)
	m.supply = m.supply.Sub(shares)

	if err := m.cfg.Ledger.Transfer(ctx, m.Token0(), m.cfg.Address, to, amount0); err != nil {
		return zero, zero, err
	}
	if err := m.cfg.Ledger.Transfer(ctx, m.Token1(), m.cfg.Address, to, amount1); err != nil {
		return zero, zero, err
	}

	managerLogger.Debug().
		Str("shares", shares.String()).
		Str("amount0", amount0.String()).
		Str("amount1", amount1.String()).
		Str("to", to.Hex()).
		Msg("Withdraw")

	return amount0, amount1, nil
}

func (m *Manager) lockedShares(owner common.Address) sdkmath.Int {
	bal, ok := m.shares[owner]
	if !ok {
		return sdkmath.ZeroInt()
	}
	return bal
}

// computeDeposit sizes a deposit against the current totals. The first deposit
// takes both desired amounts in full; later ones take the largest proportional
// slice both desired amounts can cover.
func computeDeposit(supply, total0, total1, desired0, desired1 sdkmath.Int) (shares, used0, used1 sdkmath.Int) {
	if supply.IsZero() {
		return desired0.Add(desired1), desired0, desired1
	}

	switch {
	case total0.IsPositive() && total1.IsPositive():
		byToken0 := pricemath.ProRata(desired0, supply, total0)
		byToken1 := pricemath.ProRata(desired1, supply, total1)
		shares = sdkmath.MinInt(byToken0, byToken1)
		used0 = ceilShare(total0, shares, supply, desired0)
		used1 = ceilShare(total1, shares, supply, desired1)
	case total0.IsPositive():
		shares = pricemath.ProRata(desired0, supply, total0)
		used0 = ceilShare(total0, shares, supply, desired0)
		used1 = sdkmath.ZeroInt()
	case total1.IsPositive():
		shares = pricemath.ProRata(desired1, supply, total1)
		used0 = sdkmath.ZeroInt()
		used1 = ceilShare(total1, shares, supply, desired1)
	default:
		// Supply outstanding but nothing held: shares are unbacked, refuse.
		return sdkmath.ZeroInt(), sdkmath.ZeroInt(), sdkmath.ZeroInt()
	}
	return shares, used0, used1
}

// ceilShare rounds the pulled amount up so the manager never undercollects,
// clamped to what the depositor offered.
func ceilShare(total, shares, supply, desired sdkmath.Int) sdkmath.Int {
	amount := sdkmath.NewIntFromBigInt(
		pricemath.MulDiv(total.BigInt(), shares.BigInt(), supply.BigInt(), pricemath.RoundUp),
	)
	return sdkmath.MinInt(amount, desired)
}
