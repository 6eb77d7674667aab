/*

This file contains the rebalancing engine: the tend control loop that measures
the vault, compares idle asset against its target band, and runs exactly one of
the free / deploy / recompose branches to close the gap.

*/

package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/amphora-finance/clvm/internal/dex"
	"github.com/amphora-finance/clvm/internal/logger"
	"github.com/amphora-finance/clvm/internal/params"
	"github.com/amphora-finance/clvm/internal/pricemath"
	"github.com/amphora-finance/clvm/internal/swap"
	"github.com/amphora-finance/clvm/internal/types"
	"github.com/amphora-finance/clvm/internal/valuation"
)

var (
	ErrInvalidEngineConfig = errors.New("invalid engine configuration")
)

var engineLogger = logger.GetForComponent("engine")

// Config wires the engine to its collaborators. Asset and Paired must match
// the pool's token0/token1 assignment exactly.
type Config struct {
	Pool    dex.Pool
	Manager dex.LiquidityManager
	Ledger  dex.TokenLedger
	Params  *params.Store
	Valuer  *valuation.Valuer
	Settler *swap.Settler
	Vault   common.Address
	Asset   types.TokenInfo
	Paired  types.TokenInfo
}

// Engine owns the vault's position. One mutating call runs at a time; every
// branch is a no-op when there is nothing worth doing.
type Engine struct {
	pool    dex.Pool
	manager dex.LiquidityManager
	ledger  dex.TokenLedger
	params  *params.Store
	valuer  *valuation.Valuer
	settler *swap.Settler
	vault   common.Address
	asset   types.TokenInfo
	paired  types.TokenInfo

	mu       sync.Mutex
	lastTend time.Time
	now      func() time.Time
}

func NewEngine(cfg Config) (*Engine, error) {
	if err := validateEngineConfig(cfg); err != nil {
		return nil, errors.Join(ErrInvalidEngineConfig, err)
	}
	return &Engine{
		pool:    cfg.Pool,
		manager: cfg.Manager,
		ledger:  cfg.Ledger,
		params:  cfg.Params,
		valuer:  cfg.Valuer,
		settler: cfg.Settler,
		vault:   cfg.Vault,
		asset:   cfg.Asset,
		paired:  cfg.Paired,
		now:     time.Now,
	}, nil
}

func validateEngineConfig(cfg Config) error {
	if cfg.Pool == nil || cfg.Manager == nil || cfg.Ledger == nil {
		return fmt.Errorf("pool, manager and ledger are required")
	}
	if cfg.Params == nil || cfg.Valuer == nil || cfg.Settler == nil {
		return fmt.Errorf("params, valuer and settler are required")
	}
	if cfg.Vault == (common.Address{}) {
		return fmt.Errorf("vault address is required")
	}
	if cfg.Asset.IsToken0 == cfg.Paired.IsToken0 {
		return fmt.Errorf("exactly one token must be token0")
	}

	token0, token1 := cfg.Pool.Token0(), cfg.Pool.Token1()
	expect0, expect1 := cfg.Asset.Address, cfg.Paired.Address
	if !cfg.Asset.IsToken0 {
		expect0, expect1 = expect1, expect0
	}
	if token0 != expect0 || token1 != expect1 {
		return fmt.Errorf("token roles do not match the pool pair")
	}
	if cfg.Manager.Token0() != token0 || cfg.Manager.Token1() != token1 {
		return fmt.Errorf("manager tokens do not match the pool pair")
	}
	if cfg.Manager.Pool() != cfg.Pool.Address() {
		return fmt.Errorf("manager is bound to a different pool")
	}
	return nil
}

// Tend runs one rebalancing pass. It never errors for having nothing to do;
// the report says which branch ran and what moved.
func (e *Engine) Tend(ctx context.Context) (*types.TendReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := e.now()
	report := newReport()

	wait := e.params.MinTendWait()
	if !e.lastTend.IsZero() && start.Sub(e.lastTend) < wait {
		report.Action = types.ActionThrottled
		report.Duration = e.now().Sub(start)
		engineLogger.Debug().
			Dur("since_last", start.Sub(e.lastTend)).
			Dur("min_wait", wait).
			Msg("Tend throttled")
		return report, nil
	}

	before, err := e.measure(ctx)
	if err != nil {
		return nil, fmt.Errorf("measure before tend: %w", err)
	}
	report.Before = before

	if err := e.rebalance(ctx, before, report); err != nil {
		return nil, err
	}

	after, err := e.measure(ctx)
	if err != nil {
		return nil, fmt.Errorf("measure after tend: %w", err)
	}
	report.After = after

	e.lastTend = e.now()
	report.Duration = e.now().Sub(start)

	engineLogger.Info().
		Str("action", string(report.Action)).
		Str("total_before", before.EstimatedTotal.String()).
		Str("total_after", after.EstimatedTotal.String()).
		Str("shares_withdrawn", report.SharesWithdrawn.String()).
		Str("shares_minted", report.SharesMinted.String()).
		Dur("took", report.Duration).
		Msg("Tend complete")

	return report, nil
}

// rebalance dispatches to the branch the measured gap calls for. The dead-band
// is two guards wide: gaps under minAsset are noise, and gaps within the
// buffer fraction of total value are tolerated oscillation.
func (e *Engine) rebalance(ctx context.Context, before types.BalancesSnapshot, report *types.TendReport) error {
	cfg := e.params.Snapshot()

	total := before.EstimatedTotal
	targetIdle := pricemath.ProRata(total, sdkmath.NewIntFromUint64(cfg.TargetIdleBps), sdkmath.NewInt(types.MaxBps))
	band := pricemath.ProRata(total, sdkmath.NewIntFromUint64(cfg.TargetIdleBufferBps), sdkmath.NewInt(types.MaxBps))
	idle := before.IdleAsset

	engineLogger.Debug().
		Str("idle", idle.String()).
		Str("target_idle", targetIdle.String()).
		Str("band", band.String()).
		Str("total", total.String()).
		Msg("Tend measured")

	switch {
	case idle.LT(targetIdle):
		need := targetIdle.Sub(idle)
		if need.GTE(cfg.MinAsset) && need.GT(band) {
			return e.free(ctx, need, cfg, types.ActionFree, report)
		}
	case idle.GT(targetIdle):
		excess := idle.Sub(targetIdle)
		if excess.GTE(cfg.MinAsset) && excess.GT(band) {
			return e.deploy(ctx, excess, targetIdle, cfg, report)
		}
	}

	return e.recompose(ctx, cfg, report)
}

// free covers a deficit: pull the proportional share slice out of the manager,
// then swap paired proceeds back into the asset under the swap cap.
func (e *Engine) free(ctx context.Context, need sdkmath.Int, cfg types.StrategyConfig, action types.TendAction, report *types.TendReport) error {
	shares, err := e.manager.BalanceOf(ctx, e.vault)
	if err != nil {
		return fmt.Errorf("read manager shares: %w", err)
	}
	lpValue, err := e.valuer.LPVaultInAsset(ctx)
	if err != nil {
		return err
	}

	toWithdraw := sdkmath.ZeroInt()
	if shares.IsPositive() && lpValue.IsPositive() {
		if need.GTE(lpValue) {
			toWithdraw = shares
		} else {
			toWithdraw = sdkmath.MinInt(shares, pricemath.ProRata(shares, need, lpValue))
		}
	}

	if toWithdraw.IsPositive() {
		report.Action = action
		amount0, amount1, err := e.manager.Withdraw(ctx, toWithdraw, sdkmath.ZeroInt(), sdkmath.ZeroInt(), e.vault)
		if err != nil {
			return fmt.Errorf("withdraw from manager: %w", err)
		}
		report.SharesWithdrawn = toWithdraw
		engineLogger.Info().
			Str("shares", toWithdraw.String()).
			Str("amount0", amount0.String()).
			Str("amount1", amount1.String()).
			Msg("Withdrew from manager")
	}

	_, idlePaired, err := e.valuer.IdleBalances(ctx)
	if err != nil {
		return err
	}
	if !idlePaired.IsPositive() {
		return nil
	}

	slot, err := e.pool.Slot0(ctx)
	if err != nil {
		return fmt.Errorf("read pool slot0: %w", err)
	}

	sell := idlePaired
	capped := false
	if e.valuer.PairedToAsset(sell, slot.SqrtPriceX96).GT(cfg.MaxSwapValue) {
		sell = e.valuer.AssetToPaired(cfg.MaxSwapValue, slot.SqrtPriceX96)
		capped = true
		if sell.GT(idlePaired) {
			// Conversion rounding can overshoot the actual balance.
			sell = idlePaired
		}
	}
	if !sell.IsPositive() {
		return nil
	}

	report.Action = action
	limit, err := e.swapLimit(slot, e.paired.IsToken0, action == types.ActionEmergency)
	if err != nil {
		return err
	}
	bought, err := e.settler.PerformSwap(ctx, e.paired.Address, sell, limit)
	if err != nil {
		return fmt.Errorf("swap paired to asset: %w", err)
	}
	report.Swap = &types.SwapDetail{
		SoldToken:    e.paired.Symbol,
		BoughtToken:  e.asset.Symbol,
		AmountSold:   sell,
		AmountBought: bought,
		Capped:       capped,
	}
	return nil
}

// deploy pushes excess idle asset into the manager: swap toward the manager's
// live composition first, then deposit both balances.
func (e *Engine) deploy(ctx context.Context, excess, targetIdle sdkmath.Int, cfg types.StrategyConfig, report *types.TendReport) error {
	total0, total1, err := e.manager.GetTotalAmounts(ctx)
	if err != nil {
		return fmt.Errorf("read manager totals: %w", err)
	}
	if total0.IsZero() && total1.IsZero() {
		// Proportional deposit math has no anchor in an empty manager;
		// refuse to open its first position.
		engineLogger.Warn().Msg("Manager holds nothing; skipping deploy")
		return nil
	}

	assetSide, pairedSide, err := e.valuer.ManagerComposition(ctx)
	if err != nil {
		return err
	}

	bothSides := assetSide.Add(pairedSide)
	var swapValue sdkmath.Int
	if bothSides.IsPositive() {
		swapValue = pricemath.ProRata(excess, pairedSide, bothSides)
	} else {
		// Degenerate valuation; split down the middle.
		swapValue = excess.QuoRaw(2)
	}

	capped := false
	if swapValue.GT(cfg.MaxSwapValue) {
		swapValue = cfg.MaxSwapValue
		capped = true
	}

	pairedNeeded := pairedSide.IsPositive() || !bothSides.IsPositive()
	if swapValue.IsPositive() {
		slot, err := e.pool.Slot0(ctx)
		if err != nil {
			return fmt.Errorf("read pool slot0: %w", err)
		}
		limit, err := e.swapLimit(slot, e.asset.IsToken0, false)
		if err != nil {
			return err
		}
		report.Action = types.ActionDeploy
		bought, err := e.settler.PerformSwap(ctx, e.asset.Address, swapValue, limit)
		if err != nil {
			return fmt.Errorf("swap asset to paired: %w", err)
		}
		report.Swap = &types.SwapDetail{
			SoldToken:    e.asset.Symbol,
			BoughtToken:  e.paired.Symbol,
			AmountSold:   swapValue,
			AmountBought: bought,
			Capped:       capped,
		}
	} else if pairedNeeded {
		// The manager wants a paired side we could not buy (swap cap at
		// zero); a lopsided deposit would mint nothing, so stand down.
		engineLogger.Debug().Msg("Swap unavailable; skipping deploy")
		return nil
	}

	idleAsset, idlePaired, err := e.valuer.IdleBalances(ctx)
	if err != nil {
		return err
	}
	depositAsset := sdkmath.ZeroInt()
	if idleAsset.GT(targetIdle) {
		depositAsset = idleAsset.Sub(targetIdle)
	}
	if !depositAsset.IsPositive() && !idlePaired.IsPositive() {
		return nil
	}

	report.Action = types.ActionDeploy
	return e.approveAndDeposit(ctx, depositAsset, idlePaired, report)
}

// recompose consolidates loose balances inside the dead-band: the
// smaller-value side is sold into the larger so the next deploy starts clean.
func (e *Engine) recompose(ctx context.Context, cfg types.StrategyConfig, report *types.TendReport) error {
	idleAsset, idlePaired, err := e.valuer.IdleBalances(ctx)
	if err != nil {
		return err
	}
	if !idleAsset.IsPositive() || !idlePaired.IsPositive() {
		return nil
	}

	slot, err := e.pool.Slot0(ctx)
	if err != nil {
		return fmt.Errorf("read pool slot0: %w", err)
	}
	pairedValue := e.valuer.PairedToAsset(idlePaired, slot.SqrtPriceX96)

	var sellToken types.TokenInfo
	var buyToken types.TokenInfo
	var sell sdkmath.Int
	var value sdkmath.Int
	capped := false

	if pairedValue.LTE(idleAsset) {
		sellToken, buyToken = e.paired, e.asset
		sell, value = idlePaired, pairedValue
		if value.GT(cfg.MaxSwapValue) {
			sell = e.valuer.AssetToPaired(cfg.MaxSwapValue, slot.SqrtPriceX96)
			capped = true
			if sell.GT(idlePaired) {
				sell = idlePaired
			}
		}
	} else {
		sellToken, buyToken = e.asset, e.paired
		sell, value = idleAsset, idleAsset
		if sell.GT(cfg.MaxSwapValue) {
			sell = cfg.MaxSwapValue
			capped = true
		}
	}

	if value.LT(cfg.MinAsset) || !sell.IsPositive() {
		return nil
	}

	limit, err := e.swapLimit(slot, sellToken.IsToken0, false)
	if err != nil {
		return err
	}
	report.Action = types.ActionRecompose
	bought, err := e.settler.PerformSwap(ctx, sellToken.Address, sell, limit)
	if err != nil {
		return fmt.Errorf("recompose swap: %w", err)
	}
	report.Swap = &types.SwapDetail{
		SoldToken:    sellToken.Symbol,
		BoughtToken:  buyToken.Symbol,
		AmountSold:   sell,
		AmountBought: bought,
		Capped:       capped,
	}
	return nil
}

// approveAndDeposit maps asset/paired amounts onto the manager's token order,
// grants exact allowances and deposits with zero minimums.
func (e *Engine) approveAndDeposit(ctx context.Context, amountAsset, amountPaired sdkmath.Int, report *types.TendReport) error {
	d0, d1 := amountAsset, amountPaired
	token0, token1 := e.asset.Address, e.paired.Address
	if !e.asset.IsToken0 {
		d0, d1 = amountPaired, amountAsset
		token0, token1 = e.paired.Address, e.asset.Address
	}

	managerAddr := e.manager.Address()
	if d0.IsPositive() {
		if err := e.ledger.Approve(ctx, token0, e.vault, managerAddr, d0); err != nil {
			return fmt.Errorf("approve token0: %w", err)
		}
	}
	if d1.IsPositive() {
		if err := e.ledger.Approve(ctx, token1, e.vault, managerAddr, d1); err != nil {
			return fmt.Errorf("approve token1: %w", err)
		}
	}

	shares, used0, used1, err := e.manager.Deposit(ctx, d0, d1, sdkmath.ZeroInt(), sdkmath.ZeroInt(), e.vault)
	if err != nil {
		return fmt.Errorf("deposit into manager: %w", err)
	}
	report.SharesMinted = report.SharesMinted.Add(shares)

	engineLogger.Info().
		Str("shares", shares.String()).
		Str("used0", used0.String()).
		Str("used1", used1.String()).
		Msg("Deposited into manager")
	return nil
}

// swapLimit picks the price bound for a swap: one tick-spacing step past the
// current tick normally, or the representable extreme when liquidating.
func (e *Engine) swapLimit(slot dex.Slot0, sellingToken0, liquidate bool) (sdkmath.Int, error) {
	if liquidate {
		if sellingToken0 {
			return pricemath.MinSqrtRatio.AddRaw(1), nil
		}
		return pricemath.MaxSqrtRatio.SubRaw(1), nil
	}

	spacing := e.pool.TickSpacing()
	if sellingToken0 {
		tick := slot.Tick - spacing
		if tick < pricemath.MinTick {
			tick = pricemath.MinTick
		}
		limit, err := pricemath.SqrtRatioAtTick(tick)
		if err != nil {
			return sdkmath.Int{}, err
		}
		if limit.GTE(slot.SqrtPriceX96) {
			limit = slot.SqrtPriceX96.SubRaw(1)
		}
		return limit, nil
	}

	tick := slot.Tick + spacing
	if tick > pricemath.MaxTick {
		tick = pricemath.MaxTick
	}
	limit, err := pricemath.SqrtRatioAtTick(tick)
	if err != nil {
		return sdkmath.Int{}, err
	}
	if limit.LTE(slot.SqrtPriceX96) {
		limit = slot.SqrtPriceX96.AddRaw(1)
	}
	return limit, nil
}

// measure reads the vault's full state at one instant.
func (e *Engine) measure(ctx context.Context) (types.BalancesSnapshot, error) {
	idleAsset, idlePaired, err := e.valuer.IdleBalances(ctx)
	if err != nil {
		return types.BalancesSnapshot{}, err
	}
	shares, err := e.manager.BalanceOf(ctx, e.vault)
	if err != nil {
		return types.BalancesSnapshot{}, fmt.Errorf("read manager shares: %w", err)
	}
	lpValue, err := e.valuer.LPVaultInAsset(ctx)
	if err != nil {
		return types.BalancesSnapshot{}, err
	}
	total, err := e.valuer.EstimatedTotalAsset(ctx)
	if err != nil {
		return types.BalancesSnapshot{}, err
	}
	slot, err := e.pool.Slot0(ctx)
	if err != nil {
		return types.BalancesSnapshot{}, fmt.Errorf("read pool slot0: %w", err)
	}
	return types.BalancesSnapshot{
		IdleAsset:      idleAsset,
		IdlePaired:     idlePaired,
		Shares:         shares,
		LPValue:        lpValue,
		EstimatedTotal: total,
		SqrtPriceX96:   slot.SqrtPriceX96.String(),
		Tick:           slot.Tick,
	}, nil
}

// Snapshot is the exported read-only measurement, used by the status surface.
func (e *Engine) Snapshot(ctx context.Context) (types.BalancesSnapshot, error) {
	return e.measure(ctx)
}

// Positions lists the manager's configured liquidity ranges.
func (e *Engine) Positions(ctx context.Context) ([]types.PositionRange, error) {
	return e.manager.GetPositions(ctx)
}

// LastTend reports when the engine last completed a non-throttled pass.
func (e *Engine) LastTend() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastTend
}

// EstimatedTotalAsset is the conservative asset-denominated total.
func (e *Engine) EstimatedTotalAsset(ctx context.Context) (sdkmath.Int, error) {
	return e.valuer.EstimatedTotalAsset(ctx)
}

// LPVaultInAsset values the manager share position alone.
func (e *Engine) LPVaultInAsset(ctx context.Context) (sdkmath.Int, error) {
	return e.valuer.LPVaultInAsset(ctx)
}

// AvailableDepositLimit is the remaining room under the configured deposit
// limit, never negative.
func (e *Engine) AvailableDepositLimit(ctx context.Context) (sdkmath.Int, error) {
	cfg := e.params.Snapshot()
	total, err := e.valuer.EstimatedTotalAsset(ctx)
	if err != nil {
		return sdkmath.Int{}, err
	}
	if total.GTE(cfg.DepositLimit) {
		return sdkmath.ZeroInt(), nil
	}
	return cfg.DepositLimit.Sub(total), nil
}

// FreeFunds services a host-vault withdrawal: run the free branch for the
// requested amount immediately, with no throttle and no noise guards.
func (e *Engine) FreeFunds(ctx context.Context, amount sdkmath.Int) error {
	if amount.IsNil() || !amount.IsPositive() {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	report := newReport()
	cfg := e.params.Snapshot()
	if err := e.free(ctx, amount, cfg, types.ActionFree, report); err != nil {
		return err
	}
	engineLogger.Info().
		Str("requested", amount.String()).
		Str("shares_withdrawn", report.SharesWithdrawn.String()).
		Msg("Freed funds for withdrawal")
	return nil
}

// EmergencyWithdraw forces the free path with extreme price limits. The
// amount is an asset value to pull out; passing MaxUint256 empties the
// position entirely.
func (e *Engine) EmergencyWithdraw(ctx context.Context, amount sdkmath.Int) (*types.TendReport, error) {
	if amount.IsNil() || !amount.IsPositive() {
		return nil, fmt.Errorf("emergency amount must be positive")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	start := e.now()
	report := newReport()

	before, err := e.measure(ctx)
	if err != nil {
		return nil, fmt.Errorf("measure before emergency: %w", err)
	}
	report.Before = before

	cfg := e.params.Snapshot()
	if err := e.free(ctx, amount, cfg, types.ActionEmergency, report); err != nil {
		return nil, err
	}

	after, err := e.measure(ctx)
	if err != nil {
		return nil, fmt.Errorf("measure after emergency: %w", err)
	}
	report.After = after
	report.Duration = e.now().Sub(start)

	engineLogger.Warn().
		Str("requested", amount.String()).
		Str("shares_withdrawn", report.SharesWithdrawn.String()).
		Str("total_after", after.EstimatedTotal.String()).
		Msg("Emergency withdraw complete")

	return report, nil
}

func newReport() *types.TendReport {
	return &types.TendReport{
		Action:          types.ActionNone,
		SharesWithdrawn: sdkmath.ZeroInt(),
		SharesMinted:    sdkmath.ZeroInt(),
	}
}
