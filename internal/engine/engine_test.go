package engine

import (
	"context"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/amphora-finance/clvm/internal/params"
	"github.com/amphora-finance/clvm/internal/pricemath"
	"github.com/amphora-finance/clvm/internal/sim"
	"github.com/amphora-finance/clvm/internal/swap"
	"github.com/amphora-finance/clvm/internal/types"
	"github.com/amphora-finance/clvm/internal/valuation"
)

var (
	engToken0  = common.HexToAddress("0x000000000000000000000000000000000000A001")
	engToken1  = common.HexToAddress("0x000000000000000000000000000000000000B002")
	engPool    = common.HexToAddress("0x000000000000000000000000000000000000C003")
	engManager = common.HexToAddress("0x000000000000000000000000000000000000D004")
	engVault   = common.HexToAddress("0x000000000000000000000000000000000000E005")
	engOther   = common.HexToAddress("0x000000000000000000000000000000000000F006")
	engUser    = common.HexToAddress("0x000000000000000000000000000000000000F007")
)

type engineStack struct {
	ledger  *sim.Ledger
	pool    *sim.Pool
	manager *sim.Manager
	store   *params.Store
	engine  *Engine
}

func defaultTestConfig() types.StrategyConfig {
	return types.StrategyConfig{
		TargetIdleBps:          0,
		TargetIdleBufferBps:    0,
		MinAsset:               sdkmath.ZeroInt(),
		MaxSwapValue:           pricemath.MaxUint256,
		MinTendWaitSeconds:     0,
		PairedTokenDiscountBps: 0,
		DepositLimit:           pricemath.MaxUint256,
	}
}

// newEngineStack builds the whole simulated market at a 1:1 price with deep
// liquidity, an empty manager and an empty vault.
func newEngineStack(t *testing.T, cfg types.StrategyConfig) *engineStack {
	t.Helper()

	ledger := sim.NewLedger()
	ledger.RegisterToken(engToken0, 18)
	ledger.RegisterToken(engToken1, 18)

	pool, err := sim.NewPool(sim.PoolConfig{
		Address:      engPool,
		Token0:       engToken0,
		Token1:       engToken1,
		Fee:          3000,
		TickSpacing:  60,
		SqrtPriceX96: sdkmath.NewIntFromBigInt(pricemath.Q96),
		Liquidity:    sdkmath.NewInt(1_000_000_000).MulRaw(1_000_000_000),
		Ledger:       ledger,
	})
	require.NoError(t, err)

	reserves := sdkmath.NewInt(1_000_000_000).MulRaw(1_000_000)
	require.NoError(t, ledger.Mint(engToken0, engPool, reserves))
	require.NoError(t, ledger.Mint(engToken1, engPool, reserves))

	manager, err := sim.NewManager(sim.ManagerConfig{
		Address: engManager,
		Pool:    pool,
		Ledger:  ledger,
		Ranges:  []types.PositionRange{{LowerTick: -600, UpperTick: 600, Weight: 10_000}},
	})
	require.NoError(t, err)

	store, err := params.NewStore(cfg)
	require.NoError(t, err)

	asset := types.TokenInfo{Address: engToken0, Symbol: "USDC", Decimals: 18, IsToken0: true}
	paired := types.TokenInfo{Address: engToken1, Symbol: "WETH", Decimals: 18, IsToken0: false}

	valuer, err := valuation.NewValuer(valuation.Config{
		Pool:    pool,
		Manager: manager,
		Ledger:  ledger,
		Params:  store,
		Vault:   engVault,
		Asset:   asset,
		Paired:  paired,
	})
	require.NoError(t, err)

	settler, err := swap.NewSettler(swap.Config{
		Pool:   pool,
		Ledger: ledger,
		Vault:  engVault,
		Asset:  asset,
		Paired: paired,
	})
	require.NoError(t, err)

	eng, err := NewEngine(Config{
		Pool:    pool,
		Manager: manager,
		Ledger:  ledger,
		Params:  store,
		Valuer:  valuer,
		Settler: settler,
		Vault:   engVault,
		Asset:   asset,
		Paired:  paired,
	})
	require.NoError(t, err)

	return &engineStack{ledger: ledger, pool: pool, manager: manager, store: store, engine: eng}
}

// seedManager gives the manager an outside depositor so the vault never has to
// open its first position.
func (s *engineStack) seedManager(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.ledger.Mint(engToken0, engOther, sdkmath.NewInt(1000)))
	require.NoError(t, s.ledger.Mint(engToken1, engOther, sdkmath.NewInt(1000)))
	require.NoError(t, s.ledger.Approve(ctx, engToken0, engOther, engManager, sdkmath.NewInt(1000)))
	require.NoError(t, s.ledger.Approve(ctx, engToken1, engOther, engManager, sdkmath.NewInt(1000)))
	_, _, _, err := s.manager.Deposit(ctx, sdkmath.NewInt(1000), sdkmath.NewInt(1000), sdkmath.ZeroInt(), sdkmath.ZeroInt(), engOther)
	require.NoError(t, err)
}

func (s *engineStack) mintToVault(t *testing.T, token common.Address, amount int64) {
	t.Helper()
	require.NoError(t, s.ledger.Mint(token, engVault, sdkmath.NewInt(amount)))
}

func (s *engineStack) vaultBalance(t *testing.T, token common.Address) sdkmath.Int {
	t.Helper()
	bal, err := s.ledger.BalanceOf(context.Background(), token, engVault)
	require.NoError(t, err)
	return bal
}

func (s *engineStack) vaultShares(t *testing.T) sdkmath.Int {
	t.Helper()
	shares, err := s.manager.BalanceOf(context.Background(), engVault)
	require.NoError(t, err)
	return shares
}

func TestNewEngineValidation(t *testing.T) {
	stack := newEngineStack(t, defaultTestConfig())

	asset := types.TokenInfo{Address: engToken0, Symbol: "USDC", Decimals: 18, IsToken0: true}
	paired := types.TokenInfo{Address: engToken1, Symbol: "WETH", Decimals: 18, IsToken0: false}

	valuer, err := valuation.NewValuer(valuation.Config{
		Pool: stack.pool, Manager: stack.manager, Ledger: stack.ledger,
		Params: stack.store, Vault: engVault, Asset: asset, Paired: paired,
	})
	require.NoError(t, err)
	settler, err := swap.NewSettler(swap.Config{
		Pool: stack.pool, Ledger: stack.ledger, Vault: engVault, Asset: asset, Paired: paired,
	})
	require.NoError(t, err)

	base := Config{
		Pool: stack.pool, Manager: stack.manager, Ledger: stack.ledger,
		Params: stack.store, Valuer: valuer, Settler: settler,
		Vault: engVault, Asset: asset, Paired: paired,
	}

	missing := base
	missing.Settler = nil
	_, err = NewEngine(missing)
	require.ErrorIs(t, err, ErrInvalidEngineConfig)

	// Claiming the asset is token0 while pointing it at token1's address.
	flipped := base
	flipped.Asset.Address = engToken1
	flipped.Paired.Address = engToken0
	_, err = NewEngine(flipped)
	require.ErrorIs(t, err, ErrInvalidEngineConfig)

	sameSide := base
	sameSide.Paired.IsToken0 = true
	_, err = NewEngine(sameSide)
	require.ErrorIs(t, err, ErrInvalidEngineConfig)
}

func TestTendThrottle(t *testing.T) {
	ctx := context.Background()
	stack := newEngineStack(t, defaultTestConfig())
	require.NoError(t, stack.store.SetMinTendWaitSeconds(3600))

	base := time.Now()
	stack.engine.now = func() time.Time { return base }

	// The first tend always runs.
	report, err := stack.engine.Tend(ctx)
	require.NoError(t, err)
	require.Equal(t, types.ActionNone, report.Action)

	// A second call inside the window is throttled.
	report, err = stack.engine.Tend(ctx)
	require.NoError(t, err)
	require.Equal(t, types.ActionThrottled, report.Action)

	// Once the window passes, tending resumes.
	stack.engine.now = func() time.Time { return base.Add(2 * time.Hour) }
	report, err = stack.engine.Tend(ctx)
	require.NoError(t, err)
	require.Equal(t, types.ActionNone, report.Action)
}

func TestTendDeploysExcess(t *testing.T) {
	ctx := context.Background()
	stack := newEngineStack(t, defaultTestConfig())
	stack.seedManager(t)

	deposit := int64(1_000_000)
	stack.mintToVault(t, engToken0, deposit)

	report, err := stack.engine.Tend(ctx)
	require.NoError(t, err)
	require.Equal(t, types.ActionDeploy, report.Action)
	require.NotNil(t, report.Swap)
	require.Equal(t, "USDC", report.Swap.SoldToken)
	require.True(t, report.SharesMinted.IsPositive())
	require.True(t, stack.vaultShares(t).IsPositive())

	// With a zero idle target nearly everything deploys, and fees plus
	// slippage stay well within a 10% tolerance of the deposit.
	total, err := stack.engine.EstimatedTotalAsset(ctx)
	require.NoError(t, err)
	require.True(t, total.GT(sdkmath.NewInt(deposit*9/10)))
	require.True(t, total.LTE(sdkmath.NewInt(deposit)))

	idleAfter := stack.vaultBalance(t, engToken0)
	require.True(t, idleAfter.LT(sdkmath.NewInt(deposit/100)))
}

func TestTendAtFullIdleTargetNeverDeploys(t *testing.T) {
	ctx := context.Background()
	cfg := defaultTestConfig()
	cfg.TargetIdleBps = types.MaxBps
	stack := newEngineStack(t, cfg)
	stack.seedManager(t)

	deposit := int64(1_000_000)
	stack.mintToVault(t, engToken0, deposit)

	report, err := stack.engine.Tend(ctx)
	require.NoError(t, err)
	require.Equal(t, types.ActionNone, report.Action)
	require.True(t, report.SharesMinted.IsZero())
	require.True(t, stack.vaultShares(t).IsZero())

	// The full deposit stays idle, untouched.
	require.True(t, stack.vaultBalance(t, engToken0).Equal(sdkmath.NewInt(deposit)))
}

func TestTendWithZeroSwapCapDoesNothing(t *testing.T) {
	ctx := context.Background()
	cfg := defaultTestConfig()
	cfg.MaxSwapValue = sdkmath.ZeroInt()
	stack := newEngineStack(t, cfg)
	stack.seedManager(t)

	deposit := int64(1_000_000)
	stack.mintToVault(t, engToken0, deposit)

	report, err := stack.engine.Tend(ctx)
	require.NoError(t, err)
	require.Equal(t, types.ActionNone, report.Action)
	require.Nil(t, report.Swap)
	require.True(t, stack.vaultShares(t).IsZero())
	require.True(t, stack.vaultBalance(t, engToken0).Equal(sdkmath.NewInt(deposit)))
}

func TestTendRefusesEmptyManagerFirstDeposit(t *testing.T) {
	ctx := context.Background()
	stack := newEngineStack(t, defaultTestConfig())
	// No seeding: the manager is empty.

	stack.mintToVault(t, engToken0, 1_000_000)

	report, err := stack.engine.Tend(ctx)
	require.NoError(t, err)
	require.Equal(t, types.ActionNone, report.Action)
	require.True(t, stack.vaultShares(t).IsZero())
	require.True(t, stack.vaultBalance(t, engToken0).Equal(sdkmath.NewInt(1_000_000)))
}

func TestTendFreesDeficit(t *testing.T) {
	ctx := context.Background()
	stack := newEngineStack(t, defaultTestConfig())
	stack.seedManager(t)

	stack.mintToVault(t, engToken0, 1_000_000)
	_, err := stack.engine.Tend(ctx)
	require.NoError(t, err)
	sharesDeployed := stack.vaultShares(t)
	require.True(t, sharesDeployed.IsPositive())

	// Raising the idle target forces the engine to free half the position.
	require.NoError(t, stack.store.SetTargetIdleBps(5000))

	report, err := stack.engine.Tend(ctx)
	require.NoError(t, err)
	require.Equal(t, types.ActionFree, report.Action)
	require.True(t, report.SharesWithdrawn.IsPositive())
	require.NotNil(t, report.Swap)
	require.Equal(t, "WETH", report.Swap.SoldToken)

	total, err := stack.engine.EstimatedTotalAsset(ctx)
	require.NoError(t, err)
	idle := stack.vaultBalance(t, engToken0)

	// Idle should land near half the total.
	target := total.QuoRaw(2)
	diff := idle.Sub(target).Abs()
	require.True(t, diff.LT(total.QuoRaw(10)), "idle %s too far from target %s", idle, target)

	require.True(t, stack.vaultShares(t).LT(sharesDeployed))
}

func TestTendRecomposesLooseBalances(t *testing.T) {
	ctx := context.Background()
	cfg := defaultTestConfig()
	cfg.TargetIdleBps = 5000
	cfg.MinAsset = sdkmath.NewInt(10)
	stack := newEngineStack(t, cfg)
	stack.seedManager(t)

	// Equal loose balances straddle the 50% target, inside the noise guard.
	stack.mintToVault(t, engToken0, 1000)
	stack.mintToVault(t, engToken1, 1000)

	report, err := stack.engine.Tend(ctx)
	require.NoError(t, err)
	require.Equal(t, types.ActionRecompose, report.Action)
	require.NotNil(t, report.Swap)
	require.Equal(t, "WETH", report.Swap.SoldToken)

	// The paired side has been consolidated into the asset.
	require.True(t, stack.vaultBalance(t, engToken1).IsZero())
	require.True(t, stack.vaultBalance(t, engToken0).GT(sdkmath.NewInt(1900)))
}

func TestTendNoiseGuard(t *testing.T) {
	ctx := context.Background()
	cfg := defaultTestConfig()
	cfg.MinAsset = sdkmath.NewInt(10_000)
	stack := newEngineStack(t, cfg)
	stack.seedManager(t)

	// A 5000-unit excess is under the 10000-unit noise floor.
	stack.mintToVault(t, engToken0, 5000)

	report, err := stack.engine.Tend(ctx)
	require.NoError(t, err)
	require.Equal(t, types.ActionNone, report.Action)
	require.True(t, stack.vaultShares(t).IsZero())
	require.True(t, stack.vaultBalance(t, engToken0).Equal(sdkmath.NewInt(5000)))
}

func TestTendBufferWidensDeadBand(t *testing.T) {
	ctx := context.Background()
	cfg := defaultTestConfig()
	cfg.TargetIdleBps = 5000
	cfg.TargetIdleBufferBps = 1000
	stack := newEngineStack(t, cfg)
	stack.seedManager(t)

	// Deploy half, leaving idle at roughly the 50% target.
	stack.mintToVault(t, engToken0, 1_000_000)
	_, err := stack.engine.Tend(ctx)
	require.NoError(t, err)

	idleBefore := stack.vaultBalance(t, engToken0)
	sharesBefore := stack.vaultShares(t)

	// Nudge idle a few percent above target: inside the 10% buffer, so the
	// next tend must not churn.
	stack.mintToVault(t, engToken0, 30_000)
	report, err := stack.engine.Tend(ctx)
	require.NoError(t, err)
	require.Equal(t, types.ActionNone, report.Action)
	require.True(t, stack.vaultShares(t).Equal(sharesBefore))
	require.True(t, stack.vaultBalance(t, engToken0).Equal(idleBefore.AddRaw(30_000)))
}

func TestEmergencyWithdrawDrainsPosition(t *testing.T) {
	ctx := context.Background()
	stack := newEngineStack(t, defaultTestConfig())
	stack.seedManager(t)

	stack.mintToVault(t, engToken0, 1_000_000)
	_, err := stack.engine.Tend(ctx)
	require.NoError(t, err)
	require.True(t, stack.vaultShares(t).IsPositive())

	report, err := stack.engine.EmergencyWithdraw(ctx, pricemath.MaxUint256)
	require.NoError(t, err)
	require.Equal(t, types.ActionEmergency, report.Action)
	require.True(t, report.SharesWithdrawn.IsPositive())

	// Every share is gone and the proceeds are back in the asset.
	require.True(t, stack.vaultShares(t).IsZero())
	require.True(t, stack.vaultBalance(t, engToken1).IsZero())
	require.True(t, stack.vaultBalance(t, engToken0).GT(sdkmath.NewInt(950_000)))
}

func TestEmergencyWithdrawPartial(t *testing.T) {
	ctx := context.Background()
	stack := newEngineStack(t, defaultTestConfig())
	stack.seedManager(t)

	stack.mintToVault(t, engToken0, 1_000_000)
	_, err := stack.engine.Tend(ctx)
	require.NoError(t, err)
	shares := stack.vaultShares(t)

	_, err = stack.engine.EmergencyWithdraw(ctx, sdkmath.NewInt(100_000))
	require.NoError(t, err)

	left := stack.vaultShares(t)
	require.True(t, left.IsPositive())
	require.True(t, left.LT(shares))

	_, err = stack.engine.EmergencyWithdraw(ctx, sdkmath.ZeroInt())
	require.Error(t, err)
}

func TestFreeFundsRaisesIdle(t *testing.T) {
	ctx := context.Background()
	stack := newEngineStack(t, defaultTestConfig())
	stack.seedManager(t)

	stack.mintToVault(t, engToken0, 1_000_000)
	_, err := stack.engine.Tend(ctx)
	require.NoError(t, err)

	idleBefore := stack.vaultBalance(t, engToken0)
	sharesBefore := stack.vaultShares(t)

	require.NoError(t, stack.engine.FreeFunds(ctx, sdkmath.NewInt(100_000)))

	idleAfter := stack.vaultBalance(t, engToken0)
	require.True(t, idleAfter.Sub(idleBefore).GT(sdkmath.NewInt(90_000)))
	require.True(t, stack.vaultShares(t).LT(sharesBefore))

	// Zero and negative requests are quiet no-ops.
	require.NoError(t, stack.engine.FreeFunds(ctx, sdkmath.ZeroInt()))
	require.NoError(t, stack.engine.FreeFunds(ctx, sdkmath.Int{}))
}

func TestAvailableDepositLimit(t *testing.T) {
	ctx := context.Background()
	stack := newEngineStack(t, defaultTestConfig())

	available, err := stack.engine.AvailableDepositLimit(ctx)
	require.NoError(t, err)
	require.True(t, available.GT(sdkmath.NewInt(1_000_000_000)))

	require.NoError(t, stack.store.SetDepositLimit(sdkmath.NewInt(500)))

	available, err = stack.engine.AvailableDepositLimit(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(500), available.Int64())

	stack.mintToVault(t, engToken0, 200)
	available, err = stack.engine.AvailableDepositLimit(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(300), available.Int64())

	stack.mintToVault(t, engToken0, 400)
	available, err = stack.engine.AvailableDepositLimit(ctx)
	require.NoError(t, err)
	require.True(t, available.IsZero())
}

func TestRoundTripThroughHostVault(t *testing.T) {
	ctx := context.Background()
	stack := newEngineStack(t, defaultTestConfig())
	stack.seedManager(t)

	host, err := sim.NewHostVault(sim.HostVaultConfig{
		Strategy: stack.engine,
		Ledger:   stack.ledger,
		Asset:    engToken0,
		Wallet:   engVault,
	})
	require.NoError(t, err)

	deposit := sdkmath.NewInt(1_000_000)
	require.NoError(t, stack.ledger.Mint(engToken0, engUser, deposit))

	shares, err := host.Deposit(ctx, engUser, deposit)
	require.NoError(t, err)
	require.True(t, shares.Equal(deposit))

	// Deploy, then round-trip back out.
	_, err = stack.engine.Tend(ctx)
	require.NoError(t, err)
	require.True(t, stack.vaultShares(t).IsPositive())

	payout, err := host.Withdraw(ctx, engUser, shares)
	require.NoError(t, err)

	// Two swaps' worth of fees and slippage, still close to whole.
	require.True(t, payout.GT(sdkmath.NewInt(950_000)), "payout %s", payout)
	require.True(t, payout.LTE(deposit))

	userBalance, err := stack.ledger.BalanceOf(ctx, engToken0, engUser)
	require.NoError(t, err)
	require.True(t, userBalance.Equal(payout))
}

func TestSnapshotAndStatusReads(t *testing.T) {
	ctx := context.Background()
	stack := newEngineStack(t, defaultTestConfig())
	stack.seedManager(t)
	stack.mintToVault(t, engToken0, 1_000_000)

	snap, err := stack.engine.Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1_000_000), snap.IdleAsset.Int64())
	require.True(t, snap.Shares.IsZero())
	require.NotEmpty(t, snap.SqrtPriceX96)

	positions, err := stack.engine.Positions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)

	require.True(t, stack.engine.LastTend().IsZero())
	_, err = stack.engine.Tend(ctx)
	require.NoError(t, err)
	require.False(t, stack.engine.LastTend().IsZero())
}
