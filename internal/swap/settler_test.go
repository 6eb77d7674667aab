package swap

import (
	"context"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/amphora-finance/clvm/internal/dex"
	"github.com/amphora-finance/clvm/internal/pricemath"
	"github.com/amphora-finance/clvm/internal/sim"
	"github.com/amphora-finance/clvm/internal/types"
)

var (
	testToken0 = common.HexToAddress("0x0000000000000000000000000000000000000A01")
	testToken1 = common.HexToAddress("0x0000000000000000000000000000000000000B02")
	testPool   = common.HexToAddress("0x00000000000000000000000000000000000000CC")
	testVault  = common.HexToAddress("0x00000000000000000000000000000000000000DD")
)

func newTestStack(t *testing.T) (*sim.Ledger, *sim.Pool, *Settler) {
	t.Helper()

	ledger := sim.NewLedger()
	ledger.RegisterToken(testToken0, 18)
	ledger.RegisterToken(testToken1, 18)

	liquidity := sdkmath.NewInt(1).MulRaw(1_000_000_000).MulRaw(1_000_000_000).MulRaw(1_000_000)
	pool, err := sim.NewPool(sim.PoolConfig{
		Address:      testPool,
		Token0:       testToken0,
		Token1:       testToken1,
		Fee:          3000,
		TickSpacing:  60,
		SqrtPriceX96: sdkmath.NewIntFromBigInt(pricemath.Q96),
		Liquidity:    liquidity,
		Ledger:       ledger,
	})
	require.NoError(t, err)

	// Seed pool reserves and the vault's sell-side balance.
	seed := sdkmath.NewInt(1_000_000).MulRaw(1_000_000_000_000)
	require.NoError(t, ledger.Mint(testToken0, testPool, seed))
	require.NoError(t, ledger.Mint(testToken1, testPool, seed))
	require.NoError(t, ledger.Mint(testToken0, testVault, seed))
	require.NoError(t, ledger.Mint(testToken1, testVault, seed))

	settler, err := NewSettler(Config{
		Pool:   pool,
		Ledger: ledger,
		Vault:  testVault,
		Asset:  types.TokenInfo{Address: testToken0, Symbol: "USDC", Decimals: 18, IsToken0: true},
		Paired: types.TokenInfo{Address: testToken1, Symbol: "WETH", Decimals: 18, IsToken0: false},
	})
	require.NoError(t, err)

	return ledger, pool, settler
}

func TestNewSettlerValidation(t *testing.T) {
	ledger := sim.NewLedger()
	_, pool, _ := newTestStack(t)

	asset := types.TokenInfo{Address: testToken0, IsToken0: true}
	paired := types.TokenInfo{Address: testToken1, IsToken0: false}

	_, err := NewSettler(Config{Ledger: ledger, Vault: testVault, Asset: asset, Paired: paired})
	require.ErrorIs(t, err, ErrInvalidSettlerConfig)

	_, err = NewSettler(Config{Pool: pool, Ledger: ledger, Asset: asset, Paired: paired})
	require.ErrorIs(t, err, ErrInvalidSettlerConfig)

	// Same pair side on both tokens.
	samePaired := paired
	samePaired.IsToken0 = true
	_, err = NewSettler(Config{Pool: pool, Ledger: ledger, Vault: testVault, Asset: asset, Paired: samePaired})
	require.ErrorIs(t, err, ErrInvalidSettlerConfig)
}

func TestPerformSwapRoundTrip(t *testing.T) {
	ctx := context.Background()
	ledger, _, settler := newTestStack(t)

	vault0Before, err := ledger.BalanceOf(ctx, testToken0, testVault)
	require.NoError(t, err)
	vault1Before, err := ledger.BalanceOf(ctx, testToken1, testVault)
	require.NoError(t, err)

	sell := sdkmath.NewInt(1_000_000_000)
	bought, err := settler.PerformSwap(ctx, testToken0, sell, pricemath.MinSqrtRatio.AddRaw(1))
	require.NoError(t, err)
	require.True(t, bought.IsPositive())

	vault0After, err := ledger.BalanceOf(ctx, testToken0, testVault)
	require.NoError(t, err)
	vault1After, err := ledger.BalanceOf(ctx, testToken1, testVault)
	require.NoError(t, err)

	// The vault paid exactly the sell amount and received exactly the quote.
	require.True(t, vault0Before.Sub(vault0After).Equal(sell))
	require.True(t, vault1After.Sub(vault1Before).Equal(bought))

	// With fees on, the output of a balanced pool is below the input.
	require.True(t, bought.LT(sell))
}

func TestPerformSwapBothDirections(t *testing.T) {
	ctx := context.Background()
	_, pool, settler := newTestStack(t)

	sell := sdkmath.NewInt(500_000_000)

	boughtPaired, err := settler.PerformSwap(ctx, testToken0, sell, pricemath.MinSqrtRatio.AddRaw(1))
	require.NoError(t, err)
	require.True(t, boughtPaired.IsPositive())

	slotMid, err := pool.Slot0(ctx)
	require.NoError(t, err)

	boughtAsset, err := settler.PerformSwap(ctx, testToken1, sell, pricemath.MaxSqrtRatio.SubRaw(1))
	require.NoError(t, err)
	require.True(t, boughtAsset.IsPositive())

	// Selling token0 pushes the price down, selling token1 pushes it back up.
	slotEnd, err := pool.Slot0(ctx)
	require.NoError(t, err)
	require.True(t, slotMid.SqrtPriceX96.LT(slotEnd.SqrtPriceX96))
}

func TestPerformSwapRejectsBadInputs(t *testing.T) {
	ctx := context.Background()
	_, _, settler := newTestStack(t)

	limit := pricemath.MinSqrtRatio.AddRaw(1)

	_, err := settler.PerformSwap(ctx, testToken0, sdkmath.ZeroInt(), limit)
	require.ErrorIs(t, err, ErrInvalidSellAmount)

	_, err = settler.PerformSwap(ctx, testToken0, sdkmath.NewInt(-5), limit)
	require.ErrorIs(t, err, ErrInvalidSellAmount)

	stranger := common.HexToAddress("0x00000000000000000000000000000000000000EE")
	_, err = settler.PerformSwap(ctx, stranger, sdkmath.NewInt(100), limit)
	require.ErrorIs(t, err, ErrUnknownSellToken)
}

func TestPerformSwapHonorsPriceLimit(t *testing.T) {
	ctx := context.Background()
	ledger, pool, settler := newTestStack(t)

	vault0Before, err := ledger.BalanceOf(ctx, testToken0, testVault)
	require.NoError(t, err)
	slotBefore, err := pool.Slot0(ctx)
	require.NoError(t, err)

	// A limit one notch below the current price cannot absorb a big sale.
	tightLimit := slotBefore.SqrtPriceX96.SubRaw(1)
	sell := sdkmath.NewInt(1_000_000).MulRaw(1_000_000_000_000)
	_, err = settler.PerformSwap(ctx, testToken0, sell, tightLimit)
	require.ErrorIs(t, err, sim.ErrPriceLimitCrossed)

	// Nothing moved and the price is untouched.
	vault0After, err := ledger.BalanceOf(ctx, testToken0, testVault)
	require.NoError(t, err)
	require.True(t, vault0Before.Equal(vault0After))
	slotAfter, err := pool.Slot0(ctx)
	require.NoError(t, err)
	require.True(t, slotBefore.SqrtPriceX96.Equal(slotAfter.SqrtPriceX96))
}

func TestPaySwapRejectsWrongPool(t *testing.T) {
	ctx := context.Background()
	ledger, _, settler := newTestStack(t)

	payload, err := encodeSwapIntent(testToken0, sdkmath.NewInt(100))
	require.NoError(t, err)

	before, err := ledger.BalanceOf(ctx, testToken0, testVault)
	require.NoError(t, err)

	imposter := common.HexToAddress("0x00000000000000000000000000000000000000FF")
	err = settler.PaySwap(ctx, imposter, sdkmath.NewInt(-100), sdkmath.NewInt(99), payload)
	require.ErrorIs(t, err, ErrCallbackWrongPool)

	after, err := ledger.BalanceOf(ctx, testToken0, testVault)
	require.NoError(t, err)
	require.True(t, before.Equal(after))
}

func TestPaySwapRejectsUnknownToken(t *testing.T) {
	ctx := context.Background()
	ledger, _, settler := newTestStack(t)

	stranger := common.HexToAddress("0x00000000000000000000000000000000000000EE")
	payload, err := encodeSwapIntent(stranger, sdkmath.NewInt(100))
	require.NoError(t, err)

	before, err := ledger.BalanceOf(ctx, testToken0, testVault)
	require.NoError(t, err)

	err = settler.PaySwap(ctx, testPool, sdkmath.NewInt(-100), sdkmath.NewInt(99), payload)
	require.ErrorIs(t, err, ErrCallbackWrongToken)

	after, err := ledger.BalanceOf(ctx, testToken0, testVault)
	require.NoError(t, err)
	require.True(t, before.Equal(after))
}

func TestPaySwapRejectsNonNegativeDelta(t *testing.T) {
	ctx := context.Background()
	ledger, _, settler := newTestStack(t)

	payload, err := encodeSwapIntent(testToken0, sdkmath.NewInt(100))
	require.NoError(t, err)

	before, err := ledger.BalanceOf(ctx, testToken0, testVault)
	require.NoError(t, err)

	// Positive and zero deltas on the paying side are both refused.
	err = settler.PaySwap(ctx, testPool, sdkmath.NewInt(100), sdkmath.NewInt(-100), payload)
	require.ErrorIs(t, err, ErrCallbackBadDelta)

	err = settler.PaySwap(ctx, testPool, sdkmath.ZeroInt(), sdkmath.NewInt(-100), payload)
	require.ErrorIs(t, err, ErrCallbackBadDelta)

	after, err := ledger.BalanceOf(ctx, testToken0, testVault)
	require.NoError(t, err)
	require.True(t, before.Equal(after))
}

func TestPaySwapRejectsAmountMismatch(t *testing.T) {
	ctx := context.Background()
	ledger, _, settler := newTestStack(t)

	payload, err := encodeSwapIntent(testToken0, sdkmath.NewInt(100))
	require.NoError(t, err)

	before, err := ledger.BalanceOf(ctx, testToken0, testVault)
	require.NoError(t, err)

	// Both a smaller and a larger delta than the payload amount are refused.
	err = settler.PaySwap(ctx, testPool, sdkmath.NewInt(-99), sdkmath.NewInt(99), payload)
	require.ErrorIs(t, err, ErrCallbackAmountMismatch)

	err = settler.PaySwap(ctx, testPool, sdkmath.NewInt(-101), sdkmath.NewInt(99), payload)
	require.ErrorIs(t, err, ErrCallbackAmountMismatch)

	after, err := ledger.BalanceOf(ctx, testToken0, testVault)
	require.NoError(t, err)
	require.True(t, before.Equal(after))
}

func TestPaySwapRejectsMalformedPayload(t *testing.T) {
	ctx := context.Background()
	_, _, settler := newTestStack(t)

	err := settler.PaySwap(ctx, testPool, sdkmath.NewInt(-100), sdkmath.NewInt(99), []byte{0x01, 0x02})
	require.ErrorIs(t, err, ErrMalformedPayload)
}

func TestPaySwapTransfersExactlyOnce(t *testing.T) {
	ctx := context.Background()
	ledger, _, settler := newTestStack(t)

	amount := sdkmath.NewInt(12_345)
	payload, err := encodeSwapIntent(testToken1, amount)
	require.NoError(t, err)

	vaultBefore, err := ledger.BalanceOf(ctx, testToken1, testVault)
	require.NoError(t, err)
	poolBefore, err := ledger.BalanceOf(ctx, testToken1, testPool)
	require.NoError(t, err)

	err = settler.PaySwap(ctx, testPool, sdkmath.NewInt(12_000), amount.Neg(), payload)
	require.NoError(t, err)

	vaultAfter, err := ledger.BalanceOf(ctx, testToken1, testVault)
	require.NoError(t, err)
	poolAfter, err := ledger.BalanceOf(ctx, testToken1, testPool)
	require.NoError(t, err)

	require.True(t, vaultBefore.Sub(vaultAfter).Equal(amount))
	require.True(t, poolAfter.Sub(poolBefore).Equal(amount))
}

func TestSwapIntentRoundTrip(t *testing.T) {
	amount := sdkmath.NewInt(987_654_321)
	payload, err := encodeSwapIntent(testToken1, amount)
	require.NoError(t, err)

	token, decoded, err := decodeSwapIntent(payload)
	require.NoError(t, err)
	require.Equal(t, testToken1, token)
	require.True(t, amount.Equal(decoded))
}

var _ dex.SwapPayer = (*Settler)(nil)
