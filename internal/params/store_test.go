package params

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"github.com/amphora-finance/clvm/internal/pricemath"
	"github.com/amphora-finance/clvm/internal/types"
)

func validConfig() types.StrategyConfig {
	return types.StrategyConfig{
		TargetIdleBps:          500,
		TargetIdleBufferBps:    100,
		MinAsset:               sdkmath.NewInt(1_000_000),
		MaxSwapValue:           pricemath.MaxUint256,
		MinTendWaitSeconds:     300,
		PairedTokenDiscountBps: 50,
		DepositLimit:           pricemath.MaxUint256,
	}
}

func TestNewStoreRejectsInvalidConfig(t *testing.T) {
	cfg := validConfig()
	cfg.TargetIdleBps = types.MaxBps + 1
	_, err := NewStore(cfg)
	require.ErrorIs(t, err, ErrInvalidParameter)

	cfg = validConfig()
	cfg.MinAsset = sdkmath.Int{}
	_, err = NewStore(cfg)
	require.ErrorIs(t, err, ErrInvalidParameter)
}

func TestSettersRejectOutOfRangeBps(t *testing.T) {
	store, err := NewStore(validConfig())
	require.NoError(t, err)

	require.ErrorIs(t, store.SetTargetIdleBps(types.MaxBps+1), ErrInvalidParameter)
	require.ErrorIs(t, store.SetTargetIdleBufferBps(20_000), ErrInvalidParameter)
	require.ErrorIs(t, store.SetPairedTokenDiscountBps(10_001), ErrInvalidParameter)

	// Nothing mutated by the rejected calls.
	require.Equal(t, uint64(500), store.Snapshot().TargetIdleBps)
	require.Equal(t, uint64(100), store.Snapshot().TargetIdleBufferBps)
	require.Equal(t, uint64(50), store.Snapshot().PairedTokenDiscountBps)

	// The full range up to the cap is accepted.
	require.NoError(t, store.SetTargetIdleBps(types.MaxBps))
	require.Equal(t, uint64(types.MaxBps), store.Snapshot().TargetIdleBps)
}

func TestSettersRejectNegativeAmounts(t *testing.T) {
	store, err := NewStore(validConfig())
	require.NoError(t, err)

	require.ErrorIs(t, store.SetMinAsset(sdkmath.NewInt(-1)), ErrInvalidParameter)
	require.ErrorIs(t, store.SetMaxSwapValue(sdkmath.Int{}), ErrInvalidParameter)
	require.ErrorIs(t, store.SetDepositLimit(sdkmath.NewInt(-5)), ErrInvalidParameter)

	require.NoError(t, store.SetMaxSwapValue(sdkmath.ZeroInt()))
	require.True(t, store.Snapshot().MaxSwapValue.IsZero())
}

func TestReplaceValidates(t *testing.T) {
	store, err := NewStore(validConfig())
	require.NoError(t, err)

	bad := validConfig()
	bad.PairedTokenDiscountBps = 99_999
	require.ErrorIs(t, store.Replace(bad), ErrInvalidParameter)
	require.Equal(t, uint64(50), store.Snapshot().PairedTokenDiscountBps)

	good := validConfig()
	good.TargetIdleBps = 0
	require.NoError(t, store.Replace(good))
	require.Equal(t, uint64(0), store.Snapshot().TargetIdleBps)
}
