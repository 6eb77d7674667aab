package dex

import (
	"context"
	"math/big"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedABIsParse(t *testing.T) {
	pool, err := getPoolABI()
	require.NoError(t, err)
	for _, method := range []string{"slot0", "token0", "token1", "fee", "tickSpacing"} {
		_, ok := pool.Methods[method]
		require.True(t, ok, "pool abi is missing %s", method)
	}

	manager, err := getManagerABI()
	require.NoError(t, err)
	for _, method := range []string{"pool", "totalSupply", "balanceOf", "getTotalAmounts"} {
		_, ok := manager.Methods[method]
		require.True(t, ok, "manager abi is missing %s", method)
	}

	erc20, err := getERC20ABI()
	require.NoError(t, err)
	for _, method := range []string{"balanceOf", "decimals", "symbol"} {
		_, ok := erc20.Methods[method]
		require.True(t, ok, "erc20 abi is missing %s", method)
	}
}

// Observe mode must never mutate. Every state-changing method stops at the
// adapter before any RPC is attempted, so zero-value adapters are enough to
// prove it.
func TestMutatorsRefuseExecution(t *testing.T) {
	ctx := context.Background()
	recipient := common.HexToAddress("0x000000000000000000000000000000000000dEaD")
	one := sdkmath.OneInt()

	var pool LivePool
	_, _, err := pool.Swap(ctx, recipient, true, one, one, nil, nil)
	require.ErrorIs(t, err, ErrLiveExecution)

	var manager LiveManager
	_, _, _, err = manager.Deposit(ctx, one, one, one, one, recipient)
	require.ErrorIs(t, err, ErrLiveExecution)
	_, _, err = manager.Withdraw(ctx, one, one, one, recipient)
	require.ErrorIs(t, err, ErrLiveExecution)

	var ledger LiveLedger
	require.ErrorIs(t, ledger.Transfer(ctx, recipient, recipient, recipient, one), ErrLiveExecution)
	require.ErrorIs(t, ledger.Approve(ctx, recipient, recipient, recipient, one), ErrLiveExecution)
}

func TestAsBigIntConversions(t *testing.T) {
	cases := []struct {
		name  string
		value interface{}
		want  int64
		ok    bool
	}{
		{"big.Int", big.NewInt(42), 42, true},
		{"nil big.Int", (*big.Int)(nil), 0, false},
		{"string", "42", 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := asBigInt(tc.value)
			if !tc.ok {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.EqualValues(t, tc.want, got.Int64())
		})
	}
}
