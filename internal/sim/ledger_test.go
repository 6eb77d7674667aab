package sim

import (
	"context"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestLedgerRejectsUnknownToken(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedger()
	stranger := common.HexToAddress("0x0000000000000000000000000000000000000999")

	require.ErrorIs(t, ledger.Mint(stranger, simUser, sdkmath.NewInt(1)), ErrUnknownToken)

	_, err := ledger.BalanceOf(ctx, stranger, simUser)
	require.ErrorIs(t, err, ErrUnknownToken)

	_, err = ledger.Decimals(ctx, stranger)
	require.ErrorIs(t, err, ErrUnknownToken)

	err = ledger.Transfer(ctx, stranger, simUser, simWallet, sdkmath.NewInt(1))
	require.ErrorIs(t, err, ErrUnknownToken)
}

func TestLedgerMintAccumulates(t *testing.T) {
	ctx := context.Background()
	ledger := newSimLedger()

	require.NoError(t, ledger.Mint(simToken0, simUser, sdkmath.NewInt(100)))
	require.NoError(t, ledger.Mint(simToken0, simUser, sdkmath.NewInt(50)))

	bal, err := ledger.BalanceOf(ctx, simToken0, simUser)
	require.NoError(t, err)
	require.Equal(t, int64(150), bal.Int64())

	dec, err := ledger.Decimals(ctx, simToken0)
	require.NoError(t, err)
	require.Equal(t, uint8(18), dec)
}

func TestLedgerTransfer(t *testing.T) {
	ctx := context.Background()
	ledger := newSimLedger()
	require.NoError(t, ledger.Mint(simToken0, simUser, sdkmath.NewInt(100)))

	require.NoError(t, ledger.Transfer(ctx, simToken0, simUser, simWallet, sdkmath.NewInt(60)))

	from, err := ledger.BalanceOf(ctx, simToken0, simUser)
	require.NoError(t, err)
	to, err := ledger.BalanceOf(ctx, simToken0, simWallet)
	require.NoError(t, err)
	require.Equal(t, int64(40), from.Int64())
	require.Equal(t, int64(60), to.Int64())

	// Zero-amount transfers are quiet no-ops.
	require.NoError(t, ledger.Transfer(ctx, simToken0, simUser, simWallet, sdkmath.ZeroInt()))

	// Overdrafts fail and change nothing.
	err = ledger.Transfer(ctx, simToken0, simUser, simWallet, sdkmath.NewInt(41))
	require.ErrorIs(t, err, ErrInsufficientBalance)
	from, err = ledger.BalanceOf(ctx, simToken0, simUser)
	require.NoError(t, err)
	require.Equal(t, int64(40), from.Int64())

	require.ErrorIs(t, ledger.Transfer(ctx, simToken0, simUser, simWallet, sdkmath.NewInt(-1)), ErrInvalidAmount)
	require.ErrorIs(t, ledger.Transfer(ctx, simToken0, simUser, simWallet, sdkmath.Int{}), ErrInvalidAmount)
}

func TestLedgerAllowances(t *testing.T) {
	ctx := context.Background()
	ledger := newSimLedger()
	require.NoError(t, ledger.Mint(simToken0, simUser, sdkmath.NewInt(100)))

	// No approval, no pull.
	err := ledger.TransferFrom(ctx, simToken0, simUser, simManagerAddr, simManagerAddr, sdkmath.NewInt(10))
	require.ErrorIs(t, err, ErrInsufficientAllowance)

	require.NoError(t, ledger.Approve(ctx, simToken0, simUser, simManagerAddr, sdkmath.NewInt(80)))
	require.NoError(t, ledger.TransferFrom(ctx, simToken0, simUser, simManagerAddr, simManagerAddr, sdkmath.NewInt(50)))

	bal, err := ledger.BalanceOf(ctx, simToken0, simManagerAddr)
	require.NoError(t, err)
	require.Equal(t, int64(50), bal.Int64())

	// The spend reduced the remaining allowance to 30.
	err = ledger.TransferFrom(ctx, simToken0, simUser, simManagerAddr, simManagerAddr, sdkmath.NewInt(31))
	require.ErrorIs(t, err, ErrInsufficientAllowance)
	require.NoError(t, ledger.TransferFrom(ctx, simToken0, simUser, simManagerAddr, simManagerAddr, sdkmath.NewInt(30)))

	// A fresh approval overwrites rather than adds.
	require.NoError(t, ledger.Approve(ctx, simToken0, simUser, simManagerAddr, sdkmath.NewInt(5)))
	err = ledger.TransferFrom(ctx, simToken0, simUser, simManagerAddr, simManagerAddr, sdkmath.NewInt(6))
	require.ErrorIs(t, err, ErrInsufficientAllowance)
}

func TestLedgerTransferFromRespectsBalance(t *testing.T) {
	ctx := context.Background()
	ledger := newSimLedger()
	require.NoError(t, ledger.Mint(simToken0, simUser, sdkmath.NewInt(10)))
	require.NoError(t, ledger.Approve(ctx, simToken0, simUser, simManagerAddr, sdkmath.NewInt(100)))

	err := ledger.TransferFrom(ctx, simToken0, simUser, simManagerAddr, simManagerAddr, sdkmath.NewInt(11))
	require.ErrorIs(t, err, ErrInsufficientBalance)

	// The failed pull must not burn allowance.
	require.NoError(t, ledger.TransferFrom(ctx, simToken0, simUser, simManagerAddr, simManagerAddr, sdkmath.NewInt(10)))
}
