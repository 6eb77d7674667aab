package dex

import (
	"context"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/amphora-finance/clvm/internal/types"
)

// Slot0 is the pool's spot state. It is read fresh before every valuation and
// swap; nothing in the engine caches it.
type Slot0 struct {
	SqrtPriceX96 sdkmath.Int
	Tick         int32
}

// SwapPayer settles the payment leg of a swap. The pool calls it synchronously
// in the middle of Swap, before the swap returns.
type SwapPayer interface {
	// PaySwap receives the pool that is collecting, the signed token deltas of
	// the swap (negative means the payer owes that amount), and the opaque
	// data the initiator passed to Swap. The payer must transfer exactly what
	// it owes before returning.
	PaySwap(ctx context.Context, pool common.Address, amount0Delta, amount1Delta sdkmath.Int, data []byte) error
}

// Pool abstracts the concentrated-liquidity pool the vault trades against.
// Implementations exist for the in-process simulation and for read-only
// observation of a live pool.
type Pool interface {
	Address() common.Address
	Token0() common.Address
	Token1() common.Address

	// Fee returns the pool fee in hundredths of a basis point (3000 = 0.30%).
	Fee() uint32

	// TickSpacing returns the tick granularity positions snap to.
	TickSpacing() int32

	// Slot0 returns the current sqrt price and tick.
	Slot0(ctx context.Context) (Slot0, error)

	// Swap executes an exact-input swap. zeroForOne sells token0 for token1
	// and moves the price down; sqrtPriceLimitX96 bounds how far the price may
	// move, and the swap fails outright if it cannot fill within the bound.
	// The returned deltas are signed from the initiator's perspective:
	// negative amounts were owed to the pool and collected through payer.
	Swap(ctx context.Context, recipient common.Address, zeroForOne bool, amountSpecified sdkmath.Int, sqrtPriceLimitX96 sdkmath.Int, data []byte, payer SwapPayer) (amount0, amount1 sdkmath.Int, err error)
}

// LiquidityManager abstracts the position manager that holds the vault's
// concentrated ranges and tokenizes them as shares.
type LiquidityManager interface {
	Address() common.Address
	Token0() common.Address
	Token1() common.Address

	// Pool returns the pool this manager provides liquidity to.
	Pool() common.Address

	// BalanceOf returns the manager shares held by owner.
	BalanceOf(ctx context.Context, owner common.Address) (sdkmath.Int, error)

	// TotalSupply returns the total manager shares outstanding.
	TotalSupply(ctx context.Context) (sdkmath.Int, error)

	// GetTotalAmounts returns the manager's total token0/token1 holdings,
	// in-range liquidity and loose balances combined.
	GetTotalAmounts(ctx context.Context) (total0, total1 sdkmath.Int, err error)

	// GetPositions returns the manager's current range placements.
	GetPositions(ctx context.Context) ([]types.PositionRange, error)

	// Deposit adds liquidity in the manager's current ratio. Desired amounts
	// are ceilings, min amounts floors; returns shares minted and the amounts
	// actually pulled.
	Deposit(ctx context.Context, amount0Desired, amount1Desired, amount0Min, amount1Min sdkmath.Int, to common.Address) (shares, used0, used1 sdkmath.Int, err error)

	// Withdraw burns shares and pays out the proportional amounts to the
	// receiver, enforcing the min amounts.
	Withdraw(ctx context.Context, shares, amount0Min, amount1Min sdkmath.Int, to common.Address) (amount0, amount1 sdkmath.Int, err error)
}

// TokenLedger is the ERC20 surface the engine needs on the two pool tokens.
// The simulation implements it in memory; the live implementation is
// read-only.
type TokenLedger interface {
	BalanceOf(ctx context.Context, token, owner common.Address) (sdkmath.Int, error)
	Decimals(ctx context.Context, token common.Address) (uint8, error)

	// Transfer moves amount of token from the caller-designated owner to the
	// receiver.
	Transfer(ctx context.Context, token, from, to common.Address, amount sdkmath.Int) error

	// Approve lets spender pull up to amount of owner's token.
	Approve(ctx context.Context, token, owner, spender common.Address, amount sdkmath.Int) error
}
