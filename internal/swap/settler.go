/*

This file contains the swap settler: it initiates exact-input swaps against the
bound pool and settles the pool's synchronous payment callback, verifying every
claim in the payload before any tokens move.

*/

package swap

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/amphora-finance/clvm/internal/dex"
	"github.com/amphora-finance/clvm/internal/logger"
	"github.com/amphora-finance/clvm/internal/types"
)

var (
	ErrInvalidSettlerConfig   = errors.New("invalid settler configuration")
	ErrInvalidSellAmount      = errors.New("sell amount must be positive")
	ErrUnknownSellToken       = errors.New("sell token is neither the asset nor the paired token")
	ErrCallbackWrongPool      = errors.New("payment callback from an address other than the bound pool")
	ErrMalformedPayload       = errors.New("payment callback payload did not decode")
	ErrCallbackWrongToken     = errors.New("payment callback demands an unknown token")
	ErrCallbackBadDelta       = errors.New("payment callback delta is not negative on the paying side")
	ErrCallbackAmountMismatch = errors.New("payment callback amount does not match the swap delta")
)

var swapLogger = logger.GetForComponent("swap_settler")

// The payload rides through the pool untouched and comes back in the payment
// callback: which token the vault expects to pay, and exactly how much.
var (
	swapIntentArgs    abi.Arguments
	swapIntentOnce    sync.Once
	swapIntentArgsErr error
)

func getSwapIntentArgs() (abi.Arguments, error) {
	swapIntentOnce.Do(func() {
		addressType, err := abi.NewType("address", "", nil)
		if err != nil {
			swapIntentArgsErr = err
			return
		}
		uint256Type, err := abi.NewType("uint256", "", nil)
		if err != nil {
			swapIntentArgsErr = err
			return
		}
		swapIntentArgs = abi.Arguments{
			{Name: "tokenToPay", Type: addressType},
			{Name: "amountToPay", Type: uint256Type},
		}
	})
	return swapIntentArgs, swapIntentArgsErr
}

// Config binds a settler to one pool, one custody wallet and the two tokens.
type Config struct {
	Pool   dex.Pool
	Ledger dex.TokenLedger
	Vault  common.Address
	Asset  types.TokenInfo
	Paired types.TokenInfo
}

// Settler initiates swaps and pays for them when the pool calls back. It holds
// no balances itself; everything settles against the vault wallet.
type Settler struct {
	pool   dex.Pool
	ledger dex.TokenLedger
	vault  common.Address
	asset  types.TokenInfo
	paired types.TokenInfo
}

func NewSettler(cfg Config) (*Settler, error) {
	if cfg.Pool == nil || cfg.Ledger == nil {
		return nil, fmt.Errorf("%w: pool and ledger are required", ErrInvalidSettlerConfig)
	}
	if cfg.Vault == (common.Address{}) {
		return nil, fmt.Errorf("%w: vault address is required", ErrInvalidSettlerConfig)
	}
	if cfg.Asset.Address == cfg.Paired.Address || cfg.Asset.IsToken0 == cfg.Paired.IsToken0 {
		return nil, fmt.Errorf("%w: tokens must be distinct and on opposite pair sides", ErrInvalidSettlerConfig)
	}
	return &Settler{
		pool:   cfg.Pool,
		ledger: cfg.Ledger,
		vault:  cfg.Vault,
		asset:  cfg.Asset,
		paired: cfg.Paired,
	}, nil
}

// PerformSwap sells sellAmount of sellToken through the bound pool, with the
// price limit bounding how far the pool may move. Returns the amount bought.
func (s *Settler) PerformSwap(ctx context.Context, sellToken common.Address, sellAmount, sqrtPriceLimitX96 sdkmath.Int) (sdkmath.Int, error) {
	if sellAmount.IsNil() || !sellAmount.IsPositive() {
		return sdkmath.Int{}, ErrInvalidSellAmount
	}

	var zeroForOne bool
	switch sellToken {
	case s.asset.Address:
		zeroForOne = s.asset.IsToken0
	case s.paired.Address:
		zeroForOne = s.paired.IsToken0
	default:
		return sdkmath.Int{}, fmt.Errorf("%w: %s", ErrUnknownSellToken, sellToken.Hex())
	}

	payload, err := encodeSwapIntent(sellToken, sellAmount)
	if err != nil {
		return sdkmath.Int{}, fmt.Errorf("encode swap payload: %w", err)
	}

	amount0, amount1, err := s.pool.Swap(ctx, s.vault, zeroForOne, sellAmount, sqrtPriceLimitX96, payload, s)
	if err != nil {
		return sdkmath.Int{}, err
	}

	bought := amount0
	if zeroForOne {
		bought = amount1
	}

	swapLogger.Debug().
		Str("sell_token", sellToken.Hex()).
		Str("amount_sold", sellAmount.String()).
		Str("amount_bought", bought.String()).
		Bool("zero_for_one", zeroForOne).
		Msg("Swap settled")

	return bought, nil
}

// PaySwap is the payment callback. Every check runs before any transfer:
// the caller must be the bound pool, the demanded token must be one of the
// pair, the paying-side delta must be strictly negative, and its magnitude
// must equal the payload amount exactly. Only then does the vault pay, and it
// pays exactly the payload amount.
func (s *Settler) PaySwap(ctx context.Context, pool common.Address, amount0Delta, amount1Delta sdkmath.Int, data []byte) error {
	if pool != s.pool.Address() {
		return fmt.Errorf("%w: %s", ErrCallbackWrongPool, pool.Hex())
	}

	tokenToPay, amountToPay, err := decodeSwapIntent(data)
	if err != nil {
		return errors.Join(ErrMalformedPayload, err)
	}

	var payingIsToken0 bool
	switch tokenToPay {
	case s.asset.Address:
		payingIsToken0 = s.asset.IsToken0
	case s.paired.Address:
		payingIsToken0 = s.paired.IsToken0
	default:
		return fmt.Errorf("%w: %s", ErrCallbackWrongToken, tokenToPay.Hex())
	}

	delta := amount1Delta
	if payingIsToken0 {
		delta = amount0Delta
	}
	if delta.IsNil() || !delta.IsNegative() {
		return fmt.Errorf("%w: delta %s", ErrCallbackBadDelta, delta)
	}
	if !delta.Abs().Equal(amountToPay) {
		return fmt.Errorf("%w: delta %s, payload %s", ErrCallbackAmountMismatch, delta.Abs(), amountToPay)
	}

	return s.ledger.Transfer(ctx, tokenToPay, s.vault, pool, amountToPay)
}

func encodeSwapIntent(tokenToPay common.Address, amountToPay sdkmath.Int) ([]byte, error) {
	args, err := getSwapIntentArgs()
	if err != nil {
		return nil, err
	}
	return args.Pack(tokenToPay, amountToPay.BigInt())
}

func decodeSwapIntent(data []byte) (common.Address, sdkmath.Int, error) {
	args, err := getSwapIntentArgs()
	if err != nil {
		return common.Address{}, sdkmath.Int{}, err
	}
	values, err := args.Unpack(data)
	if err != nil {
		return common.Address{}, sdkmath.Int{}, err
	}
	if len(values) != 2 {
		return common.Address{}, sdkmath.Int{}, fmt.Errorf("expected 2 fields, got %d", len(values))
	}
	token, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, sdkmath.Int{}, fmt.Errorf("tokenToPay is not an address")
	}
	amount, ok := values[1].(*big.Int)
	if !ok {
		return common.Address{}, sdkmath.Int{}, fmt.Errorf("amountToPay is not an integer")
	}
	return token, sdkmath.NewIntFromBigInt(amount), nil
}
