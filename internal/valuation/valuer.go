/*

This file contains the valuation engine: it turns pool state, manager totals and
idle wallet balances into a single conservative asset-denominated estimate.

*/

package valuation

import (
	"context"
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/amphora-finance/clvm/internal/dex"
	"github.com/amphora-finance/clvm/internal/logger"
	"github.com/amphora-finance/clvm/internal/params"
	"github.com/amphora-finance/clvm/internal/pricemath"
	"github.com/amphora-finance/clvm/internal/types"
)

var (
	ErrInvalidValuerConfig = errors.New("invalid valuer configuration")
)

var valuationLogger = logger.GetForComponent("valuation")

// Config carries the collaborators the valuer reads from. Nothing here is
// mutated by the valuer.
type Config struct {
	Pool    dex.Pool
	Manager dex.LiquidityManager
	Ledger  dex.TokenLedger
	Params  *params.Store
	Vault   common.Address
	Asset   types.TokenInfo
	Paired  types.TokenInfo
}

// Valuer computes asset-denominated values for the vault's holdings. All
// methods read fresh state; no prices or totals are cached across calls.
type Valuer struct {
	pool    dex.Pool
	manager dex.LiquidityManager
	ledger  dex.TokenLedger
	params  *params.Store
	vault   common.Address
	asset   types.TokenInfo
	paired  types.TokenInfo
}

func NewValuer(cfg Config) (*Valuer, error) {
	if err := validateValuerConfig(cfg); err != nil {
		return nil, errors.Join(ErrInvalidValuerConfig, err)
	}
	return &Valuer{
		pool:    cfg.Pool,
		manager: cfg.Manager,
		ledger:  cfg.Ledger,
		params:  cfg.Params,
		vault:   cfg.Vault,
		asset:   cfg.Asset,
		paired:  cfg.Paired,
	}, nil
}

func validateValuerConfig(cfg Config) error {
	if cfg.Pool == nil {
		return fmt.Errorf("pool is required")
	}
	if cfg.Manager == nil {
		return fmt.Errorf("liquidity manager is required")
	}
	if cfg.Ledger == nil {
		return fmt.Errorf("token ledger is required")
	}
	if cfg.Params == nil {
		return fmt.Errorf("parameter store is required")
	}
	if cfg.Vault == (common.Address{}) {
		return fmt.Errorf("vault address is required")
	}
	if cfg.Asset.Address == cfg.Paired.Address {
		return fmt.Errorf("asset and paired token must differ")
	}
	if cfg.Asset.IsToken0 == cfg.Paired.IsToken0 {
		return fmt.Errorf("exactly one token must be token0")
	}
	return nil
}

// PairedToAsset converts a paired-token amount into asset units at the given
// sqrt price.
func (v *Valuer) PairedToAsset(amount, sqrtPriceX96 sdkmath.Int) sdkmath.Int {
	return pricemath.ValueAsAsset(amount, sqrtPriceX96, v.asset.IsToken0)
}

// AssetToPaired converts an asset amount into paired-token units at the given
// sqrt price, the inverse direction of PairedToAsset.
func (v *Valuer) AssetToPaired(amount, sqrtPriceX96 sdkmath.Int) sdkmath.Int {
	return pricemath.ValueAsAsset(amount, sqrtPriceX96, v.paired.IsToken0)
}

// IdleBalances returns the vault's loose wallet balances of both tokens.
func (v *Valuer) IdleBalances(ctx context.Context) (asset, paired sdkmath.Int, err error) {
	asset, err = v.ledger.BalanceOf(ctx, v.asset.Address, v.vault)
	if err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, fmt.Errorf("read asset balance: %w", err)
	}
	paired, err = v.ledger.BalanceOf(ctx, v.paired.Address, v.vault)
	if err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, fmt.Errorf("read paired balance: %w", err)
	}
	return asset, paired, nil
}

// LPVaultInAsset values the vault's manager shares in asset units at the
// current pool price. Zero shares or an empty manager value to exactly zero.
func (v *Valuer) LPVaultInAsset(ctx context.Context) (sdkmath.Int, error) {
	shares, err := v.manager.BalanceOf(ctx, v.vault)
	if err != nil {
		return sdkmath.Int{}, fmt.Errorf("read manager shares: %w", err)
	}
	if shares.IsNil() || shares.IsZero() {
		return sdkmath.ZeroInt(), nil
	}

	supply, err := v.manager.TotalSupply(ctx)
	if err != nil {
		return sdkmath.Int{}, fmt.Errorf("read manager supply: %w", err)
	}
	if supply.IsNil() || supply.IsZero() {
		return sdkmath.ZeroInt(), nil
	}

	total0, total1, err := v.manager.GetTotalAmounts(ctx)
	if err != nil {
		return sdkmath.Int{}, fmt.Errorf("read manager totals: %w", err)
	}

	my0 := pricemath.ProRata(total0, shares, supply)
	my1 := pricemath.ProRata(total1, shares, supply)

	slot0, err := v.pool.Slot0(ctx)
	if err != nil {
		return sdkmath.Int{}, fmt.Errorf("read pool slot0: %w", err)
	}

	if v.asset.IsToken0 {
		return my0.Add(pricemath.ValueAsAsset(my1, slot0.SqrtPriceX96, true)), nil
	}
	return my1.Add(pricemath.ValueAsAsset(my0, slot0.SqrtPriceX96, false)), nil
}

// ManagerComposition returns the manager's total holdings split into the
// asset side and the paired side valued in asset units, at the current price.
// Used to size deploy swaps toward the manager's live ratio.
func (v *Valuer) ManagerComposition(ctx context.Context) (assetSide, pairedSideInAsset sdkmath.Int, err error) {
	total0, total1, err := v.manager.GetTotalAmounts(ctx)
	if err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, fmt.Errorf("read manager totals: %w", err)
	}

	slot0, err := v.pool.Slot0(ctx)
	if err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, fmt.Errorf("read pool slot0: %w", err)
	}

	if v.asset.IsToken0 {
		return total0, pricemath.ValueAsAsset(total1, slot0.SqrtPriceX96, true), nil
	}
	return total1, pricemath.ValueAsAsset(total0, slot0.SqrtPriceX96, false), nil
}

// EstimatedTotalAsset is the conservative total: idle asset, plus the LP
// holding, plus idle paired tokens valued at the current price and reduced by
// the configured discount plus the pool fee tier. It is exactly zero when the
// vault holds nothing.
func (v *Valuer) EstimatedTotalAsset(ctx context.Context) (sdkmath.Int, error) {
	idleAsset, idlePaired, err := v.IdleBalances(ctx)
	if err != nil {
		return sdkmath.Int{}, err
	}

	lpValue, err := v.LPVaultInAsset(ctx)
	if err != nil {
		return sdkmath.Int{}, err
	}

	total := idleAsset.Add(lpValue)

	if !idlePaired.IsZero() {
		slot0, err := v.pool.Slot0(ctx)
		if err != nil {
			return sdkmath.Int{}, fmt.Errorf("read pool slot0: %w", err)
		}
		pairedValue := v.PairedToAsset(idlePaired, slot0.SqrtPriceX96)
		total = total.Add(v.applyHaircut(pairedValue))
	}

	valuationLogger.Debug().
		Str("idle_asset", idleAsset.String()).
		Str("idle_paired", idlePaired.String()).
		Str("lp_value", lpValue.String()).
		Str("total", total.String()).
		Msg("Estimated total asset")

	return total, nil
}

// applyHaircut reduces a paired-token value by the configured discount plus
// the pool's fee tier, the cost of actually converting it.
func (v *Valuer) applyHaircut(pairedValue sdkmath.Int) sdkmath.Int {
	haircut := v.params.Snapshot().PairedTokenDiscountBps + uint64(v.pool.Fee()/100)
	if haircut >= types.MaxBps {
		return sdkmath.ZeroInt()
	}
	return pairedValue.MulRaw(int64(types.MaxBps - haircut)).QuoRaw(types.MaxBps)
}
