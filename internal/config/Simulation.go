package config

import (
	"errors"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/amphora-finance/clvm/internal/pricemath"
)

// Simulated market parameters loaded from environment variables, sim mode
// only. The defaults stand up a USDC/WETH-shaped market seeded by an outside
// liquidity provider, so a bare `CLVM_MODE=sim` run tends something real.
var (
	// SimAssetSymbol and SimAssetDecimals describe the vault asset token.
	SimAssetSymbol   string
	SimAssetDecimals uint8
	// SimPairedSymbol and SimPairedDecimals describe the paired token.
	SimPairedSymbol   string
	SimPairedDecimals uint8

	// SimInitialAsset and SimInitialPaired seed the vault's idle balances,
	// in whole tokens.
	SimInitialAsset  float64
	SimInitialPaired float64

	// SimInitialTick sets the pool's starting price. Tick 0 means the two
	// tokens trade 1:1 in raw units.
	SimInitialTick int32
	// SimPoolFee is the pool fee in hundredths of a basis point
	// (3000 = 0.30%).
	SimPoolFee uint32
	// SimTickSpacing is the pool's tick spacing.
	SimTickSpacing int32
	// SimPoolLiquidity is the pool's virtual liquidity in raw units.
	SimPoolLiquidity uint64
	// SimPoolReserve seeds each of the pool's token reserves, in whole
	// tokens. It bounds how much a single swap can pay out.
	SimPoolReserve float64

	// SimSeedDeposit is deposited into the LP manager by a synthetic
	// outside provider at startup, in whole tokens per side. Without it
	// the manager is empty and the strategy refuses to open the first
	// position.
	SimSeedDeposit float64

	// SimRangeWidth is the half-width, in ticks, of the manager's
	// position around the initial tick. It is rounded to tick spacing.
	SimRangeWidth int32
)

// loadSimConfig loads simulated market parameters from environment
// variables. This function is called by LoadConfig() in General.go when sim
// mode is selected.
func loadSimConfig() error {
	log.Info().Msg("Loading simulated market configuration from environment variables...")

	var err error

	SimAssetSymbol = getEnvOrDefault("SIM_ASSET_SYMBOL", "USDC")
	SimAssetDecimals, err = getEnvAsDecimals("SIM_ASSET_DECIMALS", 6)
	if err != nil {
		return err
	}

	SimPairedSymbol = getEnvOrDefault("SIM_PAIRED_SYMBOL", "WETH")
	SimPairedDecimals, err = getEnvAsDecimals("SIM_PAIRED_DECIMALS", 18)
	if err != nil {
		return err
	}

	SimInitialAsset, err = getEnvAsFloat64OrDefault("SIM_INITIAL_ASSET", 1_000_000)
	if err != nil {
		return err
	}
	SimInitialPaired, err = getEnvAsFloat64OrDefault("SIM_INITIAL_PAIRED", 0)
	if err != nil {
		return err
	}
	if SimInitialAsset < 0 || SimInitialPaired < 0 {
		return errors.New("SIM_INITIAL_ASSET and SIM_INITIAL_PAIRED must not be negative")
	}

	initialTick, err := getEnvAsInt64OrDefault("SIM_INITIAL_TICK", 0)
	if err != nil {
		return err
	}
	if initialTick < int64(pricemath.MinTick) || initialTick > int64(pricemath.MaxTick) {
		return errors.New("SIM_INITIAL_TICK is outside the supported tick range")
	}
	SimInitialTick = int32(initialTick)

	fee, err := getEnvAsUint64OrDefault("SIM_POOL_FEE", 3000)
	if err != nil {
		return err
	}
	if fee >= 1_000_000 {
		return errors.New("SIM_POOL_FEE must be below 1000000 hundredths of a basis point")
	}
	SimPoolFee = uint32(fee)

	spacing, err := getEnvAsInt64OrDefault("SIM_TICK_SPACING", 60)
	if err != nil {
		return err
	}
	if spacing <= 0 || spacing > int64(pricemath.MaxTick) {
		return errors.New("SIM_TICK_SPACING must be a positive tick count")
	}
	SimTickSpacing = int32(spacing)

	SimPoolLiquidity, err = getEnvAsUint64OrDefault("SIM_POOL_LIQUIDITY", 1_000_000_000_000_000_000)
	if err != nil {
		return err
	}
	if SimPoolLiquidity == 0 {
		return errors.New("SIM_POOL_LIQUIDITY must be positive")
	}

	SimPoolReserve, err = getEnvAsFloat64OrDefault("SIM_POOL_RESERVE", 100_000_000)
	if err != nil {
		return err
	}
	if SimPoolReserve <= 0 {
		return errors.New("SIM_POOL_RESERVE must be positive")
	}

	SimSeedDeposit, err = getEnvAsFloat64OrDefault("SIM_SEED_DEPOSIT", 1_000)
	if err != nil {
		return err
	}
	if SimSeedDeposit < 0 {
		return errors.New("SIM_SEED_DEPOSIT must not be negative")
	}

	rangeWidth, err := getEnvAsInt64OrDefault("SIM_RANGE_WIDTH", 6_000)
	if err != nil {
		return err
	}
	if rangeWidth < int64(SimTickSpacing) || rangeWidth > int64(pricemath.MaxTick) {
		return errors.New("SIM_RANGE_WIDTH must be at least one tick spacing")
	}
	SimRangeWidth = int32(rangeWidth)

	log.Debug().
		Str("AssetSymbol", SimAssetSymbol).
		Str("PairedSymbol", SimPairedSymbol).
		Int32("InitialTick", SimInitialTick).
		Uint32("PoolFee", SimPoolFee).
		Msg("Simulated market configuration loaded successfully.")

	return nil
}

// getEnvAsDecimals retrieves an environment variable as a token decimal
// count, falling back to the provided default when unset. Values above 18
// are rejected; the float conversion helpers do not go further.
func getEnvAsDecimals(key string, fallback uint8) (uint8, error) {
	value, err := getEnvAsUint64OrDefault(key, uint64(fallback))
	if err != nil {
		return 0, err
	}
	if value > 18 {
		return 0, errors.New("environment variable " + key + " must be at most 18, got: " + strconv.FormatUint(value, 10))
	}
	return uint8(value), nil
}
