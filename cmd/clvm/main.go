package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/amphora-finance/clvm/internal/cache"
	"github.com/amphora-finance/clvm/internal/chain"
	"github.com/amphora-finance/clvm/internal/clvm"
	"github.com/amphora-finance/clvm/internal/config"
	"github.com/amphora-finance/clvm/internal/dex"
	"github.com/amphora-finance/clvm/internal/engine"
	"github.com/amphora-finance/clvm/internal/logger"
	"github.com/amphora-finance/clvm/internal/metrics"
	"github.com/amphora-finance/clvm/internal/params"
	"github.com/amphora-finance/clvm/internal/pricemath"
	"github.com/amphora-finance/clvm/internal/sim"
	"github.com/amphora-finance/clvm/internal/state"
	"github.com/amphora-finance/clvm/internal/swap"
	"github.com/amphora-finance/clvm/internal/types"
	"github.com/amphora-finance/clvm/internal/utils"
	"github.com/amphora-finance/clvm/internal/valuation"
	"github.com/amphora-finance/clvm/internal/web"
)

// Fixed addresses for the simulated market. Sim mode has no chain, so they
// only need to be distinct; keeping the asset below the paired token makes
// the asset token0.
var (
	simAssetAddress   = common.HexToAddress("0x000000000000000000000000000000000000a001")
	simPairedAddress  = common.HexToAddress("0x000000000000000000000000000000000000b002")
	simPoolAddress    = common.HexToAddress("0x000000000000000000000000000000000000c003")
	simManagerAddress = common.HexToAddress("0x000000000000000000000000000000000000d004")
	simVaultAddress   = common.HexToAddress("0x000000000000000000000000000000000000e005")
	simSeedAddress    = common.HexToAddress("0x000000000000000000000000000000000000f006")
)

// main is the entry point for the CLVM system.
func main() {
	// --- 1. Initialization Phase ---
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
	}

	// Load configuration from environment variables
	if err := config.LoadConfig(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Initialize(os.Getenv("LOG_LEVEL"))
	log.Info().Str("mode", config.Mode).Msg("CLVM Core Logic Starting...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize Database Connection
	dbCfg := state.DBConfig{
		Host: os.Getenv("DB_HOST"), Port: mustAtoi(os.Getenv("DB_PORT"), 5432),
		User: os.Getenv("DB_USER"), Password: os.Getenv("DB_PASSWORD"),
		DBName: os.Getenv("DB_NAME"), SSLMode: os.Getenv("DB_SSLMODE"),
	}
	if err := state.InitDB(dbCfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer state.CloseDB()
	if err := state.EnsureSchema(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure database schema")
	}

	// Load Strategy Configuration
	strategyCfg, err := state.LoadActiveStrategyConfig(clvm.DefaultConfigName)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load active strategy configuration, using defaults and saving.")
		defaults := config.DefaultStrategyConfig
		if _, err := state.SaveStrategyConfig(defaults, clvm.DefaultConfigName, 1, true); err != nil {
			log.Fatal().Err(err).Msg("Failed to save initial default strategy configuration.")
		}
		strategyCfg = &defaults
	}
	paramStore, err := params.NewStore(*strategyCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Stored strategy configuration is invalid")
	}
	log.Info().Msg("Strategy configuration loaded successfully.")

	// Status cache is optional; the web API falls back to live reads when
	// it is absent.
	var statusCache *cache.StatusCache
	if config.RedisAddr != "" {
		cacheClient, err := cache.New(ctx, cache.ClientConfig{
			Addr:     config.RedisAddr,
			Password: config.RedisPassword,
			DB:       int(config.RedisDB),
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis status cache")
		}
		defer cacheClient.Close()
		statusCache = cache.NewStatusCache(cacheClient)
		log.Info().Str("addr", config.RedisAddr).Msg("Status cache connected")
	}

	vaultMetrics := metrics.Vault()

	// --- 2. Market Wiring (with Safety Switch) ---
	var eng *engine.Engine
	var asset, paired types.TokenInfo
	if config.Mode == "observe" {
		log.Warn().Msg("Initializing CLVM in OBSERVE mode. Chain state is read live; every mutating branch stops at the adapter.")
		eng, asset, paired, err = buildObserveMarket(ctx, paramStore)
	} else {
		eng, asset, paired, err = buildSimMarket(ctx, paramStore)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire the market")
	}

	// --- 3. Create CLVM Instance with Dependency Injection ---
	log.Info().Msg("Creating CLVM instance with dependency injection...")

	clvmInstance, err := clvm.NewCLVM(clvm.Config{
		Mode:        config.Mode,
		Engine:      eng,
		Params:      paramStore,
		Asset:       asset,
		Paired:      paired,
		StatusCache: statusCache,
		Metrics:     vaultMetrics,
		ConfigName:  clvm.DefaultConfigName,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create CLVM instance")
	}

	// --- 4. Start Web Server ---
	webPort := strconv.FormatUint(config.WebPort, 10)
	webServer, err := web.NewWebServer(web.Config{
		Port:            webPort,
		Controller:      clvmInstance,
		StatusCache:     statusCache,
		Metrics:         vaultMetrics,
		ManagementToken: config.ManagementToken,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create web server")
	}
	go func() {
		log.Info().Str("port", webPort).Str("url", "http://localhost:"+webPort).Msg("Starting CLVM web dashboard")
		if err := webServer.Start(); err != nil {
			log.Error().Err(err).Msg("Web server failed to start")
		}
	}()

	// --- 5. Start CLVM Main Loop ---
	interval := time.Duration(config.LoopIntervalSeconds) * time.Second
	log.Info().Str("interval", interval.String()).Msg("Starting CLVM main loop")

	clvmInstance.RunLoop(ctx, interval)
	log.Info().Msg("CLVM stopped.")
}

// buildSimMarket stands up the in-memory market described by the SIM_*
// environment: a pool with virtual liquidity, an LP manager seeded by an
// outside provider, and the vault's starting idle balances.
func buildSimMarket(ctx context.Context, paramStore *params.Store) (*engine.Engine, types.TokenInfo, types.TokenInfo, error) {
	asset := types.TokenInfo{
		Address:  simAssetAddress,
		Symbol:   config.SimAssetSymbol,
		Decimals: config.SimAssetDecimals,
		IsToken0: true,
	}
	paired := types.TokenInfo{
		Address:  simPairedAddress,
		Symbol:   config.SimPairedSymbol,
		Decimals: config.SimPairedDecimals,
		IsToken0: false,
	}

	ledger := sim.NewLedger()
	ledger.RegisterToken(asset.Address, asset.Decimals)
	ledger.RegisterToken(paired.Address, paired.Decimals)

	sqrtPrice, err := pricemath.SqrtRatioAtTick(config.SimInitialTick)
	if err != nil {
		return nil, asset, paired, err
	}
	pool, err := sim.NewPool(sim.PoolConfig{
		Address:      simPoolAddress,
		Token0:       asset.Address,
		Token1:       paired.Address,
		Fee:          config.SimPoolFee,
		TickSpacing:  config.SimTickSpacing,
		SqrtPriceX96: sqrtPrice,
		Liquidity:    sdkmath.NewIntFromUint64(config.SimPoolLiquidity),
		Ledger:       ledger,
	})
	if err != nil {
		return nil, asset, paired, err
	}

	lower := alignTick(config.SimInitialTick-config.SimRangeWidth, config.SimTickSpacing)
	upper := alignTick(config.SimInitialTick+config.SimRangeWidth, config.SimTickSpacing)
	if upper <= lower {
		upper = lower + config.SimTickSpacing
	}
	manager, err := sim.NewManager(sim.ManagerConfig{
		Address: simManagerAddress,
		Pool:    pool,
		Ledger:  ledger,
		Ranges:  []types.PositionRange{{LowerTick: lower, UpperTick: upper, Weight: 100}},
	})
	if err != nil {
		return nil, asset, paired, err
	}

	if err := seedSimBalances(ctx, ledger, manager, asset, paired); err != nil {
		return nil, asset, paired, err
	}

	eng, err := assembleEngine(pool, manager, ledger, paramStore, simVaultAddress, asset, paired)
	if err != nil {
		return nil, asset, paired, err
	}

	log.Info().
		Str("pair", asset.Symbol+"/"+paired.Symbol).
		Int32("initial_tick", config.SimInitialTick).
		Uint32("fee", config.SimPoolFee).
		Msg("Simulated market ready")
	return eng, asset, paired, nil
}

// seedSimBalances mints the pool reserves and the vault's idle funds, then
// has a synthetic outside provider make the first manager deposit. Without
// that deposit the manager is empty and the strategy refuses to open the
// vault's first position.
func seedSimBalances(ctx context.Context, ledger *sim.Ledger, manager *sim.Manager, asset, paired types.TokenInfo) error {
	mint := func(token types.TokenInfo, to common.Address, whole float64) (sdkmath.Int, error) {
		raw, err := utils.Float64ToRaw(whole, token.Decimals)
		if err != nil {
			return sdkmath.Int{}, fmt.Errorf("seed %s: %w", token.Symbol, err)
		}
		if raw.IsPositive() {
			if err := ledger.Mint(token.Address, to, raw); err != nil {
				return sdkmath.Int{}, err
			}
		}
		return raw, nil
	}

	if _, err := mint(asset, simPoolAddress, config.SimPoolReserve); err != nil {
		return err
	}
	if _, err := mint(paired, simPoolAddress, config.SimPoolReserve); err != nil {
		return err
	}
	if _, err := mint(asset, simVaultAddress, config.SimInitialAsset); err != nil {
		return err
	}
	if _, err := mint(paired, simVaultAddress, config.SimInitialPaired); err != nil {
		return err
	}

	if config.SimSeedDeposit <= 0 {
		return nil
	}
	seed0, err := mint(asset, simSeedAddress, config.SimSeedDeposit)
	if err != nil {
		return err
	}
	seed1, err := mint(paired, simSeedAddress, config.SimSeedDeposit)
	if err != nil {
		return err
	}
	if err := ledger.Approve(ctx, asset.Address, simSeedAddress, simManagerAddress, seed0); err != nil {
		return err
	}
	if err := ledger.Approve(ctx, paired.Address, simSeedAddress, simManagerAddress, seed1); err != nil {
		return err
	}
	zero := sdkmath.ZeroInt()
	if _, _, _, err := manager.Deposit(ctx, seed0, seed1, zero, zero, simSeedAddress); err != nil {
		return fmt.Errorf("seed manager deposit: %w", err)
	}
	return nil
}

// buildObserveMarket binds read-only adapters to the configured contracts.
// Any tend branch that reaches a mutating call fails inside the adapter and
// is recorded as unexecuted intent.
func buildObserveMarket(ctx context.Context, paramStore *params.Store) (*engine.Engine, types.TokenInfo, types.TokenInfo, error) {
	var asset, paired types.TokenInfo

	client, err := chain.NewClient(ctx, config.EthRPCURL)
	if err != nil {
		return nil, asset, paired, err
	}

	pool, err := dex.NewLivePool(ctx, client, config.PoolAddress)
	if err != nil {
		return nil, asset, paired, err
	}
	manager, err := dex.NewLiveManager(ctx, client, config.ManagerAddress)
	if err != nil {
		return nil, asset, paired, err
	}
	if manager.Pool() != pool.Address() {
		return nil, asset, paired, fmt.Errorf("manager %s manages pool %s, not %s",
			config.ManagerAddress.Hex(), manager.Pool().Hex(), pool.Address().Hex())
	}
	ledger, err := dex.NewLiveLedger(client)
	if err != nil {
		return nil, asset, paired, err
	}

	var pairedAddress common.Address
	var assetIsToken0 bool
	switch config.AssetAddress {
	case pool.Token0():
		pairedAddress, assetIsToken0 = pool.Token1(), true
	case pool.Token1():
		pairedAddress, assetIsToken0 = pool.Token0(), false
	default:
		return nil, asset, paired, fmt.Errorf("asset %s is not a token of pool %s",
			config.AssetAddress.Hex(), pool.Address().Hex())
	}

	asset, err = describeToken(ctx, ledger, config.AssetAddress, assetIsToken0, "ASSET")
	if err != nil {
		return nil, asset, paired, err
	}
	paired, err = describeToken(ctx, ledger, pairedAddress, !assetIsToken0, "PAIRED")
	if err != nil {
		return nil, asset, paired, err
	}

	eng, err := assembleEngine(pool, manager, ledger, paramStore, config.VaultAddress, asset, paired)
	if err != nil {
		return nil, asset, paired, err
	}

	log.Info().
		Str("pair", asset.Symbol+"/"+paired.Symbol).
		Str("pool", pool.Address().Hex()).
		Uint32("fee", pool.Fee()).
		Msg("Observing live market")
	return eng, asset, paired, nil
}

// describeToken reads decimals and symbol for a pool token. A missing or
// non-string symbol is not fatal; the fallback label keeps status output
// readable.
func describeToken(ctx context.Context, ledger *dex.LiveLedger, address common.Address, isToken0 bool, fallback string) (types.TokenInfo, error) {
	decimals, err := ledger.Decimals(ctx, address)
	if err != nil {
		return types.TokenInfo{}, fmt.Errorf("decimals of %s: %w", address.Hex(), err)
	}
	symbol, err := ledger.Symbol(ctx, address)
	if err != nil || symbol == "" {
		log.Warn().Err(err).Str("token", address.Hex()).Msg("Could not read token symbol, using placeholder")
		symbol = fallback
	}
	return types.TokenInfo{Address: address, Symbol: symbol, Decimals: decimals, IsToken0: isToken0}, nil
}

// assembleEngine wires the valuation and settlement layers over a market and
// returns the rebalancing engine on top of them.
func assembleEngine(pool dex.Pool, manager dex.LiquidityManager, ledger dex.TokenLedger, paramStore *params.Store, vault common.Address, asset, paired types.TokenInfo) (*engine.Engine, error) {
	valuer, err := valuation.NewValuer(valuation.Config{
		Pool:    pool,
		Manager: manager,
		Ledger:  ledger,
		Params:  paramStore,
		Vault:   vault,
		Asset:   asset,
		Paired:  paired,
	})
	if err != nil {
		return nil, err
	}
	settler, err := swap.NewSettler(swap.Config{
		Pool:   pool,
		Ledger: ledger,
		Vault:  vault,
		Asset:  asset,
		Paired: paired,
	})
	if err != nil {
		return nil, err
	}
	return engine.NewEngine(engine.Config{
		Pool:    pool,
		Manager: manager,
		Ledger:  ledger,
		Params:  paramStore,
		Valuer:  valuer,
		Settler: settler,
		Vault:   vault,
		Asset:   asset,
		Paired:  paired,
	})
}

// alignTick floors a tick onto the pool's tick spacing grid.
func alignTick(tick, spacing int32) int32 {
	q := tick / spacing
	if tick%spacing != 0 && tick < 0 {
		q--
	}
	return q * spacing
}

// Helper to convert string to int with a default value
func mustAtoi(s string, defaultValue int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return i
}
