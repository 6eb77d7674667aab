package clvm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/amphora-finance/clvm/internal/cache"
	"github.com/amphora-finance/clvm/internal/dex"
	"github.com/amphora-finance/clvm/internal/engine"
	"github.com/amphora-finance/clvm/internal/logger"
	"github.com/amphora-finance/clvm/internal/metrics"
	"github.com/amphora-finance/clvm/internal/params"
	"github.com/amphora-finance/clvm/internal/state"
	"github.com/amphora-finance/clvm/internal/types"
	"github.com/amphora-finance/clvm/internal/utils"
)

const (
	// DefaultConfigName is the strategy configuration row the vault runs
	// under unless told otherwise.
	DefaultConfigName = "default_clvm_strategy"

	ModeSim     = "sim"
	ModeObserve = "observe"
)

// actionFailed marks persisted tends whose execution errored out. It is not a
// TendAction the engine can resolve to.
const actionFailed = "FAILED"

// CLVM is the concentrated-liquidity vault manager: it drives the tend loop,
// persists every outcome, and serves composed status to the web layer.
type CLVM struct {
	logger       zerolog.Logger
	engine       *engine.Engine
	params       *params.Store
	statusCache  *cache.StatusCache
	vaultMetrics *metrics.VaultMetrics

	mode       string
	asset      types.TokenInfo
	paired     types.TokenInfo
	configName string

	mu         sync.Mutex
	lastAction types.TendAction

	cycleCount int
}

// Config holds the dependencies for creating a new CLVM instance. StatusCache
// and Metrics may be nil; everything else is required.
type Config struct {
	Mode        string
	Engine      *engine.Engine
	Params      *params.Store
	Asset       types.TokenInfo
	Paired      types.TokenInfo
	StatusCache *cache.StatusCache
	Metrics     *metrics.VaultMetrics
	ConfigName  string
}

// NewCLVM creates a new CLVM instance with dependency injection.
func NewCLVM(cfg Config) (*CLVM, error) {
	if err := validateCLVMConfig(cfg); err != nil {
		return nil, fmt.Errorf("CLVM configuration validation failed: %w", err)
	}

	c := &CLVM{
		logger:       logger.GetForComponent("clvm_core"),
		engine:       cfg.Engine,
		params:       cfg.Params,
		statusCache:  cfg.StatusCache,
		vaultMetrics: cfg.Metrics,
		mode:         cfg.Mode,
		asset:        cfg.Asset,
		paired:       cfg.Paired,
		configName:   cfg.ConfigName,
		lastAction:   types.ActionNone,
	}

	c.logger.Info().
		Str("mode", c.mode).
		Str("asset", c.asset.Symbol).
		Str("paired", c.paired.Symbol).
		Str("configName", c.configName).
		Msg("CLVM instance created")

	return c, nil
}

func validateCLVMConfig(cfg Config) error {
	if cfg.Engine == nil {
		return fmt.Errorf("engine cannot be nil")
	}
	if cfg.Params == nil {
		return fmt.Errorf("parameter store cannot be nil")
	}
	if cfg.Mode != ModeSim && cfg.Mode != ModeObserve {
		return fmt.Errorf("mode must be %q or %q, got %q", ModeSim, ModeObserve, cfg.Mode)
	}
	if cfg.ConfigName == "" {
		return fmt.Errorf("config name cannot be empty")
	}
	if cfg.Asset.Address == cfg.Paired.Address {
		return fmt.Errorf("asset and paired token must differ")
	}
	return nil
}

// RunLoop starts the main tend loop with the specified interval. The first
// cycle runs immediately.
func (c *CLVM) RunLoop(ctx context.Context, interval time.Duration) {
	c.logger.Info().
		Dur("interval", interval).
		Msg("Starting CLVM main loop")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.cycleCount++
	c.logger.Info().Int("cycle", c.cycleCount).Msg("Initiating tend cycle")
	c.RunCycle(ctx)
	c.logger.Info().Int("cycle", c.cycleCount).Msg("Tend cycle finished")

	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Msg("CLVM loop stopped due to context cancellation")
			return
		case <-ticker.C:
			c.cycleCount++
			c.logger.Info().Int("cycle", c.cycleCount).Msg("Initiating tend cycle")
			c.RunCycle(ctx)
			c.logger.Info().Int("cycle", c.cycleCount).Msg("Tend cycle finished")
		}
	}
}

// RunCycle executes one complete tend cycle: run the engine, persist the
// outcome, refresh metrics and the status cache. In observe mode the engine
// decides but cannot execute; the intended action is recorded with its error.
func (c *CLVM) RunCycle(ctx context.Context) {
	tendStart := time.Now()
	tendID := uuid.New().String()
	tendLogger := c.logger.With().Str("tend_id", tendID).Logger()

	tendLogger.Info().Msg("--- Starting tend cycle ---")

	tendNumber := c.nextTendNumber()
	configID := c.activeConfigID()

	report, tendErr := c.engine.Tend(ctx)
	if tendErr != nil {
		if errors.Is(tendErr, dex.ErrLiveExecution) {
			tendLogger.Info().Msg("Engine wanted to act; execution is unavailable in observe mode")
		} else {
			c.vaultMetrics.IncTendError()
			tendLogger.Error().Err(tendErr).Msg("Tend failed")
		}
	} else {
		c.vaultMetrics.ObserveTend(string(report.Action), report.Duration.Seconds())
		if report.Action != types.ActionThrottled {
			c.setLastAction(report.Action)
		}
		tendLogger.Info().Str("action", string(report.Action)).Msg("Tend resolved")
	}

	c.persistOutcome(tendLogger, tendID, tendNumber, configID, tendStart, report, tendErr)
	c.publishStatus(ctx, tendLogger)

	tendLogger.Info().Str("duration", time.Since(tendStart).String()).Msg("--- Tend cycle completed ---")
}

// EmergencyWithdraw forces the deficit path for the given amount regardless of
// targets and records the outcome like any other tend.
func (c *CLVM) EmergencyWithdraw(ctx context.Context, amount sdkmath.Int) (*types.TendReport, error) {
	tendStart := time.Now()
	tendID := uuid.New().String()
	tendLogger := c.logger.With().Str("tend_id", tendID).Logger()

	tendLogger.Warn().Str("amount", amount.String()).Msg("Emergency withdraw requested")

	tendNumber := c.nextTendNumber()
	configID := c.activeConfigID()

	report, err := c.engine.EmergencyWithdraw(ctx, amount)
	if err != nil {
		c.vaultMetrics.IncTendError()
		tendLogger.Error().Err(err).Msg("Emergency withdraw failed")
	} else {
		c.vaultMetrics.ObserveTend(string(report.Action), report.Duration.Seconds())
		c.setLastAction(report.Action)
	}

	c.persistOutcome(tendLogger, tendID, tendNumber, configID, tendStart, report, err)
	c.publishStatus(ctx, tendLogger)

	return report, err
}

// Status composes the full read-only view of the vault from live reads.
func (c *CLVM) Status(ctx context.Context) (types.VaultStatus, error) {
	snap, err := c.engine.Snapshot(ctx)
	if err != nil {
		return types.VaultStatus{}, fmt.Errorf("failed to measure vault balances: %w", err)
	}
	positions, err := c.engine.Positions(ctx)
	if err != nil {
		return types.VaultStatus{}, fmt.Errorf("failed to read manager positions: %w", err)
	}

	totalF, err := utils.RawToFloat64(snap.EstimatedTotal, c.asset.Decimals)
	if err != nil {
		return types.VaultStatus{}, fmt.Errorf("failed to convert estimated total: %w", err)
	}

	idleRatio := 0.0
	if totalF > 0 {
		if idleF, err := utils.RawToFloat64(snap.IdleAsset, c.asset.Decimals); err == nil {
			idleRatio = idleF / totalF
		}
	}

	tendNumber := 0
	if n, err := state.GetCurrentTendNumber(); err == nil {
		tendNumber = n
	}

	c.mu.Lock()
	lastAction := c.lastAction
	c.mu.Unlock()

	return types.VaultStatus{
		Mode:            c.mode,
		Asset:           c.asset,
		PairedToken:     c.paired,
		Balances:        snap,
		Positions:       positions,
		LastTendAt:      c.engine.LastTend(),
		LastTendAction:  lastAction,
		TendNumber:      int64(tendNumber),
		EstimatedTotalF: totalF,
		IdleRatio:       idleRatio,
		UpdatedAt:       time.Now().UTC(),
	}, nil
}

// Positions returns the manager's concentrated-liquidity ranges.
func (c *CLVM) Positions(ctx context.Context) ([]types.PositionRange, error) {
	return c.engine.Positions(ctx)
}

// ConfigSnapshot returns a copy of the active strategy configuration.
func (c *CLVM) ConfigSnapshot() types.StrategyConfig {
	return c.params.Snapshot()
}

// ApplyConfig validates, persists, and activates a full strategy
// configuration. Persistence happens before activation so the database and
// the running engine never disagree after a failure.
func (c *CLVM) ApplyConfig(ctx context.Context, cfg types.StrategyConfig) error {
	if err := cfg.Validate(); err != nil {
		return errors.Join(params.ErrInvalidParameter, err)
	}

	version, err := state.NextStrategyConfigVersion(c.configName)
	if err != nil {
		return fmt.Errorf("failed to determine config version: %w", err)
	}
	configID, err := state.SaveStrategyConfig(cfg, c.configName, version, true)
	if err != nil {
		return fmt.Errorf("failed to persist configuration: %w", err)
	}
	if err := c.params.Replace(cfg); err != nil {
		return err
	}

	c.logger.Info().
		Int64("config_id", configID).
		Int("version", version).
		Msg("Strategy configuration updated")

	return nil
}

// nextTendNumber increments and returns the persistent tend counter.
func (c *CLVM) nextTendNumber() int {
	n, err := state.IncrementTendNumber()
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to increment tend number, using fallback")
		return int(time.Now().Unix() % 1000000)
	}
	return n
}

// activeConfigID retrieves the active strategy configuration row ID.
func (c *CLVM) activeConfigID() *int64 {
	id, err := state.GetActiveStrategyConfigID(c.configName)
	if err != nil {
		c.logger.Error().Err(err).Str("configName", c.configName).Msg("Failed to get active strategy config ID")
		return nil
	}
	return id
}

func (c *CLVM) setLastAction(action types.TendAction) {
	c.mu.Lock()
	c.lastAction = action
	c.mu.Unlock()
}

// persistOutcome writes the tend to the database. A nil report with a non-nil
// error produces a FAILED row carrying the error message.
func (c *CLVM) persistOutcome(tendLogger zerolog.Logger, tendID string, tendNumber int, configID *int64, start time.Time, report *types.TendReport, tendErr error) {
	var record state.TendRecord

	if tendErr == nil {
		built, err := state.BuildTendRecord(tendID, tendNumber, configID, report)
		if err != nil {
			tendLogger.Error().Err(err).Msg("Failed to build tend record")
			return
		}
		record = built
	} else {
		record = failedTendRecord(tendID, tendNumber, configID, start, tendErr)
	}

	snapshotID, err := state.SaveTendSnapshot(record)
	if err != nil {
		tendLogger.Error().Err(err).Msg("Failed to save tend snapshot")
		return
	}
	tendLogger.Info().
		Int64("snapshot_id", snapshotID).
		Str("action", record.Action).
		Msg("Tend snapshot saved")
}

func failedTendRecord(tendID string, tendNumber int, configID *int64, start time.Time, tendErr error) state.TendRecord {
	msg := tendErr.Error()
	return state.TendRecord{
		TendID:          tendID,
		TendNumber:      tendNumber,
		Timestamp:       start,
		ConfigID:        configID,
		Action:          actionFailed,
		SharesWithdrawn: "0",
		SharesMinted:    "0",
		TotalBefore:     "0",
		TotalAfter:      "0",
		DurationMS:      time.Since(start).Milliseconds(),
		ErrorMessage:    &msg,
	}
}

// publishStatus refreshes gauges and pushes the composed status to the cache.
func (c *CLVM) publishStatus(ctx context.Context, tendLogger zerolog.Logger) {
	status, err := c.Status(ctx)
	if err != nil {
		tendLogger.Error().Err(err).Msg("Failed to compose vault status")
		return
	}

	c.vaultMetrics.SetEstimatedTotal(status.EstimatedTotalF)
	c.vaultMetrics.SetIdleRatio(status.IdleRatio)
	c.vaultMetrics.SetPoolTick(status.Balances.Tick)
	if sharesF, err := sdkmath.LegacyNewDecFromInt(status.Balances.Shares).Float64(); err == nil {
		c.vaultMetrics.SetLPShares(sharesF)
	}

	if err := c.statusCache.Publish(ctx, status); err != nil {
		tendLogger.Warn().Err(err).Msg("Failed to publish status to cache")
	}
}
