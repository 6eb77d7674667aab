// ./internal/state/config_store.go
package state

import (
	"database/sql"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog/log"

	"github.com/amphora-finance/clvm/internal/types"
)

// SaveStrategyConfig saves a new version of the strategy configuration. When
// makeActive is set, any previously active row for the config name is
// deactivated in the same transaction.
func SaveStrategyConfig(cfg types.StrategyConfig, configName string, version int, makeActive bool) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}
	if err := cfg.Validate(); err != nil {
		return 0, fmt.Errorf("refusing to persist invalid config: %w", err)
	}

	tx, err := DB.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p) // Re-panic after rollback
		} else if err != nil {
			tx.Rollback() // Rollback if error occurred
		}
	}()

	if makeActive {
		stmtDeactivate := `UPDATE strategy_configs SET is_active = FALSE WHERE config_name = $1 AND is_active = TRUE;`
		_, err = tx.Exec(stmtDeactivate, configName)
		if err != nil {
			return 0, fmt.Errorf("failed to deactivate existing active config for %s: %w", configName, err)
		}
	}

	stmt := `
        INSERT INTO strategy_configs (
            version, config_name, is_active, activated_at, created_at,
            target_idle_bps, target_idle_buffer_bps,
            min_asset, max_swap_value,
            min_tend_wait_seconds, paired_token_discount_bps, deposit_limit
        ) VALUES (
            $1, $2, $3, $4, $5,
            $6, $7,
            $8, $9,
            $10, $11, $12
        ) RETURNING config_id;`

	var configID int64
	currentTime := time.Now()
	err = tx.QueryRow(
		stmt,
		version, configName, makeActive, currentTime, currentTime,
		cfg.TargetIdleBps, cfg.TargetIdleBufferBps,
		cfg.MinAsset.String(), cfg.MaxSwapValue.String(),
		cfg.MinTendWaitSeconds, cfg.PairedTokenDiscountBps, cfg.DepositLimit.String(),
	).Scan(&configID)

	if err != nil {
		return 0, fmt.Errorf("failed to insert strategy config: %w", err)
	}

	err = tx.Commit()
	if err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	log.Info().
		Int("version", version).
		Str("config", configName).
		Int64("config_id", configID).
		Bool("active", makeActive).
		Msg("Saved strategy config")
	return configID, nil
}

// LoadActiveStrategyConfig loads the currently active strategy configuration.
func LoadActiveStrategyConfig(configName string) (*types.StrategyConfig, error) {
	query := `
        SELECT
            target_idle_bps, target_idle_buffer_bps,
            min_asset, max_swap_value,
            min_tend_wait_seconds, paired_token_discount_bps, deposit_limit
        FROM strategy_configs
        WHERE config_name = $1 AND is_active = TRUE
        ORDER BY activated_at DESC
        LIMIT 1;`

	cfg, err := scanStrategyConfig(configName, query)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("no active strategy config found for '%s'", configName)
		}
		return nil, err
	}
	log.Info().Str("config", configName).Msg("Loaded active strategy config")
	return cfg, nil
}

// LoadLatestStrategyConfig loads the most recently activated configuration for
// a config name regardless of its active flag.
func LoadLatestStrategyConfig(configName string) (*types.StrategyConfig, error) {
	query := `
        SELECT
            target_idle_bps, target_idle_buffer_bps,
            min_asset, max_swap_value,
            min_tend_wait_seconds, paired_token_discount_bps, deposit_limit
        FROM strategy_configs
        WHERE config_name = $1
        ORDER BY activated_at DESC, created_at DESC
        LIMIT 1;`

	cfg, err := scanStrategyConfig(configName, query)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("no strategy config found for '%s'", configName)
		}
		return nil, err
	}
	log.Info().Str("config", configName).Msg("Loaded latest strategy config")
	return cfg, nil
}

func scanStrategyConfig(configName, query string) (*types.StrategyConfig, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	cfg := &types.StrategyConfig{}
	var minAssetStr, maxSwapStr, depositLimitStr string

	row := DB.QueryRow(query, configName)
	err := row.Scan(
		&cfg.TargetIdleBps, &cfg.TargetIdleBufferBps,
		&minAssetStr, &maxSwapStr,
		&cfg.MinTendWaitSeconds, &cfg.PairedTokenDiscountBps, &depositLimitStr,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan strategy config for '%s': %w", configName, err)
	}

	if cfg.MinAsset, err = parseStoredInt("min_asset", minAssetStr); err != nil {
		return nil, err
	}
	if cfg.MaxSwapValue, err = parseStoredInt("max_swap_value", maxSwapStr); err != nil {
		return nil, err
	}
	if cfg.DepositLimit, err = parseStoredInt("deposit_limit", depositLimitStr); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("stored config for '%s' is invalid: %w", configName, err)
	}
	return cfg, nil
}

func parseStoredInt(column, value string) (sdkmath.Int, error) {
	parsed, ok := sdkmath.NewIntFromString(value)
	if !ok {
		return sdkmath.Int{}, fmt.Errorf("column %s holds unparseable amount %q", column, value)
	}
	return parsed, nil
}

// GetActiveStrategyConfigID returns the config_id of the currently active
// strategy configuration, or nil when none has been activated yet.
func GetActiveStrategyConfigID(configName string) (*int64, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := `
        SELECT config_id
        FROM strategy_configs
        WHERE config_name = $1 AND is_active = TRUE
        ORDER BY activated_at DESC
        LIMIT 1;`

	var configID int64
	row := DB.QueryRow(query, configName)
	err := row.Scan(&configID)

	if err != nil {
		if err == sql.ErrNoRows {
			// No active config yet - valid on a fresh install
			log.Debug().Str("config", configName).Msg("No active strategy config found")
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get active strategy config ID for '%s': %w", configName, err)
	}

	log.Debug().
		Str("config", configName).
		Int64("config_id", configID).
		Msg("Retrieved active strategy config ID")

	return &configID, nil
}

// NextStrategyConfigVersion returns one past the highest stored version for
// the named configuration. On a fresh install this is 1.
func NextStrategyConfigVersion(configName string) (int, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	var next int
	query := `SELECT COALESCE(MAX(version), 0) + 1 FROM strategy_configs WHERE config_name = $1;`
	if err := DB.QueryRow(query, configName).Scan(&next); err != nil {
		return 0, fmt.Errorf("failed to determine next config version for '%s': %w", configName, err)
	}
	return next, nil
}
