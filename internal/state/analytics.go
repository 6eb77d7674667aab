// ./internal/state/analytics.go
package state

import (
	"database/sql"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// VaultSummary represents high-level vault statistics for the dashboard.
type VaultSummary struct {
	TotalAsset  string `json:"total_asset"` // Latest estimated total, raw asset units.
	TendCount   int    `json:"tend_count"`
	LastAction  string `json:"last_action"`
	LastUpdated string `json:"last_updated"`
}

// PerformanceMetrics represents aggregated tend history.
type PerformanceMetrics struct {
	NetChange      string  `json:"net_change"` // Latest total minus the first recorded total.
	FirstTotal     string  `json:"first_total"`
	LatestTotal    string  `json:"latest_total"`
	TotalTends     int     `json:"total_tends"`
	DeployTends    int     `json:"deploy_tends"`
	FreeTends      int     `json:"free_tends"`
	RecomposeTends int     `json:"recompose_tends"`
	EmergencyTends int     `json:"emergency_tends"`
	IdleTends      int     `json:"idle_tends"` // NONE and THROTTLED outcomes.
	FailedTends    int     `json:"failed_tends"`
	AvgDurationMS  float64 `json:"avg_duration_ms"`
}

const tendSelectColumns = `
	snapshot_id, tend_id, tend_number, snapshot_timestamp, config_id, action,
	before_state, after_state, swap_detail,
	shares_withdrawn, shares_minted, total_before, total_after, duration_ms,
	tx_hashes, error_message`

// GetRecentTends retrieves recent tend records, newest first.
func GetRecentTends(limit int) ([]TendRecord, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	if limit <= 0 || limit > 100 {
		limit = 10 // Default limit
	}

	query := `
		SELECT ` + tendSelectColumns + `
		FROM tend_snapshots
		ORDER BY snapshot_timestamp DESC
		LIMIT $1
	`

	rows, err := DB.Query(query, limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to query recent tends")
		return nil, fmt.Errorf("failed to query recent tends: %w", err)
	}
	defer rows.Close()

	var records []TendRecord
	for rows.Next() {
		record, err := scanTendRecord(rows)
		if err != nil {
			log.Error().Err(err).Msg("Failed to scan tend row")
			continue // Skip this row and continue with others
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		log.Error().Err(err).Msg("Error occurred during row iteration")
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	log.Debug().Int("count", len(records)).Int("limit", limit).Msg("Retrieved recent tends")
	return records, nil
}

// GetTendByID retrieves a specific tend record by its snapshot ID.
func GetTendByID(snapshotID int64) (*TendRecord, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := `
		SELECT ` + tendSelectColumns + `
		FROM tend_snapshots
		WHERE snapshot_id = $1
	`

	record, err := scanTendRecord(DB.QueryRow(query, snapshotID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("tend with ID %d not found", snapshotID)
		}
		log.Error().Err(err).Int64("snapshot_id", snapshotID).Msg("Failed to query tend by ID")
		return nil, fmt.Errorf("failed to query tend by ID: %w", err)
	}

	return &record, nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTendRecord(row rowScanner) (TendRecord, error) {
	var record TendRecord
	var before, after, swap []byte

	err := row.Scan(
		&record.SnapshotID, &record.TendID, &record.TendNumber, &record.Timestamp, &record.ConfigID, &record.Action,
		&before, &after, &swap,
		&record.SharesWithdrawn, &record.SharesMinted, &record.TotalBefore, &record.TotalAfter, &record.DurationMS,
		pq.Array(&record.TxHashes), &record.ErrorMessage,
	)
	if err != nil {
		return TendRecord{}, err
	}

	record.Before = before
	record.After = after
	record.Swap = swap
	return record, nil
}

// GetVaultSummary retrieves high-level vault statistics.
func GetVaultSummary() (*VaultSummary, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	summary := &VaultSummary{TotalAsset: "0"}

	query := `
		SELECT total_after, action, snapshot_timestamp
		FROM tend_snapshots
		ORDER BY snapshot_timestamp DESC
		LIMIT 1
	`

	var lastUpdated sql.NullString
	err := DB.QueryRow(query).Scan(&summary.TotalAsset, &summary.LastAction, &lastUpdated)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to get latest tend values: %w", err)
	}

	if lastUpdated.Valid {
		summary.LastUpdated = lastUpdated.String
	}

	err = DB.QueryRow("SELECT COUNT(*) FROM tend_snapshots").Scan(&summary.TendCount)
	if err != nil {
		log.Error().Err(err).Msg("Failed to get total tend count")
	}

	log.Debug().Str("totalAsset", summary.TotalAsset).Int("tendCount", summary.TendCount).Msg("Retrieved vault summary")
	return summary, nil
}

// GetPerformanceMetrics retrieves aggregated tend metrics. The net change is
// computed in Go from the exact NUMERIC strings rather than casting to floats
// in SQL.
func GetPerformanceMetrics() (*PerformanceMetrics, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	metrics := &PerformanceMetrics{NetChange: "0", FirstTotal: "0", LatestTotal: "0"}

	query := `
		SELECT
			COUNT(*) as total_tends,
			COUNT(CASE WHEN action = 'DEPLOY' THEN 1 END) as deploy_tends,
			COUNT(CASE WHEN action = 'FREE' THEN 1 END) as free_tends,
			COUNT(CASE WHEN action = 'RECOMPOSE' THEN 1 END) as recompose_tends,
			COUNT(CASE WHEN action = 'EMERGENCY' THEN 1 END) as emergency_tends,
			COUNT(CASE WHEN action IN ('NONE', 'THROTTLED') THEN 1 END) as idle_tends,
			COUNT(CASE WHEN action = 'FAILED' THEN 1 END) as failed_tends,
			COALESCE(AVG(duration_ms), 0) as avg_duration_ms
		FROM tend_snapshots
	`

	err := DB.QueryRow(query).Scan(
		&metrics.TotalTends,
		&metrics.DeployTends,
		&metrics.FreeTends,
		&metrics.RecomposeTends,
		&metrics.EmergencyTends,
		&metrics.IdleTends,
		&metrics.FailedTends,
		&metrics.AvgDurationMS,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get performance metrics: %w", err)
	}

	if metrics.TotalTends > 0 {
		err = DB.QueryRow(`SELECT total_before FROM tend_snapshots ORDER BY snapshot_timestamp ASC LIMIT 1`).Scan(&metrics.FirstTotal)
		if err != nil && err != sql.ErrNoRows {
			return nil, fmt.Errorf("failed to get first recorded total: %w", err)
		}
		err = DB.QueryRow(`SELECT total_after FROM tend_snapshots ORDER BY snapshot_timestamp DESC LIMIT 1`).Scan(&metrics.LatestTotal)
		if err != nil && err != sql.ErrNoRows {
			return nil, fmt.Errorf("failed to get latest recorded total: %w", err)
		}

		first, okFirst := sdkmath.NewIntFromString(metrics.FirstTotal)
		latest, okLatest := sdkmath.NewIntFromString(metrics.LatestTotal)
		if okFirst && okLatest {
			metrics.NetChange = latest.Sub(first).String()
		}
	}

	log.Debug().
		Str("netChange", metrics.NetChange).
		Int("totalTends", metrics.TotalTends).
		Msg("Retrieved performance metrics")

	return metrics, nil
}
