// ./internal/state/tend_store.go
package state

import (
	"encoding/json"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/lib/pq" // PostgreSQL driver for array support
	"github.com/rs/zerolog/log"

	"github.com/amphora-finance/clvm/internal/types"
)

// TendRecord is the persisted form of one tend. The before/after/swap states
// are stored whole as JSONB; the headline numbers are copied into flat columns
// so the analytics queries never have to crack the JSON open.
type TendRecord struct {
	SnapshotID int64     `json:"snapshot_id"`
	TendID     string    `json:"tend_id"`
	TendNumber int       `json:"tend_number"`
	Timestamp  time.Time `json:"timestamp"`
	ConfigID   *int64    `json:"config_id,omitempty"`
	Action     string    `json:"action"`

	Before json.RawMessage `json:"before,omitempty"`
	After  json.RawMessage `json:"after,omitempty"`
	Swap   json.RawMessage `json:"swap,omitempty"`

	SharesWithdrawn string `json:"shares_withdrawn"`
	SharesMinted    string `json:"shares_minted"`
	TotalBefore     string `json:"total_before"`
	TotalAfter      string `json:"total_after"`
	DurationMS      int64  `json:"duration_ms"`

	TxHashes     []string `json:"tx_hashes,omitempty"`
	ErrorMessage *string  `json:"error,omitempty"`
}

// BuildTendRecord flattens a tend report into its storable form.
func BuildTendRecord(tendID string, tendNumber int, configID *int64, report *types.TendReport) (TendRecord, error) {
	if report == nil {
		return TendRecord{}, fmt.Errorf("tend report is nil")
	}

	beforeJSON, err := json.Marshal(report.Before)
	if err != nil {
		return TendRecord{}, fmt.Errorf("failed to marshal before state: %w", err)
	}
	afterJSON, err := json.Marshal(report.After)
	if err != nil {
		return TendRecord{}, fmt.Errorf("failed to marshal after state: %w", err)
	}

	record := TendRecord{
		TendID:          tendID,
		TendNumber:      tendNumber,
		Timestamp:       time.Now(),
		ConfigID:        configID,
		Action:          string(report.Action),
		Before:          beforeJSON,
		After:           afterJSON,
		SharesWithdrawn: numericString(report.SharesWithdrawn),
		SharesMinted:    numericString(report.SharesMinted),
		TotalBefore:     numericString(report.Before.EstimatedTotal),
		TotalAfter:      numericString(report.After.EstimatedTotal),
		DurationMS:      report.Duration.Milliseconds(),
	}

	if report.Swap != nil {
		swapJSON, err := json.Marshal(report.Swap)
		if err != nil {
			return TendRecord{}, fmt.Errorf("failed to marshal swap detail: %w", err)
		}
		record.Swap = swapJSON
	}

	return record, nil
}

// numericString renders an amount for a NUMERIC column. Throttled tends skip
// measurement and leave their snapshot amounts nil; those store as zero.
func numericString(x sdkmath.Int) string {
	if x.IsNil() {
		return "0"
	}
	return x.String()
}

// SaveTendSnapshot saves a complete tend record to the database.
func SaveTendSnapshot(record TendRecord) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}
	if record.TendID == "" {
		return 0, fmt.Errorf("tend ID is required")
	}

	query := `
		INSERT INTO tend_snapshots (
			tend_id, tend_number, snapshot_timestamp, config_id, action,
			before_state, after_state, swap_detail,
			shares_withdrawn, shares_minted, total_before, total_after, duration_ms,
			tx_hashes, error_message
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING snapshot_id;
	`

	var snapshotID int64
	err := DB.QueryRow(
		query,
		record.TendID, record.TendNumber, record.Timestamp, record.ConfigID, record.Action,
		nullableJSON(record.Before), nullableJSON(record.After), nullableJSON(record.Swap),
		record.SharesWithdrawn, record.SharesMinted, record.TotalBefore, record.TotalAfter, record.DurationMS,
		pq.Array(record.TxHashes), record.ErrorMessage,
	).Scan(&snapshotID)

	if err != nil {
		return 0, fmt.Errorf("failed to save tend snapshot: %w", err)
	}

	log.Info().
		Int64("snapshot_id", snapshotID).
		Str("tend_id", record.TendID).
		Int("tend_number", record.TendNumber).
		Str("action", record.Action).
		Str("total_after", record.TotalAfter).
		Msg("Tend snapshot saved to database")

	return snapshotID, nil
}

// nullableJSON maps empty JSON payloads to NULL instead of an empty string,
// which JSONB columns reject.
func nullableJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
