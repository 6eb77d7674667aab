/*

This file manages the persistent tend counter. Numbering lives in the database
so that restarts continue the sequence instead of starting a second one.

*/

package state

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"
)

// ensureTendCounterTable creates the tend_counter table if it doesn't exist
func ensureTendCounterTable() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	createTableSQL := `
		CREATE TABLE IF NOT EXISTS tend_counter (
			id INTEGER PRIMARY KEY DEFAULT 1,
			current_tend INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT single_row_check CHECK (id = 1)
		);

		-- Insert initial row if it doesn't exist
		INSERT INTO tend_counter (id, current_tend)
		VALUES (1, 0)
		ON CONFLICT (id) DO NOTHING;
	`

	_, err := DB.Exec(createTableSQL)
	if err != nil {
		return fmt.Errorf("failed to create tend_counter table: %w", err)
	}

	log.Debug().Msg("Ensured tend_counter table exists")
	return nil
}

// GetCurrentTendNumber retrieves the current tend number from the database
func GetCurrentTendNumber() (int, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	if err := ensureTendCounterTable(); err != nil {
		return 0, err
	}

	query := `SELECT current_tend FROM tend_counter WHERE id = 1;`

	var currentTend int
	row := DB.QueryRow(query)
	err := row.Scan(&currentTend)

	if err != nil {
		if err == sql.ErrNoRows {
			// Should not happen due to the INSERT in ensureTendCounterTable
			log.Warn().Msg("No tend counter row found, initializing to 0")
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get current tend number: %w", err)
	}

	log.Debug().Int("currentTend", currentTend).Msg("Retrieved current tend number")
	return currentTend, nil
}

// IncrementTendNumber increments the tend counter and returns the new value
func IncrementTendNumber() (int, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	if err := ensureTendCounterTable(); err != nil {
		return 0, err
	}

	updateQuery := `
		UPDATE tend_counter
		SET current_tend = current_tend + 1,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = 1
		RETURNING current_tend;`

	var newTend int
	row := DB.QueryRow(updateQuery)
	err := row.Scan(&newTend)

	if err != nil {
		return 0, fmt.Errorf("failed to increment tend number: %w", err)
	}

	log.Info().Int("newTend", newTend).Msg("Incremented tend counter")
	return newTend, nil
}

// ResetTendNumber resets the tend counter to a specific value (for testing/maintenance)
func ResetTendNumber(tendNumber int) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	if err := ensureTendCounterTable(); err != nil {
		return err
	}

	if tendNumber < 0 {
		return fmt.Errorf("tend number cannot be negative: %d", tendNumber)
	}

	updateQuery := `
		UPDATE tend_counter
		SET current_tend = $1,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = 1;`

	result, err := DB.Exec(updateQuery, tendNumber)
	if err != nil {
		return fmt.Errorf("failed to reset tend number to %d: %w", tendNumber, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("no rows updated when resetting tend number")
	}

	log.Warn().Int("tendNumber", tendNumber).Msg("Reset tend counter")
	return nil
}
