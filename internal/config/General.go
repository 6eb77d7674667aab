package config

import (
	"errors"
	"os"
	"strconv"

	"github.com/rs/zerolog/log"
)

// General application configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// Mode selects how the vault is wired: "sim" runs entirely against an
	// in-memory market, "observe" reads live chain state but refuses to
	// execute anything.
	Mode string

	// LoopIntervalSeconds is the pause between tend cycles.
	LoopIntervalSeconds uint64

	// WebPort is the port the status and management API listens on.
	WebPort uint64

	// ManagementToken guards the mutating web endpoints. Mutation stays
	// disabled while it is empty.
	ManagementToken string
)

// LoadConfig loads all application configuration from environment variables
// and populates the package-level config vars. Sim mode boots with no
// environment at all; observe mode additionally requires the chain endpoint
// and contract addresses.
func LoadConfig() error {
	log.Info().Msg("Loading application configuration from environment variables...")

	var err error

	Mode = getEnvOrDefault("CLVM_MODE", "sim")
	if Mode != "sim" && Mode != "observe" {
		return errors.New("CLVM_MODE must be either 'sim' or 'observe', got: " + Mode)
	}

	LoopIntervalSeconds, err = getEnvAsUint64OrDefault("LOOP_INTERVAL_SECONDS", 600)
	if err != nil {
		return err
	}

	WebPort, err = getEnvAsUint64OrDefault("WEB_PORT", 8080)
	if err != nil {
		return err
	}
	if WebPort == 0 || WebPort > 65535 {
		return errors.New("WEB_PORT must be between 1 and 65535")
	}

	ManagementToken = os.Getenv("MGMT_TOKEN")

	if err := loadEndpointConfig(); err != nil {
		return err
	}

	if Mode == "observe" {
		if err := loadAddressConfig(); err != nil {
			return err
		}
	} else {
		if err := loadSimConfig(); err != nil {
			return err
		}
	}

	log.Debug().
		Str("Mode", Mode).
		Uint64("LoopIntervalSeconds", LoopIntervalSeconds).
		Uint64("WebPort", WebPort).
		Bool("ManagementEnabled", ManagementToken != "").
		Msg("Configuration loaded successfully.")

	return nil
}

// getEnv retrieves a string environment variable. Returns error if not set.
func getEnv(key string) (string, error) {
	if value, exists := os.LookupEnv(key); exists {
		return value, nil
	}
	return "", errors.New("environment variable " + key + " is required but not set")
}

// getEnvOrDefault retrieves a string environment variable, falling back to
// the provided default when unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// getEnvAsUint64OrDefault retrieves an environment variable as a uint64,
// falling back to the provided default when unset. A value that is set but
// unparsable is an error rather than a silent fallback.
func getEnvAsUint64OrDefault(key string, fallback uint64) (uint64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return fallback, nil
	}
	value, err := strconv.ParseUint(valueStr, 10, 64)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid uint64, got: " + valueStr)
	}
	return value, nil
}

// getEnvAsInt64OrDefault retrieves an environment variable as an int64,
// falling back to the provided default when unset.
func getEnvAsInt64OrDefault(key string, fallback int64) (int64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return fallback, nil
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid int64, got: " + valueStr)
	}
	return value, nil
}

// getEnvAsFloat64OrDefault retrieves an environment variable as a float64,
// falling back to the provided default when unset.
func getEnvAsFloat64OrDefault(key string, fallback float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return fallback, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid float64, got: " + valueStr)
	}
	return value, nil
}
