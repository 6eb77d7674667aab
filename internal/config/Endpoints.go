package config

import (
	"os"

	"github.com/rs/zerolog/log"
)

// Endpoint configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// EthRPCURL is the JSON-RPC endpoint for the target EVM network.
	// Required in observe mode, ignored in sim mode.
	EthRPCURL string

	// RedisAddr is the address of the status cache. The cache stays
	// disabled while it is empty.
	RedisAddr string
	// RedisPassword is the optional password for the status cache.
	RedisPassword string
	// RedisDB is the Redis logical database number.
	RedisDB int64
)

// loadEndpointConfig loads endpoint configuration from environment variables.
// This function is called by LoadConfig() in General.go.
func loadEndpointConfig() error {
	log.Info().Msg("Loading endpoint configuration from environment variables...")

	var err error

	if Mode == "observe" {
		EthRPCURL, err = getEnv("ETH_RPC_URL")
		if err != nil {
			return err
		}
	} else {
		EthRPCURL = os.Getenv("ETH_RPC_URL")
	}

	RedisAddr = os.Getenv("REDIS_ADDR")
	RedisPassword = os.Getenv("REDIS_PASSWORD")
	RedisDB, err = getEnvAsInt64OrDefault("REDIS_DB", 0)
	if err != nil {
		return err
	}

	log.Debug().
		Str("EthRPCURL", EthRPCURL).
		Str("RedisAddr", RedisAddr).
		Msg("Endpoint configuration loaded successfully.")

	return nil
}
