package config

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
)

// Contract addresses loaded from environment variables, observe mode only.
// These are populated at startup by the LoadConfig function.
var (
	// PoolAddress is the concentrated-liquidity pool the vault trades
	// against.
	PoolAddress common.Address
	// ManagerAddress is the LP manager whose shares the vault holds.
	ManagerAddress common.Address
	// VaultAddress is the account whose balances the strategy manages.
	VaultAddress common.Address
	// AssetAddress identifies which of the pool's two tokens is the vault
	// asset; the other one is treated as the paired token.
	AssetAddress common.Address
)

// loadAddressConfig loads contract addresses from environment variables.
// This function is called by LoadConfig() in General.go when observe mode
// is selected.
func loadAddressConfig() error {
	log.Info().Msg("Loading contract address configuration from environment variables...")

	var err error

	PoolAddress, err = getEnvAsAddress("POOL_ADDRESS")
	if err != nil {
		return err
	}

	ManagerAddress, err = getEnvAsAddress("MANAGER_ADDRESS")
	if err != nil {
		return err
	}

	VaultAddress, err = getEnvAsAddress("VAULT_ADDRESS")
	if err != nil {
		return err
	}

	AssetAddress, err = getEnvAsAddress("ASSET_ADDRESS")
	if err != nil {
		return err
	}

	log.Debug().
		Str("PoolAddress", PoolAddress.Hex()).
		Str("ManagerAddress", ManagerAddress.Hex()).
		Str("VaultAddress", VaultAddress.Hex()).
		Str("AssetAddress", AssetAddress.Hex()).
		Msg("Contract address configuration loaded successfully.")

	return nil
}

// getEnvAsAddress retrieves an environment variable as an EVM address.
// Returns error if not set or not a valid hex address.
func getEnvAsAddress(key string) (common.Address, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return common.Address{}, err
	}
	if !common.IsHexAddress(valueStr) {
		return common.Address{}, errors.New("environment variable " + key + " must be a valid hex address, got: " + valueStr)
	}
	return common.HexToAddress(valueStr), nil
}
