/*

This is a custom type for the two pool tokens with the state needed for valuation and swap sizing.

*/

package types

import "github.com/ethereum/go-ethereum/common"

type TokenInfo struct {
	Address  common.Address `json:"address"`  // e.g., 0xA0b8...eB48
	Symbol   string         `json:"symbol"`   // e.g., "USDC"
	Decimals uint8          `json:"decimals"` // e.g., 6
	IsToken0 bool           `json:"is_token0"` // Whether this token sorts first in the pool's pair ordering
}
