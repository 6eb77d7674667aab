/*
Package chain wraps the go-ethereum RPC client with the handful of calls the
daemon needs in observe mode: chain identity, head tracking and eth_call reads.
All contract decoding lives in the dex package; this client stays dumb.
*/
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/amphora-finance/clvm/internal/logger"
)

var (
	ErrInvalidEndpoint = errors.New("rpc endpoint is invalid")
	ErrDialFailed      = errors.New("rpc dial failed")
)

var chainLogger = logger.GetForComponent("chain_client")

// Client wraps a single RPC connection and caches immutable chain facts.
type Client struct {
	rpcClient *rpc.Client
	ethClient *ethclient.Client

	mu      sync.RWMutex
	chainID *big.Int
	tsCache map[uint64]uint64
}

// NewClient dials the RPC endpoint and verifies it answers a ChainID request
// before handing the client back.
func NewClient(ctx context.Context, rpcURL string) (*Client, error) {
	if rpcURL == "" {
		return nil, ErrInvalidEndpoint
	}

	rpcClient, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, errors.Join(ErrDialFailed, err)
	}

	client := &Client{
		rpcClient: rpcClient,
		ethClient: ethclient.NewClient(rpcClient),
		tsCache:   make(map[uint64]uint64),
	}

	chainID, err := client.ethClient.ChainID(ctx)
	if err != nil {
		rpcClient.Close()
		return nil, errors.Join(ErrDialFailed, fmt.Errorf("chain id probe: %w", err))
	}
	client.chainID = chainID

	chainLogger.Info().
		Str("endpoint", rpcURL).
		Str("chain_id", chainID.String()).
		Msg("Connected to RPC endpoint")

	return client, nil
}

// Close closes the underlying RPC connection.
func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

// ChainID returns the chain ID probed at dial time.
func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

// LatestBlockNumber returns the current head height.
func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	return c.ethClient.BlockNumber(ctx)
}

// BlockTimestamp returns a block's timestamp, caching past lookups since
// historical timestamps never change.
func (c *Client) BlockTimestamp(ctx context.Context, number uint64) (uint64, error) {
	c.mu.RLock()
	ts, ok := c.tsCache[number]
	c.mu.RUnlock()
	if ok {
		return ts, nil
	}

	header, err := c.ethClient.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return 0, err
	}

	ts = header.Time
	c.mu.Lock()
	c.tsCache[number] = ts
	c.mu.Unlock()

	return ts, nil
}

// CallContract performs an eth_call at the latest block when blockNumber is
// nil.
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return c.ethClient.CallContract(ctx, msg, blockNumber)
}
