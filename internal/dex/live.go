/*
Read-only adapters over live contracts. Observe mode points the same engine
interfaces at a real pool and manager through eth_call; anything that would
move funds returns ErrLiveExecution instead of pretending.
*/
package dex

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/amphora-finance/clvm/internal/chain"
	"github.com/amphora-finance/clvm/internal/logger"
	"github.com/amphora-finance/clvm/internal/types"
)

var (
	// ErrLiveExecution marks operations that only the on-chain contracts may
	// perform. Observe mode never signs or sends anything.
	ErrLiveExecution = errors.New("execution is not available in observe mode")

	ErrCallFailed  = errors.New("contract call failed")
	ErrBadResponse = errors.New("contract returned unexpected data")
)

var dexLogger = logger.GetForComponent("dex_live")

const poolABIJSON = `[
  {"inputs":[],"name":"token0","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"token1","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"fee","outputs":[{"internalType":"uint24","name":"","type":"uint24"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"tickSpacing","outputs":[{"internalType":"int24","name":"","type":"int24"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"slot0","outputs":[
    {"internalType":"uint160","name":"sqrtPriceX96","type":"uint160"},
    {"internalType":"int24","name":"tick","type":"int24"},
    {"internalType":"uint16","name":"observationIndex","type":"uint16"},
    {"internalType":"uint16","name":"observationCardinality","type":"uint16"},
    {"internalType":"uint16","name":"observationCardinalityNext","type":"uint16"},
    {"internalType":"uint8","name":"feeProtocol","type":"uint8"},
    {"internalType":"bool","name":"unlocked","type":"bool"}
  ],"stateMutability":"view","type":"function"}
]`

const managerABIJSON = `[
  {"inputs":[],"name":"token0","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"token1","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"pool","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"internalType":"address","name":"account","type":"address"}],"name":"balanceOf","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"totalSupply","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"getTotalAmounts","outputs":[
    {"internalType":"uint256","name":"total0","type":"uint256"},
    {"internalType":"uint256","name":"total1","type":"uint256"}
  ],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"baseLower","outputs":[{"internalType":"int24","name":"","type":"int24"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"baseUpper","outputs":[{"internalType":"int24","name":"","type":"int24"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"limitLower","outputs":[{"internalType":"int24","name":"","type":"int24"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"limitUpper","outputs":[{"internalType":"int24","name":"","type":"int24"}],"stateMutability":"view","type":"function"}
]`

const erc20ABIJSON = `[
  {"inputs":[{"internalType":"address","name":"account","type":"address"}],"name":"balanceOf","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"symbol","outputs":[{"internalType":"string","name":"","type":"string"}],"stateMutability":"view","type":"function"}
]`

var (
	poolABI     abi.ABI
	poolABIOnce sync.Once
	poolABIErr  error

	managerABI     abi.ABI
	managerABIOnce sync.Once
	managerABIErr  error

	erc20ABI     abi.ABI
	erc20ABIOnce sync.Once
	erc20ABIErr  error
)

func getPoolABI() (abi.ABI, error) {
	poolABIOnce.Do(func() {
		poolABI, poolABIErr = abi.JSON(strings.NewReader(poolABIJSON))
	})
	return poolABI, poolABIErr
}

func getManagerABI() (abi.ABI, error) {
	managerABIOnce.Do(func() {
		managerABI, managerABIErr = abi.JSON(strings.NewReader(managerABIJSON))
	})
	return managerABI, managerABIErr
}

func getERC20ABI() (abi.ABI, error) {
	erc20ABIOnce.Do(func() {
		erc20ABI, erc20ABIErr = abi.JSON(strings.NewReader(erc20ABIJSON))
	})
	return erc20ABI, erc20ABIErr
}

// callMethod packs a view call, executes it at the latest block and unpacks
// the outputs.
func callMethod(ctx context.Context, client *chain.Client, target common.Address, parsed abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	resp, err := client.CallContract(ctx, ethereum.CallMsg{To: &target, Data: data}, nil)
	if err != nil {
		return nil, errors.Join(ErrCallFailed, fmt.Errorf("call %s on %s: %w", method, target.Hex(), err))
	}
	values, err := parsed.Unpack(method, resp)
	if err != nil {
		return nil, errors.Join(ErrBadResponse, fmt.Errorf("unpack %s: %w", method, err))
	}
	if len(values) == 0 {
		return nil, errors.Join(ErrBadResponse, fmt.Errorf("%s returned no values", method))
	}
	return values, nil
}

func asAddress(value interface{}) (common.Address, error) {
	switch v := value.(type) {
	case common.Address:
		return v, nil
	case *common.Address:
		return *v, nil
	default:
		return common.Address{}, errors.Join(ErrBadResponse, fmt.Errorf("expected address, got %T", value))
	}
}

func asBigInt(value interface{}) (*big.Int, error) {
	switch v := value.(type) {
	case *big.Int:
		if v == nil {
			return nil, errors.Join(ErrBadResponse, errors.New("nil big int"))
		}
		return new(big.Int).Set(v), nil
	case big.Int:
		return new(big.Int).Set(&v), nil
	default:
		return nil, errors.Join(ErrBadResponse, fmt.Errorf("expected big int, got %T", value))
	}
}

func asInt24(value interface{}) (int32, error) {
	raw, err := asBigInt(value)
	if err != nil {
		return 0, err
	}
	min := big.NewInt(-1 << 23)
	max := big.NewInt(1<<23 - 1)
	if raw.Cmp(min) < 0 || raw.Cmp(max) > 0 {
		return 0, errors.Join(ErrBadResponse, fmt.Errorf("int24 overflow: %s", raw))
	}
	return int32(raw.Int64()), nil
}

// LivePool reads a deployed pool. Immutable facts (tokens, fee, spacing) are
// fetched once at construction; Slot0 always hits the chain.
type LivePool struct {
	client      *chain.Client
	address     common.Address
	token0      common.Address
	token1      common.Address
	fee         uint32
	tickSpacing int32
}

var _ Pool = (*LivePool)(nil)

// NewLivePool loads the pool's immutable metadata and returns the adapter.
func NewLivePool(ctx context.Context, client *chain.Client, address common.Address) (*LivePool, error) {
	if client == nil {
		return nil, fmt.Errorf("chain client is required")
	}
	if address == (common.Address{}) {
		return nil, fmt.Errorf("pool address is required")
	}
	parsed, err := getPoolABI()
	if err != nil {
		return nil, fmt.Errorf("parse pool abi: %w", err)
	}

	pool := &LivePool{client: client, address: address}

	values, err := callMethod(ctx, client, address, parsed, "token0")
	if err != nil {
		return nil, err
	}
	if pool.token0, err = asAddress(values[0]); err != nil {
		return nil, fmt.Errorf("token0: %w", err)
	}

	values, err = callMethod(ctx, client, address, parsed, "token1")
	if err != nil {
		return nil, err
	}
	if pool.token1, err = asAddress(values[0]); err != nil {
		return nil, fmt.Errorf("token1: %w", err)
	}

	values, err = callMethod(ctx, client, address, parsed, "fee")
	if err != nil {
		return nil, err
	}
	feeInt, err := asBigInt(values[0])
	if err != nil {
		return nil, fmt.Errorf("fee: %w", err)
	}
	pool.fee = uint32(feeInt.Uint64())

	values, err = callMethod(ctx, client, address, parsed, "tickSpacing")
	if err != nil {
		return nil, err
	}
	if pool.tickSpacing, err = asInt24(values[0]); err != nil {
		return nil, fmt.Errorf("tick spacing: %w", err)
	}

	dexLogger.Info().
		Str("pool", address.Hex()).
		Str("token0", pool.token0.Hex()).
		Str("token1", pool.token1.Hex()).
		Uint32("fee", pool.fee).
		Int32("tick_spacing", pool.tickSpacing).
		Msg("Live pool loaded")

	return pool, nil
}

func (p *LivePool) Address() common.Address { return p.address }
func (p *LivePool) Token0() common.Address  { return p.token0 }
func (p *LivePool) Token1() common.Address  { return p.token1 }
func (p *LivePool) Fee() uint32             { return p.fee }
func (p *LivePool) TickSpacing() int32      { return p.tickSpacing }

func (p *LivePool) Slot0(ctx context.Context) (Slot0, error) {
	parsed, err := getPoolABI()
	if err != nil {
		return Slot0{}, fmt.Errorf("parse pool abi: %w", err)
	}
	values, err := callMethod(ctx, p.client, p.address, parsed, "slot0")
	if err != nil {
		return Slot0{}, err
	}
	if len(values) < 2 {
		return Slot0{}, errors.Join(ErrBadResponse, fmt.Errorf("slot0 returned %d values", len(values)))
	}
	sqrtPrice, err := asBigInt(values[0])
	if err != nil {
		return Slot0{}, fmt.Errorf("sqrtPriceX96: %w", err)
	}
	tick, err := asInt24(values[1])
	if err != nil {
		return Slot0{}, fmt.Errorf("tick: %w", err)
	}
	return Slot0{SqrtPriceX96: sdkmath.NewIntFromBigInt(sqrtPrice), Tick: tick}, nil
}

func (p *LivePool) Swap(_ context.Context, _ common.Address, _ bool, _ sdkmath.Int, _ sdkmath.Int, _ []byte, _ SwapPayer) (sdkmath.Int, sdkmath.Int, error) {
	return sdkmath.Int{}, sdkmath.Int{}, ErrLiveExecution
}

// LiveManager reads a deployed liquidity manager of the hypervisor shape:
// ERC20 shares over a base range and an optional limit range.
type LiveManager struct {
	client  *chain.Client
	address common.Address
	token0  common.Address
	token1  common.Address
	pool    common.Address
}

var _ LiquidityManager = (*LiveManager)(nil)

// NewLiveManager loads the manager's immutable metadata and returns the
// adapter.
func NewLiveManager(ctx context.Context, client *chain.Client, address common.Address) (*LiveManager, error) {
	if client == nil {
		return nil, fmt.Errorf("chain client is required")
	}
	if address == (common.Address{}) {
		return nil, fmt.Errorf("manager address is required")
	}
	parsed, err := getManagerABI()
	if err != nil {
		return nil, fmt.Errorf("parse manager abi: %w", err)
	}

	manager := &LiveManager{client: client, address: address}

	values, err := callMethod(ctx, client, address, parsed, "token0")
	if err != nil {
		return nil, err
	}
	if manager.token0, err = asAddress(values[0]); err != nil {
		return nil, fmt.Errorf("token0: %w", err)
	}

	values, err = callMethod(ctx, client, address, parsed, "token1")
	if err != nil {
		return nil, err
	}
	if manager.token1, err = asAddress(values[0]); err != nil {
		return nil, fmt.Errorf("token1: %w", err)
	}

	values, err = callMethod(ctx, client, address, parsed, "pool")
	if err != nil {
		return nil, err
	}
	if manager.pool, err = asAddress(values[0]); err != nil {
		return nil, fmt.Errorf("pool: %w", err)
	}

	dexLogger.Info().
		Str("manager", address.Hex()).
		Str("pool", manager.pool.Hex()).
		Msg("Live manager loaded")

	return manager, nil
}

func (m *LiveManager) Address() common.Address { return m.address }
func (m *LiveManager) Token0() common.Address  { return m.token0 }
func (m *LiveManager) Token1() common.Address  { return m.token1 }
func (m *LiveManager) Pool() common.Address    { return m.pool }

func (m *LiveManager) BalanceOf(ctx context.Context, owner common.Address) (sdkmath.Int, error) {
	parsed, err := getManagerABI()
	if err != nil {
		return sdkmath.Int{}, fmt.Errorf("parse manager abi: %w", err)
	}
	values, err := callMethod(ctx, m.client, m.address, parsed, "balanceOf", owner)
	if err != nil {
		return sdkmath.Int{}, err
	}
	raw, err := asBigInt(values[0])
	if err != nil {
		return sdkmath.Int{}, fmt.Errorf("balanceOf: %w", err)
	}
	return sdkmath.NewIntFromBigInt(raw), nil
}

func (m *LiveManager) TotalSupply(ctx context.Context) (sdkmath.Int, error) {
	parsed, err := getManagerABI()
	if err != nil {
		return sdkmath.Int{}, fmt.Errorf("parse manager abi: %w", err)
	}
	values, err := callMethod(ctx, m.client, m.address, parsed, "totalSupply")
	if err != nil {
		return sdkmath.Int{}, err
	}
	raw, err := asBigInt(values[0])
	if err != nil {
		return sdkmath.Int{}, fmt.Errorf("totalSupply: %w", err)
	}
	return sdkmath.NewIntFromBigInt(raw), nil
}

func (m *LiveManager) GetTotalAmounts(ctx context.Context) (sdkmath.Int, sdkmath.Int, error) {
	parsed, err := getManagerABI()
	if err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, fmt.Errorf("parse manager abi: %w", err)
	}
	values, err := callMethod(ctx, m.client, m.address, parsed, "getTotalAmounts")
	if err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, err
	}
	if len(values) < 2 {
		return sdkmath.Int{}, sdkmath.Int{}, errors.Join(ErrBadResponse, fmt.Errorf("getTotalAmounts returned %d values", len(values)))
	}
	total0, err := asBigInt(values[0])
	if err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, fmt.Errorf("total0: %w", err)
	}
	total1, err := asBigInt(values[1])
	if err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, fmt.Errorf("total1: %w", err)
	}
	return sdkmath.NewIntFromBigInt(total0), sdkmath.NewIntFromBigInt(total1), nil
}

// GetPositions reads the base and limit range bounds. On-chain managers do not
// expose deposit weights, so Weight is reported as zero; a limit range whose
// bounds coincide is omitted.
func (m *LiveManager) GetPositions(ctx context.Context) ([]types.PositionRange, error) {
	parsed, err := getManagerABI()
	if err != nil {
		return nil, fmt.Errorf("parse manager abi: %w", err)
	}

	readTick := func(method string) (int32, error) {
		values, err := callMethod(ctx, m.client, m.address, parsed, method)
		if err != nil {
			return 0, err
		}
		tick, err := asInt24(values[0])
		if err != nil {
			return 0, fmt.Errorf("%s: %w", method, err)
		}
		return tick, nil
	}

	baseLower, err := readTick("baseLower")
	if err != nil {
		return nil, err
	}
	baseUpper, err := readTick("baseUpper")
	if err != nil {
		return nil, err
	}
	limitLower, err := readTick("limitLower")
	if err != nil {
		return nil, err
	}
	limitUpper, err := readTick("limitUpper")
	if err != nil {
		return nil, err
	}

	positions := []types.PositionRange{{LowerTick: baseLower, UpperTick: baseUpper}}
	if limitLower != limitUpper {
		positions = append(positions, types.PositionRange{LowerTick: limitLower, UpperTick: limitUpper})
	}
	return positions, nil
}

func (m *LiveManager) Deposit(_ context.Context, _, _, _, _ sdkmath.Int, _ common.Address) (sdkmath.Int, sdkmath.Int, sdkmath.Int, error) {
	return sdkmath.Int{}, sdkmath.Int{}, sdkmath.Int{}, ErrLiveExecution
}

func (m *LiveManager) Withdraw(_ context.Context, _, _, _ sdkmath.Int, _ common.Address) (sdkmath.Int, sdkmath.Int, error) {
	return sdkmath.Int{}, sdkmath.Int{}, ErrLiveExecution
}

// LiveLedger reads ERC20 balances. Decimals are cached forever; they are
// immutable on every token worth pooling.
type LiveLedger struct {
	client *chain.Client

	mu       sync.RWMutex
	decimals map[common.Address]uint8
}

var _ TokenLedger = (*LiveLedger)(nil)

func NewLiveLedger(client *chain.Client) (*LiveLedger, error) {
	if client == nil {
		return nil, fmt.Errorf("chain client is required")
	}
	return &LiveLedger{
		client:   client,
		decimals: make(map[common.Address]uint8),
	}, nil
}

func (l *LiveLedger) BalanceOf(ctx context.Context, token, owner common.Address) (sdkmath.Int, error) {
	parsed, err := getERC20ABI()
	if err != nil {
		return sdkmath.Int{}, fmt.Errorf("parse erc20 abi: %w", err)
	}
	values, err := callMethod(ctx, l.client, token, parsed, "balanceOf", owner)
	if err != nil {
		return sdkmath.Int{}, err
	}
	raw, err := asBigInt(values[0])
	if err != nil {
		return sdkmath.Int{}, fmt.Errorf("balanceOf: %w", err)
	}
	return sdkmath.NewIntFromBigInt(raw), nil
}

func (l *LiveLedger) Decimals(ctx context.Context, token common.Address) (uint8, error) {
	l.mu.RLock()
	cached, ok := l.decimals[token]
	l.mu.RUnlock()
	if ok {
		return cached, nil
	}

	parsed, err := getERC20ABI()
	if err != nil {
		return 0, fmt.Errorf("parse erc20 abi: %w", err)
	}
	values, err := callMethod(ctx, l.client, token, parsed, "decimals")
	if err != nil {
		return 0, err
	}
	decimals, ok := values[0].(uint8)
	if !ok {
		raw, err := asBigInt(values[0])
		if err != nil {
			return 0, fmt.Errorf("decimals: %w", err)
		}
		decimals = uint8(raw.Uint64())
	}

	l.mu.Lock()
	l.decimals[token] = decimals
	l.mu.Unlock()
	return decimals, nil
}

// Symbol reads the token's symbol. Not part of TokenLedger; only the
// startup wiring needs it, to label the pair in status output.
func (l *LiveLedger) Symbol(ctx context.Context, token common.Address) (string, error) {
	parsed, err := getERC20ABI()
	if err != nil {
		return "", fmt.Errorf("parse erc20 abi: %w", err)
	}
	values, err := callMethod(ctx, l.client, token, parsed, "symbol")
	if err != nil {
		return "", err
	}
	symbol, ok := values[0].(string)
	if !ok {
		return "", fmt.Errorf("symbol: unexpected type %T", values[0])
	}
	return symbol, nil
}

func (l *LiveLedger) Transfer(_ context.Context, _, _, _ common.Address, _ sdkmath.Int) error {
	return ErrLiveExecution
}

func (l *LiveLedger) Approve(_ context.Context, _, _, _ common.Address, _ sdkmath.Int) error {
	return ErrLiveExecution
}
