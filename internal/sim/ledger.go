/*

This file contains the in-memory token ledger backing the simulated pool, manager
and vault: balances, allowances and decimals for the two pool tokens.

*/

package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrUnknownToken          = errors.New("token is not registered on the ledger")
	ErrInsufficientBalance   = errors.New("insufficient token balance")
	ErrInsufficientAllowance = errors.New("insufficient token allowance")
	ErrInvalidAmount         = errors.New("amount must be a non-negative integer")
)

type allowanceKey struct {
	owner   common.Address
	spender common.Address
}

// Ledger is an in-memory ERC20-style book for any number of tokens. It backs
// every simulated component, so one transfer is visible to all of them at once.
type Ledger struct {
	mu         sync.Mutex
	decimals   map[common.Address]uint8
	balances   map[common.Address]map[common.Address]sdkmath.Int
	allowances map[common.Address]map[allowanceKey]sdkmath.Int
}

func NewLedger() *Ledger {
	return &Ledger{
		decimals:   make(map[common.Address]uint8),
		balances:   make(map[common.Address]map[common.Address]sdkmath.Int),
		allowances: make(map[common.Address]map[allowanceKey]sdkmath.Int),
	}
}

// RegisterToken makes the ledger aware of a token and its precision.
func (l *Ledger) RegisterToken(token common.Address, decimals uint8) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.decimals[token] = decimals
	if l.balances[token] == nil {
		l.balances[token] = make(map[common.Address]sdkmath.Int)
	}
	if l.allowances[token] == nil {
		l.allowances[token] = make(map[allowanceKey]sdkmath.Int)
	}
}

// Mint credits freshly created tokens to an account. Seeding helper.
func (l *Ledger) Mint(token, to common.Address, amount sdkmath.Int) error {
	if amount.IsNil() || amount.IsNegative() {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	book, ok := l.balances[token]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownToken, token.Hex())
	}
	book[to] = l.lockedBalance(token, to).Add(amount)
	return nil
}

func (l *Ledger) BalanceOf(_ context.Context, token, owner common.Address) (sdkmath.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.balances[token]; !ok {
		return sdkmath.Int{}, fmt.Errorf("%w: %s", ErrUnknownToken, token.Hex())
	}
	return l.lockedBalance(token, owner), nil
}

func (l *Ledger) Decimals(_ context.Context, token common.Address) (uint8, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	dec, ok := l.decimals[token]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownToken, token.Hex())
	}
	return dec, nil
}

func (l *Ledger) Transfer(_ context.Context, token, from, to common.Address, amount sdkmath.Int) error {
	if amount.IsNil() || amount.IsNegative() {
		return ErrInvalidAmount
	}
	if amount.IsZero() {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lockedTransfer(token, from, to, amount)
}

func (l *Ledger) Approve(_ context.Context, token, owner, spender common.Address, amount sdkmath.Int) error {
	if amount.IsNil() || amount.IsNegative() {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	grants, ok := l.allowances[token]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownToken, token.Hex())
	}
	grants[allowanceKey{owner: owner, spender: spender}] = amount
	return nil
}

// TransferFrom spends spender's allowance to move owner's tokens, the pull
// half of the approve/deposit flow.
func (l *Ledger) TransferFrom(_ context.Context, token, owner, spender, to common.Address, amount sdkmath.Int) error {
	if amount.IsNil() || amount.IsNegative() {
		return ErrInvalidAmount
	}
	if amount.IsZero() {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	grants, ok := l.allowances[token]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownToken, token.Hex())
	}
	key := allowanceKey{owner: owner, spender: spender}
	granted, ok := grants[key]
	if !ok || granted.LT(amount) {
		return fmt.Errorf("%w: token %s owner %s spender %s", ErrInsufficientAllowance, token.Hex(), owner.Hex(), spender.Hex())
	}
	if err := l.lockedTransfer(token, owner, to, amount); err != nil {
		return err
	}
	grants[key] = granted.Sub(amount)
	return nil
}

func (l *Ledger) lockedBalance(token, owner common.Address) sdkmath.Int {
	bal, ok := l.balances[token][owner]
	if !ok {
		return sdkmath.ZeroInt()
	}
	return bal
}

func (l *Ledger) lockedTransfer(token, from, to common.Address, amount sdkmath.Int) error {
	book, ok := l.balances[token]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownToken, token.Hex())
	}
	fromBal := l.lockedBalance(token, from)
	if fromBal.LT(amount) {
		return fmt.Errorf("%w: token %s account %s has %s, needs %s",
			ErrInsufficientBalance, token.Hex(), from.Hex(), fromBal, amount)
	}
	book[from] = fromBal.Sub(amount)
	book[to] = l.lockedBalance(token, to).Add(amount)
	return nil
}
