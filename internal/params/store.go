/*

This file contains the live strategy-parameter store. The web API retunes it while
the daemon runs; the engine reads a fresh snapshot at the top of every tend.

*/

package params

import (
	"errors"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/amphora-finance/clvm/internal/types"
)

var (
	ErrInvalidParameter = errors.New("invalid strategy parameter")
)

// Store guards one StrategyConfig behind a lock. All setters validate before
// mutating, so the held config is valid at all times.
type Store struct {
	mu  sync.RWMutex
	cfg types.StrategyConfig
}

// NewStore validates the initial configuration and wraps it.
func NewStore(cfg types.StrategyConfig) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Join(ErrInvalidParameter, err)
	}
	return &Store{cfg: cfg}, nil
}

// Snapshot returns a copy of the current configuration.
func (s *Store) Snapshot() types.StrategyConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Replace swaps the whole configuration in one step, used when loading a
// persisted version.
func (s *Store) Replace(cfg types.StrategyConfig) error {
	if err := cfg.Validate(); err != nil {
		return errors.Join(ErrInvalidParameter, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	return nil
}

// MinTendWait returns the tend throttle as a duration.
func (s *Store) MinTendWait() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Duration(s.cfg.MinTendWaitSeconds) * time.Second
}

func (s *Store) SetTargetIdleBps(v uint64) error {
	if v > types.MaxBps {
		return fmt.Errorf("%w: target_idle_bps %d exceeds %d", ErrInvalidParameter, v, types.MaxBps)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.TargetIdleBps = v
	return nil
}

func (s *Store) SetTargetIdleBufferBps(v uint64) error {
	if v > types.MaxBps {
		return fmt.Errorf("%w: target_idle_buffer_bps %d exceeds %d", ErrInvalidParameter, v, types.MaxBps)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.TargetIdleBufferBps = v
	return nil
}

func (s *Store) SetPairedTokenDiscountBps(v uint64) error {
	if v > types.MaxBps {
		return fmt.Errorf("%w: paired_token_discount_bps %d exceeds %d", ErrInvalidParameter, v, types.MaxBps)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.PairedTokenDiscountBps = v
	return nil
}

func (s *Store) SetMinAsset(v sdkmath.Int) error {
	if v.IsNil() || v.IsNegative() {
		return fmt.Errorf("%w: min_asset must be non-negative", ErrInvalidParameter)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.MinAsset = v
	return nil
}

func (s *Store) SetMaxSwapValue(v sdkmath.Int) error {
	if v.IsNil() || v.IsNegative() {
		return fmt.Errorf("%w: max_swap_value must be non-negative", ErrInvalidParameter)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.MaxSwapValue = v
	return nil
}

func (s *Store) SetDepositLimit(v sdkmath.Int) error {
	if v.IsNil() || v.IsNegative() {
		return fmt.Errorf("%w: deposit_limit must be non-negative", ErrInvalidParameter)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.DepositLimit = v
	return nil
}

func (s *Store) SetMinTendWaitSeconds(v uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.MinTendWaitSeconds = v
	return nil
}
