package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/amphora-finance/clvm/internal/types"
)

// statusTTL bounds how long a published status survives without a refresh.
// A missing key therefore means the vault loop has stopped publishing.
const statusTTL = 5 * time.Minute

const statusKey = "clvm:status"

// StatusCache stores the latest VaultStatus as a JSON blob under a single
// key. A nil *StatusCache is valid and turns every operation into a no-op,
// so callers do not need to branch on whether Redis is configured.
type StatusCache struct {
	rdb *redis.Client
}

// NewStatusCache creates a StatusCache backed by the given Client.
func NewStatusCache(c *Client) *StatusCache {
	return &StatusCache{rdb: c.rdb}
}

// Publish stores the status snapshot, replacing any previous one.
func (sc *StatusCache) Publish(ctx context.Context, status types.VaultStatus) error {
	if sc == nil {
		return nil
	}

	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("cache: marshal status: %w", err)
	}
	if err := sc.rdb.Set(ctx, statusKey, data, statusTTL).Err(); err != nil {
		return fmt.Errorf("cache: publish status: %w", err)
	}
	return nil
}

// Latest retrieves the most recently published status. It returns ErrNotFound
// when nothing has been published or the entry expired, and on a nil receiver.
func (sc *StatusCache) Latest(ctx context.Context) (types.VaultStatus, error) {
	if sc == nil {
		return types.VaultStatus{}, ErrNotFound
	}

	data, err := sc.rdb.Get(ctx, statusKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return types.VaultStatus{}, ErrNotFound
		}
		return types.VaultStatus{}, fmt.Errorf("cache: get status: %w", err)
	}

	var status types.VaultStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return types.VaultStatus{}, fmt.Errorf("cache: unmarshal status: %w", err)
	}
	return status, nil
}

// Healthy reports whether the cache connection is usable. A nil receiver
// reports false, because there is nothing to check.
func (sc *StatusCache) Healthy(ctx context.Context) bool {
	if sc == nil {
		return false
	}
	return sc.rdb.Ping(ctx).Err() == nil
}
