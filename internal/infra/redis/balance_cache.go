package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/playforge/walletd/internal/wallet"
	"github.com/playforge/walletd/pkg/logger"
)

const (
	// DefaultTTL bounds staleness of the balance read model. Writes
	// invalidate eagerly; the TTL only covers missed invalidations.
	DefaultTTL = 30 * time.Second

	// KeyPrefix is the prefix for balance cache keys.
	KeyPrefix = "balance:"
)

// BalanceCache is a Redis-backed read cache for the balance endpoint. It
// implements wallet.BalanceCache. Correctness never depends on it: the store
// is the source of truth and every transfer invalidates the touched wallets.
type BalanceCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *logger.Logger
}

// NewBalanceCache creates a balance cache with the default TTL.
func NewBalanceCache(client *redis.Client, log *logger.Logger) *BalanceCache {
	return NewBalanceCacheWithTTL(client, DefaultTTL, log)
}

// NewBalanceCacheWithTTL creates a balance cache with a custom TTL.
func NewBalanceCacheWithTTL(client *redis.Client, ttl time.Duration, log *logger.Logger) *BalanceCache {
	return &BalanceCache{
		client: client,
		ttl:    ttl,
		logger: log.WithField("component", "balance_cache"),
	}
}

func cacheKey(userID, assetCode string) string {
	return fmt.Sprintf("%s%s:%s", KeyPrefix, userID, wallet.NormalizeAssetCode(assetCode))
}

// Get retrieves a cached balance read model.
func (c *BalanceCache) Get(ctx context.Context, userID, assetCode string) (*wallet.BalanceInfo, bool, error) {
	key := cacheKey(userID, assetCode)

	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		c.logger.Debug("cache miss", "user_id", userID, "asset", assetCode)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get cached balance: %w", err)
	}

	var info wallet.BalanceInfo
	if err := json.Unmarshal([]byte(val), &info); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal cached balance: %w", err)
	}
	return &info, true, nil
}

// Set stores a balance read model with the cache TTL.
func (c *BalanceCache) Set(ctx context.Context, userID, assetCode string, info *wallet.BalanceInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal balance: %w", err)
	}
	if err := c.client.Set(ctx, cacheKey(userID, assetCode), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache balance: %w", err)
	}
	return nil
}

// Ping checks connectivity to the Redis server.
func (c *BalanceCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Invalidate drops the cached balance for a wallet.
func (c *BalanceCache) Invalidate(ctx context.Context, userID, assetCode string) error {
	if err := c.client.Del(ctx, cacheKey(userID, assetCode)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate cached balance: %w", err)
	}
	return nil
}
