package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/plp-labs/marketsync/internal/domain"
)

// defaultProjectionTTL bounds how long a hot-cache entry can outlive the
// projection it mirrors. The postgres store is always the fallback.
const defaultProjectionTTL = 5 * time.Minute

// MarketCache implements domain.MarketCache with JSON-serialized
// projections.
//
// Key schema:
//
//	market:{address} - JSON projection
//	markets:listing  - JSON array of active-market projections
type MarketCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewMarketCache creates a MarketCache backed by the given Client. A
// non-positive ttl falls back to the default.
func NewMarketCache(c *Client, ttl time.Duration) *MarketCache {
	if ttl <= 0 {
		ttl = defaultProjectionTTL
	}
	return &MarketCache{rdb: c.Underlying(), ttl: ttl}
}

func marketKey(addr domain.Address) string { return "market:" + addr.String() }

const listingKey = "markets:listing"

// Set stores a single projection.
func (mc *MarketCache) Set(ctx context.Context, p domain.MarketProjection) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("redis: marshal projection %s: %w", p.Address, err)
	}
	if err := mc.rdb.Set(ctx, marketKey(p.Address), data, mc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set projection %s: %w", p.Address, err)
	}
	return nil
}

// Get retrieves a projection by market address. It returns
// domain.ErrNotFound when the key does not exist.
func (mc *MarketCache) Get(ctx context.Context, addr domain.Address) (domain.MarketProjection, error) {
	data, err := mc.rdb.Get(ctx, marketKey(addr)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.MarketProjection{}, domain.ErrNotFound
		}
		return domain.MarketProjection{}, fmt.Errorf("redis: get projection %s: %w", addr, err)
	}

	var p domain.MarketProjection
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.MarketProjection{}, fmt.Errorf("redis: unmarshal projection %s: %w", addr, err)
	}
	return p, nil
}

// SetListing stores the active-market listing as one value.
func (mc *MarketCache) SetListing(ctx context.Context, ps []domain.MarketProjection) error {
	data, err := json.Marshal(ps)
	if err != nil {
		return fmt.Errorf("redis: marshal listing: %w", err)
	}
	if err := mc.rdb.Set(ctx, listingKey, data, mc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set listing: %w", err)
	}
	return nil
}

// GetListing retrieves the cached active-market listing.
func (mc *MarketCache) GetListing(ctx context.Context) ([]domain.MarketProjection, error) {
	data, err := mc.rdb.Get(ctx, listingKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("redis: get listing: %w", err)
	}

	var ps []domain.MarketProjection
	if err := json.Unmarshal(data, &ps); err != nil {
		return nil, fmt.Errorf("redis: unmarshal listing: %w", err)
	}
	return ps, nil
}

// Invalidate removes a projection and the listing that may contain it.
func (mc *MarketCache) Invalidate(ctx context.Context, addr domain.Address) error {
	if err := mc.rdb.Del(ctx, marketKey(addr), listingKey).Err(); err != nil {
		return fmt.Errorf("redis: invalidate projection %s: %w", addr, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.MarketCache = (*MarketCache)(nil)
