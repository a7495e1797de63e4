// Package cache keeps read-through copies of team carts in Redis.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/teamcart/internal/domain/teamcart"
	"github.com/xenking/teamcart/internal/service"
)

// ErrCacheMiss is returned when a cart is not cached.
var ErrCacheMiss = errors.New("cache miss")

// DefaultTTL is the base lifetime of a cached cart.
const DefaultTTL = 15 * time.Minute

// generationTTL bounds how long an invalidation counter outlives the last
// write to its cart.
const generationTTL = 24 * time.Hour

// setIfGeneration stores the snapshot only while the cart's invalidation
// counter still equals the leased value.
var setIfGeneration = redis.NewScript(`
local gen = redis.call('GET', KEYS[2]) or '0'
if gen ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

// Carts caches cart snapshots. Entries live for the base TTL plus up to
// five minutes of jitter so hot carts do not expire together.
//
// Every Delete bumps a per-cart generation counter. A reader leases the
// generation before loading the cart and Set is dropped when a Delete landed
// in between, so a snapshot read before a commit never replaces the
// invalidation that followed it.
type Carts struct {
	client  redis.Cmdable
	baseTTL time.Duration
}

var _ service.CartCache = (*Carts)(nil)

// NewCarts creates a cart cache. ttl <= 0 selects DefaultTTL.
func NewCarts(client redis.Cmdable, ttl time.Duration) *Carts {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Carts{client: client, baseTTL: ttl}
}

func (c *Carts) Get(ctx context.Context, id teamcart.CartID) (*teamcart.Snapshot, error) {
	data, err := c.client.Get(ctx, cacheKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var s teamcart.Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal cart failed: %w", err)
	}
	return &s, nil
}

// Lease returns the current generation of the cart, to be passed to Set.
func (c *Carts) Lease(ctx context.Context, id teamcart.CartID) (int64, error) {
	gen, err := c.client.Get(ctx, generationKey(id)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis lease failed: %w", err)
	}
	return gen, nil
}

// Set caches s unless the cart was invalidated after lease was taken.
func (c *Carts) Set(ctx context.Context, s *teamcart.Snapshot, lease int64) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal cart failed: %w", err)
	}

	jitter := time.Duration(rand.IntN(5)) * time.Minute
	ttl := c.baseTTL + jitter
	err = setIfGeneration.Run(ctx, c.client,
		[]string{cacheKey(s.ID), generationKey(s.ID)},
		strconv.FormatInt(lease, 10), data, ttl.Milliseconds(),
	).Err()
	if err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Delete drops the cached cart and invalidates outstanding leases.
func (c *Carts) Delete(ctx context.Context, id teamcart.CartID) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, generationKey(id))
		pipe.Expire(ctx, generationKey(id), generationTTL)
		pipe.Del(ctx, cacheKey(id))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

// Keys share a hash tag so the script touches a single cluster slot.
func cacheKey(id teamcart.CartID) string {
	return "teamcart:{" + string(id) + "}"
}

func generationKey(id teamcart.CartID) string {
	return "teamcart:{" + string(id) + "}:gen"
}
