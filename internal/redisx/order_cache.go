package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/ariefcatur/go-storefront-orders/internal/domain"
)

// setIfGeneration writes the entry only when no invalidation happened since
// the loader read the generation.
var setIfGeneration = redis.NewScript(`
local gen = redis.call('GET', KEYS[2]) or '0'
if gen ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

// OrderCache is a read-through cache of full orders. Redis failures degrade to
// the loader; they never fail a read.
type OrderCache struct {
	rdb redis.Cmdable
	ttl time.Duration
	sf  singleflight.Group
	log *slog.Logger
}

func NewOrderCache(rdb redis.Cmdable, ttl time.Duration, log *slog.Logger) *OrderCache {
	if ttl <= 0 {
		ttl = TTLOrderCache
	}
	if log == nil {
		log = slog.Default()
	}
	return &OrderCache{rdb: rdb, ttl: ttl, log: log}
}

func (c *OrderCache) Get(ctx context.Context, id int64, load func(context.Context) (*domain.Order, error)) (*domain.Order, error) {
	key := fmt.Sprintf(KeyOrder, id)

	b, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var o domain.Order
		if err := json.Unmarshal(b, &o); err == nil {
			return &o, nil
		}
		c.log.WarnContext(ctx, "corrupt order cache entry", "order_id", id)
	case !errors.Is(err, redis.Nil):
		c.log.WarnContext(ctx, "order cache read failed", "order_id", id, "err", err)
	}

	v, err, _ := c.sf.Do(key, func() (any, error) {
		genKey := fmt.Sprintf(KeyOrderGen, id)
		gen, gerr := c.rdb.Get(ctx, genKey).Result()
		switch {
		case errors.Is(gerr, redis.Nil):
			gen = "0"
		case gerr != nil:
			// without the generation a write could resurrect stale data
			c.log.WarnContext(ctx, "order cache generation read failed", "order_id", id, "err", gerr)
			gen = ""
		}

		o, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if gen == "" {
			return o, nil
		}
		if b, err := json.Marshal(o); err == nil {
			err := setIfGeneration.Run(ctx, c.rdb, []string{key, genKey}, gen, b, c.ttl.Milliseconds()).Err()
			if err != nil {
				c.log.WarnContext(ctx, "order cache write failed", "order_id", id, "err", err)
			}
		}
		return o, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Order), nil
}

// Invalidate drops the entry and bumps its generation so a load that started
// before the write cannot store its snapshot afterwards.
func (c *OrderCache) Invalidate(ctx context.Context, id int64) {
	genKey := fmt.Sprintf(KeyOrderGen, id)
	pipe := c.rdb.TxPipeline()
	pipe.Incr(ctx, genKey)
	pipe.Expire(ctx, genKey, TTLOrderGen)
	pipe.Del(ctx, fmt.Sprintf(KeyOrder, id))
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.WarnContext(ctx, "order cache invalidate failed", "order_id", id, "err", err)
	}
}
