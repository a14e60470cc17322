package redisx

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const idemPending = "pending"

// ErrIdemInFlight means another request holding the same key has not finished.
var ErrIdemInFlight = errors.New("request with this idempotency key is still in progress")

type Idempotency struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewIdempotency(rdb redis.Cmdable, ttl time.Duration) *Idempotency {
	if ttl <= 0 {
		ttl = TTLIdempotency
	}
	return &Idempotency{rdb: rdb, ttl: ttl}
}

// Begin claims key for userID. When the key already completed, the stored
// order id is returned with claimed=false.
func (i *Idempotency) Begin(ctx context.Context, userID int64, key string) (orderID int64, claimed bool, err error) {
	k := fmt.Sprintf(KeyIdemOrderCreate, userID, key)
	ok, err := i.rdb.SetNX(ctx, k, idemPending, i.ttl).Result()
	if err != nil {
		return 0, false, err
	}
	if ok {
		return 0, true, nil
	}

	v, err := i.rdb.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET
		return i.Begin(ctx, userID, key)
	}
	if err != nil {
		return 0, false, err
	}
	if v == idemPending {
		return 0, false, ErrIdemInFlight
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("idempotency key %q holds %q: %w", key, v, err)
	}
	return id, false, nil
}

func (i *Idempotency) Complete(ctx context.Context, userID int64, key string, orderID int64) error {
	return i.rdb.Set(ctx, fmt.Sprintf(KeyIdemOrderCreate, userID, key), orderID, i.ttl).Err()
}

// Abort releases a claimed key so the client may retry after a failure.
func (i *Idempotency) Abort(ctx context.Context, userID int64, key string) error {
	return i.rdb.Del(ctx, fmt.Sprintf(KeyIdemOrderCreate, userID, key)).Err()
}
