package redisx

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// LowStock maintains a sorted set of products whose stock is at or below Threshold.
type LowStock struct {
	rdb       redis.Cmdable
	Threshold int
}

func NewLowStock(rdb redis.Cmdable, threshold int) *LowStock {
	return &LowStock{rdb: rdb, Threshold: threshold}
}

// Record updates membership for every id in ids. An id absent from stocks is
// a deleted product and leaves the set.
func (l *LowStock) Record(ctx context.Context, ids []int64, stocks map[int64]int) error {
	pipe := l.rdb.TxPipeline()
	for _, id := range ids {
		member := strconv.FormatInt(id, 10)
		stock, ok := stocks[id]
		if ok && stock <= l.Threshold {
			pipe.ZAdd(ctx, KeyLowStock, redis.Z{Score: float64(stock), Member: member})
			continue
		}
		pipe.ZRem(ctx, KeyLowStock, member)
	}
	_, err := pipe.Exec(ctx)
	return err
}

type LowStockEntry struct {
	ProductID int64 `json:"product_id"`
	Stock     int   `json:"stock"`
}

// List returns the lowest-stock products first.
func (l *LowStock) List(ctx context.Context, limit int64) ([]LowStockEntry, error) {
	zs, err := l.rdb.ZRangeWithScores(ctx, KeyLowStock, 0, limit-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]LowStockEntry, 0, len(zs))
	for _, z := range zs {
		id, err := strconv.ParseInt(z.Member.(string), 10, 64)
		if err != nil {
			continue
		}
		out = append(out, LowStockEntry{ProductID: id, Stock: int(z.Score)})
	}
	return out, nil
}
