package redisx

import "time"

const (
	// Idempotency create order: idem:order:create:{user_id}:{key} -> order_id
	KeyIdemOrderCreate = "idem:order:create:%d:%s"

	// Cache order lengkap: order:{order_id} -> JSON order
	KeyOrder = "order:%d"

	// Generation counter, bumped on every invalidation: order:{order_id}:gen
	KeyOrderGen = "order:%d:gen"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"

	// Sorted set product_id -> stock for products at or below the threshold
	KeyLowStock = "stock:low"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLOrderCache  = 5 * time.Minute
	TTLOrderGen    = 24 * time.Hour
	TTLDedup       = 48 * time.Hour
)
