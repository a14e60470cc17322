package orders

import (
	"context"
	"encoding/json"
	"maps"
	"slices"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/domain"
)

const (
	EventOrderCreated       = "OrderCreated"
	EventOrderStatusChanged = "OrderStatusChanged"
	EventOrderDeleted       = "OrderDeleted"
)

// EventSink receives lifecycle events after the owning transaction committed.
type EventSink interface {
	Emit(ctx context.Context, eventType string, orderID int64, payload any) error
}

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

type ItemQty struct {
	ProductID int64 `json:"product_id"`
	Qty       int   `json:"qty"`
}

type OrderCreatedPayload struct {
	OrderID    int64     `json:"order_id"`
	UserID     int64     `json:"user_id"`
	Items      []ItemQty `json:"items"`
	TotalCents int64     `json:"total_cents"`
}

type OrderStatusChangedPayload struct {
	OrderID  int64         `json:"order_id"`
	From     domain.Status `json:"from"`
	To       domain.Status `json:"to"`
	Restored []ItemQty     `json:"restored,omitempty"`
}

type OrderDeletedPayload struct {
	OrderID  int64     `json:"order_id"`
	UserID   int64     `json:"user_id"`
	Restored []ItemQty `json:"restored,omitempty"`
}

// ProductIDs lists the products an event touched.
func (p OrderCreatedPayload) ProductIDs() []int64       { return productIDs(p.Items) }
func (p OrderStatusChangedPayload) ProductIDs() []int64 { return productIDs(p.Restored) }
func (p OrderDeletedPayload) ProductIDs() []int64       { return productIDs(p.Restored) }

func productIDs(items []ItemQty) []int64 {
	out := make([]int64, 0, len(items))
	for _, it := range items {
		out = append(out, it.ProductID)
	}
	return out
}

func itemQtys(items []domain.OrderItem) []ItemQty {
	out := make([]ItemQty, 0, len(items))
	for _, it := range items {
		out = append(out, ItemQty{ProductID: it.ProductID, Qty: it.Quantity})
	}
	return out
}

func restoredQtys(restored map[int64]int) []ItemQty {
	out := make([]ItemQty, 0, len(restored))
	for _, id := range slices.Sorted(maps.Keys(restored)) {
		out = append(out, ItemQty{ProductID: id, Qty: restored[id]})
	}
	return out
}
