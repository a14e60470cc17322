package orders

import (
	"context"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/domain"
	"github.com/ariefcatur/go-storefront-orders/internal/inventory"
)

// Store is the persistence collaborator. InTx runs fn in one atomic unit of
// work: when fn returns an error nothing it did is visible afterwards. fn may
// be re-run when the backend aborts the transaction for a retryable reason.
type Store interface {
	InTx(ctx context.Context, fn func(Tx) error) error
	View(ctx context.Context, fn func(Tx) error) error
}

// Tx is the unit-of-work view of products, orders and order items.
// Lookups return (nil, nil) when the row does not exist.
type Tx interface {
	inventory.ProductTx

	InsertOrder(ctx context.Context, o *domain.Order) error
	InsertItem(ctx context.Context, it *domain.OrderItem) error
	GetOrder(ctx context.Context, id int64, forUpdate bool) (*domain.Order, error)
	ListOrders(ctx context.Context, q domain.ListQuery) ([]domain.Order, int, error)
	UpdateOrderStatus(ctx context.Context, id int64, status domain.Status) (time.Time, error)
	DeleteOrderItems(ctx context.Context, orderID int64) (int64, error)
	DeleteOrder(ctx context.Context, id int64) error
}
