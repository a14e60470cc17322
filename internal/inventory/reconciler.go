package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/ariefcatur/go-storefront-orders/internal/domain"
)

var (
	// ErrProductGone is returned by AdjustStock when the product row does not exist.
	ErrProductGone = errors.New("inventory: product does not exist")
	// ErrStockUnderflow is returned by AdjustStock when the delta would make stock negative.
	ErrStockUnderflow = errors.New("inventory: stock would go negative")
)

// ProductTx is the slice of a unit of work the reconciler needs.
//
// LockProduct returns (nil, nil) when the product does not exist. AdjustStock
// must apply the delta atomically in storage (stock = stock + delta) and refuse
// to go below zero; it returns the resulting stock.
type ProductTx interface {
	LockProduct(ctx context.Context, id int64) (*domain.Product, error)
	AdjustStock(ctx context.Context, id int64, delta int) (int, error)
}

type Reconciler struct {
	Logger *slog.Logger
}

// RestoreReport lists what Restore put back and which products were missing.
type RestoreReport struct {
	Restored map[int64]int
	Missing  []int64
}

func (r RestoreReport) Units() int {
	n := 0
	for _, q := range r.Restored {
		n += q
	}
	return n
}

// CheckAndReserve locks every referenced product (ascending id), validates each
// line in request order and only then decrements stock. A failing line leaves
// all stock untouched.
func (r *Reconciler) CheckAndReserve(ctx context.Context, tx ProductTx, items []domain.ItemInput) (map[int64]*domain.Product, error) {
	demand, ids := aggregate(items)

	products := make(map[int64]*domain.Product, len(ids))
	for _, id := range ids {
		p, err := tx.LockProduct(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("lock product %d: %w", id, err)
		}
		if p != nil {
			products[id] = p
		}
	}

	for _, it := range items {
		p, ok := products[it.ProductID]
		if !ok {
			return nil, domain.NotFoundf("product %d not found", it.ProductID)
		}
		if err := ValidateOptions(p, it.Options); err != nil {
			return nil, err
		}
		if p.Stock < demand[p.ID] {
			return nil, &domain.InsufficientStockError{
				ProductID:   p.ID,
				ProductName: p.Name,
				Requested:   demand[p.ID],
				Available:   p.Stock,
			}
		}
	}

	for _, id := range ids {
		p := products[id]
		left, err := tx.AdjustStock(ctx, id, -demand[id])
		switch {
		case errors.Is(err, ErrStockUnderflow):
			return nil, &domain.InsufficientStockError{
				ProductID: id, ProductName: p.Name, Requested: demand[id], Available: p.Stock,
			}
		case errors.Is(err, ErrProductGone):
			return nil, domain.NotFoundf("product %d not found", id)
		case err != nil:
			return nil, fmt.Errorf("decrement stock of product %d: %w", id, err)
		}
		p.Stock = left
	}
	return products, nil
}

// Restore increments stock for every item. A product that no longer exists is
// skipped and reported instead of aborting the restoration.
func (r *Reconciler) Restore(ctx context.Context, tx ProductTx, items []domain.OrderItem) (RestoreReport, error) {
	lines := make([]domain.ItemInput, 0, len(items))
	for _, it := range items {
		lines = append(lines, domain.ItemInput{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	qty, ids := aggregate(lines)

	report := RestoreReport{Restored: make(map[int64]int, len(ids))}
	for _, id := range ids {
		_, err := tx.AdjustStock(ctx, id, qty[id])
		if errors.Is(err, ErrProductGone) {
			r.logger().WarnContext(ctx, "stock restore skipped, product missing",
				"product_id", id, "quantity", qty[id])
			report.Missing = append(report.Missing, id)
			continue
		}
		if err != nil {
			return report, fmt.Errorf("restore stock of product %d: %w", id, err)
		}
		report.Restored[id] = qty[id]
	}
	return report, nil
}

// ValidateOptions checks every selected option against the product's declared catalog.
func ValidateOptions(p *domain.Product, selected map[string]string) error {
	titles := make([]string, 0, len(selected))
	for title := range selected {
		titles = append(titles, title)
	}
	slices.Sort(titles)

	for _, title := range titles {
		value := selected[title]
		opt, ok := p.Option(title)
		if !ok {
			return domain.Validationf("product %d (%s) has no option %q", p.ID, p.Name, title)
		}
		if !opt.Allows(value) {
			return domain.Validationf("product %d (%s): value %q is not allowed for option %q",
				p.ID, p.Name, value, title)
		}
	}
	return nil
}

// aggregate sums quantities per product and returns the ids in ascending order,
// which is also the lock order.
func aggregate(items []domain.ItemInput) (map[int64]int, []int64) {
	sum := make(map[int64]int, len(items))
	for _, it := range items {
		sum[it.ProductID] += it.Quantity
	}
	ids := make([]int64, 0, len(sum))
	for id := range sum {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return sum, ids
}

func (r *Reconciler) logger() *slog.Logger {
	if r == nil || r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}
