// Package memstore is an in-process orders.Store. A transaction works on a
// private copy of the data that replaces the shared copy on commit, so a
// failed transaction leaves nothing behind.
package memstore

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/domain"
	"github.com/ariefcatur/go-storefront-orders/internal/inventory"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
)

var errReadOnly = errors.New("memstore: write in read-only transaction")

type orderRow struct {
	id         int64
	userID     int64
	status     domain.Status
	totalCents int64
	orderedAt  time.Time
	updatedAt  time.Time
}

type itemRow struct {
	id             int64
	orderID        int64
	productID      int64
	quantity       int
	unitPriceCents int64
	options        *string
}

type state struct {
	products map[int64]domain.Product
	orders   map[int64]orderRow
	items    map[int64]itemRow
	seq      struct{ product, order, item int64 }
}

func (s *state) clone() *state {
	c := &state{
		products: make(map[int64]domain.Product, len(s.products)),
		orders:   maps.Clone(s.orders),
		items:    maps.Clone(s.items),
		seq:      s.seq,
	}
	for id, p := range s.products {
		c.products[id] = copyProduct(p)
	}
	return c
}

type Store struct {
	mu  sync.RWMutex
	st  *state
	now func() time.Time

	// FailOn, when set, is consulted before every write; a non-nil result
	// aborts the write with that error.
	FailOn func(op string) error
}

func New() *Store {
	return &Store{
		st: &state{
			products: map[int64]domain.Product{},
			orders:   map[int64]orderRow{},
			items:    map[int64]itemRow{},
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source used for order timestamps.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) InTx(ctx context.Context, fn func(orders.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(&tx{s: s, st: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.st = work
	return nil
}

func (s *Store) View(ctx context.Context, fn func(orders.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&tx{s: s, st: s.st, readOnly: true})
}

// CreateProduct stores p and assigns its id.
func (s *Store) CreateProduct(_ context.Context, p *domain.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.Stock < 0 || p.PriceCents < 0 {
		return fmt.Errorf("memstore: product %q has negative stock or price", p.Name)
	}
	s.st.seq.product++
	p.ID = s.st.seq.product
	now := s.now()
	p.CreatedAt, p.UpdatedAt = now, now
	s.st.products[p.ID] = copyProduct(*p)
	return nil
}

// DeleteProduct removes a product; order items keep pointing at its id.
func (s *Store) DeleteProduct(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.st.products, id)
	return nil
}

func (s *Store) Product(_ context.Context, id int64) (*domain.Product, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.st.products[id]
	if !ok {
		return nil, false
	}
	cp := copyProduct(p)
	return &cp, true
}

// Stocks returns the current stock of each existing product in ids.
func (s *Store) Stocks(_ context.Context, ids []int64) (map[int64]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int64]int, len(ids))
	for _, id := range ids {
		if p, ok := s.st.products[id]; ok {
			out[id] = p.Stock
		}
	}
	return out, nil
}

type tx struct {
	s        *Store
	st       *state
	readOnly bool
}

func (t *tx) write(op string) error {
	if t.readOnly {
		return errReadOnly
	}
	if t.s.FailOn != nil {
		return t.s.FailOn(op)
	}
	return nil
}

func (t *tx) LockProduct(_ context.Context, id int64) (*domain.Product, error) {
	p, ok := t.st.products[id]
	if !ok {
		return nil, nil
	}
	cp := copyProduct(p)
	return &cp, nil
}

func (t *tx) AdjustStock(_ context.Context, id int64, delta int) (int, error) {
	if err := t.write("adjust_stock"); err != nil {
		return 0, err
	}
	p, ok := t.st.products[id]
	if !ok {
		return 0, inventory.ErrProductGone
	}
	if p.Stock+delta < 0 {
		return p.Stock, inventory.ErrStockUnderflow
	}
	p.Stock += delta
	p.UpdatedAt = t.s.now()
	t.st.products[id] = p
	return p.Stock, nil
}

func (t *tx) InsertOrder(_ context.Context, o *domain.Order) error {
	if err := t.write("insert_order"); err != nil {
		return err
	}
	t.st.seq.order++
	now := t.s.now()
	o.ID, o.OrderedAt, o.UpdatedAt = t.st.seq.order, now, now
	t.st.orders[o.ID] = orderRow{
		id:         o.ID,
		userID:     o.UserID,
		status:     o.Status,
		totalCents: o.TotalCents,
		orderedAt:  now,
		updatedAt:  now,
	}
	return nil
}

func (t *tx) InsertItem(_ context.Context, it *domain.OrderItem) error {
	if err := t.write("insert_item"); err != nil {
		return err
	}
	if _, ok := t.st.orders[it.OrderID]; !ok {
		return fmt.Errorf("memstore: order %d does not exist", it.OrderID)
	}
	raw, err := orders.EncodeOptions(it.Options)
	if err != nil {
		return err
	}
	t.st.seq.item++
	it.ID = t.st.seq.item
	t.st.items[it.ID] = itemRow{
		id:             it.ID,
		orderID:        it.OrderID,
		productID:      it.ProductID,
		quantity:       it.Quantity,
		unitPriceCents: it.UnitPriceCents,
		options:        raw,
	}
	return nil
}

func (t *tx) GetOrder(_ context.Context, id int64, _ bool) (*domain.Order, error) {
	row, ok := t.st.orders[id]
	if !ok {
		return nil, nil
	}
	return t.load(row)
}

func (t *tx) load(row orderRow) (*domain.Order, error) {
	o := &domain.Order{
		ID:         row.id,
		UserID:     row.userID,
		Status:     row.status,
		TotalCents: row.totalCents,
		OrderedAt:  row.orderedAt,
		UpdatedAt:  row.updatedAt,
		Items:      []domain.OrderItem{},
	}
	for _, itemID := range slices.Sorted(maps.Keys(t.st.items)) {
		ir := t.st.items[itemID]
		if ir.orderID != row.id {
			continue
		}
		opts, err := orders.DecodeOptions(ir.options)
		if err != nil {
			return nil, fmt.Errorf("order item %d: %w", ir.id, err)
		}
		it := domain.OrderItem{
			ID:             ir.id,
			OrderID:        ir.orderID,
			ProductID:      ir.productID,
			Quantity:       ir.quantity,
			UnitPriceCents: ir.unitPriceCents,
			Options:        opts,
		}
		if p, ok := t.st.products[ir.productID]; ok {
			it.Product = p.Ref()
		}
		o.Items = append(o.Items, it)
	}
	return o, nil
}

func (t *tx) ListOrders(_ context.Context, q domain.ListQuery) ([]domain.Order, int, error) {
	var rows []orderRow
	for _, r := range t.st.orders {
		if q.Status != "" && r.status != q.Status {
			continue
		}
		if q.UserID != 0 && r.userID != q.UserID {
			continue
		}
		rows = append(rows, r)
	}
	slices.SortFunc(rows, func(a, b orderRow) int {
		c := compareBy(q.SortField, a, b)
		if c == 0 {
			c = cmp.Compare(a.id, b.id)
		}
		if q.Desc {
			return -c
		}
		return c
	})

	total := len(rows)
	if !q.All {
		lo := min(q.Offset, total)
		hi := lo + min(q.Limit, total-lo)
		rows = rows[lo:hi]
	}

	out := make([]domain.Order, 0, len(rows))
	for _, r := range rows {
		o, err := t.load(r)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *o)
	}
	return out, total, nil
}

func compareBy(field string, a, b orderRow) int {
	switch field {
	case "updated_at":
		return a.updatedAt.Compare(b.updatedAt)
	case "total_cents":
		return cmp.Compare(a.totalCents, b.totalCents)
	case "status":
		return cmp.Compare(a.status, b.status)
	case "user_id":
		return cmp.Compare(a.userID, b.userID)
	case "id":
		return cmp.Compare(a.id, b.id)
	default:
		return a.orderedAt.Compare(b.orderedAt)
	}
}

func (t *tx) UpdateOrderStatus(_ context.Context, id int64, status domain.Status) (time.Time, error) {
	if err := t.write("update_status"); err != nil {
		return time.Time{}, err
	}
	row, ok := t.st.orders[id]
	if !ok {
		return time.Time{}, fmt.Errorf("memstore: order %d does not exist", id)
	}
	row.status = status
	row.updatedAt = t.s.now()
	t.st.orders[id] = row
	return row.updatedAt, nil
}

func (t *tx) DeleteOrderItems(_ context.Context, orderID int64) (int64, error) {
	if err := t.write("delete_items"); err != nil {
		return 0, err
	}
	var n int64
	for id, it := range t.st.items {
		if it.orderID == orderID {
			delete(t.st.items, id)
			n++
		}
	}
	return n, nil
}

func (t *tx) DeleteOrder(_ context.Context, id int64) error {
	if err := t.write("delete_order"); err != nil {
		return err
	}
	for _, it := range t.st.items {
		if it.orderID == id {
			return fmt.Errorf("memstore: order %d still has items", id)
		}
	}
	delete(t.st.orders, id)
	return nil
}

func copyProduct(p domain.Product) domain.Product {
	p.Options = slices.Clone(p.Options)
	for i := range p.Options {
		p.Options[i].Values = slices.Clone(p.Options[i].Values)
	}
	return p
}
