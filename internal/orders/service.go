package orders

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/domain"
	"github.com/ariefcatur/go-storefront-orders/internal/inventory"
)

// Recorder observes completed lifecycle operations. kind is empty on success.
type Recorder interface {
	ObserveOp(op string, kind domain.Kind, elapsed time.Duration)
	StockMoved(direction string, units int)
}

type Service struct {
	store    Store
	statuses domain.StatusSet
	rec      *inventory.Reconciler
	events   EventSink
	metrics  Recorder
	log      *slog.Logger
}

type Option func(*Service)

func WithEvents(sink EventSink) Option { return func(s *Service) { s.events = sink } }

func WithRecorder(r Recorder) Option { return func(s *Service) { s.metrics = r } }

func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.log = l } }

func NewService(store Store, statuses domain.StatusSet, opts ...Option) *Service {
	s := &Service{store: store, statuses: statuses, log: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	s.rec = &inventory.Reconciler{Logger: s.log}
	return s
}

// CreateOrder reserves stock and persists a pending order in one transaction.
func (s *Service) CreateOrder(ctx context.Context, userID int64, items []domain.ItemInput) (_ *domain.Order, err error) {
	defer s.observe("create", time.Now(), &err)

	if userID <= 0 {
		return nil, domain.Validationf("user id must be a positive integer")
	}
	items, err = NormalizeItems(items)
	if err != nil {
		return nil, err
	}

	var created *domain.Order
	err = s.store.InTx(ctx, func(tx Tx) error {
		products, err := s.rec.CheckAndReserve(ctx, tx, items)
		if err != nil {
			return err
		}

		o := &domain.Order{UserID: userID, Status: domain.StatusPending}
		for _, in := range items {
			o.Items = append(o.Items, domain.OrderItem{
				ProductID:      in.ProductID,
				Quantity:       in.Quantity,
				UnitPriceCents: products[in.ProductID].PriceCents,
				Options:        in.Options,
			})
		}
		o.TotalCents = o.ComputeTotal()

		if err := tx.InsertOrder(ctx, o); err != nil {
			return err
		}
		for i := range o.Items {
			o.Items[i].OrderID = o.ID
			if err := tx.InsertItem(ctx, &o.Items[i]); err != nil {
				return err
			}
		}

		created, err = tx.GetOrder(ctx, o.ID, false)
		if err != nil {
			return err
		}
		if created == nil {
			return errors.New("created order vanished inside its transaction")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	units := 0
	for _, it := range created.Items {
		units += it.Quantity
	}
	s.stockMoved("reserved", units)
	s.emit(ctx, EventOrderCreated, created.ID, OrderCreatedPayload{
		OrderID:    created.ID,
		UserID:     created.UserID,
		Items:      itemQtys(created.Items),
		TotalCents: created.TotalCents,
	})
	return created, nil
}

func (s *Service) GetOrderByID(ctx context.Context, id int64) (_ *domain.Order, err error) {
	defer s.observe("get", time.Now(), &err)

	var o *domain.Order
	err = s.store.View(ctx, func(tx Tx) error {
		var err error
		o, err = tx.GetOrder(ctx, id, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, domain.NotFoundf("order %d not found", id)
	}
	return o, nil
}

var sortFields = map[string]string{
	"":           "ordered_at",
	"created_at": "ordered_at",
	"createdAt":  "ordered_at",
	"ordered_at": "ordered_at",
	"orderedAt":  "ordered_at",
	"updated_at": "updated_at",
	"updatedAt":  "updated_at",
	"total":      "total_cents",
	"status":     "status",
	"id":         "id",
	"user_id":    "user_id",
	"userId":     "user_id",
}

// ResolveFilter turns caller filters into a storage query plus the effective limit and page.
func (s *Service) ResolveFilter(f domain.ListFilter) (domain.ListQuery, error) {
	q := domain.ListQuery{Status: f.Status, UserID: f.UserID}

	if f.Status != "" && !s.statuses.Valid(f.Status) {
		return q, domain.InvalidStatusf("unknown status %q", f.Status)
	}
	if f.UserID < 0 {
		return q, domain.Validationf("userId must be a positive integer")
	}

	field, ok := sortFields[f.SortBy]
	if !ok {
		return q, domain.Validationf("cannot sort by %q", f.SortBy)
	}
	q.SortField = field
	switch strings.ToLower(f.SortOrder) {
	case "", "desc":
		q.Desc = true
	case "asc":
	default:
		return q, domain.Validationf("sortOrder must be asc or desc")
	}

	limit, page := f.Limit, f.Page
	switch {
	case limit == 0:
		limit = domain.DefaultLimit
	case limit < domain.Unpaginated:
		return q, domain.Validationf("limit must be positive or %d", domain.Unpaginated)
	}
	switch {
	case page == 0:
		page = domain.DefaultPage
	case page < 0:
		return q, domain.Validationf("page must be a positive integer")
	}

	q.Limit = limit
	if limit == domain.Unpaginated {
		q.All = true
		return q, nil
	}
	// offset+limit must stay representable
	if page-1 > (math.MaxInt-limit)/limit {
		return q, domain.Validationf("page %d is out of range for limit %d", page, limit)
	}
	q.Offset = (page - 1) * limit
	return q, nil
}

func (s *Service) ListOrders(ctx context.Context, f domain.ListFilter) (_ *domain.Page, err error) {
	defer s.observe("list", time.Now(), &err)

	q, err := s.ResolveFilter(f)
	if err != nil {
		return nil, err
	}

	var (
		rows  []domain.Order
		total int
	)
	err = s.store.View(ctx, func(tx Tx) error {
		var err error
		rows, total, err = tx.ListOrders(ctx, q)
		return err
	})
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []domain.Order{}
	}

	p := &domain.Page{Data: rows, Total: total, Limit: q.Limit, Page: 1}
	if q.All {
		if total > 0 {
			p.TotalPages = 1
		}
		return p, nil
	}
	p.Page = q.Offset/q.Limit + 1
	if total > 0 {
		p.TotalPages = (total-1)/q.Limit + 1
	}
	return p, nil
}

// UpdateOrderStatus moves an order to status. Entering cancelled restores the
// order's stock in the same transaction as the status write.
func (s *Service) UpdateOrderStatus(ctx context.Context, id int64, status domain.Status) (_ *domain.Order, err error) {
	defer s.observe("update_status", time.Now(), &err)

	if !s.statuses.Valid(status) {
		return nil, domain.InvalidStatusf("unknown status %q", status)
	}

	var (
		updated *domain.Order
		from    domain.Status
		report  inventory.RestoreReport
	)
	err = s.store.InTx(ctx, func(tx Tx) error {
		o, err := tx.GetOrder(ctx, id, true)
		if err != nil {
			return err
		}
		if o == nil {
			return domain.NotFoundf("order %d not found", id)
		}
		if !s.statuses.CanTransition(o.Status, status) {
			return domain.InvalidStatusf("order %d cannot move from %s to %s", id, o.Status, status)
		}
		from = o.Status

		report = inventory.RestoreReport{}
		if status == domain.StatusCancelled {
			report, err = s.rec.Restore(ctx, tx, o.Items)
			if err != nil {
				return err
			}
		}

		at, err := tx.UpdateOrderStatus(ctx, id, status)
		if err != nil {
			return err
		}
		o.Status = status
		o.UpdatedAt = at
		updated = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.stockMoved("restored", report.Units())
	s.emit(ctx, EventOrderStatusChanged, id, OrderStatusChangedPayload{
		OrderID:  id,
		From:     from,
		To:       status,
		Restored: restoredQtys(report.Restored),
	})
	return updated, nil
}

// DeleteOrder removes a pending order with its items and puts the stock back.
func (s *Service) DeleteOrder(ctx context.Context, id int64) (err error) {
	defer s.observe("delete", time.Now(), &err)

	var (
		userID int64
		report inventory.RestoreReport
	)
	err = s.store.InTx(ctx, func(tx Tx) error {
		o, err := tx.GetOrder(ctx, id, true)
		if err != nil {
			return err
		}
		if o == nil {
			return domain.NotFoundf("order %d not found", id)
		}
		if o.Status != domain.StatusPending {
			return domain.Conflictf("only pending orders may be deleted (order %d is %s)", id, o.Status)
		}
		userID = o.UserID

		if _, err := tx.DeleteOrderItems(ctx, id); err != nil {
			return err
		}
		if err := tx.DeleteOrder(ctx, id); err != nil {
			return err
		}
		report, err = s.rec.Restore(ctx, tx, o.Items)
		return err
	})
	if err != nil {
		return err
	}

	s.stockMoved("restored", report.Units())
	s.emit(ctx, EventOrderDeleted, id, OrderDeletedPayload{
		OrderID:  id,
		UserID:   userID,
		Restored: restoredQtys(report.Restored),
	})
	return nil
}

// emit runs after commit; a broker outage must not undo a committed order.
func (s *Service) emit(ctx context.Context, eventType string, orderID int64, payload any) {
	if s.events == nil {
		return
	}
	if err := s.events.Emit(ctx, eventType, orderID, payload); err != nil {
		s.log.Warn("order event not published", "event_type", eventType, "order_id", orderID, "err", err)
	}
}

func (s *Service) observe(op string, start time.Time, err *error) {
	if s.metrics == nil {
		return
	}
	var kind domain.Kind
	if *err != nil {
		kind = domain.KindOf(*err)
		if kind == "" {
			kind = "internal"
		}
	}
	s.metrics.ObserveOp(op, kind, time.Since(start))
}

func (s *Service) stockMoved(direction string, units int) {
	if s.metrics != nil && units > 0 {
		s.metrics.StockMoved(direction, units)
	}
}
