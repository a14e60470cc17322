package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ariefcatur/go-storefront-orders/internal/domain"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
)

const orderColumns = `id, user_id, status, total_cents, ordered_at, updated_at`

var sortColumns = map[string]bool{
	"ordered_at":  true,
	"updated_at":  true,
	"total_cents": true,
	"status":      true,
	"id":          true,
	"user_id":     true,
}

func (t *pgTx) InsertOrder(ctx context.Context, o *domain.Order) error {
	return t.tx.QueryRow(ctx, `
		INSERT INTO orders(user_id, status, total_cents)
		VALUES ($1, $2, $3)
		RETURNING id, ordered_at, updated_at`,
		o.UserID, string(o.Status), o.TotalCents,
	).Scan(&o.ID, &o.OrderedAt, &o.UpdatedAt)
}

func (t *pgTx) InsertItem(ctx context.Context, it *domain.OrderItem) error {
	raw, err := orders.EncodeOptions(it.Options)
	if err != nil {
		return err
	}
	return t.tx.QueryRow(ctx, `
		INSERT INTO order_items(order_id, product_id, quantity, unit_price_cents, options)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		it.OrderID, it.ProductID, it.Quantity, it.UnitPriceCents, raw,
	).Scan(&it.ID)
}

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var (
		o      domain.Order
		status string
	)
	if err := row.Scan(&o.ID, &o.UserID, &status, &o.TotalCents, &o.OrderedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	o.Status = domain.Status(status)
	o.Items = []domain.OrderItem{}
	return &o, nil
}

func (t *pgTx) GetOrder(ctx context.Context, id int64, forUpdate bool) (*domain.Order, error) {
	q := `SELECT ` + orderColumns + ` FROM orders WHERE id=$1`
	if forUpdate {
		q += ` FOR UPDATE`
	}
	o, err := scanOrder(t.tx.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	items, err := t.loadItems(ctx, []int64{o.ID})
	if err != nil {
		return nil, err
	}
	if its, ok := items[o.ID]; ok {
		o.Items = its
	}
	return o, nil
}

func (t *pgTx) loadItems(ctx context.Context, orderIDs []int64) (map[int64][]domain.OrderItem, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT oi.id, oi.order_id, oi.product_id, oi.quantity, oi.unit_price_cents, oi.options,
		       p.id, p.name, p.price_cents
		FROM order_items oi
		LEFT JOIN products p ON p.id = oi.product_id
		WHERE oi.order_id = ANY($1)
		ORDER BY oi.order_id, oi.id`, orderIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64][]domain.OrderItem, len(orderIDs))
	for rows.Next() {
		var (
			it     domain.OrderItem
			raw    *string
			pID    *int64
			pName  *string
			pPrice *int64
		)
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Quantity, &it.UnitPriceCents, &raw,
			&pID, &pName, &pPrice); err != nil {
			return nil, err
		}
		if it.Options, err = orders.DecodeOptions(raw); err != nil {
			return nil, fmt.Errorf("order item %d: %w", it.ID, err)
		}
		if pID != nil {
			it.Product = &domain.ProductRef{ID: *pID, Name: *pName, PriceCents: *pPrice}
		}
		out[it.OrderID] = append(out[it.OrderID], it)
	}
	return out, rows.Err()
}

func (t *pgTx) ListOrders(ctx context.Context, q domain.ListQuery) ([]domain.Order, int, error) {
	if !sortColumns[q.SortField] {
		return nil, 0, fmt.Errorf("unsupported sort column %q", q.SortField)
	}

	var (
		where []string
		args  []any
	)
	if q.Status != "" {
		args = append(args, string(q.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if q.UserID != 0 {
		args = append(args, q.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := t.tx.QueryRow(ctx, `SELECT count(*) FROM orders`+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	dir := "ASC"
	if q.Desc {
		dir = "DESC"
	}
	sql := `SELECT ` + orderColumns + ` FROM orders` + cond +
		fmt.Sprintf(` ORDER BY %s %s, id %s`, q.SortField, dir, dir)
	if !q.All {
		args = append(args, q.Limit, q.Offset)
		sql += fmt.Sprintf(` LIMIT $%d OFFSET $%d`, len(args)-1, len(args))
	}

	rows, err := t.tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, err
	}
	var (
		list []domain.Order
		ids  []int64
	)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, 0, err
		}
		list = append(list, *o)
		ids = append(ids, o.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	if len(ids) == 0 {
		return list, total, nil
	}

	items, err := t.loadItems(ctx, ids)
	if err != nil {
		return nil, 0, err
	}
	for i := range list {
		if its, ok := items[list[i].ID]; ok {
			list[i].Items = its
		}
	}
	return list, total, nil
}

func (t *pgTx) UpdateOrderStatus(ctx context.Context, id int64, status domain.Status) (time.Time, error) {
	var at time.Time
	err := t.tx.QueryRow(ctx, `
		UPDATE orders SET status=$2, updated_at=now()
		WHERE id=$1 RETURNING updated_at`, id, string(status)).Scan(&at)
	return at, err
}

func (t *pgTx) DeleteOrderItems(ctx context.Context, orderID int64) (int64, error) {
	ct, err := t.tx.Exec(ctx, `DELETE FROM order_items WHERE order_id=$1`, orderID)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

func (t *pgTx) DeleteOrder(ctx context.Context, id int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM orders WHERE id=$1`, id)
	return err
}
