package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ariefcatur/go-storefront-orders/internal/domain"
	"github.com/ariefcatur/go-storefront-orders/internal/inventory"
)

// CreateProduct inserts p with its option catalog and assigns its id.
func (s *Store) CreateProduct(ctx context.Context, p *domain.Product) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx, `
		INSERT INTO products(name, slug, price_cents, stock)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`,
		p.Name, p.Slug, p.PriceCents, p.Stock,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert product %q: %w", p.Slug, err)
	}
	for _, o := range p.Options {
		if _, err := tx.Exec(ctx, `
			INSERT INTO product_options(product_id, title, allowed_values)
			VALUES ($1, $2, $3)`, p.ID, o.Title, o.Values); err != nil {
			return fmt.Errorf("insert option %q of product %d: %w", o.Title, p.ID, err)
		}
	}
	return tx.Commit(ctx)
}

// DeleteProduct removes a product; order items keep pointing at its id.
func (s *Store) DeleteProduct(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM products WHERE id=$1`, id)
	return err
}

type pgTx struct{ tx pgx.Tx }

func (t *pgTx) LockProduct(ctx context.Context, id int64) (*domain.Product, error) {
	var p domain.Product
	err := t.tx.QueryRow(ctx, `
		SELECT id, name, slug, price_cents, stock, created_at, updated_at
		FROM products WHERE id=$1 FOR UPDATE`, id,
	).Scan(&p.ID, &p.Name, &p.Slug, &p.PriceCents, &p.Stock, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := t.tx.Query(ctx, `
		SELECT title, allowed_values FROM product_options
		WHERE product_id=$1 ORDER BY title`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var o domain.Option
		if err := rows.Scan(&o.Title, &o.Values); err != nil {
			return nil, err
		}
		p.Options = append(p.Options, o)
	}
	return &p, rows.Err()
}

// AdjustStock is the single conditional write all stock movement goes through.
func (t *pgTx) AdjustStock(ctx context.Context, id int64, delta int) (int, error) {
	var stock int
	err := t.tx.QueryRow(ctx, `
		UPDATE products SET stock = stock + $2, updated_at = now()
		WHERE id=$1 AND stock + $2 >= 0
		RETURNING stock`, id, delta).Scan(&stock)
	if err == nil {
		return stock, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, err
	}

	var exists bool
	if err := t.tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM products WHERE id=$1)`, id).Scan(&exists); err != nil {
		return 0, err
	}
	if !exists {
		return 0, inventory.ErrProductGone
	}
	return 0, inventory.ErrStockUnderflow
}
