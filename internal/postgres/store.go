package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
)

// Store implements orders.Store on a pgx pool.
type Store struct {
	pool    *pgxpool.Pool
	timeout time.Duration
	retries int
	log     *slog.Logger
}

type StoreOption func(*Store)

// WithTxTimeout bounds every transaction; an expired one is rolled back as a whole.
func WithTxTimeout(d time.Duration) StoreOption { return func(s *Store) { s.timeout = d } }

// WithTxRetries sets how many times a deadlocked or serialization-failed
// transaction is re-run.
func WithTxRetries(n int) StoreOption { return func(s *Store) { s.retries = n } }

func WithLogger(l *slog.Logger) StoreOption { return func(s *Store) { s.log = l } }

func NewStore(pool *pgxpool.Pool, opts ...StoreOption) *Store {
	s := &Store{pool: pool, timeout: 5 * time.Second, retries: 3, log: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) InTx(ctx context.Context, fn func(orders.Tx) error) error {
	return s.retry(ctx, pgx.TxOptions{}, fn)
}

func (s *Store) View(ctx context.Context, fn func(orders.Tx) error) error {
	return s.retry(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly}, fn)
}

func (s *Store) retry(ctx context.Context, opts pgx.TxOptions, fn func(orders.Tx) error) error {
	attempt := 0
	op := func() error {
		attempt++
		err := s.run(ctx, opts, fn)
		if err == nil {
			return nil
		}
		if retryable(err) {
			s.log.WarnContext(ctx, "transaction aborted, retrying", "attempt", attempt, "err", err)
			return err
		}
		return backoff.Permanent(err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.retries)), ctx))
}

func (s *Store) run(ctx context.Context, opts pgx.TxOptions, fn func(orders.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// retryable: deadlock_detected, serialization_failure.
func retryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40P01" || pgErr.Code == "40001"
}

// Stocks returns the current stock of each existing product in ids.
func (s *Store) Stocks(ctx context.Context, ids []int64) (map[int64]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, stock FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64]int, len(ids))
	for rows.Next() {
		var (
			id    int64
			stock int
		)
		if err := rows.Scan(&id, &stock); err != nil {
			return nil, err
		}
		out[id] = stock
	}
	return out, rows.Err()
}

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }
