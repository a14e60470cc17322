package postgres

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ariefcatur/go-storefront-orders/internal/domain"
	"github.com/ariefcatur/go-storefront-orders/internal/inventory"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
)

func setupPostgres(ctx context.Context, t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test")
	}

	container, err := tcpostgres.Run(ctx,
		"postgres:18-alpine",
		tcpostgres.WithDatabase("orders"),
		tcpostgres.WithUsername("app"),
		tcpostgres.WithPassword("secret"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate postgres container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	m, err := NewMigrator(dsn)
	require.NoError(t, err)
	changed, err := m.Up()
	require.NoError(t, err)
	assert.True(t, changed)
	v, dirty, err := m.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(1), v)
	assert.False(t, dirty)
	require.NoError(t, m.Close())

	pool, err := Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func reset(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	_, err := pool.Exec(context.Background(),
		`TRUNCATE order_items, orders, product_options, products RESTART IDENTITY CASCADE`)
	require.NoError(t, err)
}

func TestPostgresStore(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()
	pool := setupPostgres(ctx, t)
	store := NewStore(pool, WithTxTimeout(5*time.Second), WithTxRetries(5))
	require.NoError(t, store.Ping(ctx))
	statuses := domain.MustStatusSet(domain.DefaultStatuses...)

	newShirt := func(t *testing.T, stock int) *domain.Product {
		p := &domain.Product{
			Name: "Shirt", Slug: "shirt", PriceCents: 2590, Stock: stock,
			Options: []domain.Option{{Title: "size", Values: []string{"S", "M", "L"}}},
		}
		require.NoError(t, store.CreateProduct(ctx, p))
		return p
	}

	t.Run("create and read back", func(t *testing.T) {
		reset(t, pool)
		p := newShirt(t, 10)
		svc := orders.NewService(store, statuses)

		o, err := svc.CreateOrder(ctx, 7, []domain.ItemInput{
			{ProductID: p.ID, Quantity: 2, Options: map[string]string{"size": "M"}},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(5180), o.TotalCents)
		assert.Equal(t, domain.StatusPending, o.Status)
		require.Len(t, o.Items, 1)
		assert.Equal(t, map[string]string{"size": "M"}, o.Items[0].Options)
		assert.Equal(t, "Shirt", o.Items[0].Product.Name)

		stocks, err := store.Stocks(ctx, []int64{p.ID})
		require.NoError(t, err)
		assert.Equal(t, 8, stocks[p.ID])

		page, err := svc.ListOrders(ctx, domain.ListFilter{UserID: 7})
		require.NoError(t, err)
		require.Equal(t, 1, page.Total)
		assert.Equal(t, o.ID, page.Data[0].ID)
		assert.Len(t, page.Data[0].Items, 1)
	})

	t.Run("insufficient stock rolls back", func(t *testing.T) {
		reset(t, pool)
		p := newShirt(t, 1)
		svc := orders.NewService(store, statuses)

		_, err := svc.CreateOrder(ctx, 1, []domain.ItemInput{{ProductID: p.ID, Quantity: 2}})
		assert.ErrorIs(t, err, domain.ErrInsufficientStock)

		stocks, err := store.Stocks(ctx, []int64{p.ID})
		require.NoError(t, err)
		assert.Equal(t, 1, stocks[p.ID])
	})

	t.Run("failed transaction leaves no rows", func(t *testing.T) {
		reset(t, pool)
		p := newShirt(t, 5)

		err := store.InTx(ctx, func(tx orders.Tx) error {
			if _, err := tx.AdjustStock(ctx, p.ID, -5); err != nil {
				return err
			}
			if err := tx.InsertOrder(ctx, &domain.Order{UserID: 1, Status: domain.StatusPending}); err != nil {
				return err
			}
			return errors.New("boom")
		})
		require.EqualError(t, err, "boom")

		var n int
		require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM orders`).Scan(&n))
		assert.Zero(t, n)
		stocks, err := store.Stocks(ctx, []int64{p.ID})
		require.NoError(t, err)
		assert.Equal(t, 5, stocks[p.ID])
	})

	t.Run("adjust stock guards", func(t *testing.T) {
		reset(t, pool)
		p := newShirt(t, 2)

		err := store.InTx(ctx, func(tx orders.Tx) error {
			_, err := tx.AdjustStock(ctx, p.ID, -3)
			assert.ErrorIs(t, err, inventory.ErrStockUnderflow)
			_, err = tx.AdjustStock(ctx, p.ID+100, 1)
			assert.ErrorIs(t, err, inventory.ErrProductGone)
			missing, err := tx.LockProduct(ctx, p.ID+100)
			assert.Nil(t, missing)
			return err
		})
		require.NoError(t, err)
	})

	t.Run("cancel and delete restore stock", func(t *testing.T) {
		reset(t, pool)
		p := newShirt(t, 4)
		svc := orders.NewService(store, statuses)

		a, err := svc.CreateOrder(ctx, 1, []domain.ItemInput{{ProductID: p.ID, Quantity: 2}})
		require.NoError(t, err)
		b, err := svc.CreateOrder(ctx, 1, []domain.ItemInput{{ProductID: p.ID, Quantity: 1}})
		require.NoError(t, err)

		_, err = svc.UpdateOrderStatus(ctx, a.ID, domain.StatusCancelled)
		require.NoError(t, err)
		_, err = svc.UpdateOrderStatus(ctx, a.ID, domain.StatusCancelled)
		assert.ErrorIs(t, err, domain.ErrInvalidStatus)
		require.NoError(t, svc.DeleteOrder(ctx, b.ID))

		stocks, err := store.Stocks(ctx, []int64{p.ID})
		require.NoError(t, err)
		assert.Equal(t, 4, stocks[p.ID])

		_, err = svc.GetOrderByID(ctx, b.ID)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("product deletion keeps order snapshot", func(t *testing.T) {
		reset(t, pool)
		p := newShirt(t, 4)
		svc := orders.NewService(store, statuses)

		o, err := svc.CreateOrder(ctx, 1, []domain.ItemInput{{ProductID: p.ID, Quantity: 1}})
		require.NoError(t, err)
		require.NoError(t, store.DeleteProduct(ctx, p.ID))

		got, err := svc.GetOrderByID(ctx, o.ID)
		require.NoError(t, err)
		assert.Nil(t, got.Items[0].Product)
		assert.Equal(t, int64(2590), got.Items[0].UnitPriceCents)

		_, err = svc.UpdateOrderStatus(ctx, o.ID, domain.StatusCancelled)
		require.NoError(t, err)
	})

	t.Run("list by status and user with paging", func(t *testing.T) {
		reset(t, pool)
		p := newShirt(t, 100)
		svc := orders.NewService(store, statuses)
		line := []domain.ItemInput{{ProductID: p.ID, Quantity: 1}}

		create := func(userID int64) int64 {
			o, err := svc.CreateOrder(ctx, userID, line)
			require.NoError(t, err)
			return o.ID
		}
		var matches []int64
		for i := 0; i < 7; i++ {
			matches = append(matches, create(1))
			create(2)
			if i%3 == 0 {
				_, err := svc.UpdateOrderStatus(ctx, create(1), domain.StatusConfirmed)
				require.NoError(t, err)
			}
		}

		page, err := svc.ListOrders(ctx, domain.ListFilter{Status: domain.StatusPending, UserID: 1, Limit: 5, Page: 2})
		require.NoError(t, err)
		assert.Equal(t, 7, page.Total)
		assert.Equal(t, 2, page.TotalPages)
		require.LessOrEqual(t, len(page.Data), 5)

		var got []int64
		for _, o := range page.Data {
			assert.Equal(t, int64(1), o.UserID)
			assert.Equal(t, domain.StatusPending, o.Status)
			got = append(got, o.ID)
		}
		assert.Equal(t, []int64{matches[1], matches[0]}, got)

		_, err = svc.ListOrders(ctx, domain.ListFilter{Limit: math.MaxInt, Page: 3})
		assert.ErrorIs(t, err, domain.ErrValidation)
		page, err = svc.ListOrders(ctx, domain.ListFilter{Limit: math.MaxInt, Page: 1})
		require.NoError(t, err)
		assert.Equal(t, 1, page.TotalPages)
		assert.Len(t, page.Data, page.Total)
	})

	t.Run("concurrent orders never oversell", func(t *testing.T) {
		reset(t, pool)
		p := newShirt(t, 5)
		other := &domain.Product{Name: "Mug", Slug: "mug", PriceCents: 800, Stock: 100}
		require.NoError(t, store.CreateProduct(ctx, other))
		svc := orders.NewService(store, statuses)

		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			accepted int
		)
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				// opposite line order on alternate requests
				items := []domain.ItemInput{{ProductID: p.ID, Quantity: 1}, {ProductID: other.ID, Quantity: 1}}
				if i%2 == 1 {
					items[0], items[1] = items[1], items[0]
				}
				_, err := svc.CreateOrder(ctx, int64(i+1), items)
				if err == nil {
					mu.Lock()
					accepted++
					mu.Unlock()
					return
				}
				assert.ErrorIs(t, err, domain.ErrInsufficientStock)
			}(i)
		}
		wg.Wait()

		assert.Equal(t, 5, accepted)
		stocks, err := store.Stocks(ctx, []int64{p.ID, other.ID})
		require.NoError(t, err)
		assert.Equal(t, 0, stocks[p.ID])
		assert.Equal(t, 95, stocks[other.ID])
	})
}

func TestRetryable(t *testing.T) {
	assert.False(t, retryable(errors.New("plain")))
	assert.False(t, retryable(nil))
	assert.True(t, retryable(&pgconn.PgError{Code: "40P01"}))
	assert.True(t, retryable(fmt.Errorf("commit tx: %w", &pgconn.PgError{Code: "40001"})))
	assert.False(t, retryable(&pgconn.PgError{Code: "23505"}))
}
