package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-storefront-orders/internal/domain"
	"github.com/ariefcatur/go-storefront-orders/internal/inventory"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
)

func seed(t *testing.T) (*Store, *domain.Product) {
	t.Helper()
	s := New()
	p := &domain.Product{Name: "Mug", Slug: "mug", PriceCents: 800, Stock: 3,
		Options: []domain.Option{{Title: "color", Values: []string{"white"}}}}
	require.NoError(t, s.CreateProduct(context.Background(), p))
	return s, p
}

func TestFailedTxLeavesNoTrace(t *testing.T) {
	s, p := seed(t)
	ctx := context.Background()

	err := s.InTx(ctx, func(tx orders.Tx) error {
		_, err := tx.AdjustStock(ctx, p.ID, -2)
		require.NoError(t, err)
		require.NoError(t, tx.InsertOrder(ctx, &domain.Order{UserID: 1, Status: domain.StatusPending}))
		return errors.New("abort")
	})
	require.EqualError(t, err, "abort")

	got, _ := s.Product(ctx, p.ID)
	assert.Equal(t, 3, got.Stock)
	require.NoError(t, s.View(ctx, func(tx orders.Tx) error {
		_, total, err := tx.ListOrders(ctx, domain.ListQuery{SortField: "id", All: true})
		assert.Zero(t, total)
		return err
	}))
}

func TestAdjustStockBounds(t *testing.T) {
	s, p := seed(t)
	ctx := context.Background()

	require.NoError(t, s.InTx(ctx, func(tx orders.Tx) error {
		_, err := tx.AdjustStock(ctx, p.ID, -4)
		assert.ErrorIs(t, err, inventory.ErrStockUnderflow)
		_, err = tx.AdjustStock(ctx, 99, 1)
		assert.ErrorIs(t, err, inventory.ErrProductGone)
		left, err := tx.AdjustStock(ctx, p.ID, -3)
		assert.Equal(t, 0, left)
		return err
	}))
}

func TestViewIsReadOnly(t *testing.T) {
	s, p := seed(t)
	ctx := context.Background()

	err := s.View(ctx, func(tx orders.Tx) error {
		_, err := tx.AdjustStock(ctx, p.ID, 1)
		return err
	})
	assert.ErrorIs(t, err, errReadOnly)
}

func TestOrderRoundTrip(t *testing.T) {
	s, p := seed(t)
	ctx := context.Background()

	var id int64
	require.NoError(t, s.InTx(ctx, func(tx orders.Tx) error {
		o := &domain.Order{UserID: 5, Status: domain.StatusPending, TotalCents: 800}
		if err := tx.InsertOrder(ctx, o); err != nil {
			return err
		}
		id = o.ID
		return tx.InsertItem(ctx, &domain.OrderItem{OrderID: o.ID, ProductID: p.ID, Quantity: 1,
			UnitPriceCents: 800, Options: map[string]string{"color": "white"}})
	}))

	require.NoError(t, s.InTx(ctx, func(tx orders.Tx) error {
		o, err := tx.GetOrder(ctx, id, true)
		require.NoError(t, err)
		require.Len(t, o.Items, 1)
		assert.Equal(t, map[string]string{"color": "white"}, o.Items[0].Options)
		assert.Equal(t, "Mug", o.Items[0].Product.Name)

		assert.Error(t, tx.DeleteOrder(ctx, id), "items must go first")
		n, err := tx.DeleteOrderItems(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		return tx.DeleteOrder(ctx, id)
	}))

	require.NoError(t, s.View(ctx, func(tx orders.Tx) error {
		o, err := tx.GetOrder(ctx, id, false)
		assert.Nil(t, o)
		return err
	}))
}

func TestProductCopiesAreIsolated(t *testing.T) {
	s, p := seed(t)
	got, ok := s.Product(context.Background(), p.ID)
	require.True(t, ok)
	got.Options[0].Values[0] = "black"

	again, _ := s.Product(context.Background(), p.ID)
	assert.Equal(t, "white", again.Options[0].Values[0])

	stocks, err := s.Stocks(context.Background(), []int64{p.ID, 42})
	require.NoError(t, err)
	assert.Equal(t, map[int64]int{p.ID: 3}, stocks)
}
