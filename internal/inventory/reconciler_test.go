package inventory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-storefront-orders/internal/domain"
)

type fakeTx struct {
	products map[int64]*domain.Product
	locked   []int64
	adjusts  []int64
	failOn   int64
}

func newFakeTx(ps ...domain.Product) *fakeTx {
	tx := &fakeTx{products: map[int64]*domain.Product{}}
	for i := range ps {
		p := ps[i]
		tx.products[p.ID] = &p
	}
	return tx
}

func (f *fakeTx) LockProduct(_ context.Context, id int64) (*domain.Product, error) {
	f.locked = append(f.locked, id)
	p, ok := f.products[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (f *fakeTx) AdjustStock(_ context.Context, id int64, delta int) (int, error) {
	f.adjusts = append(f.adjusts, id)
	if id == f.failOn {
		return 0, errors.New("connection reset")
	}
	p, ok := f.products[id]
	if !ok {
		return 0, ErrProductGone
	}
	if p.Stock+delta < 0 {
		return 0, ErrStockUnderflow
	}
	p.Stock += delta
	return p.Stock, nil
}

func (f *fakeTx) stock(id int64) int { return f.products[id].Stock }

var (
	shirt = domain.Product{
		ID: 1, Name: "Shirt", PriceCents: 2590, Stock: 10,
		Options: []domain.Option{{Title: "size", Values: []string{"S", "M", "L"}}},
	}
	mug = domain.Product{ID: 2, Name: "Mug", PriceCents: 800, Stock: 3}
)

func TestCheckAndReserveDecrementsAll(t *testing.T) {
	tx := newFakeTx(shirt, mug)
	r := &Reconciler{}

	got, err := r.CheckAndReserve(context.Background(), tx, []domain.ItemInput{
		{ProductID: 2, Quantity: 1},
		{ProductID: 1, Quantity: 2, Options: map[string]string{"size": "M"}},
		{ProductID: 2, Quantity: 2},
	})
	require.NoError(t, err)

	assert.Equal(t, 8, tx.stock(1))
	assert.Equal(t, 0, tx.stock(2))
	assert.Equal(t, []int64{1, 2}, tx.locked, "locks in ascending id order")
	assert.Equal(t, int64(2590), got[1].PriceCents)
	assert.Equal(t, 0, got[2].Stock)
}

func TestCheckAndReserveAllOrNothing(t *testing.T) {
	tx := newFakeTx(shirt, mug)
	r := &Reconciler{}

	_, err := r.CheckAndReserve(context.Background(), tx, []domain.ItemInput{
		{ProductID: 1, Quantity: 1},
		{ProductID: 2, Quantity: 4},
	})
	var ise *domain.InsufficientStockError
	require.ErrorAs(t, err, &ise)
	assert.Equal(t, int64(2), ise.ProductID)
	assert.Equal(t, "Mug", ise.ProductName)
	assert.Equal(t, 4, ise.Requested)
	assert.Equal(t, 3, ise.Available)

	assert.Empty(t, tx.adjusts)
	assert.Equal(t, 10, tx.stock(1))
	assert.Equal(t, 3, tx.stock(2))
}

func TestCheckAndReserveAggregatesDemand(t *testing.T) {
	tx := newFakeTx(mug)
	_, err := (&Reconciler{}).CheckAndReserve(context.Background(), tx, []domain.ItemInput{
		{ProductID: 2, Quantity: 2},
		{ProductID: 2, Quantity: 2},
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.Equal(t, 3, tx.stock(2))
}

func TestCheckAndReserveMissingProduct(t *testing.T) {
	tx := newFakeTx(shirt)
	_, err := (&Reconciler{}).CheckAndReserve(context.Background(), tx, []domain.ItemInput{
		{ProductID: 1, Quantity: 1},
		{ProductID: 99, Quantity: 1},
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.EqualError(t, err, "product 99 not found")
	assert.Equal(t, 10, tx.stock(1))
}

func TestCheckAndReserveReportsFirstFailingLine(t *testing.T) {
	tx := newFakeTx(shirt, mug)
	_, err := (&Reconciler{}).CheckAndReserve(context.Background(), tx, []domain.ItemInput{
		{ProductID: 2, Quantity: 9},
		{ProductID: 1, Quantity: 1, Options: map[string]string{"size": "XXL"}},
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
}

func TestCheckAndReserveInfraError(t *testing.T) {
	tx := newFakeTx(shirt, mug)
	tx.failOn = 2
	_, err := (&Reconciler{}).CheckAndReserve(context.Background(), tx, []domain.ItemInput{
		{ProductID: 1, Quantity: 1},
		{ProductID: 2, Quantity: 1},
	})
	require.Error(t, err)
	assert.Equal(t, domain.Kind(""), domain.KindOf(err))
	assert.ErrorContains(t, err, "decrement stock of product 2")
}

func TestValidateOptions(t *testing.T) {
	p := shirt
	assert.NoError(t, ValidateOptions(&p, nil))
	assert.NoError(t, ValidateOptions(&p, map[string]string{"size": "L"}))

	err := ValidateOptions(&p, map[string]string{"color": "red"})
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.EqualError(t, err, `product 1 (Shirt) has no option "color"`)

	err = ValidateOptions(&p, map[string]string{"size": "XXL"})
	assert.EqualError(t, err, `product 1 (Shirt): value "XXL" is not allowed for option "size"`)
}

func TestRestore(t *testing.T) {
	tx := newFakeTx(shirt, mug)
	report, err := (&Reconciler{}).Restore(context.Background(), tx, []domain.OrderItem{
		{ProductID: 1, Quantity: 2},
		{ProductID: 77, Quantity: 1},
		{ProductID: 2, Quantity: 1},
		{ProductID: 1, Quantity: 1},
	})
	require.NoError(t, err)

	assert.Equal(t, 13, tx.stock(1))
	assert.Equal(t, 4, tx.stock(2))
	assert.Equal(t, map[int64]int{1: 3, 2: 1}, report.Restored)
	assert.Equal(t, []int64{77}, report.Missing)
	assert.Equal(t, 4, report.Units())
}

func TestRestoreInfraErrorAborts(t *testing.T) {
	tx := newFakeTx(shirt, mug)
	tx.failOn = 1
	_, err := (&Reconciler{}).Restore(context.Background(), tx, []domain.OrderItem{
		{ProductID: 1, Quantity: 1},
		{ProductID: 2, Quantity: 1},
	})
	assert.ErrorContains(t, err, "restore stock of product 1")
}
