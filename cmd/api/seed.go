package main

import (
	"context"

	"github.com/ariefcatur/go-storefront-orders/internal/domain"
)

type productCreator interface {
	CreateProduct(ctx context.Context, p *domain.Product) error
}

// seedDemo fills an empty in-memory catalog so the API is usable without Postgres.
func seedDemo(ctx context.Context, s productCreator) error {
	products := []domain.Product{
		{
			Name: "Nasi Goreng", Slug: "nasi-goreng", PriceCents: 2590, Stock: 50,
			Options: []domain.Option{
				{Title: "spice", Values: []string{"mild", "medium", "hot"}},
				{Title: "size", Values: []string{"regular", "large"}},
			},
		},
		{Name: "Es Teh", Slug: "es-teh", PriceCents: 800, Stock: 100},
		{
			Name: "Mie Ayam", Slug: "mie-ayam", PriceCents: 2200, Stock: 5,
			Options: []domain.Option{{Title: "noodle", Values: []string{"thin", "flat"}}},
		},
	}
	for i := range products {
		if err := s.CreateProduct(ctx, &products[i]); err != nil {
			return err
		}
	}
	return nil
}
