package domain

import (
	"slices"
	"time"
)

type Option struct {
	Title  string   `json:"title"`
	Values []string `json:"values"`
}

func (o Option) Allows(v string) bool { return slices.Contains(o.Values, v) }

type Product struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	Slug       string    `json:"slug"`
	PriceCents int64     `json:"price_cents"`
	Stock      int       `json:"stock"`
	Options    []Option  `json:"options"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (p *Product) Option(title string) (Option, bool) {
	for _, o := range p.Options {
		if o.Title == title {
			return o, true
		}
	}
	return Option{}, false
}

func (p *Product) Ref() *ProductRef {
	return &ProductRef{ID: p.ID, Name: p.Name, PriceCents: p.PriceCents}
}

// ProductRef is the product as seen from an order item on read paths.
type ProductRef struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	PriceCents int64  `json:"price_cents"`
}

type Order struct {
	ID         int64       `json:"id"`
	UserID     int64       `json:"user_id"`
	Status     Status      `json:"status"`
	TotalCents int64       `json:"total_cents"`
	OrderedAt  time.Time   `json:"ordered_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
	Items      []OrderItem `json:"items"`
}

// ComputeTotal sums the captured unit prices; the total is never set independently.
func (o *Order) ComputeTotal() int64 {
	var total int64
	for _, it := range o.Items {
		total += it.UnitPriceCents * int64(it.Quantity)
	}
	return total
}

type OrderItem struct {
	ID             int64             `json:"id"`
	OrderID        int64             `json:"order_id"`
	ProductID      int64             `json:"product_id"`
	Quantity       int               `json:"quantity"`
	UnitPriceCents int64             `json:"unit_price_cents"`
	Options        map[string]string `json:"options"`
	Product        *ProductRef       `json:"product,omitempty"`
}

// ItemInput is one requested order line after structural validation.
type ItemInput struct {
	ProductID int64             `json:"product_id"`
	Quantity  int               `json:"quantity"`
	Options   map[string]string `json:"options,omitempty"`
}

// Unpaginated as a limit returns every matching row.
const Unpaginated = -1

const (
	DefaultLimit = 10
	DefaultPage  = 1
)

type ListFilter struct {
	Status    Status
	UserID    int64
	Limit     int
	Page      int
	SortBy    string
	SortOrder string
}

// ListQuery is a ListFilter resolved to storage terms.
type ListQuery struct {
	Status    Status
	UserID    int64
	SortField string
	Desc      bool
	Limit     int
	Offset    int
	All       bool
}

type Page struct {
	Data       []Order `json:"data"`
	Total      int     `json:"total"`
	Limit      int     `json:"limit"`
	Page       int     `json:"page"`
	TotalPages int     `json:"total_pages"`
}
