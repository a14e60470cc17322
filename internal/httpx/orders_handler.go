package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/go-storefront-orders/internal/domain"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
)

const (
	HeaderUserID         = "X-User-Id"
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderReplayed       = "Idempotent-Replayed"
)

type OrderService interface {
	CreateOrder(ctx context.Context, userID int64, items []domain.ItemInput) (*domain.Order, error)
	GetOrderByID(ctx context.Context, id int64) (*domain.Order, error)
	ListOrders(ctx context.Context, f domain.ListFilter) (*domain.Page, error)
	UpdateOrderStatus(ctx context.Context, id int64, status domain.Status) (*domain.Order, error)
	DeleteOrder(ctx context.Context, id int64) error
}

type OrderCache interface {
	Get(ctx context.Context, id int64, load func(context.Context) (*domain.Order, error)) (*domain.Order, error)
	Invalidate(ctx context.Context, id int64)
}

type IdempotencyStore interface {
	Begin(ctx context.Context, userID int64, key string) (orderID int64, claimed bool, err error)
	Complete(ctx context.Context, userID int64, key string, orderID int64) error
	Abort(ctx context.Context, userID int64, key string) error
}

type LowStockLister interface {
	List(ctx context.Context, limit int64) ([]redisx.LowStockEntry, error)
}

// OrdersHandler serves the order routes. Cache, Idem and LowStock are optional.
type OrdersHandler struct {
	Orders   OrderService
	Cache    OrderCache
	Idem     IdempotencyStore
	LowStock LowStockLister
	Log      *slog.Logger
	Now      func() time.Time
}

type createOrderReq struct {
	Items json.RawMessage `json:"items"`
}

type updateStatusReq struct {
	Status string `json:"status"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{id}", h.getOrder)
	r.Put("/orders/{id}/status", h.updateStatus)
	r.Delete("/orders/{id}", h.deleteOrder)
	if h.LowStock != nil {
		r.Get("/inventory/low-stock", h.lowStock)
	}
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.Header.Get(HeaderUserID), 10, 64)
	if err != nil || userID <= 0 {
		h.fail(w, http.StatusUnauthorized, "", "missing or invalid "+HeaderUserID)
		return
	}

	var req createOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, http.StatusBadRequest, domain.KindValidation, "invalid json")
		return
	}
	items, err := orders.ParseItems(req.Items)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	ctx := r.Context()
	key := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
	if key != "" && h.Idem != nil {
		existing, claimed, err := h.Idem.Begin(ctx, userID, key)
		switch {
		case errors.Is(err, redisx.ErrIdemInFlight):
			h.fail(w, http.StatusConflict, domain.KindConflict, err.Error())
			return
		case err != nil:
			// fast-path saja; tanpa redis order tetap dibuat
			h.log().WarnContext(ctx, "idempotency check unavailable", "err", err)
			key = ""
		case !claimed:
			o, err := h.Orders.GetOrderByID(ctx, existing)
			if err != nil {
				h.writeError(w, r, err)
				return
			}
			w.Header().Set(HeaderReplayed, "true")
			h.ok(w, http.StatusOK, o)
			return
		}
	} else {
		key = ""
	}

	o, err := h.Orders.CreateOrder(ctx, userID, items)
	if err != nil {
		if key != "" {
			if aerr := h.Idem.Abort(context.WithoutCancel(ctx), userID, key); aerr != nil {
				h.log().WarnContext(ctx, "idempotency key not released", "err", aerr)
			}
		}
		h.writeError(w, r, err)
		return
	}
	if key != "" {
		if err := h.Idem.Complete(context.WithoutCancel(ctx), userID, key, o.ID); err != nil {
			h.log().WarnContext(ctx, "idempotency key not stored", "order_id", o.ID, "err", err)
		}
	}
	h.ok(w, http.StatusCreated, o)
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := domain.ListFilter{
		Status:    domain.Status(q.Get("status")),
		SortBy:    q.Get("sortBy"),
		SortOrder: q.Get("sortOrder"),
	}
	var err error
	if f.UserID, err = queryInt(q.Get("userId")); err != nil {
		h.fail(w, http.StatusBadRequest, domain.KindValidation, "userId must be an integer")
		return
	}
	limit, err := queryInt(q.Get("limit"))
	if err != nil {
		h.fail(w, http.StatusBadRequest, domain.KindValidation, "limit must be an integer")
		return
	}
	page, err := queryInt(q.Get("page"))
	if err != nil {
		h.fail(w, http.StatusBadRequest, domain.KindValidation, "page must be an integer")
		return
	}
	f.Limit, f.Page = int(limit), int(page)

	p, err := h.Orders.ListOrders(r.Context(), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.ok(w, http.StatusOK, p)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	load := func(ctx context.Context) (*domain.Order, error) { return h.Orders.GetOrderByID(ctx, id) }

	var (
		o   *domain.Order
		err error
	)
	if h.Cache != nil {
		o, err = h.Cache.Get(r.Context(), id, load)
	} else {
		o, err = load(r.Context())
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.ok(w, http.StatusOK, o)
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req updateStatusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, http.StatusBadRequest, domain.KindValidation, "invalid json")
		return
	}

	o, err := h.Orders.UpdateOrderStatus(r.Context(), id, domain.Status(strings.TrimSpace(req.Status)))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.invalidate(r.Context(), id)
	h.ok(w, http.StatusOK, o)
}

func (h *OrdersHandler) deleteOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.Orders.DeleteOrder(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.invalidate(r.Context(), id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *OrdersHandler) lowStock(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r.URL.Query().Get("limit"))
	if err != nil || limit < 0 {
		h.fail(w, http.StatusBadRequest, domain.KindValidation, "limit must be a non-negative integer")
		return
	}
	if limit == 0 {
		limit = 50
	}
	entries, err := h.LowStock.List(r.Context(), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.ok(w, http.StatusOK, entries)
}

func (h *OrdersHandler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		h.fail(w, http.StatusBadRequest, domain.KindValidation, "order id must be a positive integer")
		return 0, false
	}
	return id, true
}

func (h *OrdersHandler) invalidate(ctx context.Context, id int64) {
	if h.Cache != nil {
		h.Cache.Invalidate(context.WithoutCancel(ctx), id)
	}
}

func (h *OrdersHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now().UTC()
}

func (h *OrdersHandler) log() *slog.Logger {
	if h.Log != nil {
		return h.Log
	}
	return slog.Default()
}

func queryInt(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}
