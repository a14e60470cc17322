// Package stockwatch keeps the low-stock index current by following order lifecycle events.
package stockwatch

import (
	"context"
	"errors"
	"log/slog"
	"slices"

	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/ariefcatur/go-storefront-orders/internal/kafka"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
)

type Deduper interface {
	FirstSeen(ctx context.Context, eventID string) (bool, error)
	Forget(ctx context.Context, eventID string) error
}

type StockReader interface {
	Stocks(ctx context.Context, ids []int64) (map[int64]int, error)
}

type LowStockIndex interface {
	Record(ctx context.Context, ids []int64, stocks map[int64]int) error
}

type Service struct {
	Dedup    Deduper
	Stocks   StockReader
	LowStock LowStockIndex
	Log      *slog.Logger
}

// HandleOrderEvent dipasang sebagai handler consumer.
func (s *Service) HandleOrderEvent(ctx context.Context, m kafkago.Message) error {
	env, err := kafkax.DecodeEnvelope(m.Value)
	if err != nil {
		s.log().WarnContext(ctx, "skipping undecodable event", "offset", m.Offset, "err", err)
		return nil
	}

	ids, err := affectedProducts(env)
	if err != nil {
		s.log().WarnContext(ctx, "skipping event with bad payload", "event_id", env.EventID, "event_type", env.EventType, "err", err)
		return nil
	}
	if len(ids) == 0 {
		return nil
	}

	first, err := s.Dedup.FirstSeen(ctx, env.EventID)
	if err != nil {
		return err
	}
	if !first {
		s.log().DebugContext(ctx, "duplicate event", "event_id", env.EventID)
		return nil
	}

	if err := s.refresh(ctx, ids); err != nil {
		// let a redelivery try again
		if ferr := s.Dedup.Forget(ctx, env.EventID); ferr != nil {
			err = errors.Join(err, ferr)
		}
		return err
	}
	s.log().InfoContext(ctx, "stock levels refreshed",
		"event_id", env.EventID, "event_type", env.EventType, "order_id", env.CorrelationID, "products", len(ids))
	return nil
}

func (s *Service) refresh(ctx context.Context, ids []int64) error {
	stocks, err := s.Stocks.Stocks(ctx, ids)
	if err != nil {
		return err
	}
	return s.LowStock.Record(ctx, ids, stocks)
}

func affectedProducts(env orders.Envelope) ([]int64, error) {
	var ids []int64
	switch env.EventType {
	case orders.EventOrderCreated:
		p, err := kafkax.UnwrapPayload[orders.OrderCreatedPayload](env.Payload)
		if err != nil {
			return nil, err
		}
		ids = p.ProductIDs()
	case orders.EventOrderStatusChanged:
		p, err := kafkax.UnwrapPayload[orders.OrderStatusChangedPayload](env.Payload)
		if err != nil {
			return nil, err
		}
		ids = p.ProductIDs()
	case orders.EventOrderDeleted:
		p, err := kafkax.UnwrapPayload[orders.OrderDeletedPayload](env.Payload)
		if err != nil {
			return nil, err
		}
		ids = p.ProductIDs()
	default:
		return nil, nil
	}
	slices.Sort(ids)
	return slices.Compact(ids), nil
}

func (s *Service) log() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}
