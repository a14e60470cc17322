package telemetry

import (
	"context"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/ariefcatur/go-storefront-orders/internal/domain"
)

// InitMeterProvider registers a Prometheus-backed MeterProvider and returns the
// /metrics handler and the provider, whose Shutdown the caller owns.
func InitMeterProvider(serviceName, serviceVersion string) (http.Handler, *sdkmetric.MeterProvider, error) {
	reg := promclient.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(reg))
	if err != nil {
		return nil, nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(newResource(serviceName, serviceVersion)),
	)
	otel.SetMeterProvider(mp)

	if err := runtime.Start(runtime.WithMeterProvider(mp)); err != nil {
		return nil, nil, err
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), mp, nil
}

// Metrics records order lifecycle operations and stock movement.
type Metrics struct {
	ops      metric.Int64Counter
	duration metric.Float64Histogram
	stock    metric.Int64Counter
}

func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter("storefront/orders")

	ops, err := meter.Int64Counter("orders.operations",
		metric.WithDescription("Order lifecycle operations by outcome"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("orders.operation.duration",
		metric.WithDescription("Order lifecycle operation latency"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	stock, err := meter.Int64Counter("inventory.stock.units",
		metric.WithDescription("Stock units reserved or restored"))
	if err != nil {
		return nil, err
	}
	return &Metrics{ops: ops, duration: duration, stock: stock}, nil
}

func (m *Metrics) ObserveOp(op string, kind domain.Kind, elapsed time.Duration) {
	outcome := "ok"
	if kind != "" {
		outcome = string(kind)
	}
	attrs := metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("outcome", outcome),
	)
	ctx := context.Background()
	m.ops.Add(ctx, 1, attrs)
	m.duration.Record(ctx, elapsed.Seconds(), attrs)
}

func (m *Metrics) StockMoved(direction string, units int) {
	m.stock.Add(context.Background(), int64(units),
		metric.WithAttributes(attribute.String("direction", direction)))
}
