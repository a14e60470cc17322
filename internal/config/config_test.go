package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-storefront-orders/internal/domain"
)

var configKeys = []string{
	"HTTP_ADDR", "POSTGRES_DSN", "REDIS_ADDR", "KAFKA_BROKERS", "SERVICE_NAME",
	"STORE_DRIVER", "ORDER_STATUSES", "TX_TIMEOUT", "TX_RETRIES", "ORDER_CACHE_TTL",
	"MIGRATE_ON_START", "LOW_STOCK_THRESHOLD", "STOCKWATCH_GROUP", "STOCKWATCH_WORKERS",
	"LOG_LEVEL", "LOG_FORMAT", "OTEL_EXPORTER_OTLP_ENDPOINT",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range configKeys {
		t.Setenv(k, "")
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := fromEnv()
	require.NoError(t, err)
	assert.Equal(t, ":8081", cfg.HTTPAddr)
	assert.Equal(t, "postgres", cfg.StoreDriver)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Empty(t, cfg.RedisAddr)
	assert.Equal(t, 5*time.Second, cfg.TxTimeout)
	assert.Equal(t, 3, cfg.TxRetries)
	assert.Equal(t, 5, cfg.LowStockThreshold)
	assert.Equal(t, 8, cfg.StockwatchWorkers)
	assert.False(t, cfg.MigrateOnStart)
	assert.Equal(t, domain.DefaultStatuses, cfg.Statuses.List())
}

func TestOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_DRIVER", "Memory")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("ORDER_STATUSES", "Pending,paid,shipped,delivered,cancelled")
	t.Setenv("TX_TIMEOUT", "750ms")
	t.Setenv("TX_RETRIES", "0")
	t.Setenv("MIGRATE_ON_START", "true")

	cfg, err := fromEnv()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.StoreDriver)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	assert.True(t, cfg.Statuses.Valid("paid"))
	assert.True(t, cfg.Statuses.Valid(domain.StatusPending))
	assert.False(t, cfg.Statuses.Valid(domain.StatusPreparing))
	assert.Equal(t, 750*time.Millisecond, cfg.TxTimeout)
	assert.Zero(t, cfg.TxRetries)
	assert.True(t, cfg.MigrateOnStart)
}

func TestInvalidValues(t *testing.T) {
	cases := map[string]map[string]string{
		"driver":           {"STORE_DRIVER": "mysql"},
		"statuses missing": {"ORDER_STATUSES": "pending,shipped"},
		"statuses dup":     {"ORDER_STATUSES": "pending,delivered,cancelled,pending"},
		"negative retries": {"TX_RETRIES": "-1"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := fromEnv()
			assert.Error(t, err)
		})
	}
}

func TestInvalidValuesAreJoined(t *testing.T) {
	clearEnv(t)
	t.Setenv("TX_TIMEOUT", "soon")
	t.Setenv("STOCKWATCH_WORKERS", "many")
	t.Setenv("MIGRATE_ON_START", "maybe")

	_, err := fromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TX_TIMEOUT")
	assert.Contains(t, err.Error(), "STOCKWATCH_WORKERS")
	assert.Contains(t, err.Error(), "MIGRATE_ON_START")
}
