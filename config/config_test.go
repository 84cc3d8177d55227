package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DB_DRIVER", "")
	t.Setenv("LOCK_TIMEOUT_MS", "")

	cfg := Load()

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 5*time.Second, cfg.Business.LockTimeout)
	assert.Equal(t, 3, cfg.Business.PaymentRetries)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite3")
	t.Setenv("LOCK_TIMEOUT_MS", "250")
	t.Setenv("PAYMENT_RETRY_ATTEMPTS", "-1")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("REDIS_ENABLED", "false")

	cfg := Load()

	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, 250*time.Millisecond, cfg.Business.LockTimeout)
	assert.Equal(t, 3, cfg.Business.PaymentRetries, "non-positive values fall back to the default")
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.False(t, cfg.Redis.Enabled)
}
