package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("RAZORPAY_KEY_ID", "")
	t.Setenv("RAZORPAY_KEY_SECRET", "")
	t.Setenv("STRIPE_SECRET_KEY", "")
	t.Setenv("LEDGER_RPC_URL", "")

	cfg := LoadConfig()

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 3, cfg.Ledger.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Ledger.BackoffBase)
	assert.Equal(t, "INR", cfg.Exchange.BaseCurrency)
	assert.False(t, cfg.Razorpay.Configured())
	assert.False(t, cfg.Stripe.Configured())
	assert.False(t, cfg.Ledger.Configured())
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("RAZORPAY_KEY_ID", "rzp_test")
	t.Setenv("RAZORPAY_KEY_SECRET", "secret")
	t.Setenv("LEDGER_BACKOFF_BASE", "250ms")
	t.Setenv("LEDGER_MAX_ATTEMPTS", "not-a-number")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,,")
	t.Setenv("RECEIPT_PUBLIC_URL", "https://fees.example.edu/")
	t.Setenv("RECEIPT_SIGNING_KEY", "receipt-key")

	cfg := LoadConfig()

	assert.True(t, cfg.Razorpay.Configured())
	assert.Equal(t, 250*time.Millisecond, cfg.Ledger.BackoffBase)
	assert.Equal(t, 3, cfg.Ledger.MaxAttempts)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "https://fees.example.edu", cfg.Receipt.PublicURL)
	assert.Equal(t, "receipt-key", cfg.Receipt.SigningKey)
}
