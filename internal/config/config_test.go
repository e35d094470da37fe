package config

import (
	"github.com/ariefcatur/resto-pos/internal/payment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", " k1:9092, ,k2:9092 ")
	t.Setenv("LOCK_TIMEOUT", "750ms")
	t.Setenv("OUTBOX_BATCH_SIZE", "nope")

	cfg := Load()
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 750*time.Millisecond, cfg.LockTimeout)
	assert.Equal(t, 100, cfg.OutboxBatchSize)
	assert.Equal(t, "postgres", cfg.Store)
}

func TestParsePolicy_OverridesOnlyGivenKeys(t *testing.T) {
	p, err := ParsePolicy([]byte(`
pricing:
  vat_rate: 0.11
  default_discount_percent: "5"
  earn_base: BEFORE_VAT
  scale: 2
orders:
  allow_walk_up_settlement: true
`))
	require.NoError(t, err)
	assert.Equal(t, "0.11", p.Pricing.VATRate.String())
	assert.Equal(t, "5", p.Pricing.DefaultDiscountPercent.String())
	assert.Equal(t, "1000", p.Pricing.PointValue.String())
	assert.Equal(t, payment.EarnOnBeforeVAT, p.Pricing.EarnBase)
	assert.Equal(t, int32(2), p.Pricing.Scale)
	assert.True(t, p.Orders.AllowWalkUpSettlement)
	assert.True(t, p.Orders.AllowItemCancel)
}

func TestParsePolicy_Rejects(t *testing.T) {
	for name, doc := range map[string]string{
		"bad decimal":   "pricing:\n  vat_rate: eight\n",
		"negative":      "pricing:\n  point_value: -1\n",
		"unknown base":  "pricing:\n  earn_base: GROSS\n",
		"unknown field": "pricing:\n  tip_rate: 0.1\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParsePolicy([]byte(doc))
			require.Error(t, err)
		})
	}
}

func TestLoadPolicy(t *testing.T) {
	p, err := LoadPolicy("")
	require.NoError(t, err)
	assert.Equal(t, DefaultPolicy(), p)

	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("orders:\n  allow_item_cancel: false\n"), 0o600))
	p, err = LoadPolicy(path)
	require.NoError(t, err)
	assert.False(t, p.Orders.AllowItemCancel)

	_, err = LoadPolicy(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
