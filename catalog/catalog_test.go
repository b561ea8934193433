package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStaticCatalogMeterDefault(t *testing.T) {
	c := NewStaticCatalog().WithMeter("api.call", 10, "api-credits")
	amount, product, ok := c.MeterDefault("api.call")
	assert.True(t, ok)
	assert.Equal(t, int64(10), amount)
	assert.Equal(t, "api-credits", product)

	_, _, ok = c.MeterDefault("unknown")
	assert.False(t, ok)
}

func TestStaticCatalogSubscriptionPrice(t *testing.T) {
	c := NewStaticCatalog().WithPrice("price_pro", 2900, "weather-pro")
	amount, product, ok := c.SubscriptionPrice("price_pro")
	assert.True(t, ok)
	assert.Equal(t, int64(2900), amount)
	assert.Equal(t, "weather-pro", product)
}

func TestStaticCatalogPaymentIntent(t *testing.T) {
	intent := PaymentIntent{ID: "pi_1", Description: "one-off", AmountCents: 500, ProductID: "widget"}
	c := NewStaticCatalog().WithIntent(intent)

	got, ok := c.PaymentIntent("pi_1")
	assert.True(t, ok)
	assert.Equal(t, intent, got)

	_, ok = c.PaymentIntent("pi_missing")
	assert.False(t, ok)
}

func TestStaticCatalogProductFirstActivePrice(t *testing.T) {
	c := NewStaticCatalog().WithProductPrice("weather-pro", 2900)
	amount, ok := c.ProductFirstActivePrice("weather-pro")
	assert.True(t, ok)
	assert.Equal(t, int64(2900), amount)
}

func TestStaticCatalogAssetDecimals(t *testing.T) {
	c := NewStaticCatalog().WithAssetDecimals("solana", "EPjF...", 6)
	decimals, ok := c.AssetDecimals("solana", "EPjF...")
	assert.True(t, ok)
	assert.Equal(t, 6, decimals)

	_, ok = c.AssetDecimals("solana", "unknown-mint")
	assert.False(t, ok)
}
