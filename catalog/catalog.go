// Package catalog is the read-only product/price/meter/intent lookup
// surface the payment gate depends on. Syncing a catalog from a billing
// backend is out of scope here; only the contract and an in-memory
// implementation live in this package.
package catalog

import "sync"

// PaymentIntent is a process-wide record the gate consults when a
// request targets a payment-intent confirmation path.
type PaymentIntent struct {
	ID          string
	Description string
	AmountCents int64
	ProductID   string
	LineItems   []LineItem
}

// LineItem is one purchased item recorded against a PaymentIntent.
type LineItem struct {
	ProductID string
	Quantity  int
}

// Catalog is the read-only surface the gate needs to resolve a
// request's amount and product tag before building payment
// requirements.
type Catalog interface {
	// MeterDefault resolves a known meter event name to its default
	// charge and the product it's tagged with.
	MeterDefault(eventName string) (amountCents int64, productID string, ok bool)

	// SubscriptionPrice resolves a price id to its charge and product.
	SubscriptionPrice(priceID string) (amountCents int64, productID string, ok bool)

	// PaymentIntent looks up a previously created payment intent by id.
	PaymentIntent(id string) (PaymentIntent, bool)

	// ProductFirstActivePrice resolves a product id to the cents amount
	// of its first active price.
	ProductFirstActivePrice(productID string) (amountCents int64, ok bool)

	// AssetDecimals resolves a (network, mint) pair to the token's decimal count.
	AssetDecimals(network, mint string) (decimals int, ok bool)
}

type meterEntry struct {
	amountCents int64
	productID   string
}

type priceEntry struct {
	amountCents int64
	productID   string
}

type assetKey struct {
	network string
	mint    string
}

// StaticCatalog is an in-memory, map-backed Catalog for tests and for
// operators who configure the gate from a small static table instead of
// a live billing backend.
type StaticCatalog struct {
	mu       sync.RWMutex
	meters   map[string]meterEntry
	prices   map[string]priceEntry
	intents  map[string]PaymentIntent
	products map[string]int64
	assets   map[assetKey]int
}

// NewStaticCatalog builds an empty StaticCatalog ready for population
// via its With* setters.
func NewStaticCatalog() *StaticCatalog {
	return &StaticCatalog{
		meters:   make(map[string]meterEntry),
		prices:   make(map[string]priceEntry),
		intents:  make(map[string]PaymentIntent),
		products: make(map[string]int64),
		assets:   make(map[assetKey]int),
	}
}

// WithMeter registers a meter event's default charge and product tag.
func (c *StaticCatalog) WithMeter(eventName string, amountCents int64, productID string) *StaticCatalog {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.meters[eventName] = meterEntry{amountCents: amountCents, productID: productID}
	return c
}

// WithPrice registers a subscription price's charge and product.
func (c *StaticCatalog) WithPrice(priceID string, amountCents int64, productID string) *StaticCatalog {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[priceID] = priceEntry{amountCents: amountCents, productID: productID}
	return c
}

// WithIntent registers a payment intent.
func (c *StaticCatalog) WithIntent(intent PaymentIntent) *StaticCatalog {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.intents[intent.ID] = intent
	return c
}

// WithProductPrice registers a product's first active price, in cents.
func (c *StaticCatalog) WithProductPrice(productID string, amountCents int64) *StaticCatalog {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[productID] = amountCents
	return c
}

// WithAssetDecimals registers the decimal count for a (network, mint) pair.
func (c *StaticCatalog) WithAssetDecimals(network, mint string, decimals int) *StaticCatalog {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.assets[assetKey{network: network, mint: mint}] = decimals
	return c
}

// MeterDefault implements Catalog.
func (c *StaticCatalog) MeterDefault(eventName string) (int64, string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.meters[eventName]
	return e.amountCents, e.productID, ok
}

// SubscriptionPrice implements Catalog.
func (c *StaticCatalog) SubscriptionPrice(priceID string) (int64, string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.prices[priceID]
	return e.amountCents, e.productID, ok
}

// PaymentIntent implements Catalog.
func (c *StaticCatalog) PaymentIntent(id string) (PaymentIntent, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	intent, ok := c.intents[id]
	return intent, ok
}

// ProductFirstActivePrice implements Catalog.
func (c *StaticCatalog) ProductFirstActivePrice(productID string) (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	amount, ok := c.products[productID]
	return amount, ok
}

// AssetDecimals implements Catalog.
func (c *StaticCatalog) AssetDecimals(network, mint string) (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	decimals, ok := c.assets[assetKey{network: network, mint: mint}]
	return decimals, ok
}
