package gate

import (
	"encoding/json"
	"strings"

	"github.com/txtx/moneymq-go/catalog"
)

// meterEventBody is the minimal shape the gate needs out of a meter-event
// request body; unrecognized fields are ignored.
type meterEventBody struct {
	EventName string `json:"eventName"`
}

// subscriptionBody is the minimal shape the gate needs out of a
// subscription request body.
type subscriptionBody struct {
	Customer string   `json:"customer"`
	PriceIDs []string `json:"priceIds"`
}

// gateInputs is what the gate needs to build payment requirements:
// description for the requirement, the amount in cents, and the product
// tag carried through to the facilitator's extra.product.
type gateInputs struct {
	description string
	amountCents int64
	productID   string
}

// resolveGateInputs implements spec 4.5's priority-ordered input
// resolution. ok is false when none of the four shapes match and the
// gate should pass the request through untouched.
func resolveGateInputs(cat catalog.Catalog, body []byte, path string) (gateInputs, bool) {
	var meterEvent meterEventBody
	if json.Unmarshal(body, &meterEvent) == nil && meterEvent.EventName != "" {
		if amount, product, ok := cat.MeterDefault(meterEvent.EventName); ok {
			return gateInputs{description: meterEvent.EventName, amountCents: amount, productID: product}, true
		}
	}

	var subscription subscriptionBody
	if json.Unmarshal(body, &subscription) == nil && subscription.Customer != "" && len(subscription.PriceIDs) > 0 {
		if amount, product, ok := cat.SubscriptionPrice(subscription.PriceIDs[0]); ok {
			return gateInputs{description: "Subscription", amountCents: amount, productID: product}, true
		}
	}

	if intentID, ok := paymentIntentIDFromPath(path); ok {
		if intent, ok := cat.PaymentIntent(intentID); ok {
			return gateInputs{
				description: intentDescription(intent),
				amountCents: intent.AmountCents,
				productID:   intentProductID(intent),
			}, true
		}
	}

	if productID, ok := productAccessIDFromPath(path); ok {
		if amount, ok := cat.ProductFirstActivePrice(productID); ok {
			return gateInputs{description: "Product access", amountCents: amount, productID: productID}, true
		}
	}

	return gateInputs{}, false
}

func intentDescription(intent catalog.PaymentIntent) string {
	if intent.Description != "" {
		return intent.Description
	}
	return "Payment intent " + intent.ID
}

// intentProductID follows spec 4.5's fallback chain: stored line items,
// then the intent's product_id metadata, then the intent id itself.
func intentProductID(intent catalog.PaymentIntent) string {
	if len(intent.LineItems) > 0 {
		return intent.LineItems[0].ProductID
	}
	if intent.ProductID != "" {
		return intent.ProductID
	}
	return intent.ID
}

// paymentIntentIDFromPath matches "/payment_intents/{id}/confirm" and its
// "/v1/..." prefixed legacy form.
func paymentIntentIDFromPath(path string) (string, bool) {
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	if len(parts) >= 1 && parts[0] == "v1" {
		parts = parts[1:]
	}
	if len(parts) == 3 && parts[0] == "payment_intents" && parts[2] == "confirm" {
		return parts[1], true
	}
	return "", false
}

// productAccessIDFromPath matches "/products/{id}/access".
func productAccessIDFromPath(path string) (string, bool) {
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	if len(parts) == 3 && parts[0] == "products" && parts[2] == "access" {
		return parts[1], true
	}
	return "", false
}
