// Package channels implements per-payment-hash pub/sub sinks used to
// push payment lifecycle notifications and signed receipts to a
// connected SDK in real time.
package channels

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/txtx/moneymq-go/ledger"
)

// ringSize bounds how many recent events each channel keeps for
// replay=N catch-up.
const ringSize = 100

// broadcastCapacity is the live-delivery buffer per channel.
const broadcastCapacity = 100

// Event types a ChannelEvent may carry.
const (
	TypePaymentVerified      = "payment:verified"
	TypePaymentSettled       = "payment:settled"
	TypePaymentFailed        = "payment:failed"
	TypeTransactionAttach    = "transaction:attach"
	TypeTransactionCompleted = "transaction:completed"
)

// Event is the envelope delivered over a channel: id, type, time, and a
// type-specific data payload.
type Event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Time string `json:"time"`
	Data any    `json:"data"`
}

func newEvent(eventType string, data any) Event {
	return Event{ID: uuid.NewString(), Type: eventType, Time: time.Now().UTC().Format(time.RFC3339Nano), Data: data}
}

// NewEvent builds a channel Event, for callers outside this package
// (e.g. the facilitator) composing events to publish on a channel.
func NewEvent(eventType string, data any) Event {
	return newEvent(eventType, data)
}

// PaymentVerifiedData is the Event.Data shape for TypePaymentVerified.
type PaymentVerifiedData struct {
	Payer    string `json:"payer"`
	Amount   string `json:"amount"`
	Currency string `json:"currency,omitempty"`
	Network  string `json:"network"`
}

// PaymentSettledData is the Event.Data shape for TypePaymentSettled.
type PaymentSettledData struct {
	Payer     string `json:"payer"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency,omitempty"`
	Network   string `json:"network"`
	Signature string `json:"signature"`
}

// PaymentFailedData is the Event.Data shape for TypePaymentFailed.
type PaymentFailedData struct {
	Reason string `json:"reason"`
}

// TransactionCompletedData carries the signed receipt JWT.
type TransactionCompletedData struct {
	Receipt string `json:"receipt"`
}

// Broadcaster is a single channel's pub/sub sink: a bounded ring for
// replay and a live broadcast fan-out.
type Broadcaster struct {
	mu       sync.Mutex
	ring     []Event
	subs     map[int]chan Event
	nextSubID int
}

func newBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan Event)}
}

// Subscribe registers for live events on this channel and returns the
// current subscriber count including the new one.
func (b *Broadcaster) Subscribe() (<-chan Event, func(), int) {
	ch := make(chan Event, broadcastCapacity)
	b.mu.Lock()
	id := b.nextSubID
	b.nextSubID++
	b.subs[id] = ch
	count := len(b.subs)
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		close(ch)
	}, count
}

// SubscriberCount reports how many live subscribers this channel has.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Publish stores the event in the ring and forwards it to live subscribers.
func (b *Broadcaster) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.ring) >= ringSize {
		b.ring = b.ring[1:]
	}
	b.ring = append(b.ring, e)

	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Last returns the last n events retained in the ring, oldest first.
func (b *Broadcaster) Last(n int) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n >= len(b.ring) {
		out := make([]Event, len(b.ring))
		copy(out, b.ring)
		return out
	}
	out := make([]Event, n)
	copy(out, b.ring[len(b.ring)-n:])
	return out
}

// BasketItem is a single item of a transaction's purchased basket, used
// both for receipt composition and transaction notifications.
type BasketItem struct {
	ProductID    string `json:"productId"`
	ExperimentID string `json:"experimentId,omitempty"`
	Features     any    `json:"features,omitempty"`
	Quantity     int    `json:"quantity"`
}

// PaymentDetails is the payment side of a receipt's claims.
type PaymentDetails struct {
	Payer         string `json:"payer"`
	TransactionID string `json:"transactionId"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	Network       string `json:"network"`
	Signature     string `json:"signature,omitempty"`
}

// ReceiptComposer signs a payment receipt JWT; implemented by the
// receipt package, kept as a narrow interface here to avoid import
// coupling between channels and the key material it doesn't otherwise need.
type ReceiptComposer interface {
	ComposeAndSign(basket []BasketItem, payment PaymentDetails, attachments map[string]map[string]any, paymentStackID, transactionID string) (string, error)
}

// TransactionNotification is broadcast on the global transactions stream
// consumed by backend processors.
type TransactionNotification struct {
	ID        string         `json:"id"`
	ChannelID string         `json:"channelId"`
	Basket    []BasketItem   `json:"basket"`
	Payment   PaymentDetails `json:"payment"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Manager owns all per-channel broadcasters plus the global transactions
// stream, and mediates authorization and receipt composition.
type Manager struct {
	mu       sync.RWMutex
	channels map[string]*Broadcaster
	txStream *Broadcaster

	secret   string
	ledger   *ledger.Ledger
	receipts ReceiptComposer
}

// NewManager builds a Manager. secret, if non-empty, gates channel
// access via a bearer token; ledger and receipts may be nil, in which
// case Attach always falls back to a raw transaction:attach event.
func NewManager(secret string, l *ledger.Ledger, receipts ReceiptComposer) *Manager {
	return &Manager{
		channels: make(map[string]*Broadcaster),
		txStream: newBroadcaster(),
		secret:   secret,
		ledger:   l,
		receipts: receipts,
	}
}

// Authorized reports whether token matches the manager's configured
// secret. With no secret configured, every request is authorized.
func (m *Manager) Authorized(token string) bool {
	if m.secret == "" {
		return true
	}
	return token == m.secret
}

func (m *Manager) channelFor(id string) *Broadcaster {
	m.mu.RLock()
	b, ok := m.channels[id]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.channels[id]; ok {
		return b
	}
	b = newBroadcaster()
	m.channels[id] = b
	return b
}

// Subscribe returns a live subscription to channelID, creating it lazily.
func (m *Manager) Subscribe(channelID string) (<-chan Event, func(), int) {
	return m.channelFor(channelID).Subscribe()
}

// Publish stores and broadcasts an event on channelID.
func (m *Manager) Publish(channelID string, e Event) {
	m.channelFor(channelID).Publish(e)
}

// Replay returns the last n events retained on channelID.
func (m *Manager) Replay(channelID string, n int) []Event {
	return m.channelFor(channelID).Last(n)
}

// TransactionsStream exposes the global transactions broadcaster.
func (m *Manager) TransactionsStream() *Broadcaster { return m.txStream }

// NotifyTransaction broadcasts n on the global transactions stream.
func (m *Manager) NotifyTransaction(n TransactionNotification) {
	m.txStream.Publish(newEvent("transaction", n))
}

// Attach composes and emits either a signed transaction:completed
// receipt, if the channel's payment hash resolves to a recorded
// transaction (settled or not) and a receipt composer is configured, or a raw
// transaction:attach event otherwise.
func (m *Manager) Attach(ctx context.Context, channelID, actorID string, data map[string]any) Event {
	var event Event

	if m.ledger != nil && m.receipts != nil {
		tx, err := m.ledger.FindByPaymentHash(ctx, channelID)
		if err == nil {
			basket := parseBasket(tx.Product)
			currency := ""
			if tx.Currency != nil {
				currency = *tx.Currency
			}
			signature := ""
			if tx.Signature != nil {
				signature = *tx.Signature
			}
			payer := ""
			if tx.X402VerifyResponse != nil {
				payer = extractPayer(*tx.X402VerifyResponse)
			}
			payment := PaymentDetails{
				Payer:         payer,
				TransactionID: channelID,
				Amount:        tx.Amount,
				Currency:      currency,
				Network:       "solana",
				Signature:     signature,
			}
			attachments := map[string]map[string]any{actorID: data}
			receipt, err := m.receipts.ComposeAndSign(basket, payment, attachments, tx.FacilitatorID, channelID)
			if err == nil {
				event = newEvent(TypeTransactionCompleted, TransactionCompletedData{Receipt: receipt})
				m.Publish(channelID, event)
				return event
			}
		}
	}

	event = newEvent(TypeTransactionAttach, data)
	m.Publish(channelID, event)
	return event
}

func parseBasket(productJSON *string) []BasketItem {
	if productJSON == nil {
		return nil
	}
	var items []BasketItem
	if err := json.Unmarshal([]byte(*productJSON), &items); err != nil {
		return nil
	}
	return items
}

// extractPayer best-effort pulls a "payer" field out of a stored verify
// response JSON blob; absence is not an error, just an empty payer.
func extractPayer(verifyResponseJSON string) string {
	var r struct {
		Payer string `json:"payer"`
	}
	if err := json.Unmarshal([]byte(verifyResponseJSON), &r); err != nil {
		return ""
	}
	return r.Payer
}
