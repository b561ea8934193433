package events

import (
	"context"

	"github.com/txtx/moneymq-go/ledger"
)

// hardReplayCap bounds a stateful catch-up fetch regardless of how far
// behind a returning stream has fallen.
const hardReplayCap = 10000

// StatefulBroadcaster persists every emitted event to the ledger's
// cloud-event log, scoped by (streamID, paymentStackID, isSandbox), and
// advances a durable per-scope cursor as each event is delivered.
type StatefulBroadcaster struct {
	ledger *ledger.Ledger
}

// NewStatefulBroadcaster wraps a ledger for durable, cursor-based replay.
func NewStatefulBroadcaster(l *ledger.Ledger) *StatefulBroadcaster {
	return &StatefulBroadcaster{ledger: l}
}

// Persist appends env to the durable log for the given scope.
func (b *StatefulBroadcaster) Persist(ctx context.Context, streamID, paymentStackID string, isSandbox bool, env Envelope) error {
	_, err := b.ledger.AppendEvent(ctx, streamID, paymentStackID, isSandbox, env.ID, env.Type, env)
	return err
}

// ReplayResult is the catch-up batch handed to a reconnecting client;
// each StoredEvent carries the sequence number to pass to Ack once delivered.
type ReplayResult struct {
	Events []ledger.StoredEvent
}

// Replay resolves a reconnecting client's catch-up window for a scope.
// An explicit client cursor is honored verbatim with the given limit;
// otherwise a previously durable cursor means "every event since", up to
// the hard cap; a brand-new stream gets only the last N.
func (b *StatefulBroadcaster) Replay(ctx context.Context, streamID, paymentStackID string, isSandbox bool, clientCursor *int64, lastN int) (ReplayResult, error) {
	if clientCursor != nil {
		limit := lastN
		if limit <= 0 || limit > hardReplayCap {
			limit = hardReplayCap
		}
		evts, err := b.ledger.EventsAfter(ctx, streamID, paymentStackID, isSandbox, *clientCursor, limit)
		return ReplayResult{Events: evts}, err
	}

	cursor, err := b.ledger.CursorFor(ctx, streamID, paymentStackID, isSandbox)
	if err != nil {
		return ReplayResult{}, err
	}
	if cursor > 0 {
		evts, err := b.ledger.EventsAfter(ctx, streamID, paymentStackID, isSandbox, cursor, hardReplayCap)
		return ReplayResult{Events: evts}, err
	}

	evts, err := b.ledger.LastEvents(ctx, streamID, paymentStackID, isSandbox, lastN)
	return ReplayResult{Events: evts}, err
}

// Ack advances the durable cursor for a scope to seq, called after an
// event has been handed to the client. Delivery is at-least-once: a
// client that disconnects between receipt and the next Ack will see that
// event again on reconnect, which the receiving SDK must tolerate.
func (b *StatefulBroadcaster) Ack(ctx context.Context, streamID, paymentStackID string, isSandbox bool, seq int64) error {
	return b.ledger.AdvanceCursor(ctx, streamID, paymentStackID, isSandbox, seq)
}
