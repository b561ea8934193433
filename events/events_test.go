package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func marshalJSON(env Envelope) (string, error) {
	b, err := json.Marshal(env)
	return string(b), err
}

func TestStoreFromCursorReturnsEventsAfter(t *testing.T) {
	s := NewStore(10)
	s.Append("a", `{"id":"a"}`)
	s.Append("b", `{"id":"b"}`)
	s.Append("c", `{"id":"c"}`)

	after := s.FromCursor("a")
	require.Len(t, after, 2)
	assert.Equal(t, "b", after[0].ID)
	assert.Equal(t, "c", after[1].ID)
}

func TestStoreFromCursorUnknownIDReturnsEmpty(t *testing.T) {
	s := NewStore(10)
	s.Append("a", `{}`)
	assert.Empty(t, s.FromCursor("unknown"))
}

func TestStoreEvictsOldestWhenFull(t *testing.T) {
	s := NewStore(2)
	s.Append("a", `{}`)
	s.Append("b", `{}`)
	s.Append("c", `{}`)

	last := s.Last(10)
	require.Len(t, last, 2)
	assert.Equal(t, "b", last[0].ID)
	assert.Equal(t, "c", last[1].ID)
}

func TestBroadcasterEmitDeliversToSubscriber(t *testing.T) {
	b := NewBroadcaster()
	ch, cancel := b.Subscribe()
	defer cancel()

	env := New(TypePaymentVerificationSucceeded, VerificationSucceededData{Payer: "p", Amount: "1", Network: "solana"})
	b.Emit(env, marshalJSON)

	received := <-ch
	assert.Equal(t, env.ID, received.ID)
	assert.Equal(t, 1, b.Store().Len())
}

func TestBroadcasterReplayPrefersCursorOverLast(t *testing.T) {
	b := NewBroadcaster()
	b.Emit(New(TypePaymentVerificationSucceeded, nil), marshalJSON)
	first := b.Store().Last(1)[0]
	b.Emit(New(TypePaymentVerificationSucceeded, nil), marshalJSON)

	replay := b.Replay(first.ID, 5)
	assert.Len(t, replay, 1)

	replay = b.Replay("", 1)
	assert.Len(t, replay, 1)

	replay = b.Replay("", 0)
	assert.Empty(t, replay)
}
