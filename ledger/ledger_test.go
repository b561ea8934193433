package ledger

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/txtx/moneymq-go"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestInsertAndGetTransaction(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	id, err := l.InsertTransaction(ctx, NewTransaction{
		Amount:                 "1000000",
		Currency:               "USDC",
		X402PaymentRequirement: "req-json",
		X402VerifyRequest:      "verify-req-json",
		X402VerifyResponse:     "verify-resp-json",
		PaymentHash:            "hash-1",
		FacilitatorID:          "acme",
		IsSandbox:              false,
	})
	require.NoError(t, err)

	tx, err := l.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "1000000", tx.Amount)
	assert.Equal(t, "hash-1", *tx.PaymentHash)
	assert.False(t, tx.IsSandbox)
}

func TestInsertTransactionRejectsDuplicatePaymentHash(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	newTx := NewTransaction{
		Amount:                 "1000000",
		X402PaymentRequirement: "req-json",
		PaymentHash:            "dup-hash",
		FacilitatorID:          "acme",
	}
	_, err := l.InsertTransaction(ctx, newTx)
	require.NoError(t, err)

	_, err = l.InsertTransaction(ctx, newTx)
	require.Error(t, err)
	assert.True(t, x402.IsSequenceConflict(err), "duplicate payment hash should map to CodeSequenceConflict, got %v", err)
}

func TestInsertTransactionMapsOtherFailuresToInternal(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	require.NoError(t, l.Close())

	_, err := l.InsertTransaction(ctx, NewTransaction{
		Amount:                 "1000000",
		X402PaymentRequirement: "req-json",
		PaymentHash:            "hash-after-close",
		FacilitatorID:          "acme",
	})
	require.Error(t, err)
	assert.False(t, x402.IsSequenceConflict(err))
	assert.True(t, x402.HasCode(err, x402.CodeInternal))
}

func TestIsAlreadySettled(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	id, err := l.InsertTransaction(ctx, NewTransaction{
		Amount:                 "1000000",
		X402PaymentRequirement: "req-json",
		PaymentHash:            "hash-settle",
		FacilitatorID:          "acme",
	})
	require.NoError(t, err)

	settled, err := l.IsAlreadySettled(ctx, "hash-settle")
	require.NoError(t, err)
	assert.False(t, settled)

	require.NoError(t, l.UpdateAfterSettlement(ctx, id, "settled", "sig123", "settle-req", "settle-resp"))

	settled, err = l.IsAlreadySettled(ctx, "hash-settle")
	require.NoError(t, err)
	assert.True(t, settled)
}

func TestListPageHasMore(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := l.InsertTransaction(ctx, NewTransaction{
			Amount:                 "1",
			X402PaymentRequirement: "req",
			PaymentHash:            string(rune('a' + i)),
			FacilitatorID:          "acme",
		})
		require.NoError(t, err)
	}

	page, hasMore, err := l.ListPage(ctx, "acme", false, 2, 0)
	require.NoError(t, err)
	assert.Len(t, page, 2)
	assert.True(t, hasMore)

	rest, hasMore, err := l.ListPage(ctx, "acme", false, 2, page[len(page)-1].ID)
	require.NoError(t, err)
	assert.Len(t, rest, 1)
	assert.False(t, hasMore)
}

func TestEventAppendAndCursorAdvance(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	seq1, err := l.AppendEvent(ctx, "stream-1", "stack-1", false, "evt-1", "payment:verified", map[string]string{"a": "b"})
	require.NoError(t, err)
	_, err = l.AppendEvent(ctx, "stream-1", "stack-1", false, "evt-2", "payment:settled", map[string]string{"c": "d"})
	require.NoError(t, err)

	cursor, err := l.CursorFor(ctx, "stream-1", "stack-1", false)
	require.NoError(t, err)
	assert.Equal(t, int64(0), cursor)

	events, err := l.EventsAfter(ctx, "stream-1", "stack-1", false, seq1-1, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)

	require.NoError(t, l.AdvanceCursor(ctx, "stream-1", "stack-1", false, events[0].Seq))
	cursor, err = l.CursorFor(ctx, "stream-1", "stack-1", false)
	require.NoError(t, err)
	assert.Equal(t, events[0].Seq, cursor)

	// Cursor must never move backward.
	require.NoError(t, l.AdvanceCursor(ctx, "stream-1", "stack-1", false, events[0].Seq-1))
	cursor, err = l.CursorFor(ctx, "stream-1", "stack-1", false)
	require.NoError(t, err)
	assert.Equal(t, events[0].Seq, cursor)
}

func TestFindOrCreateCustomerIsIdempotent(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	id1, err := l.FindOrCreateCustomer(ctx, "addr-1", nil)
	require.NoError(t, err)
	id2, err := l.FindOrCreateCustomer(ctx, "addr-1", nil)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
}
