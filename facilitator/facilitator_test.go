package facilitator

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/txtx/moneymq-go"
	"github.com/txtx/moneymq-go/channels"
	"github.com/txtx/moneymq-go/events"
	"github.com/txtx/moneymq-go/ledger"
	"github.com/txtx/moneymq-go/signer"
)

func newTestFacilitator(t *testing.T) (*Facilitator, *signer.MockSigner) {
	t.Helper()
	l, err := ledger.Open(filepath.Join(t.TempDir(), "facilitator.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	mock := &signer.MockSigner{AddressValue: "FeePayer11111111111111111111111111111111", Network: x402.NetworkSolana}
	pool := signer.NewPool(mock)
	chMgr := channels.NewManager("", l, nil)
	bus := events.NewBroadcaster()

	f := New(Config{FacilitatorID: "stack-1", PaymentStackID: "stack-1", IsSandbox: true}, pool, l, chMgr, bus, nil, nil)
	return f, mock
}

func buildTestTransaction(t *testing.T, feePayer, payer solana.PublicKey) *solana.Transaction {
	t.Helper()
	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			solana.NewInstruction(solana.SystemProgramID, solana.AccountMetaSlice{
				{PublicKey: feePayer, IsSigner: true, IsWritable: true},
				{PublicKey: payer, IsSigner: true, IsWritable: true},
			}, []byte{}),
		},
		solana.Hash{1, 2, 3},
		solana.TransactionPayer(feePayer),
	)
	require.NoError(t, err)
	return tx
}

func TestSupportedListsConfiguredNetwork(t *testing.T) {
	f, mock := newTestFacilitator(t)
	resp := f.Supported(context.Background())
	require.Len(t, resp.Kinds, 1)
	assert.Equal(t, x402.NetworkSolana, resp.Kinds[0].Network)
	assert.Equal(t, mock.AddressValue, resp.Kinds[0].Extra.FeePayer)
}

func TestVerifyRejectsNetworkMismatch(t *testing.T) {
	f, mock := newTestFacilitator(t)
	feePayer := solana.MustPublicKeyFromBase58(mock.AddressValue)
	payer := solana.NewWallet().PublicKey()
	tx := buildTestTransaction(t, feePayer, payer)

	data, err := tx.MarshalBinary()
	require.NoError(t, err)
	encoded := base58.Encode(data)

	req := x402.VerifyRequest{
		X402Version: x402.Version,
		PaymentPayload: x402.PaymentPayload{
			X402Version: x402.Version,
			Scheme:      x402.SchemeExact,
			Network:     "ethereum",
			Payload:     x402.ExactSolanaPayload{Transaction: encoded},
		},
		PaymentRequirements: x402.PaymentRequirements{
			Scheme:            x402.SchemeExact,
			Network:           x402.NetworkSolana,
			MaxAmountRequired: "1000",
		},
	}

	resp, err := f.Verify(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, resp.IsValid)
	assert.Equal(t, x402.ReasonInvalidNetwork, resp.InvalidReason)
}
