package x402

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

// PaymentHash computes the canonical idempotency key for a payment: the
// SHA-256 hash, hex-encoded, of the transaction's message bytes with
// signatures excluded (header, account keys, recent blockhash,
// instructions). Verify and settle carry the same message with
// potentially different signer sets, so the hash is stable across both
// phases and across whatever subset of signatures is attached when each
// phase runs.
func PaymentHash(base58Transaction string) (string, error) {
	raw, err := base58.Decode(base58Transaction)
	if err != nil {
		return "", NewPaymentError(CodeClientProtocol, "invalid base58 transaction", err)
	}
	tx, err := solana.TransactionFromDecoder(solana.NewBinDecoder(raw))
	if err != nil {
		return "", NewPaymentError(CodeClientProtocol, "invalid transaction encoding", err)
	}
	messageBytes, err := tx.Message.MarshalBinary()
	if err != nil {
		return "", NewPaymentError(CodeInternal, "failed to marshal transaction message", err)
	}
	sum := sha256.Sum256(messageBytes)
	return hex.EncodeToString(sum[:]), nil
}

// PayerFromTransaction recovers the payer address from a decoded
// transaction's account keys. By x402-on-Solana convention the payer is
// the signer at account index 1 (index 0 is the fee payer, attached by the
// facilitator's signer pool, not the client).
func PayerFromTransaction(base58Transaction string) (string, error) {
	raw, err := base58.Decode(base58Transaction)
	if err != nil {
		return "", NewPaymentError(CodeClientProtocol, "invalid base58 transaction", err)
	}
	tx, err := solana.TransactionFromDecoder(solana.NewBinDecoder(raw))
	if err != nil {
		return "", NewPaymentError(CodeClientProtocol, "invalid transaction encoding", err)
	}
	if len(tx.Message.AccountKeys) < 2 {
		return "", NewPaymentError(CodeClientProtocol, fmt.Sprintf("transaction has %d account keys, need at least 2", len(tx.Message.AccountKeys)), nil)
	}
	return tx.Message.AccountKeys[1].String(), nil
}

// DecodeTransaction is a thin wrapper used by the signer pool and
// facilitator to get a mutable *solana.Transaction for fee-payer signature
// attachment and submission.
func DecodeTransaction(base58Transaction string) (*solana.Transaction, error) {
	raw, err := base58.Decode(base58Transaction)
	if err != nil {
		return nil, NewPaymentError(CodeClientProtocol, "invalid base58 transaction", err)
	}
	tx, err := solana.TransactionFromDecoder(solana.NewBinDecoder(raw))
	if err != nil {
		return nil, NewPaymentError(CodeClientProtocol, "invalid transaction encoding", err)
	}
	return tx, nil
}
