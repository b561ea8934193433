// Package signer implements the facilitator's fee-payer signing pool: a
// set of keys willing to countersign an already client-built Solana
// transaction and submit it for settlement, selected by network match and
// priority.
package signer

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"sort"
	"strings"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"

	"github.com/txtx/moneymq-go"
)

// Signer is a fee payer able to countersign and submit a transaction the
// client has already built and partially signed.
type Signer interface {
	// Address is the fee payer's base58 public key, account index 0 of
	// every transaction this signer accepts.
	Address() string

	// SupportsNetwork reports whether this signer countersigns for network.
	SupportsNetwork(network x402.Network) bool

	// Priority orders signers within a Pool; lower values are preferred.
	Priority() int

	// Submit partially-signs tx with the fee payer key, sends it, and
	// returns its signature once the RPC node accepts it; it does not wait
	// for on-chain confirmation.
	Submit(ctx context.Context, tx *solana.Transaction) (string, error)
}

// Pool selects among configured signers and submits a decoded transaction
// through the chosen one. Selection is grounded on the round-robin /
// priority-ordered matching used by external x402 signer selectors: lowest
// priority number wins, ties rotated round-robin.
type Pool struct {
	mu      sync.Mutex
	signers []Signer
	next    int
}

// NewPool builds a Pool over the given signers, in configuration order.
func NewPool(signers ...Signer) *Pool {
	return &Pool{signers: signers}
}

// candidatesFor returns the signers supporting network, ordered by
// priority with configuration order kept among equals.
func (p *Pool) candidatesFor(network x402.Network) []Signer {
	var out []Signer
	for _, s := range p.signers {
		if s.SupportsNetwork(network) {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority() < out[j].Priority()
	})
	return out
}

// Select picks a signer for network: the lowest-priority match, with
// round-robin rotation among signers that share the lowest priority so a
// single hot key doesn't take every settlement.
func (p *Pool) Select(network x402.Network) (Signer, error) {
	candidates := p.candidatesFor(network)
	if len(candidates) == 0 {
		return nil, x402.NewPaymentError(x402.CodeConfigMismatch, "no signer configured for network", nil).
			WithDetails("network", network)
	}

	lowest := candidates[0].Priority()
	var tied []Signer
	for _, c := range candidates {
		if c.Priority() == lowest {
			tied = append(tied, c)
		}
	}

	p.mu.Lock()
	idx := p.next % len(tied)
	p.next++
	p.mu.Unlock()

	return tied[idx], nil
}

// Networks returns the distinct networks at least one configured signer
// supports, in configuration order, for enumerating GET /supported.
func (p *Pool) Networks() []x402.Network {
	seen := make(map[x402.Network]bool)
	var out []x402.Network
	for _, s := range p.signers {
		for _, n := range []x402.Network{x402.NetworkSolana} {
			if s.SupportsNetwork(n) && !seen[n] {
				seen[n] = true
				out = append(out, n)
			}
		}
	}
	return out
}

// FeePayerFor returns the base58 address the Pool would use for network,
// for publishing in PaymentRequirements.Extra.FeePayer and /supported.
func (p *Pool) FeePayerFor(network x402.Network) (string, error) {
	s, err := p.Select(network)
	if err != nil {
		return "", err
	}
	return s.Address(), nil
}

// Submit decodes transaction, selects a signer for network, and submits.
func (p *Pool) Submit(ctx context.Context, network x402.Network, base58Transaction string) (string, error) {
	tx, err := x402.DecodeTransaction(base58Transaction)
	if err != nil {
		return "", err
	}
	s, err := p.Select(network)
	if err != nil {
		return "", err
	}
	return s.Submit(ctx, tx)
}

// SolanaKeySigner is a Signer backed by a raw Solana private key, talking
// to an RPC endpoint to submit transactions.
type SolanaKeySigner struct {
	privateKey solana.PrivateKey
	rpcClient  *rpc.Client
	priority   int
}

// NewSolanaKeySigner builds a SolanaKeySigner from a base58-encoded
// Solana private key and an RPC endpoint URL.
func NewSolanaKeySigner(privateKeyBase58, rpcURL string) (*SolanaKeySigner, error) {
	pk, err := solana.PrivateKeyFromBase58(privateKeyBase58)
	if err != nil {
		return nil, x402.NewPaymentError(x402.CodeConfigMismatch, "invalid solana private key", err)
	}
	return &SolanaKeySigner{
		privateKey: pk,
		rpcClient:  rpc.New(rpcURL),
	}, nil
}

// WithPriority sets the signer's selection priority and returns it for chaining.
func (s *SolanaKeySigner) WithPriority(priority int) *SolanaKeySigner {
	s.priority = priority
	return s
}

func (s *SolanaKeySigner) Address() string { return s.privateKey.PublicKey().String() }

func (s *SolanaKeySigner) SupportsNetwork(network x402.Network) bool {
	return network == x402.NetworkSolana
}

func (s *SolanaKeySigner) Priority() int { return s.priority }

// Submit attaches the fee payer's signature to tx (the client has already
// signed as the transfer authority at account index 1) and sends it,
// waiting for the RPC node to accept it. This mirrors the compute-budget
// transaction shape a client builds client-side: account index 0 is the
// fee payer, which must be this signer's own key or PartialSign will
// silently skip it and leave the transaction unsigned for that slot.
func (s *SolanaKeySigner) Submit(ctx context.Context, tx *solana.Transaction) (string, error) {
	if len(tx.Message.AccountKeys) == 0 || !tx.Message.AccountKeys[0].Equals(s.privateKey.PublicKey()) {
		return "", x402.NewPaymentError(x402.CodeConfigMismatch, "transaction fee payer does not match signer", nil)
	}

	_, err := tx.PartialSign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(s.privateKey.PublicKey()) {
			return &s.privateKey
		}
		return nil
	})
	if err != nil {
		return "", x402.NewPaymentError(x402.CodePaymentSettlement, "failed to sign transaction", err)
	}

	sig, err := s.rpcClient.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: rpc.CommitmentFinalized,
	})
	if err != nil {
		return "", x402.NewPaymentError(x402.CodePaymentSettlement, "failed to submit transaction", err)
	}
	return sig.String(), nil
}

// mnemonicDerivationSalt disambiguates this module's mnemonic-derived
// fee payer keys from any other BIP-32 consumer sharing the same seed.
const mnemonicDerivationSalt = "moneymq-solana-fee-payer-v1"

// NewSolanaMnemonicSigner derives a Solana fee payer key from a BIP-39
// mnemonic and passphrase. Solana addresses are ed25519, not the
// secp256k1 curve BIP-32 defines, so derivation here does not walk a
// standard SLIP-10 path: the master key's raw bytes are combined with a
// fixed salt and reduced to an ed25519 seed, giving a deterministic,
// reproducible keypair per mnemonic without depending on a path an
// ed25519-aware HD scheme would require.
func NewSolanaMnemonicSigner(mnemonic, passphrase, rpcURL string) (*SolanaKeySigner, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, x402.NewPaymentError(x402.CodeConfigMismatch, "invalid mnemonic", nil)
	}
	seed := bip39.NewSeed(mnemonic, passphrase)
	master, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, x402.NewPaymentError(x402.CodeConfigMismatch, "failed to derive master key", err)
	}

	h := sha256.New()
	h.Write(master.Key)
	h.Write([]byte(mnemonicDerivationSalt))
	seedBytes := h.Sum(nil)[:ed25519.SeedSize]

	privateKey := solana.PrivateKey(ed25519.NewKeyFromSeed(seedBytes))

	return &SolanaKeySigner{
		privateKey: privateKey,
		rpcClient:  rpc.New(rpcURL),
	}, nil
}

// MockSigner is a test double that records submissions instead of
// talking to a network.
type MockSigner struct {
	AddressValue  string
	Network       x402.Network
	PriorityValue int
	Submissions   []string
	SubmitErr     error
}

func (m *MockSigner) Address() string { return m.AddressValue }

func (m *MockSigner) SupportsNetwork(network x402.Network) bool { return network == m.Network }

func (m *MockSigner) Priority() int { return m.PriorityValue }

func (m *MockSigner) Submit(_ context.Context, tx *solana.Transaction) (string, error) {
	if m.SubmitErr != nil {
		return "", m.SubmitErr
	}
	sig := "mock-" + strings.TrimSuffix(tx.Message.RecentBlockhash.String(), "=")
	m.Submissions = append(m.Submissions, sig)
	return sig, nil
}
