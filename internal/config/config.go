// Package config loads moneymqd's process configuration from the
// environment, mirroring the gateway config pattern used elsewhere in
// this ecosystem: a best-effort .env load, env-var fields with
// fallbacks, and validation gated on which subsystems are configured.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything moneymqd needs to construct a facilitator,
// gate, and HTTP router.
type Config struct {
	// Port is the HTTP listen port.
	Port int

	// LedgerPath is the SQLite database file backing the transaction
	// ledger and durable event/stream tables.
	LedgerPath string

	// SolanaRPCURL is the JSON-RPC endpoint the signer pool submits
	// settlement transactions to.
	SolanaRPCURL string

	// FeePayerPrivateKey is a base58-encoded Solana private key for a
	// direct-secret signer, read from MONEYMQ_SOLANA_FACILITATOR_KEYPAIR.
	// Mutually exclusive in practice with FeePayerMnemonic, though both
	// may be configured for a two-signer pool.
	FeePayerPrivateKey string

	// FeePayerMnemonic and FeePayerPassphrase derive a second fee payer
	// signer by BIP-39/32, for operators who prefer mnemonic custody
	// over a raw secret in the environment.
	FeePayerMnemonic   string
	FeePayerPassphrase string

	// AccountsDir is a directory of per-account YAML files loaded into
	// an AccountsConfig at startup.
	AccountsDir string

	// ReceiptSigningSecret seeds the ES256 receipt key pair. Receipts
	// are disabled (JWKS serves an empty key set) when empty.
	ReceiptSigningSecret string

	// FacilitatorID and PaymentStackID identify the live payment stack
	// this process serves; SandboxFacilitatorID/SandboxPaymentStackID
	// do the same for the optional sandbox root.
	FacilitatorID          string
	PaymentStackID         string
	SandboxFacilitatorID   string
	SandboxPaymentStackID  string
	EnableSandbox          bool

	// ResourceURL is the base URL advertised in PaymentRequirements.Resource.
	ResourceURL string

	// LongPollWindow bounds how long a durable stream GET blocks waiting
	// for new events before returning an empty page.
	LongPollWindow time.Duration

	// ChannelStreamSecret gates SSE channel subscriptions and
	// attachment posts; an empty secret leaves channels unauthenticated.
	ChannelStreamSecret string
}

// Load reads configuration from environment variables, loading a .env
// file from the working directory first if one is present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                  getEnvInt("PORT", 8080),
		LedgerPath:            getEnv("LEDGER_PATH", "moneymq.db"),
		SolanaRPCURL:          getEnv("SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com"),
		FeePayerPrivateKey:    getEnv("MONEYMQ_SOLANA_FACILITATOR_KEYPAIR", ""),
		FeePayerMnemonic:      getEnv("FEE_PAYER_MNEMONIC", ""),
		FeePayerPassphrase:    getEnv("FEE_PAYER_PASSPHRASE", ""),
		AccountsDir:           getEnv("ACCOUNTS_DIR", "accounts"),
		ReceiptSigningSecret:  getEnv("RECEIPT_SIGNING_SECRET", ""),
		FacilitatorID:         getEnv("FACILITATOR_ID", "default"),
		PaymentStackID:        getEnv("PAYMENT_STACK_ID", "default"),
		SandboxFacilitatorID:  getEnv("SANDBOX_FACILITATOR_ID", "default-sandbox"),
		SandboxPaymentStackID: getEnv("SANDBOX_PAYMENT_STACK_ID", "default-sandbox"),
		EnableSandbox:         getEnvBool("ENABLE_SANDBOX", true),
		ResourceURL:           getEnv("RESOURCE_URL", "http://localhost:8080"),
		LongPollWindow:        time.Duration(getEnvInt("LONG_POLL_WINDOW_SECONDS", 25)) * time.Second,
		ChannelStreamSecret:   getEnv("CHANNEL_STREAM_SECRET", ""),
	}

	if cfg.FeePayerPrivateKey == "" && cfg.FeePayerMnemonic == "" {
		return nil, fmt.Errorf("at least one of MONEYMQ_SOLANA_FACILITATOR_KEYPAIR or FEE_PAYER_MNEMONIC is required")
	}
	if cfg.FeePayerMnemonic != "" && cfg.FeePayerPassphrase == "" {
		return nil, fmt.Errorf("FEE_PAYER_PASSPHRASE is required when FEE_PAYER_MNEMONIC is set")
	}
	if cfg.LedgerPath == "" {
		return nil, fmt.Errorf("LEDGER_PATH must not be empty")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return b
}
