// Command moneymqd runs the payment facilitation core as a standalone
// HTTP server: facilitator endpoints, channel SSE, durable event
// streams, and receipt signing, composed behind one router for a live
// payment stack and an optional sandbox root. The payment gate is not
// mounted on any route by the router.
package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/txtx/moneymq-go/accounts"
	"github.com/txtx/moneymq-go/catalog"
	"github.com/txtx/moneymq-go/channels"
	"github.com/txtx/moneymq-go/events"
	"github.com/txtx/moneymq-go/facilitator"
	"github.com/txtx/moneymq-go/gate"
	"github.com/txtx/moneymq-go/internal/config"
	"github.com/txtx/moneymq-go/ledger"
	"github.com/txtx/moneymq-go/receipt"
	"github.com/txtx/moneymq-go/router"
	"github.com/txtx/moneymq-go/signer"
	"github.com/txtx/moneymq-go/stream"

	x402 "github.com/txtx/moneymq-go"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		slog.Error("moneymqd exited", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	l, err := ledger.Open(cfg.LedgerPath)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer l.Close()

	pool, err := buildSignerPool(cfg)
	if err != nil {
		return fmt.Errorf("build signer pool: %w", err)
	}

	accountsCfg, err := accounts.LoadAccountsFromDir(cfg.AccountsDir)
	if err != nil {
		slog.Warn("failed to load accounts directory, continuing without configured payout accounts", "dir", cfg.AccountsDir, "err", err)
		accountsCfg = accounts.NewAccountsConfig()
	}

	var keyPair *receipt.KeyPair
	if cfg.ReceiptSigningSecret != "" {
		keyPair = receipt.NewKeyPairFromSecret(cfg.ReceiptSigningSecret)
	}

	chMgr := channels.NewManager(cfg.ChannelStreamSecret, l, receiptComposer(keyPair))
	bus := events.NewBroadcaster()
	stateful := events.NewStatefulBroadcaster(l)
	streamStore := stream.NewStore()
	streamHandler := stream.NewHandler(streamStore, cfg.LongPollWindow)

	cat := catalog.NewStaticCatalog()

	live := facilitator.New(facilitator.Config{
		FacilitatorID:  cfg.FacilitatorID,
		PaymentStackID: cfg.PaymentStackID,
		IsSandbox:      false,
	}, pool, l, chMgr, bus, stateful, keyPair)

	liveGate := gate.New(gate.Config{
		Facilitator: facilitator.NewLocalClient(live),
		Catalog:     cat,
		Accounts:    accountsCfg,
		Network:     x402.NetworkSolana,
		Assets:      gateAssets(),
		ResourceURL: cfg.ResourceURL,
	})

	liveRoot := &router.RootConfig{
		Facilitator:     live,
		Gate:            liveGate,
		ChannelsHandler: channels.NewHandler(chMgr, stateful),
		Stream:          streamHandler,
	}

	var sandboxRoot *router.RootConfig
	if cfg.EnableSandbox {
		sandboxChMgr := channels.NewManager(cfg.ChannelStreamSecret, l, receiptComposer(keyPair))
		sandbox := facilitator.New(facilitator.Config{
			FacilitatorID:  cfg.SandboxFacilitatorID,
			PaymentStackID: cfg.SandboxPaymentStackID,
			IsSandbox:      true,
		}, pool, l, sandboxChMgr, bus, stateful, keyPair)

		sandboxGate := gate.New(gate.Config{
			Facilitator: facilitator.NewLocalClient(sandbox),
			Catalog:     cat,
			Accounts:    accountsCfg,
			Network:     x402.NetworkSolana,
			Assets:      gateAssets(),
			ResourceURL: cfg.ResourceURL,
		})

		sandboxRoot = &router.RootConfig{
			Facilitator:     sandbox,
			Gate:            sandboxGate,
			ChannelsHandler: channels.NewHandler(sandboxChMgr, stateful),
			Stream:          streamHandler,
		}
	}

	handler := router.New(liveRoot, sandboxRoot)

	addr := fmt.Sprintf(":%d", cfg.Port)
	slog.Info("moneymqd listening", "addr", addr, "sandbox_enabled", cfg.EnableSandbox)
	return http.ListenAndServe(addr, handler)
}

// buildSignerPool assembles every configured fee-payer signer into one
// pool: a raw-secret signer and a mnemonic-derived signer can both be
// configured at once, each with its own priority.
func buildSignerPool(cfg *config.Config) (*signer.Pool, error) {
	var signers []signer.Signer

	if cfg.FeePayerPrivateKey != "" {
		s, err := signer.NewSolanaKeySigner(cfg.FeePayerPrivateKey, cfg.SolanaRPCURL)
		if err != nil {
			return nil, fmt.Errorf("build raw-secret signer: %w", err)
		}
		signers = append(signers, s.WithPriority(0))
	}

	if cfg.FeePayerMnemonic != "" {
		s, err := signer.NewSolanaMnemonicSigner(cfg.FeePayerMnemonic, cfg.FeePayerPassphrase, cfg.SolanaRPCURL)
		if err != nil {
			return nil, fmt.Errorf("build mnemonic signer: %w", err)
		}
		signers = append(signers, s.WithPriority(1))
	}

	if len(signers) == 0 {
		return nil, fmt.Errorf("no fee payer signer configured")
	}

	return signer.NewPool(signers...), nil
}

// receiptComposer avoids handing channels.NewManager a typed nil
// *receipt.KeyPair: an interface holding a nil pointer is non-nil, so
// the manager's "receipts configured" check needs a true nil when no
// key pair is configured.
func receiptComposer(k *receipt.KeyPair) channels.ReceiptComposer {
	if k == nil {
		return nil
	}
	return k
}

// gateAssets is the fixed USDC-on-Solana acceptance list; a deployment
// that needs more assets configures them here or promotes this to a
// config-driven list.
func gateAssets() []gate.Asset {
	return []gate.Asset{
		{Mint: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", Decimals: 6, Symbol: "USDC"},
	}
}
