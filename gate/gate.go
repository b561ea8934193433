// Package gate implements the x402 payment gate middleware: it derives
// payment requirements from catalog state, negotiates and verifies a
// payment with a facilitator, runs the wrapped handler, and settles on
// success.
package gate

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http"

	x402 "github.com/txtx/moneymq-go"
	"github.com/txtx/moneymq-go/accounts"
	"github.com/txtx/moneymq-go/catalog"
	"github.com/txtx/moneymq-go/facilitator"
)

// Asset is one token mint the gate is willing to accept payment in, with
// the decimal count catalog.AssetDecimals would also report; carried here
// so the gate doesn't need a catalog lookup just to enumerate mints.
type Asset struct {
	Mint     string
	Decimals int
	Symbol   string
}

// Config holds a gate's dependencies. Network is the single network this
// gate instance negotiates on (spec 4.5 step 3: default single supported
// network, configured per deployment rather than resolved per request).
type Config struct {
	Facilitator facilitator.Client
	Catalog     catalog.Catalog
	Accounts    *accounts.AccountsConfig
	Network     x402.Network
	Assets      []Asset
	ResourceURL string
	Logger      *slog.Logger
}

// Middleware wraps an http.Handler with the payment gate.
type Middleware struct {
	cfg  Config
	next http.Handler
}

// New builds a middleware factory bound to cfg, for wrapping any number
// of gated handlers.
func New(cfg Config) func(http.Handler) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return &Middleware{cfg: cfg, next: next}
	}
}

func (m *Middleware) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	inputs, gated := resolveGateInputs(m.cfg.Catalog, body, r.URL.Path)
	if !gated {
		m.next.ServeHTTP(w, r)
		return
	}

	ctx := r.Context()
	log := m.cfg.Logger.With("path", r.URL.Path, "product", inputs.productID)

	supported, err := m.cfg.Facilitator.Supported(ctx)
	if err != nil {
		log.Error("failed to fetch supported payment kinds", "err", err)
		writeError(w, x402.NewPaymentError(x402.CodeFacilitatorUnreach, "facilitator unreachable", err))
		return
	}

	feePayer := feePayerFor(supported, m.cfg.Network)

	requirements := m.buildRequirements(inputs, feePayer)
	if len(requirements) == 0 {
		log.Error("no assets configured for network", "network", m.cfg.Network)
		writeError(w, x402.NewPaymentError(x402.CodeConfigMismatch, "no assets configured for network", nil))
		return
	}

	paymentHeader := r.Header.Get("X-Payment")
	if paymentHeader == "" {
		log.Info("payment required, no X-Payment header")
		writeJSON(w, http.StatusPaymentRequired, x402.RequirementsResponse{
			X402Version: x402.Version,
			Accepts:     requirements,
		})
		return
	}

	payload, err := x402.DecodePaymentHeader(paymentHeader)
	if err != nil {
		log.Warn("invalid X-Payment header", "err", err)
		writeError(w, err)
		return
	}

	requirement := requirements[0]
	m.augmentExtra(&requirement, payload)

	verifyResp, err := m.cfg.Facilitator.Verify(ctx, x402.VerifyRequest{
		X402Version:         x402.Version,
		PaymentPayload:      *payload,
		PaymentRequirements: requirement,
	})
	if err != nil {
		log.Error("facilitator verify call failed", "err", err)
		if x402.HasCode(err, x402.CodeFacilitatorUnreach) {
			writeError(w, err)
			return
		}
		writeError(w, x402.NewPaymentError(x402.CodePaymentVerification, "payment verification failed", err))
		return
	}
	if !verifyResp.IsValid {
		log.Warn("payment rejected by facilitator", "reason", verifyResp.InvalidReason)
		writeJSON(w, http.StatusPaymentRequired, map[string]any{
			"x402Version":   x402.Version,
			"accepts":       requirements,
			"invalidReason": verifyResp.InvalidReason,
		})
		return
	}
	log.Info("payment verified", "payer", verifyResp.Payer)

	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	m.next.ServeHTTP(rec, r)

	if rec.status < 200 || rec.status >= 300 {
		log.Info("handler did not succeed, skipping settlement", "status", rec.status)
		return
	}

	settleResp, err := m.cfg.Facilitator.Settle(ctx, x402.SettleRequest{
		X402Version:         x402.Version,
		PaymentPayload:      *payload,
		PaymentRequirements: requirement,
	})
	if err != nil {
		log.Error("settlement request failed", "err", err, "payer", verifyResp.Payer)
		return
	}
	if !settleResp.Success {
		log.Error("settlement failed", "reason", settleResp.ErrorReason, "payer", verifyResp.Payer)
		return
	}
	log.Info("payment settled", "transaction", settleResp.Transaction)
}

// buildRequirements builds one PaymentRequirements per configured asset,
// scaling amount_cents to base units via amount_cents x 10^(decimals-2).
func (m *Middleware) buildRequirements(inputs gateInputs, feePayer string) []x402.PaymentRequirements {
	payTo := m.payTo()
	if payTo == "" {
		return nil
	}

	out := make([]x402.PaymentRequirements, 0, len(m.cfg.Assets))
	for _, asset := range m.cfg.Assets {
		out = append(out, x402.PaymentRequirements{
			Scheme:            x402.SchemeExact,
			Network:           m.cfg.Network,
			MaxAmountRequired: centsToBaseUnits(inputs.amountCents, m.decimalsFor(asset)),
			Resource:          m.cfg.ResourceURL,
			Description:       inputs.description,
			MimeType:          "application/json",
			PayTo:             payTo,
			MaxTimeoutSeconds: 300,
			Asset:             asset.Mint,
			Extra: &x402.RequirementsExtra{
				FeePayer: feePayer,
				Product:  inputs.productID,
				Currency: asset.Symbol,
			},
		})
	}
	return out
}

// decimalsFor prefers the catalog's AssetDecimals lookup over the
// gate's own configured value, so a catalog that tracks mint decimals
// authoritatively overrides a stale static config; the configured
// value remains the fallback when the catalog doesn't know the asset.
func (m *Middleware) decimalsFor(asset Asset) int {
	if m.cfg.Catalog != nil {
		if decimals, ok := m.cfg.Catalog.AssetDecimals(string(m.cfg.Network), asset.Mint); ok {
			return decimals
		}
	}
	return asset.Decimals
}

func (m *Middleware) payTo() string {
	if m.cfg.Accounts == nil {
		return ""
	}
	payout, ok := m.cfg.Accounts.PrimaryPayout()
	if !ok {
		return ""
	}
	return payout.Role.Payout.RecipientAddress
}

// augmentExtra fills customerAddress and customerLabel per spec 4.5 step
// 7, from the payer recovered out of the submitted transaction and the
// account that owns it, if any; currency is already set per-asset by
// buildRequirements.
func (m *Middleware) augmentExtra(requirement *x402.PaymentRequirements, payload *x402.PaymentPayload) {
	if requirement.Extra == nil {
		requirement.Extra = &x402.RequirementsExtra{}
	}
	payer, err := x402.PayerFromTransaction(payload.Payload.Transaction)
	if err != nil {
		return
	}
	requirement.Extra.CustomerAddress = payer
	requirement.Extra.CustomerLabel = m.customerLabel(payer)
}

// customerLabel matches a payer address against a configured payout
// account's recipient address, labeling known counterparties by account
// name; unmatched addresses are left unlabeled.
func (m *Middleware) customerLabel(address string) string {
	if m.cfg.Accounts == nil {
		return ""
	}
	for _, a := range m.cfg.Accounts.Payouts() {
		if a.Role.Payout != nil && a.Role.Payout.RecipientAddress == address {
			return a.Name
		}
	}
	return ""
}

func feePayerFor(supported x402.SupportedResponse, network x402.Network) string {
	for _, kind := range supported.Kinds {
		if kind.Network == network && kind.Extra != nil {
			return kind.Extra.FeePayer
		}
	}
	return ""
}

// centsToBaseUnits implements amount_cents x 10^(decimals-2) with
// arbitrary precision, since base-unit amounts are carried as decimal
// strings to avoid float rounding.
func centsToBaseUnits(amountCents int64, decimals int) string {
	amount := big.NewInt(amountCents)
	exp := decimals - 2
	if exp >= 0 {
		scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exp)), nil)
		amount.Mul(amount, scale)
	} else {
		scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(-exp)), nil)
		amount.Div(amount, scale)
	}
	return amount.String()
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(status int) {
	if r.wroteHeader {
		return
	}
	r.wroteHeader = true
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	return r.ResponseWriter.Write(b)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	if pe, ok := err.(*x402.PaymentError); ok {
		writeJSON(w, pe.HTTPStatus(), map[string]string{"code": pe.Code, "message": pe.Message})
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]string{"code": x402.CodeInternal, "message": err.Error()})
}
