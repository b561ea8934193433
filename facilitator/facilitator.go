// Package facilitator implements the x402 facilitator endpoints:
// GET /supported, POST /verify, POST /settle, GET /admin/transactions,
// and GET /.well-known/jwks.json, composing the signer pool, ledger,
// receipt key pair, event broadcasters and channel manager into one
// payment stack.
package facilitator

import (
	"context"
	"encoding/json"

	x402 "github.com/txtx/moneymq-go"
	"github.com/txtx/moneymq-go/channels"
	"github.com/txtx/moneymq-go/events"
	"github.com/txtx/moneymq-go/ledger"
	"github.com/txtx/moneymq-go/receipt"
	"github.com/txtx/moneymq-go/signer"
)

// Config identifies the payment stack a Facilitator serves, scoping
// both its ledger rows and its durable event log.
type Config struct {
	FacilitatorID  string
	PaymentStackID string
	IsSandbox      bool
}

// Facilitator is the business logic backing the facilitator HTTP
// surface: one per payment stack root (live or sandbox), sharing a
// ledger and signer pool but scoped by Config.IsSandbox.
type Facilitator struct {
	cfg      Config
	signers  *signer.Pool
	ledger   *ledger.Ledger
	channels *channels.Manager
	events   *events.Broadcaster
	stateful *events.StatefulBroadcaster
	keyPair  *receipt.KeyPair
}

// New builds a Facilitator. keyPair may be nil, in which case the JWKS
// endpoint serves an empty key set.
func New(cfg Config, signers *signer.Pool, l *ledger.Ledger, chMgr *channels.Manager, eventBus *events.Broadcaster, stateful *events.StatefulBroadcaster, keyPair *receipt.KeyPair) *Facilitator {
	return &Facilitator{
		cfg:      cfg,
		signers:  signers,
		ledger:   l,
		channels: chMgr,
		events:   eventBus,
		stateful: stateful,
		keyPair:  keyPair,
	}
}

// Supported enumerates the signer pool's fee-payer pubkey per supported network.
func (f *Facilitator) Supported(_ context.Context) x402.SupportedResponse {
	networks := f.signers.Networks()
	kinds := make([]x402.SupportedKind, 0, len(networks))
	for _, network := range networks {
		feePayer, err := f.signers.FeePayerFor(network)
		if err != nil {
			continue
		}
		kinds = append(kinds, x402.SupportedKind{
			X402Version: x402.Version,
			Scheme:      x402.SchemeExact,
			Network:     network,
			Extra:       &x402.SupportedKindExtra{FeePayer: feePayer},
		})
	}
	return x402.SupportedResponse{Kinds: kinds}
}

// Verify decodes the payload's transaction, structurally validates it
// against the requirements, persists a snapshot, and reports validity.
func (f *Facilitator) Verify(ctx context.Context, req x402.VerifyRequest) (x402.VerifyResponse, error) {
	payload := req.PaymentPayload
	base58Tx := payload.Payload.Transaction

	payer, err := x402.PayerFromTransaction(base58Tx)
	if err != nil {
		return x402.VerifyResponse{IsValid: false, InvalidReason: x402.ReasonInvalidScheme}, nil
	}

	if reason, ok := f.structuralMismatch(req.PaymentRequirements, payload); !ok {
		return x402.VerifyResponse{IsValid: false, InvalidReason: reason, Payer: payer}, nil
	}

	hash, err := x402.PaymentHash(base58Tx)
	if err != nil {
		return x402.VerifyResponse{IsValid: false, InvalidReason: x402.ReasonUnexpectedSettleErr, Payer: payer}, nil
	}

	var customerID *int64
	extra := req.PaymentRequirements.Extra
	if extra != nil && extra.CustomerAddress != "" {
		id, err := f.ledger.FindOrCreateCustomer(ctx, extra.CustomerAddress, optionalString(extra.CustomerLabel))
		if err == nil {
			customerID = &id
		}
	}

	reqJSON, _ := json.Marshal(req.PaymentRequirements)
	verifyReqJSON, _ := json.Marshal(req)
	verifyResp := x402.VerifyResponse{IsValid: true, Payer: payer}
	verifyRespJSON, _ := json.Marshal(verifyResp)

	product := ""
	currency := ""
	if extra != nil {
		product = extra.Product
		currency = extra.Currency
	}

	_, err = f.ledger.InsertTransaction(ctx, ledger.NewTransaction{
		Product:                product,
		CustomerID:             customerID,
		Amount:                 req.PaymentRequirements.MaxAmountRequired,
		Currency:               currency,
		X402PaymentRequirement: string(reqJSON),
		X402VerifyRequest:      string(verifyReqJSON),
		X402VerifyResponse:     string(verifyRespJSON),
		PaymentHash:            hash,
		FacilitatorID:          f.cfg.FacilitatorID,
		IsSandbox:              f.cfg.IsSandbox,
	})
	if err != nil && !x402.IsSequenceConflict(err) {
		return x402.VerifyResponse{}, err
	}

	f.channels.Publish(hash, channelEvent(channels.TypePaymentVerified, channels.PaymentVerifiedData{
		Payer:    payer,
		Amount:   req.PaymentRequirements.MaxAmountRequired,
		Currency: currency,
		Network:  string(req.PaymentRequirements.Network),
	}))
	f.emitCloudEvent(ctx, events.New(events.TypePaymentVerificationSucceeded, events.VerificationSucceededData{
		Payer:     payer,
		Amount:    req.PaymentRequirements.MaxAmountRequired,
		Network:   string(req.PaymentRequirements.Network),
		ProductID: product,
	}))

	return verifyResp, nil
}

// structuralMismatch checks the payload's declared scheme/network
// against the requirements; deeper on-chain simulation is intentionally
// out of scope — structural checks catch obvious mismatches cheaply.
func (f *Facilitator) structuralMismatch(requirements x402.PaymentRequirements, payload x402.PaymentPayload) (x402.InvalidReason, bool) {
	if payload.Scheme != requirements.Scheme {
		return x402.ReasonInvalidScheme, false
	}
	if payload.Network != requirements.Network {
		return x402.ReasonInvalidNetwork, false
	}
	return "", true
}

// Settle re-attaches the fee-payer signature, submits the transaction,
// records the outcome, and publishes settlement events. Idempotent for
// a payment hash already settled.
func (f *Facilitator) Settle(ctx context.Context, req x402.SettleRequest) (x402.SettleResponse, error) {
	base58Tx := req.PaymentPayload.Payload.Transaction
	network := req.PaymentRequirements.Network

	hash, err := x402.PaymentHash(base58Tx)
	if err != nil {
		return x402.SettleResponse{Success: false, ErrorReason: x402.ReasonUnexpectedSettleErr, Network: network}, nil
	}

	if settled, err := f.ledger.IsAlreadySettled(ctx, hash); err == nil && settled {
		return f.storedSettleResponse(ctx, hash, network)
	}

	payer, err := x402.PayerFromTransaction(base58Tx)
	if err != nil {
		return x402.SettleResponse{Success: false, ErrorReason: x402.ReasonUnexpectedSettleErr, Network: network}, nil
	}

	id, found, err := f.ledger.FindUnsettledByPaymentHash(ctx, hash)
	if err != nil {
		return x402.SettleResponse{}, err
	}
	if !found {
		reqJSON, _ := json.Marshal(req.PaymentRequirements)
		verifyReqJSON, _ := json.Marshal(req)
		id, err = f.ledger.InsertTransaction(ctx, ledger.NewTransaction{
			Amount:                 req.PaymentRequirements.MaxAmountRequired,
			X402PaymentRequirement: string(reqJSON),
			X402VerifyRequest:      string(verifyReqJSON),
			X402VerifyResponse:     "{}",
			PaymentHash:            hash,
			FacilitatorID:          f.cfg.FacilitatorID,
			IsSandbox:              f.cfg.IsSandbox,
		})
		if err != nil {
			return x402.SettleResponse{}, err
		}
	}

	signature, submitErr := f.signers.Submit(ctx, network, base58Tx)

	settleReqJSON, _ := json.Marshal(req)
	status := "settled"
	settleResp := x402.SettleResponse{Success: true, Transaction: signature, Payer: payer, Network: network}
	if submitErr != nil {
		status = "settlement_failed"
		settleResp = x402.SettleResponse{Success: false, ErrorReason: x402.ReasonUnexpectedSettleErr, Payer: payer, Network: network}
	}
	settleRespJSON, _ := json.Marshal(settleResp)

	if err := f.ledger.UpdateAfterSettlement(ctx, id, status, signature, string(settleReqJSON), string(settleRespJSON)); err != nil {
		return x402.SettleResponse{}, err
	}

	if submitErr != nil {
		f.channels.Publish(hash, channelEvent(channels.TypePaymentFailed, channels.PaymentFailedData{Reason: submitErr.Error()}))
		f.emitCloudEvent(ctx, events.New(events.TypePaymentSettlementFailed, events.SettlementFailedData{
			Payer: payer, Amount: req.PaymentRequirements.MaxAmountRequired, Network: string(network), Reason: submitErr.Error(),
		}))
		return settleResp, nil
	}

	f.channels.Publish(hash, channelEvent(channels.TypePaymentSettled, channels.PaymentSettledData{
		Payer: payer, Amount: req.PaymentRequirements.MaxAmountRequired, Network: string(network), Signature: signature,
	}))
	f.emitCloudEvent(ctx, events.New(events.TypePaymentSettlementSucceeded, events.SettlementSucceededData{
		Payer: payer, Amount: req.PaymentRequirements.MaxAmountRequired, Network: string(network), TransactionSignature: signature,
	}))

	return settleResp, nil
}

func (f *Facilitator) storedSettleResponse(ctx context.Context, hash string, network x402.Network) (x402.SettleResponse, error) {
	tx, err := f.ledger.FindByPaymentHash(ctx, hash)
	if err != nil {
		return x402.SettleResponse{}, err
	}
	if tx.X402SettleResponse == nil {
		return x402.SettleResponse{Success: false, ErrorReason: x402.ReasonUnexpectedSettleErr, Network: network}, nil
	}
	var stored x402.SettleResponse
	if err := json.Unmarshal([]byte(*tx.X402SettleResponse), &stored); err != nil {
		return x402.SettleResponse{}, err
	}
	return stored, nil
}

func (f *Facilitator) emitCloudEvent(ctx context.Context, env events.Envelope) {
	if f.events != nil {
		f.events.Emit(env, func(e events.Envelope) (string, error) {
			body, err := json.Marshal(e)
			return string(body), err
		})
	}
	if f.stateful != nil {
		_ = f.stateful.Persist(ctx, "payments", f.cfg.PaymentStackID, f.cfg.IsSandbox, env)
	}
}

// TransactionPage is one page of GET /admin/transactions.
type TransactionPage struct {
	Transactions []*ledger.Transaction
	HasMore      bool
}

// ListTransactions returns a page of transactions scoped to this
// facilitator's stack and sandbox flag.
func (f *Facilitator) ListTransactions(ctx context.Context, limit int, startingAfter int64) (TransactionPage, error) {
	rows, hasMore, err := f.ledger.ListPage(ctx, f.cfg.FacilitatorID, f.cfg.IsSandbox, limit, startingAfter)
	if err != nil {
		return TransactionPage{}, err
	}
	return TransactionPage{Transactions: rows, HasMore: hasMore}, nil
}

// JWKS serves the receipt key pair's published key document, or an
// empty key set when no key pair is configured.
func (f *Facilitator) JWKS() receipt.JWKSResponse {
	if f.keyPair == nil {
		return receipt.JWKSResponse{Keys: []receipt.JWK{}}
	}
	return f.keyPair.JWKS()
}

func channelEvent(eventType string, data any) channels.Event {
	return channels.NewEvent(eventType, data)
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
