// Package x402 implements the wire types and protocol constants for the
// x402 HTTP payment negotiation protocol (version 1, "exact" scheme,
// single-network variant point: Solana).
package x402

import (
	"encoding/base64"
	"encoding/json"
)

// Version is the only x402 protocol version this module understands.
const Version = 1

// Scheme identifies a payment scheme. "exact" is the only scheme this
// module implements.
type Scheme string

const SchemeExact Scheme = "exact"

// Network identifies a settlement network. Solana is the only network
// this module implements; see DESIGN.md for the dropped multi-chain path.
type Network string

const NetworkSolana Network = "solana"

// ExactSolanaPayload is the scheme-specific payload for Network Solana:
// a base58-encoded, partially-signed Solana transaction.
type ExactSolanaPayload struct {
	Transaction string `json:"transaction"`
}

// PaymentPayload is the signed request to transfer funds on-chain, carried
// base64-encoded in the X-Payment request header.
type PaymentPayload struct {
	X402Version int                `json:"x402Version"`
	Scheme      Scheme             `json:"scheme"`
	Network     Network            `json:"network"`
	Payload     ExactSolanaPayload `json:"payload"`
}

// Encode base64-encodes the payload's JSON form for the X-Payment header.
func (p *PaymentPayload) Encode() string {
	data, _ := json.Marshal(p)
	return base64.StdEncoding.EncodeToString(data)
}

// DecodePaymentHeader base64-decodes and JSON-parses an X-Payment header
// value. Both stages, and the version check, collapse to a PaymentError
// with CodeInvalidPaymentHeader per spec 4.5 step 6.
func DecodePaymentHeader(header string) (*PaymentPayload, error) {
	decoded, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, &PaymentError{Code: CodeInvalidPaymentHeader, Message: "invalid base64", Wrapped: err}
	}
	var p PaymentPayload
	if err := json.Unmarshal(decoded, &p); err != nil {
		return nil, &PaymentError{Code: CodeInvalidPaymentHeader, Message: "invalid json", Wrapped: err}
	}
	if p.X402Version != Version {
		return nil, &PaymentError{Code: CodeInvalidPaymentHeader, Message: "unsupported x402Version"}
	}
	return &p, nil
}

// RequirementsExtra is the extensible "extra" object on PaymentRequirements.
// FeePayer and Product are set by the facilitator/catalog and Currency by
// the gate when it builds requirements; CustomerAddress and CustomerLabel
// are filled in by the gate after payload inspection (spec 4.5 step 7).
type RequirementsExtra struct {
	FeePayer        string `json:"feePayer,omitempty"`
	Product         string `json:"product,omitempty"`
	CustomerAddress string `json:"customerAddress,omitempty"`
	CustomerLabel   string `json:"customerLabel,omitempty"`
	Currency        string `json:"currency,omitempty"`
}

// PaymentRequirements are the constraints a server imposes on an acceptable
// payment. MaxAmountRequired is a base-unit integer string to preserve
// precision across languages.
type PaymentRequirements struct {
	Scheme            Scheme             `json:"scheme"`
	Network           Network            `json:"network"`
	MaxAmountRequired string             `json:"maxAmountRequired"`
	Resource          string             `json:"resource"`
	Description       string             `json:"description"`
	MimeType          string             `json:"mimeType"`
	OutputSchema      any                `json:"outputSchema,omitempty"`
	PayTo             string             `json:"payTo"`
	MaxTimeoutSeconds int                `json:"maxTimeoutSeconds"`
	Asset             string             `json:"asset"`
	Extra             *RequirementsExtra `json:"extra,omitempty"`
}

// RequirementsResponse is the 402 response body: spec 4.5 step 5 and
// section 6's wire contract.
type RequirementsResponse struct {
	X402Version int                   `json:"x402Version"`
	Accepts     []PaymentRequirements `json:"accepts"`
}

// VerifyRequest is the body POSTed to the facilitator's /verify endpoint.
type VerifyRequest struct {
	X402Version         int                 `json:"x402Version"`
	PaymentPayload      PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
}

// SettleRequest is the body POSTed to the facilitator's /settle endpoint.
// TransactionID carries the id a prior verify call returned; the
// facilitator's settle path does not read it and finds the transaction by
// payment hash.
type SettleRequest struct {
	X402Version         int                 `json:"x402Version"`
	PaymentPayload      PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
	TransactionID       string              `json:"transactionId,omitempty"`
}

// InvalidReason enumerates the facilitator's verify/settle failure taxonomy
// (spec 4.4). FreeForm values outside this set are also valid on the wire.
type InvalidReason string

const (
	ReasonInsufficientFunds    InvalidReason = "insufficient_funds"
	ReasonInvalidScheme        InvalidReason = "invalid_scheme"
	ReasonInvalidNetwork       InvalidReason = "invalid_network"
	ReasonUnexpectedSettleErr  InvalidReason = "unexpected_settle_error"
)

// VerifyResponse is the facilitator's /verify response.
type VerifyResponse struct {
	IsValid       bool          `json:"isValid"`
	Payer         string        `json:"payer,omitempty"`
	TransactionID string        `json:"transactionId,omitempty"`
	InvalidReason InvalidReason `json:"invalidReason,omitempty"`
}

// SettleResponse is the facilitator's /settle response.
type SettleResponse struct {
	Success     bool          `json:"success"`
	ErrorReason InvalidReason `json:"errorReason,omitempty"`
	Payer       string        `json:"payer"`
	Transaction string        `json:"transaction,omitempty"`
	Network     Network       `json:"network"`
}

// SupportedKindExtra carries the fee-payer address a network's signer pool
// will use, so clients can pre-select an acceptable payer.
type SupportedKindExtra struct {
	FeePayer string `json:"feePayer"`
}

// SupportedKind is one entry of GET /supported.
type SupportedKind struct {
	X402Version int                 `json:"x402Version"`
	Scheme      Scheme              `json:"scheme"`
	Network     Network             `json:"network"`
	Extra       *SupportedKindExtra `json:"extra,omitempty"`
}

// SupportedResponse is the full GET /supported body.
type SupportedResponse struct {
	Kinds []SupportedKind `json:"kinds"`
}
