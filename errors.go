package x402

import "fmt"

// Error taxonomy kinds (spec 7), not Go type names: every exported error
// carries one of these as its Code so a single conversion point can map it
// to an HTTP status.
const (
	CodeClientProtocol        = "client_protocol"
	CodeInvalidPaymentHeader  = "invalid_payment_header"
	CodePaymentRequired       = "payment_required"
	CodePaymentVerification   = "payment_verification_failed"
	CodePaymentSettlement     = "payment_settlement_failed"
	CodeFacilitatorUnreach    = "facilitator_unreachable"
	CodeConfigMismatch        = "config_mismatch"
	CodeSequenceConflict      = "sequence_conflict"
	CodeNotFound              = "not_found"
	CodeInternal              = "internal"
)

// PaymentError is the shared error shape across every package in this
// module: a machine-readable Code, a human Message, optional request
// context, and an optional wrapped cause.
type PaymentError struct {
	Code     string
	Message  string
	Resource string
	Network  Network
	Details  map[string]any
	Wrapped  error
}

func (e *PaymentError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PaymentError) Unwrap() error {
	return e.Wrapped
}

// WithDetails attaches machine-readable context, lazily allocating the map.
// Grounded on nacorid-x402-go/v2/errors.go's chaining pattern.
func (e *PaymentError) WithDetails(key string, value any) *PaymentError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// NewPaymentError constructs a PaymentError for the given taxonomy code.
func NewPaymentError(code, message string, wrapped error) *PaymentError {
	return &PaymentError{Code: code, Message: message, Wrapped: wrapped}
}

// HTTPStatus maps a PaymentError's Code to the HTTP status spec 4.1/6/7
// assign it. Unknown codes default to 500.
func (e *PaymentError) HTTPStatus() int {
	switch e.Code {
	case CodeInvalidPaymentHeader, CodeClientProtocol:
		return 400
	case CodePaymentRequired, CodePaymentVerification:
		return 402
	case CodeConfigMismatch, CodeSequenceConflict:
		return 409
	case CodeNotFound:
		return 404
	case CodeFacilitatorUnreach:
		return 502
	default:
		return 500
	}
}

// HasCode reports whether err is a *PaymentError carrying code.
func HasCode(err error, code string) bool {
	pe, ok := err.(*PaymentError)
	return ok && pe.Code == code
}

// IsSequenceConflict reports whether err is the ledger's duplicate
// payment-hash idempotency signal, which callers treat as success
// rather than a real failure.
func IsSequenceConflict(err error) bool {
	return HasCode(err, CodeSequenceConflict)
}
