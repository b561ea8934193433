package x402

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaymentPayloadEncodeDecodeRoundTrip(t *testing.T) {
	p := &PaymentPayload{
		X402Version: Version,
		Scheme:      SchemeExact,
		Network:     NetworkSolana,
		Payload:     ExactSolanaPayload{Transaction: "deadbeef"},
	}

	header := p.Encode()
	decoded, err := DecodePaymentHeader(header)
	require.NoError(t, err)
	assert.Equal(t, p.Payload.Transaction, decoded.Payload.Transaction)
	assert.Equal(t, p.Network, decoded.Network)
}

func TestDecodePaymentHeaderRejectsBadBase64(t *testing.T) {
	_, err := DecodePaymentHeader("not-valid-base64!!!")
	require.Error(t, err)
	var pe *PaymentError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, CodeInvalidPaymentHeader, pe.Code)
}

func TestDecodePaymentHeaderRejectsUnsupportedVersion(t *testing.T) {
	p := &PaymentPayload{X402Version: 2, Scheme: SchemeExact, Network: NetworkSolana}
	_, err := DecodePaymentHeader(p.Encode())
	require.Error(t, err)
}

func TestPaymentErrorHTTPStatus(t *testing.T) {
	assert.Equal(t, 402, (&PaymentError{Code: CodePaymentRequired}).HTTPStatus())
	assert.Equal(t, 409, (&PaymentError{Code: CodeConfigMismatch}).HTTPStatus())
	assert.Equal(t, 500, (&PaymentError{Code: "whatever"}).HTTPStatus())
}
