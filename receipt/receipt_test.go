package receipt

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txtx/moneymq-go/channels"
)

func TestJWTKeyPairFromSecret(t *testing.T) {
	k := NewKeyPairFromSecret("test-secret")
	require.NotNil(t, k.private)
	assert.NotEmpty(t, k.KeyID())
}

func TestDeterministicKeyDerivation(t *testing.T) {
	a := NewKeyPairFromSecret("same-secret")
	b := NewKeyPairFromSecret("same-secret")
	assert.Equal(t, a.KeyID(), b.KeyID())
	assert.Equal(t, a.private.D, b.private.D)

	c := NewKeyPairFromSecret("different-secret")
	assert.NotEqual(t, a.KeyID(), c.KeyID())
}

func TestJWKSGeneration(t *testing.T) {
	k := NewKeyPairFromSecret("test-secret")
	jwks := k.JWKS()
	require.Len(t, jwks.Keys, 1)

	jwk := jwks.Keys[0]
	assert.Equal(t, "EC", jwk.Kty)
	assert.Equal(t, "P-256", jwk.Crv)
	assert.Equal(t, "sig", jwk.Use)
	assert.Equal(t, "ES256", jwk.Alg)
	assert.Equal(t, k.KeyID(), jwk.Kid)
	assert.NotEmpty(t, jwk.X)
	assert.NotEmpty(t, jwk.Y)
}

func TestPaymentReceiptClaims(t *testing.T) {
	basket := []channels.BasketItem{{ProductID: "prod-1", Quantity: 2}}
	payment := PaymentDetails{Payer: "payer-addr", TransactionID: "tx-1", Amount: "100", Currency: "USDC", Network: "solana"}

	claims := NewClaims(basket, payment, nil, "stack-1", "tx-1")

	assert.Equal(t, basket, claims.Basket)
	assert.Equal(t, payment, claims.Payment)
	assert.Equal(t, "stack-1", claims.Issuer)
	assert.Equal(t, "tx-1", claims.Subject)
	assert.Nil(t, claims.Attachments)
	require.NotNil(t, claims.ExpiresAt)
	require.NotNil(t, claims.IssuedAt)
	assert.True(t, claims.ExpiresAt.After(claims.IssuedAt.Time))
}

func TestPaymentReceiptWithAttachments(t *testing.T) {
	basket := []channels.BasketItem{{ProductID: "prod-1", Quantity: 1}}
	payment := PaymentDetails{Payer: "payer-addr", TransactionID: "tx-2", Amount: "50", Currency: "USDC", Network: "solana"}
	attachments := map[string]map[string]any{
		"actor-1": {"note": "thanks"},
	}

	claims := NewClaims(basket, payment, attachments, "stack-1", "tx-2")
	assert.Equal(t, attachments, claims.Attachments)
}

func TestCreatePaymentReceiptJWTES256(t *testing.T) {
	k := NewKeyPairFromSecret("test-secret")
	basket := []channels.BasketItem{{ProductID: "prod-1", Quantity: 1}}
	payment := PaymentDetails{Payer: "payer-addr", TransactionID: "tx-3", Amount: "25", Currency: "USDC", Network: "solana"}

	claims := NewClaims(basket, payment, nil, "stack-1", "tx-3")
	token, err := k.Sign(claims)
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(tok *jwt.Token) (any, error) {
		assert.Equal(t, k.KeyID(), tok.Header["kid"])
		return &k.private.PublicKey, nil
	})
	require.NoError(t, err)
	require.True(t, parsed.Valid)

	got, ok := parsed.Claims.(*Claims)
	require.True(t, ok)
	assert.Equal(t, "tx-3", got.Subject)
	assert.Equal(t, payment, got.Payment)
}

func TestComposeAndSignImplementsChannelsReceiptComposer(t *testing.T) {
	k := NewKeyPairFromSecret("test-secret")
	var composer channels.ReceiptComposer = k

	basket := []channels.BasketItem{{ProductID: "prod-1", Quantity: 3}}
	payment := channels.PaymentDetails{Payer: "payer-addr", TransactionID: "tx-4", Amount: "75", Currency: "USDC", Network: "solana"}

	token, err := composer.ComposeAndSign(basket, payment, nil, "stack-1", "tx-4")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
}
