// Package receipt derives a deterministic ES256 key pair from a shared
// secret and signs payment receipt JWTs proving a payment settled,
// verifiable by third parties against a published JWKS document.
package receipt

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"math/big"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/txtx/moneymq-go/channels"
)

// keyDerivationSalt matches the byte sequence hashed alongside the
// secret everywhere this module and its SDKs derive the same key.
const keyDerivationSalt = "moneymq-jwt-key-derivation-v1"

// DefaultExpirationHours is how long a signed receipt is valid for.
const DefaultExpirationHours = 24

// KeyPair is an ES256 signing key deterministically derived from a
// shared secret: the same secret always yields the same key id and
// JWKS document, so rotating infrastructure without rotating the
// secret doesn't invalidate previously issued receipts.
type KeyPair struct {
	private *ecdsa.PrivateKey
	keyID   string
}

// NewKeyPairFromSecret derives a P-256 ECDSA key pair from secret: the
// private scalar is SHA-256(secret || salt) interpreted as a big-endian
// integer, matching the corresponding SDK-side derivation exactly.
func NewKeyPairFromSecret(secret string) *KeyPair {
	h := sha256.New()
	h.Write([]byte(secret))
	h.Write([]byte(keyDerivationSalt))
	scalar := h.Sum(nil)

	curve := elliptic.P256()
	d := new(big.Int).SetBytes(scalar)
	x, y := curve.ScalarBaseMult(d.Bytes())

	private := &ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{Curve: curve, X: x, Y: y},
		D:         d,
	}

	kidHash := sha256.Sum256(uncompressedPoint(curve, x, y))
	keyID := "moneymq-" + hex.EncodeToString(kidHash[:8])

	return &KeyPair{private: private, keyID: keyID}
}

// uncompressedPoint renders an EC point as the SEC1 uncompressed form
// (0x04 || x || y), matching what the secret's Rust-side counterpart
// hashes to derive the key id.
func uncompressedPoint(curve elliptic.Curve, x, y *big.Int) []byte {
	byteLen := (curve.Params().BitSize + 7) / 8
	out := make([]byte, 1+2*byteLen)
	out[0] = 4
	x.FillBytes(out[1 : 1+byteLen])
	y.FillBytes(out[1+byteLen:])
	return out
}

// KeyID returns the derived key id used in both the JWT header and JWKS.
func (k *KeyPair) KeyID() string { return k.keyID }

// JWK is a single JSON Web Key entry.
type JWK struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
	Use string `json:"use"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
}

// JWKSResponse is the GET /.well-known/jwks.json body.
type JWKSResponse struct {
	Keys []JWK `json:"keys"`
}

// JWKS returns the published public key document for this key pair.
func (k *KeyPair) JWKS() JWKSResponse {
	byteLen := (k.private.Curve.Params().BitSize + 7) / 8
	xBytes := make([]byte, byteLen)
	yBytes := make([]byte, byteLen)
	k.private.X.FillBytes(xBytes)
	k.private.Y.FillBytes(yBytes)

	return JWKSResponse{Keys: []JWK{{
		Kty: "EC",
		Crv: "P-256",
		X:   base64.RawURLEncoding.EncodeToString(xBytes),
		Y:   base64.RawURLEncoding.EncodeToString(yBytes),
		Use: "sig",
		Kid: k.keyID,
		Alg: "ES256",
	}}}
}

// PaymentDetails is the payment side of a receipt's claims.
type PaymentDetails struct {
	Payer         string `json:"payer"`
	TransactionID string `json:"transactionId"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	Network       string `json:"network"`
	Signature     string `json:"signature,omitempty"`
}

// Claims is the JWT claim set for a payment receipt.
type Claims struct {
	Basket      []channels.BasketItem      `json:"basket"`
	Payment     PaymentDetails             `json:"payment"`
	Attachments map[string]map[string]any  `json:"attachments,omitempty"`
	jwt.RegisteredClaims
}

// NewClaims builds receipt claims expiring DefaultExpirationHours from now.
func NewClaims(basket []channels.BasketItem, payment PaymentDetails, attachments map[string]map[string]any, issuer, transactionID string) Claims {
	now := time.Now()
	return Claims{
		Basket:      basket,
		Payment:     payment,
		Attachments: attachments,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(DefaultExpirationHours * time.Hour)),
			Issuer:    issuer,
			Subject:   transactionID,
		},
	}
}

// Sign produces the compact JWT for claims, with this key pair's id in
// the header and an ES256 signature in raw r||s form.
func (k *KeyPair) Sign(claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = k.keyID
	return token.SignedString(k.private)
}

// ComposeAndSign builds claims from the given basket/payment/attachments
// and signs them, implementing channels.ReceiptComposer.
func (k *KeyPair) ComposeAndSign(basket []channels.BasketItem, payment channels.PaymentDetails, attachments map[string]map[string]any, paymentStackID, transactionID string) (string, error) {
	claims := NewClaims(basket, PaymentDetails{
		Payer:         payment.Payer,
		TransactionID: payment.TransactionID,
		Amount:        payment.Amount,
		Currency:      payment.Currency,
		Network:       payment.Network,
		Signature:     payment.Signature,
	}, attachments, paymentStackID, transactionID)
	return k.Sign(claims)
}
