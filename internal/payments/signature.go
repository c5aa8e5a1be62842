// Package payments provides the payment-gateway collaborator boundary:
// signature verification for completion claims and a thin HTTP client for
// order creation and payment lookup.
package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// signatureSeparator joins claim components into the canonical string the
// gateway signs.
const signatureSeparator = "|"

// SignatureVerifier authenticates payment completion claims with
// HMAC-SHA256 over the canonical joined components, using the secret shared
// with the gateway.
type SignatureVerifier struct {
	secret []byte
}

// NewSignatureVerifier creates a verifier with the shared gateway secret.
func NewSignatureVerifier(secret string) *SignatureVerifier {
	return &SignatureVerifier{secret: []byte(secret)}
}

// VerifyOrder checks a one-time order claim signed over orderID|paymentID.
func (v *SignatureVerifier) VerifyOrder(orderID, paymentID, signature string) bool {
	return v.verify(signature, orderID, paymentID)
}

// VerifySubscription checks a recurring-subscription claim signed over
// paymentID|subscriptionID.
func (v *SignatureVerifier) VerifySubscription(paymentID, subscriptionID, signature string) bool {
	return v.verify(signature, paymentID, subscriptionID)
}

// verify recomputes the hex-encoded HMAC-SHA256 digest of the joined
// components and compares it to the claimed signature in constant time.
// Malformed input is a verification failure, never a panic.
func (v *SignatureVerifier) verify(signature string, components ...string) bool {
	if len(v.secret) == 0 || signature == "" {
		return false
	}
	for _, c := range components {
		if c == "" {
			return false
		}
	}

	claimed, err := hex.DecodeString(strings.ToLower(strings.TrimSpace(signature)))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(strings.Join(components, signatureSeparator)))
	return hmac.Equal(claimed, mac.Sum(nil))
}
