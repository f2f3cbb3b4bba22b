// Package signature validates gateway-issued HMAC signatures for webhook
// payloads and client checkout confirmations.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Verify computes HMAC-SHA256 over the exact payload bytes and compares it in
// constant time with the hex-encoded signature. Malformed and wrong signatures
// both return false; callers must not distinguish the two.
func Verify(payload []byte, sig, secret string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := mac.Sum(nil)

	given, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	return hmac.Equal(expected, given)
}

// VerifyCheckout validates the signature the client receives after checkout,
// computed by the gateway over "orderID|paymentID".
func VerifyCheckout(orderID, paymentID, sig, secret string) bool {
	return Verify([]byte(orderID+"|"+paymentID), sig, secret)
}

// Sign returns the hex HMAC-SHA256 of payload under secret.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
