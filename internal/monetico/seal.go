package monetico

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
)

// Version is the gateway protocol version carried in every sealed request.
const Version = "3.0"

// sealSeparator joins field values before the keyed digest is computed.
// The gateway computes its seal over the exact same concatenation, so the
// separator and field order are part of the wire contract.
const sealSeparator = "*"

// Signer computes and verifies the gateway seal: an HMAC-SHA1 over the
// canonical field concatenation, keyed with the operational key derived
// from the 40-character merchant key.
type Signer struct {
	key []byte
}

// NewSigner derives the operational key from the merchant key. The merchant
// key is 38 hex characters plus a two-character suffix encoding the real
// final byte: a letter in G..` at position 39 is shifted down by 23, and a
// trailing M forces the last nibble to zero.
func NewSigner(merchantKey string) (*Signer, error) {
	key, err := deriveKey(merchantKey)
	if err != nil {
		return nil, err
	}
	return &Signer{key: key}, nil
}

func deriveKey(merchantKey string) ([]byte, error) {
	if len(merchantKey) != 40 {
		return nil, fmt.Errorf("monetico: merchant key must be 40 characters, got %d", len(merchantKey))
	}
	hexKey := merchantKey[:38]
	c0 := merchantKey[38]
	c1 := merchantKey[39]
	switch {
	case c0 > 70 && c0 < 97:
		hexKey += string(c0-23) + string(c1)
	case c1 == 'M':
		hexKey += string(c0) + "0"
	default:
		hexKey += string(c0) + string(c1)
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("monetico: merchant key is not hex-encodable: %w", err)
	}
	return key, nil
}

// Seal computes the seal over the given field values, in order, and returns
// it as uppercase hex.
func (s *Signer) Seal(values []string) string {
	mac := hmac.New(sha1.New, s.key)
	mac.Write([]byte(strings.Join(values, sealSeparator)))
	return strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))
}

// Verify recomputes the seal over values and compares it to the supplied
// seal in constant time. Comparison is case-insensitive since the gateway
// emits lowercase hex while requests carry uppercase.
func (s *Signer) Verify(values []string, seal string) bool {
	expected := s.Seal(values)
	supplied := strings.ToUpper(strings.TrimSpace(seal))
	if len(expected) != len(supplied) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(supplied)) == 1
}
