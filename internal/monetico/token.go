package monetico

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
)

// ErrInvalidToken is returned for any token that fails to decode or verify.
// Callers must not distinguish the failure modes externally.
var ErrInvalidToken = errors.New("monetico: invalid signed token")

const tokenKeySalt = "monetico.token"

// TokenCodec signs correlation identifiers so they survive the redirect hop
// through the browser without being forgeable. The token is the identifier
// plus a keyed MAC, hex-encoded for safe transport as a URL query value.
type TokenCodec struct {
	key []byte
}

// NewTokenCodec derives the signing key from the server secret. The secret
// is never used raw as the MAC key.
func NewTokenCodec(secret string) *TokenCodec {
	sum := sha256.Sum256([]byte(tokenKeySalt + secret))
	return &TokenCodec{key: sum[:]}
}

// Sign returns the hex-encoded signed form of identifier.
func (c *TokenCodec) Sign(identifier string) string {
	signed := identifier + ":" + c.mac(identifier)
	return strings.ToUpper(hex.EncodeToString([]byte(signed)))
}

// Verify decodes a signed token and returns the original identifier. Any
// alteration of the token, its identifier or its MAC yields ErrInvalidToken.
func (c *TokenCodec) Verify(token string) (string, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(token))
	if err != nil {
		return "", ErrInvalidToken
	}
	signed := string(raw)
	idx := strings.LastIndex(signed, ":")
	if idx <= 0 {
		return "", ErrInvalidToken
	}
	identifier, supplied := signed[:idx], signed[idx+1:]
	expected := c.mac(identifier)
	if len(supplied) != len(expected) {
		return "", ErrInvalidToken
	}
	if subtle.ConstantTimeCompare([]byte(expected), []byte(supplied)) != 1 {
		return "", ErrInvalidToken
	}
	return identifier, nil
}

func (c *TokenCodec) mac(identifier string) string {
	mac := hmac.New(sha256.New, c.key)
	mac.Write([]byte(identifier))
	return hex.EncodeToString(mac.Sum(nil))
}
