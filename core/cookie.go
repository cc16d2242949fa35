package core

import (
	"strings"

	"github.com/gorilla/securecookie"
)

// signedPrefix marks a cookie value that carries an HMAC signature.
const signedPrefix = "s:"

// CookieCodec signs and verifies cookie values with the cookie secret.
// Values are authenticated, not encrypted.
type CookieCodec struct {
	sc *securecookie.SecureCookie
}

func NewCookieCodec(secret string) *CookieCodec {
	sc := securecookie.New([]byte(secret), nil)
	// expiry is enforced by the session store, not by the signature
	sc.MaxAge(0)
	return &CookieCodec{sc: sc}
}

// Sign returns the cookie value for name carrying value.
func (c *CookieCodec) Sign(name, value string) (string, error) {
	enc, err := c.sc.Encode(name, value)
	if err != nil {
		return "", err
	}
	return signedPrefix + enc, nil
}

// Verify returns the original value of a signed cookie. ok is false for
// unsigned values and for values whose signature does not match name.
func (c *CookieCodec) Verify(name, raw string) (value string, ok bool) {
	if !strings.HasPrefix(raw, signedPrefix) {
		return "", false
	}
	if err := c.sc.Decode(name, strings.TrimPrefix(raw, signedPrefix), &value); err != nil {
		return "", false
	}
	return value, true
}

// isSigned reports whether raw looks like a signed cookie value.
func isSigned(raw string) bool {
	return strings.HasPrefix(raw, signedPrefix)
}
