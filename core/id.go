package core

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

const sessionIDBytes = 24

// newSessionID returns a URL-safe random identifier for a server-side session.
func newSessionID() (string, error) {
	b := make([]byte, sessionIDBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("session id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
