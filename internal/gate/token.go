package gate

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// NewToken returns a 256-bit URL-safe opaque access token.
func NewToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate access token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
