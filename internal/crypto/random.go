// internal/crypto/random.go
package crypto

import (
	"crypto/rand"
	"encoding/base64"
)

// RandomToken generates a URL-safe random token from n random bytes.
// Used for session IDs and OAuth state values.
func RandomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
