package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// RandomString returns n random bytes from the system CSPRNG, hex encoded.
// State and nonce values use n=32 for 256 bits of entropy each.
func RandomString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}
