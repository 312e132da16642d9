package security

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// RandomTokenGenerator issues opaque reauthentication tokens for auto_auth.
// Size is the entropy in bytes; the encoded token is URL safe so clients can
// keep it in local storage or a query string.
type RandomTokenGenerator struct {
	Size int
}

const defaultTokenBytes = 32

func (g RandomTokenGenerator) NewToken() (string, error) {
	size := g.Size
	if size <= 0 {
		size = defaultTokenBytes
	}
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("security: read token entropy: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
