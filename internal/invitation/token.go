package invitation

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"

	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
)

// tokenBytes gives 256 bits of entropy (43 chars base64url).
const tokenBytes = 32

// GenerateToken returns a URL-safe random invitation secret.
func GenerateToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, "generate invitation token")
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// TokenHasher derives the stored fingerprint of a token with keyed BLAKE2b-256.
type TokenHasher struct {
	key []byte
}

func NewTokenHasher(key []byte) (*TokenHasher, error) {
	if len(key) > blake2b.Size {
		return nil, errors.Errorf("token key must be at most %d bytes", blake2b.Size)
	}
	return &TokenHasher{key: append([]byte(nil), key...)}, nil
}

func (h *TokenHasher) Fingerprint(token string) string {
	mac, err := blake2b.New256(h.key)
	if err != nil {
		// Key length is checked in NewTokenHasher.
		panic(err)
	}
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}
