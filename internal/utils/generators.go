package utils

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

const opaqueTokenBytes = 32

// NewID returns a random UUID v4 string.
func NewID() string {
	return uuid.NewString()
}

// NewOpaqueToken returns a URL-safe random credential. It carries no structure.
func NewOpaqueToken() (string, error) {
	buf := make([]byte, opaqueTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// TokenHasher derives the lookup hash stored in place of a plaintext token.
type TokenHasher struct {
	key []byte
}

func NewTokenHasher(pepper string) (*TokenHasher, error) {
	if pepper == "" {
		return nil, errors.New("token pepper is empty")
	}
	key := []byte(pepper)
	if len(key) > blake2b.Size {
		sum := blake2b.Sum256(key)
		key = sum[:]
	}
	return &TokenHasher{key: key}, nil
}

func (h *TokenHasher) Hash(token string) string {
	mac, err := blake2b.New256(h.key)
	if err != nil {
		// only reachable with a key over 64 bytes, which NewTokenHasher rules out
		panic(err)
	}
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}
