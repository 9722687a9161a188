package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

// MinHMACKeyBytes is the shortest accepted HMAC key.
const MinHMACKeyBytes = 32

// HashSHA256Hex returns a SHA-256 hex digest of s.
func HashSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashHMACSHA256Hex returns an HMAC-SHA256 hex digest of s using key.
func HashHMACSHA256Hex(s string, key []byte) string {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(s))
	return hex.EncodeToString(m.Sum(nil))
}

// Hasher digests secrets for server-side storage.
type Hasher struct {
	key []byte
}

// NewHasher returns a Hasher. An empty (blank) key selects plain SHA-256.
func NewHasher(key string) (Hasher, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return Hasher{}, nil
	}
	if len(key) < MinHMACKeyBytes {
		return Hasher{}, ErrHMACKeyTooShort
	}
	return Hasher{key: []byte(key)}, nil
}

// Keyed reports whether HMAC mode is active.
func (h Hasher) Keyed() bool { return len(h.key) > 0 }

// Digest returns the hex digest of secret.
func (h Hasher) Digest(secret string) string {
	if len(h.key) == 0 {
		return HashSHA256Hex(secret)
	}
	return HashHMACSHA256Hex(secret, h.key)
}

// Matches reports whether secret digests to want, in constant time.
func (h Hasher) Matches(secret, want string) bool {
	return Equal(h.Digest(secret), want)
}

// Equal compares a and b in constant time. Empty strings never match.
func Equal(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Generator produces URL-safe random secrets.
type Generator struct {
	src io.Reader
	n   int
}

// NewGenerator returns a Generator reading nBytes per secret from src.
// A nil src means crypto/rand.
func NewGenerator(src io.Reader, nBytes int) Generator {
	if src == nil {
		src = rand.Reader
	}
	return Generator{src: src, n: nBytes}
}

// New returns a fresh secret.
func (g Generator) New() (string, error) {
	b := make([]byte, g.n)
	if _, err := io.ReadFull(g.src, b); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEntropy, err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
