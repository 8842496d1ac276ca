package auth

import (
	"crypto/subtle"
	"sync/atomic"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/blake2b"
)

// HashServiceKey hashes a bot service key for AUTH_SERVICE_KEY_HASH.
func HashServiceKey(key string, cost int) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(key), cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// ServiceKeyVerifier checks the bot's X-Service-Key header. A verifier without
// a hash rejects every key.
//
// bcrypt runs once per distinct key; after a successful comparison the key's
// BLAKE2b digest is kept and later requests compare digests in constant time.
type ServiceKeyVerifier struct {
	hash     []byte
	verified atomic.Pointer[[blake2b.Size256]byte]
}

// NewServiceKeyVerifier wraps a bcrypt hash.
func NewServiceKeyVerifier(hash string) *ServiceKeyVerifier {
	return &ServiceKeyVerifier{hash: []byte(hash)}
}

// Verify reports whether key matches the configured hash.
func (v *ServiceKeyVerifier) Verify(key string) bool {
	if v == nil || len(v.hash) == 0 || key == "" {
		return false
	}
	digest := blake2b.Sum256([]byte(key))
	if known := v.verified.Load(); known != nil && subtle.ConstantTimeCompare(known[:], digest[:]) == 1 {
		return true
	}
	if bcrypt.CompareHashAndPassword(v.hash, []byte(key)) != nil {
		return false
	}
	v.verified.Store(&digest)
	return true
}
