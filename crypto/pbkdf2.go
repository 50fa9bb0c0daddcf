package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

// PBKDF2Iterations is the iteration count used to derive history store
// keys from a user passphrase.
const PBKDF2Iterations = 200_000

// PBKDF2KeySize is the size in bytes of the derived AES key.
const PBKDF2KeySize = 32

// MinSaltSize is the minimum accepted salt length; callers must reject
// shorter salts rather than silently padding them.
const MinSaltSize = 8

// DefaultSaltSize is the salt length generated by NewSalt.
const DefaultSaltSize = 16

// NewSalt returns a fresh random salt of DefaultSaltSize bytes.
func NewSalt() ([]byte, error) {
	salt := make([]byte, DefaultSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}

// DeriveKey derives a 32-byte AES key from a passphrase and salt using
// PBKDF2-HMAC-SHA-256 at 200,000 iterations. This is used only by the
// client's optional encrypted local history store; the broker never
// derives passphrase-based keys.
func DeriveKey(passphrase string, salt []byte) ([]byte, error) {
	if len(salt) < MinSaltSize {
		return nil, fmt.Errorf("crypto: salt must be at least %d bytes, got %d", MinSaltSize, len(salt))
	}
	return pbkdf2.Key([]byte(passphrase), salt, PBKDF2Iterations, PBKDF2KeySize, sha256.New), nil
}
