package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
)

// SessionKeySize is the size in bytes of the AES-256 session key generated
// fresh by the server for every handshake.
const SessionKeySize = 32

// NonceSize is the size in bytes of the random GCM nonce used on every
// encrypted frame.
const NonceSize = 12

// GenerateSessionKey returns a fresh random 256-bit AES key, one per
// connection, never reused across sessions.
func GenerateSessionKey() ([]byte, error) {
	key := make([]byte, SessionKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate session key: %w", err)
	}
	return key, nil
}

// SessionCipher seals and opens frames under a single AES-256-GCM key
// bound at handshake. Associated data is always empty; the 128-bit
// authentication tag rides along with the ciphertext, as GCM does by
// default.
type SessionCipher struct {
	aead cipher.AEAD
}

// NewSessionCipher builds a SessionCipher from a 32-byte AES key.
func NewSessionCipher(key []byte) (*SessionCipher, error) {
	if len(key) != SessionKeySize {
		return nil, fmt.Errorf("crypto: session key must be %d bytes, got %d", SessionKeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	return &SessionCipher{aead: aead}, nil
}

// Seal encrypts plaintext under a freshly generated random nonce and
// returns the nonce and ciphertext separately, matching the encrypted
// envelope's nonce/ciphertext fields.
func (c *SessionCipher) Seal(plaintext []byte) (nonce, ciphertext []byte, err error) {
	nonce = make([]byte, NonceSize)
	if _, err = rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("generate nonce: %w", err)
	}
	ciphertext = c.aead.Seal(nil, nonce, plaintext, nil)
	return nonce, ciphertext, nil
}

// Open decrypts ciphertext using the given nonce. Any authentication
// failure is returned as an opaque error; callers must treat it as a
// protocol violation, not retry with a different nonce.
func (c *SessionCipher) Open(nonce, ciphertext []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("crypto: nonce must be %d bytes, got %d", NonceSize, len(nonce))
	}
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt frame: %w", err)
	}
	return plaintext, nil
}
