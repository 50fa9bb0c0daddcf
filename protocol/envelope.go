package protocol

import (
	"encoding/base64"
	"encoding/json"

	"github.com/amariwan/cmdchat-go/crypto"
	"github.com/amariwan/cmdchat-go/internal/logger"
)

// SealEnvelope serializes payload to JSON, encrypts it under cipher, and
// returns the encrypted envelope ready to write as one frame.
func SealEnvelope(cipher *crypto.SessionCipher, payload interface{}) (Envelope, error) {
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, logger.NewChatError(logger.ErrCodeProtocol, "failed to marshal payload", err)
	}

	nonce, ciphertext, err := cipher.Seal(plaintext)
	if err != nil {
		return Envelope{}, logger.NewChatError(logger.ErrCodeCrypto, "failed to seal payload", err)
	}

	return Envelope{
		Type:       TypeEncrypted,
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	}, nil
}

// OpenEnvelope decrypts an encrypted envelope under cipher and returns the
// decrypted plaintext JSON bytes. Any decode, decrypt, or base64 failure is
// reported as a single ChatError: the caller must not leak which stage
// failed back to the peer (no decryption oracle).
func OpenEnvelope(cipher *crypto.SessionCipher, env Envelope) ([]byte, error) {
	if env.Type != TypeEncrypted || env.Nonce == "" || env.Ciphertext == "" {
		return nil, logger.NewChatError(logger.ErrCodeProtocol, "malformed encrypted envelope", nil)
	}

	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil {
		return nil, logger.NewChatError(logger.ErrCodeProtocol, "malformed encrypted envelope", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, logger.NewChatError(logger.ErrCodeProtocol, "malformed encrypted envelope", err)
	}

	plaintext, err := cipher.Open(nonce, ciphertext)
	if err != nil {
		return nil, logger.NewChatError(logger.ErrCodeCrypto, "failed to open encrypted envelope", err)
	}
	return plaintext, nil
}

// DecodePayloadType extracts the "type" discriminator from decrypted
// payload JSON, without fully decoding the rest of the object.
func DecodePayloadType(plaintext []byte) (string, error) {
	var probe TypeProbe
	if err := json.Unmarshal(plaintext, &probe); err != nil {
		return "", logger.NewChatError(logger.ErrCodeProtocol, "malformed payload", err)
	}
	if probe.Type == "" {
		return "", logger.NewChatError(logger.ErrCodeProtocol, "payload missing type", nil)
	}
	return probe.Type, nil
}
