// Package history is the optional local transcript store: a Sink the
// client's receive loop appends every received payload to, plus the
// concrete passphrase-encrypted file sink. Append failures are logged
// and swallowed rather than surfaced to the transport.
package history

import (
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/amariwan/cmdchat-go/crypto"
)

// Sink receives every payload the client renders, in receive order.
// Append must never block the transport's receive loop on anything
// beyond what it takes to buffer or flush locally.
type Sink interface {
	Append(v interface{}) error
}

// envelope is the on-disk encrypted transcript format: a PBKDF2 salt,
// the AES-GCM nonce, and the ciphertext of the JSON-encoded message
// list, each base64-encoded.
type envelope struct {
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// EncryptedFileSink persists an append-only transcript to a single file,
// encrypted under a key derived from passphrase via PBKDF2. The whole
// file is rewritten on every append; transcripts are local and not
// expected to reach a size where that matters.
type EncryptedFileSink struct {
	mu         sync.Mutex
	path       string
	passphrase string
	salt       []byte
	messages   []json.RawMessage
}

// NewEncryptedFileSink opens (or initializes) an encrypted history file
// at path under passphrase. A missing or undecodable file starts a
// blank history rather than failing.
func NewEncryptedFileSink(path, passphrase string) *EncryptedFileSink {
	s := &EncryptedFileSink{path: path, passphrase: passphrase}
	s.load()
	return s
}

func (s *EncryptedFileSink) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return
	}
	salt, err := base64.StdEncoding.DecodeString(env.Salt)
	if err != nil {
		return
	}
	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil {
		return
	}
	ciphertext, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return
	}
	key, err := crypto.DeriveKey(s.passphrase, salt)
	if err != nil {
		return
	}
	cipher, err := crypto.NewSessionCipher(key)
	if err != nil {
		return
	}
	plaintext, err := cipher.Open(nonce, ciphertext)
	if err != nil {
		return
	}
	var messages []json.RawMessage
	if err := json.Unmarshal(plaintext, &messages); err != nil {
		return
	}
	s.salt = salt
	s.messages = messages
}

// Append adds v to the transcript and persists the encrypted file.
// Errors are returned to the caller, which is expected to log and
// swallow them rather than fail the send/receive loop.
func (s *EncryptedFileSink) Append(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.messages = append(s.messages, raw)
	return s.persist()
}

func (s *EncryptedFileSink) persist() error {
	if s.salt == nil {
		salt, err := crypto.NewSalt()
		if err != nil {
			return err
		}
		s.salt = salt
	}
	key, err := crypto.DeriveKey(s.passphrase, s.salt)
	if err != nil {
		return err
	}
	cipher, err := crypto.NewSessionCipher(key)
	if err != nil {
		return err
	}
	data, err := json.Marshal(s.messages)
	if err != nil {
		return err
	}
	nonce, ciphertext, err := cipher.Seal(data)
	if err != nil {
		return err
	}
	env := envelope{
		Salt:       base64.StdEncoding.EncodeToString(s.salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	}
	out, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(s.path, out, 0o600)
}
