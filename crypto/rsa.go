// Copyright (C) 2025 cmdchat-go contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

// Package crypto implements the one-time RSA-OAEP key transport, the
// AES-GCM session cipher used for every encrypted frame after handshake,
// and the PBKDF2 key derivation used by the client's optional encrypted
// history store.
package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
)

// KeyPair holds an RSA-2048 key pair used once per connection to transport
// the server-generated AES session key during handshake.
type KeyPair struct {
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	id         string
}

// GenerateKeyPair generates a new 2048-bit RSA key pair.
func GenerateKeyPair() (*KeyPair, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generate rsa key: %w", err)
	}

	publicKey := &privateKey.PublicKey

	// Derive a short id from the public key modulus hash, useful for
	// correlating handshake log lines with a specific key pair.
	modBytes := publicKey.N.Bytes()
	hash := sha256.Sum256(modBytes)
	id := hex.EncodeToString(hash[:8])

	return &KeyPair{
		privateKey: privateKey,
		publicKey:  publicKey,
		id:         id,
	}, nil
}

// PublicKey returns the public half of the pair.
func (kp *KeyPair) PublicKey() *rsa.PublicKey { return kp.publicKey }

// PrivateKey returns the private half of the pair.
func (kp *KeyPair) PrivateKey() *rsa.PrivateKey { return kp.privateKey }

// ID returns a short identifier derived from the public key.
func (kp *KeyPair) ID() string { return kp.id }

// EncodePublicKeyPEM marshals the public key as a PKIX SubjectPublicKeyInfo
// PEM block, the format clients send over the wire at handshake.
func EncodePublicKeyPEM(pub *rsa.PublicKey) ([]byte, error) {
	derBytes, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	block := &pem.Block{Type: "PUBLIC KEY", Bytes: derBytes}
	return pem.EncodeToMemory(block), nil
}

// DecodePublicKeyPEM parses a PKIX SubjectPublicKeyInfo PEM block into an
// RSA public key.
func DecodePublicKeyPEM(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("crypto: failed to decode PEM block")
	}
	if block.Type != "PUBLIC KEY" {
		return nil, fmt.Errorf("crypto: expected PUBLIC KEY, got %s", block.Type)
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("crypto: expected RSA public key, got %T", pub)
	}
	return rsaPub, nil
}

// EncodePrivateKeyPEM marshals the private key as a PKCS1 PEM block.
func EncodePrivateKeyPEM(priv *rsa.PrivateKey) []byte {
	derBytes := x509.MarshalPKCS1PrivateKey(priv)
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: derBytes}
	return pem.EncodeToMemory(block)
}

// DecodePrivateKeyPEM parses a PKCS1 PEM block into an RSA private key.
func DecodePrivateKeyPEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("crypto: failed to decode PEM block")
	}
	if block.Type != "RSA PRIVATE KEY" {
		return nil, fmt.Errorf("crypto: expected RSA PRIVATE KEY, got %s", block.Type)
	}
	return x509.ParsePKCS1PrivateKey(block.Bytes)
}

// WrapKey encrypts the session key to the given public key using
// RSA-OAEP with SHA-256 for both the hash and the MGF1 mask, and an
// empty label, per the handshake's key-transport step.
func WrapKey(pub *rsa.PublicKey, sessionKey []byte) ([]byte, error) {
	ciphertext, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, sessionKey, nil)
	if err != nil {
		return nil, fmt.Errorf("wrap session key: %w", err)
	}
	return ciphertext, nil
}

// UnwrapKey decrypts an RSA-OAEP-SHA256 wrapped session key with the given
// private key.
func UnwrapKey(priv *rsa.PrivateKey, wrapped []byte) ([]byte, error) {
	plaintext, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, wrapped, nil)
	if err != nil {
		return nil, fmt.Errorf("unwrap session key: %w", err)
	}
	return plaintext, nil
}
