package handshake

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amariwan/cmdchat-go/broker"
	chatcrypto "github.com/amariwan/cmdchat-go/crypto"
	"github.com/amariwan/cmdchat-go/internal/logger"
	"github.com/amariwan/cmdchat-go/protocol"
	"github.com/amariwan/cmdchat-go/registry"
)

type allowAll struct{}

func (allowAll) TokenAllowed(string) bool { return true }

type tokenList struct{ allowed map[string]bool }

func (t tokenList) TokenAllowed(token string) bool { return t.allowed[token] }

func quietLogger() logger.Logger {
	l := logger.NewDefaultLogger()
	l.SetLevel(logger.FatalLevel)
	return l
}

func TestHandshakeSuccessJoinAnnounce(t *testing.T) {
	reg := registry.New()
	broadcaster := broker.NewBroadcaster(reg, quietLogger())
	engine := NewEngine(reg, allowAll{}, quietLogger())

	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	kp, err := chatcrypto.GenerateKeyPair()
	require.NoError(t, err)
	pubPEM, err := chatcrypto.EncodePublicKeyPEM(kp.PublicKey())
	require.NoError(t, err)

	resultCh := make(chan *Result, 1)
	errCh := make(chan error, 1)
	go func() {
		result, err := engine.Run(serverConn, broadcaster)
		resultCh <- result
		errCh <- err
	}()

	require.NoError(t, protocol.WriteJSONFrame(clientConn, protocol.Handshake{
		Type:      protocol.TypeHandshake,
		PublicKey: string(pubPEM),
		Name:      "Alice",
		Room:      "Lobby",
	}))

	var reply protocol.HandshakeOK
	require.NoError(t, protocol.ReadJSONFrame(clientConn, &reply))

	require.NoError(t, <-errCh)
	result := <-resultCh
	require.NotNil(t, result)

	assert.Equal(t, 1, reply.ClientID)
	assert.Equal(t, "lobby", reply.Room)
	assert.Equal(t, "rich", reply.Renderer)
	assert.Equal(t, 200, reply.BufferSize)
	assert.Equal(t, 15, reply.HeartbeatInterval)
	assert.Equal(t, 12, reply.NonceSize)
	assert.NotEmpty(t, reply.EncryptedKey)

	assert.Equal(t, 1, reg.Size())
	assert.Len(t, reg.MembersOf("lobby"), 1)
}

func TestHandshakeUnauthorizedRejected(t *testing.T) {
	reg := registry.New()
	broadcaster := broker.NewBroadcaster(reg, quietLogger())
	engine := NewEngine(reg, tokenList{allowed: map[string]bool{"sesame": true}}, quietLogger())

	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	kp, err := chatcrypto.GenerateKeyPair()
	require.NoError(t, err)
	pubPEM, err := chatcrypto.EncodePublicKeyPEM(kp.PublicKey())
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := engine.Run(serverConn, broadcaster)
		errCh <- err
	}()

	require.NoError(t, protocol.WriteJSONFrame(clientConn, protocol.Handshake{
		Type:      protocol.TypeHandshake,
		PublicKey: string(pubPEM),
		Name:      "Alice",
		Room:      "Lobby",
	}))

	var reply protocol.HandshakeError
	require.NoError(t, protocol.ReadJSONFrame(clientConn, &reply))
	assert.Equal(t, ReasonUnauthorized, reply.Reason)

	require.Error(t, <-errCh)
	assert.Equal(t, 0, reg.Size())
}

func TestHandshakeMissingPublicKeyRejected(t *testing.T) {
	reg := registry.New()
	broadcaster := broker.NewBroadcaster(reg, quietLogger())
	engine := NewEngine(reg, allowAll{}, quietLogger())

	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	errCh := make(chan error, 1)
	go func() {
		_, err := engine.Run(serverConn, broadcaster)
		errCh <- err
	}()

	require.NoError(t, protocol.WriteJSONFrame(clientConn, protocol.Handshake{
		Type: protocol.TypeHandshake,
		Name: "Alice",
		Room: "Lobby",
	}))

	var reply protocol.HandshakeError
	require.NoError(t, protocol.ReadJSONFrame(clientConn, &reply))
	assert.Equal(t, ReasonMissingPublicKey, reply.Reason)
	require.Error(t, <-errCh)
}

func TestHandshakeNotAHelloRejected(t *testing.T) {
	reg := registry.New()
	broadcaster := broker.NewBroadcaster(reg, quietLogger())
	engine := NewEngine(reg, allowAll{}, quietLogger())

	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	errCh := make(chan error, 1)
	go func() {
		_, err := engine.Run(serverConn, broadcaster)
		errCh <- err
	}()

	require.NoError(t, protocol.WriteJSONFrame(clientConn, map[string]string{"type": "chat"}))

	var reply protocol.HandshakeError
	require.NoError(t, protocol.ReadJSONFrame(clientConn, &reply))
	assert.Equal(t, ReasonExpectedHandshake, reply.Reason)
	require.Error(t, <-errCh)
}

func TestMaskToken(t *testing.T) {
	assert.Equal(t, "", maskToken(""))
	assert.Equal(t, "***", maskToken("short"))
	assert.Equal(t, "sesa...3456", maskToken("sesame0123456"))
}
