package server

import (
	"context"
	"encoding/base64"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amariwan/cmdchat-go/config"
	chatcrypto "github.com/amariwan/cmdchat-go/crypto"
	"github.com/amariwan/cmdchat-go/internal/logger"
	"github.com/amariwan/cmdchat-go/protocol"
)

func quietLogger() logger.Logger {
	l := logger.NewDefaultLogger()
	l.SetLevel(logger.FatalLevel)
	return l
}

func TestServerAcceptsHandshakeAndBroadcastsChat(t *testing.T) {
	cfg := config.DefaultServerConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	srv := New(&cfg, quietLogger())
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	serveErrCh := make(chan error, 1)
	go func() { serveErrCh <- srv.Serve(ctx) }()

	addr := srv.Addr().String()

	aliceConn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer aliceConn.Close()
	aliceKP, err := chatcrypto.GenerateKeyPair()
	require.NoError(t, err)
	alicePubPEM, err := chatcrypto.EncodePublicKeyPEM(aliceKP.PublicKey())
	require.NoError(t, err)

	require.NoError(t, protocol.WriteJSONFrame(aliceConn, protocol.Handshake{
		Type:      protocol.TypeHandshake,
		PublicKey: string(alicePubPEM),
		Name:      "Alice",
		Room:      "lobby",
	}))
	var aliceHello protocol.HandshakeOK
	require.NoError(t, protocol.ReadJSONFrame(aliceConn, &aliceHello))
	aliceWrapped, err := base64.StdEncoding.DecodeString(aliceHello.EncryptedKey)
	require.NoError(t, err)
	aliceKey, err := chatcrypto.UnwrapKey(aliceKP.PrivateKey(), aliceWrapped)
	require.NoError(t, err)
	aliceCipher, err := chatcrypto.NewSessionCipher(aliceKey)
	require.NoError(t, err)

	bobConn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer bobConn.Close()
	bobKP, err := chatcrypto.GenerateKeyPair()
	require.NoError(t, err)
	bobPubPEM, err := chatcrypto.EncodePublicKeyPEM(bobKP.PublicKey())
	require.NoError(t, err)

	require.NoError(t, protocol.WriteJSONFrame(bobConn, protocol.Handshake{
		Type:      protocol.TypeHandshake,
		PublicKey: string(bobPubPEM),
		Name:      "Bob",
		Room:      "lobby",
	}))
	var bobHello protocol.HandshakeOK
	require.NoError(t, protocol.ReadJSONFrame(bobConn, &bobHello))
	bobWrapped, err := base64.StdEncoding.DecodeString(bobHello.EncryptedKey)
	require.NoError(t, err)
	bobKey, err := chatcrypto.UnwrapKey(bobKP.PrivateKey(), bobWrapped)
	require.NoError(t, err)
	bobCipher, err := chatcrypto.NewSessionCipher(bobKey)
	require.NoError(t, err)

	// Alice observes Bob's join announcement.
	var joinMsg protocol.SystemPayload
	readEncrypted(t, aliceConn, aliceCipher, &joinMsg)
	assert.Contains(t, joinMsg.Message, "Bob joined the chat.")

	// Bob sends a chat message; both Bob and Alice should see it.
	env, err := protocol.SealEnvelope(bobCipher, protocol.ChatPayload{Type: protocol.TypeChat, Message: "hi all"})
	require.NoError(t, err)
	require.NoError(t, protocol.WriteJSONFrame(bobConn, env))

	var bobEcho protocol.ChatPayload
	readEncrypted(t, bobConn, bobCipher, &bobEcho)
	assert.Equal(t, "hi all", bobEcho.Message)

	var aliceEcho protocol.ChatPayload
	readEncrypted(t, aliceConn, aliceCipher, &aliceEcho)
	assert.Equal(t, "hi all", aliceEcho.Message)

	// Bob disconnects; Alice should observe the "left the chat" broadcast.
	require.NoError(t, bobConn.Close())
	var leftMsg protocol.SystemPayload
	readEncrypted(t, aliceConn, aliceCipher, &leftMsg)
	assert.Contains(t, leftMsg.Message, "Bob left the chat.")

	cancel()
	select {
	case err := <-serveErrCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down")
	}
}

// TestStopUnblocksIdleConnection exercises the scenario a hung shutdown would
// produce: a client completes the handshake and then goes idle with no
// further frames in flight, parking its dispatcher goroutine inside
// protocol.ReadFrame. Stop (triggered here via context cancellation) must
// force-close that connection so the blocked read unblocks and Serve
// returns, rather than waiting forever on wg.Wait.
func TestStopUnblocksIdleConnection(t *testing.T) {
	cfg := config.DefaultServerConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	srv := New(&cfg, quietLogger())
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	serveErrCh := make(chan error, 1)
	go func() { serveErrCh <- srv.Serve(ctx) }()

	addr := srv.Addr().String()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	kp, err := chatcrypto.GenerateKeyPair()
	require.NoError(t, err)
	pubPEM, err := chatcrypto.EncodePublicKeyPEM(kp.PublicKey())
	require.NoError(t, err)

	require.NoError(t, protocol.WriteJSONFrame(conn, protocol.Handshake{
		Type:      protocol.TypeHandshake,
		PublicKey: string(pubPEM),
		Name:      "Idle",
		Room:      "lobby",
	}))
	var hello protocol.HandshakeOK
	require.NoError(t, protocol.ReadJSONFrame(conn, &hello))

	// conn now sits idle with its dispatcher parked in ReadFrame; no further
	// frames are written before shutdown.
	cancel()
	select {
	case err := <-serveErrCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down with an idle connection outstanding")
	}
}

func readEncrypted(t *testing.T, conn net.Conn, cipher *chatcrypto.SessionCipher, v interface{}) {
	t.Helper()
	var env protocol.Envelope
	require.NoError(t, protocol.ReadJSONFrame(conn, &env))
	plaintext, err := protocol.OpenEnvelope(cipher, env)
	require.NoError(t, err)
	require.NoError(t, protocol.DecodeObject(plaintext, v))
}
