package broker

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/amariwan/cmdchat-go/crypto"
	"github.com/amariwan/cmdchat-go/internal/logger"
	"github.com/amariwan/cmdchat-go/protocol"
	"github.com/amariwan/cmdchat-go/registry"
)

// testLogger discards everything; broker tests assert on protocol
// behavior, not log output.
func testLogger() logger.Logger {
	l := logger.NewDefaultLogger()
	l.SetLevel(logger.FatalLevel)
	return l
}

// newTestSession wires a registry.Session to one end of an in-memory
// net.Pipe, with a fresh AES-GCM cipher, and inserts it into reg. The
// returned net.Conn is the "peer" end: tests write frames into it to
// simulate inbound client traffic, and read frames from it to observe
// server-authored broadcasts.
func newTestSession(t *testing.T, reg *registry.Registry, id int, name, room string) (*registry.Session, net.Conn) {
	t.Helper()
	serverConn, peerConn := net.Pipe()

	key, err := crypto.GenerateSessionKey()
	require.NoError(t, err)
	cipher, err := crypto.NewSessionCipher(key)
	require.NoError(t, err)

	session := registry.NewSession(id, name, room, serverConn, cipher, "rich", 200)
	reg.Insert(session)
	return session, peerConn
}

// writeEnvelope seals payload under cipher and writes it as one frame to
// conn, simulating the peer sending an encrypted frame to the server.
func writeEnvelope(t *testing.T, conn net.Conn, cipher *crypto.SessionCipher, payload interface{}) {
	t.Helper()
	env, err := protocol.SealEnvelope(cipher, payload)
	require.NoError(t, err)
	require.NoError(t, protocol.WriteJSONFrame(conn, env))
}

// readPayload reads one frame from conn, opens it under cipher, and
// decodes it into v.
func readPayload(t *testing.T, conn net.Conn, cipher *crypto.SessionCipher, v interface{}) {
	t.Helper()
	var env protocol.Envelope
	require.NoError(t, protocol.ReadJSONFrame(conn, &env))
	plaintext, err := protocol.OpenEnvelope(cipher, env)
	require.NoError(t, err)
	require.NoError(t, protocol.DecodeObject(plaintext, v))
}

// runAsync runs fn in a goroutine and returns a channel closed when it
// returns, so tests can perform a blocking net.Pipe write/read pair
// concurrently without deadlocking.
func runAsync(fn func()) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	return done
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for goroutine")
	}
}

// fixedNow returns a deterministic timestamp for payload construction in
// tests that don't care about the exact wall-clock value.
func fixedNow() time.Time {
	return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
}
