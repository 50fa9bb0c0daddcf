package client

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amariwan/cmdchat-go/client/filetransfer"
	"github.com/amariwan/cmdchat-go/config"
	"github.com/amariwan/cmdchat-go/internal/logger"
	"github.com/amariwan/cmdchat-go/protocol"
	"github.com/amariwan/cmdchat-go/server"
)

func quietLogger() logger.Logger {
	l := logger.NewDefaultLogger()
	l.SetLevel(logger.FatalLevel)
	return l
}

func startTestServer(t *testing.T) (addr string, stop func()) {
	t.Helper()
	cfg := config.DefaultServerConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	srv := server.New(&cfg, quietLogger())
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.Serve(ctx)
		close(done)
	}()

	return srv.Addr().String(), func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("server did not shut down")
		}
	}
}

func dialedClient(t *testing.T, addr string, onMsg OnMessage) *Client {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	cfg := config.DefaultClientConfig()
	cfg.Host = host
	cfg.Port = port
	cfg.Name = "Alice"
	cfg.Room = "lobby"

	c, err := New(&cfg, quietLogger(), onMsg)
	require.NoError(t, err)
	return c
}

func TestClientConnectsNegotiatesAndExchangesChat(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()

	received := make(chan interface{}, 8)
	c := dialedClient(t, addr, func(v interface{}) {
		received <- v
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- c.Run(ctx) }()

	// The join announcement excludes the newcomer itself, so
	// the first payload this lone client observes is its own chat echo.
	require.NoError(t, c.SendLine("hello room"))

	select {
	case v := <-received:
		chat, ok := v.(protocol.ChatPayload)
		require.True(t, ok, "expected chat echo, got %T", v)
		assert.Equal(t, "hello room", chat.Message)
	case <-time.After(2 * time.Second):
		t.Fatal("did not observe chat echo")
	}

	c.Stop()
	select {
	case err := <-runErrCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("client Run did not return after Stop")
	}
}

func TestSplitCommandSeparatesWordAndArgument(t *testing.T) {
	word, arg := splitCommand("/nick Bob Two")
	assert.Equal(t, "/nick", word)
	assert.Equal(t, "Bob Two", arg)

	word, arg = splitCommand("/help")
	assert.Equal(t, "/help", word)
	assert.Equal(t, "", arg)
}

func TestSendCommandUnknownReturnsProtocolError(t *testing.T) {
	cfg := config.DefaultClientConfig()
	cfg.Name = "Alice"
	cfg.Room = "lobby"
	c, err := New(&cfg, quietLogger(), nil)
	require.NoError(t, err)

	err = c.sendCommand("/bogus")
	assert.Error(t, err)
}

func TestSendFileRoundTripsThroughTwoClients(t *testing.T) {
	addr, stop := startTestServer(t)
	defer stop()

	content := []byte("the quick brown fox jumps over the lazy dog, repeated. " +
		"the quick brown fox jumps over the lazy dog, repeated again.")
	dir := t.TempDir()
	path := filepath.Join(dir, "note.txt")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	bobReceived := make(chan filetransfer.Completed, 1)
	bob := dialedClient(t, addr, func(v interface{}) {
		if completed, ok := v.(filetransfer.Completed); ok {
			bobReceived <- completed
		}
	})
	bob.name = "Bob"

	alice := dialedClient(t, addr, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bobErrCh := make(chan error, 1)
	go func() { bobErrCh <- bob.Run(ctx) }()
	aliceErrCh := make(chan error, 1)
	go func() { aliceErrCh <- alice.Run(ctx) }()

	// Give both clients a moment to complete their handshake before the
	// file transfer begins.
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, alice.SendLine("/send "+path))

	select {
	case completed := <-bobReceived:
		assert.Equal(t, "note.txt", completed.Filename)
		assert.Equal(t, content, completed.Data)
	case <-time.After(2 * time.Second):
		t.Fatal("bob did not observe a completed file transfer")
	}

	alice.Stop()
	bob.Stop()
	<-aliceErrCh
	<-bobErrCh
}

func TestSendFileRejectsMissingPath(t *testing.T) {
	cfg := config.DefaultClientConfig()
	cfg.Name = "Alice"
	cfg.Room = "lobby"
	c, err := New(&cfg, quietLogger(), nil)
	require.NoError(t, err)

	err = c.sendFile(filepath.Join(t.TempDir(), "does-not-exist.txt"))
	assert.Error(t, err)
}

func TestSendFileRejectsEmptyFile(t *testing.T) {
	cfg := config.DefaultClientConfig()
	cfg.Name = "Alice"
	cfg.Room = "lobby"
	c, err := New(&cfg, quietLogger(), nil)
	require.NoError(t, err)

	dir := t.TempDir()
	path := filepath.Join(dir, "empty.txt")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	err = c.sendFile(path)
	assert.Error(t, err)
}

func TestSendCommandQuitStopsClientWithoutError(t *testing.T) {
	cfg := config.DefaultClientConfig()
	cfg.Name = "Alice"
	cfg.Room = "lobby"
	c, err := New(&cfg, quietLogger(), nil)
	require.NoError(t, err)

	err = c.sendCommand("/quit")
	require.NoError(t, err)

	select {
	case <-c.stop:
	default:
		t.Fatal("expected Stop to have closed the stop channel")
	}
}
