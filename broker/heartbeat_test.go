package broker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/amariwan/cmdchat-go/protocol"
	"github.com/amariwan/cmdchat-go/registry"
)

func TestHeartbeatTickSendsPingWhenAlive(t *testing.T) {
	reg := registry.New()
	broadcaster := NewBroadcaster(reg, testLogger())
	hb := NewHeartbeat(broadcaster, testLogger())

	session, conn := newTestSession(t, reg, 1, "alice", "lobby")
	defer conn.Close()

	readDone := runAsync(func() {
		var ping protocol.PingPayload
		readPayload(t, conn, sessionCipher(t, reg, 1), &ping)
		assert.Equal(t, protocol.TypePing, ping.Type)
	})

	stopped := hb.tick(session)
	assert.False(t, stopped)
	waitDone(t, readDone)
}

func TestHeartbeatTickEvictsOnTimeout(t *testing.T) {
	reg := registry.New()
	broadcaster := NewBroadcaster(reg, testLogger())
	hb := NewHeartbeat(broadcaster, testLogger())

	session, conn := newTestSession(t, reg, 1, "alice", "lobby")
	defer conn.Close()
	session.Touch(time.Now().Add(-protocol.HeartbeatTimeout - time.Second))

	stopped := hb.tick(session)
	assert.True(t, stopped)
}

func TestHeartbeatTickExitsWhenSinkAlreadyClosing(t *testing.T) {
	reg := registry.New()
	broadcaster := NewBroadcaster(reg, testLogger())
	hb := NewHeartbeat(broadcaster, testLogger())

	session, conn := newTestSession(t, reg, 1, "alice", "lobby")
	defer conn.Close()
	_ = session.Close()

	stopped := hb.tick(session)
	assert.True(t, stopped)
}

func TestHeartbeatRunStopsOnContextCancel(t *testing.T) {
	reg := registry.New()
	broadcaster := NewBroadcaster(reg, testLogger())
	hb := NewHeartbeat(broadcaster, testLogger())

	session, conn := newTestSession(t, reg, 1, "alice", "lobby")
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(func() { hb.Run(ctx, session) })
	cancel()
	waitDone(t, done)
}
