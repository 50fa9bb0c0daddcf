// Package broker implements the per-connection dispatcher, the message
// handlers, the broadcast fan-out, and the heartbeat supervisor.
package broker

import (
	"io"
	"time"

	"github.com/amariwan/cmdchat-go/internal/logger"
	"github.com/amariwan/cmdchat-go/internal/metrics"
	"github.com/amariwan/cmdchat-go/protocol"
	"github.com/amariwan/cmdchat-go/registry"
)

// NoExclude is passed to Broadcast when no recipient should be skipped.
// Client ids are issued starting at 1, so 0 can never collide with a real
// session.
const NoExclude = 0

// Broadcaster fans payloads out to room members, reaping any recipient
// whose write fails. It holds no state of its own beyond the registry it
// fans out against.
type Broadcaster struct {
	Registry *registry.Registry
	Log      logger.Logger
}

// NewBroadcaster builds a Broadcaster over reg.
func NewBroadcaster(reg *registry.Registry, log logger.Logger) *Broadcaster {
	return &Broadcaster{Registry: reg, Log: log}
}

// Broadcast seals and writes payload to every member of room except
// exclude. Reaping happens only after every other recipient has been
// attempted, so a transient write error on one session cannot silently
// drop delivery to the rest.
func (b *Broadcaster) Broadcast(payload interface{}, room string, exclude int) {
	members := b.Registry.MembersOf(room)

	var stale []int
	for _, session := range members {
		if session.ClientID == exclude {
			continue
		}
		start := time.Now()
		err := b.SendTo(session, payload)
		elapsed := time.Since(start)
		metrics.BroadcastEncryptDuration.Observe(elapsed.Seconds())
		if err != nil {
			b.Log.Warn("broadcast write failed, marking session stale",
				logger.Int("client_id", session.ClientID),
				logger.String("room", room),
				logger.Error(err))
			stale = append(stale, session.ClientID)
			continue
		}
		metrics.MessagesBroadcast.Inc()
		metrics.GetGlobalCollector().RecordBroadcast(elapsed)
	}

	for _, id := range stale {
		b.reap(id)
	}
}

// SendTo seals payload under session's cipher and writes it as a single
// frame, serialized by the session's write lock.
func (b *Broadcaster) SendTo(session *registry.Session, payload interface{}) error {
	return session.WithWriteLock(func(w io.Writer) error {
		env, err := protocol.SealEnvelope(session.Cipher, payload)
		if err != nil {
			return err
		}
		return protocol.WriteJSONFrame(w, env)
	})
}

// reap removes a stale session from the registry and closes its sink,
// idempotent if the session is already gone.
func (b *Broadcaster) reap(clientID int) {
	session := b.Registry.Remove(clientID)
	if session == nil {
		return
	}
	metrics.SessionsClosed.WithLabelValues("write_error").Inc()
	metrics.ConnectedClients.Dec()
	metrics.GetGlobalCollector().RecordSessionClosed()
	if err := session.Close(); err != nil {
		b.Log.Debug("error closing reaped session sink",
			logger.Int("client_id", clientID), logger.Error(err))
	}
}
