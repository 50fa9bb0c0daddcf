package broker

import (
	"context"
	"time"

	"github.com/amariwan/cmdchat-go/internal/logger"
	"github.com/amariwan/cmdchat-go/protocol"
	"github.com/amariwan/cmdchat-go/registry"
)

// Heartbeat runs one task per session. Every HeartbeatInterval it either
// evicts a session that has gone silent past HeartbeatTimeout, or sends a
// ping down the session's write path. It reads session.LastSeen lock-free;
// a stale read only delays eviction by one coarse tick.
type Heartbeat struct {
	Broadcaster *Broadcaster
	Log         logger.Logger
}

// NewHeartbeat builds a Heartbeat over broadcaster.
func NewHeartbeat(broadcaster *Broadcaster, log logger.Logger) *Heartbeat {
	return &Heartbeat{Broadcaster: broadcaster, Log: log}
}

// Run blocks, ticking every HeartbeatInterval, until ctx is canceled or the
// session is evicted or errors out on a ping write. Callers run this in
// its own goroutine, one per connection, alongside the dispatcher.
func (h *Heartbeat) Run(ctx context.Context, session *registry.Session) {
	ticker := time.NewTicker(protocol.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if h.tick(session) {
				return
			}
		}
	}
}

// tick runs one heartbeat cycle, returning true when the supervisor should
// stop (the sink is already closing, the session was evicted, or a ping
// write failed).
func (h *Heartbeat) tick(session *registry.Session) bool {
	if session.Closed() {
		return true
	}
	if time.Since(session.LastSeen()) > protocol.HeartbeatTimeout {
		h.Log.Info("evicting session on heartbeat timeout",
			logger.Int("client_id", session.ClientID),
			logger.String("room", session.Room()))
		_ = session.Close()
		return true
	}

	ping := protocol.NewPingPayload(time.Now())
	if err := h.Broadcaster.SendTo(session, ping); err != nil {
		h.Log.Debug("heartbeat ping failed, stopping supervisor",
			logger.Int("client_id", session.ClientID), logger.Error(err))
		return true
	}
	return false
}
