package broker

import (
	"time"

	"github.com/amariwan/cmdchat-go/internal/metrics"
	"github.com/amariwan/cmdchat-go/protocol"
	"github.com/amariwan/cmdchat-go/registry"
)

// handleChat: append-and-trim the rate window, drop with a
// sender-only warning past the limit, otherwise assign a sequence number
// and broadcast to the whole room (including the sender, so clients can
// match on client_id to suppress their own echo).
func (d *Dispatcher) handleChat(session *registry.Session, plaintext []byte) error {
	var in protocol.ChatPayload
	if err := decode(plaintext, &in); err != nil {
		return err
	}

	now := time.Now()
	if session.RecordChatSend(now) {
		metrics.RateLimitDrops.Inc()
		metrics.GetGlobalCollector().RecordRateLimitDrop()
		warning := protocol.NewSystemPayload("Slow down – message rate limit reached.", session.ClientID, session.Room(), now)
		return d.Broadcaster.SendTo(session, warning)
	}

	message := protocol.TruncateMessage(in.Message)
	seq := d.Registry.NextSequence(session.Room())
	out := protocol.NewChatPayload(session.Name(), message, session.ClientID, session.Room(), seq, now)
	d.Broadcaster.Broadcast(out, session.Room(), NoExclude)
	return nil
}

// handleSystemEcho rebroadcasts a client-authored system payload as a
// server-authored one, restamping the subject and timestamp.
func (d *Dispatcher) handleSystemEcho(session *registry.Session, plaintext []byte) error {
	var in protocol.SystemPayload
	if err := decode(plaintext, &in); err != nil {
		return err
	}
	out := protocol.NewSystemPayload(in.Message, session.ClientID, session.Room(), time.Now())
	d.Broadcaster.Broadcast(out, session.Room(), NoExclude)
	return nil
}

// handleRename: normalize, no-op on empty or unchanged,
// otherwise rename and announce to the room.
func (d *Dispatcher) handleRename(session *registry.Session, plaintext []byte) error {
	var in protocol.RenamePayload
	if err := decode(plaintext, &in); err != nil {
		return err
	}

	newName := protocol.SanitizeName(in.Name)
	oldName := session.Name()
	if newName == "" || newName == oldName {
		return nil
	}

	session.SetName(newName)
	message := oldName + " is now known as " + newName + "."
	out := protocol.NewSystemPayload(message, session.ClientID, session.Room(), time.Now())
	d.Broadcaster.Broadcast(out, session.Room(), NoExclude)
	return nil
}

// handleSwitchRoom runs four ordered steps: announce the
// departure to the old room, move the session, confirm privately to the
// mover, then announce the arrival to the new room.
func (d *Dispatcher) handleSwitchRoom(session *registry.Session, plaintext []byte) error {
	var in protocol.SwitchRoomPayload
	if err := decode(plaintext, &in); err != nil {
		return err
	}

	newRoom := protocol.SanitizeRoom(in.Room)
	oldRoom := session.Room()
	if newRoom == "" || newRoom == oldRoom {
		return nil
	}

	name := session.Name()
	now := time.Now()

	leftMsg := protocol.NewSystemPayload(name+" left the room.", session.ClientID, oldRoom, now)
	d.Broadcaster.Broadcast(leftMsg, oldRoom, session.ClientID)

	d.Registry.Move(session, newRoom)

	joinedSelf := protocol.NewSystemPayload("Joined room "+newRoom+".", session.ClientID, newRoom, time.Now())
	if err := d.Broadcaster.SendTo(session, joinedSelf); err != nil {
		return err
	}

	joinedMsg := protocol.NewSystemPayload(name+" joined the room.", session.ClientID, newRoom, time.Now())
	d.Broadcaster.Broadcast(joinedMsg, newRoom, session.ClientID)
	return nil
}

// handleFileInit: validate metadata, warn the sender
// only on violation, otherwise rebroadcast to the whole room including the
// sender.
func (d *Dispatcher) handleFileInit(session *registry.Session, plaintext []byte) error {
	var in protocol.FileInitPayload
	if err := decode(plaintext, &in); err != nil {
		return err
	}

	if reason, ok := validateFileInit(in); !ok {
		warning := protocol.NewSystemPayload(reason, session.ClientID, session.Room(), time.Now())
		return d.Broadcaster.SendTo(session, warning)
	}

	filename := protocol.TruncateFilename(in.Filename)
	out := protocol.NewFileInitPayload(session.Name(), in.FileID, filename, in.Filesize, in.TotalChunks, session.ClientID, session.Room(), time.Now())
	d.Broadcaster.Broadcast(out, session.Room(), NoExclude)
	return nil
}

func validateFileInit(in protocol.FileInitPayload) (reason string, ok bool) {
	switch {
	case in.FileID == "":
		return "File transfer rejected: missing file id.", false
	case in.Filesize <= 0 || in.Filesize > protocol.MaxFileSize:
		return "File transfer rejected: file too large.", false
	case in.TotalChunks < 1:
		return "File transfer rejected: invalid chunk count.", false
	default:
		return "", true
	}
}

// handleFileChunk rebroadcasts to the room excluding the sender, and
// additionally announces completion when the final chunk arrives. The
// server never reassembles or verifies chunk order; that is the receiving
// client's responsibility.
func (d *Dispatcher) handleFileChunk(session *registry.Session, plaintext []byte) error {
	var in protocol.FileChunkPayload
	if err := decode(plaintext, &in); err != nil {
		return err
	}

	if in.FileID == "" {
		warning := protocol.NewSystemPayload("File transfer rejected: missing file id.", session.ClientID, session.Room(), time.Now())
		return d.Broadcaster.SendTo(session, warning)
	}

	out := protocol.NewFileChunkPayload(session.Name(), in.FileID, in.ChunkIndex, in.ChunkData, in.IsFinal, session.ClientID, session.Room(), time.Now())
	d.Broadcaster.Broadcast(out, session.Room(), session.ClientID)

	if in.IsFinal {
		complete := protocol.NewSystemPayload(session.Name()+" completed file transfer.", session.ClientID, session.Room(), time.Now())
		d.Broadcaster.Broadcast(complete, session.Room(), NoExclude)
	}
	return nil
}
