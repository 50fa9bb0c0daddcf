package broker

import (
	"errors"
	"io"
	"net"
	"time"

	"github.com/amariwan/cmdchat-go/internal/logger"
	"github.com/amariwan/cmdchat-go/internal/metrics"
	"github.com/amariwan/cmdchat-go/protocol"
	"github.com/amariwan/cmdchat-go/registry"
)

// Dispatcher runs the per-connection decode-validate-route loop. It
// terminates on the first error. A clean disconnect between frames (the
// peer simply closed the connection) is returned as io.EOF and passes
// silently; anything else — framing error, decrypt failure, unknown
// payload type, a handler's unrecoverable write error, or an EOF that lands
// mid-frame — is a fatal condition, and Run broadcasts a "disconnected
// unexpectedly" system message to the session's last room before
// returning. Session eviction itself remains the caller's (the
// acceptor's) job, since only it knows when the connection is fully torn
// down.
type Dispatcher struct {
	Registry    *registry.Registry
	Broadcaster *Broadcaster
	Log         logger.Logger
}

// NewDispatcher builds a Dispatcher wired to reg and broadcaster.
func NewDispatcher(reg *registry.Registry, broadcaster *Broadcaster, log logger.Logger) *Dispatcher {
	return &Dispatcher{Registry: reg, Broadcaster: broadcaster, Log: log}
}

// Run reads frames from r until a framing error, decrypt failure, unknown
// payload type, or peer EOF. Every loop iteration is exactly one frame.
func (d *Dispatcher) Run(session *registry.Session, r io.Reader) error {
	for {
		if err := d.step(session, r); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && !errors.Is(err, io.ErrClosedPipe) {
				d.announceDisconnect(session)
			}
			return err
		}
	}
}

// announceDisconnect broadcasts the "disconnected unexpectedly" system
// message for a fatal dispatcher error, to the session's last known room,
// excluding the session itself.
func (d *Dispatcher) announceDisconnect(session *registry.Session) {
	msg := protocol.NewSystemPayload(session.Name()+" disconnected unexpectedly.",
		session.ClientID, session.Room(), time.Now())
	d.Broadcaster.Broadcast(msg, session.Room(), session.ClientID)
}

func (d *Dispatcher) step(session *registry.Session, r io.Reader) error {
	body, err := protocol.ReadFrame(r)
	if err != nil {
		return err
	}

	var env protocol.Envelope
	if err := protocol.DecodeObject(body, &env); err != nil {
		return err
	}
	if env.Type != protocol.TypeEncrypted || env.Nonce == "" || env.Ciphertext == "" {
		return logger.NewChatError(logger.ErrCodeProtocol, "expected encrypted envelope after handshake", nil)
	}

	openStart := time.Now()
	plaintext, err := protocol.OpenEnvelope(session.Cipher, env)
	metrics.CryptoOperationDuration.WithLabelValues("open").Observe(time.Since(openStart).Seconds())
	if err != nil {
		metrics.CryptoErrors.WithLabelValues("open").Inc()
		return err
	}
	metrics.CryptoOperations.WithLabelValues("open").Inc()

	// Liveness is refreshed on every decoded payload, independent of
	// whether the payload is ultimately acted on. A rate-limited chat
	// still counts as a sign of life.
	session.Touch(time.Now())

	payloadType, err := protocol.DecodePayloadType(plaintext)
	if err != nil {
		return err
	}
	metrics.MessagesDispatched.WithLabelValues(payloadType).Inc()
	metrics.MessageSize.Observe(float64(len(plaintext)))
	metrics.GetGlobalCollector().RecordDispatch()

	switch payloadType {
	case protocol.TypeChat:
		return d.handleChat(session, plaintext)
	case protocol.TypeSystem:
		return d.handleSystemEcho(session, plaintext)
	case protocol.TypeRename:
		return d.handleRename(session, plaintext)
	case protocol.TypeSwitchRoom:
		return d.handleSwitchRoom(session, plaintext)
	case protocol.TypePong:
		return nil // liveness already refreshed above
	case protocol.TypeFileInit:
		return d.handleFileInit(session, plaintext)
	case protocol.TypeFileChunk:
		return d.handleFileChunk(session, plaintext)
	default:
		return logger.NewChatError(logger.ErrCodeProtocol, "unknown payload type", nil).
			WithDetails("type", payloadType)
	}
}

// decode unmarshals plaintext into v, reporting any failure as a protocol
// error rather than propagating the raw JSON error.
func decode(plaintext []byte, v interface{}) error {
	if err := protocol.DecodeObject(plaintext, v); err != nil {
		return logger.NewChatError(logger.ErrCodeProtocol, "malformed payload", err)
	}
	return nil
}
