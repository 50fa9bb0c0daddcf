// Package handshake implements the connection handshake engine:
// validating the client's hello frame, authenticating its token,
// wrapping a fresh session key to the client's public key, and admitting
// the new session into the registry.
package handshake

import (
	"encoding/base64"
	"io"
	"time"

	"github.com/amariwan/cmdchat-go/broker"
	"github.com/amariwan/cmdchat-go/crypto"
	"github.com/amariwan/cmdchat-go/internal/logger"
	"github.com/amariwan/cmdchat-go/internal/metrics"
	"github.com/amariwan/cmdchat-go/protocol"
	"github.com/amariwan/cmdchat-go/registry"
)

// Outcome reasons recorded against the handshakes_outcomes_total metric
// and used as handshake_error.reason values on the wire.
const (
	ReasonSuccess           = "success"
	ReasonExpectedHandshake = "expected_handshake"
	ReasonMissingPublicKey  = "missing_public_key"
	ReasonUnauthorized      = "unauthorized"
	ReasonBadPublicKey      = "bad_public_key"
	ReasonInternal          = "internal_error"
)

// TokenAuthority reports whether a bearer token is accepted. config.ServerConfig
// satisfies this; it is narrowed to an interface here so the engine doesn't
// depend on the config package's YAML/env/flag plumbing.
type TokenAuthority interface {
	TokenAllowed(token string) bool
}

// Engine runs the handshake state machine for one freshly accepted
// connection: await the hello, authenticate, then register.
type Engine struct {
	Registry *registry.Registry
	Auth     TokenAuthority
	Log      logger.Logger
}

// NewEngine builds an Engine wired to reg and an authority deciding which
// tokens are accepted.
func NewEngine(reg *registry.Registry, auth TokenAuthority, log logger.Logger) *Engine {
	return &Engine{Registry: reg, Auth: auth, Log: log}
}

// Result carries the freshly admitted session (its Room is the room it
// was admitted into), handed back to the acceptor so it can launch the
// dispatcher and heartbeat supervisor.
type Result struct {
	Session *registry.Session
}

// Run performs one handshake over conn: it reads the cleartext hello
// frame, authenticates, wraps a session key, registers the session, and
// replies with handshake_ok. On a failure before the session is registered
// it writes handshake_error; if writing handshake_ok itself fails, the
// session is removed again and nothing more is written. Every failure
// returns a non-nil error; conn is never closed here, that is the caller's
// job.
func (e *Engine) Run(conn io.ReadWriteCloser, broadcaster *broker.Broadcaster) (*Result, error) {
	start := time.Now()
	metrics.HandshakesInitiated.Inc()

	var hello protocol.Handshake
	if err := protocol.ReadJSONFrame(conn, &hello); err != nil {
		e.reject(conn, ReasonExpectedHandshake, start)
		return nil, err
	}
	if hello.Type != protocol.TypeHandshake {
		e.reject(conn, ReasonExpectedHandshake, start)
		return nil, logger.NewChatError(logger.ErrCodeHandshake, "expected handshake frame", nil)
	}
	if hello.PublicKey == "" {
		e.reject(conn, ReasonMissingPublicKey, start)
		return nil, logger.NewChatError(logger.ErrCodeHandshake, "missing public key", nil)
	}
	if e.Auth != nil && !e.Auth.TokenAllowed(hello.Token) {
		e.Log.Warn("handshake rejected: unauthorized", logger.String("token", maskToken(hello.Token)))
		e.reject(conn, ReasonUnauthorized, start)
		return nil, logger.NewChatError(logger.ErrCodeHandshake, "unauthorized", nil)
	}

	pub, err := crypto.DecodePublicKeyPEM([]byte(hello.PublicKey))
	if err != nil {
		e.reject(conn, ReasonBadPublicKey, start)
		return nil, logger.NewChatError(logger.ErrCodeHandshake, "bad public key", err)
	}

	sessionKey, err := crypto.GenerateSessionKey()
	if err != nil {
		e.reject(conn, ReasonInternal, start)
		return nil, logger.NewChatError(logger.ErrCodeCrypto, "generate session key", err)
	}
	cipher, err := crypto.NewSessionCipher(sessionKey)
	if err != nil {
		e.reject(conn, ReasonInternal, start)
		return nil, logger.NewChatError(logger.ErrCodeCrypto, "build session cipher", err)
	}
	wrapStart := time.Now()
	wrapped, err := crypto.WrapKey(pub, sessionKey)
	metrics.CryptoOperationDuration.WithLabelValues("wrap_key").Observe(time.Since(wrapStart).Seconds())
	if err != nil {
		metrics.CryptoErrors.WithLabelValues("wrap_key").Inc()
		e.reject(conn, ReasonInternal, start)
		return nil, logger.NewChatError(logger.ErrCodeCrypto, "wrap session key", err)
	}
	metrics.CryptoOperations.WithLabelValues("wrap_key").Inc()

	name := protocol.SanitizeName(hello.Name)
	room := protocol.SanitizeRoom(hello.Room)
	renderer := protocol.NormalizeRenderer(hello.Renderer)
	bufferSize := protocol.ClampBufferSize(hello.BufferSize)

	clientID := e.Registry.IssueID()
	session := registry.NewSession(clientID, name, room, conn, cipher, renderer, bufferSize)
	e.Registry.Insert(session)
	metrics.SessionsCreated.Inc()
	metrics.ConnectedClients.Inc()
	metrics.GetGlobalCollector().RecordSessionCreated()

	reply := protocol.HandshakeOK{
		Type:              protocol.TypeHandshakeOK,
		ClientID:          clientID,
		Room:              room,
		Renderer:          renderer,
		BufferSize:        bufferSize,
		HeartbeatInterval: int(protocol.HeartbeatInterval.Seconds()),
		NonceSize:         crypto.NonceSize,
		EncryptedKey:      base64.StdEncoding.EncodeToString(wrapped),
	}
	if err := protocol.WriteJSONFrame(conn, reply); err != nil {
		e.Registry.Remove(clientID)
		metrics.SessionsClosed.WithLabelValues("protocol_error").Inc()
		metrics.ConnectedClients.Dec()
		metrics.GetGlobalCollector().RecordSessionClosed()
		e.recordOutcome(ReasonInternal, start)
		return nil, logger.NewChatError(logger.ErrCodeHandshake, "write handshake_ok", err)
	}

	joinMsg := protocol.NewSystemPayload(name+" joined the chat.", clientID, room, time.Now())
	broadcaster.Broadcast(joinMsg, room, clientID)

	e.recordOutcome(ReasonSuccess, start)
	e.Log.Info("handshake completed",
		logger.Int("client_id", clientID),
		logger.String("room", room),
		logger.String("name", name))
	return &Result{Session: session}, nil
}

func (e *Engine) reject(conn io.ReadWriter, reason string, start time.Time) {
	e.recordOutcome(reason, start)
	_ = protocol.WriteJSONFrame(conn, protocol.NewHandshakeError(reason))
}

func (e *Engine) recordOutcome(reason string, start time.Time) {
	metrics.HandshakeOutcomes.WithLabelValues(reason).Inc()
	metrics.HandshakeDuration.Observe(time.Since(start).Seconds())
	metrics.GetGlobalCollector().RecordHandshake(reason == ReasonSuccess, time.Since(start))
}

// maskToken masks a token for logging: keep at most the first and last 4
// characters if longer than 8, else "***".
func maskToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 8 {
		return "***"
	}
	return token[:4] + "..." + token[len(token)-4:]
}
