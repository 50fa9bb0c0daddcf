// Package server implements the acceptor/supervisor: a
// TCP(+optional TLS) listener that spawns one connection task per accepted
// socket, wiring the handshake engine, dispatcher, and heartbeat supervisor
// together and tearing the session down on exit.
package server

import (
	"context"
	"crypto/tls"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/amariwan/cmdchat-go/broker"
	"github.com/amariwan/cmdchat-go/config"
	"github.com/amariwan/cmdchat-go/handshake"
	"github.com/amariwan/cmdchat-go/internal/logger"
	"github.com/amariwan/cmdchat-go/internal/metrics"
	"github.com/amariwan/cmdchat-go/protocol"
	"github.com/amariwan/cmdchat-go/registry"
)

// Server binds a listener and supervises the connection tasks it spawns.
// The zero value is not usable; build one with New.
type Server struct {
	cfg    *config.ServerConfig
	log    logger.Logger
	reg    *registry.Registry
	bcast  *broker.Broadcaster
	engine *handshake.Engine
	hb     *broker.Heartbeat

	listener net.Listener

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}

	wg       sync.WaitGroup
	shutdown chan struct{}
	once     sync.Once
}

// New builds a Server wired to cfg. The registry, broadcaster, handshake
// engine, and heartbeat supervisor are constructed here and shared across
// every accepted connection.
func New(cfg *config.ServerConfig, log logger.Logger) *Server {
	reg := registry.New()
	bcast := broker.NewBroadcaster(reg, log)
	return &Server{
		cfg:      cfg,
		log:      log,
		reg:      reg,
		bcast:    bcast,
		engine:   handshake.NewEngine(reg, cfg, log),
		hb:       broker.NewHeartbeat(bcast, log),
		conns:    make(map[net.Conn]struct{}),
		shutdown: make(chan struct{}),
	}
}

// Listen binds the configured address, optionally wrapping it in TLS when
// both a cert and key file are configured. It must be called before Serve.
// Splitting bind from accept lets callers (and tests) learn the bound
// address before the accept loop starts.
func (s *Server) Listen() error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return logger.NewChatError(logger.ErrCodeProtocol, "listen", err)
	}
	if s.cfg.TLSEnabled() {
		cert, err := tls.LoadX509KeyPair(s.cfg.CertFile, s.cfg.KeyFile)
		if err != nil {
			listener.Close()
			return logger.NewChatError(logger.ErrCodeProtocol, "load tls keypair", err)
		}
		listener = tls.NewListener(listener, &tls.Config{Certificates: []tls.Certificate{cert}})
	}
	s.listener = listener
	s.log.Info("listening", logger.String("addr", listener.Addr().String()), logger.Bool("tls", s.cfg.TLSEnabled()))
	return nil
}

// Addr returns the bound listener's address. Call only after Listen.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// ListenAndServe is a convenience wrapper combining Listen and Serve.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Serve runs the accept loop against a listener bound by Listen, spawning
// one connection task per accepted socket, until ctx is canceled or Stop
// is called.
func (s *Server) Serve(ctx context.Context) error {
	if s.cfg.MetricsInterval > 0 {
		ticker := metrics.NewTicker(time.Duration(s.cfg.MetricsInterval)*time.Second, s.cfg.MetricsJSON, s.log)
		go ticker.Run(ctx)
	}

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				s.wg.Wait()
				return nil
			default:
				return logger.NewChatError(logger.ErrCodeProtocol, "accept", err)
			}
		}
		s.trackConn(conn)
		s.wg.Add(1)
		go s.serve(conn)
	}
}

// Stop closes the listener and every accepted connection still in flight,
// then signals running connection tasks to wind down. Closing each conn is
// what actually unblocks a connection task parked in dispatcher.Run's
// protocol.ReadFrame with no further inbound data; shutdown must cancel
// per-connection tasks, not just stop accepting new ones. Safe to call
// more than once and from any goroutine.
func (s *Server) Stop() {
	s.once.Do(func() {
		close(s.shutdown)
		if s.listener != nil {
			s.listener.Close()
		}

		s.connsMu.Lock()
		for conn := range s.conns {
			conn.Close()
		}
		s.connsMu.Unlock()
	})
}

func (s *Server) trackConn(conn net.Conn) {
	s.connsMu.Lock()
	s.conns[conn] = struct{}{}
	s.connsMu.Unlock()
}

func (s *Server) untrackConn(conn net.Conn) {
	s.connsMu.Lock()
	delete(s.conns, conn)
	s.connsMu.Unlock()
}

func (s *Server) serve(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()
	defer s.untrackConn(conn)

	// Correlation id for this connection's log lines, assigned before the
	// handshake so rejected connections are traceable too.
	connID := uuid.NewString()

	result, err := s.engine.Run(conn, s.bcast)
	if err != nil {
		s.log.Warn("handshake failed",
			logger.String("conn_id", connID),
			logger.String("remote", conn.RemoteAddr().String()),
			logger.String("error", err.Error()))
		return
	}
	session := result.Session

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		s.hb.Run(ctx, session)
		close(done)
	}()

	dispatcher := broker.NewDispatcher(s.reg, s.bcast, s.log)
	if err := dispatcher.Run(session, conn); err != nil {
		s.log.Info("dispatcher exited",
			logger.String("conn_id", connID),
			logger.Int("client_id", session.ClientID),
			logger.String("reason", err.Error()))
	}

	cancel()
	<-done

	s.teardown(session)
}

func (s *Server) teardown(session *registry.Session) {
	room := session.Room()
	removed := s.reg.Remove(session.ClientID)
	session.Close()

	// The broadcaster may have reaped this session already; only the
	// goroutine that actually removed it gets to count the close, or the
	// connected-clients gauge drifts below zero.
	if removed != nil {
		metrics.SessionsClosed.WithLabelValues("closed").Inc()
		metrics.ConnectedClients.Dec()
		metrics.GetGlobalCollector().RecordSessionClosed()
	}

	leftMsg := protocol.NewSystemPayload(session.Name()+" left the chat.", session.ClientID, room, time.Now())
	s.bcast.Broadcast(leftMsg, room, session.ClientID)
}
