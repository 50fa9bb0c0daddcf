// Package client implements the client transport core: RSA handshake,
// concurrent encrypted send/receive loops, and reconnect-with-backoff.
// Terminal I/O, interactive input, and rendering to a screen live in the
// front end; this package exposes a small programmatic surface (SendLine,
// an OnMessage callback) that a terminal front end drives.
package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/amariwan/cmdchat-go/client/command"
	"github.com/amariwan/cmdchat-go/client/filetransfer"
	"github.com/amariwan/cmdchat-go/client/history"
	"github.com/amariwan/cmdchat-go/config"
	"github.com/amariwan/cmdchat-go/crypto"
	"github.com/amariwan/cmdchat-go/internal/logger"
	"github.com/amariwan/cmdchat-go/protocol"
)

// fileChunkSize bounds the size of each file_chunk payload's raw (pre-
// base64) bytes; the server's 65536-byte frame ceiling leaves ample room
// for the base64 expansion plus the surrounding JSON envelope.
const fileChunkSize = 32 * 1024

// initialBackoff and maxBackoff bound the client's reconnect delay: 1s
// doubling to 30s.
const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// OnMessage is called from the receive loop for every decoded inbound
// payload, after it has been appended to history (if configured). v is
// the concrete payload struct (protocol.ChatPayload, SystemPayload,
// FileInitPayload, or FileChunkPayload), or a filetransfer.Completed once
// every chunk of an inbound file has been assembled.
type OnMessage func(v interface{})

// Client holds one logical chat session: its negotiated identity,
// pending output buffer, and the live connection state (nil between
// reconnect attempts).
type Client struct {
	cfg       *config.ClientConfig
	log       logger.Logger
	history   history.Sink
	onMsg     OnMessage
	cmds      *command.Registry
	transfers *filetransfer.Registry

	name string
	room string

	keyPair *crypto.KeyPair

	mu         sync.Mutex
	conn       net.Conn
	cipher     *crypto.SessionCipher
	bufferSize int
	renderer   string

	pending chan interface{}

	stop chan struct{}
	once sync.Once
}

// New builds a Client from cfg. onMsg may be nil if the caller only
// cares about side effects (history, rename/join state).
func New(cfg *config.ClientConfig, log logger.Logger, onMsg OnMessage) (*Client, error) {
	keyPair, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, logger.NewChatError(logger.ErrCodeCrypto, "generate client keypair", err)
	}

	var sink history.Sink
	if cfg.HistoryFile != "" && cfg.HistoryPassphrase != "" {
		sink = history.NewEncryptedFileSink(cfg.HistoryFile, cfg.HistoryPassphrase)
	}

	bufferSize := protocol.ClampBufferSize(cfg.BufferSize)
	return &Client{
		cfg:        cfg,
		log:        log,
		history:    sink,
		onMsg:      onMsg,
		cmds:       command.NewRegistry(),
		transfers:  filetransfer.NewRegistry(),
		name:       protocol.SanitizeName(cfg.Name),
		room:       protocol.SanitizeRoom(cfg.Room),
		keyPair:    keyPair,
		bufferSize: bufferSize,
		renderer:   protocol.NormalizeRenderer(cfg.Renderer),
		pending:    make(chan interface{}, bufferSize),
		stop:       make(chan struct{}),
	}, nil
}

// Run dials the server, performs the handshake, and drives the
// send/receive loops until ctx is canceled or Stop is called. On a lost
// connection it reconnects with exponential backoff, retaining the
// pending output buffer across attempts.
func (c *Client) Run(ctx context.Context) error {
	backoff := initialBackoff
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.stop:
			return nil
		default:
		}

		handshook, err := c.connectAndRun(ctx)
		if err == nil {
			return nil
		}
		if handshook {
			backoff = initialBackoff
		}
		select {
		case <-ctx.Done():
			return nil
		case <-c.stop:
			return nil
		default:
		}

		c.log.Warn("connection lost, reconnecting",
			logger.String("error", err.Error()),
			logger.String("backoff", backoff.String()))

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil
		case <-c.stop:
			return nil
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// Stop causes Run to return at the next opportunity and closes any live
// connection.
func (c *Client) Stop() {
	c.once.Do(func() { close(c.stop) })
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
	}
}

// SendLine routes a line of input: a leading "/" is a slash command,
// looked up in the command registry; anything else is a plain chat
// message.
func (c *Client) SendLine(line string) error {
	if len(line) > 0 && line[0] == '/' {
		return c.sendCommand(line)
	}
	return c.enqueue(protocol.ChatPayload{Type: protocol.TypeChat, Message: protocol.TruncateMessage(line)})
}

// identity returns the client's current sanitized name and room. Both are
// written optimistically by /nick and /join on the input goroutine while
// the reconnect loop reads them for the next hello, hence the lock.
func (c *Client) identity() (name, room string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name, c.room
}

func (c *Client) sendCommand(line string) error {
	word, argument := splitCommand(line)
	if word == "/send" {
		if argument == "" {
			return logger.NewChatError(logger.ErrCodeProtocol, "usage: /send <filepath>", nil)
		}
		return c.sendFile(argument)
	}
	build, ok := c.cmds.Lookup(word)
	if !ok {
		return logger.NewChatError(logger.ErrCodeProtocol, "unknown command", nil).WithDetails("command", word)
	}
	name, room := c.identity()
	payload, err := build(name, room, argument)
	if err != nil && !errors.Is(err, command.Quit) {
		return err
	}
	if payload != nil {
		if enqueueErr := c.enqueue(payload); enqueueErr != nil {
			return enqueueErr
		}
		// /nick and /join update the local sanitized copy optimistically;
		// the next reconnect hellos with the new name/room.
		switch p := payload.(type) {
		case protocol.RenamePayload:
			c.mu.Lock()
			c.name = p.Name
			c.mu.Unlock()
		case protocol.SwitchRoomPayload:
			c.mu.Lock()
			c.room = p.Room
			c.mu.Unlock()
		}
	}
	if errors.Is(err, command.Quit) {
		c.Stop()
	}
	return nil
}

func splitCommand(line string) (word, argument string) {
	for i, r := range line {
		if r == ' ' {
			return line[:i], line[i+1:]
		}
	}
	return line, ""
}

// enqueue places payload on the pending output buffer, capped at the
// server-negotiated buffer size; it blocks only as long as the buffer is
// full. The buffer outlives individual connections, so queued output
// survives a reconnect.
func (c *Client) enqueue(payload interface{}) error {
	select {
	case c.pending <- payload:
		return nil
	case <-c.stop:
		return logger.NewChatError(logger.ErrCodeProtocol, "client stopped", nil)
	}
}

// dial opens the transport connection, wrapping it in TLS when the
// client is configured for it (--tls, --tls-insecure, --ca-file).
func (c *Client) dial() (net.Conn, error) {
	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
	if !c.cfg.TLS {
		return net.Dial("tcp", addr)
	}

	tlsCfg := &tls.Config{InsecureSkipVerify: c.cfg.TLSInsecure}
	if c.cfg.CAFile != "" {
		pem, err := os.ReadFile(c.cfg.CAFile)
		if err != nil {
			return nil, logger.NewChatError(logger.ErrCodeProtocol, "read ca file", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, logger.NewChatError(logger.ErrCodeProtocol, "parse ca file", nil)
		}
		tlsCfg.RootCAs = pool
	}
	return tls.Dial("tcp", addr, tlsCfg)
}

// sendFile implements the /send <filepath> command: it reads the file
// whole, then enqueues one file_init payload followed by
// fixed-size file_chunk payloads, mirroring what the client-side
// filetransfer package expects to reassemble on the receiving end.
func (c *Client) sendFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return logger.NewChatError(logger.ErrCodeProtocol, "read file", err)
	}
	if len(data) == 0 {
		return logger.NewChatError(logger.ErrCodeProtocol, "file is empty", nil).WithDetails("path", path)
	}
	if int64(len(data)) > protocol.MaxFileSize {
		return logger.NewChatError(logger.ErrCodeProtocol, "file exceeds maximum size", nil).WithDetails("path", path)
	}

	sender, _ := c.identity()
	fileID := uuid.NewString()
	filename := protocol.TruncateFilename(filepath.Base(path))
	totalChunks := (len(data) + fileChunkSize - 1) / fileChunkSize

	init := protocol.FileInitPayload{
		Type:        protocol.TypeFileInit,
		Sender:      sender,
		FileID:      fileID,
		Filename:    filename,
		Filesize:    int64(len(data)),
		TotalChunks: totalChunks,
	}
	if err := c.enqueue(init); err != nil {
		return err
	}

	for i := 0; i < totalChunks; i++ {
		start := i * fileChunkSize
		end := start + fileChunkSize
		if end > len(data) {
			end = len(data)
		}
		chunk := protocol.FileChunkPayload{
			Type:       protocol.TypeFileChunk,
			Sender:     sender,
			FileID:     fileID,
			ChunkIndex: i,
			ChunkData:  base64.StdEncoding.EncodeToString(data[start:end]),
			IsFinal:    i == totalChunks-1,
		}
		if err := c.enqueue(chunk); err != nil {
			return err
		}
	}
	return nil
}

// connectAndRun dials, handshakes, and drives one connection's send and
// receive loops until either fails or ctx is canceled. handshook reports
// whether the handshake completed, so Run can reset its backoff.
func (c *Client) connectAndRun(ctx context.Context) (handshook bool, err error) {
	conn, err := c.dial()
	if err != nil {
		return false, logger.NewChatError(logger.ErrCodeProtocol, "dial", err)
	}
	defer conn.Close()

	cipher, hello, err := c.handshake(conn)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	c.conn = conn
	c.cipher = cipher
	c.room = hello.Room
	c.renderer = hello.Renderer
	c.bufferSize = hello.BufferSize
	c.mu.Unlock()

	c.log.Info("connected", logger.Int("client_id", hello.ClientID), logger.String("room", hello.Room))

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var writeMu sync.Mutex
	errCh := make(chan error, 2)
	go func() { errCh <- c.sendLoop(connCtx, conn, cipher, &writeMu) }()
	go func() { errCh <- c.receiveLoop(connCtx, conn, cipher, &writeMu) }()

	err = <-errCh
	cancel()
	// The other loop may be parked in a blocking read; closing the
	// connection is what unblocks it so the drain below cannot hang.
	conn.Close()
	<-errCh
	return true, err
}

func (c *Client) handshake(conn net.Conn) (*crypto.SessionCipher, *protocol.HandshakeOK, error) {
	pubPEM, err := crypto.EncodePublicKeyPEM(c.keyPair.PublicKey())
	if err != nil {
		return nil, nil, logger.NewChatError(logger.ErrCodeCrypto, "encode public key", err)
	}

	name, room := c.identity()
	hello := protocol.Handshake{
		Type:       protocol.TypeHandshake,
		PublicKey:  string(pubPEM),
		Name:       name,
		Room:       room,
		Token:      c.cfg.Token,
		Renderer:   c.renderer,
		BufferSize: c.bufferSize,
	}
	if err := protocol.WriteJSONFrame(conn, hello); err != nil {
		return nil, nil, logger.NewChatError(logger.ErrCodeHandshake, "write hello", err)
	}

	var probe protocol.TypeProbe
	body, err := protocol.ReadFrame(conn)
	if err != nil {
		return nil, nil, logger.NewChatError(logger.ErrCodeHandshake, "read handshake response", err)
	}
	if err := protocol.DecodeObject(body, &probe); err != nil {
		return nil, nil, logger.NewChatError(logger.ErrCodeHandshake, "malformed handshake response", err)
	}
	if probe.Type == protocol.TypeHandshakeErr {
		var reject protocol.HandshakeError
		if err := protocol.DecodeObject(body, &reject); err != nil {
			return nil, nil, logger.NewChatError(logger.ErrCodeHandshake, "malformed handshake_error", err)
		}
		return nil, nil, logger.NewChatError(logger.ErrCodeHandshake, "handshake rejected", nil).WithDetails("reason", reject.Reason)
	}
	var ok protocol.HandshakeOK
	if err := protocol.DecodeObject(body, &ok); err != nil {
		return nil, nil, logger.NewChatError(logger.ErrCodeHandshake, "malformed handshake_ok", err)
	}

	wrapped, err := base64.StdEncoding.DecodeString(ok.EncryptedKey)
	if err != nil {
		return nil, nil, logger.NewChatError(logger.ErrCodeCrypto, "decode encrypted_key", err)
	}
	sessionKey, err := crypto.UnwrapKey(c.keyPair.PrivateKey(), wrapped)
	if err != nil {
		return nil, nil, logger.NewChatError(logger.ErrCodeCrypto, "unwrap session key", err)
	}
	cipher, err := crypto.NewSessionCipher(sessionKey)
	if err != nil {
		return nil, nil, logger.NewChatError(logger.ErrCodeCrypto, "build session cipher", err)
	}
	return cipher, &ok, nil
}

func (c *Client) sendLoop(ctx context.Context, conn net.Conn, cipher *crypto.SessionCipher, writeMu *sync.Mutex) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case payload := <-c.pending:
			if err := c.writeLocked(writeMu, conn, cipher, payload); err != nil {
				return err
			}
		}
	}
}

func (c *Client) writeLocked(mu *sync.Mutex, conn net.Conn, cipher *crypto.SessionCipher, payload interface{}) error {
	mu.Lock()
	defer mu.Unlock()
	env, err := protocol.SealEnvelope(cipher, payload)
	if err != nil {
		return logger.NewChatError(logger.ErrCodeCrypto, "seal envelope", err)
	}
	if err := protocol.WriteJSONFrame(conn, env); err != nil {
		return logger.NewChatError(logger.ErrCodeProtocol, "write frame", err)
	}
	return nil
}

func (c *Client) receiveLoop(ctx context.Context, conn net.Conn, cipher *crypto.SessionCipher, writeMu *sync.Mutex) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		var env protocol.Envelope
		if err := protocol.ReadJSONFrame(conn, &env); err != nil {
			return logger.NewChatError(logger.ErrCodeProtocol, "read frame", err)
		}
		plaintext, err := protocol.OpenEnvelope(cipher, env)
		if err != nil {
			return logger.NewChatError(logger.ErrCodeCrypto, "open envelope", err)
		}
		payloadType, err := protocol.DecodePayloadType(plaintext)
		if err != nil {
			return err
		}

		switch payloadType {
		case protocol.TypePing:
			if err := c.writeLocked(writeMu, conn, cipher, protocol.NewPongPayload()); err != nil {
				return err
			}
		case protocol.TypeChat:
			var v protocol.ChatPayload
			if err := protocol.DecodeObject(plaintext, &v); err != nil {
				return err
			}
			c.record(v)
		case protocol.TypeSystem:
			var v protocol.SystemPayload
			if err := protocol.DecodeObject(plaintext, &v); err != nil {
				return err
			}
			c.record(v)
		case protocol.TypeFileInit:
			var v protocol.FileInitPayload
			if err := protocol.DecodeObject(plaintext, &v); err != nil {
				return err
			}
			c.transfers.Start(v.FileID, v.Filename, v.Filesize, v.TotalChunks)
			c.record(v)
		case protocol.TypeFileChunk:
			var v protocol.FileChunkPayload
			if err := protocol.DecodeObject(plaintext, &v); err != nil {
				return err
			}
			c.record(v)
			c.receiveChunk(v)
		default:
			c.log.Warn("unhandled payload type", logger.String("type", payloadType))
		}
	}
}

// receiveChunk feeds an inbound file_chunk into the transfer it belongs
// to and, once every chunk has arrived, assembles the file and reports
// it through the same onMsg/history path as any other payload.
func (c *Client) receiveChunk(v protocol.FileChunkPayload) {
	transfer := c.transfers.Get(v.FileID)
	if transfer == nil {
		c.log.Warn("file_chunk for unknown transfer", logger.String("file_id", v.FileID))
		return
	}
	data, err := base64.StdEncoding.DecodeString(v.ChunkData)
	if err != nil {
		c.log.Warn("malformed file_chunk data", logger.String("file_id", v.FileID), logger.String("error", err.Error()))
		return
	}
	if !transfer.AddChunk(v.ChunkIndex, data) {
		return
	}
	assembled, err := transfer.Assemble()
	if err != nil {
		c.log.Warn("file assembly failed", logger.String("file_id", v.FileID), logger.String("error", err.Error()))
		return
	}
	c.transfers.Remove(v.FileID)
	c.record(filetransfer.Completed{
		FileID:   transfer.FileID,
		Filename: transfer.Filename,
		Data:     assembled,
	})
}

func (c *Client) record(v interface{}) {
	if c.history != nil {
		if err := c.history.Append(v); err != nil {
			c.log.Warn("history append failed", logger.String("error", err.Error()))
		}
	}
	if c.onMsg != nil {
		c.onMsg(v)
	}
}
