// Package registry implements the session registry: the process-wide
// mapping from client id to Session, the room membership index, and the
// per-room chat sequence counter.
package registry

import (
	"io"
	"sync"
	"time"

	"github.com/amariwan/cmdchat-go/crypto"
)

// RateWindow is the sliding window width for the chat rate limiter.
const RateWindow = 5 * time.Second

// RateLimit is the maximum number of chat sends allowed within RateWindow
// before the sender is throttled.
const RateLimit = 12

// Session is the server-side record of one authenticated, registered
// connection. Name is changed via SetName; Room only via Registry.Move,
// which holds the registry lock (the registry is the only thing that
// moves a session between rooms). The write lock guards Sink so the
// framing codec's "no interleaved frames" invariant holds even when the
// dispatcher, the broadcaster, and the heartbeat supervisor all want to
// write to the same connection.
type Session struct {
	ClientID int
	Cipher   *crypto.SessionCipher

	RendererHint   string
	BufferSizeHint int

	mu   sync.Mutex
	name string
	room string

	sink      io.WriteCloser
	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    bool

	lastSeen   atomicTime
	rateWindow rateTracker
}

// NewSession builds a Session bound to sink, the peer's outbound byte
// stream. name and room must already be sanitized by the caller.
func NewSession(clientID int, name, room string, sink io.WriteCloser, cipher *crypto.SessionCipher, rendererHint string, bufferSizeHint int) *Session {
	s := &Session{
		ClientID:       clientID,
		Cipher:         cipher,
		RendererHint:   rendererHint,
		BufferSizeHint: bufferSizeHint,
		name:           name,
		room:           room,
		sink:           sink,
	}
	s.lastSeen.Set(time.Now())
	return s
}

// Name returns the session's current sanitized display name.
func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// SetName updates the display name. Callers hold the registry lock when
// this changes membership-visible state, but the name itself is private to
// the session so a dedicated mutex is enough.
func (s *Session) SetName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.name = name
}

// Room returns the session's current room id.
func (s *Session) Room() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

// setRoom updates the room id. Only Registry.Move calls this, under the
// registry lock, so membership and this field never disagree.
func (s *Session) setRoom(room string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.room = room
}

// LastSeen returns the last time any frame was successfully decoded from
// this session. Stale reads are acceptable; the heartbeat timeout is
// coarse.
func (s *Session) LastSeen() time.Time {
	return s.lastSeen.Get()
}

// Touch records that a frame was just decoded from this session.
func (s *Session) Touch(at time.Time) {
	s.lastSeen.Set(at)
}

// WithWriteLock serializes one frame emission: callers hold the session's
// write lock for exactly the duration of encrypting and writing a single
// frame, so two frames can never interleave on the wire.
func (s *Session) WithWriteLock(fn func(io.Writer) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return fn(s.sink)
}

// Close closes the session's sink exactly once; subsequent calls are a
// no-op.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		s.writeMu.Lock()
		defer s.writeMu.Unlock()
		err = s.sink.Close()
	})
	return err
}

// Closed reports whether Close has already run for this session.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// RecordChatSend appends now to the rate window and trims entries older
// than RateWindow, then reports whether the sender has exceeded RateLimit
// sends within the window.
func (s *Session) RecordChatSend(now time.Time) (limited bool) {
	return s.rateWindow.record(now)
}

// atomicTime guards a time.Time behind a mutex; time.Time is not safe for
// concurrent read/write via atomic primitives directly.
type atomicTime struct {
	mu sync.Mutex
	t  time.Time
}

func (a *atomicTime) Get() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.t
}

func (a *atomicTime) Set(t time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.t = t
}

// rateTracker is the sliding-window chat rate limiter: sends holds only
// timestamps within the last RateWindow. Only the dispatcher handling
// this session's chat ever touches it, so the lock is never contended.
type rateTracker struct {
	mu    sync.Mutex
	sends []time.Time
}

func (r *rateTracker) record(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := now.Add(-RateWindow)
	trimmed := r.sends[:0]
	for _, t := range r.sends {
		if t.After(cutoff) {
			trimmed = append(trimmed, t)
		}
	}
	trimmed = append(trimmed, now)
	r.sends = trimmed

	return len(r.sends) > RateLimit
}
