package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"net"

	"github.com/amariwan/cmdchat-go/internal/logger"
)

// MaxFrameLength is the largest permitted payload length, in bytes, of a
// single frame's JSON body. The 4-byte length prefix itself is not counted.
const MaxFrameLength = 65536

// MinFrameLength is the smallest permitted payload length of a frame.
const MinFrameLength = 1

// ReadFrame reads one length-prefixed frame from r: a 4-byte big-endian
// unsigned length N followed by exactly N bytes of UTF-8 JSON. A short read,
// or a length outside [MinFrameLength, MaxFrameLength], is a framing error;
// a clean disconnect before the first byte of the length prefix is
// returned unwrapped instead (see isCleanDisconnect).
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if isCleanDisconnect(err) {
			// The peer closed (io.EOF) or our own side tore the
			// connection down (net.ErrClosed, e.g. a heartbeat
			// eviction) before a single byte of the next length prefix
			// arrived. Surfaced verbatim so callers can tell this apart
			// from an EOF that lands mid-frame.
			return nil, err
		}
		return nil, logger.NewChatError(logger.ErrCodeFraming, "failed to read frame length", err)
	}

	n := binary.BigEndian.Uint32(lenBuf[:])
	if n < MinFrameLength || n > MaxFrameLength {
		return nil, logger.NewChatError(logger.ErrCodeFraming, "frame length out of bounds", nil).
			WithDetails("length", n)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, logger.NewChatError(logger.ErrCodeFraming, "failed to read frame body", err)
	}
	return body, nil
}

// WriteFrame writes one length-prefixed frame to w. Callers are responsible
// for holding whatever lock serializes writes to w for the duration of this
// call; WriteFrame itself performs a single buffered write so the length
// prefix and body cannot be split by a concurrent writer sharing the same
// io.Writer.
func WriteFrame(w io.Writer, body []byte) error {
	n := len(body)
	if n < MinFrameLength || n > MaxFrameLength {
		return logger.NewChatError(logger.ErrCodeFraming, "frame length out of bounds", nil).
			WithDetails("length", n)
	}

	buf := make([]byte, 4+n)
	binary.BigEndian.PutUint32(buf[:4], uint32(n))
	copy(buf[4:], body)

	if _, err := w.Write(buf); err != nil {
		return logger.NewChatError(logger.ErrCodeFraming, "failed to write frame", err)
	}
	return nil
}

// ReadJSONFrame reads one frame and decodes it as a top-level JSON object
// into v. A body that does not decode to a JSON object is a framing error,
// matching the codec's "must decode to an object" constraint.
func ReadJSONFrame(r io.Reader, v interface{}) error {
	body, err := ReadFrame(r)
	if err != nil {
		return err
	}
	return DecodeObject(body, v)
}

// WriteJSONFrame encodes v as JSON and writes it as one frame.
func WriteJSONFrame(w io.Writer, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return logger.NewChatError(logger.ErrCodeFraming, "failed to marshal frame", err)
	}
	return WriteFrame(w, body)
}

// isCleanDisconnect reports whether err represents an orderly connection
// teardown rather than a protocol violation: the peer closing its end
// (io.EOF), this side's own socket having already been closed elsewhere
// (net.ErrClosed, e.g. a heartbeat eviction or server shutdown racing the
// next read), or the equivalent on an in-memory net.Pipe (io.ErrClosedPipe).
func isCleanDisconnect(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}

// DecodeObject decodes body as JSON and rejects anything whose top-level
// shape is not a JSON object (array, string, number, bool, null).
func DecodeObject(body []byte, v interface{}) error {
	var probe map[string]interface{}
	if err := json.Unmarshal(body, &probe); err != nil {
		return logger.NewChatError(logger.ErrCodeFraming, "frame body is not a JSON object", err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return logger.NewChatError(logger.ErrCodeFraming, "failed to decode frame body", err)
	}
	return nil
}
