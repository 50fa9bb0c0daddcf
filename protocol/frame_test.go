package protocol

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	body := []byte(`{"type":"ping"}`)

	require.NoError(t, WriteFrame(&buf, body))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestReadFrameRejectsShortLengthPrefix(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0x00, 0x01})
	_, err := ReadFrame(buf)
	assert.Error(t, err)
}

func TestReadFrameReturnsEOFOnCleanDisconnect(t *testing.T) {
	buf := bytes.NewBuffer(nil)
	_, err := ReadFrame(buf)
	assert.Same(t, io.EOF, err)
}

func TestReadFrameReturnsRawErrorForClosedConnection(t *testing.T) {
	server, client := net.Pipe()
	require.NoError(t, client.Close())

	_, err := ReadFrame(server)
	assert.True(t, err == io.EOF || err == io.ErrClosedPipe, "expected a clean-disconnect sentinel, got %v", err)
}

func TestReadFrameRejectsShortBody(t *testing.T) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], 10)
	buf := bytes.NewBuffer(append(lenBuf[:], []byte("short")...))
	_, err := ReadFrame(buf)
	assert.Error(t, err)
}

func TestReadFrameRejectsZeroLength(t *testing.T) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], 0)
	buf := bytes.NewBuffer(lenBuf[:])
	_, err := ReadFrame(buf)
	assert.Error(t, err)
}

func TestReadFrameRejectsOversizeLength(t *testing.T) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], MaxFrameLength+1)
	buf := bytes.NewBuffer(lenBuf[:])
	_, err := ReadFrame(buf)
	assert.Error(t, err)
}

func TestWriteFrameRejectsOversizeBody(t *testing.T) {
	var buf bytes.Buffer
	err := WriteFrame(&buf, make([]byte, MaxFrameLength+1))
	assert.Error(t, err)
}

func TestWriteFrameRejectsEmptyBody(t *testing.T) {
	var buf bytes.Buffer
	err := WriteFrame(&buf, nil)
	assert.Error(t, err)
}

func TestJSONFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := ChatPayload{Type: TypeChat, Sender: "alice", Message: "hi", Room: "lobby", Sequence: 1}
	require.NoError(t, WriteJSONFrame(&buf, in))

	var out ChatPayload
	require.NoError(t, ReadJSONFrame(&buf, &out))
	assert.Equal(t, in, out)
}

func TestDecodeObjectRejectsNonObjectTopLevel(t *testing.T) {
	var v map[string]interface{}
	err := DecodeObject([]byte(`[1,2,3]`), &v)
	assert.Error(t, err)

	err = DecodeObject([]byte(`"just a string"`), &v)
	assert.Error(t, err)

	err = DecodeObject([]byte(`42`), &v)
	assert.Error(t, err)
}

func TestDecodeObjectAcceptsObject(t *testing.T) {
	var v map[string]interface{}
	err := DecodeObject([]byte(`{"type":"ping"}`), &v)
	require.NoError(t, err)
	assert.Equal(t, "ping", v["type"])
}

func TestMultipleFramesDoNotInterleave(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte(`{"n":1}`)))
	require.NoError(t, WriteFrame(&buf, []byte(`{"n":2}`)))

	first, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, `{"n":1}`, string(first))

	second, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, `{"n":2}`, string(second))
}
