package filetransfer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddChunkTracksCompletion(t *testing.T) {
	tr := NewTransfer("f1", "report.pdf", 6, 3)
	assert.False(t, tr.AddChunk(0, []byte("ab")))
	assert.False(t, tr.AddChunk(1, []byte("cd")))
	assert.True(t, tr.AddChunk(2, []byte("ef")))
	assert.True(t, tr.IsComplete())
}

func TestAddChunkDuplicateIndexIsNoOp(t *testing.T) {
	tr := NewTransfer("f1", "report.pdf", 4, 2)
	tr.AddChunk(0, []byte("ab"))
	tr.AddChunk(0, []byte("xx"))
	assert.Equal(t, 1, tr.ReceivedCount)
}

func TestAssembleOrdersChunksByIndex(t *testing.T) {
	tr := NewTransfer("f1", "report.pdf", 6, 3)
	tr.AddChunk(2, []byte("ef"))
	tr.AddChunk(0, []byte("ab"))
	tr.AddChunk(1, []byte("cd"))

	data, err := tr.Assemble()
	require.NoError(t, err)
	assert.Equal(t, "abcdef", string(data))
}

func TestAssembleFailsWhenIncomplete(t *testing.T) {
	tr := NewTransfer("f1", "report.pdf", 6, 3)
	tr.AddChunk(0, []byte("ab"))

	_, err := tr.Assemble()
	assert.Error(t, err)
}

func TestRegistryStartGetRemove(t *testing.T) {
	reg := NewRegistry()
	reg.Start("f1", "a.bin", 2, 1)
	assert.NotNil(t, reg.Get("f1"))

	reg.Remove("f1")
	assert.Nil(t, reg.Get("f1"))
}
