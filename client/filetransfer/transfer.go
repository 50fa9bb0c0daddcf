// Package filetransfer reassembles inbound file chunks on the client
// side. The server forwards file_init/file_chunk frames without
// inspecting or reordering them; reassembly is entirely the receiver's
// responsibility.
package filetransfer

import (
	"bytes"
	"fmt"
	"sync"
)

// Completed is reported once every chunk of an inbound transfer has
// arrived and been assembled in order; callers decide whether and where
// to save Data (path-separator stripping and basename resolution are the
// saver's job, not this package's).
type Completed struct {
	FileID   string
	Filename string
	Data     []byte
}

// Transfer tracks one in-progress inbound file by its chunks, indexed by
// chunk_index, until every chunk named in total_chunks has arrived.
type Transfer struct {
	mu sync.Mutex

	FileID        string
	Filename      string
	Filesize      int64
	TotalChunks   int
	chunks        map[int][]byte
	ReceivedCount int
}

// NewTransfer starts tracking a file announced by a file_init frame.
func NewTransfer(fileID, filename string, filesize int64, totalChunks int) *Transfer {
	return &Transfer{
		FileID:      fileID,
		Filename:    filename,
		Filesize:    filesize,
		TotalChunks: totalChunks,
		chunks:      make(map[int][]byte, totalChunks),
	}
}

// AddChunk records chunk data at index. A repeated index, or one outside
// [0, TotalChunks), is a no-op. Returns whether the transfer is now
// complete.
func (t *Transfer) AddChunk(index int, data []byte) (complete bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if index < 0 || index >= t.TotalChunks {
		return t.isComplete()
	}
	if _, seen := t.chunks[index]; !seen {
		t.chunks[index] = data
		t.ReceivedCount++
	}
	return t.isComplete()
}

// IsComplete reports whether every chunk up to TotalChunks has arrived.
func (t *Transfer) IsComplete() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.isComplete()
}

func (t *Transfer) isComplete() bool {
	return t.ReceivedCount >= t.TotalChunks
}

// Assemble concatenates chunks 0..TotalChunks-1 in order into a single
// byte stream. It returns an error if the transfer is not yet complete.
func (t *Transfer) Assemble() ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.isComplete() {
		return nil, fmt.Errorf("filetransfer: incomplete transfer %s: %d/%d chunks", t.FileID, t.ReceivedCount, t.TotalChunks)
	}
	var buf bytes.Buffer
	for i := 0; i < t.TotalChunks; i++ {
		chunk, ok := t.chunks[i]
		if !ok {
			continue
		}
		buf.Write(chunk)
	}
	return buf.Bytes(), nil
}

// Registry tracks concurrently in-progress transfers by file_id.
type Registry struct {
	mu        sync.Mutex
	transfers map[string]*Transfer
}

// NewRegistry builds an empty transfer registry.
func NewRegistry() *Registry {
	return &Registry{transfers: make(map[string]*Transfer)}
}

// Start begins tracking a new transfer, replacing any prior transfer
// under the same file_id.
func (r *Registry) Start(fileID, filename string, filesize int64, totalChunks int) *Transfer {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := NewTransfer(fileID, filename, filesize, totalChunks)
	r.transfers[fileID] = t
	return t
}

// Get returns the transfer tracked under fileID, or nil if unknown.
func (r *Registry) Get(fileID string) *Transfer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transfers[fileID]
}

// Remove stops tracking fileID, typically once its bytes have been
// assembled and written out.
func (r *Registry) Remove(fileID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.transfers, fileID)
}
