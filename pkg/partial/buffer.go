// Package partial preserves intermediate agent output across halts in a
// bounded append-only buffer. Overflow is a recoverable signal carrying
// evidence of what was truncated, not a crash.
package partial

import (
	"fmt"
	"sync"
)

// TruncationPoint names which cap an append tripped.
type TruncationPoint string

const (
	TruncationChunkCount TruncationPoint = "chunk_count"
	TruncationByteSize   TruncationPoint = "byte_size"
)

// OverflowError reports an append past the buffer caps.
type OverflowError struct {
	KeptChunks      int             `json:"kept_chunks"`
	TotalChunks     int             `json:"total_chunks"`
	KeptBytes       int             `json:"kept_bytes"`
	TotalBytes      int             `json:"total_bytes"`
	TruncationPoint TruncationPoint `json:"truncation_point"`
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("partial buffer overflow at %s: kept %d/%d chunks, %d/%d bytes",
		e.TruncationPoint, e.KeptChunks, e.TotalChunks, e.KeptBytes, e.TotalBytes)
}

// Buffer is an append-only chunk store with per-chunk-count and
// per-byte caps.
type Buffer struct {
	mu         sync.Mutex
	chunks     []string
	bytes      int
	maxChunks  int
	maxBytes   int
	seenChunks int
	seenBytes  int
}

// NewBuffer creates a buffer with the given caps. Non-positive caps
// default to 256 chunks / 1 MiB.
func NewBuffer(maxChunks, maxBytes int) *Buffer {
	if maxChunks <= 0 {
		maxChunks = 256
	}
	if maxBytes <= 0 {
		maxBytes = 1 << 20
	}
	return &Buffer{maxChunks: maxChunks, maxBytes: maxBytes}
}

// Append adds one chunk. Past either cap the chunk is dropped and an
// *OverflowError describes the truncation.
func (b *Buffer) Append(chunk string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seenChunks++
	b.seenBytes += len(chunk)

	if len(b.chunks) >= b.maxChunks {
		return &OverflowError{
			KeptChunks:      len(b.chunks),
			TotalChunks:     b.seenChunks,
			KeptBytes:       b.bytes,
			TotalBytes:      b.seenBytes,
			TruncationPoint: TruncationChunkCount,
		}
	}
	if b.bytes+len(chunk) > b.maxBytes {
		return &OverflowError{
			KeptChunks:      len(b.chunks),
			TotalChunks:     b.seenChunks,
			KeptBytes:       b.bytes,
			TotalBytes:      b.seenBytes,
			TruncationPoint: TruncationByteSize,
		}
	}

	b.chunks = append(b.chunks, chunk)
	b.bytes += len(chunk)
	return nil
}

// Chunks returns a copy of the kept chunks in append order.
func (b *Buffer) Chunks() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.chunks))
	copy(out, b.chunks)
	return out
}

// Len returns the number of kept chunks.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.chunks)
}

// Bytes returns the kept byte total.
func (b *Buffer) Bytes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bytes
}

// Reset discards all chunks and counters.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chunks = nil
	b.bytes = 0
	b.seenChunks = 0
	b.seenBytes = 0
}
