package block

import "fmt"

// memChunkSize is the granularity the memory backend grows by. Chosen to
// match the teacher's in-memory growth strategy of allocating in coarse,
// reusable chunks rather than reallocating the whole backing store on
// every write.
const memChunkSize = 1 << 20 // 1 MiB

// MemoryBackend keeps all data in RAM as a list of fixed-size chunks. It
// never touches disk; Sync and Close are no-ops, so the data outlives Close
// and the same backend can be opened again. Useful for throwaway or
// purely-in-process databases (spec §6 "Memory" backend selector).
type MemoryBackend struct {
	chunks []*[memChunkSize]byte
	size   int64
}

// NewMemory creates an empty in-memory backend.
func NewMemory() *MemoryBackend {
	return &MemoryBackend{}
}

func (m *MemoryBackend) growTo(end int64) {
	for int64(len(m.chunks))*memChunkSize < end {
		m.chunks = append(m.chunks, &[memChunkSize]byte{})
	}
	if end > m.size {
		m.size = end
	}
}

func (m *MemoryBackend) ReadAt(p []byte, off int64) error {
	end := off + int64(len(p))
	if end > m.size {
		return fmt.Errorf("block: memory read past end (%d > %d): %w", end, m.size, ErrShortIO)
	}
	remaining := p
	pos := off
	for len(remaining) > 0 {
		chunkIdx := pos / memChunkSize
		chunkOff := pos % memChunkSize
		n := copy(remaining, m.chunks[chunkIdx][chunkOff:])
		remaining = remaining[n:]
		pos += int64(n)
	}
	return nil
}

func (m *MemoryBackend) WriteAt(p []byte, off int64) error {
	end := off + int64(len(p))
	m.growTo(end)
	remaining := p
	pos := off
	for len(remaining) > 0 {
		chunkIdx := pos / memChunkSize
		chunkOff := pos % memChunkSize
		n := copy(m.chunks[chunkIdx][chunkOff:], remaining)
		remaining = remaining[n:]
		pos += int64(n)
	}
	return nil
}

func (m *MemoryBackend) Size() int64 { return m.size }

func (m *MemoryBackend) Sync() error { return nil }

func (m *MemoryBackend) Close() error { return nil }
