package vfile

import (
	"io"
	"sync"

	"github.com/google/uuid"
)

// memBacking is the shared content behind every Handle reopened from the
// same InMemory file.
type memBacking struct {
	mu   sync.RWMutex
	data []byte
}

// InMemory is a File implementation backed by an in-process byte slice,
// used by tests and anywhere a demo run does not need a real executable
// or data file on disk.
type InMemory struct {
	id      uuid.UUID
	backing *memBacking
}

// NewInMemory creates a fresh in-memory file with the given initial
// contents (copied) and registers its first handle.
func NewInMemory(contents []byte) *InMemory {
	data := make([]byte, len(contents))
	copy(data, contents)
	return newInMemoryHandle(&memBacking{data: data})
}

func newInMemoryHandle(b *memBacking) *InMemory {
	h := &InMemory{id: uuid.New(), backing: b}
	defaultRegistry.put(h.id, &Handle{id: h.id, file: h})
	return h
}

func (f *InMemory) Length() int64 {
	f.backing.mu.RLock()
	defer f.backing.mu.RUnlock()
	return int64(len(f.backing.data))
}

func (f *InMemory) ReadAt(dst []byte, offset int64) (int, error) {
	f.backing.mu.RLock()
	defer f.backing.mu.RUnlock()
	if offset >= int64(len(f.backing.data)) {
		return 0, io.EOF
	}
	n := copy(dst, f.backing.data[offset:])
	if n < len(dst) {
		return n, io.EOF
	}
	return n, nil
}

func (f *InMemory) WriteAt(src []byte, offset int64) (int, error) {
	f.backing.mu.Lock()
	defer f.backing.mu.Unlock()
	end := offset + int64(len(src))
	if end > int64(len(f.backing.data)) {
		grown := make([]byte, end)
		copy(grown, f.backing.data)
		f.backing.data = grown
	}
	return copy(f.backing.data[offset:end], src), nil
}

func (f *InMemory) Reopen() (File, error) {
	return newInMemoryHandle(f.backing), nil
}

func (f *InMemory) Close() error {
	defaultRegistry.delete(f.id)
	return nil
}

// ID returns the handle's unique identifier, for log correlation.
func (f *InMemory) ID() uuid.UUID { return f.id }
