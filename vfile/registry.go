package vfile

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// registry tracks every open Handle by its uuid, so that closing the
// same handle twice panics and tests can count live handles. Reads and
// writes through an already-closed handle are not checked.
//
// Grounded on biscuit/src/hashtable/hashtable.go's Hashtable_t: an array
// of bucket locks, each guarding a short sorted chain. The original's
// lock-free-Get variant relies on unsafe atomic pointer loads/stores over
// `interface{}` keys; that trick serves a hot, allocation-free kernel
// path this registry does not need, so buckets here are plain
// sync.RWMutex-guarded maps over a concrete uuid.UUID key instead.
type registry struct {
	buckets []bucket
}

type bucket struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*Handle
}

func newRegistry(shards int) *registry {
	r := &registry{buckets: make([]bucket, shards)}
	for i := range r.buckets {
		r.buckets[i].entries = make(map[uuid.UUID]*Handle)
	}
	return r
}

func (r *registry) shard(id uuid.UUID) *bucket {
	var h uint32
	for _, b := range id {
		h = h*31 + uint32(b)
	}
	return &r.buckets[h%uint32(len(r.buckets))]
}

func (r *registry) put(id uuid.UUID, h *Handle) {
	b := r.shard(id)
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.entries[id]; exists {
		panic(fmt.Sprintf("vfile: duplicate handle id %s", id))
	}
	b.entries[id] = h
}

func (r *registry) get(id uuid.UUID) (*Handle, bool) {
	b := r.shard(id)
	b.mu.RLock()
	defer b.mu.RUnlock()
	h, ok := b.entries[id]
	return h, ok
}

func (r *registry) delete(id uuid.UUID) {
	b := r.shard(id)
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.entries[id]; !exists {
		panic(fmt.Sprintf("vfile: close of unknown or already-closed handle %s", id))
	}
	delete(b.entries, id)
}

// size returns the total number of live handles, for tests asserting
// that every page's handle was independently closed on uninstall.
func (r *registry) size() int {
	n := 0
	for i := range r.buckets {
		r.buckets[i].mu.RLock()
		n += len(r.buckets[i].entries)
		r.buckets[i].mu.RUnlock()
	}
	return n
}

// defaultRegistry tracks every Handle issued by this package's File
// implementations, regardless of which underlying file they view.
var defaultRegistry = newRegistry(16)

// LiveHandles returns the number of currently open Handles across every
// InMemory and OSFile in the process, for leak-detection in tests.
func LiveHandles() int {
	return defaultRegistry.size()
}
