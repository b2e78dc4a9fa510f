// Package frame implements the frame table: the owner of all
// user-dedicated physical frames, driving allocation, pinning, and
// second-chance eviction (spec §4.C).
//
// Grounded on biscuit/src/mem/mem.go's Physmem_t (a single struct owning
// every RAM page behind one mutex, with free-list bookkeeping) and
// original_source/vm/frame.c's frame_eviction_queue / second-chance
// clock algorithm. Biscuit's version exists to back real hardware pages
// and a COW/refcounting scheme this spec does not need; what is kept is
// the shape (one table, one mutex, a FIFO queue of "frames that can be
// reclaimed"), not the COW/refcount machinery.
package frame

import (
	"container/list"
	"errors"
	"sync"

	"vmpager/mmu"
)

// ErrAlreadyReclaimed is returned by Owner.Evict when the owner has
// already been moved off its frame by a concurrent Table.Reclaim call
// (a page table tearing down the very entry an eviction pass is
// considering) by the time Evict runs. It is not an error condition for
// the eviction pass itself: the frame is already free, so the pass
// simply moves on without touching it a second time.
var ErrAlreadyReclaimed = errors.New("frame: owner already reclaimed")

// Kind classifies a physical frame's current role.
type Kind int

const (
	// KindFree is a frame not currently allocated to anything.
	KindFree Kind = iota
	// KindUser is a frame backing a user page; it lives in the eviction
	// queue for as long as it is allocated.
	KindUser
	// KindKernel is a frame reserved for kernel use; never evicted.
	KindKernel
)

// ID names a physical frame; it is the same type the mmu package uses to
// name the frame a virtual address maps to.
type ID = mmu.FrameID

// Owner is implemented by whatever currently occupies a user frame (in
// this module, a *page.Entry). The frame table calls back into it during
// eviction instead of knowing anything about supplemental page entries,
// keeping the dependency one-directional (page imports frame, not vice
// versa).
type Owner interface {
	// SecondChance is polled once per eviction-queue pass. It reports
	// whether the owner's page was accessed since the last pass (in
	// which case the owner clears the bit and the frame table gives it
	// another lap) per the clock algorithm in spec §4.C.
	SecondChance() bool

	// Evict is called when this owner's frame has been chosen as the
	// victim. It must write the frame's contents to whatever backing
	// store is appropriate and unmap it from the MMU. The frame itself
	// is returned to the free pool by the frame table once Evict
	// returns nil. Evict may also be called on an owner that a
	// concurrent teardown (via Table.Reclaim) has already moved off
	// this frame — reclaimMu guarantees the two never run at the same
	// time, but not which one runs first — in which case it must report
	// that by returning ErrAlreadyReclaimed rather than writing anything
	// or touching the MMU a second time.
	Evict() error
}

// Frame is one physical, page-sized unit of RAM.
type Frame struct {
	id    ID
	bytes []byte

	kind   Kind
	pinned bool
	owner  Owner
	elem   *list.Element // position in the eviction queue, nil if absent

	// reclaimMu serializes the two paths that can transition this frame
	// away from its current owner: a pressure-driven eviction pass
	// (evictOne) and page-table teardown via Reclaim (or Free). Both
	// must hold it for the full owner.SecondChance/Evict (or teardown)
	// call, not just the table bookkeeping around it, since vmctx.Context
	// (and its one frame.Table) is shared across every page.Table built
	// on it — see DESIGN.md's note on this race.
	reclaimMu sync.Mutex
}

// ID returns the frame's identity, as used by the MMU boundary.
func (f *Frame) ID() ID { return f.id }

// Bytes returns the frame's backing storage. Callers treat this as the
// contents of physical memory: writing into it is what "the CPU wrote to
// this page" means in this simulated environment.
func (f *Frame) Bytes() []byte { return f.bytes }

// Table owns every physical frame and the second-chance eviction queue
// over currently allocated user frames.
type Table struct {
	mu       sync.Mutex
	evictMu  sync.Mutex // serializes eviction passes; see evictOne
	pageSize int

	frames []*Frame
	free   []ID

	evictQueue *list.List
}

// NewTable creates a frame table with numFrames frames of pageSize bytes
// each, all initially free.
func NewTable(numFrames, pageSize int) *Table {
	t := &Table{
		pageSize:   pageSize,
		frames:     make([]*Frame, numFrames),
		free:       make([]ID, numFrames),
		evictQueue: list.New(),
	}
	for i := 0; i < numFrames; i++ {
		t.frames[i] = &Frame{id: ID(i), bytes: make([]byte, pageSize)}
		t.free[i] = ID(i)
	}
	return t
}

// NumFrames returns the total number of frames the table manages.
func (t *Table) NumFrames() int { return len(t.frames) }

// PageSize returns the byte size of every frame this table manages.
func (t *Table) PageSize() int { return t.pageSize }

// Allocate hands back a user frame owned by owner, running eviction if
// none is immediately free. It never reports failure: eviction is always
// allowed to block on I/O until a frame is available, per spec §4.C.
func (t *Table) Allocate(owner Owner) *Frame {
	t.mu.Lock()
	if len(t.free) == 0 {
		t.mu.Unlock()
		t.evictOne()
		t.mu.Lock()
	}
	if len(t.free) == 0 {
		t.mu.Unlock()
		panic("frame: allocate found no free frame after eviction")
	}
	id := t.free[len(t.free)-1]
	t.free = t.free[:len(t.free)-1]
	fr := t.frames[id]
	fr.kind = KindUser
	fr.owner = owner
	elem := t.evictQueue.PushBack(fr)
	fr.elem = elem
	t.mu.Unlock()
	return fr
}

// Free returns fr to the pool, removing it from the eviction queue. It is
// equivalent to Reclaim with a transition that always reports handled.
func (t *Table) Free(fr *Frame) {
	_ = t.Reclaim(fr, func() (bool, error) { return true, nil })
}

// Reclaim lets a caller outside this package (a page.Table tearing down
// one of its entries) take a frame away from its current owner while
// coordinating with any concurrent eviction pass considering that exact
// frame. It holds fr.reclaimMu for the whole of transition — the same
// lock evictOne holds across its own owner.SecondChance/Evict callout —
// so the two paths that can move a frame off its owner never interleave;
// whichever gets there first completes its transition before the other
// is let in to look at the frame at all.
//
// transition must do its own owner-side locking and report
// handled=false if, once it can actually look, the frame/owner pairing
// it expected is already gone (reclaimed by the other path while this
// call was still waiting for reclaimMu); Reclaim then leaves the table
// state untouched. On handled=true, Reclaim removes fr from the
// eviction queue and returns it to the free pool.
func (t *Table) Reclaim(fr *Frame, transition func() (handled bool, err error)) error {
	fr.reclaimMu.Lock()
	defer fr.reclaimMu.Unlock()

	handled, err := transition()
	if err != nil {
		return err
	}
	if !handled {
		return nil
	}

	t.mu.Lock()
	if fr.elem != nil {
		t.evictQueue.Remove(fr.elem)
		fr.elem = nil
	}
	fr.kind = KindFree
	fr.owner = nil
	t.free = append(t.free, fr.id)
	t.mu.Unlock()
	return nil
}

// Pin marks fr as ineligible for eviction.
func (t *Table) Pin(fr *Frame) {
	t.mu.Lock()
	fr.pinned = true
	t.mu.Unlock()
}

// Unpin marks fr as eligible for eviction again.
func (t *Table) Unpin(fr *Frame) {
	t.mu.Lock()
	fr.pinned = false
	t.mu.Unlock()
}

// evictOne runs the second-chance algorithm until exactly one frame has
// been freed. Only one eviction pass runs at a time (evictMu), matching
// the single-processor model's guarantee that fault-in and eviction never
// interleave within a single frame (spec §5a) — extended, via Reclaim, to
// the multi-processor-table reality that every page.Table built on a
// shared vmctx.Context shares this one frame.Table: a different table's
// teardown of the very entry this pass is considering must never run at
// the same time as this pass's own owner callout.
//
// Each candidate is processed through Reclaim so the table-bookkeeping
// finalize (removing it from the queue, returning it to the free list)
// happens under the same reclaimMu section as the owner callout itself,
// never after releasing it: a concurrent Reclaim for the same frame
// either runs entirely before this pass reaches it (in which case
// ErrAlreadyReclaimed below is what this pass observes) or entirely
// after (never mid-way).
func (t *Table) evictOne() {
	t.evictMu.Lock()
	defer t.evictMu.Unlock()

	for {
		t.mu.Lock()
		if t.evictQueue.Len() == 0 {
			t.mu.Unlock()
			panic("frame: eviction queue is empty")
		}
		front := t.evictQueue.Front()
		fr := front.Value.(*Frame)
		if fr.pinned {
			t.evictQueue.MoveToBack(front)
			t.mu.Unlock()
			continue
		}
		owner := fr.owner
		t.mu.Unlock()

		reprieved := false
		err := t.Reclaim(fr, func() (bool, error) {
			t.mu.Lock()
			stillCandidate := fr.elem == front && fr.owner == owner
			t.mu.Unlock()
			if !stillCandidate {
				// A concurrent teardown already reclaimed this frame (or
				// it was reallocated) while reclaimMu was free between
				// being picked here and being locked inside Reclaim.
				return false, nil
			}

			if owner.SecondChance() {
				reprieved = true
				return false, nil
			}

			if err := owner.Evict(); err != nil {
				if errors.Is(err, ErrAlreadyReclaimed) {
					return false, nil
				}
				return false, err
			}
			return true, nil
		})
		if err != nil {
			// No recovery path: the caller has no fallback backing
			// store, per spec §7's out-of-swap disposition.
			panic(err)
		}

		if reprieved {
			t.mu.Lock()
			if fr.elem == front {
				t.evictQueue.MoveToBack(front)
			}
			t.mu.Unlock()
			continue
		}

		t.mu.Lock()
		freed := fr.kind == KindFree
		t.mu.Unlock()
		if freed {
			return
		}
		// Neither reprieved nor freed: this candidate was already
		// reclaimed out from under us; try the next one.
	}
}
