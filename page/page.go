// Package page implements the supplemental page table: the per-address-
// space map from a page-aligned virtual address to the metadata telling
// the fault handler how to materialize that page (spec §4.D).
//
// Grounded on biscuit/src/vm/as.go's Vm_t/Sys_pgfault (a process's
// address space as a sorted list of mapping descriptors, consulted on
// every page fault to decide zero-fill vs. file read vs. swap-in) and
// original_source/vm/page.c's install_segment/install_file_mapping/
// install_anonymous entry points. Biscuit inlines this against a real
// x86 page table and a real inode; here the same dispatch logic runs
// against the mmu.MMU and vfile.File interfaces instead.
package page

import (
	"sync"

	"github.com/hashicorp/go-multierror"

	"vmpager/frame"
	"vmpager/kerr"
	"vmpager/mmu"
	"vmpager/swap"
	"vmpager/util"
	"vmpager/vfile"
	"vmpager/vmctx"
)

// State is where an entry sits in its materialize/evict lifecycle.
type State int

const (
	Uninitialized State = iota
	Loaded
	Evicted
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Loaded:
		return "loaded"
	case Evicted:
		return "evicted"
	default:
		return "unknown"
	}
}

// InitMethod names how a page's initial contents are produced the first
// time it is faulted in.
type InitMethod int

const (
	ZeroFill InitMethod = iota
	FromFile
)

// RestoreMethod names where a page's contents go when evicted, and where
// they come from when faulted back in after eviction.
type RestoreMethod int

const (
	Swap RestoreMethod = iota
	File
)

// Entry is one installed virtual page's supplemental metadata. Only the
// fields valid for the entry's initMethod/restoreMethod are ever
// meaningful; the tagged accessors below panic if asked for the wrong
// variant, per the "tagged variant over backing strategy" design note.
type Entry struct {
	table *Table
	vaddr mmu.Addr

	mu            sync.Mutex
	state         State
	initMethod    InitMethod
	restoreMethod RestoreMethod
	writable      bool

	// discardOnEvict is set by teardown paths that are destroying the
	// page rather than evicting it under memory pressure: it suppresses
	// the swap write a pressure-driven eviction would otherwise perform.
	discardOnEvict bool

	frame *frame.Frame // non-nil iff state == Loaded

	hasSwapSlot bool
	swapSlot    swap.Slot

	file   vfile.File
	offset int64
	bytes  int // valid bytes at (file, offset); remainder of the page is zero
	next   *Entry
}

// Vaddr returns the entry's virtual address.
func (e *Entry) Vaddr() mmu.Addr { return e.vaddr }

// State reports the entry's current lifecycle state.
func (e *Entry) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Writable reports whether the page was installed writable.
func (e *Entry) Writable() bool { return e.writable }

// SwapSlot returns the entry's swap slot. It panics unless the entry is
// Swap-restored and currently Evicted, matching the data model's note
// that SwapSlot is "meaningful only when restore_method=Swap ∧
// state=Evicted".
func (e *Entry) SwapSlot() swap.Slot {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.restoreMethod != Swap || !e.hasSwapSlot {
		panic("page: entry has no swap slot")
	}
	return e.swapSlot
}

// Table is a per-address-space supplemental page table.
type Table struct {
	ctx *vmctx.Context

	mu       sync.Mutex
	entries  map[mmu.Addr]*Entry
	pageSize int
}

// NewTable creates an empty supplemental page table serviced by ctx.
func NewTable(ctx *vmctx.Context) *Table {
	return &Table{
		ctx:      ctx,
		entries:  make(map[mmu.Addr]*Entry),
		pageSize: ctx.PageSize(),
	}
}

func (t *Table) insertLocked(e *Entry) {
	t.mu.Lock()
	t.entries[e.vaddr] = e
	t.mu.Unlock()
}

func (t *Table) removeLocked(vaddr mmu.Addr) {
	t.mu.Lock()
	delete(t.entries, vaddr)
	t.mu.Unlock()
}

// Lookup returns the entry installed at vaddr, if any.
func (t *Table) Lookup(vaddr mmu.Addr) (*Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[vaddr]
	return e, ok
}

func pageBytesAt(total, pageIndex, pageSize int) int {
	remaining := total - pageIndex*pageSize
	switch {
	case remaining <= 0:
		return 0
	case remaining >= pageSize:
		return pageSize
	default:
		return remaining
	}
}

// InstallSegment registers one supplemental entry per page covering
// readBytes+zeroBytes starting at vaddr, each reading from file at offset
// (the final partial page zero-fills its tail), restored from swap on
// eviction — i.e. a dirtied segment page is swapped, never written back
// to the executable it came from (spec §4.D).
func (t *Table) InstallSegment(file vfile.File, offset int64, readBytes, zeroBytes int, writable bool, vaddr mmu.Addr) {
	total := readBytes + zeroBytes
	pages := util.DivRoundup(total, t.pageSize)
	for i := 0; i < pages; i++ {
		e := &Entry{
			table:         t,
			vaddr:         vaddr + mmu.Addr(i*t.pageSize),
			state:         Uninitialized,
			initMethod:    FromFile,
			restoreMethod: Swap,
			writable:      writable,
			file:          file,
			offset:        offset + int64(i*t.pageSize),
			bytes:         pageBytesAt(readBytes, i, t.pageSize),
		}
		t.insertLocked(e)
	}
}

// InstallFileMapping registers one page per ⌈file.Length()/pageSize⌉
// starting at vaddr, each with its own reopened handle onto file, linked
// head-to-tail in decreasing-offset order (data model invariant (d)), and
// returns the head entry (the highest-offset page) for later use with
// UninstallFile. An empty file installs no pages and returns nil.
// Writable mappings are written back on eviction iff dirty; read-only
// mappings are discarded.
func (t *Table) InstallFileMapping(file vfile.File, writable bool, vaddr mmu.Addr) *Entry {
	length := int(file.Length())
	pages := util.DivRoundup(length, t.pageSize)
	if pages == 0 {
		return nil
	}
	entries := make([]*Entry, pages)
	for i := 0; i < pages; i++ {
		h, err := file.Reopen()
		if err != nil {
			panic(err)
		}
		e := &Entry{
			table:         t,
			vaddr:         vaddr + mmu.Addr(i*t.pageSize),
			state:         Uninitialized,
			initMethod:    FromFile,
			restoreMethod: File,
			writable:      writable,
			file:          h,
			offset:        int64(i * t.pageSize),
			bytes:         pageBytesAt(length, i, t.pageSize),
		}
		entries[i] = e
		t.insertLocked(e)
	}
	for i := pages - 1; i > 0; i-- {
		entries[i].next = entries[i-1]
	}
	return entries[pages-1]
}

// InstallAnonymous registers a single zero-fill, swap-restored page at
// vaddr without materializing it.
func (t *Table) InstallAnonymous(vaddr mmu.Addr, writable bool) *Entry {
	e := &Entry{
		table:         t,
		vaddr:         vaddr,
		state:         Uninitialized,
		initMethod:    ZeroFill,
		restoreMethod: Swap,
		writable:      writable,
	}
	t.insertLocked(e)
	return e
}

// InstallAndLoadAnonymous installs an anonymous page at vaddr and
// eagerly materializes it (used for the initial user stack page).
func (t *Table) InstallAndLoadAnonymous(vaddr mmu.Addr, writable bool) *Entry {
	e := t.InstallAnonymous(vaddr, writable)
	// Zero-fill materialization never touches a device, so it cannot
	// fail; a non-nil error here would mean a frame table/MMU bug.
	if err := e.load(); err != nil {
		panic(err)
	}
	return e
}

// HandleFault rounds vaddr down to its page and attempts to materialize
// it. It reports kerr.ENOTFOUND if no supplemental entry covers vaddr —
// the caller (stack growth heuristic, user-pointer validation) decides
// what to do next; the core itself never guesses.
func (t *Table) HandleFault(vaddr mmu.Addr) error {
	vaddr = mmu.Addr(util.Rounddown(uintptr(vaddr), uintptr(t.pageSize)))
	t.mu.Lock()
	e, ok := t.entries[vaddr]
	t.mu.Unlock()
	if !ok {
		return kerr.ENOTFOUND
	}
	return e.load()
}

// load materializes e's contents into a freshly allocated frame and
// installs the mapping, per the handle_fault dispatch table in spec
// §4.D. It panics on a Loaded entry (the MMU would not have faulted) and
// on a file read that fails or comes back short (indicates metadata
// corruption, spec §7). A failing swap read is a block-device-class
// error and is returned to the caller unchanged rather than panicked,
// per spec §7.
func (e *Entry) load() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case Loaded:
		panic("page: fault on an already-loaded entry")

	case Uninitialized:
		fr := e.table.ctx.Frames.Allocate(e)
		switch e.initMethod {
		case ZeroFill:
			zero(fr.Bytes())
		case FromFile:
			e.readFileInto(fr.Bytes())
		}
		e.installLocked(fr)

	case Evicted:
		fr := e.table.ctx.Frames.Allocate(e)
		switch e.restoreMethod {
		case Swap:
			if !e.hasSwapSlot {
				panic("page: evicted swap-backed entry has no slot")
			}
			if err := e.table.ctx.Swap.ReadAndFree(e.swapSlot, fr.Bytes()); err != nil {
				// Release e.mu before freeing fr: frame.Table.Free takes
				// fr's own reclaim lock, which a concurrent eviction pass
				// may be holding while itself blocked trying to acquire
				// e.mu (via owner.Evict) — holding both at once here
				// would deadlock against that pass.
				e.mu.Unlock()
				e.table.ctx.Frames.Free(fr)
				e.mu.Lock()
				return err
			}
			e.hasSwapSlot = false
		case File:
			e.readFileInto(fr.Bytes())
		}
		e.installLocked(fr)
	}
	return nil
}

func (e *Entry) readFileInto(dst []byte) {
	zero(dst)
	if e.bytes == 0 {
		return
	}
	n, err := e.file.ReadAt(dst[:e.bytes], e.offset)
	if err != nil || n != e.bytes {
		panic("page: short read materializing file-backed page")
	}
}

func (e *Entry) installLocked(fr *frame.Frame) {
	if err := e.table.ctx.MMU.InstallPage(e.vaddr, fr.ID(), e.writable); err != nil {
		panic(err)
	}
	e.frame = fr
	e.state = Loaded
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// SecondChance implements frame.Owner: it reports whether the page was
// accessed since the last pass, clearing the bit so a second consecutive
// miss selects it as the victim (spec §4.C's clock algorithm).
func (e *Entry) SecondChance() bool {
	if e.table.ctx.MMU.IsAccessed(e.vaddr) {
		e.table.ctx.MMU.SetAccessed(e.vaddr, false)
		return true
	}
	return false
}

// Evict implements frame.Owner: it is invoked by the frame table when
// this entry's frame has been chosen as the eviction victim. The frame
// table reclaims the frame itself once Evict returns nil. If a
// concurrent page.Table teardown (UninstallAnonymous/UninstallFile) has
// already moved this entry off the frame — frame.Table.Reclaim's
// reclaimMu rules out the two running at the same instant, but not which
// one gets there first — e is no longer Loaded, and Evict reports
// frame.ErrAlreadyReclaimed instead of redoing or panicking.
func (e *Entry) Evict() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Loaded {
		return frame.ErrAlreadyReclaimed
	}
	return e.performEvictLocked()
}

// performEvictLocked runs the writer dispatch from spec §4.D's evict
// operation and transitions the entry to Evicted. Callers must hold
// e.mu and are responsible for returning e.frame to the frame table
// afterward (the caller knows whether that means a second-chance
// reclaim or an explicit Free).
func (e *Entry) performEvictLocked() error {
	fr := e.frame
	switch e.restoreMethod {
	case Swap:
		if !e.discardOnEvict {
			slot, err := e.table.ctx.Swap.ReserveAndWrite(fr.Bytes())
			if err != nil {
				return err
			}
			e.swapSlot = slot
			e.hasSwapSlot = true
		}
	case File:
		if e.writable && e.table.ctx.MMU.IsDirty(e.vaddr) {
			if _, err := e.file.WriteAt(fr.Bytes()[:e.bytes], e.offset); err != nil {
				return err
			}
		}
	}
	e.table.ctx.MMU.UninstallPage(e.vaddr)
	e.frame = nil
	e.state = Evicted
	return nil
}

// reclaimLoaded tears e off its frame for teardown, discarding the swap
// write (e.discardOnEvict) when the caller has asked for that. It routes
// through frame.Table.Reclaim so a concurrent eviction pass considering
// this exact frame (triggered by Allocate on a different page.Table
// sharing the same vmctx.Context) cannot interleave with this teardown:
// whichever of the two gets e.frame's reclaimMu first completes its own
// transition before the other is let in to look at the entry at all. If
// the eviction pass wins the race, the transition below observes e no
// longer Loaded and simply reports unhandled — the frame was already
// reclaimed and freed by that pass, so there is nothing left to do here.
func (e *Entry) reclaimLoaded(discard bool) error {
	e.mu.Lock()
	if e.state != Loaded {
		e.mu.Unlock()
		return nil
	}
	if discard {
		e.discardOnEvict = true
	}
	fr := e.frame
	e.mu.Unlock()

	return e.table.ctx.Frames.Reclaim(fr, func() (bool, error) {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.state != Loaded || e.frame != fr {
			// Already reclaimed by a concurrent eviction pass (or
			// discovered not to need one after all).
			return false, nil
		}
		if err := e.performEvictLocked(); err != nil {
			return false, err
		}
		return true, nil
	})
}

// UninstallFile tears down every page of a file mapping starting from
// head (as returned by InstallFileMapping): loaded pages are evicted
// (respecting the writable+dirty write-back rule) and freed, evicted
// pages carry no swap slot and are simply dropped, and every page closes
// its own reopened file handle. Teardown continues past a failing
// write-back or close so a single stuck handle cannot leak the rest of
// the mapping; all errors are aggregated and returned together.
func (t *Table) UninstallFile(head *Entry) error {
	var merr *multierror.Error
	for e := head; e != nil; e = e.next {
		if err := e.reclaimLoaded(false); err != nil {
			merr = multierror.Append(merr, err)
		}

		if e.file != nil {
			if err := e.file.Close(); err != nil {
				merr = multierror.Append(merr, err)
			}
		}
		t.removeLocked(e.vaddr)
	}
	return merr.ErrorOrNil()
}

// UninstallAnonymous tears down a single anonymous (swap-restored) page:
// an Evicted entry discards its swap slot without reading it back; a
// Loaded entry is evicted with the swap write suppressed (the page is
// being destroyed, not paged out under pressure) and its frame freed.
func (t *Table) UninstallAnonymous(e *Entry) {
	e.mu.Lock()
	if e.state == Evicted {
		if e.hasSwapSlot {
			t.ctx.Swap.Discard(e.swapSlot)
			e.hasSwapSlot = false
		}
		e.mu.Unlock()
		t.removeLocked(e.vaddr)
		return
	}
	e.mu.Unlock()

	if err := e.reclaimLoaded(true); err != nil {
		panic(err)
	}
	t.removeLocked(e.vaddr)
}

// UninstallAll tears down every entry in the table, continuing past
// individual failures so process exit always reclaims every frame and
// swap slot: the source implementation this is grounded on left this
// path "not reliably working" (see DESIGN.md), so this implementation
// treats full teardown as a primary correctness obligation rather than a
// best-effort cleanup.
func (t *Table) UninstallAll() error {
	t.mu.Lock()
	entries := make([]*Entry, 0, len(t.entries))
	for _, e := range t.entries {
		entries = append(entries, e)
	}
	t.entries = make(map[mmu.Addr]*Entry)
	t.mu.Unlock()

	var merr *multierror.Error
	for _, e := range entries {
		if err := e.teardown(); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	return merr.ErrorOrNil()
}

func (e *Entry) teardown() error {
	if err := e.reclaimLoaded(e.restoreMethod == Swap); err != nil {
		return err
	}

	e.mu.Lock()
	if e.state == Evicted && e.restoreMethod == Swap && e.hasSwapSlot {
		e.table.ctx.Swap.Discard(e.swapSlot)
		e.hasSwapSlot = false
	}
	e.mu.Unlock()

	if e.restoreMethod == File && e.file != nil {
		return e.file.Close()
	}
	return nil
}
