// Package cache implements the filesystem buffer cache: a fixed-capacity
// write-back cache keyed by block sector, with a directory lock
// protecting sector→slot lookup and a per-slot lock protecting each
// slot's data and dirty bit (spec §4.E).
//
// Grounded on biscuit/src/fs/blk.go's Bdev_block_t/BlkList_t (a sector
// keyed, per-block-locked cache fronting the AHCI block device, using
// container/list for block bookkeeping). The acquire-for-sector protocol
// itself (release the directory lock before taking a slot lock, then
// recheck, to avoid holding both locks — and therefore a lock-ordering
// deadlock — at once) is original to this implementation; no reference
// source for it exists in the pack. Eviction reuses the same
// second-chance/clock shape as frame.Table (spec §9: the reference
// fixed-index victim is a placeholder the spec calls out for
// replacement), with "accessed" standing in for the MMU accessed bit the
// frame table checks: here it just means "touched since the last pass".
package cache

import (
	"container/list"
	"sync"

	"vmpager/blockdev"
)

// Capacity is the fixed number of buffer cache slots, per spec §4.E.
const Capacity = 64

// slot holds one cached sector. occupied is false for a slot that has
// never held any sector.
type slot struct {
	mu       sync.Mutex
	sector   blockdev.Sector
	occupied bool
	dirty    bool
	accessed bool
	elem     *list.Element // position in the eviction queue, nil if absent
	data     [blockdev.SectorSize]byte
}

// Cache is a fixed-capacity, write-back buffer cache over one block
// device's sectors.
type Cache struct {
	dev blockdev.Device

	dirMu sync.Mutex
	dir   map[blockdev.Sector]*slot
	slots []*slot
	queue *list.List // second-chance eviction queue over occupied slots
}

// New creates a buffer cache of Capacity slots fronting dev.
func New(dev blockdev.Device) *Cache {
	c := &Cache{
		dev:   dev,
		dir:   make(map[blockdev.Sector]*slot),
		slots: make([]*slot, Capacity),
		queue: list.New(),
	}
	for i := range c.slots {
		c.slots[i] = &slot{}
	}
	return c
}

// acquire returns the locked slot holding sector's contents, loading it
// from the device first if necessary. The caller must call release when
// done. This implements the acquire-for-sector protocol of spec §4.E:
// a lookup hit releases the directory lock before taking the slot lock;
// the load path (claimSlotForLoad) takes a slot lock while holding the
// directory lock. No path takes the directory lock while holding a slot
// lock, since that reverse order could deadlock against a concurrent
// evictor (spec §5's lock-ordering guarantee (c)).
func (c *Cache) acquire(sector blockdev.Sector) *slot {
	for {
		c.dirMu.Lock()
		s, found := c.dir[sector]
		c.dirMu.Unlock()

		if found {
			s.mu.Lock()
			if s.occupied && s.sector == sector {
				s.accessed = true
				return s
			}
			// Evicted out from under us between the lookup and the
			// lock; release and retry from the directory.
			s.mu.Unlock()
			continue
		}

		s = c.claimSlotForLoad(sector)
		if s == nil {
			continue
		}
		return s
	}
}

// claimSlotForLoad finds an empty slot (or evicts one), installs it in
// the directory under sector while still holding the directory lock, and
// returns it locked with its contents freshly read from the device. It
// returns nil if another goroutine won the race to install sector first,
// so the caller should retry through the normal acquire path.
func (c *Cache) claimSlotForLoad(sector blockdev.Sector) *slot {
	c.dirMu.Lock()
	if s, found := c.dir[sector]; found {
		c.dirMu.Unlock()
		return nil
	}

	s := c.pickVictimLocked()
	s.mu.Lock()

	if s.occupied {
		delete(c.dir, s.sector)
	}
	c.dir[sector] = s
	s.elem = c.queue.PushBack(s)
	c.dirMu.Unlock()

	if s.occupied && s.dirty {
		c.writeBack(s)
	}

	s.sector = sector
	s.occupied = true
	s.dirty = false
	s.accessed = true
	if err := c.dev.Read(sector, s.data[:]); err != nil {
		panic(err)
	}
	return s
}

// pickVictimLocked chooses a slot to (re)claim while c.dirMu is held.
// Empty slots are preferred, counting down from the last slot; failing
// that, it runs the second-chance scan over the occupied-slot queue: a
// slot touched since its last pass is reprieved once (its accessed bit
// cleared) and moved to the back, exactly mirroring frame.Table's
// eviction loop. The caller is responsible for writing back a dirty
// victim before repurposing it.
func (c *Cache) pickVictimLocked() *slot {
	for i := len(c.slots) - 1; i >= 0; i-- {
		if !c.slots[i].occupied {
			return c.slots[i]
		}
	}
	for {
		front := c.queue.Front()
		if front == nil {
			panic("cache: eviction queue empty with no free slot")
		}
		s := front.Value.(*slot)
		s.mu.Lock()
		if s.accessed {
			s.accessed = false
			s.mu.Unlock()
			c.queue.MoveToBack(front)
			continue
		}
		s.mu.Unlock()
		c.queue.Remove(front)
		s.elem = nil
		return s
	}
}

func (c *Cache) writeBack(s *slot) {
	if err := c.dev.Write(s.sector, s.data[:]); err != nil {
		panic(err)
	}
}

func (s *slot) release() {
	s.mu.Unlock()
}

// Read copies sector's contents into dst, which must be exactly
// blockdev.SectorSize bytes.
func (c *Cache) Read(sector blockdev.Sector, dst []byte) {
	s := c.acquire(sector)
	defer s.release()
	copy(dst, s.data[:])
}

// Write copies src into sector's slot and marks it dirty; persistence to
// the device is deferred to eviction or an explicit Flush (spec §4.E:
// "Write-through is not used").
func (c *Cache) Write(sector blockdev.Sector, src []byte) {
	s := c.acquire(sector)
	defer s.release()
	copy(s.data[:], src)
	s.dirty = true
}

// ReadBytes copies n bytes starting at offset within sector into dst. The
// cache never issues a partial-block device I/O: sub-sector access is
// always implemented in terms of a whole-slot acquire.
func (c *Cache) ReadBytes(sector blockdev.Sector, offset, n int, dst []byte) {
	s := c.acquire(sector)
	defer s.release()
	copy(dst, s.data[offset:offset+n])
}

// WriteBytes copies n bytes from src into sector's slot starting at
// offset, and marks the slot dirty.
func (c *Cache) WriteBytes(sector blockdev.Sector, offset, n int, src []byte) {
	s := c.acquire(sector)
	defer s.release()
	copy(s.data[offset:offset+n], src)
	s.dirty = true
}

// Flush writes back every dirty slot, in slot order.
func (c *Cache) Flush() {
	for _, s := range c.slots {
		s.mu.Lock()
		if s.occupied && s.dirty {
			c.writeBack(s)
			s.dirty = false
		}
		s.mu.Unlock()
	}
}
