// Package vmctx bundles the frame table, swap area, buffer cache, and MMU
// boundary that one process's supplemental page table needs, replacing
// the ad-hoc global mutable state the teaching kernel initializes at
// boot (spec §9's "process-wide VM context" redesign note).
//
// Grounded on biscuit/src/mem/mem.go's Physmem global-singleton-with-
// Phys_init() pattern, generalized into an explicit value instead of a
// package-level var: tests in this module instantiate many independent
// contexts concurrently, where Biscuit's kernel has exactly one physical
// memory space for its whole lifetime.
package vmctx

import (
	"vmpager/cache"
	"vmpager/frame"
	"vmpager/mmu"
	"vmpager/swap"
)

// Context is the set of collaborators a page.Table needs to service
// faults and evictions for one address space.
type Context struct {
	Frames *frame.Table
	Swap   *swap.Area
	Cache  *cache.Cache
	MMU    mmu.MMU
}

// New bundles already-constructed collaborators into a Context. Cache
// may be nil for tests that only exercise anonymous/zero-fill paging and
// never touch the filesystem buffer cache.
func New(frames *frame.Table, sw *swap.Area, c *cache.Cache, m mmu.MMU) *Context {
	return &Context{Frames: frames, Swap: sw, Cache: c, MMU: m}
}

// PageSize reports the page size every component in this context agrees
// on; the frame table is the source of truth since every frame is
// exactly one page.
func (c *Context) PageSize() int {
	return c.Frames.PageSize()
}
