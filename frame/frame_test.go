package frame

import (
	"testing"

	"github.com/stretchr/testify/require"

	"vmpager/mmu"
)

// mockOwner lets the frame table tests drive SecondChance/Evict directly
// without pulling in the page package (which itself depends on frame).
type mockOwner struct {
	name      string
	accessed  bool
	evictions *[]string
}

func (m *mockOwner) SecondChance() bool {
	if m.accessed {
		m.accessed = false
		return true
	}
	return false
}

func (m *mockOwner) Evict() error {
	*m.evictions = append(*m.evictions, m.name)
	return nil
}

func TestAllocateFreeReuse(t *testing.T) {
	tbl := NewTable(2, 16)
	var evicted []string
	a := tbl.Allocate(&mockOwner{name: "a", evictions: &evicted})
	b := tbl.Allocate(&mockOwner{name: "b", evictions: &evicted})
	require.NotEqual(t, a.ID(), b.ID())
	tbl.Free(a)
	c := tbl.Allocate(&mockOwner{name: "c", evictions: &evicted})
	require.Equal(t, a.ID(), c.ID(), "freed frame should be reused")
}

// Property 12: eviction never selects a pinned frame.
func TestEvictionSkipsPinned(t *testing.T) {
	tbl := NewTable(2, 16)
	var evicted []string
	a := tbl.Allocate(&mockOwner{name: "a", evictions: &evicted})
	tbl.Allocate(&mockOwner{name: "b", evictions: &evicted})
	tbl.Pin(a)

	// Both frames are taken; the next allocate must evict "b", not "a".
	tbl.Allocate(&mockOwner{name: "c", evictions: &evicted})
	require.Equal(t, []string{"b"}, evicted)
}

// Second-chance: an accessed frame is skipped once, then reconsidered.
func TestSecondChanceGivesOneReprieve(t *testing.T) {
	tbl := NewTable(2, 16)
	var evicted []string
	a := tbl.Allocate(&mockOwner{name: "a", accessed: true, evictions: &evicted})
	tbl.Allocate(&mockOwner{name: "b", evictions: &evicted})

	tbl.Allocate(&mockOwner{name: "c", evictions: &evicted})
	// a was accessed, so it got a second chance; b (not accessed) should
	// have been the victim instead.
	require.Equal(t, []string{"b"}, evicted)
	require.NotNil(t, a)
}

func TestIDIsAnMMUFrameID(t *testing.T) {
	var id ID = mmu.FrameID(3)
	require.Equal(t, mmu.FrameID(3), id)
}
