package cache

import (
	"testing"

	"github.com/stretchr/testify/require"

	"vmpager/blockdev"
)

func fullSector(b byte) []byte {
	d := make([]byte, blockdev.SectorSize)
	for i := range d {
		d[i] = b
	}
	return d
}

func TestReadWriteRoundTrip(t *testing.T) {
	dev := blockdev.NewMemory(200)
	c := New(dev)

	c.Write(7, fullSector('X'))
	dst := make([]byte, blockdev.SectorSize)
	c.Read(7, dst)
	require.Equal(t, fullSector('X'), dst)
}

// S5: a write to sector 7 survives being evicted by cache pressure, and
// reaches the underlying device.
func TestWriteBackOnEviction(t *testing.T) {
	dev := blockdev.NewMemory(400)
	c := New(dev)

	c.Write(7, fullSector('X'))

	// Force pressure: touch more distinct sectors than the cache holds.
	scratch := make([]byte, blockdev.SectorSize)
	for s := 100; s < 100+2*Capacity+10; s++ {
		c.Read(blockdev.Sector(s), scratch)
	}

	onDevice := make([]byte, blockdev.SectorSize)
	require.NoError(t, dev.Read(7, onDevice))
	require.Equal(t, fullSector('X'), onDevice)
}

// Property 3: directory consistency — every directory key maps to a slot
// actually holding that sector.
func TestDirectoryConsistency(t *testing.T) {
	dev := blockdev.NewMemory(200)
	c := New(dev)

	scratch := make([]byte, blockdev.SectorSize)
	for s := 0; s < 40; s++ {
		c.Read(blockdev.Sector(s), scratch)
	}

	c.dirMu.Lock()
	for sector, s := range c.dir {
		s.mu.Lock()
		require.True(t, s.occupied)
		require.Equal(t, sector, s.sector)
		s.mu.Unlock()
	}
	c.dirMu.Unlock()
}

// Property 10: a read exactly filling the remainder of a sector must not
// touch the next sector.
func TestBoundaryReadDoesNotTouchNextSector(t *testing.T) {
	dev := blockdev.NewMemory(10)
	c := New(dev)
	c.Write(0, fullSector('A'))
	c.Write(1, fullSector('B'))

	n := blockdev.SectorSize - 10
	dst := make([]byte, n)
	c.ReadBytes(0, 10, n, dst)
	require.Equal(t, fullSector('A')[10:], dst)

	// sector 1 must be untouched
	full := make([]byte, blockdev.SectorSize)
	c.Read(1, full)
	require.Equal(t, fullSector('B'), full)
}

func TestFlushWritesAllDirtySlots(t *testing.T) {
	dev := blockdev.NewMemory(10)
	c := New(dev)
	c.Write(0, fullSector('A'))
	c.Write(1, fullSector('B'))
	c.Flush()

	for s, want := range map[blockdev.Sector]byte{0: 'A', 1: 'B'} {
		got := make([]byte, blockdev.SectorSize)
		require.NoError(t, dev.Read(s, got))
		require.Equal(t, fullSector(want), got)
	}
}
