package swap

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"vmpager/blockdev"
)

const pageSize = 4096

func pattern(b byte) []byte {
	p := make([]byte, pageSize)
	for i := range p {
		p[i] = b
	}
	return p
}

func TestReserveWriteReadRoundTrip(t *testing.T) {
	dev := blockdev.NewMemory(32 * (pageSize / blockdev.SectorSize))
	area := New(dev, pageSize)

	a := pattern('A')
	slot, err := area.ReserveAndWrite(a)
	require.NoError(t, err)

	dst := make([]byte, pageSize)
	require.NoError(t, area.ReadAndFree(slot, dst))
	require.True(t, bytes.Equal(a, dst))
}

func TestDiscardDoesNotRead(t *testing.T) {
	dev := blockdev.NewMemory(4 * (pageSize / blockdev.SectorSize))
	area := New(dev, pageSize)

	slot, err := area.ReserveAndWrite(pattern('B'))
	require.NoError(t, err)
	area.Discard(slot)
	// slot must be reusable after discard
	slot2, err := area.ReserveAndWrite(pattern('C'))
	require.NoError(t, err)
	require.Equal(t, slot, slot2)
}

func TestDoubleFreePanics(t *testing.T) {
	dev := blockdev.NewMemory(4 * (pageSize / blockdev.SectorSize))
	area := New(dev, pageSize)
	slot, err := area.ReserveAndWrite(pattern('D'))
	require.NoError(t, err)
	area.Discard(slot)
	require.Panics(t, func() { area.Discard(slot) })
}

// Property 11: swap exhaustion panics at the ReserveAndWrite call itself.
func TestExhaustionPanicsImmediately(t *testing.T) {
	dev := blockdev.NewMemory(1 * (pageSize / blockdev.SectorSize))
	area := New(dev, pageSize)
	require.Equal(t, 1, area.Slots())
	_, err := area.ReserveAndWrite(pattern('E'))
	require.NoError(t, err)
	require.Panics(t, func() { area.ReserveAndWrite(pattern('F')) })
}

// Property 2: swap bijection — a busy slot is exclusively owned.
func TestBijection(t *testing.T) {
	dev := blockdev.NewMemory(8 * (pageSize / blockdev.SectorSize))
	area := New(dev, pageSize)
	s1, err := area.ReserveAndWrite(pattern('G'))
	require.NoError(t, err)
	s2, err := area.ReserveAndWrite(pattern('H'))
	require.NoError(t, err)
	require.NotEqual(t, s1, s2)
}

// An area over a zero-sector device has no slots, so the first
// ReserveAndWrite is out-of-swap and panics rather than reporting a
// device error.
func TestZeroSlotAreaPanicsAsOutOfSwap(t *testing.T) {
	dev := blockdev.NewMemory(0)
	area := New(dev, pageSize)
	require.Equal(t, 0, area.Slots())
	require.Panics(t, func() { area.ReserveAndWrite(pattern('I')) }, "zero slots is out-of-swap, not a device error")
}

type failingDevice struct {
	*blockdev.Memory
	failAfter int
	writes    int
}

func (f *failingDevice) Write(s blockdev.Sector, src []byte) error {
	f.writes++
	if f.writes > f.failAfter {
		return bytes.ErrTooLarge
	}
	return f.Memory.Write(s, src)
}

// A block device failure during write propagates to the caller instead
// of panicking, and the slot it was written to is freed again.
func TestDeviceWriteErrorPropagatesAndFreesSlot(t *testing.T) {
	dev := &failingDevice{Memory: blockdev.NewMemory(8 * (pageSize / blockdev.SectorSize)), failAfter: 0}
	area := New(dev, pageSize)

	_, err := area.ReserveAndWrite(pattern('J'))
	require.Error(t, err)
	require.Equal(t, 8, countFree(area))
}

func countFree(a *Area) int {
	n := 0
	for _, f := range a.free {
		if f {
			n++
		}
	}
	return n
}
