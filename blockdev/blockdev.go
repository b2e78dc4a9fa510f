// Package blockdev defines the block device boundary interface the page
// manager's swap area and the filesystem's buffer cache both sit on top
// of (spec §6), plus two reference implementations: an in-memory device
// for tests and an os.File-backed device for the demo CLI.
//
// Grounded on biscuit/src/fs/blk.go's Disk_i interface and 512-byte
// sector convention.
package blockdev

import (
	"os"
	"sync"

	"github.com/pkg/errors"
)

// SectorSize is the fixed block-device sector size in bytes, per spec §6.
const SectorSize = 512

// Sector addresses one fixed-size unit on a Device.
type Sector int

// Device is the external block device contract: a fixed number of
// SectorSize-byte sectors, read and written whole.
type Device interface {
	SectorCount() int
	Read(s Sector, dst []byte) error
	Write(s Sector, src []byte) error
}

// Memory is an in-RAM Device, used by default for tests and for the swap
// area unless a file-backed device is requested.
type Memory struct {
	mu      sync.Mutex
	sectors [][SectorSize]byte
}

// NewMemory allocates an in-RAM device with n sectors.
func NewMemory(n int) *Memory {
	return &Memory{sectors: make([][SectorSize]byte, n)}
}

func (m *Memory) SectorCount() int { return len(m.sectors) }

func (m *Memory) Read(s Sector, dst []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(s); err != nil {
		return err
	}
	copy(dst, m.sectors[s][:])
	return nil
}

func (m *Memory) Write(s Sector, src []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(s); err != nil {
		return err
	}
	copy(m.sectors[s][:], src)
	return nil
}

func (m *Memory) check(s Sector) error {
	if s < 0 || int(s) >= len(m.sectors) {
		return errors.Errorf("blockdev: sector %d out of range [0,%d)", s, len(m.sectors))
	}
	return nil
}

// File is an os.File-backed Device, used by the demo CLI so a run leaves
// an inspectable swap/filesystem image on disk.
type File struct {
	mu sync.Mutex
	f  *os.File
	n  int
}

// OpenFile opens (creating if necessary) path as a Device with n sectors.
func OpenFile(path string, n int) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, errors.Wrapf(err, "blockdev: open %s", path)
	}
	size := int64(n) * SectorSize
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "blockdev: truncate %s", path)
	}
	return &File{f: f, n: n}, nil
}

func (d *File) SectorCount() int { return d.n }

func (d *File) Read(s Sector, dst []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s < 0 || int(s) >= d.n {
		return errors.Errorf("blockdev: sector %d out of range [0,%d)", s, d.n)
	}
	if _, err := d.f.ReadAt(dst[:SectorSize], int64(s)*SectorSize); err != nil {
		return errors.Wrapf(err, "blockdev: read sector %d", s)
	}
	return nil
}

func (d *File) Write(s Sector, src []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s < 0 || int(s) >= d.n {
		return errors.Errorf("blockdev: sector %d out of range [0,%d)", s, d.n)
	}
	if _, err := d.f.WriteAt(src[:SectorSize], int64(s)*SectorSize); err != nil {
		return errors.Wrapf(err, "blockdev: write sector %d", s)
	}
	return nil
}

// Close releases the underlying OS file handle.
func (d *File) Close() error {
	return d.f.Close()
}
