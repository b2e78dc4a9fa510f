package vfile

import (
	"os"

	"github.com/pkg/errors"

	"github.com/google/uuid"
)

// OSFile is a File implementation backed by a real on-disk file, used by
// cmd/vmpagerd so a demo run leaves an inspectable filesystem image. Each
// Reopen opens an independent *os.File over the same path, matching
// Pintos's file_reopen: two handles over the same inode never share a
// cursor, and closing one cannot affect the other's reads or writes.
type OSFile struct {
	id   uuid.UUID
	path string
	f    *os.File
}

// OpenOSFile opens path and registers the resulting handle.
func OpenOSFile(path string) (*OSFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "vfile: open %s", path)
	}
	return newOSFileHandle(path, f), nil
}

func newOSFileHandle(path string, f *os.File) *OSFile {
	h := &OSFile{id: uuid.New(), path: path, f: f}
	defaultRegistry.put(h.id, &Handle{id: h.id, file: h})
	return h
}

func (f *OSFile) Length() int64 {
	info, err := f.f.Stat()
	if err != nil {
		panic(errors.Wrapf(err, "vfile: stat %s", f.path))
	}
	return info.Size()
}

func (f *OSFile) ReadAt(dst []byte, offset int64) (int, error) {
	return f.f.ReadAt(dst, offset)
}

func (f *OSFile) WriteAt(src []byte, offset int64) (int, error) {
	return f.f.WriteAt(src, offset)
}

func (f *OSFile) Reopen() (File, error) {
	g, err := os.OpenFile(f.path, os.O_RDWR, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "vfile: reopen %s", f.path)
	}
	return newOSFileHandle(f.path, g), nil
}

func (f *OSFile) Close() error {
	defaultRegistry.delete(f.id)
	return f.f.Close()
}

// ID returns the handle's unique identifier, for log correlation.
func (f *OSFile) ID() uuid.UUID { return f.id }
