// Package vfile defines the File boundary the supplemental page table
// reads from and writes to when materializing file-backed pages (spec
// §6's "File interface"), plus concrete implementations used by tests
// and the demonstration CLI.
//
// Grounded on biscuit/src/vm/as.go's mmap plumbing (an mmap'd segment
// holds a *fs.Inode_t and reads through the buffer cache) and Pintos's
// file_reopen, which hands every mapper an independent cursor over the
// same underlying inode so one mapping's close cannot yank the file out
// from under another.
package vfile

import "github.com/google/uuid"

// File is one open, independently-cursored view of file content. Each
// page of a file mapping gets its own handle via Reopen and closes it
// independently on uninstall (spec §5's open-handle ownership policy).
// The pages of a segment share the caller's handle and never close it.
type File interface {
	// Length reports the file's size in bytes.
	Length() int64

	// ReadAt reads len(dst) bytes starting at offset. It behaves like
	// io.ReaderAt: a short read always comes with a non-nil error
	// (io.EOF at end of file).
	ReadAt(dst []byte, offset int64) (int, error)

	// WriteAt writes len(src) bytes starting at offset.
	WriteAt(src []byte, offset int64) (int, error)

	// Reopen returns an independent handle over the same underlying
	// file, with its own lifetime.
	Reopen() (File, error)

	// Close releases this handle. It must not affect any other handle
	// obtained via Reopen.
	Close() error
}

// Handle is the registry bookkeeping record for one open File view: its
// uuid (for log correlation and use-after-close detection, spec §4.D)
// alongside the File value itself.
type Handle struct {
	id   uuid.UUID
	file File
}

// ID returns the handle's unique identifier.
func (h *Handle) ID() uuid.UUID { return h.id }

// File returns the underlying File view this handle names.
func (h *Handle) File() File { return h.file }
