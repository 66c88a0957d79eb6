// Package vfs implements component C7: path resolution to inode numbers,
// stat/readdir/unlink/rmdir, plus (SPEC_FULL's resolution of Open Question
// Q1) a ReadAt method so regular-file reads can be wired all the way
// through the syscall layer instead of being rejected. The interface is
// consumed, not implemented, by the syscall handlers — this package also
// ships the two concrete FS values this repo needs: an in-memory tree for
// the ring-0 core/tests, and a loopback host-directory FS for
// cmd/diskimage, grounded on usbarmory-tamago and bobuhiro11-gokvm's shared
// habit of reaching for golang.org/x/sys/unix wherever Go code needs a real
// OS's raw stat/inode fields instead of synthesizing them.
package vfs

import "errors"

// Mode bits this repo cares about (Linux st_mode upper nibble, spec.md §6.6).
const (
	ModeDir  uint32 = 0o040000
	ModeReg  uint32 = 0o100000
	ModeChr  uint32 = 0o020000
	ModeFIFO uint32 = 0o010000
)

var (
	ErrNotFound      = errors.New("vfs: path not found")
	ErrNotADirectory = errors.New("vfs: not a directory")
	ErrIsADirectory  = errors.New("vfs: is a directory")
	ErrReadOnly      = errors.New("vfs: backend is read-only")
)

// Stat mirrors the 13-field Linux stat layout of spec.md §6.6.
type Stat struct {
	Dev     uint64
	Ino     uint64
	Mode    uint32
	Nlink   uint64
	UID     uint64
	GID     uint64
	Rdev    uint64
	Size    uint64
	Blksize uint64
	Blocks  uint64
	Atime   int64
	Mtime   int64
	Ctime   int64
}

// DirEntry is one entry from ReadDir, the source data for a getdents
// linux_dirent64 record (spec.md §6.7).
type DirEntry struct {
	Ino  uint64
	Name string
	// Type is the d_type nibble: ModeDir>>12 style DT_* constant, not the
	// full mode; handlers only need enough to fill d_type.
	Type uint8
}

// FS is the VFS interface the syscall handlers consume.
type FS interface {
	// Resolve walks path from the root, returning its inode number.
	Resolve(path string) (ino uint64, err error)

	// Stat returns full metadata for ino.
	Stat(ino uint64) (Stat, error)

	// ReadDir lists ino's children; ino must be a directory.
	ReadDir(ino uint64) ([]DirEntry, error)

	// ReadAt reads up to len(buf) bytes from ino starting at byte offset off,
	// the Q1 resolution wiring regular-file syscall reads through to the
	// backing store.
	ReadAt(ino uint64, off int64, buf []byte) (int, error)

	// Unlink removes a non-directory entry at path.
	Unlink(path string) error

	// Rmdir removes an empty directory entry at path.
	Rmdir(path string) error

	// Mkdir simulates directory creation (spec.md §4.5: "currently
	// simulates success" for read-only backends); a writable backend may
	// actually create the entry.
	Mkdir(path string, mode uint32) error
}

// DirType maps a mode to the DT_* nibble getdents needs.
func DirType(mode uint32) uint8 {
	switch mode & 0o170000 {
	case ModeDir:
		return 4 // DT_DIR
	case ModeChr:
		return 2 // DT_CHR
	case ModeFIFO:
		return 1 // DT_FIFO
	default:
		return 8 // DT_REG
	}
}
