//go:build linux

package vfs

import (
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"
)

// LoopbackFS resolves paths against a real host directory, for cmd/diskimage
// to exercise the syscall layer's VFS-backed operations against ordinary
// files instead of requiring a second in-memory tree to stay in sync with
// whatever the tool actually wrote to disk. Grounded on the same
// golang.org/x/sys/unix reach-for-raw-stat habit usbarmory-tamago and
// bobuhiro11-gokvm both show wherever Go code needs real OS inode/device
// numbers instead of synthesizing them (internal/dma's HostProvider is the
// sibling case for physical addresses instead of inode numbers).
type LoopbackFS struct {
	mu   sync.Mutex
	root string
	byIno map[uint64]string
}

// NewLoopbackFS roots a LoopbackFS at dir, which must already exist.
func NewLoopbackFS(dir string) (*LoopbackFS, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	fs := &LoopbackFS{root: abs, byIno: make(map[uint64]string)}
	var st unix.Stat_t
	if err := unix.Stat(abs, &st); err != nil {
		return nil, err
	}
	fs.byIno[st.Ino] = abs
	return fs, nil
}

func (fs *LoopbackFS) hostPath(p string) string {
	return filepath.Join(fs.root, filepath.Clean("/"+p))
}

// Resolve implements FS.
func (fs *LoopbackFS) Resolve(p string) (uint64, error) {
	hp := fs.hostPath(p)
	var st unix.Stat_t
	if err := unix.Stat(hp, &st); err != nil {
		if os.IsNotExist(err) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	fs.mu.Lock()
	fs.byIno[st.Ino] = hp
	fs.mu.Unlock()
	return st.Ino, nil
}

func (fs *LoopbackFS) pathFor(ino uint64) (string, error) {
	fs.mu.Lock()
	p, ok := fs.byIno[ino]
	fs.mu.Unlock()
	if !ok {
		return "", ErrNotFound
	}
	return p, nil
}

// Stat implements FS, translating a real unix.Stat_t into spec.md §6.6's
// 13-field layout.
func (fs *LoopbackFS) Stat(ino uint64) (Stat, error) {
	p, err := fs.pathFor(ino)
	if err != nil {
		return Stat{}, err
	}
	var st unix.Stat_t
	if err := unix.Stat(p, &st); err != nil {
		return Stat{}, err
	}
	return Stat{
		Dev:     uint64(st.Dev),
		Ino:     st.Ino,
		Mode:    st.Mode,
		Nlink:   uint64(st.Nlink),
		UID:     uint64(st.Uid),
		GID:     uint64(st.Gid),
		Rdev:    uint64(st.Rdev),
		Size:    uint64(st.Size),
		Blksize: uint64(st.Blksize),
		Blocks:  uint64(st.Blocks),
		Atime:   st.Atim.Sec,
		Mtime:   st.Mtim.Sec,
		Ctime:   st.Ctim.Sec,
	}, nil
}

// ReadDir implements FS.
func (fs *LoopbackFS) ReadDir(ino uint64) ([]DirEntry, error) {
	p, err := fs.pathFor(ino)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(p)
	if err != nil {
		return nil, err
	}
	out := make([]DirEntry, 0, len(entries))
	for _, e := range entries {
		childPath := filepath.Join(p, e.Name())
		var st unix.Stat_t
		if err := unix.Stat(childPath, &st); err != nil {
			continue
		}
		fs.mu.Lock()
		fs.byIno[st.Ino] = childPath
		fs.mu.Unlock()
		out = append(out, DirEntry{Ino: st.Ino, Name: e.Name(), Type: DirType(st.Mode)})
	}
	return out, nil
}

// ReadAt implements FS.
func (fs *LoopbackFS) ReadAt(ino uint64, off int64, buf []byte) (int, error) {
	p, err := fs.pathFor(ino)
	if err != nil {
		return 0, err
	}
	f, err := os.Open(p)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	n, err := f.ReadAt(buf, off)
	if n > 0 {
		return n, nil
	}
	return n, err
}

// Unlink implements FS.
func (fs *LoopbackFS) Unlink(p string) error {
	return os.Remove(fs.hostPath(p))
}

// Rmdir implements FS.
func (fs *LoopbackFS) Rmdir(p string) error {
	return os.Remove(fs.hostPath(p))
}

// Mkdir implements FS.
func (fs *LoopbackFS) Mkdir(p string, mode uint32) error {
	return os.Mkdir(fs.hostPath(p), os.FileMode(mode&0o777))
}
