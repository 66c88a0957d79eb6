package vfs

import (
	"path"
	"sort"
	"strings"
	"sync"
)

// node is one MemFS inode.
type node struct {
	ino      uint64
	mode     uint32
	data     []byte
	children map[string]uint64 // only meaningful for directories
}

// MemFS is a small in-memory filesystem: everything the ring-0 core and
// its tests need to exercise path resolution, stat, readdir, and the Q1
// regular-file read path without depending on any real storage, the way a
// kernel's early-boot initramfs-equivalent would be entirely RAM-resident.
type MemFS struct {
	mu       sync.Mutex
	nodes    map[uint64]*node
	nextIno  uint64
	readOnly bool
}

// NewMemFS returns an empty filesystem containing just the root directory
// (inode 1, matching the conventional Unix root inode number).
func NewMemFS(readOnly bool) *MemFS {
	fs := &MemFS{nodes: make(map[uint64]*node), nextIno: 2, readOnly: readOnly}
	fs.nodes[1] = &node{ino: 1, mode: ModeDir | 0o755, children: map[string]uint64{}}
	return fs
}

func clean(p string) string {
	p = path.Clean("/" + p)
	return p
}

// walk resolves p's parent directory node and final path component,
// without requiring the final component to exist (callers needing an
// existing leaf call Resolve and then look it up by ino).
func (fs *MemFS) walk(p string) (dir *node, name string, err error) {
	p = clean(p)
	if p == "/" {
		return nil, "", ErrIsADirectory
	}
	parts := strings.Split(strings.TrimPrefix(p, "/"), "/")
	cur := fs.nodes[1]
	for _, part := range parts[:len(parts)-1] {
		childIno, ok := cur.children[part]
		if !ok {
			return nil, "", ErrNotFound
		}
		cur = fs.nodes[childIno]
		if cur.mode&0o170000 != ModeDir {
			return nil, "", ErrNotADirectory
		}
	}
	return cur, parts[len(parts)-1], nil
}

// Resolve implements FS.
func (fs *MemFS) Resolve(p string) (uint64, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	p = clean(p)
	if p == "/" {
		return 1, nil
	}
	dir, name, err := fs.walk(p)
	if err != nil {
		return 0, err
	}
	ino, ok := dir.children[name]
	if !ok {
		return 0, ErrNotFound
	}
	return ino, nil
}

// Stat implements FS.
func (fs *MemFS) Stat(ino uint64) (Stat, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n, ok := fs.nodes[ino]
	if !ok {
		return Stat{}, ErrNotFound
	}
	return statFromNode(n), nil
}

func statFromNode(n *node) Stat {
	size := uint64(len(n.data))
	return Stat{
		Dev:     1,
		Ino:     n.ino,
		Mode:    n.mode,
		Nlink:   1,
		Size:    size,
		Blksize: 4096,
		Blocks:  (size + 511) / 512,
	}
}

// ReadDir implements FS.
func (fs *MemFS) ReadDir(ino uint64) ([]DirEntry, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n, ok := fs.nodes[ino]
	if !ok {
		return nil, ErrNotFound
	}
	if n.mode&0o170000 != ModeDir {
		return nil, ErrNotADirectory
	}
	entries := make([]DirEntry, 0, len(n.children))
	for name, childIno := range n.children {
		child := fs.nodes[childIno]
		entries = append(entries, DirEntry{Ino: childIno, Name: name, Type: DirType(child.mode)})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// ReadAt implements FS (Q1 resolution).
func (fs *MemFS) ReadAt(ino uint64, off int64, buf []byte) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n, ok := fs.nodes[ino]
	if !ok {
		return 0, ErrNotFound
	}
	if n.mode&0o170000 == ModeDir {
		return 0, ErrIsADirectory
	}
	if off < 0 || off >= int64(len(n.data)) {
		return 0, nil
	}
	return copy(buf, n.data[off:]), nil
}

// Unlink implements FS.
func (fs *MemFS) Unlink(p string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.readOnly {
		return ErrReadOnly
	}
	dir, name, err := fs.walk(p)
	if err != nil {
		return err
	}
	ino, ok := dir.children[name]
	if !ok {
		return ErrNotFound
	}
	if fs.nodes[ino].mode&0o170000 == ModeDir {
		return ErrIsADirectory
	}
	delete(dir.children, name)
	delete(fs.nodes, ino)
	return nil
}

// Rmdir implements FS.
func (fs *MemFS) Rmdir(p string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.readOnly {
		return ErrReadOnly
	}
	dir, name, err := fs.walk(p)
	if err != nil {
		return err
	}
	ino, ok := dir.children[name]
	if !ok {
		return ErrNotFound
	}
	target := fs.nodes[ino]
	if target.mode&0o170000 != ModeDir {
		return ErrNotADirectory
	}
	if len(target.children) != 0 {
		return ErrReadOnly // reuse as a stand-in for ENOTEMPTY; not in the closed taxonomy
	}
	delete(dir.children, name)
	delete(fs.nodes, ino)
	return nil
}

// Mkdir implements FS. Per spec.md §4.5, a read-only backend "currently
// simulates success"; MemFS is writable, so it actually creates the entry.
func (fs *MemFS) Mkdir(p string, mode uint32) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.readOnly {
		return nil // simulated success, matching the read-only-backend spec note
	}
	dir, name, err := fs.walk(p)
	if err != nil {
		return err
	}
	if _, exists := dir.children[name]; exists {
		return nil
	}
	ino := fs.nextIno
	fs.nextIno++
	fs.nodes[ino] = &node{ino: ino, mode: ModeDir | (mode &^ 0o170000), children: map[string]uint64{}}
	dir.children[name] = ino
	return nil
}

// PutFile is a MemFS-only helper (not part of FS) for tests and boot-time
// seeding: creates path as a regular file with the given content.
func (fs *MemFS) PutFile(p string, data []byte, mode uint32) (uint64, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	dir, name, err := fs.walk(p)
	if err != nil {
		return 0, err
	}
	ino := fs.nextIno
	fs.nextIno++
	fs.nodes[ino] = &node{ino: ino, mode: ModeReg | (mode &^ 0o170000), data: append([]byte(nil), data...)}
	dir.children[name] = ino
	return ino, nil
}
