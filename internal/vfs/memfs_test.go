package vfs

import "testing"

func TestResolveRoot(t *testing.T) {
	fs := NewMemFS(false)
	ino, err := fs.Resolve("/")
	if err != nil || ino != 1 {
		t.Fatalf("Resolve(/) = (%d, %v), want (1, nil)", ino, err)
	}
}

func TestPutFileResolveStatReadAt(t *testing.T) {
	fs := NewMemFS(false)
	content := []byte("hello world")
	ino, err := fs.PutFile("/greeting.txt", content, 0o644)
	if err != nil {
		t.Fatalf("PutFile: %v", err)
	}

	gotIno, err := fs.Resolve("/greeting.txt")
	if err != nil || gotIno != ino {
		t.Fatalf("Resolve = (%d, %v), want (%d, nil)", gotIno, err, ino)
	}

	st, err := fs.Stat(ino)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if st.Mode&0o170000 != ModeReg || st.Size != uint64(len(content)) {
		t.Fatalf("Stat = %+v", st)
	}

	buf := make([]byte, 5)
	n, err := fs.ReadAt(ino, 6, buf)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if n != 5 || string(buf) != "world" {
		t.Fatalf("ReadAt = %q (%d), want world", buf[:n], n)
	}
}

func TestReadAtPastEOFReturnsZero(t *testing.T) {
	fs := NewMemFS(false)
	ino, _ := fs.PutFile("/f", []byte("abc"), 0o644)
	buf := make([]byte, 4)
	n, err := fs.ReadAt(ino, 10, buf)
	if err != nil || n != 0 {
		t.Fatalf("ReadAt past EOF = (%d, %v), want (0, nil)", n, err)
	}
}

func TestReadDirListsChildrenSorted(t *testing.T) {
	fs := NewMemFS(false)
	fs.Mkdir("/dir", 0o755)
	fs.PutFile("/dir/b.txt", []byte("b"), 0o644)
	fs.PutFile("/dir/a.txt", []byte("a"), 0o644)

	dirIno, err := fs.Resolve("/dir")
	if err != nil {
		t.Fatalf("Resolve(/dir): %v", err)
	}
	entries, err := fs.ReadDir(dirIno)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 2 || entries[0].Name != "a.txt" || entries[1].Name != "b.txt" {
		t.Fatalf("ReadDir = %+v", entries)
	}
}

func TestUnlinkRemovesFileNotDirectory(t *testing.T) {
	fs := NewMemFS(false)
	fs.PutFile("/f", []byte("x"), 0o644)
	fs.Mkdir("/d", 0o755)

	if err := fs.Unlink("/d"); err != ErrIsADirectory {
		t.Fatalf("Unlink(dir) = %v, want ErrIsADirectory", err)
	}
	if err := fs.Unlink("/f"); err != nil {
		t.Fatalf("Unlink(file): %v", err)
	}
	if _, err := fs.Resolve("/f"); err != ErrNotFound {
		t.Fatalf("Resolve after Unlink = %v, want ErrNotFound", err)
	}
}

func TestReadOnlyBackendRejectsMutation(t *testing.T) {
	fs := NewMemFS(true)
	if err := fs.Unlink("/nonexistent"); err != ErrReadOnly {
		t.Fatalf("Unlink on read-only fs = %v, want ErrReadOnly", err)
	}
	if err := fs.Mkdir("/newdir", 0o755); err != nil {
		t.Fatalf("Mkdir on read-only fs should simulate success, got %v", err)
	}
	if _, err := fs.Resolve("/newdir"); err != ErrNotFound {
		t.Fatal("Mkdir on read-only fs must not actually create the entry")
	}
}
