package fdtable

import "testing"

func TestNewHasStdio(t *testing.T) {
	tbl := New()
	for fd, want := range map[int]Kind{Stdin: KindStdin, Stdout: KindStdout, Stderr: KindStderr} {
		d, err := tbl.Get(fd)
		if err != nil {
			t.Fatalf("Get(%d): %v", fd, err)
		}
		if d.Kind != want {
			t.Fatalf("fd %d Kind = %v, want %v", fd, d.Kind, want)
		}
	}
}

func TestAllocSkipsStdioAndReusesClosedSlots(t *testing.T) {
	tbl := New()

	fd1, err := tbl.Alloc(&Descriptor{Kind: KindFile, Path: "a"})
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if fd1 < 3 {
		t.Fatalf("Alloc returned reserved stdio fd %d", fd1)
	}

	if err := tbl.Close(fd1); err != nil {
		t.Fatalf("Close: %v", err)
	}

	fd2, err := tbl.Alloc(&Descriptor{Kind: KindFile, Path: "b"})
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if fd2 != fd1 {
		t.Fatalf("Alloc did not reuse freed slot: got %d, want %d", fd2, fd1)
	}
}

func TestAllocExhaustion(t *testing.T) {
	tbl := New()
	for i := 3; i < MaxFDs; i++ {
		if _, err := tbl.Alloc(&Descriptor{Kind: KindFile}); err != nil {
			t.Fatalf("Alloc(%d): %v", i, err)
		}
	}
	if _, err := tbl.Alloc(&Descriptor{Kind: KindFile}); err != ErrTooManyOpenFiles {
		t.Fatalf("Alloc past capacity = %v, want ErrTooManyOpenFiles", err)
	}
}

func TestDup2ClosesExistingTarget(t *testing.T) {
	tbl := New()
	fd, _ := tbl.Alloc(&Descriptor{Kind: KindFile, Path: "src"})

	if err := tbl.Dup2(fd, Stdout); err != nil {
		t.Fatalf("Dup2: %v", err)
	}
	d, err := tbl.Get(Stdout)
	if err != nil {
		t.Fatalf("Get(Stdout): %v", err)
	}
	if d.Kind != KindFile || d.Path != "src" {
		t.Fatalf("Stdout after Dup2 = %+v", d)
	}
}

func TestDupAllocatesNewLowestSlot(t *testing.T) {
	tbl := New()
	fd, _ := tbl.Alloc(&Descriptor{Kind: KindFile, Path: "src"})

	dupFd, err := tbl.Dup(fd)
	if err != nil {
		t.Fatalf("Dup: %v", err)
	}
	if dupFd == fd {
		t.Fatal("Dup returned the same fd")
	}
	d, err := tbl.Get(dupFd)
	if err != nil || d.Path != "src" {
		t.Fatalf("Get(dupFd) = (%+v, %v)", d, err)
	}
}

func TestCloseBadFD(t *testing.T) {
	tbl := New()
	if err := tbl.Close(99); err != ErrBadFD {
		t.Fatalf("Close(99) = %v, want ErrBadFD", err)
	}
}

// TestPipeFIFO is P10: bytes written in order come out in that order.
func TestPipeFIFO(t *testing.T) {
	p := NewPipe()
	p.Write([]byte("W1"))
	p.Write([]byte("W2"))

	got := make([]byte, 2)
	if n := p.Read(got); n != 2 || string(got) != "W1" {
		t.Fatalf("first Read = %q (%d), want W1", got[:n], n)
	}
	if n := p.Read(got); n != 2 || string(got) != "W2" {
		t.Fatalf("second Read = %q (%d), want W2", got[:n], n)
	}
	if n := p.Read(got); n != 0 {
		t.Fatalf("Read on drained pipe = %d, want 0", n)
	}
}
