// Package syscall implements components C9 (dispatcher) and C10 (handlers):
// a fixed-size table indexed by syscall number, and the per-number
// handlers (41 of the 67 numbers are registered) that turn a six-register argument record into VFS, process,
// FD, and memory operations. Grounded on the teacher's own SyscallXxx
// function family (mazboot/golang/main/syscall.go), generalized from
// individually-typed Go functions called by name into a single Handler
// signature stored in a table, the way spec.md §4.4 describes ("a fixed
// array of optional function pointers keyed by syscall number").
package syscall

import (
	"io"
	"unicode/utf8"
	"unsafe"

	"vqkernel/internal/debugcon"
	"vqkernel/internal/errs"
	"vqkernel/internal/process"
	"vqkernel/internal/vfs"
)

// NumSyscalls is the table size (spec.md §4.4: "67 slots").
const NumSyscalls = 67

// Args is the six-register argument record populated from the syscall
// entry trampoline (spec.md §3).
type Args struct {
	A0, A1, A2, A3, A4, A5 uint64
}

// Context is everything a handler needs beyond its own arguments: the
// process table, the VFS, and the debug console. It is passed by the
// dispatcher on every call rather than stored in package globals so tests
// can construct an isolated Context per case instead of sharing mutable
// package state (spec.md §9 "process-wide state with init-once semantics"
// still holds for production wiring — cmd/kernel builds exactly one
// Context at boot and reuses it for every trampoline entry).
type Context struct {
	Procs   *process.Manager
	VFS     vfs.FS
	Console *debugcon.Console
	Stdin   io.Reader

	// NowMillis returns kernel uptime in milliseconds for gettimeofday;
	// cmd/kernel wires bootUptimeMillis, which returns 0, and tests supply
	// a fixed function.
	NowMillis func() uint64
}

// Handler is the signature every syscall number's implementation shares.
type Handler func(ctx *Context, args Args) errs.Result

// Table is the fixed-size dispatch table (C9).
type Table struct {
	handlers [NumSyscalls]Handler
}

// NewTable returns an empty table; Register fills in slots.
func NewTable() *Table { return &Table{} }

// Register installs h at syscall number num. It panics on an out-of-range
// num because that is a programming error at boot-registration time, not
// a runtime condition a caller needs to recover from — unlike Dispatch's
// own out-of-range handling, which is a normal, expected runtime case
// (P6) reachable from untrusted register contents.
func (t *Table) Register(num int, h Handler) {
	if num < 0 || num >= NumSyscalls {
		panic("syscall: Register: number out of range")
	}
	t.handlers[num] = h
}

// Dispatch looks up num and invokes its handler. Out-of-range numbers
// yield InvalidSyscall; unregistered in-range slots yield NotImplemented
// (P6: every number in [0, NumSyscalls) yields Success or a taxonomy Kind,
// never a panic or an out-of-enum value).
func (t *Table) Dispatch(ctx *Context, num int, args Args) errs.Result {
	if num < 0 || num >= NumSyscalls {
		return errs.Error(errs.InvalidSyscall)
	}
	h := t.handlers[num]
	if h == nil {
		return errs.Error(errs.NotImplemented)
	}
	return h(ctx, args)
}

// --- user-pointer / user-string helpers ---
//
// Handlers receive raw register values; non-zero ones are addresses in the
// current process's address space (paging protection is the external
// guarantor, per spec.md §4.5). These helpers implement the shared
// null-check-then-dereference discipline (P8) every pointer-accepting
// handler needs, mirroring the teacher's own `if mask == nil { return
// -22 }` pattern (syscall.go's SyscallSchedGetaffinity) generalized to a
// reusable helper instead of being repeated ad hoc per handler.

const (
	maxPathLen = 4096
	maxNameLen = 256
	maxValLen  = 4096
)

// userBytes returns a length-length byte slice over the user-space address
// addr, or nil if addr is 0. Production builds run ring-0 with a flat or
// identity-mapped address space for kernel-owned buffers, the same
// assumption the teacher's own unsafe.Pointer(uintptr) casts make.
func userBytes(addr uint64, length int) []byte {
	if addr == 0 || length <= 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(addr))), length)
}

// userString reads a NUL-terminated, valid-UTF-8 string from addr, capped
// at maxLen bytes (spec.md §4.5: "per-argument length cap"). Returns
// errs.BadAddress for a null pointer and errs.InvalidArgument for invalid
// UTF-8 or a missing NUL within the cap.
func userString(addr uint64, maxLen int) (string, *errs.Result) {
	if addr == 0 {
		r := errs.Error(errs.BadAddress)
		return "", &r
	}
	raw := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(addr))), maxLen)
	n := 0
	for n < maxLen && raw[n] != 0 {
		n++
	}
	if n == maxLen {
		r := errs.Error(errs.InvalidArgument)
		return "", &r
	}
	s := string(raw[:n])
	if !utf8.ValidString(s) {
		r := errs.Error(errs.InvalidArgument)
		return "", &r
	}
	return s, nil
}

// writeStatBytes marshals st into the 13 consecutive 8-byte fields of
// spec.md §6.6 starting at addr.
func writeStatBytes(addr uint64, st vfs.Stat) *errs.Result {
	buf := userBytes(addr, 13*8)
	if buf == nil {
		r := errs.Error(errs.BadAddress)
		return &r
	}
	fields := []uint64{
		st.Dev, st.Ino, uint64(st.Mode), st.Nlink, st.UID, st.GID, st.Rdev,
		st.Size, st.Blksize, st.Blocks,
		uint64(st.Atime), uint64(st.Mtime), uint64(st.Ctime),
	}
	for i, v := range fields {
		putU64(buf[i*8:], v)
	}
	return nil
}

func putU64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func getU64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}

func putU32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func putU16(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}

// roundUp4K rounds n up to the next 4 KiB boundary (mmap's "rounds len up
// to 4 KiB", spec.md §4.5).
func roundUp4K(n uint64) uint64 {
	const page = 4096
	return (n + page - 1) &^ (page - 1)
}

// mapVFSErr translates a vfs package error into the syscall taxonomy.
func mapVFSErr(err error) errs.Kind {
	switch err {
	case vfs.ErrNotFound:
		return errs.FileNotFound
	case vfs.ErrNotADirectory:
		return errs.NotADirectory
	case vfs.ErrIsADirectory:
		return errs.IsADirectory
	case vfs.ErrReadOnly:
		return errs.InvalidOperation
	default:
		return errs.DeviceError
	}
}
