// Package process implements component C8: the process table, current-
// process pointer, fork/exec, working directory, environment, pending
// signals, and heap break, plus (SPEC_FULL's resolution of Open Questions
// Q3/Q4) an mmap-span table so mmap(MAP_FIXED) and munmap have something
// real to check against instead of accepting or ignoring every address.
// Grounded on the teacher's own integer-indexed, mutex-guarded global
// tables (mazboot's device-list singletons in virtio_rng.go/syscall.go),
// generalized from "one global device list" to "one global process table",
// per spec.md §9's "cyclic structures: use a process table indexed by
// integer PID; parent_pid is an index, never an owning pointer."
package process

import (
	"errors"
	"sync"

	"vqkernel/internal/fdtable"
)

// State is a process's lifecycle stage.
type State int

const (
	Running State = iota
	Zombie
	Reaped
)

// Span is one [Addr, Addr+Len) mmap reservation (Q3/Q4).
type Span struct {
	Addr uint64
	Len  uint64
}

func (s Span) contains(addr, length uint64) bool {
	return addr >= s.Addr && addr+length <= s.Addr+s.Len
}

// Process is one process-table entry.
type Process struct {
	PID       int
	ParentPID int // 0 for the init/root process
	State     State
	ExitCode  int

	Cwd string
	Env map[string]string

	// PendingSignals has bit (sig mod 32) set per spec.md §4.5's kill().
	PendingSignals uint32

	HeapStart uint64
	HeapBreak uint64
	HeapLimit uint64

	// MMapSpans are anonymous regions reserved by mmap, consulted by
	// MAP_FIXED requests (Q3) and removed by munmap (Q4).
	MMapSpans []Span

	FDs *fdtable.Table
}

var (
	ErrNoSuchProcess = errors.New("process: no such pid")
	ErrNoChildren    = errors.New("process: no terminated children")
)

// Manager is the process table: spec.md §9's "process-wide state with
// init-once semantics and a mutex-guarded interior."
type Manager struct {
	mu      sync.Mutex
	procs   map[int]*Process
	nextPID int
	current int
}

// NewManager creates a table with one root process (PID 1, parent 0,
// already Running) as its current process, matching the single-CPU
// cooperative boot sequence a kernel core starts with.
func NewManager(heapStart, heapLimit uint64) *Manager {
	m := &Manager{procs: make(map[int]*Process), nextPID: 2}
	root := &Process{
		PID:       1,
		ParentPID: 0,
		State:     Running,
		Cwd:       "/",
		Env:       map[string]string{},
		HeapStart: heapStart,
		HeapBreak: heapStart,
		HeapLimit: heapLimit,
		FDs:       fdtable.New(),
	}
	m.procs[1] = root
	m.current = 1
	return m
}

// Current returns the currently scheduled process.
func (m *Manager) Current() *Process {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.procs[m.current]
}

// Get looks up pid.
func (m *Manager) Get(pid int) (*Process, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.procs[pid]
	if !ok {
		return nil, ErrNoSuchProcess
	}
	return p, nil
}

// Fork creates a child of the current process, copying its cwd, env, and
// heap bounds (but not its FD table's slot contents; the new table starts
// with fresh stdio only, the minimal safe default this core supports).
// Returns the child's PID; spec.md §4.5 notes returning 0 in the child is
// the scheduler/context-switch's responsibility, external to this table.
func (m *Manager) Fork() (childPID int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	parent, ok := m.procs[m.current]
	if !ok {
		return 0, ErrNoSuchProcess
	}
	pid := m.nextPID
	m.nextPID++
	env := make(map[string]string, len(parent.Env))
	for k, v := range parent.Env {
		env[k] = v
	}
	child := &Process{
		PID:       pid,
		ParentPID: parent.PID,
		State:     Running,
		Cwd:       parent.Cwd,
		Env:       env,
		HeapStart: parent.HeapStart,
		HeapBreak: parent.HeapBreak,
		HeapLimit: parent.HeapLimit,
		FDs:       fdtable.New(),
	}
	m.procs[pid] = child
	return pid, nil
}

// Exit marks the current process Zombie with the given exit code,
// standing in for the execve subsystem's replace-or-terminate handling
// (spec.md §4.5 execve note: "success does not return to the caller").
func (m *Manager) Exit(code int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.procs[m.current]; ok {
		p.State = Zombie
		p.ExitCode = code
	}
}

// Wait4 scans for a terminated (Zombie) child of parentPID, reaps the
// first one found, and returns it. ErrNoChildren (Q2's dedicated kind,
// errs.NoChildren at the syscall layer) is returned when parentPID has no
// Zombie children right now.
func (m *Manager) Wait4(parentPID int) (*Process, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.procs {
		if p.ParentPID == parentPID && p.State == Zombie {
			p.State = Reaped
			return p, nil
		}
	}
	return nil, ErrNoChildren
}

// Kill sets bit (sig mod 32) of target's pending-signal mask; sig=0 is the
// existence probe (spec.md §4.5) and sets no bit.
func (m *Manager) Kill(pid int, sig int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.procs[pid]
	if !ok {
		return ErrNoSuchProcess
	}
	if sig != 0 {
		p.PendingSignals |= 1 << uint(sig%32)
	}
	return nil
}

// Brk implements spec.md §4.5's brk(new): new=0 returns the current
// break; otherwise the break is set if it stays within
// [HeapStart, HeapLimit].
func (p *Process) Brk(newBreak uint64) (uint64, error) {
	if newBreak == 0 {
		return p.HeapBreak, nil
	}
	if newBreak < p.HeapStart {
		return 0, errInvalidArgument
	}
	if newBreak > p.HeapLimit {
		return 0, errOutOfMemory
	}
	p.HeapBreak = newBreak
	return newBreak, nil
}

// MmapAnon bumps HeapBreak by length (rounded by the caller to 4 KiB) and
// records the resulting span, implementing the non-MAP_FIXED mmap path.
func (p *Process) MmapAnon(length uint64) (addr uint64, err error) {
	if p.HeapBreak+length > p.HeapLimit {
		return 0, errOutOfMemory
	}
	addr = p.HeapBreak
	p.HeapBreak += length
	p.MMapSpans = append(p.MMapSpans, Span{Addr: addr, Len: length})
	return addr, nil
}

// OwnsSpan reports whether [addr, addr+length) falls within a span this
// process already reserved (Q3: the basis for accepting MAP_FIXED).
func (p *Process) OwnsSpan(addr, length uint64) bool {
	for _, s := range p.MMapSpans {
		if s.contains(addr, length) {
			return true
		}
	}
	return false
}

// DropSpan removes the span exactly matching [addr, addr+length) (Q4's
// munmap bookkeeping, so a later MAP_FIXED over the same range succeeds
// again). It is a no-op if no such span exists.
func (p *Process) DropSpan(addr, length uint64) {
	out := p.MMapSpans[:0]
	for _, s := range p.MMapSpans {
		if s.Addr == addr && s.Len == length {
			continue
		}
		out = append(out, s)
	}
	p.MMapSpans = out
}

// sentinel errors kept unexported: process.Brk's callers are syscall
// handlers that map these to errs.OutOfMemory/errs.InvalidArgument
// themselves, the same pattern virtioblk uses for its own internal errors.
var (
	errInvalidArgument = errors.New("process: brk target below heap start")
	errOutOfMemory     = errors.New("process: brk target above heap limit")
)

// IsInvalidArgument / IsOutOfMemory let callers distinguish Brk's two
// failure modes without string-matching errors.
func IsInvalidArgument(err error) bool { return err == errInvalidArgument }
func IsOutOfMemory(err error) bool     { return err == errOutOfMemory }
