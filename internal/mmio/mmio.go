// Package mmio provides the volatile-access and memory-ordering primitives
// the virtqueue and VirtIO block driver build on: volatile loads/stores,
// release/acquire fences, and a per-line cache-flush hook.
//
// On real hardware these compile to architectural instructions (clflush,
// dmb/dsb, MMIO loads/stores through a non-cacheable mapping). This package
// expresses them as Go functions over plain memory so the driver logic
// above it is portable and testable; a future arch-specific build of this
// package swaps the bodies for real instructions without touching callers,
// mirroring the teacher's own split between register-access helpers
// (mazboot/asm's Dsb/Isb/MmioRead) and the drivers that call them.
package mmio

import "sync/atomic"

// FlushCounter counts FlushLine and InvalidateLine calls, for tests that want to assert the
// driver bracketed every device-visible write the way §4.1 requires.
var FlushCounter uint64

// FlushLine flushes the cache line(s) covering [addr, addr+length) so a
// non-coherent bus-master device observes the write. In this portable
// build there is no real cache to flush; the call still exists as the
// explicit bracketing point the spec requires around every descriptor,
// ring-slot, and status-byte write.
func FlushLine(addr uintptr, length uintptr) {
	atomic.AddUint64(&FlushCounter, 1)
}

// InvalidateLine is FlushLine's read-side counterpart: invalidate cached
// copies of [addr, addr+length) before the driver reads data a device may
// have written.
func InvalidateLine(addr uintptr, length uintptr) {
	atomic.AddUint64(&FlushCounter, 1)
}

// ReleaseFence orders all prior stores before any store that follows it —
// used before notifying a device that new descriptors are available.
func ReleaseFence() {
	atomic.StoreUint32(&fenceSeq, atomic.LoadUint32(&fenceSeq)+1)
}

// AcquireFence orders all following loads after any load that precedes it —
// used after observing a device's used-ring update, before reading payload
// or status the device wrote.
func AcquireFence() {
	atomic.LoadUint32(&fenceSeq)
}

// FullFence is a sequentially consistent barrier, used around the notify
// write itself (§4.1 step 4).
func FullFence() {
	atomic.AddUint32(&fenceSeq, 1)
}

var fenceSeq uint32

// LoadU32 / StoreU32 are volatile accessors for 32-bit device-visible
// fields. Go's sync/atomic only covers 32- and 64-bit and pointer-sized
// words, so these are true volatile ops; the narrower 16/8-bit accessors
// below fall back to plain memory access bracketed by the fences above,
// the same way the teacher's own code (virtio_rng.go, syscall.go) mixes
// sync/atomic for the widths it covers with direct unsafe.Pointer access
// for everything else.
func LoadU32(p *uint32) uint32     { return atomic.LoadUint32(p) }
func StoreU32(p *uint32, v uint32) { atomic.StoreUint32(p, v) }

// LoadU16 / StoreU16 / LoadU8 / StoreU8 access descriptor and ring fields
// narrower than a word. Correctness relies on FlushLine/FullFence bracketing
// every device-visible write, not on these being atomic.
func LoadU16(p *uint16) uint16     { return *p }
func StoreU16(p *uint16, v uint16) { *p = v }
func LoadU8(p *uint8) uint8        { return *p }
func StoreU8(p *uint8, v uint8)    { *p = v }
