// Package dma models component C1: the external DMA buffer provider. The
// virtqueue and VirtIO block device consume only the Provider interface;
// this package also carries the two concrete providers this repo ships —
// a bump allocator for the bare-metal core and an mmap-backed provider for
// host-side tests — but neither is load-bearing for the driver's own logic.
package dma

import (
	"errors"
	"unsafe"
)

// ErrExhausted is returned when a Provider cannot satisfy an allocation.
var ErrExhausted = errors.New("dma: region exhausted")

// Buffer is an owning handle over a physically-contiguous, alignment
// constrained region: a virtual pointer the driver can dereference and the
// physical address the device must be told about. Buffer intentionally
// mirrors the teacher's re-architecture note in spec.md §9: "model DMA
// buffers as an owning handle {virt, phys, len, align}".
type Buffer struct {
	virt  unsafe.Pointer
	phys  uint64
	len   int
	align int
	free  func()
	freed bool
}

// Bytes returns the buffer's memory, as a byte slice of its
// declared length, for the driver to read/write.
func (b *Buffer) Bytes() []byte {
	return unsafe.Slice((*byte)(b.virt), b.len)
}

// Phys returns the physical address a device-visible descriptor must use.
func (b *Buffer) Phys() uint64 { return b.phys }

// Len returns the buffer's length in bytes.
func (b *Buffer) Len() int { return b.len }

// Free returns the region to the provider. Calling Free twice is a no-op;
// calling it after Leak is a no-op (the whole point of Leak).
func (b *Buffer) Free() {
	if b.freed || b.free == nil {
		return
	}
	b.freed = true
	b.free()
}

// Leak marks the buffer as permanently owned elsewhere (by a bus-master
// device that may still be writing through it) without releasing the
// backing region. This is the Go-native equivalent of the spec's
// `mem::forget` on the VirtIO read/write timeout path (§4.2 step 7, §9):
// freeing here risks a future use-after-free because the device may still
// hold a writable descriptor into this memory.
func (b *Buffer) Leak() {
	b.freed = true
}

// Provider is the narrow interface the virtqueue and VirtIO block device
// depend on; spec.md treats the concrete allocator as wholly external
// ("interface only").
type Provider interface {
	// Alloc returns a zeroed buffer of at least size bytes, aligned to
	// align (which must be a power of two), backed by memory whose
	// physical address is stable for the buffer's lifetime.
	Alloc(size int, align int) (*Buffer, error)
}

func roundUp(v, align int) int {
	return (v + align - 1) &^ (align - 1)
}
