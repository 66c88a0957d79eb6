package dma

import "unsafe"

// BumpProvider is a single-threaded bump allocator over one fixed, already
// physically-contiguous region — the bare-metal shape a real kernel core
// uses, grounded on the teacher's own DMA-free static buffers in
// virtio_rng.go (rngDescTable/rngAvailRing/rngUsedRing are carved out of a
// fixed array "to avoid kmalloc") generalized into a reusable allocator
// instead of one-off per-device arrays. It never reclaims individual
// buffers; Free is a best-effort bump-back only when freeing the most
// recent allocation. The block device frees its header, status and bounce
// buffers in allocation order, so of those only the bounce buffer is
// reclaimed; the header and status buffers stay committed.
type BumpProvider struct {
	base      uintptr
	physBase  uint64
	size      int
	next      int
	allocations []allocation
}

type allocation struct {
	offset int
	size   int
}

// NewBumpProvider wraps a caller-owned, pre-allocated, identity-mapped
// region: virtual base == physical base, as the teacher's bare-metal target
// assumes ("Since we're identity-mapped, virtual address = physical
// address", src/go/mazarin/virtqueue.go).
func NewBumpProvider(region []byte, physBase uint64) *BumpProvider {
	return &BumpProvider{
		base:     uintptr(unsafe.Pointer(&region[0])),
		physBase: physBase,
		size:     len(region),
	}
}

func (p *BumpProvider) Alloc(size int, align int) (*Buffer, error) {
	if align <= 0 {
		align = 1
	}
	start := roundUp(p.next, align)
	end := start + size
	if end > p.size {
		return nil, ErrExhausted
	}

	virt := unsafe.Pointer(p.base + uintptr(start))
	zero(virt, size)

	idx := len(p.allocations)
	p.allocations = append(p.allocations, allocation{offset: start, size: size})
	p.next = end

	b := &Buffer{
		virt:  virt,
		phys:  p.physBase + uint64(start),
		len:   size,
		align: align,
	}
	b.free = func() {
		// Only the most-recently-allocated, still-present region can be
		// reclaimed by a bump allocator; anything else simply stays
		// committed until the provider itself is discarded. This mirrors
		// the teacher's own kfree-is-a-no-op-in-practice reality for
		// short-lived per-I/O buffers.
		if idx == len(p.allocations)-1 && p.next == end {
			p.next = start
			p.allocations = p.allocations[:idx]
		}
	}
	return b, nil
}

func zero(p unsafe.Pointer, n int) {
	s := unsafe.Slice((*byte)(p), n)
	for i := range s {
		s[i] = 0
	}
}
