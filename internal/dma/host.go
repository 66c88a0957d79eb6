//go:build linux

package dma

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// HostProvider backs DMA buffers with anonymous mmap regions on a real OS
// process, the way bobuhiro11-gokvm and usbarmory-tamago both reach for
// golang.org/x/sys when code that models hardware-owned memory has to run
// as an ordinary test binary. A host process's virtual addresses aren't
// physical addresses, so HostProvider assigns each allocation a synthetic,
// monotonically increasing "physical" address — good enough to exercise
// the virtqueue/VirtIO block round trip (P3) without a real IOMMU.
type HostProvider struct {
	nextPhys uint64

	// regions lets test harnesses that play the *device* role (no real
	// IOMMU on a host process) translate the synthetic physical addresses
	// handed out below back to host-virtual byte slices. Grounded on the
	// same need bobuhiro11-gokvm's guest-memory type fills for its device
	// emulation code: something has to turn a "physical" address the
	// driver wrote into a descriptor back into bytes a Go test can read.
	regions map[uint64][]byte
}

// NewHostProvider returns a Provider suitable for unit tests that need
// page-stable, allocator-independent memory instead of the Go GC's
// moving/zeroing heap.
func NewHostProvider() *HostProvider {
	return &HostProvider{nextPhys: 0x1000, regions: make(map[uint64][]byte)}
}

func (p *HostProvider) Alloc(size int, align int) (*Buffer, error) {
	pageSize := unix.Getpagesize()
	mapLen := roundUp(size, pageSize)
	region, err := unix.Mmap(-1, 0, mapLen, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("dma: mmap failed: %w", err)
	}

	if align <= 0 {
		align = 1
	}
	phys := uint64(roundUp(int(p.nextPhys), align))
	p.nextPhys = phys + uint64(roundUp(size, align))
	p.regions[phys] = region[:size]

	b := &Buffer{
		virt:  unsafe.Pointer(&region[0]),
		phys:  phys,
		len:   size,
		align: align,
	}
	b.free = func() {
		_ = unix.Munmap(region)
	}
	return b, nil
}

// Translate returns the host-virtual byte slice backing a physical address
// this provider previously handed out via Alloc. Only the exact address
// Alloc returned is recognized; it exists solely for device-side test
// harnesses (see internal/virtioblk's fake block device), never for
// production driver code, which only ever reads/writes through the Buffer
// it already holds.
func (p *HostProvider) Translate(phys uint64, length int) []byte {
	region, ok := p.regions[phys]
	if !ok || len(region) < length {
		return nil
	}
	return region[:length]
}
