package virtioblk

import (
	"errors"

	"vqkernel/internal/pcibus"
)

// ErrNoCommonConfig is returned when a location's capability list has no
// VirtIO common-config capability (spec.md §6.1's capability pointer walk).
var ErrNoCommonConfig = errors.New("virtioblk: no VirtIO common-config capability found")

// LegacyPCITransport drives the VirtIO legacy-PCI I/O-port register block
// (spec.md §6.1) through a pcibus.Enumerator, grounded on the teacher's
// pciConfigRead32/pciConfigWrite32 + capability-walk + BAR-discovery
// pattern in virtio_rng.go: NewLegacyPCITransport runs the same
// pciFindVirtIOCapabilities-then-resolve-BAR sequence the teacher's
// initVirtIORNGDevice does before it can dereference a capability's
// OffsetInBar, generalized from VirtIO-capability MMIO access to the
// even simpler legacy I/O-port-block layout this transport targets.
type LegacyPCITransport struct {
	enumerator pcibus.Enumerator
	loc        pcibus.Location
	ioBase     uint32 // resolved common-config I/O base, I/O space
	queueSel   uint16
}

// NewLegacyPCITransport enables bus-mastering on loc, walks its PCI
// capability list for the common-config capability, resolves that
// capability's BAR to a base address, and readies a transport bound to the
// result. Callers are expected to have already chosen loc from a
// pcibus.Enumerator.Scan() result.
func NewLegacyPCITransport(enumerator pcibus.Enumerator, loc pcibus.Location) (*LegacyPCITransport, error) {
	enumerator.EnableBusMasterAndMMIO(loc)

	common, _, _, _, ok := pcibus.FindVirtIOCapabilities(enumerator, loc)
	if !ok {
		return nil, ErrNoCommonConfig
	}
	base := pcibus.ResolveBAR(enumerator, loc, common.Bar)
	ioBase := uint32(base) + common.OffsetInBar

	return &LegacyPCITransport{enumerator: enumerator, loc: loc, ioBase: ioBase &^ 0x3}, nil
}

func (t *LegacyPCITransport) ReadStatus() uint8 {
	return uint8(t.enumerator.ConfigRead32(t.loc, uint8(pcibus.RegDeviceStatus)))
}

func (t *LegacyPCITransport) WriteStatus(v uint8) {
	t.enumerator.ConfigWrite32(t.loc, uint8(pcibus.RegDeviceStatus), uint32(v))
}

func (t *LegacyPCITransport) ReadDeviceFeatures() uint32 {
	return t.enumerator.ConfigRead32(t.loc, uint8(pcibus.RegDeviceFeatures))
}

func (t *LegacyPCITransport) WriteDriverFeatures(v uint32) {
	t.enumerator.ConfigWrite32(t.loc, uint8(pcibus.RegDriverFeatures), v)
}

func (t *LegacyPCITransport) SelectQueue(idx uint16) {
	t.queueSel = idx
	t.enumerator.ConfigWrite32(t.loc, uint8(pcibus.RegQueueSelect), uint32(idx))
}

func (t *LegacyPCITransport) ReadQueueSize() uint16 {
	return uint16(t.enumerator.ConfigRead32(t.loc, uint8(pcibus.RegQueueSize)))
}

func (t *LegacyPCITransport) SetQueueAddrs(descPhys, availPhys, usedPhys uint64) {
	// Legacy PCI addresses the whole virtqueue by one page-frame number
	// for the descriptor table base; the available/used rings live at
	// fixed offsets from it (spec.md §3), so only descPhys is written.
	t.enumerator.ConfigWrite32(t.loc, uint8(pcibus.RegQueuePFN), uint32(descPhys/4096))
}

func (t *LegacyPCITransport) ReadQueuePFN() uint32 {
	return t.enumerator.ConfigRead32(t.loc, uint8(pcibus.RegQueuePFN))
}

func (t *LegacyPCITransport) Notify(queueIdx uint16) {
	t.enumerator.ConfigWrite32(t.loc, uint8(pcibus.RegQueueNotify), uint32(queueIdx))
}
