package virtioblk

import "vqkernel/internal/pcibus"

// MMIORegs is the narrow register-access surface an MMIO transport needs:
// 32-bit loads/stores at a byte offset from some platform-chosen base
// address. Grounded on the teacher's asm.MmioRead/MmioWrite helpers
// (mazboot/golang/main/pci_qemu.go, sdhci.go) — this is that same shape,
// generalized into an interface so transport_mmio.go doesn't depend on a
// specific architecture package.
type MMIORegs interface {
	Read32(offset uintptr) uint32
	Write32(offset uintptr, v uint32)
}

// MMIOTransport drives the VirtIO MMIO version-2 register layout of
// spec.md §6.2.
type MMIOTransport struct {
	regs MMIORegs
}

// NewMMIOTransport validates the magic value and version before returning
// a usable transport, per spec.md §6.2 ("Version=2 required").
func NewMMIOTransport(regs MMIORegs) (*MMIOTransport, error) {
	if magic := regs.Read32(pcibus.MMIOMagicValue); magic != pcibus.MMIOMagic {
		return nil, errBadMagic
	}
	if version := regs.Read32(pcibus.MMIOVersion); version != 2 {
		return nil, errBadVersion
	}
	return &MMIOTransport{regs: regs}, nil
}

type mmioErr string

func (e mmioErr) Error() string { return string(e) }

const (
	errBadMagic   mmioErr = "virtioblk: MMIO magic_value mismatch"
	errBadVersion mmioErr = "virtioblk: MMIO version != 2 unsupported"
)

func (t *MMIOTransport) ReadStatus() uint8 {
	return uint8(t.regs.Read32(pcibus.MMIOStatus))
}

func (t *MMIOTransport) WriteStatus(v uint8) {
	t.regs.Write32(pcibus.MMIOStatus, uint32(v))
}

func (t *MMIOTransport) ReadDeviceFeatures() uint32 {
	return t.regs.Read32(0x010) // device_features
}

func (t *MMIOTransport) WriteDriverFeatures(v uint32) {
	// Only feature word 0 is written (driver_features_sel is left at 0);
	// this driver negotiates no optional features.
	t.regs.Write32(0x020, v) // driver_features
}

func (t *MMIOTransport) SelectQueue(idx uint16) {
	t.regs.Write32(0x030, uint32(idx)) // queue_sel
}

func (t *MMIOTransport) ReadQueueSize() uint16 {
	return uint16(t.regs.Read32(0x034)) // queue_num_max
}

func (t *MMIOTransport) SetQueueAddrs(descPhys, availPhys, usedPhys uint64) {
	t.regs.Write32(pcibus.MMIOQueueDescLow, uint32(descPhys))
	t.regs.Write32(pcibus.MMIOQueueDescHigh, uint32(descPhys>>32))
	t.regs.Write32(pcibus.MMIOQueueDriverLow, uint32(availPhys))
	t.regs.Write32(pcibus.MMIOQueueDriverHigh, uint32(availPhys>>32))
	t.regs.Write32(pcibus.MMIOQueueDeviceLow, uint32(usedPhys))
	t.regs.Write32(pcibus.MMIOQueueDeviceHigh, uint32(usedPhys>>32))
	t.regs.Write32(pcibus.MMIOQueueReady, 1)
}

// ReadQueuePFN has no MMIO equivalent (legacy-only concept); MMIO transport
// reports the queue as always matching so Device.Init skips the readback
// check.
func (t *MMIOTransport) ReadQueuePFN() uint32 { return 0 }

func (t *MMIOTransport) Notify(queueIdx uint16) {
	t.regs.Write32(pcibus.MMIOQueueNotify, uint32(queueIdx))
}
