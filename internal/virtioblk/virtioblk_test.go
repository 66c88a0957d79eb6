package virtioblk

import (
	"testing"
	"unsafe"

	"vqkernel/internal/dma"
	"vqkernel/internal/virtqueue"
)

// fakeTransport stands in for the legacy-PCI/MMIO register block: a plain
// struct holding the status byte and queue geometry, with Notify wired to
// whatever device-emulation callback the test installs. Grounded on the
// same "transport is just register reads/writes" shape transport_legacy.go
// and transport_mmio.go implement for real hardware.
type fakeTransport struct {
	status    uint8
	queueSize uint16
	descPhys  uint64
	notify    func(queueIdx uint16)
}

func (f *fakeTransport) ReadStatus() uint8          { return f.status }
func (f *fakeTransport) WriteStatus(v uint8)        { f.status = v }
func (f *fakeTransport) ReadDeviceFeatures() uint32 { return 0 }
func (f *fakeTransport) WriteDriverFeatures(uint32) {}
func (f *fakeTransport) SelectQueue(uint16)         {}
func (f *fakeTransport) ReadQueueSize() uint16      { return f.queueSize }
func (f *fakeTransport) SetQueueAddrs(descPhys, availPhys, usedPhys uint64) {
	f.descPhys = descPhys
}
func (f *fakeTransport) ReadQueuePFN() uint32 { return uint32(f.descPhys / 4096) }
func (f *fakeTransport) Notify(queueIdx uint16) {
	if f.notify != nil {
		f.notify(queueIdx)
	}
}

// fakeClock advances by one tick per Now() call, so a device with no
// notify callback wired (nothing ever completes) reliably crosses any
// nonzero deadline after enough polling iterations.
type fakeClock struct{ t uint64 }

func (c *fakeClock) Now() uint64 { c.t++; return c.t }

// fakeBlockDevice plays the device role against the driver's own queue: it
// pops submitted chains via a virtqueue.DeviceView, reads/writes the
// request through the host provider's phys->bytes translation (standing in
// for a real device's bus-master DMA), and pushes a completion. Grounded
// on bobuhiro11-gokvm's virtio/net.go IOOutHandler + processing loop, the
// device-side counterpart to virtqueue.DeviceView noted in virtqueue.go.
type fakeBlockDevice struct {
	dv       *virtqueue.DeviceView
	provider *dma.HostProvider
	store    map[uint64][]byte

	skipStatus  bool
	forceStatus uint8 // 0 means "use the natural StatusOK/IOErr path"
}

func newFakeBlockDevice(q *virtqueue.Queue, provider *dma.HostProvider) *fakeBlockDevice {
	return &fakeBlockDevice{
		dv:       virtqueue.NewDeviceView(q),
		provider: provider,
		store:    make(map[uint64][]byte),
	}
}

func (fd *fakeBlockDevice) handle(uint16) {
	head, ok := fd.dv.PopAvail()
	if !ok {
		return
	}

	hdrDesc := fd.dv.Desc(head)
	hdrBytes := fd.provider.Translate(hdrDesc.Addr, int(hdrDesc.Len))
	h := (*requestHeader)(unsafe.Pointer(&hdrBytes[0]))
	block := h.Sector / SectorsPerBlock

	bounceDesc := fd.dv.Desc(hdrDesc.Next)
	bounceBytes := fd.provider.Translate(bounceDesc.Addr, int(bounceDesc.Len))

	statusDesc := fd.dv.Desc(bounceDesc.Next)
	statusBytes := fd.provider.Translate(statusDesc.Addr, int(statusDesc.Len))

	var usedLen uint32
	switch h.Type {
	case ReqIn:
		data, ok := fd.store[block]
		if !ok {
			data = make([]byte, BlockSize)
		}
		copy(bounceBytes, data)
		usedLen = BlockSize
	case ReqOut:
		saved := make([]byte, BlockSize)
		copy(saved, bounceBytes)
		fd.store[block] = saved
		usedLen = 1
	}

	if !fd.skipStatus {
		status := uint8(StatusOK)
		if fd.forceStatus != 0 {
			status = fd.forceStatus
		}
		statusBytes[0] = status
	}

	fd.dv.PushUsed(head, usedLen)
}

func newReadyDevice(t *testing.T, queueSize uint16) (*Device, *fakeTransport, *fakeBlockDevice) {
	t.Helper()
	provider := dma.NewHostProvider()
	transport := &fakeTransport{queueSize: queueSize}
	clock := &fakeClock{}

	dev := New(transport, provider, clock, 1<<30)
	if err := dev.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if !dev.Ready() {
		t.Fatal("Ready() = false after successful Init")
	}

	fd := newFakeBlockDevice(dev.queue, provider)
	transport.notify = fd.handle
	return dev, transport, fd
}

// TestInitIsIdempotent is P2: calling Init twice leaves the device in the
// same ready state, re-running the full handshake and rebuilding its
// queue without error.
func TestInitIsIdempotent(t *testing.T) {
	dev, transport, _ := newReadyDevice(t, 8)
	if err := dev.Init(); err != nil {
		t.Fatalf("second Init: %v", err)
	}
	if !dev.Ready() {
		t.Fatal("Ready() = false after re-Init")
	}
	if transport.status&0x04 == 0 { // StatusDriverOK bit
		t.Fatal("DRIVER_OK not set after re-Init")
	}
}

// TestReadWriteRoundTrip is P3: a block written through WriteBlock reads
// back byte-for-byte through ReadBlock, end to end through AddBuf,
// notify, and GetUsed.
func TestReadWriteRoundTrip(t *testing.T) {
	dev, _, _ := newReadyDevice(t, 8)

	want := make([]byte, BlockSize)
	for i := range want {
		want[i] = byte(i * 7)
	}

	if err := dev.WriteBlock(42, want); err != nil {
		t.Fatalf("WriteBlock: %v", err)
	}

	got := make([]byte, BlockSize)
	if err := dev.ReadBlock(42, got); err != nil {
		t.Fatalf("ReadBlock: %v", err)
	}

	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d: got %#x, want %#x", i, got[i], want[i])
		}
	}
}

// TestReadUnwrittenBlockIsZero exercises the read path against a block
// the fake device has never seen a write for.
func TestReadUnwrittenBlockIsZero(t *testing.T) {
	dev, _, _ := newReadyDevice(t, 8)

	got := make([]byte, BlockSize)
	for i := range got {
		got[i] = 0xFF
	}
	if err := dev.ReadBlock(7, got); err != nil {
		t.Fatalf("ReadBlock: %v", err)
	}
	for i, b := range got {
		if b != 0 {
			t.Fatalf("byte %d = %#x, want 0 for a never-written block", i, b)
		}
	}
}

// TestReadBlockRejectsWrongBufferSize checks the buffer-length guard both
// read/write paths start with.
func TestReadBlockRejectsWrongBufferSize(t *testing.T) {
	dev, _, _ := newReadyDevice(t, 8)
	if err := dev.ReadBlock(0, make([]byte, BlockSize-1)); err == nil {
		t.Fatal("expected error for undersized buffer")
	}
	if err := dev.WriteBlock(0, make([]byte, BlockSize+1)); err == nil {
		t.Fatal("expected error for oversized buffer")
	}
}

// TestTimeoutLeaksBuffersAndDescriptor is spec.md §4.2 step 7 / §9: when
// the device never completes, ReadBlock gives up at the deadline, leaks
// its three buffers and one descriptor chain rather than freeing memory
// the device might still be writing through, and reports ErrTimeout.
func TestTimeoutLeaksBuffersAndDescriptor(t *testing.T) {
	provider := dma.NewHostProvider()
	transport := &fakeTransport{queueSize: 8} // notify left nil: nothing ever completes
	clock := &fakeClock{}

	dev := New(transport, provider, clock, 10) // tiny deadline in fake ticks
	if err := dev.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}

	buf := make([]byte, BlockSize)
	err := dev.ReadBlock(0, buf)
	if err != ErrTimeout {
		t.Fatalf("ReadBlock error = %v, want ErrTimeout", err)
	}
	if dev.LeakedBuffers() != 3 {
		t.Fatalf("LeakedBuffers() = %d, want 3", dev.LeakedBuffers())
	}
	if dev.LeakedDescriptors() != 1 {
		t.Fatalf("LeakedDescriptors() = %d, want 1", dev.LeakedDescriptors())
	}
}

// TestIRQLostSentinelDetected: the device completes the chain (pushes a
// used-ring entry) but a bug causes it to never write the status byte;
// the sentinel the driver pre-seeded the status buffer with is still
// there, and ReadBlock must report ErrIRQLost rather than silently
// treating the sentinel as a real status code.
func TestIRQLostSentinelDetected(t *testing.T) {
	dev, _, fd := newReadyDevice(t, 8)
	fd.skipStatus = true

	buf := make([]byte, BlockSize)
	if err := dev.ReadBlock(0, buf); err != ErrIRQLost {
		t.Fatalf("ReadBlock error = %v, want ErrIRQLost", err)
	}
}

// TestBadStatusReportsIOError covers the device-reports-failure path.
func TestBadStatusReportsIOError(t *testing.T) {
	dev, _, fd := newReadyDevice(t, 8)
	fd.forceStatus = StatusIOErr

	buf := make([]byte, BlockSize)
	if err := dev.ReadBlock(0, buf); err != ErrIO {
		t.Fatalf("ReadBlock error = %v, want ErrIO", err)
	}
}

// TestUnsupportedStatus covers the UNSUPP status path.
func TestUnsupportedStatus(t *testing.T) {
	dev, _, fd := newReadyDevice(t, 8)
	fd.forceStatus = StatusUnsupp

	buf := make([]byte, BlockSize)
	if err := dev.WriteBlock(0, buf); err != ErrUnsupported {
		t.Fatalf("WriteBlock error = %v, want ErrUnsupported", err)
	}
}

// TestOperationsBeforeInitFail checks ErrNoQueue is returned instead of
// dereferencing a nil queue.
func TestOperationsBeforeInitFail(t *testing.T) {
	provider := dma.NewHostProvider()
	transport := &fakeTransport{queueSize: 8}
	dev := New(transport, provider, &fakeClock{}, 1<<20)

	buf := make([]byte, BlockSize)
	if err := dev.ReadBlock(0, buf); err != ErrNoQueue {
		t.Fatalf("ReadBlock before Init = %v, want ErrNoQueue", err)
	}
}
