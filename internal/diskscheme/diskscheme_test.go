package diskscheme

import (
	"encoding/binary"
	"testing"

	"vqkernel/internal/dma"
	"vqkernel/internal/virtioblk"
	"vqkernel/internal/virtqueue"
)

// fakeTransport and fakeBlockDevice mirror internal/virtioblk's own test
// doubles (see virtioblk_test.go); duplicated here in miniature because
// diskscheme_test lives in a separate package and the wire header layout
// (spec.md §6.3) is public enough to reconstruct with encoding/binary
// rather than reaching into virtioblk's unexported request-header type.
type fakeTransport struct {
	status    uint8
	queueSize uint16
	descPhys  uint64
	notify    func(uint16)
}

func (f *fakeTransport) ReadStatus() uint8          { return f.status }
func (f *fakeTransport) WriteStatus(v uint8)        { f.status = v }
func (f *fakeTransport) ReadDeviceFeatures() uint32 { return 0 }
func (f *fakeTransport) WriteDriverFeatures(uint32) {}
func (f *fakeTransport) SelectQueue(uint16)         {}
func (f *fakeTransport) ReadQueueSize() uint16      { return f.queueSize }
func (f *fakeTransport) SetQueueAddrs(descPhys, _, _ uint64) { f.descPhys = descPhys }
func (f *fakeTransport) ReadQueuePFN() uint32                { return uint32(f.descPhys / 4096) }
func (f *fakeTransport) Notify(idx uint16) {
	if f.notify != nil {
		f.notify(idx)
	}
}

type fakeBlockDevice struct {
	dv       *virtqueue.DeviceView
	provider *dma.HostProvider
	store    map[uint64][]byte
}

func (fd *fakeBlockDevice) handle(uint16) {
	head, ok := fd.dv.PopAvail()
	if !ok {
		return
	}
	hdrDesc := fd.dv.Desc(head)
	hdrBytes := fd.provider.Translate(hdrDesc.Addr, int(hdrDesc.Len))
	reqType := binary.LittleEndian.Uint32(hdrBytes[0:4])
	sector := binary.LittleEndian.Uint64(hdrBytes[8:16])
	block := sector / virtioblk.SectorsPerBlock

	bounceDesc := fd.dv.Desc(hdrDesc.Next)
	bounceBytes := fd.provider.Translate(bounceDesc.Addr, int(bounceDesc.Len))
	statusDesc := fd.dv.Desc(bounceDesc.Next)
	statusBytes := fd.provider.Translate(statusDesc.Addr, int(statusDesc.Len))

	var usedLen uint32
	switch reqType {
	case virtioblk.ReqIn:
		data, ok := fd.store[block]
		if !ok {
			data = make([]byte, virtioblk.BlockSize)
		}
		copy(bounceBytes, data)
		usedLen = virtioblk.BlockSize
	case virtioblk.ReqOut:
		saved := make([]byte, virtioblk.BlockSize)
		copy(saved, bounceBytes)
		fd.store[block] = saved
		usedLen = 1
	}
	statusBytes[0] = virtioblk.StatusOK
	fd.dv.PushUsed(head, usedLen)
}

type fakeClock struct{ t uint64 }

func (c *fakeClock) Now() uint64 { c.t++; return c.t }

func newReadyDevice(t *testing.T) *virtioblk.Device {
	t.Helper()
	provider := dma.NewHostProvider()
	transport := &fakeTransport{queueSize: 8}
	dev := virtioblk.New(transport, provider, &fakeClock{}, 1<<30)
	if err := dev.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}

	fd := &fakeBlockDevice{provider: provider, store: map[uint64][]byte{}}
	fd.dv = virtqueue.NewDeviceView(dev.Queue())
	transport.notify = fd.handle
	return dev
}

func TestOpenReadLseekCloseRoundTrip(t *testing.T) {
	dev := newReadyDevice(t)
	dev.SetCapacity(16)

	block0 := make([]byte, virtioblk.BlockSize)
	for i := range block0 {
		block0[i] = byte(i)
	}
	if err := dev.WriteBlock(0, block0); err != nil {
		t.Fatalf("seed WriteBlock: %v", err)
	}

	s := New([]*virtioblk.Device{dev})

	h, err := s.Open("0")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	off, err := s.Lseek(h, 100, SeekSet)
	if err != nil || off != 100 {
		t.Fatalf("Lseek(SET,100) = (%d, %v)", off, err)
	}

	buf := make([]byte, 50)
	n, err := s.Read(h, buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != 50 {
		t.Fatalf("Read n = %d, want 50", n)
	}
	for i := 0; i < 50; i++ {
		if buf[i] != byte(100+i) {
			t.Fatalf("byte %d = %d, want %d", i, buf[i], byte(100+i))
		}
	}

	// P4: a read of 4000 bytes at offset 150 is bounded to 4096-150=3946.
	big := make([]byte, 4000)
	n2, err := s.Read(h, big)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n2 != virtioblk.BlockSize-150 {
		t.Fatalf("bounded Read n = %d, want %d", n2, virtioblk.BlockSize-150)
	}

	st, err := s.Fstat(h)
	if err != nil {
		t.Fatalf("Fstat: %v", err)
	}
	if st.NumBlocks != 16 {
		t.Fatalf("Fstat.NumBlocks = %d, want 16", st.NumBlocks)
	}

	if err := s.Close(h); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := s.Read(h, buf); err != ErrBadHandle {
		t.Fatalf("Read after Close = %v, want ErrBadHandle", err)
	}
}

func TestOpenUnknownDeviceIndex(t *testing.T) {
	s := New([]*virtioblk.Device{newReadyDevice(t)})
	if _, err := s.Open("5"); err != ErrNoSuchDevice {
		t.Fatalf("Open(5) = %v, want ErrNoSuchDevice", err)
	}
	if _, err := s.Open("not-a-number"); err != ErrBadPath {
		t.Fatalf("Open(garbage) = %v, want ErrBadPath", err)
	}
}

func TestWriteRefused(t *testing.T) {
	s := New([]*virtioblk.Device{newReadyDevice(t)})
	h, _ := s.Open("0")
	if _, err := s.Write(h, []byte("x")); err != ErrWriteRefused {
		t.Fatalf("Write = %v, want ErrWriteRefused", err)
	}
}

func TestSeekEndRejected(t *testing.T) {
	s := New([]*virtioblk.Device{newReadyDevice(t)})
	h, _ := s.Open("0")
	if _, err := s.Lseek(h, 0, SeekEnd); err != ErrEndUnsupported {
		t.Fatalf("Lseek(END) = %v, want ErrEndUnsupported", err)
	}
}

func TestHandleSlotReuseAfterClose(t *testing.T) {
	s := New([]*virtioblk.Device{newReadyDevice(t)})
	h1, _ := s.Open("0")
	if err := s.Close(h1); err != nil {
		t.Fatalf("Close: %v", err)
	}
	h2, err := s.Open("0")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if h2 != h1 {
		t.Fatalf("Open after Close got slot %d, want reused slot %d", h2, h1)
	}
}
