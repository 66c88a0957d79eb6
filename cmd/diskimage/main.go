//go:build linux

// Command diskimage is a host-side development tool: it builds and
// inspects VirtIO block device images by driving the very same
// internal/virtioblk and internal/diskscheme code the ring-0 core uses,
// against an in-process device emulator backed by a real file instead of a
// physical bus. Grounded on bobuhiro11-gokvm's habit of giving its VirtIO
// device backends a plain os.File-backed store, and on the teacher's own
// tools/imageconvert as the precedent for a small flag-driven host utility
// shipped alongside a bare-metal core. Command-line parsing is
// github.com/jessevdk/go-flags, canonical-snapd's own CLI library of choice.
package main

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"

	"vqkernel/internal/dma"
	"vqkernel/internal/diskscheme"
	"vqkernel/internal/vfs"
	"vqkernel/internal/virtioblk"
	"vqkernel/internal/virtqueue"
)

type options struct {
	Create struct {
		Path   string `long:"path" required:"true" description:"image file to create"`
		Blocks uint64 `long:"blocks" required:"true" description:"capacity in 4KiB blocks"`
	} `command:"create" description:"create a zeroed block-device image"`

	Write struct {
		Path  string `long:"path" required:"true" description:"image file to write into"`
		Block uint64 `long:"block" required:"true" description:"0-based block index"`
		From  string `long:"from" required:"true" description:"host file whose first 4KiB are written"`
	} `command:"write" description:"write one 4KiB block via the VirtIO block driver"`

	Cat struct {
		Path  string `long:"path" required:"true" description:"image file to read from"`
		Block uint64 `long:"block" required:"true" description:"0-based block index"`
	} `command:"cat" description:"read one 4KiB block via the disk: scheme and print it to stdout"`

	LS struct {
		Dir string `long:"dir" required:"true" description:"host directory to list via the loopback VFS"`
	} `command:"ls" description:"list a host directory through internal/vfs's LoopbackFS"`
}

func main() {
	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		os.Exit(1)
	}

	switch parser.Active.Name {
	case "create":
		exitOn(cmdCreate(opts.Create.Path, opts.Create.Blocks))
	case "write":
		exitOn(cmdWrite(opts.Write.Path, opts.Write.Block, opts.Write.From))
	case "cat":
		exitOn(cmdCat(opts.Cat.Path, opts.Cat.Block))
	case "ls":
		exitOn(cmdLS(opts.LS.Dir))
	}
}

func exitOn(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "diskimage:", err)
		os.Exit(1)
	}
}

func cmdCreate(path string, numBlocks uint64) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Truncate(int64(numBlocks) * virtioblk.BlockSize)
}

func cmdWrite(path string, block uint64, fromPath string) error {
	dev, f, err := openImageDevice(path)
	if err != nil {
		return err
	}
	defer f.Close()

	payload, err := os.ReadFile(fromPath)
	if err != nil {
		return err
	}
	buf := make([]byte, virtioblk.BlockSize)
	copy(buf, payload)

	s := diskscheme.New([]*virtioblk.Device{dev})
	h, err := s.Open("0")
	if err != nil {
		return err
	}
	defer s.Close(h)
	if _, err := s.Lseek(h, int64(block*virtioblk.BlockSize), diskscheme.SeekSet); err != nil {
		return err
	}
	// diskscheme's handle is read-only by design (spec.md §4.3); writing a
	// whole block during image construction goes straight through the
	// driver instead.
	return dev.WriteBlock(block, buf)
}

func cmdCat(path string, block uint64) error {
	dev, f, err := openImageDevice(path)
	if err != nil {
		return err
	}
	defer f.Close()

	s := diskscheme.New([]*virtioblk.Device{dev})
	h, err := s.Open("0")
	if err != nil {
		return err
	}
	defer s.Close(h)
	if _, err := s.Lseek(h, int64(block*virtioblk.BlockSize), diskscheme.SeekSet); err != nil {
		return err
	}
	buf := make([]byte, virtioblk.BlockSize)
	n, err := s.Read(h, buf)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(buf[:n])
	return err
}

func cmdLS(dir string) error {
	fs, err := vfs.NewLoopbackFS(dir)
	if err != nil {
		return err
	}
	ino, err := fs.Resolve("/")
	if err != nil {
		return err
	}
	entries, err := fs.ReadDir(ino)
	if err != nil {
		return err
	}
	for _, e := range entries {
		st, err := fs.Stat(e.Ino)
		if err != nil {
			return err
		}
		fmt.Printf("%6d  %s\n", st.Size, e.Name)
	}
	return nil
}

// fileBlockDevice is the device side of a software VirtIO block emulator
// backed by an on-disk file, so an image built with this tool persists
// across invocations, the way bobuhiro11-gokvm's own block backend commits
// to a real file instead of memory. It is wired up the same way
// internal/virtioblk's own tests wire virtqueue.DeviceView against
// dma.HostProvider.Translate.
type fileBlockDevice struct {
	dv       *virtqueue.DeviceView
	provider *dma.HostProvider
	file     *os.File
}

func (fd *fileBlockDevice) handle(uint16) {
	head, ok := fd.dv.PopAvail()
	if !ok {
		return
	}
	hdrDesc := fd.dv.Desc(head)
	hdrBytes := fd.provider.Translate(hdrDesc.Addr, int(hdrDesc.Len))
	reqType := binary.LittleEndian.Uint32(hdrBytes[0:4])
	sector := binary.LittleEndian.Uint64(hdrBytes[8:16])
	block := int64(sector / virtioblk.SectorsPerBlock)

	bounceDesc := fd.dv.Desc(hdrDesc.Next)
	bounceBytes := fd.provider.Translate(bounceDesc.Addr, int(bounceDesc.Len))
	statusDesc := fd.dv.Desc(bounceDesc.Next)
	statusBytes := fd.provider.Translate(statusDesc.Addr, int(statusDesc.Len))

	var usedLen uint32
	switch reqType {
	case virtioblk.ReqIn:
		n, _ := fd.file.ReadAt(bounceBytes, block*virtioblk.BlockSize)
		for i := n; i < len(bounceBytes); i++ {
			bounceBytes[i] = 0
		}
		usedLen = virtioblk.BlockSize
	case virtioblk.ReqOut:
		fd.file.WriteAt(bounceBytes, block*virtioblk.BlockSize)
		usedLen = 1
	}
	statusBytes[0] = virtioblk.StatusOK
	fd.dv.PushUsed(head, usedLen)
}

// transport is a minimal legacy-PCI register set entirely in memory,
// sufficient to run internal/virtioblk.Device.Init's handshake against
// fileBlockDevice.
type transport struct {
	status    uint8
	queueSize uint16
	descPhys  uint64
	notify    func(uint16)
}

func (t *transport) ReadStatus() uint8                        { return t.status }
func (t *transport) WriteStatus(v uint8)                       { t.status = v }
func (t *transport) ReadDeviceFeatures() uint32                { return 0 }
func (t *transport) WriteDriverFeatures(uint32)                {}
func (t *transport) SelectQueue(uint16)                        {}
func (t *transport) ReadQueueSize() uint16                     { return t.queueSize }
func (t *transport) SetQueueAddrs(descPhys, _, _ uint64)       { t.descPhys = descPhys }
func (t *transport) ReadQueuePFN() uint32                      { return uint32(t.descPhys / 4096) }
func (t *transport) Notify(idx uint16) {
	if t.notify != nil {
		t.notify(idx)
	}
}

// openImageDevice opens path read-write and binds a ready virtioblk.Device
// to a fileBlockDevice emulator over it.
func openImageDevice(path string) (*virtioblk.Device, *os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	numBlocks := uint64(st.Size()) / virtioblk.BlockSize

	provider := dma.NewHostProvider()
	tr := &transport{queueSize: 32}
	dev := virtioblk.New(tr, provider, virtioblk.WallClock{}, 1<<34)
	if err := dev.Init(); err != nil {
		f.Close()
		return nil, nil, err
	}
	dev.SetCapacity(numBlocks)

	fbd := &fileBlockDevice{provider: provider, file: f}
	fbd.dv = virtqueue.NewDeviceView(dev.Queue())
	tr.notify = fbd.handle

	return dev, f, nil
}
