// Package diskscheme implements component C5: a Redox-style byte-addressable
// handle over the VirtIO block device — open/read/write/lseek/close/fstat —
// sitting directly on top of internal/virtioblk rather than going through
// the full VFS. Grounded on the teacher's own small slot-table handle
// style (mazboot's process/device slot indices in syscall.go), generalized
// from a device-slot table to the scheme's "Vec<Option<OpenDisk>>"
// free-list-reuse pattern spec.md §4.3 calls for explicitly.
package diskscheme

import (
	"errors"
	"strconv"

	"vqkernel/internal/virtioblk"
)

var (
	ErrBadPath       = errors.New("diskscheme: path must be a decimal device index")
	ErrNoSuchDevice  = errors.New("diskscheme: no device at that index")
	ErrBadHandle     = errors.New("diskscheme: bad or closed handle")
	ErrWriteRefused  = errors.New("diskscheme: this handle is read-only")
	ErrEndUnsupported = errors.New("diskscheme: SEEK_END is unsupported (device size unknown to this layer)")
)

// Seek whence values, matching the Linux lseek() constants this layer
// partially supports (spec.md §4.3: "supports SET and CUR; END is
// rejected").
const (
	SeekSet = 0
	SeekCur = 1
	SeekEnd = 2
)

// openDisk is one open handle's state (spec.md §3's storage-device open
// handle: {device_index, byte_offset}).
type openDisk struct {
	deviceIndex int
	byteOffset  uint64
}

// Scheme owns the open-handle table and the list of backing block devices,
// indexed by the decimal device index a disk:<N> path names.
type Scheme struct {
	devices []*virtioblk.Device
	handles []*openDisk // nil entries are free slots, reused on Open
}

// New returns a Scheme backed by devices, indexed 0..len(devices)-1.
func New(devices []*virtioblk.Device) *Scheme {
	return &Scheme{devices: devices}
}

// Open parses path as a decimal device index and returns a new handle at
// byte offset 0.
func (s *Scheme) Open(path string) (int, error) {
	idx, err := strconv.Atoi(path)
	if err != nil || idx < 0 {
		return 0, ErrBadPath
	}
	if idx >= len(s.devices) || s.devices[idx] == nil {
		return 0, ErrNoSuchDevice
	}

	for i, h := range s.handles {
		if h == nil {
			s.handles[i] = &openDisk{deviceIndex: idx}
			return i, nil
		}
	}
	s.handles = append(s.handles, &openDisk{deviceIndex: idx})
	return len(s.handles) - 1, nil
}

func (s *Scheme) get(h int) (*openDisk, error) {
	if h < 0 || h >= len(s.handles) || s.handles[h] == nil {
		return nil, ErrBadHandle
	}
	return s.handles[h], nil
}

// Read converts the handle's byte offset into (block, offset-within-block),
// reads that one 4KiB block via the backing device into a scratch buffer,
// copies the relevant span into buf, and advances the offset. It returns
// at most 4096-(offset mod 4096) bytes (P4).
func (s *Scheme) Read(h int, buf []byte) (int, error) {
	od, err := s.get(h)
	if err != nil {
		return 0, err
	}
	dev := s.devices[od.deviceIndex]

	block := od.byteOffset / virtioblk.BlockSize
	within := od.byteOffset % virtioblk.BlockSize

	var scratch [virtioblk.BlockSize]byte
	if err := dev.ReadBlock(block, scratch[:]); err != nil {
		return 0, err
	}

	avail := virtioblk.BlockSize - within
	n := uint64(len(buf))
	if n > avail {
		n = avail
	}
	copy(buf, scratch[within:within+n])
	od.byteOffset += n
	return int(n), nil
}

// Write is always refused: this layer exposes a read-only handle
// (spec.md §4.3).
func (s *Scheme) Write(h int, _ []byte) (int, error) {
	if _, err := s.get(h); err != nil {
		return 0, err
	}
	return 0, ErrWriteRefused
}

// Lseek implements SEEK_SET and SEEK_CUR (P5); SEEK_END is rejected because
// this layer does not know device size (spec.md §4.3).
func (s *Scheme) Lseek(h int, offset int64, whence int) (uint64, error) {
	od, err := s.get(h)
	if err != nil {
		return 0, err
	}
	switch whence {
	case SeekSet:
		if offset < 0 {
			return 0, ErrBadPath
		}
		od.byteOffset = uint64(offset)
	case SeekCur:
		newOff := int64(od.byteOffset) + offset
		if newOff < 0 {
			return 0, ErrBadPath
		}
		od.byteOffset = uint64(newOff)
	case SeekEnd:
		return 0, ErrEndUnsupported
	default:
		return 0, ErrBadPath
	}
	return od.byteOffset, nil
}

// Close frees h's slot for reuse by a later Open (spec.md §4.3's
// free-list-style reuse).
func (s *Scheme) Close(h int) error {
	if _, err := s.get(h); err != nil {
		return err
	}
	s.handles[h] = nil
	return nil
}

// Stat is the minimal fstat surface this scheme can answer on its own
// (device index and current offset); the syscall layer's fstat handler
// supplements this with the synthesized block-device stat fields spec.md
// §6.6 calls for.
type Stat struct {
	DeviceIndex int
	ByteOffset  uint64
	NumBlocks   uint64
}

// Fstat returns h's current Stat.
func (s *Scheme) Fstat(h int) (Stat, error) {
	od, err := s.get(h)
	if err != nil {
		return Stat{}, err
	}
	dev := s.devices[od.deviceIndex]
	return Stat{DeviceIndex: od.deviceIndex, ByteOffset: od.byteOffset, NumBlocks: dev.NumBlocks()}, nil
}
