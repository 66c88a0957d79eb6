package syscall

import (
	"vqkernel/internal/errs"
	"vqkernel/internal/fdtable"
	"vqkernel/internal/vfs"
)

// fcntl commands (Linux numbering; spec.md §4.5 names only these four).
const (
	fcntlDupFD = 0
	fcntlGetFD = 1
	fcntlSetFD = 2
	fcntlGetFL = 3
	fcntlSetFL = 4
)

// ioctl requests spec.md §4.5 names for stdio FDs.
const (
	ioctlTCGETS     = 0x5401
	ioctlTCSETS     = 0x5402
	ioctlTIOCGPGRP  = 0x540F
	ioctlTIOCSPGRP  = 0x5410
	ioctlTIOCGWINSZ = 0x5413
	ioctlFIONREAD   = 0x541B
)

func sysOpen(ctx *Context, a Args) errs.Result {
	path, errRes := userString(a.A0, maxPathLen)
	if errRes != nil {
		return *errRes
	}
	ino, err := ctx.VFS.Resolve(path)
	if err != nil {
		return errs.Error(errs.FileNotFound)
	}
	st, err := ctx.VFS.Stat(ino)
	if err != nil {
		return errs.Error(mapVFSErr(err))
	}
	kind := fdtable.KindFile
	if st.Mode&0o170000 == vfs.ModeDir {
		kind = fdtable.KindDirectory
	}
	fd, err := ctx.Procs.Current().FDs.Alloc(&fdtable.Descriptor{
		Kind:  kind,
		Inode: ino,
		Path:  path,
		Flags: int(a.A1),
		Mode:  st.Mode,
		Size:  st.Size,
	})
	if err != nil {
		return errs.Error(errs.TooManyOpenFiles)
	}
	return errs.Success(uint64(fd))
}

// Seek whences, shared with internal/diskscheme's own SeekSet/SeekCur/SeekEnd.
const (
	seekSet = 0
	seekCur = 1
	seekEnd = 2
)

// sysLseek repositions a regular file's offset. Only File descriptors are
// seekable; spec.md §4.5 describes lseek in full only for the disk scheme
// layer (internal/diskscheme), but syscall #5 is generic, so the POSIX FD
// table grows the same SET/CUR/END handling for its own File kind.
func sysLseek(ctx *Context, a Args) errs.Result {
	fd := int(a.A0)
	offset := int64(a.A1)
	whence := int(a.A2)
	d, err := ctx.Procs.Current().FDs.Get(fd)
	if err != nil {
		return errs.Error(errs.InvalidFileDescriptor)
	}
	if d.Kind != fdtable.KindFile {
		return errs.Error(errs.InvalidFileDescriptor)
	}
	var base int64
	switch whence {
	case seekSet:
		base = 0
	case seekCur:
		base = int64(d.Offset)
	case seekEnd:
		base = int64(d.Size)
	default:
		return errs.Error(errs.InvalidArgument)
	}
	newOff := base + offset
	if newOff < 0 {
		return errs.Error(errs.InvalidArgument)
	}
	d.Offset = uint64(newOff)
	return errs.Success(d.Offset)
}

func sysClose(ctx *Context, a Args) errs.Result {
	fd := int(a.A0)
	if fd < 3 {
		return errs.Error(errs.InvalidFileDescriptor)
	}
	if err := ctx.Procs.Current().FDs.Close(fd); err != nil {
		return errs.Error(errs.InvalidFileDescriptor)
	}
	return errs.Success(0)
}

func sysRead(ctx *Context, a Args) errs.Result {
	fd, n := int(a.A0), int(a.A2)
	dst := userBytes(a.A1, n)
	if dst == nil {
		return errs.Error(errs.BadAddress)
	}
	d, err := ctx.Procs.Current().FDs.Get(fd)
	if err != nil {
		return errs.Error(errs.InvalidFileDescriptor)
	}
	switch d.Kind {
	case fdtable.KindStdin:
		got, _ := ctx.Stdin.Read(dst)
		return errs.Success(uint64(got))
	case fdtable.KindPipe:
		return errs.Success(uint64(d.Pipe.Read(dst)))
	case fdtable.KindFile:
		got, err := ctx.VFS.ReadAt(d.Inode, int64(d.Offset), dst)
		if err != nil {
			return errs.Error(mapVFSErr(err))
		}
		d.Offset += uint64(got)
		return errs.Success(uint64(got))
	default:
		return errs.Error(errs.InvalidFileDescriptor)
	}
}

func sysWrite(ctx *Context, a Args) errs.Result {
	fd, n := int(a.A0), int(a.A2)
	src := userBytes(a.A1, n)
	if src == nil {
		return errs.Error(errs.BadAddress)
	}
	d, err := ctx.Procs.Current().FDs.Get(fd)
	if err != nil {
		return errs.Error(errs.InvalidFileDescriptor)
	}
	switch d.Kind {
	case fdtable.KindStdout, fdtable.KindStderr:
		written, _ := ctx.Console.Write(src)
		return errs.Success(uint64(written))
	case fdtable.KindPipe:
		return errs.Success(uint64(d.Pipe.Write(src)))
	default:
		return errs.Error(errs.InvalidFileDescriptor)
	}
}

func sysPipe(ctx *Context, a Args) errs.Result {
	fdsBuf := userBytes(a.A0, 8)
	if fdsBuf == nil {
		return errs.Error(errs.BadAddress)
	}
	p := fdtable.NewPipe()
	tbl := ctx.Procs.Current().FDs
	rfd, err := tbl.Alloc(&fdtable.Descriptor{Kind: fdtable.KindPipe, Pipe: p, PipeEnd: fdtable.PipeRead})
	if err != nil {
		return errs.Error(errs.TooManyOpenFiles)
	}
	wfd, err := tbl.Alloc(&fdtable.Descriptor{Kind: fdtable.KindPipe, Pipe: p, PipeEnd: fdtable.PipeWrite})
	if err != nil {
		tbl.Close(rfd)
		return errs.Error(errs.TooManyOpenFiles)
	}
	putU32(fdsBuf[0:4], uint32(rfd))
	putU32(fdsBuf[4:8], uint32(wfd))
	return errs.Success(0)
}

func sysDup(ctx *Context, a Args) errs.Result {
	fd, err := ctx.Procs.Current().FDs.Dup(int(a.A0))
	if err != nil {
		return errs.Error(errs.InvalidFileDescriptor)
	}
	return errs.Success(uint64(fd))
}

func sysDup2(ctx *Context, a Args) errs.Result {
	old, new_ := int(a.A0), int(a.A1)
	if err := ctx.Procs.Current().FDs.Dup2(old, new_); err != nil {
		return errs.Error(errs.InvalidFileDescriptor)
	}
	return errs.Success(uint64(new_))
}

func sysFcntl(ctx *Context, a Args) errs.Result {
	fd, cmd := int(a.A0), int(a.A1)
	d, err := ctx.Procs.Current().FDs.Get(fd)
	if err != nil {
		return errs.Error(errs.InvalidFileDescriptor)
	}
	switch cmd {
	case fcntlDupFD:
		// spec.md §4.5: "placeholder returning the same fd number" — this
		// command deliberately does not allocate a new slot.
		return errs.Success(uint64(fd))
	case fcntlGetFD, fcntlSetFD:
		return errs.Success(0)
	case fcntlGetFL:
		return errs.Success(uint64(d.Flags))
	case fcntlSetFL:
		// spec.md §4.5: F_SETFL is logged, not applied — d.Flags keeps
		// reflecting whatever open() actually granted.
		ctx.Console.Tag("fcntl", "F_SETFL requested, not applied")
		return errs.Success(0)
	default:
		return errs.Error(errs.InvalidArgument)
	}
}

func sysIoctl(ctx *Context, a Args) errs.Result {
	fd, req := int(a.A0), a.A1
	if fd < 0 || fd > 2 {
		return errs.Error(errs.InvalidOperation)
	}
	switch req {
	case ioctlTCGETS, ioctlTCSETS, ioctlTIOCSPGRP, ioctlTIOCGPGRP:
		return errs.Success(0)
	case ioctlTIOCGWINSZ:
		buf := userBytes(a.A2, 8)
		if buf == nil {
			return errs.Error(errs.BadAddress)
		}
		putU16(buf[0:2], 25)
		putU16(buf[2:4], 80)
		putU16(buf[4:6], 0)
		putU16(buf[6:8], 0)
		return errs.Success(0)
	case ioctlFIONREAD:
		buf := userBytes(a.A2, 4)
		if buf == nil {
			return errs.Error(errs.BadAddress)
		}
		putU32(buf, 0)
		return errs.Success(0)
	default:
		// "Unknown requests on stdio succeed silently" (spec.md §4.5).
		return errs.Success(0)
	}
}
