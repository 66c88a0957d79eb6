package syscall

import (
	"vqkernel/internal/errs"
	"vqkernel/internal/fdtable"
	"vqkernel/internal/vfs"
)

// access() mode bits (spec.md §4.5).
const (
	accessFOK = 0
	accessROK = 0o400
	accessWOK = 0o200
	accessXOK = 0o100
)

func statByPath(ctx *Context, addr uint64) (vfs.Stat, *errs.Result) {
	path, errRes := userString(addr, maxPathLen)
	if errRes != nil {
		return vfs.Stat{}, errRes
	}
	ino, err := ctx.VFS.Resolve(path)
	if err != nil {
		r := errs.Error(mapVFSErr(err))
		return vfs.Stat{}, &r
	}
	st, err := ctx.VFS.Stat(ino)
	if err != nil {
		r := errs.Error(mapVFSErr(err))
		return vfs.Stat{}, &r
	}
	return st, nil
}

func sysStat(ctx *Context, a Args) errs.Result {
	st, errRes := statByPath(ctx, a.A0)
	if errRes != nil {
		return *errRes
	}
	if r := writeStatBytes(a.A1, st); r != nil {
		return *r
	}
	return errs.Success(0)
}

// sysLstat is identical to stat: this VFS has no symlinks to distinguish.
func sysLstat(ctx *Context, a Args) errs.Result { return sysStat(ctx, a) }

func sysFstat(ctx *Context, a Args) errs.Result {
	fd := int(a.A0)
	d, err := ctx.Procs.Current().FDs.Get(fd)
	if err != nil {
		return errs.Error(errs.InvalidFileDescriptor)
	}
	var st vfs.Stat
	switch d.Kind {
	case fdtable.KindStdin, fdtable.KindStdout, fdtable.KindStderr:
		st = vfs.Stat{Mode: vfs.ModeChr | 0o620, Nlink: 1, Rdev: uint64(fd), Blksize: 1024}
	case fdtable.KindPipe:
		st = vfs.Stat{Mode: vfs.ModeFIFO | 0o600, Nlink: 1, Blksize: 4096}
	default:
		var errRes error
		st, errRes = ctx.VFS.Stat(d.Inode)
		if errRes != nil {
			return errs.Error(mapVFSErr(errRes))
		}
	}
	if r := writeStatBytes(a.A1, st); r != nil {
		return *r
	}
	return errs.Success(0)
}

func sysAccess(ctx *Context, a Args) errs.Result {
	st, errRes := statByPath(ctx, a.A0)
	if errRes != nil {
		return *errRes
	}
	mode := a.A1
	if mode == accessFOK {
		return errs.Success(0)
	}
	var want uint32
	if mode&accessROK != 0 {
		want |= accessROK
	}
	if mode&accessWOK != 0 {
		want |= accessWOK
	}
	if mode&accessXOK != 0 {
		want |= accessXOK
	}
	if st.Mode&want != want {
		return errs.Error(errs.AccessDenied)
	}
	return errs.Success(0)
}

// getdents emits linux_dirent64 records (spec.md §6.7): d_ino(8) d_off(8)
// d_reclen(2) d_type(1) d_name(NUL-terminated), each record rounded to an
// 8-byte boundary, stopping before any record that would exceed cap.
func sysGetdents(ctx *Context, a Args) errs.Result {
	fd, cap_ := int(a.A0), int(a.A2)
	dst := userBytes(a.A1, cap_)
	if dst == nil {
		return errs.Error(errs.BadAddress)
	}
	d, err := ctx.Procs.Current().FDs.Get(fd)
	if err != nil {
		return errs.Error(errs.InvalidFileDescriptor)
	}
	if d.Kind != fdtable.KindDirectory {
		return errs.Error(errs.NotADirectory)
	}
	entries, err := ctx.VFS.ReadDir(d.Inode)
	if err != nil {
		return errs.Error(mapVFSErr(err))
	}

	off := 0
	for i, e := range entries {
		reclen := 8 + 8 + 2 + 1 + len(e.Name) + 1
		reclen = (reclen + 7) &^ 7
		if off+reclen > cap_ {
			break
		}
		rec := dst[off : off+reclen]
		putU64(rec[0:8], e.Ino)
		putU64(rec[8:16], uint64(i+1))
		putU16(rec[16:18], uint16(reclen))
		rec[18] = e.Type
		copy(rec[19:], e.Name)
		rec[19+len(e.Name)] = 0
		off += reclen
	}
	return errs.Success(uint64(off))
}

func sysChdir(ctx *Context, a Args) errs.Result {
	path, errRes := userString(a.A0, maxPathLen)
	if errRes != nil {
		return *errRes
	}
	ino, err := ctx.VFS.Resolve(path)
	if err != nil {
		return errs.Error(mapVFSErr(err))
	}
	st, err := ctx.VFS.Stat(ino)
	if err != nil {
		return errs.Error(mapVFSErr(err))
	}
	if st.Mode&0o170000 != vfs.ModeDir {
		return errs.Error(errs.NotADirectory)
	}
	ctx.Procs.Current().Cwd = path
	return errs.Success(0)
}

// mkdir: once the path pointer is valid, passes the request to the VFS and
// reports success whatever the VFS returns (a read-only VFS, as cmd/kernel
// mounts, creates nothing; a writable one creates the directory).
func sysMkdir(ctx *Context, a Args) errs.Result {
	path, errRes := userString(a.A0, maxPathLen)
	if errRes != nil {
		return *errRes
	}
	_ = ctx.VFS.Mkdir(path, uint32(a.A1))
	return errs.Success(0)
}

func sysRmdir(ctx *Context, a Args) errs.Result {
	path, errRes := userString(a.A0, maxPathLen)
	if errRes != nil {
		return *errRes
	}
	ino, err := ctx.VFS.Resolve(path)
	if err != nil {
		return errs.Error(mapVFSErr(err))
	}
	st, err := ctx.VFS.Stat(ino)
	if err != nil {
		return errs.Error(mapVFSErr(err))
	}
	if st.Mode&0o170000 != vfs.ModeDir {
		return errs.Error(errs.NotADirectory)
	}
	if err := ctx.VFS.Rmdir(path); err != nil {
		return errs.Error(mapVFSErr(err))
	}
	return errs.Success(0)
}

func sysUnlink(ctx *Context, a Args) errs.Result {
	path, errRes := userString(a.A0, maxPathLen)
	if errRes != nil {
		return *errRes
	}
	ino, err := ctx.VFS.Resolve(path)
	if err != nil {
		return errs.Error(mapVFSErr(err))
	}
	st, err := ctx.VFS.Stat(ino)
	if err != nil {
		return errs.Error(mapVFSErr(err))
	}
	if st.Mode&0o170000 == vfs.ModeDir {
		return errs.Error(errs.IsADirectory)
	}
	if err := ctx.VFS.Unlink(path); err != nil {
		return errs.Error(mapVFSErr(err))
	}
	return errs.Success(0)
}
