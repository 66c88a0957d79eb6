package syscall

import (
	"vqkernel/internal/errs"
	"vqkernel/internal/process"
)

const (
	mapFixed     = 0x10
	mapAnonymous = 0x20
)

func sysBrk(ctx *Context, a Args) errs.Result {
	v, err := ctx.Procs.Current().Brk(a.A0)
	if err != nil {
		if process.IsInvalidArgument(err) {
			return errs.Error(errs.InvalidArgument)
		}
		return errs.Error(errs.OutOfMemory)
	}
	return errs.Success(v)
}

func sysMmap(ctx *Context, a Args) errs.Result {
	addr, length, flags := a.A0, a.A1, a.A3
	if flags&mapAnonymous == 0 {
		return errs.Error(errs.InvalidOperation)
	}
	length = roundUp4K(length)
	p := ctx.Procs.Current()

	if addr != 0 && flags&mapFixed != 0 {
		if !p.OwnsSpan(addr, length) {
			return errs.Error(errs.InvalidOperation)
		}
		return errs.Success(addr)
	}

	newAddr, err := p.MmapAnon(length)
	if err != nil {
		return errs.Error(errs.OutOfMemory)
	}
	return errs.Success(newAddr)
}

func sysMunmap(ctx *Context, a Args) errs.Result {
	addr, length := a.A0, roundUp4K(a.A1)
	p := ctx.Procs.Current()
	if addr < p.HeapStart || addr+length > p.HeapLimit {
		return errs.Error(errs.InvalidArgument)
	}
	p.DropSpan(addr, length)
	return errs.Success(0)
}
