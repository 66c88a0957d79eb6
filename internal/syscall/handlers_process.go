package syscall

import "vqkernel/internal/errs"

// MaxProcesses bounds the pid range kill() validates against (spec.md
// §4.5: "validates 1 ≤ pid < MAX_PROCESSES").
const MaxProcesses = 4096

func sysExit(ctx *Context, a Args) errs.Result {
	ctx.Procs.Exit(int(int64(a.A0)))
	return errs.Success(0)
}

func sysFork(ctx *Context, a Args) errs.Result {
	child, err := ctx.Procs.Fork()
	if err != nil {
		return errs.Error(errs.InvalidOperation)
	}
	return errs.Success(uint64(child))
}

// sysExecve delegates to a dedicated execve subsystem that this repo does
// not implement beyond argument validation: per spec.md §4.5, "success
// does not return to the caller's code path (the new image runs on the
// next slice)", which a Handler signature that always returns cannot model
// directly. What it can and does enforce is P8 (null path pointer is
// BadAddress) before anything else.
func sysExecve(ctx *Context, a Args) errs.Result {
	path, errRes := userString(a.A0, maxPathLen)
	if errRes != nil {
		return *errRes
	}
	ctx.Console.Tag("execve", path)
	return errs.Success(0)
}

func sysWait4(ctx *Context, a Args) errs.Result {
	pid := int(int64(a.A0))
	child, err := ctx.Procs.Wait4(pid)
	if err != nil {
		return errs.Error(errs.NoChildren)
	}
	if statusAddr := a.A1; statusAddr != 0 {
		buf := userBytes(statusAddr, 4)
		if buf == nil {
			return errs.Error(errs.BadAddress)
		}
		v := uint32(child.ExitCode&0xFF) << 8
		buf[0] = byte(v)
		buf[1] = byte(v >> 8)
		buf[2] = byte(v >> 16)
		buf[3] = byte(v >> 24)
	}
	return errs.Success(uint64(child.PID))
}

func sysGetpid(ctx *Context, a Args) errs.Result {
	return errs.Success(uint64(ctx.Procs.Current().PID))
}

func sysGetppid(ctx *Context, a Args) errs.Result {
	return errs.Success(uint64(ctx.Procs.Current().ParentPID))
}

// identityZero backs every identity getter/setter spec.md §4.5 says
// "returns 0 for root-equivalent where identity tracking is absent."
func identityZero(*Context, Args) errs.Result { return errs.Success(0) }

func sysKill(ctx *Context, a Args) errs.Result {
	pid := int64(a.A0)
	sig := int(a.A1)
	if pid < 1 || pid >= MaxProcesses {
		return errs.Error(errs.InvalidArgument)
	}
	if err := ctx.Procs.Kill(int(pid), sig); err != nil {
		return errs.Error(errs.InvalidArgument)
	}
	return errs.Success(0)
}
