package syscall

import "vqkernel/internal/errs"

func sysGettimeofday(ctx *Context, a Args) errs.Result {
	if a.A0 != 0 {
		buf := userBytes(a.A0, 16)
		if buf == nil {
			return errs.Error(errs.BadAddress)
		}
		ms := ctx.NowMillis()
		putU64(buf[0:8], ms/1000)
		putU64(buf[8:16], (ms%1000)*1000)
	}
	if a.A1 != 0 {
		buf := userBytes(a.A1, 8)
		if buf == nil {
			return errs.Error(errs.BadAddress)
		}
		putU64(buf, 0)
	}
	return errs.Success(0)
}

func sysGetcwd(ctx *Context, a Args) errs.Result {
	cap_ := int(a.A1)
	cwd := ctx.Procs.Current().Cwd
	if cap_ < len(cwd)+1 {
		return errs.Error(errs.InvalidArgument)
	}
	buf := userBytes(a.A0, len(cwd)+1)
	if buf == nil {
		return errs.Error(errs.BadAddress)
	}
	copy(buf, cwd)
	buf[len(cwd)] = 0
	return errs.Success(a.A0)
}

func sysGetenv(ctx *Context, a Args) errs.Result {
	name, errRes := userString(a.A0, maxNameLen)
	if errRes != nil {
		return *errRes
	}
	val, ok := ctx.Procs.Current().Env[name]
	if !ok {
		return errs.Error(errs.FileNotFound)
	}
	cap_ := int(a.A2)
	if cap_ < len(val)+1 {
		return errs.Error(errs.InvalidArgument)
	}
	buf := userBytes(a.A1, len(val)+1)
	if buf == nil {
		return errs.Error(errs.BadAddress)
	}
	copy(buf, val)
	buf[len(val)] = 0
	return errs.Success(a.A1)
}

func sysSetenv(ctx *Context, a Args) errs.Result {
	name, errRes := userString(a.A0, maxNameLen)
	if errRes != nil {
		return *errRes
	}
	value, errRes := userString(a.A1, maxValLen)
	if errRes != nil {
		return *errRes
	}
	env := ctx.Procs.Current().Env
	if a.A2 == 0 {
		if _, exists := env[name]; exists {
			return errs.Success(0)
		}
	}
	env[name] = value
	return errs.Success(0)
}
