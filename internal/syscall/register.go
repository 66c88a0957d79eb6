package syscall

// NewDefaultTable builds the Table this kernel core boots with: every
// syscall number spec.md §4.5 describes gets its handler; every number
// §6.5 lists but §4.5 is silent on (alarm, mprotect, msync, madvise, the
// shm* trio, nanosleep, getrusage, sysinfo, fchdir, symlink, readlink,
// chmod/fchmod, chown/fchown/lchown, statfs/fstatfs, flock,
// fsync/fdatasync, truncate/ftruncate, umask) is left unregistered, so
// Dispatch's existing nil-handler case reports NotImplemented for it
// (P6: every slot in [0, NumSyscalls) yields a well-formed Result).
func NewDefaultTable() *Table {
	t := NewTable()

	t.Register(0, sysExit)
	t.Register(1, sysWrite)
	t.Register(2, sysOpen)
	t.Register(3, sysClose)
	t.Register(4, sysRead)
	t.Register(5, sysLseek)
	t.Register(6, sysIoctl)
	t.Register(7, sysAccess)
	t.Register(8, sysKill)
	t.Register(9, sysGetpid)
	t.Register(10, sysDup)
	t.Register(11, sysGetppid)
	t.Register(12, sysDup2)
	t.Register(13, sysPipe)
	t.Register(15, sysBrk)
	t.Register(16, sysMmap)
	t.Register(17, sysMunmap)
	t.Register(24, sysFork)
	t.Register(25, sysExecve)
	t.Register(26, sysWait4)
	t.Register(28, sysGettimeofday)
	t.Register(31, identityZero)
	t.Register(32, identityZero)
	t.Register(33, identityZero)
	t.Register(34, identityZero)
	t.Register(35, identityZero)
	t.Register(36, identityZero)
	t.Register(37, identityZero)
	t.Register(38, identityZero)
	t.Register(39, sysChdir)
	t.Register(41, sysMkdir)
	t.Register(42, sysRmdir)
	t.Register(43, sysUnlink)
	t.Register(51, sysStat)
	t.Register(52, sysLstat)
	t.Register(53, sysFstat)
	t.Register(56, sysGetdents)
	t.Register(57, sysFcntl)
	t.Register(64, sysGetcwd)
	t.Register(65, sysGetenv)
	t.Register(66, sysSetenv)

	return t
}
