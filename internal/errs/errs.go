// Package errs carries the syscall-layer error taxonomy: the closed set of
// abstract failure kinds a handler can return, and their mapping to the
// negative, Linux-compatible errno values the dispatcher hands back to a
// caller.
package errs

// Kind enumerates every failure a syscall handler can report. It is a
// closed set; handlers never return a Kind outside this list (P6, P7).
type Kind int

const (
	InvalidSyscall Kind = iota
	NotImplemented
	InvalidArgument
	PermissionDenied
	FileNotFound
	OutOfMemory
	DeviceError
	Interrupted
	InvalidFileDescriptor
	BadAddress
	FileExists
	NotADirectory
	IsADirectory
	NoSpaceLeft
	TooManyOpenFiles
	InvalidOperation
	AccessDenied
	// NoChildren is SPEC_FULL's resolution of Open Question Q2: wait4 with
	// no terminated children reports ECHILD, not EINTR.
	NoChildren
)

var errno = map[Kind]int64{
	InvalidSyscall:        -1,
	NotImplemented:        -38,
	InvalidArgument:       -22,
	PermissionDenied:      -1,
	FileNotFound:          -2,
	OutOfMemory:           -12,
	DeviceError:           -5,
	Interrupted:           -4,
	InvalidFileDescriptor: -9,
	BadAddress:            -14,
	FileExists:            -17,
	NotADirectory:         -20,
	IsADirectory:          -21,
	NoSpaceLeft:           -28,
	TooManyOpenFiles:      -24,
	InvalidOperation:      -95,
	AccessDenied:          -13,
	NoChildren:            -10,
}

var names = map[Kind]string{
	InvalidSyscall:        "InvalidSyscall",
	NotImplemented:        "NotImplemented",
	InvalidArgument:       "InvalidArgument",
	PermissionDenied:      "PermissionDenied",
	FileNotFound:          "FileNotFound",
	OutOfMemory:           "OutOfMemory",
	DeviceError:           "DeviceError",
	Interrupted:           "Interrupted",
	InvalidFileDescriptor: "InvalidFileDescriptor",
	BadAddress:            "BadAddress",
	FileExists:            "FileExists",
	NotADirectory:         "NotADirectory",
	IsADirectory:          "IsADirectory",
	NoSpaceLeft:           "NoSpaceLeft",
	TooManyOpenFiles:      "TooManyOpenFiles",
	InvalidOperation:      "InvalidOperation",
	AccessDenied:          "AccessDenied",
	NoChildren:            "NoChildren",
}

// Errno converts a Kind to the externally observable, negative Linux errno.
func (k Kind) Errno() int64 {
	v, ok := errno[k]
	if !ok {
		// Closed enum; reaching here means a Kind was added without a
		// mapping entry. Fail loud rather than leak a zero/positive value.
		return -1
	}
	return v
}

func (k Kind) String() string {
	if s, ok := names[k]; ok {
		return s
	}
	return "UnknownKind"
}

// Result is the outcome of a syscall handler: either a non-negative success
// value or a failure Kind. Handlers build these; the dispatcher flattens
// them to the architectural return register.
type Result struct {
	ok    bool
	value uint64
	kind  Kind
}

// Success builds a successful Result carrying v as the return value.
func Success(v uint64) Result { return Result{ok: true, value: v} }

// Error builds a failed Result carrying k.
func Error(k Kind) Result { return Result{ok: false, kind: k} }

// IsError reports whether the Result is a failure.
func (r Result) IsError() bool { return !r.ok }

// Kind returns the failure kind; only meaningful when IsError is true.
func (r Result) Kind() Kind { return r.kind }

// Value returns the success value; only meaningful when IsError is false.
func (r Result) Value() uint64 { return r.value }

// ToRegister converts the Result to the raw value a syscall trampoline
// writes back into the architectural return register: the success value,
// or the negative errno on failure.
func (r Result) ToRegister() int64 {
	if r.ok {
		return int64(r.value)
	}
	return r.kind.Errno()
}
