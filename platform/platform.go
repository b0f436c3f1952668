// Package platform is the boundary I/O adapter of the framework. It exposes
// a fixed set of primitives (write, read, directory iteration, log level
// lookup, abnormal termination) with one meaning in both execution modes:
//
//   - Host: the primitives are OS calls made directly by this process.
//   - Isolated (build tag "enclave"): every primitive is a round trip through
//     the call gate to the untrusted parent, and every response is treated as
//     attacker-controlled input.
//
// Callers use the Adapter returned by Default and never need to know which
// mode is active. Nothing outside this surface may be used to reach the host.
package platform

import (
	"errors"
	"fmt"
	"sync"

	"github.com/mesmerverse/rats-tls/gate"
	"golang.org/x/sys/unix"
)

// ExecutionMode is fixed at build time; see Mode
type ExecutionMode int

const (
	ModeHost ExecutionMode = iota
	ModeIsolated
)

func (m ExecutionMode) String() string {
	if m == ModeIsolated {
		return "isolated"
	}
	return "host"
}

// Adapter is the complete capability set available for host interaction
type Adapter interface {
	// Terminate ends the process abnormally. It never returns and runs no
	// deferred cleanup; do not call it while holding resources.
	Terminate()

	// LogLevel reads the named environment variable. It never fails:
	// anything that is not a recognised level yields LevelDefault.
	LogLevel(name string) LogLevel

	Write(fd int, p []byte) (int, error)
	Read(fd int, p []byte) (int, error)

	// OpenDir starts a traversal. The returned handle is never zero.
	OpenDir(path string) (DirHandle, error)

	// NextEntry advances the traversal and returns io.EOF once it is
	// exhausted. There is no rewind. A handle is not safe for concurrent use.
	NextEntry(h DirHandle) (DirEntry, error)

	// CloseDir releases the traversal. It is safe after a failed NextEntry
	// and returns an error matching ErrInvalidHandle for a closed handle.
	CloseDir(h DirHandle) error
}

// DirHandle is an opaque traversal token. Zero is never a valid handle.
type DirHandle uint64

// EntryType is the dirent type tag of a directory entry
type EntryType uint8

const (
	EntryUnknown EntryType = unix.DT_UNKNOWN
	EntryFIFO    EntryType = unix.DT_FIFO
	EntryChar    EntryType = unix.DT_CHR
	EntryDir     EntryType = unix.DT_DIR
	EntryBlock   EntryType = unix.DT_BLK
	EntryRegular EntryType = unix.DT_REG
	EntrySymlink EntryType = unix.DT_LNK
	EntrySocket  EntryType = unix.DT_SOCK
)

func (t EntryType) valid() bool {
	switch t {
	case EntryUnknown, EntryFIFO, EntryChar, EntryDir, EntryBlock, EntryRegular, EntrySymlink, EntrySocket:
		return true
	}
	return false
}

// DirEntry is one traversal step. Each call returns a fresh value owned by
// the caller.
type DirEntry struct {
	Name string
	Type EntryType
}

// MaxNameLen is the capacity of the name field of an entry record
const MaxNameLen = 255

var (
	// ErrBoundaryIO matches every *BoundaryError
	ErrBoundaryIO = errors.New("boundary i/o failure")

	// ErrAllocation reports that an entry record could not be obtained for
	// the next directory entry. It is distinct from io.EOF.
	ErrAllocation = errors.New("failed to allocate directory entry")

	ErrInvalidHandle = errors.New("invalid directory handle")

	// ErrMalformed reports a response that arrived with an OK gate status
	// but whose logical result is missing or inconsistent
	ErrMalformed = errors.New("malformed gate response")

	// ErrGateFault reports a non-OK gate transport status
	ErrGateFault = errors.New("gate transport fault")
)

// BoundaryError is the failure of one adapter primitive. Status is the gate
// transport status (always StatusOK in host mode), Errno the logical error
// reported by the OS, locally or through the parent.
type BoundaryError struct {
	Op     string
	Status gate.Status
	Errno  unix.Errno
	Err    error
}

func (e *BoundaryError) Error() string {
	msg := fmt.Sprintf("%s failed", e.Op)
	if e.Status != gate.StatusOK {
		msg += fmt.Sprintf(" (gate status 0x%04x)", uint32(e.Status))
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Errno != 0 && !errors.Is(e.Err, e.Errno) {
		msg += ": " + e.Errno.Error()
	}
	return msg
}

func (e *BoundaryError) Unwrap() []error {
	var errs []error
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	if e.Errno != 0 {
		errs = append(errs, e.Errno)
	}
	return errs
}

func (e *BoundaryError) Is(target error) bool {
	return target == ErrBoundaryIO
}

var (
	activeMu sync.Mutex
	active   Adapter
	devGate  bool
)

// SetDevGate makes an isolated-mode binary reach the parent over TCP on
// localhost instead of vsock, matching a parent started with -dev-mode. It
// must be called before the first Default. Host builds ignore it.
func SetDevGate(on bool) {
	activeMu.Lock()
	defer activeMu.Unlock()
	devGate = on
}

// Default returns the process-wide adapter for the mode this binary was
// built for, creating it on first use.
func Default() Adapter {
	activeMu.Lock()
	defer activeMu.Unlock()

	if active == nil {
		active = defaultAdapter(devGate)
	}
	return active
}

// Install replaces the process-wide adapter and returns the previous one
// (nil if none was created yet).
func Install(a Adapter) Adapter {
	activeMu.Lock()
	defer activeMu.Unlock()

	prev := active
	active = a
	return prev
}
