package platform

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

// HostAdapter performs the primitives with direct OS calls. Open directory
// streams are kept under numeric aliases that are never reused.
type HostAdapter struct {
	mu   sync.Mutex
	next DirHandle
	dirs map[DirHandle]*os.File

	exit func(code int)
}

// NewHostAdapter creates an adapter for host mode
func NewHostAdapter() *HostAdapter {
	return &HostAdapter{
		dirs: make(map[DirHandle]*os.File),
		exit: os.Exit,
	}
}

func (a *HostAdapter) Terminate() {
	a.exit(1)
	// exit replaced in tests must still never return to the caller
	select {}
}

func (a *HostAdapter) LogLevel(name string) LogLevel {
	return ParseLogLevel(os.Getenv(name))
}

func (a *HostAdapter) Write(fd int, p []byte) (int, error) {
	for {
		n, err := unix.Write(fd, p)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return -1, errnoError("write", err)
		}
		return n, nil
	}
}

func (a *HostAdapter) Read(fd int, p []byte) (int, error) {
	for {
		n, err := unix.Read(fd, p)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return -1, errnoError("read", err)
		}
		return n, nil
	}
}

func (a *HostAdapter) OpenDir(path string) (DirHandle, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_DIRECTORY|unix.O_CLOEXEC, 0)
	if err != nil {
		return 0, errnoError("opendir", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.next++
	h := a.next
	a.dirs[h] = os.NewFile(uintptr(fd), path)
	return h, nil
}

func (a *HostAdapter) NextEntry(h DirHandle) (DirEntry, error) {
	a.mu.Lock()
	dir, ok := a.dirs[h]
	a.mu.Unlock()
	if !ok {
		return DirEntry{}, invalidHandle("readdir")
	}

	entries, err := dir.ReadDir(1)
	if err == io.EOF || (err == nil && len(entries) == 0) {
		return DirEntry{}, io.EOF
	}
	if err != nil {
		return DirEntry{}, errnoError("readdir", err)
	}

	return DirEntry{
		Name: entries[0].Name(),
		Type: entryType(entries[0].Type()),
	}, nil
}

func (a *HostAdapter) CloseDir(h DirHandle) error {
	a.mu.Lock()
	dir, ok := a.dirs[h]
	delete(a.dirs, h)
	a.mu.Unlock()
	if !ok {
		return invalidHandle("closedir")
	}

	if err := dir.Close(); err != nil {
		log.Error().Err(err).Uint64("handle", uint64(h)).Msg("Directory close failed")
		return errnoError("closedir", err)
	}
	return nil
}

// Open returns the number of directory streams currently open
func (a *HostAdapter) Open() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.dirs)
}

func entryType(m fs.FileMode) EntryType {
	switch {
	case m&fs.ModeDir != 0:
		return EntryDir
	case m&fs.ModeSymlink != 0:
		return EntrySymlink
	case m&fs.ModeNamedPipe != 0:
		return EntryFIFO
	case m&fs.ModeSocket != 0:
		return EntrySocket
	case m&fs.ModeCharDevice != 0:
		return EntryChar
	case m&fs.ModeDevice != 0:
		return EntryBlock
	case m&fs.ModeIrregular != 0:
		return EntryUnknown
	default:
		return EntryRegular
	}
}

func invalidHandle(op string) error {
	return &BoundaryError{Op: op, Errno: unix.EBADF, Err: ErrInvalidHandle}
}

func errnoError(op string, err error) error {
	var errno unix.Errno
	if !errors.As(err, &errno) {
		errno = unix.EIO
	}
	return &BoundaryError{Op: op, Errno: errno, Err: err}
}
