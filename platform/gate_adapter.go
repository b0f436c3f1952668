package platform

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mesmerverse/rats-tls/gate"
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

// GateAdapter performs the primitives inside an enclave by asking the parent
// through the call gate.
//
// SECURITY: the parent is untrusted. A non-OK gate status fails the
// operation no matter what payload came with it, and an OK status never
// stands in for a missing or inconsistent result. Handles returned by the
// parent are opaque ids that are only ever handed back to the parent.
type GateAdapter struct {
	gate gate.Caller
	exit func(code int)
}

// NewGateAdapter creates an adapter for isolated mode
func NewGateAdapter(c gate.Caller) *GateAdapter {
	return &GateAdapter{
		gate: c,
		exit: os.Exit,
	}
}

// call performs one round trip and converts a transport fault into an error.
// quiet suppresses the fault log line for calls made on behalf of the logger.
func (a *GateAdapter) call(req *gate.Request, quiet bool) (*gate.Response, error) {
	resp, status := a.gate.Call(req)
	if status == gate.StatusOK && resp == nil {
		status = gate.StatusTransport
	}
	if status != gate.StatusOK {
		if !quiet {
			log.Error().
				Str("op", string(req.Op)).
				Str("status", fmt.Sprintf("0x%04x", uint32(status))).
				Msg("Gate call failed")
		}
		return nil, &BoundaryError{Op: string(req.Op), Status: status, Err: ErrGateFault}
	}
	return resp, nil
}

func (a *GateAdapter) malformed(op gate.Op, format string, args ...any) error {
	log.Error().Str("op", string(op)).Msgf("Malformed gate response: "+format, args...)
	return &BoundaryError{Op: string(op), Err: fmt.Errorf("%w: "+format, append([]any{ErrMalformed}, args...)...)}
}

func (a *GateAdapter) Terminate() {
	// The result is irrelevant: the enclave stops either way
	a.gate.Call(&gate.Request{Op: gate.OpExit})
	a.exit(1)
	select {}
}

func (a *GateAdapter) LogLevel(name string) LogLevel {
	resp, err := a.call(&gate.Request{Op: gate.OpGetenv, Name: name, Len: logLevelBufSize}, false)
	if err != nil {
		return LevelDefault
	}

	// A value that does not fit the buffer would arrive truncated
	if len(resp.Value) >= logLevelBufSize || strings.IndexByte(resp.Value, 0) >= 0 {
		return LevelDefault
	}
	return ParseLogLevel(resp.Value)
}

func (a *GateAdapter) Write(fd int, p []byte) (int, error) {
	return a.write(fd, p, false)
}

func (a *GateAdapter) write(fd int, p []byte, quiet bool) (int, error) {
	if len(p) > gate.MaxIOSize {
		p = p[:gate.MaxIOSize]
	}

	resp, err := a.call(&gate.Request{Op: gate.OpWrite, FD: fd, Data: p}, quiet)
	if err != nil {
		return -1, err
	}

	switch {
	case resp.Result < 0:
		return -1, &BoundaryError{Op: "write", Errno: errno(resp.Errno)}
	case resp.Result > int64(len(p)):
		if quiet {
			return -1, &BoundaryError{Op: "write", Err: ErrMalformed}
		}
		return -1, a.malformed(gate.OpWrite, "wrote %d of %d bytes", resp.Result, len(p))
	}
	return int(resp.Result), nil
}

// writeQuiet is used by StreamWriter: a failing log sink cannot log
func (a *GateAdapter) writeQuiet(fd int, p []byte) (int, error) {
	return a.write(fd, p, true)
}

func (a *GateAdapter) Read(fd int, p []byte) (int, error) {
	want := len(p)
	if want > gate.MaxIOSize {
		want = gate.MaxIOSize
	}

	resp, err := a.call(&gate.Request{Op: gate.OpRead, FD: fd, Len: want}, false)
	if err != nil {
		return -1, err
	}

	switch {
	case resp.Result < 0:
		return -1, &BoundaryError{Op: "read", Errno: errno(resp.Errno)}
	case resp.Result > int64(want):
		return -1, a.malformed(gate.OpRead, "read %d bytes into %d byte buffer", resp.Result, want)
	case resp.Result != int64(len(resp.Data)):
		return -1, a.malformed(gate.OpRead, "count %d does not match %d data bytes", resp.Result, len(resp.Data))
	}
	return copy(p, resp.Data), nil
}

func (a *GateAdapter) OpenDir(path string) (DirHandle, error) {
	resp, err := a.call(&gate.Request{Op: gate.OpOpenDir, Path: path}, false)
	if err != nil {
		return 0, err
	}

	if resp.Result < 0 {
		return 0, &BoundaryError{Op: "opendir", Errno: errno(resp.Errno)}
	}
	if resp.Handle == 0 {
		return 0, a.malformed(gate.OpOpenDir, "success without a handle")
	}
	return DirHandle(resp.Handle), nil
}

func (a *GateAdapter) NextEntry(h DirHandle) (DirEntry, error) {
	if h == 0 {
		return DirEntry{}, invalidHandle("readdir")
	}

	resp, err := a.call(&gate.Request{Op: gate.OpReadDir, Handle: uint64(h)}, false)
	if err != nil {
		return DirEntry{}, err
	}

	switch resp.Result {
	case gate.ReadDirEnd:
		return DirEntry{}, io.EOF
	case gate.ReadDirEntry:
	default:
		if resp.Result > 0 {
			return DirEntry{}, a.malformed(gate.OpReadDir, "unknown result %d", resp.Result)
		}
		e := errno(resp.Errno)
		if e == unix.EBADF {
			return DirEntry{}, invalidHandle("readdir")
		}
		return DirEntry{}, &BoundaryError{Op: "readdir", Errno: e}
	}

	ent := resp.Entry
	switch {
	case ent == nil || ent.Name == "":
		return DirEntry{}, a.malformed(gate.OpReadDir, "entry missing")
	case len(ent.Name) > MaxNameLen:
		log.Error().Int("name_len", len(ent.Name)).Msg("Directory entry does not fit an entry record")
		return DirEntry{}, &BoundaryError{Op: "readdir", Errno: unix.ENOMEM, Err: ErrAllocation}
	case strings.ContainsAny(ent.Name, "/\x00"), ent.Name == ".", ent.Name == "..":
		return DirEntry{}, a.malformed(gate.OpReadDir, "invalid entry name %q", ent.Name)
	case !EntryType(ent.Type).valid():
		return DirEntry{}, a.malformed(gate.OpReadDir, "invalid entry type %d", ent.Type)
	}

	return DirEntry{Name: ent.Name, Type: EntryType(ent.Type)}, nil
}

func (a *GateAdapter) CloseDir(h DirHandle) error {
	if h == 0 {
		return invalidHandle("closedir")
	}

	resp, err := a.call(&gate.Request{Op: gate.OpCloseDir, Handle: uint64(h)}, false)
	if err != nil {
		return err
	}

	if resp.Result != 0 {
		e := errno(resp.Errno)
		if e == unix.EBADF {
			return invalidHandle("closedir")
		}
		return &BoundaryError{Op: "closedir", Errno: e}
	}
	return nil
}

// errno converts a host-reported error number, which may be anything
func errno(v int32) unix.Errno {
	if v <= 0 || v > 4095 {
		return unix.EIO
	}
	return unix.Errno(v)
}
