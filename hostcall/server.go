// Package hostcall is the parent side of the call gate. It fulfils enclave
// requests with direct OS calls.
//
// SECURITY: the parent is in the UNTRUSTED zone. Nothing here is trusted by
// the enclave; the checks below protect the host from a misbehaving enclave.
package hostcall

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/mesmerverse/rats-tls/gate"
	"github.com/mesmerverse/rats-tls/platform"
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

// Config controls what an enclave may reach through the gate
type Config struct {
	// AllowedDirs limits opendir to these trees. Empty allows any path.
	AllowedDirs []string `yaml:"allowed_dirs"`

	// AllowedFDs limits read and write to these descriptors. Empty allows
	// the standard streams only.
	AllowedFDs []int `yaml:"allowed_fds"`

	// AllowedEnv limits getenv to these variable names. Empty allows the
	// framework log level variable only.
	AllowedEnv []string `yaml:"allowed_env"`
}

// Server answers gate requests on accepted connections
type Server struct {
	cfg     Config
	adapter *platform.HostAdapter

	// OnExit runs when the enclave asks the host to end it. The default
	// logs and closes the session.
	OnExit func()

	mu    sync.Mutex
	owned map[platform.DirHandle]net.Conn

	sessions atomic.Int64
	requests atomic.Uint64
	rejected atomic.Uint64
}

// Stats is a snapshot of gate activity
type Stats struct {
	Sessions int64
	Requests uint64
	Rejected uint64
	OpenDirs int
}

// Stats reports current gate activity
func (s *Server) Stats() Stats {
	s.mu.Lock()
	open := len(s.owned)
	s.mu.Unlock()

	return Stats{
		Sessions: s.sessions.Load(),
		Requests: s.requests.Load(),
		Rejected: s.rejected.Load(),
		OpenDirs: open,
	}
}

// NewServer creates a server backed by a host adapter
func NewServer(cfg Config, adapter *platform.HostAdapter) *Server {
	if len(cfg.AllowedFDs) == 0 {
		cfg.AllowedFDs = []int{0, 1, 2}
	}
	if len(cfg.AllowedEnv) == 0 {
		cfg.AllowedEnv = []string{platform.LogLevelEnv}
	}
	return &Server{
		cfg:     cfg,
		adapter: adapter,
		owned:   make(map[platform.DirHandle]net.Conn),
	}
}

// Serve accepts connections until ctx is cancelled or the listener fails
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	go func() {
		<-ctx.Done()
		l.Close()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go s.ServeConn(conn)
	}
}

// ServeConn handles one enclave session until the connection closes. Any
// directory streams the session left open are released.
func (s *Server) ServeConn(conn net.Conn) {
	defer conn.Close()
	defer s.releaseSession(conn)

	s.sessions.Add(1)
	defer s.sessions.Add(-1)

	log.Info().Str("remote", conn.RemoteAddr().String()).Msg("Enclave connected to call gate")

	for {
		var req gate.Request
		if err := gate.ReadFrame(conn, &req); err != nil {
			if !errors.Is(err, io.EOF) {
				log.Warn().Err(err).Msg("Dropping gate session")
			}
			return
		}

		resp := s.handle(conn, &req)
		if err := gate.WriteFrame(conn, resp); err != nil {
			log.Warn().Err(err).Str("op", string(req.Op)).Msg("Failed to answer gate request")
			return
		}

		if req.Op == gate.OpExit {
			if s.OnExit != nil {
				s.OnExit()
			} else {
				log.Warn().Msg("Enclave requested termination")
			}
			return
		}
	}
}

func (s *Server) handle(conn net.Conn, req *gate.Request) *gate.Response {
	resp := &gate.Response{ID: req.ID, Op: req.Op}
	s.requests.Add(1)

	if err := req.Validate(); err != nil {
		s.rejected.Add(1)
		log.Warn().Err(err).Str("op", string(req.Op)).Msg("Rejected gate request")
		if errors.Is(err, gate.ErrUnknownOp) {
			resp.Status = gate.StatusUnsupported
		} else {
			resp.Status = gate.StatusInvalidParameter
		}
		return resp
	}

	log.Debug().Str("op", string(req.Op)).Str("id", req.ID).Msg("Gate request")

	switch req.Op {
	case gate.OpWrite:
		if !s.fdAllowed(req.FD) {
			return s.denied(resp)
		}
		n, err := s.adapter.Write(req.FD, req.Data)
		return result(resp, int64(n), err)

	case gate.OpRead:
		if !s.fdAllowed(req.FD) {
			return s.denied(resp)
		}
		buf := make([]byte, req.Len)
		n, err := s.adapter.Read(req.FD, buf)
		if err == nil {
			resp.Data = buf[:n]
		}
		return result(resp, int64(n), err)

	case gate.OpOpenDir:
		if !s.dirAllowed(req.Path) {
			return s.denied(resp)
		}
		h, err := s.adapter.OpenDir(req.Path)
		if err == nil {
			s.claim(conn, h)
			resp.Handle = uint64(h)
		}
		return result(resp, 0, err)

	case gate.OpReadDir:
		h := platform.DirHandle(req.Handle)
		if !s.owns(conn, h) {
			return result(resp, 0, badHandle)
		}
		ent, err := s.adapter.NextEntry(h)
		if errors.Is(err, io.EOF) {
			resp.Result = gate.ReadDirEnd
			return resp
		}
		if err == nil {
			resp.Entry = &gate.Entry{Name: ent.Name, Type: uint8(ent.Type)}
		}
		return result(resp, gate.ReadDirEntry, err)

	case gate.OpCloseDir:
		h := platform.DirHandle(req.Handle)
		if !s.owns(conn, h) {
			return result(resp, 0, badHandle)
		}
		s.release(h)
		return result(resp, 0, s.adapter.CloseDir(h))

	case gate.OpGetenv:
		if !s.envAllowed(req.Name) {
			return resp
		}
		v := os.Getenv(req.Name)
		if len(v) >= req.Len {
			v = v[:req.Len-1]
		}
		resp.Value = v
		return resp

	case gate.OpExit:
		return resp
	}

	resp.Status = gate.StatusUnsupported
	return resp
}

var badHandle = &platform.BoundaryError{Op: "gate", Errno: unix.EBADF}

func result(resp *gate.Response, n int64, err error) *gate.Response {
	if err != nil {
		var be *platform.BoundaryError
		resp.Errno = int32(unix.EIO)
		if errors.As(err, &be) && be.Errno != 0 {
			resp.Errno = int32(be.Errno)
		}
		resp.Result = -1
		return resp
	}
	resp.Result = n
	return resp
}

func (s *Server) denied(resp *gate.Response) *gate.Response {
	s.rejected.Add(1)
	resp.Result = -1
	resp.Errno = int32(unix.EACCES)
	return resp
}

func (s *Server) fdAllowed(fd int) bool {
	for _, allowed := range s.cfg.AllowedFDs {
		if fd == allowed {
			return true
		}
	}
	return false
}

func (s *Server) envAllowed(name string) bool {
	for _, allowed := range s.cfg.AllowedEnv {
		if name == allowed {
			return true
		}
	}
	return false
}

func (s *Server) dirAllowed(path string) bool {
	if len(s.cfg.AllowedDirs) == 0 {
		return true
	}
	clean := filepath.Clean(path)
	for _, root := range s.cfg.AllowedDirs {
		root = filepath.Clean(root)
		if clean == root || strings.HasPrefix(clean, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// Handles are scoped to the session that opened them

func (s *Server) claim(conn net.Conn, h platform.DirHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owned[h] = conn
}

func (s *Server) owns(conn net.Conn, h platform.DirHandle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owned[h] == conn
}

func (s *Server) release(h platform.DirHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.owned, h)
}

func (s *Server) releaseSession(conn net.Conn) {
	s.mu.Lock()
	var leaked []platform.DirHandle
	for h, owner := range s.owned {
		if owner == conn {
			leaked = append(leaked, h)
			delete(s.owned, h)
		}
	}
	s.mu.Unlock()

	for _, h := range leaked {
		s.adapter.CloseDir(h)
	}
	if len(leaked) > 0 {
		log.Debug().Int("count", len(leaked)).Msg("Closed directories left open by enclave")
	}
}
