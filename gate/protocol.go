// Package gate implements the call gate between an enclave and its untrusted
// parent process. The enclave side issues one request per primitive operation
// and the parent answers with a response carrying two independent results:
// the transport status of the gate itself and the logical result of the
// operation it performed.
//
// SECURITY: everything the enclave reads from a Response is host-controlled.
// This package only moves frames; callers validate what they receive.
package gate

import (
	"errors"
	"fmt"
)

// ErrUnknownOp is returned by Request.Validate for ops this gate does not carry
var ErrUnknownOp = errors.New("unknown gate op")

// Op identifies the primitive requested across the gate
type Op string

const (
	OpWrite    Op = "write"
	OpRead     Op = "read"
	OpOpenDir  Op = "opendir"
	OpReadDir  Op = "readdir"
	OpCloseDir Op = "closedir"
	OpGetenv   Op = "getenv"
	OpExit     Op = "exit"
)

// Status is the transport status of a gate round trip. It is distinct from
// the logical result of the requested operation.
type Status uint32

const (
	StatusOK               Status = 0x0000
	StatusUnexpected       Status = 0x0001
	StatusInvalidParameter Status = 0x0002
	StatusOutOfMemory      Status = 0x0003
	StatusUnsupported      Status = 0x0004

	// StatusTransport is never sent by a parent. The client reports it for
	// broken connections, undecodable frames and mismatched responses.
	StatusTransport Status = 0x1000
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusUnexpected:
		return "unexpected"
	case StatusInvalidParameter:
		return "invalid_parameter"
	case StatusOutOfMemory:
		return "out_of_memory"
	case StatusUnsupported:
		return "unsupported"
	case StatusTransport:
		return "transport"
	default:
		return fmt.Sprintf("status(0x%04x)", uint32(s))
	}
}

const (
	// DefaultPort is the parent's vsock port for the call gate
	DefaultPort = 5006

	// MaxIOSize bounds the payload of a single read or write request
	MaxIOSize = 1 << 20

	// MaxFrameSize bounds an encoded frame (same cap the parent link uses)
	MaxFrameSize = 10 * 1024 * 1024

	// Readdir logical results
	ReadDirEntry = 0
	ReadDirEnd   = 1
)

// Request is the enclave → parent half of a round trip
type Request struct {
	ID     string `cbor:"1,keyasint"`
	Op     Op     `cbor:"2,keyasint"`
	FD     int    `cbor:"3,keyasint,omitempty"`
	Data   []byte `cbor:"4,keyasint,omitempty"` // write payload
	Len    int    `cbor:"5,keyasint,omitempty"` // read size, getenv buffer size
	Path   string `cbor:"6,keyasint,omitempty"`
	Handle uint64 `cbor:"7,keyasint,omitempty"`
	Name   string `cbor:"8,keyasint,omitempty"` // environment variable
}

// Response is the parent → enclave half of a round trip
type Response struct {
	ID     string `cbor:"1,keyasint"`
	Op     Op     `cbor:"2,keyasint"`
	Status Status `cbor:"3,keyasint"`

	// Result is the logical return value: a byte count for read/write,
	// 0/1 (entry/end) for readdir, 0 for closedir success. Negative on failure.
	Result int64 `cbor:"4,keyasint"`
	Errno  int32 `cbor:"5,keyasint,omitempty"`

	Data   []byte `cbor:"6,keyasint,omitempty"`
	Handle uint64 `cbor:"7,keyasint,omitempty"`
	Entry  *Entry `cbor:"8,keyasint,omitempty"`
	Value  string `cbor:"9,keyasint,omitempty"`
}

// Entry is one directory record as sent by the parent
type Entry struct {
	Name string `cbor:"1,keyasint"`
	Type uint8  `cbor:"2,keyasint"`
}

// Validate rejects requests a parent must never act on
func (r *Request) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("missing request id")
	}
	switch r.Op {
	case OpWrite:
		if len(r.Data) > MaxIOSize {
			return fmt.Errorf("write payload too large: %d bytes", len(r.Data))
		}
	case OpRead:
		if r.Len < 0 || r.Len > MaxIOSize {
			return fmt.Errorf("invalid read length: %d", r.Len)
		}
	case OpOpenDir:
		if r.Path == "" {
			return fmt.Errorf("missing directory path")
		}
	case OpReadDir, OpCloseDir:
		if r.Handle == 0 {
			return fmt.Errorf("missing directory handle")
		}
	case OpGetenv:
		if r.Name == "" {
			return fmt.Errorf("missing variable name")
		}
		if r.Len <= 0 || r.Len > 4096 {
			return fmt.Errorf("invalid getenv buffer size: %d", r.Len)
		}
	case OpExit:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOp, r.Op)
	}
	return nil
}
