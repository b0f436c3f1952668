package gate

import (
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/mdlayher/vsock"
	"github.com/rs/zerolog/log"
)

// Caller performs one gate round trip. The returned Status is the transport
// status; when it is not StatusOK the Response must not be trusted.
type Caller interface {
	Call(req *Request) (*Response, Status)
}

// Client is the enclave side of the gate
type Client struct {
	conn net.Conn
	mu   sync.Mutex

	// set after any transport fault; the stream can no longer be framed
	broken bool
}

// NewClient wraps an established connection to the parent
func NewClient(conn net.Conn) *Client {
	return &Client{conn: conn}
}

// Dial connects to the parent. In dev mode the gate runs over TCP on
// localhost, otherwise over vsock to the host CID.
func Dial(port uint32, devMode bool) (*Client, error) {
	var conn net.Conn
	var err error

	if devMode {
		addr := fmt.Sprintf("localhost:%d", port)
		conn, err = net.Dial("tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to dev parent at %s: %w", addr, err)
		}
		log.Debug().Str("addr", addr).Msg("Connected to development parent via TCP")
	} else {
		conn, err = vsock.Dial(vsock.Host, port, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to parent port %d: %w", port, err)
		}
		log.Debug().Uint32("port", port).Msg("Connected to parent via vsock")
	}

	return NewClient(conn), nil
}

// Call sends req and waits for the matching response. Calls are serialised;
// the gate carries one outstanding request at a time. Call does not log:
// the enclave logger itself writes through the gate.
func (c *Client) Call(req *Request) (*Response, Status) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.broken {
		return nil, StatusTransport
	}

	req.ID = uuid.NewString()

	if err := WriteFrame(c.conn, req); err != nil {
		c.broken = true
		return nil, StatusTransport
	}

	var resp Response
	if err := ReadFrame(c.conn, &resp); err != nil {
		c.broken = true
		return nil, StatusTransport
	}

	if resp.ID != req.ID || resp.Op != req.Op {
		c.broken = true
		return nil, StatusTransport
	}

	return &resp, resp.Status
}

// Close closes the connection to the parent
func (c *Client) Close() error {
	return c.conn.Close()
}

// Listen opens the parent side listener: vsock on any CID, or TCP in dev mode
func Listen(port uint32, devMode bool) (net.Listener, error) {
	if devMode {
		l, err := net.Listen("tcp", fmt.Sprintf("localhost:%d", port))
		if err != nil {
			return nil, fmt.Errorf("failed to create TCP listener: %w", err)
		}
		return l, nil
	}

	l, err := vsock.Listen(port, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create vsock listener: %w", err)
	}
	return l, nil
}
