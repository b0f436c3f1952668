//go:build enclave

package platform

import (
	"fmt"
	"net"
	"testing"

	"github.com/mesmerverse/rats-tls/gate"
)

func TestDefaultDevGateUsesTCP(t *testing.T) {
	l, err := net.Listen("tcp", fmt.Sprintf("localhost:%d", gate.DefaultPort))
	if err != nil {
		t.Skipf("Gate port unavailable: %v", err)
	}
	defer l.Close()

	prev := Install(nil)
	SetDevGate(true)
	t.Cleanup(func() {
		SetDevGate(false)
		Install(prev)
	})

	// Stand-in parent answering a single getenv
	served := make(chan gate.Request, 1)
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		var req gate.Request
		if err := gate.ReadFrame(conn, &req); err != nil {
			return
		}
		served <- req
		gate.WriteFrame(conn, &gate.Response{ID: req.ID, Op: req.Op, Value: "warn"})
	}()

	a := Default()
	if _, ok := a.(*GateAdapter); !ok {
		t.Fatalf("Expected *GateAdapter, got %T", a)
	}
	if got := a.LogLevel(LogLevelEnv); got != LevelWarn {
		t.Errorf("Expected warn from the dev parent, got %v", got)
	}

	req := <-served
	if req.Op != gate.OpGetenv || req.Name != LogLevelEnv {
		t.Errorf("Unexpected request %+v", req)
	}
}
