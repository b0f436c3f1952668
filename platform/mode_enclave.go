//go:build enclave

package platform

import (
	"github.com/mesmerverse/rats-tls/gate"
	"github.com/rs/zerolog/log"
)

// Mode is the execution mode this binary was built for
const Mode = ModeIsolated

func defaultAdapter(devMode bool) Adapter {
	c, err := gate.Dial(gate.DefaultPort, devMode)
	if err != nil {
		log.Error().Err(err).Uint32("port", gate.DefaultPort).Bool("dev_mode", devMode).Msg("Failed to reach parent call gate")
		// Every primitive now fails with a transport fault
		return NewGateAdapter(deadGate{})
	}
	return NewGateAdapter(c)
}

type deadGate struct{}

func (deadGate) Call(*gate.Request) (*gate.Response, gate.Status) {
	return nil, gate.StatusTransport
}
