//go:build !enclave

package platform

// Mode is the execution mode this binary was built for
const Mode = ModeHost

func defaultAdapter(bool) Adapter {
	return NewHostAdapter()
}
