//go:build enclave

package dispatch

// DefaultResolver ignores pluginDir: no code can be loaded into an enclave
// at runtime, so only the linked-in modules exist
func DefaultResolver(_ string) Resolver {
	return NewStaticResolver()
}
