//go:build !enclave

package dispatch

// DefaultResolver loads shared objects from pluginDir and falls back to the
// linked-in modules for names that have none
func DefaultResolver(pluginDir string) Resolver {
	return &PluginResolver{
		Dir:      pluginDir,
		Fallback: NewStaticResolver(),
	}
}
