// Package dispatch initializes backend modules by name and registers them
// with the framework, one post-init hook per kind the module implements.
//
// The algorithm is the same in both execution modes. Only the Resolver
// differs: host binaries load shared objects, enclave binaries can only pick
// from the modules linked into them.
package dispatch

import (
	"fmt"
	"plugin"

	"github.com/mesmerverse/rats-tls/backend"
	"github.com/rs/zerolog/log"
)

// Handle is the loader handle of a resolved module. It is nil for modules
// linked into the binary. The loader owns it; other subsystems may hold the
// same handle.
type Handle interface {
	Lookup(symName string) (plugin.Symbol, error)
}

// Registrar makes an initialized module visible to the rest of the
// framework. Each hook may reject the module.
type Registrar interface {
	CryptoPostInit(name string, h Handle) error
	AttesterPostInit(name string, h Handle) error
	VerifierPostInit(name string, h Handle) error
	TransportPostInit(name string, h Handle) error
}

// Resolved is a module whose initializers have run
type Resolved struct {
	Handle Handle
	Kinds  []backend.Kind
}

// Resolver finds a module by name (or locator) and runs its initializers
// exactly once per call
type Resolver interface {
	Resolve(name, locator string) (*Resolved, error)
}

// Dispatcher is used once at startup, before the framework goes concurrent.
// It is not safe for concurrent use.
type Dispatcher struct {
	resolver  Resolver
	registrar Registrar
}

// DefaultPluginDir is where host binaries look for module shared objects
const DefaultPluginDir = "/usr/local/lib/rats-tls"

// NewWithResolver creates a dispatcher with an explicit resolver
func NewWithResolver(resolver Resolver, registrar Registrar) *Dispatcher {
	return &Dispatcher{
		resolver:  resolver,
		registrar: registrar,
	}
}

// Initialize resolves the module called name, runs its initializers and
// registers it for every kind it implements, in the order crypto, attester,
// verifier, TLS wrapper. locator addresses the shared object in host mode
// and is ignored for linked-in modules.
//
// Registration stops at the first hook that fails and that error is
// returned as a *RegistrationError. Kinds registered before the failing one
// are NOT rolled back: a caller that receives a *RegistrationError for a
// multi-kind module must assume the earlier kinds are live. Nothing is
// retried.
func (d *Dispatcher) Initialize(name, locator string) error {
	resolved, err := d.resolver.Resolve(name, locator)
	if err != nil {
		log.Error().Err(err).Str("name", name).Str("locator", locator).Msg("Failed to resolve module")
		return err
	}

	for _, kind := range ordered(resolved.Kinds) {
		hook, err := d.hook(kind)
		if err != nil {
			return &RegistrationError{Name: name, Kind: kind, Err: err}
		}
		if err := hook(name, resolved.Handle); err != nil {
			log.Error().
				Err(err).
				Str("name", name).
				Str("kind", kind.String()).
				Msg("Module registration failed")
			return &RegistrationError{Name: name, Kind: kind, Err: err}
		}
		log.Debug().Str("name", name).Str("kind", kind.String()).Msg("Module registered")
	}

	return nil
}

func (d *Dispatcher) hook(kind backend.Kind) (func(string, Handle) error, error) {
	switch kind {
	case backend.KindCrypto:
		return d.registrar.CryptoPostInit, nil
	case backend.KindAttester:
		return d.registrar.AttesterPostInit, nil
	case backend.KindVerifier:
		return d.registrar.VerifierPostInit, nil
	case backend.KindTLSWrapper:
		return d.registrar.TransportPostInit, nil
	default:
		return nil, fmt.Errorf("no post-init hook for %s", kind)
	}
}

// ordered returns kinds deduplicated and in registration order
func ordered(kinds []backend.Kind) []backend.Kind {
	var out []backend.Kind
	for _, k := range backend.Kinds {
		for _, have := range kinds {
			if have == k {
				out = append(out, k)
				break
			}
		}
	}
	return out
}
