// Package registry holds the modules the framework may use, by kind. Its
// post-init hooks are the registration step of module initialization.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/mesmerverse/rats-tls/backend"
	"github.com/mesmerverse/rats-tls/dispatch"
	"github.com/rs/zerolog/log"
)

// ErrAlreadyRegistered is returned when a name is registered twice for a kind
var ErrAlreadyRegistered = errors.New("module already registered")

// Entry is a registered module
type Entry struct {
	backend.Descriptor
	Handle dispatch.Handle
}

// Registry implements dispatch.Registrar
type Registry struct {
	staging *backend.Staging

	mu      sync.RWMutex
	entries map[backend.Kind]map[string]*Entry
}

var _ dispatch.Registrar = (*Registry)(nil)

// New creates a registry that accepts modules staged in staging
func New(staging *backend.Staging) *Registry {
	return &Registry{
		staging: staging,
		entries: make(map[backend.Kind]map[string]*Entry),
	}
}

func (r *Registry) CryptoPostInit(name string, h dispatch.Handle) error {
	return r.register(backend.KindCrypto, name, h)
}

func (r *Registry) AttesterPostInit(name string, h dispatch.Handle) error {
	return r.register(backend.KindAttester, name, h)
}

func (r *Registry) VerifierPostInit(name string, h dispatch.Handle) error {
	return r.register(backend.KindVerifier, name, h)
}

func (r *Registry) TransportPostInit(name string, h dispatch.Handle) error {
	return r.register(backend.KindTLSWrapper, name, h)
}

func (r *Registry) register(kind backend.Kind, name string, h dispatch.Handle) error {
	desc, err := r.staging.Lookup(kind, name)
	if err != nil {
		return err
	}

	r.mu.RLock()
	_, dup := r.entries[kind][name]
	r.mu.RUnlock()
	if dup {
		return fmt.Errorf("%w: %s %s", ErrAlreadyRegistered, kind, name)
	}

	if desc.Probe != nil {
		if err := desc.Probe(); err != nil {
			return fmt.Errorf("capability check failed: %w", err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	byName, ok := r.entries[kind]
	if !ok {
		byName = make(map[string]*Entry)
		r.entries[kind] = byName
	}
	if _, dup := byName[name]; dup {
		return fmt.Errorf("%w: %s %s", ErrAlreadyRegistered, kind, name)
	}
	byName[name] = &Entry{Descriptor: desc, Handle: h}

	log.Info().
		Str("name", name).
		Str("kind", kind.String()).
		Int("priority", desc.Priority).
		Msg("Registered module")
	return nil
}

// Has reports whether name is registered for kind
func (r *Registry) Has(kind backend.Kind, name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[kind][name]
	return ok
}

// Registered lists the entries of kind, highest priority first
func (r *Registry) Registered(kind backend.Kind) []*Entry {
	r.mu.RLock()
	out := make([]*Entry, 0, len(r.entries[kind]))
	for _, e := range r.entries[kind] {
		out = append(out, e)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Kinds lists the kinds name is registered for, in registration order
func (r *Registry) Kinds(name string) []backend.Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var kinds []backend.Kind
	for _, k := range backend.Kinds {
		if _, ok := r.entries[k][name]; ok {
			kinds = append(kinds, k)
		}
	}
	return kinds
}
