// Package backend describes the pluggable modules of the framework: crypto
// providers, attesters, verifiers and TLS wrappers. A module's initializer
// stages one descriptor per kind it implements; the framework's post-init
// hooks then pick the staged descriptors up by name.
package backend

import (
	"errors"
	"fmt"
	"sync"
)

// Kind is one of the four module kinds
type Kind int

const (
	KindCrypto Kind = iota
	KindAttester
	KindVerifier
	KindTLSWrapper
)

// Kinds lists every kind in registration order. Crypto comes first so a TLS
// wrapper registered by the same module can rely on its crypto provider.
var Kinds = []Kind{KindCrypto, KindAttester, KindVerifier, KindTLSWrapper}

func (k Kind) String() string {
	switch k {
	case KindCrypto:
		return "crypto"
	case KindAttester:
		return "attester"
	case KindVerifier:
		return "verifier"
	case KindTLSWrapper:
		return "tls_wrapper"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind is the inverse of Kind.String
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown module kind %q", s)
}

// Descriptor is what a module initializer publishes for one kind
type Descriptor struct {
	Name     string
	Kind     Kind
	Priority int

	// Probe, if set, checks that the capability is usable on this machine.
	// It runs during post-init registration.
	Probe func() error
}

// ErrNotStaged is returned by Lookup when no initializer staged the name
var ErrNotStaged = errors.New("module descriptor not staged")

// Staging holds descriptors published by initializers until registration
type Staging struct {
	mu    sync.Mutex
	descs map[Kind]map[string]Descriptor
}

// NewStaging creates an empty staging table
func NewStaging() *Staging {
	return &Staging{descs: make(map[Kind]map[string]Descriptor)}
}

// Stage publishes d, replacing an earlier descriptor of the same name and kind
func (s *Staging) Stage(d Descriptor) error {
	if d.Name == "" {
		return fmt.Errorf("descriptor without a name")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	byName, ok := s.descs[d.Kind]
	if !ok {
		byName = make(map[string]Descriptor)
		s.descs[d.Kind] = byName
	}
	byName[d.Name] = d
	return nil
}

// Lookup returns the staged descriptor for kind and name
func (s *Staging) Lookup(kind Kind, name string) (Descriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.descs[kind][name]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s %s", ErrNotStaged, kind, name)
	}
	return d, nil
}

// Default is the process-wide staging table used by the built-in initializers
var Default = NewStaging()
