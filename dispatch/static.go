package dispatch

import (
	"fmt"
	"sort"

	"github.com/mesmerverse/rats-tls/backend"
)

type builtin struct {
	kinds []backend.Kind
	inits []func() error
}

// builtins is the closed set of modules linked into every binary. Names are
// a compatibility surface: add entries, never change what one means.
var builtins = map[string]builtin{
	"nullcrypto": {
		kinds: []backend.Kind{backend.KindCrypto},
		inits: []func() error{backend.InitNullCrypto},
	},
	"nullattester": {
		kinds: []backend.Kind{backend.KindAttester},
		inits: []func() error{backend.InitNullAttester},
	},
	"nullverifier": {
		kinds: []backend.Kind{backend.KindVerifier},
		inits: []func() error{backend.InitNullVerifier},
	},
	"sgx_ecdsa": {
		kinds: []backend.Kind{backend.KindAttester},
		inits: []func() error{backend.InitSGXECDSAAttester},
	},
	"sgx_ecdsa_qve": {
		kinds: []backend.Kind{backend.KindVerifier},
		inits: []func() error{backend.InitSGXECDSAQVEVerifier},
	},
	"tdx_ecdsa": {
		kinds: []backend.Kind{backend.KindVerifier},
		inits: []func() error{backend.InitTDXECDSAVerifier},
	},
	"sgx_la": {
		kinds: []backend.Kind{backend.KindAttester, backend.KindVerifier},
		inits: []func() error{backend.InitSGXLAAttester, backend.InitSGXLAVerifier},
	},
	"nitro": {
		kinds: []backend.Kind{backend.KindAttester},
		inits: []func() error{backend.InitNitroAttester},
	},
	"nulltls": {
		kinds: []backend.Kind{backend.KindTLSWrapper},
		inits: []func() error{backend.InitNullTLS},
	},
	"openssl": {
		kinds: []backend.Kind{backend.KindTLSWrapper, backend.KindCrypto},
		inits: []func() error{backend.InitOpenSSLTLS, backend.InitOpenSSLCrypto},
	},
}

// StaticResolver resolves names against the linked-in module table. It is
// the only resolver available inside an enclave.
type StaticResolver struct {
	table map[string]builtin
}

// NewStaticResolver returns a resolver over the built-in modules
func NewStaticResolver() *StaticResolver {
	return &StaticResolver{table: builtins}
}

// Resolve matches name exactly; locator is ignored
func (r *StaticResolver) Resolve(name, _ string) (*Resolved, error) {
	b, ok := r.table[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownName, name)
	}

	for _, initFn := range b.inits {
		if err := initFn(); err != nil {
			return nil, fmt.Errorf("failed to initialize module %s: %w", name, err)
		}
	}

	return &Resolved{Kinds: b.kinds}, nil
}

// Names lists the built-in module names
func (r *StaticResolver) Names() []string {
	names := make([]string, 0, len(r.table))
	for name := range r.table {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
