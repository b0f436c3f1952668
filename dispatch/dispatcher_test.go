package dispatch

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/mesmerverse/rats-tls/backend"
)

// recorder is a Registrar that records every hook call and can be told to
// reject one kind
type recorder struct {
	calls  []string
	reject map[backend.Kind]error
}

func (r *recorder) record(kind backend.Kind, name string) error {
	r.calls = append(r.calls, kind.String()+":"+name)
	return r.reject[kind]
}

func (r *recorder) CryptoPostInit(name string, _ Handle) error {
	return r.record(backend.KindCrypto, name)
}

func (r *recorder) AttesterPostInit(name string, _ Handle) error {
	return r.record(backend.KindAttester, name)
}

func (r *recorder) VerifierPostInit(name string, _ Handle) error {
	return r.record(backend.KindVerifier, name)
}

func (r *recorder) TransportPostInit(name string, _ Handle) error {
	return r.record(backend.KindTLSWrapper, name)
}

func TestInitializeBuiltins(t *testing.T) {
	tests := []struct {
		name string
		want []string
	}{
		{"nullcrypto", []string{"crypto:nullcrypto"}},
		{"nullattester", []string{"attester:nullattester"}},
		{"nullverifier", []string{"verifier:nullverifier"}},
		{"nulltls", []string{"tls_wrapper:nulltls"}},
		{"sgx_ecdsa", []string{"attester:sgx_ecdsa"}},
		{"sgx_ecdsa_qve", []string{"verifier:sgx_ecdsa_qve"}},
		{"tdx_ecdsa", []string{"verifier:tdx_ecdsa"}},
		{"sgx_la", []string{"attester:sgx_la", "verifier:sgx_la"}},
		{"openssl", []string{"crypto:openssl", "tls_wrapper:openssl"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			d := NewWithResolver(NewStaticResolver(), rec)
			if err := d.Initialize(tt.name, ""); err != nil {
				t.Fatalf("Initialize failed: %v", err)
			}
			if !reflect.DeepEqual(rec.calls, tt.want) {
				t.Errorf("Hooks called %v, want %v", rec.calls, tt.want)
			}
		})
	}
}

func TestInitializeUnknownName(t *testing.T) {
	for _, name := range []string{"unknown_xyz", "", "NullCrypto", "nullcrypto "} {
		rec := &recorder{}
		d := NewWithResolver(NewStaticResolver(), rec)

		err := d.Initialize(name, "")
		if !errors.Is(err, ErrUnknownName) {
			t.Errorf("%q: expected ErrUnknownName, got %v", name, err)
		}
		if len(rec.calls) != 0 {
			t.Errorf("%q: expected no hooks, got %v", name, rec.calls)
		}
	}
}

func TestInitializeStopsAtFailingHook(t *testing.T) {
	rejected := errors.New("verifier slot full")
	rec := &recorder{reject: map[backend.Kind]error{backend.KindVerifier: rejected}}
	d := NewWithResolver(NewStaticResolver(), rec)

	err := d.Initialize("sgx_la", "")

	var regErr *RegistrationError
	if !errors.As(err, &regErr) {
		t.Fatalf("Expected *RegistrationError, got %v", err)
	}
	if regErr.Kind != backend.KindVerifier || regErr.Name != "sgx_la" {
		t.Errorf("Unexpected failure site %s %s", regErr.Name, regErr.Kind)
	}
	if !errors.Is(err, rejected) || !errors.Is(err, ErrRegistration) {
		t.Errorf("Expected hook error to be wrapped, got %v", err)
	}

	// The attester hook ran and is not rolled back
	want := []string{"attester:sgx_la", "verifier:sgx_la"}
	if !reflect.DeepEqual(rec.calls, want) {
		t.Errorf("Hooks called %v, want %v", rec.calls, want)
	}
}

func TestInitializeFirstHookFails(t *testing.T) {
	rec := &recorder{reject: map[backend.Kind]error{backend.KindCrypto: errors.New("no")}}
	d := NewWithResolver(NewStaticResolver(), rec)

	if err := d.Initialize("openssl", ""); !errors.Is(err, ErrRegistration) {
		t.Fatalf("Expected registration error, got %v", err)
	}
	if len(rec.calls) != 1 {
		t.Errorf("Expected transport hook to be skipped, got %v", rec.calls)
	}
}

func TestOrdered(t *testing.T) {
	got := ordered([]backend.Kind{backend.KindTLSWrapper, backend.KindVerifier, backend.KindCrypto, backend.KindVerifier})
	want := []backend.Kind{backend.KindCrypto, backend.KindVerifier, backend.KindTLSWrapper}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ordered = %v, want %v", got, want)
	}
}

func TestStaticResolverNames(t *testing.T) {
	names := NewStaticResolver().Names()
	if len(names) != len(builtins) {
		t.Fatalf("Expected %d names, got %d", len(builtins), len(names))
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] >= names[i] {
			t.Errorf("Names not sorted: %v", names)
		}
	}
}

func TestPluginResolverMissingObject(t *testing.T) {
	r := &PluginResolver{Dir: t.TempDir()}

	if _, err := r.Resolve("nullcrypto", ""); !errors.Is(err, ErrUnknownName) {
		t.Errorf("Expected ErrUnknownName without fallback, got %v", err)
	}
	if _, err := r.Resolve("../evil", ""); !errors.Is(err, ErrUnknownName) {
		t.Errorf("Expected ErrUnknownName for path-like name, got %v", err)
	}
}

func TestPluginResolverFallback(t *testing.T) {
	rec := &recorder{}
	r := &PluginResolver{Dir: t.TempDir(), Fallback: NewStaticResolver()}
	d := NewWithResolver(r, rec)

	if err := d.Initialize("nullverifier", ""); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if !reflect.DeepEqual(rec.calls, []string{"verifier:nullverifier"}) {
		t.Errorf("Hooks called %v", rec.calls)
	}
}

func TestPluginResolverBadObject(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "libbroken.so")
	if err := os.WriteFile(path, []byte("not an object"), 0600); err != nil {
		t.Fatalf("Failed to write fixture: %v", err)
	}

	rec := &recorder{}
	d := NewWithResolver(&PluginResolver{Dir: dir, Fallback: NewStaticResolver()}, rec)

	for _, locator := range []string{"", path} {
		err := d.Initialize("broken", locator)

		var dlErr *DlopenError
		if !errors.As(err, &dlErr) {
			t.Fatalf("locator %q: expected *DlopenError, got %v", locator, err)
		}
		if dlErr.Path != path {
			t.Errorf("Expected path %s, got %s", path, dlErr.Path)
		}
		if !errors.Is(err, ErrDlopen) {
			t.Errorf("Expected ErrDlopen, got %v", err)
		}
	}
	if len(rec.calls) != 0 {
		t.Errorf("Expected no hooks, got %v", rec.calls)
	}
}

func TestPluginResolverExplicitLocatorMissing(t *testing.T) {
	r := &PluginResolver{Dir: t.TempDir(), Fallback: NewStaticResolver()}

	// An explicit locator never falls back, even for a built-in name
	_, err := r.Resolve("nullcrypto", filepath.Join(t.TempDir(), "libnullcrypto.so"))
	if !errors.Is(err, ErrDlopen) {
		t.Errorf("Expected ErrDlopen, got %v", err)
	}
}
