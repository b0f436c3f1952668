package main

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/mesmerverse/rats-tls/backend"
	"github.com/mesmerverse/rats-tls/dispatch"
	"github.com/mesmerverse/rats-tls/platform"
	"github.com/mesmerverse/rats-tls/registry"
)

func TestScanPluginDir(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"libsgx_la.so", "libcustom.so", "README", "lib.so", "libnotes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0600); err != nil {
			t.Fatalf("Failed to create %s: %v", name, err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "libdir.so"), 0700); err != nil {
		t.Fatalf("Failed to create dir: %v", err)
	}

	host := platform.NewHostAdapter()
	names, err := scanPluginDir(host, dir)
	if err != nil {
		t.Fatalf("scanPluginDir failed: %v", err)
	}
	sort.Strings(names)

	want := []string{"custom", "sgx_la"}
	if len(names) != len(want) || names[0] != want[0] || names[1] != want[1] {
		t.Errorf("Got %v, want %v", names, want)
	}
	if host.Open() != 0 {
		t.Errorf("Directory stream left open")
	}
}

func TestScanPluginDirMissing(t *testing.T) {
	if _, err := scanPluginDir(platform.NewHostAdapter(), filepath.Join(t.TempDir(), "none")); err == nil {
		t.Error("Expected error for missing plugin dir")
	}
}

func TestInitModules(t *testing.T) {
	cfg := &Config{
		PluginDir: t.TempDir(),
		Modules: []ModuleConfig{
			{Name: "nullcrypto"},
			{Name: "unknown_xyz"},
			{Name: "sgx_la"},
		},
	}

	run := func(abort bool) (int, *registry.Registry) {
		cfg.AbortOnError = abort
		staging := backend.Default
		reg := registry.New(staging)
		d := dispatch.NewWithResolver(dispatch.NewStaticResolver(), reg)
		return initModules(t.Context(), d, reg, cfg), reg
	}

	failed, reg := run(false)
	if failed != 1 {
		t.Errorf("Expected 1 failure, got %d", failed)
	}
	if !reg.Has(backend.KindCrypto, "nullcrypto") || !reg.Has(backend.KindVerifier, "sgx_la") {
		t.Error("Expected modules around the failure to be registered")
	}

	failed, reg = run(true)
	if failed != 1 {
		t.Errorf("Expected 1 failure, got %d", failed)
	}
	if reg.Has(backend.KindAttester, "sgx_la") {
		t.Error("Expected initialization to stop at the first failure")
	}
}
