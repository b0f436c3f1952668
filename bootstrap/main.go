// Package main initializes the rats-tls backend modules of a process. The
// same binary runs on a host, where modules are shared objects, and inside
// an enclave (built with -tags enclave), where only linked-in modules exist
// and all host access goes through the parent's call gate.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/mesmerverse/rats-tls/backend"
	"github.com/mesmerverse/rats-tls/dispatch"
	"github.com/mesmerverse/rats-tls/logging"
	"github.com/mesmerverse/rats-tls/platform"
	"github.com/mesmerverse/rats-tls/registry"
	"github.com/rs/zerolog/log"
)

// Version is set at build time
var Version = "dev"

const stdinFD, stdoutFD = 0, 1

func main() {
	configPath := flag.String("config", defaultConfigPath(), "Path to module list, or - to read it from stdin")
	list := flag.Bool("list", false, "List available modules and exit")
	devMode := flag.Bool("dev-mode", false, "Human readable log output; in an enclave build, reach the parent over TCP on localhost")
	flag.Parse()

	platform.SetDevGate(*devMode)
	adapter := platform.Default()
	level := logging.Setup(adapter, *devMode)

	log.Info().
		Str("version", Version).
		Str("mode", platform.Mode.String()).
		Str("log_level", level.String()).
		Msg("rats-tls bootstrap starting")

	var cfg *Config
	var err error
	if *configPath == "-" {
		cfg, err = LoadConfigFD(adapter, stdinFD)
	} else {
		cfg, err = LoadConfig(*configPath)
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to load configuration")
		adapter.Terminate()
	}

	if *list {
		if err := listModules(adapter, cfg.PluginDir); err != nil {
			log.Error().Err(err).Msg("Failed to list modules")
			adapter.Terminate()
		}
		return
	}

	reg := registry.New(backend.Default)
	d := dispatch.NewWithResolver(dispatch.DefaultResolver(cfg.PluginDir), reg)

	failed := initModules(context.Background(), d, reg, cfg)

	for _, kind := range backend.Kinds {
		var names []string
		for _, e := range reg.Registered(kind) {
			names = append(names, e.Name)
		}
		log.Info().Str("kind", kind.String()).Strs("modules", names).Msg("Active modules")
	}

	if failed > 0 && cfg.AbortOnError {
		adapter.Terminate()
	}
}

// initModules runs the dispatcher over the configured modules and returns
// how many failed. With AbortOnError it stops at the first failure.
func initModules(ctx context.Context, d *dispatch.Dispatcher, reg *registry.Registry, cfg *Config) int {
	var stager *Stager
	failed := 0

	for _, m := range cfg.Modules {
		locator := m.Locator
		if platform.Mode == platform.ModeHost && isRemote(locator) {
			if stager == nil {
				s, err := NewStager(ctx, cfg.Stage)
				if err != nil {
					log.Error().Err(err).Msg("Failed to create module stager")
					return failed + 1
				}
				stager = s
			}
			path, err := stager.Stage(ctx, m)
			if err != nil {
				log.Error().Err(err).Str("name", m.Name).Msg("Failed to stage module")
				failed++
				if cfg.AbortOnError {
					return failed
				}
				continue
			}
			locator = path
		}

		if err := d.Initialize(m.Name, locator); err != nil {
			// Kinds registered before the failure stay registered
			var kinds []string
			for _, k := range reg.Kinds(m.Name) {
				kinds = append(kinds, k.String())
			}
			log.Error().
				Err(err).
				Str("name", m.Name).
				Strs("registered_kinds", kinds).
				Msg("Module initialization failed")
			failed++
			if cfg.AbortOnError {
				return failed
			}
			continue
		}

		log.Info().Str("name", m.Name).Msg("Module initialized")
	}

	return failed
}

// listModules prints the linked-in modules and the shared objects found in
// pluginDir
func listModules(a platform.Adapter, pluginDir string) error {
	out := platform.NewStreamWriter(a, stdoutFD)

	for _, name := range dispatch.NewStaticResolver().Names() {
		fmt.Fprintf(out, "builtin\t%s\n", name)
	}

	if platform.Mode == platform.ModeIsolated {
		return nil
	}

	names, err := scanPluginDir(a, pluginDir)
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Fprintf(out, "plugin\t%s\n", name)
	}
	return nil
}

// scanPluginDir returns the module names of the lib<name>.so files in dir
func scanPluginDir(a platform.Adapter, dir string) ([]string, error) {
	h, err := a.OpenDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open plugin dir %s: %w", dir, err)
	}
	defer a.CloseDir(h)

	var names []string
	for {
		ent, err := a.NextEntry(h)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to read plugin dir %s: %w", dir, err)
		}
		if ent.Type != platform.EntryRegular && ent.Type != platform.EntrySymlink && ent.Type != platform.EntryUnknown {
			continue
		}
		if name, ok := strings.CutPrefix(ent.Name, "lib"); ok {
			if name, ok = strings.CutSuffix(name, ".so"); ok && name != "" {
				names = append(names, name)
			}
		}
	}
	return names, nil
}
