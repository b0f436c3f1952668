package dispatch

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"plugin"

	"github.com/mesmerverse/rats-tls/backend"
	"github.com/rs/zerolog/log"
)

// EntrySymbol is the function every module shared object exports. It runs
// the module's initializers and returns the kinds it implements.
const EntrySymbol = "RatsTLSModuleInit"

// EntryFunc is the type of EntrySymbol
type EntryFunc = func() ([]string, error)

// PluginResolver loads modules built with -buildmode=plugin
type PluginResolver struct {
	// Dir is searched for lib<name>.so when no locator is given
	Dir string

	// Fallback resolves names that have no shared object in Dir
	Fallback Resolver
}

// Resolve opens locator, or Dir/lib<name>.so without one, and invokes the
// module's entry symbol
func (r *PluginResolver) Resolve(name, locator string) (*Resolved, error) {
	path := locator
	if path == "" {
		if name == "" || filepath.Base(name) != name {
			return nil, fmt.Errorf("%w: %q", ErrUnknownName, name)
		}
		path = filepath.Join(r.Dir, "lib"+name+".so")
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			if r.Fallback != nil {
				return r.Fallback.Resolve(name, locator)
			}
			return nil, fmt.Errorf("%w: %q", ErrUnknownName, name)
		}
	}

	p, err := plugin.Open(path)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("Failed on plugin open")
		return nil, &DlopenError{Path: path, Diag: err.Error()}
	}

	sym, err := p.Lookup(EntrySymbol)
	if err != nil {
		return nil, &DlopenError{Path: path, Diag: err.Error()}
	}

	entry, ok := sym.(EntryFunc)
	if !ok {
		if fn, isPtr := sym.(*EntryFunc); isPtr && fn != nil && *fn != nil {
			entry = *fn
		} else {
			return nil, &DlopenError{Path: path, Diag: fmt.Sprintf("%s has type %T", EntrySymbol, sym)}
		}
	}

	kindNames, err := entry()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize module %s: %w", name, err)
	}

	kinds := make([]backend.Kind, 0, len(kindNames))
	for _, kn := range kindNames {
		k, err := backend.ParseKind(kn)
		if err != nil {
			return nil, &DlopenError{Path: path, Diag: err.Error()}
		}
		kinds = append(kinds, k)
	}

	log.Debug().Str("name", name).Str("path", path).Int("kinds", len(kinds)).Msg("Module loaded")

	return &Resolved{Handle: p, Kinds: kinds}, nil
}
