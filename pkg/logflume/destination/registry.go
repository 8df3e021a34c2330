package destination

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/logflume/logflume/pkg/logflume/config"
	"github.com/logflume/logflume/pkg/logflume/dispatch"
)

// Factory builds a destination from its configuration section.
type Factory func(name string, cfg config.Config) (dispatch.Destination, error)

// Registry is a thread-safe mapping from destination kind to factory. It
// lets a pipeline be assembled from configuration: each entry in the
// destinations list names a kind, and the registry builds the output.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds or replaces the factory for a kind.
func (r *Registry) Register(kind string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = factory
}

// Lookup returns the factory for a kind and whether it exists.
func (r *Registry) Lookup(kind string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[kind]
	return f, ok
}

// Kinds returns the registered kinds, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Build constructs one destination from its configuration section. The
// section must carry a registered "kind"; "name" defaults to the kind.
func (r *Registry) Build(cfg config.Config) (dispatch.Destination, error) {
	kind := cfg.String("kind", "")
	if kind == "" {
		return nil, fmt.Errorf("destination entry is missing a kind")
	}
	factory, ok := r.Lookup(kind)
	if !ok {
		return nil, fmt.Errorf("unknown destination kind %q (registered: %v)", kind, r.Kinds())
	}
	name := cfg.String("name", kind)
	return factory(name, cfg)
}

// BuildAll constructs every destination in the list. On error, the
// destinations built so far are closed.
func (r *Registry) BuildAll(sections []config.Config) ([]dispatch.Destination, error) {
	built := make([]dispatch.Destination, 0, len(sections))
	for i, section := range sections {
		dest, err := r.Build(section)
		if err != nil {
			for _, d := range built {
				d.Close()
			}
			return nil, fmt.Errorf("destination %d: %w", i, err)
		}
		built = append(built, dest)
	}
	return built, nil
}

// DefaultRegistry returns a registry with the built-in kinds: console,
// file, sqlite, and lumber.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	r.Register("console", func(name string, cfg config.Config) (dispatch.Destination, error) {
		switch stream := cfg.String("stream", "stdout"); stream {
		case "stdout":
			return NewConsole(name, os.Stdout), nil
		case "stderr":
			return NewConsole(name, os.Stderr), nil
		default:
			return nil, fmt.Errorf("unknown console stream %q", stream)
		}
	})

	r.Register("file", func(name string, cfg config.Config) (dispatch.Destination, error) {
		path := cfg.String("path", "")
		if path == "" {
			return nil, fmt.Errorf("file destination %q requires a path", name)
		}
		return NewFile(name, path)
	})

	r.Register("sqlite", func(name string, cfg config.Config) (dispatch.Destination, error) {
		path := cfg.String("path", "")
		if path == "" {
			return nil, fmt.Errorf("sqlite destination %q requires a path", name)
		}
		return NewSQLite(name, path)
	})

	r.Register("lumber", func(name string, cfg config.Config) (dispatch.Destination, error) {
		return NewLumber(name, cfg.String("endpoint", ""), LumberOptions{
			Timeout:          cfg.Duration("timeout", 0),
			CompressionLevel: cfg.Int("compression_level", 0),
		})
	})

	return r
}
