// Package moduleload discovers module manifests under a directory,
// topologically orders them by capability dependency, instantiates them
// through a caller-supplied constructor registry, and drives their
// load/enable/disable lifecycle.
package moduleload

import (
	"errors"
	"log/slog"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"forgecore/internal/capability"
	"forgecore/internal/eventbus"
	"forgecore/internal/forgeerr"
	"forgecore/internal/kvstore"
)

// State tracks a loaded module's manifest, instance, and lifecycle flag.
type State struct {
	Name     string
	Manifest Manifest
	Path     string
	Instance Module
	Provides []string
	Requires []string
	Enabled  bool
}

// Config configures a Loader.
type Config struct {
	ModuleDir    string
	Registry     *capability.Registry
	EventBus     *eventbus.Bus
	Storage      *kvstore.Store
	Constructors map[string]Constructor
	Logger       *slog.Logger
}

// Loader discovers, orders, loads, and enables/disables modules.
type Loader struct {
	moduleDir    string
	registry     *capability.Registry
	eventBus     *eventbus.Bus
	storage      *kvstore.Store
	constructors map[string]Constructor
	log          *slog.Logger

	mu          sync.Mutex
	modules     map[string]*State
	enableOrder []string
}

// New creates a Loader. The constructors map takes the place of dynamic
// imports: manifests reference modules by the key under which their
// Constructor was registered, not a file/class path.
func New(cfg Config) *Loader {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Loader{
		moduleDir:    cfg.ModuleDir,
		registry:     cfg.Registry,
		eventBus:     cfg.EventBus,
		storage:      cfg.Storage,
		constructors: cfg.Constructors,
		log:          log.With("component", "moduleload"),
		modules:      make(map[string]*State),
	}
}

// Discover returns the names of immediate subdirectories of the module
// directory that contain a module.json manifest.
func (l *Loader) Discover() ([]string, error) {
	return discover(l.moduleDir)
}

// LoadAll discovers every module, computes dependency order, and loads each
// one in that order: reading its manifest, instantiating its entry,
// invoking OnLoad if present, and binding its provided capabilities.
func (l *Loader) LoadAll() error {
	names, err := l.Discover()
	if err != nil {
		return err
	}

	manifests := make(map[string]Manifest, len(names))
	for _, name := range names {
		path := filepath.Join(l.moduleDir, name, "module.json")
		m, err := readManifest(path)
		if err != nil {
			return err
		}
		manifests[name] = m
	}

	order, err := dependencyOrder(manifests)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, name := range order {
		manifest := manifests[name]
		path := filepath.Join(l.moduleDir, name)

		ctor, ok := l.constructors[manifest.Entry]
		if !ok {
			return forgeerr.New(forgeerr.KindUnknownEntry, "no constructor registered for entry "+strconv.Quote(manifest.Entry))
		}
		instance := ctor()

		if loader, ok := instance.(OnLoader); ok {
			ctx := &Context{
				EventBus:   l.eventBus,
				Registry:   l.registry,
				Storage:    l.storage,
				Manifest:   manifest,
				ModulePath: path,
				Logger:     l.log.With("module", name),
			}
			if err := loader.OnLoad(ctx); err != nil {
				return forgeerr.Wrap(forgeerr.KindValidation, "module "+name+" failed on-load", err)
			}
		}

		state := &State{
			Name:     name,
			Manifest: manifest,
			Path:     path,
			Instance: instance,
			Provides: manifest.Provides,
			Requires: manifest.Requires,
		}
		l.modules[name] = state

		for _, cap := range state.Provides {
			if err := l.registry.Bind(cap, instance); err != nil {
				return err
			}
		}
	}
	return nil
}

// EnableAll enables every loaded module in dependency order. Already
// enabled modules are skipped.
func (l *Loader) EnableAll() error {
	l.mu.Lock()
	manifests := make(map[string]Manifest, len(l.modules))
	for name, s := range l.modules {
		manifests[name] = s.Manifest
	}
	l.mu.Unlock()

	order, err := dependencyOrder(manifests)
	if err != nil {
		return err
	}
	for _, name := range order {
		if err := l.EnableModule(name); err != nil {
			return err
		}
	}
	return nil
}

// EnableModule enables a single module by name. Re-enabling an already
// enabled module is a no-op.
func (l *Loader) EnableModule(name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	state, ok := l.modules[name]
	if !ok {
		return forgeerr.New(forgeerr.KindUnknownModule, "unknown module "+strconv.Quote(name))
	}
	if state.Enabled {
		return nil
	}
	if enabler, ok := state.Instance.(OnEnabler); ok {
		if err := enabler.OnEnable(); err != nil {
			return forgeerr.Wrap(forgeerr.KindValidation, "module "+name+" failed on-enable", err)
		}
	}
	state.Enabled = true
	l.enableOrder = append(l.enableOrder, name)
	return nil
}

// DisableAll disables every module in the exact reverse of the order they
// were actually enabled, then clears that recorded order. A module's
// OnDisable failure does not stop the rest: disabling continues so every
// sibling still gets its shutdown notification, and all errors are joined.
func (l *Loader) DisableAll() error {
	l.mu.Lock()
	order := append([]string(nil), l.enableOrder...)
	l.mu.Unlock()

	var errs []error
	for i := len(order) - 1; i >= 0; i-- {
		if err := l.DisableModule(order[i]); err != nil {
			errs = append(errs, err)
		}
	}

	l.mu.Lock()
	l.enableOrder = nil
	l.mu.Unlock()
	return errors.Join(errs...)
}

// DisableModule disables a single module by name. Disabling a module that
// is unknown or already disabled is a no-op.
func (l *Loader) DisableModule(name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	state, ok := l.modules[name]
	if !ok || !state.Enabled {
		return nil
	}
	if disabler, ok := state.Instance.(OnDisabler); ok {
		if err := disabler.OnDisable(); err != nil {
			return forgeerr.Wrap(forgeerr.KindValidation, "module "+name+" failed on-disable", err)
		}
	}
	state.Enabled = false
	return nil
}

// Get returns the loaded State for name.
func (l *Loader) Get(name string) (*State, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.modules[name]
	return s, ok
}

// List returns every loaded module's state, sorted by name.
func (l *Loader) List() []*State {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*State, 0, len(l.modules))
	for _, s := range l.modules {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// DependencyGraph returns, for each loaded module, the names of the modules
// it depends on (i.e. that provide a capability it requires).
func (l *Loader) DependencyGraph() map[string][]string {
	l.mu.Lock()
	manifests := make(map[string]Manifest, len(l.modules))
	for name, s := range l.modules {
		manifests[name] = s.Manifest
	}
	l.mu.Unlock()

	providesMap := capabilityProviders(manifests)
	graph := make(map[string][]string, len(manifests))
	for name, m := range manifests {
		graph[name] = []string{}
		for _, req := range m.Requires {
			capName := strings.SplitN(req, "@", 2)[0]
			if provider, ok := providesMap[capName]; ok {
				graph[name] = append(graph[name], provider)
			}
		}
	}
	return graph
}
