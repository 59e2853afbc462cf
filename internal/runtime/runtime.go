// Package runtime composes the module runtime's collaborators — EventBus,
// CapabilityRegistry, KeyValueStore, ModuleLoader — and drives their
// combined start/stop lifecycle. There is no package-level singleton: a
// caller constructs a Runtime explicitly and owns its lifetime.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"forgecore/internal/capability"
	"forgecore/internal/eventbus"
	"forgecore/internal/kvstore"
	"forgecore/internal/moduleload"
	"forgecore/internal/notify"
)

// Config configures a Runtime.
type Config struct {
	ModuleDir    string
	StorageDir   string
	Constructors map[string]moduleload.Constructor
	Logger       *slog.Logger
}

// Runtime composes the module runtime's components and tracks whether it
// has been started.
type Runtime struct {
	EventBus *eventbus.Bus
	Registry *capability.Registry
	Storage  *kvstore.Store
	Loader   *moduleload.Loader

	// ModuleDirChanged is notified every time the module directory watcher
	// observes a filesystem event. Callers that want to react to manifest
	// changes (e.g. an admin API long-poll endpoint) wait on its C().
	ModuleDirChanged *notify.Signal

	log       *slog.Logger
	moduleDir string

	mu      sync.Mutex
	started bool
	watcher *fsnotify.Watcher
}

// New constructs a Runtime without starting it.
func New(cfg Config) *Runtime {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "runtime")

	storageDir := cfg.StorageDir
	if storageDir == "" {
		storageDir = filepath.Join(cfg.ModuleDir, "_storage")
	}

	bus := eventbus.New(eventbus.Config{Logger: log})
	registry := capability.New(capability.Config{Logger: log})
	storage := kvstore.New(storageDir)
	loader := moduleload.New(moduleload.Config{
		ModuleDir:    cfg.ModuleDir,
		Registry:     registry,
		EventBus:     bus,
		Storage:      storage,
		Constructors: cfg.Constructors,
		Logger:       log,
	})

	return &Runtime{
		EventBus:         bus,
		Registry:         registry,
		Storage:          storage,
		Loader:           loader,
		ModuleDirChanged: notify.NewSignal(),
		log:              log,
		moduleDir:        cfg.ModuleDir,
	}
}

// Start loads every module, enables it, and arms a module-directory watcher.
// Starting an already-started Runtime is a no-op. The watcher logs
// observed changes and notifies ModuleDirChanged — live hot-reload of
// module code is out of scope, so changes never trigger a reload.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}

	if err := r.Loader.LoadAll(); err != nil {
		return fmt.Errorf("load modules: %w", err)
	}
	if err := r.Loader.EnableAll(); err != nil {
		return fmt.Errorf("enable modules: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		r.log.Warn("module directory watcher unavailable", "error", err)
	} else if err := watcher.Add(r.moduleDir); err != nil {
		r.log.Warn("failed to watch module directory", "dir", r.moduleDir, "error", err)
		watcher.Close()
	} else {
		r.watcher = watcher
		go r.watchLoop(ctx, watcher)
	}

	r.started = true
	r.log.Info("runtime started")
	return nil
}

// Stop disables every module in reverse enable order. Stopping an
// already-stopped Runtime is a no-op.
func (r *Runtime) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return nil
	}

	if r.watcher != nil {
		r.watcher.Close()
		r.watcher = nil
	}

	if err := r.Loader.DisableAll(); err != nil {
		return fmt.Errorf("disable modules: %w", err)
	}
	r.started = false
	r.log.Info("runtime stopped")
	return nil
}

// Started reports whether the runtime is currently running.
func (r *Runtime) Started() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started
}

func (r *Runtime) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			r.log.Debug("module directory changed", "event", event.String())
			r.ModuleDirChanged.Notify()
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			r.log.Warn("module directory watch error", "error", err)
		}
	}
}
