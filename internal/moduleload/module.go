package moduleload

import (
	"log/slog"

	"forgecore/internal/capability"
	"forgecore/internal/eventbus"
	"forgecore/internal/kvstore"
)

// Module is the minimal contract every loaded module satisfies. Lifecycle
// hooks are optional and discovered via interface assertion, mirroring the
// Python runtime's hasattr(instance, "on_load") checks.
type Module interface {
	// Name identifies the module instance for logging; it need not match
	// the manifest name.
	Name() string
}

// OnLoader is implemented by modules that need their Context before any
// capability is bound on their behalf.
type OnLoader interface {
	OnLoad(ctx *Context) error
}

// OnEnabler is implemented by modules with enable-time setup.
type OnEnabler interface {
	OnEnable() error
}

// OnDisabler is implemented by modules with teardown to run on disable.
type OnDisabler interface {
	OnDisable() error
}

// Constructor builds a fresh Module instance for a manifest's "entry" name.
// Modules register a Constructor instead of being dynamically imported.
type Constructor func() Module

// Context is handed to a module's OnLoad hook, giving it access to the
// runtime's shared collaborators and its own manifest metadata.
type Context struct {
	EventBus   *eventbus.Bus
	Registry   *capability.Registry
	Storage    *kvstore.Store
	Manifest   Manifest
	ModulePath string
	Logger     *slog.Logger
}
