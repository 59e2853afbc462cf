// Package ingest polls external sources for news-like signals and
// persists the normalized results through a SignalStore.
package ingest

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"forgecore/internal/callgroup"
	"forgecore/internal/metrics"
	"forgecore/internal/signalstore"
)

// pollGateKey is the sole key used with the manager's callgroup.Group,
// making "at most one poll in flight" a property of DoChan's existing
// call-coalescing rather than a separate mutex.
const pollGateKey = "poll"

// PatchNotesConfig controls the reference RSI patch-notes ingest module.
type PatchNotesConfig struct {
	Enabled    bool
	IncludePTU bool
}

// SourcesConfig is the subset of the application configuration tree
// that ingest modules consult to decide whether they are enabled and
// how to behave. Higher-level configuration packages embed this type
// rather than ingest depending on them.
type SourcesConfig struct {
	PatchNotes PatchNotesConfig
}

// Config is passed through to every registered Module on each poll.
type Config struct {
	Sources SourcesConfig
}

// Module is a single ingest source. Run may block on network I/O and
// must respect ctx cancellation.
type Module interface {
	Name() string
	Enabled(config Config) bool
	Run(ctx context.Context, config Config, client *http.Client, triggeredAt time.Time) ([]signalstore.Signal, error)
}

// ModuleResult summarizes one module's contribution to a poll pass.
type ModuleResult struct {
	Fetched int
	Stored  int
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Store  *signalstore.Store
	Logger *slog.Logger
}

// Manager holds a registry of ingest modules keyed by name and invokes
// them under a single-poll-in-flight exclusion gate.
type Manager struct {
	store *signalstore.Store
	log   *slog.Logger

	gate callgroup.Group[string]

	mu      sync.Mutex
	order   []string
	modules map[string]Module

	lastMu     sync.Mutex
	lastResult map[string]ModuleResult
}

func New(cfg ManagerConfig) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:   cfg.Store,
		log:     logger.With("component", "ingest"),
		modules: make(map[string]Module),
	}
}

// RegisterModule adds a module to the registry. Registering the same
// name twice replaces the module but keeps its original registration
// order position.
func (m *Manager) RegisterModule(mod Module) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name := mod.Name()
	if _, exists := m.modules[name]; !exists {
		m.order = append(m.order, name)
	}
	m.modules[name] = mod
}

// Modules returns the registered module names in registration order.
func (m *Manager) Modules() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// RunPoll runs every enabled module in registration order under one
// shared HTTP client, persists the normalized signals each module
// yields, and returns a per-module {fetched, stored} summary. At most
// one poll runs at a time; a caller that arrives while a pass is
// already running waits for it and observes that pass's result rather
// than starting a second one.
func (m *Manager) RunPoll(ctx context.Context, config Config, reason string, triggeredAt time.Time) (map[string]ModuleResult, error) {
	ch := m.gate.DoChan(pollGateKey, func() error {
		results, err := m.runModules(ctx, config, reason, triggeredAt)
		m.lastMu.Lock()
		m.lastResult = results
		m.lastMu.Unlock()
		return err
	})

	err := <-ch

	m.lastMu.Lock()
	results := m.lastResult
	m.lastMu.Unlock()

	return results, err
}

func (m *Manager) runModules(ctx context.Context, config Config, reason string, triggeredAt time.Time) (map[string]ModuleResult, error) {
	client := &http.Client{Timeout: 20 * time.Second}

	names := m.Modules()
	m.mu.Lock()
	mods := make(map[string]Module, len(m.modules))
	for k, v := range m.modules {
		mods[k] = v
	}
	m.mu.Unlock()

	summary := make(map[string]ModuleResult, len(names))

	for _, name := range names {
		mod := mods[name]
		if !mod.Enabled(config) {
			continue
		}

		signals, err := mod.Run(ctx, config, client, triggeredAt)
		if err != nil {
			m.log.Warn("ingest module failed", "module", name, "error", err)
			metrics.ModuleErrors.WithLabelValues(name).Inc()
			if recErr := m.store.RecordError(name, err.Error(), map[string]any{"reason": reason}); recErr != nil {
				m.log.Error("failed to record ingest error", "module", name, "error", recErr)
			}
			continue
		}
		metrics.SignalsFetched.WithLabelValues(name).Add(float64(len(signals)))

		stored := 0
		if len(signals) > 0 {
			n, err := m.store.StoreSignals(signals)
			if err != nil {
				m.log.Warn("failed to persist signals", "module", name, "error", err)
				metrics.ModuleErrors.WithLabelValues(name).Inc()
				if recErr := m.store.RecordError(name, err.Error(), map[string]any{"reason": reason}); recErr != nil {
					m.log.Error("failed to record ingest error", "module", name, "error", recErr)
				}
			} else {
				stored = n
				metrics.SignalsStored.WithLabelValues(name).Add(float64(n))
			}
		}

		summary[name] = ModuleResult{Fetched: len(signals), Stored: stored}
	}

	return summary, nil
}
