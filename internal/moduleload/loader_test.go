package moduleload

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"forgecore/internal/capability"
	"forgecore/internal/eventbus"
	"forgecore/internal/kvstore"
)

type recordingModule struct {
	name       string
	events     *[]string
	onLoad     func(ctx *Context) error
	onError    error
	disableErr error
}

func (m *recordingModule) Name() string { return m.name }

func (m *recordingModule) OnLoad(ctx *Context) error {
	*m.events = append(*m.events, m.name+":load")
	if m.onLoad != nil {
		return m.onLoad(ctx)
	}
	return nil
}

func (m *recordingModule) OnEnable() error {
	*m.events = append(*m.events, m.name+":enable")
	return m.onError
}

func (m *recordingModule) OnDisable() error {
	*m.events = append(*m.events, m.name+":disable")
	return m.disableErr
}

func writeManifest(t *testing.T, dir, name string, manifest map[string]any) {
	t.Helper()
	modDir := filepath.Join(dir, name)
	if err := os.MkdirAll(modDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	data, err := json.Marshal(manifest)
	if err != nil {
		t.Fatalf("marshal manifest: %v", err)
	}
	if err := os.WriteFile(filepath.Join(modDir, "module.json"), data, 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
}

func newTestLoader(t *testing.T, dir string, events *[]string) *Loader {
	t.Helper()
	return New(Config{
		ModuleDir: dir,
		Registry:  capability.New(capability.Config{}),
		EventBus:  eventbus.New(eventbus.Config{}),
		Storage:   kvstore.New(t.TempDir()),
		Constructors: map[string]Constructor{
			"storage_module": func() Module {
				return &recordingModule{name: "storage_module", events: events}
			},
			"inventory_module": func() Module {
				return &recordingModule{name: "inventory_module", events: events}
			},
		},
	})
}

func TestLoadAllOrdersProviderBeforeConsumer(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "inventory", map[string]any{
		"name": "inventory", "entry": "inventory_module",
		"requires": []string{"storage@1.0.0"},
	})
	writeManifest(t, dir, "storage", map[string]any{
		"name": "storage", "entry": "storage_module",
		"provides": []string{"storage@1.0.0"},
	})

	var events []string
	l := newTestLoader(t, dir, &events)

	if err := l.LoadAll(); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(events) != 2 || events[0] != "storage_module:load" || events[1] != "inventory_module:load" {
		t.Errorf("expected storage loaded before inventory, got %v", events)
	}

	if _, ok := l.Get("storage"); !ok {
		t.Error("expected storage module to be loaded")
	}
}

func TestLoadAllBindsProvidedCapabilities(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "storage", map[string]any{
		"name": "storage", "entry": "storage_module",
		"provides": []string{"storage@1.0.0"},
	})

	var events []string
	l := newTestLoader(t, dir, &events)
	if err := l.LoadAll(); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}

	_, ok := l.registry.Get("storage")
	if !ok {
		t.Error("expected storage capability to be bound after load")
	}
}

func TestLoadAllUnknownEntryFails(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "mystery", map[string]any{
		"name": "mystery", "entry": "no_such_constructor",
	})

	var events []string
	l := newTestLoader(t, dir, &events)
	if err := l.LoadAll(); err == nil {
		t.Error("expected error for unregistered entry")
	}
}

func TestEnableAllThenDisableAllReversesOrder(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "inventory", map[string]any{
		"name": "inventory", "entry": "inventory_module",
		"requires": []string{"storage@1.0.0"},
	})
	writeManifest(t, dir, "storage", map[string]any{
		"name": "storage", "entry": "storage_module",
		"provides": []string{"storage@1.0.0"},
	})

	var events []string
	l := newTestLoader(t, dir, &events)
	if err := l.LoadAll(); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	events = nil

	if err := l.EnableAll(); err != nil {
		t.Fatalf("EnableAll: %v", err)
	}
	want := []string{"storage_module:enable", "inventory_module:enable"}
	if len(events) != 2 || events[0] != want[0] || events[1] != want[1] {
		t.Fatalf("expected %v, got %v", want, events)
	}

	events = nil
	if err := l.DisableAll(); err != nil {
		t.Fatalf("DisableAll: %v", err)
	}
	wantDisable := []string{"inventory_module:disable", "storage_module:disable"}
	if len(events) != 2 || events[0] != wantDisable[0] || events[1] != wantDisable[1] {
		t.Fatalf("expected reverse disable order %v, got %v", wantDisable, events)
	}
}

func TestDisableAllContinuesPastAMiddleModuleError(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "a", map[string]any{
		"name": "a", "entry": "a_module",
		"provides": []string{"a@1.0.0"},
	})
	writeManifest(t, dir, "b", map[string]any{
		"name": "b", "entry": "b_module",
		"requires": []string{"a@1.0.0"},
		"provides": []string{"b@1.0.0"},
	})
	writeManifest(t, dir, "c", map[string]any{
		"name": "c", "entry": "c_module",
		"requires": []string{"b@1.0.0"},
	})

	var events []string
	failing := &recordingModule{name: "b_module", events: &events, disableErr: errors.New("b refused to disable")}
	l := New(Config{
		ModuleDir: dir,
		Registry:  capability.New(capability.Config{}),
		EventBus:  eventbus.New(eventbus.Config{}),
		Storage:   kvstore.New(t.TempDir()),
		Constructors: map[string]Constructor{
			"a_module": func() Module { return &recordingModule{name: "a_module", events: &events} },
			"b_module": func() Module { return failing },
			"c_module": func() Module { return &recordingModule{name: "c_module", events: &events} },
		},
	})

	if err := l.LoadAll(); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if err := l.EnableAll(); err != nil {
		t.Fatalf("EnableAll: %v", err)
	}
	events = nil

	err := l.DisableAll()
	if err == nil {
		t.Fatal("expected DisableAll to return the middle module's error")
	}

	want := []string{"c_module:disable", "b_module:disable", "a_module:disable"}
	if len(events) != 3 || events[0] != want[0] || events[1] != want[1] || events[2] != want[2] {
		t.Fatalf("expected every module disabled despite b's failure, got %v", events)
	}
}

func TestEnableModuleIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "storage", map[string]any{
		"name": "storage", "entry": "storage_module",
	})

	var events []string
	l := newTestLoader(t, dir, &events)
	if err := l.LoadAll(); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}

	if err := l.EnableModule("storage"); err != nil {
		t.Fatalf("EnableModule: %v", err)
	}
	if err := l.EnableModule("storage"); err != nil {
		t.Fatalf("EnableModule (again): %v", err)
	}

	count := 0
	for _, e := range events {
		if e == "storage_module:enable" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("expected exactly one enable call, got %d", count)
	}
}

func TestDependencyGraphReflectsRequires(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "inventory", map[string]any{
		"name": "inventory", "entry": "inventory_module",
		"requires": []string{"storage@1.0.0"},
	})
	writeManifest(t, dir, "storage", map[string]any{
		"name": "storage", "entry": "storage_module",
		"provides": []string{"storage@1.0.0"},
	})

	var events []string
	l := newTestLoader(t, dir, &events)
	if err := l.LoadAll(); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}

	graph := l.DependencyGraph()
	if len(graph["inventory"]) != 1 || graph["inventory"][0] != "storage" {
		t.Errorf("expected inventory to depend on storage, got %v", graph["inventory"])
	}
	if len(graph["storage"]) != 0 {
		t.Errorf("expected storage to have no dependencies, got %v", graph["storage"])
	}
}
