package moduleload

import (
	"reflect"
	"testing"

	"forgecore/internal/forgeerr"
)

func TestDependencyOrderRespectsProviderBeforeConsumer(t *testing.T) {
	manifests := map[string]Manifest{
		"inventory": {Name: "inventory", Requires: []string{"storage@1.0.0"}},
		"storage":   {Name: "storage", Provides: []string{"storage@1.0.0"}},
	}

	order, err := dependencyOrder(manifests)
	if err != nil {
		t.Fatalf("dependencyOrder: %v", err)
	}
	if !reflect.DeepEqual(order, []string{"storage", "inventory"}) {
		t.Errorf("expected [storage inventory], got %v", order)
	}
}

func TestDependencyOrderTieBreaksLexicographically(t *testing.T) {
	manifests := map[string]Manifest{
		"zeta":  {Name: "zeta"},
		"alpha": {Name: "alpha"},
		"beta":  {Name: "beta"},
	}

	order, err := dependencyOrder(manifests)
	if err != nil {
		t.Fatalf("dependencyOrder: %v", err)
	}
	if !reflect.DeepEqual(order, []string{"alpha", "beta", "zeta"}) {
		t.Errorf("expected alphabetic order, got %v", order)
	}
}

func TestDependencyOrderDetectsCycle(t *testing.T) {
	manifests := map[string]Manifest{
		"a": {Name: "a", Requires: []string{"b@1.0.0"}, Provides: []string{"a@1.0.0"}},
		"b": {Name: "b", Requires: []string{"a@1.0.0"}, Provides: []string{"b@1.0.0"}},
	}

	_, err := dependencyOrder(manifests)
	kind, ok := forgeerr.KindOf(err)
	if !ok || kind != forgeerr.KindCircularDependency {
		t.Errorf("expected circular-dependency error, got %v", err)
	}
}

func TestDependencyOrderUnsatisfiedRequirementIsIgnored(t *testing.T) {
	manifests := map[string]Manifest{
		"lonely": {Name: "lonely", Requires: []string{"nonexistent@1.0.0"}},
	}

	order, err := dependencyOrder(manifests)
	if err != nil {
		t.Fatalf("dependencyOrder: %v", err)
	}
	if !reflect.DeepEqual(order, []string{"lonely"}) {
		t.Errorf("expected [lonely], got %v", order)
	}
}

func TestCapabilityProvidersLastWinsOnDuplicateName(t *testing.T) {
	manifests := map[string]Manifest{
		"alpha": {Name: "alpha", Provides: []string{"shared@1.0.0"}},
		"zeta":  {Name: "zeta", Provides: []string{"shared@1.0.0"}},
	}

	providesMap := capabilityProviders(manifests)
	if providesMap["shared"] != "zeta" {
		t.Errorf("expected lexicographically last module zeta to win, got %s", providesMap["shared"])
	}
}
