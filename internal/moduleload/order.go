package moduleload

import (
	"sort"
	"strings"

	"forgecore/internal/forgeerr"
)

// capabilityProviders maps each provided capability name (version stripped)
// to the single module that provides it. When two modules provide the same
// capability name, the module that sorts last when manifests are walked in
// map iteration order wins; Go map iteration order is randomized, so we walk
// names in a fixed sorted order to make this deterministic: the
// lexicographically last module name wins ties, and this is intentionally
// undocumented/unenforced upstream — callers should not provide the same
// capability name from two modules and rely on which one "wins."
func capabilityProviders(manifests map[string]Manifest) map[string]string {
	names := make([]string, 0, len(manifests))
	for name := range manifests {
		names = append(names, name)
	}
	sort.Strings(names)

	providesMap := make(map[string]string)
	for _, name := range names {
		for _, cap := range manifests[name].Provides {
			capName := strings.SplitN(cap, "@", 2)[0]
			providesMap[capName] = name
		}
	}
	return providesMap
}

// dependencyOrder computes a module load/enable order via Kahn's algorithm:
// a module must come after every module that provides a capability it
// requires. Ties among modules with no remaining unresolved dependency are
// broken lexicographically by module name.
func dependencyOrder(manifests map[string]Manifest) ([]string, error) {
	providesMap := capabilityProviders(manifests)

	deps := make(map[string][]string, len(manifests))
	for name, m := range manifests {
		for _, req := range m.Requires {
			capName := strings.SplitN(req, "@", 2)[0]
			provider, ok := providesMap[capName]
			if !ok || provider == name {
				continue
			}
			deps[name] = append(deps[name], provider)
		}
	}

	remaining := make(map[string][]string, len(manifests))
	for name := range manifests {
		remaining[name] = append([]string(nil), deps[name]...)
	}

	var order []string
	for len(remaining) > 0 {
		var candidates []string
		for name, d := range remaining {
			if len(d) == 0 {
				candidates = append(candidates, name)
			}
		}
		if len(candidates) == 0 {
			return nil, forgeerr.New(forgeerr.KindCircularDependency, "module dependency graph contains a cycle")
		}
		sort.Strings(candidates)
		next := candidates[0]
		order = append(order, next)
		delete(remaining, next)
		for name, d := range remaining {
			filtered := d[:0:0]
			for _, dep := range d {
				if dep != next {
					filtered = append(filtered, dep)
				}
			}
			remaining[name] = filtered
		}
	}
	return order, nil
}
