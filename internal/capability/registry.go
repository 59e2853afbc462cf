// Package capability implements a version-aware capability registry:
// modules bind named, versioned implementations ("capability@version")
// and other modules look them up by name, exact version, or a range
// expression, receiving the best match.
package capability

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"forgecore/internal/forgeerr"
)

type entry struct {
	version  Version
	provider any
	order    uint64
}

// Registry maps capability names and versions to bound providers.
type Registry struct {
	mu        sync.Mutex
	providers map[string][]entry
	counter   uint64
	log       *slog.Logger
}

// Config configures a Registry.
type Config struct {
	Logger *slog.Logger
}

// New creates an empty Registry.
func New(cfg Config) *Registry {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		providers: make(map[string][]entry),
		log:       log.With("component", "capability"),
	}
}

// Bind registers provider under "name@version". Providers for the same name
// are kept sorted by version ascending, ties broken by bind order.
func (r *Registry) Bind(capability string, provider any) error {
	name, verStr, err := splitCapability(capability)
	if err != nil {
		return err
	}
	ver, err := ParseVersion(verStr)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e := entry{version: ver, provider: provider, order: r.counter}
	r.counter++
	r.providers[name] = append(r.providers[name], e)
	sort.SliceStable(r.providers[name], func(i, j int) bool {
		return r.providers[name][i].version.Compare(r.providers[name][j].version) < 0
	})
	return nil
}

// Unbind removes the provider bound to "name@version". Provider identity is
// compared with ==; providers backed by incomparable underlying types (maps,
// slices, funcs) never match and Unbind is a no-op for them.
func (r *Registry) Unbind(capability string, provider any) error {
	name, verStr, err := splitCapability(capability)
	if err != nil {
		return err
	}
	ver, err := ParseVersion(verStr)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.providers[name]
	kept := list[:0:0]
	for _, e := range list {
		if e.version.Compare(ver) == 0 && identical(e.provider, provider) {
			continue
		}
		kept = append(kept, e)
	}
	if len(kept) == 0 {
		delete(r.providers, name)
	} else {
		r.providers[name] = kept
	}
	return nil
}

// Get resolves query ("name", "name@1.2.3", or "name@>=1.0,<2.0") to the
// best matching bound provider. It returns false if nothing matches.
//
// Resolution rules:
//   - no "@spec": the highest bound version.
//   - "@" followed by a digit: exact version match.
//   - "@" followed by a range expression (comparison operators, optional
//     commas, or "^X.Y" sugar): the highest version satisfying every
//     constraint, ties broken by earliest bind.
func (r *Registry) Get(query string) (any, bool) {
	name, spec, hasSpec := strings.Cut(query, "@")

	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.providers[name]
	if len(list) == 0 {
		return nil, false
	}

	if !hasSpec || spec == "" {
		return list[len(list)-1].provider, true
	}

	if isDigit(spec[0]) {
		ver, err := ParseVersion(spec)
		if err != nil {
			return nil, false
		}
		for _, e := range list {
			if e.version.Compare(ver) == 0 {
				return e.provider, true
			}
		}
		return nil, false
	}

	rs, err := parseRangeSpec(spec)
	if err != nil {
		r.log.Warn("invalid capability range spec", "query", query, "error", err)
		return nil, false
	}

	var best *entry
	for i := range list {
		e := &list[i]
		if !rs.matches(e.version) {
			continue
		}
		if best == nil {
			best = e
			continue
		}
		if cmp := e.version.Compare(best.version); cmp > 0 {
			best = e
		}
	}
	if best == nil {
		return nil, false
	}
	return best.provider, true
}

// Snapshot returns the bound version strings for every capability name,
// for read-only introspection (e.g. the admin API).
func (r *Registry) Snapshot() map[string][]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := make(map[string][]string, len(r.providers))
	for name, list := range r.providers {
		versions := make([]string, len(list))
		for i, e := range list {
			versions[i] = e.version.String()
		}
		snap[name] = versions
	}
	return snap
}

func splitCapability(capability string) (name, version string, err error) {
	name, version, ok := strings.Cut(capability, "@")
	if !ok {
		return "", "", forgeerr.New(forgeerr.KindBadVersion, fmt.Sprintf("%q is missing \"name@version\"", capability))
	}
	if name == "" {
		return "", "", forgeerr.New(forgeerr.KindBadVersion, fmt.Sprintf("%q is missing a name", capability))
	}
	return name, version, nil
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

func identical(a, b any) (eq bool) {
	defer func() {
		if recover() != nil {
			eq = false
		}
	}()
	return a == b
}
