package settings

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/imdario/mergo"
	gocache "github.com/patrickmn/go-cache"

	"forgecore/internal/signalstore"
)

const settingsKey = "starlinker.config"

const cacheTTL = 30 * time.Second

// RepositoryConfig configures a Repository.
type RepositoryConfig struct {
	Store *signalstore.Store
}

// Repository loads, validates, and persists the Starlinker
// configuration tree as a single JSON blob in SignalStore's settings
// table, caching the last-loaded value for a short TTL.
type Repository struct {
	store *signalstore.Store
	cache *gocache.Cache
}

func New(cfg RepositoryConfig) *Repository {
	return &Repository{
		store: cfg.Store,
		cache: gocache.New(cacheTTL, 2*cacheTTL),
	}
}

const cacheKey = "config"

// Load returns the validated config, seeding defaults on first read.
func (r *Repository) Load() (Config, error) {
	if cached, ok := r.cache.Get(cacheKey); ok {
		return cached.(Config), nil
	}

	var cfg Config
	err := r.store.GetSetting(settingsKey, &cfg)
	if errors.Is(err, sql.ErrNoRows) {
		cfg = DefaultConfig()
		if _, saveErr := r.Save(cfg); saveErr != nil {
			return Config{}, saveErr
		}
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}

	r.cache.Set(cacheKey, cfg, gocache.DefaultExpiration)
	return cfg, nil
}

// Save re-validates cfg and persists it, replacing the cached value with it.
func (r *Repository) Save(cfg Config) (Config, error) {
	if errs := Validate(cfg); len(errs) > 0 {
		return Config{}, &ValidationError{Errors: errs}
	}
	if err := r.store.PutSetting(settingsKey, cfg); err != nil {
		return Config{}, fmt.Errorf("save config: %w", err)
	}
	r.cache.Set(cacheKey, cfg, gocache.DefaultExpiration)
	return cfg, nil
}

// ApplyPatch deep-merges patch over the current config (nested objects
// merge by key, other values replace), re-validates the result, and
// persists it only on success; the prior config is left untouched on
// validation failure.
func (r *Repository) ApplyPatch(patch map[string]any) (Config, error) {
	current, err := r.Load()
	if err != nil {
		return Config{}, err
	}

	currentMap, err := toMap(current)
	if err != nil {
		return Config{}, fmt.Errorf("encode current config: %w", err)
	}

	if err := mergo.Merge(&currentMap, patch, mergo.WithOverride); err != nil {
		return Config{}, fmt.Errorf("merge patch: %w", err)
	}

	merged, err := fromMap(currentMap)
	if err != nil {
		return Config{}, fmt.Errorf("decode merged config: %w", err)
	}

	return r.Save(merged)
}

// DefaultConfig returns the configuration tree's default values.
func (r *Repository) DefaultConfig() Config {
	return DefaultConfig()
}

// ConfigSchema emits a declarative description of the configuration
// tree, derived from the default config's JSON shape.
func (r *Repository) ConfigSchema() (map[string]any, error) {
	return toMap(DefaultConfig())
}

// MissingPrerequisites reports the configuration sections needed
// before the backend can run meaningfully: a digest output channel
// and a timezone. Format/URL validity is not checked, matching the
// original's deliberately lax prerequisite check.
func (r *Repository) MissingPrerequisites(cfg Config) []string {
	var missing []string
	if cfg.Outputs.DiscordWebhook == "" && cfg.Outputs.EmailTo == "" {
		missing = append(missing, "digest_output")
	}
	if cfg.Timezone == "" {
		missing = append(missing, "timezone")
	}
	return missing
}

func toMap(cfg Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func fromMap(m map[string]any) (Config, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
