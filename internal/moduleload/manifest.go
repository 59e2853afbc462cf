package moduleload

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Manifest describes a module's declared entry point and capability
// contract, as read from a module.json file.
type Manifest struct {
	Name     string   `json:"name"`
	Entry    string   `json:"entry"`
	Provides []string `json:"provides"`
	Requires []string `json:"requires"`

	// raw carries the full decoded document, including fields a given
	// module version doesn't know about, for forwarding into Context.
	raw map[string]any
}

// Raw returns the full manifest document as decoded from JSON, including any
// fields not recognized by Manifest itself.
func (m Manifest) Raw() map[string]any {
	return m.raw
}

func readManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest %s: %w", path, err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse manifest %s: %w", path, err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return Manifest{}, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	m.raw = raw

	if m.Name == "" {
		return Manifest{}, fmt.Errorf("manifest %s: missing \"name\"", path)
	}
	if m.Entry == "" {
		return Manifest{}, fmt.Errorf("manifest %s: missing \"entry\"", path)
	}
	return m, nil
}

// discover scans dir for immediate subdirectories containing a module.json
// file, returning their names in directory-listing order.
func discover(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list module directory %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		manifestPath := filepath.Join(dir, e.Name(), "module.json")
		if _, err := os.Stat(manifestPath); err == nil {
			names = append(names, e.Name())
		}
	}
	return names, nil
}
