// Package home resolves the on-disk home directory for a CLI-driven
// component. Both cmd/forgecore and cmd/starlinker use it to locate
// their persistent state under a platform-appropriate config directory.
package home

import (
	"fmt"
	"os"
	"path/filepath"
)

// Dir represents a resolved home directory for a named product
// ("forgecore" or "starlinker").
type Dir struct {
	root string
}

// New creates a Dir with an explicit root path.
func New(root string) Dir {
	return Dir{root: root}
}

// Default returns a Dir using the platform-appropriate default location:
//   - Linux:   ~/.config/<product>
//   - macOS:   ~/Library/Application Support/<product>
//   - Windows: %APPDATA%/<product>
func Default(product string) (Dir, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return Dir{}, fmt.Errorf("determine config directory: %w", err)
	}
	return Dir{root: filepath.Join(base, product)}, nil
}

// Root returns the home directory path.
func (d Dir) Root() string {
	return d.root
}

// DatabasePath returns the path to a named SQLite database file under the
// home directory.
func (d Dir) DatabasePath(filename string) string {
	return filepath.Join(d.root, filename)
}

// StorageDir returns the directory used for KeyValueStore namespaces.
func (d Dir) StorageDir() string {
	return filepath.Join(d.root, "storage")
}

// ModuleDir returns the directory ForgeCore scans for module.json manifests.
func (d Dir) ModuleDir() string {
	return filepath.Join(d.root, "modules")
}

// EnsureExists creates the home directory (and parents) if it doesn't exist.
func (d Dir) EnsureExists() error {
	if err := os.MkdirAll(d.root, 0o750); err != nil {
		return fmt.Errorf("create home directory %s: %w", d.root, err)
	}
	return nil
}
