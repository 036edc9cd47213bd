// Package tenants loads the client-organization directory the bulk
// generator creates obligations for. The directory is a YAML file kept
// next to the engine config; the daemon reloads it on change.
package tenants

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Tenant is a client organization on whose behalf obligations are generated.
type Tenant struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

type directoryFile struct {
	Tenants []Tenant `yaml:"tenants"`
}

// Load reads and validates a tenant directory file.
func Load(path string) ([]Tenant, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading tenants file: %w", err)
	}

	var parsed directoryFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parsing tenants file %s: %w", path, err)
	}

	seen := make(map[string]bool, len(parsed.Tenants))
	for i, tenant := range parsed.Tenants {
		if tenant.ID == "" {
			return nil, fmt.Errorf("tenants file %s: entry %d has no id", path, i)
		}
		if seen[tenant.ID] {
			return nil, fmt.Errorf("tenants file %s: duplicate tenant id %q", path, tenant.ID)
		}
		seen[tenant.ID] = true
	}

	return parsed.Tenants, nil
}

// FileDirectory serves tenants from a YAML file with hot reload support.
type FileDirectory struct {
	path string

	mu      sync.RWMutex
	tenants []Tenant
}

// NewFileDirectory loads the file once; Reload refreshes it.
func NewFileDirectory(path string) (*FileDirectory, error) {
	list, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &FileDirectory{path: path, tenants: list}, nil
}

// Path returns the backing file path.
func (d *FileDirectory) Path() string { return d.path }

// Tenants returns the current snapshot of the directory.
func (d *FileDirectory) Tenants(ctx context.Context) ([]Tenant, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]Tenant, len(d.tenants))
	copy(out, d.tenants)
	return out, nil
}

// Reload re-reads the file. On error the previous snapshot is kept.
func (d *FileDirectory) Reload() error {
	list, err := Load(d.path)
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.tenants = list
	d.mu.Unlock()
	return nil
}

// StaticDirectory serves a fixed tenant list; used by tests and by
// callers that already hold the list.
type StaticDirectory []Tenant

// Tenants returns the fixed list.
func (s StaticDirectory) Tenants(ctx context.Context) ([]Tenant, error) {
	return s, nil
}
