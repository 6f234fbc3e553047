// Package settings supplies per-tenant deflection policy to the decision engine.
package settings

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/steveyegge/deflect/internal/types"
	"gopkg.in/yaml.v3"
)

// ErrSettingsNotFound is returned when a tenant has no deflection settings
var ErrSettingsNotFound = errors.New("settings not found")

// Provider supplies tenant settings. Every call returns an independent
// snapshot the caller may hold for the duration of a job.
type Provider interface {
	GetSettings(ctx context.Context, tenantID string) (*types.DeflectionSettings, error)
}

// Store is the subset of storage the StoreProvider needs
type Store interface {
	GetTenantSettings(ctx context.Context, tenantID string) (*types.DeflectionSettings, error)
}

// StoreProvider reads settings from the tenant_settings table
type StoreProvider struct {
	store Store
}

// NewStoreProvider creates a provider backed by storage
func NewStoreProvider(store Store) *StoreProvider {
	return &StoreProvider{store: store}
}

// GetSettings implements Provider
func (p *StoreProvider) GetSettings(ctx context.Context, tenantID string) (*types.DeflectionSettings, error) {
	s, err := p.store.GetTenantSettings(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, fmt.Errorf("%w: tenant %s", ErrSettingsNotFound, tenantID)
	}
	return s.Snapshot(), nil
}

// fileFormat is the YAML layout of a settings file:
//
//	defaults:
//	  confidence_threshold: 0.85
//	tenants:
//	  acme:
//	    auto_response_enabled: true
//	    human_only_categories: [legal]
//
// Fields a tenant omits fall back to the defaults block, then to
// types.DefaultDeflectionSettings.
type fileFormat struct {
	Defaults yaml.Node            `yaml:"defaults"`
	Tenants  map[string]yaml.Node `yaml:"tenants"`
}

// FileProvider serves settings loaded from a YAML file
type FileProvider struct {
	mu      sync.RWMutex
	path    string
	tenants map[string]*types.DeflectionSettings
}

// NewFileProvider loads settings from path
func NewFileProvider(path string) (*FileProvider, error) {
	p := &FileProvider{path: path}
	if err := p.Reload(); err != nil {
		return nil, err
	}
	return p, nil
}

// Reload re-reads the settings file. On error the previous settings stay in effect.
func (p *FileProvider) Reload() error {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("failed to read settings file: %w", err)
	}
	tenants, err := ParseFile(data)
	if err != nil {
		return fmt.Errorf("failed to parse settings file %s: %w", p.path, err)
	}

	p.mu.Lock()
	p.tenants = tenants
	p.mu.Unlock()
	return nil
}

// GetSettings implements Provider
func (p *FileProvider) GetSettings(ctx context.Context, tenantID string) (*types.DeflectionSettings, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	s, ok := p.tenants[tenantID]
	if !ok {
		return nil, fmt.Errorf("%w: tenant %s", ErrSettingsNotFound, tenantID)
	}
	return s.Snapshot(), nil
}

// Tenants returns the configured tenant IDs
func (p *FileProvider) Tenants() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	ids := make([]string, 0, len(p.tenants))
	for id := range p.tenants {
		ids = append(ids, id)
	}
	return ids
}

// ParseFile decodes a settings file into validated per-tenant settings
func ParseFile(data []byte) (map[string]*types.DeflectionSettings, error) {
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}

	tenants := make(map[string]*types.DeflectionSettings, len(f.Tenants))
	for id, node := range f.Tenants {
		id = strings.TrimSpace(id)
		s := types.DefaultDeflectionSettings(id)

		// Layer defaults first, then the tenant block
		if f.Defaults.Kind == yaml.MappingNode {
			if err := f.Defaults.Decode(s); err != nil {
				return nil, fmt.Errorf("defaults: %w", err)
			}
		}
		// An empty tenant block ("acme:") takes the defaults as-is
		if node.Kind == yaml.MappingNode {
			if err := node.Decode(s); err != nil {
				return nil, fmt.Errorf("tenant %s: %w", id, err)
			}
		}
		s.TenantID = id

		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("tenant %s: %w", id, err)
		}
		tenants[id] = s
	}
	return tenants, nil
}

// Sync writes every tenant from a file provider into storage
func Sync(ctx context.Context, src *FileProvider, dst interface {
	UpsertTenantSettings(ctx context.Context, settings *types.DeflectionSettings) error
}) (int, error) {
	n := 0
	for _, id := range src.Tenants() {
		s, err := src.GetSettings(ctx, id)
		if err != nil {
			return n, err
		}
		if err := dst.UpsertTenantSettings(ctx, s); err != nil {
			return n, fmt.Errorf("failed to store settings for tenant %s: %w", id, err)
		}
		n++
	}
	return n, nil
}
