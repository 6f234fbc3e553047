package settings

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/steveyegge/deflect/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSettingsFile = `
defaults:
  confidence_threshold: 0.9
  escalation_threshold: 0.4
  human_only_categories: [legal, security]

tenants:
  acme:
    auto_response_enabled: true
    follow_up_enabled: false
  globex:
    confidence_threshold: 0.8
    categories: [billing, shipping]
  initech:
`

func writeSettings(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tenants.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestFileProviderLayering(t *testing.T) {
	p, err := NewFileProvider(writeSettings(t, testSettingsFile))
	require.NoError(t, err)
	ctx := context.Background()

	acme, err := p.GetSettings(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "acme", acme.TenantID)
	assert.True(t, acme.AutoResponseEnabled)
	assert.False(t, acme.FollowUpEnabled)
	assert.Equal(t, 0.9, acme.ConfidenceThreshold)
	assert.Equal(t, 0.4, acme.EscalationThreshold)
	assert.Equal(t, []string{"legal", "security"}, acme.HumanOnlyCategories)
	assert.True(t, acme.SimilarityEnabled, "unset fields keep built-in defaults")

	globex, err := p.GetSettings(ctx, "globex")
	require.NoError(t, err)
	assert.False(t, globex.AutoResponseEnabled)
	assert.Equal(t, 0.8, globex.ConfidenceThreshold)
	assert.Equal(t, []string{"billing", "shipping"}, globex.Categories)

	initech, err := p.GetSettings(ctx, "initech")
	require.NoError(t, err)
	assert.Equal(t, 0.9, initech.ConfidenceThreshold)

	assert.ElementsMatch(t, []string{"acme", "globex", "initech"}, p.Tenants())
}

func TestFileProviderUnknownTenant(t *testing.T) {
	p, err := NewFileProvider(writeSettings(t, testSettingsFile))
	require.NoError(t, err)

	_, err = p.GetSettings(context.Background(), "hooli")
	assert.True(t, errors.Is(err, ErrSettingsNotFound))
}

func TestFileProviderReturnsSnapshots(t *testing.T) {
	p, err := NewFileProvider(writeSettings(t, testSettingsFile))
	require.NoError(t, err)
	ctx := context.Background()

	first, err := p.GetSettings(ctx, "acme")
	require.NoError(t, err)
	first.HumanOnlyCategories[0] = "mutated"
	first.ConfidenceThreshold = 0.1

	second, err := p.GetSettings(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "legal", second.HumanOnlyCategories[0])
	assert.Equal(t, 0.9, second.ConfidenceThreshold)
}

func TestFileProviderReload(t *testing.T) {
	path := writeSettings(t, testSettingsFile)
	p, err := NewFileProvider(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("tenants:\n  acme:\n    confidence_threshold: 0.99\n"), 0644))
	require.NoError(t, p.Reload())

	acme, err := p.GetSettings(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, 0.99, acme.ConfidenceThreshold)

	// A broken file leaves the previous settings in place
	require.NoError(t, os.WriteFile(path, []byte("tenants: [oops"), 0644))
	assert.Error(t, p.Reload())
	acme, err = p.GetSettings(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, 0.99, acme.ConfidenceThreshold)
}

func TestParseFileRejectsInvalidThresholds(t *testing.T) {
	_, err := ParseFile([]byte(`
tenants:
  acme:
    confidence_threshold: 0.5
    escalation_threshold: 0.7
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "acme")
}

// memStore is an in-memory settings store
type memStore struct {
	settings map[string]*types.DeflectionSettings
}

func (m *memStore) GetTenantSettings(ctx context.Context, tenantID string) (*types.DeflectionSettings, error) {
	return m.settings[tenantID], nil
}

func (m *memStore) UpsertTenantSettings(ctx context.Context, s *types.DeflectionSettings) error {
	m.settings[s.TenantID] = s.Snapshot()
	return nil
}

func TestStoreProvider(t *testing.T) {
	store := &memStore{settings: map[string]*types.DeflectionSettings{}}
	p := NewStoreProvider(store)
	ctx := context.Background()

	_, err := p.GetSettings(ctx, "acme")
	assert.ErrorIs(t, err, ErrSettingsNotFound)

	file, err := NewFileProvider(writeSettings(t, testSettingsFile))
	require.NoError(t, err)
	n, err := Sync(ctx, file, store)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	acme, err := p.GetSettings(ctx, "acme")
	require.NoError(t, err)
	assert.True(t, acme.AutoResponseEnabled)

	acme.AutoResponseEnabled = false
	again, _ := p.GetSettings(ctx, "acme")
	assert.True(t, again.AutoResponseEnabled, "callers get snapshots, not the stored value")
}
