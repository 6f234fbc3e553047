package cost

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestTracker(t *testing.T, cfg *Config) (*Tracker, *fakeClock) {
	t.Helper()
	tracker, err := NewTracker(cfg)
	require.NoError(t, err)
	clock := &fakeClock{t: time.Date(2025, 10, 15, 12, 0, 0, 0, time.UTC)}
	tracker.now = clock.Now
	return tracker, clock
}

func TestPricingCost(t *testing.T) {
	p := Pricing{InputPerMillion: 3.00, OutputPerMillion: 15.00}
	assert.InDelta(t, 0.003+0.0075, p.Cost(1000, 500), 1e-12)
	assert.Equal(t, 0.0, p.Cost(0, 0))
}

func TestTrackerPerTenantBudget(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxCostPerHour = 1.00
	tracker, _ := newTestTracker(t, cfg)

	assert.Equal(t, BudgetHealthy, tracker.RecordUsage("acme", 1000, 1000, 0.50))
	assert.Equal(t, BudgetWarning, tracker.RecordUsage("acme", 1000, 1000, 0.35))
	assert.Equal(t, BudgetExceeded, tracker.RecordUsage("acme", 1000, 1000, 0.20))

	ok, reason := tracker.CanProceed("acme")
	assert.False(t, ok)
	assert.Contains(t, reason, "hourly cost budget exceeded for acme")

	// Other tenants are unaffected
	ok, _ = tracker.CanProceed("globex")
	assert.True(t, ok)
	assert.Equal(t, BudgetHealthy, tracker.CheckBudget("globex"))
}

func TestTrackerWindowReset(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxTokensPerHour = 100
	cfg.MaxCostPerHour = 0
	tracker, clock := newTestTracker(t, cfg)

	tracker.RecordUsage("acme", 80, 30, 0)
	ok, reason := tracker.CanProceed("acme")
	assert.False(t, ok)
	assert.Contains(t, reason, "token budget")

	clock.Advance(time.Hour)
	ok, _ = tracker.CanProceed("acme")
	assert.True(t, ok)

	stats := tracker.GetStats("acme")
	assert.Equal(t, int64(0), stats.TokensUsed)
	assert.Equal(t, int64(110), stats.TotalTokensUsed)
}

func TestTrackerDisabledNeverBlocks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	cfg.MaxCostPerHour = 0.01
	tracker, _ := newTestTracker(t, cfg)

	assert.Equal(t, BudgetHealthy, tracker.RecordUsage("acme", 10, 10, 5.0))
	ok, _ := tracker.CanProceed("acme")
	assert.True(t, ok)
	assert.InDelta(t, 5.0, tracker.GetStats("acme").CostUsed, 1e-9)
}

func TestTrackerPersistsState(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PersistStatePath = filepath.Join(t.TempDir(), "cost_state.json")

	tracker, _ := newTestTracker(t, cfg)
	tracker.RecordUsage("acme", 100, 50, 0.25)

	reloaded, err := NewTracker(cfg)
	require.NoError(t, err)
	assert.InDelta(t, 0.25, reloaded.state.TotalCostUsed, 1e-9)
	require.Contains(t, reloaded.state.Tenants, "acme")
	assert.Equal(t, int64(150), reloaded.state.Tenants["acme"].TokensUsed)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("DEFLECT_COST_MAX_COST_PER_HOUR", "5.5")
	t.Setenv("DEFLECT_COST_INPUT_TOKEN_COST", "1.25")
	t.Setenv("DEFLECT_COST_ALERT_THRESHOLD", "7") // out of range, ignored
	t.Setenv("DEFLECT_COST_ENABLED", "off")

	cfg := LoadFromEnv(nil)
	assert.InDelta(t, 5.5, cfg.MaxCostPerHour, 1e-9)
	assert.InDelta(t, 1.25, cfg.InputTokenCost, 1e-9)
	assert.InDelta(t, 0.80, cfg.AlertThreshold, 1e-9)
	assert.False(t, cfg.Enabled)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.BudgetResetInterval = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.OutputTokenCost = -1
	assert.Error(t, cfg.Validate())

	_, err := NewTracker(nil)
	assert.Error(t, err)
}
