package cost

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// BudgetStatus represents the current budget state of a tenant
type BudgetStatus int

const (
	// BudgetHealthy indicates normal operation - under budget limits
	BudgetHealthy BudgetStatus = iota
	// BudgetWarning indicates approaching budget limits (>80% by default)
	BudgetWarning
	// BudgetExceeded indicates budget limits have been exceeded
	BudgetExceeded
)

// String returns a human-readable string representation of the budget status
func (s BudgetStatus) String() string {
	switch s {
	case BudgetHealthy:
		return "HEALTHY"
	case BudgetWarning:
		return "WARNING"
	case BudgetExceeded:
		return "EXCEEDED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// Pricing converts token usage into USD
type Pricing struct {
	InputPerMillion  float64 `json:"input_per_million"`
	OutputPerMillion float64 `json:"output_per_million"`
}

// Cost calculates the cost in USD for given token usage
func (p Pricing) Cost(inputTokens, outputTokens int64) float64 {
	inputCost := float64(inputTokens) * p.InputPerMillion / 1_000_000
	outputCost := float64(outputTokens) * p.OutputPerMillion / 1_000_000
	return inputCost + outputCost
}

// TenantWindow is the usage of one tenant inside the current budget window
type TenantWindow struct {
	TokensUsed      int64     `json:"tokens_used"`
	CostUsed        float64   `json:"cost_used"`
	WindowStartTime time.Time `json:"window_start_time"`

	warningLogged bool
}

// BudgetState represents the persisted budget tracking state
type BudgetState struct {
	Tenants map[string]*TenantWindow `json:"tenants"`

	// Historical data
	TotalTokensUsed int64   `json:"total_tokens_used"`
	TotalCostUsed   float64 `json:"total_cost_used"`

	LastUpdated time.Time `json:"last_updated"`
}

// Tracker tracks reasoning-backend spend per tenant and enforces hourly budgets
type Tracker struct {
	config *Config
	state  *BudgetState
	mu     sync.Mutex // Protects state

	now func() time.Time
}

// NewTracker creates a new cost budget tracker
func NewTracker(cfg *Config) (*Tracker, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	t := &Tracker{
		config: cfg,
		now:    time.Now,
		state: &BudgetState{
			Tenants:     make(map[string]*TenantWindow),
			LastUpdated: time.Now(),
		},
	}

	// Try to load existing state from disk (for restart recovery)
	if cfg.PersistStatePath != "" {
		if err := t.loadState(); err != nil {
			fmt.Printf("Warning: failed to load cost state from %s: %v (starting fresh)\n", cfg.PersistStatePath, err)
		} else {
			fmt.Printf("✓ Loaded cost budget state from %s (total: $%.2f, tenants: %d)\n",
				cfg.PersistStatePath, t.state.TotalCostUsed, len(t.state.Tenants))
		}
	}

	return t, nil
}

// Pricing returns the configured token pricing
func (t *Tracker) Pricing() Pricing {
	return t.config.Pricing()
}

// RecordUsage records token usage and cost for a tenant.
// Returns the tenant's budget status after recording.
func (t *Tracker) RecordUsage(tenantID string, inputTokens, outputTokens int64, costUSD float64) BudgetStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	w := t.windowLocked(tenantID)
	totalTokens := inputTokens + outputTokens

	w.TokensUsed += totalTokens
	w.CostUsed += costUSD
	t.state.TotalTokensUsed += totalTokens
	t.state.TotalCostUsed += costUSD
	t.state.LastUpdated = t.now()

	if !t.config.Enabled {
		return BudgetHealthy
	}

	status := t.statusLocked(w)
	t.emitAlertsIfNeeded(tenantID, w, status)

	if err := t.persistState(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to persist cost state: %v\n", err)
	}

	return status
}

// CheckBudget returns the tenant's budget status without recording usage
func (t *Tracker) CheckBudget(tenantID string) BudgetStatus {
	if !t.config.Enabled {
		return BudgetHealthy
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	return t.statusLocked(t.windowLocked(tenantID))
}

// CanProceed returns true if the tenant can make another backend call without exceeding budget
func (t *Tracker) CanProceed(tenantID string) (bool, string) {
	if t.CheckBudget(tenantID) != BudgetExceeded {
		return true, ""
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	w := t.windowLocked(tenantID)

	if t.config.MaxTokensPerHour > 0 && w.TokensUsed >= t.config.MaxTokensPerHour {
		return false, fmt.Sprintf("hourly token budget exceeded for %s (%d/%d tokens used)",
			tenantID, w.TokensUsed, t.config.MaxTokensPerHour)
	}
	return false, fmt.Sprintf("hourly cost budget exceeded for %s ($%.2f/$%.2f used)",
		tenantID, w.CostUsed, t.config.MaxCostPerHour)
}

// BudgetStats contains budget statistics for one tenant
type BudgetStats struct {
	TenantID        string       `json:"tenant_id"`
	Status          BudgetStatus `json:"status"`
	TokensUsed      int64        `json:"tokens_used"`
	CostUsed        float64      `json:"cost_used"`
	WindowStartTime time.Time    `json:"window_start_time"`
	TotalTokensUsed int64        `json:"total_tokens_used"` // All tenants, all time
	TotalCostUsed   float64      `json:"total_cost_used"`   // All tenants, all time
}

// GetStats returns current budget statistics for a tenant
func (t *Tracker) GetStats(tenantID string) BudgetStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	w := t.windowLocked(tenantID)
	status := BudgetHealthy
	if t.config.Enabled {
		status = t.statusLocked(w)
	}

	return BudgetStats{
		TenantID:        tenantID,
		Status:          status,
		TokensUsed:      w.TokensUsed,
		CostUsed:        w.CostUsed,
		WindowStartTime: w.WindowStartTime,
		TotalTokensUsed: t.state.TotalTokensUsed,
		TotalCostUsed:   t.state.TotalCostUsed,
	}
}

// windowLocked returns the tenant's current window, resetting it if expired.
// MUST be called with mu held.
func (t *Tracker) windowLocked(tenantID string) *TenantWindow {
	now := t.now()
	w, ok := t.state.Tenants[tenantID]
	if !ok {
		w = &TenantWindow{WindowStartTime: now}
		t.state.Tenants[tenantID] = w
		return w
	}
	if now.Sub(w.WindowStartTime) >= t.config.BudgetResetInterval {
		w.TokensUsed = 0
		w.CostUsed = 0
		w.WindowStartTime = now
		w.warningLogged = false
	}
	return w
}

// statusLocked returns the budget status for a window (must be called with lock held)
func (t *Tracker) statusLocked(w *TenantWindow) BudgetStatus {
	maxTokens := t.config.MaxTokensPerHour
	maxCost := t.config.MaxCostPerHour

	if (maxTokens > 0 && w.TokensUsed >= maxTokens) || (maxCost > 0 && w.CostUsed >= maxCost) {
		return BudgetExceeded
	}

	if (maxTokens > 0 && float64(w.TokensUsed)/float64(maxTokens) >= t.config.AlertThreshold) ||
		(maxCost > 0 && w.CostUsed/maxCost >= t.config.AlertThreshold) {
		return BudgetWarning
	}

	return BudgetHealthy
}

// emitAlertsIfNeeded logs once per window when a tenant crosses a threshold
func (t *Tracker) emitAlertsIfNeeded(tenantID string, w *TenantWindow, status BudgetStatus) {
	if status == BudgetHealthy || w.warningLogged {
		return
	}
	w.warningLogged = true

	resetIn := w.WindowStartTime.Add(t.config.BudgetResetInterval).Sub(t.now()).Round(time.Minute)
	if status == BudgetExceeded {
		fmt.Printf("🚨 Cost budget EXCEEDED for tenant %s: $%.2f used, new backend calls rejected (resets in %v)\n",
			tenantID, w.CostUsed, resetIn)
		return
	}
	fmt.Printf("⚠️  Cost budget warning for tenant %s: $%.2f of $%.2f used\n",
		tenantID, w.CostUsed, t.config.MaxCostPerHour)
}

// persistState saves the budget state to disk
func (t *Tracker) persistState() error {
	if t.config.PersistStatePath == "" {
		return nil // Persistence disabled
	}

	data, err := json.MarshalIndent(t.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	if err := os.WriteFile(t.config.PersistStatePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}

	return nil
}

// loadState loads the budget state from disk
func (t *Tracker) loadState() error {
	data, err := os.ReadFile(t.config.PersistStatePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // No state file yet, start fresh
		}
		return fmt.Errorf("failed to read state file: %w", err)
	}

	var state BudgetState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("failed to unmarshal state: %w", err)
	}

	if state.Tenants == nil {
		state.Tenants = make(map[string]*TenantWindow)
	}

	t.state = &state
	return nil
}
