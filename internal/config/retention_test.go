package config

import (
	"strings"
	"testing"
	"time"

	"github.com/steveyegge/deflect/internal/processor"
)

func TestRetentionConfigFromEnv(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		wantErr string
		check   func(t *testing.T, cfg RetentionConfig)
	}{
		{
			name:    "no environment variables uses defaults",
			envVars: map[string]string{},
			check: func(t *testing.T, cfg RetentionConfig) {
				if cfg != DefaultRetentionConfig() {
					t.Errorf("cfg = %v, want defaults %v", cfg, DefaultRetentionConfig())
				}
			},
		},
		{
			name: "valid custom configuration",
			envVars: map[string]string{
				"DEFLECT_RETENTION_JOB_DAYS":               "14",
				"DEFLECT_RETENTION_EVENT_DAYS":             "60",
				"DEFLECT_RETENTION_CRITICAL_EVENT_DAYS":    "180",
				"DEFLECT_RETENTION_CLEANUP_INTERVAL_HOURS": "6",
			},
			check: func(t *testing.T, cfg RetentionConfig) {
				if cfg.JobRetentionDays != 14 {
					t.Errorf("JobRetentionDays = %v, want 14", cfg.JobRetentionDays)
				}
				if cfg.EventRetentionDays != 60 {
					t.Errorf("EventRetentionDays = %v, want 60", cfg.EventRetentionDays)
				}
				if cfg.CriticalEventRetentionDays != 180 {
					t.Errorf("CriticalEventRetentionDays = %v, want 180", cfg.CriticalEventRetentionDays)
				}
				if cfg.CleanupIntervalHours != 6 {
					t.Errorf("CleanupIntervalHours = %v, want 6", cfg.CleanupIntervalHours)
				}
			},
		},
		{
			name:    "non-numeric value",
			envVars: map[string]string{"DEFLECT_RETENTION_JOB_DAYS": "a week"},
			wantErr: "invalid value for DEFLECT_RETENTION_JOB_DAYS",
		},
		{
			name: "critical shorter than regular",
			envVars: map[string]string{
				"DEFLECT_RETENTION_EVENT_DAYS":          "60",
				"DEFLECT_RETENTION_CRITICAL_EVENT_DAYS": "30",
			},
			wantErr: "must be >= event_retention_days",
		},
		{
			name:    "job retention out of range",
			envVars: map[string]string{"DEFLECT_RETENTION_JOB_DAYS": "0"},
			wantErr: "job_retention_days must be between 1 and 365",
		},
		{
			name:    "cleanup interval too large",
			envVars: map[string]string{"DEFLECT_RETENTION_CLEANUP_INTERVAL_HOURS": "200"},
			wantErr: "cleanup_interval_hours too large",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg, err := RetentionConfigFromEnv(DefaultRetentionConfig())
			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("RetentionConfigFromEnv() error = nil, want %q", tt.wantErr)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("RetentionConfigFromEnv() error = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("RetentionConfigFromEnv() unexpected error: %v", err)
			}
			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestRetentionConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*RetentionConfig)
		wantErr bool
	}{
		{"defaults", func(*RetentionConfig) {}, false},
		{"equal event and critical retention", func(c *RetentionConfig) { c.CriticalEventRetentionDays = c.EventRetentionDays }, false},
		{"max critical retention", func(c *RetentionConfig) { c.CriticalEventRetentionDays = 730 }, false},
		{"critical retention above max", func(c *RetentionConfig) { c.CriticalEventRetentionDays = 731 }, true},
		{"event retention zero", func(c *RetentionConfig) { c.EventRetentionDays = 0 }, true},
		{"job retention above max", func(c *RetentionConfig) { c.JobRetentionDays = 366 }, true},
		{"cleanup interval zero", func(c *RetentionConfig) { c.CleanupIntervalHours = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultRetentionConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRetentionApplyTo(t *testing.T) {
	cfg := RetentionConfig{
		JobRetentionDays:           2,
		EventRetentionDays:         10,
		CriticalEventRetentionDays: 20,
		CleanupIntervalHours:       3,
	}
	p := processor.DefaultConfig()
	cfg.ApplyTo(&p)

	if p.JobRetention != 48*time.Hour {
		t.Errorf("JobRetention = %v, want 48h", p.JobRetention)
	}
	if p.EventRetention != 240*time.Hour {
		t.Errorf("EventRetention = %v, want 240h", p.EventRetention)
	}
	if p.CriticalEventRetention != 480*time.Hour {
		t.Errorf("CriticalEventRetention = %v, want 480h", p.CriticalEventRetention)
	}
	if p.CleanupInterval != 3*time.Hour {
		t.Errorf("CleanupInterval = %v, want 3h", p.CleanupInterval)
	}
	if err := p.Validate(); err != nil {
		t.Errorf("processor config invalid after ApplyTo: %v", err)
	}
}

func TestRetentionConfigString(t *testing.T) {
	got := DefaultRetentionConfig().String()
	want := "RetentionConfig{Jobs: 7d, Events: 30d, CriticalEvents: 90d, CleanupInterval: 1h}"
	if got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
