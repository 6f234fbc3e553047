package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/steveyegge/deflect/internal/settings"
	"github.com/steveyegge/deflect/internal/types"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "View and change per-tenant deflection settings",
}

var settingsShowCmd = &cobra.Command{
	Use:   "show <tenant-id>",
	Short: "Print a tenant's settings as YAML",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		s, err := store.GetTenantSettings(context.Background(), args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if s == nil {
			fmt.Fprintf(os.Stderr, "Error: tenant %s has no settings (its tickets are escalated with settings_missing)\n", args[0])
			os.Exit(1)
		}

		out, err := yaml.Marshal(s)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("# tenant %s, updated %s\n%s", s.TenantID, s.UpdatedAt.Format(time.RFC3339), out)
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <tenant-id> <key=value>...",
	Short: "Change one or more settings for a tenant",
	Long: `Update settings for a tenant. A tenant without settings starts from the
defaults (auto response disabled). Values are YAML.

Examples:
  deflect settings set acme auto_response_enabled=true
  deflect settings set acme confidence_threshold=0.9 escalation_threshold=0.6
  deflect settings set acme 'human_only_categories=[legal, refunds]'`,
	Args: cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		tenantID := args[0]

		current, err := store.GetTenantSettings(ctx, tenantID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if current == nil {
			current = types.DefaultDeflectionSettings(tenantID)
		}

		updated, err := applySettings(current, args[1:])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if err := store.UpsertTenantSettings(ctx, updated); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to save settings: %v\n", err)
			os.Exit(1)
		}

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Updated settings for %s\n", green("✓"), tenantID)
	},
}

var settingsSyncCmd = &cobra.Command{
	Use:   "sync <settings.yaml>",
	Short: "Load every tenant from a settings file into storage",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		fp, err := settings.NewFileProvider(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		n, err := settings.Sync(context.Background(), fp, store)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Synced settings for %d tenant(s)\n", green("✓"), n)
	},
}

// applySettings returns a copy of s with key=value assignments applied.
// Unknown keys and invalid results are rejected.
func applySettings(s *types.DeflectionSettings, assignments []string) (*types.DeflectionSettings, error) {
	known := map[string]bool{}
	var fields map[string]interface{}
	raw, _ := yaml.Marshal(s)
	if err := yaml.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	for k := range fields {
		known[k] = true
	}

	var doc strings.Builder
	for _, a := range assignments {
		key, value, ok := strings.Cut(a, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid assignment %q (expected key=value)", a)
		}
		if !known[key] {
			return nil, fmt.Errorf("unknown setting %q", key)
		}
		fmt.Fprintf(&doc, "%s: %s\n", key, value)
	}

	updated := s.Snapshot()
	if err := yaml.Unmarshal([]byte(doc.String()), updated); err != nil {
		return nil, fmt.Errorf("invalid value: %w", err)
	}
	updated.TenantID = s.TenantID
	if err := updated.Validate(); err != nil {
		return nil, err
	}
	return updated, nil
}

func init() {
	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsSetCmd)
	settingsCmd.AddCommand(settingsSyncCmd)
	rootCmd.AddCommand(settingsCmd)
}
