package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/deflect/internal/events"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show recent job events",
	Long: `Display the job event log: claims, decisions, retries, failures,
maintenance runs and operator actions.

Examples:
  deflect events                        # Show last 20 events
  deflect events -n 50                  # Show last 50 events
  deflect events --job <job-id>         # Show the history of one job
  deflect events --severity critical    # Show only failed jobs
  deflect events --since 1h             # Show the last hour`,
	Run: func(cmd *cobra.Command, args []string) {
		limit, _ := cmd.Flags().GetInt("limit")
		jobID, _ := cmd.Flags().GetString("job")
		tenantID, _ := cmd.Flags().GetString("tenant")
		eventType, _ := cmd.Flags().GetString("type")
		severity, _ := cmd.Flags().GetString("severity")
		since, _ := cmd.Flags().GetDuration("since")

		filter := events.EventFilter{
			JobID:    jobID,
			TenantID: tenantID,
			Type:     events.EventType(eventType),
			Severity: events.EventSeverity(severity),
			Limit:    limit,
		}
		if since > 0 {
			filter.AfterTime = time.Now().Add(-since)
		}

		eventList, err := store.GetEvents(context.Background(), filter)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error fetching events: %v\n", err)
			os.Exit(1)
		}

		if len(eventList) == 0 {
			yellow := color.New(color.FgYellow).SprintFunc()
			fmt.Printf("\n%s No events found matching the criteria\n\n", yellow("✨"))
			return
		}

		cyan := color.New(color.FgCyan).SprintFunc()
		fmt.Printf("\n%s Recent events (%d):\n\n", cyan("📋"), len(eventList))

		// Newest last, so the log reads top to bottom
		for i := len(eventList) - 1; i >= 0; i-- {
			displayEvent(eventList[i])
		}
		fmt.Println()
	},
}

func init() {
	eventsCmd.Flags().IntP("limit", "n", 20, "Number of recent events to show")
	eventsCmd.Flags().StringP("job", "j", "", "Filter events by job ID")
	eventsCmd.Flags().String("tenant", "", "Filter events by tenant")
	eventsCmd.Flags().StringP("type", "t", "", "Filter by event type (e.g. job_failed, decision_made)")
	eventsCmd.Flags().StringP("severity", "s", "", "Filter by severity (info, warning, error, critical)")
	eventsCmd.Flags().Duration("since", 0, "Only show events newer than this (e.g. 1h)")
	rootCmd.AddCommand(eventsCmd)
}
