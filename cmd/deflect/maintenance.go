package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete old terminal jobs and events",
	Long: `Apply the retention policy once: delete completed and failed jobs older
than retention.job_retention_days, and events past their retention. Critical
events are kept for retention.critical_event_retention_days.

Pending, processing and retrying jobs are never deleted. 'deflect serve'
runs this automatically every retention.cleanup_interval_hours.`,
	Run: func(cmd *cobra.Command, args []string) {
		proc, err := newQueue(cfg, store)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Retention: %s\n", cfg.Retention)
		res, err := proc.Cleanup(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cleanup failed: %v\n", err)
			os.Exit(1)
		}

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Deleted %d job(s) and %d event(s)\n", green("✓"), res.JobsDeleted, res.EventsDeleted)
	},
}

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Requeue jobs stuck in processing",
	Long: `Return jobs that have been processing for longer than
processor.stale_timeout to pending, so a live processor picks them up again.
This happens when a processor crashes mid-job. 'deflect serve' also does this
on startup and on every maintenance tick.`,
	Run: func(cmd *cobra.Command, args []string) {
		proc, err := newQueue(cfg, store)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		n, err := proc.RecoverStale(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		green := color.New(color.FgGreen).SprintFunc()
		if n == 0 {
			fmt.Printf("%s No stale jobs (timeout %v)\n", green("✓"), cfg.Processor.StaleTimeout)
			return
		}
		fmt.Printf("%s Requeued %d stale job(s)\n", green("✓"), n)
	},
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(recoverCmd)
}
