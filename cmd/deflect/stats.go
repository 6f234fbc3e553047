package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/deflect/internal/types"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue statistics and feedback success rates",
	Run: func(cmd *cobra.Command, args []string) {
		window, _ := cmd.Flags().GetDuration("window")
		tenantID, _ := cmd.Flags().GetString("tenant")
		ctx := context.Background()

		stats, err := store.GetQueueStats(ctx, time.Now().Add(-window))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to get queue stats: %v\n", err)
			os.Exit(1)
		}

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		fmt.Printf("\n%s\n\n", cyan("=== Deflection Queue ==="))
		fmt.Printf("%s %s\n", yellow("Jobs created since"), stats.Since.Format("2006-01-02 15:04:05"))
		printQueueStats(stats)

		if tenantID == "" {
			fmt.Printf("\n%s\n\n", gray("Pass --tenant to see feedback success rates"))
			return
		}

		categories, err := store.GetCategoryStats(ctx, tenantID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to get category stats: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("\n%s\n", yellow("Feedback by category ("+tenantID+"):"))
		if len(categories) == 0 {
			fmt.Printf("  %s\n\n", gray("No feedback yet"))
			return
		}
		sort.Slice(categories, func(i, j int) bool { return categories[i].Category < categories[j].Category })
		for _, c := range categories {
			fmt.Printf("  %-24s %5.1f%%  (%d helpful, %d not)\n", c.Category, c.SuccessRate()*100, c.Positive, c.Negative)
		}
		fmt.Println()
	},
}

// printQueueStats prints per-status counts and latencies
func printQueueStats(stats *types.QueueStats) {
	for _, status := range types.AllJobStatuses {
		fmt.Printf("  %-12s %d\n", jobStatusColor(status)(string(status)), stats.Counts[status])
	}
	fmt.Printf("  %-12s %d\n", "total", stats.Total)
	if stats.CompletedSamples > 0 {
		fmt.Printf("\n  Avg time to decision: %v\n", stats.AvgCompletionLatency.Round(time.Millisecond))
		fmt.Printf("  Avg processing time:  %v\n", stats.AvgProcessingLatency.Round(time.Millisecond))
		fmt.Printf("  (over %d completed jobs)\n", stats.CompletedSamples)
	}
}

func init() {
	statsCmd.Flags().Duration("window", 24*time.Hour, "Only count jobs created within this window")
	statsCmd.Flags().String("tenant", "", "Tenant for feedback success rates")
	rootCmd.AddCommand(statsCmd)
}
