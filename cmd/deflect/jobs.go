package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/deflect/internal/types"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect deflection jobs",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent jobs",
	Long: `List jobs, newest first.

Examples:
  deflect jobs list
  deflect jobs list --status failed
  deflect jobs list --tenant acme -n 100`,
	Run: func(cmd *cobra.Command, args []string) {
		limit, _ := cmd.Flags().GetInt("limit")
		tenantID, _ := cmd.Flags().GetString("tenant")
		status, _ := cmd.Flags().GetString("status")

		filter := types.JobFilter{TenantID: tenantID, Limit: limit}
		if status != "" {
			s := types.JobStatus(status)
			if !s.IsValid() {
				fmt.Fprintf(os.Stderr, "Error: invalid status %q\n", status)
				os.Exit(1)
			}
			filter.Status = &s
		}

		jobs, err := store.ListJobs(context.Background(), filter)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to list jobs: %v\n", err)
			os.Exit(1)
		}

		if len(jobs) == 0 {
			fmt.Println("No jobs found")
			return
		}

		for _, job := range jobs {
			statusColor := jobStatusColor(job.Status)
			fmt.Printf("%s %s  %-8s %-10s %s\n",
				statusColor("●"),
				shortID(job.ID),
				job.Priority,
				statusColor(string(job.Status)),
				job.Ticket.ID)

			gray := color.New(color.FgHiBlack).SprintFunc()
			detail := fmt.Sprintf("tenant %s | created %s | attempts %d/%d",
				job.TenantID, job.CreatedAt.Format("2006-01-02 15:04:05"), job.RetryCount, job.MaxRetries)
			if job.Result != nil {
				detail += " | " + string(job.Result.ResponseType())
			}
			if job.ErrorKind != "" {
				detail += " | " + job.ErrorKind
			}
			fmt.Printf("  %s\n", gray(detail))
		}
	},
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show one job",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		asJSON, _ := cmd.Flags().GetBool("json")

		job, err := store.GetJob(context.Background(), args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(job); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		}

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		fmt.Printf("\n%s\n", cyan("Job "+job.ID))
		fmt.Printf("  Status:    %s\n", jobStatusColor(job.Status)(string(job.Status)))
		fmt.Printf("  Tenant:    %s\n", job.TenantID)
		fmt.Printf("  Ticket:    %s\n", job.Ticket.ID)
		if job.Ticket.Subject != "" {
			fmt.Printf("  Subject:   %s\n", job.Ticket.Subject)
		}
		fmt.Printf("  Priority:  %s\n", job.Priority)
		fmt.Printf("  Attempts:  %d/%d\n", job.RetryCount, job.MaxRetries)
		fmt.Printf("  Created:   %s\n", job.CreatedAt.Format(time.RFC3339))
		if job.Status == types.JobRetrying || job.Status == types.JobPending {
			fmt.Printf("  Scheduled: %s\n", job.ScheduledAt.Format(time.RFC3339))
		}
		if job.StartedAt != nil {
			fmt.Printf("  Started:   %s\n", job.StartedAt.Format(time.RFC3339))
		}
		if job.CompletedAt != nil {
			fmt.Printf("  Finished:  %s\n", job.CompletedAt.Format(time.RFC3339))
		}
		if job.ErrorKind != "" {
			red := color.New(color.FgRed).SprintFunc()
			fmt.Printf("  Error:     %s %s\n", red(job.ErrorKind), job.ErrorMessage)
		}
		if d := job.Result; d != nil {
			fmt.Printf("  Decision:  %s\n", d.ResponseType())
			if d.Reason != "" {
				fmt.Printf("  Reason:    %s\n", d.Reason)
			}
			if a := d.Attempt; a != nil {
				fmt.Printf("  Category:  %s (confidence %.2f)\n", a.Category, a.ConfidenceScore)
				fmt.Printf("  Cost:      $%.4f (%d tokens)\n", a.CostUSD, a.TokensUsed)
			}
		}
		fmt.Println()
	},
}

// jobStatusColor colors a job status for terminal output
func jobStatusColor(status types.JobStatus) func(a ...interface{}) string {
	switch status {
	case types.JobCompleted:
		return color.New(color.FgGreen).SprintFunc()
	case types.JobFailed:
		return color.New(color.FgRed).SprintFunc()
	case types.JobRetrying:
		return color.New(color.FgYellow).SprintFunc()
	case types.JobProcessing:
		return color.New(color.FgCyan).SprintFunc()
	default:
		return color.New(color.FgHiBlack).SprintFunc()
	}
}

func init() {
	jobsListCmd.Flags().IntP("limit", "n", 20, "Maximum number of jobs to show")
	jobsListCmd.Flags().String("tenant", "", "Filter by tenant")
	jobsListCmd.Flags().String("status", "", "Filter by status (pending, processing, retrying, completed, failed)")
	jobsShowCmd.Flags().Bool("json", false, "Print the job as JSON")

	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsShowCmd)
	rootCmd.AddCommand(jobsCmd)
}
