package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/deflect/internal/processor"
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue [ticket.json | -]",
	Short: "Queue a ticket for a deflection decision",
	Long: `Create a pending job for a ticket. A running 'deflect serve' picks it up.

The ticket is read from a JSON file, from stdin with "-", or built from flags.

Examples:
  deflect enqueue ticket.json
  deflect enqueue --tenant acme --subject "Reset password" --content "I can't log in"
  cat ticket.json | deflect enqueue - --priority high`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		maxRetries, _ := cmd.Flags().GetInt("max-retries")

		ticket, err := readTicket(cmd, args, os.Stdin)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		proc, err := newQueue(cfg, store)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		jobID, err := proc.Enqueue(context.Background(), processor.EnqueueRequest{
			TenantID:   ticket.TenantID,
			Ticket:     ticket,
			MaxRetries: maxRetries,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to enqueue ticket: %v\n", err)
			os.Exit(1)
		}

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Enqueued ticket %s\n", green("✓"), ticket.ID)
		fmt.Printf("  Job: %s\n", jobID)
		fmt.Printf("\nTrack it with: deflect jobs show %s\n", jobID)
	},
}

func init() {
	addTicketFlags(enqueueCmd)
	enqueueCmd.Flags().Int("max-retries", 0, "Attempt limit for this job (default from processor config)")
	rootCmd.AddCommand(enqueueCmd)
}
