package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/deflect/internal/repl"
	"github.com/steveyegge/deflect/internal/types"
)

var decideCmd = &cobra.Command{
	Use:   "decide [ticket.json | -]",
	Short: "Decide one ticket synchronously, without the queue",
	Long: `Run the decision pipeline for one ticket and print the decision.

By default this is a dry run: nothing is recorded and no budget is spent
against the tenant's window (the backend is still called). Pass
--dry-run=false to record the decision so duplicate checks and feedback
see it.

Examples:
  deflect decide ticket.json
  deflect decide --tenant acme --content "How do I export my data?"
  deflect decide ticket.json --dry-run=false --json`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		asJSON, _ := cmd.Flags().GetBool("json")

		ticket, err := readTicket(cmd, args, os.Stdin)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		ctx := context.Background()
		d, err := newDeflector(ctx, cfg, store)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer d.Close()

		decision, err := d.processor.Decide(ctx, ticket, dryRun)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: decision failed: %v\n", err)
			os.Exit(1)
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			_ = enc.Encode(decision)
			return
		}
		printDecision(ticket, decision, dryRun)
	},
}

var tryCmd = &cobra.Command{
	Use:   "try",
	Short: "Interactive playground for dry-run decisions",
	Long: `Open an interactive shell where every line you type is treated as a
ticket and decided against the tenant's current settings. Nothing is recorded.`,
	Run: func(cmd *cobra.Command, args []string) {
		tenantID, _ := cmd.Flags().GetString("tenant")

		ctx := context.Background()
		d, err := newDeflector(ctx, cfg, store)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer d.Close()

		r, err := repl.New(&repl.Config{
			Decider:  d.processor,
			Settings: d.settings,
			TenantID: tenantID,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if err := r.Run(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

// printDecision prints a decision for a human
func printDecision(ticket *types.TicketData, d *types.DeflectionDecision, dryRun bool) {
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	if d.ShouldRespond {
		fmt.Printf("%s %s ticket %s\n", green("✓"), d.ResponseType(), ticket.ID)
	} else {
		fmt.Printf("%s escalate ticket %s (%s)\n", yellow("⚠"), ticket.ID, d.Reason)
	}
	if a := d.Attempt; a != nil {
		if a.Category != "" {
			fmt.Printf("  Category:   %s\n", a.Category)
		}
		fmt.Printf("  Confidence: %.2f\n", a.ConfidenceScore)
		if a.ReusedFromTicketID != "" {
			fmt.Printf("  Reused analysis of %s (similarity %.2f)\n", a.ReusedFromTicketID, a.SimilarityScore)
		}
		if a.Content != "" {
			fmt.Printf("  Response:\n    %s\n", a.Content)
		}
		fmt.Printf("  Cost:       $%.4f (%d tokens)\n", a.CostUSD, a.TokensUsed)
	}
	if dryRun {
		fmt.Printf("  %s\n", gray("dry run: nothing recorded"))
	}
}

func init() {
	addTicketFlags(decideCmd)
	decideCmd.Flags().Bool("dry-run", true, "Compute the decision without recording it")
	decideCmd.Flags().Bool("json", false, "Print the decision as JSON")
	tryCmd.Flags().String("tenant", "", "Tenant whose settings apply")

	rootCmd.AddCommand(decideCmd)
	rootCmd.AddCommand(tryCmd)
}
