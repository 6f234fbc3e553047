package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/deflect/internal/engine"
)

var feedbackCmd = &cobra.Command{
	Use:   "feedback <ticket-id>",
	Short: "Record whether an automated reply helped",
	Long: `Record customer or agent feedback on the latest decision for a ticket.
Feedback feeds the per-category success rates shown by 'deflect stats'.

Examples:
  deflect feedback T-1001 --satisfied
  deflect feedback T-1002 --satisfied=false --text "answer was about the wrong plan"`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if !cmd.Flags().Changed("satisfied") {
			fmt.Fprintf(os.Stderr, "Error: --satisfied is required (use --satisfied or --satisfied=false)\n")
			os.Exit(1)
		}
		satisfied, _ := cmd.Flags().GetBool("satisfied")
		text, _ := cmd.Flags().GetString("text")

		eng, err := newFeedbackEngine(cfg, store)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fb, err := eng.LearnFromFeedback(context.Background(), args[0], satisfied, text)
		if err != nil {
			if errors.Is(err, engine.ErrNoDecision) {
				fmt.Fprintf(os.Stderr, "Error: no recorded decision for ticket %s\n", args[0])
			} else {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			}
			os.Exit(1)
		}

		green := color.New(color.FgGreen).SprintFunc()
		verdict := "helpful"
		if !fb.Satisfied {
			verdict = "not helpful"
		}
		fmt.Printf("%s Recorded %s feedback for ticket %s (category %s)\n", green("✓"), verdict, fb.TicketID, fb.Category)
	},
}

func init() {
	feedbackCmd.Flags().Bool("satisfied", false, "Whether the reply resolved the customer's issue")
	feedbackCmd.Flags().String("text", "", "Free-form feedback")
	rootCmd.AddCommand(feedbackCmd)
}
