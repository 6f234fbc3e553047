package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/deflect/internal/control"
	"github.com/steveyegge/deflect/internal/types"
)

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Stop a running processor from claiming new jobs",
	Long: `Pause claiming on the processor started by 'deflect serve'. Jobs already
in flight run to completion; queued jobs wait. Resume with 'deflect resume'.

Use cases:
  - Reasoning backend outage or rate limiting
  - Budget running out for the hour
  - Draining before a deploy`,
	Annotations: map[string]string{noStoreAnnotation: "true"},
	Run: func(cmd *cobra.Command, args []string) {
		reason, _ := cmd.Flags().GetString("reason")

		resp := sendControl(func(c *control.Client) (*control.Response, error) { return c.Pause(reason) })

		green := color.New(color.FgGreen).SprintFunc()
		if changed, _ := resp.Data["changed"].(bool); !changed {
			fmt.Printf("%s Processor was already paused\n", green("✓"))
			return
		}
		fmt.Printf("%s Processor paused\n", green("✓"))
		if inFlight, ok := resp.Data["in_flight"].(float64); ok && inFlight > 0 {
			fmt.Printf("  %d job(s) still in flight will finish\n", int(inFlight))
		}
		fmt.Printf("\nTo resume: deflect resume\n")
	},
}

var resumeCmd = &cobra.Command{
	Use:         "resume",
	Short:       "Resume claiming on a paused processor",
	Annotations: map[string]string{noStoreAnnotation: "true"},
	Run: func(cmd *cobra.Command, args []string) {
		resp := sendControl(func(c *control.Client) (*control.Response, error) { return c.Resume() })

		green := color.New(color.FgGreen).SprintFunc()
		if changed, _ := resp.Data["changed"].(bool); !changed {
			fmt.Printf("%s Processor was not paused\n", green("✓"))
			return
		}
		fmt.Printf("%s Processor resumed\n", green("✓"))
	},
}

var statusCmd = &cobra.Command{
	Use:         "status",
	Short:       "Show the running processor's state and queue counts",
	Annotations: map[string]string{noStoreAnnotation: "true"},
	Run: func(cmd *cobra.Command, args []string) {
		resp := sendControl(func(c *control.Client) (*control.Response, error) { return c.Status() })

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		green := color.New(color.FgGreen).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()

		fmt.Printf("\n%s\n\n", cyan("=== Deflection Processor ==="))
		fmt.Printf("  Instance:  %v\n", resp.Data["instance_id"])
		state := green("● running")
		if paused, _ := resp.Data["paused"].(bool); paused {
			state = yellow("⏸ paused")
		}
		fmt.Printf("  State:     %s\n", state)
		if inFlight, ok := resp.Data["in_flight"].(float64); ok {
			fmt.Printf("  In flight: %d\n", int(inFlight))
		}

		if counts, ok := resp.Data["counts"].(map[string]interface{}); ok {
			fmt.Printf("\n%s\n", yellow("Jobs:"))
			for _, status := range types.AllJobStatuses {
				n, _ := counts[string(status)].(float64)
				fmt.Printf("  %-12s %d\n", jobStatusColor(status)(string(status)), int(n))
			}
		}
		fmt.Println()
	},
}

// sendControl sends one command to the running processor, exiting on failure
func sendControl(send func(*control.Client) (*control.Response, error)) *control.Response {
	client := control.NewClient(cfg.Control.SocketPath)
	resp, err := send(client)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if !resp.Success {
		red := color.New(color.FgRed).SprintFunc()
		fmt.Printf("%s %s\n", red("✗"), resp.Message)
		if resp.Error != "" {
			fmt.Printf("  Error: %s\n", resp.Error)
		}
		os.Exit(1)
	}
	if resp.Data == nil {
		resp.Data = map[string]interface{}{}
	}
	return resp
}

func init() {
	pauseCmd.Flags().StringP("reason", "r", "", "Reason for pausing (optional)")
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(statusCmd)
}
