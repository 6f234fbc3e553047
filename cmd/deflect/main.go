package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/steveyegge/deflect/internal/config"
	"github.com/steveyegge/deflect/internal/storage"
)

var (
	configPath string
	dbPath     string

	cfg   *config.Config
	store storage.Storage
)

// noStoreAnnotation marks commands that talk to a running server instead of the database
const noStoreAnnotation = "no-store"

var rootCmd = &cobra.Command{
	Use:   "deflect",
	Short: "Ticket deflection decision engine and job processor",
	Long: `deflect decides, per support ticket, whether an automated reply can
resolve it, should ask a follow-up question, or must go to a human.

Tickets arrive as durable jobs (HTTP, Kafka or 'deflect enqueue') and are
processed in priority order with retries. 'deflect serve' runs the processor,
the HTTP API and the operator control socket.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		loaded, err := config.Load(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if dbPath != "" {
			loaded.Storage.Path = dbPath
		}
		cfg = loaded

		if cmd.Annotations[noStoreAnnotation] == "true" {
			return
		}
		s, err := storage.NewStorage(context.Background(), &cfg.Storage)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to open storage: %v\n", err)
			os.Exit(1)
		}
		store = s
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if store != nil {
			if err := store.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to close storage: %v\n", err)
			}
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", fmt.Sprintf("config file (default %s)", config.DefaultPath))
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (overrides config)")
}

func main() {
	// .env is optional
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
