package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/steveyegge/deflect/internal/api"
	"github.com/steveyegge/deflect/internal/control"
	"github.com/steveyegge/deflect/internal/ingest"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the job processor, HTTP API and control socket",
	Long: `Start the deflection service.

serve will:
1. Requeue jobs abandoned by a crashed processor
2. Poll for eligible jobs and decide them in priority order
3. Serve the HTTP API (unless api.addr is empty)
4. Listen on the control socket for pause/resume/status
5. Consume ticket events from Kafka (when kafka.enabled is set)
6. Continue until stopped with Ctrl+C, draining in-flight jobs`,
	Run: func(cmd *cobra.Command, args []string) {
		shutdownTimeout, _ := cmd.Flags().GetDuration("shutdown-timeout")

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		d, err := newDeflector(ctx, cfg, store)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer d.Close()

		if err := run(ctx, d, shutdownTimeout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	serveCmd.Flags().Duration("shutdown-timeout", 30*time.Second, "How long to wait for in-flight jobs on shutdown")
	rootCmd.AddCommand(serveCmd)
}

func run(ctx context.Context, d *deflector, shutdownTimeout time.Duration) error {
	proc := d.processor

	ctl, err := control.NewServer(cfg.Control.SocketPath, control.NewProcessorHandler(proc))
	if err != nil {
		return err
	}

	var srv *http.Server
	if cfg.API.Addr != "" {
		srv = &http.Server{
			Addr:              cfg.API.Addr,
			Handler:           api.NewRouter(&api.App{Processor: proc, Feedback: d.service, Backend: d.reasoner}),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	var consumer *ingest.Consumer
	if cfg.Kafka.Enabled {
		consumer, err = ingest.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TicketsTopic, cfg.Kafka.GroupID, proc)
		if err != nil {
			return err
		}
	}

	if err := proc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start processor: %w", err)
	}
	if err := ctl.Start(ctx); err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = proc.Stop(stopCtx)
		return fmt.Errorf("failed to start control server: %w", err)
	}

	green := color.New(color.FgGreen).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()
	fmt.Printf("%s Deflection service started (instance %s)\n", green("✓"), cyan(proc.InstanceID()))
	fmt.Printf("  Polling for jobs every %v (batch size %d)\n", cfg.Processor.PollInterval, cfg.Processor.BatchSize)
	if srv != nil {
		fmt.Printf("  HTTP API: %s\n", srv.Addr)
	} else {
		fmt.Printf("  HTTP API: disabled\n")
	}
	fmt.Printf("  Control socket: %s\n", cfg.Control.SocketPath)
	if consumer != nil {
		fmt.Printf("  Consuming tickets from %s (group %s)\n", cfg.Kafka.TicketsTopic, cfg.Kafka.GroupID)
	}
	fmt.Printf("  Press Ctrl+C to stop\n\n")

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(sigCtx)

	if srv != nil {
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
	}
	if consumer != nil {
		g.Go(func() error {
			return consumer.Run(gctx)
		})
	}

	// Wait for a signal or a failed component, then shut everything down
	g.Go(func() error {
		<-gctx.Done()
		fmt.Printf("\nShutting down...\n")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if srv != nil {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				fmt.Fprintf(os.Stderr, "warning: http shutdown: %v\n", err)
			}
		}
		if err := ctl.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to stop control server: %v\n", err)
		}
		if err := proc.Stop(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "warning: processor did not drain before timeout: %v\n", err)
		}
		if consumer != nil {
			if err := consumer.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to close consumer: %v\n", err)
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	fmt.Printf("%s Stopped\n", green("✓"))
	return nil
}
