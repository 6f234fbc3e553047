// Package repl is an interactive shell for trying deflection decisions
// against a tenant's live settings. Every decision is a dry run.
package repl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/steveyegge/deflect/internal/types"
)

// Decider makes a decision without recording anything when dryRun is set.
// *processor.Processor implements it.
type Decider interface {
	Decide(ctx context.Context, ticket *types.TicketData, dryRun bool) (*types.DeflectionDecision, error)
}

// SettingsSource loads tenant settings. settings.Provider implements it.
type SettingsSource interface {
	GetSettings(ctx context.Context, tenantID string) (*types.DeflectionSettings, error)
}

// REPL represents the interactive shell
type REPL struct {
	decider  Decider
	settings SettingsSource
	out      io.Writer
	ctx      context.Context
	commands map[string]CommandHandler

	tenantID string
	subject  string
	category string
}

// CommandHandler handles a specific command
type CommandHandler func(args []string) error

// Config holds REPL configuration
type Config struct {
	Decider  Decider
	Settings SettingsSource
	TenantID string
	Out      io.Writer // defaults to stdout
}

// errExit ends the loop
var errExit = errors.New("exit")

// New creates a new REPL instance
func New(cfg *Config) (*REPL, error) {
	if cfg.Decider == nil {
		return nil, fmt.Errorf("decider is required")
	}
	out := cfg.Out
	if out == nil {
		out = os.Stdout
	}

	r := &REPL{
		decider:  cfg.Decider,
		settings: cfg.Settings,
		out:      out,
		ctx:      context.Background(),
		commands: make(map[string]CommandHandler),
		tenantID: cfg.TenantID,
	}
	r.registerCommands()
	return r, nil
}

// Run starts the REPL loop
func (r *REPL) Run(ctx context.Context) error {
	r.ctx = ctx

	cyan := color.New(color.FgCyan).SprintFunc()
	rl, err := readline.NewEx(&readline.Config{
		Prompt:            cyan("deflect> "),
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()

	r.printWelcome()

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			} else if errors.Is(err, io.EOF) {
				fmt.Fprintln(r.out, "\nGoodbye!")
				return nil
			}
			return err
		}

		if err := r.processInput(line); err != nil {
			if errors.Is(err, errExit) {
				return nil
			}
			red := color.New(color.FgRed).SprintFunc()
			fmt.Fprintf(r.out, "%s %v\n", red("Error:"), err)
		}
	}
}

// processInput runs a command, or decides on the line as ticket content
func (r *REPL) processInput(line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}

	if strings.HasPrefix(line, ":") {
		parts := strings.Fields(line[1:])
		if len(parts) == 0 {
			return nil
		}
		handler, ok := r.commands[parts[0]]
		if !ok {
			return fmt.Errorf("unknown command :%s (try :help)", parts[0])
		}
		return handler(parts[1:])
	}

	return r.decide(line)
}

func (r *REPL) registerCommands() {
	r.commands["help"] = r.cmdHelp
	r.commands["?"] = r.cmdHelp
	r.commands["tenant"] = r.cmdTenant
	r.commands["subject"] = r.cmdSubject
	r.commands["category"] = r.cmdCategory
	r.commands["settings"] = r.cmdSettings
	r.commands["exit"] = r.cmdExit
	r.commands["quit"] = r.cmdExit
}

func (r *REPL) printWelcome() {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	fmt.Fprintf(r.out, "\n%s\n", cyan("Deflection playground"))
	fmt.Fprintln(r.out, "Type a ticket message to see what would happen. Nothing is recorded.")
	if r.tenantID == "" {
		fmt.Fprintln(r.out, "Set a tenant first with :tenant <id>")
	} else {
		fmt.Fprintf(r.out, "Tenant: %s\n", r.tenantID)
	}
	fmt.Fprintln(r.out, "Type ':help' for commands, ':exit' to quit")
	fmt.Fprintln(r.out)
}

func (r *REPL) decide(content string) error {
	if r.tenantID == "" {
		return fmt.Errorf("no tenant selected (use :tenant <id>)")
	}

	ticket := &types.TicketData{
		ID:        "try-" + uuid.New().String()[:8],
		TenantID:  r.tenantID,
		Subject:   r.subject,
		Content:   content,
		Category:  r.category,
		CreatedAt: time.Now(),
	}

	start := time.Now()
	d, err := r.decider.Decide(r.ctx, ticket, true)
	if err != nil {
		return err
	}
	r.printDecision(d, time.Since(start))
	return nil
}

func (r *REPL) printDecision(d *types.DeflectionDecision, took time.Duration) {
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	action := d.ResponseType()
	switch {
	case d.ShouldRespond && action == types.ResponseAutoResolve:
		fmt.Fprintf(r.out, "%s auto-resolve\n", green("✓"))
	case d.ShouldRespond:
		fmt.Fprintf(r.out, "%s %s\n", green("✓"), action)
	default:
		reason := string(d.Reason)
		if reason == "" {
			reason = "escalate"
		}
		fmt.Fprintf(r.out, "%s escalate to a human (%s)\n", yellow("⚠"), reason)
	}

	if a := d.Attempt; a != nil {
		if a.Category != "" {
			fmt.Fprintf(r.out, "  Category:   %s\n", a.Category)
		}
		fmt.Fprintf(r.out, "  Confidence: %.2f\n", a.ConfidenceScore)
		if a.ReusedFromTicketID != "" {
			fmt.Fprintf(r.out, "  Reused:     analysis of %s (similarity %.2f)\n", a.ReusedFromTicketID, a.SimilarityScore)
		}
		if a.Content != "" {
			fmt.Fprintf(r.out, "  Response:\n    %s\n", strings.ReplaceAll(a.Content, "\n", "\n    "))
		}
		if a.CostUSD > 0 {
			fmt.Fprintf(r.out, "  %s\n", gray(fmt.Sprintf("$%.4f, %d tokens", a.CostUSD, a.TokensUsed)))
		}
	}
	fmt.Fprintf(r.out, "  %s\n\n", gray(took.Round(time.Millisecond).String()))
}

func (r *REPL) cmdHelp(args []string) error {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	fmt.Fprintf(r.out, "\n%s\n", cyan("Commands:"))

	commands := []struct {
		name string
		desc string
	}{
		{":tenant <id>", "Select the tenant whose settings apply"},
		{":subject [text]", "Set the subject for following tickets (empty clears)"},
		{":category [name]", "Set a pre-assigned category (empty clears)"},
		{":settings", "Show the tenant's deflection settings"},
		{":help, :?", "Show this help message"},
		{":exit, :quit", "Exit"},
	}
	for _, cmd := range commands {
		fmt.Fprintf(r.out, "  %-18s %s\n", green(cmd.name), cmd.desc)
	}
	fmt.Fprintln(r.out, "\nAny other input is treated as ticket content.")
	fmt.Fprintln(r.out)
	return nil
}

func (r *REPL) cmdTenant(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: :tenant <id>")
	}
	r.tenantID = args[0]
	fmt.Fprintf(r.out, "Tenant: %s\n", r.tenantID)
	return nil
}

func (r *REPL) cmdSubject(args []string) error {
	r.subject = strings.Join(args, " ")
	return nil
}

func (r *REPL) cmdCategory(args []string) error {
	r.category = strings.Join(args, " ")
	return nil
}

func (r *REPL) cmdSettings(args []string) error {
	if r.settings == nil {
		return fmt.Errorf("settings are not available")
	}
	if r.tenantID == "" {
		return fmt.Errorf("no tenant selected (use :tenant <id>)")
	}
	s, err := r.settings.GetSettings(r.ctx, r.tenantID)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "  auto_response_enabled: %t\n", s.AutoResponseEnabled)
	fmt.Fprintf(r.out, "  confidence_threshold:  %.2f\n", s.ConfidenceThreshold)
	fmt.Fprintf(r.out, "  escalation_threshold:  %.2f\n", s.EscalationThreshold)
	fmt.Fprintf(r.out, "  follow_up_enabled:     %t\n", s.FollowUpEnabled)
	fmt.Fprintf(r.out, "  similarity_enabled:    %t\n", s.SimilarityEnabled)
	if len(s.HumanOnlyCategories) > 0 {
		fmt.Fprintf(r.out, "  human_only_categories: %s\n", strings.Join(s.HumanOnlyCategories, ", "))
	}
	return nil
}

func (r *REPL) cmdExit(args []string) error {
	fmt.Fprintln(r.out, "Goodbye!")
	return errExit
}
