package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/steveyegge/deflect/internal/types"
)

// addTicketFlags registers the flags used to describe a ticket inline
func addTicketFlags(cmd *cobra.Command) {
	cmd.Flags().String("id", "", "Ticket ID (generated when empty)")
	cmd.Flags().String("tenant", "", "Tenant ID")
	cmd.Flags().String("subject", "", "Ticket subject")
	cmd.Flags().String("content", "", "Ticket content")
	cmd.Flags().String("category", "", "Pre-assigned category")
	cmd.Flags().String("conversation", "", "Helpdesk conversation reference")
	cmd.Flags().String("priority", "", "Priority (high, normal, low)")
}

// readTicket loads a ticket from a JSON file ("-" for stdin) when a path is
// given, otherwise builds one from the ticket flags. Flags override file values.
func readTicket(cmd *cobra.Command, args []string, stdin io.Reader) (*types.TicketData, error) {
	ticket := &types.TicketData{}
	if len(args) > 0 {
		var data []byte
		var err error
		if args[0] == "-" {
			data, err = io.ReadAll(stdin)
		} else {
			data, err = os.ReadFile(args[0])
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read ticket: %w", err)
		}
		if err := json.Unmarshal(data, ticket); err != nil {
			return nil, fmt.Errorf("failed to parse ticket JSON: %w", err)
		}
	}

	setString := func(flag string, dst *string) {
		if v, _ := cmd.Flags().GetString(flag); v != "" {
			*dst = v
		}
	}
	setString("id", &ticket.ID)
	setString("tenant", &ticket.TenantID)
	setString("subject", &ticket.Subject)
	setString("content", &ticket.Content)
	setString("category", &ticket.Category)
	setString("conversation", &ticket.ConversationRef)

	if v, _ := cmd.Flags().GetString("priority"); v != "" {
		p, err := types.ParsePriority(v)
		if err != nil {
			return nil, err
		}
		ticket.Priority = p
	}

	if ticket.ID == "" {
		ticket.ID = uuid.New().String()
	}
	if ticket.CreatedAt.IsZero() {
		ticket.CreatedAt = time.Now()
	}
	if err := ticket.Validate(); err != nil {
		return nil, err
	}
	return ticket, nil
}
