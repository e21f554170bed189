package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vigil-ops/vigil/pkg/models"
)

func newTicketsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tickets",
		Short: "Inspect and manage tickets",
	}

	var status string
	list := &cobra.Command{
		Use:   "list",
		Short: "List tickets",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			tickets, err := a.tickets.List(cmd.Context(), models.TicketStatus(status))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-5s %-10s %-8s %-30s %-5s %s\n",
				"ID", "STATUS", "SEV", "KEY", "COUNT", "LAST SEEN")
			for _, t := range tickets {
				held := ""
				if t.Held {
					held = " (held)"
				}
				fmt.Fprintf(out, "%-5d %-10s %-8s %-30s %-5d %s%s\n",
					t.ID, t.Status, t.Severity, t.ViolationKey, t.OccurrenceCount,
					t.LastSeen.Format("2006-01-02 15:04:05"), held)
			}
			return nil
		},
	}
	list.Flags().StringVar(&status, "status", "", "filter by status")

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one ticket with its diagnosis",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := argID(args[0])
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			t, err := a.tickets.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Ticket %d [%s] %s\n", t.ID, t.Status, t.ViolationKey)
			fmt.Fprintf(out, "  severity:    %s\n", t.Severity)
			fmt.Fprintf(out, "  message:     %s\n", t.Message)
			fmt.Fprintf(out, "  first seen:  %s\n", t.FirstSeen.Format("2006-01-02 15:04:05 MST"))
			fmt.Fprintf(out, "  last seen:   %s\n", t.LastSeen.Format("2006-01-02 15:04:05 MST"))
			fmt.Fprintf(out, "  occurrences: %d\n", t.OccurrenceCount)
			fmt.Fprintf(out, "  held:        %v\n", t.Held)
			if t.Diagnosis != nil {
				fmt.Fprintf(out, "\n%s\n", *t.Diagnosis)
			}
			return nil
		},
	}

	cmd.AddCommand(list, show,
		ticketOpCmd("resolve", "Force-resolve a ticket", func(a *app, cmd *cobra.Command, id int64) error {
			return a.tickets.Resolve(cmd.Context(), id)
		}),
		ticketOpCmd("hold", "Hold a ticket against auto-resolution", func(a *app, cmd *cobra.Command, id int64) error {
			return a.tickets.Hold(cmd.Context(), id)
		}),
		ticketOpCmd("unhold", "Release a held ticket", func(a *app, cmd *cobra.Command, id int64) error {
			return a.tickets.Unhold(cmd.Context(), id)
		}),
	)
	return cmd
}

func ticketOpCmd(name, short string, op func(*app, *cobra.Command, int64) error) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <id>",
		Short: short,
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := argID(args[0])
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			if err := op(a, cmd, id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ticket %d: %s ok\n", id, name)
			return nil
		},
	}
}
