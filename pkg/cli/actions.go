package cli

import (
	"fmt"
	"os/user"

	"github.com/spf13/cobra"

	"github.com/vigil-ops/vigil/pkg/models"
	"github.com/vigil-ops/vigil/pkg/safety"
)

func newActionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "actions",
		Short: "Inspect and manage action proposals",
	}

	var status string
	list := &cobra.Command{
		Use:   "list",
		Short: "List action proposals",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			proposals, err := a.actions.ListProposals(cmd.Context(), models.ProposalStatus(status))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-5s %-10s %-25s %-8s %-9s %s\n",
				"ID", "STATUS", "ACTION", "RETRIES", "APPROVED", "CREATED")
			for _, p := range proposals {
				approved := "-"
				if p.IsApproved() {
					approved = *p.ApprovedBy
				}
				fmt.Fprintf(out, "%-5d %-10s %-25s %d/%-6d %-9s %s\n",
					p.ID, p.Status, p.ActionName, p.RetryCount, p.MaxRetries,
					approved, p.CreatedAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
	list.Flags().StringVar(&status, "status", "", "filter by status")

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one proposal with its audit trail",
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

			p, err := a.actions.GetProposal(cmd.Context(), id)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Proposal %d [%s] %s\n", p.ID, p.Status, p.ActionName)
			fmt.Fprintf(out, "  reason:    %s\n", p.Reason)
			fmt.Fprintf(out, "  requester: %s (%s)\n", p.RequesterID, p.RequesterType)
			if p.AgentID != nil {
				fmt.Fprintf(out, "  agent:     %s\n", *p.AgentID)
			}
			fmt.Fprintf(out, "  retries:   %d/%d\n", p.RetryCount, p.MaxRetries)
			if p.ScheduledAt != nil {
				fmt.Fprintf(out, "  scheduled: %s\n", p.ScheduledAt.Format("2006-01-02 15:04:05 MST"))
			}
			if p.LastError != nil {
				fmt.Fprintf(out, "  last error: %s\n", *p.LastError)
			}

			events, err := a.audit.ListByProposal(cmd.Context(), id)
			if err != nil {
				return err
			}
			if len(events) > 0 {
				fmt.Fprintln(out, "\nAudit trail:")
				for _, e := range events {
					fmt.Fprintf(out, "  %s %-16s %s\n",
						e.Timestamp.Format("15:04:05"), e.EventType, e.Actor)
				}
			}
			return nil
		},
	}

	approve := &cobra.Command{
		Use:   "approve <id>",
		Short: "Approve a pending proposal",
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
			if err := a.dispatcher.Approve(cmd.Context(), id, localUser()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "proposal %d approved\n", id)
			return nil
		},
	}

	var reason string
	reject := &cobra.Command{
		Use:   "reject <id>",
		Short: "Reject a pending proposal",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := argID(args[0])
			if err != nil {
				return err
			}
			if reason == "" {
				return usageErrorf("--reason is required")
			}
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.dispatcher.Reject(cmd.Context(), id, localUser(), reason); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "proposal %d rejected\n", id)
			return nil
		},
	}
	reject.Flags().StringVar(&reason, "reason", "", "rejection reason")

	var cancelReason string
	cancel := &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a non-terminal proposal",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := argID(args[0])
			if err != nil {
				return err
			}
			if cancelReason == "" {
				cancelReason = "cancelled via cli"
			}
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.dispatcher.Cancel(cmd.Context(), id, localUser(), cancelReason); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "proposal %d cancelled\n", id)
			return nil
		},
	}
	cancel.Flags().StringVar(&cancelReason, "reason", "", "cancellation reason")

	mode := &cobra.Command{
		Use:   "mode <observe|execute>",
		Short: "Switch the safety mode",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m := safety.Mode(args[0])
			if m != safety.ModeObserve && m != safety.ModeExecute {
				return usageErrorf("invalid mode %q", args[0])
			}
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.safety.SetMode(cmd.Context(), m, localUser()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "safety mode set to %s\n", m)
			return nil
		},
	}

	killSwitch := &cobra.Command{
		Use:   "kill-switch",
		Short: "Cancel every pending proposal and force observe mode",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			result, err := a.safety.KillSwitch(cmd.Context(), localUser())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "kill switch activated")
			fmt.Fprintf(out, "  proposals cancelled:  %d\n", result.PendingProposals)
			fmt.Fprintf(out, "  containers stopped:   %d\n", result.DockerContainers)
			fmt.Fprintf(out, "  tasks cancelled:      %d\n", result.TasksCancelled)
			return nil
		},
	}

	cmd.AddCommand(list, show, approve, reject, cancel, mode, killSwitch)
	return cmd
}

// localUser attributes CLI operations to the invoking OS user.
func localUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "cli"
}
