package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vigil-ops/vigil/pkg/agent"
	"github.com/vigil-ops/vigil/pkg/llm"
)

func newAgentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Diagnosis and remediation daemon",
	}

	var subjectName string
	start := &cobra.Command{
		Use:   "start",
		Short: "Run the agent loop until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			if subjectName == "" {
				return usageErrorf("--subject is required")
			}
			setup, err := lookupSubject(subjectName)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.registerSubjectActions(setup); err != nil {
				return err
			}

			model, err := newModelClient(a)
			if err != nil {
				return err
			}

			ag := buildAgent(a, setup, model)
			a.safety.SetTaskCanceler(ag)

			ag.Start(ctx)
			<-ctx.Done()
			ag.Stop()
			return nil
		},
	}
	start.Flags().StringVar(&subjectName, "subject", "", "subject to remediate")

	diagnose := &cobra.Command{
		Use:   "diagnose <ticket-id>",
		Short: "Diagnose a single open ticket and exit",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if subjectName == "" {
				return usageErrorf("--subject is required")
			}
			id, err := argID(args[0])
			if err != nil {
				return err
			}
			setup, err := lookupSubject(subjectName)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.registerSubjectActions(setup); err != nil {
				return err
			}
			model, err := newModelClient(a)
			if err != nil {
				return err
			}

			ag := buildAgent(a, setup, model)
			if err := ag.DiagnoseOne(ctx, id); err != nil {
				return err
			}
			ticket, err := a.tickets.Get(ctx, id)
			if err != nil {
				return err
			}
			if ticket.Diagnosis != nil {
				fmt.Fprintln(cmd.OutOrStdout(), *ticket.Diagnosis)
			}
			return nil
		},
	}
	diagnose.Flags().StringVar(&subjectName, "subject", "", "subject the ticket belongs to")

	cmd.AddCommand(start, diagnose)
	return cmd
}

func newModelClient(a *app) (llm.Client, error) {
	if a.cfg.AnthropicAPIKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY is required for the agent")
	}
	return llm.NewAnthropicClient(a.cfg.AnthropicAPIKey, llm.WithModel(a.cfg.Model))
}

func buildAgent(a *app, setup SubjectSetup, model llm.Client) *agent.Agent {
	cfg := agent.DefaultConfig()
	cfg.Interval = a.cfg.AgentInterval
	cfg.VerificationDelay = a.cfg.VerificationDelay

	gatherer := agent.NewGatherer(a.tickets, setup.Subject, setup.Logs)
	return agent.New(cfg, a.tickets, a.actions, gatherer, model,
		a.dispatcher, a.registry, setup.Subject, setup.NewChecker())
}
