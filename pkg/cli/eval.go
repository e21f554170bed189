package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vigil-ops/vigil/pkg/eval"
)

func newEvalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Run and analyze chaos campaigns",
	}
	cmd.AddCommand(
		newEvalRunCmd(),
		newEvalAnalyzeCmd(),
		newEvalCompareCmd(),
		newEvalCompareBaselineCmd(),
		newEvalCompareVariantsCmd(),
		newEvalShowCmd(),
		newEvalListCmd(),
	)
	return cmd
}

func newRunner(a *app) *eval.Runner {
	harness := eval.NewHarness(eval.DefaultHarnessConfig(), a.tickets, a.actions, a.audit, a.evals)
	return eval.NewRunner(harness, a.evals, allSubjects())
}

func newAnalyzer(a *app) *eval.Analyzer {
	healthy := make(map[string]eval.HealthPredicate)
	subjectsMu.RLock()
	for name, setup := range subjects {
		s := setup.Subject
		healthy[name] = func(state map[string]any) bool { return s.Healthy(state) }
	}
	subjectsMu.RUnlock()
	return eval.NewAnalyzer(a.evals, healthy, nil)
}

func newEvalRunCmd() *cobra.Command {
	var (
		subjectName string
		chaosType   string
		trials      int
		baseline    bool
	)
	run := &cobra.Command{
		Use:   "run [campaign <config.yaml>]",
		Short: "Run a campaign from flags or a YAML matrix",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			runner := newRunner(a)

			if len(args) == 2 && args[0] == "campaign" {
				spec, err := eval.LoadCampaignSpec(args[1])
				if err != nil {
					return err
				}
				campaigns, err := runner.RunCampaign(cmd.Context(), spec)
				for _, c := range campaigns {
					fmt.Fprintf(cmd.OutOrStdout(), "campaign %d: %s/%s\n", c.ID, c.SubjectName, c.ChaosType)
				}
				return err
			}
			if len(args) != 0 {
				return usageErrorf("expected no args or: campaign <config.yaml>")
			}
			if subjectName == "" || chaosType == "" {
				return usageErrorf("--subject and --chaos are required")
			}
			campaign, err := runner.RunSingle(cmd.Context(), subjectName, chaosType, trials, baseline, nil)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "campaign %d complete\n", campaign.ID)
			return nil
		},
	}
	run.Flags().StringVar(&subjectName, "subject", "", "subject to test")
	run.Flags().StringVar(&chaosType, "chaos", "", "chaos type to inject")
	run.Flags().IntVarP(&trials, "trials", "n", 3, "trials to run")
	run.Flags().BoolVar(&baseline, "baseline", false, "run without the agent (self-heal baseline)")
	return run
}

func newEvalAnalyzeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze <campaign-id>",
		Short: "Score a campaign",
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

			summary, err := newAnalyzer(a).Summarize(cmd.Context(), id)
			if err != nil {
				return err
			}
			printSummary(cmd, summary)
			return nil
		},
	}
}

func newEvalCompareCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compare <campaign-a> <campaign-b>",
		Short: "Compare two campaigns",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			idA, err := argID(args[0])
			if err != nil {
				return err
			}
			idB, err := argID(args[1])
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			comparison, err := newAnalyzer(a).Compare(cmd.Context(), idA, idB)
			if err != nil {
				return err
			}
			printComparison(cmd, comparison)
			return nil
		},
	}
}

func newEvalCompareBaselineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compare-baseline <agent-campaign-id>",
		Short: "Compare an agent campaign against its baseline",
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

			comparison, err := newAnalyzer(a).CompareBaseline(cmd.Context(), id)
			if err != nil {
				return err
			}
			printComparison(cmd, comparison)
			return nil
		},
	}
}

func newEvalCompareVariantsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compare-variants <subject> <chaos>",
		Short: "Scorecard of variants for one subject/chaos pair",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			summaries, err := newAnalyzer(a).CompareVariants(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			for _, s := range summaries {
				name := s.VariantName
				if name == "" {
					name = "(default)"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "== variant %s ==\n", name)
				printSummary(cmd, s)
			}
			return nil
		},
	}
}

func newEvalShowCmd() *cobra.Command {
	var showTrial bool
	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a campaign (or a trial with --trial)",
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
			out := cmd.OutOrStdout()

			if showTrial {
				t, err := a.evals.GetTrial(cmd.Context(), id)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Trial %d (campaign %d)\n", t.ID, t.CampaignID)
				fmt.Fprintf(out, "  started:   %s\n", t.StartedAt.Format(time.RFC3339))
				fmt.Fprintf(out, "  injected:  %s\n", t.ChaosInjectedAt.Format(time.RFC3339))
				if t.TicketCreatedAt != nil {
					fmt.Fprintf(out, "  detected:  %s (+%s)\n",
						t.TicketCreatedAt.Format(time.RFC3339), t.TicketCreatedAt.Sub(t.ChaosInjectedAt))
				}
				if t.ResolvedAt != nil {
					fmt.Fprintf(out, "  resolved:  %s (+%s)\n",
						t.ResolvedAt.Format(time.RFC3339), t.ResolvedAt.Sub(t.ChaosInjectedAt))
				}
				fmt.Fprintf(out, "  ended:     %s\n", t.EndedAt.Format(time.RFC3339))
				if t.CommandsJSON != nil {
					fmt.Fprintf(out, "  commands:  %s\n", *t.CommandsJSON)
				}
				return nil
			}

			c, err := a.evals.GetCampaign(cmd.Context(), id)
			if err != nil {
				return err
			}
			trials, err := a.evals.ListTrials(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Campaign %d: %s/%s trials=%d baseline=%v variant=%q\n",
				c.ID, c.SubjectName, c.ChaosType, c.TrialCount, c.Baseline, c.VariantName)
			for _, t := range trials {
				fmt.Fprintf(out, "  trial %d: started %s\n", t.ID, t.StartedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
	show.Flags().BoolVar(&showTrial, "trial", false, "show a trial instead of a campaign")
	return show
}

func newEvalListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List campaigns",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			campaigns, err := a.evals.ListCampaigns(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-5s %-15s %-15s %-7s %-9s %s\n",
				"ID", "SUBJECT", "CHAOS", "TRIALS", "BASELINE", "CREATED")
			for _, c := range campaigns {
				fmt.Fprintf(out, "%-5d %-15s %-15s %-7d %-9v %s\n",
					c.ID, c.SubjectName, c.ChaosType, c.TrialCount, c.Baseline,
					c.CreatedAt.Format("2006-01-02 15:04"))
			}
			return nil
		},
	}
}

func printSummary(cmd *cobra.Command, s *eval.CampaignSummary) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "campaign %d  %s/%s\n", s.CampaignID, s.SubjectName, s.ChaosType)
	fmt.Fprintf(out, "  trials:       %d (success %d, failure %d, timeout %d)\n",
		s.Trials, s.Successes, s.Failures, s.Timeouts)
	fmt.Fprintf(out, "  win rate:     %.0f%%\n", s.WinRate*100)
	fmt.Fprintf(out, "  mean detect:  %s\n", s.MeanTimeToDetect.Round(time.Millisecond))
	fmt.Fprintf(out, "  mean resolve: %s\n", s.MeanTimeToResolve.Round(time.Millisecond))
	fmt.Fprintf(out, "  commands:     %d total, %d unique, %d destructive\n",
		s.TotalCommands, s.UniqueCommands, s.DestructiveCommands)
	if s.ThrashingTrials > 0 {
		fmt.Fprintf(out, "  thrashing:    %d trial(s)\n", s.ThrashingTrials)
	}
}

func printComparison(cmd *cobra.Command, c *eval.Comparison) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "--- A ---")
	printSummary(cmd, c.A)
	fmt.Fprintln(out, "--- B ---")
	printSummary(cmd, c.B)
	fmt.Fprintf(out, "\nwin rate delta:   %+.0f%%\n", c.WinRateDelta*100)
	fmt.Fprintf(out, "detect speedup:   %s\n", c.DetectSpeedup.Round(time.Millisecond))
	fmt.Fprintf(out, "resolve speedup:  %s\n", c.ResolveSpeedup.Round(time.Millisecond))
	fmt.Fprintf(out, "command delta:    %+d (destructive %+d)\n", c.CommandDelta, c.DestructiveDelta)
}
