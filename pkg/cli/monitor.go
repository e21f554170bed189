package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/vigil-ops/vigil/pkg/monitor"
)

func newMonitorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Detection daemon",
	}

	var (
		subjectName string
		intervalSec int
	)
	run := &cobra.Command{
		Use:   "run",
		Short: "Run the monitor loop until interrupted",
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

			cfg := monitor.DefaultConfig()
			cfg.Interval = a.cfg.MonitorInterval
			if intervalSec > 0 {
				cfg.Interval = time.Duration(intervalSec) * time.Second
			}

			m := monitor.New(cfg, setup.Subject, setup.NewChecker(), a.tickets)
			m.Start(ctx)
			<-ctx.Done()
			m.Stop()
			return nil
		},
	}
	run.Flags().StringVar(&subjectName, "subject", "", "subject to monitor")
	run.Flags().IntVarP(&intervalSec, "interval", "i", 0, "tick interval in seconds")

	cmd.AddCommand(run)
	return cmd
}
