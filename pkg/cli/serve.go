package cli

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/vigil-ops/vigil/pkg/api"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			server := api.NewServer(a.cfg.HTTPPort, a.tickets, a.actions,
				a.audit, a.dispatcher, a.safety)

			errCh := make(chan error, 1)
			go func() { errCh <- server.Start() }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				slog.Warn("API shutdown incomplete", "error", err)
			}
			return <-errCh
		},
	}
}
