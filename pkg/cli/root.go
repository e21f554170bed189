// Package cli implements the vigil command tree. Exit codes: 0 success,
// 1 usage or runtime failure, 2 typed not-found.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vigil-ops/vigil/pkg/store"
	"github.com/vigil-ops/vigil/pkg/version"
)

// errUsage marks command-line misuse so Execute can exit 2.
var errUsage = errors.New("usage error")

func usageErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{errUsage}, args...)...)
}

// NewRootCmd builds the vigil command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "vigil",
		Short:         "Autonomous SRE operator",
		Long:          "vigil watches a subject system, tickets invariant violations,\ndiagnoses them with a model, and remediates under safety controls.",
		Version:       version.Full(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(cmd)
		},
	}
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", errUsage, err)
	})
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(
		newMonitorCmd(),
		newAgentCmd(),
		newTicketsCmd(),
		newActionsCmd(),
		newEvalCmd(),
		newServeCmd(),
	)
	return root
}

// Execute runs the CLI and returns the process exit code. SIGINT and
// SIGTERM cancel the command context for graceful daemon shutdown.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return exitCode(err)
	}
	return 0
}

// exitCode maps a command error to the process exit code: typed not-found
// exits 2, everything else (usage included) exits 1.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if errors.Is(err, store.ErrNotFound) {
		return 2
	}
	return 1
}

func setupLogging(cmd *cobra.Command) {
	levelName, _ := cmd.Flags().GetString("log-level")
	var level slog.Level
	if err := level.UnmarshalText([]byte(levelName)); err != nil {
		level = slog.LevelInfo
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

// exactArgs is cobra.ExactArgs with the usage-error sentinel.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return usageErrorf("accepts %d arg(s), received %d", n, len(args))
		}
		return nil
	}
}

// argID parses a positional id argument.
func argID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, usageErrorf("invalid id %q", arg)
	}
	return id, nil
}
