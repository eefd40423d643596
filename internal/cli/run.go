package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the sync engine",
		Long: `Start the tillsync engine and keep it running until interrupted.

The engine opens the local database, rebuilds table occupancy, and drains
the pending-operation queue whenever connectivity allows: periodically, on
regained connectivity, and on demand.

Example:
  tillsync run --config tillsync.yaml
  tillsync run -c /etc/tillsync/tillsync.yaml --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(rootOpts, cmd)
		},
	}
	return cmd
}

func runEngine(opts *RootOptions, cmd *cobra.Command) error {
	a, err := newApp(opts)
	if err != nil {
		return err
	}
	defer a.Close()

	// Trim old synced orders before the engine starts churning.
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	if pruned, err := a.store.PruneSynced(parentCtx, a.cfg.RetentionKeep); err != nil {
		a.logger.Warn("retention prune failed", "error", err)
	} else if pruned > 0 {
		a.logger.Info("retention prune", "removed", pruned, "keep", a.cfg.RetentionKeep)
	}

	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			a.logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	fmt.Fprintln(cmd.OutOrStdout(), "Engine started. Draining on connectivity.")
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	if err := a.engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "engine error", err)
	}

	a.logger.Info("engine stopped gracefully")
	return nil
}
