package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tillfloat/tillsync/internal/engine"
)

// NewSyncCommand creates the sync command: one forced drain pass.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Force one drain pass now",
		Long: `Run a single drain pass against the server, bypassing the minimum
inter-sync gap, and report the result.

Exit code 0 when every queued operation was confirmed, 1 when operations
remain queued (offline) or were rejected.

Example:
  tillsync sync
  tillsync sync --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(rootOpts, cmd)
		},
	}
	return cmd
}

func runSync(opts *RootOptions, cmd *cobra.Command) error {
	a, err := newApp(opts)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := a.engine.Warm(ctx); err != nil {
		return WrapExitError(ExitCommandError, "failed to warm engine", err)
	}

	f := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	pending, err := a.engine.PendingOperationCount(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to count pending operations", err)
	}
	f.VerboseLog("draining %d queued operation(s)", pending)

	res, err := a.engine.SyncNow(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "sync failed", err)
	}
	if opts.Format == "json" {
		if err := f.Success(res); err != nil {
			return err
		}
	} else {
		if err := f.Success(formatSyncResult(res)); err != nil {
			return err
		}
	}

	if res.Failed > 0 || len(res.Rejections) > 0 {
		return NewExitError(ExitFailure, syncFailureSummary(res))
	}
	return nil
}

func formatSyncResult(res engine.SyncResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Synced %d operation(s), %d still queued.", res.Synced, res.Failed)
	for _, rej := range res.Rejections {
		fmt.Fprintf(&b, "\nRejected: %s %s (%d): %s", rej.Kind, rej.EntityID, rej.Status, rej.Message)
	}
	for from, to := range res.Renamed {
		fmt.Fprintf(&b, "\nReconciled: %s -> %s", from, to)
	}
	return b.String()
}

func syncFailureSummary(res engine.SyncResult) string {
	switch {
	case res.Failed > 0 && len(res.Rejections) > 0:
		return fmt.Sprintf("%d operation(s) still queued, %d rejected", res.Failed, len(res.Rejections))
	case res.Failed > 0:
		return fmt.Sprintf("%d operation(s) still queued", res.Failed)
	default:
		return fmt.Sprintf("%d operation(s) rejected", len(res.Rejections))
	}
}
