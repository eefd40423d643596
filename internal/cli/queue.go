package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tillfloat/tillsync/internal/pos"
)

// NewQueueCommand creates the queue command: list pending operations.
func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "List queued operations in drain order",
		Long: `List the durable pending-operation queue exactly as the next drain
pass will submit it.

Example:
  tillsync queue
  tillsync queue --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQueue(rootOpts, cmd)
		},
	}
	return cmd
}

func runQueue(opts *RootOptions, cmd *cobra.Command) error {
	a, err := newApp(opts)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ops, err := a.engine.QueuedOperations(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list queue", err)
	}

	f := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	if opts.Format == "json" {
		return f.Success(ops)
	}
	return f.Success(formatQueue(ops))
}

func formatQueue(ops []pos.PendingOp) string {
	if len(ops) == 0 {
		return "Queue is empty."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d queued operation(s):\n", len(ops))
	for _, op := range ops {
		fmt.Fprintf(&b, "  #%d %s %s %s (queued %s)",
			op.ID, op.Kind, op.Method, op.ResolvedPath(),
			op.CreatedAt.Format(time.RFC3339))
		if op.EntityID != "" {
			fmt.Fprintf(&b, " entity=%s", op.EntityID)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}
