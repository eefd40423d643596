package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tillfloat/tillsync/internal/tables"
)

// statusReport is the status command's payload, shared by both formats.
type statusReport struct {
	PendingOperations int                  `json:"pending_operations"`
	OccupiedTables    []tables.Reservation `json:"occupied_tables"`
	LastSyncAt        *time.Time           `json:"last_sync_at,omitempty"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show queue depth, occupied tables and last sync time",
		Long: `Report local sync state without touching the network: how many
operations await the server, which tables the engine considers occupied,
and when the last drain pass finished.

Example:
  tillsync status
  tillsync status --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(rootOpts, cmd)
		},
	}
	return cmd
}

func runStatus(opts *RootOptions, cmd *cobra.Command) error {
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

	report := statusReport{
		OccupiedTables: a.engine.ListOccupiedTables(),
	}
	report.PendingOperations, err = a.engine.PendingOperationCount(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to count pending operations", err)
	}
	if at, err := a.engine.LastSyncAt(ctx); err == nil && !at.IsZero() {
		report.LastSyncAt = &at
	}

	f := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	if opts.Format == "json" {
		return f.Success(report)
	}
	return f.Success(formatStatus(report))
}

func formatStatus(r statusReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Pending operations: %d\n", r.PendingOperations)
	if len(r.OccupiedTables) == 0 {
		b.WriteString("Occupied tables:    none\n")
	} else {
		b.WriteString("Occupied tables:\n")
		for _, res := range r.OccupiedTables {
			fmt.Fprintf(&b, "  table %d: order %s", res.Table, res.OrderID)
			if res.OrderNumber != "" {
				fmt.Fprintf(&b, " (#%s)", res.OrderNumber)
			}
			b.WriteByte('\n')
		}
	}
	if r.LastSyncAt != nil {
		fmt.Fprintf(&b, "Last sync:          %s", r.LastSyncAt.Format(time.RFC3339))
	} else {
		b.WriteString("Last sync:          never")
	}
	return b.String()
}
