package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/davicafu/bookflow/internal/config"
)

func projectionCmd(log *zap.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "projection",
		Short: "Inspect and operate the order projections",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "Show checkpoint and dead-letter state of every projection",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withOrdering(cmd.Context(), log, func(ctx context.Context, o *ordering) error {
					statuses, err := o.daemon.Status(ctx)
					if err != nil {
						return err
					}
					w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
					fmt.Fprintln(w, "PROJECTION\tCHECKPOINT\tFAULT")
					for _, s := range statuses {
						fault := "-"
						if s.Fault != nil {
							fault = fmt.Sprintf("seq %d: %s", s.Fault.GlobalSeq, s.Fault.Reason)
						}
						fmt.Fprintf(w, "%s\t%d\t%s\n", s.Name, s.Checkpoint, fault)
					}
					return w.Flush()
				})
			},
		},
		&cobra.Command{
			Use:   "resume <name>",
			Short: "Clear the dead-letter mark so the projection retries the failed event",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withOrdering(cmd.Context(), log, func(ctx context.Context, o *ordering) error {
					return o.daemon.Resume(ctx, args[0])
				})
			},
		},
		&cobra.Command{
			Use:   "rebuild <name>",
			Short: "Reset the projection so it is rebuilt from the first event",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withOrdering(cmd.Context(), log, func(ctx context.Context, o *ordering) error {
					return o.daemon.Rebuild(ctx, args[0])
				})
			},
		},
	)
	return cmd
}

// withOrdering abre solo el almacenamiento; no hace falta bus.
func withOrdering(ctx context.Context, log *zap.Logger, fn func(ctx context.Context, o *ordering) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	p, err := openPlatform(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer p.Close()

	o, err := buildOrdering(ctx, p)
	if err != nil {
		return err
	}
	return fn(ctx, o)
}
