// Package scale implements the scale command, which reconciles the worker service's desired count.
package scale

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/joshsymonds/remediator/internal/app"
	"github.com/joshsymonds/remediator/internal/scaler"
)

// Reconciler adjusts the worker pool.
type Reconciler interface {
	Reconcile(ctx context.Context, signal scaler.ArrivalSignal) (scaler.Decision, error)
	ReconcileDepth(ctx context.Context) (scaler.Decision, error)
}

// Options are the scale command flags.
type Options struct {
	Records int
	Depth   bool
}

// NewCommand returns the scale command.
func NewCommand(opts *app.Options) *cobra.Command {
	scaleOpts := &Options{}

	cmd := &cobra.Command{
		Use:   "scale",
		Short: "Start workers when findings arrive, or size the pool from queue depth",
		Long: `Reconcile the ECS worker service's desired count.

With --records, a stopped service (desired count 0) is started with one task.
With --depth, the desired count is raised to ceil(pending / MESSAGES_PER_TASK),
clamped to MIN_TASKS..MAX_TASKS. Neither mode scales down.`,
		Example: `  remediator scale --records 3
  remediator scale --depth`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := app.Load(cmd.Context(), *opts, os.Getenv)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			if err := a.Config.ValidateScaler(); err != nil {
				return err
			}
			if scaleOpts.Depth {
				if err := a.Config.ValidateWorker(); err != nil {
					return err
				}
			}
			return Run(cmd.Context(), a.Scaler(), *scaleOpts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().IntVar(&scaleOpts.Records, "records", 1, "Number of newly arrived queue records")
	cmd.Flags().BoolVar(&scaleOpts.Depth, "depth", false, "Size the pool from the queue's approximate depth")
	return cmd
}

// Run performs one reconcile and writes the decision as JSON.
func Run(ctx context.Context, r Reconciler, opts Options, out io.Writer) error {
	var (
		decision scaler.Decision
		err      error
	)
	if opts.Depth {
		decision, err = r.ReconcileDepth(ctx)
	} else {
		decision, err = r.Reconcile(ctx, scaler.ArrivalSignal{Records: opts.Records})
	}
	if err != nil {
		return fmt.Errorf("reconciling worker service: %w", err)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(decision)
}
