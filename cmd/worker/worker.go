// Package worker implements the worker command, which drains the remediation queue.
package worker

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/joshsymonds/remediator/internal/app"
)

// NewCommand returns the worker command.
func NewCommand(opts *app.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Poll the remediation queue and run policies until it stays empty",
		Long: `Poll the remediation queue and run the selected Cloud Custodian policy for each finding.

The worker exits cleanly after MAX_EMPTY_RECEIVES consecutive empty polls, or on SIGTERM.
Messages are deleted only after a successful run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := app.Load(cmd.Context(), *opts, os.Getenv)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			if err := a.Config.ValidateWorker(); err != nil {
				return err
			}
			return a.Worker().Run(cmd.Context())
		},
	}
}
