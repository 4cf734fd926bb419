// Package main is the entry point for the remediator CLI.
// The same binary serves as the finding invoker, the queue worker and the autoscaler,
// so each deployment runs one subcommand.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	configcmd "github.com/joshsymonds/remediator/cmd/config"
	"github.com/joshsymonds/remediator/cmd/invoke"
	"github.com/joshsymonds/remediator/cmd/rules"
	"github.com/joshsymonds/remediator/cmd/scale"
	"github.com/joshsymonds/remediator/cmd/worker"
	"github.com/joshsymonds/remediator/internal/app"
	"github.com/joshsymonds/remediator/pkg/logger"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		logger.Error("command failed", "error", err)
		stop()
		os.Exit(1) //nolint:gocritic // stop already called
	}
}

func newRootCommand() *cobra.Command {
	opts := &app.Options{}

	root := &cobra.Command{
		Use:           "remediator",
		Short:         "Route security findings to Cloud Custodian remediation policies",
		Version:       version + " (built " + buildTime + ")",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			logger.SetupLogger(opts.Debug, opts.LogFormat)
		},
	}

	flags := root.PersistentFlags()
	flags.BoolVar(&opts.Debug, "debug", false, "Enable debug logging")
	flags.StringVar(&opts.LogFormat, "log-format", "text", "Log format (text or json)")
	flags.StringVar(&opts.ConfigPath, "config", "", "Optional YAML configuration file; environment variables take precedence")

	root.AddCommand(
		worker.NewCommand(opts),
		invoke.NewCommand(opts),
		scale.NewCommand(opts),
		rules.NewCommand(opts),
		configcmd.NewCommand(opts),
	)
	return root
}
