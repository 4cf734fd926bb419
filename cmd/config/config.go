// Package config implements the config command for validating and printing the effective configuration.
package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/joshsymonds/remediator/internal/app"
	"github.com/joshsymonds/remediator/internal/config"
	"github.com/joshsymonds/remediator/pkg/logger"
)

// NewCommand returns the config command.
func NewCommand(opts *app.Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Validate or print the effective configuration",
	}

	var roles []string
	validate := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration for one or more roles",
		Example: `  remediator config validate --role worker
  remediator --config remediator.yaml config validate --role invoker --role scaler`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.ConfigPath, os.Getenv)
			if err != nil {
				return fmt.Errorf("configuration is invalid: %w", err)
			}
			if err := ValidateRoles(cfg, roles); err != nil {
				return err
			}
			printValidationResults(cmd.OutOrStdout(), cfg)
			fmt.Fprintln(cmd.OutOrStdout(), "\n✅ Configuration is valid!")
			return nil
		},
	}
	validate.Flags().StringSliceVar(&roles, "role", nil, "Role to validate for: worker, invoker, scaler (repeatable)")

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.ConfigPath, os.Getenv)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer func() { _ = enc.Close() }()
			return enc.Encode(cfg)
		},
	}

	cmd.AddCommand(validate, show)
	return cmd
}

// ValidateRoles runs the role-specific checks for each named role.
func ValidateRoles(cfg *config.Config, roles []string) error {
	for _, role := range roles {
		var err error
		switch strings.ToLower(role) {
		case "worker":
			err = cfg.ValidateWorker()
		case "invoker":
			err = cfg.ValidateInvoker()
		case "scaler":
			err = cfg.ValidateScaler()
		default:
			return fmt.Errorf("unknown role: %s", role)
		}
		if err != nil {
			return fmt.Errorf("%s configuration is invalid: %w", role, err)
		}
		logger.Debug("Role configuration valid", "role", role)
	}
	return nil
}

func printValidationResults(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "📬 Queue:")
	fmt.Fprintf(w, "   URL: %s\n", orUnset(cfg.Queue.URL))
	fmt.Fprintf(w, "   Receive: %d messages, %ds wait, %ds visibility\n",
		cfg.Queue.MaxMessages, cfg.Queue.WaitTimeSeconds, cfg.Queue.VisibilityTimeout)

	fmt.Fprintln(w, "\n📜 Policies:")
	fmt.Fprintf(w, "   Bucket: %s\n", orUnset(cfg.Policy.Bucket))
	fmt.Fprintf(w, "   Mappings: %s\n", cfg.Policy.MappingKey)
	fmt.Fprintf(w, "   Default: %s\n", cfg.Policy.DefaultKey)

	fmt.Fprintln(w, "\n⚙️  Worker:")
	fmt.Fprintf(w, "   Engine: %s (timeout %s)\n", cfg.Worker.EngineBinary, cfg.EngineTimeout())
	fmt.Fprintf(w, "   Idle shutdown after %d empty polls\n", cfg.Worker.MaxEmptyReceives)
	if cfg.Worker.OutputBucket != "" {
		fmt.Fprintf(w, "   Artifacts: s3://%s/custodian-output/\n", cfg.Worker.OutputBucket)
	}

	if cfg.Scaler.Cluster != "" || cfg.Scaler.Service != "" {
		fmt.Fprintln(w, "\n📈 Scaler:")
		fmt.Fprintf(w, "   Service: %s/%s\n", orUnset(cfg.Scaler.Cluster), orUnset(cfg.Scaler.Service))
		fmt.Fprintf(w, "   Tasks: %d..%d, %d messages per task\n",
			cfg.Scaler.MinTasks, cfg.Scaler.MaxTasks, cfg.Scaler.MessagesPerTask)
	}

	var sinks []string
	if cfg.Notifications.QueueURL != "" {
		sinks = append(sinks, "sqs")
	}
	if len(cfg.Notifications.Brokers) > 0 {
		sinks = append(sinks, "kafka:"+cfg.Notifications.Topic)
	}
	if len(sinks) > 0 {
		fmt.Fprintf(w, "\n🔔 Notifications: %s\n", strings.Join(sinks, ", "))
	}

	if cfg.Metrics.Disabled {
		fmt.Fprintln(w, "\n📊 Metrics: disabled")
	} else {
		fmt.Fprintf(w, "\n📊 Metrics: %s/*\n", cfg.Metrics.NamespacePrefix)
	}
}

func orUnset(s string) string {
	if s == "" {
		return "(unset)"
	}
	return s
}
