// Package invoke implements the invoke command, which ingests one raw detection event.
package invoke

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/joshsymonds/remediator/internal/app"
	"github.com/joshsymonds/remediator/internal/dispatch"
	"github.com/joshsymonds/remediator/pkg/logger"
)

// Ingester runs a raw event through the ingestion pipeline.
type Ingester interface {
	Ingest(ctx context.Context, raw []byte) (*dispatch.Outcome, error)
}

// NewCommand returns the invoke command.
func NewCommand(opts *app.Options) *cobra.Command {
	var requestID string

	cmd := &cobra.Command{
		Use:   "invoke [event-file]",
		Short: "Normalize, validate, route and enqueue one detection event",
		Long: `Read one EventBridge detection event from a file (or stdin when the file is "-" or omitted),
run it through the ingestion pipeline and print the outcome as JSON.

Rejected input is reported with status_code 400 and does not fail the command.`,
		Example: `  remediator invoke testdata/events/securityhub_s3_public.json
  cat event.json | remediator invoke -`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readEvent(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}

			a, err := app.Load(cmd.Context(), *opts, os.Getenv)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()
			if err := a.Config.ValidateInvoker(); err != nil {
				return err
			}

			if requestID == "" {
				requestID = uuid.NewString()
			}
			ctx := dispatch.WithRequestID(logger.ContextWithCorrelationID(cmd.Context(), requestID), requestID)
			return Run(ctx, a.Pipeline(ctx), raw, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&requestID, "request-id", "", "Request id recorded in the finding's enrichment (default: random)")
	return cmd
}

// Run ingests raw and writes the outcome to out. Only dispatch failures are returned as errors.
func Run(ctx context.Context, pipeline Ingester, raw []byte, out io.Writer) error {
	outcome, ingestErr := pipeline.Ingest(ctx, raw)
	if outcome != nil {
		logger.WithContext(ctx).Info("Event processed",
			"status_code", outcome.StatusCode,
			"finding_id", outcome.FindingID,
			"skipped", outcome.Skipped)
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(outcome); err != nil {
			return fmt.Errorf("writing outcome: %w", err)
		}
	}
	return ingestErr
}

func readEvent(stdin io.Reader, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("reading event from stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(args[0]) //nolint:gosec // Path is from trusted source (command line)
	if err != nil {
		return nil, fmt.Errorf("reading event file: %w", err)
	}
	return data, nil
}
