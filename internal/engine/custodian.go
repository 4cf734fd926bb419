// Package engine invokes the external remediation engine (Cloud Custodian) for one finding.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/joshsymonds/remediator/internal/models"
	"github.com/joshsymonds/remediator/pkg/logger"
)

const (
	// DefaultBinary is the engine executable looked up on PATH.
	DefaultBinary = "custodian"
	// DefaultTimeout bounds a single policy run.
	DefaultTimeout = 300 * time.Second
	// DefaultRegion is used when neither the finding nor the environment names one.
	DefaultRegion = "us-east-1"

	engineName = "custodian"
)

// waitDelay bounds how long Run waits for output pipes after the engine is killed.
var waitDelay = 2 * time.Second

// Runner executes a policy against a finding.
type Runner interface {
	Run(ctx context.Context, policyPath string, f *models.Finding) (*Outcome, error)
}

// Outcome is a successful engine run.
type Outcome struct {
	Output    string
	OutputDir string
	Resources int
	Actions   int
	Elapsed   time.Duration
}

// Cleanup removes the run's output directory.
func (o *Outcome) Cleanup() error {
	if o == nil || o.OutputDir == "" {
		return nil
	}
	return os.RemoveAll(o.OutputDir)
}

// Custodian runs `custodian run` as a subprocess.
type Custodian struct {
	logger  logger.Logger
	Env     map[string]string
	Binary  string
	WorkDir string
	Region  string
	Timeout time.Duration
}

// NewCustodian creates a runner with default binary and timeout.
func NewCustodian(log logger.Logger) *Custodian {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Custodian{
		logger:  log,
		Binary:  DefaultBinary,
		Timeout: DefaultTimeout,
	}
}

// region picks the finding's region, then the configured one, then AWS_DEFAULT_REGION.
func (c *Custodian) region(f *models.Finding) string {
	for _, r := range []string{f.Region, c.Region, os.Getenv("AWS_DEFAULT_REGION")} {
		if r != "" {
			return r
		}
	}
	return DefaultRegion
}

// FindingEnv is the environment the policy sees for f.
func FindingEnv(f *models.Finding) map[string]string {
	severity := string(f.Severity)
	if severity == "" {
		severity = string(models.SeverityMedium)
	}
	return map[string]string{
		"FINDING_ID":   f.FindingID,
		"RESOURCE_ID":  f.ResourceID,
		"RESOURCE_IDS": f.ResourceID,
		"SEVERITY":     severity,
		"SOURCE":       string(f.Source),
	}
}

// Run executes policyPath for f. On success the caller owns Outcome.OutputDir.
func (c *Custodian) Run(ctx context.Context, policyPath string, f *models.Finding) (*Outcome, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	outputDir, err := os.MkdirTemp(c.WorkDir, "c7n-output-")
	if err != nil {
		return nil, NewExecutionError(engineName, ErrorTypeConfig, fmt.Errorf("creating output directory: %w", err))
	}

	args := []string{"run", "-s", outputDir, "--region", c.region(f), policyPath}

	env := FindingEnv(f)
	for k, v := range c.Env {
		env[k] = v
	}

	log := logger.WithFinding(c.logger, f.FindingID, f.ResourceType)
	if f.ResourceID != "" {
		log.Info("Targeting resources", "resource_id", f.ResourceID)
	}
	log.Debug("Executing engine", "binary", c.Binary, "args", strings.Join(args, " "))

	start := time.Now()
	stdout, stderr, err := execute(runCtx, c.Binary, args, env)
	elapsed := time.Since(start)

	if err != nil {
		_ = os.RemoveAll(outputDir)
		return nil, c.classify(ctx, runCtx, timeout, stderr, err)
	}

	resources, actions := ParseSummary(stdout)
	return &Outcome{
		Output:    stdout,
		OutputDir: outputDir,
		Resources: resources,
		Actions:   actions,
		Elapsed:   elapsed,
	}, nil
}

func (c *Custodian) classify(parent, runCtx context.Context, timeout time.Duration, stderr string, err error) error {
	switch {
	case parent.Err() != nil:
		return NewExecutionError(engineName, ErrorTypeContext, parent.Err())
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		e := NewExecutionError(engineName, ErrorTypeTimeout,
			fmt.Errorf("policy execution timeout (>%s): %w", timeout, context.DeadlineExceeded))
		e.Stderr = stderr
		return e
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		e := NewExecutionError(engineName, ErrorTypeExecution, err)
		e.ExitCode = exitErr.ExitCode()
		e.Stderr = stderr
		if msg := strings.TrimSpace(stderr); msg != "" {
			e.Message = msg
		}
		return e
	}
	return NewExecutionError(engineName, ErrorTypeConfig, err)
}

// execute runs binary with env merged over the process environment. Cancelling ctx kills
// the whole process group, so children of a wrapper script cannot outlive the timeout.
func execute(ctx context.Context, binary string, args []string, env map[string]string) (string, string, error) {
	cmd := exec.CommandContext(ctx, binary, args...) // #nosec G204 - binary is operator configured
	killProcessGroup(cmd)
	cmd.WaitDelay = waitDelay
	merged := os.Environ()
	for k, v := range env {
		merged = append(merged, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Env = merged

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// Version returns the engine's reported version, or "unknown".
func (c *Custodian) Version(ctx context.Context) string {
	stdout, _, err := execute(ctx, c.Binary, []string{"version"}, nil)
	if err != nil {
		return "unknown"
	}
	if v := strings.TrimSpace(stdout); v != "" {
		return v
	}
	return "unknown"
}
