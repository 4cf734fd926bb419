// Package worker drains the remediation queue and runs the engine for each finding.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/joshsymonds/remediator/internal/engine"
	"github.com/joshsymonds/remediator/internal/models"
	"github.com/joshsymonds/remediator/internal/storage"
	"github.com/joshsymonds/remediator/internal/telemetry"
	"github.com/joshsymonds/remediator/pkg/logger"
)

// Defaults applied by New when a Config field is unset or out of range.
const (
	DefaultMaxMessages       = 10
	DefaultWaitTimeSeconds   = 20
	DefaultVisibilityTimeout = 3600
	DefaultMaxEmptyReceives  = 10
	DefaultPollErrorBackoff  = 5 * time.Second
)

// QueueAPI is the subset of the SQS client the worker uses.
type QueueAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Config tunes polling and names the fallback policy and artifact bucket.
type Config struct {
	QueueURL string
	// PolicyBucket and PolicyKey are used when a message carries no policy reference.
	PolicyBucket string
	PolicyKey    string
	// OutputBucket receives engine artifacts. Empty disables upload.
	OutputBucket      string
	WorkDir           string
	PollErrorBackoff  time.Duration
	MaxMessages       int32
	WaitTimeSeconds   int32
	VisibilityTimeout int32
	MaxEmptyReceives  int
}

// State is the worker's lifecycle position.
type State string

// Worker states.
const (
	StateRunning      State = "RUNNING"
	StateIdleCounting State = "IDLE_COUNTING"
	StateTerminated   State = "TERMINATED"
)

// Worker polls the queue until it has been idle for MaxEmptyReceives consecutive polls.
type Worker struct {
	queue    QueueAPI
	store    storage.ObjectStore
	runner   engine.Runner
	metrics  *telemetry.Recorder
	notifier telemetry.Notifier
	logger   logger.Logger
	now      func() time.Time
	state    State
	cfg      Config
}

// Option configures a Worker.
type Option func(*Worker)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(w *Worker) { w.logger = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(r *telemetry.Recorder) Option {
	return func(w *Worker) { w.metrics = r }
}

// WithNotifier sets where processing outcomes are announced.
func WithNotifier(n telemetry.Notifier) Option {
	return func(w *Worker) { w.notifier = n }
}

// WithClock overrides the time source used for artifact prefixes.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) { w.now = now }
}

// New creates a worker.
func New(cfg Config, queue QueueAPI, store storage.ObjectStore, runner engine.Runner, opts ...Option) *Worker {
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = DefaultMaxMessages
	}
	if cfg.WaitTimeSeconds < 0 {
		cfg.WaitTimeSeconds = DefaultWaitTimeSeconds
	}
	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = DefaultVisibilityTimeout
	}
	if cfg.MaxEmptyReceives <= 0 {
		cfg.MaxEmptyReceives = DefaultMaxEmptyReceives
	}
	if cfg.PollErrorBackoff < 0 {
		cfg.PollErrorBackoff = DefaultPollErrorBackoff
	}

	w := &Worker{
		cfg:    cfg,
		queue:  queue,
		store:  store,
		runner: runner,
		logger: logger.GetGlobalLogger(),
		now:    time.Now,
		state:  StateRunning,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// State reports the worker's current lifecycle state.
func (w *Worker) State() State {
	return w.state
}

// Run polls until the idle threshold is reached or ctx is canceled. Both end with a nil error.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("Worker started",
		"queue_url", w.cfg.QueueURL,
		"max_messages", w.cfg.MaxMessages,
		"max_empty_receives", w.cfg.MaxEmptyReceives)

	empty := 0
	for {
		if ctx.Err() != nil {
			w.state = StateTerminated
			w.logger.Info("Worker stopping", "reason", ctx.Err())
			return nil
		}

		deliveries, err := w.receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.logger.Error("Error polling queue", "error", err, "retry_in", w.cfg.PollErrorBackoff)
			sleep(ctx, w.cfg.PollErrorBackoff)
			continue
		}

		if len(deliveries) == 0 {
			empty++
			w.state = StateIdleCounting
			w.logger.Debug("No messages received", "empty_receives", empty)
			if empty >= w.cfg.MaxEmptyReceives {
				w.metrics.WorkerBatch(ctx, 0, 0, 0)
				w.state = StateTerminated
				w.logger.Info("Queue idle, shutting down", "empty_receives", empty)
				return nil
			}
			continue
		}

		empty = 0
		w.state = StateRunning
		// In-flight messages finish on a context detached from shutdown; the engine
		// timeout still bounds each one. Unstarted messages return to the queue.
		work := context.WithoutCancel(ctx)
		successes, failures := 0, 0
		for i := range deliveries {
			if ctx.Err() != nil {
				w.logger.Info("Shutdown requested, leaving remaining messages on the queue",
					"remaining", len(deliveries)-i)
				break
			}
			if w.Process(work, &deliveries[i]).Success {
				successes++
			} else {
				failures++
			}
		}
		w.metrics.WorkerBatch(work, len(deliveries), successes, failures)
		w.logger.Info("Processed batch",
			"received", len(deliveries),
			"successes", successes,
			"failures", failures)
	}
}

func (w *Worker) receive(ctx context.Context) ([]models.Delivery, error) {
	out, err := w.queue.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:              aws.String(w.cfg.QueueURL),
		MaxNumberOfMessages:   w.cfg.MaxMessages,
		WaitTimeSeconds:       w.cfg.WaitTimeSeconds,
		VisibilityTimeout:     w.cfg.VisibilityTimeout,
		MessageAttributeNames: []string{"All"},
		MessageSystemAttributeNames: []sqstypes.MessageSystemAttributeName{
			sqstypes.MessageSystemAttributeNameAll,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("receiving messages: %w", err)
	}

	deliveries := make([]models.Delivery, 0, len(out.Messages))
	for _, m := range out.Messages {
		d := models.Delivery{
			MessageID:     aws.ToString(m.MessageId),
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
			Body:          aws.ToString(m.Body),
			Attributes:    make(map[string]string, len(m.MessageAttributes)),
		}
		for name, v := range m.MessageAttributes {
			d.Attributes[name] = aws.ToString(v.StringValue)
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, nil
}

// Process handles one delivery. The message is deleted only when the engine succeeds;
// otherwise it reappears after the visibility timeout.
func (w *Worker) Process(ctx context.Context, d *models.Delivery) *models.WorkerResult {
	f, err := d.Decode()
	if err != nil {
		w.logger.Error("Failed to decode message", "message_id", d.MessageID, "error", err)
		return &models.WorkerResult{FindingID: "unknown", Error: err.Error()}
	}

	log := logger.WithFinding(w.logger, f.FindingID, f.ResourceType).With("message_id", d.MessageID)
	result := &models.WorkerResult{FindingID: f.FindingID}

	policy := w.policyFor(f)
	policyPath, cleanup, err := w.fetchPolicy(ctx, policy)
	defer cleanup()
	if err != nil {
		log.Error("Failed to download policy", "policy", policy.String(), "error", err)
		result.Error = err.Error()
		w.notify(ctx, log, models.StatusPolicyDownloadFailed, f, result)
		return result
	}

	log.Info("Running remediation", "policy", policy.String(), "severity", f.Severity)
	outcome, err := w.runner.Run(ctx, policyPath, f)
	if err != nil {
		log.Error("Policy execution failed", "error", err)
		result.Error = err.Error()
		var execErr *engine.ExecutionError
		if errors.As(err, &execErr) {
			result.Output = execErr.Stderr
		}
		w.notify(ctx, log, models.StatusExecutionFailed, f, result)
		return result
	}
	defer func() {
		if err := outcome.Cleanup(); err != nil {
			log.Warn("Failed to remove engine output", "dir", outcome.OutputDir, "error", err)
		}
	}()

	result.Success = true
	result.Output = outcome.Output
	result.OutputDir = outcome.OutputDir
	result.ResourcesProcessed = outcome.Resources
	result.ActionsTaken = outcome.Actions
	result.Elapsed = outcome.Elapsed

	if err := w.delete(ctx, d); err != nil {
		log.Error("Failed to delete message", "error", err)
	}

	log.Info("Remediation completed",
		"resources_processed", result.ResourcesProcessed,
		"actions_taken", result.ActionsTaken,
		"elapsed", result.Elapsed)

	if f.NeedsEscalation() {
		w.notify(ctx, log, models.StatusRemediated, f, result)
	}
	w.metrics.Execution(ctx, result.Elapsed, result.ResourcesProcessed, result.ActionsTaken, f.ResourceType)

	if w.cfg.OutputBucket != "" {
		prefix := storage.ArtifactPrefix(f.FindingID, w.now())
		n, err := storage.UploadDir(ctx, w.store, log, w.cfg.OutputBucket, prefix, outcome.OutputDir)
		if err != nil {
			log.Warn("Failed to upload engine output", "bucket", w.cfg.OutputBucket, "prefix", prefix, "error", err)
		} else {
			log.Debug("Uploaded engine output", "bucket", w.cfg.OutputBucket, "prefix", prefix, "files", n)
		}
	}

	return result
}

// policyFor fills any part of the message's policy reference from the worker's fallback.
func (w *Worker) policyFor(f *models.Finding) models.PolicyConfig {
	policy := models.PolicyConfig{PolicyBucket: w.cfg.PolicyBucket, PolicyKey: w.cfg.PolicyKey}
	if f.PolicyConfig != nil {
		if f.PolicyConfig.PolicyBucket != "" {
			policy.PolicyBucket = f.PolicyConfig.PolicyBucket
		}
		if f.PolicyConfig.PolicyKey != "" {
			policy.PolicyKey = f.PolicyConfig.PolicyKey
		}
	}
	return policy
}

func (w *Worker) fetchPolicy(ctx context.Context, policy models.PolicyConfig) (string, func(), error) {
	noop := func() {}
	if policy.PolicyBucket == "" || policy.PolicyKey == "" {
		return "", noop, fmt.Errorf("incomplete policy reference %s", policy.String())
	}

	dir, err := os.MkdirTemp(w.cfg.WorkDir, "policy-")
	if err != nil {
		return "", noop, fmt.Errorf("creating policy directory: %w", err)
	}
	cleanup := func() { _ = os.RemoveAll(dir) }

	dest := filepath.Join(dir, path.Base(policy.PolicyKey))
	if err := storage.Download(ctx, w.store, policy.PolicyBucket, policy.PolicyKey, dest); err != nil {
		return "", cleanup, err
	}
	return dest, cleanup, nil
}

func (w *Worker) delete(ctx context.Context, d *models.Delivery) error {
	_, err := w.queue.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(w.cfg.QueueURL),
		ReceiptHandle: aws.String(d.ReceiptHandle),
	})
	return err
}

func (w *Worker) notify(ctx context.Context, log logger.Logger, status models.NotificationStatus, f *models.Finding, result *models.WorkerResult) {
	if w.notifier == nil {
		return
	}
	if err := w.notifier.Notify(ctx, models.NewNotification(status, f, result)); err != nil {
		log.Warn("Failed to send notification", "status", status, "error", err)
	}
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
