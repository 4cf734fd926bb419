// Package scaler sizes the worker service from queue activity.
package scaler

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/joshsymonds/remediator/internal/telemetry"
	"github.com/joshsymonds/remediator/pkg/logger"
)

// ErrServiceNotFound is returned when the worker service does not exist in the cluster.
var ErrServiceNotFound = errors.New("ecs service not found")

// ECSAPI is the subset of the ECS client the controller uses.
type ECSAPI interface {
	DescribeServices(ctx context.Context, params *ecs.DescribeServicesInput, optFns ...func(*ecs.Options)) (*ecs.DescribeServicesOutput, error)
	UpdateService(ctx context.Context, params *ecs.UpdateServiceInput, optFns ...func(*ecs.Options)) (*ecs.UpdateServiceOutput, error)
}

// QueueAttributesAPI reads queue depth.
type QueueAttributesAPI interface {
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// Config bounds the worker pool.
type Config struct {
	Cluster         string
	Service         string
	QueueURL        string
	MinTasks        int
	MaxTasks        int
	MessagesPerTask int
}

// ArrivalSignal reports messages that just became visible on the queue.
type ArrivalSignal struct {
	Records int
}

// Decision is the result of one reconcile.
type Decision struct {
	Reason   string `json:"reason"`
	Previous int    `json:"previous_count"`
	Desired  int    `json:"desired_count"`
	Pending  int    `json:"pending,omitempty"`
	Records  int    `json:"record_count"`
	Scaled   bool   `json:"scaled"`
}

// Controller adjusts the worker service's desired count.
type Controller struct {
	ecs     ECSAPI
	queue   QueueAttributesAPI
	metrics *telemetry.Recorder
	logger  logger.Logger
	cfg     Config
}

// New creates a controller. queue may be nil when only arrival signals are handled.
func New(cfg Config, ecsClient ECSAPI, queue QueueAttributesAPI, metrics *telemetry.Recorder, log logger.Logger) *Controller {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	if cfg.MessagesPerTask <= 0 {
		cfg.MessagesPerTask = 1
	}
	if cfg.MaxTasks < cfg.MinTasks {
		cfg.MaxTasks = cfg.MinTasks
	}
	return &Controller{cfg: cfg, ecs: ecsClient, queue: queue, metrics: metrics, logger: log}
}

// DesiredTasks is the steady-state pool size for pending messages:
// ceil(pending / messages per task) clamped to [min, max], and min when nothing is pending.
func (c *Controller) DesiredTasks(pending int) int {
	if pending <= 0 {
		return c.cfg.MinTasks
	}
	desired := (pending + c.cfg.MessagesPerTask - 1) / c.cfg.MessagesPerTask
	return max(c.cfg.MinTasks, min(desired, c.cfg.MaxTasks))
}

// Reconcile handles an arrival signal. A stopped service with new arrivals is started with one
// task immediately, unless MaxTasks caps the pool at zero; otherwise nothing changes.
func (c *Controller) Reconcile(ctx context.Context, signal ArrivalSignal) (Decision, error) {
	current, err := c.desiredCount(ctx)
	if err != nil {
		c.metrics.ScalerError(ctx)
		return Decision{Records: signal.Records}, err
	}

	if signal.Records > 0 && current == 0 && c.cfg.MaxTasks > 0 {
		if err := c.setDesired(ctx, 1); err != nil {
			c.metrics.ScalerError(ctx)
			return Decision{Previous: current, Desired: current, Records: signal.Records}, err
		}
		c.logger.Info("Scaled worker service from zero", "records", signal.Records)
		c.metrics.ScalerTriggered(ctx, 1)
		return Decision{
			Previous: current,
			Desired:  1,
			Records:  signal.Records,
			Scaled:   true,
			Reason:   "cold start",
		}, nil
	}

	c.logger.Info("No scaling needed", "current", current, "records", signal.Records)
	return Decision{
		Previous: current,
		Desired:  current,
		Records:  signal.Records,
		Reason:   "no scaling action needed",
	}, nil
}

// ReconcileDepth sizes the service from the queue's visible message count. It only scales up;
// workers drain themselves when idle.
func (c *Controller) ReconcileDepth(ctx context.Context) (Decision, error) {
	if c.queue == nil || c.cfg.QueueURL == "" {
		return Decision{}, errors.New("queue depth reconcile requires a queue")
	}

	pending, err := c.pendingMessages(ctx)
	if err != nil {
		c.metrics.ScalerError(ctx)
		return Decision{}, err
	}

	current, err := c.desiredCount(ctx)
	if err != nil {
		c.metrics.ScalerError(ctx)
		return Decision{Pending: pending}, err
	}

	target := c.DesiredTasks(pending)
	if target <= current {
		c.logger.Debug("Queue depth within capacity", "pending", pending, "current", current, "target", target)
		return Decision{
			Previous: current,
			Desired:  current,
			Pending:  pending,
			Reason:   "capacity sufficient",
		}, nil
	}

	if err := c.setDesired(ctx, target); err != nil {
		c.metrics.ScalerError(ctx)
		return Decision{Previous: current, Desired: current, Pending: pending}, err
	}
	c.logger.Info("Scaled worker service for queue depth", "pending", pending, "from", current, "to", target)
	c.metrics.ScalerTriggered(ctx, target)
	return Decision{
		Previous: current,
		Desired:  target,
		Pending:  pending,
		Scaled:   true,
		Reason:   "queue depth",
	}, nil
}

func (c *Controller) desiredCount(ctx context.Context) (int, error) {
	out, err := c.ecs.DescribeServices(ctx, &ecs.DescribeServicesInput{
		Cluster:  aws.String(c.cfg.Cluster),
		Services: []string{c.cfg.Service},
	})
	if err != nil {
		return 0, fmt.Errorf("describe service %s/%s: %w", c.cfg.Cluster, c.cfg.Service, err)
	}
	if len(out.Services) == 0 {
		return 0, fmt.Errorf("%s/%s: %w", c.cfg.Cluster, c.cfg.Service, ErrServiceNotFound)
	}
	return int(out.Services[0].DesiredCount), nil
}

func (c *Controller) setDesired(ctx context.Context, count int) error {
	_, err := c.ecs.UpdateService(ctx, &ecs.UpdateServiceInput{
		Cluster:      aws.String(c.cfg.Cluster),
		Service:      aws.String(c.cfg.Service),
		DesiredCount: aws.Int32(int32(count)), // #nosec G115 - bounded by MaxTasks
	})
	if err != nil {
		return fmt.Errorf("update service %s/%s to %d: %w", c.cfg.Cluster, c.cfg.Service, count, err)
	}
	return nil
}

func (c *Controller) pendingMessages(ctx context.Context) (int, error) {
	out, err := c.queue.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(c.cfg.QueueURL),
		AttributeNames: []sqstypes.QueueAttributeName{sqstypes.QueueAttributeNameApproximateNumberOfMessages},
	})
	if err != nil {
		return 0, fmt.Errorf("get queue attributes: %w", err)
	}
	raw := out.Attributes[string(sqstypes.QueueAttributeNameApproximateNumberOfMessages)]
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse queue depth %q: %w", raw, err)
	}
	return n, nil
}
