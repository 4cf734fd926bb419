// Package dispatch publishes routed findings to the remediation queue.
package dispatch

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/joshsymonds/remediator/internal/models"
	"github.com/joshsymonds/remediator/internal/telemetry"
	"github.com/joshsymonds/remediator/pkg/logger"
)

// SQSSendAPI is the subset of the SQS client the dispatcher uses.
type SQSSendAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Dispatcher enqueues findings with their policy reference and priority.
type Dispatcher struct {
	client       SQSSendAPI
	metrics      *telemetry.Recorder
	logger       logger.Logger
	queueURL     string
	policyBucket string
}

// New creates a dispatcher. metrics may be nil.
func New(client SQSSendAPI, queueURL, policyBucket string, metrics *telemetry.Recorder, log logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Dispatcher{
		client:       client,
		queueURL:     queueURL,
		policyBucket: policyBucket,
		metrics:      metrics,
		logger:       log,
	}
}

// PolicyBucket is the bucket attached to every dispatched policy reference.
func (d *Dispatcher) PolicyBucket() string {
	return d.policyBucket
}

// Enqueue sends f to the queue with policyKey attached and returns the queue message id.
// Metric emission happens after a successful send and never fails the call.
func (d *Dispatcher) Enqueue(ctx context.Context, f *models.Finding, policyKey string) (string, error) {
	msg, err := models.NewQueueMessage(f, models.PolicyConfig{
		PolicyBucket: d.policyBucket,
		PolicyKey:    policyKey,
	})
	if err != nil {
		return "", err
	}

	out, err := d.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:          aws.String(d.queueURL),
		MessageBody:       aws.String(msg.Body),
		MessageAttributes: messageAttributes(msg.Attributes),
	})
	if err != nil {
		return "", fmt.Errorf("sending finding %s: %w", f.FindingID, err)
	}

	messageID := aws.ToString(out.MessageId)
	d.logger.Info("Queued finding",
		"finding_id", f.FindingID,
		"message_id", messageID,
		"priority", msg.Attributes[models.AttrPriority],
		"policy", models.PolicyConfig{PolicyBucket: d.policyBucket, PolicyKey: policyKey}.String())

	d.metrics.FindingDispatched(ctx, f, policyKey)
	return messageID, nil
}

// messageAttributes converts attributes to SQS string attributes. SQS rejects empty values,
// so those are left off.
func messageAttributes(attrs map[string]string) map[string]sqstypes.MessageAttributeValue {
	out := make(map[string]sqstypes.MessageAttributeValue, len(attrs))
	for name, value := range attrs {
		if value == "" {
			continue
		}
		out[name] = sqstypes.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(value),
		}
	}
	return out
}
