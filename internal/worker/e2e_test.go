package worker

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/aws/smithy-go"
	"github.com/joshsymonds/remediator/internal/dispatch"
	"github.com/joshsymonds/remediator/internal/engine"
	"github.com/joshsymonds/remediator/internal/models"
	"github.com/joshsymonds/remediator/internal/normalizer"
	"github.com/joshsymonds/remediator/internal/router"
	"github.com/joshsymonds/remediator/internal/storage"
	"github.com/joshsymonds/remediator/internal/telemetry"
	"github.com/joshsymonds/remediator/internal/validator"
	"github.com/joshsymonds/remediator/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loopbackQueue delivers whatever was sent to it, in order.
type loopbackQueue struct {
	mu      sync.Mutex
	pending []sqstypes.Message
	deleted []string
	seq     int
}

func (q *loopbackQueue) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	id := "msg-" + strconv.Itoa(q.seq)
	q.pending = append(q.pending, sqstypes.Message{
		MessageId:         aws.String(id),
		ReceiptHandle:     aws.String("rh-" + id),
		Body:              in.MessageBody,
		MessageAttributes: in.MessageAttributes,
	})
	return &sqs.SendMessageOutput{MessageId: aws.String(id)}, nil
}

func (q *loopbackQueue) ReceiveMessage(_ context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := min(int(in.MaxNumberOfMessages), len(q.pending))
	batch := q.pending[:n]
	q.pending = q.pending[n:]
	return &sqs.ReceiveMessageOutput{Messages: batch}, nil
}

func (q *loopbackQueue) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.deleted = append(q.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

// publicACLBucket reports a bucket whose only exposure is an AllUsers ACL grant.
type publicACLBucket struct{}

func (publicACLBucket) GetPublicAccessBlock(context.Context, *s3.GetPublicAccessBlockInput, ...func(*s3.Options)) (*s3.GetPublicAccessBlockOutput, error) {
	return &s3.GetPublicAccessBlockOutput{PublicAccessBlockConfiguration: &s3types.PublicAccessBlockConfiguration{
		BlockPublicAcls:       aws.Bool(true),
		IgnorePublicAcls:      aws.Bool(true),
		BlockPublicPolicy:     aws.Bool(true),
		RestrictPublicBuckets: aws.Bool(true),
	}}, nil
}

func (publicACLBucket) GetBucketAcl(context.Context, *s3.GetBucketAclInput, ...func(*s3.Options)) (*s3.GetBucketAclOutput, error) {
	return &s3.GetBucketAclOutput{Grants: []s3types.Grant{{
		Grantee: &s3types.Grantee{
			Type: s3types.TypeGroup,
			URI:  aws.String("http://acs.amazonaws.com/groups/global/AllUsers"),
		},
		Permission: s3types.PermissionRead,
	}}}, nil
}

func (publicACLBucket) GetBucketPolicy(context.Context, *s3.GetBucketPolicyInput, ...func(*s3.Options)) (*s3.GetBucketPolicyOutput, error) {
	return nil, &smithy.GenericAPIError{Code: "NoSuchBucketPolicy", Message: "The bucket policy does not exist"}
}

func TestEndToEnd_PublicBucketRemediated(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("fake engine scripts need a POSIX shell")
	}
	ctx := context.Background()
	log := logger.NewMockLogger()

	store := storage.NewLocalStoreWithLogger(t.TempDir(), log)
	rules, err := os.ReadFile(filepath.Join("..", "..", "testdata", "rules", "policy-mappings.json"))
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, testPolicyBucket, "config/policy-mappings.json", rules))
	require.NoError(t, store.Put(ctx, testPolicyBucket, testPolicyKey, []byte("policies:\n  - name: s3-public\n")))

	metrics := &telemetry.MemoryPublisher{}
	recorder := telemetry.NewRecorder(metrics, "", log)
	queue := &loopbackQueue{}

	// ingest
	table := router.Load(ctx, store, testPolicyBucket, "config/policy-mappings.json", "policies/default.yml", log)
	pipeline := dispatch.NewPipeline(
		normalizer.New(normalizer.WithLogger(log)),
		validator.NewGate(map[string]validator.Validator{
			"S3": validator.NewS3BucketValidator(publicACLBucket{}, log),
		}, log),
		router.New(table, "policies/default.yml", log),
		dispatch.New(queue, testQueueURL, testPolicyBucket, recorder, log),
		log,
	)

	raw, err := os.ReadFile(filepath.Join("..", "..", "testdata", "events", "securityhub_s3_public.json"))
	require.NoError(t, err)
	outcome, err := pipeline.Ingest(ctx, raw)
	require.NoError(t, err)
	require.False(t, outcome.Skipped, outcome.Validation)
	assert.Equal(t, "2", outcome.Priority)
	assert.Equal(t, testPolicyKey, outcome.PolicyKey)
	require.Len(t, queue.pending, 1)
	assert.Equal(t, "2", aws.ToString(queue.pending[0].MessageAttributes[models.AttrPriority].StringValue))

	// remediate
	binDir := t.TempDir()
	script := filepath.Join(binDir, "custodian")
	require.NoError(t, os.WriteFile(script, []byte(`#!/bin/sh
echo "policy:s3-public-access region:$AWS_REGION"
echo "s3-public-access: 1 resources matched"
echo "s3-public-access: 1 action taken"
`), 0o755)) // #nosec G306 - test executable

	runner := engine.NewCustodian(log)
	runner.Binary = script
	runner.WorkDir = t.TempDir()

	notifier := &telemetry.MemoryNotifier{}
	w := New(Config{QueueURL: testQueueURL, MaxEmptyReceives: 1, WorkDir: t.TempDir()}, queue, store, runner,
		WithLogger(log),
		WithMetrics(recorder),
		WithNotifier(notifier),
	)
	require.NoError(t, w.Run(ctx))

	assert.Len(t, queue.deleted, 1)
	assert.Empty(t, queue.pending)

	notes := notifier.Notifications()
	require.Len(t, notes, 1)
	assert.Equal(t, models.StatusRemediated, notes[0].Status)
	assert.Equal(t, models.SeverityHigh, notes[0].Finding.Severity)
	assert.True(t, notes[0].Result.Success)
	assert.Equal(t, 1, notes[0].Result.ActionsTaken)
	assert.Equal(t, 1, notes[0].Result.ResourcesProcessed)

	actions := metrics.Find("ActionsTaken")
	require.Len(t, actions, 1)
	assert.InDelta(t, 1.0, actions[0].Value, 0.0001)
	assert.Equal(t, "S3", actions[0].Dimensions["ResourceType"])

	queued := metrics.Find("FindingsQueued")
	require.Len(t, queued, 1)
}
