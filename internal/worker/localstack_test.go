//go:build integration && localstack
// +build integration,localstack

package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/joshsymonds/remediator/internal/awsclient"
	"github.com/joshsymonds/remediator/internal/dispatch"
	"github.com/joshsymonds/remediator/internal/engine"
	"github.com/joshsymonds/remediator/internal/normalizer"
	"github.com/joshsymonds/remediator/internal/router"
	"github.com/joshsymonds/remediator/internal/storage"
	"github.com/joshsymonds/remediator/internal/telemetry"
	"github.com/joshsymonds/remediator/internal/validator"
	"github.com/joshsymonds/remediator/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestWorker_LocalStackIntegration runs ingestion and one worker pass against LocalStack SQS and S3.
// This test requires Docker and is tagged with localstack build constraint
func TestWorker_LocalStackIntegration(t *testing.T) {
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "localstack/localstack:3.8",
			ExposedPorts: []string{"4566/tcp"},
			Env: map[string]string{
				"SERVICES":       "s3,sqs",
				"DEFAULT_REGION": "us-east-1",
			},
			WaitingFor: wait.ForHTTP("/_localstack/health").WithPort("4566/tcp").WithStartupTimeout(90 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	defer func() { _ = container.Terminate(ctx) }()

	endpoint, err := container.Endpoint(ctx, "4566/tcp")
	require.NoError(t, err)

	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")
	log := logger.GetGlobalLogger()

	clients, err := awsclient.New(ctx, awsclient.Options{
		Logger:   log,
		Region:   "us-east-1",
		Endpoint: fmt.Sprintf("http://%s", endpoint),
	})
	require.NoError(t, err)

	const (
		policyBucket = "remediation-policies"
		outputBucket = "remediation-output"
		publicBucket = "acme-public-assets"
	)
	for _, bucket := range []string{policyBucket, outputBucket} {
		_, err := clients.S3.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)})
		require.NoError(t, err)
	}
	_, err = clients.S3.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(publicBucket),
		ACL:    s3types.BucketCannedACLPublicRead,
	})
	require.NoError(t, err)

	queue, err := clients.SQS.CreateQueue(ctx, &sqs.CreateQueueInput{QueueName: aws.String("remediation")})
	require.NoError(t, err)
	queueURL := aws.ToString(queue.QueueUrl)

	store := storage.NewS3Store(clients.S3, log)
	rules, err := os.ReadFile(filepath.Join("..", "..", "testdata", "rules", "policy-mappings.json"))
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, policyBucket, "config/policy-mappings.json", rules))
	require.NoError(t, store.Put(ctx, policyBucket, "policies/s3-public-access.yml", []byte("policies: []\n")))

	metrics := &telemetry.MemoryPublisher{}
	recorder := telemetry.NewRecorder(metrics, "", log)

	table := router.Load(ctx, store, policyBucket, "config/policy-mappings.json", "policies/default.yml", log)
	pipeline := dispatch.NewPipeline(
		normalizer.New(normalizer.WithLogger(log)),
		validator.NewGate(validator.DefaultTable(clients.S3, clients.IAM, log), log),
		router.New(table, "policies/default.yml", log),
		dispatch.New(clients.SQS, queueURL, policyBucket, recorder, log),
		log,
	)

	raw, err := os.ReadFile(filepath.Join("..", "..", "testdata", "events", "securityhub_s3_public.json"))
	require.NoError(t, err)
	outcome, err := pipeline.Ingest(ctx, raw)
	require.NoError(t, err)
	require.False(t, outcome.Skipped, "public bucket should require remediation")
	assert.Equal(t, "2", outcome.Priority)

	script := filepath.Join(t.TempDir(), "custodian")
	require.NoError(t, os.WriteFile(script, []byte(`#!/bin/sh
mkdir -p "$3/s3-public-access"
echo '[]' > "$3/s3-public-access/resources.json"
echo "s3-public-access: 1 resources matched"
echo "s3-public-access: 1 action taken"
`), 0o755)) // #nosec G306 - test executable
	runner := engine.NewCustodian(log)
	runner.Binary = script

	notifier := &telemetry.MemoryNotifier{}
	w := New(Config{
		QueueURL:         queueURL,
		OutputBucket:     outputBucket,
		MaxEmptyReceives: 1,
		WaitTimeSeconds:  1,
	}, clients.SQS, store, runner, WithLogger(log), WithMetrics(recorder), WithNotifier(notifier))
	require.NoError(t, w.Run(ctx))

	notes := notifier.Notifications()
	require.Len(t, notes, 1)
	assert.Equal(t, "REMEDIATED", string(notes[0].Status))

	listed, err := clients.S3.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(outputBucket),
		Prefix: aws.String("custodian-output/"),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, listed.Contents)

	attrs, err := clients.SQS.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(queueURL),
		AttributeNames: []sqstypes.QueueAttributeName{sqstypes.QueueAttributeNameApproximateNumberOfMessages},
	})
	require.NoError(t, err)
	assert.Equal(t, "0", attrs.Attributes[string(sqstypes.QueueAttributeNameApproximateNumberOfMessages)])
}
