package app

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/joshsymonds/remediator/internal/awsclient"
	"github.com/joshsymonds/remediator/internal/config"
	"github.com/joshsymonds/remediator/internal/storage"
	"github.com/joshsymonds/remediator/internal/telemetry"
	"github.com/joshsymonds/remediator/internal/worker"
	"github.com/joshsymonds/remediator/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testApp(t *testing.T, mutate func(*config.Config)) *App {
	t.Helper()
	cfg := config.Default()
	cfg.Queue.URL = "https://sqs.us-east-1.amazonaws.com/123456789012/remediation"
	cfg.Policy.Bucket = "policies"
	if mutate != nil {
		mutate(cfg)
	}
	a := New(cfg, awsclient.FromConfig(aws.Config{Region: "us-east-1"}), logger.NewMockLogger())
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestStore(t *testing.T) {
	s3Backed := testApp(t, nil)
	_, ok := s3Backed.Store().(*storage.S3Store)
	assert.True(t, ok)

	local := testApp(t, func(c *config.Config) { c.LocalStoreDir = t.TempDir() })
	_, ok = local.Store().(*storage.LocalStore)
	assert.True(t, ok)
}

func TestNotifier(t *testing.T) {
	tests := []struct {
		mutate    func(*config.Config)
		name      string
		wantSinks int
	}{
		{name: "none configured", wantSinks: 0},
		{
			name:      "sqs only",
			mutate:    func(c *config.Config) { c.Notifications.QueueURL = "https://sqs/notify" },
			wantSinks: 1,
		},
		{
			name: "sqs and kafka",
			mutate: func(c *config.Config) {
				c.Notifications.QueueURL = "https://sqs/notify"
				c.Notifications.Brokers = []string{"localhost:9092"}
				c.Notifications.Topic = "remediation-status"
			},
			wantSinks: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := testApp(t, tt.mutate).Notifier()
			if tt.wantSinks == 0 {
				assert.Nil(t, n)
				return
			}
			multi, ok := n.(telemetry.MultiNotifier)
			require.True(t, ok)
			assert.Len(t, multi, tt.wantSinks)
		})
	}
}

func TestRecorder(t *testing.T) {
	a := testApp(t, func(c *config.Config) { c.Metrics.NamespacePrefix = "Acme" })
	assert.Equal(t, "Acme/FargateWorker", a.Recorder().Namespace(telemetry.NamespaceWorker))

	disabled := testApp(t, func(c *config.Config) { c.Metrics.Disabled = true })
	// publishes nothing and does not touch CloudWatch
	disabled.Recorder().WorkerBatch(context.Background(), 1, 1, 0)
}

func TestBuilders(t *testing.T) {
	a := testApp(t, func(c *config.Config) {
		c.LocalStoreDir = t.TempDir()
		c.Scaler.Cluster = "security"
		c.Scaler.Service = "worker"
	})

	w := a.Worker()
	require.NotNil(t, w)
	assert.Equal(t, worker.StateRunning, w.State())

	c := a.Scaler()
	assert.Equal(t, 3, c.DesiredTasks(11))

	// rule table load fails against an empty local store and falls back to the default policy
	p := a.Pipeline(context.Background())
	require.NotNil(t, p)
}
