package models

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindingValidate(t *testing.T) {
	tests := []struct {
		name    string
		finding *Finding
		wantErr string
	}{
		{
			name:    "valid finding",
			finding: &Finding{FindingID: "f-1", ResourceType: "S3"},
		},
		{
			name:    "missing finding id",
			finding: &Finding{ResourceType: "S3"},
			wantErr: "invalid finding: missing required field: finding_id",
		},
		{
			name:    "missing resource type",
			finding: &Finding{FindingID: "f-1"},
			wantErr: "invalid finding: missing required field: resource_type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.finding.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantErr, err.Error())
			assert.True(t, errors.Is(err, ErrInvalidFinding))
		})
	}
}

func TestSourceShort(t *testing.T) {
	assert.Equal(t, "guardduty", SourceGuardDuty.Short())
	assert.Equal(t, "securityhub", Source("AWS.SecurityHub").Short())
	assert.Equal(t, "custom", Source("custom").Short())
}

func TestFindingResourceIDs(t *testing.T) {
	f := &Finding{ResourceID: "i-1, i-2,,i-3"}
	assert.Equal(t, []string{"i-1", "i-2", "i-3"}, f.ResourceIDs())
	assert.Nil(t, (&Finding{}).ResourceIDs())
}

func TestFindingEventName(t *testing.T) {
	f := &Finding{RawEvent: json.RawMessage(`{"detail":{"eventName":"PutBucketAcl"}}`)}
	assert.Equal(t, "PutBucketAcl", f.EventName())

	assert.Empty(t, (&Finding{}).EventName())
	assert.Empty(t, (&Finding{RawEvent: json.RawMessage(`not json`)}).EventName())
}

func TestNewQueueMessage(t *testing.T) {
	f := &Finding{
		FindingID:    "f-1",
		Source:       SourceSecurityHub,
		ResourceType: "S3",
		ResourceID:   "public-bucket",
		Severity:     SeverityHigh,
	}

	msg, err := NewQueueMessage(f, PolicyConfig{PolicyBucket: "policies", PolicyKey: "s3/public.yml"})
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		AttrPriority:     "2",
		AttrSeverity:     "HIGH",
		AttrSource:       "aws.securityhub",
		AttrResourceType: "S3",
	}, msg.Attributes)

	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(msg.Body), &body))
	assert.Equal(t, "f-1", body["finding_id"])
	assert.Equal(t, map[string]any{"policy_bucket": "policies", "policy_key": "s3/public.yml"}, body["policy_config"])

	assert.Nil(t, f.PolicyConfig, "original finding must not be mutated")
}

func TestNewQueueMessageRejectsInvalidFinding(t *testing.T) {
	_, err := NewQueueMessage(&Finding{FindingID: "f-1"}, PolicyConfig{})
	assert.ErrorIs(t, err, ErrInvalidFinding)
}

func TestDeliveryDecode(t *testing.T) {
	d := &Delivery{MessageID: "m-1", Body: `{"resource_type":"EC2","policy_config":{"policy_bucket":"b","policy_key":"k"}}`}

	f, err := d.Decode()
	require.NoError(t, err)
	assert.Equal(t, "unknown", f.FindingID)
	assert.Equal(t, SeverityMedium, f.Severity)
	require.NotNil(t, f.PolicyConfig)
	assert.Equal(t, "s3://b/k", f.PolicyConfig.String())

	_, err = (&Delivery{MessageID: "m-2", Body: "{"}).Decode()
	assert.ErrorContains(t, err, "decoding message m-2")
}

func TestNeedsEscalation(t *testing.T) {
	assert.True(t, (&Finding{Severity: SeverityCritical}).NeedsEscalation())
	assert.True(t, (&Finding{Severity: SeverityHigh}).NeedsEscalation())
	assert.False(t, (&Finding{Severity: SeverityMedium}).NeedsEscalation())
}

func TestNewNotification(t *testing.T) {
	f := &Finding{FindingID: "f-1"}
	n := NewNotification(StatusRemediated, f, &WorkerResult{Success: true, ActionsTaken: 1})

	data, err := json.Marshal(n)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "REMEDIATED", decoded["status"])
	assert.Contains(t, decoded, "timestamp")
	assert.Contains(t, decoded, "finding")
	assert.Contains(t, decoded, "result")
}
