package models

import (
	"encoding/json"
	"fmt"
)

// Queue message attribute names.
const (
	AttrPriority     = "Priority"
	AttrSeverity     = "Severity"
	AttrSource       = "Source"
	AttrResourceType = "ResourceType"
)

// QueueMessage is the envelope the dispatcher publishes and workers consume.
// Body is the serialized Finding (with policy_config attached); Attributes mirror
// fields consumers can filter on without decoding the body.
type QueueMessage struct {
	Attributes map[string]string
	Body       string
}

// NewQueueMessage serializes f with its policy reference and computes its attributes.
func NewQueueMessage(f *Finding, policy PolicyConfig) (*QueueMessage, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	withPolicy := *f
	withPolicy.PolicyConfig = &policy

	body, err := json.Marshal(&withPolicy)
	if err != nil {
		return nil, fmt.Errorf("marshaling finding %s: %w", f.FindingID, err)
	}

	severity := f.Severity
	if severity == "" {
		severity = SeverityMedium
	}

	return &QueueMessage{
		Body: string(body),
		Attributes: map[string]string{
			AttrPriority:     severity.Priority(),
			AttrSeverity:     string(severity),
			AttrSource:       string(f.Source),
			AttrResourceType: f.ResourceType,
		},
	}, nil
}

// Delivery is a message received from the queue, held until it is acknowledged.
type Delivery struct {
	Attributes    map[string]string
	MessageID     string
	ReceiptHandle string
	Body          string
}

// Decode parses the delivery body into a Finding.
func (d *Delivery) Decode() (*Finding, error) {
	var f Finding
	if err := json.Unmarshal([]byte(d.Body), &f); err != nil {
		return nil, fmt.Errorf("decoding message %s: %w", d.MessageID, err)
	}
	if f.FindingID == "" {
		f.FindingID = "unknown"
	}
	if f.Severity == "" {
		f.Severity = SeverityMedium
	}
	return &f, nil
}
