// Package models contains the canonical data structures that flow through the remediation pipeline.
package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidFinding is returned when a finding lacks a required field.
var ErrInvalidFinding = errors.New("invalid finding")

// Source identifies the detection service a raw event came from.
type Source string

// Known sources. The audit-log family (cloudtrail, ec2, s3, iam) shares one extraction strategy.
const (
	SourceSecurityHub Source = "aws.securityhub"
	SourceGuardDuty   Source = "aws.guardduty"
	SourceConfig      Source = "aws.config"
	SourceMacie       Source = "aws.macie"
	SourceCloudTrail  Source = "aws.cloudtrail"
	SourceEC2         Source = "aws.ec2"
	SourceS3          Source = "aws.s3"
	SourceIAM         Source = "aws.iam"
)

// Short returns the source without its "aws." prefix, lower-cased.
func (s Source) Short() string {
	return strings.TrimPrefix(strings.ToLower(string(s)), "aws.")
}

// Finding is a normalized security finding from any detection source.
type Finding struct {
	RawEvent     json.RawMessage `json:"raw_event,omitempty"`
	Enrichment   *Enrichment     `json:"enrichment,omitempty"`
	PolicyConfig *PolicyConfig   `json:"policy_config,omitempty"`
	FindingID    string          `json:"finding_id"`
	Source       Source          `json:"source"`
	DetailType   string          `json:"detail_type,omitempty"`
	ResourceType string          `json:"resource_type"`
	ResourceID   string          `json:"resource_id"`
	ResourceARN  string          `json:"resource_arn,omitempty"`
	FindingType  string          `json:"finding_type"`
	Severity     Severity        `json:"severity"`
	Title        string          `json:"title,omitempty"`
	Description  string          `json:"description,omitempty"`
	Region       string          `json:"region"`
	Account      string          `json:"account"`
	CreatedAt    string          `json:"created_at"`
}

// Enrichment carries invoker-side context stamped onto a finding before dispatch.
type Enrichment struct {
	InvokerTimestamp time.Time `json:"invoker_timestamp"`
	CorrelationID    string    `json:"correlation_id"`
	RequestID        string    `json:"request_id,omitempty"`
}

// PolicyConfig locates the remediation policy document selected for a finding.
type PolicyConfig struct {
	PolicyBucket string `json:"policy_bucket"`
	PolicyKey    string `json:"policy_key"`
}

// String renders the policy location as an s3 URI.
func (p PolicyConfig) String() string {
	return fmt.Sprintf("s3://%s/%s", p.PolicyBucket, p.PolicyKey)
}

// Validate checks that a finding carries the fields required to enter the pipeline.
func (f *Finding) Validate() error {
	if f.FindingID == "" {
		return fmt.Errorf("%w: missing required field: finding_id", ErrInvalidFinding)
	}
	if f.ResourceType == "" {
		return fmt.Errorf("%w: missing required field: resource_type", ErrInvalidFinding)
	}
	return nil
}

// ResourceIDs splits a comma-joined resource id list.
func (f *Finding) ResourceIDs() []string {
	if f.ResourceID == "" {
		return nil
	}
	parts := strings.Split(f.ResourceID, ",")
	ids := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			ids = append(ids, p)
		}
	}
	return ids
}

// EventName returns detail.eventName from the raw event, if present.
func (f *Finding) EventName() string {
	if len(f.RawEvent) == 0 {
		return ""
	}
	var envelope struct {
		Detail struct {
			EventName string `json:"eventName"`
		} `json:"detail"`
	}
	if err := json.Unmarshal(f.RawEvent, &envelope); err != nil {
		return ""
	}
	return envelope.Detail.EventName
}

// NeedsEscalation reports whether a successful remediation should be announced.
func (f *Finding) NeedsEscalation() bool {
	return f.Severity == SeverityCritical || f.Severity == SeverityHigh
}
