// Package validator decides whether a finding still needs remediation before it is dispatched.
//
// Every check is fail-open: when a validator cannot complete a lookup the gate allows remediation,
// preferring a redundant remediation over a missed exposure.
package validator

import (
	"context"
	"errors"
	"strings"

	"github.com/aws/smithy-go"
	"github.com/joshsymonds/remediator/internal/models"
	"github.com/joshsymonds/remediator/pkg/logger"
)

// GateName identifies results produced by the gate itself rather than a resource validator.
const GateName = "Gate"

// Result is the outcome of validating one finding.
type Result struct {
	Metadata  map[string]any `json:"metadata"`
	Reason    string         `json:"reason"`
	Validator string         `json:"validator"`
	Allow     bool           `json:"allow"`
}

// Validator checks a single resource type.
type Validator interface {
	Name() string
	Validate(ctx context.Context, f *models.Finding) Result
}

// Gate dispatches findings to the validator registered for their resource type.
type Gate struct {
	validators map[string]Validator
	logger     logger.Logger
}

// NewGate builds a gate from a resource-type table. Keys are matched case-insensitively.
func NewGate(table map[string]Validator, log logger.Logger) *Gate {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	validators := make(map[string]Validator, len(table))
	for resourceType, v := range table {
		validators[strings.ToUpper(resourceType)] = v
	}
	return &Gate{validators: validators, logger: log}
}

// DefaultTable returns the validators used in production. S3 covers the bucket resource types
// emitted by every source; IAM covers access keys.
func DefaultTable(s3Client S3API, iamClient IAMAPI, log logger.Logger) map[string]Validator {
	table := map[string]Validator{}
	if s3Client != nil {
		bucket := NewS3BucketValidator(s3Client, log)
		table["S3"] = bucket
	}
	if iamClient != nil {
		keys := NewAccessKeyValidator(iamClient, log)
		table["IAM"] = keys
		table["AccessKey"] = keys
	}
	return table
}

// ResourceTypes lists the registered resource types.
func (g *Gate) ResourceTypes() []string {
	types := make([]string, 0, len(g.validators))
	for t := range g.validators {
		types = append(types, t)
	}
	return types
}

// Validate runs the validator for f's resource type. Unregistered types are allowed.
func (g *Gate) Validate(ctx context.Context, f *models.Finding) Result {
	resourceType := strings.ToUpper(f.ResourceType)
	if resourceType == "" {
		return Result{
			Allow:     false,
			Reason:    "No resource type found in finding",
			Metadata:  map[string]any{"error": "missing_resource_type"},
			Validator: GateName,
		}
	}

	v, ok := g.validators[resourceType]
	if !ok {
		g.logger.Debug("No validator registered", "resource_type", resourceType)
		return Result{
			Allow:     true,
			Reason:    "Validation not enabled for " + resourceType + " - allowing remediation",
			Metadata:  map[string]any{"resource_type": resourceType, "validation_enabled": false},
			Validator: GateName,
		}
	}

	result := v.Validate(ctx, f)
	if result.Validator == "" {
		result.Validator = v.Name()
	}
	g.logger.Info("Validation result",
		"finding_id", f.FindingID,
		"resource_type", resourceType,
		"validator", result.Validator,
		"allow", result.Allow,
		"reason", result.Reason)
	return result
}

// allowOnError is the single fail-open branch every check funnels through.
func allowOnError(validator, reason string, err error, metadata map[string]any) Result {
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata["error"] = err.Error()
	return Result{
		Allow:     true,
		Reason:    reason + " (allowing remediation): " + err.Error(),
		Metadata:  metadata,
		Validator: validator,
	}
}

// apiErrorCode returns the AWS error code carried by err, or "".
func apiErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}
