package validator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/joshsymonds/remediator/internal/models"
	"github.com/joshsymonds/remediator/pkg/logger"
)

// S3API is the subset of the S3 client the bucket validator uses.
type S3API interface {
	GetPublicAccessBlock(ctx context.Context, params *s3.GetPublicAccessBlockInput, optFns ...func(*s3.Options)) (*s3.GetPublicAccessBlockOutput, error)
	GetBucketAcl(ctx context.Context, params *s3.GetBucketAclInput, optFns ...func(*s3.Options)) (*s3.GetBucketAclOutput, error)
	GetBucketPolicy(ctx context.Context, params *s3.GetBucketPolicyInput, optFns ...func(*s3.Options)) (*s3.GetBucketPolicyOutput, error)
}

const (
	s3ValidatorName = "S3BucketValidator"
	s3ARNPrefix     = "arn:aws:s3:::"

	errCodeNoPublicAccessBlock = "NoSuchPublicAccessBlockConfiguration"
	errCodeNoBucketPolicy      = "NoSuchBucketPolicy"
)

// S3BucketValidator allows remediation when a bucket is publicly reachable through its
// public access block, its ACL, or its bucket policy.
type S3BucketValidator struct {
	client S3API
	logger logger.Logger
}

// NewS3BucketValidator creates a bucket validator.
func NewS3BucketValidator(client S3API, log logger.Logger) *S3BucketValidator {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &S3BucketValidator{client: client, logger: log}
}

// Name implements Validator.
func (v *S3BucketValidator) Name() string { return s3ValidatorName }

// Validate implements Validator.
func (v *S3BucketValidator) Validate(ctx context.Context, f *models.Finding) Result {
	bucket := BucketName(f.ResourceID)
	if bucket == "" {
		return Result{
			Allow:     false,
			Reason:    "No bucket name found in finding",
			Metadata:  map[string]any{"error": "missing_bucket_name"},
			Validator: s3ValidatorName,
		}
	}

	log := v.logger.With("bucket", bucket)

	viaBlock, err := v.publicViaAccessBlock(ctx, bucket)
	if err != nil {
		log.Warn("Public access block check failed", "error", err)
		return allowOnError(s3ValidatorName, "Unable to validate bucket status", err, map[string]any{"bucket_name": bucket})
	}

	viaACL, err := v.publicViaACL(ctx, bucket)
	if err != nil {
		log.Warn("Bucket ACL check failed", "error", err)
		return allowOnError(s3ValidatorName, "Unable to validate bucket status", err, map[string]any{"bucket_name": bucket})
	}

	viaPolicy, err := v.publicViaPolicy(ctx, bucket)
	if err != nil {
		log.Warn("Bucket policy check failed", "error", err)
		return allowOnError(s3ValidatorName, "Unable to validate bucket status", err, map[string]any{"bucket_name": bucket})
	}

	metadata := map[string]any{
		"bucket_name":             bucket,
		"public_via_block_config": viaBlock,
		"public_via_acl":          viaACL,
		"public_via_policy":       viaPolicy,
	}

	if viaBlock || viaACL || viaPolicy {
		return Result{
			Allow:     true,
			Reason:    fmt.Sprintf("Bucket '%s' has public access - remediation required", bucket),
			Metadata:  metadata,
			Validator: s3ValidatorName,
		}
	}
	return Result{
		Allow:     false,
		Reason:    fmt.Sprintf("Bucket '%s' is not public - no remediation needed", bucket),
		Metadata:  metadata,
		Validator: s3ValidatorName,
	}
}

// BucketName strips an S3 ARN prefix and any key path from a resource id.
func BucketName(resourceID string) string {
	name := strings.TrimPrefix(strings.TrimSpace(resourceID), s3ARNPrefix)
	name, _, _ = strings.Cut(name, "/")
	return name
}

// publicViaAccessBlock is true unless all four block flags are set.
// A bucket without any configuration is public.
func (v *S3BucketValidator) publicViaAccessBlock(ctx context.Context, bucket string) (bool, error) {
	out, err := v.client.GetPublicAccessBlock(ctx, &s3.GetPublicAccessBlockInput{
		Bucket: aws.String(bucket),
	})
	if err != nil {
		if apiErrorCode(err) == errCodeNoPublicAccessBlock {
			return true, nil
		}
		return false, fmt.Errorf("get public access block: %w", err)
	}
	return !FullyBlocks(out.PublicAccessBlockConfiguration), nil
}

// FullyBlocks reports whether every public access block flag is enabled.
func FullyBlocks(cfg *s3types.PublicAccessBlockConfiguration) bool {
	if cfg == nil {
		return false
	}
	return aws.ToBool(cfg.BlockPublicAcls) &&
		aws.ToBool(cfg.IgnorePublicAcls) &&
		aws.ToBool(cfg.BlockPublicPolicy) &&
		aws.ToBool(cfg.RestrictPublicBuckets)
}

func (v *S3BucketValidator) publicViaACL(ctx context.Context, bucket string) (bool, error) {
	out, err := v.client.GetBucketAcl(ctx, &s3.GetBucketAclInput{
		Bucket: aws.String(bucket),
	})
	if err != nil {
		return false, fmt.Errorf("get bucket acl: %w", err)
	}
	return PublicGrant(out.Grants), nil
}

// PublicGrant reports whether any grant targets the AllUsers or AuthenticatedUsers groups.
func PublicGrant(grants []s3types.Grant) bool {
	for _, grant := range grants {
		if grant.Grantee == nil || grant.Grantee.Type != s3types.TypeGroup {
			continue
		}
		uri := aws.ToString(grant.Grantee.URI)
		if strings.Contains(uri, "AllUsers") || strings.Contains(uri, "AuthenticatedUsers") {
			return true
		}
	}
	return false
}

func (v *S3BucketValidator) publicViaPolicy(ctx context.Context, bucket string) (bool, error) {
	out, err := v.client.GetBucketPolicy(ctx, &s3.GetBucketPolicyInput{
		Bucket: aws.String(bucket),
	})
	if err != nil {
		if apiErrorCode(err) == errCodeNoBucketPolicy {
			return false, nil
		}
		return false, fmt.Errorf("get bucket policy: %w", err)
	}
	return PublicPolicy(aws.ToString(out.Policy))
}

type policyDocument struct {
	Statement statements `json:"Statement"`
}

type policyStatement struct {
	Principal json.RawMessage `json:"Principal"`
	Effect    string          `json:"Effect"`
}

// statements accepts both a single statement object and a list.
type statements []policyStatement

func (s *statements) UnmarshalJSON(data []byte) error {
	var list []policyStatement
	if err := json.Unmarshal(data, &list); err == nil {
		*s = list
		return nil
	}
	var single policyStatement
	if err := json.Unmarshal(data, &single); err != nil {
		return err
	}
	*s = statements{single}
	return nil
}

// PublicPolicy reports whether a bucket policy document has an Allow statement for everyone.
func PublicPolicy(document string) (bool, error) {
	if document == "" {
		return false, nil
	}
	var doc policyDocument
	if err := json.Unmarshal([]byte(document), &doc); err != nil {
		return false, fmt.Errorf("parse bucket policy: %w", err)
	}
	for _, stmt := range doc.Statement {
		if stmt.Effect == "Allow" && wildcardPrincipal(stmt.Principal) {
			return true, nil
		}
	}
	return false, nil
}

// wildcardPrincipal matches "*" and {"AWS": "*"} or {"AWS": [..., "*", ...]}.
func wildcardPrincipal(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s == "*"
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return false
	}
	awsPrincipal, ok := obj["AWS"]
	if !ok {
		return false
	}
	if err := json.Unmarshal(awsPrincipal, &s); err == nil {
		return s == "*"
	}
	var list []string
	if err := json.Unmarshal(awsPrincipal, &list); err != nil {
		return false
	}
	for _, p := range list {
		if p == "*" {
			return true
		}
	}
	return false
}
