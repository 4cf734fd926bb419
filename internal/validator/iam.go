package validator

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/joshsymonds/remediator/internal/models"
	"github.com/joshsymonds/remediator/pkg/logger"
)

// IAMAPI is the subset of the IAM client the access key validator uses.
type IAMAPI interface {
	GetAccessKeyLastUsed(ctx context.Context, params *iam.GetAccessKeyLastUsedInput, optFns ...func(*iam.Options)) (*iam.GetAccessKeyLastUsedOutput, error)
	ListAccessKeys(ctx context.Context, params *iam.ListAccessKeysInput, optFns ...func(*iam.Options)) (*iam.ListAccessKeysOutput, error)
}

const accessKeyValidatorName = "AccessKeyValidator"

// AccessKeyValidator skips remediation for access keys that are already inactive.
type AccessKeyValidator struct {
	client IAMAPI
	logger logger.Logger
}

// NewAccessKeyValidator creates an access key validator.
func NewAccessKeyValidator(client IAMAPI, log logger.Logger) *AccessKeyValidator {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &AccessKeyValidator{client: client, logger: log}
}

// Name implements Validator.
func (v *AccessKeyValidator) Name() string { return accessKeyValidatorName }

// Validate implements Validator.
func (v *AccessKeyValidator) Validate(ctx context.Context, f *models.Finding) Result {
	keyID := strings.TrimSpace(f.ResourceID)
	if !IsAccessKeyID(keyID) {
		return Result{
			Allow:     true,
			Reason:    "Resource is not an access key - allowing remediation",
			Metadata:  map[string]any{"resource_id": keyID},
			Validator: accessKeyValidatorName,
		}
	}

	status, user, err := v.keyStatus(ctx, keyID)
	if err != nil {
		v.logger.Warn("Access key lookup failed", "access_key_id", keyID, "error", err)
		return allowOnError(accessKeyValidatorName, "Unable to validate access key status", err,
			map[string]any{"access_key_id": keyID})
	}

	metadata := map[string]any{
		"access_key_id": keyID,
		"user_name":     user,
		"status":        string(status),
	}
	if status == iamtypes.StatusTypeInactive {
		return Result{
			Allow:     false,
			Reason:    fmt.Sprintf("Access key '%s' is already inactive - no remediation needed", keyID),
			Metadata:  metadata,
			Validator: accessKeyValidatorName,
		}
	}
	return Result{
		Allow:     true,
		Reason:    fmt.Sprintf("Access key '%s' is active - remediation required", keyID),
		Metadata:  metadata,
		Validator: accessKeyValidatorName,
	}
}

// IsAccessKeyID reports whether id looks like a long-term or temporary access key id.
func IsAccessKeyID(id string) bool {
	return len(id) >= 16 && (strings.HasPrefix(id, "AKIA") || strings.HasPrefix(id, "ASIA"))
}

func (v *AccessKeyValidator) keyStatus(ctx context.Context, keyID string) (iamtypes.StatusType, string, error) {
	lastUsed, err := v.client.GetAccessKeyLastUsed(ctx, &iam.GetAccessKeyLastUsedInput{
		AccessKeyId: aws.String(keyID),
	})
	if err != nil {
		return "", "", fmt.Errorf("get access key last used: %w", err)
	}
	user := aws.ToString(lastUsed.UserName)

	paginator := iam.NewListAccessKeysPaginator(v.client, &iam.ListAccessKeysInput{
		UserName: aws.String(user),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return "", user, fmt.Errorf("list access keys for %s: %w", user, err)
		}
		for _, key := range page.AccessKeyMetadata {
			if aws.ToString(key.AccessKeyId) == keyID {
				return key.Status, user, nil
			}
		}
	}
	return "", user, fmt.Errorf("access key %s not listed for user %s", keyID, user)
}
