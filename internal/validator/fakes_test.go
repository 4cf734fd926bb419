package validator

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type fakeS3 struct {
	pab       *s3.GetPublicAccessBlockOutput
	acl       *s3.GetBucketAclOutput
	policy    *s3.GetBucketPolicyOutput
	pabErr    error
	aclErr    error
	policyErr error
	buckets   []string
}

func (f *fakeS3) GetPublicAccessBlock(_ context.Context, in *s3.GetPublicAccessBlockInput, _ ...func(*s3.Options)) (*s3.GetPublicAccessBlockOutput, error) {
	f.buckets = append(f.buckets, *in.Bucket)
	if f.pabErr != nil {
		return nil, f.pabErr
	}
	return f.pab, nil
}

func (f *fakeS3) GetBucketAcl(_ context.Context, _ *s3.GetBucketAclInput, _ ...func(*s3.Options)) (*s3.GetBucketAclOutput, error) {
	if f.aclErr != nil {
		return nil, f.aclErr
	}
	if f.acl == nil {
		return &s3.GetBucketAclOutput{}, nil
	}
	return f.acl, nil
}

func (f *fakeS3) GetBucketPolicy(_ context.Context, _ *s3.GetBucketPolicyInput, _ ...func(*s3.Options)) (*s3.GetBucketPolicyOutput, error) {
	if f.policyErr != nil {
		return nil, f.policyErr
	}
	if f.policy == nil {
		return &s3.GetBucketPolicyOutput{}, nil
	}
	return f.policy, nil
}

type fakeIAM struct {
	lastUsed    *iam.GetAccessKeyLastUsedOutput
	keys        *iam.ListAccessKeysOutput
	lastUsedErr error
	listErr     error
}

func (f *fakeIAM) GetAccessKeyLastUsed(_ context.Context, _ *iam.GetAccessKeyLastUsedInput, _ ...func(*iam.Options)) (*iam.GetAccessKeyLastUsedOutput, error) {
	if f.lastUsedErr != nil {
		return nil, f.lastUsedErr
	}
	return f.lastUsed, nil
}

func (f *fakeIAM) ListAccessKeys(_ context.Context, _ *iam.ListAccessKeysInput, _ ...func(*iam.Options)) (*iam.ListAccessKeysOutput, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.keys, nil
}
