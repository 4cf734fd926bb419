package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/joshsymonds/remediator/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3Objects struct {
	objects map[string][]byte
	getErr  error
	mu      sync.Mutex
}

func newFakeS3Objects() *fakeS3Objects {
	return &fakeS3Objects{objects: map[string][]byte{}}
}

func (f *fakeS3Objects) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	data, ok := f.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, &s3types.NoSuchKey{Message: aws.String("missing")}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3Objects) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[*in.Bucket+"/"+*in.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func TestS3Store_GetPut(t *testing.T) {
	client := newFakeS3Objects()
	store := NewS3Store(client, logger.NewMockLogger())
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "policies", "policies/s3.yml", []byte("policies: []")))

	data, err := store.Get(ctx, "policies", "policies/s3.yml")
	require.NoError(t, err)
	assert.Equal(t, "policies: []", string(data))

	_, err = store.Get(ctx, "policies", "missing.yml")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)

	client.getErr = errors.New("throttled")
	_, err = store.Get(ctx, "policies", "policies/s3.yml")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestLocalStore(t *testing.T) {
	store := NewLocalStoreWithLogger(t.TempDir(), logger.NewMockLogger())
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "bucket", "nested/key.json", []byte(`{}`)))

	data, err := store.Get(ctx, "bucket", "nested/key.json")
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(data))

	_, err = store.Get(ctx, "bucket", "absent.json")
	assert.ErrorIs(t, err, ErrNotFound)

	tests := []struct {
		name   string
		bucket string
		key    string
	}{
		{name: "traversal in key", bucket: "bucket", key: "../../etc/passwd"},
		{name: "traversal in bucket", bucket: "..", key: "k"},
		{name: "empty bucket", bucket: "", key: "k"},
		{name: "empty key", bucket: "bucket", key: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, store.Put(ctx, tt.bucket, tt.key, []byte("x")))
		})
	}
}

func TestDownload(t *testing.T) {
	store := NewLocalStoreWithLogger(t.TempDir(), logger.NewMockLogger())
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "policies", "policies/s3-public-access.yml", []byte("policies:\n- name: s3\n")))

	dest := filepath.Join(t.TempDir(), "work", "policy.yml")
	require.NoError(t, Download(ctx, store, "policies", "policies/s3-public-access.yml", dest))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "policies:"))

	err = Download(ctx, store, "policies", "missing.yml", dest)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUploadDir(t *testing.T) {
	outDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(outDir, "s3-public-access"), 0750))
	require.NoError(t, os.WriteFile(filepath.Join(outDir, "s3-public-access", "resources.json"), []byte(`[]`), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(outDir, "custodian-run.log"), []byte("ok"), 0600))

	client := newFakeS3Objects()
	store := NewS3Store(client, logger.NewMockLogger())

	n, err := UploadDir(context.Background(), store, logger.NewMockLogger(), "artifacts", "custodian-output/2025/06/01/12/f-1/", outDir)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Contains(t, client.objects, "artifacts/custodian-output/2025/06/01/12/f-1/s3-public-access/resources.json")
	assert.Contains(t, client.objects, "artifacts/custodian-output/2025/06/01/12/f-1/custodian-run.log")
}

func TestUploadDir_CanceledContext(t *testing.T) {
	outDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outDir, "a.log"), []byte("a"), 0600))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n, err := UploadDir(ctx, NewS3Store(newFakeS3Objects(), nil), logger.NewMockLogger(), "b", "p/", outDir)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, n)
}

func TestArtifactPrefix(t *testing.T) {
	at := time.Date(2025, 6, 1, 9, 30, 0, 0, time.FixedZone("CEST", 2*3600))
	assert.Equal(t, "custodian-output/2025/06/01/07/f-1/", ArtifactPrefix("f-1", at))
	assert.Equal(t,
		"custodian-output/2025/06/01/07/arn-aws-securityhub-us-east-1-1-finding-abc/",
		ArtifactPrefix("arn:aws:securityhub:us-east-1:1:finding/abc", at))
	assert.Equal(t, "custodian-output/2025/06/01/07/unknown/", ArtifactPrefix("", at))
}
