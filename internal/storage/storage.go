// Package storage handles policy documents and remediation artifacts kept in object storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/joshsymonds/remediator/pkg/logger"
	"github.com/joshsymonds/remediator/pkg/pathutil"
)

// ErrNotFound is returned when a bucket or key does not exist.
var ErrNotFound = errors.New("object not found")

// ObjectStore reads and writes objects addressed by bucket and key.
type ObjectStore interface {
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Put(ctx context.Context, bucket, key string, body []byte) error
}

// Download fetches bucket/key into dest, creating parent directories.
func Download(ctx context.Context, store ObjectStore, bucket, key, dest string) error {
	data, err := store.Get(ctx, bucket, key)
	if err != nil {
		return fmt.Errorf("downloading s3://%s/%s: %w", bucket, key, err)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0750); err != nil {
		return fmt.Errorf("creating download directory: %w", err)
	}
	if err := os.WriteFile(dest, data, 0600); err != nil {
		return fmt.Errorf("writing %s: %w", dest, err)
	}
	return nil
}

// UploadDir copies every regular file under dir to bucket below prefix.
// It returns the number of files uploaded.
func UploadDir(ctx context.Context, store ObjectStore, log logger.Logger, bucket, prefix, dir string) (int, error) {
	uploaded := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		rel, err := pathutil.PathToKey(dir, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path) // #nosec G304 - path comes from WalkDir under dir
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}

		key := prefix + rel
		if err := store.Put(ctx, bucket, key, data); err != nil {
			return fmt.Errorf("uploading %s: %w", key, err)
		}
		log.Debug("Uploaded artifact", "bucket", bucket, "key", key, "bytes", len(data))
		uploaded++
		return nil
	})
	return uploaded, err
}

// ArtifactPrefix returns the key prefix for one execution's output:
// custodian-output/YYYY/MM/DD/HH/<finding id>/.
func ArtifactPrefix(findingID string, at time.Time) string {
	return fmt.Sprintf("custodian-output/%s/%s/", at.UTC().Format("2006/01/02/15"), pathutil.SanitizeSegment(findingID))
}
