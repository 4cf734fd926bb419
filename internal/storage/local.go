package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joshsymonds/remediator/pkg/logger"
	"github.com/joshsymonds/remediator/pkg/pathutil"
)

// LocalStore is an ObjectStore rooted at a directory. Buckets are subdirectories.
// It serves offline runs and tests.
type LocalStore struct {
	logger  logger.Logger
	baseDir string
}

// NewLocalStore creates a filesystem store under baseDir.
func NewLocalStore(baseDir string) *LocalStore {
	return NewLocalStoreWithLogger(baseDir, logger.GetGlobalLogger())
}

// NewLocalStoreWithLogger creates a filesystem store with a custom logger.
func NewLocalStoreWithLogger(baseDir string, log logger.Logger) *LocalStore {
	return &LocalStore{baseDir: baseDir, logger: log}
}

func (s *LocalStore) objectPath(bucket, key string) (string, error) {
	if bucket == "" {
		return "", fmt.Errorf("empty bucket name")
	}
	bucketDir, err := pathutil.JoinAndValidate(s.baseDir, bucket)
	if err != nil {
		return "", fmt.Errorf("invalid bucket: %w", err)
	}
	path, err := pathutil.KeyToPath(bucketDir, key)
	if err != nil {
		return "", fmt.Errorf("invalid key: %w", err)
	}
	return path, nil
}

// Get reads bucket/key from disk.
func (s *LocalStore) Get(_ context.Context, bucket, key string) ([]byte, error) {
	path, err := s.objectPath(bucket, key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path) // #nosec G304 - path validated against baseDir
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s/%s: %w", bucket, key, ErrNotFound)
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, nil
}

// Put writes bucket/key to disk.
func (s *LocalStore) Put(_ context.Context, bucket, key string, body []byte) error {
	path, err := s.objectPath(bucket, key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	if err := os.WriteFile(path, body, 0600); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	s.logger.Debug("Stored object", "path", path)
	return nil
}
