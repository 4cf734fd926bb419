// Package pathutil provides safe path handling for object keys mapped onto the local filesystem.
package pathutil

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidateConfigPath validates a configuration file path.
// Config files are expected to be YAML files.
func ValidateConfigPath(path string) (string, error) {
	if strings.Contains(path, "..") {
		return "", fmt.Errorf("path contains directory traversal pattern: %s", path)
	}

	absPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("getting absolute path: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(absPath))
	if ext != ".yaml" && ext != ".yml" {
		return "", fmt.Errorf("config file must have .yaml or .yml extension, got %s", ext)
	}

	return absPath, nil
}

// JoinAndValidate safely joins path components and validates the result stays under baseDir.
func JoinAndValidate(baseDir string, elems ...string) (string, error) {
	for _, elem := range elems {
		if strings.Contains(elem, "..") {
			return "", fmt.Errorf("path element contains directory traversal: %s", elem)
		}
	}

	joined := filepath.Join(append([]string{baseDir}, elems...)...)

	absJoined, err := filepath.Abs(joined)
	if err != nil {
		return "", fmt.Errorf("getting absolute joined path: %w", err)
	}

	within, err := IsWithinDirectory(absJoined, baseDir)
	if err != nil {
		return "", fmt.Errorf("getting absolute base directory: %w", err)
	}
	if !within {
		return "", fmt.Errorf("joined path %s is not within base directory %s", joined, baseDir)
	}

	return absJoined, nil
}

// KeyToPath maps an object key ("policies/s3.yml") under baseDir.
func KeyToPath(baseDir, key string) (string, error) {
	key = strings.TrimPrefix(key, "/")
	if key == "" {
		return "", fmt.Errorf("empty object key")
	}
	return JoinAndValidate(baseDir, strings.Split(key, "/")...)
}

// PathToKey converts a file under root into a slash-separated object key suffix.
func PathToKey(root, path string) (string, error) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return "", fmt.Errorf("relative path: %w", err)
	}
	if strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("path %s is not within %s", path, root)
	}
	return filepath.ToSlash(rel), nil
}

// SanitizeSegment makes an identifier safe to use as a single key or path segment.
// ARN-style ids contain ':' and '/', which are replaced with '-'.
func SanitizeSegment(id string) string {
	if id == "" {
		return "unknown"
	}
	r := strings.NewReplacer(":", "-", "/", "-", "\\", "-", "..", "-")
	return r.Replace(id)
}

// IsWithinDirectory checks if a path is within a specific directory.
func IsWithinDirectory(path, dir string) (bool, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false, err
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false, err
	}

	if !strings.HasSuffix(absDir, string(filepath.Separator)) {
		absDir += string(filepath.Separator)
	}

	return strings.HasPrefix(absPath, absDir) || absPath == strings.TrimSuffix(absDir, string(filepath.Separator)), nil
}
