package util

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrPathTraversal indicates a path traversal attempt was detected
var ErrPathTraversal = errors.New("path traversal attempt detected")

// ErrSymlinkNotAllowed indicates a symlink was detected and is not allowed
var ErrSymlinkNotAllowed = errors.New("symlink not allowed")

// ErrPathOutsideAllowedDir indicates the path is outside the allowed directory
var ErrPathOutsideAllowedDir = errors.New("path outside allowed directory")

// ErrInvalidFileName indicates a file name that cannot be written as given
var ErrInvalidFileName = errors.New("invalid file name")

// ValidateFilePath resolves path against allowedDir and rejects anything
// that would land outside it. With checkSymlinks, an existing file (or the
// parent of a new one) must not be a symlink.
func ValidateFilePath(path, allowedDir string, checkSymlinks bool) (string, error) {
	if path == "" {
		return "", fmt.Errorf("file path cannot be empty")
	}
	if allowedDir == "" {
		return "", fmt.Errorf("allowed directory cannot be empty")
	}

	// Checked before Clean, which would fold the ".." away.
	if strings.Contains(path, "..") {
		return "", ErrPathTraversal
	}

	cleanPath := filepath.Clean(path)
	if strings.Contains(cleanPath, "\x00") {
		return "", fmt.Errorf("null bytes not allowed in path")
	}

	absAllowedDir, err := filepath.Abs(allowedDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve allowed directory: %w", err)
	}

	absPath := cleanPath
	if !filepath.IsAbs(cleanPath) {
		absPath = filepath.Join(absAllowedDir, cleanPath)
	}
	absPath, err = filepath.Abs(absPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve file path: %w", err)
	}

	rel, err := filepath.Rel(absAllowedDir, absPath)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", ErrPathOutsideAllowedDir
	}

	if checkSymlinks {
		target := absPath
		if _, err := os.Lstat(absPath); err != nil {
			target = filepath.Dir(absPath)
		}
		fi, err := os.Lstat(target)
		if err != nil {
			return "", fmt.Errorf("failed to check parent directory: %w", err)
		}
		if fi.Mode()&os.ModeSymlink != 0 {
			return "", ErrSymlinkNotAllowed
		}
	}

	return absPath, nil
}

// OutputPath returns where a document named name is written inside dir.
// The name must be a bare file name; directory parts are rejected.
func OutputPath(dir, name string) (string, error) {
	if name == "" || name == "." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidFileName, name)
	}
	return ValidateFilePath(name, dir, true)
}
