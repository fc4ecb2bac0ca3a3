package util

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// maxPathLength bounds configured file paths
const maxPathLength = 4096

var (
	// ErrPathTraversal is returned for paths containing ".."
	ErrPathTraversal = errors.New("path traversal not allowed")
	// ErrSymlinkNotAllowed is returned when a symlink is found where one is refused
	ErrSymlinkNotAllowed = errors.New("symlink not allowed")
)

// CheckFilePath rejects empty paths, paths with ".." segments or NUL bytes
// and overlong paths, without touching the filesystem.
func CheckFilePath(path string) error {
	switch {
	case path == "":
		return fmt.Errorf("file path cannot be empty")
	case len(path) > maxPathLength:
		return fmt.Errorf("file path too long: %d characters (max %d)", len(path), maxPathLength)
	case strings.Contains(path, "\x00"):
		return fmt.Errorf("null bytes not allowed in path")
	}
	// checked before Clean, which would fold the ".." away
	for _, segment := range strings.FieldsFunc(path, func(r rune) bool { return r == '/' || r == '\\' }) {
		if segment == ".." {
			return ErrPathTraversal
		}
	}
	return nil
}

// CleanFilePath checks path and returns its cleaned absolute form. With
// rejectSymlinks set, an existing symlink at path is refused.
func CleanFilePath(path string, rejectSymlinks bool) (string, error) {
	if err := CheckFilePath(path); err != nil {
		return "", err
	}
	absPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("failed to resolve file path: %w", err)
	}
	if rejectSymlinks {
		if fi, err := os.Lstat(absPath); err == nil && fi.Mode()&os.ModeSymlink != 0 {
			return "", ErrSymlinkNotAllowed
		}
	}
	return absPath, nil
}
