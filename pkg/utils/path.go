package utils

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidatePath validates that a file path is safe and does not contain directory traversal attempts.
// It checks for common directory traversal patterns and ensures the cleaned path doesn't escape
// the intended directory structure.
//
// Returns an error if the path contains:
//   - ".." directory traversal sequences
//   - Absolute paths when not expected
//   - Other potentially unsafe patterns
//
// Example usage:
//
//	if err := ValidatePath(userProvidedPath, false); err != nil {
//		return fmt.Errorf("invalid path: %w", err)
//	}
func ValidatePath(path string, allowAbsolute bool) error {
	if path == "" {
		return fmt.Errorf("path cannot be empty")
	}

	// Clean the path to resolve any . or .. elements
	cleanPath := filepath.Clean(path)

	// Check for directory traversal attempts, both as a raw ".." segment
	// (which Clean would resolve away) and in the cleaned result
	for _, segment := range strings.Split(filepath.ToSlash(path), "/") {
		if segment == ".." {
			return fmt.Errorf("path contains directory traversal: %s", path)
		}
	}
	if strings.Contains(cleanPath, "..") {
		return fmt.Errorf("path contains directory traversal: %s", path)
	}

	// Check if path is absolute when not allowed
	if !allowAbsolute && filepath.IsAbs(cleanPath) {
		return fmt.Errorf("absolute paths not allowed: %s", path)
	}

	return nil
}
