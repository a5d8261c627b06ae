// Package safety confines content-store paths to their root directory.
package safety

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrUnsafePath is returned for paths that would resolve outside their root.
var ErrUnsafePath = errors.New("unsafe path")

// CleanRelativePath validates and normalizes a relative path.
// It rejects absolute paths, NUL bytes and parent traversal segments.
func CleanRelativePath(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("%w: path is empty", ErrUnsafePath)
	}
	if strings.IndexByte(p, 0) >= 0 {
		return "", fmt.Errorf("%w: NUL byte in %q", ErrUnsafePath, p)
	}

	clean := filepath.Clean(filepath.FromSlash(p))
	switch {
	case clean == ".":
		return "", fmt.Errorf("%w: %q resolves to current directory", ErrUnsafePath, p)
	case filepath.IsAbs(clean):
		return "", fmt.Errorf("%w: absolute path %q", ErrUnsafePath, p)
	case clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)):
		return "", fmt.Errorf("%w: parent traversal in %q", ErrUnsafePath, p)
	}
	return clean, nil
}

// SafeJoinUnder joins a validated relative path under root and verifies
// the final path remains inside root.
func SafeJoinUnder(root, rel string) (string, error) {
	cleanRel, err := CleanRelativePath(rel)
	if err != nil {
		return "", err
	}
	return EnsureUnderRoot(root, filepath.Join(root, cleanRel))
}

// JoinLogical maps a slash separated store path such as "/public/a.prpt"
// onto root. "/" and "" map to root itself.
func JoinLogical(root, logical string) (string, error) {
	rel := strings.TrimLeft(logical, "/")
	if rel == "" {
		return EnsureUnderRoot(root, root)
	}
	return SafeJoinUnder(root, rel)
}

// EnsureUnderRoot verifies candidate resolves under root and returns
// an absolute normalized path.
func EnsureUnderRoot(root, candidate string) (string, error) {
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve root: %w", err)
	}
	candAbs, err := filepath.Abs(candidate)
	if err != nil {
		return "", fmt.Errorf("resolve candidate: %w", err)
	}

	rel, err := filepath.Rel(rootAbs, candAbs)
	if err != nil {
		return "", fmt.Errorf("compare paths: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q escapes root", ErrUnsafePath, candidate)
	}
	return candAbs, nil
}
