// Package pathutil provides path-safety helpers used wherever the core
// builds a filesystem path from untrusted or hashed components: reference
// tree construction, namespace-root joins, and config-relative lookups.
package pathutil

import (
	"path/filepath"
	"strings"

	"github.com/marfs-core/marfs/pkg/marfserr"
)

// Validate rejects directory traversal and, unless allowAbsolute, absolute
// paths.
func Validate(path string, allowAbsolute bool) error {
	if path == "" {
		return marfserr.New(marfserr.InvalidArgument, "path cannot be empty")
	}
	clean := filepath.Clean(path)
	if strings.Contains(clean, "..") {
		return marfserr.Newf(marfserr.InvalidArgument, "path contains directory traversal: %s", path)
	}
	if !allowAbsolute && filepath.IsAbs(clean) {
		return marfserr.Newf(marfserr.InvalidArgument, "absolute paths not allowed: %s", path)
	}
	return nil
}

// ValidateWithinBase checks that path, once joined onto base, does not
// escape base.
func ValidateWithinBase(base, path string) error {
	if base == "" {
		return marfserr.New(marfserr.InvalidArgument, "base path cannot be empty")
	}
	if path == "" {
		return marfserr.New(marfserr.InvalidArgument, "path cannot be empty")
	}
	cleanBase := filepath.Clean(base)
	cleanPath := filepath.Clean(path)

	if filepath.IsAbs(cleanPath) {
		if !withinDir(cleanPath, cleanBase) {
			return marfserr.Newf(marfserr.InvalidArgument, "path %s is outside base directory %s", path, base)
		}
		return nil
	}

	full := filepath.Join(cleanBase, cleanPath)
	if !withinDir(full, cleanBase) {
		return marfserr.Newf(marfserr.InvalidArgument, "path %s escapes base directory %s", path, base)
	}
	return nil
}

// SecureJoin joins elements onto base and guarantees the result stays
// within base, used to build reference-tree directory paths from
// hash-derived, otherwise-untrusted path segments.
func SecureJoin(base string, elements ...string) (string, error) {
	if base == "" {
		return "", marfserr.New(marfserr.InvalidArgument, "base path cannot be empty")
	}
	cleanBase := filepath.Clean(base)
	full := filepath.Join(append([]string{cleanBase}, elements...)...)
	if !withinDir(full, cleanBase) {
		return "", marfserr.New(marfserr.InvalidArgument, "path escapes base directory")
	}
	return full, nil
}

func withinDir(path, base string) bool {
	return path == base || strings.HasPrefix(path, base+string(filepath.Separator))
}
