// Package pathutil holds the path checks used before a catalog locator is
// allowed to touch the filesystem.
package pathutil

import (
	"errors"
	"path/filepath"
	"strings"
)

var (
	ErrEmpty       = errors.New("empty path")
	ErrAbsolute    = errors.New("absolute path")
	ErrIllegalChar = errors.New("illegal character in path")
	ErrDotSegment  = errors.New("dot segment in path")
	ErrEscapesRoot = errors.New("path escapes root")
)

// HasDotSegments reports whether any path segment is "." or "..".
func HasDotSegments(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == "." || seg == ".." {
			return true
		}
	}
	return false
}

// CheckRelative validates a slash-separated relative reference. It does not
// touch the filesystem.
func CheckRelative(rel string) error {
	switch {
	case rel == "":
		return ErrEmpty
	case strings.ContainsAny(rel, "\\\x00"):
		return ErrIllegalChar
	case strings.HasPrefix(rel, "/") || filepath.IsAbs(rel) || filepath.VolumeName(rel) != "":
		return ErrAbsolute
	case HasDotSegments(rel):
		return ErrDotSegment
	}
	return nil
}

// SafeJoin joins rel beneath root and returns the cleaned absolute path.
// The result is guaranteed to be root itself or a descendant of it.
func SafeJoin(root, rel string) (string, error) {
	if err := CheckRelative(rel); err != nil {
		return "", err
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	full := filepath.Join(absRoot, filepath.FromSlash(rel))
	r, err := filepath.Rel(absRoot, full)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", ErrEscapesRoot
	}
	return full, nil
}
