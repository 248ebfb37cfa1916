package storage

import (
	"fmt"
	"path"
	"strings"
)

// cleanRelative normalizes a handle-relative path to forward slashes without
// a leading slash. The empty string denotes the root. Any ".." segment is
// rejected outright rather than resolved.
func cleanRelative(p string) (string, error) {
	p = strings.ReplaceAll(p, `\`, "/")
	p = strings.TrimLeft(p, "/")
	if p == "" {
		return "", nil
	}

	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: %q", ErrPathTraversal, p)
		}
	}

	c := path.Clean(p)
	if c == "." {
		return "", nil
	}
	return c, nil
}

// cleanFile is cleanRelative for paths that must name a file
func cleanFile(p string) (string, error) {
	c, err := cleanRelative(p)
	if err != nil {
		return "", err
	}
	if c == "" {
		return "", fmt.Errorf("%w: empty file path", ErrInvalidPath)
	}
	return c, nil
}

// reservedSegment is kept by backends for their own bookkeeping and is never
// a valid tenant ID, module or domain.
const reservedSegment = ".stash-tmp"

// validSegment reports whether s can be used as a single key segment
// (tenant ID, module name or non-empty domain).
func validSegment(s string) bool {
	return s != "" && s != "." && s != ".." && s != reservedSegment && !strings.ContainsAny(s, `/\`)
}

// matchPattern applies a file-name pattern to a base name. "", "*" and "*.*"
// match every file.
func matchPattern(pattern, name string) bool {
	switch pattern {
	case "", "*", "*.*":
		return true
	}
	ok, err := path.Match(pattern, name)
	return err == nil && ok
}
