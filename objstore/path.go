// Package objstore defines a backend-agnostic contract for accessing
// versioned object storage: a mapping from string paths to (bytes,
// version, metadata) triples supporting conditional writes and
// metadata-only updates.
package objstore

import (
	"fmt"
	"strings"
)

// Path identifies an object in the store. Paths are "/"-delimited,
// with no leading or trailing slash, no empty segments, and no "."
// or ".." segment.
type Path struct {
	s string
}

// NewPath validates s and returns a Path, or an error describing the
// first rule s violates.
//
//   - must be non-empty
//   - no leading or trailing "/"
//   - no empty segment (no "//")
//   - no "." or ".." segment
//   - no ASCII control characters
func NewPath(s string) (Path, error) {
	if s == "" {
		return Path{}, fmt.Errorf("objstore: path must not be empty")
	}
	if strings.HasPrefix(s, "/") || strings.HasSuffix(s, "/") {
		return Path{}, fmt.Errorf("objstore: path %q must not have a leading or trailing '/'", s)
	}
	for _, seg := range strings.Split(s, "/") {
		switch seg {
		case "":
			return Path{}, fmt.Errorf("objstore: path %q must not contain an empty segment", s)
		case ".", "..":
			return Path{}, fmt.Errorf("objstore: path %q must not contain a %q segment", s, seg)
		}
	}
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			return Path{}, fmt.Errorf("objstore: path %q must not contain control characters", s)
		}
	}
	return Path{s: s}, nil
}

// MustNewPath is like NewPath but panics on a malformed path. Intended
// for tests and compile-time-constant paths.
func MustNewPath(s string) Path {
	p, err := NewPath(s)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the path's underlying string.
func (p Path) String() string {
	return p.s
}

// IsZero reports whether p is the zero Path (never produced by NewPath).
func (p Path) IsZero() bool {
	return p.s == ""
}
