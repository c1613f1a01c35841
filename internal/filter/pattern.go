package filter

import (
	"path"
	"strings"
)

// Pattern is a compiled glob. Supported syntax: *, ?, and character classes
// within one path segment, and ** spanning segments. A trailing slash
// restricts the pattern to directories; a pattern containing a slash is
// anchored at the scan root, otherwise it matches the basename of any path.
type Pattern struct {
	segments []string
	original string
	anchored bool
	dirOnly  bool
}

// Compile validates and compiles a glob pattern.
func Compile(pattern string) (*Pattern, error) {
	p := &Pattern{original: pattern}

	if strings.HasSuffix(pattern, "/") {
		p.dirOnly = true
		pattern = strings.TrimSuffix(pattern, "/")
	}
	pattern = strings.TrimPrefix(pattern, "/")
	p.anchored = strings.Contains(pattern, "/")
	p.segments = strings.Split(pattern, "/")

	// Surface bad syntax at compile time rather than silently never
	// matching during a scan.
	for _, seg := range p.segments {
		if seg == "**" {
			continue
		}
		if _, err := path.Match(seg, "probe"); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// String returns the original pattern text.
func (p *Pattern) String() string {
	return p.original
}

// Match tests whether a slash-separated relative path matches.
func (p *Pattern) Match(relPath string, isDir bool) bool {
	if p.dirOnly && !isDir {
		return false
	}
	parts := strings.Split(strings.Trim(relPath, "/"), "/")
	if p.anchored {
		return matchSegments(p.segments, parts)
	}
	// Unanchored: match the basename or any trailing run of segments.
	for i := range parts {
		if matchSegments(p.segments, parts[i:]) {
			return true
		}
	}
	return false
}

// matchSegments matches pattern segments against path segments, with **
// consuming zero or more of them.
func matchSegments(pat, parts []string) bool {
	if len(pat) == 0 {
		return len(parts) == 0
	}
	if pat[0] == "**" {
		if matchSegments(pat[1:], parts) {
			return true
		}
		return len(parts) > 0 && matchSegments(pat, parts[1:])
	}
	if len(parts) == 0 {
		return false
	}
	ok, err := path.Match(pat[0], parts[0])
	if err != nil || !ok {
		return false
	}
	return matchSegments(pat[1:], parts[1:])
}
