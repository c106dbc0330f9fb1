package watcher

import (
	"path"
	"strings"
)

// DefaultIgnore skips generated sources and build output.
var DefaultIgnore = []string{"*.g.dart", "*.freezed.dart", "build", ".dart_tool"}

// ExtensionFilter accepts paths with one of the given extensions.
func ExtensionFilter(exts ...string) FileFilter {
	return func(p string) bool {
		ext := path.Ext(p)
		for _, e := range exts {
			if strings.EqualFold(ext, e) {
				return true
			}
		}
		return false
	}
}

// IgnoreFilter rejects paths whose base name matches a glob pattern or
// that contain a directory segment equal to a pattern.
func IgnoreFilter(patterns ...string) FileFilter {
	return func(p string) bool {
		base := path.Base(p)
		for _, pattern := range patterns {
			if matched, _ := path.Match(pattern, base); matched {
				return false
			}
		}
		return !hasIgnoredSegment(p, patterns)
	}
}

// ExcludeDirFilter rejects dir itself and every path below it. dir is a
// root-relative slash path.
func ExcludeDirFilter(dir string) FileFilter {
	dir = strings.TrimSuffix(path.Clean(dir), "/")
	return func(p string) bool {
		return p != dir && !strings.HasPrefix(p, dir+"/")
	}
}

// NoDotfileFilter rejects paths with any segment starting with a dot.
func NoDotfileFilter(p string) bool {
	for _, segment := range strings.Split(p, "/") {
		if strings.HasPrefix(segment, ".") && segment != "." && segment != ".." {
			return false
		}
	}
	return true
}

// hasIgnoredSegment checks every directory segment of p, that is all but
// the last, against the patterns.
func hasIgnoredSegment(p string, patterns []string) bool {
	segments := strings.Split(p, "/")
	for _, segment := range segments[:len(segments)-1] {
		for _, pattern := range patterns {
			if matched, _ := path.Match(pattern, segment); matched {
				return true
			}
		}
	}
	return false
}
