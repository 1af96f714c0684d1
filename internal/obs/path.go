package obs

import "strings"

// CanonicalPath collapses per-resource path segments so metric labels
// stay low-cardinality. Slug lookups and rule descriptions embed the
// resource type in the path; everything else passes through as-is.
func CanonicalPath(path string) string {
	if path == "" {
		return "/"
	}
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	for _, prefix := range []string{"/v1/slugs/", "/v1/rules/"} {
		rest, ok := strings.CutPrefix(path, prefix)
		if !ok || rest == "" {
			continue
		}
		if rest == "sync" {
			return path
		}
		if !strings.Contains(rest, "/") {
			return prefix + ":type"
		}
	}
	return path
}
