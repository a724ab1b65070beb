package tracking

import "strings"

// joinPath joins path segments with "/", dropping empty segments and
// surrounding slashes so that join("a", "b/c") == join("a/b", "c").
func joinPath(parts ...string) string {
	segs := make([]string, 0, len(parts))
	for _, p := range parts {
		for _, s := range strings.Split(p, "/") {
			if s != "" {
				segs = append(segs, s)
			}
		}
	}
	return strings.Join(segs, "/")
}

// ancestors returns path and every prefix of it, shortest first.
func ancestors(path string) []string {
	segs := strings.Split(path, "/")
	out := make([]string, 0, len(segs))
	for i := range segs {
		out = append(out, strings.Join(segs[:i+1], "/"))
	}
	return out
}

// isUnder reports whether p equals root or lies below it.
func isUnder(p, root string) bool {
	if root == "" {
		return true
	}
	return p == root || strings.HasPrefix(p, root+"/")
}

func splitPath(p string) []string {
	return strings.Split(p, "/")
}
