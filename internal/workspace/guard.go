// Package workspace enforces the filesystem boundary a task may write
// inside.
package workspace

import (
	"path/filepath"
	"strings"
)

// System roots denied by default. A nested allowed root still wins via
// longest-prefix matching.
var defaultDenied = []string{
	"/", "/etc", "/usr", "/var", "/sys", "/proc", "/boot", "/home",
}

// Guard answers whether a path falls inside the writable boundary.
// Matching is longest-prefix: the most specific allowed or denied root
// wins, so a workspace nested under /home stays writable while the rest
// of /home does not.
type Guard struct {
	root    string
	allowed []string
	denied  []string
}

// New builds a guard for a workspace root. The root and /tmp are always
// allowed; extra roots widen the boundary.
func New(root string, extra ...string) *Guard {
	g := &Guard{root: filepath.Clean(root)}
	for _, p := range append([]string{root, "/tmp"}, extra...) {
		if p == "" {
			continue
		}
		g.allowed = append(g.allowed, filepath.Clean(p))
	}
	g.denied = append(g.denied, defaultDenied...)
	return g
}

// Deny narrows the boundary with additional denied roots. Relative
// roots resolve against the workspace, so protected subtrees can be
// named without repeating the root.
func (g *Guard) Deny(roots ...string) {
	for _, p := range roots {
		if p == "" {
			continue
		}
		if !filepath.IsAbs(p) {
			p = filepath.Join(g.root, p)
		}
		g.denied = append(g.denied, filepath.Clean(p))
	}
}

// Root returns the primary workspace root.
func (g *Guard) Root() string { return g.root }

// IsWritable reports whether path falls under an allowed root with no
// more specific denied root above it. Relative paths resolve against
// the workspace root before checking, so escapes through ".." are
// caught.
func (g *Guard) IsWritable(path string) bool {
	if path == "" {
		return false
	}
	p := path
	if !filepath.IsAbs(p) {
		p = filepath.Join(g.root, p)
	}
	p = filepath.Clean(p)

	allow := matchLen(g.allowed, p)
	deny := matchLen(g.denied, p)
	return allow > deny
}

// matchLen returns the length of the most specific root containing p,
// or 0 when none does.
func matchLen(roots []string, p string) int {
	best := 0
	for _, r := range roots {
		if r == "/" {
			if best < 1 {
				best = 1
			}
			continue
		}
		if p == r || strings.HasPrefix(p, r+"/") {
			if len(r) > best {
				best = len(r)
			}
		}
	}
	return best
}
