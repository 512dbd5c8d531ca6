package task

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// Memory is the execution context of one task: artifacts mined from
// tool output, accumulated across steps. It is shared by reference with
// every component of the loop and mutated only by the executor's
// post-processing. A task is a single logical thread of control, so no
// locking is needed.
type Memory struct {
	LastOutput string            `json:"last_output,omitempty"`
	Paths      []string          `json:"extracted_paths,omitempty"`
	URLs       []string          `json:"extracted_urls,omitempty"`
	KeyValues  map[string]string `json:"key_values,omitempty"`

	notes []string
}

// NewMemory creates an empty execution context.
func NewMemory() *Memory {
	return &Memory{KeyValues: make(map[string]string)}
}

// Observe records the output of one attempt along with anything mined
// from it. Appends only: earlier artifacts are never dropped, and
// duplicates are kept for the audit trail.
func (m *Memory) Observe(output string, paths, urls []string) {
	if output != "" {
		m.LastOutput = output
	}
	m.Paths = append(m.Paths, paths...)
	m.URLs = append(m.URLs, urls...)
}

// Put stores a key/value pair extracted or derived during execution.
func (m *Memory) Put(key, value string) {
	if m.KeyValues == nil {
		m.KeyValues = make(map[string]string)
	}
	m.KeyValues[key] = value
}

// Note folds a short planner note, such as a failure summary, into the
// context handed to the oracle on the next planning round.
func (m *Memory) Note(s string) {
	if s != "" {
		m.notes = append(m.notes, s)
	}
}

// Notes returns a copy of the folded planner notes.
func (m *Memory) Notes() []string {
	out := make([]string, len(m.notes))
	copy(out, m.notes)
	return out
}

// RecentPaths returns up to n distinct paths, newest first.
func (m *Memory) RecentPaths(n int) []string {
	return lastDistinct(m.Paths, n)
}

// RecentURLs returns up to n distinct URLs, newest first.
func (m *Memory) RecentURLs(n int) []string {
	return lastDistinct(m.URLs, n)
}

func lastDistinct(items []string, n int) []string {
	var out []string
	seen := make(map[string]bool)
	for i := len(items) - 1; i >= 0 && len(out) < n; i-- {
		if seen[items[i]] {
			continue
		}
		seen[items[i]] = true
		out = append(out, items[i])
	}
	return out
}

// FindPath searches the path history newest-first for an entry matching
// name, preferring an exact basename match over a substring match.
// Returns the empty string when nothing matches.
func (m *Memory) FindPath(name string) string {
	if name == "" {
		return ""
	}
	for i := len(m.Paths) - 1; i >= 0; i-- {
		if filepath.Base(m.Paths[i]) == filepath.Base(name) {
			return m.Paths[i]
		}
	}
	for i := len(m.Paths) - 1; i >= 0; i-- {
		if strings.Contains(m.Paths[i], name) {
			return m.Paths[i]
		}
	}
	return ""
}

// Summary renders a bounded digest for the oracle prompt: recent paths
// and URLs, key/values, and planner notes. Empty when nothing has been
// observed yet.
func (m *Memory) Summary() string {
	var b strings.Builder
	if paths := m.RecentPaths(5); len(paths) > 0 {
		fmt.Fprintf(&b, "recent paths: %s\n", strings.Join(paths, ", "))
	}
	if urls := m.RecentURLs(3); len(urls) > 0 {
		fmt.Fprintf(&b, "recent urls: %s\n", strings.Join(urls, ", "))
	}
	if len(m.KeyValues) > 0 {
		keys := make([]string, 0, len(m.KeyValues))
		for k := range m.KeyValues {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, k+"="+m.KeyValues[k])
		}
		fmt.Fprintf(&b, "known values: %s\n", strings.Join(pairs, " "))
	}
	for _, n := range m.notes {
		fmt.Fprintf(&b, "note: %s\n", n)
	}
	return strings.TrimRight(b.String(), "\n")
}
