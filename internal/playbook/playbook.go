// Package playbook loads operating guidance documents: markdown files
// with YAML frontmatter, kept in directories named by the config. A
// run selects playbooks by name and their guidance is handed to the
// oracle verbatim.
package playbook

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Playbook is one loaded guidance document.
type Playbook struct {
	// From frontmatter.
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Tags        []string `yaml:"tags,omitempty"`

	// From content.
	Guidance string `yaml:"-"`

	// Location.
	Path string `yaml:"-"`
}

// Ref is a minimal reference for discovery listings.
type Ref struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Path        string `yaml:"-"`
}

// Load loads a playbook from a file. The frontmatter name must match
// the filename so selection by name stays unambiguous.
func Load(path string) (*Playbook, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read playbook: %w", err)
	}

	pb, err := Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	base := strings.TrimSuffix(filepath.Base(path), ".md")
	if pb.Name != base {
		return nil, fmt.Errorf("playbook name %q does not match filename %q", pb.Name, base)
	}
	pb.Path = path
	return pb, nil
}

// Parse parses playbook content.
func Parse(content string) (*Playbook, error) {
	frontmatter, body, err := splitFrontmatter(content)
	if err != nil {
		return nil, err
	}

	pb := &Playbook{}
	if err := yaml.Unmarshal([]byte(frontmatter), pb); err != nil {
		return nil, fmt.Errorf("invalid frontmatter: %w", err)
	}
	if pb.Name == "" {
		return nil, fmt.Errorf("missing required field: name")
	}
	if pb.Description == "" {
		return nil, fmt.Errorf("missing required field: description")
	}
	if err := validateName(pb.Name); err != nil {
		return nil, err
	}

	pb.Guidance = strings.TrimSpace(body)
	return pb, nil
}

// splitFrontmatter extracts YAML frontmatter from markdown.
func splitFrontmatter(content string) (frontmatter, body string, err error) {
	lines := strings.Split(content, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return "", "", fmt.Errorf("missing frontmatter delimiter")
	}

	var fmLines []string
	var bodyStart int
	inFrontmatter := true
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			inFrontmatter = false
			bodyStart = i + 1
			break
		}
		fmLines = append(fmLines, lines[i])
	}
	if inFrontmatter {
		return "", "", fmt.Errorf("unclosed frontmatter")
	}

	frontmatter = strings.Join(fmLines, "\n")
	if bodyStart < len(lines) {
		body = strings.Join(lines[bodyStart:], "\n")
	}
	return frontmatter, body, nil
}

func validateName(name string) error {
	if len(name) == 0 || len(name) > 64 {
		return fmt.Errorf("name must be 1-64 characters")
	}
	if strings.HasPrefix(name, "-") || strings.HasSuffix(name, "-") {
		return fmt.Errorf("name cannot start or end with hyphen")
	}
	if strings.Contains(name, "--") {
		return fmt.Errorf("name cannot contain consecutive hyphens")
	}
	for _, r := range name {
		if !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-') {
			return fmt.Errorf("name can only contain lowercase letters, numbers, and hyphens")
		}
	}
	return nil
}

// Discover lists the playbooks under the given directories. Invalid
// files are skipped; a missing directory contributes nothing.
func Discover(dirs ...string) ([]Ref, error) {
	var refs []Ref
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			ref, err := parseRef(path)
			if err != nil {
				continue
			}
			ref.Path = path
			refs = append(refs, ref)
		}
	}
	return refs, nil
}

// parseRef reads just the frontmatter for discovery.
func parseRef(path string) (Ref, error) {
	f, err := os.Open(path)
	if err != nil {
		return Ref{}, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var inFrontmatter bool
	var fmLines []string
	for scanner.Scan() {
		trimmed := strings.TrimSpace(scanner.Text())
		if !inFrontmatter {
			if trimmed == "---" {
				inFrontmatter = true
			}
			continue
		}
		if trimmed == "---" {
			break
		}
		fmLines = append(fmLines, scanner.Text())
	}

	var ref Ref
	if err := yaml.Unmarshal([]byte(strings.Join(fmLines, "\n")), &ref); err != nil {
		return Ref{}, err
	}
	if ref.Name == "" {
		return Ref{}, fmt.Errorf("missing name")
	}
	return ref, nil
}

// Select loads the named playbooks from the given directories. Asking
// for a playbook that exists nowhere is an error: a run that names
// guidance expects it to apply.
func Select(names []string, dirs ...string) ([]*Playbook, error) {
	if len(names) == 0 {
		return nil, nil
	}
	refs, err := Discover(dirs...)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]string, len(refs))
	for _, ref := range refs {
		if _, ok := byName[ref.Name]; !ok {
			byName[ref.Name] = ref.Path
		}
	}

	var out []*Playbook
	for _, name := range names {
		path, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("playbook %q not found in %s", name, strings.Join(dirs, ", "))
		}
		pb, err := Load(path)
		if err != nil {
			return nil, err
		}
		out = append(out, pb)
	}
	return out, nil
}

// Render flattens playbooks into prompt-ready guidance blocks.
func Render(pbs []*Playbook) []string {
	out := make([]string, 0, len(pbs))
	for _, pb := range pbs {
		out = append(out, fmt.Sprintf("%s: %s\n\n%s", pb.Name, pb.Description, pb.Guidance))
	}
	return out
}
