// Package taskfile parses the YAML run descriptor handed to steward
// run. A taskfile names the goal and optionally narrows the run:
// workspace, limit overrides, environment, playbooks, deadline.
package taskfile

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Limits are per-run overrides; zero means use the config value.
type Limits struct {
	MaxSteps   int `yaml:"max_steps,omitempty"`
	MaxRetries int `yaml:"max_retries,omitempty"`
}

// Taskfile describes one run.
type Taskfile struct {
	Goal      string            `yaml:"goal"`
	Workspace string            `yaml:"workspace,omitempty"`
	Deadline  string            `yaml:"deadline,omitempty"`
	Env       map[string]string `yaml:"env,omitempty"`
	Limits    Limits            `yaml:"limits,omitempty"`
	Playbooks []string          `yaml:"playbooks,omitempty"`
}

// Load reads and parses a taskfile.
func Load(path string) (*Taskfile, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read taskfile: %w", err)
	}
	return Parse(content)
}

// Parse parses taskfile content.
func Parse(content []byte) (*Taskfile, error) {
	tf := &Taskfile{}
	if err := yaml.Unmarshal(content, tf); err != nil {
		return nil, fmt.Errorf("invalid taskfile: %w", err)
	}
	if tf.Goal == "" {
		return nil, fmt.Errorf("missing required field: goal")
	}
	if tf.Deadline != "" {
		if d, err := time.ParseDuration(tf.Deadline); err != nil || d <= 0 {
			return nil, fmt.Errorf("deadline: %q is not a positive duration", tf.Deadline)
		}
	}
	return tf, nil
}

// FromGoal wraps a bare goal string, for runs started without a file.
func FromGoal(goal string) *Taskfile {
	return &Taskfile{Goal: goal}
}

// RunDeadline returns the overall run deadline when one is set.
func (t *Taskfile) RunDeadline() (time.Duration, bool) {
	if t.Deadline == "" {
		return 0, false
	}
	d, err := time.ParseDuration(t.Deadline)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}
