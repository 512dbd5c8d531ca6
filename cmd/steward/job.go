// Package main provides the run configuration loading phase.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/stewardworks/steward/internal/config"
	"github.com/stewardworks/steward/internal/taskfile"
)

// job handles the configuration phase of a run.
type job struct {
	// Parsed from CLI (populated by kong via RunCmd)
	goal          string
	taskfilePath  string
	configPath    string
	workspacePath string
	maxSteps      int
	interactive   bool

	// Loaded artifacts
	tf  *taskfile.Taskfile
	cfg *config.Config
}

// load loads config and taskfile, then applies CLI overrides.
func (j *job) load() error {
	if err := j.loadConfig(); err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := j.loadTaskfile(); err != nil {
		return fmt.Errorf("loading taskfile: %w", err)
	}
	if err := j.applyOverrides(); err != nil {
		return err
	}
	return nil
}

func (j *job) loadConfig() error {
	cfg, err := loadConfig(j.configPath)
	if err != nil {
		return err
	}
	j.cfg = cfg
	return nil
}

// loadTaskfile resolves the goal: an explicit taskfile when -f was
// given, otherwise a minimal one built from the goal argument.
func (j *job) loadTaskfile() error {
	if j.taskfilePath != "" {
		tf, err := taskfile.Load(j.taskfilePath)
		if err != nil {
			return err
		}
		if j.goal != "" {
			// A goal on the command line wins over the file's.
			tf.Goal = j.goal
		}
		j.tf = tf
		return nil
	}
	if j.goal == "" {
		return fmt.Errorf("a goal argument or -f taskfile is required")
	}
	j.tf = taskfile.FromGoal(j.goal)
	return nil
}

// applyOverrides settles the workspace and limits. Precedence is CLI
// flag, then taskfile, then config file.
func (j *job) applyOverrides() error {
	ws := j.cfg.Agent.Workspace
	if j.tf.Workspace != "" {
		ws = j.tf.Workspace
	}
	if j.workspacePath != "" {
		ws = j.workspacePath
	}
	if ws == "" {
		ws, _ = os.Getwd()
	}
	abs, err := filepath.Abs(ws)
	if err != nil {
		return fmt.Errorf("resolving workspace: %w", err)
	}
	j.cfg.Agent.Workspace = abs

	if j.tf.Limits.MaxSteps > 0 {
		j.cfg.Limits.MaxSteps = j.tf.Limits.MaxSteps
	}
	if j.maxSteps > 0 {
		j.cfg.Limits.MaxSteps = j.maxSteps
	}
	if j.tf.Limits.MaxRetries > 0 {
		j.cfg.Limits.MaxRetries = j.tf.Limits.MaxRetries
	}

	// Taskfile env entries fill gaps in the process environment.
	// Variables already set win, same as the .env convention.
	for k, v := range j.tf.Env {
		if os.Getenv(k) == "" {
			os.Setenv(k, v)
		}
	}
	return nil
}

// loadConfig loads the file at path, or the default search path when
// path is empty, and validates the result.
func loadConfig(path string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
