// Package config loads steward.toml and carries every tunable of the
// loop. Zero values fall back to defaults, so a minimal config file
// stays minimal.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/stewardworks/steward/internal/sovereignty"
)

// Config is the root of steward.toml.
type Config struct {
	Agent       AgentConfig       `toml:"agent"`
	LLM         LLMConfig         `toml:"llm"`
	Limits      LimitsConfig      `toml:"limits"`
	Timeouts    TimeoutsConfig    `toml:"timeouts"`
	Confirm     ConfirmConfig     `toml:"confirm"`
	Sovereignty SovereigntyConfig `toml:"sovereignty"`
	Events      EventsConfig      `toml:"events"`
	Storage     StorageConfig     `toml:"storage"`
	Telemetry   TelemetryConfig   `toml:"telemetry"`
	Playbooks   PlaybooksConfig   `toml:"playbooks"`
}

// AgentConfig identifies the agent and its default workspace. Extra
// writable roots widen the boundary beyond the workspace and /tmp;
// protected paths narrow it, resolving against the workspace when
// relative.
type AgentConfig struct {
	Name           string   `toml:"name"`
	Workspace      string   `toml:"workspace"`
	ExtraWritable  []string `toml:"extra_writable"`
	ProtectedPaths []string `toml:"protected_paths"`
}

// LLMConfig selects the provider behind the oracle.
type LLMConfig struct {
	Provider  string `toml:"provider"`
	Model     string `toml:"model"`
	APIKeyEnv string `toml:"api_key_env"`
	MaxTokens int    `toml:"max_tokens"`
	BaseURL   string `toml:"base_url"`
}

// LimitsConfig bounds the loop.
type LimitsConfig struct {
	MaxSteps       int `toml:"max_steps"`
	MaxRetries     int `toml:"max_retries"`
	RefusalCeiling int `toml:"refusal_ceiling"`
	HistoryWindow  int `toml:"history_window"`
}

// TimeoutsConfig holds duration strings; accessors parse them with
// defaults so a bad value degrades instead of crashing mid-run.
// Validate reports bad values up front.
type TimeoutsConfig struct {
	Tool       string            `toml:"tool"`
	PerTool    map[string]string `toml:"per_tool"`
	Backoff    string            `toml:"backoff"`
	BackoffCap string            `toml:"backoff_cap"`
}

// ToolTimeout returns the default per-action timeout.
func (t TimeoutsConfig) ToolTimeout() time.Duration {
	return parseDuration(t.Tool, 60*time.Second)
}

// PerToolTimeouts returns the per-tool overrides.
func (t TimeoutsConfig) PerToolTimeouts() map[string]time.Duration {
	if len(t.PerTool) == 0 {
		return nil
	}
	out := make(map[string]time.Duration, len(t.PerTool))
	for tool, v := range t.PerTool {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			out[tool] = d
		}
	}
	return out
}

// RetryBackoff returns the initial retry backoff.
func (t TimeoutsConfig) RetryBackoff() time.Duration {
	return parseDuration(t.Backoff, 500*time.Millisecond)
}

// RetryBackoffCap returns the backoff ceiling.
func (t TimeoutsConfig) RetryBackoffCap() time.Duration {
	return parseDuration(t.BackoffCap, 5*time.Second)
}

// ConfirmConfig governs the human-approval protocol.
type ConfirmConfig struct {
	Timeout   string `toml:"timeout"`
	AnswerDir string `toml:"answer_dir"`
}

// ApprovalTimeout returns how long an escalation waits for a human.
func (c ConfirmConfig) ApprovalTimeout() time.Duration {
	return parseDuration(c.Timeout, 5*time.Minute)
}

// SovereigntyConfig extends the stock gate policy.
type SovereigntyConfig struct {
	ExtraElevationCommands []string `toml:"extra_elevation_commands"`
	ExtraPackageManagers   []string `toml:"extra_package_managers"`
	PreapprovedPackages    []string `toml:"preapproved_packages"`
}

// Policy merges the config extensions into the stock policy.
func (s SovereigntyConfig) Policy() sovereignty.Policy {
	p := sovereignty.DefaultPolicy()
	p.ElevationCommands = append(p.ElevationCommands, s.ExtraElevationCommands...)
	p.PackageManagers = append(p.PackageManagers, s.ExtraPackageManagers...)
	p.PreapprovedPackages = append(p.PreapprovedPackages, s.PreapprovedPackages...)
	return p
}

// EventsConfig governs the progress stream.
type EventsConfig struct {
	Buffer  int    `toml:"buffer"`
	NATSURL string `toml:"nats_url"`
}

// StorageConfig names the state directory.
type StorageConfig struct {
	Path string `toml:"path"`
}

// Root expands ~ in the configured path.
func (s StorageConfig) Root() string {
	path := s.Path
	if path == "" {
		path = "~/.local/steward"
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

// SessionsDir is where run transcripts live.
func (s StorageConfig) SessionsDir() string { return filepath.Join(s.Root(), "sessions") }

// CheckpointsDir is where step journals live.
func (s StorageConfig) CheckpointsDir() string { return filepath.Join(s.Root(), "checkpoints") }

// ArchiveDir is where terminal reports live.
func (s StorageConfig) ArchiveDir() string { return filepath.Join(s.Root(), "archive") }

// AnswersDir is where confirmation answer files are watched, unless
// [confirm].answer_dir overrides it.
func (s StorageConfig) AnswersDir() string { return filepath.Join(s.Root(), "answers") }

// RequestsDir is where pending confirmation cards live while a run
// awaits an answer.
func (s StorageConfig) RequestsDir() string { return filepath.Join(s.Root(), "requests") }

// TelemetryConfig configures the OTLP exporter.
type TelemetryConfig struct {
	Enabled  bool              `toml:"enabled"`
	Endpoint string            `toml:"endpoint"`
	Protocol string            `toml:"protocol"`
	Insecure bool              `toml:"insecure"`
	Headers  map[string]string `toml:"headers"`
}

// PlaybooksConfig lists directories searched for playbooks.
type PlaybooksConfig struct {
	Paths []string `toml:"paths"`
}

// New creates a config with defaults.
func New() *Config {
	return &Config{
		Agent: AgentConfig{Name: "steward"},
		LLM: LLMConfig{
			MaxTokens: 4096,
		},
		Limits: LimitsConfig{
			MaxSteps:       20,
			MaxRetries:     3,
			RefusalCeiling: 3,
			HistoryWindow:  8,
		},
		Events: EventsConfig{Buffer: 64},
		Storage: StorageConfig{
			Path: "~/.local/steward",
		},
		Telemetry: TelemetryConfig{Protocol: "noop"},
	}
}

// LoadFile loads configuration from a TOML file over the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// LoadDefault loads steward.toml from the current directory, falling
// back to defaults when the file does not exist.
func LoadDefault() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current directory: %w", err)
	}
	path := filepath.Join(cwd, "steward.toml")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return New(), nil
	}
	return LoadFile(path)
}

// Validate reports config values that would otherwise degrade
// silently.
func (c *Config) Validate() error {
	for field, v := range map[string]string{
		"timeouts.tool":        c.Timeouts.Tool,
		"timeouts.backoff":     c.Timeouts.Backoff,
		"timeouts.backoff_cap": c.Timeouts.BackoffCap,
		"confirm.timeout":      c.Confirm.Timeout,
	} {
		if v == "" {
			continue
		}
		if d, err := time.ParseDuration(v); err != nil || d <= 0 {
			return fmt.Errorf("%s: %q is not a positive duration", field, v)
		}
	}
	for tool, v := range c.Timeouts.PerTool {
		if d, err := time.ParseDuration(v); err != nil || d <= 0 {
			return fmt.Errorf("timeouts.per_tool.%s: %q is not a positive duration", tool, v)
		}
	}
	if c.Limits.MaxSteps < 1 {
		return fmt.Errorf("limits.max_steps: %d is below 1", c.Limits.MaxSteps)
	}
	if c.Limits.MaxRetries < 1 {
		return fmt.Errorf("limits.max_retries: %d is below 1", c.Limits.MaxRetries)
	}
	return nil
}

// GetAPIKey returns the provider API key from the configured
// environment variable, or the provider's stock variable.
func (c *Config) GetAPIKey() string {
	envVar := c.LLM.APIKeyEnv
	if envVar == "" {
		envVar = DefaultAPIKeyEnv(c.LLM.Provider)
	}
	if envVar == "" {
		return ""
	}
	return os.Getenv(envVar)
}

// DefaultAPIKeyEnv returns the stock environment variable for a
// provider.
func DefaultAPIKeyEnv(provider string) string {
	switch provider {
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "openai":
		return "OPENAI_API_KEY"
	case "google":
		return "GOOGLE_API_KEY"
	case "mistral":
		return "MISTRAL_API_KEY"
	case "groq":
		return "GROQ_API_KEY"
	default:
		return ""
	}
}

// AnswersDir resolves the confirmation answer directory: the override
// when set, storage otherwise.
func (c *Config) AnswersDir() string {
	if c.Confirm.AnswerDir != "" {
		return c.Confirm.AnswerDir
	}
	return c.Storage.AnswersDir()
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
