package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "steward.toml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFileOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
[agent]
name = "ops-steward"
workspace = "/srv/work"
extra_writable = ["/data/shared"]
protected_paths = [".git"]

[llm]
provider = "anthropic"
model = "claude-sonnet-4-5"

[limits]
max_steps = 40

[timeouts]
tool = "90s"

[timeouts.per_tool]
fetch_url = "2m"

[confirm]
timeout = "30s"

[events]
nats_url = "nats://localhost:4222"
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Agent.Name != "ops-steward" || cfg.Agent.Workspace != "/srv/work" {
		t.Errorf("agent section: %+v", cfg.Agent)
	}
	if len(cfg.Agent.ExtraWritable) != 1 || cfg.Agent.ExtraWritable[0] != "/data/shared" {
		t.Errorf("extra_writable: %v", cfg.Agent.ExtraWritable)
	}
	if len(cfg.Agent.ProtectedPaths) != 1 || cfg.Agent.ProtectedPaths[0] != ".git" {
		t.Errorf("protected_paths: %v", cfg.Agent.ProtectedPaths)
	}
	if cfg.Limits.MaxSteps != 40 {
		t.Errorf("max_steps = %d", cfg.Limits.MaxSteps)
	}
	// Untouched limits keep their defaults.
	if cfg.Limits.MaxRetries != 3 || cfg.Limits.RefusalCeiling != 3 {
		t.Errorf("defaults lost: %+v", cfg.Limits)
	}
	if got := cfg.Timeouts.ToolTimeout(); got != 90*time.Second {
		t.Errorf("tool timeout = %v", got)
	}
	if got := cfg.Timeouts.PerToolTimeouts()["fetch_url"]; got != 2*time.Minute {
		t.Errorf("fetch_url timeout = %v", got)
	}
	if got := cfg.Confirm.ApprovalTimeout(); got != 30*time.Second {
		t.Errorf("approval timeout = %v", got)
	}
	if cfg.Events.NATSURL != "nats://localhost:4222" || cfg.Events.Buffer != 64 {
		t.Errorf("events section: %+v", cfg.Events)
	}
}

func TestDurationAccessorsFallBack(t *testing.T) {
	cfg := New()
	if got := cfg.Timeouts.ToolTimeout(); got != 60*time.Second {
		t.Errorf("default tool timeout = %v", got)
	}
	if got := cfg.Timeouts.RetryBackoff(); got != 500*time.Millisecond {
		t.Errorf("default backoff = %v", got)
	}
	if got := cfg.Confirm.ApprovalTimeout(); got != 5*time.Minute {
		t.Errorf("default approval timeout = %v", got)
	}

	cfg.Timeouts.Tool = "not-a-duration"
	if got := cfg.Timeouts.ToolTimeout(); got != 60*time.Second {
		t.Errorf("bad value should fall back, got %v", got)
	}
}

func TestValidateCatchesBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad tool timeout", func(c *Config) { c.Timeouts.Tool = "ninety" }},
		{"negative confirm timeout", func(c *Config) { c.Confirm.Timeout = "-5m" }},
		{"bad per-tool", func(c *Config) { c.Timeouts.PerTool = map[string]string{"x": "later"} }},
		{"zero steps", func(c *Config) { c.Limits.MaxSteps = 0 }},
		{"zero retries", func(c *Config) { c.Limits.MaxRetries = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := New()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected a validation error")
			}
		})
	}

	if err := New().Validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestPolicyMergesExtensions(t *testing.T) {
	cfg := New()
	cfg.Sovereignty.ExtraElevationCommands = []string{"corp-sudo"}
	cfg.Sovereignty.PreapprovedPackages = []string{"jq"}

	p := cfg.Sovereignty.Policy()
	if !contains(p.ElevationCommands, "corp-sudo") || !contains(p.ElevationCommands, "sudo") {
		t.Errorf("elevation commands: %v", p.ElevationCommands)
	}
	if !contains(p.PreapprovedPackages, "jq") {
		t.Errorf("preapproved packages: %v", p.PreapprovedPackages)
	}
}

func contains(items []string, want string) bool {
	for _, s := range items {
		if s == want {
			return true
		}
	}
	return false
}

func TestStorageRootExpandsHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir")
	}
	cfg := New()
	if got := cfg.Storage.Root(); got != filepath.Join(home, ".local", "steward") {
		t.Errorf("Root = %q", got)
	}
	if got := cfg.Storage.SessionsDir(); filepath.Base(got) != "sessions" {
		t.Errorf("SessionsDir = %q", got)
	}

	cfg.Storage.Path = "/var/lib/steward"
	if got := cfg.Storage.Root(); got != "/var/lib/steward" {
		t.Errorf("absolute path mangled: %q", got)
	}
}

func TestGetAPIKeyPrefersConfiguredEnv(t *testing.T) {
	cfg := New()
	cfg.LLM.Provider = "anthropic"
	t.Setenv("ANTHROPIC_API_KEY", "stock-key")
	if got := cfg.GetAPIKey(); got != "stock-key" {
		t.Errorf("GetAPIKey = %q", got)
	}

	cfg.LLM.APIKeyEnv = "STEWARD_KEY"
	t.Setenv("STEWARD_KEY", "override-key")
	if got := cfg.GetAPIKey(); got != "override-key" {
		t.Errorf("GetAPIKey = %q", got)
	}
}

func TestAnswersDirOverride(t *testing.T) {
	cfg := New()
	if got := cfg.AnswersDir(); filepath.Base(got) != "answers" {
		t.Errorf("AnswersDir = %q", got)
	}
	cfg.Confirm.AnswerDir = "/run/steward/answers"
	if got := cfg.AnswersDir(); got != "/run/steward/answers" {
		t.Errorf("AnswersDir override = %q", got)
	}
}

func TestLoadFileOnGarbageErrs(t *testing.T) {
	path := writeConfig(t, "[agent\nname=")
	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected a parse error")
	}
}
