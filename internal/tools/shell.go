package tools

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/stewardworks/steward/internal/workspace"
)

// shellTool executes a shell command in the workspace. The real exit
// code is always reported; success is decided by the adapter from the
// exit status, never from output text.
type shellTool struct {
	guard *workspace.Guard
}

func (t *shellTool) Name() string { return "run_shell" }

func (t *shellTool) Description() string {
	return "Execute a shell command in the workspace and return its output."
}

func (t *shellTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{
				"type":        "string",
				"description": "Shell command to execute",
			},
		},
		"required": []string{"command"},
	}
}

func (t *shellTool) Meta() Meta {
	return Meta{Usage: "run_shell(command)", Risk: RiskHigh}
}

func (t *shellTool) Execute(ctx context.Context, args map[string]interface{}) (*Raw, error) {
	command, err := stringArg(args, "command")
	if err != nil {
		return &Raw{ExitCode: 1}, err
	}

	cmd := exec.CommandContext(ctx, "bash", "-c", command)
	if t.guard != nil {
		cmd.Dir = t.guard.Root()
	}

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	output := stdout.String()
	if stderr.Len() > 0 {
		if output != "" {
			output += "\n"
		}
		output += stderr.String()
	}

	if runErr == nil {
		return &Raw{Output: output}, nil
	}

	if ctx.Err() != nil {
		return &Raw{Output: output, ExitCode: -1}, ctx.Err()
	}
	if exitErr, ok := runErr.(*exec.ExitError); ok {
		code := exitErr.ExitCode()
		return &Raw{Output: output, ExitCode: code},
			fmt.Errorf("exit status %d: %s", code, firstLine(stderr.String()))
	}
	return &Raw{Output: output, ExitCode: -1},
		fmt.Errorf("failed to execute command: %w", runErr)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
