package tools

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/stewardworks/steward/internal/workspace"
)

// readTool reads a file.
type readTool struct{}

func (t *readTool) Name() string { return "read_file" }

func (t *readTool) Description() string {
	return "Read the contents of a file at the given path."
}

func (t *readTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path to the file to read",
			},
		},
		"required": []string{"path"},
	}
}

func (t *readTool) Meta() Meta {
	return Meta{Usage: "read_file(path)", Risk: RiskLow}
}

func (t *readTool) Execute(ctx context.Context, args map[string]interface{}) (*Raw, error) {
	path, err := stringArg(args, "path")
	if err != nil {
		return &Raw{ExitCode: 1}, err
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return &Raw{ExitCode: 1}, fmt.Errorf("failed to read file: %w", err)
	}
	return &Raw{Output: string(content)}, nil
}

// writeTool writes a file inside the workspace boundary, creating
// parent directories as needed.
type writeTool struct {
	guard *workspace.Guard
}

func (t *writeTool) Name() string { return "write_file" }

func (t *writeTool) Description() string {
	return "Write content to a file at the given path. Creates parent directories if needed."
}

func (t *writeTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path to the file to write",
			},
			"content": map[string]interface{}{
				"type":        "string",
				"description": "Content to write to the file",
			},
		},
		"required": []string{"path", "content"},
	}
}

func (t *writeTool) Meta() Meta {
	return Meta{Usage: "write_file(path, content)", Risk: RiskModerate}
}

func (t *writeTool) Execute(ctx context.Context, args map[string]interface{}) (*Raw, error) {
	path, err := stringArg(args, "path")
	if err != nil {
		return &Raw{ExitCode: 1}, err
	}
	content, err := stringArg(args, "content")
	if err != nil {
		return &Raw{ExitCode: 1}, err
	}

	// The gate already vetted this path; the guard check here keeps the
	// tool safe when driven outside the loop.
	if t.guard != nil && !t.guard.IsWritable(path) {
		return &Raw{ExitCode: 1}, fmt.Errorf("permission denied: %s is outside the writable workspace", path)
	}

	if err := os.MkdirAll(filepath.Dir(absolute(t.guard, path)), 0755); err != nil {
		return &Raw{ExitCode: 1}, fmt.Errorf("failed to create directories: %w", err)
	}
	full := absolute(t.guard, path)
	if err := os.WriteFile(full, []byte(content), 0644); err != nil {
		return &Raw{ExitCode: 1}, fmt.Errorf("failed to write file: %w", err)
	}
	return &Raw{Output: fmt.Sprintf("wrote %d bytes to %s", len(content), full)}, nil
}

// listTool lists a directory, one absolute entry per line so later
// steps can pick paths out of the output.
type listTool struct{}

func (t *listTool) Name() string { return "list_dir" }

func (t *listTool) Description() string {
	return "List directory contents, one entry per line."
}

func (t *listTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Directory path to list",
			},
		},
		"required": []string{"path"},
	}
}

func (t *listTool) Meta() Meta {
	return Meta{Usage: "list_dir(path)", Risk: RiskLow}
}

func (t *listTool) Execute(ctx context.Context, args map[string]interface{}) (*Raw, error) {
	path, err := stringArg(args, "path")
	if err != nil {
		return &Raw{ExitCode: 1}, err
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return &Raw{ExitCode: 1}, fmt.Errorf("failed to read directory: %w", err)
	}

	var b strings.Builder
	for _, e := range entries {
		full := filepath.Join(path, e.Name())
		if e.IsDir() {
			full += "/"
		}
		b.WriteString(full)
		b.WriteByte('\n')
	}
	return &Raw{Output: b.String()}, nil
}

// findTool walks a directory tree matching file names against a glob.
type findTool struct {
	guard *workspace.Guard
}

func (t *findTool) Name() string { return "find_files" }

func (t *findTool) Description() string {
	return "Find files whose name matches a glob pattern under a directory."
}

func (t *findTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"name": map[string]interface{}{
				"type":        "string",
				"description": "File name glob, e.g. *.csv",
			},
			"dir": map[string]interface{}{
				"type":        "string",
				"description": "Directory to search; defaults to the workspace",
			},
		},
		"required": []string{"name"},
	}
}

func (t *findTool) Meta() Meta {
	return Meta{Usage: "find_files(name, dir)", Risk: RiskLow}
}

func (t *findTool) Execute(ctx context.Context, args map[string]interface{}) (*Raw, error) {
	name, err := stringArg(args, "name")
	if err != nil {
		return &Raw{ExitCode: 1}, err
	}
	dir := ""
	if d, ok := args["dir"].(string); ok {
		dir = d
	}
	if dir == "" && t.guard != nil {
		dir = t.guard.Root()
	}
	if dir == "" {
		return &Raw{ExitCode: 1}, fmt.Errorf("dir is required")
	}

	var b strings.Builder
	walkErr := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}
		if ok, _ := filepath.Match(name, d.Name()); ok {
			b.WriteString(p)
			b.WriteByte('\n')
		}
		return nil
	})
	if walkErr != nil {
		return &Raw{Output: b.String(), ExitCode: 1}, fmt.Errorf("search interrupted: %w", walkErr)
	}
	if b.Len() == 0 {
		return &Raw{ExitCode: 1}, fmt.Errorf("no files matching %q under %s", name, dir)
	}
	return &Raw{Output: b.String()}, nil
}

// absolute resolves a path against the guard's workspace root.
func absolute(g *workspace.Guard, path string) string {
	if filepath.IsAbs(path) || g == nil {
		return path
	}
	return filepath.Join(g.Root(), path)
}
