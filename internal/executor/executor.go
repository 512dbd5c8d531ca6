// Package executor invokes tools with bounded timeouts, mines their
// output into the execution context, and retries failures with
// kind-specific recovery. Tool failure is a first-class result, never
// a Go error: the planner inspects what came back and decides.
package executor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/vinayprograms/agentkit/logging"

	"github.com/stewardworks/steward/internal/task"
	"github.com/stewardworks/steward/internal/tools"
)

// Options carry the retry and timeout budget. Zero values select the
// defaults; config supplies overrides.
type Options struct {
	MaxRetries     int
	Backoff        time.Duration
	BackoffCap     time.Duration
	DefaultTimeout time.Duration
	Timeouts       map[string]time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.Backoff <= 0 {
		o.Backoff = 500 * time.Millisecond
	}
	if o.BackoffCap <= 0 {
		o.BackoffCap = 5 * time.Second
	}
	if o.DefaultTimeout <= 0 {
		o.DefaultTimeout = 60 * time.Second
	}
	return o
}

// Executor runs one action at a time against the closed registry.
type Executor struct {
	registry *tools.Registry
	opts     Options
	logger   *logging.Logger
}

// New creates an executor over a registry.
func New(registry *tools.Registry, opts Options) *Executor {
	return &Executor{
		registry: registry,
		opts:     opts.withDefaults(),
		logger:   logging.New().WithComponent("executor"),
	}
}

// Parameter names that carry a filesystem path, in preference order
// for alternative-path substitution.
var pathParamKeys = []string{
	"path", "file", "dir", "directory", "source", "target", "dest", "destination",
}

// Execute runs the action with the retry budget. Every attempt's
// output is mined into memory, failed ones included, so partial
// progress is never lost. The returned result is never nil.
func (e *Executor) Execute(ctx context.Context, a task.Action, mem *task.Memory) *task.Result {
	tool, err := e.registry.Lookup(a.Tool)
	if err != nil {
		return &task.Result{
			Success: false,
			Error:   err.Error(),
			Meta: task.Meta{
				Status:      task.FlagFailed,
				FailureKind: classifyFailure(err.Error()),
			},
		}
	}

	attempt := a.Clone()
	backoff := e.opts.Backoff
	var res *task.Result

	for n := 1; n <= e.opts.MaxRetries; n++ {
		res = e.invoke(ctx, tool, attempt, mem)
		res.Meta.Attempts = n
		if res.Success {
			return res
		}

		switch res.Meta.FailureKind {
		case task.FailPermissionDenied:
			// Never silently elevate. Surface it; the planner decides.
			return res

		case task.FailMissingResource:
			if n == e.opts.MaxRetries {
				return res
			}
			if alt, patched := e.findAlternative(ctx, attempt, res.Error, mem); patched {
				e.logger.Info("retrying with alternative path", map[string]interface{}{
					"tool":    attempt.Tool,
					"attempt": n,
				})
				attempt = alt
			}
			// Retry immediately: the strategy changed, the clock did not.

		default:
			if n == e.opts.MaxRetries {
				return res
			}
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return res
			}
			backoff *= 2
			if backoff > e.opts.BackoffCap {
				backoff = e.opts.BackoffCap
			}
		}
	}
	return res
}

// invoke performs a single attempt: timeout, execute, parse, observe.
func (e *Executor) invoke(ctx context.Context, tool tools.Tool, a task.Action, mem *task.Memory) *task.Result {
	timeout := e.timeoutFor(a.Tool)
	tctx := ctx
	var cancel context.CancelFunc
	// Keep an existing shorter deadline rather than extending it.
	if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > timeout {
		tctx, cancel = context.WithTimeout(ctx, timeout)
	}
	if cancel != nil {
		defer cancel()
	}

	start := time.Now()
	raw, err := tool.Execute(tctx, a.Parameters)
	duration := time.Since(start)

	res := &task.Result{}
	var exit *int
	if raw != nil {
		res.Output = raw.Output
		code := raw.ExitCode
		exit = &code
	}
	res.Meta.Paths = extractPaths(res.Output)
	res.Meta.URLs = extractURLs(res.Output)
	res.Meta.ExitCode = exit
	res.Meta.Status = statusFlag(res.Output, exit)

	if err == nil {
		res.Success = true
	} else {
		if errors.Is(err, context.DeadlineExceeded) {
			res.Error = fmt.Sprintf("%v after %s", task.ErrToolTimeout, timeout)
		} else {
			res.Error = err.Error()
		}
		res.Meta.FailureKind = classifyFailure(res.Error)
	}

	mem.Observe(res.Output, res.Meta.Paths, res.Meta.URLs)
	for k, v := range extractKeyValues(res.Output) {
		mem.Put(k, v)
	}

	e.logger.Debug("tool attempt", map[string]interface{}{
		"tool":        a.Tool,
		"success":     res.Success,
		"duration_ms": duration.Milliseconds(),
	})
	return res
}

func (e *Executor) timeoutFor(tool string) time.Duration {
	if d, ok := e.opts.Timeouts[tool]; ok && d > 0 {
		return d
	}
	return e.opts.DefaultTimeout
}

// findAlternative tries to repair a missing-resource failure. First
// the context's path history is searched for the missing basename;
// failing that, a probe mines the surrounding directory into the
// context and the search runs once more.
func (e *Executor) findAlternative(ctx context.Context, a task.Action, errText string, mem *task.Memory) (task.Action, bool) {
	missing := missingResource(a, errText)
	if missing == "" {
		return a, false
	}
	base := filepath.Base(missing)

	if alt := mem.FindPath(base); alt != "" && alt != missing {
		return patchPath(a, missing, alt)
	}

	e.probe(ctx, missing, mem)

	if alt := mem.FindPath(base); alt != "" && alt != missing {
		return patchPath(a, missing, alt)
	}
	return a, false
}

// missingResource names the path the failure is about: a path-like
// parameter first, then any absolute path in the error text.
func missingResource(a task.Action, errText string) string {
	for _, k := range pathParamKeys {
		if v, ok := a.StringParam(k); ok && v != "" {
			return v
		}
	}
	if paths := extractPaths(errText); len(paths) > 0 {
		return paths[0]
	}
	return ""
}

// patchPath clones the action with the missing path swapped for the
// alternative, in path parameters or inside shell command text.
func patchPath(a task.Action, missing, alt string) (task.Action, bool) {
	patched := a.Clone()
	swapped := false
	for _, k := range pathParamKeys {
		if v, ok := patched.StringParam(k); ok && v == missing {
			patched.Parameters[k] = alt
			swapped = true
		}
	}
	if !swapped {
		if cmd, ok := patched.StringParam("command"); ok && strings.Contains(cmd, missing) {
			patched.Parameters["command"] = strings.ReplaceAll(cmd, missing, alt)
			swapped = true
		}
	}
	return patched, swapped
}

// probe runs an auxiliary discovery action for a missing path: a
// recursive name search under its directory, then a plain listing as
// fallback. Probe output is mined into memory; probes do not count
// against the retry budget.
func (e *Executor) probe(ctx context.Context, missing string, mem *task.Memory) {
	base := filepath.Base(missing)
	dir := filepath.Dir(missing)
	if base == "" || base == "/" || base == "." || dir == "" {
		return
	}

	if finder, err := e.registry.Lookup("find_files"); err == nil {
		if out := e.runProbe(ctx, finder, map[string]interface{}{"name": base, "dir": dir}); out != "" {
			mem.Observe(out, extractPaths(out), extractURLs(out))
			return
		}
	}
	if lister, err := e.registry.Lookup("list_dir"); err == nil {
		if out := e.runProbe(ctx, lister, map[string]interface{}{"path": dir}); out != "" {
			mem.Observe(out, extractPaths(out), extractURLs(out))
		}
	}
}

func (e *Executor) runProbe(ctx context.Context, tool tools.Tool, args map[string]interface{}) string {
	pctx, cancel := context.WithTimeout(ctx, e.timeoutFor(tool.Name()))
	defer cancel()

	raw, err := tool.Execute(pctx, args)
	if raw == nil {
		return ""
	}
	if err != nil {
		e.logger.Debug("probe failed", map[string]interface{}{
			"tool":  tool.Name(),
			"error": err.Error(),
		})
	}
	return raw.Output
}
