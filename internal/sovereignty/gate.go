package sovereignty

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/stewardworks/steward/internal/task"
)

// WorkspaceGuard answers the writable-boundary question for rule one.
type WorkspaceGuard interface {
	IsWritable(path string) bool
}

// Environment is the snapshot a verdict is computed against: the
// workspace boundary and the fingerprints of actions a human has
// already approved in this task. Verdicts are a pure function of
// (action, environment); no IO, no clock.
type Environment struct {
	Guard    WorkspaceGuard
	Approved map[string]bool
}

// RecordApproval marks an action as human-approved so a later
// evaluation of the identical action does not re-escalate.
func (e *Environment) RecordApproval(a task.Action) {
	if e.Approved == nil {
		e.Approved = make(map[string]bool)
	}
	e.Approved[a.Fingerprint()] = true
}

func (e *Environment) approved(a task.Action) bool {
	return e.Approved[a.Fingerprint()]
}

// Parameters treated as filesystem targets.
var pathParams = []string{
	"path", "file", "dir", "directory", "dest", "destination",
	"target", "source", "output",
}

// Device sinks that never count as boundary violations.
var ignoredPaths = map[string]bool{
	"/dev/null":   true,
	"/dev/stdin":  true,
	"/dev/stdout": true,
	"/dev/stderr": true,
	"/dev/tty":    true,
}

var absPathPattern = regexp.MustCompile(`/[A-Za-z0-9_./-]+`)

// Gate evaluates actions against the risk policy.
type Gate struct {
	policy Policy
}

// New creates a gate with the given policy.
func New(policy Policy) *Gate {
	return &Gate{policy: policy}
}

// Evaluate runs the rules in fixed order: workspace boundary, elevated
// execution, capability change, approve. Boundary violations are hard
// refusals and never offered for human override; the other two rules
// escalate, which a recorded approval silences.
func (g *Gate) Evaluate(a task.Action, env Environment) task.Verdict {
	if path, violated := g.boundaryViolation(a, env); violated {
		return task.Verdict{
			Decision: task.DecisionRefuse,
			Risk:     task.RiskWorkspaceBoundary,
			Reason:   fmt.Sprintf("%s targets %s outside the writable workspace", a.Tool, path),
		}
	}

	if cmd, requests := g.requestsElevation(a); requests && !env.approved(a) {
		return task.Verdict{
			Decision: task.DecisionEscalate,
			Risk:     task.RiskElevatedExecution,
			Reason:   fmt.Sprintf("%s requests elevated execution", cmd),
		}
	}

	if what, changes := g.changesCapability(a); changes && !env.approved(a) {
		return task.Verdict{
			Decision: task.DecisionEscalate,
			Risk:     task.RiskCapabilityChange,
			Reason:   fmt.Sprintf("%s would change the installed capability set", what),
		}
	}

	return task.Verdict{
		Decision: task.DecisionApprove,
		Risk:     task.RiskRoutine,
		Reason:   "within policy",
	}
}

// boundaryViolation collects the filesystem targets of an action and
// reports the first one outside the writable boundary.
func (g *Gate) boundaryViolation(a task.Action, env Environment) (string, bool) {
	if env.Guard == nil {
		return "", false
	}
	for _, p := range targetPaths(a) {
		if ignoredPaths[p] {
			continue
		}
		if !env.Guard.IsWritable(p) {
			return p, true
		}
	}
	return "", false
}

// targetPaths returns explicit path parameters plus absolute paths
// mined from shell command text. The command's program token is skipped
// so invoking /usr/bin/grep is not itself a violation, and only
// absolute arguments are mined so relative tokens like notes/todo.md
// never trip the boundary.
func targetPaths(a task.Action) []string {
	var paths []string
	for _, key := range pathParams {
		if v, ok := a.StringParam(key); ok && v != "" {
			paths = append(paths, v)
		}
	}
	cmd, ok := a.StringParam("command")
	if !ok {
		return paths
	}
	fields := strings.Fields(cmd)
	for i, f := range fields {
		if i == 0 {
			continue
		}
		f = strings.Trim(f, `"'`)
		f = strings.TrimLeft(f, "><")
		if idx := strings.Index(f, "=/"); idx >= 0 {
			f = f[idx+1:]
		}
		switch {
		case f == "/":
			paths = append(paths, f)
		case strings.HasPrefix(f, "/"):
			if m := absPathPattern.FindString(f); m != "" {
				paths = append(paths, strings.TrimRight(m, "."))
			}
		}
	}
	return paths
}

// requestsElevation reports whether the action asks for elevated
// execution, either through its command or through the oracle's own
// risk hint. The hint can only make the gate stricter, never looser.
func (g *Gate) requestsElevation(a task.Action) (string, bool) {
	if a.RiskHint == task.RiskElevatedExecution {
		return a.Tool, true
	}
	cmd, ok := a.StringParam("command")
	if !ok {
		return "", false
	}
	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return "", false
	}
	if contains(g.policy.ElevationCommands, fields[0]) {
		return fields[0], true
	}
	return "", false
}

// changesCapability reports whether the action would install or remove
// a capability that is not pre-approved by policy.
func (g *Gate) changesCapability(a task.Action) (string, bool) {
	if a.RiskHint == task.RiskCapabilityChange {
		return a.Tool, true
	}
	if contains(g.policy.CapabilityTools, a.Tool) {
		return a.Tool, true
	}

	cmd, ok := a.StringParam("command")
	if !ok {
		return "", false
	}
	fields := strings.Fields(cmd)
	if len(fields) < 2 {
		return "", false
	}

	manager := fields[0]
	// Elevated package commands show up as "sudo apt install ...".
	if contains(g.policy.ElevationCommands, manager) && len(fields) > 2 {
		fields = fields[1:]
		manager = fields[0]
	}
	if !contains(g.policy.PackageManagers, manager) {
		return "", false
	}

	verbAt := -1
	for i, f := range fields[1:] {
		if contains(g.policy.InstallVerbs, f) || contains(g.policy.RemoveVerbs, f) {
			verbAt = i + 1
			break
		}
	}
	if verbAt < 0 {
		return "", false
	}

	var packages []string
	for _, f := range fields[verbAt+1:] {
		if strings.HasPrefix(f, "-") {
			continue
		}
		packages = append(packages, f)
	}
	if len(packages) > 0 && allPreapproved(packages, g.policy.PreapprovedPackages) {
		return "", false
	}
	return fmt.Sprintf("%s %s", manager, fields[verbAt]), true
}

func allPreapproved(packages, preapproved []string) bool {
	for _, p := range packages {
		if !contains(preapproved, p) {
			return false
		}
	}
	return true
}
