// Package task holds the data model shared across the orchestration
// loop: tasks, steps, actions, tool results, verdicts, confirmations,
// and conclusions. Behavior lives in the packages that operate on these
// types; this package stays free of IO.
package task

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Task status values.
const (
	StatusRunning              = "running"
	StatusSucceeded            = "succeeded"
	StatusFailed               = "failed"
	StatusAwaitingConfirmation = "awaiting_confirmation"
)

// Task is one end-to-end user goal. It is owned exclusively by the
// planner driving it and archived once the status turns terminal.
type Task struct {
	ID        string    `json:"id"`
	Goal      string    `json:"goal"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`

	Steps []Step `json:"steps,omitempty"`
}

// New creates a running task for a goal.
func New(goal string) *Task {
	return &Task{
		ID:        uuid.NewString(),
		Goal:      goal,
		Status:    StatusRunning,
		CreatedAt: time.Now(),
	}
}

// Terminal reports whether the task has finished.
func (t *Task) Terminal() bool {
	return t.Status == StatusSucceeded || t.Status == StatusFailed
}

// AppendStep adds a step under the next monotonic index and returns a
// pointer into the task's step slice. Steps are append-only.
func (t *Task) AppendStep(s Step) *Step {
	s.Index = len(t.Steps)
	t.Steps = append(t.Steps, s)
	return &t.Steps[len(t.Steps)-1]
}

// Step is one full propose, gate, execute, reflect cycle for one
// action. Index increases monotonically from 0.
type Step struct {
	Index        int           `json:"index"`
	Action       Action        `json:"action"`
	Verdict      Verdict       `json:"verdict"`
	Confirmation *Confirmation `json:"confirmation,omitempty"`
	Result       *Result       `json:"result,omitempty"`
	Conclusion   *Conclusion   `json:"conclusion,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
	FinishedAt   time.Time     `json:"finished_at,omitempty"`
}

// Failed reports whether the step ended without a successful result.
func (s *Step) Failed() bool {
	return s.Result == nil || !s.Result.Success
}

// Action is a single proposed tool invocation. Immutable once issued by
// the oracle; the executor clones it before patching parameters for
// alternative attempts.
type Action struct {
	Tool       string         `json:"tool"`
	Parameters map[string]any `json:"parameters,omitempty"`
	RiskHint   string         `json:"risk_hint,omitempty"`
}

// Clone returns a copy of the action with its own parameter map.
func (a Action) Clone() Action {
	params := make(map[string]any, len(a.Parameters))
	for k, v := range a.Parameters {
		params[k] = v
	}
	return Action{Tool: a.Tool, Parameters: params, RiskHint: a.RiskHint}
}

// StringParam returns the named parameter when present as a string.
func (a Action) StringParam(key string) (string, bool) {
	v, ok := a.Parameters[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Fingerprint renders the action canonically, stable across map
// iteration order. Fingerprints match prior human approvals.
func (a Action) Fingerprint() string {
	keys := make([]string, 0, len(a.Parameters))
	for k := range a.Parameters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(a.Tool)
	b.WriteByte('(')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%s=%v", k, a.Parameters[k])
	}
	b.WriteByte(')')
	return b.String()
}

// Output status flags derived from the marker heuristic. Informational
// only: Result.Success comes from the tool adapter, never from output
// text.
const (
	FlagSuccess = "success"
	FlagFailed  = "failed"
	FlagUnknown = "unknown"
)

// Meta is the structured metadata mined from tool output. Populated on
// every attempt, including failed ones.
type Meta struct {
	Paths       []string `json:"extracted_paths,omitempty"`
	URLs        []string `json:"extracted_urls,omitempty"`
	Status      string   `json:"status_flag"`
	ExitCode    *int     `json:"exit_code,omitempty"`
	Attempts    int      `json:"attempts"`
	FailureKind string   `json:"failure_kind,omitempty"`
}

// Result is the outcome of executing one action through the resilient
// executor. Success=false always carries a non-empty Error.
type Result struct {
	Success bool   `json:"success"`
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
	Meta    Meta   `json:"metadata"`
}

// Gate decisions.
const (
	DecisionApprove  = "approve"
	DecisionRefuse   = "refuse"
	DecisionEscalate = "escalate"
)

// Risk categories attached to verdicts.
const (
	RiskWorkspaceBoundary = "workspace_boundary"
	RiskElevatedExecution = "elevated_execution"
	RiskCapabilityChange  = "capability_change"
	RiskRoutine           = "routine"
)

// Verdict is the sovereignty gate's ruling on one action. A refusal is
// terminal for that action: the planner must propose something else.
type Verdict struct {
	Decision string `json:"decision"`
	Reason   string `json:"reason,omitempty"`
	Risk     string `json:"risk_category"`
}

// Approved reports an approve decision.
func (v Verdict) Approved() bool { return v.Decision == DecisionApprove }

// Refused reports a refuse decision.
func (v Verdict) Refused() bool { return v.Decision == DecisionRefuse }

// Escalated reports an escalate decision.
func (v Verdict) Escalated() bool { return v.Decision == DecisionEscalate }

// Confirmation states. A record is created pending and transitions
// exactly once.
const (
	ConfirmPending  = "pending"
	ConfirmApproved = "approved"
	ConfirmDenied   = "denied"
	ConfirmTimedOut = "timed_out"
)

// Confirmation tracks one escalated action through the human-approval
// protocol. Immutable after resolution; Note distinguishes operator
// denial, wall-clock timeout, and cancellation for the audit trail.
type Confirmation struct {
	ID          string     `json:"id"`
	TaskID      string     `json:"task_id"`
	State       string     `json:"state"`
	Prompt      string     `json:"prompt"`
	Note        string     `json:"note,omitempty"`
	RequestedAt time.Time  `json:"requested_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
}

// Resolved reports whether the record has left the pending state.
func (c *Confirmation) Resolved() bool { return c.State != ConfirmPending }

// Issue natures for terminal failures.
const (
	IssueDefect        = "defect"
	IssueDesignFlaw    = "design_flaw"
	IssueArchitecture  = "architecture_issue"
	IssueEnvironment   = "environment_issue"
	IssueResourceLimit = "resource_limit"
)

// Fix classes recommended per issue nature.
const (
	FixHotfix          = "hotfix"
	FixRefactor        = "refactor"
	FixRedesign        = "redesign"
	FixEscalateToHuman = "escalate_to_human"
)

var fixFor = map[string]string{
	IssueDefect:        FixHotfix,
	IssueDesignFlaw:    FixRefactor,
	IssueArchitecture:  FixRedesign,
	IssueEnvironment:   FixEscalateToHuman,
	IssueResourceLimit: FixEscalateToHuman,
}

// FixFor maps an issue nature to its remediation class. Unknown issues
// escalate to a human.
func FixFor(issue string) string {
	if fix, ok := fixFor[issue]; ok {
		return fix
	}
	return FixEscalateToHuman
}

// Conclusion classifies a terminal step failure and the recommended
// remediation.
type Conclusion struct {
	Issue   string `json:"issue_nature"`
	Fix     string `json:"fix_class"`
	Summary string `json:"summary,omitempty"`
}

// Conclude builds a conclusion for an issue using the fixed fix table.
func Conclude(issue, summary string) *Conclusion {
	return &Conclusion{Issue: issue, Fix: FixFor(issue), Summary: summary}
}

// Recoverable reports whether the fix class permits one more re-plan
// instead of terminating the task.
func (c *Conclusion) Recoverable() bool {
	return c.Fix == FixHotfix || c.Fix == FixRefactor
}
