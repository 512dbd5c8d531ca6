// Package conclusion classifies terminal step failures into an issue
// nature and the remediation class the planner acts on.
package conclusion

import (
	"fmt"
	"strings"

	"github.com/stewardworks/steward/internal/task"
)

// Signature tables, matched as lowercase substrings of the final error.
var (
	resourceSignatures = []string{
		"no space left",
		"disk full",
		"disk quota",
		"quota exceeded",
		"out of memory",
		"cannot allocate memory",
		"too many open files",
	}

	// Wrong-premise signatures: the action assumed a capability that
	// does not exist.
	capabilitySignatures = []string{
		"command not found",
		"executable file not found",
		"unknown tool",
		"not installed",
		"no such command",
	}
)

// Classifier maps a step-history tail onto a conclusion. It is invoked
// only after the executor exhausts its retries or a final refusal ends
// the plan; operator denials bypass it entirely.
type Classifier struct{}

// New creates a classifier.
func New() *Classifier { return &Classifier{} }

// Classify inspects the trailing steps, newest last. Rules run in a
// fixed order and the first match wins: resource exhaustion, refusal,
// wrong premise, failures spread across tools, then repeated identical
// failure, which is also the shape retry exhaustion leaves behind.
func (c *Classifier) Classify(tail []task.Step) task.Conclusion {
	last := lastFailed(tail)
	if last == nil {
		return *task.Conclude(task.IssueDefect, "no failing step in history")
	}

	errText := stepError(last)
	low := strings.ToLower(errText)

	switch {
	case matchesAny(low, resourceSignatures):
		return *task.Conclude(task.IssueResourceLimit,
			fmt.Sprintf("%s hit a resource limit: %s", last.Action.Tool, errText))

	case last.Verdict.Refused():
		return *task.Conclude(task.IssueEnvironment,
			fmt.Sprintf("plan blocked by sovereignty refusal: %s", last.Verdict.Reason))

	case matchesAny(low, capabilitySignatures):
		return *task.Conclude(task.IssueDesignFlaw,
			fmt.Sprintf("%s assumed a capability that is missing: %s", last.Action.Tool, errText))

	case failingTools(tail) >= 2:
		return *task.Conclude(task.IssueArchitecture,
			fmt.Sprintf("failures span multiple tools, last: %s (%s)", last.Action.Tool, errText))

	default:
		return *task.Conclude(task.IssueDefect,
			fmt.Sprintf("%s failed repeatedly: %s", last.Action.Tool, errText))
	}
}

func lastFailed(tail []task.Step) *task.Step {
	for i := len(tail) - 1; i >= 0; i-- {
		if tail[i].Failed() {
			return &tail[i]
		}
	}
	return nil
}

func stepError(s *task.Step) string {
	if s.Verdict.Refused() {
		return s.Verdict.Reason
	}
	if s.Result != nil {
		return s.Result.Error
	}
	return ""
}

func matchesAny(text string, signatures []string) bool {
	for _, sig := range signatures {
		if strings.Contains(text, sig) {
			return true
		}
	}
	return false
}

// failingTools counts the distinct tools with failed steps in the tail.
func failingTools(tail []task.Step) int {
	tools := make(map[string]bool)
	for i := range tail {
		if tail[i].Failed() {
			tools[tail[i].Action.Tool] = true
		}
	}
	return len(tools)
}
