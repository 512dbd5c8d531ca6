// Package oracle is the narrow interface to whatever proposes the next
// action. The loop assumes nothing about how proposals are made; it
// only consumes them.
package oracle

import (
	"context"

	"github.com/stewardworks/steward/internal/task"
)

// Completion signals the goal is done, with a closing summary.
type Completion struct {
	Summary string
}

// Proposal is exactly one of: the next Action, or a Completion.
type Proposal struct {
	Action     *task.Action
	Completion *Completion
}

// Oracle proposes the next move for a goal given the accumulated
// context and recent step history.
type Oracle interface {
	Propose(ctx context.Context, goal string, mem *task.Memory, history []task.Step) (*Proposal, error)
}

// ProposeAction builds an action proposal, for scripts and tests.
func ProposeAction(tool string, params map[string]interface{}, riskHint string) *Proposal {
	return &Proposal{Action: &task.Action{Tool: tool, Parameters: params, RiskHint: riskHint}}
}

// ProposeCompletion builds a completion proposal.
func ProposeCompletion(summary string) *Proposal {
	return &Proposal{Completion: &Completion{Summary: summary}}
}
