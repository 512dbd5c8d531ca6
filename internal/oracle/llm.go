package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vinayprograms/agentkit/llm"
	"github.com/vinayprograms/agentkit/logging"

	"github.com/stewardworks/steward/internal/task"
	"github.com/stewardworks/steward/internal/tools"
)

// riskHintParam is a reserved argument offered on every tool. The model
// uses it to flag actions it judges beyond routine execution; the value
// is lifted into Action.RiskHint and never reaches the tool itself.
const riskHintParam = "risk_hint"

const defaultHistoryWindow = 8

const systemPrompt = `You are the planning engine of an autonomous operations agent.

On every turn, do exactly one of:
  - call one tool to make progress toward the goal, or
  - reply in plain text with a short summary once the goal is met.

Rules:
  - One tool call per turn. The runtime executes it and reports the outcome on the next turn.
  - Set risk_hint on calls you judge beyond routine execution: "elevated_execution" for privileged or destructive commands, "capability_change" for anything that installs software or grants new access.
  - Work inside the workspace. Never invent file contents you have not read.
  - If the goal cannot be achieved, say why in plain text.`

// Config assembles a provider-backed oracle.
type Config struct {
	Provider llm.Provider
	Tools    []tools.Definition

	// Guidance holds rendered playbook texts appended to the system
	// prompt. Optional.
	Guidance []string

	// HistoryWindow caps how many recent steps the prompt shows.
	// Zero means defaultHistoryWindow.
	HistoryWindow int
}

// LLM proposes actions by asking a chat provider, with the tool
// registry's definitions attached to every request.
type LLM struct {
	provider llm.Provider
	defs     []llm.ToolDef
	system   string
	window   int
	logger   *logging.Logger
}

// NewLLM builds the production oracle.
func NewLLM(cfg Config) *LLM {
	window := cfg.HistoryWindow
	if window <= 0 {
		window = defaultHistoryWindow
	}
	system := systemPrompt
	if len(cfg.Guidance) > 0 {
		system += "\n\nOperating guidance:\n" + strings.Join(cfg.Guidance, "\n---\n")
	}
	return &LLM{
		provider: cfg.Provider,
		defs:     buildToolDefs(cfg.Tools),
		system:   system,
		window:   window,
		logger:   logging.New().WithComponent("oracle"),
	}
}

// Propose asks the provider for the next move. A tool call becomes an
// Action with risk_hint lifted out of the arguments; plain content
// becomes a Completion.
func (o *LLM) Propose(ctx context.Context, goal string, mem *task.Memory, history []task.Step) (*Proposal, error) {
	messages := []llm.Message{
		{Role: "system", Content: o.system},
		{Role: "user", Content: o.userPrompt(goal, mem, history)},
	}

	resp, err := o.provider.Chat(ctx, llm.ChatRequest{
		Messages: messages,
		Tools:    o.defs,
	})
	if err != nil {
		return nil, fmt.Errorf("oracle chat: %w", err)
	}

	if len(resp.ToolCalls) > 0 {
		if len(resp.ToolCalls) > 1 {
			o.logger.Warn("provider returned multiple tool calls, using the first", map[string]interface{}{
				"count": len(resp.ToolCalls),
			})
		}
		tc := resp.ToolCalls[0]
		action := &task.Action{
			Tool:       tc.Name,
			Parameters: make(map[string]interface{}, len(tc.Args)),
		}
		for k, v := range tc.Args {
			if k == riskHintParam {
				if hint, ok := v.(string); ok {
					action.RiskHint = hint
				}
				continue
			}
			action.Parameters[k] = v
		}
		o.logger.Debug("proposed action", map[string]interface{}{"tool": action.Tool})
		return &Proposal{Action: action}, nil
	}

	summary := strings.TrimSpace(resp.Content)
	if summary == "" {
		return nil, errors.New("provider returned neither a tool call nor a summary")
	}
	o.logger.Debug("proposed completion", map[string]interface{}{"summary_len": len(summary)})
	return &Proposal{Completion: &Completion{Summary: summary}}, nil
}

func (o *LLM) userPrompt(goal string, mem *task.Memory, history []task.Step) string {
	var b strings.Builder
	b.WriteString("Goal: ")
	b.WriteString(goal)
	b.WriteString("\n")

	if mem != nil {
		if summary := mem.Summary(); summary != "" {
			b.WriteString("\nContext so far:\n")
			b.WriteString(summary)
			b.WriteString("\n")
		}
	}

	recent := history
	if len(recent) > o.window {
		recent = recent[len(recent)-o.window:]
	}
	if len(recent) == 0 {
		b.WriteString("\nNo steps executed yet.\n")
		return b.String()
	}

	b.WriteString("\nRecent steps:\n")
	for _, step := range recent {
		b.WriteString("  ")
		b.WriteString(renderStep(step))
		b.WriteString("\n")
	}
	return b.String()
}

// renderStep compresses one step into a single prompt line.
func renderStep(step task.Step) string {
	head := fmt.Sprintf("%d. %s", step.Index, step.Action.Fingerprint())

	if step.Confirmation != nil {
		switch step.Confirmation.State {
		case task.ConfirmDenied:
			return head + " -> denied by operator: " + step.Confirmation.Note
		case task.ConfirmTimedOut:
			return head + " -> approval " + step.Confirmation.Note
		}
	}
	if step.Result == nil {
		if step.Verdict.Decision == task.DecisionRefuse {
			return head + " -> blocked: " + step.Verdict.Reason
		}
		return head + " -> no result"
	}
	if step.Result.Success {
		if line := promptLine(step.Result.Output); line != "" {
			return head + " -> ok: " + line
		}
		return head + " -> ok"
	}
	return head + " -> failed: " + promptLine(step.Result.Error)
}

// promptLine takes the first line, capped so one verbose tool cannot
// crowd the window.
func promptLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	const maxLine = 160
	if len(s) > maxLine {
		s = s[:maxLine] + "..."
	}
	return s
}

// buildToolDefs converts registry definitions for the provider and
// injects the reserved risk_hint parameter into each schema. Schemas
// are copied shallowly so the registry's own maps stay untouched.
func buildToolDefs(defs []tools.Definition) []llm.ToolDef {
	out := make([]llm.ToolDef, 0, len(defs))
	for _, def := range defs {
		params := make(map[string]interface{}, len(def.Parameters)+1)
		for k, v := range def.Parameters {
			params[k] = v
		}
		if params["type"] == nil {
			params["type"] = "object"
		}
		props := make(map[string]interface{})
		if existing, ok := params["properties"].(map[string]interface{}); ok {
			for k, v := range existing {
				props[k] = v
			}
		}
		props[riskHintParam] = map[string]interface{}{
			"type":        "string",
			"description": "Optional self-assessed risk: routine, elevated_execution, or capability_change.",
		}
		params["properties"] = props

		out = append(out, llm.ToolDef{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  params,
		})
	}
	return out
}
