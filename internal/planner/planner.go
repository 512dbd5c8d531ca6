// Package planner drives the orchestration loop: ask the oracle for
// the next action, gate it, confirm it when escalated, execute it,
// reflect on the outcome, repeat. One task, one loop, one logical
// thread of control.
package planner

import (
	"context"
	"fmt"
	"time"

	"github.com/vinayprograms/agentkit/logging"

	"github.com/stewardworks/steward/internal/checkpoint"
	"github.com/stewardworks/steward/internal/conclusion"
	"github.com/stewardworks/steward/internal/confirm"
	"github.com/stewardworks/steward/internal/events"
	"github.com/stewardworks/steward/internal/executor"
	"github.com/stewardworks/steward/internal/oracle"
	"github.com/stewardworks/steward/internal/session"
	"github.com/stewardworks/steward/internal/sovereignty"
	"github.com/stewardworks/steward/internal/task"
	"github.com/stewardworks/steward/internal/tools"
)

// Defaults for the loop bounds.
const (
	DefaultMaxSteps       = 20
	DefaultRefusalCeiling = 3
)

// tailWindow bounds how many trailing steps the classifier sees.
const tailWindow = 5

// Deps are the collaborators of one loop. Bus, Recorder, and Journal
// are optional; everything else is required.
type Deps struct {
	Oracle     oracle.Oracle
	Gate       *sovereignty.Gate
	Broker     *confirm.Broker
	Executor   *executor.Executor
	Registry   *tools.Registry
	Classifier *conclusion.Classifier
	Guard      sovereignty.WorkspaceGuard

	Bus      *events.Bus
	Recorder *session.Recorder
	Journal  *checkpoint.Journal
}

// Options bound the loop.
type Options struct {
	// MaxSteps caps the task at a number of planned steps.
	MaxSteps int

	// RefusalCeiling terminates the task after this many consecutive
	// gate refusals: the oracle is clearly not finding a permitted
	// plan.
	RefusalCeiling int
}

func (o Options) withDefaults() Options {
	if o.MaxSteps <= 0 {
		o.MaxSteps = DefaultMaxSteps
	}
	if o.RefusalCeiling <= 0 {
		o.RefusalCeiling = DefaultRefusalCeiling
	}
	return o
}

// Outcome is what a finished run hands back: the terminal task and its
// report. Run's error is non-nil only for infrastructure breakdowns
// (oracle transport, broker misuse); domain failures live in the
// report.
type Outcome struct {
	Task   *task.Task
	Report *task.Report
}

// Planner runs tasks to a terminal state.
type Planner struct {
	deps   Deps
	opts   Options
	logger *logging.Logger
}

// New assembles a planner.
func New(deps Deps, opts Options) *Planner {
	return &Planner{
		deps:   deps,
		opts:   opts.withDefaults(),
		logger: logging.New().WithComponent("planner"),
	}
}

// Run drives one task until it succeeds, fails, or the context ends.
// The task must be freshly created; the planner owns it exclusively
// from here on.
func (p *Planner) Run(ctx context.Context, t *task.Task, mem *task.Memory) (*Outcome, error) {
	ctx, span := p.startTaskSpan(ctx, t)

	env := &sovereignty.Environment{
		Guard:    p.deps.Guard,
		Approved: make(map[string]bool),
	}

	consecutiveRefusals := 0
	classifiedFailures := 0

	for {
		if err := ctx.Err(); err != nil {
			out := p.fail(t, "run cancelled",
				task.Conclude(task.IssueEnvironment, "run cancelled before completion"))
			p.endTaskSpan(span, t, err)
			return out, nil
		}

		// Step ceiling before asking for more work.
		if len(t.Steps) >= p.opts.MaxSteps {
			exhaustion := &task.ExhaustionError{Steps: len(t.Steps)}
			conc := p.exhaustionConclusion(t, exhaustion)
			out := p.fail(t, exhaustion.Error(), conc)
			p.endTaskSpan(span, t, exhaustion)
			return out, nil
		}

		// planning
		proposal, err := p.deps.Oracle.Propose(ctx, t.Goal, mem, t.Steps)
		if err != nil {
			out := p.fail(t, "planning failed: "+err.Error(),
				task.Conclude(task.IssueEnvironment, "oracle unavailable"))
			p.endTaskSpan(span, t, err)
			return out, fmt.Errorf("oracle propose: %w", err)
		}

		if proposal.Completion != nil {
			p.record(session.CompletionEvent(len(t.Steps), proposal.Completion.Summary))
			out := p.succeed(t, proposal.Completion.Summary)
			p.endTaskSpan(span, t, nil)
			return out, nil
		}

		action := *proposal.Action
		stepIndex := len(t.Steps)
		stepCtx, stepSpan := p.startStepSpan(ctx, t, stepIndex, action)
		p.record(session.PlanEvent(stepIndex, &action))
		p.logger.Info("action proposed", map[string]interface{}{
			"task": t.ID, "step": stepIndex, "tool": action.Tool,
		})

		// Unknown tools fail fast: no gate ruling, no dispatch. The
		// executor synthesizes the failed result.
		if _, err := p.deps.Registry.Lookup(action.Tool); err != nil {
			started := time.Now()
			res := p.deps.Executor.Execute(stepCtx, action, mem)
			sp := t.AppendStep(task.Step{
				Action: action, Result: res,
				StartedAt: started, FinishedAt: time.Now(),
			})
			p.record(session.ResultEvent(stepIndex, action, res, 0))
			consecutiveRefusals = 0
			done, out := p.reflect(t, sp, &classifiedFailures, mem)
			p.endStepSpan(stepSpan, sp)
			if done {
				p.endTaskSpan(span, t, nil)
				return out, nil
			}
			continue
		}

		// executing: gate first, always.
		verdict := p.deps.Gate.Evaluate(action, *env)
		p.record(session.VerdictEvent(stepIndex, verdict))

		if verdict.Refused() {
			consecutiveRefusals++
			ruled := time.Now()
			sp := t.AppendStep(task.Step{
				Action: action, Verdict: verdict,
				StartedAt: ruled, FinishedAt: ruled,
			})
			mem.Note("refused: " + verdict.Reason)
			p.publish(events.Event{Type: events.TypeProgress, TaskID: t.ID, Fields: map[string]interface{}{
				"step": stepIndex, "tool": action.Tool, "decision": verdict.Decision, "reason": verdict.Reason,
			}})
			p.logger.Warn("action refused", map[string]interface{}{
				"task": t.ID, "step": stepIndex, "risk": verdict.Risk, "reason": verdict.Reason,
			})
			p.endStepSpan(stepSpan, sp)

			if consecutiveRefusals >= p.opts.RefusalCeiling {
				conc := p.deps.Classifier.Classify(stepTail(t.Steps))
				sp.Conclusion = &conc
				p.record(session.ConclusionEvent(stepIndex, &conc))
				refusal := &task.RefusalError{Verdict: verdict}
				out := p.fail(t, refusal.Error(), &conc)
				p.endTaskSpan(span, t, refusal)
				return out, nil
			}
			continue
		}

		confirmed := false
		var conf *task.Confirmation
		if verdict.Escalated() {
			var err error
			conf, err = p.deps.Broker.Request(t.ID, action, verdict.Reason)
			if err != nil {
				out := p.fail(t, "confirmation request failed: "+err.Error(),
					task.Conclude(task.IssueEnvironment, "confirmation broker unavailable"))
				p.endStepSpan(stepSpan, nil)
				p.endTaskSpan(span, t, err)
				return out, fmt.Errorf("confirmation request: %w", err)
			}

			t.Status = task.StatusAwaitingConfirmation
			p.record(session.ConfirmRequestEvent(stepIndex, conf))
			p.publish(events.Event{Type: events.TypeConfirmRequest, TaskID: t.ID, Fields: map[string]interface{}{
				"id": conf.ID, "prompt": conf.Prompt, "reason": verdict.Reason, "risk": verdict.Risk,
			}})
			p.logger.Info("confirmation requested", map[string]interface{}{
				"task": t.ID, "step": stepIndex, "id": conf.ID, "risk": verdict.Risk,
			})

			awaitErr := p.deps.Broker.Await(ctx, conf)
			t.Status = task.StatusRunning
			p.record(session.ConfirmResolvedEvent(stepIndex, conf))

			if awaitErr != nil {
				// Denial and timeout are authoritative stops; the
				// classifier is bypassed.
				step := task.Step{
					Action: action, Verdict: verdict, Confirmation: conf,
					StartedAt: conf.RequestedAt,
				}
				if conf.ResolvedAt != nil {
					step.FinishedAt = *conf.ResolvedAt
				}
				sp := t.AppendStep(step)
				conc := task.Conclude(task.IssueEnvironment, confirmationSummary(conf))
				sp.Conclusion = conc
				p.record(session.ConclusionEvent(stepIndex, conc))
				p.endStepSpan(stepSpan, sp)
				out := p.fail(t, confirmationSummary(conf), conc)
				p.endTaskSpan(span, t, awaitErr)
				return out, nil
			}

			env.RecordApproval(action)
			confirmed = true
		}

		consecutiveRefusals = 0

		p.savePre(checkpoint.PreFor(stepIndex, action, verdict, confirmed))
		start := time.Now()
		res := p.deps.Executor.Execute(stepCtx, action, mem)
		elapsed := time.Since(start)
		p.savePost(checkpoint.PostFor(stepIndex, res))
		p.record(session.ResultEvent(stepIndex, action, res, elapsed))

		step := task.Step{
			Action: action, Verdict: verdict, Result: res,
			StartedAt: start, FinishedAt: start.Add(elapsed),
		}
		if confirmed {
			step.Confirmation = conf
		}
		sp := t.AppendStep(step)

		p.publish(events.Event{Type: events.TypeProgress, TaskID: t.ID, Fields: map[string]interface{}{
			"step": stepIndex, "tool": action.Tool, "success": res.Success,
			"attempts": res.Meta.Attempts, "error": res.Error,
		}})

		done, out := p.reflect(t, sp, &classifiedFailures, mem)
		p.endStepSpan(stepSpan, sp)
		if done {
			p.endTaskSpan(span, t, nil)
			return out, nil
		}
	}
}

// reflect decides what a finished step means for the loop: continue
// planning, or terminate. Returns done=true with the outcome when the
// task is over.
func (p *Planner) reflect(t *task.Task, sp *task.Step, classifiedFailures *int, mem *task.Memory) (bool, *Outcome) {
	if sp.Result != nil && sp.Result.Success {
		*classifiedFailures = 0
		return false, nil
	}

	conc := p.deps.Classifier.Classify(stepTail(t.Steps))
	sp.Conclusion = &conc
	p.record(session.ConclusionEvent(sp.Index, &conc))
	*classifiedFailures++

	if conc.Recoverable() && *classifiedFailures < 2 {
		mem.Note(fmt.Sprintf("step %d failed (%s): %s; recovery fix class %s",
			sp.Index, conc.Issue, stepFailureText(sp), conc.Fix))
		p.record(session.NoteEvent(fmt.Sprintf("recoverable %s at step %d, re-planning", conc.Issue, sp.Index)))
		p.logger.Warn("step failed, re-planning once", map[string]interface{}{
			"task": t.ID, "step": sp.Index, "issue": conc.Issue, "fix": conc.Fix,
		})
		return false, nil
	}

	return true, p.fail(t, stepFailureText(sp), &conc)
}

// succeed closes out a completed task.
func (p *Planner) succeed(t *task.Task, summary string) *Outcome {
	t.Status = task.StatusSucceeded
	report := task.BuildReport(t, summary, nil)
	p.publish(events.Event{Type: events.TypeProgress, TaskID: t.ID, Fields: map[string]interface{}{
		"done": true, "summary": summary, "steps": len(t.Steps),
	}})
	p.logger.Info("task succeeded", map[string]interface{}{
		"task": t.ID, "steps": len(t.Steps),
	})
	p.closeRecorder(session.StatusDone, summary, nil, len(t.Steps))
	return &Outcome{Task: t, Report: report}
}

// fail closes out a failed task with its report.
func (p *Planner) fail(t *task.Task, summary string, conc *task.Conclusion) *Outcome {
	t.Status = task.StatusFailed
	report := task.BuildReport(t, summary, conc)
	fields := map[string]interface{}{
		"summary": summary, "steps": len(t.Steps),
		"failures": report.Failures.Total, "most_common": report.Failures.MostCommon,
	}
	if conc != nil {
		fields["issue"] = conc.Issue
		fields["fix"] = conc.Fix
	}
	p.publish(events.Event{Type: events.TypeFailureReport, TaskID: t.ID, Fields: fields})
	p.logger.Error("task failed", map[string]interface{}{
		"task": t.ID, "steps": len(t.Steps), "summary": summary,
	})
	p.closeRecorder(session.StatusFailed, summary, conc, len(t.Steps))
	return &Outcome{Task: t, Report: report}
}

// exhaustionConclusion classifies a step-ceiling exhaustion: a clean
// tail means the budget itself ran out; a failing tail deserves a real
// diagnosis.
func (p *Planner) exhaustionConclusion(t *task.Task, exhaustion *task.ExhaustionError) *task.Conclusion {
	for _, s := range stepTail(t.Steps) {
		if s.Failed() {
			conc := p.deps.Classifier.Classify(stepTail(t.Steps))
			return &conc
		}
	}
	return task.Conclude(task.IssueResourceLimit, exhaustion.Error())
}

func stepTail(steps []task.Step) []task.Step {
	if len(steps) <= tailWindow {
		return steps
	}
	return steps[len(steps)-tailWindow:]
}

func stepFailureText(sp *task.Step) string {
	if sp.Result != nil && sp.Result.Error != "" {
		return fmt.Sprintf("step %d: %s", sp.Index, sp.Result.Error)
	}
	if sp.Verdict.Refused() {
		return fmt.Sprintf("step %d refused: %s", sp.Index, sp.Verdict.Reason)
	}
	return fmt.Sprintf("step %d failed", sp.Index)
}

func confirmationSummary(conf *task.Confirmation) string {
	switch conf.State {
	case task.ConfirmDenied:
		if conf.Note != "" {
			return "operator denied the action: " + conf.Note
		}
		return "operator denied the action"
	case task.ConfirmTimedOut:
		if conf.Note == "cancelled" {
			return "run cancelled while awaiting confirmation"
		}
		return "confirmation timed out with no answer"
	default:
		return "confirmation resolved " + conf.State
	}
}

// Nil-safe collaborator plumbing.

func (p *Planner) publish(e events.Event) {
	if p.deps.Bus != nil {
		p.deps.Bus.Publish(e)
	}
}

func (p *Planner) record(e session.Event) {
	if p.deps.Recorder != nil {
		p.deps.Recorder.Record(e)
	}
}

func (p *Planner) closeRecorder(status, summary string, conc *task.Conclusion, steps int) {
	if p.deps.Recorder != nil {
		if err := p.deps.Recorder.CloseWith(status, summary, conc, steps); err != nil {
			p.logger.Warn("failed to close transcript", map[string]interface{}{"error": err.Error()})
		}
	}
}

func (p *Planner) savePre(pre checkpoint.Pre) {
	if p.deps.Journal == nil {
		return
	}
	if err := p.deps.Journal.SavePre(pre); err != nil {
		p.logger.Warn("failed to journal pre-step record", map[string]interface{}{"error": err.Error()})
	}
}

func (p *Planner) savePost(post checkpoint.Post) {
	if p.deps.Journal == nil {
		return
	}
	if err := p.deps.Journal.SavePost(post); err != nil {
		p.logger.Warn("failed to journal post-step record", map[string]interface{}{"error": err.Error()})
	}
}
