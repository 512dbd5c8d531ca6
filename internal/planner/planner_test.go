package planner

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

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
	"github.com/stewardworks/steward/internal/workspace"
)

// stubTool scripts per-call behavior so the loop around it can be
// observed without touching a real shell or filesystem.
type stubTool struct {
	name  string
	calls int
	fn    func(call int, args map[string]interface{}) (*tools.Raw, error)
}

func (t *stubTool) Name() string        { return t.name }
func (t *stubTool) Description() string { return "stub" }
func (t *stubTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *stubTool) Meta() tools.Meta { return tools.Meta{Usage: t.name, Risk: tools.RiskLow} }

func (t *stubTool) Execute(ctx context.Context, args map[string]interface{}) (*tools.Raw, error) {
	t.calls++
	return t.fn(t.calls, args)
}

func okTool(name, output string) *stubTool {
	return &stubTool{name: name, fn: func(int, map[string]interface{}) (*tools.Raw, error) {
		return &tools.Raw{Output: output, ExitCode: 0}, nil
	}}
}

// oracleFunc adapts a closure so tests can inspect what the planner
// hands the oracle each round.
type oracleFunc func(ctx context.Context, goal string, mem *task.Memory, history []task.Step) (*oracle.Proposal, error)

func (f oracleFunc) Propose(ctx context.Context, goal string, mem *task.Memory, history []task.Step) (*oracle.Proposal, error) {
	return f(ctx, goal, mem, history)
}

// memorySink collects bus events for assertions.
type memorySink struct {
	mu  sync.Mutex
	evs []events.Event
}

func (s *memorySink) Accept(ev events.Event) {
	s.mu.Lock()
	s.evs = append(s.evs, ev)
	s.mu.Unlock()
}

func (s *memorySink) Close() error { return nil }

func (s *memorySink) ofType(typ string) []events.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []events.Event
	for _, ev := range s.evs {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

type harness struct {
	ws     string
	broker *confirm.Broker
	deps   Deps
	opts   Options
}

func newHarness(t *testing.T, o oracle.Oracle, opts Options, stubs ...*stubTool) *harness {
	return newHarnessTimeout(t, o, opts, 250*time.Millisecond, stubs...)
}

func newHarnessTimeout(t *testing.T, o oracle.Oracle, opts Options, brokerTimeout time.Duration, stubs ...*stubTool) *harness {
	t.Helper()
	ws := t.TempDir()
	guard := workspace.New(ws)
	registry := tools.NewRegistry(guard)
	for _, s := range stubs {
		registry.Register(s)
	}
	broker := confirm.New(brokerTimeout)
	exec := executor.New(registry, executor.Options{
		MaxRetries:     2,
		Backoff:        time.Millisecond,
		BackoffCap:     2 * time.Millisecond,
		DefaultTimeout: 5 * time.Second,
	})
	return &harness{
		ws:     ws,
		broker: broker,
		deps: Deps{
			Oracle:     o,
			Gate:       sovereignty.New(sovereignty.DefaultPolicy()),
			Broker:     broker,
			Executor:   exec,
			Registry:   registry,
			Classifier: conclusion.New(),
			Guard:      guard,
		},
		opts: opts,
	}
}

func (h *harness) run(ctx context.Context, tk *task.Task, mem *task.Memory) (*Outcome, error) {
	return New(h.deps, h.opts).Run(ctx, tk, mem)
}

func (h *harness) runGoal(t *testing.T, goal string) (*Outcome, error) {
	t.Helper()
	return h.run(context.Background(), task.New(goal), task.NewMemory())
}

// awaitPending polls until the broker surfaces a confirmation.
func awaitPending(t *testing.T, broker *confirm.Broker) *task.Confirmation {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if pending := broker.Pending(); len(pending) > 0 {
			return pending[0]
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("no confirmation surfaced in time")
	return nil
}

func TestRunSucceedsWhenOracleDeclaresCompletion(t *testing.T) {
	probe := okTool("probe", "all checks green")
	script := oracle.NewScript(
		oracle.ProposeAction("probe", map[string]interface{}{"target": "build"}, ""),
		oracle.ProposeCompletion("build verified"),
	)
	h := newHarness(t, script, Options{}, probe)

	out, err := h.runGoal(t, "verify the build")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Task.Status != task.StatusSucceeded {
		t.Fatalf("status = %s, want %s", out.Task.Status, task.StatusSucceeded)
	}
	if probe.calls != 1 {
		t.Errorf("tool ran %d times, want 1", probe.calls)
	}
	if script.Calls() != 2 {
		t.Errorf("oracle consulted %d times, want 2", script.Calls())
	}

	if got := len(out.Task.Steps); got != 1 {
		t.Fatalf("steps = %d, want 1", got)
	}
	step := out.Task.Steps[0]
	if !step.Verdict.Approved() {
		t.Errorf("routine action should be approved, got %s", step.Verdict.Decision)
	}
	if step.Result == nil || !step.Result.Success {
		t.Error("executed step should carry a successful result")
	}

	if out.Report.Summary != "build verified" {
		t.Errorf("report summary = %q", out.Report.Summary)
	}
	if out.Report.Status != task.StatusSucceeded {
		t.Errorf("report status = %s", out.Report.Status)
	}
	if out.Report.Conclusion != nil {
		t.Error("successful run must not carry a conclusion")
	}
}

func TestBoundaryRefusalNeverReachesTheTool(t *testing.T) {
	shell := okTool("run_shell", "done")
	script := oracle.NewScript(
		oracle.ProposeAction("run_shell", map[string]interface{}{"command": "find / -name secrets.txt"}, ""),
		oracle.ProposeAction("run_shell", map[string]interface{}{"command": "grep -rn todo notes.md"}, ""),
		oracle.ProposeCompletion("search finished"),
	)
	h := newHarness(t, script, Options{}, shell)

	out, err := h.runGoal(t, "find the secrets file")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Task.Status != task.StatusSucceeded {
		t.Fatalf("one refusal should not end the run, status = %s", out.Task.Status)
	}
	if shell.calls != 1 {
		t.Fatalf("tool ran %d times; the refused action must never execute", shell.calls)
	}

	refused := out.Task.Steps[0]
	if !refused.Verdict.Refused() {
		t.Fatalf("verdict = %s, want refuse", refused.Verdict.Decision)
	}
	if refused.Verdict.Risk != task.RiskWorkspaceBoundary {
		t.Errorf("risk = %s, want %s", refused.Verdict.Risk, task.RiskWorkspaceBoundary)
	}
	if refused.Result != nil {
		t.Error("refused step must have no result")
	}
}

func TestConsecutiveRefusalsTerminateTheRun(t *testing.T) {
	shell := okTool("run_shell", "done")
	script := oracle.NewScript(
		oracle.ProposeAction("run_shell", map[string]interface{}{"command": "cat /etc/shadow"}, ""),
		oracle.ProposeAction("run_shell", map[string]interface{}{"command": "ls /root"}, ""),
	)
	h := newHarness(t, script, Options{RefusalCeiling: 2}, shell)

	out, err := h.runGoal(t, "read system files")
	if err != nil {
		t.Fatalf("refusal ceiling is a domain failure, not an error: %v", err)
	}
	if out.Task.Status != task.StatusFailed {
		t.Fatalf("status = %s, want failed", out.Task.Status)
	}
	if shell.calls != 0 {
		t.Fatalf("tool ran %d times, want 0", shell.calls)
	}
	if script.Calls() != 2 {
		t.Errorf("oracle consulted %d times, want 2", script.Calls())
	}

	conc := out.Report.Conclusion
	if conc == nil {
		t.Fatal("terminal refusal must be classified")
	}
	if conc.Issue != task.IssueEnvironment {
		t.Errorf("issue = %s, want %s", conc.Issue, task.IssueEnvironment)
	}
	if conc.Fix != task.FixEscalateToHuman {
		t.Errorf("fix = %s, want %s", conc.Fix, task.FixEscalateToHuman)
	}
	if !strings.Contains(out.Report.Summary, "refused") {
		t.Errorf("summary should name the refusal, got %q", out.Report.Summary)
	}
}

func TestRefusalCounterResetsAfterProgress(t *testing.T) {
	shell := okTool("run_shell", "ok")
	script := oracle.NewScript(
		oracle.ProposeAction("run_shell", map[string]interface{}{"command": "cat /etc/shadow"}, ""),
		oracle.ProposeAction("run_shell", map[string]interface{}{"command": "make lint"}, ""),
		oracle.ProposeAction("run_shell", map[string]interface{}{"command": "cat /etc/sudoers"}, ""),
		oracle.ProposeAction("run_shell", map[string]interface{}{"command": "make test"}, ""),
		oracle.ProposeCompletion("done within bounds"),
	)
	h := newHarness(t, script, Options{RefusalCeiling: 2}, shell)

	out, err := h.runGoal(t, "run the checks")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Task.Status != task.StatusSucceeded {
		t.Fatalf("interleaved refusals must not accumulate, status = %s", out.Task.Status)
	}
	if shell.calls != 2 {
		t.Errorf("tool ran %d times, want 2", shell.calls)
	}
	if got := len(out.Task.Steps); got != 4 {
		t.Errorf("steps = %d, want 4", got)
	}
}

func TestEscalatedActionRunsAfterApproval(t *testing.T) {
	shell := okTool("run_shell", "nginx restarted")
	script := oracle.NewScript(
		oracle.ProposeAction("run_shell", map[string]interface{}{"command": "sudo systemctl restart nginx"}, ""),
		oracle.ProposeCompletion("service restarted"),
	)
	h := newHarness(t, script, Options{}, shell)

	tk := task.New("restart the web server")
	var out *Outcome
	var runErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		out, runErr = h.run(context.Background(), tk, task.NewMemory())
	}()

	conf := awaitPending(t, h.broker)
	if err := h.broker.Resolve(conf.ID, true, "approved for maintenance"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	<-done

	if runErr != nil {
		t.Fatalf("Run: %v", runErr)
	}
	if out.Task.Status != task.StatusSucceeded {
		t.Fatalf("status = %s, want succeeded", out.Task.Status)
	}
	if shell.calls != 1 {
		t.Fatalf("approved action should execute exactly once, ran %d", shell.calls)
	}

	step := out.Task.Steps[0]
	if !step.Verdict.Escalated() {
		t.Errorf("verdict = %s, want escalate", step.Verdict.Decision)
	}
	if step.Confirmation == nil {
		t.Fatal("executed step must carry its confirmation")
	}
	if step.Confirmation.State != task.ConfirmApproved {
		t.Errorf("confirmation state = %s", step.Confirmation.State)
	}
	if step.Confirmation.Note != "approved for maintenance" {
		t.Errorf("note = %q", step.Confirmation.Note)
	}
}

func TestDeniedEscalationStopsWithoutExecution(t *testing.T) {
	shell := okTool("run_shell", "should never run")
	script := oracle.NewScript(
		oracle.ProposeAction("run_shell", map[string]interface{}{"command": "sudo rm -rf cache"}, ""),
	)
	h := newHarness(t, script, Options{}, shell)

	tk := task.New("clear the cache")
	var out *Outcome
	var runErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		out, runErr = h.run(context.Background(), tk, task.NewMemory())
	}()

	conf := awaitPending(t, h.broker)
	if err := h.broker.Resolve(conf.ID, false, "not on this host"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	<-done

	if runErr != nil {
		t.Fatalf("a denial is authoritative, not an error: %v", runErr)
	}
	if out.Task.Status != task.StatusFailed {
		t.Fatalf("status = %s, want failed", out.Task.Status)
	}
	if shell.calls != 0 {
		t.Fatalf("denied action must never execute, ran %d", shell.calls)
	}

	if got := len(out.Task.Steps); got != 1 {
		t.Fatalf("steps = %d, want 1", got)
	}
	step := out.Task.Steps[0]
	if step.Confirmation == nil || step.Confirmation.State != task.ConfirmDenied {
		t.Fatal("step must record the denial")
	}
	if step.Result != nil {
		t.Error("denied step must have no result")
	}

	conc := out.Report.Conclusion
	if conc == nil {
		t.Fatal("denial must conclude the task")
	}
	if conc.Issue != task.IssueEnvironment || conc.Fix != task.FixEscalateToHuman {
		t.Errorf("conclusion = %s/%s", conc.Issue, conc.Fix)
	}
	if out.Report.Summary != "operator denied the action: not on this host" {
		t.Errorf("summary = %q", out.Report.Summary)
	}
}

func TestApprovalIsRememberedForIdenticalActions(t *testing.T) {
	params := map[string]interface{}{"command": "sudo systemctl restart nginx"}
	shell := okTool("run_shell", "restarted")
	script := oracle.NewScript(
		oracle.ProposeAction("run_shell", params, ""),
		oracle.ProposeAction("run_shell", params, ""),
		oracle.ProposeCompletion("restarted twice"),
	)
	h := newHarness(t, script, Options{}, shell)

	tk := task.New("bounce the service twice")
	var out *Outcome
	var runErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		out, runErr = h.run(context.Background(), tk, task.NewMemory())
	}()

	conf := awaitPending(t, h.broker)
	if err := h.broker.Resolve(conf.ID, true, ""); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	<-done

	if runErr != nil {
		t.Fatalf("Run: %v", runErr)
	}
	if out.Task.Status != task.StatusSucceeded {
		t.Fatalf("status = %s; a remembered approval must not time out the rerun", out.Task.Status)
	}
	if shell.calls != 2 {
		t.Fatalf("tool ran %d times, want 2", shell.calls)
	}

	second := out.Task.Steps[1]
	if !second.Verdict.Approved() {
		t.Errorf("identical action after approval should pass cleanly, got %s", second.Verdict.Decision)
	}
	if second.Confirmation != nil {
		t.Error("remembered approval must not raise a second confirmation")
	}
}

func TestConfirmationTimeoutFailsTheTask(t *testing.T) {
	shell := okTool("run_shell", "should never run")
	script := oracle.NewScript(
		oracle.ProposeAction("run_shell", map[string]interface{}{"command": "sudo reboot"}, ""),
	)
	h := newHarnessTimeout(t, script, Options{}, 30*time.Millisecond, shell)

	out, err := h.runGoal(t, "reboot the box")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Task.Status != task.StatusFailed {
		t.Fatalf("status = %s, want failed", out.Task.Status)
	}
	if shell.calls != 0 {
		t.Fatal("timed-out action must never execute")
	}

	step := out.Task.Steps[0]
	if step.Confirmation == nil || step.Confirmation.State != task.ConfirmTimedOut {
		t.Fatal("step must record the timeout")
	}
	if out.Report.Summary != "confirmation timed out with no answer" {
		t.Errorf("summary = %q", out.Report.Summary)
	}
	if out.Report.Conclusion.Fix != task.FixEscalateToHuman {
		t.Errorf("fix = %s", out.Report.Conclusion.Fix)
	}
}

func TestFailingStepGetsOneReplanThenStops(t *testing.T) {
	deploy := &stubTool{name: "deploy", fn: func(int, map[string]interface{}) (*tools.Raw, error) {
		return nil, errors.New("connection reset by peer")
	}}
	script := oracle.NewScript(
		oracle.ProposeAction("deploy", map[string]interface{}{"env": "staging"}, ""),
		oracle.ProposeAction("deploy", map[string]interface{}{"env": "staging"}, ""),
	)
	h := newHarness(t, script, Options{}, deploy)

	mem := task.NewMemory()
	out, err := h.run(context.Background(), task.New("deploy to staging"), mem)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Task.Status != task.StatusFailed {
		t.Fatalf("status = %s, want failed", out.Task.Status)
	}
	if script.Calls() != 2 {
		t.Fatalf("oracle consulted %d times; one recovery re-plan only", script.Calls())
	}
	if deploy.calls != 4 {
		t.Errorf("tool invoked %d times, want 4 (2 steps x 2 attempts)", deploy.calls)
	}

	if got := len(out.Task.Steps); got != 2 {
		t.Fatalf("steps = %d, want 2", got)
	}
	for i, step := range out.Task.Steps {
		if step.Conclusion == nil {
			t.Fatalf("step %d missing its failure classification", i)
		}
		if step.Conclusion.Issue != task.IssueDefect {
			t.Errorf("step %d issue = %s, want %s", i, step.Conclusion.Issue, task.IssueDefect)
		}
	}

	var recovery bool
	for _, note := range mem.Notes() {
		if strings.Contains(note, "recovery fix class hotfix") {
			recovery = true
		}
	}
	if !recovery {
		t.Error("the re-plan should leave a recovery note for the oracle")
	}
	if out.Report.Failures.Total != 2 {
		t.Errorf("failure total = %d, want 2", out.Report.Failures.Total)
	}
}

func TestStepBudgetExhaustionIsAResourceLimit(t *testing.T) {
	probe := okTool("probe", "fine")
	script := oracle.NewScript(
		oracle.ProposeAction("probe", map[string]interface{}{"n": "1"}, ""),
		oracle.ProposeAction("probe", map[string]interface{}{"n": "2"}, ""),
		oracle.ProposeAction("probe", map[string]interface{}{"n": "3"}, ""),
	)
	h := newHarness(t, script, Options{MaxSteps: 2}, probe)

	out, err := h.runGoal(t, "probe forever")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Task.Status != task.StatusFailed {
		t.Fatalf("status = %s, want failed", out.Task.Status)
	}
	if script.Calls() != 2 {
		t.Errorf("oracle consulted %d times; the ceiling is checked before planning", script.Calls())
	}

	conc := out.Report.Conclusion
	if conc == nil || conc.Issue != task.IssueResourceLimit {
		t.Fatalf("clean-tail exhaustion must conclude %s, got %+v", task.IssueResourceLimit, conc)
	}
	if !strings.Contains(out.Report.Summary, "planning exhausted after 2 steps") {
		t.Errorf("summary = %q", out.Report.Summary)
	}
}

func TestExhaustionWithFailingTailGetsARealDiagnosis(t *testing.T) {
	// The last budgeted step fails with a capability signature: the
	// conclusion must diagnose, not shrug at the budget.
	fail := &stubTool{name: "build", fn: func(call int, _ map[string]interface{}) (*tools.Raw, error) {
		if call == 1 {
			return &tools.Raw{Output: "ok", ExitCode: 0}, nil
		}
		return nil, errors.New("sh: pipenv: command not found")
	}}
	script := oracle.NewScript(
		oracle.ProposeAction("build", map[string]interface{}{"n": "1"}, ""),
		oracle.ProposeAction("build", map[string]interface{}{"n": "2"}, ""),
	)
	h := newHarness(t, script, Options{MaxSteps: 2}, fail)

	out, err := h.runGoal(t, "build it")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	conc := out.Report.Conclusion
	if conc == nil {
		t.Fatal("exhaustion must carry a conclusion")
	}
	if conc.Issue != task.IssueDesignFlaw {
		t.Errorf("issue = %s, want %s for a missing-capability tail", conc.Issue, task.IssueDesignFlaw)
	}
}

func TestUnknownToolFailsFastAndGrantsAReplan(t *testing.T) {
	probe := okTool("probe", "present")
	script := oracle.NewScript(
		oracle.ProposeAction("teleport", map[string]interface{}{"to": "prod"}, ""),
		oracle.ProposeAction("probe", map[string]interface{}{"target": "prod"}, ""),
		oracle.ProposeCompletion("checked without teleporting"),
	)
	h := newHarness(t, script, Options{}, probe)

	out, err := h.runGoal(t, "check prod")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Task.Status != task.StatusSucceeded {
		t.Fatalf("status = %s; one hallucinated tool should be recoverable", out.Task.Status)
	}

	first := out.Task.Steps[0]
	if first.Result == nil || first.Result.Success {
		t.Fatal("unknown tool must produce a failed result")
	}
	if first.Result.Meta.Attempts != 0 {
		t.Errorf("attempts = %d; unknown tools are never retried", first.Result.Meta.Attempts)
	}
	if first.Conclusion == nil || first.Conclusion.Issue != task.IssueDesignFlaw {
		t.Errorf("unknown tool should classify as %s, got %+v", task.IssueDesignFlaw, first.Conclusion)
	}
	if probe.calls != 1 {
		t.Errorf("recovery action ran %d times, want 1", probe.calls)
	}
}

func TestCancellationWhileAwaitingConfirmation(t *testing.T) {
	shell := okTool("run_shell", "should never run")
	script := oracle.NewScript(
		oracle.ProposeAction("run_shell", map[string]interface{}{"command": "sudo apt upgrade"}, ""),
	)
	h := newHarnessTimeout(t, script, Options{}, 5*time.Second, shell)

	ctx, cancel := context.WithCancel(context.Background())
	tk := task.New("upgrade packages")
	var out *Outcome
	var runErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		out, runErr = h.run(ctx, tk, task.NewMemory())
	}()

	awaitPending(t, h.broker)
	cancel()
	<-done

	if runErr != nil {
		t.Fatalf("cancellation is a clean failure: %v", runErr)
	}
	if out.Task.Status != task.StatusFailed {
		t.Fatalf("status = %s, want failed", out.Task.Status)
	}
	if shell.calls != 0 {
		t.Fatal("cancelled action must never execute")
	}
	if out.Report.Summary != "run cancelled while awaiting confirmation" {
		t.Errorf("summary = %q", out.Report.Summary)
	}
	step := out.Task.Steps[0]
	if step.Confirmation == nil || step.Confirmation.State != task.ConfirmTimedOut {
		t.Fatal("cancellation should resolve the pending confirmation as timed out")
	}
	if step.Confirmation.Note != "cancelled" {
		t.Errorf("note = %q", step.Confirmation.Note)
	}
}

func TestCancelledContextFailsBeforePlanning(t *testing.T) {
	script := oracle.NewScript(
		oracle.ProposeCompletion("never reached"),
	)
	h := newHarness(t, script, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := h.run(ctx, task.New("anything"), task.NewMemory())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Task.Status != task.StatusFailed {
		t.Fatalf("status = %s, want failed", out.Task.Status)
	}
	if script.Calls() != 0 {
		t.Error("a dead context must not reach the oracle")
	}
	if out.Report.Conclusion.Summary != "run cancelled before completion" {
		t.Errorf("conclusion summary = %q", out.Report.Conclusion.Summary)
	}
}

func TestOracleErrorIsAnInfrastructureFailure(t *testing.T) {
	broken := oracleFunc(func(context.Context, string, *task.Memory, []task.Step) (*oracle.Proposal, error) {
		return nil, errors.New("model overloaded")
	})
	h := newHarness(t, broken, Options{})

	out, err := h.runGoal(t, "anything")
	if err == nil {
		t.Fatal("oracle transport failure must surface as an error")
	}
	if !strings.Contains(err.Error(), "oracle propose") {
		t.Errorf("err = %v", err)
	}
	if out == nil || out.Task.Status != task.StatusFailed {
		t.Fatal("the task must still terminate failed")
	}
	if out.Report.Conclusion.Summary != "oracle unavailable" {
		t.Errorf("conclusion summary = %q", out.Report.Conclusion.Summary)
	}
}

func TestOracleSeesHistoryAndAccumulatedContext(t *testing.T) {
	var sawSummary string
	var sawHistory int
	o := oracleFunc(func(_ context.Context, goal string, mem *task.Memory, history []task.Step) (*oracle.Proposal, error) {
		if goal != "inspect the report" {
			return nil, errors.New("goal lost in transit")
		}
		if len(history) == 0 {
			return oracle.ProposeAction("probe", map[string]interface{}{"target": "report"}, ""), nil
		}
		sawSummary = mem.Summary()
		sawHistory = len(history)
		return oracle.ProposeCompletion("report inspected"), nil
	})
	probe := okTool("probe", "wrote summary to /data/out/report.csv")
	h := newHarness(t, o, Options{}, probe)

	out, err := h.runGoal(t, "inspect the report")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Task.Status != task.StatusSucceeded {
		t.Fatalf("status = %s", out.Task.Status)
	}
	if sawHistory != 1 {
		t.Errorf("second round saw %d history steps, want 1", sawHistory)
	}
	if !strings.Contains(sawSummary, "/data/out/report.csv") {
		t.Errorf("memory summary should surface the observed path, got %q", sawSummary)
	}
}

func TestRunIsRecordedJournaledAndPublished(t *testing.T) {
	probe := okTool("probe", "fine")
	script := oracle.NewScript(
		oracle.ProposeAction("probe", map[string]interface{}{"target": "disk"}, ""),
		oracle.ProposeCompletion("disk is fine"),
	)
	h := newHarness(t, script, Options{}, probe)

	dir := t.TempDir()
	tk := task.New("check the disk")
	rec, err := session.NewRecorder(dir, tk, h.ws)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	defer rec.Close()
	journal, err := checkpoint.Open(dir, tk.ID, tk.Goal)
	if err != nil {
		t.Fatalf("checkpoint.Open: %v", err)
	}
	sink := &memorySink{}
	bus := events.NewBus(16, sink)
	h.deps.Recorder = rec
	h.deps.Journal = journal
	h.deps.Bus = bus

	out, err := h.run(context.Background(), tk, task.NewMemory())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Task.Status != task.StatusSucceeded {
		t.Fatalf("status = %s", out.Task.Status)
	}
	if err := bus.Close(); err != nil {
		t.Fatalf("bus close: %v", err)
	}

	tr, err := session.Load(rec.Path())
	if err != nil {
		t.Fatalf("Load transcript: %v", err)
	}
	if !tr.Complete || tr.Status != session.StatusDone {
		t.Fatalf("transcript complete=%v status=%s", tr.Complete, tr.Status)
	}
	if tr.Steps != 1 || tr.Summary != "disk is fine" {
		t.Errorf("footer steps=%d summary=%q", tr.Steps, tr.Summary)
	}
	var types []string
	for _, ev := range tr.Events {
		types = append(types, ev.Type)
	}
	want := []string{session.EventPlan, session.EventVerdict, session.EventResult}
	for i, w := range want {
		if i >= len(types) || types[i] != w {
			t.Fatalf("event types = %v, want prefix %v", types, want)
		}
	}

	reopened, err := checkpoint.Open(dir, tk.ID, tk.Goal)
	if err != nil {
		t.Fatalf("reopen journal: %v", err)
	}
	recd := reopened.Get(0)
	if recd == nil || recd.Pre == nil || recd.Post == nil {
		t.Fatal("journal must hold pre and post records for the executed step")
	}
	if recd.Pre.Confirmed {
		t.Error("routine step must not be marked confirmed")
	}
	if incomplete := reopened.Incomplete(); len(incomplete) != 0 {
		t.Errorf("no step should remain in flight, got %d", len(incomplete))
	}

	progress := sink.ofType(events.TypeProgress)
	if len(progress) < 2 {
		t.Fatalf("want step progress plus final progress, got %d", len(progress))
	}
	last := progress[len(progress)-1]
	if done, _ := last.Fields["done"].(bool); !done {
		t.Errorf("final progress event should mark completion, fields = %v", last.Fields)
	}
}
